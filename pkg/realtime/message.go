// Package realtime defines the wire protocol for the contextd
// WebSocket gateway: client and server frame shapes, channel naming,
// and error codes.
package realtime

import (
	"encoding/json"
	"strings"
	"time"
)

// Client frame types.
const (
	FrameAuth        = "auth"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePublish     = "publish"
	FramePing        = "ping"
	FrameAck         = "ack"
)

// Server frame types.
const (
	FrameConnected = "connected"
	FramePong      = "pong"
)

// Error codes returned on the realtime connection.
const (
	ErrCodeParse          = "PARSE_ERROR"
	ErrCodeUnknownType    = "UNKNOWN_MESSAGE_TYPE"
	ErrCodeInvalidChannel = "INVALID_CHANNEL"
	ErrCodeNotAuthorized  = "4003"
)

// ClientFrame is the envelope for every client-to-server message.
type ClientFrame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	AgentID   string          `json:"agent_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Token     string          `json:"token,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ConnectedFrame is sent once per connection after the upgrade.
type ConnectedFrame struct {
	Type      string    `json:"type"`
	ClientID  string    `json:"client_id"`
	Timestamp time.Time `json:"timestamp"`
}

// AckFrame confirms a subscribe, unsubscribe, or auth frame.
type AckFrame struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PongFrame answers a client ping.
type PongFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFrame carries a routed event to a subscriber. Tracked events
// have a non-empty ID the client must acknowledge.
type EventFrame struct {
	ID        string      `json:"id,omitempty"`
	Channel   string      `json:"channel"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorFrame reports a protocol-level error to the client.
type ErrorFrame struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// NewConnected builds the connected frame for a client id.
func NewConnected(clientID string) *ConnectedFrame {
	return &ConnectedFrame{Type: FrameConnected, ClientID: clientID, Timestamp: time.Now().UTC()}
}

// NewAck builds an ack frame for a client frame id.
func NewAck(id string, success bool, errMsg string) *AckFrame {
	return &AckFrame{Type: FrameAck, ID: id, Success: success, Error: errMsg, Timestamp: time.Now().UTC()}
}

// NewPong builds a pong frame.
func NewPong() *PongFrame {
	return &PongFrame{Type: FramePong, Timestamp: time.Now().UTC()}
}

// NewError builds an error frame.
func NewError(code, message string) *ErrorFrame {
	return &ErrorFrame{Error: message, Code: code, Timestamp: time.Now().UTC()}
}

// Well-known channel names and prefixes. A channel is one of:
// global, metrics, agents/{agent-id}, sessions/{session-id},
// topics/{topic-name}.
const (
	ChannelGlobal  = "global"
	ChannelMetrics = "metrics"

	agentsPrefix   = "agents/"
	sessionsPrefix = "sessions/"
	topicsPrefix   = "topics/"
)

// AgentChannel returns the per-agent channel name.
func AgentChannel(agentID string) string { return agentsPrefix + agentID }

// SessionChannel returns the per-session channel name.
func SessionChannel(sessionID string) string { return sessionsPrefix + sessionID }

// TopicChannel returns the per-topic channel name.
func TopicChannel(topic string) string { return topicsPrefix + topic }

// TopicFromChannel extracts the topic name from a topics/{name}
// channel, or "" if the channel is not topic-shaped.
func TopicFromChannel(channel string) string {
	if strings.HasPrefix(channel, topicsPrefix) {
		return strings.TrimPrefix(channel, topicsPrefix)
	}
	return ""
}

// ValidChannelShape reports whether the channel key is well formed.
// Topic channels additionally require the topic to be in the allowed
// set, which the gateway checks against pkg/api/v1.
func ValidChannelShape(channel string) bool {
	switch {
	case channel == ChannelGlobal, channel == ChannelMetrics:
		return true
	case strings.HasPrefix(channel, agentsPrefix):
		return validSegment(strings.TrimPrefix(channel, agentsPrefix))
	case strings.HasPrefix(channel, sessionsPrefix):
		return validSegment(strings.TrimPrefix(channel, sessionsPrefix))
	case strings.HasPrefix(channel, topicsPrefix):
		return validSegment(strings.TrimPrefix(channel, topicsPrefix))
	}
	return false
}

// validSegment rejects empty and multi-segment channel suffixes.
func validSegment(s string) bool {
	return s != "" && !strings.Contains(s, "/")
}
