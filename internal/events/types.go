// Package events defines the event vocabulary of contextd and the
// wake-channel envelope emitted by the ingestion API after every
// successful mutation.
package events

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// WakeChannel is the Postgres NOTIFY channel (and bus subject) that
// carries mutation envelopes from the API to the notification bridge.
// Nothing else may LISTEN on it.
const WakeChannel = "contextd_events"

// Event types for projects and sessions
const (
	ProjectCreated = "project.created"
	ProjectUpdated = "project.updated"
	ProjectDeleted = "project.deleted"

	SessionStarted = "session.started"
	SessionUpdated = "session.updated"
	SessionEnded   = "session.ended"
)

// Event types for requests
const (
	RequestCreated   = "request.created"
	RequestUpdated   = "request.updated"
	RequestCompleted = "request.completed"
)

// Event types for task lists and subtasks (tracked delivery)
const (
	TaskCreated = "task.created"
	TaskUpdated = "task.updated"

	SubtaskCreated   = "subtask.created"
	SubtaskUpdated   = "subtask.updated"
	SubtaskCompleted = "subtask.completed"
)

// Event types for actions
const (
	ActionRecorded = "action.recorded"
)

// Event types for agent messages and subscriptions (message.* is
// tracked delivery)
const (
	MessageSent       = "message.sent"
	MessageRead       = "message.read"
	TopicSubscribed   = "topic.subscribed"
	TopicUnsubscribed = "topic.unsubscribed"
)

// Event types for blocking coordination
const (
	AgentBlocked   = "blocking.created"
	AgentUnblocked = "blocking.removed"
)

// Event types for agent contexts and compact cycles
const (
	ContextUpdated = "context.updated"
	CompactSaved   = "compact.saved"
)

// Event types originated by the gateway and workers
const (
	AgentConnected    = "agent.connected"
	AgentDisconnected = "agent.disconnected"
	MetricUpdate      = "metric.update"
)

// IsTracked reports whether the event family requires at-least-once
// delivery with per-subscriber retry (task.*, subtask.*, message.*).
func IsTracked(event string) bool {
	return strings.HasPrefix(event, "task.") ||
		strings.HasPrefix(event, "subtask.") ||
		strings.HasPrefix(event, "message.")
}

var known = func() map[string]bool {
	names := []string{
		ProjectCreated, ProjectUpdated, ProjectDeleted,
		SessionStarted, SessionUpdated, SessionEnded,
		RequestCreated, RequestUpdated, RequestCompleted,
		TaskCreated, TaskUpdated,
		SubtaskCreated, SubtaskUpdated, SubtaskCompleted,
		ActionRecorded,
		MessageSent, MessageRead, TopicSubscribed, TopicUnsubscribed,
		AgentBlocked, AgentUnblocked,
		ContextUpdated, CompactSaved,
		AgentConnected, AgentDisconnected, MetricUpdate,
	}
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}()

// Known reports whether the event name is part of the closed set.
// Client publishes on the realtime connection are refused otherwise.
func Known(event string) bool { return known[event] }

// Envelope is the wake-channel payload: the realtime channel the
// event routes to, the event name, and its data.
type Envelope struct {
	ID      string                 `json:"id"`
	Channel string                 `json:"channel"`
	Event   string                 `json:"event"`
	Data    map[string]interface{} `json:"data"`
	At      time.Time              `json:"at"`
}

// NewEnvelope builds an envelope with a fresh id and timestamp.
func NewEnvelope(channel, event string, data map[string]interface{}) *Envelope {
	return &Envelope{
		ID:      uuid.New().String(),
		Channel: channel,
		Event:   event,
		Data:    data,
		At:      time.Now().UTC(),
	}
}
