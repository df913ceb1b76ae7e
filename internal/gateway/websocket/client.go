package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/contextd/contextd/internal/common/logger"
	"github.com/contextd/contextd/internal/events"
	v1 "github.com/contextd/contextd/pkg/api/v1"
	"github.com/contextd/contextd/pkg/realtime"
)

const (
	// A write blocked past this deadline marks the client unhealthy.
	writeWait = 2 * time.Second

	// Clients silent for this long are evicted.
	pongWait = 60 * time.Second

	// Server ping interval.
	pingPeriod = 30 * time.Second

	// Maximum inbound frame size.
	maxFrameSize = 512 * 1024

	// Outbound queue depth; overflow evicts the client.
	sendBuffer = 256
)

// authenticator resolves an auth frame to an agent identity.
type authenticator interface {
	Authenticate(frame *realtime.ClientFrame) (agentID, sessionID string, err error)
}

// pendingEvent is one tracked delivery awaiting an ack.
type pendingEvent struct {
	data    []byte
	sentAt  time.Time
	resends int
}

// Client is a single realtime connection.
type Client struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub
	auth authenticator
	send chan []byte

	// Query-string identity, applied only after a successful auth
	// frame.
	queryAgentID   string
	querySessionID string

	mu        sync.Mutex
	closed    bool
	authed    bool
	agentID   string
	sessionID string
	channels  map[string]bool
	pending   map[string]*pendingEvent

	logger *logger.Logger
}

// NewClient creates a client for an upgraded connection.
func NewClient(id string, conn *websocket.Conn, hub *Hub, auth authenticator, log *logger.Logger) *Client {
	return &Client{
		ID:       id,
		conn:     conn,
		hub:      hub,
		auth:     auth,
		send:     make(chan []byte, sendBuffer),
		channels: make(map[string]bool),
		pending:  make(map[string]*pendingEvent),
		logger:   log.WithFields(zap.String("client_id", id)),
	}
}

// Agent returns the authenticated agent id, or "" before auth.
func (c *Client) Agent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentID
}

// ReadPump reads frames until the connection errors or the 60s idle
// deadline passes, then unregisters the client.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("read error", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame realtime.ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError(realtime.ErrCodeParse, "invalid JSON frame")
			continue
		}
		c.handleFrame(&frame)
	}
}

// handleFrame dispatches one client frame. Before auth only auth, ping,
// and ack frames are accepted.
func (c *Client) handleFrame(frame *realtime.ClientFrame) {
	switch frame.Type {
	case realtime.FramePing:
		c.sendJSON(realtime.NewPong())
	case realtime.FrameAuth:
		c.handleAuth(frame)
	case realtime.FrameAck:
		c.ack(frame.ID)
	case realtime.FrameSubscribe:
		if !c.requireAuth() {
			return
		}
		c.handleSubscribe(frame)
	case realtime.FrameUnsubscribe:
		if !c.requireAuth() {
			return
		}
		c.handleUnsubscribe(frame)
	case realtime.FramePublish:
		if !c.requireAuth() {
			return
		}
		c.handlePublish(frame)
	default:
		c.sendError(realtime.ErrCodeUnknownType, "unknown frame type "+frame.Type)
	}
}

func (c *Client) requireAuth() bool {
	c.mu.Lock()
	authed := c.authed
	c.mu.Unlock()
	if !authed {
		c.sendError(realtime.ErrCodeNotAuthorized, "authentication required")
	}
	return authed
}

// handleAuth authenticates the client and auto-joins its channels:
// global, agents/{agent-id}, and sessions/{session-id} when known.
func (c *Client) handleAuth(frame *realtime.ClientFrame) {
	agentID, sessionID, err := c.auth.Authenticate(frame)
	if err != nil {
		c.sendJSON(realtime.NewAck(frame.ID, false, err.Error()))
		c.sendError(realtime.ErrCodeNotAuthorized, err.Error())
		return
	}
	if agentID == "" {
		agentID = c.queryAgentID
	}
	if sessionID == "" {
		sessionID = c.querySessionID
	}
	if agentID == "" {
		c.sendJSON(realtime.NewAck(frame.ID, false, "agent_id is required"))
		c.sendError(realtime.ErrCodeNotAuthorized, "agent_id is required")
		return
	}

	c.mu.Lock()
	c.authed = true
	c.agentID = agentID
	c.sessionID = sessionID
	c.mu.Unlock()

	c.hub.Join(c, realtime.ChannelGlobal)
	c.hub.Join(c, realtime.AgentChannel(agentID))
	if sessionID != "" {
		c.hub.Join(c, realtime.SessionChannel(sessionID))
	}

	c.sendJSON(realtime.NewAck(frame.ID, true, ""))
	c.hub.Broadcast(realtime.ChannelGlobal, events.AgentConnected, map[string]interface{}{
		"agent_id":  agentID,
		"client_id": c.ID,
	})
}

func (c *Client) handleSubscribe(frame *realtime.ClientFrame) {
	if !validChannel(frame.Channel) {
		c.sendError(realtime.ErrCodeInvalidChannel, "invalid channel "+frame.Channel)
		return
	}
	c.hub.Join(c, frame.Channel)
	c.sendJSON(realtime.NewAck(frame.ID, true, ""))
}

func (c *Client) handleUnsubscribe(frame *realtime.ClientFrame) {
	if !validChannel(frame.Channel) {
		c.sendError(realtime.ErrCodeInvalidChannel, "invalid channel "+frame.Channel)
		return
	}
	c.hub.Leave(c, frame.Channel)
	c.sendJSON(realtime.NewAck(frame.ID, true, ""))
}

// handlePublish routes a transient client event. The event name must
// come from the closed set; nothing is persisted.
func (c *Client) handlePublish(frame *realtime.ClientFrame) {
	if !validChannel(frame.Channel) {
		c.sendError(realtime.ErrCodeInvalidChannel, "invalid channel "+frame.Channel)
		return
	}
	if !events.Known(frame.Event) {
		c.sendError(realtime.ErrCodeUnknownType, "unknown event "+frame.Event)
		return
	}
	data := map[string]interface{}{}
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			c.sendError(realtime.ErrCodeParse, "invalid event data")
			return
		}
	}
	c.hub.Route(events.NewEnvelope(frame.Channel, frame.Event, data))
}

// validChannel checks the channel shape and, for topic channels, that
// the topic is in the allowed set.
func validChannel(channel string) bool {
	if !realtime.ValidChannelShape(channel) {
		return false
	}
	if topic := realtime.TopicFromChannel(channel); topic != "" {
		return v1.ValidTopic(topic)
	}
	return true
}

// trackPending records a tracked delivery awaiting an ack.
func (c *Client) trackPending(id string, data []byte, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pending[id] = &pendingEvent{data: data, sentAt: now}
}

// ack clears a tracked delivery; the hub never resends it afterwards.
func (c *Client) ack(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// collectDue returns the payloads due for resend and the ids dropped
// after exhausting the resend budget.
func (c *Client) collectDue(now time.Time) (resend [][]byte, dropped []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, entry := range c.pending {
		if now.Sub(entry.sentAt) < retryAfter {
			continue
		}
		if entry.resends >= maxResends {
			delete(c.pending, id)
			dropped = append(dropped, id)
			continue
		}
		entry.resends++
		entry.sentAt = now
		resend = append(resend, entry.data)
	}
	return resend, dropped
}

// enqueue queues an outbound payload. Returns false when the buffer is
// full or the client is closed; the caller evicts on overflow.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to marshal frame", zap.Error(err))
		return
	}
	if !c.enqueue(data) {
		c.logger.Warn("send queue full")
		go c.hub.Unregister(c)
	}
}

func (c *Client) sendError(code, message string) {
	c.sendJSON(realtime.NewError(code, message))
}

func (c *Client) addChannel(channel string) {
	c.mu.Lock()
	c.channels[channel] = true
	c.mu.Unlock()
}

func (c *Client) removeChannel(channel string) {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
}

// shutdown marks the client closed and releases its send queue. Safe
// to call once; the hub guards against double unregistration.
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.pending = make(map[string]*pendingEvent)
	close(c.send)
	c.mu.Unlock()
}

// WritePump flushes the send queue to the socket and pings on the
// 30-second interval.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
