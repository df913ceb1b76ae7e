// Package websocket implements the realtime fanout gateway: channel
// rooms, per-subscriber retry queues for tracked events, and the
// connection lifecycle (auth, subscribe, publish, ping, ack).
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contextd/contextd/internal/common/logger"
	"github.com/contextd/contextd/internal/events"
	"github.com/contextd/contextd/pkg/realtime"
)

const (
	// Tracked events are rescanned on this interval; entries unacked
	// for longer than retryAfter are resent, at most maxResends times.
	retryScanInterval = 2 * time.Second
	retryAfter        = 5 * time.Second
	maxResends        = 3
)

// Hub routes events to connected clients. The client registry and the
// channel rooms are guarded separately so a slow subscriber on one
// channel never stalls delivery on another.
type Hub struct {
	clientsMu sync.RWMutex
	clients   map[string]*Client

	roomsMu sync.RWMutex
	rooms   map[string]map[*Client]bool

	logger *logger.Logger
}

// NewHub creates a hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[*Client]bool),
		logger:  log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run drives the retry scanner until the context is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer h.logger.Info("realtime hub stopped")

	ticker := time.NewTicker(retryScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.scanRetries(time.Now().UTC())
		}
	}
}

// Register adds a client to the registry. Channel membership starts
// empty; rooms are joined on auth and subscribe.
func (h *Hub) Register(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()
	h.logger.Debug("client registered", zap.String("client_id", client.ID))
}

// Unregister removes a client from the registry and every room, closes
// its send queue, and broadcasts agent.disconnected if it had
// authenticated.
func (h *Hub) Unregister(client *Client) {
	h.clientsMu.Lock()
	_, known := h.clients[client.ID]
	delete(h.clients, client.ID)
	h.clientsMu.Unlock()
	if !known {
		return
	}

	h.roomsMu.Lock()
	for channel, room := range h.rooms {
		if room[client] {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, channel)
			}
		}
	}
	h.roomsMu.Unlock()

	client.shutdown()
	h.logger.Debug("client unregistered", zap.String("client_id", client.ID))

	if agentID := client.Agent(); agentID != "" {
		h.Broadcast(realtime.ChannelGlobal, events.AgentDisconnected, map[string]interface{}{
			"agent_id":  agentID,
			"client_id": client.ID,
		})
	}
}

// Join adds the client to a channel room.
func (h *Hub) Join(client *Client, channel string) {
	h.roomsMu.Lock()
	if h.rooms[channel] == nil {
		h.rooms[channel] = make(map[*Client]bool)
	}
	h.rooms[channel][client] = true
	h.roomsMu.Unlock()
	client.addChannel(channel)
}

// Leave removes the client from a channel room.
func (h *Hub) Leave(client *Client, channel string) {
	h.roomsMu.Lock()
	if room, ok := h.rooms[channel]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, channel)
		}
	}
	h.roomsMu.Unlock()
	client.removeChannel(channel)
}

// Route delivers a wake-channel envelope to the channel's subscribers.
// Tracked families (task.*, subtask.*, message.*) carry the envelope id
// and are queued for at-least-once redelivery until acked; everything
// else is fire-and-forget.
func (h *Hub) Route(env *events.Envelope) {
	frame := &realtime.EventFrame{
		Channel:   env.Channel,
		Event:     env.Event,
		Data:      env.Data,
		Timestamp: env.At,
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now().UTC()
	}

	tracked := events.IsTracked(env.Event)
	if tracked {
		frame.ID = env.ID
		if frame.ID == "" {
			frame.ID = uuid.New().String()
		}
	}

	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to marshal event frame", zap.Error(err))
		return
	}

	h.roomsMu.RLock()
	members := make([]*Client, 0, len(h.rooms[env.Channel]))
	for client := range h.rooms[env.Channel] {
		members = append(members, client)
	}
	h.roomsMu.RUnlock()

	now := time.Now().UTC()
	for _, client := range members {
		if tracked {
			client.trackPending(frame.ID, data, now)
		}
		if !client.enqueue(data) {
			h.logger.Warn("client send queue full, evicting",
				zap.String("client_id", client.ID))
			go h.Unregister(client)
		}
	}
}

// Broadcast routes a freshly built envelope, for hub-originated events
// (agent.connected, agent.disconnected) and worker snapshots.
func (h *Hub) Broadcast(channel, event string, data map[string]interface{}) {
	h.Route(events.NewEnvelope(channel, event, data))
}

// scanRetries resends unacked tracked entries older than retryAfter
// and drops entries that exhausted their resend budget.
func (h *Hub) scanRetries(now time.Time) {
	h.clientsMu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clientsMu.RUnlock()

	for _, client := range clients {
		resend, dropped := client.collectDue(now)
		for _, id := range dropped {
			h.logger.Warn("tracked event dropped after resend budget",
				zap.String("client_id", client.ID), zap.String("event_id", id))
		}
		for _, data := range resend {
			if !client.enqueue(data) {
				h.logger.Warn("client send queue full, evicting",
					zap.String("client_id", client.ID))
				go h.Unregister(client)
				break
			}
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.clientsMu.Unlock()

	h.roomsMu.Lock()
	h.rooms = make(map[string]map[*Client]bool)
	h.roomsMu.Unlock()

	for _, client := range clients {
		client.shutdown()
	}
}
