package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/contextd/contextd/internal/common/logger"
	"github.com/contextd/contextd/internal/events"
	"github.com/contextd/contextd/pkg/realtime"
)

// devAuth accepts any bare agent id, like development mode.
type devAuth struct{}

func (devAuth) Authenticate(frame *realtime.ClientFrame) (string, string, error) {
	return frame.AgentID, frame.SessionID, nil
}

func newTestClient(t *testing.T, hub *Hub, id string) *Client {
	t.Helper()
	client := NewClient(id, nil, hub, devAuth{}, logger.Default())
	hub.Register(client)
	return client
}

func authClient(t *testing.T, client *Client, agentID, sessionID string) {
	t.Helper()
	client.handleFrame(&realtime.ClientFrame{
		Type: realtime.FrameAuth, ID: "auth-1", AgentID: agentID, SessionID: sessionID,
	})
	client.mu.Lock()
	authed := client.authed
	client.mu.Unlock()
	if !authed {
		t.Fatalf("client %s failed to authenticate", client.ID)
	}
}

// drainFrames decodes everything queued on the client's send channel.
func drainFrames(t *testing.T, client *Client) []map[string]interface{} {
	t.Helper()
	var frames []map[string]interface{}
	for {
		select {
		case data := <-client.send:
			var frame map[string]interface{}
			if err := json.Unmarshal(data, &frame); err != nil {
				t.Fatalf("failed to decode frame: %v", err)
			}
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func eventFrames(frames []map[string]interface{}, event string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, frame := range frames {
		if frame["event"] == event {
			out = append(out, frame)
		}
	}
	return out
}

func TestAuth_AutoJoinsAndBroadcastsConnected(t *testing.T) {
	hub := NewHub(logger.Default())
	client := newTestClient(t, hub, "c1")

	authClient(t, client, "backend", "s1")

	frames := drainFrames(t, client)
	var sawAck bool
	for _, frame := range frames {
		if frame["type"] == realtime.FrameAck && frame["success"] == true {
			sawAck = true
		}
	}
	if !sawAck {
		t.Error("expected a successful auth ack")
	}
	connected := eventFrames(frames, events.AgentConnected)
	if len(connected) != 1 {
		t.Fatalf("expected one agent.connected on global, got %d", len(connected))
	}
	if connected[0]["channel"] != realtime.ChannelGlobal {
		t.Errorf("expected global channel, got %v", connected[0]["channel"])
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	for _, channel := range []string{"global", "agents/backend", "sessions/s1"} {
		if !client.channels[channel] {
			t.Errorf("expected auto-join of %s, got %v", channel, client.channels)
		}
	}
}

func TestRequireAuth_BeforeSubscribe(t *testing.T) {
	hub := NewHub(logger.Default())
	client := newTestClient(t, hub, "c1")

	client.handleFrame(&realtime.ClientFrame{
		Type: realtime.FrameSubscribe, Channel: "topics/deployment", ID: "sub-1",
	})

	frames := drainFrames(t, client)
	if len(frames) != 1 || frames[0]["code"] != realtime.ErrCodeNotAuthorized {
		t.Fatalf("expected a 4003 error, got %v", frames)
	}
}

func TestSubscribe_RejectsBadChannels(t *testing.T) {
	hub := NewHub(logger.Default())
	client := newTestClient(t, hub, "c1")
	authClient(t, client, "backend", "")
	drainFrames(t, client)

	for _, channel := range []string{"bogus", "topics/gossip", "agents/", "agents/a/b"} {
		client.handleFrame(&realtime.ClientFrame{
			Type: realtime.FrameSubscribe, Channel: channel, ID: "sub-1",
		})
		frames := drainFrames(t, client)
		if len(frames) != 1 || frames[0]["code"] != realtime.ErrCodeInvalidChannel {
			t.Errorf("expected INVALID_CHANNEL for %q, got %v", channel, frames)
		}
	}
}

func TestRoute_TopicDeliveryWithAck(t *testing.T) {
	hub := NewHub(logger.Default())
	sender := newTestClient(t, hub, "a")
	subscriber := newTestClient(t, hub, "b")
	authClient(t, sender, "backend", "")
	authClient(t, subscriber, "frontend", "")

	subscriber.handleFrame(&realtime.ClientFrame{
		Type: realtime.FrameSubscribe, Channel: "topics/api_endpoint_created", ID: "sub-1",
	})
	drainFrames(t, sender)
	drainFrames(t, subscriber)

	hub.Route(events.NewEnvelope("topics/api_endpoint_created", events.MessageSent,
		map[string]interface{}{"message_id": "m1"}))

	delivered := eventFrames(drainFrames(t, subscriber), events.MessageSent)
	if len(delivered) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(delivered))
	}
	if delivered[0]["channel"] != "topics/api_endpoint_created" {
		t.Errorf("unexpected channel %v", delivered[0]["channel"])
	}
	id, _ := delivered[0]["id"].(string)
	if id == "" {
		t.Fatal("expected a tracked delivery id")
	}
	if got := eventFrames(drainFrames(t, sender), events.MessageSent); len(got) != 0 {
		t.Errorf("expected no delivery to the non-subscriber, got %v", got)
	}

	// Ack clears the retry entry; no resend happens afterwards.
	subscriber.handleFrame(&realtime.ClientFrame{Type: realtime.FrameAck, ID: id})
	hub.scanRetries(time.Now().UTC().Add(time.Minute))
	if frames := drainFrames(t, subscriber); len(frames) != 0 {
		t.Errorf("expected no resend after ack, got %v", frames)
	}
}

func TestRoute_UntrackedEventsAreNotRetried(t *testing.T) {
	hub := NewHub(logger.Default())
	client := newTestClient(t, hub, "c1")
	authClient(t, client, "backend", "")
	drainFrames(t, client)

	hub.Route(events.NewEnvelope(realtime.ChannelGlobal, events.ActionRecorded, nil))

	delivered := eventFrames(drainFrames(t, client), events.ActionRecorded)
	if len(delivered) != 1 {
		t.Fatalf("expected one delivery, got %d", len(delivered))
	}
	if id, ok := delivered[0]["id"].(string); ok && id != "" {
		t.Errorf("expected no delivery id on an untracked event, got %q", id)
	}
	client.mu.Lock()
	pending := len(client.pending)
	client.mu.Unlock()
	if pending != 0 {
		t.Errorf("expected no retry entries, got %d", pending)
	}
}

func TestRetry_ResendsThenDrops(t *testing.T) {
	hub := NewHub(logger.Default())
	client := newTestClient(t, hub, "c1")
	authClient(t, client, "backend", "")
	drainFrames(t, client)

	hub.Route(events.NewEnvelope("agents/backend", events.SubtaskCompleted,
		map[string]interface{}{"subtask_id": "st1"}))
	if got := len(eventFrames(drainFrames(t, client), events.SubtaskCompleted)); got != 1 {
		t.Fatalf("expected the initial delivery, got %d", got)
	}

	// Three scans past the retry window each resend once.
	now := time.Now().UTC()
	for i := 1; i <= maxResends; i++ {
		now = now.Add(retryAfter + time.Second)
		hub.scanRetries(now)
		if got := len(eventFrames(drainFrames(t, client), events.SubtaskCompleted)); got != 1 {
			t.Fatalf("expected resend %d, got %d frames", i, got)
		}
	}

	// The next scan exhausts the budget and drops the entry.
	now = now.Add(retryAfter + time.Second)
	hub.scanRetries(now)
	if got := len(drainFrames(t, client)); got != 0 {
		t.Errorf("expected the entry dropped after %d resends, got %d frames", maxResends, got)
	}
	client.mu.Lock()
	pending := len(client.pending)
	client.mu.Unlock()
	if pending != 0 {
		t.Errorf("expected the retry queue emptied, got %d entries", pending)
	}
}

func TestPublish_ClosedEventSet(t *testing.T) {
	hub := NewHub(logger.Default())
	publisher := newTestClient(t, hub, "a")
	listener := newTestClient(t, hub, "b")
	authClient(t, publisher, "backend", "")
	authClient(t, listener, "frontend", "")
	listener.handleFrame(&realtime.ClientFrame{
		Type: realtime.FrameSubscribe, Channel: "topics/deployment", ID: "sub-1",
	})
	drainFrames(t, publisher)
	drainFrames(t, listener)

	publisher.handleFrame(&realtime.ClientFrame{
		Type: realtime.FramePublish, Channel: "topics/deployment", Event: "made.up",
	})
	frames := drainFrames(t, publisher)
	if len(frames) != 1 || frames[0]["code"] != realtime.ErrCodeUnknownType {
		t.Fatalf("expected UNKNOWN_MESSAGE_TYPE for an unknown event, got %v", frames)
	}

	publisher.handleFrame(&realtime.ClientFrame{
		Type: realtime.FramePublish, Channel: "topics/deployment", Event: events.AgentConnected,
		Data: json.RawMessage(`{"status":"ready"}`),
	})
	delivered := eventFrames(drainFrames(t, listener), events.AgentConnected)
	if len(delivered) != 1 {
		t.Fatalf("expected the publish routed to the subscriber, got %d", len(delivered))
	}
}

func TestUnregister_BroadcastsDisconnect(t *testing.T) {
	hub := NewHub(logger.Default())
	watcher := newTestClient(t, hub, "a")
	leaver := newTestClient(t, hub, "b")
	authClient(t, watcher, "backend", "")
	authClient(t, leaver, "frontend", "")
	drainFrames(t, watcher)

	hub.Unregister(leaver)

	frames := eventFrames(drainFrames(t, watcher), events.AgentDisconnected)
	if len(frames) != 1 {
		t.Fatalf("expected one agent.disconnected, got %d", len(frames))
	}
	data, _ := frames[0]["data"].(map[string]interface{})
	if data["agent_id"] != "frontend" {
		t.Errorf("expected frontend in the disconnect payload, got %v", data)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("expected one remaining client, got %d", hub.ClientCount())
	}
}
