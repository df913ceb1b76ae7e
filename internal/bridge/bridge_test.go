package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/contextd/contextd/internal/common/logger"
	"github.com/contextd/contextd/internal/events"
	"github.com/contextd/contextd/internal/events/bus"
)

type captureRouter struct {
	mu        sync.Mutex
	envelopes []*events.Envelope
}

func (r *captureRouter) Route(env *events.Envelope) {
	r.mu.Lock()
	r.envelopes = append(r.envelopes, env)
	r.mu.Unlock()
}

func (r *captureRouter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envelopes)
}

func TestBusBridge_ForwardsEnvelopes(t *testing.T) {
	eventBus := bus.NewMemoryEventBus(logger.Default())
	defer eventBus.Close()
	router := &captureRouter{}
	bridge := NewBus(eventBus, router, logger.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()

	// The memory bus delivers synchronously, so the subscription must
	// exist before publishing.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if err := eventBus.Publish(context.Background(), events.WakeChannel,
			events.NewEnvelope("global", events.SessionStarted, nil)); err != nil {
			t.Fatalf("failed to publish: %v", err)
		}
		if router.count() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if router.count() == 0 {
		t.Fatal("expected the bridge to forward the envelope")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("bridge returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop on cancel")
	}

	// After shutdown nothing is forwarded.
	forwarded := router.count()
	eventBus.Publish(context.Background(), events.WakeChannel,
		events.NewEnvelope("global", events.SessionEnded, nil))
	if router.count() != forwarded {
		t.Error("expected no forwarding after shutdown")
	}
}

func TestParseEnvelope(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"id":"e1","channel":"agents/backend","event":"message.sent","data":{"message_id":"m1"}}`))
	if err != nil {
		t.Fatalf("failed to parse envelope: %v", err)
	}
	if env.Channel != "agents/backend" || env.Event != "message.sent" {
		t.Errorf("unexpected envelope %+v", env)
	}
	if env.Data["message_id"] != "m1" {
		t.Errorf("unexpected data %v", env.Data)
	}

	if _, err := parseEnvelope([]byte(`not json`)); err == nil {
		t.Error("expected an error for a malformed payload")
	}
}
