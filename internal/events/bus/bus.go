// Package bus provides the wake-channel transport abstraction used
// when the store cannot push notifications itself (SQLite mode) or
// when envelopes must cross process boundaries (NATS).
package bus

import (
	"context"

	"github.com/contextd/contextd/internal/events"
)

// EnvelopeHandler handles a wake-channel envelope.
type EnvelopeHandler func(ctx context.Context, env *events.Envelope) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus carries wake-channel envelopes between the ingestion API
// and the notification bridge.
type EventBus interface {
	// Publish sends an envelope to a subject.
	Publish(ctx context.Context, subject string, env *events.Envelope) error

	// Subscribe creates a subscription to a subject.
	Subscribe(subject string, handler EnvelopeHandler) (Subscription, error)

	// Close closes the bus.
	Close()

	// IsConnected returns connection status.
	IsConnected() bool
}
