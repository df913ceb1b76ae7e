package bus

import (
	"context"

	"github.com/contextd/contextd/internal/events"
)

// Notifier adapts an EventBus to the wake-channel Notifier interface.
// Used when the store is SQLite and cannot push notifications itself.
type Notifier struct {
	bus EventBus
}

// NewNotifier creates a bus-backed notifier.
func NewNotifier(b EventBus) *Notifier {
	return &Notifier{bus: b}
}

// Notify publishes the envelope on the wake-channel subject.
func (n *Notifier) Notify(ctx context.Context, env *events.Envelope) error {
	return n.bus.Publish(ctx, events.WakeChannel, env)
}
