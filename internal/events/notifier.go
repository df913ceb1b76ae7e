package events

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
)

// Notifier pushes wake-channel envelopes toward the notification
// bridge. Emission is best-effort; callers log failures and continue.
type Notifier interface {
	Notify(ctx context.Context, env *Envelope) error
}

// PGNotifier emits envelopes with pg_notify on the API's connection
// pool. The bridge holds the only LISTEN on the channel.
type PGNotifier struct {
	db *sqlx.DB
}

// NewPGNotifier creates a Notifier over a Postgres pool.
func NewPGNotifier(db *sqlx.DB) *PGNotifier {
	return &PGNotifier{db: db}
}

// Notify publishes the envelope on the wake channel.
func (n *PGNotifier) Notify(ctx context.Context, env *Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = n.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, WakeChannel, string(payload))
	return err
}
