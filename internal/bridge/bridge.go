// Package bridge connects the store's wake channel to the fanout hub.
// One worker per process: in Postgres mode it LISTENs on a dedicated
// connection outside the API pool; in SQLite/NATS mode it subscribes
// to the event bus. Envelopes that arrive while disconnected are lost
// by design; subscribers re-query the API for missed state.
package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/contextd/contextd/internal/common/logger"
	"github.com/contextd/contextd/internal/events"
	"github.com/contextd/contextd/internal/events/bus"
)

// Reconnect backoff: starts at one second, doubles, caps at thirty.
const (
	reconnectMin = 1 * time.Second
	reconnectMax = 30 * time.Second
)

// Router receives parsed wake-channel envelopes.
type Router interface {
	Route(env *events.Envelope)
}

// Bridge forwards wake-channel envelopes to the hub.
type Bridge struct {
	dsn    string
	bus    bus.EventBus
	hub    Router
	logger *logger.Logger
}

// NewPostgres creates a bridge that LISTENs on the wake channel over
// its own connection, not drawn from the API pool.
func NewPostgres(dsn string, hub Router, log *logger.Logger) *Bridge {
	return &Bridge{dsn: dsn, hub: hub, logger: log.WithFields(zap.String("component", "bridge"))}
}

// NewBus creates a bridge fed by the event bus (SQLite or NATS mode).
func NewBus(b bus.EventBus, hub Router, log *logger.Logger) *Bridge {
	return &Bridge{bus: b, hub: hub, logger: log.WithFields(zap.String("component", "bridge"))}
}

// Run blocks until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if b.bus != nil {
		return b.runBus(ctx)
	}
	return b.runPostgres(ctx)
}

func (b *Bridge) runBus(ctx context.Context) error {
	sub, err := b.bus.Subscribe(events.WakeChannel, func(_ context.Context, env *events.Envelope) error {
		b.hub.Route(env)
		return nil
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	b.logger.Info("bridge listening on event bus", zap.String("subject", events.WakeChannel))
	<-ctx.Done()
	return nil
}

func (b *Bridge) runPostgres(ctx context.Context) error {
	backoff := reconnectMin
	for {
		if err := b.listenOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("listener connection lost, reconnecting",
				zap.Duration("backoff", backoff), zap.Error(err))

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}
		return nil
	}
}

// listenOnce holds one LISTEN connection until it fails or the context
// is cancelled.
func (b *Bridge) listenOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, b.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+events.WakeChannel); err != nil {
		return err
	}
	b.logger.Info("bridge listening on wake channel", zap.String("channel", events.WakeChannel))

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		env, err := parseEnvelope([]byte(notification.Payload))
		if err != nil {
			b.logger.Warn("dropping malformed wake-channel payload", zap.Error(err))
			continue
		}
		b.hub.Route(env)
	}
}

// parseEnvelope decodes a wake-channel payload.
func parseEnvelope(payload []byte) (*events.Envelope, error) {
	var env events.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
