package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/contextd/contextd/internal/track/models"
)

// Subscribe records an (agent, topic) subscription. Subscribing twice
// returns the existing row.
func (r *Repository) Subscribe(ctx context.Context, agentID, topic string) (*models.TopicSubscription, error) {
	var sub models.TopicSubscription
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &sub, r.rebind(
			`SELECT * FROM topic_subscriptions WHERE agent_id = ? AND topic = ?`), agentID, topic)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		sub = models.TopicSubscription{
			ID:        uuid.New().String(),
			AgentID:   agentID,
			Topic:     topic,
			CreatedAt: time.Now().UTC(),
		}
		_, err = tx.ExecContext(ctx, r.rebind(
			`INSERT INTO topic_subscriptions (id, agent_id, topic, created_at) VALUES (?, ?, ?, ?)`),
			sub.ID, sub.AgentID, sub.Topic, sub.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Unsubscribe removes an (agent, topic) subscription. Removing a
// missing pair is a no-op.
func (r *Repository) Unsubscribe(ctx context.Context, agentID, topic string) error {
	_, err := r.db.ExecContext(ctx, r.rebind(
		`DELETE FROM topic_subscriptions WHERE agent_id = ? AND topic = ?`), agentID, topic)
	return err
}

// DeleteSubscription removes a subscription by row id.
func (r *Repository) DeleteSubscription(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(
		`DELETE FROM topic_subscriptions WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListSubscriptions returns subscriptions, optionally for one agent.
func (r *Repository) ListSubscriptions(ctx context.Context, agentID string) ([]*models.TopicSubscription, error) {
	subs := []*models.TopicSubscription{}
	query := `SELECT * FROM topic_subscriptions`
	args := []interface{}{}
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at ASC`
	err := r.ro.SelectContext(ctx, &subs, r.rebind(query), args...)
	return subs, err
}

// TopicsForAgent returns the topics the agent is subscribed to.
func (r *Repository) TopicsForAgent(ctx context.Context, agentID string) ([]string, error) {
	topics := []string{}
	err := r.ro.SelectContext(ctx, &topics, r.rebind(
		`SELECT topic FROM topic_subscriptions WHERE agent_id = ? ORDER BY topic ASC`), agentID)
	return topics, err
}
