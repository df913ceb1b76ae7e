package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/contextd/contextd/internal/db/dialect"
	"github.com/contextd/contextd/internal/track/models"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

// CreateMessage inserts an agent message. A nil ToAgent marks a
// broadcast on the topic.
func (r *Repository) CreateMessage(ctx context.Context, message *models.AgentMessage) error {
	var exists int
	if err := r.db.GetContext(ctx, &exists, r.rebind(
		`SELECT COUNT(1) FROM projects WHERE id = ?`), message.ProjectID); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.MessageType == "" {
		message.MessageType = v1.MessageTypeInfo
	}
	if message.Payload == nil {
		message.Payload = models.JSONMap{}
	}
	if message.ReadBy == nil {
		message.ReadBy = models.StringList{}
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO agent_messages (id, project_id, from_agent, to_agent, topic, message_type,
		                             payload, priority, read_by, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		message.ID, message.ProjectID, message.FromAgent, message.ToAgent,
		message.Topic, message.MessageType, message.Payload, message.Priority,
		message.ReadBy, message.CreatedAt, message.ExpiresAt)
	return err
}

// GetMessage returns a message by id.
func (r *Repository) GetMessage(ctx context.Context, id string) (*models.AgentMessage, error) {
	var message models.AgentMessage
	err := r.ro.GetContext(ctx, &message, r.rebind(`SELECT * FROM agent_messages WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// ListMessagesForAgent returns unexpired messages visible to the
// agent: direct messages plus broadcasts on topics the agent is
// subscribed to. With unreadOnly set, messages already read by the
// agent are filtered out. Ordered by priority then recency.
func (r *Repository) ListMessagesForAgent(ctx context.Context, agentID string, unreadOnly bool, limit int) ([]*models.AgentMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
	SELECT m.* FROM agent_messages m
	WHERE (m.to_agent = ?
	       OR (m.to_agent IS NULL AND m.topic IN (
	             SELECT topic FROM topic_subscriptions WHERE agent_id = ?)))
	  AND (m.expires_at IS NULL OR m.expires_at > %s)`, dialect.Now(r.driver))
	args := []interface{}{agentID, agentID}
	if unreadOnly {
		query += ` AND NOT ` + dialect.JSONContainsID(r.driver, "m.read_by", "?")
		args = append(args, agentID)
	}
	query += ` ORDER BY m.priority DESC, m.created_at DESC LIMIT ?`
	args = append(args, limit)

	messages := []*models.AgentMessage{}
	err := r.ro.SelectContext(ctx, &messages, r.rebind(query), args...)
	return messages, err
}

// ListRecentMessagesForProject returns the newest messages under a
// project regardless of recipient. Used by compact save.
func (r *Repository) ListRecentMessagesForProject(ctx context.Context, projectID string, minPriority, limit int) ([]*models.AgentMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	messages := []*models.AgentMessage{}
	err := r.ro.SelectContext(ctx, &messages, r.rebind(
		`SELECT * FROM agent_messages
		 WHERE project_id = ? AND priority >= ?
		 ORDER BY created_at DESC LIMIT ?`),
		projectID, minPriority, limit)
	return messages, err
}

// MarkMessageRead appends the agent to the message's read-by list.
// Re-marking is a no-op.
func (r *Repository) MarkMessageRead(ctx context.Context, id, agentID string) (*models.AgentMessage, error) {
	message, err := r.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if message.ReadBy.Contains(agentID) {
		return message, nil
	}
	message.ReadBy = append(message.ReadBy, agentID)
	_, err = r.db.ExecContext(ctx, r.rebind(
		`UPDATE agent_messages SET read_by = ? WHERE id = ?`), message.ReadBy, id)
	if err != nil {
		return nil, err
	}
	return message, nil
}

// DeleteExpiredMessages removes messages whose expiration has passed.
func (r *Repository) DeleteExpiredMessages(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM agent_messages WHERE expires_at IS NOT NULL AND expires_at <= %s`,
		dialect.Now(r.driver)))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteReadMessagesOlderThan removes messages older than the given
// number of hours whose read-by set is non-empty.
func (r *Repository) DeleteReadMessagesOlderThan(ctx context.Context, hours int) (int64, error) {
	query := fmt.Sprintf(
		`DELETE FROM agent_messages WHERE read_by != '[]' AND created_at < %s`,
		dialect.NowMinusHours(r.driver, "?"))
	res, err := r.db.ExecContext(ctx, r.rebind(query), hours)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
