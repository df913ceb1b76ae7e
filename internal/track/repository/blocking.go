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

// CreateBlocking records that blocker is blocking blocked. The pair is
// unique while active; recording an existing pair returns the current
// row. Self-blocks are rejected above this layer.
func (r *Repository) CreateBlocking(ctx context.Context, blockerID, blockedID, reason string) (*models.Blocking, error) {
	var blocking models.Blocking
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &blocking, r.rebind(
			`SELECT * FROM blockings WHERE blocker_id = ? AND blocked_id = ?`), blockerID, blockedID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		blocking = models.Blocking{
			ID:        uuid.New().String(),
			BlockerID: blockerID,
			BlockedID: blockedID,
			Reason:    reason,
			CreatedAt: time.Now().UTC(),
		}
		_, err = tx.ExecContext(ctx, r.rebind(
			`INSERT INTO blockings (id, blocker_id, blocked_id, reason, created_at) VALUES (?, ?, ?, ?, ?)`),
			blocking.ID, blocking.BlockerID, blocking.BlockedID, blocking.Reason, blocking.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &blocking, nil
}

// DeleteBlockingPair removes the active row for the pair. Removing a
// missing pair is a no-op; the count reports whether a row existed.
func (r *Repository) DeleteBlockingPair(ctx context.Context, blockerID, blockedID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.rebind(
		`DELETE FROM blockings WHERE blocker_id = ? AND blocked_id = ?`), blockerID, blockedID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteBlockingByID removes a blocking row by id.
func (r *Repository) DeleteBlockingByID(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM blockings WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListBlockingsForAgent returns active rows naming the agent on either
// side, newest first.
func (r *Repository) ListBlockingsForAgent(ctx context.Context, agentID string) ([]*models.Blocking, error) {
	blockings := []*models.Blocking{}
	err := r.ro.SelectContext(ctx, &blockings, r.rebind(
		`SELECT * FROM blockings WHERE blocker_id = ? OR blocked_id = ? ORDER BY created_at DESC`),
		agentID, agentID)
	return blockings, err
}

// ListBlockingsBlocking returns active rows where the agent is the
// blocked party. Used by the brief generator.
func (r *Repository) ListBlockingsBlocking(ctx context.Context, blockedID string) ([]*models.Blocking, error) {
	blockings := []*models.Blocking{}
	err := r.ro.SelectContext(ctx, &blockings, r.rebind(
		`SELECT * FROM blockings WHERE blocked_id = ? ORDER BY created_at DESC`), blockedID)
	return blockings, err
}

// CheckBlocked reports whether an active row matches the pair. An
// empty blockerID matches any blocker.
func (r *Repository) CheckBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	query := `SELECT COUNT(1) FROM blockings WHERE blocked_id = ?`
	args := []interface{}{blockedID}
	if blockerID != "" {
		query += ` AND blocker_id = ?`
		args = append(args, blockerID)
	}
	var count int
	if err := r.ro.GetContext(ctx, &count, r.rebind(query), args...); err != nil {
		return false, err
	}
	return count > 0, nil
}
