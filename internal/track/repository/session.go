package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/contextd/contextd/internal/track/models"
)

// CreateSession inserts a session with its externally supplied id.
// Re-creating an existing id is a conflict.
func (r *Repository) CreateSession(ctx context.Context, session *models.Session) error {
	var exists int
	err := r.db.GetContext(ctx, &exists, r.rebind(
		`SELECT COUNT(1) FROM sessions WHERE id = ?`), session.ID)
	if err != nil {
		return err
	}
	if exists > 0 {
		return ErrConflict
	}

	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO sessions (id, project_id, started_at, ended_at, tools_used, tools_succeeded, tools_failed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		session.ID, session.ProjectID, session.StartedAt, session.EndedAt,
		session.ToolsUsed, session.ToolsSucceeded, session.ToolsFailed)
	return err
}

// GetSession returns a session by id.
func (r *Repository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := r.ro.GetContext(ctx, &session, r.rebind(`SELECT * FROM sessions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions returns sessions, optionally only active ones.
func (r *Repository) ListSessions(ctx context.Context, activeOnly bool, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	sessions := []*models.Session{}
	query := `SELECT * FROM sessions`
	if activeOnly {
		query += ` WHERE ended_at IS NULL`
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	err := r.ro.SelectContext(ctx, &sessions, r.rebind(query), limit)
	return sessions, err
}

// AddSessionToolUse bumps the per-session tool counters.
func (r *Repository) AddSessionToolUse(ctx context.Context, id string, success bool) error {
	succ, fail := 0, 1
	if success {
		succ, fail = 1, 0
	}
	res, err := r.db.ExecContext(ctx, r.rebind(
		`UPDATE sessions SET tools_used = tools_used + 1,
		        tools_succeeded = tools_succeeded + ?,
		        tools_failed = tools_failed + ?
		 WHERE id = ?`), succ, fail, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// EndSession stamps ended_at once; ending an already-ended session is
// a no-op.
func (r *Repository) EndSession(ctx context.Context, id string, at time.Time) error {
	var exists int
	if err := r.db.GetContext(ctx, &exists, r.rebind(
		`SELECT COUNT(1) FROM sessions WHERE id = ?`), id); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	_, err := r.db.ExecContext(ctx, r.rebind(
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`), at.UTC(), id)
	return err
}

// StaleSessionIDs returns active sessions whose most recent action
// (or start, if no actions reference the session's requests) is older
// than the threshold.
func (r *Repository) StaleSessionIDs(ctx context.Context, olderThan time.Time) ([]string, error) {
	ids := []string{}
	// A session's activity is the newest action under any of its
	// requests, falling back to the session start.
	query := `
	SELECT s.id FROM sessions s
	WHERE s.ended_at IS NULL
	  AND COALESCE((
		SELECT MAX(a.created_at) FROM actions a
		JOIN subtasks st ON a.subtask_id = st.id
		JOIN task_lists tl ON st.task_list_id = tl.id
		JOIN requests rq ON tl.request_id = rq.id
		WHERE rq.session_id = s.id
	  ), s.started_at) < ?`
	err := r.ro.SelectContext(ctx, &ids, r.rebind(query), olderThan.UTC())
	return ids, err
}
