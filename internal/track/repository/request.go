package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/contextd/contextd/internal/track/models"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

// CreateRequest inserts a request under a project and session.
func (r *Repository) CreateRequest(ctx context.Context, request *models.Request) error {
	if request.ID == "" {
		request.ID = uuid.New().String()
	}
	if request.Status == "" {
		request.Status = v1.RequestStatusActive
	}
	if request.Metadata == nil {
		request.Metadata = models.JSONMap{}
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO requests (id, project_id, session_id, prompt, prompt_type, status, metadata, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		request.ID, request.ProjectID, request.SessionID, request.Prompt,
		request.PromptType, request.Status, request.Metadata, request.CreatedAt, request.CompletedAt)
	return err
}

// GetRequest returns a request by id.
func (r *Repository) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	var request models.Request
	err := r.ro.GetContext(ctx, &request, r.rebind(`SELECT * FROM requests WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// ListRequests returns requests filtered by session, project, or
// status, newest first.
func (r *Repository) ListRequests(ctx context.Context, sessionID, projectID string, status v1.RequestStatus, limit int) ([]*models.Request, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT * FROM requests WHERE 1=1`
	args := []interface{}{}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	requests := []*models.Request{}
	err := r.ro.SelectContext(ctx, &requests, r.rebind(query), args...)
	return requests, err
}

// LatestRequestForSession returns the newest request on a session.
func (r *Repository) LatestRequestForSession(ctx context.Context, sessionID string) (*models.Request, error) {
	var request models.Request
	err := r.ro.GetContext(ctx, &request, r.rebind(
		`SELECT * FROM requests WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`), sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// CompleteRequest stamps completed_at on the active→completed edge.
// A second call is a no-op that leaves the original stamp intact.
func (r *Repository) CompleteRequest(ctx context.Context, id string, at time.Time) (*models.Request, error) {
	_, err := r.db.ExecContext(ctx, r.rebind(
		`UPDATE requests SET status = ?, completed_at = ? WHERE id = ? AND status != ?`),
		v1.RequestStatusCompleted, at.UTC(), id, v1.RequestStatusCompleted)
	if err != nil {
		return nil, err
	}
	return r.GetRequest(ctx, id)
}

// UpdateRequestMetadata replaces the request metadata bag.
func (r *Repository) UpdateRequestMetadata(ctx context.Context, id string, metadata models.JSONMap) error {
	res, err := r.db.ExecContext(ctx, r.rebind(
		`UPDATE requests SET metadata = ? WHERE id = ?`), metadata, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}
