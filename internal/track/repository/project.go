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

// UpsertProjectByPath creates a project for the path or returns the
// existing one. The returned flag reports whether a row was created.
func (r *Repository) UpsertProjectByPath(ctx context.Context, path, name string, metadata models.JSONMap) (*models.Project, bool, error) {
	var project models.Project
	created := false

	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &project, r.rebind(`SELECT * FROM projects WHERE path = ?`), path)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		now := time.Now().UTC()
		project = models.Project{
			ID:        uuid.New().String(),
			Path:      path,
			Name:      name,
			Metadata:  metadata,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if project.Metadata == nil {
			project.Metadata = models.JSONMap{}
		}
		_, err = tx.ExecContext(ctx, r.rebind(
			`INSERT INTO projects (id, path, name, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`),
			project.ID, project.Path, project.Name, project.Metadata, project.CreatedAt, project.UpdatedAt)
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &project, created, nil
}

// GetProject returns a project by id.
func (r *Repository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var project models.Project
	err := r.ro.GetContext(ctx, &project, r.rebind(`SELECT * FROM projects WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// GetProjectByPath returns a project by its unique path.
func (r *Repository) GetProjectByPath(ctx context.Context, path string) (*models.Project, error) {
	var project models.Project
	err := r.ro.GetContext(ctx, &project, r.rebind(`SELECT * FROM projects WHERE path = ?`), path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// ListProjects returns projects ordered by most recently updated.
func (r *Repository) ListProjects(ctx context.Context, limit int) ([]*models.Project, error) {
	if limit <= 0 {
		limit = 100
	}
	projects := []*models.Project{}
	err := r.ro.SelectContext(ctx, &projects, r.rebind(
		`SELECT * FROM projects ORDER BY updated_at DESC LIMIT ?`), limit)
	return projects, err
}

// UpdateProjectMetadata merges nothing: it replaces the metadata bag
// and bumps updated_at.
func (r *Repository) UpdateProjectMetadata(ctx context.Context, id string, metadata models.JSONMap) error {
	res, err := r.db.ExecContext(ctx, r.rebind(
		`UPDATE projects SET metadata = ?, updated_at = ? WHERE id = ?`),
		metadata, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteProject removes a project and, through cascades, everything it
// owns.
func (r *Repository) DeleteProject(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM projects WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// requireRow maps zero affected rows to ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
