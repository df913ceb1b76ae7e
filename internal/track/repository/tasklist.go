package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/contextd/contextd/internal/track/models"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

// CreateTaskList inserts a task list. When waveNumber is nil the next
// contiguous wave number under the request is assigned inside the
// same transaction, so concurrent creates cannot collide.
func (r *Repository) CreateTaskList(ctx context.Context, taskList *models.TaskList, waveNumber *int) error {
	if taskList.ID == "" {
		taskList.ID = uuid.New().String()
	}
	if taskList.Status == "" {
		taskList.Status = v1.TaskListStatusPending
	}
	now := time.Now().UTC()
	taskList.CreatedAt = now
	taskList.UpdatedAt = now

	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		if err := tx.GetContext(ctx, &exists, r.rebind(
			`SELECT COUNT(1) FROM requests WHERE id = ?`), taskList.RequestID); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}

		if waveNumber != nil {
			taskList.WaveNumber = *waveNumber
		} else {
			var next sql.NullInt64
			if err := tx.GetContext(ctx, &next, r.rebind(
				`SELECT MAX(wave_number) + 1 FROM task_lists WHERE request_id = ?`), taskList.RequestID); err != nil {
				return err
			}
			if next.Valid {
				taskList.WaveNumber = int(next.Int64)
			} else {
				taskList.WaveNumber = 0
			}
		}

		_, err := tx.ExecContext(ctx, r.rebind(
			`INSERT INTO task_lists (id, request_id, name, wave_number, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`),
			taskList.ID, taskList.RequestID, taskList.Name, taskList.WaveNumber,
			taskList.Status, taskList.CreatedAt, taskList.UpdatedAt)
		return err
	})
}

// GetTaskList returns a task list by id.
func (r *Repository) GetTaskList(ctx context.Context, id string) (*models.TaskList, error) {
	var taskList models.TaskList
	err := r.ro.GetContext(ctx, &taskList, r.rebind(`SELECT * FROM task_lists WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &taskList, nil
}

// ListTaskLists returns task lists, optionally scoped to a request,
// in wave order.
func (r *Repository) ListTaskLists(ctx context.Context, requestID string, limit int) ([]*models.TaskList, error) {
	if limit <= 0 {
		limit = 100
	}
	taskLists := []*models.TaskList{}
	query := `SELECT * FROM task_lists`
	args := []interface{}{}
	if requestID != "" {
		query += ` WHERE request_id = ?`
		args = append(args, requestID)
	}
	query += ` ORDER BY wave_number ASC LIMIT ?`
	args = append(args, limit)
	err := r.ro.SelectContext(ctx, &taskLists, r.rebind(query), args...)
	return taskLists, err
}

// UpdateTaskListStatus sets the status and bumps updated_at.
func (r *Repository) UpdateTaskListStatus(ctx context.Context, id string, status v1.TaskListStatus) (*models.TaskList, error) {
	res, err := r.db.ExecContext(ctx, r.rebind(
		`UPDATE task_lists SET status = ?, updated_at = ? WHERE id = ?`),
		status, time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return r.GetTaskList(ctx, id)
}
