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

// CreateSubtask inserts a subtask under a task list.
func (r *Repository) CreateSubtask(ctx context.Context, subtask *models.Subtask) error {
	var exists int
	if err := r.db.GetContext(ctx, &exists, r.rebind(
		`SELECT COUNT(1) FROM task_lists WHERE id = ?`), subtask.TaskListID); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	if subtask.ID == "" {
		subtask.ID = uuid.New().String()
	}
	if subtask.Status == "" {
		subtask.Status = v1.SubtaskStatusPending
	}
	if subtask.DependsOn == nil {
		subtask.DependsOn = models.StringList{}
	}
	if subtask.Context == nil {
		subtask.Context = models.JSONMap{}
	}
	if subtask.CreatedAt.IsZero() {
		subtask.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO subtasks (id, task_list_id, agent_type, agent_id, description, status,
		                       depends_on, context, result, created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		subtask.ID, subtask.TaskListID, subtask.AgentType, subtask.AgentID,
		subtask.Description, subtask.Status, subtask.DependsOn, subtask.Context,
		subtask.Result, subtask.CreatedAt, subtask.StartedAt, subtask.CompletedAt)
	return err
}

// GetSubtask returns a subtask by id.
func (r *Repository) GetSubtask(ctx context.Context, id string) (*models.Subtask, error) {
	var subtask models.Subtask
	err := r.ro.GetContext(ctx, &subtask, r.rebind(`SELECT * FROM subtasks WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &subtask, nil
}

// ListSubtasks returns subtasks filtered by task list, status, or
// agent, newest first.
func (r *Repository) ListSubtasks(ctx context.Context, taskListID string, status v1.SubtaskStatus, agentType, agentID string, limit int) ([]*models.Subtask, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT * FROM subtasks WHERE 1=1`
	args := []interface{}{}
	if taskListID != "" {
		query += ` AND task_list_id = ?`
		args = append(args, taskListID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if agentType != "" {
		query += ` AND agent_type = ?`
		args = append(args, agentType)
	}
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	subtasks := []*models.Subtask{}
	err := r.ro.SelectContext(ctx, &subtasks, r.rebind(query), args...)
	return subtasks, err
}

// ListSubtasksForAgent returns subtasks whose agent type or instance
// matches, newest first. Used by the brief generator.
func (r *Repository) ListSubtasksForAgent(ctx context.Context, agentType, agentID string, limit int) ([]*models.Subtask, error) {
	if limit <= 0 {
		limit = 50
	}
	subtasks := []*models.Subtask{}
	err := r.ro.SelectContext(ctx, &subtasks, r.rebind(
		`SELECT * FROM subtasks WHERE agent_type = ? OR agent_id = ? ORDER BY created_at DESC LIMIT ?`),
		agentType, agentID, limit)
	return subtasks, err
}

// ListActiveSubtasksForSession returns non-terminal subtasks under
// the session's requests. Used by compact save.
func (r *Repository) ListActiveSubtasksForSession(ctx context.Context, sessionID string, limit int) ([]*models.Subtask, error) {
	if limit <= 0 {
		limit = 50
	}
	subtasks := []*models.Subtask{}
	err := r.ro.SelectContext(ctx, &subtasks, r.rebind(
		`SELECT st.* FROM subtasks st
		 JOIN task_lists tl ON st.task_list_id = tl.id
		 JOIN requests rq ON tl.request_id = rq.id
		 WHERE rq.session_id = ? AND st.status NOT IN (?, ?)
		 ORDER BY st.created_at DESC LIMIT ?`),
		sessionID, v1.SubtaskStatusCompleted, v1.SubtaskStatusFailed, limit)
	return subtasks, err
}

// UpdateSubtaskStatus transitions a subtask. started_at is stamped
// only on the first transition to running; completed_at only when the
// status reaches a terminal state for the first time.
func (r *Repository) UpdateSubtaskStatus(ctx context.Context, id string, status v1.SubtaskStatus, result *string) (*models.Subtask, error) {
	subtask, err := r.GetSubtask(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if status == v1.SubtaskStatusRunning && subtask.StartedAt == nil {
		subtask.StartedAt = &now
	}
	if status.IsTerminal() && subtask.CompletedAt == nil {
		subtask.CompletedAt = &now
	}
	subtask.Status = status
	if result != nil {
		subtask.Result = *result
	}

	_, err = r.db.ExecContext(ctx, r.rebind(
		`UPDATE subtasks SET status = ?, result = ?, started_at = ?, completed_at = ? WHERE id = ?`),
		subtask.Status, subtask.Result, subtask.StartedAt, subtask.CompletedAt, subtask.ID)
	if err != nil {
		return nil, err
	}
	return subtask, nil
}
