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

// CreateAction appends an action row. Input and Output are expected to
// be gzip-compressed by the caller.
func (r *Repository) CreateAction(ctx context.Context, action *models.Action) error {
	if action.SubtaskID != nil {
		var exists int
		if err := r.db.GetContext(ctx, &exists, r.rebind(
			`SELECT COUNT(1) FROM subtasks WHERE id = ?`), *action.SubtaskID); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
	}

	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	if action.FilePaths == nil {
		action.FilePaths = models.StringList{}
	}
	if action.Metadata == nil {
		action.Metadata = models.JSONMap{}
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO actions (id, subtask_id, tool_name, tool_type, input, output,
		                      file_paths, exit_code, duration_ms, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		action.ID, action.SubtaskID, action.ToolName, action.ToolType,
		action.Input, action.Output, action.FilePaths, action.ExitCode,
		action.DurationMs, action.Metadata, action.CreatedAt)
	return err
}

// GetAction returns an action by id.
func (r *Repository) GetAction(ctx context.Context, id string) (*models.Action, error) {
	var action models.Action
	err := r.ro.GetContext(ctx, &action, r.rebind(`SELECT * FROM actions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &action, nil
}

// ListActions returns actions filtered by subtask, tool name, or tool
// type, newest first.
func (r *Repository) ListActions(ctx context.Context, subtaskID, toolName string, toolType v1.ToolType, limit int) ([]*models.Action, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT * FROM actions WHERE 1=1`
	args := []interface{}{}
	if subtaskID != "" {
		query += ` AND subtask_id = ?`
		args = append(args, subtaskID)
	}
	if toolName != "" {
		query += ` AND tool_name = ?`
		args = append(args, toolName)
	}
	if toolType != "" {
		query += ` AND tool_type = ?`
		args = append(args, toolType)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	actions := []*models.Action{}
	err := r.ro.SelectContext(ctx, &actions, r.rebind(query), args...)
	return actions, err
}

// ListRecentActionsForAgent returns the newest actions on subtasks
// assigned to the agent. Used by the brief generator.
func (r *Repository) ListRecentActionsForAgent(ctx context.Context, agentType, agentID string, limit int) ([]*models.Action, error) {
	if limit <= 0 {
		limit = 20
	}
	actions := []*models.Action{}
	err := r.ro.SelectContext(ctx, &actions, r.rebind(
		`SELECT a.* FROM actions a
		 JOIN subtasks st ON a.subtask_id = st.id
		 WHERE st.agent_type = ? OR st.agent_id = ?
		 ORDER BY a.created_at DESC LIMIT ?`),
		agentType, agentID, limit)
	return actions, err
}

// ListRecentActionsForSession returns the newest actions under the
// session's requests. Used by compact save to derive modified files.
func (r *Repository) ListRecentActionsForSession(ctx context.Context, sessionID string, limit int) ([]*models.Action, error) {
	if limit <= 0 {
		limit = 20
	}
	actions := []*models.Action{}
	err := r.ro.SelectContext(ctx, &actions, r.rebind(
		`SELECT a.* FROM actions a
		 JOIN subtasks st ON a.subtask_id = st.id
		 JOIN task_lists tl ON st.task_list_id = tl.id
		 JOIN requests rq ON tl.request_id = rq.id
		 WHERE rq.session_id = ?
		 ORDER BY a.created_at DESC LIMIT ?`),
		sessionID, limit)
	return actions, err
}

// HourlyBucket is one hour of action activity.
type HourlyBucket struct {
	Hour      string `db:"hour" json:"hour"`
	Total     int    `db:"total" json:"total"`
	Succeeded int    `db:"succeeded" json:"succeeded"`
	Failed    int    `db:"failed" json:"failed"`
}

// HourlyActionCounts aggregates action volume per hour over the last
// given number of hours.
func (r *Repository) HourlyActionCounts(ctx context.Context, hours int) ([]*HourlyBucket, error) {
	if hours <= 0 {
		hours = 24
	}
	bucket := dialect.HourBucket(r.driver, "created_at")
	query := fmt.Sprintf(`
	SELECT %s AS hour,
	       COUNT(1) AS total,
	       SUM(CASE WHEN exit_code = 0 THEN 1 ELSE 0 END) AS succeeded,
	       SUM(CASE WHEN exit_code != 0 THEN 1 ELSE 0 END) AS failed
	FROM actions
	WHERE created_at >= %s
	GROUP BY %s
	ORDER BY hour ASC`, bucket, dialect.NowMinusHours(r.driver, "?"), bucket)

	buckets := []*HourlyBucket{}
	err := r.ro.SelectContext(ctx, &buckets, r.rebind(query), hours)
	return buckets, err
}
