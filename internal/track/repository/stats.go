package repository

import (
	"context"
	"fmt"

	"github.com/contextd/contextd/internal/db/dialect"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

// DatabaseCounts returns per-table row counts for /stats.
func (r *Repository) DatabaseCounts(ctx context.Context) (map[string]int, error) {
	tables := []string{
		"projects", "sessions", "requests", "task_lists", "subtasks",
		"actions", "routing_scores", "agent_messages", "topic_subscriptions",
		"blockings", "agent_contexts",
	}
	counts := make(map[string]int, len(tables))
	for _, table := range tables {
		var n int
		if err := r.ro.GetContext(ctx, &n, `SELECT COUNT(1) FROM `+table); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// ToolSummaryRow aggregates action rows per tool.
type ToolSummaryRow struct {
	ToolName      string      `db:"tool_name" json:"tool_name"`
	ToolType      v1.ToolType `db:"tool_type" json:"tool_type"`
	UseCount      int         `db:"use_count" json:"use_count"`
	SuccessCount  int         `db:"success_count" json:"success_count"`
	AvgDurationMs float64     `db:"avg_duration_ms" json:"avg_duration_ms"`
}

// ToolsSummary returns per-tool usage/success aggregates over actions.
func (r *Repository) ToolsSummary(ctx context.Context) ([]*ToolSummaryRow, error) {
	rows := []*ToolSummaryRow{}
	err := r.ro.SelectContext(ctx, &rows, `
	SELECT tool_name, tool_type,
	       COUNT(1) AS use_count,
	       SUM(CASE WHEN exit_code = 0 THEN 1 ELSE 0 END) AS success_count,
	       AVG(duration_ms) AS avg_duration_ms
	FROM actions
	GROUP BY tool_name, tool_type
	ORDER BY use_count DESC`)
	return rows, err
}

// SessionStatsRow is one session's tool totals and error rate.
type SessionStatsRow struct {
	SessionID      string  `db:"id" json:"session_id"`
	ProjectID      *string `db:"project_id" json:"project_id,omitempty"`
	Active         bool    `db:"active" json:"active"`
	ToolsUsed      int     `db:"tools_used" json:"tools_used"`
	ToolsSucceeded int     `db:"tools_succeeded" json:"tools_succeeded"`
	ToolsFailed    int     `db:"tools_failed" json:"tools_failed"`
	ErrorRate      float64 `db:"-" json:"error_rate"`
}

// SessionStats returns per-session tool totals, newest first.
func (r *Repository) SessionStats(ctx context.Context, limit int) ([]*SessionStatsRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows := []*SessionStatsRow{}
	err := r.ro.SelectContext(ctx, &rows, r.rebind(`
	SELECT id, project_id,
	       CASE WHEN ended_at IS NULL THEN 1 ELSE 0 END AS active,
	       tools_used, tools_succeeded, tools_failed
	FROM sessions
	ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.ToolsUsed > 0 {
			row.ErrorRate = float64(row.ToolsFailed) / float64(row.ToolsUsed)
		}
	}
	return rows, nil
}

// CleanupStats counts the rows the cleanup workers would touch.
type CleanupStats struct {
	ExpiredMessages int `json:"expired_messages"`
	OldReadMessages int `json:"old_read_messages"`
	OldSnapshots    int `json:"old_snapshots"`
	StaleSessions   int `json:"stale_sessions"`
}

// GetCleanupStats reports pending cleanup volume without deleting.
func (r *Repository) GetCleanupStats(ctx context.Context, readMessageMaxHours, snapshotMaxHours, staleMinutes int) (*CleanupStats, error) {
	stats := &CleanupStats{}

	if err := r.ro.GetContext(ctx, &stats.ExpiredMessages, fmt.Sprintf(
		`SELECT COUNT(1) FROM agent_messages WHERE expires_at IS NOT NULL AND expires_at <= %s`,
		dialect.Now(r.driver))); err != nil {
		return nil, err
	}
	if err := r.ro.GetContext(ctx, &stats.OldReadMessages, r.rebind(fmt.Sprintf(
		`SELECT COUNT(1) FROM agent_messages WHERE read_by != '[]' AND created_at < %s`,
		dialect.NowMinusHours(r.driver, "?"))), readMessageMaxHours); err != nil {
		return nil, err
	}
	if err := r.ro.GetContext(ctx, &stats.OldSnapshots, r.rebind(fmt.Sprintf(
		`SELECT COUNT(1) FROM agent_contexts WHERE agent_type = ? AND updated_at < %s`,
		dialect.NowMinusHours(r.driver, "?"))), v1.AgentTypeSnapshot, snapshotMaxHours); err != nil {
		return nil, err
	}
	err := r.ro.GetContext(ctx, &stats.StaleSessions, r.rebind(fmt.Sprintf(`
	SELECT COUNT(1) FROM sessions s
	WHERE s.ended_at IS NULL
	  AND COALESCE((
		SELECT MAX(a.created_at) FROM actions a
		JOIN subtasks st ON a.subtask_id = st.id
		JOIN task_lists tl ON st.task_list_id = tl.id
		JOIN requests rq ON tl.request_id = rq.id
		WHERE rq.session_id = s.id
	  ), s.started_at) < %s`, dialect.NowMinusMinutes(r.driver, "?"))), staleMinutes)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// MetricSnapshot is one point-in-time aggregate broadcast on the
// metrics channel.
type MetricSnapshot struct {
	ActiveSessions    int     `json:"active_sessions"`
	ActiveAgents      int     `json:"active_agents"`
	PendingTasks      int     `json:"pending_tasks"`
	RunningTasks      int     `json:"running_tasks"`
	CompletedLastHour int     `json:"completed_last_hour"`
	MessagesLastHour  int     `json:"messages_last_hour"`
	ActionsPerMinute  float64 `json:"actions_per_minute"`
	AvgTaskDurationMs float64 `json:"avg_task_duration_ms"`
}

// CountActiveSessions counts sessions without an end stamp.
func (r *Repository) CountActiveSessions(ctx context.Context) (int, error) {
	var n int
	err := r.ro.GetContext(ctx, &n, `SELECT COUNT(1) FROM sessions WHERE ended_at IS NULL`)
	return n, err
}

// CountActiveAgents counts distinct agents on non-terminal subtasks.
func (r *Repository) CountActiveAgents(ctx context.Context) (int, error) {
	var n int
	err := r.ro.GetContext(ctx, &n, r.rebind(
		`SELECT COUNT(DISTINCT agent_id) FROM subtasks
		 WHERE agent_id != '' AND status IN (?, ?, ?, ?)`),
		v1.SubtaskStatusPending, v1.SubtaskStatusRunning,
		v1.SubtaskStatusPaused, v1.SubtaskStatusBlocked)
	return n, err
}

// CountSubtasksByStatus counts subtasks in the given status.
func (r *Repository) CountSubtasksByStatus(ctx context.Context, status v1.SubtaskStatus) (int, error) {
	var n int
	err := r.ro.GetContext(ctx, &n, r.rebind(
		`SELECT COUNT(1) FROM subtasks WHERE status = ?`), status)
	return n, err
}

// CompletedLastHour counts subtasks completed and messages created in
// the trailing hour.
func (r *Repository) CompletedLastHour(ctx context.Context) (tasks, messages int, err error) {
	hourAgo := dialect.NowMinusHours(r.driver, "1")
	if err = r.ro.GetContext(ctx, &tasks, fmt.Sprintf(
		`SELECT COUNT(1) FROM subtasks WHERE status = 'completed' AND completed_at >= %s`, hourAgo)); err != nil {
		return 0, 0, err
	}
	if err = r.ro.GetContext(ctx, &messages, fmt.Sprintf(
		`SELECT COUNT(1) FROM agent_messages WHERE created_at >= %s`, hourAgo)); err != nil {
		return 0, 0, err
	}
	return tasks, messages, nil
}

// ActionsPerMinute averages action volume over the trailing hour.
func (r *Repository) ActionsPerMinute(ctx context.Context) (float64, error) {
	var n int
	err := r.ro.GetContext(ctx, &n, fmt.Sprintf(
		`SELECT COUNT(1) FROM actions WHERE created_at >= %s`,
		dialect.NowMinusHours(r.driver, "1")))
	if err != nil {
		return 0, err
	}
	return float64(n) / 60.0, nil
}

// AvgTaskDurationMs averages the wall time of completed subtasks.
func (r *Repository) AvgTaskDurationMs(ctx context.Context) (float64, error) {
	var avg *float64
	query := fmt.Sprintf(
		`SELECT AVG(%s) FROM subtasks WHERE started_at IS NOT NULL AND completed_at IS NOT NULL`,
		dialect.DurationMs(r.driver, "completed_at", "started_at"))
	if err := r.ro.GetContext(ctx, &avg, query); err != nil {
		return 0, err
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}
