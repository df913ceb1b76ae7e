package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/contextd/contextd/internal/db/dialect"
	"github.com/contextd/contextd/internal/track/models"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

// UpsertAgentContext writes the per-agent state, keyed uniquely by
// (project, agent id). The row keeps its original id across updates;
// updated_at is bumped.
func (r *Repository) UpsertAgentContext(ctx context.Context, ac *models.AgentContext) error {
	if ac.RoleContext == nil {
		ac.RoleContext = models.JSONMap{}
	}
	if ac.SkillsToRestore == nil {
		ac.SkillsToRestore = models.StringList{}
	}
	if ac.ToolsUsed == nil {
		ac.ToolsUsed = models.StringList{}
	}
	ac.UpdatedAt = time.Now().UTC()

	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		if err := tx.GetContext(ctx, &exists, r.rebind(
			`SELECT COUNT(1) FROM projects WHERE id = ?`), ac.ProjectID); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}

		var existing models.AgentContext
		err := tx.GetContext(ctx, &existing, r.rebind(
			`SELECT * FROM agent_contexts WHERE project_id = ? AND agent_id = ?`),
			ac.ProjectID, ac.AgentID)
		if errors.Is(err, sql.ErrNoRows) {
			if ac.ID == "" {
				ac.ID = uuid.New().String()
			}
			_, err = tx.ExecContext(ctx, r.rebind(
				`INSERT INTO agent_contexts (id, project_id, agent_id, agent_type, role_context,
				                             skills_to_restore, tools_used, progress, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				ac.ID, ac.ProjectID, ac.AgentID, ac.AgentType, ac.RoleContext,
				ac.SkillsToRestore, ac.ToolsUsed, ac.Progress, ac.UpdatedAt)
			return err
		}
		if err != nil {
			return err
		}

		ac.ID = existing.ID
		_, err = tx.ExecContext(ctx, r.rebind(
			`UPDATE agent_contexts SET agent_type = ?, role_context = ?, skills_to_restore = ?,
			        tools_used = ?, progress = ?, updated_at = ?
			 WHERE id = ?`),
			ac.AgentType, ac.RoleContext, ac.SkillsToRestore, ac.ToolsUsed,
			ac.Progress, ac.UpdatedAt, ac.ID)
		return err
	})
}

// GetAgentContext returns the row for (project, agent id).
func (r *Repository) GetAgentContext(ctx context.Context, projectID, agentID string) (*models.AgentContext, error) {
	var ac models.AgentContext
	err := r.ro.GetContext(ctx, &ac, r.rebind(
		`SELECT * FROM agent_contexts WHERE project_id = ? AND agent_id = ?`), projectID, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ac, nil
}

// GetLatestAgentContext returns the most recently updated row for the
// agent across projects.
func (r *Repository) GetLatestAgentContext(ctx context.Context, agentID string) (*models.AgentContext, error) {
	var ac models.AgentContext
	err := r.ro.GetContext(ctx, &ac, r.rebind(
		`SELECT * FROM agent_contexts WHERE agent_id = ? ORDER BY updated_at DESC LIMIT 1`), agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ac, nil
}

// GetLatestSnapshot returns the newest compact snapshot for the
// session. Snapshots are agent-context rows with the reserved agent
// type and agent_id equal to the session id.
func (r *Repository) GetLatestSnapshot(ctx context.Context, sessionID string) (*models.AgentContext, error) {
	var ac models.AgentContext
	err := r.ro.GetContext(ctx, &ac, r.rebind(
		`SELECT * FROM agent_contexts WHERE agent_type = ? AND agent_id = ?
		 ORDER BY updated_at DESC LIMIT 1`),
		v1.AgentTypeSnapshot, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ac, nil
}

// ListAgentContextsForProject returns live (non-snapshot) agent
// contexts under a project, most recently updated first.
func (r *Repository) ListAgentContextsForProject(ctx context.Context, projectID string) ([]*models.AgentContext, error) {
	contexts := []*models.AgentContext{}
	err := r.ro.SelectContext(ctx, &contexts, r.rebind(
		`SELECT * FROM agent_contexts WHERE project_id = ? AND agent_type != ?
		 ORDER BY updated_at DESC`),
		projectID, v1.AgentTypeSnapshot)
	return contexts, err
}

// DeleteOldSnapshots purges compact snapshots older than the given
// number of hours.
func (r *Repository) DeleteOldSnapshots(ctx context.Context, maxAgeHours int) (int64, error) {
	query := fmt.Sprintf(
		`DELETE FROM agent_contexts WHERE agent_type = ? AND updated_at < %s`,
		dialect.NowMinusHours(r.driver, "?"))
	res, err := r.db.ExecContext(ctx, r.rebind(query), v1.AgentTypeSnapshot, maxAgeHours)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
