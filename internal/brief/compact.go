package brief

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/contextd/contextd/internal/common/logger"
	"github.com/contextd/contextd/internal/events"
	"github.com/contextd/contextd/internal/track/models"
	"github.com/contextd/contextd/internal/track/repository"
	v1 "github.com/contextd/contextd/pkg/api/v1"
	"github.com/contextd/contextd/pkg/realtime"
)

// Compacter implements the compact-cycle save/restore pipeline.
// Snapshots are agent-context rows with the reserved agent type and
// agent_id equal to the session id.
type Compacter struct {
	repo      *repository.Repository
	generator *Generator
	notifier  events.Notifier
	logger    *logger.Logger
}

// SaveResult reports what a compact save captured.
type SaveResult struct {
	SnapshotID    string    `json:"snapshot_id"`
	SessionID     string    `json:"session_id"`
	Trigger       string    `json:"trigger"`
	ActiveTasks   int       `json:"active_tasks"`
	ModifiedFiles int       `json:"modified_files"`
	Decisions     int       `json:"decisions"`
	AgentStates   int       `json:"agent_states"`
	SavedAt       time.Time `json:"saved_at"`
}

// RestoreResult is the regenerated brief plus its source references.
type RestoreResult struct {
	Brief      *Result    `json:"brief"`
	SnapshotID string     `json:"snapshot_id,omitempty"`
	SnapshotAt *time.Time `json:"snapshot_at,omitempty"`
}

// NewCompacter creates a Compacter. The notifier may be nil.
func NewCompacter(repo *repository.Repository, generator *Generator, notifier events.Notifier, log *logger.Logger) *Compacter {
	return &Compacter{repo: repo, generator: generator, notifier: notifier, logger: log}
}

// Save assembles a full-session snapshot and upserts it as the
// session's compact-snapshot row. The owning request's metadata is
// stamped with the snapshot time.
func (c *Compacter) Save(ctx context.Context, sessionID string, trigger v1.CompactTrigger) (*SaveResult, error) {
	if sessionID == "" {
		return nil, errors.New("session_id is required")
	}
	if !v1.ValidCompactTrigger(trigger) {
		return nil, fmt.Errorf("trigger %q is not one of auto, manual, proactive", trigger)
	}

	session, err := c.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	request, err := c.repo.LatestRequestForSession(ctx, sessionID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	projectID := ""
	if session.ProjectID != nil {
		projectID = *session.ProjectID
	}
	if projectID == "" && request != nil {
		projectID = request.ProjectID
	}
	if projectID == "" {
		return nil, errors.New("session has no project to snapshot under")
	}

	var (
		subtasks    []*models.Subtask
		actions     []*models.Action
		decisions   []*models.AgentMessage
		recent      []*models.AgentMessage
		agentStates []*models.AgentContext
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		subtasks, err = c.repo.ListActiveSubtasksForSession(gctx, sessionID, 50)
		return err
	})
	eg.Go(func() (err error) {
		actions, err = c.repo.ListRecentActionsForSession(gctx, sessionID, 30)
		return err
	})
	eg.Go(func() (err error) {
		decisions, err = c.repo.ListRecentMessagesForProject(gctx, projectID, decisionPriority, 20)
		return err
	})
	eg.Go(func() (err error) {
		recent, err = c.repo.ListRecentMessagesForProject(gctx, projectID, 0, 20)
		return err
	})
	eg.Go(func() (err error) {
		agentStates, err = c.repo.ListAgentContextsForProject(gctx, projectID)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	modifiedFiles := collectFilePaths(actions)
	summary := sessionSummary(session, request, subtasks, modifiedFiles)

	snapshot := &models.AgentContext{
		ProjectID: projectID,
		AgentID:   sessionID,
		AgentType: v1.AgentTypeSnapshot,
		RoleContext: models.JSONMap{
			"trigger":         string(trigger),
			"summary":         summary,
			"active_tasks":    snapshotSubtasks(subtasks),
			"modified_files":  modifiedFiles,
			"decisions":       snapshotMessages(decisions),
			"recent_messages": snapshotMessages(recent),
			"agent_states":    snapshotAgentStates(agentStates),
		},
		Progress: summary,
	}
	if err := c.repo.UpsertAgentContext(ctx, snapshot); err != nil {
		return nil, err
	}

	if request != nil {
		metadata := request.Metadata
		if metadata == nil {
			metadata = models.JSONMap{}
		}
		metadata["last_snapshot_at"] = snapshot.UpdatedAt.Format(time.RFC3339)
		if err := c.repo.UpdateRequestMetadata(ctx, request.ID, metadata); err != nil {
			c.logger.Warn("failed to stamp request snapshot time",
				zap.String("request_id", request.ID), zap.Error(err))
		}
	}

	c.emit(ctx, realtime.SessionChannel(sessionID), events.CompactSaved, map[string]interface{}{
		"session_id":  sessionID,
		"snapshot_id": snapshot.ID,
		"trigger":     string(trigger),
	})

	return &SaveResult{
		SnapshotID:    snapshot.ID,
		SessionID:     sessionID,
		Trigger:       string(trigger),
		ActiveTasks:   len(subtasks),
		ModifiedFiles: len(modifiedFiles),
		Decisions:     len(decisions),
		AgentStates:   len(agentStates),
		SavedAt:       snapshot.UpdatedAt,
	}, nil
}

// Restore reads the latest snapshot and regenerates a fresh brief
// from live state with the snapshot as supplementary context.
func (c *Compacter) Restore(ctx context.Context, sessionID, agentID, agentType string, maxTokens int) (*RestoreResult, error) {
	if sessionID == "" {
		return nil, errors.New("session_id is required")
	}

	result := &RestoreResult{}
	extra := ""
	snapshot, err := c.repo.GetLatestSnapshot(ctx, sessionID)
	if err == nil {
		result.SnapshotID = snapshot.ID
		at := snapshot.UpdatedAt
		result.SnapshotAt = &at
		if summary, ok := snapshot.RoleContext["summary"].(string); ok {
			extra = summary
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	brief, err := c.generator.generateWithExtra(ctx, Options{
		AgentID:       agentID,
		SessionID:     sessionID,
		AgentType:     agentType,
		MaxTokens:     maxTokens,
		RecentActions: restoreRecentActions,
	}, extra)
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		brief.Sources = append(brief.Sources, Source{Type: "snapshot", ID: snapshot.ID, Relevance: relevanceSession})
	}
	result.Brief = brief
	return result, nil
}

// Status reports whether a snapshot exists for the session.
func (c *Compacter) Status(ctx context.Context, sessionID string) (map[string]interface{}, error) {
	snapshot, err := c.repo.GetLatestSnapshot(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return map[string]interface{}{"session_id": sessionID, "has_snapshot": false}, nil
	}
	if err != nil {
		return nil, err
	}
	status := map[string]interface{}{
		"session_id":   sessionID,
		"has_snapshot": true,
		"snapshot_id":  snapshot.ID,
		"saved_at":     snapshot.UpdatedAt.Format(time.RFC3339),
	}
	if trigger, ok := snapshot.RoleContext["trigger"].(string); ok {
		status["trigger"] = trigger
	}
	return status, nil
}

// Snapshot returns the raw latest snapshot row for the session.
func (c *Compacter) Snapshot(ctx context.Context, sessionID string) (*models.AgentContext, error) {
	return c.repo.GetLatestSnapshot(ctx, sessionID)
}

func (c *Compacter) emit(ctx context.Context, channel, event string, data map[string]interface{}) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, events.NewEnvelope(channel, event, data)); err != nil {
		c.logger.Warn("wake-channel emission dropped",
			zap.String("event", event), zap.Error(err))
	}
}

// decisionPriority is the floor above which a message counts as a
// recorded decision.
const decisionPriority = 7

func collectFilePaths(actions []*models.Action) []string {
	seen := map[string]bool{}
	paths := []string{}
	for _, action := range actions {
		for _, path := range action.FilePaths {
			if !seen[path] {
				seen[path] = true
				paths = append(paths, path)
			}
		}
	}
	return paths
}

func snapshotSubtasks(subtasks []*models.Subtask) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(subtasks))
	for _, subtask := range subtasks {
		out = append(out, map[string]interface{}{
			"id":          subtask.ID,
			"agent_type":  subtask.AgentType,
			"agent_id":    subtask.AgentID,
			"description": subtask.Description,
			"status":      string(subtask.Status),
		})
	}
	return out
}

func snapshotMessages(messages []*models.AgentMessage) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(messages))
	for _, message := range messages {
		entry := map[string]interface{}{
			"id":       message.ID,
			"topic":    message.Topic,
			"priority": message.Priority,
			"payload":  map[string]interface{}(message.Payload),
		}
		if message.FromAgent != nil {
			entry["from_agent"] = *message.FromAgent
		}
		out = append(out, entry)
	}
	return out
}

func snapshotAgentStates(contexts []*models.AgentContext) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(contexts))
	for _, ac := range contexts {
		out = append(out, map[string]interface{}{
			"agent_id":   ac.AgentID,
			"agent_type": ac.AgentType,
			"progress":   ac.Progress,
		})
	}
	return out
}

func sessionSummary(session *models.Session, request *models.Request, subtasks []*models.Subtask, files []string) string {
	summary := fmt.Sprintf("Session %s: %d tool calls (%d ok, %d failed)",
		session.ID, session.ToolsUsed, session.ToolsSucceeded, session.ToolsFailed)
	if request != nil {
		summary += fmt.Sprintf("; latest request (%s): %s", request.PromptType, request.Prompt)
	}
	if len(subtasks) > 0 {
		summary += fmt.Sprintf("; %d tasks in flight", len(subtasks))
	}
	if len(files) > 0 {
		summary += fmt.Sprintf("; %d files touched", len(files))
	}
	return summary
}
