package service

import (
	"context"

	"github.com/contextd/contextd/internal/events"
	"github.com/contextd/contextd/internal/track/models"
	"github.com/contextd/contextd/pkg/realtime"
)

// UpsertAgentContext writes per-agent persistent state for restore.
func (s *Service) UpsertAgentContext(ctx context.Context, ac *models.AgentContext) (*models.AgentContext, error) {
	fields := map[string]string{}
	if ac.ProjectID == "" {
		fields["project_id"] = "is required"
	}
	if ac.AgentID == "" {
		fields["agent_id"] = "is required"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	if err := s.repo.UpsertAgentContext(ctx, ac); err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.AgentChannel(ac.AgentID), events.ContextUpdated, map[string]interface{}{
		"context_id": ac.ID,
		"project_id": ac.ProjectID,
		"agent_id":   ac.AgentID,
		"agent_type": ac.AgentType,
	})
	return ac, nil
}

// GetAgentContext returns the agent's most recent context row. With a
// project id, the unique (project, agent) row is returned instead.
func (s *Service) GetAgentContext(ctx context.Context, projectID, agentID string) (*models.AgentContext, error) {
	if agentID == "" {
		return nil, invalid("agent_id", "is required")
	}
	if projectID != "" {
		return s.repo.GetAgentContext(ctx, projectID, agentID)
	}
	return s.repo.GetLatestAgentContext(ctx, agentID)
}
