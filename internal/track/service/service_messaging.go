package service

import (
	"context"
	"time"

	"github.com/contextd/contextd/internal/events"
	"github.com/contextd/contextd/internal/track/models"
	"github.com/contextd/contextd/internal/track/repository"
	v1 "github.com/contextd/contextd/pkg/api/v1"
	"github.com/contextd/contextd/pkg/realtime"
)

// SendMessage publishes a durable agent message. A missing recipient
// makes it a broadcast on the topic. Priority is clipped to [0, 10];
// ttlSeconds, when positive, sets the expiration.
func (s *Service) SendMessage(ctx context.Context, message *models.AgentMessage, ttlSeconds int) (*models.AgentMessage, error) {
	fields := map[string]string{}
	if message.ProjectID == "" {
		fields["project_id"] = "is required"
	}
	if !v1.ValidTopic(message.Topic) {
		fields["topic"] = "is not an allowed topic"
	}
	if message.MessageType != "" && !v1.ValidMessageType(message.MessageType) {
		fields["message_type"] = "must be one of info, request, response, notification"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	if message.Priority < 0 {
		message.Priority = 0
	}
	if message.Priority > 10 {
		message.Priority = 10
	}
	if ttlSeconds > 0 {
		expires := time.Now().UTC().Add(time.Duration(ttlSeconds) * time.Second)
		message.ExpiresAt = &expires
	}

	if err := s.repo.CreateMessage(ctx, message); err != nil {
		return nil, err
	}

	data := map[string]interface{}{
		"message_id":   message.ID,
		"project_id":   message.ProjectID,
		"topic":        message.Topic,
		"message_type": string(message.MessageType),
		"priority":     message.Priority,
		"payload":      map[string]interface{}(message.Payload),
	}
	if message.FromAgent != nil {
		data["from_agent"] = *message.FromAgent
	}
	if message.ToAgent != nil {
		data["to_agent"] = *message.ToAgent
		s.emit(ctx, realtime.AgentChannel(*message.ToAgent), events.MessageSent, data)
	} else {
		s.emit(ctx, realtime.TopicChannel(message.Topic), events.MessageSent, data)
	}
	return message, nil
}

// ListMessagesForAgent returns messages visible to the agent.
func (s *Service) ListMessagesForAgent(ctx context.Context, agentID string, unreadOnly bool, limit int) ([]*models.AgentMessage, error) {
	if agentID == "" {
		return nil, invalid("agent_id", "is required")
	}
	return s.repo.ListMessagesForAgent(ctx, agentID, unreadOnly, limit)
}

// MarkMessageRead records that the agent has read the message.
func (s *Service) MarkMessageRead(ctx context.Context, messageID, agentID string) (*models.AgentMessage, error) {
	if agentID == "" {
		return nil, invalid("agent_id", "is required")
	}
	message, err := s.repo.MarkMessageRead(ctx, messageID, agentID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.AgentChannel(agentID), events.MessageRead, map[string]interface{}{
		"message_id": message.ID,
		"agent_id":   agentID,
	})
	return message, nil
}

// Subscribe joins the agent to a topic. Idempotent on the pair.
func (s *Service) Subscribe(ctx context.Context, agentID, topic string) (*models.TopicSubscription, error) {
	fields := map[string]string{}
	if agentID == "" {
		fields["agent_id"] = "is required"
	}
	if !v1.ValidTopic(topic) {
		fields["topic"] = "is not an allowed topic"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	sub, err := s.repo.Subscribe(ctx, agentID, topic)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.AgentChannel(agentID), events.TopicSubscribed, map[string]interface{}{
		"agent_id": agentID,
		"topic":    topic,
	})
	return sub, nil
}

// Unsubscribe removes the agent from a topic. Missing pairs are a
// no-op.
func (s *Service) Unsubscribe(ctx context.Context, agentID, topic string) error {
	if agentID == "" {
		return invalid("agent_id", "is required")
	}
	if err := s.repo.Unsubscribe(ctx, agentID, topic); err != nil {
		return err
	}
	s.emit(ctx, realtime.AgentChannel(agentID), events.TopicUnsubscribed, map[string]interface{}{
		"agent_id": agentID,
		"topic":    topic,
	})
	return nil
}

// ListSubscriptions returns subscriptions, optionally for one agent.
func (s *Service) ListSubscriptions(ctx context.Context, agentID string) ([]*models.TopicSubscription, error) {
	return s.repo.ListSubscriptions(ctx, agentID)
}

// DeleteSubscription removes a subscription by row id.
func (s *Service) DeleteSubscription(ctx context.Context, id string) error {
	return s.repo.DeleteSubscription(ctx, id)
}

// Block records that blocker is blocking blocked. Self-blocks are
// rejected.
func (s *Service) Block(ctx context.Context, blockerID, blockedID, reason string) (*models.Blocking, error) {
	fields := map[string]string{}
	if blockerID == "" {
		fields["blocker_id"] = "is required"
	}
	if blockedID == "" {
		fields["blocked_id"] = "is required"
	}
	if blockerID != "" && blockerID == blockedID {
		fields["blocked_id"] = "an agent cannot block itself"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	blocking, err := s.repo.CreateBlocking(ctx, blockerID, blockedID, reason)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.AgentChannel(blockedID), events.AgentBlocked, map[string]interface{}{
		"blocking_id": blocking.ID,
		"blocker_id":  blockerID,
		"blocked_id":  blockedID,
		"reason":      reason,
	})
	return blocking, nil
}

// Unblock removes the active pair. Missing pairs are a business-level
// success.
func (s *Service) Unblock(ctx context.Context, blockerID, blockedID string) error {
	if blockerID == "" || blockedID == "" {
		return invalid("blocker_id", "both blocker_id and blocked_id are required")
	}
	deleted, err := s.repo.DeleteBlockingPair(ctx, blockerID, blockedID)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.emit(ctx, realtime.AgentChannel(blockedID), events.AgentUnblocked, map[string]interface{}{
			"blocker_id": blockerID,
			"blocked_id": blockedID,
		})
	}
	return nil
}

// UnblockByID removes a blocking row by id.
func (s *Service) UnblockByID(ctx context.Context, id string) error {
	return s.repo.DeleteBlockingByID(ctx, id)
}

// ListBlockingsForAgent returns active rows naming the agent.
func (s *Service) ListBlockingsForAgent(ctx context.Context, agentID string) ([]*models.Blocking, error) {
	if agentID == "" {
		return nil, invalid("agent_id", "is required")
	}
	return s.repo.ListBlockingsForAgent(ctx, agentID)
}

// CheckBlocked reports whether the pair (or anyone, when blockerID is
// empty) blocks blockedID.
func (s *Service) CheckBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	if blockedID == "" {
		return false, invalid("blocked", "is required")
	}
	return s.repo.CheckBlocked(ctx, blockerID, blockedID)
}

// SuggestTools ranks routing candidates for the keywords.
func (s *Service) SuggestTools(ctx context.Context, keywords []string, toolType v1.ToolType, limit int) ([]*repository.ToolSuggestion, error) {
	if toolType != "" && !v1.ValidToolType(toolType) {
		return nil, invalid("tool_type", "is not an allowed tool type")
	}
	return s.repo.SuggestTools(ctx, keywords, toolType, limit)
}

// ApplyRoutingFeedback adjusts a (keyword, tool) score by a bounded
// delta.
func (s *Service) ApplyRoutingFeedback(ctx context.Context, keyword, toolName string, toolType v1.ToolType, delta float64, success bool) (*models.RoutingScore, error) {
	fields := map[string]string{}
	if keyword == "" {
		fields["keyword"] = "is required"
	}
	if toolName == "" {
		fields["tool_name"] = "is required"
	}
	if !v1.ValidToolType(toolType) {
		fields["tool_type"] = "is not an allowed tool type"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	return s.repo.ApplyRoutingFeedback(ctx, keyword, toolName, toolType, delta, success)
}

// GetRoutingStats returns the top keywords and tools.
func (s *Service) GetRoutingStats(ctx context.Context, limit int) (*repository.RoutingStats, error) {
	return s.repo.GetRoutingStats(ctx, limit)
}
