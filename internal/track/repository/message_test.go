package repository

import (
	"context"
	"testing"
	"time"

	"github.com/contextd/contextd/internal/track/models"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

func strPtr(s string) *string { return &s }

func TestListMessagesForAgent_DirectAndBroadcast(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()

	project := createTestProject(t, repo, "/tmp/msgs")

	// Direct message to backend.
	direct := &models.AgentMessage{
		ProjectID: project.ID,
		FromAgent: strPtr("frontend"),
		ToAgent:   strPtr("backend"),
		Topic:     v1.TopicReviewRequested,
	}
	if err := repo.CreateMessage(ctx, direct); err != nil {
		t.Fatalf("failed to create direct message: %v", err)
	}

	// Broadcast on a topic backend is subscribed to.
	if _, err := repo.Subscribe(ctx, "backend", v1.TopicAPIEndpointCreated); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	broadcast := &models.AgentMessage{
		ProjectID: project.ID,
		FromAgent: strPtr("frontend"),
		Topic:     v1.TopicAPIEndpointCreated,
	}
	if err := repo.CreateMessage(ctx, broadcast); err != nil {
		t.Fatalf("failed to create broadcast message: %v", err)
	}

	// Broadcast on a topic backend is not subscribed to.
	other := &models.AgentMessage{
		ProjectID: project.ID,
		Topic:     v1.TopicDeployment,
	}
	if err := repo.CreateMessage(ctx, other); err != nil {
		t.Fatalf("failed to create other message: %v", err)
	}

	messages, err := repo.ListMessagesForAgent(ctx, "backend", false, 0)
	if err != nil {
		t.Fatalf("failed to list messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 visible messages, got %d", len(messages))
	}
}

func TestListMessagesForAgent_UnreadOnly(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()

	project := createTestProject(t, repo, "/tmp/unread")
	message := &models.AgentMessage{
		ProjectID: project.ID,
		ToAgent:   strPtr("backend"),
		Topic:     v1.TopicTaskCompleted,
	}
	if err := repo.CreateMessage(ctx, message); err != nil {
		t.Fatalf("failed to create message: %v", err)
	}

	unread, err := repo.ListMessagesForAgent(ctx, "backend", true, 0)
	if err != nil {
		t.Fatalf("failed to list unread: %v", err)
	}
	if len(unread) != 1 {
		t.Fatalf("expected 1 unread message, got %d", len(unread))
	}

	if _, err := repo.MarkMessageRead(ctx, message.ID, "backend"); err != nil {
		t.Fatalf("failed to mark read: %v", err)
	}
	// Re-marking is a no-op.
	marked, err := repo.MarkMessageRead(ctx, message.ID, "backend")
	if err != nil {
		t.Fatalf("failed to re-mark read: %v", err)
	}
	if len(marked.ReadBy) != 1 {
		t.Errorf("expected read_by of length 1, got %v", marked.ReadBy)
	}

	unread, err = repo.ListMessagesForAgent(ctx, "backend", true, 0)
	if err != nil {
		t.Fatalf("failed to list unread after read: %v", err)
	}
	if len(unread) != 0 {
		t.Errorf("expected 0 unread messages, got %d", len(unread))
	}
}

func TestListMessagesForAgent_PriorityOrder(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()

	project := createTestProject(t, repo, "/tmp/prio")
	for _, priority := range []int{2, 9, 5} {
		message := &models.AgentMessage{
			ProjectID: project.ID,
			ToAgent:   strPtr("backend"),
			Topic:     v1.TopicAgentStatus,
			Priority:  priority,
		}
		if err := repo.CreateMessage(ctx, message); err != nil {
			t.Fatalf("failed to create message: %v", err)
		}
	}

	messages, err := repo.ListMessagesForAgent(ctx, "backend", false, 0)
	if err != nil {
		t.Fatalf("failed to list messages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	if messages[0].Priority != 9 || messages[1].Priority != 5 || messages[2].Priority != 2 {
		t.Errorf("expected priority order 9,5,2, got %d,%d,%d",
			messages[0].Priority, messages[1].Priority, messages[2].Priority)
	}
}

func TestDeleteExpiredMessages(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()

	project := createTestProject(t, repo, "/tmp/expiry")
	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	expired := &models.AgentMessage{ProjectID: project.ID, Topic: v1.TopicTaskFailed, ExpiresAt: &past}
	live := &models.AgentMessage{ProjectID: project.ID, Topic: v1.TopicTaskFailed, ExpiresAt: &future}
	forever := &models.AgentMessage{ProjectID: project.ID, Topic: v1.TopicTaskFailed}
	for _, m := range []*models.AgentMessage{expired, live, forever} {
		if err := repo.CreateMessage(ctx, m); err != nil {
			t.Fatalf("failed to create message: %v", err)
		}
	}

	deleted, err := repo.DeleteExpiredMessages(ctx)
	if err != nil {
		t.Fatalf("failed to delete expired: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted message, got %d", deleted)
	}
	if _, err := repo.GetMessage(ctx, live.ID); err != nil {
		t.Errorf("expected live message to survive: %v", err)
	}
	if _, err := repo.GetMessage(ctx, forever.ID); err != nil {
		t.Errorf("expected message without TTL to survive: %v", err)
	}
}
