package workers

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/contextd/contextd/internal/common/config"
	"github.com/contextd/contextd/internal/common/logger"
	"github.com/contextd/contextd/internal/events"
	"github.com/contextd/contextd/internal/track/models"
	"github.com/contextd/contextd/internal/track/repository"
	"github.com/contextd/contextd/internal/track/service"
	v1 "github.com/contextd/contextd/pkg/api/v1"
	"github.com/contextd/contextd/pkg/realtime"
)

type captureNotifier struct {
	mu        sync.Mutex
	envelopes []*events.Envelope
}

func (n *captureNotifier) Notify(_ context.Context, env *events.Envelope) error {
	n.mu.Lock()
	n.envelopes = append(n.envelopes, env)
	n.mu.Unlock()
	return nil
}

func createTestService(t *testing.T) (*service.Service, *repository.Repository, *captureNotifier) {
	t.Helper()
	repo, err := repository.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	notifier := &captureNotifier{}
	return service.NewService(repo, notifier, logger.Default()), repo, notifier
}

func TestCleanup_DeletesExpiredMessages(t *testing.T) {
	svc, repo, _ := createTestService(t)
	ctx := context.Background()

	project, _, err := repo.UpsertProjectByPath(ctx, "/tmp/w1", "w1", nil)
	if err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	expired := &models.AgentMessage{
		ProjectID: project.ID,
		Topic:     v1.TopicTaskCompleted,
		ExpiresAt: &past,
	}
	if err := repo.CreateMessage(ctx, expired); err != nil {
		t.Fatalf("failed to seed message: %v", err)
	}
	keep := &models.AgentMessage{ProjectID: project.ID, Topic: v1.TopicTaskCompleted}
	if err := repo.CreateMessage(ctx, keep); err != nil {
		t.Fatalf("failed to seed message: %v", err)
	}

	cleanup := NewCleanup(svc, config.CleanupConfig{}, logger.Default())
	cleanup.sweep(ctx)

	if _, err := repo.GetMessage(ctx, expired.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected the expired message deleted, got %v", err)
	}
	if _, err := repo.GetMessage(ctx, keep.ID); err != nil {
		t.Errorf("expected the unexpired message kept, got %v", err)
	}
}

func TestCleanup_SessionInactiveAndStale(t *testing.T) {
	svc, repo, _ := createTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sessions := map[string]time.Time{
		"recent": now.Add(-2 * time.Minute),
		"idle":   now.Add(-15 * time.Minute),
		"dead":   now.Add(-45 * time.Minute),
	}
	for id, startedAt := range sessions {
		if err := repo.CreateSession(ctx, &models.Session{ID: id, StartedAt: startedAt}); err != nil {
			t.Fatalf("failed to seed session %s: %v", id, err)
		}
	}

	cleanup := NewCleanup(svc, config.CleanupConfig{}, logger.Default())
	cleanup.sweepSessions(ctx, now)

	if cleanup.IsInactive("recent") {
		t.Error("expected the recent session active")
	}
	if !cleanup.IsInactive("idle") {
		t.Error("expected the idle session flagged inactive")
	}

	idle, err := repo.GetSession(ctx, "idle")
	if err != nil {
		t.Fatalf("failed to reload idle session: %v", err)
	}
	if idle.EndedAt != nil {
		t.Error("expected the idle session left open")
	}
	dead, err := repo.GetSession(ctx, "dead")
	if err != nil {
		t.Fatalf("failed to reload dead session: %v", err)
	}
	if dead.EndedAt == nil {
		t.Error("expected the stale session ended")
	}
}

func TestMetrics_SnapshotAndPublish(t *testing.T) {
	svc, repo, _ := createTestService(t)
	ctx := context.Background()

	project, _, err := repo.UpsertProjectByPath(ctx, "/tmp/w2", "w2", nil)
	if err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
	if err := repo.CreateSession(ctx, &models.Session{ID: "s1", ProjectID: &project.ID}); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	request := &models.Request{
		ProjectID: project.ID, SessionID: "s1",
		Prompt: "Add OAuth", PromptType: v1.PromptTypeFeature,
	}
	if err := repo.CreateRequest(ctx, request); err != nil {
		t.Fatalf("failed to seed request: %v", err)
	}
	taskList := &models.TaskList{RequestID: request.ID, Name: "wave"}
	if err := repo.CreateTaskList(ctx, taskList, nil); err != nil {
		t.Fatalf("failed to seed task list: %v", err)
	}
	pending := &models.Subtask{TaskListID: taskList.ID, AgentID: "a"}
	running := &models.Subtask{TaskListID: taskList.ID, AgentID: "b"}
	for _, subtask := range []*models.Subtask{pending, running} {
		if err := repo.CreateSubtask(ctx, subtask); err != nil {
			t.Fatalf("failed to seed subtask: %v", err)
		}
	}
	if _, err := repo.UpdateSubtaskStatus(ctx, running.ID, v1.SubtaskStatusRunning, nil); err != nil {
		t.Fatalf("failed to start subtask: %v", err)
	}

	metricsNotifier := &captureNotifier{}
	worker := NewMetrics(svc.Repository(), metricsNotifier, 0, logger.Default())

	snapshot, err := worker.snapshot(ctx)
	if err != nil {
		t.Fatalf("failed to aggregate snapshot: %v", err)
	}
	if snapshot.ActiveSessions != 1 {
		t.Errorf("expected 1 active session, got %d", snapshot.ActiveSessions)
	}
	if snapshot.PendingTasks != 1 || snapshot.RunningTasks != 1 {
		t.Errorf("expected 1 pending and 1 running task, got %d/%d",
			snapshot.PendingTasks, snapshot.RunningTasks)
	}
	if snapshot.ActiveAgents != 2 {
		t.Errorf("expected 2 active agents, got %d", snapshot.ActiveAgents)
	}

	worker.publish(ctx)
	metricsNotifier.mu.Lock()
	defer metricsNotifier.mu.Unlock()
	if len(metricsNotifier.envelopes) != 1 {
		t.Fatalf("expected one metric envelope, got %d", len(metricsNotifier.envelopes))
	}
	env := metricsNotifier.envelopes[0]
	if env.Channel != realtime.ChannelMetrics || env.Event != events.MetricUpdate {
		t.Errorf("expected metric.update on metrics, got %s on %s", env.Event, env.Channel)
	}
	if env.Data["active_sessions"] != 1 {
		t.Errorf("expected active_sessions 1, got %v", env.Data["active_sessions"])
	}
}
