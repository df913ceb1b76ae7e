package service

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/contextd/contextd/internal/common/logger"
	"github.com/contextd/contextd/internal/events"
	"github.com/contextd/contextd/internal/track/models"
	"github.com/contextd/contextd/internal/track/repository"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

// captureNotifier records emitted envelopes for assertions.
type captureNotifier struct {
	mu        sync.Mutex
	envelopes []*events.Envelope
}

func (n *captureNotifier) Notify(_ context.Context, env *events.Envelope) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.envelopes = append(n.envelopes, env)
	return nil
}

func (n *captureNotifier) byEvent(event string) []*events.Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*events.Envelope
	for _, env := range n.envelopes {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func createTestService(t *testing.T) (*Service, *captureNotifier) {
	t.Helper()
	repo, err := repository.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	notifier := &captureNotifier{}
	return NewService(repo, notifier, logger.Default()), notifier
}

func seedProject(t *testing.T, svc *Service) *models.Project {
	t.Helper()
	project, _, err := svc.UpsertProject(context.Background(), "/tmp/p1", "p1", nil)
	if err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
	return project
}

func TestCreateRequest_InvalidPromptType(t *testing.T) {
	svc, _ := createTestService(t)
	project := seedProject(t, svc)

	_, err := svc.CreateRequest(context.Background(), project.ID, "s1", "do it", "refactor", nil)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := vErr.Fields["prompt_type"]; !ok {
		t.Errorf("expected prompt_type detail, got %v", vErr.Fields)
	}
}

func TestCreateRequest_MissingProject(t *testing.T) {
	svc, _ := createTestService(t)

	_, err := svc.CreateRequest(context.Background(), "nonexistent", "s1", "do it", v1.PromptTypeFeature, nil)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSendMessage_PriorityClipAndTTL(t *testing.T) {
	svc, _ := createTestService(t)
	project := seedProject(t, svc)
	ctx := context.Background()

	high := &models.AgentMessage{ProjectID: project.ID, Topic: v1.TopicTaskCompleted, Priority: 99}
	sent, err := svc.SendMessage(ctx, high, 60)
	if err != nil {
		t.Fatalf("failed to send message: %v", err)
	}
	if sent.Priority != 10 {
		t.Errorf("expected priority clipped to 10, got %d", sent.Priority)
	}
	if sent.ExpiresAt == nil {
		t.Fatal("expected expiration from TTL")
	}
	ttl := sent.ExpiresAt.Sub(sent.CreatedAt)
	if ttl < 59*time.Second || ttl > 61*time.Second {
		t.Errorf("expected ~60s TTL, got %v", ttl)
	}

	low := &models.AgentMessage{ProjectID: project.ID, Topic: v1.TopicTaskCompleted, Priority: -3}
	sent, err = svc.SendMessage(ctx, low, 0)
	if err != nil {
		t.Fatalf("failed to send message: %v", err)
	}
	if sent.Priority != 0 {
		t.Errorf("expected priority clipped to 0, got %d", sent.Priority)
	}
	if sent.ExpiresAt != nil {
		t.Error("expected no expiration without TTL")
	}
}

func TestSendMessage_UnknownTopic(t *testing.T) {
	svc, _ := createTestService(t)
	project := seedProject(t, svc)

	_, err := svc.SendMessage(context.Background(),
		&models.AgentMessage{ProjectID: project.ID, Topic: "gossip"}, 0)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestSendMessage_RoutesByRecipient(t *testing.T) {
	svc, notifier := createTestService(t)
	project := seedProject(t, svc)
	ctx := context.Background()

	backend := "backend"
	direct := &models.AgentMessage{
		ProjectID: project.ID, ToAgent: &backend, Topic: v1.TopicReviewRequested,
	}
	if _, err := svc.SendMessage(ctx, direct, 0); err != nil {
		t.Fatalf("failed to send direct message: %v", err)
	}
	broadcast := &models.AgentMessage{ProjectID: project.ID, Topic: v1.TopicAPIEndpointCreated}
	if _, err := svc.SendMessage(ctx, broadcast, 0); err != nil {
		t.Fatalf("failed to send broadcast: %v", err)
	}

	sent := notifier.byEvent(events.MessageSent)
	if len(sent) != 2 {
		t.Fatalf("expected 2 message.sent envelopes, got %d", len(sent))
	}
	if sent[0].Channel != "agents/backend" {
		t.Errorf("expected direct message on agents/backend, got %s", sent[0].Channel)
	}
	if sent[1].Channel != "topics/api_endpoint_created" {
		t.Errorf("expected broadcast on topic channel, got %s", sent[1].Channel)
	}
}

func TestBlock_SelfBlockRejected(t *testing.T) {
	svc, _ := createTestService(t)

	_, err := svc.Block(context.Background(), "Z", "Z", "loop")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestUnblock_MissingPairIsSuccess(t *testing.T) {
	svc, notifier := createTestService(t)

	if err := svc.Unblock(context.Background(), "X", "Y"); err != nil {
		t.Fatalf("expected no-op unblock to succeed, got %v", err)
	}
	if len(notifier.byEvent(events.AgentUnblocked)) != 0 {
		t.Error("expected no event for a no-op unblock")
	}
}

func TestRecordAction_CompressesBlobs(t *testing.T) {
	svc, _ := createTestService(t)
	ctx := context.Background()

	input := bytes.Repeat([]byte("{\"file\":\"main.go\"}"), 50)
	action := &models.Action{ToolName: "Edit", ToolType: v1.ToolTypeBuiltin, ExitCode: 0, DurationMs: 150}
	recorded, err := svc.RecordAction(ctx, action, input, []byte("ok"))
	if err != nil {
		t.Fatalf("failed to record action: %v", err)
	}
	if len(recorded.Input) == 0 || len(recorded.Input) >= len(input) {
		t.Errorf("expected compressed input smaller than %d bytes, got %d", len(input), len(recorded.Input))
	}

	stored, err := svc.GetAction(ctx, recorded.ID)
	if err != nil {
		t.Fatalf("failed to get action: %v", err)
	}
	gotIn, gotOut, err := svc.ActionBlobs(stored)
	if err != nil {
		t.Fatalf("failed to decompress blobs: %v", err)
	}
	if !bytes.Equal(gotIn, input) {
		t.Error("input blob did not round-trip")
	}
	if string(gotOut) != "ok" {
		t.Errorf("output blob did not round-trip: %q", gotOut)
	}
}

func TestSubtaskEvents_TrackedFamilies(t *testing.T) {
	svc, notifier := createTestService(t)
	project := seedProject(t, svc)
	ctx := context.Background()

	request, err := svc.CreateRequest(ctx, project.ID, "s1", "Add OAuth", v1.PromptTypeFeature, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	taskList, err := svc.CreateTaskList(ctx, request.ID, "wave", nil)
	if err != nil {
		t.Fatalf("failed to create task list: %v", err)
	}
	subtask, err := svc.CreateSubtask(ctx, &models.Subtask{TaskListID: taskList.ID, AgentID: "backend"})
	if err != nil {
		t.Fatalf("failed to create subtask: %v", err)
	}
	if _, err := svc.UpdateSubtaskStatus(ctx, subtask.ID, v1.SubtaskStatusCompleted, nil); err != nil {
		t.Fatalf("failed to complete subtask: %v", err)
	}

	for _, event := range []string{events.TaskCreated, events.SubtaskCreated, events.SubtaskCompleted} {
		envs := notifier.byEvent(event)
		if len(envs) == 0 {
			t.Errorf("expected %s envelope", event)
			continue
		}
		if !events.IsTracked(event) {
			t.Errorf("expected %s to be a tracked family", event)
		}
	}
}

func TestGetHierarchy_NestedTree(t *testing.T) {
	svc, _ := createTestService(t)
	project := seedProject(t, svc)
	ctx := context.Background()

	if _, err := svc.StartSession(ctx, "s1", project.ID); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	request, err := svc.CreateRequest(ctx, project.ID, "s1", "Add OAuth", v1.PromptTypeFeature, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	taskList, err := svc.CreateTaskList(ctx, request.ID, "wave", nil)
	if err != nil {
		t.Fatalf("failed to create task list: %v", err)
	}
	if _, err := svc.CreateSubtask(ctx, &models.Subtask{TaskListID: taskList.ID}); err != nil {
		t.Fatalf("failed to create subtask: %v", err)
	}

	tree, err := svc.GetHierarchy(ctx, project.ID)
	if err != nil {
		t.Fatalf("failed to get hierarchy: %v", err)
	}
	if len(tree.Requests) != 1 || len(tree.Requests[0].TaskLists) != 1 {
		t.Fatalf("unexpected tree shape: %+v", tree)
	}
	if len(tree.Requests[0].TaskLists[0].Subtasks) != 1 {
		t.Error("expected one subtask in the tree")
	}
	if len(tree.Sessions) != 1 || tree.Sessions[0].ID != "s1" {
		t.Errorf("expected session s1 in the tree, got %+v", tree.Sessions)
	}
}
