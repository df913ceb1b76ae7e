package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/contextd/contextd/internal/track/models"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

func createTestRepo(t *testing.T) *Repository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	repo, err := NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func createTestProject(t *testing.T, repo *Repository, path string) *models.Project {
	t.Helper()
	project, _, err := repo.UpsertProjectByPath(context.Background(), path, "test", nil)
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	return project
}

func TestUpsertProjectByPath_Idempotent(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()

	first, created, err := repo.UpsertProjectByPath(ctx, "/tmp/p1", "p1", models.JSONMap{"lang": "go"})
	if err != nil {
		t.Fatalf("failed to upsert project: %v", err)
	}
	if !created {
		t.Error("expected first upsert to create")
	}
	if first.ID == "" {
		t.Error("expected project ID to be set")
	}

	second, created, err := repo.UpsertProjectByPath(ctx, "/tmp/p1", "other", nil)
	if err != nil {
		t.Fatalf("failed to re-upsert project: %v", err)
	}
	if created {
		t.Error("expected second upsert to return existing row")
	}
	if second.ID != first.ID {
		t.Errorf("expected same ID %s, got %s", first.ID, second.ID)
	}
}

func TestGetProjectByPath_NotFound(t *testing.T) {
	repo := createTestRepo(t)

	_, err := repo.GetProjectByPath(context.Background(), "/nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteProject_Cascades(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()

	project := createTestProject(t, repo, "/tmp/cascade")
	request := &models.Request{
		ProjectID:  project.ID,
		SessionID:  "s1",
		Prompt:     "Add OAuth",
		PromptType: v1.PromptTypeFeature,
	}
	if err := repo.CreateRequest(ctx, request); err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	if err := repo.DeleteProject(ctx, project.ID); err != nil {
		t.Fatalf("failed to delete project: %v", err)
	}
	if _, err := repo.GetRequest(ctx, request.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected request to cascade-delete, got %v", err)
	}
}

func TestCreateSession_DuplicateConflict(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()

	session := &models.Session{ID: "s1"}
	if err := repo.CreateSession(ctx, session); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if err := repo.CreateSession(ctx, &models.Session{ID: "s1"}); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict on duplicate session, got %v", err)
	}
}

func TestEndSession_Idempotent(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateSession(ctx, &models.Session{ID: "s1"}); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	first := time.Now().UTC().Truncate(time.Second)
	if err := repo.EndSession(ctx, "s1", first); err != nil {
		t.Fatalf("failed to end session: %v", err)
	}
	if err := repo.EndSession(ctx, "s1", first.Add(time.Hour)); err != nil {
		t.Fatalf("failed second end: %v", err)
	}

	session, err := repo.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if session.EndedAt == nil {
		t.Fatal("expected ended_at to be set")
	}
	if !session.EndedAt.Equal(first) {
		t.Errorf("expected original end stamp %v, got %v", first, session.EndedAt)
	}
}

func TestAddSessionToolUse(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateSession(ctx, &models.Session{ID: "s1"}); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if err := repo.AddSessionToolUse(ctx, "s1", true); err != nil {
		t.Fatalf("failed to count tool use: %v", err)
	}
	if err := repo.AddSessionToolUse(ctx, "s1", false); err != nil {
		t.Fatalf("failed to count tool use: %v", err)
	}

	session, _ := repo.GetSession(ctx, "s1")
	if session.ToolsUsed != 2 || session.ToolsSucceeded != 1 || session.ToolsFailed != 1 {
		t.Errorf("unexpected counters: used=%d succeeded=%d failed=%d",
			session.ToolsUsed, session.ToolsSucceeded, session.ToolsFailed)
	}
}

func TestCompleteRequest_IdempotentStamp(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()

	project := createTestProject(t, repo, "/tmp/req")
	request := &models.Request{
		ProjectID:  project.ID,
		SessionID:  "s1",
		Prompt:     "fix the bug",
		PromptType: v1.PromptTypeDebug,
	}
	if err := repo.CreateRequest(ctx, request); err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	first := time.Now().UTC().Truncate(time.Second)
	completed, err := repo.CompleteRequest(ctx, request.ID, first)
	if err != nil {
		t.Fatalf("failed to complete request: %v", err)
	}
	if completed.Status != v1.RequestStatusCompleted {
		t.Errorf("expected completed status, got %s", completed.Status)
	}

	again, err := repo.CompleteRequest(ctx, request.ID, first.Add(time.Hour))
	if err != nil {
		t.Fatalf("failed second complete: %v", err)
	}
	if again.CompletedAt == nil || !again.CompletedAt.Equal(first) {
		t.Errorf("expected original completion stamp %v, got %v", first, again.CompletedAt)
	}
}
