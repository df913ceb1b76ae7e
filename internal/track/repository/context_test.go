package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/contextd/contextd/internal/track/models"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

func TestUpsertAgentContext_UniquePerProjectAgent(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()

	project := createTestProject(t, repo, "/tmp/ctx")

	first := &models.AgentContext{
		ProjectID: project.ID,
		AgentID:   "backend",
		AgentType: "developer",
		Progress:  "halfway",
	}
	if err := repo.UpsertAgentContext(ctx, first); err != nil {
		t.Fatalf("failed to upsert context: %v", err)
	}

	second := &models.AgentContext{
		ProjectID: project.ID,
		AgentID:   "backend",
		AgentType: "developer",
		Progress:  "done",
	}
	if err := repo.UpsertAgentContext(ctx, second); err != nil {
		t.Fatalf("failed to re-upsert context: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected row to be reused, got %s vs %s", first.ID, second.ID)
	}

	stored, err := repo.GetAgentContext(ctx, project.ID, "backend")
	if err != nil {
		t.Fatalf("failed to get context: %v", err)
	}
	if stored.Progress != "done" {
		t.Errorf("expected updated progress, got %q", stored.Progress)
	}
}

func TestUpsertAgentContext_MissingProject(t *testing.T) {
	repo := createTestRepo(t)

	err := repo.UpsertAgentContext(context.Background(), &models.AgentContext{
		ProjectID: "nonexistent",
		AgentID:   "backend",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetLatestSnapshot(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()

	project := createTestProject(t, repo, "/tmp/snap")

	if _, err := repo.GetLatestSnapshot(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound before save, got %v", err)
	}

	snapshot := &models.AgentContext{
		ProjectID:   project.ID,
		AgentID:     "s1",
		AgentType:   v1.AgentTypeSnapshot,
		RoleContext: models.JSONMap{"summary": "session so far"},
	}
	if err := repo.UpsertAgentContext(ctx, snapshot); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}

	loaded, err := repo.GetLatestSnapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if !loaded.IsSnapshot() {
		t.Error("expected snapshot marker")
	}
	if loaded.RoleContext["summary"] != "session so far" {
		t.Errorf("unexpected snapshot payload: %v", loaded.RoleContext)
	}

	// A live agent context is not returned as a snapshot.
	live := &models.AgentContext{ProjectID: project.ID, AgentID: "s2", AgentType: "developer"}
	if err := repo.UpsertAgentContext(ctx, live); err != nil {
		t.Fatalf("failed to save live context: %v", err)
	}
	if _, err := repo.GetLatestSnapshot(ctx, "s2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for live context, got %v", err)
	}
}
