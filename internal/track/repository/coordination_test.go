package repository

import (
	"context"
	"errors"
	"testing"

	v1 "github.com/contextd/contextd/pkg/api/v1"
)

func TestSubscribe_Idempotent(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()

	first, err := repo.Subscribe(ctx, "backend", v1.TopicSchemaChanged)
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	second, err := repo.Subscribe(ctx, "backend", v1.TopicSchemaChanged)
	if err != nil {
		t.Fatalf("failed to re-subscribe: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same subscription ID %s, got %s", first.ID, second.ID)
	}

	subs, err := repo.ListSubscriptions(ctx, "backend")
	if err != nil {
		t.Fatalf("failed to list subscriptions: %v", err)
	}
	if len(subs) != 1 {
		t.Errorf("expected 1 subscription, got %d", len(subs))
	}
}

func TestUnsubscribe_MissingPairNoop(t *testing.T) {
	repo := createTestRepo(t)

	if err := repo.Unsubscribe(context.Background(), "backend", v1.TopicDeployment); err != nil {
		t.Errorf("expected no-op unsubscribe, got %v", err)
	}
}

func TestDeleteSubscription_NotFound(t *testing.T) {
	repo := createTestRepo(t)

	err := repo.DeleteSubscription(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBlocking_PairLifecycle(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()

	blocking, err := repo.CreateBlocking(ctx, "X", "Y", "waiting on schema")
	if err != nil {
		t.Fatalf("failed to create blocking: %v", err)
	}

	// Re-creating the pair returns the existing row.
	again, err := repo.CreateBlocking(ctx, "X", "Y", "other reason")
	if err != nil {
		t.Fatalf("failed to re-create blocking: %v", err)
	}
	if again.ID != blocking.ID {
		t.Errorf("expected same blocking ID %s, got %s", blocking.ID, again.ID)
	}

	blocked, err := repo.CheckBlocked(ctx, "X", "Y")
	if err != nil {
		t.Fatalf("failed to check blocked: %v", err)
	}
	if !blocked {
		t.Error("expected Y to be blocked by X")
	}

	// Blocked lookup without a blocker matches any active row.
	blocked, err = repo.CheckBlocked(ctx, "", "Y")
	if err != nil {
		t.Fatalf("failed to check blocked: %v", err)
	}
	if !blocked {
		t.Error("expected Y to be blocked")
	}

	deleted, err := repo.DeleteBlockingPair(ctx, "X", "Y")
	if err != nil {
		t.Fatalf("failed to unblock: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted row, got %d", deleted)
	}

	blocked, _ = repo.CheckBlocked(ctx, "X", "Y")
	if blocked {
		t.Error("expected Y to be unblocked")
	}

	// Unblocking a missing pair is a no-op.
	deleted, err = repo.DeleteBlockingPair(ctx, "X", "Y")
	if err != nil {
		t.Fatalf("failed second unblock: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected 0 deleted rows, got %d", deleted)
	}
}
