package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
)

func TestTaskRepository_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(NewStore())
	task := entity.NewGenerationTask("p1", nil)
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	a, _ := repo.GetByID(ctx, task.ID)
	b, _ := repo.GetByID(ctx, task.ID)

	if err := a.Apply(entity.Transition{Kind: entity.TransitionStart}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := repo.CompareAndSwap(ctx, a, 1); err != nil {
		t.Fatalf("first cas: %v", err)
	}
	if a.Version != 2 {
		t.Fatalf("version = %d, want 2", a.Version)
	}

	if err := b.Apply(entity.Transition{Kind: entity.TransitionCancel}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := repo.CompareAndSwap(ctx, b, 1); !errors.Is(err, repository.ErrVersionConflict) {
		t.Fatalf("stale cas err = %v, want version conflict", err)
	}

	got, _ := repo.GetByID(ctx, task.ID)
	if got.State != entity.TaskStateRunning {
		t.Fatalf("state = %s, want running", got.State)
	}
}

func TestTaskRepository_ClaimFencesStaleHolder(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(NewStore())
	now := time.Now()
	repo.SetClock(func() time.Time { return now })

	task := entity.NewGenerationTask("p1", nil)
	_ = repo.Create(ctx, task)

	first, err := repo.Claim(ctx, task.ID, "w1", time.Minute)
	if err != nil {
		t.Fatalf("claim w1: %v", err)
	}
	if _, err := repo.Claim(ctx, task.ID, "w2", time.Minute); !errors.Is(err, repository.ErrLeaseHeld) {
		t.Fatalf("claim w2 err = %v, want lease held", err)
	}

	// w1 停止心跳，租约过期后 w2 接管
	now = now.Add(2 * time.Minute)
	second, err := repo.Claim(ctx, task.ID, "w2", time.Minute)
	if err != nil {
		t.Fatalf("claim w2 after expiry: %v", err)
	}
	if second.Version <= first.Version {
		t.Fatalf("claim must bump version: %d <= %d", second.Version, first.Version)
	}

	if err := first.Apply(entity.Transition{Kind: entity.TransitionStart}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := repo.CompareAndSwap(ctx, first, first.Version); !errors.Is(err, repository.ErrVersionConflict) {
		t.Fatalf("stale holder cas err = %v, want version conflict", err)
	}
	if err := repo.Heartbeat(ctx, task.ID, "w1", time.Minute); !errors.Is(err, repository.ErrLeaseLost) {
		t.Fatalf("stale heartbeat err = %v, want lease lost", err)
	}
	if err := repo.Heartbeat(ctx, task.ID, "w2", time.Minute); err != nil {
		t.Fatalf("owner heartbeat: %v", err)
	}
}

func TestTaskRepository_ListStale(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(NewStore())
	now := time.Now()
	repo.SetClock(func() time.Time { return now })

	task := entity.NewGenerationTask("p1", nil)
	_ = repo.Create(ctx, task)
	claimed, _ := repo.Claim(ctx, task.ID, "w1", time.Minute)
	_ = claimed.Apply(entity.Transition{Kind: entity.TransitionStart})
	if err := repo.CompareAndSwap(ctx, claimed, claimed.Version); err != nil {
		t.Fatalf("cas: %v", err)
	}

	stale, _ := repo.ListStale(ctx, entity.TaskStateRunning, now.Add(-time.Minute), 10)
	if len(stale) != 0 {
		t.Fatalf("fresh heartbeat reported stale")
	}
	stale, _ = repo.ListStale(ctx, entity.TaskStateRunning, now.Add(time.Minute), 10)
	if len(stale) != 1 {
		t.Fatalf("stale = %d, want 1", len(stale))
	}
	ok, err := repo.ExpireStaleLease(ctx, task.ID, now.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("expire = %v, %v", ok, err)
	}
	got, _ := repo.GetByID(ctx, task.ID)
	if got.LeaseOwner != "" {
		t.Fatalf("lease not cleared: %q", got.LeaseOwner)
	}
}
