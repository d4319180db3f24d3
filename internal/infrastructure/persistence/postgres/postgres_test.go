package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
)

// openTestClient 需要设置 TEST_POSTGRES_DSN 且数据库已安装 pgvector
func openTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	c, err := Open(dsn, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestTaskRepository_CompareAndSwapAndLease(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	repo := NewTaskRepository(c)

	task := entity.NewGenerationTask(uuid.NewString(), []byte(`{"chapter_ids":[]}`))
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	claimed, err := repo.Claim(ctx, task.ID, "w1", time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed.Version != task.Version+1 || claimed.LeaseOwner != "w1" {
		t.Fatalf("claimed = %+v", claimed)
	}
	if _, err := repo.Claim(ctx, task.ID, "w2", time.Minute); !errors.Is(err, repository.ErrLeaseHeld) {
		t.Fatalf("second claim err = %v", err)
	}

	// 认领前读到的版本已失效
	stale := task.Clone()
	if err := stale.Apply(entity.Transition{Kind: entity.TransitionStart}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := repo.CompareAndSwap(ctx, stale, task.Version); !errors.Is(err, repository.ErrVersionConflict) {
		t.Fatalf("stale CAS err = %v", err)
	}

	next := claimed.Clone()
	if err := next.Apply(entity.Transition{Kind: entity.TransitionStart}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	next.Cost = entity.Cost{PromptTokens: 10, LLMCalls: 1, EstimatedUSD: 0.01}
	next.LastArtifactIDs = []string{"a1", "a2"}
	if err := repo.CompareAndSwap(ctx, next, claimed.Version); err != nil {
		t.Fatalf("CAS: %v", err)
	}

	got, err := repo.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.State != entity.TaskStateRunning || got.Version != next.Version || got.LeaseOwner != "w1" {
		t.Fatalf("stored = %+v", got)
	}
	if got.Cost.LLMCalls != 1 || len(got.LastArtifactIDs) != 2 || got.LastArtifactIDs[1] != "a2" {
		t.Fatalf("cost = %+v ids = %v", got.Cost, got.LastArtifactIDs)
	}

	if err := repo.Heartbeat(ctx, task.ID, "w2", time.Minute); !errors.Is(err, repository.ErrLeaseLost) {
		t.Fatalf("foreign heartbeat err = %v", err)
	}
	if err := repo.Release(ctx, task.ID, "w1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := repo.Claim(ctx, task.ID, "w2", time.Minute); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
}

func TestTaskRepository_StaleRunningTaskIsExpired(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	repo := NewTaskRepository(c)

	task := entity.NewGenerationTask(uuid.NewString(), []byte(`{}`))
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	repo.now = func() time.Time { return past }
	claimed, err := repo.Claim(ctx, task.ID, "dead", time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	next := claimed.Clone()
	_ = next.Apply(entity.Transition{Kind: entity.TransitionStart})
	if err := repo.CompareAndSwap(ctx, next, claimed.Version); err != nil {
		t.Fatalf("CAS: %v", err)
	}
	repo.now = time.Now

	staleBefore := time.Now().Add(-5 * time.Minute)
	list, err := repo.ListStale(ctx, entity.TaskStateRunning, staleBefore, 100)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	found := false
	for _, s := range list {
		found = found || s.ID == task.ID
	}
	if !found {
		t.Fatalf("stale task not listed")
	}
	ok, err := repo.ExpireStaleLease(ctx, task.ID, staleBefore)
	if err != nil || !ok {
		t.Fatalf("ExpireStaleLease = %v, %v", ok, err)
	}
	got, _ := repo.GetByID(ctx, task.ID)
	if got.LeaseOwner != "" || got.Version != next.Version+1 {
		t.Fatalf("after expire = %+v", got)
	}
}

func TestChunkAndVectorRepository_SearchByModel(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	materials := NewMaterialRepository(c)
	chunks := NewChunkRepository(c)
	vectors := NewVectorRepository(c)

	projectID := uuid.NewString()
	m := entity.NewSourceMaterial(projectID, "clinic-notes.txt", "text/plain", "k", 10)
	if err := materials.Create(ctx, m); err != nil {
		t.Fatalf("Create material: %v", err)
	}
	a := entity.NewContentChunk(m, 0, 0, 10, "opening hours")
	b := entity.NewContentChunk(m, 1, 10, 20, "front desk")
	if err := chunks.ReplaceForMaterial(ctx, m.ID, []*entity.ContentChunk{a, b}); err != nil {
		t.Fatalf("ReplaceForMaterial: %v", err)
	}
	pending, err := chunks.ListNeedingEmbedding(ctx, projectID, "hashing:v1", 10)
	if err != nil || len(pending) != 2 {
		t.Fatalf("pending = %d, %v", len(pending), err)
	}

	a.SetEmbedding([]float32{1, 0, 0}, "hashing:v1")
	b.SetEmbedding([]float32{0, 1, 0}, "hashing:v0")
	if err := chunks.UpdateEmbeddings(ctx, []*entity.ContentChunk{a, b}); err != nil {
		t.Fatalf("UpdateEmbeddings: %v", err)
	}
	pending, _ = chunks.ListNeedingEmbedding(ctx, projectID, "hashing:v1", 10)
	if len(pending) != 1 || pending[0].ID != b.ID {
		t.Fatalf("pending after update = %+v", pending)
	}

	hits, err := vectors.Search(ctx, &retrieval.VectorSearchParams{
		ProjectID:   projectID,
		Model:       "hashing:v1",
		QueryVector: []float32{1, 0, 0},
		TopK:        5,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.ID != a.ID || hits[0].Score < 0.99 {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Chunk.SourceFilename != "clinic-notes.txt" || hits[0].Chunk.OffsetEnd != 10 {
		t.Fatalf("chunk = %+v", hits[0].Chunk)
	}
}

func TestChapterRepository_AppendRevisionInOrder(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	repo := NewChapterRepository(c)

	ch := entity.NewChapter(uuid.NewString(), uuid.NewString(), 0, "Mornings")
	if err := repo.Create(ctx, ch); err != nil {
		t.Fatalf("Create: %v", err)
	}
	rev := ch.NewRevision(entity.RevisionDraft, "The clinic opens at 9am.", nil)
	if err := ch.ApplyRevision(rev); err != nil {
		t.Fatalf("ApplyRevision: %v", err)
	}
	if err := repo.AppendRevision(ctx, ch, rev); err != nil {
		t.Fatalf("AppendRevision: %v", err)
	}
	if err := repo.AppendRevision(ctx, ch, rev); !errors.Is(err, repository.ErrVersionConflict) {
		t.Fatalf("duplicate append err = %v", err)
	}

	got, err := repo.GetByID(ctx, ch.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.CurrentText != "The clinic opens at 9am." || got.RevisionCount != 1 || got.CurrentRevisionID != rev.ID {
		t.Fatalf("chapter = %+v", got)
	}
	revs, _ := repo.ListRevisions(ctx, ch.ID)
	if len(revs) != 1 || revs[0].Stage != entity.RevisionDraft {
		t.Fatalf("revisions = %+v", revs)
	}
}
