package retrieval_test

import (
	"context"
	"testing"

	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/infrastructure/embedding"
	"manuscript-ai-api/internal/infrastructure/persistence/memory"
)

func seedChunks(t *testing.T, chunks *memory.ChunkRepository, texts ...string) *entity.SourceMaterial {
	t.Helper()
	m := entity.NewSourceMaterial("p1", "notes.txt", "text/plain", "k", 1)
	var list []*entity.ContentChunk
	for i, s := range texts {
		list = append(list, entity.NewContentChunk(m, i, i*100, i*100+len(s), s))
	}
	if err := chunks.ReplaceForMaterial(context.Background(), m.ID, list); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return m
}

func TestIndexer_EmbedPendingAndModelSwitch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	chunks := memory.NewChunkRepository(store)
	seedChunks(t, chunks, "The clinic opens at 9am on weekdays.", "Parking is free after six.", "Bring your insurance card.")

	v1 := retrieval.NewEmbeddingService(embedding.NewHashingEmbedder(512), "hashing:bow@1", nil, 2)
	res, err := retrieval.NewIndexer(v1, chunks, memory.NewVectorRepository(store), 2).EmbedPending(ctx, "p1")
	if err != nil {
		t.Fatalf("embed v1: %v", err)
	}
	if res.Embedded != 3 {
		t.Fatalf("embedded = %d, want 3", res.Embedded)
	}
	again, _ := retrieval.NewIndexer(v1, chunks, nil, 2).EmbedPending(ctx, "p1")
	if again.Embedded != 0 {
		t.Fatalf("second pass embedded %d chunks, want 0", again.Embedded)
	}

	// 切换活动模型后，旧向量不得参与检索
	v2 := retrieval.NewEmbeddingService(embedding.NewHashingEmbedder(512), "hashing:bow@2", nil, 2)
	engine := retrieval.NewEngine(v2, memory.NewVectorRepository(store), nil, 4, "memory")
	out, err := engine.Retrieve(ctx, retrieval.Query{ProjectID: "p1", Text: "When does the clinic open?", Budget: retrieval.Budget{MaxChunks: 3}})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !out.Empty() {
		t.Fatalf("chunks embedded with v1 returned under v2: %d", len(out.Passages))
	}

	if _, err := retrieval.NewIndexer(v2, chunks, nil, 2).EmbedPending(ctx, "p1"); err != nil {
		t.Fatalf("embed v2: %v", err)
	}
	out, err = engine.Retrieve(ctx, retrieval.Query{ProjectID: "p1", Text: "When does the clinic open?", Budget: retrieval.Budget{MaxChunks: 3}})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if out.Empty() || out.Passages[0].Chunk.ChunkIndex != 0 {
		t.Fatalf("expected the clinic chunk first, got %+v", out.Passages)
	}
}
