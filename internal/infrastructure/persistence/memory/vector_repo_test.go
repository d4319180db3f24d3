package memory

import (
	"context"
	"testing"

	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/domain/entity"
)

func TestVectorRepository_SearchSkipsExcludedMaterials(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	chunks := NewChunkRepository(s)
	mk := func(id, material string, vec []float32) *entity.ContentChunk {
		return &entity.ContentChunk{ID: id, MaterialID: material, ProjectID: "p1", Text: id, Embedding: vec, EmbeddingModel: "m"}
	}
	if err := chunks.ReplaceForMaterial(ctx, "a", []*entity.ContentChunk{mk("a-0", "a", []float32{1, 0}), mk("a-1", "a", []float32{0.9, 0.1})}); err != nil {
		t.Fatalf("replace a: %v", err)
	}
	if err := chunks.ReplaceForMaterial(ctx, "b", []*entity.ContentChunk{mk("b-0", "b", []float32{0.5, 0.5})}); err != nil {
		t.Fatalf("replace b: %v", err)
	}

	repo := NewVectorRepository(s)
	hits, err := repo.Search(ctx, &retrieval.VectorSearchParams{
		ProjectID:          "p1",
		Model:              "m",
		QueryVector:        []float32{1, 0},
		TopK:               10,
		ExcludeMaterialIDs: []string{"a"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.ID != "b-0" {
		t.Fatalf("expected only b-0, got %d hits", len(hits))
	}
}
