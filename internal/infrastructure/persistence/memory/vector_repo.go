package memory

import (
	"context"
	"sort"

	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/pkg/vecmath"
)

// VectorRepository 暴力余弦检索，直接读取切片上的向量
type VectorRepository struct{ s *Store }

// NewVectorRepository 创建内存向量检索
func NewVectorRepository(s *Store) *VectorRepository { return &VectorRepository{s: s} }

var _ retrieval.VectorRepository = (*VectorRepository)(nil)

func (r *VectorRepository) EnsureCollection(ctx context.Context) error { return nil }

func (r *VectorRepository) Search(ctx context.Context, params *retrieval.VectorSearchParams) ([]*retrieval.VectorSearchResult, error) {
	if params == nil {
		return nil, nil
	}
	r.s.mu.RLock()
	var out []*retrieval.VectorSearchResult
	for _, c := range r.s.chunks {
		if c.ProjectID != params.ProjectID || !c.EmbeddedWith(params.Model) || params.Excludes(c.MaterialID) {
			continue
		}
		out = append(out, &retrieval.VectorSearchResult{
			Chunk: cloneChunk(c),
			Score: vecmath.Cosine(params.QueryVector, c.Embedding),
		})
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	if params.TopK > 0 && len(out) > params.TopK {
		out = out[:params.TopK]
	}
	return out, nil
}

// Upsert 向量已由 ChunkRepository.UpdateEmbeddings 写入
func (r *VectorRepository) Upsert(ctx context.Context, chunks []*entity.ContentChunk) error { return nil }

func (r *VectorRepository) DeleteByMaterial(ctx context.Context, projectID, materialID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.chunks {
		if c.ProjectID == projectID && c.MaterialID == materialID {
			c.Embedding = nil
			c.EmbeddingModel = ""
		}
	}
	return nil
}
