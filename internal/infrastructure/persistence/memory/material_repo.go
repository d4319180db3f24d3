package memory

import (
	"context"
	"sort"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
)

// MaterialRepository 内存素材仓储
type MaterialRepository struct{ s *Store }

// NewMaterialRepository 创建素材仓储
func NewMaterialRepository(s *Store) *MaterialRepository { return &MaterialRepository{s: s} }

var _ repository.MaterialRepository = (*MaterialRepository)(nil)

func (r *MaterialRepository) Create(ctx context.Context, m *entity.SourceMaterial) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *m
	r.s.materials[m.ID] = &cp
	return nil
}

func (r *MaterialRepository) GetByID(ctx context.Context, id string) (*entity.SourceMaterial, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.materials[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *MaterialRepository) Update(ctx context.Context, m *entity.SourceMaterial) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *m
	r.s.materials[m.ID] = &cp
	return nil
}

func (r *MaterialRepository) ListByProject(ctx context.Context, projectID string) ([]*entity.SourceMaterial, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*entity.SourceMaterial
	for _, m := range r.s.materials {
		if m.ProjectID == projectID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ChunkRepository 内存切片仓储
type ChunkRepository struct{ s *Store }

// NewChunkRepository 创建切片仓储
func NewChunkRepository(s *Store) *ChunkRepository { return &ChunkRepository{s: s} }

var _ repository.ChunkRepository = (*ChunkRepository)(nil)

func cloneChunk(c *entity.ContentChunk) *entity.ContentChunk {
	cp := *c
	cp.Embedding = cloneVec(c.Embedding)
	return &cp
}

func (r *ChunkRepository) ReplaceForMaterial(ctx context.Context, materialID string, chunks []*entity.ContentChunk) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, c := range r.s.chunks {
		if c.MaterialID == materialID {
			delete(r.s.chunks, id)
		}
	}
	for _, c := range chunks {
		r.s.chunks[c.ID] = cloneChunk(c)
	}
	return nil
}

func (r *ChunkRepository) ListByMaterial(ctx context.Context, materialID string) ([]*entity.ContentChunk, error) {
	return r.list(0, func(c *entity.ContentChunk) bool { return c.MaterialID == materialID }), nil
}

func (r *ChunkRepository) ListNeedingEmbedding(ctx context.Context, projectID, activeModel string, limit int) ([]*entity.ContentChunk, error) {
	return r.list(limit, func(c *entity.ContentChunk) bool {
		return c.ProjectID == projectID && !c.EmbeddedWith(activeModel)
	}), nil
}

func (r *ChunkRepository) UpdateEmbeddings(ctx context.Context, chunks []*entity.ContentChunk) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range chunks {
		cur, ok := r.s.chunks[c.ID]
		if !ok {
			continue
		}
		cur.Embedding = cloneVec(c.Embedding)
		cur.EmbeddingModel = c.EmbeddingModel
	}
	return nil
}

func (r *ChunkRepository) ListEmbedded(ctx context.Context, projectID, model string) ([]*entity.ContentChunk, error) {
	return r.list(0, func(c *entity.ContentChunk) bool {
		return c.ProjectID == projectID && c.EmbeddedWith(model)
	}), nil
}

func (r *ChunkRepository) CountByProject(ctx context.Context, projectID string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var n int64
	for _, c := range r.s.chunks {
		if c.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

func (r *ChunkRepository) list(limit int, keep func(*entity.ContentChunk) bool) []*entity.ContentChunk {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*entity.ContentChunk
	for _, c := range r.s.chunks {
		if keep(c) {
			out = append(out, cloneChunk(c))
		}
	}
	sortChunks(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortChunks(cs []*entity.ContentChunk) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].MaterialID != cs[j].MaterialID {
			return cs[i].MaterialID < cs[j].MaterialID
		}
		return cs[i].ChunkIndex < cs[j].ChunkIndex
	})
}
