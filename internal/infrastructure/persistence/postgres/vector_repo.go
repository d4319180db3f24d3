package postgres

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/domain/entity"
)

// VectorRepository 基于 pgvector 的余弦检索，直接查询 content_chunks.embedding
type VectorRepository struct {
	client *Client
}

// NewVectorRepository 创建 pgvector 检索
func NewVectorRepository(client *Client) *VectorRepository {
	return &VectorRepository{client: client}
}

var _ retrieval.VectorRepository = (*VectorRepository)(nil)

type chunkHit struct {
	chunkModel
	Distance float64
}

// EnsureCollection 确保 vector 扩展已安装
func (r *VectorRepository) EnsureCollection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "postgres.VectorRepository.EnsureCollection")
	defer span.End()

	if err := r.client.db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	return nil
}

// Search 同一项目、同一模型内按余弦距离升序
func (r *VectorRepository) Search(ctx context.Context, params *retrieval.VectorSearchParams) ([]*retrieval.VectorSearchResult, error) {
	ctx, span := tracer.Start(ctx, "postgres.VectorRepository.Search")
	defer span.End()

	if params == nil || len(params.QueryVector) == 0 {
		return nil, nil
	}
	q := getDB(ctx, r.client.db).
		Model(&chunkModel{}).
		Select("*, embedding <=> ? AS distance", pgvector.NewVector(params.QueryVector)).
		Where("project_id = ? AND embedding_model = ? AND embedding IS NOT NULL", params.ProjectID, params.Model).
		Order("distance ASC, id ASC")
	if len(params.ExcludeMaterialIDs) > 0 {
		q = q.Where("material_id NOT IN ?", params.ExcludeMaterialIDs)
	}
	if params.TopK > 0 {
		q = q.Limit(params.TopK)
	}
	var hits []chunkHit
	if err := q.Scan(&hits).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	out := make([]*retrieval.VectorSearchResult, 0, len(hits))
	for i := range hits {
		out = append(out, &retrieval.VectorSearchResult{
			Chunk: hits[i].toEntity(),
			Score: 1 - hits[i].Distance,
		})
	}
	return out, nil
}

// Upsert 向量已由 ChunkRepository.UpdateEmbeddings 写入同一张表
func (r *VectorRepository) Upsert(ctx context.Context, chunks []*entity.ContentChunk) error {
	return nil
}

// DeleteByMaterial 清除素材的向量
func (r *VectorRepository) DeleteByMaterial(ctx context.Context, projectID, materialID string) error {
	ctx, span := tracer.Start(ctx, "postgres.VectorRepository.DeleteByMaterial")
	defer span.End()

	err := getDB(ctx, r.client.db).Model(&chunkModel{}).
		Where("project_id = ? AND material_id = ?", projectID, materialID).
		Updates(map[string]any{"embedding": nil, "embedding_model": ""}).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to clear embeddings: %w", err)
	}
	return nil
}
