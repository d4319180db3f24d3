package retrieval

import (
	"context"

	"manuscript-ai-api/internal/domain/entity"
)

// VectorRepository 应用层对向量存储/检索的最小依赖（port），
// 由基础设施层提供实现（pgvector、Milvus、内存）
type VectorRepository interface {
	// EnsureCollection 确保索引/表已就绪
	EnsureCollection(ctx context.Context) error

	// Search 在项目内按余弦相似度检索，只返回 embedding_model == params.Model 的切片
	Search(ctx context.Context, params *VectorSearchParams) ([]*VectorSearchResult, error)

	// Upsert 写入已向量化的切片；向量与切片同表存储的实现可以为空操作
	Upsert(ctx context.Context, chunks []*entity.ContentChunk) error

	// DeleteByMaterial 删除素材的全部向量
	DeleteByMaterial(ctx context.Context, projectID, materialID string) error
}

// VectorSearchParams 向量检索参数
type VectorSearchParams struct {
	ProjectID   string
	Model       string
	QueryVector []float32
	TopK        int
	// ExcludeMaterialIDs 不参与本次检索的素材
	ExcludeMaterialIDs []string
}

// Excludes 素材是否被排除
func (p *VectorSearchParams) Excludes(materialID string) bool {
	for _, id := range p.ExcludeMaterialIDs {
		if id == materialID {
			return true
		}
	}
	return false
}

// VectorSearchResult 检索结果，Chunk 至少包含溯源字段与文本
type VectorSearchResult struct {
	Chunk *entity.ContentChunk
	Score float64
}
