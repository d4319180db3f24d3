package repository

import (
	"context"

	"manuscript-ai-api/internal/domain/entity"
)

// MaterialRepository 素材仓储
type MaterialRepository interface {
	// Create 创建素材记录
	Create(ctx context.Context, m *entity.SourceMaterial) error

	// GetByID 根据 ID 获取素材
	GetByID(ctx context.Context, id string) (*entity.SourceMaterial, error)

	// Update 更新素材（状态与抽取结果）
	Update(ctx context.Context, m *entity.SourceMaterial) error

	// ListByProject 项目素材，按创建时间、ID 排序
	ListByProject(ctx context.Context, projectID string) ([]*entity.SourceMaterial, error)
}

// ChunkRepository 切片仓储
type ChunkRepository interface {
	// ReplaceForMaterial 删除素材旧切片并写入新切片
	ReplaceForMaterial(ctx context.Context, materialID string, chunks []*entity.ContentChunk) error

	// ListByMaterial 素材切片，按 chunk_index 排序
	ListByMaterial(ctx context.Context, materialID string) ([]*entity.ContentChunk, error)

	// ListNeedingEmbedding 返回模型标识与 activeModel 不一致（含未向量化）的切片
	ListNeedingEmbedding(ctx context.Context, projectID, activeModel string, limit int) ([]*entity.ContentChunk, error)

	// UpdateEmbeddings 写回向量及模型标识
	UpdateEmbeddings(ctx context.Context, chunks []*entity.ContentChunk) error

	// ListEmbedded 项目下由 model 向量化的切片
	ListEmbedded(ctx context.Context, projectID, model string) ([]*entity.ContentChunk, error)

	// CountByProject 统计项目切片数
	CountByProject(ctx context.Context, projectID string) (int64, error)
}
