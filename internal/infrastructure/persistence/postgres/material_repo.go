package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
)

// MaterialRepository 素材仓储实现
type MaterialRepository struct {
	client *Client
}

// NewMaterialRepository 创建素材仓储
func NewMaterialRepository(client *Client) *MaterialRepository {
	return &MaterialRepository{client: client}
}

var _ repository.MaterialRepository = (*MaterialRepository)(nil)

// Create 创建素材记录
func (r *MaterialRepository) Create(ctx context.Context, m *entity.SourceMaterial) error {
	ctx, span := tracer.Start(ctx, "postgres.MaterialRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(m).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create material: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取素材
func (r *MaterialRepository) GetByID(ctx context.Context, id string) (*entity.SourceMaterial, error) {
	ctx, span := tracer.Start(ctx, "postgres.MaterialRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var m entity.SourceMaterial
	if err := db.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get material: %w", err)
	}
	return &m, nil
}

// Update 更新素材
func (r *MaterialRepository) Update(ctx context.Context, m *entity.SourceMaterial) error {
	ctx, span := tracer.Start(ctx, "postgres.MaterialRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(m).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update material: %w", err)
	}
	return nil
}

// ListByProject 项目素材
func (r *MaterialRepository) ListByProject(ctx context.Context, projectID string) ([]*entity.SourceMaterial, error) {
	ctx, span := tracer.Start(ctx, "postgres.MaterialRepository.ListByProject")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var list []*entity.SourceMaterial
	if err := db.Where("project_id = ?", projectID).Order("created_at ASC, id ASC").Find(&list).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}
	return list, nil
}

// ChunkRepository 切片仓储实现，向量与切片同表存储
type ChunkRepository struct {
	client *Client
}

// NewChunkRepository 创建切片仓储
func NewChunkRepository(client *Client) *ChunkRepository {
	return &ChunkRepository{client: client}
}

var _ repository.ChunkRepository = (*ChunkRepository)(nil)

const chunkInsertBatch = 200

// ReplaceForMaterial 删除旧切片并写入新切片
func (r *ChunkRepository) ReplaceForMaterial(ctx context.Context, materialID string, chunks []*entity.ContentChunk) error {
	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.ReplaceForMaterial")
	defer span.End()

	err := inTx(ctx, r.client.db, func(tx *gorm.DB) error {
		if err := tx.Where("material_id = ?", materialID).Delete(&chunkModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}
		rows := make([]*chunkModel, len(chunks))
		for i, c := range chunks {
			rows[i] = toChunkModel(c)
		}
		if err := tx.CreateInBatches(rows, chunkInsertBatch).Error; err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// ListByMaterial 素材切片
func (r *ChunkRepository) ListByMaterial(ctx context.Context, materialID string) ([]*entity.ContentChunk, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.ListByMaterial")
	defer span.End()

	q := getDB(ctx, r.client.db).Where("material_id = ?", materialID)
	return r.find(q, 0)
}

// ListNeedingEmbedding 模型标识不一致或尚未向量化的切片
func (r *ChunkRepository) ListNeedingEmbedding(ctx context.Context, projectID, activeModel string, limit int) ([]*entity.ContentChunk, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.ListNeedingEmbedding")
	defer span.End()

	q := getDB(ctx, r.client.db).
		Where("project_id = ?", projectID).
		Where("(embedding_model <> ? OR embedding IS NULL)", activeModel)
	return r.find(q, limit)
}

// UpdateEmbeddings 写回向量
func (r *ChunkRepository) UpdateEmbeddings(ctx context.Context, chunks []*entity.ContentChunk) error {
	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.UpdateEmbeddings")
	defer span.End()

	err := inTx(ctx, r.client.db, func(tx *gorm.DB) error {
		for _, c := range chunks {
			err := tx.Model(&chunkModel{}).Where("id = ?", c.ID).Updates(map[string]any{
				"embedding":       toVector(c.Embedding),
				"embedding_model": c.EmbeddingModel,
			}).Error
			if err != nil {
				return fmt.Errorf("failed to update embedding: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// ListEmbedded 由 model 向量化的切片
func (r *ChunkRepository) ListEmbedded(ctx context.Context, projectID, model string) ([]*entity.ContentChunk, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.ListEmbedded")
	defer span.End()

	q := getDB(ctx, r.client.db).
		Where("project_id = ? AND embedding_model = ? AND embedding IS NOT NULL", projectID, model)
	return r.find(q, 0)
}

// CountByProject 统计项目切片数
func (r *ChunkRepository) CountByProject(ctx context.Context, projectID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.CountByProject")
	defer span.End()

	var n int64
	if err := getDB(ctx, r.client.db).Model(&chunkModel{}).Where("project_id = ?", projectID).Count(&n).Error; err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (r *ChunkRepository) find(q *gorm.DB, limit int) ([]*entity.ContentChunk, error) {
	q = q.Order("material_id ASC, chunk_index ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []*chunkModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	out := make([]*entity.ContentChunk, len(rows))
	for i, m := range rows {
		out[i] = m.toEntity()
	}
	return out, nil
}
