package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
)

// ChapterRepository 章节与修订仓储实现
type ChapterRepository struct {
	client *Client
}

// NewChapterRepository 创建章节仓储
func NewChapterRepository(client *Client) *ChapterRepository {
	return &ChapterRepository{client: client}
}

var _ repository.ChapterRepository = (*ChapterRepository)(nil)

// Create 创建章节
func (r *ChapterRepository) Create(ctx context.Context, ch *entity.Chapter) error {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(toChapterModel(ch)).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create chapter: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取章节
func (r *ChapterRepository) GetByID(ctx context.Context, id string) (*entity.Chapter, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var m chapterModel
	if err := db.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get chapter: %w", err)
	}
	return m.toEntity(), nil
}

// Update 更新章节状态
func (r *ChapterRepository) Update(ctx context.Context, ch *entity.Chapter) error {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	res := db.Model(&chapterModel{}).Where("id = ?", ch.ID).Updates(map[string]any{
		"status":                  string(ch.Status),
		"unresolved_safety_flags": ch.UnresolvedSafetyFlags,
		"updated_at":              ch.UpdatedAt,
	})
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to update chapter: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("chapter %s not found", ch.ID)
	}
	return nil
}

// ListByTask 任务下的章节
func (r *ChapterRepository) ListByTask(ctx context.Context, taskID string) ([]*entity.Chapter, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.ListByTask")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var rows []*chapterModel
	if err := db.Where("task_id = ?", taskID).Order("chapter_index ASC").Find(&rows).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	out := make([]*entity.Chapter, len(rows))
	for i, m := range rows {
		out[i] = m.toEntity()
	}
	return out, nil
}

// AppendRevision 追加修订并同步章节当前文本。
// 以存储中的 revision_count 作为条件，乱序追加返回 ErrVersionConflict。
func (r *ChapterRepository) AppendRevision(ctx context.Context, ch *entity.Chapter, rev *entity.ChapterRevision) error {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.AppendRevision")
	defer span.End()

	err := inTx(ctx, r.client.db, func(tx *gorm.DB) error {
		m := toChapterModel(ch)
		res := tx.Model(&chapterModel{}).
			Where("id = ? AND revision_count = ?", ch.ID, rev.Seq-1).
			Updates(map[string]any{
				"current_text":            m.CurrentText,
				"current_revision_id":     m.CurrentRevisionID,
				"revision_count":          m.RevisionCount,
				"status":                  m.Status,
				"unresolved_safety_flags": m.UnresolvedSafetyFlags,
				"word_count":              m.WordCount,
				"updated_at":              m.UpdatedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update chapter: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("revision seq %d out of order: %w", rev.Seq, repository.ErrVersionConflict)
		}
		if err := tx.Create(toRevisionModel(rev)).Error; err != nil {
			return fmt.Errorf("failed to create revision: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// GetRevision 根据 ID 获取修订
func (r *ChapterRepository) GetRevision(ctx context.Context, id string) (*entity.ChapterRevision, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.GetRevision")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var m revisionModel
	if err := db.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get revision: %w", err)
	}
	return m.toEntity(), nil
}

// ListRevisions 章节全部修订
func (r *ChapterRepository) ListRevisions(ctx context.Context, chapterID string) ([]*entity.ChapterRevision, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.ListRevisions")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var rows []*revisionModel
	if err := db.Where("chapter_id = ?", chapterID).Order("seq ASC").Find(&rows).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	out := make([]*entity.ChapterRevision, len(rows))
	for i, m := range rows {
		out[i] = m.toEntity()
	}
	return out, nil
}
