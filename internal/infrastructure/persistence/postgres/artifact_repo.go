package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
)

// OutlineRepository 大纲仓储实现
type OutlineRepository struct {
	client *Client
}

// NewOutlineRepository 创建大纲仓储
func NewOutlineRepository(client *Client) *OutlineRepository {
	return &OutlineRepository{client: client}
}

var _ repository.OutlineRepository = (*OutlineRepository)(nil)

// Create 写入候选大纲
func (r *OutlineRepository) Create(ctx context.Context, o *entity.BookOutline) error {
	ctx, span := tracer.Start(ctx, "postgres.OutlineRepository.Create")
	defer span.End()

	if err := getDB(ctx, r.client.db).Create(toOutlineModel(o)).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create outline: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取大纲
func (r *OutlineRepository) GetByID(ctx context.Context, id string) (*entity.BookOutline, error) {
	ctx, span := tracer.Start(ctx, "postgres.OutlineRepository.GetByID")
	defer span.End()

	var m outlineModel
	if err := getDB(ctx, r.client.db).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get outline: %w", err)
	}
	return m.toEntity(), nil
}

// UpdateStatus 只写状态与反馈意见
func (r *OutlineRepository) UpdateStatus(ctx context.Context, o *entity.BookOutline) error {
	ctx, span := tracer.Start(ctx, "postgres.OutlineRepository.UpdateStatus")
	defer span.End()

	err := getDB(ctx, r.client.db).Model(&outlineModel{}).Where("id = ?", o.ID).Updates(map[string]any{
		"status":         string(o.Status),
		"feedback_notes": o.FeedbackNotes,
		"updated_at":     o.UpdatedAt,
	}).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update outline status: %w", err)
	}
	return nil
}

// ListByTask 任务下全部大纲
func (r *OutlineRepository) ListByTask(ctx context.Context, taskID string) ([]*entity.BookOutline, error) {
	ctx, span := tracer.Start(ctx, "postgres.OutlineRepository.ListByTask")
	defer span.End()

	var rows []*outlineModel
	if err := getDB(ctx, r.client.db).Where("task_id = ?", taskID).Order("version ASC").Find(&rows).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list outlines: %w", err)
	}
	out := make([]*entity.BookOutline, len(rows))
	for i, m := range rows {
		out[i] = m.toEntity()
	}
	return out, nil
}

// VoiceProfileRepository 文风档案仓储实现
type VoiceProfileRepository struct {
	client *Client
}

// NewVoiceProfileRepository 创建文风档案仓储
func NewVoiceProfileRepository(client *Client) *VoiceProfileRepository {
	return &VoiceProfileRepository{client: client}
}

var _ repository.VoiceProfileRepository = (*VoiceProfileRepository)(nil)

// GetCurrent 最新版本
func (r *VoiceProfileRepository) GetCurrent(ctx context.Context, projectID string) (*entity.VoiceProfile, error) {
	ctx, span := tracer.Start(ctx, "postgres.VoiceProfileRepository.GetCurrent")
	defer span.End()

	var m voiceProfileModel
	err := getDB(ctx, r.client.db).Where("project_id = ?", projectID).Order("version DESC").First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get voice profile: %w", err)
	}
	return m.toEntity(), nil
}

// Save 写入新版本
func (r *VoiceProfileRepository) Save(ctx context.Context, p *entity.VoiceProfile) error {
	ctx, span := tracer.Start(ctx, "postgres.VoiceProfileRepository.Save")
	defer span.End()

	if err := getDB(ctx, r.client.db).Create(toVoiceProfileModel(p)).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save voice profile: %w", err)
	}
	return nil
}

// ManuscriptRepository 定稿仓储实现
type ManuscriptRepository struct {
	client *Client
}

// NewManuscriptRepository 创建定稿仓储
func NewManuscriptRepository(client *Client) *ManuscriptRepository {
	return &ManuscriptRepository{client: client}
}

var _ repository.ManuscriptRepository = (*ManuscriptRepository)(nil)

// Create 写入定稿
func (r *ManuscriptRepository) Create(ctx context.Context, m *entity.Manuscript) error {
	ctx, span := tracer.Start(ctx, "postgres.ManuscriptRepository.Create")
	defer span.End()

	if err := getDB(ctx, r.client.db).Create(toManuscriptModel(m)).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create manuscript: %w", err)
	}
	return nil
}

// GetByTask 任务的定稿
func (r *ManuscriptRepository) GetByTask(ctx context.Context, taskID string) (*entity.Manuscript, error) {
	ctx, span := tracer.Start(ctx, "postgres.ManuscriptRepository.GetByTask")
	defer span.End()

	var m manuscriptModel
	if err := getDB(ctx, r.client.db).First(&m, "task_id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get manuscript: %w", err)
	}
	return m.toEntity(), nil
}
