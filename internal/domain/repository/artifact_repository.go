package repository

import (
	"context"

	"manuscript-ai-api/internal/domain/entity"
)

// VoiceProfileRepository 文风档案仓储，每次校准新增一个版本
type VoiceProfileRepository interface {
	// GetCurrent 项目最新版本
	GetCurrent(ctx context.Context, projectID string) (*entity.VoiceProfile, error)

	// Save 写入新版本
	Save(ctx context.Context, p *entity.VoiceProfile) error
}

// OutlineRepository 大纲仓储
type OutlineRepository interface {
	// Create 写入候选大纲
	Create(ctx context.Context, o *entity.BookOutline) error

	// GetByID 根据 ID 获取大纲
	GetByID(ctx context.Context, id string) (*entity.BookOutline, error)

	// UpdateStatus 只修改状态与反馈意见，内容不可变
	UpdateStatus(ctx context.Context, o *entity.BookOutline) error

	// ListByTask 任务下全部大纲，按版本升序
	ListByTask(ctx context.Context, taskID string) ([]*entity.BookOutline, error)
}

// ChapterRepository 章节与修订仓储
type ChapterRepository interface {
	// Create 创建章节
	Create(ctx context.Context, ch *entity.Chapter) error

	// GetByID 根据 ID 获取章节
	GetByID(ctx context.Context, id string) (*entity.Chapter, error)

	// Update 更新章节状态
	Update(ctx context.Context, ch *entity.Chapter) error

	// ListByTask 任务下的章节，按 index 排序
	ListByTask(ctx context.Context, taskID string) ([]*entity.Chapter, error)

	// AppendRevision 追加修订并更新章节当前文本（同一事务）
	AppendRevision(ctx context.Context, ch *entity.Chapter, rev *entity.ChapterRevision) error

	// GetRevision 根据 ID 获取修订
	GetRevision(ctx context.Context, id string) (*entity.ChapterRevision, error)

	// ListRevisions 章节全部修订，按 seq 升序
	ListRevisions(ctx context.Context, chapterID string) ([]*entity.ChapterRevision, error)
}

// ManuscriptRepository 定稿仓储
type ManuscriptRepository interface {
	// Create 写入定稿
	Create(ctx context.Context, m *entity.Manuscript) error

	// GetByTask 任务的定稿
	GetByTask(ctx context.Context, taskID string) (*entity.Manuscript, error)
}
