package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
	apperrors "manuscript-ai-api/pkg/errors"
)

// TaskRepository 检查点仓储，所有状态写入都以 version 做条件更新
type TaskRepository struct {
	client *Client
	now    func() time.Time
}

// NewTaskRepository 创建检查点仓储
func NewTaskRepository(client *Client) *TaskRepository {
	return &TaskRepository{client: client, now: time.Now}
}

var _ repository.TaskRepository = (*TaskRepository)(nil)

// Create 写入新任务
func (r *TaskRepository) Create(ctx context.Context, task *entity.GenerationTask) error {
	ctx, span := tracer.Start(ctx, "postgres.TaskRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(toTaskModel(task)).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取任务
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*entity.GenerationTask, error) {
	ctx, span := tracer.Start(ctx, "postgres.TaskRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var m taskModel
	if err := db.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return m.toEntity(), nil
}

// CompareAndSwap 仅当 version 匹配时写入状态字段
func (r *TaskRepository) CompareAndSwap(ctx context.Context, task *entity.GenerationTask, expectedVersion int64) error {
	ctx, span := tracer.Start(ctx, "postgres.TaskRepository.CompareAndSwap")
	defer span.End()

	db := getDB(ctx, r.client.db)
	m := toTaskModel(task)
	m.UpdatedAt = r.now()
	cols := m.stateColumns()
	cols["version"] = expectedVersion + 1

	res := db.Model(&taskModel{}).
		Where("id = ? AND version = ?", task.ID, expectedVersion).
		Updates(cols)
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to update task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.missOr(ctx, task.ID, repository.ErrVersionConflict)
	}
	task.Version = expectedVersion + 1
	task.UpdatedAt = m.UpdatedAt
	return nil
}

// Claim 租约空闲、过期或已属于 owner 时获取，并递增 version
func (r *TaskRepository) Claim(ctx context.Context, id, owner string, ttl time.Duration) (*entity.GenerationTask, error) {
	ctx, span := tracer.Start(ctx, "postgres.TaskRepository.Claim")
	defer span.End()

	db := getDB(ctx, r.client.db)
	now := r.now()
	var m taskModel
	res := db.Model(&m).
		Clauses(clause.Returning{}).
		Where("id = ?", id).
		Where("(lease_owner = '' OR lease_owner = ? OR lease_expires_at IS NULL OR lease_expires_at < ?)", owner, now).
		Updates(map[string]any{
			"lease_owner":      owner,
			"lease_expires_at": now.Add(ttl),
			"heartbeat_at":     now,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		span.RecordError(res.Error)
		return nil, fmt.Errorf("failed to claim task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, r.missOr(ctx, id, repository.ErrLeaseHeld)
	}
	return m.toEntity(), nil
}

// Heartbeat 延长租约
func (r *TaskRepository) Heartbeat(ctx context.Context, id, owner string, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "postgres.TaskRepository.Heartbeat")
	defer span.End()

	db := getDB(ctx, r.client.db)
	now := r.now()
	res := db.Model(&taskModel{}).
		Where("id = ? AND lease_owner = ?", id, owner).
		Updates(map[string]any{"lease_expires_at": now.Add(ttl), "heartbeat_at": now})
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to extend lease: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.missOr(ctx, id, repository.ErrLeaseLost)
	}
	return nil
}

// Release 释放租约
func (r *TaskRepository) Release(ctx context.Context, id, owner string) error {
	ctx, span := tracer.Start(ctx, "postgres.TaskRepository.Release")
	defer span.End()

	db := getDB(ctx, r.client.db)
	err := db.Model(&taskModel{}).
		Where("id = ? AND lease_owner = ?", id, owner).
		Updates(map[string]any{"lease_owner": "", "lease_expires_at": nil}).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// ExpireStaleLease 心跳早于 staleBefore 时清除租约
func (r *TaskRepository) ExpireStaleLease(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.TaskRepository.ExpireStaleLease")
	defer span.End()

	db := getDB(ctx, r.client.db)
	res := db.Model(&taskModel{}).
		Where("id = ? AND COALESCE(heartbeat_at, updated_at) < ?", id, staleBefore).
		Updates(map[string]any{
			"lease_owner":      "",
			"lease_expires_at": nil,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		span.RecordError(res.Error)
		return false, fmt.Errorf("failed to expire lease: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListByState 按状态查询，最早更新的在前
func (r *TaskRepository) ListByState(ctx context.Context, states []entity.TaskState, limit int) ([]*entity.GenerationTask, error) {
	ctx, span := tracer.Start(ctx, "postgres.TaskRepository.ListByState")
	defer span.End()

	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	q := getDB(ctx, r.client.db).Where("state IN ?", names).Order("updated_at ASC, id ASC")
	return r.find(q, limit, span.RecordError)
}

// ListStale 多个巡检实例并发时跳过已被锁定的行
func (r *TaskRepository) ListStale(ctx context.Context, state entity.TaskState, staleBefore time.Time, limit int) ([]*entity.GenerationTask, error) {
	ctx, span := tracer.Start(ctx, "postgres.TaskRepository.ListStale")
	defer span.End()

	q := getDB(ctx, r.client.db).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("state = ? AND COALESCE(heartbeat_at, updated_at) < ?", string(state), staleBefore).
		Order("updated_at ASC, id ASC")
	return r.find(q, limit, span.RecordError)
}

// ListByProject 项目下的任务，按创建时间倒序
func (r *TaskRepository) ListByProject(ctx context.Context, projectID string, limit int) ([]*entity.GenerationTask, error) {
	ctx, span := tracer.Start(ctx, "postgres.TaskRepository.ListByProject")
	defer span.End()

	q := getDB(ctx, r.client.db).Where("project_id = ?", projectID).Order("created_at DESC, id DESC")
	return r.find(q, limit, span.RecordError)
}

func (r *TaskRepository) find(q *gorm.DB, limit int, record func(error, ...trace.EventOption)) ([]*entity.GenerationTask, error) {
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []*taskModel
	if err := q.Find(&rows).Error; err != nil {
		record(err)
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	out := make([]*entity.GenerationTask, len(rows))
	for i, m := range rows {
		out[i] = m.toEntity()
	}
	return out, nil
}

// missOr 条件更新未命中时区分任务不存在与条件不满足
func (r *TaskRepository) missOr(ctx context.Context, id string, cause error) error {
	var n int64
	if err := getDB(ctx, r.client.db).Model(&taskModel{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to check task: %w", err)
	}
	if n == 0 {
		return apperrors.ErrTaskNotFound
	}
	return cause
}
