package repository

import (
	"context"
	"time"

	"manuscript-ai-api/internal/domain/entity"
)

// TaskRepository 检查点存储，是各 worker 之间唯一共享的可变资源
type TaskRepository interface {
	// Create 写入新任务（version 从 1 开始）
	Create(ctx context.Context, task *entity.GenerationTask) error

	// GetByID 根据 ID 获取任务
	GetByID(ctx context.Context, id string) (*entity.GenerationTask, error)

	// CompareAndSwap 仅当存储中的 version 等于 expectedVersion 时写入全部状态字段，
	// 成功后 task.Version = expectedVersion+1；否则返回 ErrVersionConflict
	CompareAndSwap(ctx context.Context, task *entity.GenerationTask, expectedVersion int64) error

	// Claim 在租约空闲、过期或已归属 owner 时获取租约，并递增 version 使旧持有者的后续 CAS 失败
	Claim(ctx context.Context, id, owner string, ttl time.Duration) (*entity.GenerationTask, error)

	// Heartbeat 延长租约，若租约已不属于 owner 返回 ErrLeaseLost
	Heartbeat(ctx context.Context, id, owner string, ttl time.Duration) error

	// Release 释放租约（仅限 owner）
	Release(ctx context.Context, id, owner string) error

	// ExpireStaleLease 心跳早于 staleBefore 时清除租约，返回是否清除
	ExpireStaleLease(ctx context.Context, id string, staleBefore time.Time) (bool, error)

	// ListByState 按状态查询
	ListByState(ctx context.Context, states []entity.TaskState, limit int) ([]*entity.GenerationTask, error)

	// ListStale 查询指定状态下心跳早于 staleBefore（或从未心跳且更新早于 staleBefore）的任务
	ListStale(ctx context.Context, state entity.TaskState, staleBefore time.Time, limit int) ([]*entity.GenerationTask, error)

	// ListByProject 项目下的任务，按创建时间倒序
	ListByProject(ctx context.Context, projectID string, limit int) ([]*entity.GenerationTask, error)
}
