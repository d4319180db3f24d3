// Package repository 定义数据访问层接口
package repository

import (
	"context"
	"errors"

	apperrors "manuscript-ai-api/pkg/errors"
)

// TxKey 事务上下文键类型
type TxKey struct{}

// Transactor 事务管理接口
type Transactor interface {
	// WithTransaction 在事务中执行操作
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// 仓储约定：按 ID 查询不存在时返回 (nil, nil)
var (
	// ErrVersionConflict 检查点 CAS 失败，调用方应重新加载
	ErrVersionConflict = apperrors.ErrVersionConflict
	// ErrLeaseHeld 任务租约由其他 worker 持有
	ErrLeaseHeld = errors.New("task lease held by another worker")
	// ErrLeaseLost 心跳时发现租约已被他人接管
	ErrLeaseLost = errors.New("task lease lost")
)
