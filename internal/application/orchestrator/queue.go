package orchestrator

import (
	"context"
	"time"

	"manuscript-ai-api/pkg/logger"
)

// 事件原因，仅用于日志与指标
const (
	ReasonStart    = "start"
	ReasonFeedback = "feedback"
	ReasonResume   = "resume"
	ReasonRecover  = "recover"
)

// TaskEvent 驱动一个任务继续执行的事件。事件本身不携带状态，重复投递是安全的。
type TaskEvent struct {
	TaskID    string    `json:"task_id"`
	ProjectID string    `json:"project_id"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
	// Attempt 因租约被占用而重投的次数
	Attempt int `json:"attempt,omitempty"`
}

// EventHandler 处理一个事件；返回错误时由队列决定是否重投
type EventHandler func(ctx context.Context, ev TaskEvent) error

// TaskQueue 任务事件队列。生产环境为 Redis Streams 消费组，测试使用 ChannelQueue。
type TaskQueue interface {
	Enqueue(ctx context.Context, ev TaskEvent) error
	// Consume 以 consumer 身份串行处理事件，直到 ctx 结束
	Consume(ctx context.Context, consumer string, handle EventHandler) error
}

// ChannelQueue 进程内队列
type ChannelQueue struct {
	ch chan TaskEvent
}

// NewChannelQueue size 为缓冲区大小
func NewChannelQueue(size int) *ChannelQueue {
	if size <= 0 {
		size = 64
	}
	return &ChannelQueue{ch: make(chan TaskEvent, size)}
}

func (q *ChannelQueue) Enqueue(ctx context.Context, ev TaskEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case q.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ChannelQueue) Consume(ctx context.Context, consumer string, handle EventHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-q.ch:
			if err := handle(ctx, ev); err != nil {
				logger.Warn(ctx, "task event handler failed",
					"consumer", consumer,
					"task_id", ev.TaskID,
					"reason", ev.Reason,
					"error", err.Error(),
				)
			}
		}
	}
}

// Len 待处理事件数
func (q *ChannelQueue) Len() int { return len(q.ch) }

// TryDequeue 非阻塞取出一个事件，测试中逐个驱动任务时使用
func (q *ChannelQueue) TryDequeue() (TaskEvent, bool) {
	select {
	case ev := <-q.ch:
		return ev, true
	default:
		return TaskEvent{}, false
	}
}
