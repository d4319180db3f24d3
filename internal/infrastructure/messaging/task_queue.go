package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"manuscript-ai-api/internal/application/orchestrator"
	"manuscript-ai-api/internal/config"
	"manuscript-ai-api/pkg/logger"
)

const msgTypeTaskEvent = "task_event"

// TaskQueue 基于 Redis Streams 消费组的任务事件队列
type TaskQueue struct {
	client   *redis.Client
	producer *Producer
	cfg      ConsumerConfig
}

var _ orchestrator.TaskQueue = (*TaskQueue)(nil)

// NewTaskQueue 创建任务队列
func NewTaskQueue(client *redis.Client, cfg config.RedisStreamConfig) *TaskQueue {
	return &TaskQueue{
		client:   client,
		producer: NewProducer(client, int64(cfg.MaxLen)),
		cfg: ConsumerConfig{
			Stream:        StreamTaskEvents,
			Group:         ConsumerGroupPipeline.WithPrefix(cfg.ConsumerGroupPrefix),
			BlockTimeout:  cfg.BlockTimeout,
			ClaimInterval: cfg.ClaimInterval,
			RetryLimit:    cfg.RetryLimit,
			Backoff: BackoffConfig{
				Initial:    cfg.RetryBackoff.Initial,
				Max:        cfg.RetryBackoff.Max,
				Multiplier: cfg.RetryBackoff.Multiplier,
			},
		},
	}
}

// Enqueue 发布任务事件
func (q *TaskQueue) Enqueue(ctx context.Context, ev orchestrator.TaskEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	msg, err := NewMessage(uuid.NewString(), msgTypeTaskEvent, ev.ProjectID, ev)
	if err != nil {
		return fmt.Errorf("failed to build task event: %w", err)
	}
	msg.SetMetadata("task_id", ev.TaskID)
	msg.SetMetadata("reason", ev.Reason)
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok && reqID != "" {
		msg.SetMetadata("request_id", reqID)
	}
	_, err = q.producer.Publish(ctx, StreamTaskEvents, msg)
	return err
}

// Consume 以 consumer 身份阻塞消费，直到 ctx 结束
func (q *TaskQueue) Consume(ctx context.Context, consumer string, handle orchestrator.EventHandler) error {
	cfg := q.cfg
	cfg.ConsumerName = consumer
	c := NewConsumer(q.client, cfg, func(ctx context.Context, msg *Message) error {
		if msg.Type != msgTypeTaskEvent {
			logger.Warn(ctx, "no handler for message type", "type", msg.Type)
			return nil
		}
		var ev orchestrator.TaskEvent
		if err := msg.UnmarshalPayload(&ev); err != nil {
			logger.Error(ctx, "malformed task event dropped", err, "message_id", msg.ID)
			return nil
		}
		return handle(logger.WithTask(ctx, ev.ProjectID, ev.TaskID), ev)
	})
	return c.Run(ctx)
}
