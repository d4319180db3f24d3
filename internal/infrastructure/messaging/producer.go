package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("messaging")

const defaultPublishTries = 3

// Producer 消息生产者，XADD 失败时指数退避重试
type Producer struct {
	client   *redis.Client
	maxLen   int64
	maxTries uint
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client:   client,
		maxLen:   maxLen,
		maxTries: defaultPublishTries,
	}
}

// Publish 发布消息到指定流，返回流内消息 ID
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 2 * time.Second

	id, err := backoff.Retry(ctx, func() (string, error) {
		return p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: string(stream),
			MaxLen: p.maxLen,
			Approx: true,
			Values: map[string]any{"data": string(data)},
		}).Result()
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(p.maxTries),
	)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", id))
	return id, nil
}
