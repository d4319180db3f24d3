package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// 清理窗口外成员、计数、未超限时写入，单次往返内原子完成
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  return {0, count}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window * 2)
return {1, count + 1}
`)

// RateLimiter 滑动窗口限流器
type RateLimiter struct {
	client *Client
	now    func() time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow 检查是否允许请求
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.Allow")
	span.SetAttributes(
		attribute.String("ratelimit.key", key),
		attribute.Int("ratelimit.limit", limit),
		attribute.Int64("ratelimit.window_ms", window.Milliseconds()),
	)
	defer span.End()

	res, err := slidingWindow.Run(ctx, l.client.rdb, []string{key},
		l.now().UnixMilli(), window.Milliseconds(), limit, uuid.NewString()).Int64Slice()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("rate limit script failed: %w", err)
	}
	allowed := len(res) == 2 && res[0] == 1
	span.SetAttributes(attribute.Bool("ratelimit.allowed", allowed))
	if len(res) == 2 {
		span.SetAttributes(attribute.Int64("ratelimit.current_count", res[1]))
	}
	return allowed, nil
}

// Reset 重置限流计数
func (l *RateLimiter) Reset(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "ratelimit.Reset")
	span.SetAttributes(attribute.String("ratelimit.key", key))
	defer span.End()

	return l.client.rdb.Del(ctx, key).Err()
}

// BuildRateLimitKey 按调用方与路由构建限流键
func BuildRateLimitKey(clientID, route string) string {
	return fmt.Sprintf("ratelimit:%s:%s", clientID, route)
}
