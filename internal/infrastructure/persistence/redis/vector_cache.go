package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"manuscript-ai-api/internal/application/retrieval"
)

var cacheTracer = otel.Tracer("redis.cache")

// VectorCache embedding 结果缓存，值为小端 float32 序列
type VectorCache struct {
	client *Client
	ttl    time.Duration
}

// NewVectorCache 创建向量缓存，ttl <= 0 表示不过期
func NewVectorCache(client *Client, ttl time.Duration) *VectorCache {
	return &VectorCache{client: client, ttl: ttl}
}

var _ retrieval.VectorCache = (*VectorCache)(nil)

// GetVector 读取缓存，未命中时 ok 为 false 且 err 为 nil
func (c *VectorCache) GetVector(ctx context.Context, key string) ([]float32, bool, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.GetVector",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	raw, err := c.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil, false, nil
		}
		span.RecordError(err)
		return nil, false, err
	}
	vec, err := decodeVector(raw)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return vec, true, nil
}

// SetVector 写入缓存
func (c *VectorCache) SetVector(ctx context.Context, key string, vec []float32) error {
	ctx, span := cacheTracer.Start(ctx, "cache.SetVector",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Int64("cache.ttl_ms", c.ttl.Milliseconds()),
		))
	defer span.End()

	if err := c.client.rdb.Set(ctx, key, encodeVector(vec), c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set vector: %w", err)
	}
	return nil
}

// InvalidatePattern 按模式删除缓存
func (c *VectorCache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.InvalidatePattern",
		trace.WithAttributes(attribute.String("cache.pattern", pattern)))
	defer span.End()

	iter := c.client.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	span.SetAttributes(attribute.Int("cache.invalidated_count", len(keys)))
	return len(keys), c.client.rdb.Del(ctx, keys...).Err()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("corrupt cached vector: %d bytes", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec, nil
}
