package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestEncodeVector_RoundTripsBits(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error on truncated payload")
	}
}

// openTestClient 需要设置 TEST_REDIS_ADDR
func openTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb)
}

func TestVectorCache_MissThenHit(t *testing.T) {
	c := NewVectorCache(openTestClient(t), time.Minute)
	ctx := context.Background()
	key := "test:emb:" + uuid.NewString()

	if _, ok, err := c.GetVector(ctx, key); err != nil || ok {
		t.Fatalf("miss = %v, %v", ok, err)
	}
	if err := c.SetVector(ctx, key, []float32{0.6, 0.8}); err != nil {
		t.Fatalf("SetVector: %v", err)
	}
	vec, ok, err := c.GetVector(ctx, key)
	if err != nil || !ok || len(vec) != 2 || vec[1] != 0.8 {
		t.Fatalf("hit = %v, %v, %v", vec, ok, err)
	}
	if n, err := c.InvalidatePattern(ctx, key); err != nil || n != 1 {
		t.Fatalf("invalidate = %d, %v", n, err)
	}
}

func TestRateLimiter_BlocksPastLimit(t *testing.T) {
	l := NewRateLimiter(openTestClient(t))
	ctx := context.Background()
	key := BuildRateLimitKey(uuid.NewString(), "POST /tasks")
	t.Cleanup(func() { _ = l.Reset(ctx, key) })

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("request %d = %v, %v", i, ok, err)
		}
	}
	if ok, _ := l.Allow(ctx, key, 3, time.Minute); ok {
		t.Fatalf("fourth request allowed")
	}
}
