package messaging

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"manuscript-ai-api/internal/application/orchestrator"
	"manuscript-ai-api/internal/config"
)

func TestCalculateBackoff_CapsAtMax(t *testing.T) {
	b := BackoffConfig{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}
	cases := map[int]time.Duration{0: time.Second, 1: 2 * time.Second, 2: 4 * time.Second, 3: 5 * time.Second, 10: 5 * time.Second}
	for n, want := range cases {
		if got := b.CalculateBackoff(n); got != want {
			t.Fatalf("CalculateBackoff(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestConsumerGroup_WithPrefix(t *testing.T) {
	if got := ConsumerGroupPipeline.WithPrefix("staging"); got != "staging-cg-pipeline-worker" {
		t.Fatalf("WithPrefix = %q", got)
	}
	if got := ConsumerGroupPipeline.WithPrefix(""); got != ConsumerGroupPipeline {
		t.Fatalf("empty prefix = %q", got)
	}
}

func TestTaskQueue_EnqueueThenConsume(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	q := NewTaskQueue(rdb, config.RedisStreamConfig{
		ConsumerGroupPrefix: "test-" + uuid.NewString()[:8],
		BlockTimeout:        100 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	want := orchestrator.TaskEvent{TaskID: uuid.NewString(), ProjectID: "p1", Reason: orchestrator.ReasonStart}
	got := make(chan orchestrator.TaskEvent, 8)
	go func() {
		_ = q.Consume(ctx, "c1", func(ctx context.Context, ev orchestrator.TaskEvent) error {
			got <- ev
			return nil
		})
	}()
	if err := q.Enqueue(ctx, want); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	for {
		select {
		case ev := <-got:
			if ev.TaskID == want.TaskID {
				if ev.Reason != orchestrator.ReasonStart || ev.At.IsZero() {
					t.Fatalf("event = %+v", ev)
				}
				return
			}
		case <-ctx.Done():
			t.Fatalf("event not consumed")
		}
	}
}
