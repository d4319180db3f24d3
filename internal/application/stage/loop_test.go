package stage

import (
	"context"
	"errors"
	"testing"

	"manuscript-ai-api/internal/domain/entity"
	llmctx "manuscript-ai-api/internal/domain/service"
)

func newTestTaskContext() *TaskContext {
	return NewTaskContext(&entity.GenerationTask{ID: "t1", ProjectID: "p1"}, Brief{Title: "门诊手记"})
}

func TestLoop_ApprovesOnSecondExchange(t *testing.T) {
	tc := newTestTaskContext()
	var seen []string
	propose := func(_ context.Context, a Attempt[int]) (int, error) {
		seen = append(seen, a.Feedback)
		if a.N > 1 && (a.Previous == nil || *a.Previous != a.N-1) {
			t.Fatalf("attempt %d previous = %v", a.N, a.Previous)
		}
		return a.N, nil
	}
	critique := func(_ context.Context, c int) (Review, error) {
		return Review{Approved: c == 2, Score: float64(c) / 10, Feedback: "再具体一些"}, nil
	}

	out, err := Loop(context.Background(), tc, "test", LoopConfig{MaxExchanges: 4}, propose, critique)
	if err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if out.Best != 2 || out.Exchanges != 2 || out.Stop != StopApproved || out.UnapprovedByCritic {
		t.Fatalf("outcome = %+v", out)
	}
	if len(seen) != 2 || seen[0] != "" || seen[1] != "再具体一些" {
		t.Fatalf("feedback passed to proposer = %q", seen)
	}
}

func TestLoop_ReturnsBestWhenNeverApproved(t *testing.T) {
	tc := newTestTaskContext()
	scores := map[int]float64{1: 0.4, 2: 0.7, 3: 0.5}
	propose := func(_ context.Context, a Attempt[int]) (int, error) { return a.N, nil }
	critique := func(_ context.Context, c int) (Review, error) {
		return Review{Score: scores[c], Feedback: "不够好"}, nil
	}

	out, err := Loop(context.Background(), tc, "test", LoopConfig{MaxExchanges: 3}, propose, critique)
	if err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if out.Best != 2 || out.Review.Score != 0.7 {
		t.Fatalf("best = %d score = %.2f", out.Best, out.Review.Score)
	}
	if !out.UnapprovedByCritic || out.Stop != StopExchanges || out.Exchanges != 3 {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestLoop_StopsOnTokenBudget(t *testing.T) {
	tc := newTestTaskContext()
	calls := 0
	propose := func(_ context.Context, a Attempt[int]) (int, error) {
		calls++
		tc.Meter.Add(llmctx.LLMUsage{PromptTokens: 60, CompletionTokens: 40})
		return a.N, nil
	}
	critique := func(_ context.Context, c int) (Review, error) { return Review{Score: 0.1}, nil }

	out, err := Loop(context.Background(), tc, "test", LoopConfig{MaxExchanges: 10, MaxTokens: 250}, propose, critique)
	if err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if calls != 3 || out.Stop != StopTokens || out.Exchanges != 3 {
		t.Fatalf("calls = %d outcome = %+v", calls, out)
	}
	if got := len(tc.Meter.Drain()); got != 3 {
		t.Fatalf("usage entries = %d", got)
	}
}

func TestLoop_InterruptBetweenExchanges(t *testing.T) {
	tc := newTestTaskContext()
	paused := false
	tc.Interrupt = func(context.Context) error {
		if paused {
			return ErrInterrupted
		}
		return nil
	}
	propose := func(_ context.Context, a Attempt[int]) (int, error) {
		paused = true
		return a.N, nil
	}
	critique := func(_ context.Context, c int) (Review, error) { return Review{Score: 0.2}, nil }

	_, err := Loop(context.Background(), tc, "test", LoopConfig{MaxExchanges: 4}, propose, critique)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
}

func TestLoop_ProposerErrorStops(t *testing.T) {
	tc := newTestTaskContext()
	boom := errors.New("boom")
	propose := func(_ context.Context, a Attempt[int]) (int, error) { return 0, boom }
	critique := func(_ context.Context, c int) (Review, error) {
		t.Fatalf("critic must not run")
		return Review{}, nil
	}
	if _, err := Loop(context.Background(), tc, "test", LoopConfig{}, propose, critique); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}
