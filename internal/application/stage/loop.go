package stage

import (
	"context"
	"strconv"

	"manuscript-ai-api/pkg/logger"
	"manuscript-ai-api/pkg/metrics"
)

const defaultMaxExchanges = 4

// Review critic 的结论
type Review struct {
	Approved bool
	Score    float64
	Feedback string
}

// Attempt 第 N 次 proposer 调用的输入
type Attempt[T any] struct {
	N        int
	Feedback string
	// Previous 上一次的候选，首次为 nil
	Previous *T
}

// Proposer 产生候选
type Proposer[T any] func(ctx context.Context, a Attempt[T]) (T, error)

// Critic 评估候选
type Critic[T any] func(ctx context.Context, candidate T) (Review, error)

// LoopConfig 循环上限
type LoopConfig struct {
	MaxExchanges int
	// MaxTokens 单次循环的 token 预算，<=0 不限
	MaxTokens int
}

// StopReason 循环结束原因
type StopReason string

const (
	StopApproved  StopReason = "approved"
	StopExchanges StopReason = "exchanges_exhausted"
	StopTokens    StopReason = "token_budget_exhausted"
)

// Outcome 循环结果，未获批准时 Best 为得分最高的候选
type Outcome[T any] struct {
	Best               T
	Review             Review
	Exchanges          int
	UnapprovedByCritic bool
	Stop               StopReason
}

// Loop 有界的 proposer/critic 交替：批准即停，否则在交换次数或 token 预算用尽后返回最佳候选。
// proposer 与 critic 串行调用，两次交换之间检查中断。
func Loop[T any](ctx context.Context, tc *TaskContext, name string, cfg LoopConfig, propose Proposer[T], critique Critic[T]) (*Outcome[T], error) {
	maxEx := cfg.MaxExchanges
	if maxEx <= 0 {
		maxEx = defaultMaxExchanges
	}
	startTokens := tc.Meter.Tokens()

	var (
		best     T
		bestRev  Review
		hasBest  bool
		previous *T
		feedback string
		stop     = StopExchanges
		n        int
	)
	for n = 1; n <= maxEx; n++ {
		if n > 1 {
			if err := tc.CheckInterrupt(ctx); err != nil {
				return nil, err
			}
		}

		cand, err := propose(ctx, Attempt[T]{N: n, Feedback: feedback, Previous: previous})
		if err != nil {
			return nil, err
		}
		rev, err := critique(ctx, cand)
		if err != nil {
			return nil, err
		}

		if rev.Approved {
			observeExchanges(name, n, true)
			logger.Debug(ctx, "agent loop approved", "role", name, "exchanges", n, "score", rev.Score)
			return &Outcome[T]{Best: cand, Review: rev, Exchanges: n, Stop: StopApproved}, nil
		}
		if !hasBest || rev.Score > bestRev.Score {
			best, bestRev, hasBest = cand, rev, true
		}
		c := cand
		previous = &c
		feedback = rev.Feedback

		if cfg.MaxTokens > 0 && tc.Meter.Tokens()-startTokens >= cfg.MaxTokens {
			stop = StopTokens
			break
		}
	}
	if n > maxEx {
		n = maxEx
	}

	observeExchanges(name, n, false)
	logger.Info(ctx, "agent loop ended without approval",
		"role", name,
		"exchanges", n,
		"reason", string(stop),
		"best_score", bestRev.Score,
	)
	return &Outcome[T]{Best: best, Review: bestRev, Exchanges: n, UnapprovedByCritic: true, Stop: stop}, nil
}

func observeExchanges(name string, n int, approved bool) {
	metrics.AgentExchanges.WithLabelValues(name, strconv.FormatBool(approved)).Observe(float64(n))
}
