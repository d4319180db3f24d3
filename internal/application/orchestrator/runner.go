package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"manuscript-ai-api/internal/application/stage"
	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
	llmctx "manuscript-ai-api/internal/domain/service"
	apperrors "manuscript-ai-api/pkg/errors"
	"manuscript-ai-api/pkg/logger"
	"manuscript-ai-api/pkg/metrics"
	"manuscript-ai-api/pkg/tracer"
)

// StepOutcome 处理器的一次执行结果，由 Runner 转换为状态迁移并提交
type StepOutcome struct {
	// Kind 只能是 advance、suspend 或 complete
	Kind        entity.TransitionKind
	To          entity.Stage
	Snapshot    *WorkflowSnapshot
	ArtifactIDs []string
	Decision    string
	// EmbeddingCalls 计入成本的向量调用次数
	EmbeddingCalls int
}

func advance(to entity.Stage, snap *WorkflowSnapshot, ids ...string) *StepOutcome {
	return &StepOutcome{Kind: entity.TransitionAdvance, To: to, Snapshot: snap, ArtifactIDs: ids}
}

func suspend(snap *WorkflowSnapshot, decision string, ids ...string) *StepOutcome {
	return &StepOutcome{Kind: entity.TransitionSuspend, Snapshot: snap, Decision: decision, ArtifactIDs: ids}
}

// RunContext 一次阶段执行的输入
type RunContext struct {
	Task     *entity.GenerationTask
	Snapshot *WorkflowSnapshot
	TC       *stage.TaskContext
}

// StageHandler 执行任务当前所在阶段的一步
type StageHandler func(ctx context.Context, rc *RunContext) (*StepOutcome, error)

// Handlers 阶段到处理器的映射，必须覆盖全部阶段
type Handlers map[entity.Stage]StageHandler

// RetryPolicy 阶段内重试上限
type RetryPolicy struct {
	Transient int
	Grounding int
	Safety    int
	Backoff   BackoffPolicy
}

// BackoffPolicy 瞬时错误的指数退避
type BackoffPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// RunnerConfig 执行器参数
type RunnerConfig struct {
	Owner             string
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	CallTimeout       time.Duration
	Retries           RetryPolicy
}

// Runner 认领任务后逐阶段执行，每一步结束都以 CAS 提交检查点
type Runner struct {
	tasks    repository.TaskRepository
	handlers Handlers
	pricing  llmctx.Pricing
	cfg      RunnerConfig
	// sleep 可在测试中替换
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner 校验处理器表覆盖全部阶段
func NewRunner(tasks repository.TaskRepository, handlers Handlers, pricing llmctx.Pricing, cfg RunnerConfig) (*Runner, error) {
	for _, s := range entity.AllStages() {
		if handlers[s] == nil {
			return nil, fmt.Errorf("no handler registered for stage %s", s)
		}
	}
	for s := range handlers {
		if !s.Valid() {
			return nil, fmt.Errorf("handler registered for unknown stage %q", s)
		}
	}
	if cfg.Owner == "" {
		return nil, fmt.Errorf("runner owner is required")
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatInterval >= cfg.LeaseTTL {
		cfg.HeartbeatInterval = cfg.LeaseTTL / 3
	}
	if cfg.Retries.Backoff.Initial <= 0 {
		cfg.Retries.Backoff.Initial = time.Second
	}
	if cfg.Retries.Backoff.Max <= 0 {
		cfg.Retries.Backoff.Max = 30 * time.Second
	}
	if cfg.Retries.Backoff.Multiplier <= 1 {
		cfg.Retries.Backoff.Multiplier = 2
	}
	return &Runner{tasks: tasks, handlers: handlers, pricing: pricing, cfg: cfg, sleep: sleepCtx}, nil
}

// Owner 租约持有者标识
func (r *Runner) Owner() string { return r.cfg.Owner }

// ErrTaskBusy 任务租约由其他 worker 持有
var ErrTaskBusy = errors.New("task lease held by another worker")

// Run 驱动任务直到挂起、暂停、结束或失去租约。
// 其他 worker 持有租约时返回 ErrTaskBusy，任务已不可执行时返回 nil。
func (r *Runner) Run(ctx context.Context, taskID string) error {
	ctx = logger.WithContext(ctx, logger.WorkerIDKey, r.cfg.Owner)
	task, err := r.tasks.Claim(ctx, taskID, r.cfg.Owner, r.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, repository.ErrLeaseHeld) {
			logger.Debug(ctx, "task lease held elsewhere", "task_id", taskID)
			return ErrTaskBusy
		}
		if errors.Is(err, apperrors.ErrTaskNotFound) {
			logger.Warn(ctx, "task event for unknown task", "task_id", taskID)
			return nil
		}
		return fmt.Errorf("failed to claim task: %w", err)
	}
	ctx = logger.WithTask(ctx, task.ProjectID, task.ID)
	defer func() {
		if err := r.tasks.Release(context.WithoutCancel(ctx), task.ID, r.cfg.Owner); err != nil {
			logger.Warn(ctx, "failed to release task lease", "error", err.Error())
		}
	}()

	if task.State == entity.TaskStateQueued {
		if err := r.commit(ctx, task, entity.Transition{Kind: entity.TransitionStart}); err != nil {
			return r.stopOnConflict(ctx, err)
		}
	}
	if task.State != entity.TaskStateRunning {
		logger.Debug(ctx, "task not runnable", "state", string(task.State))
		return nil
	}

	var lost atomic.Bool
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go r.heartbeat(hbCtx, task.ID, &lost)

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	for task.State == entity.TaskStateRunning {
		if err := r.checkCurrent(ctx, task, &lost); err != nil {
			logger.Info(ctx, "runner stopped at checkpoint", "reason", err.Error())
			return nil
		}
		if err := r.step(ctx, task, &lost); err != nil {
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		}
	}
	logger.Info(ctx, "runner finished", "state", string(task.State), "stage", string(task.Stage))
	return nil
}

var errStop = errors.New("runner stopped")

// step 执行当前阶段一次并提交结果
func (r *Runner) step(ctx context.Context, task *entity.GenerationTask, lost *atomic.Bool) error {
	snap, err := DecodeSnapshot(task.Snapshot)
	if err != nil {
		return r.failThenStop(ctx, task, entity.Cost{}, err.Error())
	}
	tc := stage.NewTaskContext(task, snap.Brief)
	tc.CallTimeout = r.cfg.CallTimeout
	tc.Interrupt = func(ictx context.Context) error { return r.checkCurrent(ictx, task, lost) }

	st := task.Stage
	sctx := logger.WithContext(ctx, logger.StageKey, string(st))
	sctx, span := tracer.StartStage(sctx, task.ID, string(st))
	started := time.Now()
	out, runErr := r.handlers[st](sctx, &RunContext{Task: task, Snapshot: snap.Clone(), TC: tc})
	tracer.Fail(span, runErr)
	span.End()
	metrics.StageDuration.WithLabelValues(string(st)).Observe(time.Since(started).Seconds())

	cost := llmctx.CostOf(r.pricing, tc.Meter.Drain()...)
	if runErr == nil {
		cost.EmbeddingCalls += out.EmbeddingCalls
		metrics.StageRunsTotal.WithLabelValues(string(st), "ok").Inc()
		return r.commitOutcome(sctx, task, out, cost)
	}
	return r.handleError(sctx, task, runErr, cost)
}

func (r *Runner) commitOutcome(ctx context.Context, task *entity.GenerationTask, out *StepOutcome, cost entity.Cost) error {
	tr := entity.Transition{
		Kind:        out.Kind,
		To:          out.To,
		ArtifactIDs: out.ArtifactIDs,
		Cost:        cost,
		Decision:    out.Decision,
	}
	if out.Snapshot != nil {
		raw, err := out.Snapshot.Encode()
		if err != nil {
			return r.failThenStop(ctx, task, cost, err.Error())
		}
		tr.Snapshot = raw
	}
	if err := r.commit(ctx, task, tr); err != nil {
		return r.stopOnConflict(ctx, err)
	}
	return nil
}

// handleError 按错误分类决定重试、挂起或失败
func (r *Runner) handleError(ctx context.Context, task *entity.GenerationTask, err error, cost entity.Cost) error {
	st := string(task.Stage)
	if errors.Is(err, stage.ErrInterrupted) {
		metrics.StageRunsTotal.WithLabelValues(st, "interrupted").Inc()
		logger.Info(ctx, "stage interrupted", "stage", st)
		return errStop
	}
	if ctx.Err() != nil {
		metrics.StageRunsTotal.WithLabelValues(st, "interrupted").Inc()
		return ctx.Err()
	}

	kind, _ := apperrors.KindOf(err)
	switch kind {
	case apperrors.KindTransientProvider:
		metrics.StageRunsTotal.WithLabelValues(st, "transient").Inc()
		if task.RetryCount >= r.cfg.Retries.Transient {
			return r.failThenStop(ctx, task, cost, fmt.Sprintf("transient provider errors exceeded %d retries: %v", r.cfg.Retries.Transient, err))
		}
		if cerr := r.commit(ctx, task, entity.Transition{Kind: entity.TransitionRetry, Reason: err.Error(), Cost: cost}); cerr != nil {
			return r.stopOnConflict(ctx, cerr)
		}
		delay := r.backoffFor(task.RetryCount)
		logger.Warn(ctx, "transient stage error, retrying",
			"stage", st,
			"retry_count", task.RetryCount,
			"delay", delay.String(),
			"error", err.Error(),
		)
		if serr := r.sleep(ctx, delay); serr != nil {
			return serr
		}
		return nil

	case apperrors.KindInsufficientGrounding, apperrors.KindSafetyBlocked:
		// 处理器已用完快照中的重试次数，交给人工
		metrics.StageRunsTotal.WithLabelValues(st, "needs_feedback").Inc()
		if entity.CanSuspend(task.Stage) {
			if cerr := r.commit(ctx, task, entity.Transition{Kind: entity.TransitionSuspend, Decision: decisionFor(err), Cost: cost}); cerr != nil {
				return r.stopOnConflict(ctx, cerr)
			}
			return nil
		}
		return r.failThenStop(ctx, task, cost, err.Error())

	default:
		metrics.StageRunsTotal.WithLabelValues(st, "failed").Inc()
		logger.Error(ctx, "stage failed", err, "stage", st)
		return r.failThenStop(ctx, task, cost, err.Error())
	}
}

func decisionFor(err error) string { return "revise required: " + reasonOf(err) }

func (r *Runner) failThenStop(ctx context.Context, task *entity.GenerationTask, cost entity.Cost, reason string) error {
	if err := r.commit(ctx, task, entity.Transition{Kind: entity.TransitionFail, Reason: reason, Cost: cost}); err != nil {
		return r.stopOnConflict(ctx, err)
	}
	return errStop
}

// commit 在副本上执行迁移并 CAS 写入，成功后替换 task
func (r *Runner) commit(ctx context.Context, task *entity.GenerationTask, tr entity.Transition) error {
	expected := task.Version
	next := task.Clone()
	if err := next.Apply(tr); err != nil {
		return err
	}
	if err := r.tasks.CompareAndSwap(ctx, next, expected); err != nil {
		return err
	}
	next.LeaseOwner, next.LeaseExpiresAt, next.HeartbeatAt = task.LeaseOwner, task.LeaseExpiresAt, task.HeartbeatAt
	*task = *next
	metrics.TaskTransitions.WithLabelValues(string(tr.Kind), string(task.State)).Inc()
	logger.Info(ctx, "task transition committed",
		"kind", string(tr.Kind),
		"state", string(task.State),
		"stage", string(task.Stage),
		"version", task.Version,
	)
	return nil
}

// stopOnConflict 版本冲突说明其他写入者（暂停、取消、接管）已推进任务，本次执行放弃
func (r *Runner) stopOnConflict(ctx context.Context, err error) error {
	if errors.Is(err, repository.ErrVersionConflict) {
		logger.Info(ctx, "checkpoint superseded by another writer, stopping")
		return errStop
	}
	var illegal *entity.ErrIllegalTransition
	if errors.As(err, &illegal) {
		logger.Error(ctx, "illegal transition from runner", err)
		return errStop
	}
	return fmt.Errorf("failed to commit checkpoint: %w", err)
}

// checkCurrent 协作式中断点：租约丢失或存储中的版本已前进时停止
func (r *Runner) checkCurrent(ctx context.Context, task *entity.GenerationTask, lost *atomic.Bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if lost.Load() {
		return stage.ErrInterrupted
	}
	cur, err := r.tasks.GetByID(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("failed to reload task: %w", err)
	}
	if cur == nil || cur.Version != task.Version || cur.State != entity.TaskStateRunning {
		return stage.ErrInterrupted
	}
	return nil
}

func (r *Runner) heartbeat(ctx context.Context, taskID string, lost *atomic.Bool) {
	t := time.NewTicker(r.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := r.tasks.Heartbeat(ctx, taskID, r.cfg.Owner, r.cfg.LeaseTTL)
			if errors.Is(err, repository.ErrLeaseLost) {
				lost.Store(true)
				logger.Warn(ctx, "task lease lost", "task_id", taskID)
				return
			}
			if err != nil && ctx.Err() == nil {
				logger.Warn(ctx, "heartbeat failed", "task_id", taskID, "error", err.Error())
			}
		}
	}
}

// backoffFor 第 n 次重试前的等待时间（带抖动）
func (r *Runner) backoffFor(n int) time.Duration {
	p := r.cfg.Retries.Backoff
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.Max,
	}
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
