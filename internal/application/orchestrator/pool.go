package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
	"manuscript-ai-api/pkg/logger"
	"manuscript-ai-api/pkg/metrics"
)

// maxBusyRetries 租约一直被占用时最多重投的次数，之后交给 Sweeper
const maxBusyRetries = 20

// Pool 固定数量的 worker 从队列取事件并驱动任务
type Pool struct {
	queue    TaskQueue
	runner   *Runner
	workers  int
	wg       sync.WaitGroup
	cancelFn context.CancelFunc
	// busyDelay 租约被占用时重投事件前的等待
	busyDelay time.Duration
}

func NewPool(queue TaskQueue, runner *Runner, workers int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	// 持有租约的 worker 最迟在下一次心跳时发现暂停或版本变化
	return &Pool{queue: queue, runner: runner, workers: workers, busyDelay: runner.cfg.HeartbeatInterval}
}

// Start 启动 worker，直到 ctx 结束或调用 Stop
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancelFn = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		name := fmt.Sprintf("%s-%d", p.runner.Owner(), i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			wctx := logger.WithContext(ctx, logger.WorkerIDKey, name)
			logger.Info(wctx, "pipeline worker started")
			err := p.queue.Consume(wctx, name, p.handle)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(wctx, "pipeline worker stopped", err)
				return
			}
			logger.Info(wctx, "pipeline worker stopped")
		}()
	}
}

// handle 执行事件；租约仍被占用（例如暂停后立即恢复，旧 worker 尚未退出）时延迟重投
func (p *Pool) handle(ctx context.Context, ev TaskEvent) error {
	err := p.runner.Run(ctx, ev.TaskID)
	if !errors.Is(err, ErrTaskBusy) {
		return err
	}
	if ev.Attempt >= maxBusyRetries {
		logger.Warn(ctx, "task lease still held, leaving it to the sweeper",
			"task_id", ev.TaskID,
			"attempts", ev.Attempt,
		)
		return nil
	}
	ev.Attempt++
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := sleepCtx(ctx, p.busyDelay); err != nil {
			return
		}
		if err := p.queue.Enqueue(ctx, ev); err != nil {
			logger.Warn(ctx, "failed to requeue busy task event", "task_id", ev.TaskID, "error", err.Error())
		}
	}()
	return nil
}

// Stop 通知 worker 退出并等待
func (p *Pool) Stop() {
	if p.cancelFn != nil {
		p.cancelFn()
	}
	p.wg.Wait()
}

// SweeperConfig 恢复巡检参数
type SweeperConfig struct {
	Interval time.Duration
	// StaleAfter 心跳超过该时长视为 worker 已失效
	StaleAfter time.Duration
	BatchSize  int
}

// Sweeper 周期性找回失去 worker 的任务：心跳过期的 running 任务释放租约后重新入队，
// 长时间未被认领的 queued 任务重新投递
type Sweeper struct {
	tasks repository.TaskRepository
	queue TaskQueue
	cfg   SweeperConfig
	now   func() time.Time
}

func NewSweeper(tasks repository.TaskRepository, queue TaskQueue, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{tasks: tasks, queue: queue, cfg: cfg, now: time.Now}
}

// Run 阻塞运行，直到 ctx 结束
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "recovery sweep failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// SweepOnce 执行一轮巡检，返回重新入队的任务数
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	staleBefore := s.now().Add(-s.cfg.StaleAfter)
	n := 0

	running, err := s.tasks.ListStale(ctx, entity.TaskStateRunning, staleBefore, s.cfg.BatchSize)
	if err != nil {
		return n, fmt.Errorf("failed to list stale running tasks: %w", err)
	}
	for _, t := range running {
		ok, err := s.tasks.ExpireStaleLease(ctx, t.ID, staleBefore)
		if err != nil {
			return n, fmt.Errorf("failed to expire lease: %w", err)
		}
		if !ok {
			continue
		}
		if s.requeue(ctx, t, "stale_lease") {
			n++
		}
	}

	queued, err := s.tasks.ListStale(ctx, entity.TaskStateQueued, staleBefore, s.cfg.BatchSize)
	if err != nil {
		return n, fmt.Errorf("failed to list stale queued tasks: %w", err)
	}
	for _, t := range queued {
		if t.LeaseOwner != "" {
			continue
		}
		if s.requeue(ctx, t, "lost_event") {
			n++
		}
	}
	if n > 0 {
		logger.Info(ctx, "recovery sweep requeued tasks", "count", n)
	}
	return n, nil
}

func (s *Sweeper) requeue(ctx context.Context, t *entity.GenerationTask, reason string) bool {
	tctx := logger.WithTask(ctx, t.ProjectID, t.ID)
	err := s.queue.Enqueue(tctx, TaskEvent{TaskID: t.ID, ProjectID: t.ProjectID, Reason: ReasonRecover, At: s.now()})
	if err != nil {
		logger.Warn(tctx, "failed to requeue task", "reason", reason, "error", err.Error())
		return false
	}
	metrics.SweeperReclaimed.WithLabelValues(reason).Inc()
	logger.Info(tctx, "task requeued by sweeper", "reason", reason, "stage", string(t.Stage))
	return true
}
