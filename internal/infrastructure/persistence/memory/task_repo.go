package memory

import (
	"context"
	"sort"
	"time"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
	apperrors "manuscript-ai-api/pkg/errors"
)

// TaskRepository 内存检查点存储
type TaskRepository struct {
	s   *Store
	now func() time.Time
}

// NewTaskRepository 创建任务仓储
func NewTaskRepository(s *Store) *TaskRepository {
	return &TaskRepository{s: s, now: time.Now}
}

var _ repository.TaskRepository = (*TaskRepository)(nil)

// SetClock 测试中替换时钟
func (r *TaskRepository) SetClock(now func() time.Time) { r.now = now }

func (r *TaskRepository) Create(ctx context.Context, task *entity.GenerationTask) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tasks[task.ID]; ok {
		return apperrors.ErrConflict.WithDetail("task already exists")
	}
	task.Version = 1
	r.s.tasks[task.ID] = task.Clone()
	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*entity.GenerationTask, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.tasks[id].Clone(), nil
}

func (r *TaskRepository) CompareAndSwap(ctx context.Context, task *entity.GenerationTask, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.tasks[task.ID]
	if !ok {
		return apperrors.ErrTaskNotFound
	}
	if cur.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	next := task.Clone()
	next.Version = expectedVersion + 1
	// 租约字段只由 Claim/Heartbeat/Release 维护
	next.LeaseOwner = cur.LeaseOwner
	next.LeaseExpiresAt = cur.LeaseExpiresAt
	next.HeartbeatAt = cur.HeartbeatAt
	next.CreatedAt = cur.CreatedAt
	r.s.tasks[task.ID] = next
	task.Version = next.Version
	return nil
}

func (r *TaskRepository) Claim(ctx context.Context, id, owner string, ttl time.Duration) (*entity.GenerationTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.tasks[id]
	if !ok {
		return nil, apperrors.ErrTaskNotFound
	}
	now := r.now()
	held := cur.LeaseOwner != "" && cur.LeaseOwner != owner &&
		cur.LeaseExpiresAt != nil && cur.LeaseExpiresAt.After(now)
	if held {
		return nil, repository.ErrLeaseHeld
	}
	exp := now.Add(ttl)
	hb := now
	cur.LeaseOwner = owner
	cur.LeaseExpiresAt = &exp
	cur.HeartbeatAt = &hb
	cur.Version++
	return cur.Clone(), nil
}

func (r *TaskRepository) Heartbeat(ctx context.Context, id, owner string, ttl time.Duration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.tasks[id]
	if !ok {
		return apperrors.ErrTaskNotFound
	}
	if cur.LeaseOwner != owner {
		return repository.ErrLeaseLost
	}
	now := r.now()
	exp := now.Add(ttl)
	cur.LeaseExpiresAt = &exp
	cur.HeartbeatAt = &now
	return nil
}

func (r *TaskRepository) Release(ctx context.Context, id, owner string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.tasks[id]
	if !ok || cur.LeaseOwner != owner {
		return nil
	}
	cur.LeaseOwner = ""
	cur.LeaseExpiresAt = nil
	return nil
}

func (r *TaskRepository) ExpireStaleLease(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.tasks[id]
	if !ok {
		return false, nil
	}
	if !isStale(cur, staleBefore) {
		return false, nil
	}
	cur.LeaseOwner = ""
	cur.LeaseExpiresAt = nil
	cur.Version++
	return true, nil
}

func (r *TaskRepository) ListByState(ctx context.Context, states []entity.TaskState, limit int) ([]*entity.GenerationTask, error) {
	want := map[entity.TaskState]bool{}
	for _, s := range states {
		want[s] = true
	}
	return r.list(limit, false, func(t *entity.GenerationTask) bool { return want[t.State] }), nil
}

func (r *TaskRepository) ListStale(ctx context.Context, state entity.TaskState, staleBefore time.Time, limit int) ([]*entity.GenerationTask, error) {
	return r.list(limit, false, func(t *entity.GenerationTask) bool {
		return t.State == state && isStale(t, staleBefore)
	}), nil
}

func (r *TaskRepository) ListByProject(ctx context.Context, projectID string, limit int) ([]*entity.GenerationTask, error) {
	return r.list(limit, true, func(t *entity.GenerationTask) bool { return t.ProjectID == projectID }), nil
}

func (r *TaskRepository) list(limit int, newestFirst bool, keep func(*entity.GenerationTask) bool) []*entity.GenerationTask {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*entity.GenerationTask
	for _, t := range r.s.tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			if newestFirst {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// isStale 心跳早于 staleBefore，从未心跳时看 UpdatedAt
func isStale(t *entity.GenerationTask, staleBefore time.Time) bool {
	if t.HeartbeatAt != nil {
		return t.HeartbeatAt.Before(staleBefore)
	}
	return t.UpdatedAt.Before(staleBefore)
}
