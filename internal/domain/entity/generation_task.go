package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskState 任务状态
type TaskState string

const (
	TaskStateQueued           TaskState = "queued"
	TaskStateRunning          TaskState = "running"
	TaskStatePaused           TaskState = "paused"
	TaskStateAwaitingFeedback TaskState = "awaiting_feedback"
	TaskStateCompleted        TaskState = "completed"
	TaskStateFailed           TaskState = "failed"
	TaskStateCancelled        TaskState = "cancelled"
)

// Terminal 是否为终态
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed || s == TaskStateCancelled
}

// Cost 成本累计
type Cost struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	LLMCalls         int     `json:"llm_calls"`
	EmbeddingCalls   int     `json:"embedding_calls"`
	EstimatedUSD     float64 `json:"estimated_usd"`
}

// Add 累加
func (c Cost) Add(d Cost) Cost {
	return Cost{
		PromptTokens:     c.PromptTokens + d.PromptTokens,
		CompletionTokens: c.CompletionTokens + d.CompletionTokens,
		LLMCalls:         c.LLMCalls + d.LLMCalls,
		EmbeddingCalls:   c.EmbeddingCalls + d.EmbeddingCalls,
		EstimatedUSD:     c.EstimatedUSD + d.EstimatedUSD,
	}
}

// TotalTokens prompt + completion
func (c Cost) TotalTokens() int64 { return c.PromptTokens + c.CompletionTokens }

// GenerationTask 编排器的持久化记录（检查点）。
// 状态相关字段只能经由 Apply 修改；Lease* 与 HeartbeatAt 由检查点存储的 Claim/Heartbeat/Release 维护。
type GenerationTask struct {
	ID              string          `json:"id"`
	ProjectID       string          `json:"project_id"`
	State           TaskState       `json:"state"`
	Stage           Stage           `json:"stage"`
	PriorState      TaskState       `json:"prior_state,omitempty"`
	RetryCount      int             `json:"retry_count"`
	Cost            Cost            `json:"cost"`
	LastArtifactIDs []string        `json:"last_artifact_ids"`
	Snapshot        json.RawMessage `json:"snapshot"`
	PendingDecision string          `json:"pending_decision,omitempty"`
	FailureStage    Stage           `json:"failure_stage,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	Version         int64           `json:"version"`
	LeaseOwner      string          `json:"lease_owner,omitempty"`
	LeaseExpiresAt  *time.Time      `json:"lease_expires_at,omitempty"`
	HeartbeatAt     *time.Time      `json:"heartbeat_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// NewGenerationTask 创建排队中的任务
func NewGenerationTask(projectID string, snapshot json.RawMessage) *GenerationTask {
	now := time.Now()
	return &GenerationTask{
		ID:              uuid.NewString(),
		ProjectID:       projectID,
		State:           TaskStateQueued,
		Stage:           StageIngest,
		LastArtifactIDs: []string{},
		Snapshot:        snapshot,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// TransitionKind 迁移类型
type TransitionKind string

const (
	TransitionStart    TransitionKind = "start"
	TransitionAdvance  TransitionKind = "advance"
	TransitionSuspend  TransitionKind = "suspend"
	TransitionFeedback TransitionKind = "feedback"
	TransitionRetry    TransitionKind = "retry"
	TransitionPause    TransitionKind = "pause"
	TransitionResume   TransitionKind = "resume"
	TransitionFail     TransitionKind = "fail"
	TransitionCancel   TransitionKind = "cancel"
	TransitionComplete TransitionKind = "complete"
)

// Transition 一次状态迁移。Snapshot 为 nil 时保留原快照。
type Transition struct {
	Kind TransitionKind
	// To advance/feedback 的目标阶段
	To          Stage
	Snapshot    json.RawMessage
	ArtifactIDs []string
	Cost        Cost
	// Decision suspend 时说明需要用户做出的决定
	Decision string
	// Reason fail/retry 的原因
	Reason string
}

// ErrIllegalTransition 非法迁移
type ErrIllegalTransition struct {
	Kind  TransitionKind
	State TaskState
	Stage Stage
	To    Stage
}

func (e *ErrIllegalTransition) Error() string {
	if e.To != "" {
		return fmt.Sprintf("illegal transition %s from %s(%s) to %s", e.Kind, e.State, e.Stage, e.To)
	}
	return fmt.Sprintf("illegal transition %s from %s(%s)", e.Kind, e.State, e.Stage)
}

// Apply 执行迁移，这是唯一合法的状态修改路径。失败时任务保持不变。
func (t *GenerationTask) Apply(tr Transition) error {
	illegal := &ErrIllegalTransition{Kind: tr.Kind, State: t.State, Stage: t.Stage, To: tr.To}
	next := *t

	switch tr.Kind {
	case TransitionStart:
		if t.State != TaskStateQueued {
			return illegal
		}
		next.State = TaskStateRunning
		next.Stage = StageIngest

	case TransitionAdvance:
		if t.State != TaskStateRunning || !canAdvance(t.Stage, tr.To) {
			return illegal
		}
		// 每次提交检查点都重置瞬时错误计数
		next.RetryCount = 0
		next.Stage = tr.To

	case TransitionSuspend:
		if t.State != TaskStateRunning || !CanSuspend(t.Stage) {
			return illegal
		}
		next.State = TaskStateAwaitingFeedback
		next.PendingDecision = tr.Decision
		next.RetryCount = 0

	case TransitionFeedback:
		if t.State != TaskStateAwaitingFeedback || !canFeedback(t.Stage, tr.To) {
			return illegal
		}
		next.State = TaskStateRunning
		next.Stage = tr.To
		next.PendingDecision = ""
		next.RetryCount = 0

	case TransitionRetry:
		if t.State != TaskStateRunning {
			return illegal
		}
		next.RetryCount++

	case TransitionPause:
		switch t.State {
		case TaskStateQueued, TaskStateRunning, TaskStateAwaitingFeedback:
		default:
			return illegal
		}
		next.PriorState = t.State
		next.State = TaskStatePaused

	case TransitionResume:
		if t.State != TaskStatePaused || t.PriorState == "" {
			return illegal
		}
		next.State = t.PriorState
		next.PriorState = ""

	case TransitionFail:
		if t.State != TaskStateRunning {
			return illegal
		}
		next.State = TaskStateFailed
		next.FailureStage = t.Stage
		next.FailureReason = tr.Reason

	case TransitionCancel:
		if t.State.Terminal() {
			return illegal
		}
		next.State = TaskStateCancelled
		next.PriorState = ""

	case TransitionComplete:
		if t.State != TaskStateRunning || t.Stage != StageFinalize {
			return illegal
		}
		next.State = TaskStateCompleted
		next.PendingDecision = ""

	default:
		return illegal
	}

	now := time.Now()
	if tr.Snapshot != nil {
		next.Snapshot = tr.Snapshot
	}
	if len(tr.ArtifactIDs) > 0 {
		next.LastArtifactIDs = append(append([]string{}, t.LastArtifactIDs...), tr.ArtifactIDs...)
	}
	next.Cost = t.Cost.Add(tr.Cost)
	if next.State.Terminal() {
		next.CompletedAt = &now
	}
	if tr.Kind == TransitionRetry {
		next.FailureReason = tr.Reason
	} else if next.State == TaskStateRunning && tr.Kind != TransitionFail {
		next.FailureReason = ""
	}
	next.UpdatedAt = now
	*t = next
	return nil
}

// Clone 深拷贝
func (t *GenerationTask) Clone() *GenerationTask {
	if t == nil {
		return nil
	}
	cp := *t
	cp.LastArtifactIDs = append([]string{}, t.LastArtifactIDs...)
	if t.Snapshot != nil {
		cp.Snapshot = append(json.RawMessage{}, t.Snapshot...)
	}
	if t.LeaseExpiresAt != nil {
		v := *t.LeaseExpiresAt
		cp.LeaseExpiresAt = &v
	}
	if t.HeartbeatAt != nil {
		v := *t.HeartbeatAt
		cp.HeartbeatAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}
