// Package stage 生成流水线各阶段的有界 proposer/critic 角色
package stage

import (
	"context"
	"errors"
	"sync"
	"time"

	"manuscript-ai-api/internal/domain/entity"
	llmctx "manuscript-ai-api/internal/domain/service"
)

// ErrInterrupted 任务在循环间隙被暂停或取消
var ErrInterrupted = errors.New("task interrupted")

// Brief 用户提交的创作要求
type Brief struct {
	Title        string `json:"title"`
	Brief        string `json:"brief"`
	ChapterCount int    `json:"chapter_count"`
	TargetWords  int    `json:"target_words"`
}

// InterruptFunc 返回 ErrInterrupted 表示应在下一个检查点停止
type InterruptFunc func(ctx context.Context) error

// TaskContext 每次阶段调用显式传入的任务上下文，不存在全局“当前项目”
type TaskContext struct {
	TaskID    string
	ProjectID string
	Brief     Brief
	Profile   *entity.VoiceProfile
	// Style Profile 的中文描述，注入 prompt
	Style       string
	Meter       *Meter
	CallTimeout time.Duration
	Interrupt   InterruptFunc
}

// NewTaskContext 创建任务上下文
func NewTaskContext(task *entity.GenerationTask, brief Brief) *TaskContext {
	return &TaskContext{
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		Brief:     brief,
		Meter:     &Meter{},
	}
}

// Context 为模型调用附加任务标识
func (tc *TaskContext) Context(ctx context.Context) context.Context {
	return llmctx.WithTaskID(ctx, tc.TaskID)
}

// CheckInterrupt 协作式中断检查点
func (tc *TaskContext) CheckInterrupt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tc.Interrupt == nil {
		return nil
	}
	return tc.Interrupt(ctx)
}

// WithCallTimeout 单次调用超时，超时按可重试错误处理
func (tc *TaskContext) WithCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if tc.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, tc.CallTimeout)
}

// Meter 累计一个阶段内的模型用量，提交检查点时清空
type Meter struct {
	mu     sync.Mutex
	usages []llmctx.LLMUsage
	tokens int
}

func (m *Meter) Add(u llmctx.LLMUsage) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usages = append(m.usages, u)
	m.tokens += u.PromptTokens + u.CompletionTokens
}

// Tokens 自创建以来累计的 token 数（不随 Drain 清零）
func (m *Meter) Tokens() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens
}

// Drain 取出尚未计入成本的用量
func (m *Meter) Drain() []llmctx.LLMUsage {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.usages
	m.usages = nil
	return out
}
