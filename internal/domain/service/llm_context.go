package service

import (
	"context"
	"strings"
)

type llmCtxKey string

const (
	llmCtxKeyWorkflow llmCtxKey = "llm_workflow"
	llmCtxKeyProvider llmCtxKey = "llm_provider"
	llmCtxKeyTask     llmCtxKey = "llm_task"
)

// WithWorkflow 标记一次模型调用所属的工作流（阶段/角色），用于指标与追踪
func WithWorkflow(ctx context.Context, workflow string) context.Context {
	if ctx == nil {
		return nil
	}
	w := strings.TrimSpace(workflow)
	if w == "" {
		return ctx
	}
	return context.WithValue(ctx, llmCtxKeyWorkflow, w)
}

func WithProvider(ctx context.Context, provider string) context.Context {
	if ctx == nil {
		return nil
	}
	p := strings.TrimSpace(provider)
	if p == "" {
		return ctx
	}
	return context.WithValue(ctx, llmCtxKeyProvider, p)
}

// WithTaskID 标记调用所属的生成任务
func WithTaskID(ctx context.Context, taskID string) context.Context {
	if ctx == nil {
		return nil
	}
	id := strings.TrimSpace(taskID)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, llmCtxKeyTask, id)
}

func WithWorkflowProvider(ctx context.Context, workflow, provider string) context.Context {
	return WithProvider(WithWorkflow(ctx, workflow), provider)
}

func WorkflowFromContext(ctx context.Context) string {
	return stringFromContext(ctx, llmCtxKeyWorkflow)
}

func ProviderFromContext(ctx context.Context) string {
	return stringFromContext(ctx, llmCtxKeyProvider)
}

func TaskIDFromContext(ctx context.Context) string {
	s := stringFromContext(ctx, llmCtxKeyTask)
	if s == "unknown" {
		return ""
	}
	return s
}

func stringFromContext(ctx context.Context, key llmCtxKey) string {
	if ctx == nil {
		return "unknown"
	}
	s, ok := ctx.Value(key).(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return strings.TrimSpace(s)
}
