package dto

import (
	"time"

	"manuscript-ai-api/internal/application/stage"
	"manuscript-ai-api/internal/domain/entity"
)

// StartTaskRequest 创建生成任务请求
type StartTaskRequest struct {
	Title        string `json:"title" binding:"required"`
	Brief        string `json:"brief"`
	ChapterCount int    `json:"chapter_count"`
	TargetWords  int    `json:"target_words"`
}

// ToBrief 转换为阶段简报
func (r *StartTaskRequest) ToBrief() stage.Brief {
	return stage.Brief{
		Title:        r.Title,
		Brief:        r.Brief,
		ChapterCount: r.ChapterCount,
		TargetWords:  r.TargetWords,
	}
}

// FeedbackRequest 人工反馈请求
type FeedbackRequest struct {
	Decision string `json:"decision" binding:"required"`
	Notes    string `json:"notes"`
}

// TaskCreatedResponse 任务已接受
type TaskCreatedResponse struct {
	TaskID string           `json:"task_id"`
	State  entity.TaskState `json:"state"`
}

// TaskResponse 任务摘要
type TaskResponse struct {
	ID              string           `json:"id"`
	ProjectID       string           `json:"project_id"`
	State           entity.TaskState `json:"state"`
	Stage           entity.Stage     `json:"stage"`
	PendingDecision string           `json:"pending_decision,omitempty"`
	FailureStage    entity.Stage     `json:"failure_stage,omitempty"`
	FailureReason   string           `json:"failure_reason,omitempty"`
	RetryCount      int              `json:"retry_count"`
	Cost            entity.Cost      `json:"cost"`
	CreatedAt       string           `json:"created_at"`
	UpdatedAt       string           `json:"updated_at"`
	CompletedAt     string           `json:"completed_at,omitempty"`
}

// TaskListResponse 任务列表
type TaskListResponse struct {
	Tasks []*TaskResponse `json:"tasks"`
}

// ToTaskResponse 转换为任务摘要，不包含快照与租约
func ToTaskResponse(t *entity.GenerationTask) *TaskResponse {
	if t == nil {
		return nil
	}
	resp := &TaskResponse{
		ID:              t.ID,
		ProjectID:       t.ProjectID,
		State:           t.State,
		Stage:           t.Stage,
		PendingDecision: t.PendingDecision,
		FailureStage:    t.FailureStage,
		FailureReason:   t.FailureReason,
		RetryCount:      t.RetryCount,
		Cost:            t.Cost,
		CreatedAt:       formatTime(t.CreatedAt),
		UpdatedAt:       formatTime(t.UpdatedAt),
	}
	if t.CompletedAt != nil {
		resp.CompletedAt = formatTime(*t.CompletedAt)
	}
	return resp
}

// ToTaskListResponse 转换为任务列表
func ToTaskListResponse(list []*entity.GenerationTask) *TaskListResponse {
	out := make([]*TaskResponse, 0, len(list))
	for _, t := range list {
		out = append(out, ToTaskResponse(t))
	}
	return &TaskListResponse{Tasks: out}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
