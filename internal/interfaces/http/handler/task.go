// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"manuscript-ai-api/internal/application/orchestrator"
	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/interfaces/http/dto"
)

// TaskHandler 生成任务生命周期处理器
type TaskHandler struct {
	svc *orchestrator.Service
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(svc *orchestrator.Service) *TaskHandler {
	return &TaskHandler{svc: svc}
}

// StartTask 创建生成任务
// @Summary 创建生成任务
// @Description 为项目创建书稿生成任务并入队，立即返回任务 ID
// @Tags Tasks
// @Accept json
// @Produce json
// @Param pid path string true "项目 ID"
// @Param body body dto.StartTaskRequest true "任务参数"
// @Success 202 {object} dto.Response[dto.TaskCreatedResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/projects/{pid}/tasks [post]
func (h *TaskHandler) StartTask(c *gin.Context) {
	var req dto.StartTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	task, err := h.svc.Start(c.Request.Context(), dto.BindProjectID(c), req.ToBrief())
	if err != nil {
		dto.HandleError(c, err, "failed to start task")
		return
	}
	dto.Accepted(c, &dto.TaskCreatedResponse{TaskID: task.ID, State: task.State})
}

// ListTasks 项目任务列表
// @Summary 项目任务列表
// @Tags Tasks
// @Produce json
// @Param pid path string true "项目 ID"
// @Param limit query int false "数量上限"
// @Success 200 {object} dto.Response[dto.TaskListResponse]
// @Router /v1/projects/{pid}/tasks [get]
func (h *TaskHandler) ListTasks(c *gin.Context) {
	list, err := h.svc.ListTasks(c.Request.Context(), dto.BindProjectID(c), dto.BindLimit(c, 20))
	if err != nil {
		dto.HandleError(c, err, "failed to list tasks")
		return
	}
	dto.Success(c, dto.ToTaskListResponse(list))
}

// GetStatus 查询任务状态
// @Summary 查询任务状态
// @Description 返回状态、阶段、进度、成本，以及失败原因或待处理的人工决定
// @Tags Tasks
// @Produce json
// @Param tid path string true "任务 ID"
// @Success 200 {object} dto.Response[orchestrator.TaskStatus]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid} [get]
func (h *TaskHandler) GetStatus(c *gin.Context) {
	status, err := h.svc.GetStatus(c.Request.Context(), dto.BindTaskID(c))
	if err != nil {
		dto.HandleError(c, err, "failed to get task status")
		return
	}
	dto.Success(c, status)
}

// SubmitFeedback 提交人工反馈
// @Summary 提交人工反馈
// @Description 对等待反馈的大纲或章节做出 approve、reject 或 revise 决定
// @Tags Tasks
// @Accept json
// @Produce json
// @Param tid path string true "任务 ID"
// @Param body body dto.FeedbackRequest true "反馈"
// @Success 200 {object} dto.Response[dto.TaskResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "任务不在等待反馈状态"
// @Router /v1/tasks/{tid}/feedback [post]
func (h *TaskHandler) SubmitFeedback(c *gin.Context) {
	var req dto.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	decision := orchestrator.Decision(req.Decision)
	if !decision.Valid() {
		dto.BadRequest(c, "decision must be one of approve, reject, revise")
		return
	}

	task, err := h.svc.SubmitFeedback(c.Request.Context(), dto.BindTaskID(c), decision, req.Notes)
	if err != nil {
		dto.HandleError(c, err, "failed to submit feedback")
		return
	}
	dto.Success(c, dto.ToTaskResponse(task))
}

// Pause 暂停任务
// @Summary 暂停任务
// @Tags Tasks
// @Produce json
// @Param tid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.TaskResponse]
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid}/pause [post]
func (h *TaskHandler) Pause(c *gin.Context) {
	h.lifecycle(c, h.svc.Pause, "failed to pause task")
}

// Resume 恢复任务
// @Summary 恢复任务
// @Tags Tasks
// @Produce json
// @Param tid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.TaskResponse]
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid}/resume [post]
func (h *TaskHandler) Resume(c *gin.Context) {
	h.lifecycle(c, h.svc.Resume, "failed to resume task")
}

// Cancel 取消任务
// @Summary 取消任务
// @Tags Tasks
// @Produce json
// @Param tid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.TaskResponse]
// @Failure 409 {object} dto.ErrorResponse "任务已结束"
// @Router /v1/tasks/{tid}/cancel [post]
func (h *TaskHandler) Cancel(c *gin.Context) {
	h.lifecycle(c, h.svc.Cancel, "failed to cancel task")
}

type lifecycleFunc func(ctx context.Context, taskID string) (*entity.GenerationTask, error)

func (h *TaskHandler) lifecycle(c *gin.Context, fn lifecycleFunc, failMsg string) {
	task, err := fn(c.Request.Context(), dto.BindTaskID(c))
	if err != nil {
		dto.HandleError(c, err, failMsg)
		return
	}
	dto.Success(c, dto.ToTaskResponse(task))
}
