package handler

import (
	"github.com/gin-gonic/gin"

	"manuscript-ai-api/internal/application/orchestrator"
	"manuscript-ai-api/internal/interfaces/http/dto"
)

// ReviewHandler 大纲、章节与定稿的审阅接口
type ReviewHandler struct {
	svc *orchestrator.Service
}

// NewReviewHandler 创建审阅处理器
func NewReviewHandler(svc *orchestrator.Service) *ReviewHandler {
	return &ReviewHandler{svc: svc}
}

// GetOutline 当前大纲
// @Summary 获取当前大纲
// @Tags Review
// @Produce json
// @Param tid path string true "任务 ID"
// @Success 200 {object} dto.Response[entity.BookOutline]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid}/outline [get]
func (h *ReviewHandler) GetOutline(c *gin.Context) {
	outline, err := h.svc.GetOutline(c.Request.Context(), dto.BindTaskID(c))
	if err != nil {
		dto.HandleError(c, err, "failed to get outline")
		return
	}
	dto.Success(c, outline)
}

// GetChapter 章节及当前修订，包含事实报告与安全标记
// @Summary 获取章节
// @Tags Review
// @Produce json
// @Param tid path string true "任务 ID"
// @Param index path int true "章节序号，从 0 开始"
// @Success 200 {object} dto.Response[orchestrator.ChapterView]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/tasks/{tid}/chapters/{index} [get]
func (h *ReviewHandler) GetChapter(c *gin.Context) {
	idx, err := dto.BindChapterIndex(c)
	if err != nil {
		dto.BadRequest(c, err.Error())
		return
	}
	view, err := h.svc.GetChapter(c.Request.Context(), dto.BindTaskID(c), idx)
	if err != nil {
		dto.HandleError(c, err, "failed to get chapter")
		return
	}
	dto.Success(c, view)
}

// GetManuscript 导出定稿与引用
// @Summary 导出定稿
// @Description 任务完成后返回按章节组织的正文，每段附带引用
// @Tags Review
// @Produce json
// @Param tid path string true "任务 ID"
// @Success 200 {object} dto.Response[entity.Manuscript]
// @Failure 409 {object} dto.ErrorResponse "任务尚未完成"
// @Router /v1/tasks/{tid}/manuscript [get]
func (h *ReviewHandler) GetManuscript(c *gin.Context) {
	m, err := h.svc.Export(c.Request.Context(), dto.BindTaskID(c))
	if err != nil {
		dto.HandleError(c, err, "failed to export manuscript")
		return
	}
	dto.Success(c, m)
}
