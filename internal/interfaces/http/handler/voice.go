package handler

import (
	"github.com/gin-gonic/gin"

	"manuscript-ai-api/internal/application/orchestrator"
	"manuscript-ai-api/internal/interfaces/http/dto"
)

// VoiceHandler 文风档案处理器
type VoiceHandler struct {
	svc *orchestrator.Service
}

// NewVoiceHandler 创建文风档案处理器
func NewVoiceHandler(svc *orchestrator.Service) *VoiceHandler {
	return &VoiceHandler{svc: svc}
}

// GetProfile 项目当前文风档案
// @Summary 获取文风档案
// @Tags Voice
// @Produce json
// @Param pid path string true "项目 ID"
// @Success 200 {object} dto.Response[entity.VoiceProfile]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/projects/{pid}/voice-profile [get]
func (h *VoiceHandler) GetProfile(c *gin.Context) {
	p, err := h.svc.GetVoiceProfile(c.Request.Context(), dto.BindProjectID(c))
	if err != nil {
		dto.HandleError(c, err, "failed to get voice profile")
		return
	}
	dto.Success(c, p)
}

// Recalibrate 重新校准文风档案
// @Summary 重新校准文风
// @Description 从当前素材重新提取文风特征并保存为新版本
// @Tags Voice
// @Produce json
// @Param pid path string true "项目 ID"
// @Success 200 {object} dto.Response[entity.VoiceProfile]
// @Router /v1/projects/{pid}/voice-profile/recalibrate [post]
func (h *VoiceHandler) Recalibrate(c *gin.Context) {
	p, err := h.svc.RecalibrateVoice(c.Request.Context(), dto.BindProjectID(c))
	if err != nil {
		dto.HandleError(c, err, "failed to recalibrate voice profile")
		return
	}
	dto.Success(c, p)
}
