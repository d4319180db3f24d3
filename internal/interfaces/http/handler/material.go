package handler

import (
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
	"manuscript-ai-api/internal/interfaces/http/dto"
	"manuscript-ai-api/pkg/logger"
)

// MaterialHandler 素材登记处理器；文件本体由客户端直接写入对象存储
type MaterialHandler struct {
	materials repository.MaterialRepository
	maxBytes  int64
}

// NewMaterialHandler 创建素材处理器，maxBytes 为 0 时不限制
func NewMaterialHandler(materials repository.MaterialRepository, maxBytes int64) *MaterialHandler {
	return &MaterialHandler{materials: materials, maxBytes: maxBytes}
}

// RegisterMaterial 登记素材
// @Summary 登记素材
// @Description 登记已上传的素材对象，下次任务的摄取阶段会处理它
// @Tags Materials
// @Accept json
// @Produce json
// @Param pid path string true "项目 ID"
// @Param body body dto.RegisterMaterialRequest true "素材"
// @Success 201 {object} dto.Response[dto.MaterialResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/projects/{pid}/materials [post]
func (h *MaterialHandler) RegisterMaterial(c *gin.Context) {
	ctx := c.Request.Context()
	projectID := dto.BindProjectID(c)
	if projectID == "" {
		dto.BadRequest(c, "project id is required")
		return
	}

	var req dto.RegisterMaterialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	key := strings.TrimSpace(req.StorageKey)
	if strings.Contains(key, "..") {
		dto.BadRequest(c, "storage_key must not contain ..")
		return
	}
	if req.SizeBytes < 0 || (h.maxBytes > 0 && req.SizeBytes > h.maxBytes) {
		dto.BadRequest(c, "size_bytes out of range")
		return
	}

	filename := path.Base(strings.TrimSpace(req.Filename))
	if filename == "." || filename == "/" {
		dto.BadRequest(c, "filename is required")
		return
	}

	m := entity.NewSourceMaterial(projectID, filename, strings.TrimSpace(req.MimeType), key, req.SizeBytes)
	if err := h.materials.Create(ctx, m); err != nil {
		dto.HandleError(c, err, "failed to register material")
		return
	}
	logger.Info(ctx, "material registered", "project_id", projectID, "material_id", m.ID, "filename", m.Filename)
	dto.Created(c, dto.ToMaterialResponse(m))
}

// ListMaterials 项目素材及处理状态
// @Summary 素材列表
// @Tags Materials
// @Produce json
// @Param pid path string true "项目 ID"
// @Success 200 {object} dto.Response[dto.MaterialListResponse]
// @Router /v1/projects/{pid}/materials [get]
func (h *MaterialHandler) ListMaterials(c *gin.Context) {
	list, err := h.materials.ListByProject(c.Request.Context(), dto.BindProjectID(c))
	if err != nil {
		dto.HandleError(c, err, "failed to list materials")
		return
	}
	dto.Success(c, dto.ToMaterialListResponse(list))
}
