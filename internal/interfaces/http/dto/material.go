package dto

import (
	"manuscript-ai-api/internal/domain/entity"
)

// RegisterMaterialRequest 登记已上传到对象存储的素材
type RegisterMaterialRequest struct {
	Filename   string `json:"filename" binding:"required"`
	MimeType   string `json:"mime_type"`
	StorageKey string `json:"storage_key" binding:"required"`
	SizeBytes  int64  `json:"size_bytes"`
}

// MaterialResponse 素材信息
type MaterialResponse struct {
	ID            string                `json:"id"`
	ProjectID     string                `json:"project_id"`
	Filename      string                `json:"filename"`
	MimeType      string                `json:"mime_type,omitempty"`
	StorageKey    string                `json:"storage_key"`
	SizeBytes     int64                 `json:"size_bytes"`
	Status        entity.MaterialStatus `json:"status"`
	DetectedMime  string                `json:"detected_mime,omitempty"`
	FailureCode   string                `json:"failure_code,omitempty"`
	FailureReason string                `json:"failure_reason,omitempty"`
	CreatedAt     string                `json:"created_at"`
}

// MaterialListResponse 素材列表
type MaterialListResponse struct {
	Materials []*MaterialResponse `json:"materials"`
}

// ToMaterialResponse 转换为素材信息
func ToMaterialResponse(m *entity.SourceMaterial) *MaterialResponse {
	if m == nil {
		return nil
	}
	return &MaterialResponse{
		ID:            m.ID,
		ProjectID:     m.ProjectID,
		Filename:      m.Filename,
		MimeType:      m.MimeType,
		StorageKey:    m.StorageKey,
		SizeBytes:     m.SizeBytes,
		Status:        m.Status,
		DetectedMime:  m.DetectedMime,
		FailureCode:   m.FailureCode,
		FailureReason: m.FailureReason,
		CreatedAt:     formatTime(m.CreatedAt),
	}
}

// ToMaterialListResponse 转换为素材列表
func ToMaterialListResponse(list []*entity.SourceMaterial) *MaterialListResponse {
	out := make([]*MaterialResponse, 0, len(list))
	for _, m := range list {
		out = append(out, ToMaterialResponse(m))
	}
	return &MaterialListResponse{Materials: out}
}
