// Package entity 定义领域实体
package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaterialStatus 素材处理状态
type MaterialStatus string

const (
	MaterialStatusPending    MaterialStatus = "pending"
	MaterialStatusProcessing MaterialStatus = "processing"
	MaterialStatusCompleted  MaterialStatus = "completed"
	MaterialStatusFailed     MaterialStatus = "failed"
)

// SourceMaterial 用户上传的一份素材，只由摄取流程修改
type SourceMaterial struct {
	ID            string         `json:"id" gorm:"type:uuid;primaryKey"`
	ProjectID     string         `json:"project_id" gorm:"type:uuid;index;not null"`
	Filename      string         `json:"filename" gorm:"type:varchar(512);not null"`
	MimeType      string         `json:"mime_type" gorm:"type:varchar(128)"`
	StorageKey    string         `json:"storage_key" gorm:"type:varchar(1024);not null"`
	SizeBytes     int64          `json:"size_bytes"`
	Status        MaterialStatus `json:"status" gorm:"type:varchar(32);index;not null"`
	ExtractedText string         `json:"-" gorm:"type:text"`
	DetectedMime  string         `json:"detected_mime,omitempty" gorm:"type:varchar(128)"`
	FailureCode   string         `json:"failure_code,omitempty" gorm:"type:varchar(64)"`
	FailureReason string         `json:"failure_reason,omitempty" gorm:"type:text"`
	CreatedAt     time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (SourceMaterial) TableName() string {
	return "source_materials"
}

// NewSourceMaterial 创建待处理素材
func NewSourceMaterial(projectID, filename, mimeType, storageKey string, size int64) *SourceMaterial {
	now := time.Now()
	return &SourceMaterial{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Filename:   filename,
		MimeType:   mimeType,
		StorageKey: storageKey,
		SizeBytes:  size,
		Status:     MaterialStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// StartProcessing 进入处理中；processing 状态可重入，用于崩溃后重做
func (m *SourceMaterial) StartProcessing() error {
	switch m.Status {
	case MaterialStatusPending, MaterialStatusProcessing:
		m.Status = MaterialStatusProcessing
		m.UpdatedAt = time.Now()
		return nil
	default:
		return fmt.Errorf("material %s cannot start processing from %s", m.ID, m.Status)
	}
}

// CompleteExtraction 记录抽取结果
func (m *SourceMaterial) CompleteExtraction(text, detectedMime string) error {
	if m.Status != MaterialStatusProcessing {
		return fmt.Errorf("material %s is not processing", m.ID)
	}
	m.ExtractedText = text
	m.DetectedMime = detectedMime
	m.Status = MaterialStatusCompleted
	m.FailureCode = ""
	m.FailureReason = ""
	m.UpdatedAt = time.Now()
	return nil
}

// FailExtraction 终态失败，只影响该素材
func (m *SourceMaterial) FailExtraction(code, reason string) error {
	if m.Status != MaterialStatusProcessing {
		return fmt.Errorf("material %s is not processing", m.ID)
	}
	m.Status = MaterialStatusFailed
	m.FailureCode = code
	m.FailureReason = reason
	m.UpdatedAt = time.Now()
	return nil
}

// IsTerminal 是否已处于终态
func (m *SourceMaterial) IsTerminal() bool {
	return m.Status == MaterialStatusCompleted || m.Status == MaterialStatusFailed
}
