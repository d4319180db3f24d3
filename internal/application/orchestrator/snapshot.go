// Package orchestrator 生成任务的持久化状态机：阶段执行、检查点提交、人工反馈与恢复
package orchestrator

import (
	"encoding/json"
	"fmt"

	"manuscript-ai-api/internal/application/stage"
	"manuscript-ai-api/internal/domain/entity"
)

// WorkflowSnapshot 检查点中的流程快照，只记录产物 ID 与计数，正文存放在各自的仓储中
type WorkflowSnapshot struct {
	Brief stage.Brief `json:"brief"`

	Ingest    *IngestSummary `json:"ingest,omitempty"`
	ProfileID string         `json:"profile_id,omitempty"`

	// OutlineID 最近一版大纲；OutlineNotes 为下一版需要吸收的用户意见
	OutlineID               string `json:"outline_id,omitempty"`
	OutlineVersion          int    `json:"outline_version"`
	OutlineNotes            string `json:"outline_notes,omitempty"`
	OutlineGroundingRetries int    `json:"outline_grounding_retries"`

	ChapterIDs     []string         `json:"chapter_ids"`
	CurrentChapter int              `json:"current_chapter"`
	Chapter        *ChapterProgress `json:"chapter,omitempty"`

	ManuscriptID string `json:"manuscript_id,omitempty"`
}

// IngestSummary 摄取阶段的统计
type IngestSummary struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Chunks    int `json:"chunks"`
}

// ChapterProgress 当前章节的子步骤进度
type ChapterProgress struct {
	Index     int                `json:"index"`
	ChapterID string             `json:"chapter_id"`
	Step      entity.ChapterStep `json:"step"`
	// Citations 起草时检索到的证据，下标 i 对应正文中的 [i+1]
	Citations []entity.Citation `json:"citations"`
	// Constraints 安全检查退回时的写作约束
	Constraints      string `json:"constraints,omitempty"`
	Feedback         string `json:"feedback,omitempty"`
	GroundingRetries int    `json:"grounding_retries"`
	SafetyRetries    int    `json:"safety_retries"`
	// VoiceScore 文风改写后的得分，写入后续修订
	VoiceScore float64 `json:"voice_score"`
	// Unapproved critic 未通过的子步骤，非空时章节需要人工确认
	Unapproved []entity.ChapterStep `json:"unapproved,omitempty"`
	// CommittedSeq 检查点提交时章节的修订序号，更大的序号说明修订已写入而检查点未提交
	CommittedSeq int `json:"committed_seq"`
}

func (cp *ChapterProgress) markUnapproved(step entity.ChapterStep) {
	for _, s := range cp.Unapproved {
		if s == step {
			return
		}
	}
	cp.Unapproved = append(cp.Unapproved, step)
}

// restartDraft 回到起草，保留安全重试计数
func (cp *ChapterProgress) restartDraft() {
	cp.Step = entity.StepDraft
	cp.Citations = nil
	cp.GroundingRetries = 0
	cp.VoiceScore = 0
	cp.Unapproved = nil
}

// DecodeSnapshot 解析任务快照
func DecodeSnapshot(raw json.RawMessage) (*WorkflowSnapshot, error) {
	snap := &WorkflowSnapshot{}
	if len(raw) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(raw, snap); err != nil {
		return nil, fmt.Errorf("failed to decode workflow snapshot: %w", err)
	}
	return snap, nil
}

// Encode 序列化快照
func (s *WorkflowSnapshot) Encode() (json.RawMessage, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow snapshot: %w", err)
	}
	return raw, nil
}

// Clone 深拷贝，处理器在副本上修改，提交成功后才替换
func (s *WorkflowSnapshot) Clone() *WorkflowSnapshot {
	raw, err := json.Marshal(s)
	if err != nil {
		return s
	}
	cp := &WorkflowSnapshot{}
	if err := json.Unmarshal(raw, cp); err != nil {
		return s
	}
	return cp
}

// chapterID 第 idx 章的 ID，尚未创建时为空
func (s *WorkflowSnapshot) chapterID(idx int) string {
	if idx < 0 || idx >= len(s.ChapterIDs) {
		return ""
	}
	return s.ChapterIDs[idx]
}
