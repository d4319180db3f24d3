package entity

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ChapterStatus 章节状态
type ChapterStatus string

const (
	ChapterStatusDrafting       ChapterStatus = "drafting"
	ChapterStatusAwaitingReview ChapterStatus = "awaiting_review"
	ChapterStatusFinal          ChapterStatus = "final"
)

// RevisionStage 产生修订的阶段
type RevisionStage string

const (
	RevisionDraft            RevisionStage = "draft"
	RevisionVoiceEdited      RevisionStage = "voice_edited"
	RevisionFactChecked      RevisionStage = "fact_checked"
	RevisionCohesionReviewed RevisionStage = "cohesion_reviewed"
	RevisionSafetyReviewed   RevisionStage = "safety_reviewed"
)

// Paragraph 带引用的段落
type Paragraph struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
}

// ChapterRevision 章节的一次修订，只追加不修改。Citations 为起草时的全部证据，下标 i 对应 [i+1]
type ChapterRevision struct {
	ID                 string        `json:"id"`
	ChapterID          string        `json:"chapter_id"`
	Seq                int           `json:"seq"`
	Stage              RevisionStage `json:"stage"`
	Text               string        `json:"text"`
	Paragraphs         []Paragraph   `json:"paragraphs"`
	Citations          []Citation    `json:"citations,omitempty"`
	VoiceScore         float64       `json:"voice_score"`
	CriticScore        float64       `json:"critic_score"`
	UnapprovedByCritic bool          `json:"unapproved_by_critic"`
	FactReport         *FactReport   `json:"fact_report,omitempty"`
	SafetyFlags        []SafetyFlag  `json:"safety_flags,omitempty"`
	Notes              string        `json:"notes,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Chapter 章节，CurrentText 只能通过 ApplyRevision 改变
type Chapter struct {
	ID                    string        `json:"id"`
	TaskID                string        `json:"task_id"`
	ProjectID             string        `json:"project_id"`
	Index                 int           `json:"index"`
	Title                 string        `json:"title"`
	CurrentText           string        `json:"current_text"`
	CurrentRevisionID     string        `json:"current_revision_id,omitempty"`
	RevisionCount         int           `json:"revision_count"`
	Status                ChapterStatus `json:"status"`
	UnresolvedSafetyFlags int           `json:"unresolved_safety_flags"`
	WordCount             int           `json:"word_count"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// NewChapter 创建章节
func NewChapter(taskID, projectID string, index int, title string) *Chapter {
	now := time.Now()
	return &Chapter{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		ProjectID: projectID,
		Index:     index,
		Title:     title,
		Status:    ChapterStatusDrafting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewRevision 基于章节当前序号构造下一条修订
func (c *Chapter) NewRevision(stage RevisionStage, text string, paragraphs []Paragraph) *ChapterRevision {
	return &ChapterRevision{
		ID:         uuid.NewString(),
		ChapterID:  c.ID,
		Seq:        c.RevisionCount + 1,
		Stage:      stage,
		Text:       text,
		Paragraphs: paragraphs,
		CreatedAt:  time.Now(),
	}
}

// ApplyRevision 把修订设为当前文本
func (c *Chapter) ApplyRevision(rev *ChapterRevision) error {
	if rev.ChapterID != c.ID {
		return fmt.Errorf("revision %s belongs to chapter %s, not %s", rev.ID, rev.ChapterID, c.ID)
	}
	if rev.Seq != c.RevisionCount+1 {
		return fmt.Errorf("revision seq %d out of order, expected %d", rev.Seq, c.RevisionCount+1)
	}
	if c.Status == ChapterStatusFinal {
		return fmt.Errorf("chapter %s is final", c.ID)
	}
	c.CurrentText = rev.Text
	c.CurrentRevisionID = rev.ID
	c.RevisionCount = rev.Seq
	c.UnresolvedSafetyFlags = len(rev.SafetyFlags)
	c.WordCount = CountWords(rev.Text)
	c.Status = ChapterStatusDrafting
	c.UpdatedAt = time.Now()
	return nil
}

// AwaitReview 进入人工审核
func (c *Chapter) AwaitReview() {
	if c.Status != ChapterStatusFinal {
		c.Status = ChapterStatusAwaitingReview
		c.UpdatedAt = time.Now()
	}
}

// MarkFinal 存在未解决的安全标记时拒绝定稿
func (c *Chapter) MarkFinal() error {
	if c.UnresolvedSafetyFlags > 0 {
		return fmt.Errorf("chapter %d has %d unresolved safety flags", c.Index+1, c.UnresolvedSafetyFlags)
	}
	if c.CurrentRevisionID == "" {
		return fmt.Errorf("chapter %d has no text", c.Index+1)
	}
	c.Status = ChapterStatusFinal
	c.UpdatedAt = time.Now()
	return nil
}

// CountWords 统计词数，CJK 字符按单字计
func CountWords(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		switch {
		case r >= 0x4E00 && r <= 0x9FFF:
			n++
			inWord = false
		case r == ' ' || r == '\n' || r == '\t' || r == '\r':
			inWord = false
		default:
			if !inWord {
				n++
				inWord = true
			}
		}
	}
	return n
}

// SplitParagraphs 按空行切分段落
func SplitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinParagraphs 与 SplitParagraphs 相反
func JoinParagraphs(paragraphs []Paragraph) string {
	parts := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

// RuneLen rune 长度
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
