package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OutlineStatus 大纲状态
type OutlineStatus string

const (
	OutlineStatusCandidate OutlineStatus = "candidate"
	OutlineStatusApproved  OutlineStatus = "approved"
	OutlineStatusRejected  OutlineStatus = "rejected"
)

// ChapterOutline 单章大纲
type ChapterOutline struct {
	Index      int        `json:"index"`
	Title      string     `json:"title"`
	Summary    string     `json:"summary"`
	KeyPoints  []string   `json:"key_points"`
	WordBudget int        `json:"word_budget"`
	Citations  []Citation `json:"citations"`
}

// BookOutline 全书大纲，内容创建后不可修改。SafetyFlags 的偏移基于 Text()，按 rune 计
type BookOutline struct {
	ID                 string           `json:"id"`
	ProjectID          string           `json:"project_id"`
	TaskID             string           `json:"task_id"`
	Version            int              `json:"version"`
	Status             OutlineStatus    `json:"status"`
	Title              string           `json:"title"`
	Synopsis           string           `json:"synopsis"`
	Chapters           []ChapterOutline `json:"chapters"`
	SafetyFlags        []SafetyFlag     `json:"safety_flags,omitempty"`
	CriticScore        float64          `json:"critic_score"`
	UnapprovedByCritic bool             `json:"unapproved_by_critic"`
	FeedbackNotes      string           `json:"feedback_notes,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// NewBookOutline 创建候选大纲
func NewBookOutline(projectID, taskID string, version int, title, synopsis string, chapters []ChapterOutline) *BookOutline {
	now := time.Now()
	for i := range chapters {
		chapters[i].Index = i
	}
	return &BookOutline{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		TaskID:    taskID,
		Version:   version,
		Status:    OutlineStatusCandidate,
		Title:     title,
		Synopsis:  synopsis,
		Chapters:  chapters,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Approve 批准候选大纲
func (o *BookOutline) Approve(notes string) error {
	if o.Status != OutlineStatusCandidate {
		return fmt.Errorf("outline %s is %s, only candidates can be approved", o.ID, o.Status)
	}
	o.Status = OutlineStatusApproved
	o.FeedbackNotes = strings.TrimSpace(notes)
	o.UpdatedAt = time.Now()
	return nil
}

// Reject 拒绝候选大纲；重新生成时产生新版本而非修改原记录
func (o *BookOutline) Reject(notes string) error {
	if o.Status != OutlineStatusCandidate {
		return fmt.Errorf("outline %s is %s, only candidates can be rejected", o.ID, o.Status)
	}
	o.Status = OutlineStatusRejected
	o.FeedbackNotes = strings.TrimSpace(notes)
	o.UpdatedAt = time.Now()
	return nil
}

// Text 大纲的纯文本形式，用于安全检查和日志
func (o *BookOutline) Text() string {
	var b strings.Builder
	b.WriteString(o.Title)
	b.WriteString("\n")
	b.WriteString(o.Synopsis)
	for _, ch := range o.Chapters {
		fmt.Fprintf(&b, "\n%d. %s\n%s", ch.Index+1, ch.Title, ch.Summary)
		for _, kp := range ch.KeyPoints {
			b.WriteString("\n- ")
			b.WriteString(kp)
		}
	}
	return b.String()
}
