package entity

import (
	"time"

	"github.com/google/uuid"
)

// ExportParagraph 导出的段落，引用内联附在段落上
type ExportParagraph struct {
	Text      string           `json:"text"`
	Citations []CitationExport `json:"citations"`
}

// ManuscriptChapter 导出的章节
type ManuscriptChapter struct {
	Index      int               `json:"index"`
	Title      string            `json:"title"`
	Paragraphs []ExportParagraph `json:"paragraphs"`
}

// Manuscript 定稿产物
type Manuscript struct {
	ID        string              `json:"id"`
	TaskID    string              `json:"task_id"`
	ProjectID string              `json:"project_id"`
	OutlineID string              `json:"outline_id"`
	Title     string              `json:"title"`
	Chapters  []ManuscriptChapter `json:"chapters"`
	WordCount int                 `json:"word_count"`
	CreatedAt time.Time           `json:"created_at"`
}

// AssembleManuscript 由定稿章节和对应的最新修订拼装
func AssembleManuscript(task *GenerationTask, outline *BookOutline, chapters []*Chapter, revisions map[string]*ChapterRevision) *Manuscript {
	m := &Manuscript{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		OutlineID: outline.ID,
		Title:     outline.Title,
		CreatedAt: time.Now(),
	}
	for _, ch := range chapters {
		mc := ManuscriptChapter{Index: ch.Index, Title: ch.Title}
		if rev := revisions[ch.CurrentRevisionID]; rev != nil {
			for _, p := range rev.Paragraphs {
				ep := ExportParagraph{Text: p.Text, Citations: make([]CitationExport, 0, len(p.Citations))}
				for _, c := range p.Citations {
					ep.Citations = append(ep.Citations, c.Export())
				}
				mc.Paragraphs = append(mc.Paragraphs, ep)
			}
		}
		m.WordCount += ch.WordCount
		m.Chapters = append(m.Chapters, mc)
	}
	return m
}
