package postgres

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"

	"manuscript-ai-api/internal/domain/entity"
)

// 行模型与领域实体分离：实体不感知 jsonb、text[] 与 vector 列类型

type taskModel struct {
	ID              string                         `gorm:"type:uuid;primaryKey"`
	ProjectID       string                         `gorm:"type:uuid;index;not null"`
	State           string                         `gorm:"type:varchar(32);not null;index:idx_generation_tasks_state_heartbeat,priority:1"`
	Stage           string                         `gorm:"type:varchar(32);not null"`
	PriorState      string                         `gorm:"type:varchar(32)"`
	RetryCount      int                            `gorm:"not null;default:0"`
	Cost            datatypes.JSONType[entity.Cost] `gorm:"type:jsonb;not null"`
	LastArtifactIDs pq.StringArray                 `gorm:"type:text[]"`
	Snapshot        datatypes.JSON                 `gorm:"type:jsonb;not null"`
	PendingDecision string                         `gorm:"type:text"`
	FailureStage    string                         `gorm:"type:varchar(32)"`
	FailureReason   string                         `gorm:"type:text"`
	Version         int64                          `gorm:"not null"`
	LeaseOwner      string                         `gorm:"type:varchar(128);not null;default:''"`
	LeaseExpiresAt  *time.Time
	HeartbeatAt     *time.Time `gorm:"index:idx_generation_tasks_state_heartbeat,priority:2"`
	CreatedAt       time.Time  `gorm:"not null"`
	UpdatedAt       time.Time  `gorm:"not null"`
	CompletedAt     *time.Time
}

func (taskModel) TableName() string { return "generation_tasks" }

func toTaskModel(t *entity.GenerationTask) *taskModel {
	return &taskModel{
		ID:              t.ID,
		ProjectID:       t.ProjectID,
		State:           string(t.State),
		Stage:           string(t.Stage),
		PriorState:      string(t.PriorState),
		RetryCount:      t.RetryCount,
		Cost:            datatypes.NewJSONType(t.Cost),
		LastArtifactIDs: pq.StringArray(t.LastArtifactIDs),
		Snapshot:        datatypes.JSON(t.Snapshot),
		PendingDecision: t.PendingDecision,
		FailureStage:    string(t.FailureStage),
		FailureReason:   t.FailureReason,
		Version:         t.Version,
		LeaseOwner:      t.LeaseOwner,
		LeaseExpiresAt:  t.LeaseExpiresAt,
		HeartbeatAt:     t.HeartbeatAt,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		CompletedAt:     t.CompletedAt,
	}
}

func (m *taskModel) toEntity() *entity.GenerationTask {
	ids := []string(m.LastArtifactIDs)
	if ids == nil {
		ids = []string{}
	}
	return &entity.GenerationTask{
		ID:              m.ID,
		ProjectID:       m.ProjectID,
		State:           entity.TaskState(m.State),
		Stage:           entity.Stage(m.Stage),
		PriorState:      entity.TaskState(m.PriorState),
		RetryCount:      m.RetryCount,
		Cost:            m.Cost.Data(),
		LastArtifactIDs: ids,
		Snapshot:        json.RawMessage(m.Snapshot),
		PendingDecision: m.PendingDecision,
		FailureStage:    entity.Stage(m.FailureStage),
		FailureReason:   m.FailureReason,
		Version:         m.Version,
		LeaseOwner:      m.LeaseOwner,
		LeaseExpiresAt:  m.LeaseExpiresAt,
		HeartbeatAt:     m.HeartbeatAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		CompletedAt:     m.CompletedAt,
	}
}

// stateColumns CAS 写入的全部状态字段，不含租约
func (m *taskModel) stateColumns() map[string]any {
	return map[string]any{
		"state":             m.State,
		"stage":             m.Stage,
		"prior_state":       m.PriorState,
		"retry_count":       m.RetryCount,
		"cost":              m.Cost,
		"last_artifact_ids": m.LastArtifactIDs,
		"snapshot":          m.Snapshot,
		"pending_decision":  m.PendingDecision,
		"failure_stage":     m.FailureStage,
		"failure_reason":    m.FailureReason,
		"updated_at":        m.UpdatedAt,
		"completed_at":      m.CompletedAt,
	}
}

type chunkModel struct {
	ID             string           `gorm:"type:uuid;primaryKey"`
	MaterialID     string           `gorm:"type:uuid;index;not null"`
	ProjectID      string           `gorm:"type:uuid;index:idx_content_chunks_project_model,priority:1;not null"`
	SourceFilename string           `gorm:"type:varchar(512);not null"`
	ChunkIndex     int              `gorm:"not null"`
	OffsetStart    int              `gorm:"not null"`
	OffsetEnd      int              `gorm:"not null"`
	Text           string           `gorm:"type:text;not null"`
	Embedding      *pgvector.Vector `gorm:"type:vector"`
	EmbeddingModel string           `gorm:"type:varchar(255);not null;default:'';index:idx_content_chunks_project_model,priority:2"`
	CreatedAt      time.Time        `gorm:"not null"`
}

func (chunkModel) TableName() string { return "content_chunks" }

func toChunkModel(c *entity.ContentChunk) *chunkModel {
	return &chunkModel{
		ID:             c.ID,
		MaterialID:     c.MaterialID,
		ProjectID:      c.ProjectID,
		SourceFilename: c.SourceFilename,
		ChunkIndex:     c.ChunkIndex,
		OffsetStart:    c.OffsetStart,
		OffsetEnd:      c.OffsetEnd,
		Text:           c.Text,
		Embedding:      toVector(c.Embedding),
		EmbeddingModel: c.EmbeddingModel,
		CreatedAt:      c.CreatedAt,
	}
}

func (m *chunkModel) toEntity() *entity.ContentChunk {
	return &entity.ContentChunk{
		ID:             m.ID,
		MaterialID:     m.MaterialID,
		ProjectID:      m.ProjectID,
		SourceFilename: m.SourceFilename,
		ChunkIndex:     m.ChunkIndex,
		OffsetStart:    m.OffsetStart,
		OffsetEnd:      m.OffsetEnd,
		Text:           m.Text,
		Embedding:      fromVector(m.Embedding),
		EmbeddingModel: m.EmbeddingModel,
		CreatedAt:      m.CreatedAt,
	}
}

func toVector(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

func fromVector(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}

type outlineModel struct {
	ID                 string                                      `gorm:"type:uuid;primaryKey"`
	ProjectID          string                                      `gorm:"type:uuid;index;not null"`
	TaskID             string                                      `gorm:"type:uuid;uniqueIndex:idx_book_outlines_task_version,priority:1;not null"`
	Version            int                                         `gorm:"not null;uniqueIndex:idx_book_outlines_task_version,priority:2"`
	Status             string                                      `gorm:"type:varchar(32);not null"`
	Title              string                                      `gorm:"type:varchar(512)"`
	Synopsis           string                                      `gorm:"type:text"`
	Chapters           datatypes.JSONType[[]entity.ChapterOutline] `gorm:"type:jsonb;not null"`
	SafetyFlags        datatypes.JSONType[[]entity.SafetyFlag]     `gorm:"type:jsonb"`
	CriticScore        float64
	UnapprovedByCritic bool
	FeedbackNotes      string    `gorm:"type:text"`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (outlineModel) TableName() string { return "book_outlines" }

func toOutlineModel(o *entity.BookOutline) *outlineModel {
	return &outlineModel{
		ID:                 o.ID,
		ProjectID:          o.ProjectID,
		TaskID:             o.TaskID,
		Version:            o.Version,
		Status:             string(o.Status),
		Title:              o.Title,
		Synopsis:           o.Synopsis,
		Chapters:           datatypes.NewJSONType(o.Chapters),
		SafetyFlags:        datatypes.NewJSONType(o.SafetyFlags),
		CriticScore:        o.CriticScore,
		UnapprovedByCritic: o.UnapprovedByCritic,
		FeedbackNotes:      o.FeedbackNotes,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

func (m *outlineModel) toEntity() *entity.BookOutline {
	return &entity.BookOutline{
		ID:                 m.ID,
		ProjectID:          m.ProjectID,
		TaskID:             m.TaskID,
		Version:            m.Version,
		Status:             entity.OutlineStatus(m.Status),
		Title:              m.Title,
		Synopsis:           m.Synopsis,
		Chapters:           m.Chapters.Data(),
		SafetyFlags:        m.SafetyFlags.Data(),
		CriticScore:        m.CriticScore,
		UnapprovedByCritic: m.UnapprovedByCritic,
		FeedbackNotes:      m.FeedbackNotes,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

type chapterModel struct {
	ID                    string `gorm:"type:uuid;primaryKey"`
	TaskID                string `gorm:"type:uuid;uniqueIndex:idx_chapters_task_index,priority:1;not null"`
	ProjectID             string `gorm:"type:uuid;index;not null"`
	Index                 int    `gorm:"column:chapter_index;not null;uniqueIndex:idx_chapters_task_index,priority:2"`
	Title                 string `gorm:"type:varchar(512)"`
	CurrentText           string `gorm:"type:text"`
	CurrentRevisionID     string `gorm:"type:varchar(36)"`
	RevisionCount         int    `gorm:"not null;default:0"`
	Status                string `gorm:"type:varchar(32);not null"`
	UnresolvedSafetyFlags int    `gorm:"not null;default:0"`
	WordCount             int
	CreatedAt             time.Time `gorm:"not null"`
	UpdatedAt             time.Time `gorm:"not null"`
}

func (chapterModel) TableName() string { return "manuscript_chapters" }

func toChapterModel(c *entity.Chapter) *chapterModel {
	return &chapterModel{
		ID:                    c.ID,
		TaskID:                c.TaskID,
		ProjectID:             c.ProjectID,
		Index:                 c.Index,
		Title:                 c.Title,
		CurrentText:           c.CurrentText,
		CurrentRevisionID:     c.CurrentRevisionID,
		RevisionCount:         c.RevisionCount,
		Status:                string(c.Status),
		UnresolvedSafetyFlags: c.UnresolvedSafetyFlags,
		WordCount:             c.WordCount,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}

func (m *chapterModel) toEntity() *entity.Chapter {
	return &entity.Chapter{
		ID:                    m.ID,
		TaskID:                m.TaskID,
		ProjectID:             m.ProjectID,
		Index:                 m.Index,
		Title:                 m.Title,
		CurrentText:           m.CurrentText,
		CurrentRevisionID:     m.CurrentRevisionID,
		RevisionCount:         m.RevisionCount,
		Status:                entity.ChapterStatus(m.Status),
		UnresolvedSafetyFlags: m.UnresolvedSafetyFlags,
		WordCount:             m.WordCount,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

type revisionModel struct {
	ID                 string                                 `gorm:"type:uuid;primaryKey"`
	ChapterID          string                                 `gorm:"type:uuid;not null;uniqueIndex:idx_chapter_revisions_chapter_seq,priority:1"`
	Seq                int                                    `gorm:"not null;uniqueIndex:idx_chapter_revisions_chapter_seq,priority:2"`
	Stage              string                                 `gorm:"type:varchar(32);not null"`
	Text               string                                 `gorm:"type:text;not null"`
	Paragraphs         datatypes.JSONType[[]entity.Paragraph]  `gorm:"type:jsonb;not null"`
	Citations          datatypes.JSONType[[]entity.Citation]   `gorm:"type:jsonb"`
	VoiceScore         float64
	CriticScore        float64
	UnapprovedByCritic bool
	FactReport         datatypes.JSONType[*entity.FactReport]  `gorm:"type:jsonb"`
	SafetyFlags        datatypes.JSONType[[]entity.SafetyFlag] `gorm:"type:jsonb"`
	Notes              string                                 `gorm:"type:text"`
	CreatedAt          time.Time                              `gorm:"not null"`
}

func (revisionModel) TableName() string { return "chapter_revisions" }

func toRevisionModel(r *entity.ChapterRevision) *revisionModel {
	return &revisionModel{
		ID:                 r.ID,
		ChapterID:          r.ChapterID,
		Seq:                r.Seq,
		Stage:              string(r.Stage),
		Text:               r.Text,
		Paragraphs:         datatypes.NewJSONType(r.Paragraphs),
		Citations:          datatypes.NewJSONType(r.Citations),
		VoiceScore:         r.VoiceScore,
		CriticScore:        r.CriticScore,
		UnapprovedByCritic: r.UnapprovedByCritic,
		FactReport:         datatypes.NewJSONType(r.FactReport),
		SafetyFlags:        datatypes.NewJSONType(r.SafetyFlags),
		Notes:              r.Notes,
		CreatedAt:          r.CreatedAt,
	}
}

func (m *revisionModel) toEntity() *entity.ChapterRevision {
	return &entity.ChapterRevision{
		ID:                 m.ID,
		ChapterID:          m.ChapterID,
		Seq:                m.Seq,
		Stage:              entity.RevisionStage(m.Stage),
		Text:               m.Text,
		Paragraphs:         m.Paragraphs.Data(),
		Citations:          m.Citations.Data(),
		VoiceScore:         m.VoiceScore,
		CriticScore:        m.CriticScore,
		UnapprovedByCritic: m.UnapprovedByCritic,
		FactReport:         m.FactReport.Data(),
		SafetyFlags:        m.SafetyFlags.Data(),
		Notes:              m.Notes,
		CreatedAt:          m.CreatedAt,
	}
}

type voiceProfileModel struct {
	ID                 string                                 `gorm:"type:uuid;primaryKey"`
	ProjectID          string                                 `gorm:"type:uuid;not null;uniqueIndex:idx_voice_profiles_project_version,priority:1"`
	Version            int                                    `gorm:"not null;uniqueIndex:idx_voice_profiles_project_version,priority:2"`
	ReferenceEmbedding *pgvector.Vector                       `gorm:"type:vector"`
	EmbeddingModel     string                                 `gorm:"type:varchar(255)"`
	Features           datatypes.JSONType[entity.StyleFeatures] `gorm:"type:jsonb;not null"`
	SampleRunes        int
	CalibratedAt       time.Time `gorm:"not null"`
}

func (voiceProfileModel) TableName() string { return "voice_profiles" }

func toVoiceProfileModel(p *entity.VoiceProfile) *voiceProfileModel {
	return &voiceProfileModel{
		ID:                 p.ID,
		ProjectID:          p.ProjectID,
		Version:            p.Version,
		ReferenceEmbedding: toVector(p.ReferenceEmbedding),
		EmbeddingModel:     p.EmbeddingModel,
		Features:           datatypes.NewJSONType(p.Features),
		SampleRunes:        p.SampleRunes,
		CalibratedAt:       p.CalibratedAt,
	}
}

func (m *voiceProfileModel) toEntity() *entity.VoiceProfile {
	return &entity.VoiceProfile{
		ID:                 m.ID,
		ProjectID:          m.ProjectID,
		Version:            m.Version,
		ReferenceEmbedding: fromVector(m.ReferenceEmbedding),
		EmbeddingModel:     m.EmbeddingModel,
		Features:           m.Features.Data(),
		SampleRunes:        m.SampleRunes,
		CalibratedAt:       m.CalibratedAt,
	}
}

type manuscriptModel struct {
	ID        string                                         `gorm:"type:uuid;primaryKey"`
	TaskID    string                                         `gorm:"type:uuid;uniqueIndex;not null"`
	ProjectID string                                         `gorm:"type:uuid;index;not null"`
	OutlineID string                                         `gorm:"type:uuid"`
	Title     string                                         `gorm:"type:varchar(512)"`
	Chapters  datatypes.JSONType[[]entity.ManuscriptChapter] `gorm:"type:jsonb;not null"`
	WordCount int
	CreatedAt time.Time `gorm:"not null"`
}

func (manuscriptModel) TableName() string { return "manuscripts" }

func toManuscriptModel(m *entity.Manuscript) *manuscriptModel {
	return &manuscriptModel{
		ID:        m.ID,
		TaskID:    m.TaskID,
		ProjectID: m.ProjectID,
		OutlineID: m.OutlineID,
		Title:     m.Title,
		Chapters:  datatypes.NewJSONType(m.Chapters),
		WordCount: m.WordCount,
		CreatedAt: m.CreatedAt,
	}
}

func (m *manuscriptModel) toEntity() *entity.Manuscript {
	return &entity.Manuscript{
		ID:        m.ID,
		TaskID:    m.TaskID,
		ProjectID: m.ProjectID,
		OutlineID: m.OutlineID,
		Title:     m.Title,
		Chapters:  m.Chapters.Data(),
		WordCount: m.WordCount,
		CreatedAt: m.CreatedAt,
	}
}

// allModels AutoMigrate 的表
func allModels() []any {
	return []any{
		&entity.SourceMaterial{},
		&chunkModel{},
		&taskModel{},
		&outlineModel{},
		&chapterModel{},
		&revisionModel{},
		&voiceProfileModel{},
		&manuscriptModel{},
	}
}
