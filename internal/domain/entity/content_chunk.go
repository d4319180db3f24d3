package entity

import (
	"time"

	"github.com/google/uuid"
)

// ContentChunk 素材切片，偏移量为素材抽取文本中的 rune 下标，左闭右开
type ContentChunk struct {
	ID             string    `json:"id"`
	MaterialID     string    `json:"material_id"`
	ProjectID      string    `json:"project_id"`
	SourceFilename string    `json:"source_filename"`
	ChunkIndex     int       `json:"chunk_index"`
	OffsetStart    int       `json:"offset_start"`
	OffsetEnd      int       `json:"offset_end"`
	Text           string    `json:"text"`
	Embedding      []float32 `json:"-"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewContentChunk 创建未向量化的切片
func NewContentChunk(m *SourceMaterial, index, start, end int, text string) *ContentChunk {
	return &ContentChunk{
		ID:             uuid.NewString(),
		MaterialID:     m.ID,
		ProjectID:      m.ProjectID,
		SourceFilename: m.Filename,
		ChunkIndex:     index,
		OffsetStart:    start,
		OffsetEnd:      end,
		Text:           text,
		CreatedAt:      time.Now(),
	}
}

// SetEmbedding 记录向量及其模型标识
func (c *ContentChunk) SetEmbedding(vec []float32, model string) {
	c.Embedding = vec
	c.EmbeddingModel = model
}

// EmbeddedWith 切片是否由指定模型向量化，不一致的切片不得参与检索
func (c *ContentChunk) EmbeddedWith(model string) bool {
	return model != "" && c.EmbeddingModel == model && len(c.Embedding) > 0
}

// Citation 生成文本对素材切片的引用，只随引用它的文本一起存储
type Citation struct {
	ChunkID        string  `json:"chunk_id"`
	MaterialID     string  `json:"material_id"`
	SourceFilename string  `json:"source_filename"`
	OffsetStart    int     `json:"offset_start"`
	OffsetEnd      int     `json:"offset_end"`
	RelevanceScore float64 `json:"relevance_score"`
}

// CitationFor 从切片构造引用
func CitationFor(c *ContentChunk, score float64) Citation {
	return Citation{
		ChunkID:        c.ID,
		MaterialID:     c.MaterialID,
		SourceFilename: c.SourceFilename,
		OffsetStart:    c.OffsetStart,
		OffsetEnd:      c.OffsetEnd,
		RelevanceScore: score,
	}
}

// CitationExport 对外导出格式
type CitationExport struct {
	SourceFilename string  `json:"source_filename"`
	OffsetStart    int     `json:"offset_start"`
	OffsetEnd      int     `json:"offset_end"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Export 转为导出格式
func (c Citation) Export() CitationExport {
	return CitationExport{
		SourceFilename: c.SourceFilename,
		OffsetStart:    c.OffsetStart,
		OffsetEnd:      c.OffsetEnd,
		RelevanceScore: c.RelevanceScore,
	}
}
