package retrieval

import "manuscript-ai-api/internal/domain/entity"

// Budget 单个阶段的检索预算
type Budget struct {
	MaxChunks        int
	MaxTokens        int
	MaxRunesPerChunk int
	MinScore         float64
}

// Query 检索请求
type Query struct {
	ProjectID string
	Text      string
	Budget    Budget
	// Stage 仅用于指标与日志
	Stage string
}

// Passage 一条可引用的检索结果，Marker 从 1 开始，对应 prompt 中的 [n]
type Passage struct {
	Marker   int
	Chunk    *entity.ContentChunk
	Text     string
	Score    float64
	Tokens   int
	Citation entity.Citation
}

// Result 检索结果
type Result struct {
	Passages []Passage
	// StaleDropped 因模型标识不一致被丢弃的候选数
	StaleDropped int
	// CappedDropped 因单一素材数量上限被跳过的候选数
	CappedDropped int
	Model         string
	TotalTokens   int
}

// Empty 是否没有可用证据
func (r *Result) Empty() bool {
	return r == nil || len(r.Passages) == 0
}

// CitationByMarker 根据 [n] 标记查找引用
func (r *Result) CitationByMarker(n int) (entity.Citation, bool) {
	if r == nil || n < 1 || n > len(r.Passages) {
		return entity.Citation{}, false
	}
	return r.Passages[n-1].Citation, true
}
