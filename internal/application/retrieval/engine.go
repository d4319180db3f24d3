package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/pkg/logger"
	"manuscript-ai-api/pkg/metrics"
)

var tracer = otel.Tracer("retrieval")

const (
	defaultMaxChunks  = 8
	defaultPoolFactor = 4
	// maxDiversityRounds 候选池饱和时追加检索的最多次数
	maxDiversityRounds = 3
)

// Engine 项目内的向量检索，带单一素材上限与陈旧向量守卫
type Engine struct {
	embeddings *EmbeddingService
	vector     VectorRepository
	tokens     TokenCounter
	poolFactor int
	backend    string
}

// NewEngine 创建检索引擎
func NewEngine(embeddings *EmbeddingService, vector VectorRepository, tokens TokenCounter, poolFactor int, backend string) *Engine {
	if tokens == nil {
		tokens = ApproxCounter{}
	}
	if poolFactor <= 0 {
		poolFactor = defaultPoolFactor
	}
	return &Engine{
		embeddings: embeddings,
		vector:     vector,
		tokens:     tokens,
		poolFactor: poolFactor,
		backend:    backend,
	}
}

// Enabled 是否可用
func (e *Engine) Enabled() bool {
	return e != nil && e.embeddings.Enabled() && e.vector != nil
}

// Tokens 预算使用的计数器
func (e *Engine) Tokens() TokenCounter { return e.tokens }

// ActiveModel 活动 embedding 模型
func (e *Engine) ActiveModel() string { return e.embeddings.ActiveModel() }

// Retrieve 返回至多 Budget.MaxChunks 条证据。没有证据不是错误，由调用方决定是否视为 grounding 不足。
func (e *Engine) Retrieve(ctx context.Context, q Query) (*Result, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Engine.Retrieve")
	defer span.End()

	if !e.Enabled() {
		return nil, ErrVectorDisabled
	}
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return nil, ErrEmptyQuery
	}
	if strings.TrimSpace(q.ProjectID) == "" {
		return nil, fmt.Errorf("project_id is required")
	}

	vec, err := e.embeddings.Embed(ctx, q.Text)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	res, err := e.RetrieveByVector(ctx, q, vec)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(spanAttrs(res)...)
	return res, nil
}

// RetrieveByVector 使用已计算好的查询向量检索
func (e *Engine) RetrieveByVector(ctx context.Context, q Query, vec []float32) (*Result, error) {
	k := q.Budget.MaxChunks
	if k <= 0 {
		k = defaultMaxChunks
	}
	model := e.embeddings.ActiveModel()

	start := time.Now()
	hits, err := e.searchPool(ctx, &VectorSearchParams{
		ProjectID:   q.ProjectID,
		Model:       model,
		QueryVector: vec,
		TopK:        k * e.poolFactor,
	}, k, q.Budget.MinScore)
	metrics.RetrievalDuration.WithLabelValues(e.backend).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	res := selectPassages(hits, q.Budget, k, model, e.tokens)
	if res.StaleDropped > 0 {
		logger.Warn(ctx, "stale embeddings excluded from retrieval",
			"project_id", q.ProjectID,
			"model", model,
			"dropped", res.StaleDropped,
		)
	}
	metrics.RetrievalResults.WithLabelValues(stageLabel(q.Stage)).Observe(float64(len(res.Passages)))
	return res, nil
}

// searchPool 取候选池。候选池被少数素材占满时，排除已达上限的素材再检索，
// 使其他合格素材也能进入候选，单一素材上限才有意义
func (e *Engine) searchPool(ctx context.Context, params *VectorSearchParams, k int, minScore float64) ([]*VectorSearchResult, error) {
	hits, err := e.vector.Search(ctx, params)
	if err != nil {
		return nil, err
	}
	limit := (k + 1) / 2
	if limit >= k {
		return hits, nil
	}

	all := hits
	for round := 0; round < maxDiversityRounds && len(hits) >= params.TopK; round++ {
		counts := map[string]int{}
		for _, h := range all {
			if h != nil && h.Chunk != nil && h.Chunk.EmbeddingModel == params.Model && h.Score >= minScore {
				counts[h.Chunk.MaterialID]++
			}
		}
		next := *params
		next.ExcludeMaterialIDs = append([]string(nil), params.ExcludeMaterialIDs...)
		for id, n := range counts {
			if n >= limit && !next.Excludes(id) {
				next.ExcludeMaterialIDs = append(next.ExcludeMaterialIDs, id)
			}
		}
		if len(next.ExcludeMaterialIDs) == len(params.ExcludeMaterialIDs) {
			break
		}
		sort.Strings(next.ExcludeMaterialIDs)
		params = &next
		if hits, err = e.vector.Search(ctx, params); err != nil {
			return nil, err
		}
		all = append(all, hits...)
	}
	return all, nil
}

// selectPassages 对候选排序后贪心选取：
// 多于一个素材合格时，单一素材最多 ceil(k/2) 条；累计 token 超出预算即停止
func selectPassages(hits []*VectorSearchResult, b Budget, k int, model string, tokens TokenCounter) *Result {
	res := &Result{Model: model}

	cands := make([]*VectorSearchResult, 0, len(hits))
	for _, h := range hits {
		if h == nil || h.Chunk == nil {
			continue
		}
		if h.Chunk.EmbeddingModel != model {
			res.StaleDropped++
			continue
		}
		if h.Score < b.MinScore {
			continue
		}
		cands = append(cands, h)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, c := cands[i], cands[j]
		if a.Score != c.Score {
			return a.Score > c.Score
		}
		if a.Chunk.MaterialID != c.Chunk.MaterialID {
			return a.Chunk.MaterialID < c.Chunk.MaterialID
		}
		return a.Chunk.ChunkIndex < c.Chunk.ChunkIndex
	})

	materials := map[string]bool{}
	for _, c := range cands {
		materials[c.Chunk.MaterialID] = true
	}
	perMaterial := k
	if len(materials) > 1 {
		perMaterial = (k + 1) / 2
	}

	taken := map[string]int{}
	seen := map[string]bool{}
	for _, c := range cands {
		if len(res.Passages) >= k {
			break
		}
		if seen[c.Chunk.ID] {
			continue
		}
		if taken[c.Chunk.MaterialID] >= perMaterial {
			res.CappedDropped++
			continue
		}
		text := truncateRunes(compactOneLine(c.Chunk.Text), b.MaxRunesPerChunk)
		n := tokens.Count(text)
		if b.MaxTokens > 0 && res.TotalTokens+n > b.MaxTokens {
			break
		}
		seen[c.Chunk.ID] = true
		taken[c.Chunk.MaterialID]++
		res.TotalTokens += n
		res.Passages = append(res.Passages, Passage{
			Marker:   len(res.Passages) + 1,
			Chunk:    c.Chunk,
			Text:     text,
			Score:    c.Score,
			Tokens:   n,
			Citation: entity.CitationFor(c.Chunk, c.Score),
		})
	}
	return res
}

func stageLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// spanAttrs 检索结果的追踪属性
func spanAttrs(res *Result) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("retrieval.passages", len(res.Passages)),
		attribute.Int("retrieval.stale_dropped", res.StaleDropped),
		attribute.Int("retrieval.tokens", res.TotalTokens),
	}
}
