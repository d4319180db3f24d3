package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"golang.org/x/sync/singleflight"

	"manuscript-ai-api/pkg/errors"
	"manuscript-ai-api/pkg/metrics"
	"manuscript-ai-api/pkg/vecmath"
)

const defaultEmbeddingBatch = 32

// VectorCache 向量缓存端口，key 已包含模型标识
type VectorCache interface {
	GetVector(ctx context.Context, key string) ([]float32, bool, error)
	SetVector(ctx context.Context, key string, vec []float32) error
}

// EmbeddingService 带版本的 embedding 服务。
// 同一部署只有一个活动模型，所有向量 L2 归一化后返回。
type EmbeddingService struct {
	embedder  embedding.Embedder
	model     string
	cache     VectorCache
	batchSize int
	group     singleflight.Group
}

// NewEmbeddingService 创建服务，cache 可为 nil
func NewEmbeddingService(embedder embedding.Embedder, activeModel string, cache VectorCache, batchSize int) *EmbeddingService {
	if batchSize <= 0 {
		batchSize = defaultEmbeddingBatch
	}
	return &EmbeddingService{
		embedder:  embedder,
		model:     activeModel,
		cache:     cache,
		batchSize: batchSize,
	}
}

// ActiveModel 活动模型标识 provider:model@version
func (s *EmbeddingService) ActiveModel() string { return s.model }

// BatchSize 单次调用的最大条数
func (s *EmbeddingService) BatchSize() int { return s.batchSize }

// Enabled 是否可用
func (s *EmbeddingService) Enabled() bool { return s != nil && s.embedder != nil && s.model != "" }

func (s *EmbeddingService) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(s.model + "|" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

// Embed 单条文本，相同文本的并发请求只调用一次模型
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if !s.Enabled() {
		return nil, ErrVectorDisabled
	}
	key := s.cacheKey(text)
	if vec, ok := s.lookup(ctx, key); ok {
		return vec, nil
	}
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		vecs, err := s.call(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		s.store(ctx, key, vecs[0])
		return vecs[0], nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// EmbedBatch 批量向量化，输出顺序与输入一致
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !s.Enabled() {
		return nil, ErrVectorDisabled
	}
	out := make([][]float32, len(texts))
	var missIdx []int
	for i, t := range texts {
		if vec, ok := s.lookup(ctx, s.cacheKey(t)); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
	}

	for start := 0; start < len(missIdx); start += s.batchSize {
		end := start + s.batchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		idx := missIdx[start:end]
		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}
		vecs, err := s.call(ctx, batch)
		if err != nil {
			return nil, err
		}
		for j, i := range idx {
			out[i] = vecs[j]
			s.store(ctx, s.cacheKey(texts[i]), vecs[j])
		}
	}
	return out, nil
}

func (s *EmbeddingService) call(ctx context.Context, texts []string) ([][]float32, error) {
	raw, err := s.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		metrics.EmbeddingCallTotal.WithLabelValues(s.model, "error").Inc()
		return nil, errors.Transient("embed", fmt.Errorf("embedding %d texts: %w", len(texts), err))
	}
	if len(raw) != len(texts) {
		metrics.EmbeddingCallTotal.WithLabelValues(s.model, "error").Inc()
		return nil, errors.Transient("embed", fmt.Errorf("embedding length mismatch: got %d want %d", len(raw), len(texts)))
	}
	metrics.EmbeddingCallTotal.WithLabelValues(s.model, "success").Inc()
	out := make([][]float32, len(raw))
	for i, v := range raw {
		out[i] = vecmath.Normalize(v)
	}
	return out, nil
}

func (s *EmbeddingService) lookup(ctx context.Context, key string) ([]float32, bool) {
	if s.cache == nil {
		return nil, false
	}
	vec, ok, err := s.cache.GetVector(ctx, key)
	if err != nil || !ok {
		metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
	return vec, true
}

func (s *EmbeddingService) store(ctx context.Context, key string, vec []float32) {
	if s.cache == nil {
		return
	}
	// 缓存写入失败不影响结果
	_ = s.cache.SetVector(ctx, key, vec)
}
