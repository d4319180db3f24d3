package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
	"manuscript-ai-api/pkg/logger"
)

// IndexResult 一次向量化的统计
type IndexResult struct {
	Embedded int
	Batches  int
}

// Indexer 为模型标识落后于活动模型的切片补齐向量
type Indexer struct {
	embeddings  *EmbeddingService
	chunks      repository.ChunkRepository
	vector      VectorRepository
	concurrency int
}

// NewIndexer 创建索引器，vector 为 nil 表示向量与切片同表存储
func NewIndexer(embeddings *EmbeddingService, chunks repository.ChunkRepository, vector VectorRepository, concurrency int) *Indexer {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Indexer{
		embeddings:  embeddings,
		chunks:      chunks,
		vector:      vector,
		concurrency: concurrency,
	}
}

// EmbedPending 处理项目下全部待向量化切片，可重复调用
func (i *Indexer) EmbedPending(ctx context.Context, projectID string) (IndexResult, error) {
	var res IndexResult
	if !i.embeddings.Enabled() {
		return res, ErrVectorDisabled
	}
	if i.vector != nil {
		if err := i.vector.EnsureCollection(ctx); err != nil {
			return res, fmt.Errorf("failed to ensure vector collection: %w", err)
		}
	}

	model := i.embeddings.ActiveModel()
	bs := i.embeddings.BatchSize()
	for {
		pending, err := i.chunks.ListNeedingEmbedding(ctx, projectID, model, bs*i.concurrency)
		if err != nil {
			return res, fmt.Errorf("failed to list chunks needing embedding: %w", err)
		}
		if len(pending) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(i.concurrency)
		for start := 0; start < len(pending); start += bs {
			end := start + bs
			if end > len(pending) {
				end = len(pending)
			}
			batch := pending[start:end]
			g.Go(func() error {
				return i.embedBatch(gctx, batch, model)
			})
			res.Batches++
		}
		if err := g.Wait(); err != nil {
			return res, err
		}

		if err := i.chunks.UpdateEmbeddings(ctx, pending); err != nil {
			return res, fmt.Errorf("failed to store embeddings: %w", err)
		}
		if i.vector != nil {
			if err := i.vector.Upsert(ctx, pending); err != nil {
				return res, fmt.Errorf("failed to upsert vectors: %w", err)
			}
		}
		res.Embedded += len(pending)
	}

	logger.Info(ctx, "chunk embedding finished",
		"project_id", projectID,
		"model", model,
		"embedded", res.Embedded,
		"batches", res.Batches,
	)
	return res, nil
}

func (i *Indexer) embedBatch(ctx context.Context, batch []*entity.ContentChunk, model string) error {
	texts := make([]string, len(batch))
	for j, c := range batch {
		texts[j] = c.Text
	}
	vecs, err := i.embeddings.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	for j, c := range batch {
		c.SetEmbedding(vecs[j], model)
	}
	return nil
}
