package ingestion

import (
	"context"
	"errors"
	"fmt"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
	"manuscript-ai-api/internal/domain/service"
	apperrors "manuscript-ai-api/pkg/errors"
	"manuscript-ai-api/pkg/logger"
)

// Result 一次项目摄取的汇总
type Result struct {
	Processed int
	Skipped   int
	Failed    int
	Chunks    int
	// MaterialIDs 本次新完成的素材
	MaterialIDs []string
}

// Service 素材摄取：读取对象、抽取文本、切片入库。
// 单个素材失败只记录在该素材上，不影响同一项目的其他素材。
type Service struct {
	materials repository.MaterialRepository
	chunks    repository.ChunkRepository
	store     service.ObjectStore
	extractor *Extractor
	chunker   Chunker
	tx        repository.Transactor
}

// NewService 创建摄取服务
func NewService(
	materials repository.MaterialRepository,
	chunks repository.ChunkRepository,
	store service.ObjectStore,
	extractor *Extractor,
	chunker Chunker,
	tx repository.Transactor,
) *Service {
	if extractor == nil {
		extractor = NewExtractor()
	}
	return &Service{
		materials: materials,
		chunks:    chunks,
		store:     store,
		extractor: extractor,
		chunker:   chunker,
		tx:        tx,
	}
}

// IngestProject 处理项目下所有非终态素材，已完成的素材直接跳过，可安全重复调用
func (s *Service) IngestProject(ctx context.Context, projectID string) (Result, error) {
	var res Result
	list, err := s.materials.ListByProject(ctx, projectID)
	if err != nil {
		return res, fmt.Errorf("failed to list materials: %w", err)
	}

	for _, m := range list {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if m.IsTerminal() {
			res.Skipped++
			continue
		}
		n, err := s.IngestMaterial(ctx, m)
		if err != nil {
			return res, err
		}
		if m.Status == entity.MaterialStatusFailed {
			res.Failed++
			continue
		}
		res.Processed++
		res.Chunks += n
		res.MaterialIDs = append(res.MaterialIDs, m.ID)
	}

	logger.Info(ctx, "project ingestion finished",
		"project_id", projectID,
		"processed", res.Processed,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"chunks", res.Chunks,
	)
	return res, nil
}

// IngestMaterial 处理单个素材，返回写入的切片数。
// 抽取失败或对象缺失时素材置为 failed 并返回 nil，其余错误（存储、取消）原样返回。
func (s *Service) IngestMaterial(ctx context.Context, m *entity.SourceMaterial) (int, error) {
	if m.IsTerminal() {
		return 0, nil
	}
	if err := m.StartProcessing(); err != nil {
		return 0, err
	}
	if err := s.materials.Update(ctx, m); err != nil {
		return 0, fmt.Errorf("failed to mark material processing: %w", err)
	}

	data, err := s.store.Get(ctx, m.StorageKey)
	if err != nil {
		if errors.Is(err, service.ErrObjectNotFound) {
			return 0, s.fail(ctx, m, string(apperrors.KindExtractionFailed), "source object not found")
		}
		return 0, fmt.Errorf("failed to read material object: %w", err)
	}

	text, detected, err := s.extractor.Extract(data, m.MimeType, m.Filename)
	if err != nil {
		if se, ok := apperrors.AsStageError(err); ok {
			reason := se.Reason
			if se.Err != nil {
				reason = fmt.Sprintf("%s: %v", se.Reason, se.Err)
			}
			return 0, s.fail(ctx, m, string(se.Kind), reason)
		}
		return 0, err
	}

	spans := s.chunker.Split(text)
	chunks := make([]*entity.ContentChunk, 0, len(spans))
	for _, sp := range spans {
		chunks = append(chunks, entity.NewContentChunk(m, sp.Index, sp.Start, sp.End, sp.Text))
	}
	if err := m.CompleteExtraction(text, detected); err != nil {
		return 0, err
	}

	err = s.withTx(ctx, func(ctx context.Context) error {
		if err := s.chunks.ReplaceForMaterial(ctx, m.ID, chunks); err != nil {
			return fmt.Errorf("failed to store chunks: %w", err)
		}
		if err := s.materials.Update(ctx, m); err != nil {
			return fmt.Errorf("failed to complete material: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.Debug(ctx, "material ingested",
		"material_id", m.ID,
		"filename", m.Filename,
		"detected_mime", detected,
		"chunks", len(chunks),
	)
	return len(chunks), nil
}

func (s *Service) fail(ctx context.Context, m *entity.SourceMaterial, code, reason string) error {
	if err := m.FailExtraction(code, reason); err != nil {
		return err
	}
	if err := s.materials.Update(ctx, m); err != nil {
		return fmt.Errorf("failed to mark material failed: %w", err)
	}
	logger.Warn(ctx, "material ingestion failed",
		"material_id", m.ID,
		"filename", m.Filename,
		"code", code,
		"reason", reason,
	)
	return nil
}

func (s *Service) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.WithTransaction(ctx, fn)
}
