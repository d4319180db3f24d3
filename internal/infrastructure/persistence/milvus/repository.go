package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	mentity "github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/domain/entity"
)

// Repository 素材切片向量仓储，实现 retrieval.VectorRepository
type Repository struct {
	client *Client
	dim    int
}

// NewRepository 创建向量仓储，dim 为活动 embedding 模型的维度
func NewRepository(client *Client, dim int) *Repository {
	if dim <= 0 {
		dim = defaultDimension
	}
	return &Repository{client: client, dim: dim}
}

var _ retrieval.VectorRepository = (*Repository)(nil)

func (r *Repository) ready() error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return retrieval.ErrVectorDisabled
	}
	return nil
}

func (r *Repository) collection() string {
	return r.client.CollectionName(CollectionContentChunks)
}

// EnsureCollection 集合不存在时创建并建立 HNSW 索引，然后加载
func (r *Repository) EnsureCollection(ctx context.Context) error {
	if err := r.ready(); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "milvus.EnsureCollection")
	defer span.End()

	name := r.collection()
	has, err := r.client.milvus.HasCollection(ctx, name)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		if err := r.client.milvus.CreateCollection(ctx, ContentChunksSchema(name, r.dim), mentity.DefaultShardNumber); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create collection: %w", err)
		}
		if err := r.createIndex(ctx, name); err != nil {
			span.RecordError(err)
			return err
		}
	}
	if err := r.client.milvus.LoadCollection(ctx, name, false); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (r *Repository) createIndex(ctx context.Context, name string) error {
	m, ef := r.client.config.HNSWM, r.client.config.HNSWEfConstruction
	if m <= 0 {
		m = 16
	}
	if ef <= 0 {
		ef = 200
	}
	idx, err := mentity.NewIndexHNSW(mentity.COSINE, m, ef)
	if err != nil {
		return fmt.Errorf("failed to build index: %w", err)
	}
	if err := r.client.milvus.CreateIndex(ctx, name, fieldVector, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func (r *Repository) ensurePartition(ctx context.Context, projectID string) error {
	name, part := r.collection(), PartitionName(projectID)
	has, err := r.client.milvus.HasPartition(ctx, name, part)
	if err != nil {
		return fmt.Errorf("failed to check partition: %w", err)
	}
	if has {
		return nil
	}
	if err := r.client.milvus.CreatePartition(ctx, name, part); err != nil {
		return fmt.Errorf("failed to create partition: %w", err)
	}
	return nil
}

// Search 项目分区内按余弦相似度检索，过滤到同一 embedding 模型
func (r *Repository) Search(ctx context.Context, params *retrieval.VectorSearchParams) ([]*retrieval.VectorSearchResult, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if params == nil || len(params.QueryVector) == 0 || params.TopK <= 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "milvus.Search",
		trace.WithAttributes(
			attribute.String("project_id", params.ProjectID),
			attribute.String("model", params.Model),
			attribute.Int("top_k", params.TopK),
		))
	defer span.End()

	name, part := r.collection(), PartitionName(params.ProjectID)

	// 新项目尚未写入向量时分区不存在
	has, err := r.client.milvus.HasPartition(ctx, name, part)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to check partition: %w", err)
	}
	if !has {
		return []*retrieval.VectorSearchResult{}, nil
	}

	filter := fmt.Sprintf("%s == %s && %s == %s",
		fieldProjectID, quote(params.ProjectID), fieldEmbeddingModel, quote(params.Model))
	if len(params.ExcludeMaterialIDs) > 0 {
		filter += fmt.Sprintf(" && %s not in %s", fieldMaterialID, quoteList(params.ExcludeMaterialIDs))
	}

	sp, err := mentity.NewIndexHNSWSearchParam(128)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := r.client.milvus.Search(ctx,
		name,
		[]string{part},
		filter,
		outputFields,
		[]mentity.Vector{mentity.FloatVector(params.QueryVector)},
		fieldVector,
		mentity.COSINE,
		params.TopK,
		sp,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var out []*retrieval.VectorSearchResult
	for _, res := range results {
		for i := 0; i < res.ResultCount; i++ {
			out = append(out, &retrieval.VectorSearchResult{
				Chunk: chunkAt(res, i),
				Score: float64(res.Scores[i]),
			})
		}
	}
	span.SetAttributes(attribute.Int("result_count", len(out)))
	return out, nil
}

func chunkAt(res client.SearchResult, i int) *entity.ContentChunk {
	c := &entity.ContentChunk{
		ID:             varcharAt(res, fieldID, i),
		ProjectID:      varcharAt(res, fieldProjectID, i),
		MaterialID:     varcharAt(res, fieldMaterialID, i),
		SourceFilename: varcharAt(res, fieldSourceFilename, i),
		ChunkIndex:     int(int64At(res, fieldChunkIndex, i)),
		OffsetStart:    int(int64At(res, fieldOffsetStart, i)),
		OffsetEnd:      int(int64At(res, fieldOffsetEnd, i)),
		EmbeddingModel: varcharAt(res, fieldEmbeddingModel, i),
		Text:           varcharAt(res, fieldText, i),
	}
	if c.ID == "" {
		if ids, ok := res.IDs.(*mentity.ColumnVarChar); ok && i < ids.Len() {
			c.ID = ids.Data()[i]
		}
	}
	return c
}

func varcharAt(res client.SearchResult, name string, i int) string {
	if col, ok := res.Fields.GetColumn(name).(*mentity.ColumnVarChar); ok && i < col.Len() {
		return col.Data()[i]
	}
	return ""
}

func int64At(res client.SearchResult, name string, i int) int64 {
	if col, ok := res.Fields.GetColumn(name).(*mentity.ColumnInt64); ok && i < col.Len() {
		return col.Data()[i]
	}
	return 0
}

// Upsert 按项目分区写入已向量化的切片，未向量化的切片被跳过
func (r *Repository) Upsert(ctx context.Context, chunks []*entity.ContentChunk) error {
	if err := r.ready(); err != nil {
		return err
	}
	byProject := make(map[string][]*entity.ContentChunk)
	for _, c := range chunks {
		if c == nil || len(c.Embedding) == 0 {
			continue
		}
		byProject[c.ProjectID] = append(byProject[c.ProjectID], c)
	}
	if len(byProject) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "milvus.Upsert",
		trace.WithAttributes(attribute.Int("count", len(chunks))))
	defer span.End()

	for projectID, group := range byProject {
		if err := r.ensurePartition(ctx, projectID); err != nil {
			span.RecordError(err)
			return err
		}
		if _, err := r.client.milvus.Upsert(ctx, r.collection(), PartitionName(projectID), r.columns(group)...); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to upsert chunks: %w", err)
		}
	}
	return nil
}

func (r *Repository) columns(chunks []*entity.ContentChunk) []mentity.Column {
	n := len(chunks)
	var (
		ids, projects, materials, files, models, texts = make([]string, n), make([]string, n), make([]string, n), make([]string, n), make([]string, n), make([]string, n)
		indexes, starts, ends                          = make([]int64, n), make([]int64, n), make([]int64, n)
		vectors                                        = make([][]float32, n)
	)
	for i, c := range chunks {
		ids[i] = c.ID
		projects[i] = c.ProjectID
		materials[i] = c.MaterialID
		files[i] = c.SourceFilename
		models[i] = c.EmbeddingModel
		texts[i] = c.Text
		indexes[i] = int64(c.ChunkIndex)
		starts[i] = int64(c.OffsetStart)
		ends[i] = int64(c.OffsetEnd)
		vectors[i] = c.Embedding
	}
	return []mentity.Column{
		mentity.NewColumnVarChar(fieldID, ids),
		mentity.NewColumnFloatVector(fieldVector, r.dim, vectors),
		mentity.NewColumnVarChar(fieldProjectID, projects),
		mentity.NewColumnVarChar(fieldMaterialID, materials),
		mentity.NewColumnVarChar(fieldSourceFilename, files),
		mentity.NewColumnInt64(fieldChunkIndex, indexes),
		mentity.NewColumnInt64(fieldOffsetStart, starts),
		mentity.NewColumnInt64(fieldOffsetEnd, ends),
		mentity.NewColumnVarChar(fieldEmbeddingModel, models),
		mentity.NewColumnVarChar(fieldText, texts),
	}
}

// DeleteByMaterial 删除素材在项目分区内的全部向量
func (r *Repository) DeleteByMaterial(ctx context.Context, projectID, materialID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "milvus.DeleteByMaterial",
		trace.WithAttributes(attribute.String("material_id", materialID)))
	defer span.End()

	name, part := r.collection(), PartitionName(projectID)
	has, err := r.client.milvus.HasPartition(ctx, name, part)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to check partition: %w", err)
	}
	if !has {
		return nil
	}
	expr := fmt.Sprintf("%s == %s", fieldMaterialID, quote(materialID))
	if err := r.client.milvus.Delete(ctx, name, part, expr); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}
