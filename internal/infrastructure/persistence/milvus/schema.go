package milvus

import (
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	// CollectionContentChunks 素材切片集合
	CollectionContentChunks = "content_chunks"

	defaultDimension = 1024

	fieldID             = "id"
	fieldVector         = "vector"
	fieldProjectID      = "project_id"
	fieldMaterialID     = "material_id"
	fieldSourceFilename = "source_filename"
	fieldChunkIndex     = "chunk_index"
	fieldOffsetStart    = "offset_start"
	fieldOffsetEnd      = "offset_end"
	fieldEmbeddingModel = "embedding_model"
	fieldText           = "text_content"
)

// outputFields 检索时回填的标量字段
var outputFields = []string{
	fieldID, fieldProjectID, fieldMaterialID, fieldSourceFilename,
	fieldChunkIndex, fieldOffsetStart, fieldOffsetEnd, fieldEmbeddingModel, fieldText,
}

func varchar(name string, maxLen int) *entity.Field {
	return &entity.Field{
		Name:       name,
		DataType:   entity.FieldTypeVarChar,
		TypeParams: map[string]string{"max_length": strconv.Itoa(maxLen)},
	}
}

// ContentChunksSchema 素材切片 Collection Schema，dim 与活动 embedding 模型一致
func ContentChunksSchema(name string, dim int) *entity.Schema {
	if dim <= 0 {
		dim = defaultDimension
	}
	id := varchar(fieldID, 64)
	id.PrimaryKey = true
	return &entity.Schema{
		CollectionName: name,
		Description:    "Source material chunks for grounded retrieval",
		Fields: []*entity.Field{
			id,
			{
				Name:       fieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(dim)},
			},
			varchar(fieldProjectID, 64),
			varchar(fieldMaterialID, 64),
			varchar(fieldSourceFilename, 512),
			{Name: fieldChunkIndex, DataType: entity.FieldTypeInt64},
			{Name: fieldOffsetStart, DataType: entity.FieldTypeInt64},
			{Name: fieldOffsetEnd, DataType: entity.FieldTypeInt64},
			varchar(fieldEmbeddingModel, 128),
			varchar(fieldText, 65535),
		},
	}
}

// PartitionName 每个项目一个分区
func PartitionName(projectID string) string {
	return "proj_" + sanitize(projectID)
}

// Milvus 分区名只允许字母、数字与下划线
func sanitize(s string) string {
	b := []byte(s)
	for i, c := range b {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			b[i] = '_'
		}
	}
	return string(b)
}

// quote 过滤表达式中的字符串字面量
func quote(s string) string {
	return strconv.Quote(s)
}

// quoteList 过滤表达式中的字符串列表字面量
func quoteList(vals []string) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = quote(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
