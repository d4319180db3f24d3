package retrieval

import "errors"

var (
	// ErrVectorDisabled 向量检索/索引能力未配置
	ErrVectorDisabled = errors.New("vector retrieval is disabled")
	// ErrEmptyQuery 查询文本为空
	ErrEmptyQuery = errors.New("retrieval query is empty")
)
