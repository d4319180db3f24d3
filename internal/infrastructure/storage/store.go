// Package storage 提供素材对象存储的本地与 GCS 实现
package storage

import (
	"context"
	"fmt"
	"io"

	"manuscript-ai-api/internal/config"
	"manuscript-ai-api/internal/domain/service"
)

const defaultMaxObjectBytes = 32 << 20

// New 按配置创建对象存储
func New(ctx context.Context, cfg config.StorageConfig) (service.ObjectStore, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.LocalRoot, cfg.MaxObjectBytes)
	case "gcs":
		return NewGCSStore(ctx, cfg.GCSBucket, cfg.MaxObjectBytes)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// readLimited 读取不超过 limit 字节，超过时返回错误而不是截断
func readLimited(r io.Reader, key string, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = defaultMaxObjectBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("object %s exceeds %d bytes", key, limit)
	}
	return data, nil
}
