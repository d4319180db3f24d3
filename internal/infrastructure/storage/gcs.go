package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"manuscript-ai-api/internal/domain/service"
)

// GCSStore Google Cloud Storage 只读存储
type GCSStore struct {
	client   *storage.Client
	bucket   string
	maxBytes int64
}

var _ service.ObjectStore = (*GCSStore)(nil)

// NewGCSStore 使用默认凭据创建 GCS 存储
func NewGCSStore(ctx context.Context, bucket string, maxBytes int64, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage.gcs_bucket is required")
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadOnly))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, maxBytes: maxBytes}, nil
}

// Get 读取对象
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", key, service.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to open GCS object %s: %w", key, err)
	}
	defer r.Close()
	return readLimited(r, key, s.maxBytes)
}

// Close 关闭客户端
func (s *GCSStore) Close() error {
	return s.client.Close()
}
