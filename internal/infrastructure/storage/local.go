package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"manuscript-ai-api/internal/domain/service"
)

// LocalStore 本地目录存储，key 为相对根目录的路径
type LocalStore struct {
	root     string
	maxBytes int64
}

var _ service.ObjectStore = (*LocalStore)(nil)

// NewLocalStore 创建本地存储
func NewLocalStore(root string, maxBytes int64) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage.local_root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid storage root: %w", err)
	}
	return &LocalStore{root: abs, maxBytes: maxBytes}, nil
}

// resolve 拒绝逃逸出根目录的 key
func (s *LocalStore) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimSpace(key))
	if clean == "/" {
		return "", fmt.Errorf("empty object key")
	}
	return filepath.Join(s.root, clean), nil
}

// Get 读取对象
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, service.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}
	defer f.Close()
	return readLimited(f, key, s.maxBytes)
}

// Put 写入对象，供开发环境导入素材
func (s *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
