package service

import (
	"context"
	"errors"
)

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore 素材对象存储的只读端口，上传与管理不在本服务范围内
type ObjectStore interface {
	// Get 读取对象全部内容，不存在时返回 ErrObjectNotFound
	Get(ctx context.Context, key string) ([]byte, error)
}
