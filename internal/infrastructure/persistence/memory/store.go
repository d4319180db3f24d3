// Package memory 提供进程内的仓储实现，用于测试与单进程开发环境。
// 所有读写都做深拷贝，调用方持有的对象与存储互不影响。
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
)

// Store 内存数据集，多个仓储共享同一把锁
type Store struct {
	mu sync.RWMutex

	tasks       map[string]*entity.GenerationTask
	materials   map[string]*entity.SourceMaterial
	chunks      map[string]*entity.ContentChunk
	profiles    map[string][]*entity.VoiceProfile
	outlines    map[string]*entity.BookOutline
	chapters    map[string]*entity.Chapter
	revisions   map[string]*entity.ChapterRevision
	manuscripts map[string]*entity.Manuscript
}

// NewStore 创建空数据集
func NewStore() *Store {
	return &Store{
		tasks:       map[string]*entity.GenerationTask{},
		materials:   map[string]*entity.SourceMaterial{},
		chunks:      map[string]*entity.ContentChunk{},
		profiles:    map[string][]*entity.VoiceProfile{},
		outlines:    map[string]*entity.BookOutline{},
		chapters:    map[string]*entity.Chapter{},
		revisions:   map[string]*entity.ChapterRevision{},
		manuscripts: map[string]*entity.Manuscript{},
	}
}

// Transactor 内存实现没有回滚能力，只保证接口一致
type Transactor struct{}

var _ repository.Transactor = Transactor{}

func (Transactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// cloneJSON 通过 JSON 往返深拷贝，只用于没有 json:"-" 字段的实体
func cloneJSON[T any](v *T) *T {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		panic(err)
	}
	return out
}

func cloneVec(v []float32) []float32 {
	if v == nil {
		return nil
	}
	return append([]float32(nil), v...)
}
