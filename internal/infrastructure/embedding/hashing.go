package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/embedding"
)

// HashingEmbedder 特征哈希词袋向量，确定性、无网络依赖，用于离线开发与测试
type HashingEmbedder struct {
	dim int
}

var _ embedding.Embedder = (*HashingEmbedder)(nil)

func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashingEmbedder{dim: dim}
}

func (h *HashingEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashingEmbedder) vector(text string) []float64 {
	v := make([]float64, h.dim)
	for _, tok := range Tokenize(text) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum32()
		idx := int(sum % uint32(h.dim))
		if sum&(1<<31) != 0 {
			v[idx] -= 1
		} else {
			v[idx] += 1
		}
	}
	return v
}

// Tokenize 小写词元，CJK 按单字切分
func Tokenize(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			out = append(out, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}
