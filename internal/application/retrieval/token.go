package retrieval

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter 估算文本 token 数，用于检索预算
type TokenCounter interface {
	Count(text string) int
}

// ApproxCounter 近似计数：拉丁文约 4 字符一个 token，CJK 每字一个 token
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	latin, cjk := 0, 0
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r), unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r), unicode.Is(unicode.Hangul, r):
			cjk++
		default:
			latin++
		}
	}
	n := cjk + (latin+3)/4
	if n == 0 && strings.TrimSpace(text) != "" {
		n = 1
	}
	return n
}

// TiktokenCounter 使用 BPE 编码精确计数
type TiktokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter 按编码名创建（例如 cl100k_base）
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if strings.TrimSpace(encoding) == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %s: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

// NewTokenCounter 根据配置选择计数器，tiktoken 加载失败时回退到近似计数
func NewTokenCounter(kind, encoding string) (TokenCounter, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "approx":
		return ApproxCounter{}, nil
	case "tiktoken":
		c, err := NewTiktokenCounter(encoding)
		if err != nil {
			return ApproxCounter{}, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", kind)
	}
}
