package ingestion

import (
	"strings"
	"unicode"
)

// Span 切片在文本中的 rune 区间 [Start, End)
type Span struct {
	Index int
	Start int
	End   int
	Text  string
}

// Chunker 按 rune 滑动窗口切片，窗口末尾回退到句子边界，
// 下一个窗口从 End-Overlap 之后的第一个句首开始，跨边界的句子至少完整出现在一个切片中
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker 创建切片器，overlap 非法时按 size 的 10% 处理
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = 800
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Split 纯函数：相同输入产生相同切片边界
func (c Chunker) Split(text string) []Span {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var out []Span
	start := skipSpace(runes, 0, n)
	for start < n {
		end := start + c.Size
		if end >= n {
			end = n
		} else if b := lastBoundary(runes, start+c.Size*3/4, end); b > start {
			end = b
		}

		if chunk := string(runes[start:end]); strings.TrimSpace(chunk) != "" {
			out = append(out, Span{Index: len(out), Start: start, End: end, Text: chunk})
		}
		if end >= n {
			break
		}

		next := end - c.Overlap
		if next <= start {
			next = end
		} else if s, ok := firstSentenceStart(runes, next, end); ok {
			next = s
		}
		next = skipSpace(runes, next, n)
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	}
	return false
}

// isBoundary i 为切分点（左侧为句末标点后紧跟空白，或段落空行）
func isBoundary(runes []rune, i int) bool {
	if i <= 0 || i >= len(runes) {
		return i == len(runes)
	}
	prev := runes[i-1]
	if prev == '\n' && i >= 2 && runes[i-2] == '\n' {
		return true
	}
	if isTerminator(prev) && unicode.IsSpace(runes[i]) {
		return true
	}
	// 中文句末标点后不一定有空白
	if prev == '。' || prev == '！' || prev == '？' {
		return true
	}
	return false
}

// lastBoundary 在 (lo, hi] 内从右向左找切分点，找不到返回 -1
func lastBoundary(runes []rune, lo, hi int) int {
	for i := hi; i > lo; i-- {
		if isBoundary(runes, i) {
			return i
		}
	}
	return -1
}

// firstSentenceStart 在 [from, limit) 内找第一个切分点
func firstSentenceStart(runes []rune, from, limit int) (int, bool) {
	if from > 0 && isBoundary(runes, from) {
		return from, true
	}
	for i := from + 1; i < limit; i++ {
		if isBoundary(runes, i) {
			return i, true
		}
	}
	return 0, false
}

func skipSpace(runes []rune, i, n int) int {
	for i < n && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}
