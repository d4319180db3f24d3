// Package voice 文风度量：确定性的统计特征与相似度评分，不调用任何模型
package voice

import (
	"math"
	"strings"
	"unicode"

	"manuscript-ai-api/internal/domain/entity"
)

// 句长分桶上界（词数），最后一桶无上界
var bucketBounds = []int{8, 16, 28}

// 标点类别
var punctClasses = map[rune]string{
	',': "comma", '，': "comma", '、': "comma",
	';': "semicolon", '；': "semicolon",
	':': "colon", '：': "colon",
	'—': "dash", '–': "dash",
	'?': "question", '？': "question",
	'!': "exclamation", '！': "exclamation",
	'"': "quote", '“': "quote", '”': "quote", '「': "quote", '」': "quote",
	'(': "paren", ')': "paren", '（': "paren", '）': "paren",
	'…': "ellipsis",
}

// PunctuationClasses 全部标点类别，已排序
var PunctuationClasses = []string{"colon", "comma", "dash", "ellipsis", "exclamation", "paren", "question", "quote", "semicolon"}

// FunctionWords 封闭的功能词表
var FunctionWords = []string{
	"a", "an", "and", "as", "at", "be", "but", "by", "for", "from", "he", "her", "i", "if", "in", "is",
	"it", "not", "of", "on", "or", "she", "so", "that", "the", "they", "this", "to", "was", "we", "with", "you",
	"的", "了", "是", "在", "和", "我", "你", "他", "她", "就", "也", "都", "而", "但",
}

var functionWordSet = func() map[string]bool {
	m := make(map[string]bool, len(FunctionWords))
	for _, w := range FunctionWords {
		m[w] = true
	}
	return m
}()

const mattrWindow = 50

// Extract 计算文本的文风特征，纯函数
func Extract(text string) entity.StyleFeatures {
	sentences := splitSentences(text)
	f := entity.StyleFeatures{
		SentenceLengthBuckets: make([]float64, len(bucketBounds)+1),
		PunctuationDensity:    make(map[string]float64, len(PunctuationClasses)),
		FunctionWordFreq:      make(map[string]float64, len(FunctionWords)),
	}

	var words []string
	var lengths []float64
	for _, s := range sentences {
		ws := splitWords(s)
		if len(ws) == 0 {
			continue
		}
		words = append(words, ws...)
		lengths = append(lengths, float64(len(ws)))
		f.SentenceLengthBuckets[bucketOf(len(ws))]++
	}
	f.SentenceCount = len(lengths)
	f.WordCount = len(words)
	if f.SentenceCount == 0 || f.WordCount == 0 {
		return f
	}

	f.MeanSentenceLength, f.StdSentenceLength = meanStd(lengths)
	for i := range f.SentenceLengthBuckets {
		f.SentenceLengthBuckets[i] /= float64(f.SentenceCount)
	}

	counts := map[string]int{}
	for _, r := range text {
		if c, ok := punctClasses[r]; ok {
			counts[c]++
		}
	}
	per100 := 100 / float64(f.WordCount)
	for _, c := range PunctuationClasses {
		f.PunctuationDensity[c] = float64(counts[c]) * per100
	}

	f.VocabularyRichness = mattr(words, mattrWindow)

	var runes int
	fw := map[string]int{}
	for _, w := range words {
		runes += len([]rune(w))
		if functionWordSet[w] {
			fw[w]++
		}
	}
	f.MeanWordLength = float64(runes) / float64(f.WordCount)
	for _, w := range FunctionWords {
		f.FunctionWordFreq[w] = float64(fw[w]) / float64(f.WordCount)
	}
	return f
}

func bucketOf(n int) int {
	for i, b := range bucketBounds {
		if n <= b {
			return i
		}
	}
	return len(bucketBounds)
}

func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

// mattr 滑动窗口 type/token 比，文本短于窗口时退化为整体 TTR
func mattr(words []string, window int) float64 {
	if len(words) == 0 {
		return 0
	}
	if len(words) <= window {
		return ttr(words)
	}
	var sum float64
	n := 0
	for i := 0; i+window <= len(words); i++ {
		sum += ttr(words[i : i+window])
		n++
	}
	return sum / float64(n)
}

func ttr(words []string) float64 {
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[w] = struct{}{}
	}
	return float64(len(seen)) / float64(len(words))
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	}
	return false
}

func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		if r == '\n' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
			continue
		}
		b.WriteRune(r)
		if isSentenceEnd(r) {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// splitWords 小写词元，CJK 每字一个词
func splitWords(s string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			out = append(out, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}
