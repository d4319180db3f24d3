package factcheck

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"manuscript-ai-api/internal/domain/entity"
)

const (
	hedgeEN = "According to available records, "
	hedgeZH = "据现有资料，"
)

// 句首这些词改为小写后接在前缀后面，其余（多为专有名词）保持原样
var lowerableLead = map[string]bool{
	"the": true, "a": true, "an": true, "this": true, "that": true, "these": true, "those": true,
	"it": true, "there": true, "he": true, "she": true, "they": true, "we": true, "our": true,
	"my": true, "his": true, "her": true, "their": true, "in": true, "on": true, "at": true,
	"most": true, "many": true, "some": true, "every": true, "each": true,
}

// HedgeSentence 给句子加上不确定前缀，已加过的原样返回
func HedgeSentence(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || isHedged(trimmed) {
		return s
	}
	if hasHan(trimmed) {
		return hedgeZH + trimmed
	}
	first := trimmed
	if i := strings.IndexFunc(trimmed, func(r rune) bool { return !unicode.IsLetter(r) }); i > 0 {
		first = trimmed[:i]
	}
	if lowerableLead[strings.ToLower(first)] {
		r, size := utf8.DecodeRuneInString(trimmed)
		trimmed = string(unicode.ToLower(r)) + trimmed[size:]
	}
	return hedgeEN + trimmed
}

// ApplyHedges 改写 uncertain 陈述所在的原句，并在报告中标记 Hedged。
// 找不到原句的陈述保持不变。
func ApplyHedges(text string, rep *entity.FactReport) string {
	if rep == nil {
		return text
	}
	for i := range rep.Claims {
		c := &rep.Claims[i]
		if c.Label != entity.ClaimUncertain || c.Hedged {
			continue
		}
		sentence := strings.TrimSpace(c.Sentence)
		if sentence == "" || !strings.Contains(text, sentence) {
			continue
		}
		hedged := HedgeSentence(sentence)
		if hedged != sentence {
			text = strings.Replace(text, sentence, hedged, 1)
		}
		c.Sentence = hedged
		c.Hedged = true
	}
	return text
}

func isHedged(s string) bool {
	return strings.HasPrefix(s, hedgeEN) || strings.HasPrefix(s, hedgeZH)
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
