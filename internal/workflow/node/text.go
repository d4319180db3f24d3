package node

import (
	"strings"
	"unicode/utf8"
)

func TruncateByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}

// TailByRunes 保留末尾 maxRunes 个字符，用于上一章结尾等上下文
func TailByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[len(r)-maxRunes:])
}

// BulletList 把要点渲染为 "- " 开头的多行文本
func BulletList(items []string) string {
	var b strings.Builder
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(it)
	}
	if b.Len() == 0 {
		return "（无）"
	}
	return b.String()
}

// OrNone 空串渲染为占位
func OrNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "（无）"
	}
	return strings.TrimSpace(s)
}
