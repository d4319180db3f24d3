package retrieval

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// BuildPromptContext 将检索结果格式化为注入 prompt 的证据块，每条以 [n] 开头
func BuildPromptContext(passages []Passage) string {
	if len(passages) == 0 {
		return "（无可用素材）"
	}
	lines := make([]string, 0, len(passages))
	for _, p := range passages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%d] (%s) %s", p.Marker, p.Chunk.SourceFilename, p.Text))
	}
	return strings.Join(lines, "\n")
}

var markerPattern = regexp.MustCompile(`\[(\d{1,3})\]`)

// CitationMarkers 文本中出现的 [n] 标记，去重升序
func CitationMarkers(text string) []int {
	seen := map[int]bool{}
	var out []int
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// StripMarkers 去掉 [n] 标记，用于导出与文风评分
func StripMarkers(text string) string {
	out := markerPattern.ReplaceAllString(text, "")
	out = strings.ReplaceAll(out, " .", ".")
	out = strings.ReplaceAll(out, " ,", ",")
	for strings.Contains(out, "  ") {
		out = strings.ReplaceAll(out, "  ", " ")
	}
	return strings.TrimSpace(out)
}

func compactOneLine(s string) string {
	out := strings.ReplaceAll(s, "\r\n", "\n")
	out = strings.ReplaceAll(out, "\r", "\n")
	out = strings.ReplaceAll(out, "\n", " ")
	out = strings.TrimSpace(out)
	for strings.Contains(out, "  ") {
		out = strings.ReplaceAll(out, "  ", " ")
	}
	return out
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max])) + "…"
}
