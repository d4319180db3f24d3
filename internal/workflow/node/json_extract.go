package node

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON 截取模型输出中第一个 JSON 对象或数组，模型可能在前后夹杂说明文字或 Markdown 代码块
func extractJSON(s string) string {
	raw := stripCodeFence(strings.TrimSpace(s))
	objStart := strings.Index(raw, "{")
	arrStart := strings.Index(raw, "[")
	start, end := -1, -1
	switch {
	case objStart >= 0 && (arrStart < 0 || objStart < arrStart):
		start, end = objStart, strings.LastIndex(raw, "}")
	case arrStart >= 0:
		start, end = arrStart, strings.LastIndex(raw, "]")
	}
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

// DecodeJSON 截取并解析模型输出中的 JSON
func DecodeJSON(content string, out any) error {
	raw := extractJSON(content)
	if raw == "" {
		return fmt.Errorf("empty model output")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("invalid json output: %w", err)
	}
	return nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	if j := strings.LastIndex(s, "```"); j >= 0 {
		s = s[:j]
	}
	return strings.TrimSpace(s)
}
