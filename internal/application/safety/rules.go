// Package safety 健康类内容的规则检查与免责声明
package safety

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"manuscript-ai-api/internal/domain/entity"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

type ruleFile struct {
	Rules []struct {
		ID       string   `yaml:"id"`
		Category string   `yaml:"category"`
		Severity string   `yaml:"severity"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"rules"`
	Disclaimers []struct {
		Topic    string   `yaml:"topic"`
		Triggers []string `yaml:"triggers"`
		Text     string   `yaml:"text"`
	} `yaml:"disclaimers"`
	SensitiveTopics []string `yaml:"sensitive_topics"`
}

// Rule 编译后的规则
type Rule struct {
	ID       string
	Category entity.SafetyCategory
	Severity string
	patterns []*regexp.Regexp
}

// Disclaimer 按话题要求的免责声明
type Disclaimer struct {
	Topic    string `json:"topic"`
	Text     string `json:"text"`
	triggers []*regexp.Regexp
}

// RuleSet 不可变的规则集，可被多个 goroutine 共享
type RuleSet struct {
	Rules       []Rule
	Disclaimers []Disclaimer
	sensitive   []string
}

var knownCategories = map[string]entity.SafetyCategory{
	string(entity.SafetyCrisis):        entity.SafetyCrisis,
	string(entity.SafetyDiagnosis):     entity.SafetyDiagnosis,
	string(entity.SafetyMedicalAdvice): entity.SafetyMedicalAdvice,
}

// DefaultRules 内置规则集，内置文件非法属于编程错误
func DefaultRules() *RuleSet {
	rs, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("safety: invalid embedded rules: %v", err))
	}
	return rs
}

// LoadRules path 为空时返回内置规则
func LoadRules(path string) (*RuleSet, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read safety rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules 解析并编译 YAML 规则
func ParseRules(data []byte) (*RuleSet, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse safety rules: %w", err)
	}

	rs := &RuleSet{}
	seen := make(map[string]bool, len(f.Rules))
	for _, r := range f.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("safety rule without id")
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate safety rule %s", r.ID)
		}
		seen[r.ID] = true
		cat, ok := knownCategories[r.Category]
		if !ok {
			return nil, fmt.Errorf("safety rule %s: unknown category %q", r.ID, r.Category)
		}
		if len(r.Patterns) == 0 {
			return nil, fmt.Errorf("safety rule %s has no patterns", r.ID)
		}
		compiled, err := compileAll(r.Patterns)
		if err != nil {
			return nil, fmt.Errorf("safety rule %s: %w", r.ID, err)
		}
		sev := r.Severity
		if sev == "" {
			sev = "high"
		}
		rs.Rules = append(rs.Rules, Rule{ID: r.ID, Category: cat, Severity: sev, patterns: compiled})
	}

	for _, d := range f.Disclaimers {
		if d.Topic == "" || strings.TrimSpace(d.Text) == "" {
			return nil, fmt.Errorf("disclaimer requires topic and text")
		}
		compiled, err := compileAll(d.Triggers)
		if err != nil {
			return nil, fmt.Errorf("disclaimer %s: %w", d.Topic, err)
		}
		rs.Disclaimers = append(rs.Disclaimers, Disclaimer{Topic: d.Topic, Text: strings.TrimSpace(d.Text), triggers: compiled})
	}

	for _, t := range f.SensitiveTopics {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			rs.sensitive = append(rs.sensitive, t)
		}
	}
	return rs, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// IsSensitive 文本是否涉及健康类敏感话题
func (rs *RuleSet) IsSensitive(text string) bool {
	if rs == nil {
		return false
	}
	lower := strings.ToLower(text)
	for _, t := range rs.sensitive {
		if containsTerm(lower, t) {
			return true
		}
	}
	return false
}

// containsTerm 英文词要求词首边界，中文按子串
func containsTerm(text, term string) bool {
	if !isASCII(term) {
		return strings.Contains(text, term)
	}
	for i := 0; ; {
		j := strings.Index(text[i:], term)
		if j < 0 {
			return false
		}
		pos := i + j
		if pos == 0 || !isWordByte(text[pos-1]) {
			return true
		}
		i = pos + 1
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}
