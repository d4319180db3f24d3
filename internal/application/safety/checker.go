package safety

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"manuscript-ai-api/internal/domain/entity"
	llmctx "manuscript-ai-api/internal/domain/service"
	"manuscript-ai-api/pkg/logger"
	"manuscript-ai-api/pkg/metrics"
)

// Report 一次安全检查的结果。Flags 需要重写或人工处理，Disclaimers 只需插入正文。
type Report struct {
	Flags       []entity.SafetyFlag `json:"flags"`
	Disclaimers []Disclaimer        `json:"disclaimers"`
	Usage       []llmctx.LLMUsage   `json:"-"`
}

// Blocked 是否存在需要处理的标记
func (r *Report) Blocked() bool { return r != nil && len(r.Flags) > 0 }

// Classifier 可选的模型分类器，补充规则覆盖不到的片段
type Classifier interface {
	Classify(ctx context.Context, text string) ([]entity.SafetyFlag, *llmctx.LLMUsage, error)
}

// Checker 规则检查 + 可选分类器
type Checker struct {
	rules      *RuleSet
	classifier Classifier
}

// NewChecker rules 为 nil 时使用内置规则；classifier 可为 nil
func NewChecker(rules *RuleSet, classifier Classifier) *Checker {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Checker{rules: rules, classifier: classifier}
}

// Rules 当前规则集
func (c *Checker) Rules() *RuleSet { return c.rules }

// IsSensitive 见 RuleSet.IsSensitive
func (c *Checker) IsSensitive(text string) bool { return c.rules.IsSensitive(text) }

// Scan 纯规则检查，不调用模型
func (c *Checker) Scan(text string) Report {
	var rep Report
	for _, r := range c.rules.Rules {
		for _, re := range r.patterns {
			for _, loc := range re.FindAllStringIndex(text, -1) {
				rep.Flags = append(rep.Flags, entity.SafetyFlag{
					Category: r.Category,
					RuleID:   r.ID,
					Start:    utf8.RuneCountInString(text[:loc[0]]),
					End:      utf8.RuneCountInString(text[:loc[1]]),
					Excerpt:  text[loc[0]:loc[1]],
					Severity: r.Severity,
				})
			}
		}
	}
	rep.Flags = dedupeFlags(rep.Flags)
	rep.Disclaimers = c.RequiredDisclaimers(text)
	return rep
}

// Check 规则检查后再运行分类器；分类器错误原样返回，由调用方按阶段错误处理
func (c *Checker) Check(ctx context.Context, text string) (*Report, error) {
	rep := c.Scan(text)
	if c.classifier != nil && strings.TrimSpace(text) != "" {
		flags, usage, err := c.classifier.Classify(ctx, text)
		if err != nil {
			return nil, err
		}
		if usage != nil {
			rep.Usage = append(rep.Usage, *usage)
		}
		rep.Flags = dedupeFlags(append(rep.Flags, flags...))
	}
	for _, f := range rep.Flags {
		metrics.SafetyFlagsTotal.WithLabelValues(string(f.Category)).Inc()
	}
	if len(rep.Flags) > 0 {
		logger.Info(ctx, "safety flags raised",
			"flags", len(rep.Flags),
			"first_rule", rep.Flags[0].RuleID,
		)
	}
	return &rep, nil
}

// RequiredDisclaimers 文本触发的免责声明，按规则文件顺序
func (c *Checker) RequiredDisclaimers(text string) []Disclaimer {
	var out []Disclaimer
	for _, d := range c.rules.Disclaimers {
		for _, re := range d.triggers {
			if re.MatchString(text) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// InsertDisclaimers 把缺失的免责声明追加为末尾段落，重复调用结果不变
func InsertDisclaimers(text string, ds []Disclaimer) string {
	out := strings.TrimRight(text, "\n ")
	for _, d := range ds {
		if strings.Contains(out, d.Text) {
			continue
		}
		out += "\n\n" + d.Text
	}
	return out
}

// ConstraintText 把标记渲染为重新生成时的约束
func ConstraintText(flags []entity.SafetyFlag) string {
	if len(flags) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("以下表述触发了健康内容安全规则，重写时必须删除或改为不含诊断、用药指示和危机描写的中性表述：")
	for _, f := range flags {
		fmt.Fprintf(&b, "\n- [%s] %s", f.Category, f.Excerpt)
	}
	return b.String()
}

func dedupeFlags(flags []entity.SafetyFlag) []entity.SafetyFlag {
	if len(flags) == 0 {
		return nil
	}
	sort.SliceStable(flags, func(i, j int) bool {
		if flags[i].Start != flags[j].Start {
			return flags[i].Start < flags[j].Start
		}
		if flags[i].End != flags[j].End {
			return flags[i].End < flags[j].End
		}
		return flags[i].RuleID < flags[j].RuleID
	})
	out := flags[:0]
	for i, f := range flags {
		if i > 0 {
			p := out[len(out)-1]
			if p.RuleID == f.RuleID && p.Start == f.Start && p.End == f.End {
				continue
			}
		}
		out = append(out, f)
	}
	return out
}
