package stage

import (
	"context"

	"manuscript-ai-api/internal/application/safety"
	"manuscript-ai-api/internal/domain/entity"
)

// GateResult 安全门结果。Flags 非空时章节不得自动通过。
type GateResult struct {
	Text        string
	Flags       []entity.SafetyFlag
	Disclaimers []safety.Disclaimer
}

// Blocked 是否存在未处理的安全标记
func (g *GateResult) Blocked() bool { return g != nil && len(g.Flags) > 0 }

// Gate 对章节做安全检查并补齐免责声明。偏移量基于传入的文本。
func (a *Agents) Gate(ctx context.Context, tc *TaskContext, text string) (*GateResult, error) {
	rep, err := a.safety.Check(tc.Context(ctx), text)
	if err != nil {
		return nil, err
	}
	for _, u := range rep.Usage {
		tc.Meter.Add(u)
	}
	return &GateResult{
		Text:        safety.InsertDisclaimers(text, rep.Disclaimers),
		Flags:       rep.Flags,
		Disclaimers: rep.Disclaimers,
	}, nil
}
