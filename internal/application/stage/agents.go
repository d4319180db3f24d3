package stage

import (
	"context"
	"fmt"
	"strings"

	"manuscript-ai-api/internal/application/factcheck"
	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/application/safety"
	"manuscript-ai-api/internal/application/voice"
	"manuscript-ai-api/internal/workflow/chain"
	wfmodel "manuscript-ai-api/internal/workflow/model"
	wfnode "manuscript-ai-api/internal/workflow/node"
	apperrors "manuscript-ai-api/pkg/errors"
)

// Retriever 阶段角色的检索端口
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) (*retrieval.Result, error)
}

// Budgets 各角色的检索预算
type Budgets struct {
	Outline   retrieval.Budget
	Draft     retrieval.Budget
	FactCheck retrieval.Budget
	Cohesion  retrieval.Budget
}

// Options 角色参数
type Options struct {
	Loop    LoopConfig
	Budgets Budgets
	// MaxClaims 单章抽取的事实陈述上限
	MaxClaims int
	// MaxLengthDrift 统稿允许的篇幅变化比例
	MaxLengthDrift float64
}

// Agents 全部阶段角色共享的依赖
type Agents struct {
	gen       *chain.Generator
	retriever Retriever
	scorer    *voice.Scorer
	facts     *factcheck.Checker
	safety    *safety.Checker
	opts      Options
}

func NewAgents(gen *chain.Generator, retriever Retriever, scorer *voice.Scorer, facts *factcheck.Checker, safetyChecker *safety.Checker, opts Options) *Agents {
	if opts.MaxClaims <= 0 {
		opts.MaxClaims = 12
	}
	if opts.MaxLengthDrift <= 0 {
		opts.MaxLengthDrift = 0.2
	}
	return &Agents{
		gen:       gen,
		retriever: retriever,
		scorer:    scorer,
		facts:     facts,
		safety:    safetyChecker,
		opts:      opts,
	}
}

// Safety 安全检查器
func (a *Agents) Safety() *safety.Checker { return a.safety }

// generate 带单次调用超时的模型调用，用量计入 TaskContext
func (a *Agents) generate(ctx context.Context, tc *TaskContext, req *chain.Request) (string, error) {
	cctx, cancel := tc.WithCallTimeout(tc.Context(ctx))
	defer cancel()
	out, err := a.gen.Generate(cctx, req)
	if err != nil {
		return "", err
	}
	tc.Meter.Add(out.Usage)
	return out.Content, nil
}

// generateJSON 解析并校验 JSON 输出；不合格时带上错误信息纠正重试一次，仍失败返回 SchemaViolation
func (a *Agents) generateJSON(ctx context.Context, tc *TaskContext, req *chain.Request, out any, validate func() error) error {
	req.JSON = true
	if req.Vars == nil {
		req.Vars = map[string]any{}
	}
	baseFeedback, _ := req.Vars["feedback"].(string)

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt == 2 {
			req.Vars["feedback"] = strings.TrimSpace(baseFeedback + "\n上一次输出不符合格式要求：" + lastErr.Error() + "。只输出合法 JSON。")
		}
		content, err := a.generate(ctx, tc, req)
		if err != nil {
			return err
		}
		if err := wfnode.DecodeJSON(content, out); err != nil {
			lastErr = err
			continue
		}
		if validate != nil {
			if err := validate(); err != nil {
				lastErr = err
				continue
			}
		}
		return nil
	}
	return apperrors.Schemaf(req.Workflow, lastErr, "model output failed schema validation after corrective retry")
}

// verdict LLM critic 的结论
func (a *Agents) verdict(ctx context.Context, tc *TaskContext, req *chain.Request) (Review, error) {
	var v wfmodel.Verdict
	err := a.generateJSON(ctx, tc, req, &v, func() error {
		if v.Score < 0 || v.Score > 1 {
			return fmt.Errorf("score %.2f outside [0,1]", v.Score)
		}
		return nil
	})
	if err != nil {
		return Review{}, err
	}
	return Review{Approved: v.Approved, Score: v.Score, Feedback: strings.TrimSpace(v.Feedback)}, nil
}

func (a *Agents) retrieve(ctx context.Context, tc *TaskContext, stage, text string, budget retrieval.Budget) (*retrieval.Result, error) {
	res, err := a.retriever.Retrieve(ctx, retrieval.Query{
		ProjectID: tc.ProjectID,
		Text:      text,
		Budget:    budget,
		Stage:     stage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve %s context: %w", stage, err)
	}
	return res, nil
}

func joinFeedback(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return wfnode.OrNone(strings.Join(out, "\n"))
}
