package safety

import (
	"context"
	"strings"
	"unicode/utf8"

	"manuscript-ai-api/internal/domain/entity"
	llmctx "manuscript-ai-api/internal/domain/service"
	"manuscript-ai-api/internal/workflow/chain"
	wfmodel "manuscript-ai-api/internal/workflow/model"
	wfnode "manuscript-ai-api/internal/workflow/node"
	workflowprompt "manuscript-ai-api/internal/workflow/prompt"
	apperrors "manuscript-ai-api/pkg/errors"
	"manuscript-ai-api/pkg/logger"
)

const classifierWorkflow = "safety_classify"

// LLMClassifier 让模型逐字引用问题片段，再在原文中定位。
// 无法在原文中找到的引用直接丢弃，模型不能凭空产生标记。
type LLMClassifier struct {
	gen *chain.Generator
}

func NewLLMClassifier(gen *chain.Generator) *LLMClassifier {
	return &LLMClassifier{gen: gen}
}

func (c *LLMClassifier) Classify(ctx context.Context, text string) ([]entity.SafetyFlag, *llmctx.LLMUsage, error) {
	out, err := c.gen.Generate(ctx, &chain.Request{
		Prompt:      workflowprompt.PromptSafetyClassifyV1,
		Workflow:    classifierWorkflow,
		Vars:        map[string]any{"text": text},
		Temperature: chain.Float32(0),
		JSON:        true,
	})
	if err != nil {
		return nil, nil, err
	}

	var spans wfmodel.SafetySpans
	if err := wfnode.DecodeJSON(out.Content, &spans); err != nil {
		return nil, &out.Usage, apperrors.Schemaf(classifierWorkflow, err, "classifier output is not valid json")
	}

	var flags []entity.SafetyFlag
	for _, sp := range spans.Spans {
		quote := strings.TrimSpace(sp.Quote)
		if quote == "" {
			continue
		}
		idx := strings.Index(text, quote)
		if idx < 0 {
			logger.Debug(ctx, "classifier quote not found in text", "quote", wfnode.TruncateByRunes(quote, 40))
			continue
		}
		cat, ok := knownCategories[strings.TrimSpace(sp.Category)]
		if !ok {
			cat = entity.SafetyClassifier
		}
		start := utf8.RuneCountInString(text[:idx])
		flags = append(flags, entity.SafetyFlag{
			Category: cat,
			RuleID:   "classifier." + string(cat),
			Start:    start,
			End:      start + utf8.RuneCountInString(quote),
			Excerpt:  quote,
			Severity: "medium",
		})
	}
	return flags, &out.Usage, nil
}
