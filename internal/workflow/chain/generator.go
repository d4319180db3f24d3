package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaiopts "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	llmctx "manuscript-ai-api/internal/domain/service"
	wfnode "manuscript-ai-api/internal/workflow/node"
	workflowport "manuscript-ai-api/internal/workflow/port"
	workflowprompt "manuscript-ai-api/internal/workflow/prompt"
	apperrors "manuscript-ai-api/pkg/errors"
	"manuscript-ai-api/pkg/logger"
)

// Request 一次 prompt 驱动的模型调用
type Request struct {
	Prompt workflowprompt.PromptID
	// Workflow 阶段/角色名，用于 provider 解析、指标与追踪
	Workflow    string
	Vars        map[string]any
	Temperature *float32
	MaxTokens   *int
	// JSON 要求 provider 以 JSON 对象输出，不支持时退回纯 prompt 约束
	JSON bool
}

// Output 模型输出与用量
type Output struct {
	Content string
	Usage   llmctx.LLMUsage
}

// Generator 所有阶段角色共用的 prompt 调用链：模板渲染、模型调用、用量统计。
// provider 错误按可重试与否转换为 StageError。
type Generator struct {
	factory   workflowport.ChatModelFactory
	providers workflowport.ProviderResolver
	registry  *workflowprompt.Registry
}

func NewGenerator(factory workflowport.ChatModelFactory, providers workflowport.ProviderResolver) *Generator {
	if providers == nil {
		providers = workflowport.StaticProviders(nil)
	}
	return &Generator{
		factory:   factory,
		providers: providers,
		registry:  workflowprompt.NewRegistry(),
	}
}

func (g *Generator) Generate(ctx context.Context, req *Request) (*Output, error) {
	if g == nil || g.factory == nil {
		return nil, fmt.Errorf("llm factory not configured")
	}
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}
	if strings.TrimSpace(req.Workflow) == "" {
		return nil, fmt.Errorf("workflow is required")
	}

	provider := g.providers.ProviderFor(req.Workflow)
	ctx = llmctx.WithWorkflowProvider(ctx, req.Workflow, provider)
	chatModel, err := g.factory.Get(ctx, provider)
	if err != nil {
		return nil, apperrors.Failed(req.Workflow, "chat model unavailable", err)
	}

	msgs, err := g.format(ctx, req)
	if err != nil {
		return nil, apperrors.Failed(req.Workflow, "prompt render failed", err)
	}

	outMsg, err := chatModel.Generate(ctx, msgs, buildModelOptions(req, req.JSON)...)
	if err != nil && req.JSON && wfnode.IsResponseFormatUnsupportedError(err) {
		logger.Warn(ctx, "llm json response_format not supported, fallback to prompt-only",
			"workflow", req.Workflow,
			"provider", provider,
			"error", err.Error(),
		)
		outMsg, err = chatModel.Generate(ctx, msgs, buildModelOptions(req, false)...)
	}
	if err != nil {
		return nil, classify(ctx, req.Workflow, err)
	}
	if outMsg == nil {
		return nil, apperrors.Transient(req.Workflow, fmt.Errorf("empty llm response"))
	}

	out := &Output{
		Content: strings.TrimSpace(outMsg.Content),
		Usage:   llmctx.LLMUsage{Provider: llmctx.ProviderFromContext(ctx)},
	}
	if outMsg.ResponseMeta != nil && outMsg.ResponseMeta.Usage != nil {
		out.Usage.PromptTokens = outMsg.ResponseMeta.Usage.PromptTokens
		out.Usage.CompletionTokens = outMsg.ResponseMeta.Usage.CompletionTokens
	}
	return out, nil
}

func (g *Generator) format(ctx context.Context, req *Request) ([]*schema.Message, error) {
	tpl, err := g.registry.ChatTemplate(req.Prompt)
	if err != nil {
		return nil, err
	}
	vars := req.Vars
	if vars == nil {
		vars = map[string]any{}
	}
	return tpl.Format(ctx, vars)
}

func classify(ctx context.Context, workflow string, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}
	if wfnode.IsTransientLLMError(err) {
		return apperrors.Transient(workflow, err)
	}
	return apperrors.Failed(workflow, "llm call failed", err)
}

func buildModelOptions(req *Request, jsonMode bool) []model.Option {
	opts := make([]model.Option, 0, 3)
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(*req.Temperature))
	}
	if req.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*req.MaxTokens))
	}
	if jsonMode {
		opts = append(opts, openaiopts.WithExtraFields(map[string]any{
			"response_format": map[string]any{"type": "json_object"},
		}))
	}
	return opts
}

// Float32 取地址
func Float32(v float32) *float32 { return &v }
