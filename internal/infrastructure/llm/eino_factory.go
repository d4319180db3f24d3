// Package llm 按配置惰性创建 Eino ChatModel，并提供按阶段的 provider 选择与成本估算
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"manuscript-ai-api/internal/config"
	llmctx "manuscript-ai-api/internal/domain/service"
	workflowport "manuscript-ai-api/internal/workflow/port"
)

// EinoFactory 管理多个 Eino ChatModel 客户端实例
type EinoFactory struct {
	config *config.LLMConfig
	models map[string]model.BaseChatModel
	mu     sync.RWMutex
}

var (
	_ workflowport.ChatModelFactory = (*EinoFactory)(nil)
	_ workflowport.ProviderResolver = (*EinoFactory)(nil)
	_ llmctx.Pricing                = (*EinoFactory)(nil)
)

// NewEinoFactory 创建 Eino LLM 工厂
func NewEinoFactory(cfg *config.LLMConfig) *EinoFactory {
	return &EinoFactory{
		config: cfg,
		models: make(map[string]model.BaseChatModel),
	}
}

func (f *EinoFactory) resolve(name string) string {
	if name == "" || name == "unknown" {
		return f.config.DefaultProvider
	}
	return name
}

// Get 获取指定名称的 ChatModel，未指定时返回默认 provider
func (f *EinoFactory) Get(ctx context.Context, name string) (model.BaseChatModel, error) {
	name = f.resolve(name)

	f.mu.RLock()
	m, ok := f.models[name]
	f.mu.RUnlock()
	if ok {
		return m, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok = f.models[name]; ok {
		return m, nil
	}

	providerCfg, ok := f.config.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %s not found in LLM config", name)
	}

	mc := &openai.ChatModelConfig{
		APIKey:  providerCfg.APIKey,
		BaseURL: providerCfg.BaseURL,
		Model:   providerCfg.Model,
		Timeout: providerCfg.Timeout,
	}
	if providerCfg.MaxTokens > 0 {
		mc.MaxTokens = ptr(providerCfg.MaxTokens)
	}
	if providerCfg.Temperature > 0 {
		mc.Temperature = ptr(float32(providerCfg.Temperature))
	}
	chatModel, err := openai.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model for %s: %w", name, err)
	}

	f.models[name] = chatModel
	return chatModel, nil
}

// ProviderFor 阶段覆盖的 provider，未配置时返回空串
func (f *EinoFactory) ProviderFor(workflow string) string {
	return f.config.StageProviders[workflow]
}

// EstimateUSD 按 provider 的每千 token 单价估算费用，未配置单价时为 0
func (f *EinoFactory) EstimateUSD(provider string, promptTokens, completionTokens int) float64 {
	p, ok := f.config.Providers[f.resolve(provider)]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1000*p.PromptPricePer1K +
		float64(completionTokens)/1000*p.CompletionPricePer1K
}

func ptr[T any](v T) *T {
	return &v
}
