package service

import "manuscript-ai-api/internal/domain/entity"

// LLMUsage 一次模型调用的用量
type LLMUsage struct {
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Pricing 按 provider 估算费用（美元）。
// 该接口位于 domain/service，作为跨层契约，避免应用层依赖配置结构。
type Pricing interface {
	EstimateUSD(provider string, promptTokens, completionTokens int) float64
}

// CostOf 把用量折算为任务成本增量
func CostOf(p Pricing, usages ...LLMUsage) entity.Cost {
	var c entity.Cost
	for _, u := range usages {
		c.PromptTokens += int64(u.PromptTokens)
		c.CompletionTokens += int64(u.CompletionTokens)
		c.LLMCalls++
		if p != nil {
			c.EstimatedUSD += p.EstimateUSD(u.Provider, u.PromptTokens, u.CompletionTokens)
		}
	}
	return c
}
