package port

import (
	"context"

	"github.com/cloudwego/eino/components/model"
)

// ChatModelFactory 工作流层对 LLM ChatModel 的最小依赖（port）。
// name 为 provider 名称，为空时返回默认 provider。
type ChatModelFactory interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
}

// ProviderResolver 按阶段/角色解析 provider 名称，未配置时返回空串（即默认 provider）
type ProviderResolver interface {
	ProviderFor(workflow string) string
}

// StaticProviders 固定映射，测试与单 provider 部署使用
type StaticProviders map[string]string

func (m StaticProviders) ProviderFor(workflow string) string {
	if m == nil {
		return ""
	}
	return m[workflow]
}
