package embedding

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"manuscript-ai-api/internal/config"
)

// NewEinoEmbedder 创建基于 Eino 的 OpenAI 兼容 Embedder
func NewEinoEmbedder(ctx context.Context, cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding api_key is required for provider %s", cfg.Provider)
	}

	ecfg := &openai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.Endpoint,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}
	if cfg.Dimension > 0 {
		dim := cfg.Dimension
		ecfg.Dimensions = &dim
	}
	embedder, err := openai.NewEmbedder(ctx, ecfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create eino embedder: %w", err)
	}
	return embedder, nil
}

// NewEmbedder 按 provider 选择实现：openai（eino）、http（自建服务）、hashing（离线）
func NewEmbedder(ctx context.Context, cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewEinoEmbedder(ctx, cfg)
	case "http":
		return NewClient(cfg), nil
	case "hashing":
		return NewHashingEmbedder(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
