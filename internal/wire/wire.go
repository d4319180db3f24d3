//go:build wireinject
// +build wireinject

package wire

import (
	"context"

	"github.com/google/wire"

	"manuscript-ai-api/internal/config"
	"manuscript-ai-api/internal/infrastructure/llm"
	"manuscript-ai-api/internal/infrastructure/persistence/postgres"
	"manuscript-ai-api/internal/interfaces/http/router"
)

// InfraSet 连接与仓储
var InfraSet = wire.NewSet(
	ProvidePostgresClient,
	ProvideRedisClient,
	ProvideMilvusClient,
	ProvideDataLayer,
	ProvideTaskQueue,
)

// RetrievalSet embedding、缓存与检索
var RetrievalSet = wire.NewSet(
	ProvideVectorCache,
	ProvideEmbedder,
	ProvideEmbeddingService,
	ProvideRetrievalEngine,
	ProvideIndexer,
)

// PipelineSet 阶段角色与执行器
var PipelineSet = wire.NewSet(
	llm.NewEinoFactory,
	ProvideLLMConfig,
	ProvideGenerator,
	ProvideSafetyChecker,
	ProvideFactChecker,
	ProvideVoiceScorer,
	ProvideCalibrator,
	ProvideAgents,
	ProvideIngestion,
	ProvidePipeline,
	ProvideRunner,
	ProvideWorker,
)

// RouterSet HTTP 层
var RouterSet = wire.NewSet(
	ProvideService,
	ProvideRateLimiter,
	ProvideHealthHandler,
	ProvideRouterHandlers,
	router.New,
	ProvideApp,
)

// InitializeApp 初始化 API 网关
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		InfraSet,
		RetrievalSet,
		PipelineSet,
		RouterSet,
	)
	return nil, nil, nil
}

// InitializeWorker 初始化任务执行进程
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	wire.Build(
		InfraSet,
		RetrievalSet,
		PipelineSet,
	)
	return nil, nil, nil
}

// InitializePostgresOnly 仅初始化 PostgreSQL（用于 bootstrap）
func InitializePostgresOnly(ctx context.Context, cfg *config.Config) (*postgres.Client, func(), error) {
	wire.Build(ProvideRequiredPostgresClient)
	return nil, nil, nil
}
