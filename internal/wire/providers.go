// Package wire 提供依赖注入配置
package wire

import (
	"context"
	"fmt"
	"os"
	"strings"

	einoembedding "github.com/cloudwego/eino/components/embedding"
	"github.com/google/uuid"

	"manuscript-ai-api/internal/application/factcheck"
	"manuscript-ai-api/internal/application/ingestion"
	"manuscript-ai-api/internal/application/orchestrator"
	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/application/safety"
	"manuscript-ai-api/internal/application/stage"
	"manuscript-ai-api/internal/application/voice"
	"manuscript-ai-api/internal/config"
	"manuscript-ai-api/internal/domain/repository"
	infraembedding "manuscript-ai-api/internal/infrastructure/embedding"
	"manuscript-ai-api/internal/infrastructure/llm"
	"manuscript-ai-api/internal/infrastructure/messaging"
	"manuscript-ai-api/internal/infrastructure/persistence/memory"
	"manuscript-ai-api/internal/infrastructure/persistence/milvus"
	"manuscript-ai-api/internal/infrastructure/persistence/postgres"
	"manuscript-ai-api/internal/infrastructure/persistence/redis"
	"manuscript-ai-api/internal/infrastructure/storage"
	"manuscript-ai-api/internal/interfaces/http/handler"
	"manuscript-ai-api/internal/interfaces/http/middleware"
	"manuscript-ai-api/internal/interfaces/http/router"
	"manuscript-ai-api/internal/workflow/chain"
	"manuscript-ai-api/pkg/logger"
)

// DataLayer 数据层依赖容器，字段按配置选择 postgres 或内存实现
type DataLayer struct {
	PgClient     *postgres.Client
	MilvusClient *milvus.Client

	Tasks       repository.TaskRepository
	Materials   repository.MaterialRepository
	Chunks      repository.ChunkRepository
	Outlines    repository.OutlineRepository
	Chapters    repository.ChapterRepository
	Manuscripts repository.ManuscriptRepository
	Profiles    repository.VoiceProfileRepository
	Tx          repository.Transactor
	Vector      retrieval.VectorRepository
}

// Worker 任务执行进程的组件
type Worker struct {
	Pool    *orchestrator.Pool
	Sweeper *orchestrator.Sweeper
}

// App API 网关进程的组件；Worker 仅在内存队列模式下非空，与 API 同进程运行
type App struct {
	Router  *router.Router
	Service *orchestrator.Service
	Worker  *Worker
}

// ProvidePostgresClient 提供 PostgreSQL 客户端；memory 引擎下返回 nil
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	if cfg.Database.Engine == "memory" {
		return nil, func() {}, nil
	}
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端；未启用时返回 nil
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Cache.Redis.Enabled {
		return nil, func() {}, nil
	}
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideMilvusClient 仅在 vector.backend=milvus 时连接
func ProvideMilvusClient(ctx context.Context, cfg *config.Config) (*milvus.Client, func(), error) {
	if cfg.Vector.Backend != "milvus" {
		return nil, func() {}, nil
	}
	client, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideDataLayer 组装仓储。postgres 引擎下向量后端为 pgvector 或 milvus；
// memory 引擎只用于单进程开发，向量也保存在内存中
func ProvideDataLayer(ctx context.Context, cfg *config.Config, pg *postgres.Client, mv *milvus.Client) (*DataLayer, error) {
	dl := &DataLayer{PgClient: pg, MilvusClient: mv}

	if pg == nil {
		store := memory.NewStore()
		dl.Tasks = memory.NewTaskRepository(store)
		dl.Materials = memory.NewMaterialRepository(store)
		dl.Chunks = memory.NewChunkRepository(store)
		dl.Outlines = memory.NewOutlineRepository(store)
		dl.Chapters = memory.NewChapterRepository(store)
		dl.Manuscripts = memory.NewManuscriptRepository(store)
		dl.Profiles = memory.NewVoiceProfileRepository(store)
		dl.Tx = memory.Transactor{}
		dl.Vector = memory.NewVectorRepository(store)
		if mv != nil {
			logger.Warn(ctx, "milvus backend ignored with in-memory database")
		}
		return dl, nil
	}

	dl.Tasks = postgres.NewTaskRepository(pg)
	dl.Materials = postgres.NewMaterialRepository(pg)
	dl.Chunks = postgres.NewChunkRepository(pg)
	dl.Outlines = postgres.NewOutlineRepository(pg)
	dl.Chapters = postgres.NewChapterRepository(pg)
	dl.Manuscripts = postgres.NewManuscriptRepository(pg)
	dl.Profiles = postgres.NewVoiceProfileRepository(pg)
	dl.Tx = postgres.NewTxManager(pg)

	switch cfg.Vector.Backend {
	case "milvus":
		repo := milvus.NewRepository(mv, cfg.Embedding.Dimension)
		if err := repo.EnsureCollection(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare milvus collection: %w", err)
		}
		dl.Vector = repo
	case "", "pgvector":
		dl.Vector = postgres.NewVectorRepository(pg)
	default:
		return nil, fmt.Errorf("vector backend %q requires database engine memory", cfg.Vector.Backend)
	}
	return dl, nil
}

// ProvideTaskQueue redis 后端使用 Redis Streams 消费组，memory 后端使用进程内通道
func ProvideTaskQueue(cfg *config.Config, rc *redis.Client) (orchestrator.TaskQueue, error) {
	switch cfg.Messaging.Backend {
	case "memory":
		return orchestrator.NewChannelQueue(1024), nil
	case "", "redis":
		if rc == nil {
			return nil, fmt.Errorf("messaging backend redis requires cache.redis.enabled")
		}
		return messaging.NewTaskQueue(rc.Redis(), cfg.Messaging.RedisStream), nil
	default:
		return nil, fmt.Errorf("unknown messaging backend %q", cfg.Messaging.Backend)
	}
}

// ProvideVectorCache Redis 未启用时不缓存
func ProvideVectorCache(cfg *config.Config, rc *redis.Client) retrieval.VectorCache {
	if rc == nil {
		return nil
	}
	return redis.NewVectorCache(rc, cfg.Embedding.CacheTTL)
}

// ProvideRateLimiter Redis 未启用时不限流
func ProvideRateLimiter(rc *redis.Client) middleware.RateLimiter {
	if rc == nil {
		return nil
	}
	return redis.NewRateLimiter(rc)
}

// ProvideEmbedder 按 embedding.provider 创建 embedder
func ProvideEmbedder(ctx context.Context, cfg *config.Config) (einoembedding.Embedder, error) {
	return infraembedding.NewEmbedder(ctx, &cfg.Embedding)
}

// ProvideEmbeddingService 同一部署只有一个活动 embedding 模型
func ProvideEmbeddingService(cfg *config.Config, embedder einoembedding.Embedder, cache retrieval.VectorCache) *retrieval.EmbeddingService {
	return retrieval.NewEmbeddingService(embedder, cfg.Embedding.ActiveEmbeddingModel(), cache, cfg.Embedding.BatchSize)
}

// ProvideRetrievalEngine 提供检索引擎
func ProvideRetrievalEngine(ctx context.Context, cfg *config.Config, embeddings *retrieval.EmbeddingService, dl *DataLayer) *retrieval.Engine {
	tokens, err := retrieval.NewTokenCounter(cfg.Pipeline.Retrieval.Tokenizer, cfg.Pipeline.Retrieval.Encoding)
	if err != nil {
		logger.Warn(ctx, "tokenizer unavailable, using approximate counts", "error", err.Error())
	}
	backend := cfg.Vector.Backend
	if backend == "" {
		backend = "pgvector"
	}
	return retrieval.NewEngine(embeddings, dl.Vector, tokens, cfg.Pipeline.Retrieval.PoolFactor, backend)
}

// ProvideIndexer 提供切片向量化器
func ProvideIndexer(cfg *config.Config, embeddings *retrieval.EmbeddingService, dl *DataLayer) *retrieval.Indexer {
	return retrieval.NewIndexer(embeddings, dl.Chunks, dl.Vector, cfg.Embedding.Concurrency)
}

// ProvideIngestion 提供素材摄取服务
func ProvideIngestion(ctx context.Context, cfg *config.Config, dl *DataLayer) (*ingestion.Service, error) {
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	chunker := ingestion.NewChunker(cfg.Pipeline.Chunking.Size, cfg.Pipeline.Chunking.Overlap)
	return ingestion.NewService(dl.Materials, dl.Chunks, store, ingestion.NewExtractor(), chunker, dl.Tx), nil
}

// ProvideGenerator 提供 LLM 生成链
func ProvideGenerator(factory *llm.EinoFactory) *chain.Generator {
	return chain.NewGenerator(factory, factory)
}

// ProvideSafetyChecker 规则文件为空时使用内置规则；classifier=llm 时追加模型分类
func ProvideSafetyChecker(cfg *config.Config, gen *chain.Generator) (*safety.Checker, error) {
	rules := safety.DefaultRules()
	if path := strings.TrimSpace(cfg.Safety.RulesFile); path != "" {
		loaded, err := safety.LoadRules(path)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	if cfg.Safety.Classifier == "llm" {
		return safety.NewChecker(rules, safety.NewLLMClassifier(gen)), nil
	}
	return safety.NewChecker(rules, nil), nil
}

func budget(b config.BudgetConfig) retrieval.Budget {
	return retrieval.Budget{
		MaxChunks:        b.MaxChunks,
		MaxTokens:        b.MaxTokens,
		MaxRunesPerChunk: b.MaxRunesPerChunk,
		MinScore:         b.MinScore,
	}
}

// ProvideFactChecker 敏感词表来自安全规则
func ProvideFactChecker(cfg *config.Config, engine *retrieval.Engine, safetyChecker *safety.Checker) *factcheck.Checker {
	fc := cfg.Pipeline.FactCheck
	return factcheck.NewChecker(engine, safetyChecker.Rules(), factcheck.Options{
		SupportThreshold: fc.SupportThreshold,
		RelatedThreshold: fc.RelatedThreshold,
		Concurrency:      fc.Concurrency,
		Budget:           budget(cfg.Pipeline.Retrieval.FactCheck),
	})
}

// ProvideVoiceScorer 提供文风评分器
func ProvideVoiceScorer(cfg *config.Config, embeddings *retrieval.EmbeddingService) *voice.Scorer {
	return voice.NewScorer(embeddings, cfg.Pipeline.Voice.Threshold, cfg.Pipeline.Voice.EmbeddingWeight)
}

// ProvideCalibrator 提供文风校准器
func ProvideCalibrator(cfg *config.Config, dl *DataLayer, embeddings *retrieval.EmbeddingService) *voice.Calibrator {
	return voice.NewCalibrator(dl.Materials, dl.Profiles, embeddings, cfg.Pipeline.Voice.MaxSampleRunes)
}

// ProvideAgents 提供阶段角色
func ProvideAgents(cfg *config.Config, gen *chain.Generator, engine *retrieval.Engine, scorer *voice.Scorer, facts *factcheck.Checker, safetyChecker *safety.Checker) *stage.Agents {
	r := cfg.Pipeline.Retrieval
	return stage.NewAgents(gen, engine, scorer, facts, safetyChecker, stage.Options{
		Loop: stage.LoopConfig{
			MaxExchanges: cfg.Pipeline.Agent.MaxExchanges,
			MaxTokens:    cfg.Pipeline.Agent.MaxTokens,
		},
		Budgets: stage.Budgets{
			Outline:   budget(r.Outline),
			Draft:     budget(r.Draft),
			FactCheck: budget(r.FactCheck),
			Cohesion:  budget(r.Cohesion),
		},
		MaxClaims: cfg.Pipeline.FactCheck.MaxClaims,
	})
}

func retryPolicy(cfg *config.Config) orchestrator.RetryPolicy {
	r := cfg.Pipeline.Retries
	return orchestrator.RetryPolicy{
		Transient: r.Transient,
		Grounding: r.Grounding,
		Safety:    r.Safety,
		Backoff: orchestrator.BackoffPolicy{
			Initial:    r.Backoff.Initial,
			Max:        r.Backoff.Max,
			Multiplier: r.Backoff.Multiplier,
		},
	}
}

// ProvidePipeline 提供阶段处理器
func ProvidePipeline(cfg *config.Config, dl *DataLayer, ingest *ingestion.Service, indexer *retrieval.Indexer, calibrator *voice.Calibrator, agents *stage.Agents) *orchestrator.Pipeline {
	return orchestrator.NewPipeline(orchestrator.PipelineDeps{
		Ingestion:   ingest,
		Indexer:     indexer,
		Calibrator:  calibrator,
		Agents:      agents,
		Chunks:      dl.Chunks,
		Profiles:    dl.Profiles,
		Outlines:    dl.Outlines,
		Chapters:    dl.Chapters,
		Manuscripts: dl.Manuscripts,
		Retries:     retryPolicy(cfg),
		Review:      orchestrator.ReviewPolicy{RequireChapterApproval: cfg.Pipeline.Review.RequireChapterApproval},
	})
}

// workerOwner 租约持有者标识：主机名 + 进程号 + 随机后缀
func workerOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// ProvideRunner 提供任务执行器
func ProvideRunner(cfg *config.Config, dl *DataLayer, pipeline *orchestrator.Pipeline, factory *llm.EinoFactory) (*orchestrator.Runner, error) {
	w := cfg.Pipeline.Worker
	return orchestrator.NewRunner(dl.Tasks, pipeline.Handlers(), factory, orchestrator.RunnerConfig{
		Owner:             workerOwner(),
		LeaseTTL:          w.LeaseTTL,
		HeartbeatInterval: w.HeartbeatInterval,
		CallTimeout:       cfg.Pipeline.Agent.CallTimeout,
		Retries:           retryPolicy(cfg),
	})
}

// ProvideWorker 提供 worker 池与恢复巡检
func ProvideWorker(cfg *config.Config, dl *DataLayer, queue orchestrator.TaskQueue, runner *orchestrator.Runner) *Worker {
	w := cfg.Pipeline.Worker
	return &Worker{
		Pool: orchestrator.NewPool(queue, runner, w.Concurrency),
		Sweeper: orchestrator.NewSweeper(dl.Tasks, queue, orchestrator.SweeperConfig{
			Interval:   w.SweepInterval,
			StaleAfter: w.StaleAfter,
		}),
	}
}

// ProvideService 提供任务生命周期服务
func ProvideService(cfg *config.Config, dl *DataLayer, calibrator *voice.Calibrator, queue orchestrator.TaskQueue) *orchestrator.Service {
	return orchestrator.NewService(orchestrator.ServiceDeps{
		Tasks:       dl.Tasks,
		Materials:   dl.Materials,
		Outlines:    dl.Outlines,
		Chapters:    dl.Chapters,
		Manuscripts: dl.Manuscripts,
		Profiles:    dl.Profiles,
		Calibrator:  calibrator,
		Queue:       queue,
		Tx:          dl.Tx,
	}, orchestrator.ServiceConfig{
		DefaultChapterCount: cfg.Pipeline.Review.DefaultChapterCount,
		DefaultTargetWords:  cfg.Pipeline.Review.DefaultTargetWords,
	})
}

// ProvideHealthHandler postgres 必需，redis 与 milvus 失败只降级。
// 未使用的客户端保持 nil 接口，避免把 nil 指针包装成非 nil 的 HealthChecker
func ProvideHealthHandler(cfg *config.Config, dl *DataLayer, rc *redis.Client) *handler.HealthHandler {
	var deps []handler.Dependency
	if dl.PgClient != nil {
		deps = append(deps, handler.Dependency{Name: "postgres", Checker: dl.PgClient, Required: true})
	} else {
		deps = append(deps, handler.Dependency{Name: "postgres"})
	}
	if rc != nil {
		deps = append(deps, handler.Dependency{Name: "redis", Checker: rc, Required: cfg.Messaging.Backend != "memory"})
	} else {
		deps = append(deps, handler.Dependency{Name: "redis"})
	}
	if dl.MilvusClient != nil {
		deps = append(deps, handler.Dependency{Name: "milvus", Checker: dl.MilvusClient})
	}
	return handler.NewHealthHandler(cfg.App.Version, deps...)
}

// ProvideRouterHandlers 提供路由处理器集合
func ProvideRouterHandlers(cfg *config.Config, dl *DataLayer, svc *orchestrator.Service, health *handler.HealthHandler) router.Handlers {
	return router.Handlers{
		Health:   health,
		Task:     handler.NewTaskHandler(svc),
		Review:   handler.NewReviewHandler(svc),
		Voice:    handler.NewVoiceHandler(svc),
		Material: handler.NewMaterialHandler(dl.Materials, cfg.Storage.MaxObjectBytes),
	}
}

// ProvideApp memory 队列只能在进程内消费，此时 API 进程同时运行 worker
func ProvideApp(cfg *config.Config, r *router.Router, svc *orchestrator.Service, worker *Worker) *App {
	app := &App{Router: r, Service: svc}
	if cfg.Messaging.Backend == "memory" {
		app.Worker = worker
	}
	return app
}

// ProvideLLMConfig 提供 LLM 配置
func ProvideLLMConfig(cfg *config.Config) *config.LLMConfig {
	return &cfg.LLM
}

// ProvideRequiredPostgresClient 不接受 memory 引擎，用于建表
func ProvideRequiredPostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	if cfg.Database.Engine == "memory" {
		return nil, nil, fmt.Errorf("database engine memory has no schema to migrate")
	}
	return ProvidePostgresClient(cfg)
}
