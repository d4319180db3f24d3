// Package config 提供配置加载功能
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

var envPattern = regexp.MustCompile(`\${(\w+)(:([^}]*))?}`)

// Load 加载 configs 目录下的配置文件
// 按优先级加载：默认配置 -> 环境配置 -> 环境变量
func Load() (*Config, error) {
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "configs"
	}
	return LoadFrom(dir)
}

// LoadFrom 从指定目录加载配置，config.yaml 不存在时仅使用默认值
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := loadConfigFile(v, filepath.Join(dir, "config.yaml"), true); err != nil {
		return nil, err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := loadConfigFile(v, filepath.Join(dir, fmt.Sprintf("config.%s.yaml", env)), true); err != nil {
		return nil, err
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadConfigFile 读取文件，执行环境变量替换，并加载到 viper
func loadConfigFile(v *viper.Viper, path string, optional bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	reader := strings.NewReader(expandEnv(string(content)))
	if v.ConfigFileUsed() == "" {
		if err := v.ReadConfig(reader); err != nil {
			return fmt.Errorf("failed to read processed config %s: %w", path, err)
		}
		v.SetConfigFile(path)
		return nil
	}
	if err := v.MergeConfig(reader); err != nil {
		return fmt.Errorf("failed to merge processed config %s: %w", path, err)
	}
	return nil
}

// expandEnv 替换字符串中的 ${VAR:default} 占位符，未定义且无默认值的变量保持原样
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := envPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(sub[1]); ok {
			return val
		}
		if sub[2] != "" {
			return sub[3]
		}
		return match
	})
}

// MustLoad 加载配置，失败时 panic
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 校验互相矛盾或越界的配置
func (c *Config) Validate() error {
	var errs []error
	p := c.Pipeline
	if p.Chunking.Size <= 0 {
		errs = append(errs, errors.New("pipeline.chunking.size must be positive"))
	}
	if p.Chunking.Overlap < 0 || p.Chunking.Overlap >= p.Chunking.Size {
		errs = append(errs, errors.New("pipeline.chunking.overlap must be in [0, size)"))
	}
	if p.Voice.Threshold < 0 || p.Voice.Threshold > 1 {
		errs = append(errs, errors.New("pipeline.voice.threshold must be in [0,1]"))
	}
	if p.Voice.EmbeddingWeight < 0 || p.Voice.EmbeddingWeight > 1 {
		errs = append(errs, errors.New("pipeline.voice.embedding_weight must be in [0,1]"))
	}
	if p.Agent.MaxExchanges <= 0 {
		errs = append(errs, errors.New("pipeline.agent.max_exchanges must be positive"))
	}
	if p.FactCheck.RelatedThreshold > p.FactCheck.SupportThreshold {
		errs = append(errs, errors.New("pipeline.fact_check.related_threshold must not exceed support_threshold"))
	}
	if strings.TrimSpace(c.Embedding.Model) == "" {
		errs = append(errs, errors.New("embedding.model is required"))
	}
	for name, b := range map[string]BudgetConfig{
		"outline": p.Retrieval.Outline, "draft": p.Retrieval.Draft,
		"fact_check": p.Retrieval.FactCheck, "cohesion": p.Retrieval.Cohesion,
	} {
		if b.MaxChunks <= 0 {
			errs = append(errs, fmt.Errorf("pipeline.retrieval.%s.max_chunks must be positive", name))
		}
	}
	if p.Worker.HeartbeatInterval >= p.Worker.LeaseTTL {
		errs = append(errs, errors.New("pipeline.worker.heartbeat_interval must be shorter than lease_ttl"))
	}
	return errors.Join(errs...)
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "manuscript-ai-api")
	v.SetDefault("app.version", "v0.0.0")
	v.SetDefault("app.env", "development")

	v.SetDefault("server.http.host", "0.0.0.0")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.read_timeout", "30s")
	v.SetDefault("server.http.write_timeout", "60s")
	v.SetDefault("server.http.idle_timeout", "120s")

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.database", "manuscript")
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 50)
	v.SetDefault("database.postgres.max_idle_conns", 10)
	v.SetDefault("database.postgres.conn_max_lifetime", "30m")
	v.SetDefault("database.postgres.conn_max_idle_time", "5m")
	v.SetDefault("database.postgres.slow_threshold", "500ms")

	v.SetDefault("cache.redis.enabled", true)
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 100)
	v.SetDefault("cache.redis.min_idle_conns", 10)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "3s")
	v.SetDefault("cache.redis.write_timeout", "3s")

	v.SetDefault("vector.backend", "pgvector")
	v.SetDefault("vector.milvus.host", "localhost")
	v.SetDefault("vector.milvus.port", 19530)
	v.SetDefault("vector.milvus.collection_prefix", "manuscript")
	v.SetDefault("vector.milvus.index_type", "HNSW")
	v.SetDefault("vector.milvus.metric_type", "COSINE")
	v.SetDefault("vector.milvus.hnsw_m", 16)
	v.SetDefault("vector.milvus.hnsw_ef_construction", 200)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_root", "data/materials")
	v.SetDefault("storage.max_object_bytes", 64<<20)

	v.SetDefault("llm.default_provider", "openai")

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.version", "1")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.concurrency", 4)
	v.SetDefault("embedding.timeout", "30s")
	v.SetDefault("embedding.cache_ttl", "168h")
	v.SetDefault("embedding.max_retries", 3)

	v.SetDefault("messaging.backend", "redis")
	v.SetDefault("messaging.redis_stream.max_len", 100000)
	v.SetDefault("messaging.redis_stream.consumer_group_prefix", "manuscript")
	v.SetDefault("messaging.redis_stream.block_timeout", "5s")
	v.SetDefault("messaging.redis_stream.claim_interval", "30s")
	v.SetDefault("messaging.redis_stream.retry_limit", 5)
	v.SetDefault("messaging.redis_stream.retry_backoff.initial", "1s")
	v.SetDefault("messaging.redis_stream.retry_backoff.max", "1m")
	v.SetDefault("messaging.redis_stream.retry_backoff.multiplier", 2.0)

	v.SetDefault("pipeline.agent.max_exchanges", 4)
	v.SetDefault("pipeline.agent.max_tokens", 60000)
	v.SetDefault("pipeline.agent.call_timeout", "120s")
	v.SetDefault("pipeline.retries.transient", 3)
	v.SetDefault("pipeline.retries.grounding", 2)
	v.SetDefault("pipeline.retries.safety", 2)
	v.SetDefault("pipeline.retries.schema", 2)
	v.SetDefault("pipeline.retries.backoff.initial", "2s")
	v.SetDefault("pipeline.retries.backoff.max", "1m")
	v.SetDefault("pipeline.retries.backoff.multiplier", 2.0)
	v.SetDefault("pipeline.retrieval.tokenizer", "approx")
	v.SetDefault("pipeline.retrieval.encoding", "cl100k_base")
	v.SetDefault("pipeline.retrieval.pool_factor", 4)
	v.SetDefault("pipeline.retrieval.outline.max_chunks", 24)
	v.SetDefault("pipeline.retrieval.outline.max_tokens", 6000)
	v.SetDefault("pipeline.retrieval.outline.max_runes_per_chunk", 400)
	v.SetDefault("pipeline.retrieval.draft.max_chunks", 8)
	v.SetDefault("pipeline.retrieval.draft.max_tokens", 5000)
	v.SetDefault("pipeline.retrieval.draft.max_runes_per_chunk", 1600)
	v.SetDefault("pipeline.retrieval.fact_check.max_chunks", 4)
	v.SetDefault("pipeline.retrieval.fact_check.max_tokens", 2000)
	v.SetDefault("pipeline.retrieval.fact_check.max_runes_per_chunk", 1600)
	v.SetDefault("pipeline.retrieval.cohesion.max_chunks", 4)
	v.SetDefault("pipeline.retrieval.cohesion.max_tokens", 1500)
	v.SetDefault("pipeline.retrieval.cohesion.max_runes_per_chunk", 600)
	v.SetDefault("pipeline.chunking.size", 800)
	v.SetDefault("pipeline.chunking.overlap", 80)
	v.SetDefault("pipeline.voice.threshold", 0.88)
	v.SetDefault("pipeline.voice.embedding_weight", 0.5)
	v.SetDefault("pipeline.voice.max_sample_runes", 200000)
	v.SetDefault("pipeline.fact_check.support_threshold", 0.75)
	v.SetDefault("pipeline.fact_check.related_threshold", 0.5)
	v.SetDefault("pipeline.fact_check.max_claims", 40)
	v.SetDefault("pipeline.fact_check.concurrency", 4)
	v.SetDefault("pipeline.review.require_chapter_approval", false)
	v.SetDefault("pipeline.review.default_chapter_count", 8)
	v.SetDefault("pipeline.review.default_target_words", 40000)
	v.SetDefault("pipeline.worker.concurrency", 4)
	v.SetDefault("pipeline.worker.lease_ttl", "2m")
	v.SetDefault("pipeline.worker.heartbeat_interval", "20s")
	v.SetDefault("pipeline.worker.stale_after", "5m")
	v.SetDefault("pipeline.worker.sweep_interval", "1m")

	v.SetDefault("safety.classifier", "none")

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_rate", 1.0)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")

	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.limit", 120)
	v.SetDefault("security.rate_limit.window", "1m")
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"Content-Type", "X-Request-ID"})
}
