// Package config 提供配置加载和管理功能
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Vector        VectorConfig        `yaml:"vector" mapstructure:"vector"`
	Storage       StorageConfig       `yaml:"storage" mapstructure:"storage"`
	LLM           LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Embedding     EmbeddingConfig     `yaml:"embedding" mapstructure:"embedding"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Pipeline      PipelineConfig      `yaml:"pipeline" mapstructure:"pipeline"`
	Safety        SafetyConfig        `yaml:"safety" mapstructure:"safety"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Engine 取值 postgres 或 memory，memory 仅适用于单进程开发
	Engine   string         `yaml:"engine" mapstructure:"engine"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" mapstructure:"slow_threshold"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// VectorConfig 向量检索配置
type VectorConfig struct {
	// Backend 取值 pgvector、milvus、memory
	Backend string       `yaml:"backend" mapstructure:"backend"`
	Milvus  MilvusConfig `yaml:"milvus" mapstructure:"milvus"`
}

// MilvusConfig Milvus 配置
type MilvusConfig struct {
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	CollectionPrefix   string `yaml:"collection_prefix" mapstructure:"collection_prefix"`
	IndexType          string `yaml:"index_type" mapstructure:"index_type"`
	MetricType         string `yaml:"metric_type" mapstructure:"metric_type"`
	HNSWM              int    `yaml:"hnsw_m" mapstructure:"hnsw_m"`
	HNSWEfConstruction int    `yaml:"hnsw_ef_construction" mapstructure:"hnsw_ef_construction"`
}

// StorageConfig 素材对象存储配置
type StorageConfig struct {
	// Backend 取值 local 或 gcs
	Backend string `yaml:"backend" mapstructure:"backend"`
	// LocalRoot 本地目录，对象 key 相对于该目录
	LocalRoot string `yaml:"local_root" mapstructure:"local_root"`
	GCSBucket string `yaml:"gcs_bucket" mapstructure:"gcs_bucket"`
	// MaxObjectBytes 单个素材的读取上限
	MaxObjectBytes int64 `yaml:"max_object_bytes" mapstructure:"max_object_bytes"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider" mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
	// StageProviders 按阶段覆盖 provider，key 为阶段名
	StageProviders map[string]string `yaml:"stage_providers" mapstructure:"stage_providers"`
}

// ProviderConfig LLM 提供商配置
type ProviderConfig struct {
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Model       string        `yaml:"model" mapstructure:"model"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// 每千 token 单价（美元），用于成本估算
	PromptPricePer1K     float64 `yaml:"prompt_price_per_1k" mapstructure:"prompt_price_per_1k"`
	CompletionPricePer1K float64 `yaml:"completion_price_per_1k" mapstructure:"completion_price_per_1k"`
}

// EmbeddingConfig Embedding 配置
type EmbeddingConfig struct {
	// Provider 取值 openai、http、hashing
	Provider string `yaml:"provider" mapstructure:"provider"`
	Model    string `yaml:"model" mapstructure:"model"`
	// Version 与 Model 一起组成活动模型标识，变更即视为换模型
	Version     string        `yaml:"version" mapstructure:"version"`
	Dimension   int           `yaml:"dimension" mapstructure:"dimension"`
	BatchSize   int           `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
	Endpoint    string        `yaml:"endpoint" mapstructure:"endpoint"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	CacheTTL    time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	MaxRetries  int           `yaml:"max_retries" mapstructure:"max_retries"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	// Backend 取值 redis 或 memory
	Backend     string            `yaml:"backend" mapstructure:"backend"`
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen              int           `yaml:"max_len" mapstructure:"max_len"`
	ConsumerGroupPrefix string        `yaml:"consumer_group_prefix" mapstructure:"consumer_group_prefix"`
	BlockTimeout        time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	ClaimInterval       time.Duration `yaml:"claim_interval" mapstructure:"claim_interval"`
	RetryLimit          int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff        BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// PipelineConfig 生成流水线配置
type PipelineConfig struct {
	Agent     AgentConfig     `yaml:"agent" mapstructure:"agent"`
	Retries   RetriesConfig   `yaml:"retries" mapstructure:"retries"`
	Retrieval RetrievalConfig `yaml:"retrieval" mapstructure:"retrieval"`
	Chunking  ChunkingConfig  `yaml:"chunking" mapstructure:"chunking"`
	Voice     VoiceConfig     `yaml:"voice" mapstructure:"voice"`
	FactCheck FactCheckConfig `yaml:"fact_check" mapstructure:"fact_check"`
	Review    ReviewConfig    `yaml:"review" mapstructure:"review"`
	Worker    WorkerConfig    `yaml:"worker" mapstructure:"worker"`
}

// AgentConfig 有界 proposer/critic 循环
type AgentConfig struct {
	MaxExchanges int `yaml:"max_exchanges" mapstructure:"max_exchanges"`
	// MaxTokens 单个阶段循环的 token 预算（prompt+completion）
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
}

// RetriesConfig 各类错误的阶段内重试上限
type RetriesConfig struct {
	Transient int           `yaml:"transient" mapstructure:"transient"`
	Grounding int           `yaml:"grounding" mapstructure:"grounding"`
	Safety    int           `yaml:"safety" mapstructure:"safety"`
	Schema    int           `yaml:"schema" mapstructure:"schema"`
	Backoff   BackoffConfig `yaml:"backoff" mapstructure:"backoff"`
}

// RetrievalConfig 各阶段的检索预算
type RetrievalConfig struct {
	// Tokenizer 取值 approx 或 tiktoken
	Tokenizer  string       `yaml:"tokenizer" mapstructure:"tokenizer"`
	Encoding   string       `yaml:"encoding" mapstructure:"encoding"`
	PoolFactor int          `yaml:"pool_factor" mapstructure:"pool_factor"`
	Outline    BudgetConfig `yaml:"outline" mapstructure:"outline"`
	Draft      BudgetConfig `yaml:"draft" mapstructure:"draft"`
	FactCheck  BudgetConfig `yaml:"fact_check" mapstructure:"fact_check"`
	Cohesion   BudgetConfig `yaml:"cohesion" mapstructure:"cohesion"`
}

// BudgetConfig 检索预算
type BudgetConfig struct {
	MaxChunks        int     `yaml:"max_chunks" mapstructure:"max_chunks"`
	MaxTokens        int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxRunesPerChunk int     `yaml:"max_runes_per_chunk" mapstructure:"max_runes_per_chunk"`
	MinScore         float64 `yaml:"min_score" mapstructure:"min_score"`
}

// ChunkingConfig 切分配置（按 rune 计）
type ChunkingConfig struct {
	Size    int `yaml:"size" mapstructure:"size"`
	Overlap int `yaml:"overlap" mapstructure:"overlap"`
}

// VoiceConfig 文风评分
type VoiceConfig struct {
	Threshold       float64 `yaml:"threshold" mapstructure:"threshold"`
	EmbeddingWeight float64 `yaml:"embedding_weight" mapstructure:"embedding_weight"`
	// MaxSampleRunes 校准时参与统计的最大字符数
	MaxSampleRunes int `yaml:"max_sample_runes" mapstructure:"max_sample_runes"`
}

// FactCheckConfig 事实核查阈值
type FactCheckConfig struct {
	SupportThreshold float64 `yaml:"support_threshold" mapstructure:"support_threshold"`
	RelatedThreshold float64 `yaml:"related_threshold" mapstructure:"related_threshold"`
	MaxClaims        int     `yaml:"max_claims" mapstructure:"max_claims"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// ReviewConfig 人工审核
type ReviewConfig struct {
	// RequireChapterApproval 为 true 时每章都进入人工反馈点
	RequireChapterApproval bool `yaml:"require_chapter_approval" mapstructure:"require_chapter_approval"`
	DefaultChapterCount    int  `yaml:"default_chapter_count" mapstructure:"default_chapter_count"`
	DefaultTargetWords     int  `yaml:"default_target_words" mapstructure:"default_target_words"`
}

// WorkerConfig 任务执行器
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency" mapstructure:"concurrency"`
	LeaseTTL          time.Duration `yaml:"lease_ttl" mapstructure:"lease_ttl"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	StaleAfter        time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
	SweepInterval     time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// SafetyConfig 安全检查
type SafetyConfig struct {
	// RulesFile 为空时使用内置规则
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file"`
	// Classifier 取值 none 或 llm
	Classifier         string `yaml:"classifier" mapstructure:"classifier"`
	ClassifierProvider string `yaml:"classifier_provider" mapstructure:"classifier_provider"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Limit   int           `yaml:"limit" mapstructure:"limit"`
	Window  time.Duration `yaml:"window" mapstructure:"window"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}

// ActiveEmbeddingModel 返回活动 embedding 模型标识
func (c EmbeddingConfig) ActiveEmbeddingModel() string {
	id := c.Provider + ":" + c.Model
	if c.Version != "" {
		id += "@" + c.Version
	}
	return id
}
