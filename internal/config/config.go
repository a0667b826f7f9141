package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config carries every knob the service reads. Values come from an optional
// YAML file (CONFIG_PATH) overridden by environment variables; zero values
// are replaced with defaults in Load.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	LLM       LLMConfig       `mapstructure:"llm"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Web       WebConfig       `mapstructure:"web"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type EmbeddingConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Model    string        `mapstructure:"model"`
	Dim      int           `mapstructure:"dim"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	MaxLRU   int           `mapstructure:"max_lru"`
}

type LLMConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	Temperature   float32       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	ContextWindow int           `mapstructure:"context_window"`
	Timeout       time.Duration `mapstructure:"timeout"`
	StreamIdle    time.Duration `mapstructure:"stream_idle"`
}

type RAGConfig struct {
	TopK          int     `mapstructure:"top_k"`
	HybridAlpha   float64 `mapstructure:"hybrid_alpha"`
	MinSimilarity float64 `mapstructure:"min_similarity"`
	ChunkSize     int     `mapstructure:"chunk_size"`
	ChunkOverlap  int     `mapstructure:"chunk_overlap"`
}

type MemoryConfig struct {
	EpisodicDays      int     `mapstructure:"episodic_days"`
	ConsolidationDays int     `mapstructure:"consolidation_days"`
	ForgetThreshold   float64 `mapstructure:"forget_threshold"`
	ClusterThreshold  float64 `mapstructure:"cluster_threshold"`
	MaintenanceCron   string  `mapstructure:"maintenance_cron"`
}

type WebConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BraveAPIKey string `mapstructure:"brave_api_key"`
	SerpAPIKey  string `mapstructure:"serpapi_key"`
	MaxResults  int    `mapstructure:"max_results"`
	// Seconds; env values are plain integers.
	ScrapeTimeoutSec int `mapstructure:"scrape_timeout"`
}

func (w WebConfig) ScrapeTimeout() time.Duration {
	return time.Duration(w.ScrapeTimeoutSec) * time.Second
}

type BlobConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Region    string        `mapstructure:"region"`
	Bucket    string        `mapstructure:"bucket"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	URLTTL    time.Duration `mapstructure:"url_ttl"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads CONFIG_PATH (if set) and applies env overrides and defaults.
func Load() (*Config, error) {
	v := viper.New()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	bindEnv(v)

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDefaults(&c)
	return &c, nil
}

func bindEnv(v *viper.Viper) {
	// Explicit bindings keep the flat env surface stable regardless of the
	// nested file layout.
	pairs := map[string]string{
		"server.port":           "PORT",
		"database.dsn":          "DATABASE_URL",
		"redis.addr":            "REDIS_ADDR",
		"redis.password":        "REDIS_PASSWORD",
		"embedding.base_url":    "EMBEDDING_BASE_URL",
		"embedding.model":       "EMBEDDING_MODEL",
		"embedding.dim":         "EMBEDDING_DIM",
		"llm.api_key":           "LLM_API_KEY",
		"llm.base_url":          "LLM_BASE_URL",
		"llm.model":             "LLM_MODEL",
		"llm.temperature":       "LLM_TEMPERATURE",
		"llm.max_tokens":        "LLM_MAX_TOKENS",
		"llm.context_window":    "LLM_CONTEXT_WINDOW",
		"rag.top_k":             "RAG_TOP_K",
		"rag.hybrid_alpha":      "RAG_HYBRID_ALPHA",
		"rag.min_similarity":    "RAG_MIN_SIMILARITY",
		"rag.chunk_size":        "CHUNK_SIZE",
		"rag.chunk_overlap":     "CHUNK_OVERLAP",
		"memory.episodic_days":  "MEMORY_EPISODIC_DAYS",
		"memory.consolidation_days": "MEMORY_CONSOLIDATION_DAYS",
		"memory.forget_threshold":   "MEMORY_FORGET_THRESHOLD",
		"web.enabled":           "WEB_SEARCH_ENABLED",
		"web.brave_api_key":     "BRAVE_API_KEY",
		"web.serpapi_key":       "SERPAPI_KEY",
		"web.max_results":       "WEB_SEARCH_RESULTS",
		"web.scrape_timeout":    "WEB_SCRAPE_TIMEOUT",
		"blob.endpoint":         "BLOB_ENDPOINT",
		"blob.region":           "BLOB_REGION",
		"blob.bucket":           "BLOB_BUCKET",
		"blob.access_key":       "BLOB_ACCESS_KEY",
		"blob.secret_key":       "BLOB_SECRET_KEY",
		"auth.jwt_secret":       "JWT_SECRET",
		"metrics.port":          "METRICS_PORT",
	}
	for key, env := range pairs {
		_ = v.BindEnv(key, env)
	}
}

func applyDefaults(c *Config) {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// long enough for a slow streamed answer
		c.Server.WriteTimeout = 5 * time.Minute
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dim == 0 {
		c.Embedding.Dim = 512
	}
	if c.Embedding.Timeout == 0 {
		c.Embedding.Timeout = 30 * time.Second
	}
	if c.Embedding.CacheTTL == 0 {
		c.Embedding.CacheTTL = time.Hour
	}
	if c.Embedding.MaxLRU == 0 {
		c.Embedding.MaxLRU = 10000
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.LLM.ContextWindow == 0 {
		c.LLM.ContextWindow = 4096
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 120 * time.Second
	}
	if c.LLM.StreamIdle == 0 {
		c.LLM.StreamIdle = 30 * time.Second
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = 5
	}
	if c.RAG.HybridAlpha == 0 {
		c.RAG.HybridAlpha = 0.7
	}
	if c.RAG.MinSimilarity == 0 {
		c.RAG.MinSimilarity = 0.3
	}
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = 512
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = 50
	}
	if c.Memory.EpisodicDays == 0 {
		c.Memory.EpisodicDays = 7
	}
	if c.Memory.ConsolidationDays == 0 {
		c.Memory.ConsolidationDays = 30
	}
	if c.Memory.ForgetThreshold == 0 {
		c.Memory.ForgetThreshold = 0.10
	}
	if c.Memory.ClusterThreshold == 0 {
		c.Memory.ClusterThreshold = 0.7
	}
	if c.Memory.MaintenanceCron == "" {
		c.Memory.MaintenanceCron = "0 3 * * *"
	}
	if c.Web.MaxResults == 0 {
		c.Web.MaxResults = 5
	}
	if c.Web.ScrapeTimeoutSec == 0 {
		c.Web.ScrapeTimeoutSec = 10
	}
	if c.Blob.Region == "" {
		c.Blob.Region = "us-east-1"
	}
	if c.Blob.URLTTL == 0 {
		c.Blob.URLTTL = time.Hour
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 2112
	}
}
