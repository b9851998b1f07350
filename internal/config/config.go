// Package config loads the boot-time configuration for the indexing and
// search core: database paths, remote service endpoints/credentials, and
// observability settings. It is read once at process start; the PATCH-able
// keys of §6 live in internal/settings instead.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AnthropicPromptCacheConfig controls Anthropic prompt-caching scope.
type AnthropicPromptCacheConfig struct {
	Enabled       bool `yaml:"enabled"`
	CacheSystem   bool `yaml:"cache_system"`
	CacheTools    bool `yaml:"cache_tools"`
	CacheMessages bool `yaml:"cache_messages"`
}

// AnthropicConfig configures the Anthropic chat client.
type AnthropicConfig struct {
	APIKey      string                     `yaml:"api_key"`
	BaseURL     string                     `yaml:"base_url"`
	Model       string                     `yaml:"model"`
	PromptCache AnthropicPromptCacheConfig `yaml:"prompt_cache"`
	ExtraParams map[string]any             `yaml:"extra_params"`
}

// OpenAIConfig configures the OpenAI-compatible chat client (also used for
// self-hosted OpenAI-API-shaped servers).
type OpenAIConfig struct {
	APIKey      string         `yaml:"api_key"`
	BaseURL     string         `yaml:"base_url"`
	Model       string         `yaml:"model"`
	API         string         `yaml:"api"` // "completions" (default) or "responses"
	LogPayloads bool           `yaml:"log_payloads"`
	ExtraParams map[string]any `yaml:"extra_params"`
}

// VisionConfig selects which configured chat provider backs the deep
// processor's VLM image/page description calls (§4.5). Provider is
// "anthropic" or "openai"; Model overrides that provider's chat model
// for vision calls when the description task warrants a different one.
type VisionConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// EmbeddingConfig configures the embedding HTTP client.
type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	Path      string `yaml:"path"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	APIHeader string `yaml:"api_header"` // e.g. "Authorization" or a custom header name
	Timeout   int    `yaml:"timeout_seconds"`
}

// RerankConfig configures the rerank HTTP client.
type RerankConfig struct {
	BaseURL string `yaml:"base_url"`
	Path    string `yaml:"path"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	Timeout int    `yaml:"timeout_seconds"`
}

// S3SSEConfig configures server-side encryption for object storage puts.
type S3SSEConfig struct {
	Mode     string `yaml:"mode"` // "", "sse-s3", "sse-kms"
	KMSKeyID string `yaml:"kms_key_id"`
}

// S3Config configures the preview-image / page-render object store.
type S3Config struct {
	Bucket                string      `yaml:"bucket"`
	Region                string      `yaml:"region"`
	Endpoint              string      `yaml:"endpoint"` // non-empty for MinIO/S3-compatible
	Prefix                string      `yaml:"prefix"`
	AccessKey             string      `yaml:"access_key"`
	SecretKey             string      `yaml:"secret_key"`
	UsePathStyle          bool        `yaml:"use_path_style"`
	TLSInsecureSkipVerify bool        `yaml:"tls_insecure_skip_verify"`
	SSE                   S3SSEConfig `yaml:"sse"`
}

// StorageConfig configures the relational store (§4.2).
type StorageConfig struct {
	Path string `yaml:"path"` // sqlite database file
}

// VectorStoreConfig configures the Qdrant-backed vector store (§4.3).
type VectorStoreConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vector_size"`
	Timeout    int    `yaml:"timeout_seconds"`
}

// HealthConfig configures the service-health cache backing store (§6).
type HealthConfig struct {
	RedisAddr string `yaml:"redis_addr"` // empty: in-process map only
	RedisDB   int    `yaml:"redis_db"`
}

// AnalyticsConfig configures the optional ClickHouse stage-transition sink.
type AnalyticsConfig struct {
	DSN        string `yaml:"dsn"` // empty disables the sink
	BufferSize int    `yaml:"buffer_size"`
}

// EventBusConfig configures the optional Kafka stage-transition publisher.
type EventBusConfig struct {
	Brokers []string `yaml:"brokers"` // empty disables the bus
	Topic   string   `yaml:"topic"`
}

// SchedulerConfig configures the indexer scheduler (§4.6).
type SchedulerConfig struct {
	FastConcurrency         int `yaml:"fast_concurrency"`
	DeepConcurrency         int `yaml:"deep_concurrency"`
	MaxFailuresBeforeGiveUp int `yaml:"max_failures_before_give_up"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"` // empty: stdout
}

// Config is the complete boot-time configuration tree.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Storage     StorageConfig     `yaml:"storage"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	ObjectStore S3Config          `yaml:"object_store"`
	Health      HealthConfig      `yaml:"health"`
	Analytics   AnalyticsConfig   `yaml:"analytics"`
	EventBus    EventBusConfig    `yaml:"event_bus"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Anthropic   AnthropicConfig   `yaml:"anthropic"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Vision      VisionConfig      `yaml:"vision"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Rerank      RerankConfig      `yaml:"rerank"`

	Telemetry struct {
		Enabled        bool   `yaml:"enabled"`
		OTLPEndpoint   string `yaml:"otlp_endpoint"`
		Insecure       bool   `yaml:"insecure"`
		ServiceName    string `yaml:"service_name"`
		ServiceVersion string `yaml:"service_version"`
		Environment    string `yaml:"environment"`
		SentryDSN      string `yaml:"sentry_dsn"`
	} `yaml:"telemetry"`

	HTTPAddr string `yaml:"http_addr"`
}

// ErrConfig marks a configuration-boundary error (exit code 2 per §6).
type ErrConfig struct{ Msg string }

func (e *ErrConfig) Error() string { return e.Msg }

// Load reads an optional .env file, an optional YAML file at yamlPath, and
// environment variable overrides (KNOWLEDGEWORKSPACE_ prefix), in that
// order of increasing precedence, and returns the merged Config. Missing
// required endpoints are NOT defaulted silently (§7); callers that need a
// configured endpoint must check for an empty value themselves and degrade
// health status rather than fail the whole process.
func Load(yamlPath string) (Config, error) {
	_ = godotenv.Load() // best effort; absence is not an error

	cfg := Config{
		Log:         LogConfig{Level: "info"},
		Storage:     StorageConfig{Path: "./data/workspace.db"},
		VectorStore: VectorStoreConfig{Host: "localhost", Port: 6334, Collection: "chunks", VectorSize: 1536, Timeout: 30},
		Scheduler:   SchedulerConfig{FastConcurrency: 4, DeepConcurrency: 2, MaxFailuresBeforeGiveUp: 3},
		HTTPAddr:    ":8085",
	}

	if yamlPath != "" {
		b, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, &ErrConfig{Msg: fmt.Sprintf("read config file %q: %v", yamlPath, err)}
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, &ErrConfig{Msg: fmt.Sprintf("parse config file %q: %v", yamlPath, err)}
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Scheduler.FastConcurrency < 1 || cfg.Scheduler.DeepConcurrency < 1 {
		return cfg, &ErrConfig{Msg: "scheduler concurrency must be >= 1"}
	}

	return cfg, nil
}

const envPrefix = "KNOWLEDGEWORKSPACE_"

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	b := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}
	i := func(key string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_PATH", &cfg.Log.Path)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("VECTOR_STORE_HOST", &cfg.VectorStore.Host)
	i("VECTOR_STORE_PORT", &cfg.VectorStore.Port)
	str("VECTOR_STORE_API_KEY", &cfg.VectorStore.APIKey)
	b("VECTOR_STORE_TLS", &cfg.VectorStore.UseTLS)
	str("VECTOR_STORE_COLLECTION", &cfg.VectorStore.Collection)
	str("OBJECT_STORE_BUCKET", &cfg.ObjectStore.Bucket)
	str("OBJECT_STORE_REGION", &cfg.ObjectStore.Region)
	str("OBJECT_STORE_ENDPOINT", &cfg.ObjectStore.Endpoint)
	str("OBJECT_STORE_ACCESS_KEY", &cfg.ObjectStore.AccessKey)
	str("OBJECT_STORE_SECRET_KEY", &cfg.ObjectStore.SecretKey)
	str("HEALTH_REDIS_ADDR", &cfg.Health.RedisAddr)
	str("ANALYTICS_DSN", &cfg.Analytics.DSN)
	str("ANTHROPIC_API_KEY", &cfg.Anthropic.APIKey)
	str("ANTHROPIC_BASE_URL", &cfg.Anthropic.BaseURL)
	str("ANTHROPIC_MODEL", &cfg.Anthropic.Model)
	str("OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)
	str("OPENAI_MODEL", &cfg.OpenAI.Model)
	str("VISION_PROVIDER", &cfg.Vision.Provider)
	str("VISION_MODEL", &cfg.Vision.Model)
	str("EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL)
	str("EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	str("EMBEDDING_MODEL", &cfg.Embedding.Model)
	str("RERANK_BASE_URL", &cfg.Rerank.BaseURL)
	str("RERANK_API_KEY", &cfg.Rerank.APIKey)
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	b("OTLP_ENABLED", &cfg.Telemetry.Enabled)
	str("SENTRY_DSN", &cfg.Telemetry.SentryDSN)
}

// ClientTimeout returns d as a timeout duration, substituting def when d<=0.
func ClientTimeout(seconds int, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}
	return time.Duration(seconds) * time.Second
}
