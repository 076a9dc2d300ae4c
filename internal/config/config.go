// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.corvus/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: provider, generation model, embedder model and vector dimension
//   - Storage: PostgreSQL connection (see storage.go)
//   - Chunking: chunk size and overlap for ingestion
//   - Embedding: batch size, cache capacity/TTL
//   - Retrieval: top-K, similarity threshold, expansion, hybrid weights, rerank
//   - Fetcher: user agent and timeout for URL ingestion
//   - Observability: OTLP trace exporter endpoint
//
// Security: sensitive values (passwords) are masked in MarshalJSON/String.
// Validation: fail-fast range checks in validation.go with sentinel errors.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidDimension indicates the embedding dimension is out of range.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidChunking indicates chunk size/overlap values are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidRetrieval indicates retrieval parameters are out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval configuration")

	// ErrInvalidPostgres indicates the PostgreSQL configuration is invalid.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default but supports
	// truncation via OutputDimensionality; the schema uses DefaultDimension.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultDimension is the vector dimension the chunk schema is created
	// with. Changing it requires a migration of the chunks table.
	DefaultDimension = 768
)

// ChunkingConfig controls how extracted text is split during ingestion.
type ChunkingConfig struct {
	MaxSize int `mapstructure:"max_size" json:"max_size"` // max chunk length in runes
	Overlap int `mapstructure:"overlap" json:"overlap"`   // shared tail/head between neighbors
}

// EmbeddingConfig controls the embedding client.
type EmbeddingConfig struct {
	BatchSize     int `mapstructure:"batch_size" json:"batch_size"`         // texts per provider call
	CacheCapacity int `mapstructure:"cache_capacity" json:"cache_capacity"` // LRU entries
	CacheTTLSec   int `mapstructure:"cache_ttl_sec" json:"cache_ttl_sec"`   // entry lifetime
	TimeoutSec    int `mapstructure:"timeout_sec" json:"timeout_sec"`       // per provider call
}

// RetrievalConfig holds the default retrieval parameters; callers may
// override per query.
type RetrievalConfig struct {
	TopK          int     `mapstructure:"top_k" json:"top_k"`
	Threshold     float64 `mapstructure:"threshold" json:"threshold"` // cosine similarity floor
	Expansion     int     `mapstructure:"expansion" json:"expansion"` // paraphrase count, 0 = off
	Hybrid        bool    `mapstructure:"hybrid" json:"hybrid"`
	VectorWeight  float64 `mapstructure:"vector_weight" json:"vector_weight"`
	KeywordWeight float64 `mapstructure:"keyword_weight" json:"keyword_weight"`
	Rerank        bool    `mapstructure:"rerank" json:"rerank"`
}

// FetcherConfig controls URL ingestion.
type FetcherConfig struct {
	UserAgent  string `mapstructure:"user_agent" json:"user_agent"`
	TimeoutMS  int    `mapstructure:"timeout_ms" json:"timeout_ms"`
	MaxBodyKiB int    `mapstructure:"max_body_kib" json:"max_body_kib"`
}

// ObservabilityConfig configures the OTLP trace exporter.
type ObservabilityConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI provider and model configuration
	Provider  string `mapstructure:"provider" json:"provider"`     // "gemini" (default), "ollama", "openai"
	ModelName string `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-flash", "llama3.3", "gpt-4o"

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Embedding model configuration
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	Dimension     int    `mapstructure:"dimension" json:"dimension"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Pipeline configuration
	Chunking  ChunkingConfig  `mapstructure:"chunking" json:"chunking"`
	Embedding EmbeddingConfig `mapstructure:"embedding" json:"embedding"`
	Retrieval RetrievalConfig `mapstructure:"retrieval" json:"retrieval"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher" json:"fetcher"`

	// Serve-mode configuration
	ServerAddr  string   `mapstructure:"server_addr" json:"server_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`

	// Observability configuration
	Observability ObservabilityConfig `mapstructure:"observability" json:"observability"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".corvus")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// AI defaults
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("dimension", DefaultDimension)

	// PostgreSQL defaults for local development
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "corvus")
	v.SetDefault("postgres_password", "corvus_dev_password")
	v.SetDefault("postgres_db_name", "corvus")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Chunking defaults
	v.SetDefault("chunking.max_size", 1000)
	v.SetDefault("chunking.overlap", 200)

	// Embedding defaults
	v.SetDefault("embedding.batch_size", 100)
	v.SetDefault("embedding.cache_capacity", 1000)
	v.SetDefault("embedding.cache_ttl_sec", 3600)
	v.SetDefault("embedding.timeout_sec", 30)

	// Retrieval defaults
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.threshold", 0.7)
	v.SetDefault("retrieval.expansion", 0)
	v.SetDefault("retrieval.hybrid", false)
	v.SetDefault("retrieval.vector_weight", 0.7)
	v.SetDefault("retrieval.keyword_weight", 0.3)
	v.SetDefault("retrieval.rerank", false)

	// Fetcher defaults
	v.SetDefault("fetcher.user_agent", "corvus/1.0")
	v.SetDefault("fetcher.timeout_ms", 30000)
	v.SetDefault("fetcher.max_body_kib", 4096)

	// Serve-mode defaults
	v.SetDefault("server_addr", ":8080")
	v.SetDefault("cors_origins", []string{"http://localhost:4200"})

	// Observability defaults
	v.SetDefault("observability.enabled", false)
	v.SetDefault("observability.endpoint", "localhost:4318")
	v.SetDefault("observability.environment", "dev")
	v.SetDefault("observability.service_name", "corvus")
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY and OPENAI_API_KEY are read directly by the Genkit
// plugins, not via viper; Validate() checks their presence per provider.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "CORVUS_PROVIDER")
	mustBind("model_name", "CORVUS_MODEL_NAME")
	mustBind("ollama_host", "CORVUS_OLLAMA_HOST")
	mustBind("embedder_model", "CORVUS_EMBEDDER_MODEL")
	mustBind("server_addr", "CORVUS_SERVER_ADDR")
	mustBind("cors_origins", "CORVUS_CORS_ORIGINS")
	mustBind("observability.enabled", "CORVUS_TRACING")
	mustBind("observability.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 chars or
// fewer are fully masked; longer ones keep the first and last two characters
// for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
