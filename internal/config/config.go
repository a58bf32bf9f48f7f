package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings holds all runtime configuration. Loaded once from the environment
// at process start; nothing here changes afterwards.
type Settings struct {
	// Embedding provider
	EmbeddingProvider string `mapstructure:"embedding_provider"` // cohere | google
	EmbeddingAPIKey   string `mapstructure:"embedding_provider_key"`
	EmbeddingModel    string `mapstructure:"embedding_model"`
	EmbeddingDim      int    `mapstructure:"embedding_dim"` // 0 = use the provider's native dimension

	// Generation provider
	GenerationProvider    string  `mapstructure:"generation_provider"` // cohere | google
	GenerationAPIKey      string  `mapstructure:"generation_provider_key"`
	GenerationModel       string  `mapstructure:"generation_model"`
	GenerationMaxTokens   int     `mapstructure:"generation_max_tokens"`
	GenerationTemperature float64 `mapstructure:"generation_temperature"`

	// Vector index
	VectorURL        string `mapstructure:"vector_url"`
	VectorAPIKey     string `mapstructure:"vector_api_key"`
	VectorCollection string `mapstructure:"vector_collection_name"`

	// Relational store
	DatabaseURL string `mapstructure:"database_url"`

	// Retrieval parameters
	TopK                int     `mapstructure:"top_k"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	ChunkSize           int     `mapstructure:"chunk_size"`
	ChunkOverlap        int     `mapstructure:"chunk_overlap"`

	// Rate limiting
	RateLimitPerHour int `mapstructure:"rate_limit_per_hour"`

	// Optional embedding cache
	RedisAddr string `mapstructure:"redis_addr"`

	// Optional refusal pattern overrides (YAML)
	RefusalPatternsFile string `mapstructure:"refusal_patterns_file"`

	// Service
	Port           int    `mapstructure:"port"`
	LogLevel       string `mapstructure:"log_level"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
}

// Per-call upstream timeouts. Fixed deadlines rather than configuration;
// the orchestrator applies them per pipeline stage.
const (
	EmbedTimeout    = 10 * time.Second
	SearchTimeout   = 5 * time.Second
	GenerateTimeout = 15 * time.Second
	AuditTimeout    = 2 * time.Second
)

// Load reads settings from environment variables, falling back to defaults.
func Load() (*Settings, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("embedding_provider", "cohere")
	v.SetDefault("embedding_model", "embed-english-v3.0")
	v.SetDefault("generation_provider", "cohere")
	v.SetDefault("generation_model", "command-r")
	v.SetDefault("generation_max_tokens", 500)
	v.SetDefault("generation_temperature", 0.0)
	v.SetDefault("vector_collection_name", "book_chunks_v1")
	v.SetDefault("top_k", 5)
	v.SetDefault("similarity_threshold", 0.7)
	v.SetDefault("chunk_size", 500)
	v.SetDefault("chunk_overlap", 50)
	v.SetDefault("rate_limit_per_hour", 60)
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("tracing_enabled", false)

	// Explicit binds so AutomaticEnv picks up keys never set via defaults.
	for _, key := range []string{
		"embedding_provider_key", "generation_provider_key",
		"vector_url", "vector_api_key", "database_url",
		"embedding_dim", "redis_addr", "refusal_patterns_file", "otlp_endpoint",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks required options and provider selection.
func (s *Settings) Validate() error {
	if s.VectorURL == "" {
		return fmt.Errorf("VECTOR_URL is required")
	}
	if s.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch s.EmbeddingProvider {
	case "cohere", "google":
	default:
		return fmt.Errorf("unknown embedding provider %q", s.EmbeddingProvider)
	}
	switch s.GenerationProvider {
	case "cohere", "google":
	default:
		return fmt.Errorf("unknown generation provider %q", s.GenerationProvider)
	}
	if s.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", s.TopK)
	}
	if s.SimilarityThreshold < 0 || s.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [0,1], got %f", s.SimilarityThreshold)
	}
	if s.RateLimitPerHour <= 0 {
		return fmt.Errorf("rate_limit_per_hour must be positive, got %d", s.RateLimitPerHour)
	}
	return nil
}
