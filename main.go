package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openlearn-ai/bookbrain/internal/analytics"
	"github.com/openlearn-ai/bookbrain/internal/circuitbreaker"
	"github.com/openlearn-ai/bookbrain/internal/config"
	"github.com/openlearn-ai/bookbrain/internal/db"
	"github.com/openlearn-ai/bookbrain/internal/embeddings"
	"github.com/openlearn-ai/bookbrain/internal/generation"
	"github.com/openlearn-ai/bookbrain/internal/health"
	"github.com/openlearn-ai/bookbrain/internal/httpapi"
	"github.com/openlearn-ai/bookbrain/internal/ratelimit"
	"github.com/openlearn-ai/bookbrain/internal/refusal"
	"github.com/openlearn-ai/bookbrain/internal/retrieval"
	"github.com/openlearn-ai/bookbrain/internal/tracing"
	"github.com/openlearn-ai/bookbrain/internal/vectordb"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "bookbrain",
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	database, err := db.NewClient(cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer database.Close()

	embedder := buildEmbedder(cfg, logger)
	if cfg.EmbeddingDim > 0 && cfg.EmbeddingDim != embedder.Dimension() {
		return fmt.Errorf("embedding_dim %d does not match provider dimension %d",
			cfg.EmbeddingDim, embedder.Dimension())
	}

	vdb := vectordb.NewClient(vectordb.Config{
		URL:        cfg.VectorURL,
		APIKey:     cfg.VectorAPIKey,
		Collection: cfg.VectorCollection,
		Dimension:  embedder.Dimension(),
		Timeout:    config.SearchTimeout,
	}, logger)

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBoot()
	if err := vdb.EnsureCollection(bootCtx); err != nil {
		return fmt.Errorf("ensure vector collection: %w", err)
	}

	gate := refusal.NewGate()
	if cfg.RefusalPatternsFile != "" {
		if err := gate.LoadOverrides(cfg.RefusalPatternsFile); err != nil {
			return fmt.Errorf("load refusal overrides: %w", err)
		}
		logger.Info("Loaded refusal pattern overrides", zap.String("file", cfg.RefusalPatternsFile))
	}

	breaker := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.DefaultConfig(), logger)
	generator := generation.NewService(buildGenerationProvider(cfg), breaker, 10, logger)

	retriever := retrieval.NewRetriever(vdb, cfg.TopK, cfg.SimilarityThreshold, logger)
	limiter := ratelimit.NewLimiter(cfg.RateLimitPerHour)
	defer limiter.Close()

	auditWriter := db.NewAuditWriter(database, 0, 0, logger)
	defer auditWriter.Close(10 * time.Second)

	healthMgr := health.NewManager(version, logger)
	healthMgr.Register(health.NewPingChecker("database", database, true, 3*time.Second))
	healthMgr.Register(health.NewPingChecker("vector_db", vdb, true, 3*time.Second))
	healthMgr.Register(health.NewLLMChecker(func() bool {
		return breaker.State() == circuitbreaker.StateOpen
	}))

	router := httpapi.NewRouter(
		httpapi.NewQueryHandler(embedder, retriever, generator, auditWriter, limiter, gate, cfg.SimilarityThreshold, logger),
		httpapi.NewFeedbackHandler(database, logger),
		httpapi.NewAnalyticsHandler(analytics.NewService(database.DB(), logger), logger),
		healthMgr,
		logger,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening",
			zap.Int("port", cfg.Port),
			zap.String("collection", cfg.VectorCollection),
			zap.String("embedding_provider", cfg.EmbeddingProvider),
			zap.String("generation_provider", cfg.GenerationProvider),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-stop:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// buildEmbedder picks the configured provider and layers caching on top.
func buildEmbedder(cfg *config.Settings, logger *zap.Logger) embeddings.Embedder {
	var inner embeddings.Embedder
	switch cfg.EmbeddingProvider {
	case "google":
		inner = embeddings.NewGoogleEmbedder(cfg.EmbeddingAPIKey, cfg.EmbeddingModel, logger)
	default:
		inner = embeddings.NewCohereEmbedder(cfg.EmbeddingAPIKey, cfg.EmbeddingModel, logger)
	}

	var redisCache *embeddings.RedisCache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		redisCache = embeddings.NewRedisCache(client, 24*time.Hour, logger)
		logger.Info("Embedding cache: Redis tier enabled", zap.String("addr", cfg.RedisAddr))
	}
	return embeddings.NewCachedEmbedder(inner, embeddings.NewLocalLRU(1024), redisCache)
}

func buildGenerationProvider(cfg *config.Settings) generation.Provider {
	params := generation.Params{
		Temperature: cfg.GenerationTemperature,
		MaxTokens:   cfg.GenerationMaxTokens,
	}
	switch cfg.GenerationProvider {
	case "google":
		return generation.NewGoogleProvider(cfg.GenerationAPIKey, cfg.GenerationModel, params)
	default:
		return generation.NewCohereProvider(cfg.GenerationAPIKey, cfg.GenerationModel, params)
	}
}
