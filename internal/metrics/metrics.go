package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Query pipeline metrics
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbrain_queries_total",
			Help: "Total number of query requests by terminal status",
		},
		[]string{"status"},
	)

	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookbrain_query_duration_seconds",
			Help:    "End-to-end query latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		},
	)

	RefusalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbrain_refusals_total",
			Help: "Total refusals by gate stage and reason",
		},
		[]string{"stage", "reason"},
	)

	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookbrain_rate_limit_rejections_total",
			Help: "Requests rejected by the per-user rate limiter",
		},
	)

	// Upstream call metrics
	EmbeddingRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookbrain_embedding_request_seconds",
			Help:    "Embedding provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "status"},
	)

	VectorSearches = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookbrain_vector_search_seconds",
			Help:    "Vector index search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection", "status"},
	)

	GenerationRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookbrain_generation_request_seconds",
			Help:    "LLM generation call latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 15, 30},
		},
		[]string{"model", "status"},
	)

	GenerationTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbrain_generation_tokens_total",
			Help: "Token usage reported by the generation provider",
		},
		[]string{"model", "kind"},
	)

	// Cache metrics
	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbrain_embedding_cache_hits_total",
			Help: "Embedding cache hits by tier (lru, redis)",
		},
		[]string{"tier"},
	)

	AnalyticsCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbrain_analytics_cache_lookups_total",
			Help: "Analytics summary cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// Audit log metrics
	AuditWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbrain_audit_writes_total",
			Help: "Audit log inserts by table and status",
		},
		[]string{"table", "status"},
	)

	AuditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookbrain_audit_queue_depth",
			Help: "Pending records in the audit write queue",
		},
	)

	// Circuit breaker state (0 = closed, 1 = open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bookbrain_circuit_breaker_state",
			Help: "Circuit breaker state by name (0 closed, 1 open)",
		},
		[]string{"name"},
	)
)

// RecordEmbedding records an embedding provider call.
func RecordEmbedding(model, status string, seconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Observe(seconds)
}

// RecordVectorSearch records a vector index search.
func RecordVectorSearch(collection, status string, seconds float64) {
	VectorSearches.WithLabelValues(collection, status).Observe(seconds)
}

// RecordGeneration records an LLM generation call.
func RecordGeneration(model, status string, seconds float64) {
	GenerationRequests.WithLabelValues(model, status).Observe(seconds)
}
