package httpapi

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openlearn-ai/bookbrain/internal/health"
)

// HealthHandler serves GET /health from the health manager.
type HealthHandler struct {
	manager interface {
		Check(ctx context.Context) *health.Report
	}
}

func NewHealthHandler(m *health.Manager) *HealthHandler {
	return &HealthHandler{manager: m}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.manager.Check(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// NewRouter assembles the service mux.
func NewRouter(
	query *QueryHandler,
	feedback *FeedbackHandler,
	analyticsHandler *AnalyticsHandler,
	healthManager *health.Manager,
	logger *zap.Logger,
) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/v1/query", query)
	mux.Handle("/v1/feedback", feedback)
	mux.Handle("/v1/analytics/summary", analyticsHandler)
	mux.Handle("/health", NewHealthHandler(healthManager))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
