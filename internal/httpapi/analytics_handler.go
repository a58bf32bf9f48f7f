package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/openlearn-ai/bookbrain/internal/analytics"
	"github.com/openlearn-ai/bookbrain/internal/ragerr"
)

// Summarizer computes analytics summaries.
type Summarizer interface {
	Summarize(ctx context.Context, start, end time.Time, bookID string) (*analytics.Summary, error)
}

// AnalyticsHandler serves GET /v1/analytics/summary.
type AnalyticsHandler struct {
	svc Summarizer
	now func() time.Time
	log *zap.Logger
}

func NewAnalyticsHandler(svc Summarizer, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{svc: svc, now: time.Now, log: logger}
}

// parseDate accepts RFC 3339 timestamps or bare dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func (h *AnalyticsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, ragerr.New(ragerr.CodeValidation, "method not allowed"))
		return
	}

	q := r.URL.Query()
	details := map[string]interface{}{}

	start, err := parseDate(q.Get("start_date"))
	if err != nil {
		details["start_date"] = "must be an ISO-8601 date or timestamp"
	}
	end, err := parseDate(q.Get("end_date"))
	if err != nil {
		details["end_date"] = "must be an ISO-8601 date or timestamp"
	}
	if len(details) == 0 {
		now := h.now()
		if !end.After(start) {
			details["end_date"] = "must be after start_date"
		}
		if start.After(now) || end.After(now) {
			details["date_range"] = "must not be in the future"
		}
	}
	if len(details) > 0 {
		writeError(w, ragerr.New(ragerr.CodeValidation, "invalid date range").WithDetails(details))
		return
	}

	sum, err := h.svc.Summarize(r.Context(), start, end, q.Get("book_id"))
	if err != nil {
		h.log.Error("Analytics summary failed", zap.Error(err))
		writeError(w, ragerr.Wrap(ragerr.CodeInternal, "could not compute summary", err))
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
