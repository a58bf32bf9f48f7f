package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openlearn-ai/bookbrain/internal/config"
	"github.com/openlearn-ai/bookbrain/internal/db"
	"github.com/openlearn-ai/bookbrain/internal/ragerr"
)

// FeedbackStore persists feedback rows.
type FeedbackStore interface {
	SaveFeedback(ctx context.Context, f *db.FeedbackRecord) error
}

// FeedbackHandler stores student ratings of answers. Written synchronously;
// feedback has no latency budget worth an async path.
type FeedbackHandler struct {
	store FeedbackStore
	log   *zap.Logger
}

func NewFeedbackHandler(store FeedbackStore, logger *zap.Logger) *FeedbackHandler {
	return &FeedbackHandler{store: store, log: logger}
}

func (h *FeedbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, ragerr.New(ragerr.CodeValidation, "method not allowed"))
		return
	}

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ragerr.Wrap(ragerr.CodeValidation, "malformed request body", err))
		return
	}

	details := map[string]interface{}{}
	if req.ResponseID == "" {
		details["response_id"] = "is required"
	}
	if req.Rating != db.RatingHelpful && req.Rating != db.RatingNotHelpful {
		details["rating"] = "must be 'helpful' or 'not_helpful'"
	}
	if len(req.Comment) > 500 {
		details["comment"] = "must be at most 500 characters"
	}
	if len(details) > 0 {
		writeError(w, ragerr.New(ragerr.CodeValidation, "request validation failed").WithDetails(details))
		return
	}

	rec := &db.FeedbackRecord{
		FeedbackID: uuid.NewString(),
		ResponseID: req.ResponseID,
		Rating:     req.Rating,
		CreatedAt:  time.Now().UTC(),
	}
	if req.Comment != "" {
		rec.Comment = &req.Comment
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.AuditTimeout)
	defer cancel()
	if err := h.store.SaveFeedback(ctx, rec); err != nil {
		h.log.Error("Feedback write failed", zap.String("response_id", req.ResponseID), zap.Error(err))
		writeError(w, ragerr.Wrap(ragerr.CodeInternal, "could not store feedback", err))
		return
	}

	writeJSON(w, http.StatusOK, FeedbackResponse{
		FeedbackID: rec.FeedbackID,
		Message:    "Feedback submitted successfully",
		Timestamp:  rec.CreatedAt,
	})
}
