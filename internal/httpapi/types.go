package httpapi

import (
	"strings"
	"time"

	"github.com/openlearn-ai/bookbrain/internal/citations"
	"github.com/openlearn-ai/bookbrain/internal/ragerr"
)

const (
	maxQueryLen        = 500
	maxSelectedTextLen = 1000
)

// BookContext scopes a question to one book and optionally a chapter.
type BookContext struct {
	BookID        string `json:"book_id"`
	ChapterNumber int    `json:"chapter_number,omitempty"`
	PageURL       string `json:"page_url,omitempty"`
}

// QueryRequest is the POST /v1/query body.
type QueryRequest struct {
	Query        string      `json:"query"`
	SelectedText string      `json:"selected_text,omitempty"`
	BookContext  BookContext `json:"book_context"`
}

// Validate enforces request bounds before any downstream call.
func (r *QueryRequest) Validate() *ragerr.Error {
	details := map[string]interface{}{}

	trimmed := strings.TrimSpace(r.Query)
	if trimmed == "" {
		details["query"] = "must not be empty or whitespace"
	} else if len(r.Query) > maxQueryLen {
		details["query"] = "must be at most 500 characters"
	}
	if len(r.SelectedText) > maxSelectedTextLen {
		details["selected_text"] = "must be at most 1000 characters"
	}
	if r.BookContext.BookID == "" {
		details["book_context.book_id"] = "is required"
	}
	if r.BookContext.ChapterNumber < 0 {
		details["book_context.chapter_number"] = "must be a positive integer"
	}

	if len(details) > 0 {
		return ragerr.New(ragerr.CodeValidation, "request validation failed").WithDetails(details)
	}
	return nil
}

// QueryResponse is the POST /v1/query success body.
type QueryResponse struct {
	QueryID          string               `json:"query_id"`
	ResponseText     string               `json:"response_text"`
	SourceReferences []citations.Citation `json:"source_references"`
	ConfidenceScore  float64              `json:"confidence_score"`
	LatencyMs        int64                `json:"latency_ms"`
	Timestamp        time.Time            `json:"timestamp"`
}

// FeedbackRequest is the POST /v1/feedback body. UserID is the caller's
// anonymized identifier; it is accepted but not persisted, since the
// feedback row links to the response only.
type FeedbackRequest struct {
	ResponseID string `json:"response_id"`
	Rating     string `json:"rating"`
	Comment    string `json:"comment,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

// FeedbackResponse acknowledges a stored feedback row.
type FeedbackResponse struct {
	FeedbackID string    `json:"feedback_id"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// errorEnvelope is the wire shape of every error response.
type errorEnvelope struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}
