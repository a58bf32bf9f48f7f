package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB wraps arbitrary JSON for Postgres jsonb columns.
type JSONB map[string]interface{}

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for JSONB: %T", value)
	}
	return json.Unmarshal(data, j)
}

// QueryRecord is one row in queries, created for every accepted request.
type QueryRecord struct {
	QueryID       string    `db:"query_id"`
	UserID        string    `db:"user_id"`
	QueryText     string    `db:"query_text"`
	SelectedText  *string   `db:"selected_text"`
	BookContext   JSONB     `db:"book_context"`
	IPAddressHash string    `db:"ip_address_hash"`
	CreatedAt     time.Time `db:"created_at"`
}

// RetrievedContextRecord is one row in retrieved_contexts: the chunk set a
// query was answered from.
type RetrievedContextRecord struct {
	ContextID        string    `db:"context_id"`
	QueryID          string    `db:"query_id"`
	ChunkIDs         []string  `db:"chunk_ids"`
	SimilarityScores []float64 `db:"similarity_scores"`
	ChunkCount       int       `db:"chunk_count"`
	RetrievalParams  JSONB     `db:"retrieval_params"`
	CreatedAt        time.Time `db:"created_at"`
}

// ResponseRecord is one row in query_responses.
type ResponseRecord struct {
	ResponseID       string    `db:"response_id"`
	QueryID          string    `db:"query_id"`
	ResponseText     string    `db:"response_text"`
	SourceReferences JSONB     `db:"source_references"`
	GenerationParams JSONB     `db:"generation_params"`
	LatencyMs        int64     `db:"latency_ms"`
	ConfidenceScore  float64   `db:"confidence_score"`
	RefusalTriggered bool      `db:"refusal_triggered"`
	RefusalReason    *string   `db:"refusal_reason"`
	CreatedAt        time.Time `db:"created_at"`
}

// Feedback ratings.
const (
	RatingHelpful    = "helpful"
	RatingNotHelpful = "not_helpful"
)

// FeedbackRecord is one row in user_feedbacks.
type FeedbackRecord struct {
	FeedbackID string    `db:"feedback_id"`
	ResponseID string    `db:"response_id"`
	Rating     string    `db:"rating"`
	Comment    *string   `db:"comment"`
	CreatedAt  time.Time `db:"created_at"`
}

// AuditRecord bundles the three per-request rows so they travel through the
// write queue together and share one query_id.
type AuditRecord struct {
	Query    QueryRecord
	Context  RetrievedContextRecord
	Response ResponseRecord
}
