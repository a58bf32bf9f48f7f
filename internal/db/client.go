// Package db is the relational store: append-only audit rows for every
// query, user feedback, and the analytics read path.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/openlearn-ai/bookbrain/internal/metrics"
)

// Client wraps the Postgres pool.
type Client struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewClient connects to Postgres and sizes the pool.
func NewClient(databaseURL string, logger *zap.Logger) (*Client, error) {
	pool, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pool.SetMaxOpenConns(10)
	pool.SetMaxIdleConns(2)
	pool.SetConnMaxLifetime(30 * time.Minute)
	return &Client{db: pool, log: logger}, nil
}

// NewClientFromDB wraps an existing pool; used by tests.
func NewClientFromDB(pool *sqlx.DB, logger *zap.Logger) *Client {
	return &Client{db: pool, log: logger}
}

// DB exposes the underlying pool for the analytics read path.
func (c *Client) DB() *sqlx.DB { return c.db }

// Ping checks connectivity for health reporting.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the pool.
func (c *Client) Close() error {
	return c.db.Close()
}

func recordWrite(table string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.AuditWrites.WithLabelValues(table, status).Inc()
}

// SaveQuery inserts one queries row.
func (c *Client) SaveQuery(ctx context.Context, q *QueryRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO queries (query_id, user_id, query_text, selected_text, book_context, ip_address_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		q.QueryID, q.UserID, q.QueryText, q.SelectedText, q.BookContext, q.IPAddressHash, q.CreatedAt,
	)
	recordWrite("queries", err)
	if err != nil {
		return fmt.Errorf("insert query: %w", err)
	}
	return nil
}

// SaveRetrievedContext inserts one retrieved_contexts row.
func (c *Client) SaveRetrievedContext(ctx context.Context, r *RetrievedContextRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO retrieved_contexts (context_id, query_id, chunk_ids, similarity_scores, chunk_count,
			retrieval_params, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ContextID, r.QueryID, pq.Array(r.ChunkIDs), pq.Array(r.SimilarityScores), r.ChunkCount,
		r.RetrievalParams, r.CreatedAt,
	)
	recordWrite("retrieved_contexts", err)
	if err != nil {
		return fmt.Errorf("insert retrieved context: %w", err)
	}
	return nil
}

// SaveResponse inserts one query_responses row.
func (c *Client) SaveResponse(ctx context.Context, r *ResponseRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO query_responses (response_id, query_id, response_text, source_references, generation_params,
			latency_ms, confidence_score, refusal_triggered, refusal_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ResponseID, r.QueryID, r.ResponseText, r.SourceReferences, r.GenerationParams,
		r.LatencyMs, r.ConfidenceScore, r.RefusalTriggered, r.RefusalReason, r.CreatedAt,
	)
	recordWrite("query_responses", err)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

// SaveFeedback inserts one user_feedbacks row. Written synchronously; the
// feedback endpoint has no latency budget worth an async path.
func (c *Client) SaveFeedback(ctx context.Context, f *FeedbackRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO user_feedbacks (feedback_id, response_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		f.FeedbackID, f.ResponseID, f.Rating, f.Comment, f.CreatedAt,
	)
	recordWrite("user_feedbacks", err)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// saveAudit writes the three rows of one request in order, so the foreign
// keys from retrieved_contexts and query_responses hold.
func (c *Client) saveAudit(ctx context.Context, rec *AuditRecord) error {
	if err := c.SaveQuery(ctx, &rec.Query); err != nil {
		return err
	}
	if err := c.SaveRetrievedContext(ctx, &rec.Context); err != nil {
		return err
	}
	return c.SaveResponse(ctx, &rec.Response)
}
