package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openlearn-ai/bookbrain/internal/db"
	"github.com/openlearn-ai/bookbrain/internal/generation"
	"github.com/openlearn-ai/bookbrain/internal/refusal"
	"github.com/openlearn-ai/bookbrain/internal/retrieval"
	"github.com/openlearn-ai/bookbrain/internal/vectordb"
)

type fakeEmbedder struct {
	calls atomic.Int32
	err   error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeRetriever struct {
	calls  atomic.Int32
	chunks []vectordb.ScoredPoint
	err    error
}

func (f *fakeRetriever) Retrieve(context.Context, []float32, retrieval.Filter) ([]vectordb.ScoredPoint, error) {
	f.calls.Add(1)
	return f.chunks, f.err
}

type fakeGenerator struct {
	calls atomic.Int32
	text  string
	err   error

	mu        sync.Mutex
	lastTitle string
}

func (f *fakeGenerator) Generate(_ context.Context, title, _ string, chunks []vectordb.ScoredPoint) (*generation.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastTitle = title
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(chunks) == 0 {
		return &generation.Result{Text: generation.InsufficientContextMessage, Model: generation.FallbackModel}, nil
	}
	return &generation.Result{Text: f.text, Model: "fake-model", InputTokens: 100, OutputTokens: 80}, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	records []*db.AuditRecord
}

func (f *fakeAudit) QueueAudit(rec *db.AuditRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
}

func (f *fakeAudit) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeLimiter struct{ allow bool }

func (f *fakeLimiter) Allow(string) bool { return f.allow }

type pipeline struct {
	embedder  *fakeEmbedder
	retriever *fakeRetriever
	generator *fakeGenerator
	audit     *fakeAudit
	handler   *QueryHandler
}

func newPipeline(t *testing.T, chunks []vectordb.ScoredPoint) *pipeline {
	t.Helper()
	p := &pipeline{
		embedder:  &fakeEmbedder{},
		retriever: &fakeRetriever{chunks: chunks},
		generator: &fakeGenerator{text: "The Zero Moment Point is used to keep a walking robot balanced, as described in Module 0."},
		audit:     &fakeAudit{},
	}
	p.handler = NewQueryHandler(
		p.embedder, p.retriever, p.generator, p.audit,
		&fakeLimiter{allow: true}, refusal.NewGate(), 0.7,
		zaptest.NewLogger(t),
	)
	return p
}

func locomotionChunks() []vectordb.ScoredPoint {
	payload := map[string]interface{}{
		"chapter_title": "Module 0 - Foundations",
		"section":       "Locomotion and Motor Control",
		"section_slug":  "locomotion-motor-control",
		"source_file":   "docs/chapters/module-0-foundations/04-locomotion-motor-control.md",
		"content":       "ZMP is the point where the net moment of ground reaction forces is zero.",
	}
	return []vectordb.ScoredPoint{
		{ID: "c1", Score: 0.85, Payload: payload},
		{ID: "c2", Score: 0.78, Payload: payload},
	}
}

func postQuery(t *testing.T, h http.Handler, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(raw))
	req.RemoteAddr = "203.0.113.9:51234"
	req.Header.Set("User-Agent", "test-agent")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func validRequest() QueryRequest {
	return QueryRequest{
		Query:       "What is Zero Moment Point used for?",
		BookContext: BookContext{BookID: "physical-ai-robotics"},
	}
}

func TestQueryPromptUsesDisplayTitle(t *testing.T) {
	p := newPipeline(t, locomotionChunks())
	rec := postQuery(t, p.handler, validRequest())
	require.Equal(t, http.StatusOK, rec.Code)

	p.generator.mu.Lock()
	defer p.generator.mu.Unlock()
	assert.Equal(t, "Physical Ai Robotics", p.generator.lastTitle)
}

func TestBookTitle(t *testing.T) {
	assert.Equal(t, "Physical Ai Robotics", bookTitle("physical-ai-robotics"))
	assert.Equal(t, "Intro", bookTitle("INTRO"))
	assert.Equal(t, "A B", bookTitle("a--b"))
	assert.Equal(t, "", bookTitle(""))
}

func TestQueryHappyPath(t *testing.T) {
	p := newPipeline(t, locomotionChunks())
	rec := postQuery(t, p.handler, validRequest())

	require.Equal(t, http.StatusOK, rec.Code)
	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.NotEmpty(t, resp.QueryID)
	assert.NotEmpty(t, resp.ResponseText)
	assert.InDelta(t, 0.82, resp.ConfidenceScore, 0.005)

	require.Len(t, resp.SourceReferences, 1)
	c := resp.SourceReferences[0]
	assert.Equal(t, 2, c.ChunkCount)
	assert.Equal(t, "/chapters/module-0-foundations/locomotion-motor-control#locomotion-motor-control", c.URL)
	assert.InDelta(t, 0.85, c.MaxSimilarity, 1e-9)

	require.Equal(t, 1, p.audit.count())
	audit := p.audit.records[0]
	assert.Equal(t, resp.QueryID, audit.Query.QueryID)
	assert.Equal(t, resp.QueryID, audit.Context.QueryID)
	assert.Equal(t, resp.QueryID, audit.Response.QueryID)
	assert.False(t, audit.Response.RefusalTriggered)
	assert.Equal(t, []string{"c1", "c2"}, audit.Context.ChunkIDs)

	params := audit.Context.RetrievalParams
	require.NotNil(t, params)
	assert.Equal(t, 2, params["top_k"])
	assert.Equal(t, 0.7, params["similarity_threshold"])
	assert.Equal(t, "vector_search", params["retrieval_strategy"])
	assert.Equal(t, db.JSONB{"book_id": "physical-ai-robotics"}, params["filter"])
}

func TestQueryPreLLMRefusal(t *testing.T) {
	low := []vectordb.ScoredPoint{{ID: "c1", Score: 0.65, Payload: map[string]interface{}{}}}
	p := newPipeline(t, low)
	rec := postQuery(t, p.handler, validRequest())

	require.Equal(t, http.StatusOK, rec.Code)
	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Zero(t, p.generator.calls.Load(), "generator must be skipped on low similarity")
	assert.Empty(t, resp.SourceReferences)
	assert.Contains(t, resp.ResponseText, "don't have information about that topic in the book")

	require.Equal(t, 1, p.audit.count())
	audit := p.audit.records[0]
	assert.True(t, audit.Response.RefusalTriggered)
	require.NotNil(t, audit.Response.RefusalReason)
	assert.Equal(t, "low_similarity", *audit.Response.RefusalReason)
}

func TestQueryEmptyRetrieval(t *testing.T) {
	p := newPipeline(t, nil)
	rec := postQuery(t, p.handler, validRequest())

	require.Equal(t, http.StatusOK, rec.Code)
	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Contains(t, resp.ResponseText, "don't have enough information in the retrieved sections")
	assert.Empty(t, resp.SourceReferences)
	assert.Zero(t, resp.ConfidenceScore)
}

func TestQueryRateLimited(t *testing.T) {
	p := newPipeline(t, locomotionChunks())
	p.handler.limiter = &fakeLimiter{allow: false}

	rec := postQuery(t, p.handler, validRequest())

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Code)

	assert.Zero(t, p.embedder.calls.Load())
	assert.Zero(t, p.retriever.calls.Load())
	assert.Zero(t, p.generator.calls.Load())
	assert.Zero(t, p.audit.count())
}

func TestQueryValidation(t *testing.T) {
	p := newPipeline(t, locomotionChunks())

	cases := []struct {
		name string
		req  QueryRequest
	}{
		{"whitespace query", QueryRequest{Query: "   ", BookContext: BookContext{BookID: "b"}}},
		{"missing book_id", QueryRequest{Query: "What is ZMP?"}},
		{"oversized query", QueryRequest{Query: string(make([]byte, 501)), BookContext: BookContext{BookID: "b"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postQuery(t, p.handler, tc.req)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			var env errorEnvelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.Equal(t, "VALIDATION_ERROR", env.Code)
			assert.NotEmpty(t, env.Details)
		})
	}
	assert.Zero(t, p.embedder.calls.Load(), "validation failures must not reach the pipeline")
	assert.Zero(t, p.audit.count())
}

func TestQueryCircuitOpen(t *testing.T) {
	p := newPipeline(t, locomotionChunks())
	p.generator.err = generation.ErrCircuitOpen

	rec := postQuery(t, p.handler, validRequest())

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "SERVICE_UNAVAILABLE", env.Code)
}

func TestQueryUpstreamErrorCodes(t *testing.T) {
	t.Run("embedding failed", func(t *testing.T) {
		p := newPipeline(t, locomotionChunks())
		p.embedder.err = errors.New("provider down")
		rec := postQuery(t, p.handler, validRequest())
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "EMBEDDING_FAILED")
	})
	t.Run("retrieval failed", func(t *testing.T) {
		p := newPipeline(t, nil)
		p.retriever.err = errors.New("qdrant down")
		rec := postQuery(t, p.handler, validRequest())
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "RETRIEVAL_FAILED")
	})
	t.Run("generation failed", func(t *testing.T) {
		p := newPipeline(t, locomotionChunks())
		p.generator.err = errors.New("llm down")
		rec := postQuery(t, p.handler, validRequest())
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "GENERATION_FAILED")
	})
}

func TestQuerySelectedTextExternalReference(t *testing.T) {
	p := newPipeline(t, locomotionChunks())
	p.generator.text = "As mentioned in Chapter 4, the ZMP stays inside the support polygon."

	req := validRequest()
	req.SelectedText = "The zero moment point is the point where ground reaction forces balance."
	rec := postQuery(t, p.handler, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, refusal.SelectedTextRefusal, resp.ResponseText)
	assert.Empty(t, resp.SourceReferences)

	audit := p.audit.records[0]
	assert.True(t, audit.Response.RefusalTriggered)
	require.NotNil(t, audit.Response.RefusalReason)
	assert.Equal(t, "external_reference", *audit.Response.RefusalReason)
	require.NotNil(t, audit.Query.SelectedText)
}

func TestQueryPostLLMRefusalDetection(t *testing.T) {
	p := newPipeline(t, locomotionChunks())
	p.generator.text = "The book does not contain information about quantum computing."

	rec := postQuery(t, p.handler, validRequest())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.SourceReferences, "refusals carry no citations")

	audit := p.audit.records[0]
	assert.True(t, audit.Response.RefusalTriggered)
	require.NotNil(t, audit.Response.RefusalReason)
	assert.Equal(t, "insufficient_context", *audit.Response.RefusalReason)
}

func TestQueryConcurrentUniqueIDs(t *testing.T) {
	p := newPipeline(t, locomotionChunks())

	const n = 5
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := postQuery(t, p.handler, validRequest())
			var resp QueryResponse
			if json.Unmarshal(rec.Body.Bytes(), &resp) == nil {
				ids <- resp.QueryID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "query_id %s repeated", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestAnonymizeUserDeterministic(t *testing.T) {
	a := AnonymizeUser("203.0.113.9", "agent")
	b := AnonymizeUser("203.0.113.9", "agent")
	c := AnonymizeUser("203.0.113.10", "agent")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
