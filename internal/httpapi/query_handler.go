// Package httpapi is the HTTP surface: the query pipeline, feedback intake,
// analytics summaries, and health.
package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openlearn-ai/bookbrain/internal/citations"
	"github.com/openlearn-ai/bookbrain/internal/config"
	"github.com/openlearn-ai/bookbrain/internal/db"
	"github.com/openlearn-ai/bookbrain/internal/generation"
	"github.com/openlearn-ai/bookbrain/internal/metrics"
	"github.com/openlearn-ai/bookbrain/internal/ragerr"
	"github.com/openlearn-ai/bookbrain/internal/refusal"
	"github.com/openlearn-ai/bookbrain/internal/retrieval"
	"github.com/openlearn-ai/bookbrain/internal/vectordb"
)

// Narrow views of the pipeline components, so handlers are testable with
// in-memory fakes.
type (
	Embedder interface {
		Embed(ctx context.Context, text string) ([]float32, error)
	}
	Retriever interface {
		Retrieve(ctx context.Context, vec []float32, f retrieval.Filter) ([]vectordb.ScoredPoint, error)
	}
	Generator interface {
		Generate(ctx context.Context, bookTitle, question string, chunks []vectordb.ScoredPoint) (*generation.Result, error)
	}
	AuditSink interface {
		QueueAudit(rec *db.AuditRecord)
	}
	Admitter interface {
		Allow(userID string) bool
	}
)

// QueryHandler runs the query pipeline: admit, embed, retrieve, gate,
// generate, gate again, cite, audit, respond.
type QueryHandler struct {
	embedder  Embedder
	retriever Retriever
	generator Generator
	audit     AuditSink
	limiter   Admitter
	gate      *refusal.Gate
	threshold float64
	log       *zap.Logger
}

func NewQueryHandler(
	embedder Embedder,
	retriever Retriever,
	generator Generator,
	audit AuditSink,
	limiter Admitter,
	gate *refusal.Gate,
	threshold float64,
	logger *zap.Logger,
) *QueryHandler {
	return &QueryHandler{
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		audit:     audit,
		limiter:   limiter,
		gate:      gate,
		threshold: threshold,
		log:       logger,
	}
}

// AnonymizeUser derives the stored user identifier. Raw network identity
// never reaches the database.
func AnonymizeUser(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + ":" + userAgent))
	return hex.EncodeToString(sum[:])
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, ragerr.New(ragerr.CodeValidation, "method not allowed"))
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ragerr.Wrap(ragerr.CodeValidation, "malformed request body", err))
		return
	}
	if verr := req.Validate(); verr != nil {
		metrics.QueriesTotal.WithLabelValues("validation_error").Inc()
		writeError(w, verr)
		return
	}

	ip := clientIP(r)
	userID := AnonymizeUser(ip, r.UserAgent())
	if !h.limiter.Allow(userID) {
		metrics.RateLimitRejections.Inc()
		metrics.QueriesTotal.WithLabelValues("rate_limited").Inc()
		writeError(w, ragerr.New(ragerr.CodeRateLimitExceeded, "rate limit exceeded, try again later"))
		return
	}

	start := time.Now()
	queryID := uuid.NewString()

	resp, audit, err := h.run(r.Context(), queryID, userID, ip, start, &req)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		h.log.Error("Query failed",
			zap.String("query_id", queryID),
			zap.String("code", string(ragerr.CodeOf(err))),
			zap.Error(err),
		)
		writeError(w, err)
		return
	}

	h.audit.QueueAudit(audit)

	metrics.QueriesTotal.WithLabelValues("ok").Inc()
	metrics.QueryDuration.Observe(time.Since(start).Seconds())
	h.log.Info("Query answered",
		zap.String("query_id", queryID),
		zap.Int64("latency_ms", resp.LatencyMs),
		zap.Float64("confidence", resp.ConfidenceScore),
		zap.Bool("refusal", audit.Response.RefusalTriggered),
	)
	writeJSON(w, http.StatusOK, resp)
}

// run executes the pipeline after admission and returns the response plus
// the audit rows to persist.
func (h *QueryHandler) run(ctx context.Context, queryID, userID, ip string, start time.Time, req *QueryRequest) (*QueryResponse, *db.AuditRecord, error) {
	mode := refusal.ModeBookWide
	if req.SelectedText != "" {
		mode = refusal.ModeSelectedText
	}

	embedCtx, cancelEmbed := context.WithTimeout(ctx, config.EmbedTimeout)
	vector, err := h.embedder.Embed(embedCtx, req.Query)
	cancelEmbed()
	if err != nil {
		return nil, nil, ragerr.Wrap(ragerr.CodeEmbeddingFailed, "embedding provider unavailable", err)
	}

	searchCtx, cancelSearch := context.WithTimeout(ctx, config.SearchTimeout)
	chunks, err := h.retriever.Retrieve(searchCtx, vector, retrieval.Filter{
		BookID:        req.BookContext.BookID,
		ChapterNumber: req.BookContext.ChapterNumber,
	})
	cancelSearch()
	if err != nil {
		return nil, nil, ragerr.Wrap(ragerr.CodeRetrievalFailed, "vector index unavailable", err)
	}

	scores := retrieval.Scores(chunks)
	confidence := retrieval.ConfidenceScore(chunks)

	var (
		responseText     string
		refs             []citations.Citation
		refusalTriggered bool
		refusalReason    *string
		genParams        db.JSONB
	)

	if len(chunks) > 0 && h.gate.ShouldRefuse(scores, h.threshold) {
		reason := string(refusal.ReasonLowSimilarity)
		responseText = h.gate.RefusalMessage(mode, refusal.ReasonLowSimilarity)
		refusalTriggered = true
		refusalReason = &reason
		refs = []citations.Citation{}
		genParams = fallbackParams()
		metrics.RefusalsTotal.WithLabelValues("pre", reason).Inc()
	} else {
		genCtx, cancelGen := context.WithTimeout(ctx, config.GenerateTimeout)
		result, err := h.generator.Generate(genCtx, bookTitle(req.BookContext.BookID), req.Query, chunks)
		cancelGen()
		if err != nil {
			if errors.Is(err, generation.ErrCircuitOpen) {
				return nil, nil, ragerr.Wrap(ragerr.CodeServiceUnavailable, "generation temporarily unavailable", err)
			}
			return nil, nil, ragerr.Wrap(ragerr.CodeGenerationFailed, "generation failed", err)
		}

		responseText = result.Text
		genParams = db.JSONB{
			"model":          result.Model,
			"temperature":    0.0,
			"max_tokens":     500,
			"prompt_version": generation.PromptVersion,
			"input_tokens":   result.InputTokens,
			"output_tokens":  result.OutputTokens,
		}

		switch {
		case mode == refusal.ModeSelectedText && len(h.gate.DetectExternalReferences(responseText)) > 0:
			reason := string(refusal.ReasonExternalReference)
			responseText = refusal.SelectedTextRefusal
			refusalTriggered = true
			refusalReason = &reason
			metrics.RefusalsTotal.WithLabelValues("post", reason).Inc()
		case h.gate.IsRefusal(responseText):
			reason := string(refusal.ReasonInsufficientContext)
			refusalTriggered = true
			refusalReason = &reason
			metrics.RefusalsTotal.WithLabelValues("post", reason).Inc()
		}

		if refusalTriggered {
			refs = []citations.Citation{}
		} else {
			refs = citations.Build(chunks)
		}
	}

	latency := time.Since(start).Milliseconds()
	now := time.Now().UTC()

	resp := &QueryResponse{
		QueryID:          queryID,
		ResponseText:     responseText,
		SourceReferences: refs,
		ConfidenceScore:  confidence,
		LatencyMs:        latency,
		Timestamp:        now,
	}

	audit := &db.AuditRecord{
		Query: db.QueryRecord{
			QueryID:   queryID,
			UserID:    userID,
			QueryText: req.Query,
			BookContext: db.JSONB{
				"book_id": req.BookContext.BookID,
			},
			IPAddressHash: hashIP(ip),
			CreatedAt:     now,
		},
		Context: db.RetrievedContextRecord{
			ContextID:        uuid.NewString(),
			QueryID:          queryID,
			ChunkIDs:         chunkIDs(chunks),
			SimilarityScores: scores,
			ChunkCount:       len(chunks),
			RetrievalParams:  retrievalParams(req, len(chunks), h.threshold),
			CreatedAt:        now,
		},
		Response: db.ResponseRecord{
			ResponseID:       uuid.NewString(),
			QueryID:          queryID,
			ResponseText:     responseText,
			SourceReferences: citationsJSON(refs),
			GenerationParams: genParams,
			LatencyMs:        latency,
			ConfidenceScore:  confidence,
			RefusalTriggered: refusalTriggered,
			RefusalReason:    refusalReason,
			CreatedAt:        now,
		},
	}
	if req.SelectedText != "" {
		audit.Query.SelectedText = &req.SelectedText
	}
	if req.BookContext.ChapterNumber > 0 {
		audit.Query.BookContext["chapter_number"] = req.BookContext.ChapterNumber
	}
	if req.BookContext.PageURL != "" {
		audit.Query.BookContext["page_url"] = req.BookContext.PageURL
	}

	return resp, audit, nil
}

// bookTitle derives the display title used in the generation prompt from a
// book identifier: "physical-ai-robotics" becomes "Physical Ai Robotics".
func bookTitle(bookID string) string {
	words := strings.Fields(strings.ReplaceAll(bookID, "-", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// retrievalParams captures how this request's context was fetched, stored
// alongside the chunk lists for replay and tuning.
func retrievalParams(req *QueryRequest, retrieved int, threshold float64) db.JSONB {
	filter := db.JSONB{"book_id": req.BookContext.BookID}
	if req.BookContext.ChapterNumber > 0 {
		filter["chapter_number"] = req.BookContext.ChapterNumber
	}
	return db.JSONB{
		"top_k":                retrieved,
		"similarity_threshold": threshold,
		"filter":               filter,
		"retrieval_strategy":   "vector_search",
	}
}

func fallbackParams() db.JSONB {
	return db.JSONB{
		"model":          generation.FallbackModel,
		"temperature":    0.0,
		"max_tokens":     0,
		"prompt_version": generation.PromptVersion,
		"input_tokens":   0,
		"output_tokens":  0,
	}
}

func hashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

func chunkIDs(chunks []vectordb.ScoredPoint) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}

// citationsJSON flattens citations for the jsonb audit column.
func citationsJSON(refs []citations.Citation) db.JSONB {
	items := make([]interface{}, 0, len(refs))
	for _, c := range refs {
		items = append(items, map[string]interface{}{
			"chapter":        c.Chapter,
			"section":        c.Section,
			"url":            c.URL,
			"chunk_count":    c.ChunkCount,
			"chunk_ids":      c.ChunkIDs,
			"max_similarity": c.MaxSimilarity,
		})
	}
	return db.JSONB{"citations": items}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	code := ragerr.CodeOf(err)
	env := errorEnvelope{
		Error:   http.StatusText(ragerr.HTTPStatus(code)),
		Message: "internal error",
		Code:    string(code),
	}
	var re *ragerr.Error
	if errors.As(err, &re) {
		env.Message = re.Message
		env.Details = re.Details
	}
	writeJSON(w, ragerr.HTTPStatus(code), env)
}
