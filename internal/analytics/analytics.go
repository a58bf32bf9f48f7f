// Package analytics computes usage summaries over the audit tables: query
// volume, latency percentiles, feedback rates, confidence, and question
// topics, with a bounded in-memory result cache.
package analytics

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openlearn-ai/bookbrain/internal/metrics"
)

// MinutesSavedPerQuery is the estimate used for the teacher-time-saved
// figure: each answered question replaces about 2.5 minutes of a teacher's
// time.
const MinutesSavedPerQuery = 2.5

// Summary is the analytics response for one date range.
type Summary struct {
	TotalQueries      int64        `json:"total_queries"`
	UniqueUsers       int64        `json:"unique_users"`
	RefusalCount      int64        `json:"refusal_count"`
	LatencyP50Ms      float64      `json:"latency_p50_ms"`
	LatencyP95Ms      float64      `json:"latency_p95_ms"`
	LatencyP99Ms      float64      `json:"latency_p99_ms"`
	HelpfulRate       float64      `json:"helpful_rate"`
	FeedbackCount     int64        `json:"feedback_count"`
	AvgConfidence     float64      `json:"avg_confidence"`
	TopTopics         []TopicCount `json:"top_topics"`
	MinutesSaved      float64      `json:"estimated_minutes_saved"`
	StartDate         time.Time    `json:"start_date"`
	EndDate           time.Time    `json:"end_date"`
	BookID            string       `json:"book_id,omitempty"`
	GeneratedAt       time.Time    `json:"generated_at"`
}

// TopicCount is one entry of the top-topics list.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int64  `json:"count"`
}

// Service runs the five summary sub-aggregations concurrently.
type Service struct {
	db    *sqlx.DB
	cache *summaryCache
	log   *zap.Logger
}

func NewService(db *sqlx.DB, logger *zap.Logger) *Service {
	return &Service{db: db, cache: newSummaryCache(), log: logger}
}

// cacheKey is MD5 of "start|end|book_or_all".
func cacheKey(start, end time.Time, bookID string) string {
	book := bookID
	if book == "" {
		book = "all"
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%s|%s",
		start.Format(time.RFC3339), end.Format(time.RFC3339), book)))
	return hex.EncodeToString(sum[:])
}

// Summarize computes (or returns the cached) summary for the range. An
// optional bookID narrows every sub-aggregation to one book.
func (s *Service) Summarize(ctx context.Context, start, end time.Time, bookID string) (*Summary, error) {
	key := cacheKey(start, end, bookID)
	if cached, ok := s.cache.get(key); ok {
		metrics.AnalyticsCacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.AnalyticsCacheLookups.WithLabelValues("miss").Inc()

	sum := &Summary{StartDate: start, EndDate: end, BookID: bookID, GeneratedAt: time.Now().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.queryCounts(gctx, start, end, bookID, sum) })
	g.Go(func() error { return s.latencyPercentiles(gctx, start, end, bookID, sum) })
	g.Go(func() error { return s.feedbackRates(gctx, start, end, bookID, sum) })
	g.Go(func() error { return s.avgConfidence(gctx, start, end, bookID, sum) })
	g.Go(func() error { return s.topTopics(gctx, start, end, bookID, sum) })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("analytics summary: %w", err)
	}

	sum.MinutesSaved = float64(sum.TotalQueries) * MinutesSavedPerQuery
	s.cache.put(key, sum)
	return sum, nil
}

// bookFilter appends the optional book predicate for queries joined against
// the queries table. book_context is jsonb.
func bookFilter(bookID string, args []interface{}) (string, []interface{}) {
	if bookID == "" {
		return "", args
	}
	args = append(args, bookID)
	return fmt.Sprintf(" AND q.book_context->>'book_id' = $%d", len(args)), args
}

func (s *Service) queryCounts(ctx context.Context, start, end time.Time, bookID string, sum *Summary) error {
	query := `
		SELECT COUNT(*), COUNT(DISTINCT q.user_id)
		FROM queries q
		WHERE q.created_at >= $1 AND q.created_at < $2`
	args := []interface{}{start, end}
	var clause string
	clause, args = bookFilter(bookID, args)

	if err := s.db.QueryRowContext(ctx, query+clause, args...).
		Scan(&sum.TotalQueries, &sum.UniqueUsers); err != nil {
		return fmt.Errorf("query counts: %w", err)
	}

	refusals := `
		SELECT COUNT(*)
		FROM query_responses r
		JOIN queries q ON q.query_id = r.query_id
		WHERE r.refusal_triggered AND q.created_at >= $1 AND q.created_at < $2`
	args = []interface{}{start, end}
	clause, args = bookFilter(bookID, args)
	if err := s.db.QueryRowContext(ctx, refusals+clause, args...).Scan(&sum.RefusalCount); err != nil {
		return fmt.Errorf("refusal count: %w", err)
	}
	return nil
}

func (s *Service) latencyPercentiles(ctx context.Context, start, end time.Time, bookID string, sum *Summary) error {
	query := `
		SELECT r.latency_ms
		FROM query_responses r
		JOIN queries q ON q.query_id = r.query_id
		WHERE q.created_at >= $1 AND q.created_at < $2`
	args := []interface{}{start, end}
	var clause string
	clause, args = bookFilter(bookID, args)

	var latencies []float64
	if err := s.db.SelectContext(ctx, &latencies, query+clause, args...); err != nil {
		return fmt.Errorf("latencies: %w", err)
	}
	sum.LatencyP50Ms = percentile(latencies, 0.50)
	sum.LatencyP95Ms = percentile(latencies, 0.95)
	sum.LatencyP99Ms = percentile(latencies, 0.99)
	return nil
}

func (s *Service) feedbackRates(ctx context.Context, start, end time.Time, bookID string, sum *Summary) error {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE f.rating = 'helpful')
		FROM user_feedbacks f
		JOIN query_responses r ON r.response_id = f.response_id
		JOIN queries q ON q.query_id = r.query_id
		WHERE f.created_at >= $1 AND f.created_at < $2`
	args := []interface{}{start, end}
	var clause string
	clause, args = bookFilter(bookID, args)

	var total, helpful int64
	if err := s.db.QueryRowContext(ctx, query+clause, args...).Scan(&total, &helpful); err != nil {
		return fmt.Errorf("feedback rates: %w", err)
	}
	sum.FeedbackCount = total
	if total > 0 {
		sum.HelpfulRate = float64(helpful) / float64(total)
	}
	return nil
}

func (s *Service) avgConfidence(ctx context.Context, start, end time.Time, bookID string, sum *Summary) error {
	query := `
		SELECT COALESCE(AVG(r.confidence_score), 0)
		FROM query_responses r
		JOIN queries q ON q.query_id = r.query_id
		WHERE NOT r.refusal_triggered AND q.created_at >= $1 AND q.created_at < $2`
	args := []interface{}{start, end}
	var clause string
	clause, args = bookFilter(bookID, args)

	if err := s.db.QueryRowContext(ctx, query+clause, args...).Scan(&sum.AvgConfidence); err != nil {
		return fmt.Errorf("avg confidence: %w", err)
	}
	return nil
}

func (s *Service) topTopics(ctx context.Context, start, end time.Time, bookID string, sum *Summary) error {
	query := `
		SELECT q.query_text
		FROM queries q
		WHERE q.created_at >= $1 AND q.created_at < $2`
	args := []interface{}{start, end}
	var clause string
	clause, args = bookFilter(bookID, args)

	var texts []string
	if err := s.db.SelectContext(ctx, &texts, query+clause, args...); err != nil {
		return fmt.Errorf("topic texts: %w", err)
	}
	sum.TopTopics = ExtractTopics(texts, 10)
	return nil
}

// percentile returns the q-th percentile using the index int(n*q) into the
// sorted sample, matching the established reporting behavior. Zero for an
// empty sample.
func percentile(sample []float64, q float64) float64 {
	if len(sample) == 0 {
		return 0
	}
	sorted := append([]float64(nil), sample...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

var (
	capitalizedPhraseRe = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`)
	wordRe              = regexp.MustCompile(`[a-zA-Z]{5,}`)
)

var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "because": {}, "before": {},
	"between": {}, "chapter": {}, "could": {}, "describe": {}, "difference": {},
	"different": {}, "explain": {}, "means": {}, "other": {}, "please": {},
	"question": {}, "should": {}, "there": {}, "these": {}, "thing": {},
	"think": {}, "those": {}, "under": {}, "understand": {}, "where": {},
	"which": {}, "while": {}, "would": {}, "their": {},
}

// ExtractTopics mines question topics: capitalized multi-word phrases count
// as-is, plus standalone words of at least five letters minus stopwords.
// Returns the top n by frequency, ties broken alphabetically.
func ExtractTopics(texts []string, n int) []TopicCount {
	counts := make(map[string]int64)
	for _, text := range texts {
		for _, phrase := range capitalizedPhraseRe.FindAllString(text, -1) {
			counts[phrase]++
		}
		for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
			if _, skip := stopwords[w]; skip {
				continue
			}
			counts[w]++
		}
	}

	out := make([]TopicCount, 0, len(counts))
	for topic, count := range counts {
		out = append(out, TopicCount{Topic: topic, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Topic < out[j].Topic
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
