// Package retrieval turns an embedded question into a ranked set of book
// chunks, applying book and chapter scoping on top of the vector index.
package retrieval

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/openlearn-ai/bookbrain/internal/vectordb"
)

// Searcher is the slice of the vector client the retriever needs.
type Searcher interface {
	Search(ctx context.Context, vec []float32, limit int, threshold float64, filter map[string]interface{}) ([]vectordb.ScoredPoint, error)
}

// Filter scopes retrieval to a book and optionally a single chapter.
type Filter struct {
	BookID        string
	ChapterNumber int // 0 means no chapter scoping
}

// Retriever queries the vector index with the configured top-k and
// similarity threshold.
type Retriever struct {
	searcher  Searcher
	topK      int
	threshold float64
	log       *zap.Logger
}

func NewRetriever(searcher Searcher, topK int, threshold float64, logger *zap.Logger) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{searcher: searcher, topK: topK, threshold: threshold, log: logger}
}

// Retrieve returns the top-k chunks above the similarity threshold for the
// given query vector, most similar first. Chapter scoping is enforced
// app-side as well: the index is asked for extra candidates and the result
// is filtered down, so a sparse chapter still fills up to top-k where it can.
func (r *Retriever) Retrieve(ctx context.Context, vec []float32, f Filter) ([]vectordb.ScoredPoint, error) {
	var qdrantFilter map[string]interface{}
	var must []map[string]interface{}
	if f.BookID != "" {
		must = append(must, map[string]interface{}{
			"key":   "book_id",
			"match": map[string]interface{}{"value": f.BookID},
		})
	}
	if f.ChapterNumber > 0 {
		must = append(must, map[string]interface{}{
			"key":   "chapter_number",
			"match": map[string]interface{}{"value": f.ChapterNumber},
		})
	}
	if len(must) > 0 {
		qdrantFilter = map[string]interface{}{"must": must}
	}

	limit := r.topK
	if f.ChapterNumber > 0 {
		// chapter_number may be absent from older payloads; over-fetch so the
		// post-filter can still return a full set.
		limit = r.topK * 3
	}

	points, err := r.searcher.Search(ctx, vec, limit, r.threshold, qdrantFilter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	if f.ChapterNumber > 0 {
		filtered := points[:0]
		for _, p := range points {
			if p.PayloadInt("chapter_number", 0) == f.ChapterNumber {
				filtered = append(filtered, p)
			}
		}
		points = filtered
		if len(points) > r.topK {
			points = points[:r.topK]
		}
	}

	r.log.Debug("Retrieved chunks",
		zap.Int("count", len(points)),
		zap.String("book_id", f.BookID),
		zap.Int("chapter", f.ChapterNumber),
	)
	return points, nil
}

// Scores extracts the similarity scores from a result set.
func Scores(points []vectordb.ScoredPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Score
	}
	return out
}

// ConfidenceScore is the mean similarity of the retrieved set, rounded to
// two decimals. Zero when nothing was retrieved.
func ConfidenceScore(points []vectordb.ScoredPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Score
	}
	return math.Round(sum/float64(len(points))*100) / 100
}

// SourceReference identifies one chunk used to build an answer.
type SourceReference struct {
	ChunkID string  `json:"chunk_id"`
	Chapter string  `json:"chapter"`
	Section string  `json:"section"`
	Score   float64 `json:"score"`
}

// ExtractSourceReferences builds the flat list of chunk references stored
// alongside the answer for audit.
func ExtractSourceReferences(points []vectordb.ScoredPoint) []SourceReference {
	refs := make([]SourceReference, 0, len(points))
	for _, p := range points {
		refs = append(refs, SourceReference{
			ChunkID: p.ID,
			Chapter: p.PayloadString("chapter_title", "Unknown"),
			Section: p.PayloadString("section", ""),
			Score:   p.Score,
		})
	}
	return refs
}
