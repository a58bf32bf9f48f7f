// Package vectordb is a minimal Qdrant HTTP client scoped to one collection
// of book chunks: cosine similarity, keyword payload index on book_id.
package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openlearn-ai/bookbrain/internal/metrics"
	"github.com/openlearn-ai/bookbrain/internal/tracing"
)

// Client is a minimal Qdrant HTTP client
type Client struct {
	cfg  Config
	http *http.Client
	base string
	log  *zap.Logger
}

// NewClient creates a client for the configured Qdrant deployment.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Collection == "" {
		cfg.Collection = "book_chunks_v1"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		base: strings.TrimRight(cfg.URL, "/"),
		log:  logger,
	}
}

// Collection returns the configured collection name.
func (c *Client) Collection() string { return c.cfg.Collection }

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}
	tracing.InjectTraceparent(req.Context(), req)
	return c.http.Do(req)
}

// qdrant search request/response (simplified)
type qdrantQueryRequest struct {
	Query          []float32              `json:"query"`
	Limit          int                    `json:"limit"`
	ScoreThreshold *float64               `json:"score_threshold,omitempty"`
	WithPayload    bool                   `json:"with_payload"`
	Filter         map[string]interface{} `json:"filter,omitempty"`
}

type qdrantPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
	Status string        `json:"status"`
}

// qdrantQueryResponse for the /points/query endpoint which has nested structure
type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// Search runs an ANN query against the collection. Results are limited to
// limit entries, all with score ≥ threshold, ordered by descending score.
func (c *Client) Search(ctx context.Context, vec []float32, limit int, threshold float64, filter map[string]interface{}) ([]ScoredPoint, error) {
	start := time.Now()

	ctx, span := tracing.StartHTTPSpan(ctx, "POST", fmt.Sprintf("%s/collections/%s/points/query", c.base, c.cfg.Collection))
	defer span.End()

	var thr *float64
	if threshold > 0 {
		thr = &threshold
	}
	reqBody := qdrantQueryRequest{Query: vec, Limit: limit, ScoreThreshold: thr, WithPayload: true, Filter: filter}
	buf, _ := json.Marshal(reqBody)

	call := func(url string, body []byte) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		return c.do(req)
	}

	// Prefer modern /points/query; fall back to /points/search for older servers
	urlQuery := fmt.Sprintf("%s/collections/%s/points/query", c.base, c.cfg.Collection)
	resp, err := call(urlQuery, buf)
	if err != nil {
		metrics.RecordVectorSearch(c.cfg.Collection, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		urlSearch := fmt.Sprintf("%s/collections/%s/points/search", c.base, c.cfg.Collection)
		legacy := map[string]interface{}{"vector": vec, "limit": limit, "with_payload": true}
		if threshold > 0 {
			legacy["score_threshold"] = threshold
		}
		if filter != nil {
			legacy["filter"] = filter
		}
		buf2, _ := json.Marshal(legacy)
		resp2, err2 := call(urlSearch, buf2)
		if err2 != nil {
			metrics.RecordVectorSearch(c.cfg.Collection, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("qdrant query/search failed: %w", err2)
		}
		defer resp2.Body.Close()
		if resp2.StatusCode != http.StatusOK {
			metrics.RecordVectorSearch(c.cfg.Collection, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("qdrant status %d", resp2.StatusCode)
		}
		var sr qdrantSearchResponse
		if err := json.NewDecoder(resp2.Body).Decode(&sr); err != nil {
			metrics.RecordVectorSearch(c.cfg.Collection, "error", time.Since(start).Seconds())
			return nil, err
		}
		metrics.RecordVectorSearch(c.cfg.Collection, "ok", time.Since(start).Seconds())
		return toScoredPoints(sr.Result), nil
	}

	var qr qdrantQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		metrics.RecordVectorSearch(c.cfg.Collection, "error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordVectorSearch(c.cfg.Collection, "ok", time.Since(start).Seconds())
	return toScoredPoints(qr.Result.Points), nil
}

func toScoredPoints(points []qdrantPoint) []ScoredPoint {
	out := make([]ScoredPoint, 0, len(points))
	for _, p := range points {
		sp := ScoredPoint{Score: p.Score, Payload: p.Payload}
		if p.ID != nil {
			sp.ID = fmt.Sprintf("%v", p.ID)
		}
		if sp.Payload == nil {
			sp.Payload = make(map[string]interface{})
		}
		out = append(out, sp)
	}
	return out
}

// Upsert inserts or updates points in the collection. Vector dimensions are
// checked against the configured dimension before anything is sent.
func (c *Client) Upsert(ctx context.Context, points []Point) error {
	for _, p := range points {
		if c.cfg.Dimension > 0 && len(p.Vector) != c.cfg.Dimension {
			return DimensionMismatchError{
				Collection:        c.cfg.Collection,
				ExpectedDimension: c.cfg.Dimension,
				ReceivedDimension: len(p.Vector),
			}
		}
	}

	url := fmt.Sprintf("%s/collections/%s/points", c.base, c.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "PUT", url)
	defer span.End()

	body := map[string]interface{}{"points": points}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant upsert status %d", resp.StatusCode)
	}
	return nil
}

// EnsureCollection creates the collection (cosine distance, configured
// dimension) if it does not exist and ensures the book_id keyword payload
// index is present.
func (c *Client) EnsureCollection(ctx context.Context) error {
	info, err := c.CollectionInfo(ctx)
	if err == nil {
		if c.cfg.Dimension > 0 && info.VectorSize != c.cfg.Dimension {
			return DimensionMismatchError{
				Collection:        c.cfg.Collection,
				ExpectedDimension: c.cfg.Dimension,
				ReceivedDimension: info.VectorSize,
			}
		}
		// Index creation is idempotent on the Qdrant side.
		return c.createPayloadIndex(ctx, "book_id", "keyword")
	}

	url := fmt.Sprintf("%s/collections/%s", c.base, c.cfg.Collection)
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     c.cfg.Dimension,
			"distance": "Cosine",
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("create collection status %d", resp.StatusCode)
	}

	c.log.Info("Created vector collection",
		zap.String("collection", c.cfg.Collection),
		zap.Int("dimension", c.cfg.Dimension),
	)

	return c.createPayloadIndex(ctx, "book_id", "keyword")
}

func (c *Client) createPayloadIndex(ctx context.Context, field, schema string) error {
	url := fmt.Sprintf("%s/collections/%s/index", c.base, c.cfg.Collection)
	body := map[string]interface{}{"field_name": field, "field_schema": schema}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("create payload index: %w", err)
	}
	defer resp.Body.Close()
	// 4xx here usually means the index already exists; treat as fine.
	if resp.StatusCode >= 500 {
		return fmt.Errorf("create payload index status %d", resp.StatusCode)
	}
	return nil
}

// CollectionInfo retrieves collection information from Qdrant
func (c *Client) CollectionInfo(ctx context.Context) (*CollectionInfo, error) {
	url := fmt.Sprintf("%s/collections/%s", c.base, c.cfg.Collection)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get collection info: status %d", resp.StatusCode)
	}

	var result struct {
		Result struct {
			Status      string `json:"status"`
			PointsCount int64  `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &CollectionInfo{
		Name:        c.cfg.Collection,
		VectorSize:  result.Result.Config.Params.Vectors.Size,
		PointsCount: result.Result.PointsCount,
	}, nil
}

// Ping checks connectivity for health reporting.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.CollectionInfo(ctx)
	return err
}
