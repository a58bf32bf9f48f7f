package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/openlearn-ai/bookbrain/internal/metrics"
)

const (
	cohereBaseURL      = "https://api.cohere.com/v1"
	cohereDefaultModel = "embed-english-v3.0"
	cohereDimension    = 1024
	cohereMaxBatch     = 96
)

// CohereEmbedder calls the Cohere embed API. Query and document embeddings
// use the matching input_type hints so they land in the same vector space.
type CohereEmbedder struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewCohereEmbedder(apiKey, model string, logger *zap.Logger) *CohereEmbedder {
	if model == "" {
		model = cohereDefaultModel
	}
	return &CohereEmbedder{
		apiKey:  apiKey,
		model:   model,
		baseURL: cohereBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     logger,
	}
}

func (c *CohereEmbedder) Dimension() int { return cohereDimension }
func (c *CohereEmbedder) Model() string  { return c.model }

type cohereEmbedRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type cohereEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *CohereEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, []string{text}, "search_query")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *CohereEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, batch := range batches(texts, cohereMaxBatch) {
		vecs, err := c.embed(ctx, batch, "search_document")
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *CohereEmbedder) embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	start := time.Now()
	var vecs [][]float32

	err := withRetry(ctx, func() error {
		body, _ := json.Marshal(cohereEmbedRequest{Model: c.model, Texts: texts, InputType: inputType})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return classifyStatus(resp.StatusCode)
		}

		var out cohereEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("%w: decode: %v", ErrTransient, err)
		}
		if len(out.Embeddings) != len(texts) {
			return fmt.Errorf("cohere returned %d embeddings for %d texts", len(out.Embeddings), len(texts))
		}
		vecs = out.Embeddings
		return nil
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordEmbedding(c.model, status, time.Since(start).Seconds())
	if err != nil {
		c.log.Warn("Cohere embed failed", zap.Int("texts", len(texts)), zap.Error(err))
		return nil, err
	}
	return vecs, nil
}
