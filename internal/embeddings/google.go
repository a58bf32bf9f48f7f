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
	googleBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	googleDefaultModel = "text-embedding-004"
	googleDimension    = 768
	googleMaxBatch     = 100
)

// GoogleEmbedder calls the Generative Language embedContent API.
type GoogleEmbedder struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewGoogleEmbedder(apiKey, model string, logger *zap.Logger) *GoogleEmbedder {
	if model == "" {
		model = googleDefaultModel
	}
	return &GoogleEmbedder{
		apiKey:  apiKey,
		model:   model,
		baseURL: googleBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     logger,
	}
}

func (g *GoogleEmbedder) Dimension() int { return googleDimension }
func (g *GoogleEmbedder) Model() string  { return g.model }

type googleEmbedContent struct {
	Model    string `json:"model"`
	TaskType string `json:"taskType"`
	Content  struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"content"`
}

type googleBatchRequest struct {
	Requests []googleEmbedContent `json:"requests"`
}

type googleEmbedding struct {
	Values []float32 `json:"values"`
}

type googleBatchResponse struct {
	Embeddings []googleEmbedding `json:"embeddings"`
}

func (g *GoogleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.embed(ctx, []string{text}, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (g *GoogleEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, batch := range batches(texts, googleMaxBatch) {
		vecs, err := g.embed(ctx, batch, "RETRIEVAL_DOCUMENT")
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (g *GoogleEmbedder) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	start := time.Now()
	var vecs [][]float32

	err := withRetry(ctx, func() error {
		reqs := make([]googleEmbedContent, len(texts))
		for i, text := range texts {
			reqs[i].Model = "models/" + g.model
			reqs[i].TaskType = taskType
			reqs[i].Content.Parts = []struct {
				Text string `json:"text"`
			}{{Text: text}}
		}
		body, _ := json.Marshal(googleBatchRequest{Requests: reqs})

		url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", g.baseURL, g.model, g.apiKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.http.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return classifyStatus(resp.StatusCode)
		}

		var out googleBatchResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("%w: decode: %v", ErrTransient, err)
		}
		if len(out.Embeddings) != len(texts) {
			return fmt.Errorf("google returned %d embeddings for %d texts", len(out.Embeddings), len(texts))
		}
		vecs = make([][]float32, len(out.Embeddings))
		for i, e := range out.Embeddings {
			vecs[i] = e.Values
		}
		return nil
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordEmbedding(g.model, status, time.Since(start).Seconds())
	if err != nil {
		g.log.Warn("Google embed failed", zap.Int("texts", len(texts)), zap.Error(err))
		return nil, err
	}
	return vecs, nil
}
