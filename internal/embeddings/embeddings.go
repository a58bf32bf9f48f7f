// Package embeddings provides text embedding behind a provider-neutral
// interface, with retries, caching, and per-provider batch limits.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors used to classify provider failures for retry decisions.
var (
	// ErrRateLimited marks a provider 429; retried with backoff.
	ErrRateLimited = errors.New("embedding provider rate limited")
	// ErrAuth marks a 401/403; never retried.
	ErrAuth = errors.New("embedding provider authentication failed")
	// ErrTransient marks 5xx and network failures; retried with backoff.
	ErrTransient = errors.New("embedding provider transient failure")
)

// Embedder turns text into fixed-dimension vectors. Embed uses the
// provider's query hint; EmbedBatch uses the document hint for indexing.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// classifyStatus maps an HTTP status to one of the sentinel errors.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	case status >= 500:
		return ErrTransient
	default:
		return fmt.Errorf("embedding provider status %d", status)
	}
}

const maxAttempts = 3

// backoffBase is scaled down in tests.
var backoffBase = time.Second

// withRetry runs fn up to three times, backing off 1s/2s on rate-limit and
// transient failures. Auth and unclassified errors fail immediately.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * backoffBase
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrTransient) {
			return err
		}
	}
	return err
}

// batches splits texts into provider-sized slices.
func batches(texts []string, size int) [][]string {
	if size <= 0 {
		size = len(texts)
	}
	var out [][]string
	for len(texts) > size {
		out = append(out, texts[:size])
		texts = texts[size:]
	}
	if len(texts) > 0 {
		out = append(out, texts)
	}
	return out
}
