// Package generation produces grounded answers from retrieved context via an
// external LLM, guarded by retries and a circuit breaker.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for provider failure classification.
var (
	ErrRateLimited = errors.New("generation provider rate limited")
	ErrAuth        = errors.New("generation provider authentication failed")
	ErrTransient   = errors.New("generation provider transient failure")
)

// Result carries the generated text plus accounting for the audit record.
type Result struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is a single LLM backend.
type Provider interface {
	Generate(ctx context.Context, systemPrompt, userMessage string) (*Result, error)
	Model() string
}

// Params are the fixed decoding settings for grounded answering.
type Params struct {
	Temperature float64
	MaxTokens   int
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	case status >= 500:
		return ErrTransient
	default:
		return fmt.Errorf("generation provider status %d", status)
	}
}
