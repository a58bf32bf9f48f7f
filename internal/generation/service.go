package generation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openlearn-ai/bookbrain/internal/circuitbreaker"
	"github.com/openlearn-ai/bookbrain/internal/metrics"
	"github.com/openlearn-ai/bookbrain/internal/vectordb"
)

// FallbackModel is recorded when the answer was produced without an LLM call.
const FallbackModel = "fallback"

// InsufficientContextMessage is returned when nothing was retrieved to
// ground an answer on.
const InsufficientContextMessage = "I don't have enough information in the retrieved sections to answer " +
	"this question accurately. Could you try rephrasing or asking about " +
	"a topic covered in the book?"

// ErrCircuitOpen is returned while the breaker is rejecting generation calls.
var ErrCircuitOpen = circuitbreaker.ErrCircuitBreakerOpen

const genMaxAttempts = 3

var backoffBase = time.Second

// Service orchestrates LLM calls: empty-context short-circuit, outbound
// pacing, retries, and the circuit breaker, in that order.
type Service struct {
	provider Provider
	breaker  *circuitbreaker.CircuitBreaker
	pacer    *rate.Limiter
	log      *zap.Logger
}

// NewService wires a provider behind the shared breaker. The pacer smooths
// bursts toward the provider independently of per-user admission control.
func NewService(provider Provider, breaker *circuitbreaker.CircuitBreaker, rps float64, logger *zap.Logger) *Service {
	if rps <= 0 {
		rps = 10
	}
	return &Service{
		provider: provider,
		breaker:  breaker,
		pacer:    rate.NewLimiter(rate.Limit(rps), int(rps)),
		log:      logger,
	}
}

// Generate produces a grounded answer for the question given its retrieved
// context. With no context it returns the canonical insufficient-context
// message without touching the LLM.
func (s *Service) Generate(ctx context.Context, bookTitle, question string, chunks []vectordb.ScoredPoint) (*Result, error) {
	if len(chunks) == 0 {
		return &Result{Text: InsufficientContextMessage, Model: FallbackModel}, nil
	}

	if err := s.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	systemPrompt := SystemPrompt(bookTitle, chunks)
	start := time.Now()
	var result *Result

	err := s.breaker.Execute(ctx, func() error {
		var attemptErr error
		for attempt := 0; attempt < genMaxAttempts; attempt++ {
			if attempt > 0 {
				backoff := time.Duration(1<<(attempt-1)) * backoffBase
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			result, attemptErr = s.provider.Generate(ctx, systemPrompt, question)
			if attemptErr == nil {
				return nil
			}
			if !errors.Is(attemptErr, ErrRateLimited) && !errors.Is(attemptErr, ErrTransient) {
				return attemptErr
			}
			s.log.Warn("Generation attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Error(attemptErr),
			)
		}
		return attemptErr
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordGeneration(s.provider.Model(), status, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	metrics.GenerationTokens.WithLabelValues(result.Model, "input").Add(float64(result.InputTokens))
	metrics.GenerationTokens.WithLabelValues(result.Model, "output").Add(float64(result.OutputTokens))
	return result, nil
}
