package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openlearn-ai/bookbrain/internal/circuitbreaker"
	"github.com/openlearn-ai/bookbrain/internal/vectordb"
)

func TestMain(m *testing.M) {
	backoffBase = time.Millisecond
	m.Run()
}

type fakeProvider struct {
	results []func() (*Result, error)
	calls   int
}

func (f *fakeProvider) Generate(context.Context, string, string) (*Result, error) {
	fn := f.results[f.calls%len(f.results)]
	f.calls++
	return fn()
}

func (f *fakeProvider) Model() string { return "fake-model" }

func ok(text string) func() (*Result, error) {
	return func() (*Result, error) {
		return &Result{Text: text, Model: "fake-model", InputTokens: 10, OutputTokens: 20}, nil
	}
}

func fail(err error) func() (*Result, error) {
	return func() (*Result, error) { return nil, err }
}

func chunkWith(content string) vectordb.ScoredPoint {
	return vectordb.ScoredPoint{ID: "c1", Score: 0.8, Payload: map[string]interface{}{
		"chapter_title": "Module 0 - Foundations",
		"section":       "Kinematics",
		"content":       content,
	}}
}

func newService(t *testing.T, p Provider) *Service {
	t.Helper()
	breaker := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.DefaultConfig(), zaptest.NewLogger(t))
	return NewService(p, breaker, 100, zaptest.NewLogger(t))
}

func TestGenerateEmptyContextShortCircuit(t *testing.T) {
	p := &fakeProvider{results: []func() (*Result, error){ok("should not be called")}}
	s := newService(t, p)

	got, err := s.Generate(context.Background(), "Physical AI", "what is ZMP?", nil)
	require.NoError(t, err)
	assert.Equal(t, InsufficientContextMessage, got.Text)
	assert.Equal(t, FallbackModel, got.Model)
	assert.Zero(t, got.InputTokens)
	assert.Zero(t, got.OutputTokens)
	assert.Zero(t, p.calls, "LLM must not be called without context")
}

func TestGenerateRetriesTransientThenSucceeds(t *testing.T) {
	p := &fakeProvider{results: []func() (*Result, error){
		fail(ErrTransient),
		ok("grounded answer"),
	}}
	s := newService(t, p)

	got, err := s.Generate(context.Background(), "Physical AI", "q", []vectordb.ScoredPoint{chunkWith("ctx")})
	require.NoError(t, err)
	assert.Equal(t, "grounded answer", got.Text)
	assert.Equal(t, 2, p.calls)
}

func TestGenerateAuthFailsWithoutRetry(t *testing.T) {
	p := &fakeProvider{results: []func() (*Result, error){fail(ErrAuth)}}
	s := newService(t, p)

	_, err := s.Generate(context.Background(), "Physical AI", "q", []vectordb.ScoredPoint{chunkWith("ctx")})
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, 1, p.calls)
}

func TestGenerateCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	p := &fakeProvider{results: []func() (*Result, error){fail(ErrAuth)}}
	s := newService(t, p)
	chunks := []vectordb.ScoredPoint{chunkWith("ctx")}

	// Each auth failure counts once against the breaker (no inner retries).
	for i := 0; i < 5; i++ {
		_, err := s.Generate(context.Background(), "b", "q", chunks)
		require.Error(t, err)
	}
	callsBefore := p.calls

	_, err := s.Generate(context.Background(), "b", "q", chunks)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, callsBefore, p.calls, "open breaker must not reach the provider")
}

func TestSystemPromptFormat(t *testing.T) {
	chunks := []vectordb.ScoredPoint{
		chunkWith("Forward kinematics maps joint angles to pose."),
		{ID: "c2", Score: 0.7, Payload: map[string]interface{}{
			"chapter_title": "Module 1 - Control",
			"section":       "PID",
			"content":       "PID controllers combine three terms.",
		}},
	}

	prompt := SystemPrompt("Physical AI and Robotics", chunks)
	assert.Contains(t, prompt, `the book "Physical AI and Robotics"`)
	assert.Contains(t, prompt, "[Source 1 - Chapter Module 0 - Foundations, Section Kinematics]")
	assert.Contains(t, prompt, "[Source 2 - Chapter Module 1 - Control, Section PID]")
	assert.Contains(t, prompt, "Forward kinematics maps joint angles to pose.")
	assert.Contains(t, prompt, "ONLY from the context provided below")
}

func TestFormatChunksDefaults(t *testing.T) {
	out := FormatChunks([]vectordb.ScoredPoint{{ID: "x", Payload: map[string]interface{}{"content": "text"}}})
	assert.Contains(t, out, "[Source 1 - Chapter Unknown Chapter, Section Unknown Section]")
}

func TestGenerateContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &fakeProvider{results: []func() (*Result, error){fail(errors.New("should not matter"))}}
	s := newService(t, p)

	_, err := s.Generate(ctx, "b", "q", []vectordb.ScoredPoint{chunkWith("ctx")})
	require.Error(t, err)
}
