package health

import (
	"context"
	"time"
)

// Pinger matches the db and vectordb clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker adapts any Pinger into a Checker.
type PingChecker struct {
	name     string
	pinger   Pinger
	critical bool
	timeout  time.Duration
}

func NewPingChecker(name string, pinger Pinger, critical bool, timeout time.Duration) *PingChecker {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &PingChecker{name: name, pinger: pinger, critical: critical, timeout: timeout}
}

func (c *PingChecker) Name() string                    { return c.name }
func (c *PingChecker) Check(ctx context.Context) error { return c.pinger.Ping(ctx) }
func (c *PingChecker) IsCritical() bool                { return c.critical }
func (c *PingChecker) Timeout() time.Duration          { return c.timeout }

// LLMChecker reports the generation path as down while its circuit breaker
// is open. There is no cheap probe call for LLM providers, so breaker state
// is the signal.
type LLMChecker struct {
	breakerOpen func() bool
}

func NewLLMChecker(breakerOpen func() bool) *LLMChecker {
	return &LLMChecker{breakerOpen: breakerOpen}
}

func (c *LLMChecker) Name() string { return "llm" }

func (c *LLMChecker) Check(context.Context) error {
	if c.breakerOpen() {
		return errCircuitOpen
	}
	return nil
}

func (c *LLMChecker) IsCritical() bool       { return false }
func (c *LLMChecker) Timeout() time.Duration { return time.Second }

type healthErr string

func (e healthErr) Error() string { return string(e) }

const errCircuitOpen = healthErr("generation circuit breaker is open")
