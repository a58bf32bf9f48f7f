package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestManagerAllHealthy(t *testing.T) {
	m := NewManager("1.0.0", zaptest.NewLogger(t))
	m.Register(NewPingChecker("database", fakePinger{}, true, time.Second))
	m.Register(NewPingChecker("vector_db", fakePinger{}, true, time.Second))
	m.Register(NewLLMChecker(func() bool { return false }))

	report := m.Check(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, "1.0.0", report.Version)
	require.Len(t, report.Services, 3)
	assert.Equal(t, StatusHealthy, report.Services["llm"].Status)
}

func TestManagerOneCriticalFailureDegrades(t *testing.T) {
	m := NewManager("1.0.0", zaptest.NewLogger(t))
	m.Register(NewPingChecker("database", fakePinger{err: errors.New("connection refused")}, true, time.Second))
	m.Register(NewPingChecker("vector_db", fakePinger{}, true, time.Second))

	report := m.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusUnhealthy, report.Services["database"].Status)
	assert.Contains(t, report.Services["database"].Error, "connection refused")
}

func TestManagerAllCriticalDownIsUnhealthy(t *testing.T) {
	m := NewManager("1.0.0", zaptest.NewLogger(t))
	m.Register(NewPingChecker("database", fakePinger{err: errors.New("connection refused")}, true, time.Second))
	m.Register(NewPingChecker("vector_db", fakePinger{err: errors.New("dial timeout")}, true, time.Second))
	m.Register(NewLLMChecker(func() bool { return false }))

	report := m.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
}

func TestManagerNonCriticalFailureDegrades(t *testing.T) {
	m := NewManager("1.0.0", zaptest.NewLogger(t))
	m.Register(NewPingChecker("database", fakePinger{}, true, time.Second))
	m.Register(NewLLMChecker(func() bool { return true }))

	report := m.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusUnhealthy, report.Services["llm"].Status)
}
