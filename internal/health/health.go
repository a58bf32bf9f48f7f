// Package health aggregates dependency probes for the health endpoint.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status of one dependency or of the service overall.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
	// IsCritical dependencies degrade the service when down and make it
	// unhealthy when all of them are down at once; non-critical ones can
	// only degrade it.
	IsCritical() bool
	Timeout() time.Duration
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency int64  `json:"latency_ms"`
}

// Report is the full health response body.
type Report struct {
	Status    Status                 `json:"status"`
	Services  map[string]CheckResult `json:"services"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
}

// Manager runs registered checkers concurrently.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	version  string
	log      *zap.Logger
}

func NewManager(version string, logger *zap.Logger) *Manager {
	return &Manager{version: version, log: logger}
}

// Register adds a checker. Not safe to call after serving starts.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// Check probes all dependencies in parallel and aggregates.
func (m *Manager) Check(ctx context.Context) *Report {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	report := &Report{
		Status:    StatusHealthy,
		Services:  make(map[string]CheckResult, len(checkers)),
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	}

	type outcome struct {
		name     string
		critical bool
		result   CheckResult
	}
	results := make(chan outcome, len(checkers))

	var wg sync.WaitGroup
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, c.Timeout())
			defer cancel()

			start := time.Now()
			err := c.Check(cctx)
			res := CheckResult{Status: StatusHealthy, Latency: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status = StatusUnhealthy
				res.Error = err.Error()
				m.log.Warn("Health check failed", zap.String("service", c.Name()), zap.Error(err))
			}
			results <- outcome{name: c.Name(), critical: c.IsCritical(), result: res}
		}(c)
	}
	wg.Wait()
	close(results)

	var criticalTotal, criticalDown int
	for o := range results {
		report.Services[o.name] = o.result
		if o.critical {
			criticalTotal++
		}
		if o.result.Status != StatusHealthy {
			report.Status = StatusDegraded
			if o.critical {
				criticalDown++
			}
		}
	}
	// The service can still limp along on one backing store; with every
	// critical dependency gone there is nothing left to serve.
	if criticalTotal > 0 && criticalDown == criticalTotal {
		report.Status = StatusUnhealthy
	}
	return report
}
