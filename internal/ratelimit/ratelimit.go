// Package ratelimit implements a per-user sliding-window limiter for query
// admission. State is in-memory; a janitor evicts idle users so memory stays
// bounded under steady load.
package ratelimit

import (
	"sync"
	"time"
)

const (
	window          = time.Hour
	janitorInterval = 10 * time.Minute
)

// Limiter admits up to limit requests per user per hour.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	entries map[string][]time.Time
	now     func() time.Time
	stop    chan struct{}
	stopped sync.Once
}

// NewLimiter creates a limiter admitting limit requests per user per hour
// and starts the background janitor.
func NewLimiter(limit int) *Limiter {
	l := newLimiter(limit, time.Now)
	go l.janitor()
	return l
}

func newLimiter(limit int, now func() time.Time) *Limiter {
	if limit <= 0 {
		limit = 60
	}
	return &Limiter{
		limit:   limit,
		entries: make(map[string][]time.Time),
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Allow reports whether the user may issue another request, recording the
// request timestamp when admitted.
func (l *Limiter) Allow(userID string) bool {
	now := l.now()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	times := l.entries[userID]
	live := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}

	if len(live) >= l.limit {
		l.entries[userID] = live
		return false
	}
	l.entries[userID] = append(live, now)
	return true
}

// Remaining returns how many requests the user has left in the current
// window, without consuming one.
func (l *Limiter) Remaining(userID string) int {
	cutoff := l.now().Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, t := range l.entries[userID] {
		if t.After(cutoff) {
			count++
		}
	}
	if count >= l.limit {
		return 0
	}
	return l.limit - count
}

func (l *Limiter) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) evictIdle() {
	cutoff := l.now().Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, times := range l.entries {
		live := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				live = append(live, t)
			}
		}
		if len(live) == 0 {
			delete(l.entries, id)
		} else {
			l.entries[id] = live
		}
	}
}

// Close stops the janitor goroutine.
func (l *Limiter) Close() {
	l.stopped.Do(func() { close(l.stop) })
}
