package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowRejectsOverLimit(t *testing.T) {
	l := newLimiter(60, time.Now)
	defer l.Close()

	for i := 0; i < 60; i++ {
		assert.True(t, l.Allow("user-1"), "request %d should be admitted", i+1)
	}
	assert.False(t, l.Allow("user-1"), "61st request within the window must be rejected")

	// Other users are unaffected.
	assert.True(t, l.Allow("user-2"))
}

func TestAllowSlidingWindowExpiry(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	l := newLimiter(2, func() time.Time { return current })
	defer l.Close()

	assert.True(t, l.Allow("u"))
	assert.True(t, l.Allow("u"))
	assert.False(t, l.Allow("u"))

	// Advance past the window; the old entries fall out.
	current = current.Add(window + time.Second)
	assert.True(t, l.Allow("u"))
}

func TestRemaining(t *testing.T) {
	l := newLimiter(5, time.Now)
	defer l.Close()

	assert.Equal(t, 5, l.Remaining("u"))
	l.Allow("u")
	l.Allow("u")
	assert.Equal(t, 3, l.Remaining("u"))
}

func TestEvictIdleRemovesExpiredUsers(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	l := newLimiter(10, func() time.Time { return current })
	defer l.Close()

	l.Allow("stale")
	l.Allow("fresh")
	current = current.Add(window + time.Minute)
	l.Allow("fresh")

	l.evictIdle()

	l.mu.Lock()
	defer l.mu.Unlock()
	_, staleExists := l.entries["stale"]
	_, freshExists := l.entries["fresh"]
	assert.False(t, staleExists)
	assert.True(t, freshExists)
}

func TestAllowConcurrent(t *testing.T) {
	l := newLimiter(100, time.Now)
	defer l.Close()

	var wg sync.WaitGroup
	admitted := make(chan bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			admitted <- l.Allow(fmt.Sprintf("user-%d", i%2))
		}(i)
	}
	wg.Wait()
	close(admitted)

	count := 0
	for ok := range admitted {
		if ok {
			count++
		}
	}
	// Two users, 100 requests each, limit 100: all admitted.
	assert.Equal(t, 200, count)
}
