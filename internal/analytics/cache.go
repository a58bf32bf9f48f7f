package analytics

import (
	"sort"
	"sync"
	"time"
)

const (
	cacheTTL        = 5 * time.Minute
	cacheMaxEntries = 1000
	cacheEvictBatch = 100
)

type cacheEntry struct {
	summary  *Summary
	storedAt time.Time
}

// summaryCache is a bounded TTL cache for computed summaries. On overflow
// the 100 oldest entries are evicted.
type summaryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func newSummaryCache() *summaryCache {
	return &summaryCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *summaryCache) get(key string) (*Summary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) > cacheTTL {
		delete(c.entries, key)
		return nil, false
	}
	return e.summary, true
}

func (c *summaryCache) put(key string, s *Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{summary: s, storedAt: c.now()}
	if len(c.entries) > cacheMaxEntries {
		c.evictOldest(cacheEvictBatch)
	}
}

// evictOldest removes the n entries with the earliest storedAt. Called with
// the lock held.
func (c *summaryCache) evictOldest(n int) {
	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, at: e.storedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	if n > len(all) {
		n = len(all)
	}
	for _, a := range all[:n] {
		delete(c.entries, a.key)
	}
}
