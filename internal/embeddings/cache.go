package embeddings

import (
	"container/list"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openlearn-ai/bookbrain/internal/metrics"
)

// MakeKey derives the cache key for a (model, text) pair.
func MakeKey(model, text string) string {
	sum := md5.Sum([]byte(model + "|" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

// LocalLRU is a fixed-capacity in-process vector cache.
type LocalLRU struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	items map[string]*list.Element
}

type lruEntry struct {
	key string
	vec []float32
}

func NewLocalLRU(capacity int) *LocalLRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LocalLRU{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element, capacity),
	}
}

func (c *LocalLRU) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).vec, true
}

func (c *LocalLRU) Put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		el.Value.(*lruEntry).vec = vec
		return
	}
	c.items[key] = c.order.PushFront(&lruEntry{key: key, vec: vec})
	if c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
}

// Len reports the number of cached vectors.
func (c *LocalLRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// RedisCache is the shared second tier, surviving process restarts and
// shared across replicas.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl, log: logger}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.log.Debug("Redis cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (r *RedisCache) Put(ctx context.Context, key string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		r.log.Debug("Redis cache write failed", zap.Error(err))
	}
}

// CachedEmbedder layers a local LRU and an optional Redis tier in front of
// a provider. Cache failures degrade to a provider call, never an error.
type CachedEmbedder struct {
	inner Embedder
	local *LocalLRU
	redis *RedisCache
}

// NewCachedEmbedder wraps inner with caching. redisCache may be nil.
func NewCachedEmbedder(inner Embedder, local *LocalLRU, redisCache *RedisCache) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, local: local, redis: redisCache}
}

func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }
func (c *CachedEmbedder) Model() string  { return c.inner.Model() }

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := MakeKey(c.inner.Model(), text)

	if vec, ok := c.local.Get(key); ok {
		metrics.EmbeddingCacheHits.WithLabelValues("lru").Inc()
		return vec, nil
	}
	if c.redis != nil {
		if vec, ok := c.redis.Get(ctx, key); ok {
			metrics.EmbeddingCacheHits.WithLabelValues("redis").Inc()
			c.local.Put(key, vec)
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.local.Put(key, vec)
	if c.redis != nil {
		c.redis.Put(ctx, key, vec)
	}
	return vec, nil
}

// EmbedBatch bypasses the cache: batch embedding is an indexing-time path
// where inputs rarely repeat.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts)
}
