package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// MetricsHooks are optional callbacks fired on cache activity.
type MetricsHooks struct {
	OnHit   func(key string)
	OnMiss  func(key string)
	OnStale func(key string)
	OnStore func(key string)
	OnError func(key string)
}

type entry struct {
	value      interface{}
	computedAt time.Time
	ttl        time.Duration
}

func (e *entry) fresh(now time.Time) bool {
	return now.Sub(e.computedAt) < e.ttl
}

// Cache is a concurrency-safe, short-TTL memoization layer. Concurrent
// computes for the same key collapse into one via singleflight; whichever
// compute finishes first owns the slot until the entry expires again.
type Cache struct {
	mu      sync.RWMutex
	items   map[string]*entry
	metrics MetricsHooks
	sf      singleflight.Group
}

// FetchFunc computes a fresh value for a key.
type FetchFunc func(ctx context.Context) (interface{}, error)

func New(hooks MetricsHooks) *Cache {
	return &Cache{
		items:   make(map[string]*entry),
		metrics: hooks,
	}
}

// GetOrCompute returns the cached value for key if it is younger than ttl,
// otherwise runs fetch and stores the result. When fetch fails and an expired
// value is still present, the expired value is returned instead of the error
// so non-critical display data degrades gracefully; the stale serve is
// reported through the OnStale hook. Failures are never cached.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (interface{}, error) {
	now := time.Now()

	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if ok && e.fresh(now) {
		if c.metrics.OnHit != nil {
			c.metrics.OnHit(key)
		}
		return e.value, nil
	}

	if c.metrics.OnMiss != nil {
		c.metrics.OnMiss(key)
	}

	type fetchResult struct {
		val interface{}
		err error
	}

	result, _, _ := c.sf.Do(key, func() (interface{}, error) {
		val, err := fetch(ctx)
		if err == nil {
			c.store(key, val, ttl)
		}
		return fetchResult{val: val, err: err}, nil
	})

	res := result.(fetchResult)
	if res.err != nil {
		if c.metrics.OnError != nil {
			c.metrics.OnError(key)
		}
		// Fall back to the expired entry if one survived the failed refresh.
		c.mu.RLock()
		stale, exists := c.items[key]
		c.mu.RUnlock()
		if exists {
			if c.metrics.OnStale != nil {
				c.metrics.OnStale(key)
			}
			return stale.value, nil
		}
		return nil, res.err
	}
	return res.val, nil
}

func (c *Cache) store(key string, val interface{}, ttl time.Duration) {
	c.mu.Lock()
	c.items[key] = &entry{value: val, computedAt: time.Now(), ttl: ttl}
	c.mu.Unlock()
	if c.metrics.OnStore != nil {
		c.metrics.OnStore(key)
	}
}

// Peek returns a cached value without triggering a compute. Expired entries
// are not returned.
func (c *Cache) Peek(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || !e.fresh(time.Now()) {
		return nil, false
	}
	return e.value, true
}

// Delete removes a single key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Clear removes all entries. Exposed to the administrative side-channel.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]*entry)
	c.mu.Unlock()
}

// Len reports the number of entries, fresh or expired.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
