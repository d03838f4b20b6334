package cache

import (
	"sync"
	"time"

	"github.com/garyjia/trip-approval/internal/application/port"
)

type item struct {
	value     interface{}
	expiresAt time.Time
}

// TTLCache is an in-process map whose entries expire after a fixed duration.
// Expired entries are dropped lazily on read.
type TTLCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]item
}

// Option configures a TTLCache
type Option func(*TTLCache)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(c *TTLCache) {
		c.now = now
	}
}

// NewTTLCache creates a cache with the given entry lifetime
func NewTTLCache(ttl time.Duration, opts ...Option) *TTLCache {
	c := &TTLCache{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]item),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value stored under key if it has not expired
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.now().Before(it.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && cur.expiresAt.Equal(it.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return it.value, true
}

// Set stores value under key for the cache lifetime
func (c *TTLCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Delete removes the keys; missing keys are ignored
func (c *TTLCache) Delete(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
}

// Len returns the number of stored entries, expired ones included
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Verify interface compliance
var _ port.Cache = (*TTLCache)(nil)
