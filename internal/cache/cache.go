package cache

import (
	"sync"
	"time"
)

// keys derive from caller-supplied filters, so the map must not grow
// without bound
const maxEntries = 1024

type Cache struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[string]entry
}
type entry struct {
	val any
	exp time.Time
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	return &Cache{
		ttl: ttl,
		m:   make(map[string]entry),
	}
}

func (c *Cache) Get(key string) (any, bool) {
	now := time.Now()
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if now.After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return nil, false
	}

	return e.val, true
}

func (c *Cache) Set(key string, val any) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.m) >= maxEntries {
		c.evictLocked(now)
	}

	c.m[key] = entry{val: val, exp: now.Add(c.ttl)}
}

// evictLocked drops expired entries first and, if everything is still
// live, an arbitrary one. Caller holds the write lock.
func (c *Cache) evictLocked(now time.Time) {
	for k, e := range c.m {
		if now.After(e.exp) {
			delete(c.m, k)
		}
	}

	if len(c.m) < maxEntries {
		return
	}

	for k := range c.m {
		delete(c.m, k)
		return
	}
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.m = make(map[string]entry)
	c.mu.Unlock()
}
