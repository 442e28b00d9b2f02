// cache.go is a small TTL cache for account read endpoints. Expired entries
// are kept around as last-known-good values so a broker outage degrades
// reads to stale data instead of hard failures. Orders are never cached.
package broker

import (
	"sync"
	"time"
)

const (
	balanceTTL   = 30 * time.Second
	positionsTTL = 30 * time.Second
	orderableTTL = 10 * time.Second
)

type cacheEntry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

type ttlCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func newTTLCache() *ttlCache {
	return &ttlCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// fresh returns the value only while its TTL holds.
func (c *ttlCache) fresh(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.storedAt) > e.ttl {
		return nil, false
	}
	return e.value, true
}

// stale returns the latest stored value regardless of TTL, with its age.
func (c *ttlCache) stale(key string) (any, time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, 0, false
	}
	return e.value, c.now().Sub(e.storedAt), true
}

func (c *ttlCache) put(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, storedAt: c.now(), ttl: ttl}
}

// sweep drops entries older than maxAge so last-known-good values do not
// outlive their usefulness.
func (c *ttlCache) sweep(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	cutoff := c.now().Add(-maxAge)
	for key, e := range c.entries {
		if e.storedAt.Before(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *ttlCache) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
