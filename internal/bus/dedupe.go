package bus

import (
	"sync"
	"time"
)

// DedupeCache is a TTL + capacity bounded seen-set. It suppresses duplicate
// inbound deliveries (webhook retries, client double-taps) and duplicate
// media-candidate observations before they reach the scheduler core.
type DedupeCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	max     int
}

// NewDedupeCache creates a cache holding at most max keys for ttl each.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	return &DedupeCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		max:     max,
	}
}

// Seen records key and reports whether it was already present (and fresh).
func (c *DedupeCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if at, ok := c.entries[key]; ok && now.Sub(at) < c.ttl {
		return true
	}

	if len(c.entries) >= c.max {
		c.prune(now)
	}
	c.entries[key] = now
	return false
}

// prune drops expired entries; if still at capacity, evicts arbitrarily
// until under the cap. Caller holds the lock.
func (c *DedupeCache) prune(now time.Time) {
	for k, at := range c.entries {
		if now.Sub(at) >= c.ttl {
			delete(c.entries, k)
		}
	}
	for len(c.entries) >= c.max {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
}

// Len returns the number of tracked keys (expired entries included until pruned).
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
