package channels

import (
	"sync"
	"time"
)

const (
	// maxTrackedScenes caps tracked keys so an attacker rotating scenes
	// cannot exhaust memory.
	maxTrackedScenes = 4096

	// inboundWindow is the sliding window for flood counting.
	inboundWindow = 60 * time.Second

	dedupeWindow     = 10 * time.Minute
	dedupeMaxEntries = 4096
)

type floodEntry struct {
	windowStart time.Time
	count       int
}

// InboundRateLimiter bounds accepted inbound messages per scene per minute.
// Safe for concurrent use.
type InboundRateLimiter struct {
	mu      sync.Mutex
	maxHits int
	entries map[string]*floodEntry
}

// NewInboundRateLimiter creates a limiter allowing maxPerMinute messages per
// scene. Zero or negative disables limiting.
func NewInboundRateLimiter(maxPerMinute int) *InboundRateLimiter {
	return &InboundRateLimiter{
		maxHits: maxPerMinute,
		entries: make(map[string]*floodEntry),
	}
}

// Allow reports whether the scene is within its inbound budget. Prunes stale
// entries and enforces the tracked-key cap.
func (r *InboundRateLimiter) Allow(sceneKey string) bool {
	if r.maxHits <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if len(r.entries) >= maxTrackedScenes {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= inboundWindow {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedScenes {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[sceneKey]
	if !ok || now.Sub(e.windowStart) >= inboundWindow {
		r.entries[sceneKey] = &floodEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= r.maxHits
}
