package dispatch

import (
	"sync"
	"time"
)

// DedupeCache remembers delivery ids for ttl so retried webhooks and
// redelivered bus messages are evaluated once.
type DedupeCache struct {
	mu      sync.Mutex
	items   map[string]time.Time
	maxSize int
}

func NewDedupeCache(maxSize int) *DedupeCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &DedupeCache{items: make(map[string]time.Time), maxSize: maxSize}
}

// Seen reports whether key was recorded within ttl and records it otherwise.
func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok {
		if now.Sub(ts) <= ttl {
			return true
		}
	}
	d.items[key] = now
	if len(d.items) > d.maxSize {
		d.compact(now, ttl)
	}
	return false
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}
