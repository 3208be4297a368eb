package cooldown

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"replyguard/internal/model"
)

// Clock supplies the current instant.
type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC()
}

// Cache is the fast tier of the gate. Entries are hints; the store is authoritative.
type Cache interface {
	Get(userID string) (model.CacheEntry, bool)
	Put(userID string, entry model.CacheEntry)
	// Sweep removes entries whose LastUpdated is more than maxAge before now
	// and reports how many were removed.
	Sweep(now time.Time, maxAge time.Duration) int
	Len() int
}

// MemoryCache replaces whole entries per key, so readers never observe a
// partially written entry and a sweep racing a put leaves one of the two.
type MemoryCache struct {
	entries *xsync.MapOf[string, model.CacheEntry]
}

var _ Cache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: xsync.NewMapOf[string, model.CacheEntry]()}
}

func (c *MemoryCache) Get(userID string) (model.CacheEntry, bool) {
	return c.entries.Load(userID)
}

func (c *MemoryCache) Put(userID string, entry model.CacheEntry) {
	c.entries.Store(userID, entry)
}

func (c *MemoryCache) Sweep(now time.Time, maxAge time.Duration) int {
	removed := 0
	c.entries.Range(func(userID string, entry model.CacheEntry) bool {
		if now.Sub(entry.LastUpdated) <= maxAge {
			return true
		}
		// re-check under the bucket lock; a fresh put since Range read the entry survives
		c.entries.Compute(userID, func(cur model.CacheEntry, loaded bool) (model.CacheEntry, bool) {
			if !loaded {
				return cur, true
			}
			if now.Sub(cur.LastUpdated) > maxAge {
				removed++
				return cur, true
			}
			return cur, false
		})
		return true
	})
	return removed
}

func (c *MemoryCache) Len() int {
	return c.entries.Size()
}
