// Package cache holds the TTL-keyed object cache and the blob URL
// rewriter used to serve repeated reads without re-transforming ledger
// objects.
package cache

import (
	"sync"
	"time"

	"todochain/internal/todo"
)

// DefaultTTL bounds how stale a cached entry may be served.
const DefaultTTL = 5 * time.Minute

// Entry is one cached transform result plus its derived assets.
type Entry struct {
	Todo         todo.Todo
	CapturedAt   time.Time
	ThumbnailURL string
	PreviewURL   string
	FullURL      string
	Metadata     map[string]any
}

// Cache maps object identifier to Entry with time-based invalidation.
// The clock is injected so TTL behavior is testable without sleeping.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]Entry
}

// New returns a cache with the given TTL. A nil clock uses wall time;
// a non-positive TTL falls back to DefaultTTL.
func New(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if now == nil {
		now = time.Now
	}

	return &Cache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]Entry),
	}
}

// Get returns the entry for id, or false if absent or expired. An expired
// entry is evicted on the way out so the next Put starts fresh.
func (c *Cache) Get(id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return Entry{}, false
	}

	if c.now().Sub(entry.CapturedAt) > c.ttl {
		delete(c.entries, id)

		return Entry{}, false
	}

	return entry, true
}

// Put stores an entry for id, stamping CapturedAt if the caller left it
// zero.
func (c *Cache) Put(id string, entry Entry) {
	if entry.CapturedAt.IsZero() {
		entry.CapturedAt = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[id] = entry
}

// Invalidate removes one entry, typically after a successful write
// affecting that identifier.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
}

// InvalidateAll clears the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]Entry)
}

// Len reports how many entries are held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
