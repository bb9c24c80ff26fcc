package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pario-ai/agronomist/pkg/models"
)

// Cache is an in-process advisory cache. It is safe for concurrent use and
// is lost on restart.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
	hits    atomic.Int64
	misses  atomic.Int64
}

type entry struct {
	advisory  models.Advisory
	expiresAt time.Time // zero means no expiry
}

// New creates an empty Cache. A TTL of zero or less keeps entries until cleared.
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Get retrieves an advisory. Expired entries are removed lazily.
func (c *Cache) Get(_ context.Context, key string) (models.Advisory, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return models.Advisory{}, false
	}

	if e.expired(c.now()) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expired(c.now()) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return models.Advisory{}, false
	}

	c.hits.Add(1)
	return e.advisory, true
}

// Set stores an advisory, replacing any previous entry for key.
func (c *Cache) Set(_ context.Context, key string, adv models.Advisory) error {
	e := entry{advisory: adv}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() (models.CacheStats, error) {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return models.CacheStats{
		Entries: int64(n),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries are removed.
func (c *Cache) Clear(expiredOnly bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !expiredOnly {
		clear(c.entries)
		return nil
	}
	now := c.now()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
	return nil
}

// Close is a no-op; it lets Cache stand in wherever a closable store is expected.
func (c *Cache) Close() error { return nil }
