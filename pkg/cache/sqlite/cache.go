package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/agronomist/pkg/models"
)

// Cache is an advisory cache backed by SQLite. Entries are keyed by the
// advisor's cache key and stored as JSON.
type Cache struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

const createAdvisoryTable = `
CREATE TABLE IF NOT EXISTS advisories (
	cache_key TEXT PRIMARY KEY,
	advisory BLOB NOT NULL,
	created_ms INTEGER NOT NULL,
	ttl_ms INTEGER NOT NULL
);
`

// New creates a Cache with the given database path and TTL.
// A TTL of zero or less keeps entries until they are cleared.
func New(dbPath string, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createAdvisoryTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Cache{db: db, ttl: ttl, now: time.Now}, nil
}

// Get retrieves a cached advisory. Lookup errors and expired rows count as misses.
func (c *Cache) Get(ctx context.Context, key string) (models.Advisory, bool) {
	var raw []byte
	var createdMs, ttlMs int64

	err := c.db.QueryRowContext(ctx,
		`SELECT advisory, created_ms, ttl_ms FROM advisories WHERE cache_key = ?`,
		key,
	).Scan(&raw, &createdMs, &ttlMs)
	if err != nil {
		c.misses.Add(1)
		return models.Advisory{}, false
	}

	if ttlMs > 0 && c.now().UnixMilli()-createdMs > ttlMs {
		c.misses.Add(1)
		return models.Advisory{}, false
	}

	var adv models.Advisory
	if err := json.Unmarshal(raw, &adv); err != nil {
		c.misses.Add(1)
		return models.Advisory{}, false
	}

	c.hits.Add(1)
	return adv, true
}

// Set stores an advisory, replacing any previous entry for key.
func (c *Cache) Set(ctx context.Context, key string, adv models.Advisory) error {
	raw, err := json.Marshal(adv)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	var ttlMs int64
	if c.ttl > 0 {
		ttlMs = max(c.ttl.Milliseconds(), 1)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO advisories (cache_key, advisory, created_ms, ttl_ms)
		 VALUES (?, ?, ?, ?)`,
		key, raw, c.now().UnixMilli(), ttlMs,
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() (models.CacheStats, error) {
	var count int64
	err := c.db.QueryRow(`SELECT COUNT(*) FROM advisories`).Scan(&count)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries are removed.
func (c *Cache) Clear(expiredOnly bool) error {
	var err error
	if expiredOnly {
		_, err = c.db.Exec(`DELETE FROM advisories WHERE ttl_ms > 0 AND ? - created_ms > ttl_ms`,
			c.now().UnixMilli())
	} else {
		_, err = c.db.Exec(`DELETE FROM advisories`)
	}
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
