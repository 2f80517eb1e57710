package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Cache is a local, read-through SQLite cache of counters in front of the
// remote store. The scheduler's backpressure gate reads the number of
// open pull requests through it on every tick; the claimed count is
// always listed from the remote store. Counters are cached with a short
// TTL rather than treated as a second source of truth. The cache is never consulted
// for anything that gates a state transition.
type Cache struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
	ttl  time.Duration
}

// CachePath returns the default location of the local cache database
// under the orchestrator's state directory.
func CachePath(stateDir string) string {
	return filepath.Join(stateDir, "cache.db")
}

// OpenCache opens (creating if needed) the local SQLite cache at path.
func OpenCache(path string, ttl time.Duration) (*Cache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if ttl <= 0 {
		ttl = 60 * time.Second
	}

	c := &Cache{conn: conn, path: path, ttl: ttl}
	if err := c.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) migrate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.conn.Exec(`
		CREATE TABLE IF NOT EXISTS counters (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL,
			refreshed_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create counters table: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// Get returns the cached value for key along with whether it is still
// fresh (within the configured TTL). A stale or missing entry returns
// fresh=false; the caller is expected to recompute and call Set.
func (c *Cache) Get(key string) (value int, fresh bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var v int
	var refreshedAt string
	row := c.conn.QueryRow("SELECT value, refreshed_at FROM counters WHERE key = ?", key)
	if err := row.Scan(&v, &refreshedAt); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read counter %s: %w", key, err)
	}

	t, err := time.Parse(time.RFC3339, refreshedAt)
	if err != nil {
		return v, false, nil
	}
	return v, time.Since(t) < c.ttl, nil
}

// Set stores value for key, stamped with the current time.
func (c *Cache) Set(key string, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := c.conn.Exec(`
		INSERT INTO counters (key, value, refreshed_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, refreshed_at = excluded.refreshed_at
	`, key, value, now)
	if err != nil {
		return fmt.Errorf("write counter %s: %w", key, err)
	}
	return nil
}

// ClaimedCountKey builds the cache key for the number of tasks currently
// claimed by the given orchestrator ID.
func ClaimedCountKey(orchestratorID string) string {
	return "claimed_count:" + orchestratorID
}

// OpenPRCountKey is the cache key for the number of open pull requests
// across tasks in provisional.
const OpenPRCountKey = "open_pr_count"
