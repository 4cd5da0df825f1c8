// Package cache stores compilation artifacts keyed by the content hash of
// the program and the settings that produced them.
//
// Lookups go through a bounded in-memory LRU first and then a SQLite table,
// so repeated builds of an unchanged program skip optimization and code
// generation entirely. A Cache is safe for concurrent use.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chazu/moonshine/compiler/hash"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("moonshine.cache")

// Kind names what an entry holds.
type Kind string

const (
	KindIR    Kind = "ir"    // optimized program, ir.Marshal encoding
	KindAsm   Kind = "asm"   // fasm source
	KindImage Kind = "image" // linked ELF executable
)

type entryKey struct {
	sum  hash.Sum
	kind Kind
}

// Stats counts lookups since Open.
type Stats struct {
	MemoryHits int
	DiskHits   int
	Misses     int
	Puts       int
}

// Cache is a two-level artifact store.
type Cache struct {
	mu    sync.Mutex
	db    *sql.DB // nil for memory-only caches
	mem   *simplelru.LRU[entryKey, []byte]
	stats Stats
}

// Open opens (creating if needed) the cache database at path and fronts it
// with an LRU of memEntries entries. An empty path gives a memory-only
// cache; memEntries of 0 disables the memory tier.
func Open(path string, memEntries int) (*Cache, error) {
	c := &Cache{}
	if memEntries > 0 {
		mem, err := simplelru.NewLRU[entryKey, []byte](memEntries, nil)
		if err != nil {
			return nil, err
		}
		c.mem = mem
	}
	if path == "" {
		return c, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS artifacts (
		key     TEXT NOT NULL,
		kind    TEXT NOT NULL,
		data    BLOB NOT NULL,
		created INTEGER NOT NULL,
		PRIMARY KEY (key, kind)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	c.db = db
	log.Debugf("opened cache %s", path)
	return c, nil
}

// Get returns the entry for key and kind. The returned slice must not be
// modified.
func (c *Cache) Get(key hash.Sum, kind Kind) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := entryKey{key, kind}
	if c.mem != nil {
		if data, ok := c.mem.Get(k); ok {
			c.stats.MemoryHits++
			return data, true, nil
		}
	}
	if c.db == nil {
		c.stats.Misses++
		return nil, false, nil
	}

	var data []byte
	err := c.db.QueryRow("SELECT data FROM artifacts WHERE key = ? AND kind = ?",
		key.String(), string(kind)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		c.stats.Misses++
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying artifact: %w", err)
	}
	c.stats.DiskHits++
	if c.mem != nil {
		c.mem.Add(k, data)
	}
	return data, true, nil
}

// Put stores data under key and kind, replacing any previous entry.
func (c *Cache) Put(key hash.Sum, kind Kind, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data = append([]byte(nil), data...)
	if c.db != nil {
		_, err := c.db.Exec(
			"INSERT OR REPLACE INTO artifacts (key, kind, data, created) VALUES (?, ?, ?, ?)",
			key.String(), string(kind), data, time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("saving artifact: %w", err)
		}
	}
	if c.mem != nil {
		c.mem.Add(entryKey{key, kind}, data)
	}
	c.stats.Puts++
	log.Debugf("cached %s %s (%d bytes)", kind, key.Short(), len(data))
	return nil
}

// Stats returns lookup counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close closes the database connection
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mem != nil {
		c.mem.Purge()
	}
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}
