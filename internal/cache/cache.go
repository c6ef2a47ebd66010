// Package cache is the two-tier response cache keyed by a composite
// content signature. Primary tier is sqlite on disk, secondary is a
// bounded in-memory LRU. The cache is strictly best-effort: a dead store
// degrades service to transform-always, it never fails a request.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"golang.org/x/sync/singleflight"

	"agentic/internal/config"
	"agentic/internal/logging"
	"agentic/internal/types"
)

// Signature computes the cache key for one request. Every component that
// can change output bytes participates, including the per-request knobs
// encoded in optionsKey; bumping the engine or ruleset version
// invalidates by construction.
func Signature(code []byte, codeType types.CodeType, pctx types.ProjectContext,
	engineVersion, rulesetVersion, optionsKey, envFlagsHash string) string {
	h := sha256.New()
	h.Write(code)
	for _, part := range []string{
		pctx.BrandPackID,
		pctx.BrandVersion,
		engineVersion,
		rulesetVersion,
		pctx.OverridesHash(),
		string(codeType),
		optionsKey,
		envFlagsHash,
	} {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is one cached transform result.
type Entry struct {
	Signature string
	Output    []byte
	ChangeLog types.ChangeLog
	CodeType  types.CodeType
	CreatedAt time.Time
	LastHitAt time.Time
	HitCount  int64
}

// Stats is the counter snapshot exposed to the CLI.
type Stats struct {
	Hits             int64 `json:"hits"`
	Misses           int64 `json:"misses"`
	Evictions        int64 `json:"evictions"`
	StoreErrors      int64 `json:"storeErrors"`
	MemoryEntries    int   `json:"memoryEntries"`
	PrimaryEntries   int64 `json:"primaryEntries"`
	PrimaryAvailable bool  `json:"primaryAvailable"`
}

// Cache is safe for concurrent use. Concurrent misses on the same
// signature are coalesced into one computation.
type Cache struct {
	cfg config.CacheConfig
	db  *sql.DB
	mem *memoryStore
	sf  singleflight.Group

	primaryDown atomic.Bool
	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	storeErrors atomic.Int64
}

const schema = `
CREATE TABLE IF NOT EXISTS response_cache (
	signature   TEXT PRIMARY KEY,
	output      BLOB NOT NULL,
	change_log  TEXT NOT NULL,
	code_type   TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	last_hit_at INTEGER NOT NULL,
	hit_count   INTEGER NOT NULL DEFAULT 0,
	size_bytes  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_response_cache_last_hit ON response_cache(last_hit_at);
`

// Open creates the cache under the workspace root. It never returns an
// error: a primary store that cannot be opened leaves the cache running
// on the memory tier alone.
func Open(workspace string, cfg config.CacheConfig) *Cache {
	c := &Cache{cfg: cfg, mem: newMemoryStore(cfg.MemoryEntries)}

	if cfg.DisablePrimary {
		c.primaryDown.Store(true)
		return c
	}

	path := cfg.DatabasePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logging.Cache("cache dir unavailable, primary store disabled: %v", err)
		c.primaryDown.Store(true)
		return c
	}

	db, err := openDB(path)
	if err != nil {
		logging.Cache("primary store unavailable, memory tier only: %v", err)
		c.primaryDown.Store(true)
		return c
	}
	c.db = db
	return c
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set synchronous: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

// Close releases the primary store.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Degraded reports whether no tier is available at all.
func (c *Cache) Degraded() bool {
	return c.primaryDown.Load() && c.mem == nil
}

// Get looks the signature up in memory first, then sqlite. Expired
// entries count as misses and are dropped.
func (c *Cache) Get(ctx context.Context, sig string) (*Entry, bool) {
	if c.mem != nil {
		if e, ok := c.mem.get(sig); ok {
			if c.expired(e) {
				c.mem.delete(sig)
			} else {
				c.hits.Add(1)
				return e, true
			}
		}
	}

	if c.db == nil || c.primaryDown.Load() {
		c.misses.Add(1)
		return nil, false
	}

	var (
		e         = Entry{Signature: sig}
		changeLog string
		created   int64
		lastHit   int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT output, change_log, code_type, created_at, last_hit_at, hit_count
		 FROM response_cache WHERE signature = ?`, sig).
		Scan(&e.Output, &changeLog, &e.CodeType, &created, &lastHit, &e.HitCount)
	if err == sql.ErrNoRows {
		c.misses.Add(1)
		return nil, false
	}
	if err != nil {
		c.noteStoreError("get", err)
		c.misses.Add(1)
		return nil, false
	}
	e.CreatedAt = time.Unix(created, 0)
	e.LastHitAt = time.Unix(lastHit, 0)

	if c.expired(&e) {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM response_cache WHERE signature = ?`, sig); err != nil {
			c.noteStoreError("expire", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	if err := json.Unmarshal([]byte(changeLog), &e.ChangeLog); err != nil {
		c.noteStoreError("decode", err)
		c.misses.Add(1)
		return nil, false
	}

	now := time.Now()
	e.LastHitAt = now
	e.HitCount++
	if _, err := c.db.ExecContext(ctx,
		`UPDATE response_cache SET last_hit_at = ?, hit_count = hit_count + 1 WHERE signature = ?`,
		now.Unix(), sig); err != nil {
		c.noteStoreError("touch", err)
	}
	if c.mem != nil {
		c.evictions.Add(int64(c.mem.put(sig, &e)))
	}
	c.hits.Add(1)
	return &e, true
}

// Put stores an entry best-effort in both tiers. A store failure is
// logged and counted, never surfaced.
func (c *Cache) Put(ctx context.Context, e *Entry) {
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.LastHitAt = now

	if c.mem != nil {
		c.evictions.Add(int64(c.mem.put(e.Signature, e)))
	}
	if c.db == nil || c.primaryDown.Load() {
		return
	}

	changeLog, err := json.Marshal(e.ChangeLog)
	if err != nil {
		c.noteStoreError("encode", err)
		return
	}
	if _, err := c.db.ExecContext(ctx,
		`INSERT INTO response_cache (signature, output, change_log, code_type, created_at, last_hit_at, hit_count, size_bytes)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		 ON CONFLICT(signature) DO UPDATE SET
		   output = excluded.output, change_log = excluded.change_log,
		   last_hit_at = excluded.last_hit_at, size_bytes = excluded.size_bytes`,
		e.Signature, e.Output, string(changeLog), string(e.CodeType),
		e.CreatedAt.Unix(), e.LastHitAt.Unix(), len(e.Output)); err != nil {
		c.noteStoreError("put", err)
	}
}

// Do returns the cached entry for the signature or computes it once,
// coalescing concurrent misses. The bool reports a cache hit.
func (c *Cache) Do(ctx context.Context, sig string, compute func(context.Context) (*Entry, error)) (*Entry, bool, error) {
	if e, ok := c.Get(ctx, sig); ok {
		return e, true, nil
	}

	type outcome struct {
		entry *Entry
		hit   bool
	}
	v, err, shared := c.sf.Do(sig, func() (interface{}, error) {
		// A racing caller may have populated the entry already.
		if e, ok := c.Get(ctx, sig); ok {
			return outcome{entry: e, hit: true}, nil
		}
		e, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(ctx, e)
		return outcome{entry: e}, nil
	})
	if err != nil {
		return nil, false, err
	}
	o := v.(outcome)
	if shared && !o.hit {
		logging.CacheDebug("coalesced concurrent miss for %s", sig[:12])
	}
	return o.entry, o.hit, nil
}

// Maintenance purges entries whose last hit is beyond the TTL. The
// janitor and the CLI call this; it is safe to run concurrently with
// reads.
func (c *Cache) Maintenance(ctx context.Context) (int64, error) {
	if c.db == nil || c.primaryDown.Load() {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -c.cfg.TTLDays).Unix()
	res, err := c.db.ExecContext(ctx, `DELETE FROM response_cache WHERE last_hit_at < ?`, cutoff)
	if err != nil {
		c.noteStoreError("maintenance", err)
		return 0, fmt.Errorf("purge expired entries: %w", err)
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		logging.Cache("maintenance removed %d expired entries", removed)
	}
	return removed, nil
}

// Purge drops every entry from both tiers.
func (c *Cache) Purge(ctx context.Context) error {
	if c.mem != nil {
		c.mem = newMemoryStore(c.cfg.MemoryEntries)
	}
	if c.db == nil || c.primaryDown.Load() {
		return nil
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM response_cache`); err != nil {
		c.noteStoreError("purge", err)
		return fmt.Errorf("purge cache: %w", err)
	}
	return nil
}

// Stats snapshots the counters and tier sizes.
func (c *Cache) Stats() Stats {
	s := Stats{
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		Evictions:        c.evictions.Load(),
		StoreErrors:      c.storeErrors.Load(),
		PrimaryAvailable: c.db != nil && !c.primaryDown.Load(),
	}
	if c.mem != nil {
		s.MemoryEntries = c.mem.len()
	}
	if s.PrimaryAvailable {
		if err := c.db.QueryRow(`SELECT COUNT(*) FROM response_cache`).Scan(&s.PrimaryEntries); err != nil {
			c.noteStoreError("stats", err)
		}
	}
	return s
}

func (c *Cache) expired(e *Entry) bool {
	ttl := time.Duration(c.cfg.TTLDays) * 24 * time.Hour
	return time.Since(e.LastHitAt) > ttl
}

func (c *Cache) noteStoreError(op string, err error) {
	c.storeErrors.Add(1)
	logging.Cache("store %s failed: %v", op, err)
}
