package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentic/internal/config"
	"agentic/internal/types"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	cfg := config.Default().Cache
	c := Open(t.TempDir(), cfg)
	t.Cleanup(func() { c.Close() })
	return c
}

func testEntry(sig string) *Entry {
	return &Entry{
		Signature: sig,
		Output:    []byte(".a{color:var(--color-primary)}"),
		CodeType:  types.CodeCSS,
		ChangeLog: types.ChangeLog{
			Applied: []types.AppliedEdit{{
				Edit:    types.Edit{Kind: types.EditColorToken, RuleID: "colors/exact"},
				Applied: true,
			}},
		},
	}
}

func TestSignature_Honesty(t *testing.T) {
	code := []byte(".a { color: #1b3668; }")
	base := types.ProjectContext{BrandPackID: "acme", BrandVersion: "2.1.0"}

	opts := "auto=true;max=0;stages=;opt=0;vendor=false"
	sig := func(c []byte, ct types.CodeType, p types.ProjectContext, ev, rv, ops, env string) string {
		return Signature(c, ct, p, ev, rv, ops, env)
	}
	ref := sig(code, types.CodeCSS, base, "1.0.0", "7", opts, "")

	assert.Equal(t, ref, sig(code, types.CodeCSS, base, "1.0.0", "7", opts, ""), "same inputs, same signature")

	assert.NotEqual(t, ref, sig([]byte(".a{}"), types.CodeCSS, base, "1.0.0", "7", opts, ""))
	assert.NotEqual(t, ref, sig(code, types.CodeHTML, base, "1.0.0", "7", opts, ""))
	assert.NotEqual(t, ref, sig(code, types.CodeCSS, base, "1.0.1", "7", opts, ""))
	assert.NotEqual(t, ref, sig(code, types.CodeCSS, base, "1.0.0", "8", opts, ""))
	assert.NotEqual(t, ref, sig(code, types.CodeCSS, base, "1.0.0", "7", opts, "strict=1"))
	assert.NotEqual(t, ref,
		sig(code, types.CodeCSS, base, "1.0.0", "7", "auto=false;max=0;stages=;opt=0;vendor=false", ""),
		"request options participate in the key")
	assert.NotEqual(t, ref,
		sig(code, types.CodeCSS, base, "1.0.0", "7", "auto=true;max=3;stages=colors;opt=1;vendor=false", ""))

	other := base
	other.BrandVersion = "2.2.0"
	assert.NotEqual(t, ref, sig(code, types.CodeCSS, other, "1.0.0", "7", opts, ""))

	withOverrides := base
	withOverrides.Overrides = map[string]string{"color": "primary-dark"}
	assert.NotEqual(t, ref, sig(code, types.CodeCSS, withOverrides, "1.0.0", "7", opts, ""))
}

func TestCache_PutGet(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	e := testEntry("sig-1")
	c.Put(ctx, e)

	got, ok := c.Get(ctx, "sig-1")
	require.True(t, ok)
	assert.Equal(t, e.Output, got.Output)
	require.Len(t, got.ChangeLog.Applied, 1)
	assert.Equal(t, "colors/exact", got.ChangeLog.Applied[0].RuleID)

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.True(t, s.PrimaryAvailable)
}

func TestCache_PrimarySurvivesMemoryEviction(t *testing.T) {
	cfg := config.Default().Cache
	cfg.MemoryEntries = 2
	c := Open(t.TempDir(), cfg)
	defer c.Close()
	ctx := context.Background()

	c.Put(ctx, testEntry("a"))
	c.Put(ctx, testEntry("b"))
	c.Put(ctx, testEntry("c")) // evicts "a" from memory

	assert.Equal(t, int64(1), c.Stats().Evictions)

	// "a" still comes back from the sqlite tier.
	_, ok := c.Get(ctx, "a")
	assert.True(t, ok)
}

func TestCache_DoCoalescesConcurrentMisses(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	var computes atomic.Int64
	compute := func(context.Context) (*Entry, error) {
		computes.Add(1)
		time.Sleep(50 * time.Millisecond)
		return testEntry("shared"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, _, err := c.Do(ctx, "shared", compute)
			assert.NoError(t, err)
			assert.NotNil(t, e)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), computes.Load(), "concurrent misses must coalesce")

	_, hit, err := c.Do(ctx, "shared", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int64(1), computes.Load())
}

func TestCache_MemoryOnlyWhenPrimaryDisabled(t *testing.T) {
	cfg := config.Default().Cache
	cfg.DisablePrimary = true
	c := Open(t.TempDir(), cfg)
	defer c.Close()
	ctx := context.Background()

	assert.False(t, c.Degraded(), "memory tier keeps the cache alive")

	c.Put(ctx, testEntry("m"))
	_, ok := c.Get(ctx, "m")
	assert.True(t, ok)
	assert.False(t, c.Stats().PrimaryAvailable)
}

func TestCache_DegradedWhenBothTiersDown(t *testing.T) {
	cfg := config.Default().Cache
	cfg.DisablePrimary = true
	cfg.MemoryEntries = 1
	c := Open(t.TempDir(), cfg)
	defer c.Close()
	assert.False(t, c.Degraded())

	c.mem = nil
	assert.True(t, c.Degraded())

	// A degraded cache still answers: always a miss, never an error.
	ctx := context.Background()
	c.Put(ctx, testEntry("x"))
	_, ok := c.Get(ctx, "x")
	assert.False(t, ok)
}

func TestCache_Maintenance(t *testing.T) {
	cfg := config.Default().Cache
	cfg.MemoryEntries = 1
	c := Open(t.TempDir(), cfg)
	defer c.Close()
	ctx := context.Background()

	c.Put(ctx, testEntry("old"))
	c.Put(ctx, testEntry("new"))

	// Age the first entry beyond the TTL directly in the store.
	cutoff := time.Now().AddDate(0, 0, -(cfg.TTLDays + 1)).Unix()
	_, err := c.db.ExecContext(ctx, `UPDATE response_cache SET last_hit_at = ? WHERE signature = 'old'`, cutoff)
	require.NoError(t, err)

	removed, err := c.Maintenance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	c.mem = newMemoryStore(cfg.MemoryEntries)
	_, ok := c.Get(ctx, "old")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "new")
	assert.True(t, ok)
}

func TestCache_Purge(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	c.Put(ctx, testEntry("p"))
	require.NoError(t, c.Purge(ctx))

	_, ok := c.Get(ctx, "p")
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Stats().PrimaryEntries)
}

func TestMemoryStore_LRUOrder(t *testing.T) {
	m := newMemoryStore(2)
	m.put("a", testEntry("a"))
	m.put("b", testEntry("b"))

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := m.get("a")
	require.True(t, ok)

	evicted := m.put("c", testEntry("c"))
	assert.Equal(t, 1, evicted)

	_, ok = m.get("b")
	assert.False(t, ok)
	_, ok = m.get("a")
	assert.True(t, ok)
}
