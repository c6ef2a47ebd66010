package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"agentic/internal/config"
	"agentic/internal/tokens"
	"agentic/internal/types"
)

func testPool(t *testing.T) *Pool {
	t.Helper()
	p := NewPool(t.TempDir(), config.Default().Capture)
	t.Cleanup(p.Close)
	return p
}

func TestWrapFragment_CSS(t *testing.T) {
	snap := tokens.NewSnapshot(types.BrandPack{
		ID:      "acme",
		Version: "1.0.0",
		Tokens: []types.BrandToken{
			{Category: types.CatColor, Name: "primary", Raw: "#1b3668", Reference: "var(--color-primary)"},
		},
	}, nil)

	doc, err := WrapFragment(types.Fragment{
		CodeType: types.CodeCSS,
		Bytes:    []byte(".btn { color: var(--color-primary); }"),
	}, snap)
	require.NoError(t, err)

	assert.Contains(t, doc, "--color-primary: #1b3668", "pack variables must be inlined")
	assert.Contains(t, doc, ".btn { color: var(--color-primary); }")
	assert.True(t, strings.HasPrefix(doc, "<!doctype html>"))
}

func TestWrapFragment_HTML(t *testing.T) {
	doc, err := WrapFragment(types.Fragment{
		CodeType: types.CodeHTML,
		Bytes:    []byte(`<button class="btn">Save</button>`),
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, doc, `<body><button class="btn">Save</button></body>`)
}

func TestWrapFragment_RepairsUnclosedHTML(t *testing.T) {
	doc, err := WrapFragment(types.Fragment{
		CodeType: types.CodeHTML,
		Bytes:    []byte(`<div class="card"><p>Hi`),
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, doc, `<div class="card"><p>Hi</p></div>`,
		"fragment renders as the repaired DOM a browser would build")
}

func TestWrapFragment_ScriptTypesRejected(t *testing.T) {
	for _, ct := range []types.CodeType{types.CodeJSX, types.CodeTSX, types.CodeJS} {
		_, err := WrapFragment(types.Fragment{CodeType: ct, Bytes: []byte("x")}, nil)
		assert.ErrorIs(t, err, ErrUnrenderable, string(ct))
	}
}

func TestCapture_Backpressure(t *testing.T) {
	p := testPool(t)

	// Saturate pool and queue without touching a browser.
	p.mu.Lock()
	p.inflight = p.cfg.PoolSize + p.cfg.QueueSize
	p.mu.Unlock()

	_, err := p.Capture(context.Background(), types.Fragment{
		CodeType: types.CodeCSS,
		Bytes:    []byte(".a{}"),
	}, nil, types.DefaultViewport)
	assert.ErrorIs(t, err, ErrBackpressure)
}

func TestCapture_UnrenderableBeforeAdmission(t *testing.T) {
	p := testPool(t)
	_, err := p.Capture(context.Background(), types.Fragment{
		CodeType: types.CodeJSX,
		Bytes:    []byte("<Button />"),
	}, nil, types.DefaultViewport)
	assert.ErrorIs(t, err, ErrUnrenderable)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Zero(t, p.inflight, "rejected fragments must not hold a slot")
}

func writeShot(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))
	mod := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mod, mod))
	return path
}

func TestSweep_AgeAndCountLimits(t *testing.T) {
	ws := t.TempDir()
	cfg := config.Default().Capture
	cfg.MaxAgeMinutes = 10
	cfg.MaxFiles = 2
	p := NewPool(ws, cfg)
	defer p.Close()

	stale := writeShot(t, p.dir, "shot-old.png", time.Hour)
	oldest := writeShot(t, p.dir, "shot-a.png", 5*time.Minute)
	writeShot(t, p.dir, "shot-b.png", 3*time.Minute)
	writeShot(t, p.dir, "shot-c.png", time.Minute)
	keep := writeShot(t, p.dir, "notes.txt", time.Hour)

	removed := p.Sweep()
	assert.Equal(t, 2, removed, "one over age, one over count")

	_, err := os.Stat(stale)
	assert.True(t, errors.Is(err, os.ErrNotExist), "aged file removed")
	_, err = os.Stat(oldest)
	assert.True(t, errors.Is(err, os.ErrNotExist), "oldest removed first above the count cap")
	_, err = os.Stat(keep)
	assert.NoError(t, err, "non-screenshot files are left alone")
}

func TestSweep_MissingDirIsNoop(t *testing.T) {
	p := NewPool(t.TempDir(), config.Default().Capture)
	defer p.Close()
	assert.Zero(t, p.Sweep())
}

func TestJanitor_StopsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := config.Default().Capture
	cfg.JanitorSeconds = 1
	p := NewPool(t.TempDir(), cfg)
	p.StartJanitor()
	p.Close()
}
