// Package capture renders fragments to PNG screenshots through a bounded
// pool of headless Chrome pages. Overflow is backpressure, not queueing
// forever; a capture that outlives its deadline tears the browser down so
// the next request starts clean.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/semaphore"

	"agentic/internal/config"
	"agentic/internal/logging"
	"agentic/internal/tokens"
	"agentic/internal/types"
)

// ErrBackpressure is returned when pool and queue are both full.
var ErrBackpressure = errors.New("capture queue full")

// ErrUnrenderable is returned for code types that cannot be rendered
// standalone.
var ErrUnrenderable = errors.New("fragment cannot be rendered standalone")

// Shot is one finished screenshot.
type Shot struct {
	ImageRef   string         `json:"imageRef"`
	Viewport   types.Viewport `json:"viewport"`
	CapturedAt time.Time      `json:"capturedAt"`
	SizeBytes  int64          `json:"sizeBytes"`
}

// Pool renders fragments with bounded concurrency. The browser is
// launched lazily on the first capture.
type Pool struct {
	cfg config.CaptureConfig
	dir string

	workers *semaphore.Weighted

	mu       sync.Mutex
	browser  *rod.Browser
	inflight int

	janitorDone chan struct{}
	janitorOnce sync.Once
}

// NewPool creates a capture pool writing screenshots under the workspace.
func NewPool(workspace string, cfg config.CaptureConfig) *Pool {
	dir := cfg.ScreenshotDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(workspace, dir)
	}
	return &Pool{
		cfg:         cfg,
		dir:         dir,
		workers:     semaphore.NewWeighted(int64(cfg.PoolSize)),
		janitorDone: make(chan struct{}),
	}
}

// Close stops the janitor and the browser.
func (p *Pool) Close() {
	p.janitorOnce.Do(func() { close(p.janitorDone) })
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser != nil {
		_ = p.browser.Close()
		p.browser = nil
	}
}

// Capture renders one fragment at the given viewport and returns the
// stored screenshot. Styles from the brand snapshot are inlined so the
// render reflects the bound pack.
func (p *Pool) Capture(ctx context.Context, frag types.Fragment, snap *tokens.Snapshot, vp types.Viewport) (*Shot, error) {
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = types.DefaultViewport
	}

	doc, err := WrapFragment(frag, snap)
	if err != nil {
		return nil, err
	}

	if !p.admit() {
		logging.Capture("backpressure: %d captures in flight", p.cfg.PoolSize+p.cfg.QueueSize)
		return nil, ErrBackpressure
	}
	defer p.release()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout())
	defer cancel()

	if err := p.workers.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire capture worker: %w", err)
	}
	defer p.workers.Release(1)

	timer := logging.StartTimer(logging.CategoryCapture, fmt.Sprintf("capture %dx%d", vp.Width, vp.Height))
	defer timer.Stop()

	shot, err := p.render(ctx, doc, vp)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// A stuck renderer poisons every later capture; replace it.
			logging.Capture("capture timed out, tearing down browser")
			p.resetBrowser()
		}
		return nil, err
	}
	return shot, nil
}

func (p *Pool) admit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight >= p.cfg.PoolSize+p.cfg.QueueSize {
		return false
	}
	p.inflight++
	return true
}

func (p *Pool) release() {
	p.mu.Lock()
	p.inflight--
	p.mu.Unlock()
}

func (p *Pool) render(ctx context.Context, doc string, vp types.Viewport) (*Shot, error) {
	browser, err := p.ensureBrowser(ctx)
	if err != nil {
		return nil, err
	}

	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(doc))
	page, err := browser.Page(proto.TargetCreateTarget{URL: dataURL})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx)

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	// Fonts change layout; settle them before the DOM quiet check.
	if _, err := page.Eval(`() => document.fonts.ready.then(() => true)`); err != nil {
		logging.CaptureDebug("font settle failed: %v", err)
	}
	if err := page.WaitStable(300 * time.Millisecond); err != nil {
		return nil, fmt.Errorf("wait stable: %w", err)
	}

	png, err := page.Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return nil, fmt.Errorf("screenshot dir: %w", err)
	}
	ref := filepath.Join(p.dir, "shot-"+uuid.NewString()+".png")
	if err := os.WriteFile(ref, png, 0o644); err != nil {
		return nil, fmt.Errorf("store screenshot: %w", err)
	}

	return &Shot{
		ImageRef:   ref,
		Viewport:   vp,
		CapturedAt: time.Now(),
		SizeBytes:  int64(len(png)),
	}, nil
}

func (p *Pool) ensureBrowser(ctx context.Context) (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser != nil {
		return p.browser, nil
	}

	launch := launcher.New().Headless(true)
	if p.cfg.ChromeBin != "" {
		launch = launch.Bin(p.cfg.ChromeBin)
	}
	url, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	browser := rod.New().ControlURL(url).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	p.browser = browser
	return browser, nil
}

func (p *Pool) resetBrowser() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser != nil {
		_ = p.browser.Close()
		p.browser = nil
	}
}

// WrapFragment builds the minimal HTML document a fragment renders in,
// with the brand pack's custom properties inlined. CSS fragments become a
// stylesheet; HTML fragments become the body. Script-bearing types need a
// build step and are not renderable here.
func WrapFragment(frag types.Fragment, snap *tokens.Snapshot) (string, error) {
	vars := ""
	if snap != nil {
		vars = snap.CSSVariables()
	}
	switch frag.CodeType {
	case types.CodeCSS:
		return fmt.Sprintf(
			"<!doctype html><html><head><meta charset=\"utf-8\"><style>%s</style><style>%s</style></head><body></body></html>",
			vars, string(frag.Bytes)), nil
	case types.CodeHTML:
		return fmt.Sprintf(
			"<!doctype html><html><head><meta charset=\"utf-8\"><style>%s</style></head><body>%s</body></html>",
			vars, normalizeHTMLFragment(string(frag.Bytes))), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnrenderable, html.EscapeString(string(frag.CodeType)))
	}
}

// normalizeHTMLFragment runs the fragment through the HTML5 parsing
// algorithm in body context, so the document we screenshot matches the
// repaired DOM a browser would build from it.
func normalizeHTMLFragment(src string) string {
	body := &xhtml.Node{Type: xhtml.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := xhtml.ParseFragment(strings.NewReader(src), body)
	if err != nil {
		return src
	}
	var b strings.Builder
	for _, n := range nodes {
		if xhtml.Render(&b, n) != nil {
			return src
		}
	}
	return b.String()
}
