// Package vision critiques rendered screenshots with a multimodal model
// and returns a structured six-dimension analysis. Providers return raw
// model text; the critic owns the prompt, the retry policy, and the
// lenient decode of whatever JSON shape the model produced.
package vision

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"agentic/internal/config"
	"agentic/internal/logging"
	"agentic/internal/types"
)

// ErrUnavailable is returned when the critic cannot produce an analysis
// after retries, or was never configured with a usable provider.
var ErrUnavailable = errors.New("vision critic unavailable")

// ErrBackpressure is returned when pool and queue are both full.
var ErrBackpressure = errors.New("vision queue full")

// provider is one multimodal backend. It takes the critic's prompt and a
// PNG and returns the raw model text.
type provider interface {
	critique(ctx context.Context, prompt string, imagePNG []byte) (string, error)
}

// Request is one screenshot to critique.
type Request struct {
	ImagePNG      []byte
	ScreenshotRef string
	Viewport      types.Viewport
	Code          string // fragment source, for grounding the critique
	TokensSummary string // brand token table rendered as text
}

// Critic wraps a provider with bounded concurrency, retries, and
// response coercion. Overflow beyond pool plus queue is backpressure,
// same as capture.
type Critic struct {
	cfg         config.VisionConfig
	provider    provider
	backoffBase time.Duration // zero means one second

	mu       sync.Mutex
	workers  *semaphore.Weighted
	inflight int
}

// New builds a critic for the configured provider. A missing API key is a
// hard error so callers can mark the component unavailable up front.
func New(ctx context.Context, cfg config.VisionConfig) (*Critic, error) {
	// The critique must be reproducible enough to compare across passes.
	if cfg.Temperature > 0.3 {
		cfg.Temperature = 0.3
	}
	if cfg.TopP <= 0 {
		cfg.TopP = 0.9
	}

	var p provider
	var err error
	switch cfg.Provider {
	case "gemini", "":
		p, err = newGeminiProvider(ctx, cfg)
	case "openai":
		p, err = newOpenAIProvider(cfg)
	default:
		err = fmt.Errorf("unknown vision provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Critic{cfg: cfg, provider: p}, nil
}

// Analyze critiques one screenshot. Transient provider failures are
// retried with jittered exponential backoff; exhausting the retries
// returns ErrUnavailable.
func (c *Critic) Analyze(ctx context.Context, req Request) (*types.VisualAnalysis, error) {
	if len(req.ImagePNG) == 0 {
		return nil, fmt.Errorf("empty screenshot")
	}

	if !c.admit() {
		logging.Vision("backpressure: %d critiques in flight", c.poolSize()+c.queueSize())
		return nil, ErrBackpressure
	}
	defer c.release()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	if err := c.workers.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire vision worker: %w", err)
	}
	defer c.workers.Release(1)

	timer := logging.StartTimer(logging.CategoryVision, "critique "+req.ScreenshotRef)
	defer timer.Stop()

	prompt := buildPrompt(req)
	attempts := c.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			base := c.backoffBase
			if base <= 0 {
				base = time.Second
			}
			backoff := time.Duration(1<<uint(i-1)) * base
			backoff += time.Duration(rand.Int63n(int64(backoff)/2 + 1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		raw, err := c.provider.critique(ctx, prompt, req.ImagePNG)
		if err != nil {
			lastErr = err
			logging.VisionDebug("critique attempt %d failed: %v", i+1, err)
			continue
		}

		analysis, err := parseAnalysis(raw)
		if err != nil {
			lastErr = err
			logging.VisionDebug("critique attempt %d returned unparseable JSON: %v", i+1, err)
			continue
		}

		analysis.AnalysisID = uuid.NewString()
		analysis.ScreenshotRef = req.ScreenshotRef
		analysis.ViewportW = req.Viewport.Width
		analysis.ViewportH = req.Viewport.Height
		analysis.CapturedAtMilli = time.Now().UnixMilli()
		logging.Vision("critique complete: score=%d violations=%d", analysis.OverallScore, len(analysis.Violations))
		return analysis, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Critic) poolSize() int {
	if c.cfg.PoolSize > 0 {
		return c.cfg.PoolSize
	}
	return 8
}

func (c *Critic) queueSize() int {
	if c.cfg.QueueSize > 0 {
		return c.cfg.QueueSize
	}
	return 32
}

func (c *Critic) admit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.workers == nil {
		c.workers = semaphore.NewWeighted(int64(c.poolSize()))
	}
	if c.inflight >= c.poolSize()+c.queueSize() {
		return false
	}
	c.inflight++
	return true
}

func (c *Critic) release() {
	c.mu.Lock()
	c.inflight--
	c.mu.Unlock()
}

// buildPrompt is a three-pass forensic protocol: measure first, judge
// second, plan third. Models skip the measuring when not forced through
// it, and the scores drift.
func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(`You are a design reviewer analyzing a rendered UI component screenshot.

Work in three passes:

PASS 1 - MEASURE. Read the pixels before judging them. List the spacing
values (margins, paddings, gaps) in px, the font sizes and weights, and
the exact colors you observe. Do not round to what "should" be there.

PASS 2 - DETECT. Compare every measurement against the brand tokens
below and against these fixed thresholds: body text at least 16px, H1 at
least 24px, text contrast at least 4.5:1, touch targets at least 44px,
line-height at least 1.4. Each mismatch is a violation: note its
severity (critical, high, medium, low), where it is, the measured
evidence, and which fix endpoint applies (enhance-typography,
spacing-optimization, analyze-accessibility, or enhance for anything
else). Report violations only; never praise what already passes.

PASS 3 - SCORE. Rate the six dimensions 0-100: hierarchy, typography,
spacing, color, accessibility, brand. Then give an overall score, an
execution order for the fixes, and the score gain you estimate.

Respond with ONLY a JSON object:
{
  "overallScore": 0-100,
  "dimensionScores": {"hierarchy":0,"typography":0,"spacing":0,"color":0,"accessibility":0,"brand":0},
  "violations": [{"severity":"high","location":"...","evidence":"...","recommendedEndpoint":"enhance","confidence":0-100}],
  "executionOrder": ["..."],
  "estimatedGain": 0-100
}
`)
	if req.TokensSummary != "" {
		b.WriteString("\nBRAND TOKENS:\n")
		b.WriteString(req.TokensSummary)
		b.WriteString("\n")
	}
	if req.Code != "" {
		b.WriteString("\nCOMPONENT SOURCE:\n```\n")
		b.WriteString(req.Code)
		b.WriteString("\n```\n")
	}
	fmt.Fprintf(&b, "\nViewport: %dx%d CSS px.\n", req.Viewport.Width, req.Viewport.Height)
	return b.String()
}
