// Package orchestrator composes discovery, transform, cache, capture,
// vision and routing behind the five public entry points. Every response
// uses the same envelope; sub-component failures surface as diagnostics,
// not errors, so callers always get valid output bytes back.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentic/internal/cache"
	"agentic/internal/capture"
	"agentic/internal/config"
	"agentic/internal/discovery"
	"agentic/internal/logging"
	"agentic/internal/patterns"
	"agentic/internal/router"
	"agentic/internal/tokens"
	"agentic/internal/transform"
	"agentic/internal/types"
	"agentic/internal/vision"
)

// captureBackend and criticBackend let tests run the full loop without a
// browser or a model behind them.
type captureBackend interface {
	Capture(ctx context.Context, frag types.Fragment, snap *tokens.Snapshot, vp types.Viewport) (*capture.Shot, error)
}

type criticBackend interface {
	Analyze(ctx context.Context, req vision.Request) (*types.VisualAnalysis, error)
}

// Request is the shared input of every entry point.
type Request struct {
	Code          string         `json:"code"`
	CodeType      types.CodeType `json:"codeType"`
	FilePath      string         `json:"filePath,omitempty"`
	ComponentType string         `json:"componentType,omitempty"`

	AutoApply         bool     `json:"autoApply"`
	MaxChanges        int      `json:"maxChanges,omitempty"`
	Stages            []string `json:"stages,omitempty"`
	OptimizationLevel int      `json:"optimizationLevel,omitempty"`
}

func (r Request) fragment() types.Fragment {
	return types.Fragment{CodeType: r.CodeType, Bytes: []byte(r.Code), FilePathHint: r.FilePath}
}

func (r Request) componentType() string {
	if r.ComponentType != "" {
		return r.ComponentType
	}
	return "generic"
}

// optionsKey canonically encodes every per-request knob the transform
// honors, so two requests differing only in options never share a cache
// entry.
func (r Request) optionsKey() string {
	stages := make([]string, len(r.Stages))
	for i, s := range r.Stages {
		stages[i] = strings.ToLower(strings.TrimSpace(s))
	}
	sort.Strings(stages)
	return fmt.Sprintf("auto=%t;max=%d;stages=%s;opt=%d;vendor=%t",
		r.AutoApply, r.MaxChanges, strings.Join(stages, ","),
		r.OptimizationLevel, types.IsVendorPath(r.FilePath))
}

// Response is the envelope plus the analysis artifacts of the visual
// entry points.
type Response struct {
	types.Envelope
	Analysis   *types.VisualAnalysis `json:"analysis,omitempty"`
	Plan       *router.Plan          `json:"plan,omitempty"`
	FixResults []router.FixResult    `json:"fixResults,omitempty"`
	Validation *router.Validation    `json:"validation,omitempty"`
	Responsive *ResponsiveReport     `json:"responsive,omitempty"`
}

// FixOptions tune AnalyzeAndFix. AutoApply is a transform apply mode:
// "safe" applies the auto-safe subset, "off" plans without executing,
// "all" applies every proposal the guardrails allow. Empty means safe.
type FixOptions struct {
	AutoApply        string `json:"autoApply,omitempty"`
	ValidateAfterFix bool   `json:"validateAfterFix"`
}

func (o FixOptions) applyMode() string {
	if o.AutoApply == "" {
		return transform.ApplySafe
	}
	return o.AutoApply
}

// Service is the composed system.
type Service struct {
	cfg       *config.Config
	workspace string

	discovery *discovery.Service
	engine    *transform.Engine
	cache     *cache.Cache
	capture   captureBackend
	critic    criticBackend // nil when the vision provider never came up
	router    *router.Router
	patterns  *patterns.Store // nil when the store failed to open

	pool *capture.Pool // owned concrete pool, for Close and the janitor

	statusMu   sync.Mutex
	statusSeen map[string]bool
}

// New wires the full service. Vision and patterns are optional: their
// constructors failing degrades the matching entry points instead of
// refusing to start.
func New(ctx context.Context, workspace string, cfg *config.Config, store discovery.PackStore) *Service {
	s := &Service{
		cfg:        cfg,
		workspace:  workspace,
		discovery:  discovery.New(workspace, cfg.Brand, store),
		engine:     transform.New(cfg.Transform),
		cache:      cache.Open(workspace, cfg.Cache),
		router:     router.New(cfg.Router),
		statusSeen: make(map[string]bool),
	}

	s.pool = capture.NewPool(workspace, cfg.Capture)
	s.pool.StartJanitor()
	s.capture = s.pool

	if critic, err := vision.New(ctx, cfg.Vision); err != nil {
		logging.Orchestrator("vision critic unavailable: %v", err)
	} else {
		s.critic = critic
	}

	if ps, err := patterns.Open(workspace, cfg.Patterns); err != nil {
		logging.Orchestrator("pattern store unavailable: %v", err)
	} else {
		s.patterns = ps
	}
	return s
}

// Close releases every owned component.
func (s *Service) Close() {
	s.discovery.Close()
	s.cache.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	if s.patterns != nil {
		s.patterns.Close()
	}
}

// Enhance runs the deterministic transform pipeline over one fragment.
func (s *Service) Enhance(ctx context.Context, req Request) *Response {
	start := time.Now()
	if resp := s.validate(req); resp != nil {
		return s.finish(resp, start)
	}
	if resp := s.disabled(req); resp != nil {
		return s.finish(resp, start)
	}

	resp := s.newResponse()
	snap, _ := s.resolveSnapshot(ctx, resp)
	s.enhanceInto(ctx, req, snap, resp)
	return s.finish(resp, start)
}

// EnhanceCached is Enhance behind the signature cache. Identical
// requests against the same pack and engine version coalesce and reuse
// the stored result.
func (s *Service) EnhanceCached(ctx context.Context, req Request) *Response {
	start := time.Now()
	if resp := s.validate(req); resp != nil {
		return s.finish(resp, start)
	}
	if resp := s.disabled(req); resp != nil {
		return s.finish(resp, start)
	}

	resp := s.newResponse()
	snap, pctx := s.resolveSnapshot(ctx, resp)

	sig := cache.Signature([]byte(req.Code), req.CodeType, pctx,
		transform.EngineVersion, transform.RulesetVersion, req.optionsKey(), envFlags())

	entry, hit, err := s.cache.Do(ctx, sig, func(ctx context.Context) (*cache.Entry, error) {
		inner := s.newResponse()
		s.enhanceInto(ctx, req, snap, inner)
		return &cache.Entry{
			Signature: sig,
			Output:    []byte(inner.Code),
			ChangeLog: *inner.ChangeLog,
			CodeType:  req.CodeType,
		}, nil
	})
	if err != nil {
		resp.Code = req.Code
		resp.Diagnostics = append(resp.Diagnostics, types.Diagnostic{
			Kind: types.DiagInternal, Message: err.Error(), Component: "cache",
		})
		return s.finish(resp, start)
	}

	if s.cache.Degraded() {
		s.noteDegraded("cache", "response cache degraded, recomputing every request")
		resp.Diagnostics = append(resp.Diagnostics, types.Diagnostic{
			Kind:      types.DiagDependencyDown,
			Message:   "response cache unavailable, result recomputed",
			Component: "cache",
			Retryable: true,
		})
	}

	resp.Code = string(entry.Output)
	resp.ChangeLog = &entry.ChangeLog
	resp.Metadata.CacheHit = &hit
	return s.finish(resp, start)
}

// AnalyzeAndFix captures the fragment, critiques the render, and drives
// the planned fixes back through the transform pipeline. With
// ValidateAfterFix the repaired render is re-critiqued and judged.
func (s *Service) AnalyzeAndFix(ctx context.Context, req Request, opts FixOptions) *Response {
	start := time.Now()
	if resp := s.validate(req); resp != nil {
		return s.finish(resp, start)
	}
	if resp := s.disabled(req); resp != nil {
		return s.finish(resp, start)
	}

	resp := s.newResponse()
	resp.Code = req.Code
	snap, _ := s.resolveSnapshot(ctx, resp)

	before := s.critique(ctx, req.fragment(), snap, types.DefaultViewport, resp)
	if before == nil {
		return s.finish(resp, start)
	}
	resp.Analysis = before

	plan := s.router.BuildPlan(before)
	resp.Plan = &plan
	if len(plan.Fixes) == 0 {
		return s.finish(resp, start)
	}
	// Off mode returns the plan without running it.
	if opts.applyMode() == transform.ApplyOff {
		return s.finish(resp, start)
	}

	apply := func(ctx context.Context, frag types.Fragment, stages []string) (types.Fragment, types.ChangeLog, error) {
		res := s.engine.Transform(ctx, frag, snap, transform.Options{
			ApplyMode:  opts.applyMode(),
			MaxChanges: req.MaxChanges,
			Stages:     stages,
		})
		out := frag
		out.Bytes = res.Output
		return out, res.ChangeLog, nil
	}

	fixed, results, err := s.router.Execute(ctx, req.fragment(), plan, apply)
	resp.FixResults = results
	if err != nil {
		resp.Diagnostics = append(resp.Diagnostics, types.Diagnostic{
			Kind: types.DiagTimeout, Message: "fix run interrupted: " + err.Error(), Retryable: true,
		})
		return s.finish(resp, start)
	}
	resp.Code = string(fixed.Bytes)
	resp.ChangeLog = mergedChangeLog(results)
	s.trackPatterns(ctx, req, resp.ChangeLog)

	if opts.ValidateAfterFix {
		after := s.critique(ctx, fixed, snap, types.DefaultViewport, resp)
		if after != nil {
			v := s.router.Validate(before, after)
			resp.Validation = &v
		}
	}
	return s.finish(resp, start)
}

// ValidateImprovements critiques two fragment versions and scores the
// delta between them.
func (s *Service) ValidateImprovements(ctx context.Context, before, after Request) *Response {
	start := time.Now()
	if resp := s.validate(before); resp != nil {
		return s.finish(resp, start)
	}
	if after.Code == "" {
		return s.finish(s.invalid(before, "after.code is required"), start)
	}

	resp := s.newResponse()
	resp.Code = after.Code
	snap, _ := s.resolveSnapshot(ctx, resp)

	beforeAnalysis := s.critique(ctx, before.fragment(), snap, types.DefaultViewport, resp)
	afterAnalysis := s.critique(ctx, after.fragment(), snap, types.DefaultViewport, resp)
	if beforeAnalysis == nil || afterAnalysis == nil {
		return s.finish(resp, start)
	}

	v := s.router.Validate(beforeAnalysis, afterAnalysis)
	resp.Analysis = afterAnalysis
	resp.Validation = &v
	return s.finish(resp, start)
}

// enhanceInto runs the transform pipeline and fills the envelope.
func (s *Service) enhanceInto(ctx context.Context, req Request, snap *tokens.Snapshot, resp *Response) {
	res := s.engine.Transform(ctx, req.fragment(), snap, transform.Options{
		AutoApply:         req.AutoApply,
		MaxChanges:        req.MaxChanges,
		Stages:            req.Stages,
		OptimizationLevel: req.OptimizationLevel,
	})
	resp.Code = string(res.Output)
	resp.ChangeLog = &res.ChangeLog
	resp.Diagnostics = append(resp.Diagnostics, res.Diagnostics...)
	s.trackPatterns(ctx, req, &res.ChangeLog)
}

// critique renders one fragment and runs the vision critic over it. Any
// failure comes back as nil with a diagnostic attached to resp.
func (s *Service) critique(ctx context.Context, frag types.Fragment, snap *tokens.Snapshot, vp types.Viewport, resp *Response) *types.VisualAnalysis {
	if s.critic == nil {
		s.noteDegraded("vision", "vision critic not configured")
		resp.Diagnostics = append(resp.Diagnostics, types.Diagnostic{
			Kind: types.DiagVisionUnavailable, Message: "vision critic not configured", Component: "vision",
		})
		return nil
	}

	shot, err := s.capture.Capture(ctx, frag, snap, vp)
	if err != nil {
		resp.Diagnostics = append(resp.Diagnostics, captureDiagnostic(err))
		return nil
	}

	png, err := os.ReadFile(shot.ImageRef)
	if err != nil {
		resp.Diagnostics = append(resp.Diagnostics, types.Diagnostic{
			Kind: types.DiagInternal, Message: "read screenshot: " + err.Error(), Component: "capture",
		})
		return nil
	}

	summary := ""
	if snap != nil {
		summary = snap.CSSVariables()
	}
	analysis, err := s.critic.Analyze(ctx, vision.Request{
		ImagePNG:      png,
		ScreenshotRef: shot.ImageRef,
		Viewport:      vp,
		Code:          frag.String(),
		TokensSummary: summary,
	})
	if err != nil {
		kind := types.DiagVisionUnavailable
		if errors.Is(err, vision.ErrBackpressure) {
			kind = types.DiagBackpressure
		}
		resp.Diagnostics = append(resp.Diagnostics, types.Diagnostic{
			Kind: kind, Message: err.Error(), Retryable: true, Component: "vision",
		})
		return nil
	}
	return analysis
}

func captureDiagnostic(err error) types.Diagnostic {
	switch {
	case err == capture.ErrBackpressure:
		return types.Diagnostic{Kind: types.DiagBackpressure, Message: err.Error(), Retryable: true, Component: "capture"}
	case err == context.DeadlineExceeded:
		return types.Diagnostic{Kind: types.DiagTimeout, Message: "capture timed out", Retryable: true, Component: "capture"}
	default:
		return types.Diagnostic{Kind: types.DiagDependencyDown, Message: err.Error(), Retryable: true, Component: "capture"}
	}
}

// resolveSnapshot binds the brand context and records it in the
// envelope metadata. A degraded binding yields a nil snapshot plus a
// diagnostic; the transform engine handles nil by advising only.
func (s *Service) resolveSnapshot(ctx context.Context, resp *Response) (*tokens.Snapshot, types.ProjectContext) {
	res, err := s.discovery.Resolve(ctx)
	if err != nil {
		resp.Diagnostics = append(resp.Diagnostics, types.Diagnostic{
			Kind: types.DiagUnresolvedBrand, Message: err.Error(), Component: "discovery",
		})
		return nil, types.ProjectContext{}
	}

	resp.Metadata.BrandPackID = res.Context.BrandPackID
	resp.Metadata.BrandVersion = res.Context.BrandVersion
	resp.Metadata.BrandPackSource = res.Context.Source

	if res.Context.Degraded || res.Pack == nil {
		s.noteDegraded("discovery", "no brand pack bound, running advisory-only")
		resp.Diagnostics = append(resp.Diagnostics, types.Diagnostic{
			Kind: types.DiagUnresolvedBrand, Message: "no brand pack bound", Component: "discovery",
		})
		return nil, res.Context
	}
	return tokens.NewSnapshot(*res.Pack, res.Context.Overrides), res.Context
}

func (s *Service) trackPatterns(ctx context.Context, req Request, log *types.ChangeLog) {
	if s.patterns == nil || log == nil || log.Empty() {
		return
	}
	res, err := s.discovery.Resolve(ctx)
	if err != nil || res.Context.ProjectID == "" {
		return
	}
	if err := s.patterns.TrackUsage(ctx, res.Context.ProjectID, req.componentType(), *log); err != nil {
		logging.OrchestratorDebug("pattern tracking failed: %v", err)
	}
}

// validate returns a non-nil invalid-input response, or nil when the
// request is usable.
func (s *Service) validate(req Request) *Response {
	if req.Code == "" {
		return s.invalid(req, "code is required")
	}
	switch req.CodeType {
	case types.CodeCSS, types.CodeHTML, types.CodeJSX, types.CodeTSX, types.CodeJS:
		return nil
	default:
		return s.invalid(req, fmt.Sprintf("unsupported code type %q", req.CodeType))
	}
}

// disabled returns a pass-through response when the engine is switched
// off by configuration, or nil when it is running.
func (s *Service) disabled(req Request) *Response {
	if !s.cfg.Brand.Disable {
		return nil
	}
	resp := s.newResponse()
	resp.Code = req.Code
	resp.ChangeLog = &types.ChangeLog{}
	resp.Diagnostics = append(resp.Diagnostics, types.Diagnostic{
		Kind:      types.DiagUnresolvedBrand,
		Message:   "enhancement disabled by configuration, code passed through",
		Component: "orchestrator",
	})
	return resp
}

func (s *Service) invalid(req Request, msg string) *Response {
	resp := s.newResponse()
	resp.Success = false
	resp.Code = req.Code
	resp.Diagnostics = append(resp.Diagnostics, types.Diagnostic{
		Kind: types.DiagInvalidInput, Message: msg,
	})
	return resp
}

func (s *Service) newResponse() *Response {
	return &Response{Envelope: types.Envelope{
		Success:     true,
		Diagnostics: []types.Diagnostic{},
		Metadata: types.Metadata{
			CorrelationID: uuid.NewString(),
		},
	}}
}

func (s *Service) finish(resp *Response, start time.Time) *Response {
	resp.Metadata.DurationMs = time.Since(start).Milliseconds()
	return resp
}

// CacheStats exposes the response cache counters for the CLI.
func (s *Service) CacheStats() cache.Stats { return s.cache.Stats() }

// PurgeCache drops every cached response.
func (s *Service) PurgeCache(ctx context.Context) error { return s.cache.Purge(ctx) }

// CacheMaintenance evicts entries past the TTL.
func (s *Service) CacheMaintenance(ctx context.Context) (int64, error) {
	return s.cache.Maintenance(ctx)
}

// ResolveBrand exposes the discovery result for status commands.
func (s *Service) ResolveBrand(ctx context.Context) (*discovery.Resolution, error) {
	return s.discovery.Resolve(ctx)
}

// VisionAvailable reports whether a critic came up at construction.
func (s *Service) VisionAvailable() bool { return s.critic != nil }

// noteDegraded emits one status log per degraded component per process;
// after that the diagnostics on each response carry the signal.
func (s *Service) noteDegraded(component, msg string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if s.statusSeen[component] {
		return
	}
	s.statusSeen[component] = true
	logging.Orchestrator("degraded: %s: %s", component, msg)
}

func mergedChangeLog(results []router.FixResult) *types.ChangeLog {
	merged := &types.ChangeLog{}
	for _, r := range results {
		merged.Applied = append(merged.Applied, r.ChangeLog.Applied...)
		merged.Advisory = append(merged.Advisory, r.ChangeLog.Advisory...)
		merged.Rejected = append(merged.Rejected, r.ChangeLog.Rejected...)
	}
	return merged
}

// envFlags folds the behavior-changing environment into the cache
// signature so a strict-mode run never serves a lenient-mode entry.
func envFlags() string {
	if v, err := strconv.ParseBool(os.Getenv("STRICT")); err == nil && v {
		return "strict=1"
	}
	return ""
}
