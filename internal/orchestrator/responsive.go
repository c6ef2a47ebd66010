package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"agentic/internal/types"
)

// DefaultViewports are the breakpoints AnalyzeResponsive checks when the
// caller does not name any.
var DefaultViewports = []types.Viewport{
	{Width: 1280, Height: 800},
	{Width: 768, Height: 1024},
	{Width: 375, Height: 667},
}

// scoreSpreadLimit is how far overall scores may drift across viewports
// before the drift itself is a finding.
const scoreSpreadLimit = 15

// dimensionSpreadLimit is the per-dimension equivalent.
const dimensionSpreadLimit = 20

// ViewportAnalysis is one viewport's critique, or the diagnostics that
// explain its absence.
type ViewportAnalysis struct {
	Viewport    types.Viewport        `json:"viewport"`
	Analysis    *types.VisualAnalysis `json:"analysis,omitempty"`
	Diagnostics []types.Diagnostic    `json:"diagnostics,omitempty"`
}

// ResponsiveReport is the cross-viewport result.
type ResponsiveReport struct {
	Viewports           []ViewportAnalysis `json:"viewports"`
	ScoreSpread         int                `json:"scoreSpread"`
	ConsistencyFindings []string           `json:"consistencyFindings,omitempty"`
}

// AnalyzeResponsive critiques the fragment at several viewports in
// parallel and reports breakpoints that disagree with each other. A
// deadline mid-run returns the completed viewports with a timeout
// diagnostic rather than nothing.
func (s *Service) AnalyzeResponsive(ctx context.Context, req Request, viewports []types.Viewport) *Response {
	start := time.Now()
	if resp := s.validate(req); resp != nil {
		return s.finish(resp, start)
	}
	if len(viewports) == 0 {
		viewports = DefaultViewports
	}

	resp := s.newResponse()
	resp.Code = req.Code
	snap, _ := s.resolveSnapshot(ctx, resp)

	report := &ResponsiveReport{Viewports: make([]ViewportAnalysis, len(viewports))}
	g, gctx := errgroup.WithContext(ctx)
	for i, vp := range viewports {
		g.Go(func() error {
			// Per-slot scratch response: diagnostics merge after the join.
			scratch := s.newResponse()
			analysis := s.critique(gctx, req.fragment(), snap, vp, scratch)
			report.Viewports[i] = ViewportAnalysis{
				Viewport:    vp,
				Analysis:    analysis,
				Diagnostics: scratch.Diagnostics,
			}
			if analysis == nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		resp.Diagnostics = append(resp.Diagnostics, types.Diagnostic{
			Kind:      types.DiagTimeout,
			Message:   "responsive analysis interrupted, partial results returned",
			Retryable: true,
		})
	}

	for _, va := range report.Viewports {
		resp.Diagnostics = append(resp.Diagnostics, va.Diagnostics...)
	}
	report.ScoreSpread, report.ConsistencyFindings = consistencyFindings(report.Viewports)
	resp.Responsive = report
	return s.finish(resp, start)
}

// consistencyFindings compares the critiques across viewports. Spread
// beyond the limits means the component degrades at some breakpoint even
// if every individual score looks acceptable.
func consistencyFindings(analyses []ViewportAnalysis) (int, []string) {
	type scored struct {
		vp    types.Viewport
		a     *types.VisualAnalysis
		score int
	}
	var done []scored
	for _, va := range analyses {
		if va.Analysis != nil {
			done = append(done, scored{vp: va.Viewport, a: va.Analysis, score: va.Analysis.OverallScore})
		}
	}
	if len(done) < 2 {
		return 0, nil
	}
	sort.Slice(done, func(i, j int) bool { return done[i].score < done[j].score })

	spread := done[len(done)-1].score - done[0].score
	var findings []string
	if spread > scoreSpreadLimit {
		worst := done[0]
		findings = append(findings, fmt.Sprintf(
			"overall score varies by %d across viewports; worst at %dx%d (%d)",
			spread, worst.vp.Width, worst.vp.Height, worst.score))
	}

	dims := []struct {
		name string
		get  func(types.DimensionScores) int
	}{
		{"hierarchy", func(d types.DimensionScores) int { return d.Hierarchy }},
		{"typography", func(d types.DimensionScores) int { return d.Typography }},
		{"spacing", func(d types.DimensionScores) int { return d.Spacing }},
		{"color", func(d types.DimensionScores) int { return d.Color }},
		{"accessibility", func(d types.DimensionScores) int { return d.Accessibility }},
		{"brand", func(d types.DimensionScores) int { return d.Brand }},
	}
	for _, dim := range dims {
		lo, hi := 101, -1
		var loVP types.Viewport
		for _, d := range done {
			v := dim.get(d.a.Dimensions)
			if v < lo {
				lo, loVP = v, d.vp
			}
			if v > hi {
				hi = v
			}
		}
		if hi-lo > dimensionSpreadLimit {
			findings = append(findings, fmt.Sprintf(
				"%s degrades at %dx%d (%d vs %d elsewhere)", dim.name, loVP.Width, loVP.Height, lo, hi))
		}
	}
	return spread, findings
}
