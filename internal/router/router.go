// Package router turns a visual critique into an ordered fix plan,
// drives the fixes through the enhancement pipeline, and judges the
// result by re-critiquing the repaired render.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"agentic/internal/config"
	"agentic/internal/logging"
	"agentic/internal/transform"
	"agentic/internal/types"
)

// Fix is one planned repair: the violation that motivated it, the
// endpoint it was routed to, and the transform stages narrowed to what
// the violation is about.
type Fix struct {
	Violation types.Violation `json:"violation"`
	Endpoint  string          `json:"endpoint"`
	Stages    []string        `json:"stages"`
}

// Plan is the ordered set of fixes for one analysis run.
type Plan struct {
	Fixes   []Fix             `json:"fixes"`
	Skipped []types.Violation `json:"skipped,omitempty"`
}

// FixResult records what one executed fix changed.
type FixResult struct {
	Fix       Fix             `json:"fix"`
	ChangeLog types.ChangeLog `json:"changeLog"`
	Err       string          `json:"error,omitempty"`
}

// Verdict is the post-validation outcome.
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictReview Verdict = "review"
	VerdictReject Verdict = "reject"
)

// Validation compares the critique before and after the fixes ran.
type Validation struct {
	Before          *types.VisualAnalysis `json:"before"`
	After           *types.VisualAnalysis `json:"after"`
	ScoreDelta      int                   `json:"scoreDelta"`
	DimensionDeltas map[string]int        `json:"dimensionDeltas"`
	Verdict         Verdict               `json:"verdict"`
}

// ApplyFunc runs the enhancement pipeline over a fragment with the
// stages narrowed to the fix at hand.
type ApplyFunc func(ctx context.Context, frag types.Fragment, stages []string) (types.Fragment, types.ChangeLog, error)

// Router plans and executes fixes.
type Router struct {
	cfg config.RouterConfig
}

func New(cfg config.RouterConfig) *Router {
	return &Router{cfg: cfg}
}

// BuildPlan partitions the analysis violations by recommended endpoint,
// orders each partition by severity then confidence, sequences the
// partitions by their most urgent member, and caps the run. Violations
// beyond the cap are reported, not silently dropped.
func (r *Router) BuildPlan(analysis *types.VisualAnalysis) Plan {
	if analysis == nil || len(analysis.Violations) == 0 {
		return Plan{}
	}

	groups := map[string][]types.Violation{}
	var order []string
	for _, v := range analysis.Violations {
		ep := v.RecommendedEndpoint
		if ep == "" {
			ep = "enhance"
		}
		if _, seen := groups[ep]; !seen {
			order = append(order, ep)
		}
		groups[ep] = append(groups[ep], v)
	}

	moreUrgent := func(a, b types.Violation) bool {
		if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
			return ra > rb
		}
		return a.Confidence > b.Confidence
	}
	for _, ep := range order {
		g := groups[ep]
		sort.SliceStable(g, func(i, j int) bool { return moreUrgent(g[i], g[j]) })
	}
	sort.SliceStable(order, func(i, j int) bool {
		return moreUrgent(groups[order[i]][0], groups[order[j]][0])
	})

	limit := r.cfg.MaxFixesPerRun
	if limit <= 0 {
		limit = len(analysis.Violations)
	}

	var plan Plan
	n := 0
	for _, ep := range order {
		for _, v := range groups[ep] {
			if n >= limit {
				plan.Skipped = append(plan.Skipped, v)
				continue
			}
			plan.Fixes = append(plan.Fixes, Fix{Violation: v, Endpoint: ep, Stages: stagesFor(v, ep)})
			n++
		}
	}
	logging.Router("planned %d fixes across %d endpoints (%d skipped over cap)",
		len(plan.Fixes), len(order), len(plan.Skipped))
	return plan
}

// Execute runs the fixes in plan order, each against the output of the
// previous one. A failed fix is recorded and skipped; the run continues.
func (r *Router) Execute(ctx context.Context, frag types.Fragment, plan Plan, apply ApplyFunc) (types.Fragment, []FixResult, error) {
	results := make([]FixResult, 0, len(plan.Fixes))
	current := frag
	for _, fix := range plan.Fixes {
		if err := ctx.Err(); err != nil {
			return current, results, err
		}
		next, changelog, err := apply(ctx, current, fix.Stages)
		res := FixResult{Fix: fix, ChangeLog: changelog}
		if err != nil {
			res.Err = err.Error()
			logging.RouterDebug("fix %s failed: %v", fix.Violation.Location, err)
		} else {
			current = next
		}
		results = append(results, res)
	}
	return current, results, nil
}

// Validate scores the repaired render against the original critique.
// The accept threshold comes from config; a non-positive delta is always
// a reject.
func (r *Router) Validate(before, after *types.VisualAnalysis) Validation {
	v := Validation{Before: before, After: after, DimensionDeltas: map[string]int{}}
	if before == nil || after == nil {
		v.Verdict = VerdictReject
		return v
	}

	v.ScoreDelta = after.OverallScore - before.OverallScore
	v.DimensionDeltas["hierarchy"] = after.Dimensions.Hierarchy - before.Dimensions.Hierarchy
	v.DimensionDeltas["typography"] = after.Dimensions.Typography - before.Dimensions.Typography
	v.DimensionDeltas["spacing"] = after.Dimensions.Spacing - before.Dimensions.Spacing
	v.DimensionDeltas["color"] = after.Dimensions.Color - before.Dimensions.Color
	v.DimensionDeltas["accessibility"] = after.Dimensions.Accessibility - before.Dimensions.Accessibility
	v.DimensionDeltas["brand"] = after.Dimensions.Brand - before.Dimensions.Brand

	threshold := r.cfg.AcceptThreshold
	if threshold <= 0 {
		threshold = 10
	}
	switch {
	case v.ScoreDelta >= threshold:
		v.Verdict = VerdictAccept
	case v.ScoreDelta > 0:
		v.Verdict = VerdictReview
	default:
		v.Verdict = VerdictReject
	}
	logging.Router("validation: delta=%+d verdict=%s", v.ScoreDelta, v.Verdict)
	return v
}

// stagesFor narrows the transform run to what the violation describes.
// An explicit stage parameter from the critic wins, then the endpoint's
// stage set, then the evidence text. Unrecognizable violations run every
// stage.
func stagesFor(v types.Violation, endpoint string) []string {
	if s, ok := v.Parameters["stage"]; ok && s != "" {
		return strings.Split(s, ",")
	}
	if stages, ok := endpointStages[endpoint]; ok {
		return append([]string(nil), stages...)
	}

	text := strings.ToLower(v.Location + " " + v.Evidence)
	var stages []string
	add := func(s string) {
		for _, have := range stages {
			if have == s {
				return
			}
		}
		stages = append(stages, s)
	}

	for keyword, stage := range stageKeywords {
		if strings.Contains(text, keyword) {
			add(stage)
		}
	}
	if len(stages) == 0 {
		return nil // nil means all stages
	}
	sort.Strings(stages)
	return stages
}

// endpointStages maps a critic endpoint to its stage set. The general
// enhance endpoint has no entry: its violations narrow by evidence text.
var endpointStages = map[string][]string{
	"enhance-typography":    {transform.StageTypography},
	"spacing-optimization":  {transform.StageSpacing},
	"analyze-accessibility": {transform.StageColors, transform.StageTypography},
}

var stageKeywords = map[string]string{
	"font":        transform.StageTypography,
	"weight":      transform.StageTypography,
	"line-height": transform.StageTypography,
	"color":       transform.StageColors,
	"contrast":    transform.StageColors,
	"padding":     transform.StageSpacing,
	"margin":      transform.StageSpacing,
	"gap":         transform.StageSpacing,
	"spacing":     transform.StageSpacing,
	"radius":      transform.StageRadius,
	"rounded":     transform.StageRadius,
	"shadow":      transform.StageElevation,
	"elevation":   transform.StageElevation,
	"animation":   transform.StageAnimations,
	"transition":  transform.StageAnimations,
	"gradient":    transform.StageGradients,
	"hover":       transform.StageStates,
	"focus":       transform.StageStates,
}

// Describe renders the plan for logs and CLI output.
func (p Plan) Describe() string {
	if len(p.Fixes) == 0 {
		return "no fixes planned"
	}
	var b strings.Builder
	for i, f := range p.Fixes {
		stages := "all stages"
		if len(f.Stages) > 0 {
			stages = strings.Join(f.Stages, ",")
		}
		fmt.Fprintf(&b, "%d. [%s] %s -> %s (%s)\n", i+1, f.Violation.Severity, f.Violation.Location, f.Endpoint, stages)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
