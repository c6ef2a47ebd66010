package transform

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/semaphore"

	"agentic/internal/config"
	"agentic/internal/logging"
	"agentic/internal/parser"
	"agentic/internal/tokens"
	"agentic/internal/types"
)

// Options select what one transform run may do. Zero values fall back to
// engine configuration; Stages nil means the full pipeline.
type Options struct {
	AutoApply         bool
	ApplyMode         string // ApplySafe, ApplyOff or ApplyAll; empty falls back to AutoApply
	MaxChanges        int
	Stages            []string
	OptimizationLevel int // 0 off, 1 compact, 2 compact+restructure
}

// Result is the outcome of one transform run. Output always holds valid
// bytes: the transformed source, or the original on any rejection path.
type Result struct {
	Output      []byte
	ChangeLog   types.ChangeLog
	Diagnostics []types.Diagnostic
}

// Engine runs the staged enhancement pipeline. It is stateless between
// calls and safe for concurrent use; each run owns its own parser.
// Concurrent runs are bounded to the configured worker count.
type Engine struct {
	policy  RulePolicy
	cfg     config.TransformConfig
	workers *semaphore.Weighted
}

// New creates an engine with the shipped rule policy.
func New(cfg config.TransformConfig) *Engine {
	n := cfg.WorkerCount
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return &Engine{policy: DefaultPolicy(), cfg: cfg, workers: semaphore.NewWeighted(int64(n))}
}

// Policy returns the active auto-apply table.
func (e *Engine) Policy() RulePolicy { return e.policy }

var stageFuncs = map[string]func(*stageContext){
	StageTypography: stageTypography,
	StageColors:     stageColors,
	StageSpacing:    stageSpacing,
	StageRadius:     stageRadius,
	StageElevation:  stageElevation,
	StageAnimations: stageAnimations,
	StageGradients:  stageGradients,
	StageStates:     stageStates,
}

// Transform runs the pipeline over one fragment against the bound brand
// snapshot. It never fails the request: parse errors, guardrail trips and
// missing brand context all come back as diagnostics with the original
// bytes.
func (e *Engine) Transform(ctx context.Context, frag types.Fragment, snap *tokens.Snapshot, opts Options) *Result {
	timer := logging.StartTimer(logging.CategoryTransform, "transform "+string(frag.CodeType))
	defer timer.Stop()

	res := &Result{Output: frag.Bytes}

	if err := e.workers.Acquire(ctx, 1); err != nil {
		res.Diagnostics = append(res.Diagnostics, types.Diagnostic{
			Kind:      types.DiagTimeout,
			Message:   "transform cancelled while queued: " + err.Error(),
			Component: "transform",
			Retryable: true,
		})
		return res
	}
	defer e.workers.Release(1)

	p := parser.New()
	defer p.Close()

	doc := p.Parse(ctx, frag)
	res.Diagnostics = append(res.Diagnostics, doc.Diagnostics...)
	if !doc.OK() {
		return res
	}
	if snap == nil {
		res.Diagnostics = append(res.Diagnostics, types.Diagnostic{
			Kind:      types.DiagUnresolvedBrand,
			Message:   "no brand pack bound, fragment returned unchanged",
			Component: "transform",
		})
		return res
	}

	selected := stageSet(opts.Stages)
	sc := &stageContext{doc: doc, snap: snap}
	for _, name := range StageOrder {
		if name == StageOptimization || !selected[name] {
			continue
		}
		stageFuncs[name](sc)
	}

	e.score(sc, doc, snap)

	mode := opts.ApplyMode
	if mode == "" {
		if opts.AutoApply {
			mode = ApplySafe
		} else {
			mode = ApplyOff
		}
	}

	vendor := types.IsVendorPath(frag.FilePathHint)
	maxChanges := opts.MaxChanges
	if maxChanges <= 0 {
		maxChanges = e.cfg.AutoApplyMaxChanges
	}

	applied, advisory, rejected := e.partition(sc.out, doc,
		mode != ApplyOff && !vendor, mode == ApplyAll, vendor, maxChanges, &res.Diagnostics)

	if len(applied) > 0 {
		edits := make([]types.Edit, len(applied))
		for i, a := range applied {
			edits[i] = a.Edit
		}
		out, err := parser.ApplyEdits(frag.Bytes, edits)
		if err == nil {
			reparsed := p.Parse(ctx, types.Fragment{CodeType: frag.CodeType, Bytes: out})
			if !reparsed.OK() {
				err = fmt.Errorf("post-edit re-parse failed")
			} else {
				res.Output = out
			}
		}
		if err != nil {
			// Whole-batch rejection: never emit bytes that no longer parse.
			res.Output = frag.Bytes
			for _, a := range applied {
				a.Applied = false
				a.Reason = err.Error()
				rejected = append(rejected, a)
			}
			applied = nil
			res.Diagnostics = append(res.Diagnostics, types.Diagnostic{
				Kind:      types.DiagGuardrailViolation,
				Message:   "transform batch rejected: " + err.Error(),
				Component: "transform",
			})
		}
	}

	if selected[StageOptimization] && opts.OptimizationLevel > 0 && !vendor && frag.CodeType == types.CodeCSS {
		applied = e.optimize(ctx, p, res, opts.OptimizationLevel, applied)
	}

	res.ChangeLog = types.ChangeLog{Applied: applied, Advisory: advisory, Rejected: rejected}
	logging.Transform("fragment %s: %d applied, %d advisory, %d rejected",
		frag.CodeType, len(applied), len(advisory), len(rejected))
	return res
}

func stageSet(names []string) map[string]bool {
	set := make(map[string]bool, len(StageOrder))
	if len(names) == 0 {
		for _, n := range StageOrder {
			set[n] = true
		}
		return set
	}
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return set
}

// score applies the confidence adjustments and the auto-safe flag to
// every proposal.
func (e *Engine) score(sc *stageContext, doc *parser.Document, snap *tokens.Snapshot) {
	counts := make(map[string]int, len(sc.out))
	for _, p := range sc.out {
		counts[p.edit.Before+"\x00"+p.edit.After]++
	}

	for i := range sc.out {
		p := &sc.out[i]
		conf := p.edit.Confidence

		if counts[p.edit.Before+"\x00"+p.edit.After] >= 2 {
			conf += boostConsistency
		}
		if p.ruleIdx >= 0 {
			rule := &doc.Rules[p.ruleIdx]
			d := declForSpan(rule, p.edit.Start, p.edit.End)
			if rule.InKeyframes || (d != nil && d.Important) {
				conf -= penaltyDanger
			}
			if p.edit.Kind == types.EditColorToken {
				if fg, bg := ruleColors(rule); fg != "" && bg != "" {
					if tokens.Contrast(fg, bg) >= aaContrastRatio {
						conf += boostContrast
					}
				}
			}
		}
		if p.tok != nil && snap.PrefersToken(p.tok.Name) {
			conf += boostOverride
		}

		p.edit.Confidence = clampConfidence(conf)
		p.edit.AutoSafe = e.policy.AutoSafe(p.edit.Kind, p.edit.Confidence)
	}
}

// partition sorts proposals into applied / advisory / rejected under the
// guardrails: AA contrast regression demotion, the auto-apply cap, and
// span conflict resolution in stage order.
func (e *Engine) partition(proposals []proposal, doc *parser.Document,
	autoApply, applyAll, vendor bool, maxChanges int, diags *[]types.Diagnostic,
) (applied, advisory, rejected []types.AppliedEdit) {
	var auto []proposal

	for _, p := range proposals {
		switch {
		case vendor:
			advisory = append(advisory, advisoryEdit(p.edit, "vendor path is never transformed"))
		case e.contrastBlocked(p, doc):
			*diags = append(*diags, types.Diagnostic{
				Kind:      types.DiagGuardrailViolation,
				Message:   fmt.Sprintf("%s: substitution would leave contrast below %.1f:1", p.edit.Anchor, aaContrastRatio),
				Component: "transform",
			})
			advisory = append(advisory, advisoryEdit(p.edit, "contrast guardrail"))
		case !autoApply:
			advisory = append(advisory, advisoryEdit(p.edit, "auto-apply disabled"))
		case !p.edit.AutoSafe && !applyAll:
			advisory = append(advisory, advisoryEdit(p.edit, "below auto-apply threshold"))
		default:
			auto = append(auto, p)
		}
	}

	// Highest confidence first; stage order then source order break ties.
	sort.SliceStable(auto, func(i, j int) bool {
		return auto[i].edit.Confidence > auto[j].edit.Confidence
	})

	var kept []proposal
	for _, p := range auto {
		if len(kept) >= maxChanges {
			advisory = append(advisory, advisoryEdit(p.edit,
				fmt.Sprintf("auto-apply cap of %d reached", maxChanges)))
			continue
		}
		conflict := ""
		for _, k := range kept {
			if p.edit.Start < k.edit.End && p.edit.End > k.edit.Start {
				conflict = k.edit.RuleID
				break
			}
		}
		if conflict != "" {
			rejected = append(rejected, advisoryEdit(p.edit, "span conflict with "+conflict))
			continue
		}
		kept = append(kept, p)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].edit.Start < kept[j].edit.Start })
	for _, p := range kept {
		applied = append(applied, types.AppliedEdit{Edit: p.edit, Applied: true})
	}
	return applied, advisory, rejected
}

// contrastBlocked reports whether substituting the proposal's token
// would leave the rule's fg/bg pair below AA without improving it. A
// pair that already fails never gets an auto-applied blessing; an edit
// that raises contrast is always allowed through.
func (e *Engine) contrastBlocked(p proposal, doc *parser.Document) bool {
	if p.edit.Kind != types.EditColorToken || p.ruleIdx < 0 || p.tok == nil {
		return false
	}
	rule := &doc.Rules[p.ruleIdx]
	d := declForSpan(rule, p.edit.Start, p.edit.End)
	if d == nil {
		return false
	}
	fg, bg := ruleColors(rule)
	if fg == "" || bg == "" {
		return false
	}
	pre := tokens.Contrast(fg, bg)

	switch d.Property {
	case "color":
		fg = p.tok.Raw
	case "background-color", "background":
		bg = p.tok.Raw
	default:
		return false
	}
	post := tokens.Contrast(fg, bg)
	return post > 0 && post < aaContrastRatio && post <= pre
}

// optimize runs the opt-in optimization stage on the post-substitution
// output. Level 2 restructuring happens first, then level 1 compaction;
// each step re-parses and backs out on failure.
func (e *Engine) optimize(ctx context.Context, p *parser.Parser, res *Result, level int, applied []types.AppliedEdit) []types.AppliedEdit {
	src := res.Output

	if level >= 2 {
		doc := p.Parse(ctx, types.Fragment{CodeType: types.CodeCSS, Bytes: src})
		if doc.OK() {
			edits := optimizationEdits(src, doc)
			if len(edits) > 0 {
				if out, err := parser.ApplyEdits(src, edits); err == nil {
					if p.Parse(ctx, types.Fragment{CodeType: types.CodeCSS, Bytes: out}).OK() {
						src = out
						for _, ed := range edits {
							applied = append(applied, types.AppliedEdit{Edit: ed, Applied: true})
						}
					}
				}
			}
		}
	}

	compacted := CompactCSS(src)
	if !bytes.Equal(compacted, src) {
		if p.Parse(ctx, types.Fragment{CodeType: types.CodeCSS, Bytes: compacted}).OK() {
			applied = append(applied, types.AppliedEdit{
				Edit: types.Edit{
					Kind:       types.EditOptimization,
					Start:      0,
					End:        len(src),
					Anchor:     "document",
					Before:     string(src),
					After:      string(compacted),
					Confidence: 1,
					RuleID:     "optimize/compact",
					AutoSafe:   true,
				},
				Applied: true,
			})
			src = compacted
		}
	}

	res.Output = src
	return applied
}

func advisoryEdit(e types.Edit, reason string) types.AppliedEdit {
	return types.AppliedEdit{Edit: e, Applied: false, Reason: reason}
}

func declForSpan(rule *parser.Rule, start, end int) *parser.Declaration {
	for i := range rule.Decls {
		if rule.Decls[i].ValStart <= start && end <= rule.Decls[i].ValEnd {
			return &rule.Decls[i]
		}
	}
	return nil
}

// ruleColors returns the literal foreground and background color values
// declared in one rule, empty when absent.
func ruleColors(rule *parser.Rule) (fg, bg string) {
	for _, d := range rule.Decls {
		switch d.Property {
		case "color":
			fg = d.Value
		case "background-color":
			bg = d.Value
		case "background":
			if bg == "" {
				bg = d.Value
			}
		}
	}
	return fg, bg
}
