// Package transform is the deterministic enhancement engine: it runs a
// fixed stage pipeline over a parsed fragment, proposes token
// substitutions against the bound brand pack, scores each proposal, and
// applies the auto-safe subset under guardrails. Same input, same pack,
// same policy: same output.
package transform

import (
	"agentic/internal/types"
)

// EngineVersion participates in cache signatures; bump on any change to
// the pipeline or guardrails that can alter output bytes.
const EngineVersion = "1.3.0"

// RulesetVersion participates in cache signatures; bump when rule
// behavior, confidences, or the auto-apply table change.
const RulesetVersion = "8"

// Apply modes for Options.ApplyMode. Safe applies the auto-safe subset,
// off demotes everything to advisory, all bypasses the confidence floors
// (hard guardrails still hold).
const (
	ApplySafe = "safe"
	ApplyOff  = "off"
	ApplyAll  = "all"
)

// Stage names, in pipeline order. Options.Stages and router guidance
// select by these names.
const (
	StageTypography   = "typography"
	StageColors       = "colors"
	StageSpacing      = "spacing"
	StageRadius       = "radius"
	StageElevation    = "elevation"
	StageAnimations   = "animations"
	StageGradients    = "gradients"
	StageStates       = "states"
	StageOptimization = "optimization"
)

// StageOrder is the fixed pipeline order. Each stage sees the output of
// the previous one; within a stage, proposals follow source order.
var StageOrder = []string{
	StageTypography,
	StageColors,
	StageSpacing,
	StageRadius,
	StageElevation,
	StageAnimations,
	StageGradients,
	StageStates,
	StageOptimization,
}

// Confidence adjustments. Applied after the base confidence, saturating
// into [0, 1].
const (
	boostConsistency = 0.05 // same substitution repeats in the fragment
	boostContrast    = 0.05 // fg/bg pair in the rule clears AA
	boostOverride    = 0.05 // project overrides prefer this token
	penaltyDanger    = 0.10 // !important or inside @keyframes
	penaltyAmbiguous = 0.20 // resolution tied, nearest token suggested
)

// nearColorMaxDistance bounds advisory near-miss color suggestions
// (euclidean RGB, max possible ~441).
const nearColorMaxDistance = 48.0

// aaContrastRatio is the WCAG AA threshold for normal text.
const aaContrastRatio = 4.5

// RulePolicy is the versioned auto-apply table: per edit kind, the
// confidence floor below which a proposal is advisory, and whether the
// kind is ever auto-applied at all. The policy is part of the engine's
// deterministic surface; it never varies per request.
type RulePolicy struct {
	Floors    map[types.EditKind]float64
	NeverAuto map[types.EditKind]bool
}

// DefaultPolicy returns the shipped auto-apply table.
func DefaultPolicy() RulePolicy {
	return RulePolicy{
		Floors: map[types.EditKind]float64{
			types.EditColorToken:     0.90,
			types.EditTypography:     0.90,
			types.EditSpacingToken:   0.85,
			types.EditRadiusToken:    0.85,
			types.EditElevationToken: 0.85,
			types.EditAnimationToken: 0.85,
			types.EditClassMapping:   0.90,
			types.EditOptimization:   1.00,
		},
		NeverAuto: map[types.EditKind]bool{
			types.EditGradientToken: true,
			types.EditStateVariant:  true,
		},
	}
}

// AutoSafe reports whether a proposal of the given kind and confidence
// may be auto-applied.
func (p RulePolicy) AutoSafe(kind types.EditKind, confidence float64) bool {
	if p.NeverAuto[kind] {
		return false
	}
	floor, ok := p.Floors[kind]
	if !ok {
		return false
	}
	return confidence >= floor
}

// Base confidences per rule class, before boosters.
var baseConfidence = map[types.EditKind]float64{
	types.EditColorToken:     0.95,
	types.EditTypography:     0.90,
	types.EditSpacingToken:   0.90,
	types.EditRadiusToken:    0.90,
	types.EditElevationToken: 0.90,
	types.EditAnimationToken: 0.90,
	types.EditClassMapping:   0.90,
	types.EditGradientToken:  0.60,
	types.EditStateVariant:   0.50,
	types.EditOptimization:   1.00,
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
