// Package tokens holds the canonical brand token model and the resolvers
// that match raw CSS literals against a brand pack. Resolution never
// errors: malformed or unmatched input yields "no match" and upstream
// parsers are responsible for well-formed raw values.
package tokens

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"agentic/internal/types"
)

// RootFontSizePx is the rem conversion base.
const RootFontSizePx = 16.0

// LengthTolerance is the relative numeric tolerance for length and shadow
// matching: a token is accepted when the distance is within 5% of the
// candidate value.
const LengthTolerance = 0.05

// LengthMatch is the result of a length resolution attempt.
type LengthMatch struct {
	Token     *types.BrandToken
	Ambiguous bool // two or more candidates tied inside tolerance
}

// Snapshot is an immutable, pre-indexed view of one brand pack resolved to
// a specific version. Snapshots are read-only after construction; upgrades
// publish a new snapshot through Resolver.Swap.
type Snapshot struct {
	Pack      types.BrandPack
	Overrides map[string]string

	colorsByHex  map[string][]types.BrandToken
	colors       []types.BrandToken
	lengths      map[types.TokenCategory][]lengthEntry
	shadows      []shadowEntry
	easings      map[string]types.BrandToken
	durations    []lengthEntry
	gradients    map[string]types.BrandToken
	fontFamilies []types.BrandToken
}

type lengthEntry struct {
	px  float64
	tok types.BrandToken
}

type shadowEntry struct {
	layers []Shadow
	tok    types.BrandToken
}

// NewSnapshot indexes a resolved brand pack for matching. Tokens whose raw
// value cannot be canonicalized for their category are kept for reference
// emission but excluded from matching.
func NewSnapshot(pack types.BrandPack, overrides map[string]string) *Snapshot {
	s := &Snapshot{
		Pack:        pack,
		Overrides:   overrides,
		colorsByHex: make(map[string][]types.BrandToken),
		lengths:     make(map[types.TokenCategory][]lengthEntry),
		easings:     make(map[string]types.BrandToken),
		gradients:   make(map[string]types.BrandToken),
	}

	for _, tok := range pack.Tokens {
		switch tok.Category {
		case types.CatColor:
			if canonical, ok := NormalizeColor(tok.Raw); ok {
				s.colorsByHex[canonical] = append(s.colorsByHex[canonical], tok)
				s.colors = append(s.colors, tok)
			}
		case types.CatSpacing, types.CatRadius, types.CatFontSize:
			if px, ok := ParseLengthPx(tok.Raw); ok {
				s.lengths[tok.Category] = append(s.lengths[tok.Category], lengthEntry{px: px, tok: tok})
			}
		case types.CatElevation:
			if layers, ok := ParseShadowList(tok.Raw); ok {
				s.shadows = append(s.shadows, shadowEntry{layers: layers, tok: tok})
			}
		case types.CatDuration:
			if ms, ok := ParseDurationMs(tok.Raw); ok {
				s.durations = append(s.durations, lengthEntry{px: ms, tok: tok})
			}
		case types.CatEasing:
			s.easings[normalizeEasing(tok.Raw)] = tok
		case types.CatGradient:
			s.gradients[normalizeGradient(tok.Raw)] = tok
		case types.CatFontFamily:
			s.fontFamilies = append(s.fontFamilies, tok)
		}
	}

	for cat := range s.lengths {
		entries := s.lengths[cat]
		sort.Slice(entries, func(i, j int) bool { return entries[i].px < entries[j].px })
		s.lengths[cat] = entries
	}
	return s
}

// ResolveColor resolves an exact color token match after normalization.
// Non-exact colors are never resolved here; see NearestColor for the
// advisory path.
func (s *Snapshot) ResolveColor(raw string) *types.BrandToken {
	canonical, ok := NormalizeColor(raw)
	if !ok {
		return nil
	}
	matches := s.colorsByHex[canonical]
	if len(matches) == 0 {
		return nil
	}
	tok := s.preferOverride(matches)
	return &tok
}

// NearestColor returns the closest color token and its RGB distance.
// Callers use it for advisory suggestions only.
func (s *Snapshot) NearestColor(raw string) (*types.BrandToken, float64) {
	var best *types.BrandToken
	bestDist := -1.0
	for i := range s.colors {
		d, ok := ColorDistance(raw, s.colors[i].Raw)
		if !ok {
			continue
		}
		if bestDist < 0 || d < bestDist {
			bestDist = d
			best = &s.colors[i]
		}
	}
	return best, bestDist
}

// ResolveLength resolves a px/rem literal against spacing, radius or
// font-size tokens. Multiple candidates inside tolerance yield no token
// (ambiguity guard) with Ambiguous set.
func (s *Snapshot) ResolveLength(raw string, category types.TokenCategory) LengthMatch {
	px, ok := ParseLengthPx(raw)
	if !ok {
		return LengthMatch{}
	}
	return s.matchNumeric(s.lengths[category], px)
}

// ResolveDuration resolves a ms/s literal against duration tokens.
func (s *Snapshot) ResolveDuration(raw string) LengthMatch {
	ms, ok := ParseDurationMs(raw)
	if !ok {
		return LengthMatch{}
	}
	return s.matchNumeric(s.durations, ms)
}

func (s *Snapshot) matchNumeric(entries []lengthEntry, value float64) LengthMatch {
	var hits []lengthEntry
	for _, e := range entries {
		if within(value, e.px, LengthTolerance) {
			hits = append(hits, e)
		}
	}
	switch len(hits) {
	case 0:
		return LengthMatch{}
	case 1:
		tok := hits[0].tok
		return LengthMatch{Token: &tok}
	default:
		// An exact hit beats near misses even when several candidates sit
		// inside tolerance; true ties stay unresolved.
		for _, h := range hits {
			if h.px == value {
				tok := h.tok
				return LengthMatch{Token: &tok}
			}
		}
		return LengthMatch{Ambiguous: true}
	}
}

// NearestLength returns the closest token in the category by absolute
// pixel distance, ignoring tolerance. Callers use it to suggest a token
// when ResolveLength came back ambiguous.
func (s *Snapshot) NearestLength(raw string, category types.TokenCategory) (*types.BrandToken, float64) {
	px, ok := ParseLengthPx(raw)
	if !ok {
		return nil, 0
	}
	var best *types.BrandToken
	bestDist := -1.0
	entries := s.lengths[category]
	for i := range entries {
		d := math.Abs(entries[i].px - px)
		if bestDist < 0 || d < bestDist {
			bestDist = d
			tok := entries[i].tok
			best = &tok
		}
	}
	return best, bestDist
}

// ResolveShadow resolves a box-shadow value by structural equality with
// 5% tolerance per numeric field.
func (s *Snapshot) ResolveShadow(raw string) *types.BrandToken {
	layers, ok := ParseShadowList(raw)
	if !ok {
		return nil
	}
	for _, e := range s.shadows {
		if ShadowsEqual(layers, e.layers, LengthTolerance) {
			tok := e.tok
			return &tok
		}
	}
	return nil
}

// ResolveEasing resolves an easing keyword or cubic-bezier() value.
func (s *Snapshot) ResolveEasing(raw string) *types.BrandToken {
	if tok, ok := s.easings[normalizeEasing(raw)]; ok {
		return &tok
	}
	return nil
}

// ResolveGradient resolves a gradient by normalized structural string.
// Gradient matches are advisory-only at the rule layer.
func (s *Snapshot) ResolveGradient(raw string) *types.BrandToken {
	if tok, ok := s.gradients[normalizeGradient(raw)]; ok {
		return &tok
	}
	return nil
}

// FontFamilies returns the pack's font-family tokens.
func (s *Snapshot) FontFamilies() []types.BrandToken {
	return s.fontFamilies
}

// PrefersToken reports whether the project overrides explicitly prefer the
// given token name.
func (s *Snapshot) PrefersToken(name string) bool {
	if s.Overrides == nil {
		return false
	}
	for _, v := range s.Overrides {
		if v == name {
			return true
		}
	}
	return false
}

func (s *Snapshot) preferOverride(matches []types.BrandToken) types.BrandToken {
	for _, m := range matches {
		if s.PrefersToken(m.Name) {
			return m
		}
	}
	return matches[0]
}

// CSSVariables renders the pack as a :root custom-property block. Capture
// inlines this so screenshots reflect the brand.
func (s *Snapshot) CSSVariables() string {
	var b strings.Builder
	b.WriteString(":root {\n")
	for _, tok := range s.Pack.Tokens {
		name := strings.TrimSuffix(strings.TrimPrefix(tok.Reference, "var("), ")")
		if !strings.HasPrefix(name, "--") {
			name = fmt.Sprintf("--%s-%s", tok.Category, tok.Name)
		}
		fmt.Fprintf(&b, "  %s: %s;\n", name, tok.Raw)
	}
	b.WriteString("}\n")
	return b.String()
}

// ParseLengthPx parses "Npx" or "Nrem" (root 16) into pixels. Bare "0" is
// accepted; unitless non-zero values are not.
func ParseLengthPx(raw string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "0" {
		return 0, true
	}
	switch {
	case strings.HasSuffix(s, "px"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "px"), 64)
		if err != nil {
			return 0, false
		}
		return v, true
	case strings.HasSuffix(s, "rem"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "rem"), 64)
		if err != nil {
			return 0, false
		}
		return v * RootFontSizePx, true
	}
	return 0, false
}

// ParseDurationMs parses "Nms" or "Ns" into milliseconds.
func ParseDurationMs(raw string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasSuffix(s, "ms"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "ms"), 64)
		if err != nil {
			return 0, false
		}
		return v, true
	case strings.HasSuffix(s, "s"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
		if err != nil {
			return 0, false
		}
		return v * 1000, true
	}
	return 0, false
}

func normalizeEasing(raw string) string {
	s := strings.ToLower(raw)
	s = strings.ReplaceAll(s, " ", "")
	return s
}

func normalizeGradient(raw string) string {
	s := strings.ToLower(raw)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, ", ", ",")
	return s
}

// Resolver publishes the active snapshot. Reads are lock-free; brand-pack
// upgrades swap in a new immutable snapshot atomically.
type Resolver struct {
	snap atomic.Pointer[Snapshot]
}

// NewResolver creates a resolver with an initial snapshot (may be nil for
// degraded startup).
func NewResolver(snap *Snapshot) *Resolver {
	r := &Resolver{}
	if snap != nil {
		r.snap.Store(snap)
	}
	return r
}

// Current returns the active snapshot, or nil when no pack is bound.
func (r *Resolver) Current() *Snapshot {
	return r.snap.Load()
}

// Swap publishes a new snapshot.
func (r *Resolver) Swap(snap *Snapshot) {
	r.snap.Store(snap)
}
