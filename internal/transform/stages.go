package transform

import (
	"fmt"
	"strings"

	"agentic/internal/parser"
	"agentic/internal/tokens"
	"agentic/internal/types"
)

// proposal is one candidate edit plus the context the scorer and
// guardrails need: the matched token and where in the document it lands.
type proposal struct {
	edit    types.Edit
	tok     *types.BrandToken // nil for optimization edits
	stage   string
	ruleIdx int // index into doc.Rules, -1 for class edits and insertions
}

// stageContext carries the parsed view of the current working source into
// each stage.
type stageContext struct {
	doc  *parser.Document
	snap *tokens.Snapshot
	out  []proposal
}

func (c *stageContext) propose(stage string, ruleIdx int, tok *types.BrandToken, e types.Edit) {
	if c.doc.SpanCrossesHole(e.Start, e.End) {
		return
	}
	if e.Before == e.After {
		return
	}
	c.out = append(c.out, proposal{edit: e, tok: tok, stage: stage, ruleIdx: ruleIdx})
}

// Property classification tables. A property belongs to exactly one
// stage, so stages never contend for the same value span.
var colorProperties = map[string]bool{
	"color": true, "background-color": true, "background": true,
	"border-color": true, "outline-color": true, "caret-color": true,
	"text-decoration-color": true, "fill": true, "stroke": true,
}

var spacingProperties = map[string]bool{
	"margin": true, "margin-top": true, "margin-right": true, "margin-bottom": true, "margin-left": true,
	"padding": true, "padding-top": true, "padding-right": true, "padding-bottom": true, "padding-left": true,
	"gap": true, "row-gap": true, "column-gap": true,
	"top": true, "right": true, "bottom": true, "left": true, "inset": true,
}

var radiusProperties = map[string]bool{
	"border-radius":              true,
	"border-top-left-radius":     true,
	"border-top-right-radius":    true,
	"border-bottom-left-radius":  true,
	"border-bottom-right-radius": true,
}

var durationProperties = map[string]bool{
	"transition-duration": true, "animation-duration": true,
	"transition-delay": true, "animation-delay": true,
}

var easingProperties = map[string]bool{
	"transition-timing-function": true, "animation-timing-function": true,
}

var animationShorthands = map[string]bool{
	"transition": true, "animation": true,
}

// =============================================================================
// STAGES
// =============================================================================

func stageTypography(c *stageContext) {
	for ri := range c.doc.Rules {
		rule := &c.doc.Rules[ri]
		for _, d := range rule.Decls {
			switch d.Property {
			case "font-size":
				resolveLengthValue(c, StageTypography, ri, rule, d, types.CatFontSize,
					types.EditTypography, "typography/size")
			case "font-family":
				if tok := matchFontFamily(c.snap, d.Value); tok != nil {
					c.propose(StageTypography, ri, tok, types.Edit{
						Kind:       types.EditTypography,
						Start:      d.ValStart,
						End:        d.ValEnd,
						Anchor:     anchor(rule, d),
						Before:     d.Value,
						After:      tok.Reference,
						Confidence: baseConfidence[types.EditTypography],
						RuleID:     "typography/family",
					})
				}
			}
		}
	}
}

func stageColors(c *stageContext) {
	for ri := range c.doc.Rules {
		rule := &c.doc.Rules[ri]
		for _, d := range rule.Decls {
			if !colorProperties[d.Property] || strings.HasPrefix(d.Value, "var(") {
				continue
			}
			if tok := c.snap.ResolveColor(d.Value); tok != nil {
				c.propose(StageColors, ri, tok, types.Edit{
					Kind:       types.EditColorToken,
					Start:      d.ValStart,
					End:        d.ValEnd,
					Anchor:     anchor(rule, d),
					Before:     d.Value,
					After:      tok.Reference,
					Confidence: baseConfidence[types.EditColorToken],
					RuleID:     "colors/exact",
				})
				continue
			}
			// Near misses are advisory suggestions, never auto.
			if tok, dist := c.snap.NearestColor(d.Value); tok != nil && dist >= 0 && dist <= nearColorMaxDistance {
				c.propose(StageColors, ri, tok, types.Edit{
					Kind:       types.EditColorToken,
					Start:      d.ValStart,
					End:        d.ValEnd,
					Anchor:     anchor(rule, d),
					Before:     d.Value,
					After:      tok.Reference,
					Confidence: 0.60,
					RuleID:     "colors/near",
				})
			}
		}
	}
	proposeClassMappings(c, StageColors, types.CatColor, func(raw string) *types.BrandToken {
		return c.snap.ResolveColor(raw)
	})
}

func stageSpacing(c *stageContext) {
	for ri := range c.doc.Rules {
		rule := &c.doc.Rules[ri]
		for _, d := range rule.Decls {
			if !spacingProperties[d.Property] {
				continue
			}
			resolveLengthValue(c, StageSpacing, ri, rule, d, types.CatSpacing,
				types.EditSpacingToken, "spacing/length")
		}
	}
	proposeClassMappings(c, StageSpacing, types.CatSpacing, func(raw string) *types.BrandToken {
		m := c.snap.ResolveLength(raw, types.CatSpacing)
		return m.Token
	})
}

func stageRadius(c *stageContext) {
	for ri := range c.doc.Rules {
		rule := &c.doc.Rules[ri]
		for _, d := range rule.Decls {
			if !radiusProperties[d.Property] {
				continue
			}
			resolveLengthValue(c, StageRadius, ri, rule, d, types.CatRadius,
				types.EditRadiusToken, "radius/length")
		}
	}
	proposeClassMappings(c, StageRadius, types.CatRadius, func(raw string) *types.BrandToken {
		m := c.snap.ResolveLength(raw, types.CatRadius)
		return m.Token
	})
}

func stageElevation(c *stageContext) {
	for ri := range c.doc.Rules {
		rule := &c.doc.Rules[ri]
		for _, d := range rule.Decls {
			if d.Property != "box-shadow" || strings.HasPrefix(d.Value, "var(") {
				continue
			}
			if tok := c.snap.ResolveShadow(d.Value); tok != nil {
				c.propose(StageElevation, ri, tok, types.Edit{
					Kind:       types.EditElevationToken,
					Start:      d.ValStart,
					End:        d.ValEnd,
					Anchor:     anchor(rule, d),
					Before:     d.Value,
					After:      tok.Reference,
					Confidence: baseConfidence[types.EditElevationToken],
					RuleID:     "elevation/shadow",
				})
			}
		}
	}
}

func stageAnimations(c *stageContext) {
	for ri := range c.doc.Rules {
		rule := &c.doc.Rules[ri]
		for _, d := range rule.Decls {
			switch {
			case durationProperties[d.Property]:
				for _, f := range splitFields(d.Value, d.ValStart) {
					proposeDurationOrEasing(c, ri, rule, d, f, true, false)
				}
			case easingProperties[d.Property]:
				for _, f := range splitFields(d.Value, d.ValStart) {
					proposeDurationOrEasing(c, ri, rule, d, f, false, true)
				}
			case animationShorthands[d.Property]:
				for _, f := range splitFields(d.Value, d.ValStart) {
					proposeDurationOrEasing(c, ri, rule, d, f, true, true)
				}
			}
		}
	}
}

func proposeDurationOrEasing(c *stageContext, ri int, rule *parser.Rule, d parser.Declaration, f field, tryDuration, tryEasing bool) {
	text := strings.TrimSuffix(f.text, ",")
	end := f.start + len(text)
	if strings.HasPrefix(text, "var(") || text == "" {
		return
	}
	if tryDuration {
		if m := c.snap.ResolveDuration(text); m.Token != nil {
			c.propose(StageAnimations, ri, m.Token, types.Edit{
				Kind:       types.EditAnimationToken,
				Start:      f.start,
				End:        end,
				Anchor:     anchor(rule, d),
				Before:     text,
				After:      m.Token.Reference,
				Confidence: baseConfidence[types.EditAnimationToken],
				RuleID:     "animations/duration",
			})
			return
		}
	}
	if tryEasing {
		if tok := c.snap.ResolveEasing(text); tok != nil {
			c.propose(StageAnimations, ri, tok, types.Edit{
				Kind:       types.EditAnimationToken,
				Start:      f.start,
				End:        end,
				Anchor:     anchor(rule, d),
				Before:     text,
				After:      tok.Reference,
				Confidence: baseConfidence[types.EditAnimationToken],
				RuleID:     "animations/easing",
			})
		}
	}
}

func stageGradients(c *stageContext) {
	for ri := range c.doc.Rules {
		rule := &c.doc.Rules[ri]
		for _, d := range rule.Decls {
			if d.Property != "background" && d.Property != "background-image" {
				continue
			}
			if !strings.Contains(d.Value, "-gradient(") || strings.HasPrefix(d.Value, "var(") {
				continue
			}
			if tok := c.snap.ResolveGradient(d.Value); tok != nil {
				c.propose(StageGradients, ri, tok, types.Edit{
					Kind:       types.EditGradientToken,
					Start:      d.ValStart,
					End:        d.ValEnd,
					Anchor:     anchor(rule, d),
					Before:     d.Value,
					After:      tok.Reference,
					Confidence: baseConfidence[types.EditGradientToken],
					RuleID:     "gradients/structural",
				})
			}
		}
	}
}

// stageStates suggests a focus-visible companion for hover-only
// interactive rules. Always advisory: selector synthesis is a design
// decision, not a mechanical substitution.
func stageStates(c *stageContext) {
	primary := primaryColorToken(c.snap)
	if primary == nil {
		return
	}
	selectors := make(map[string]bool, len(c.doc.Rules))
	for _, r := range c.doc.Rules {
		selectors[r.Selector] = true
	}
	for ri := range c.doc.Rules {
		rule := &c.doc.Rules[ri]
		if rule.InKeyframes || !strings.Contains(rule.Selector, ":hover") {
			continue
		}
		base := strings.ReplaceAll(rule.Selector, ":hover", "")
		if selectors[base+":focus-visible"] || selectors[base+":focus"] {
			continue
		}
		after := fmt.Sprintf("\n%s:focus-visible { outline: 2px solid %s; outline-offset: 2px; }",
			base, primary.Reference)
		c.propose(StageStates, ri, primary, types.Edit{
			Kind:       types.EditStateVariant,
			Start:      rule.End,
			End:        rule.End,
			Anchor:     base + ":focus-visible",
			Before:     "",
			After:      after,
			Confidence: baseConfidence[types.EditStateVariant],
			RuleID:     "states/focus-visible",
		})
	}
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// resolveLengthValue resolves a length value against the category's
// tokens. A multi-component value whose every component resolves becomes
// one shorthand edit ("16px 32px" reads as a single substitution);
// otherwise components are proposed independently, with ambiguous ones
// falling back to a nearest-token advisory.
func resolveLengthValue(c *stageContext, stage string, ri int, rule *parser.Rule, d parser.Declaration,
	cat types.TokenCategory, kind types.EditKind, ruleID string) {
	fields := splitFields(d.Value, d.ValStart)

	if len(fields) > 1 {
		refs := make([]string, 0, len(fields))
		var first *types.BrandToken
		for _, f := range fields {
			if strings.HasPrefix(f.text, "var(") || f.text == "/" {
				refs = nil
				break
			}
			m := c.snap.ResolveLength(f.text, cat)
			if m.Token == nil {
				refs = nil
				break
			}
			refs = append(refs, m.Token.Reference)
			if first == nil {
				first = m.Token
			}
		}
		if refs != nil {
			c.propose(stage, ri, first, types.Edit{
				Kind:       kind,
				Start:      d.ValStart,
				End:        d.ValEnd,
				Anchor:     anchor(rule, d),
				Before:     d.Value,
				After:      strings.Join(refs, " "),
				Confidence: baseConfidence[kind],
				RuleID:     ruleID,
			})
			return
		}
	}

	for _, f := range fields {
		if strings.HasPrefix(f.text, "var(") || f.text == "/" {
			continue
		}
		m := c.snap.ResolveLength(f.text, cat)
		switch {
		case m.Token != nil:
			c.propose(stage, ri, m.Token, types.Edit{
				Kind:       kind,
				Start:      f.start,
				End:        f.end,
				Anchor:     anchor(rule, d),
				Before:     f.text,
				After:      m.Token.Reference,
				Confidence: baseConfidence[kind],
				RuleID:     ruleID,
			})
		case m.Ambiguous:
			if tok, _ := c.snap.NearestLength(f.text, cat); tok != nil {
				c.propose(stage, ri, tok, types.Edit{
					Kind:       kind,
					Start:      f.start,
					End:        f.end,
					Anchor:     anchor(rule, d),
					Before:     f.text,
					After:      tok.Reference,
					Confidence: baseConfidence[kind] - penaltyAmbiguous,
					RuleID:     ruleID + "/ambiguous",
				})
			}
		}
	}
}

// proposeClassMappings maps Tailwind-style utility classes of one
// category to arbitrary-value token utilities.
func proposeClassMappings(c *stageContext, stage string, cat types.TokenCategory, resolve func(string) *types.BrandToken) {
	for _, span := range c.doc.Classes {
		for _, cls := range span.Classes {
			cand, ok := parser.ClassCandidateFor(cls)
			if !ok || cand.Category != cat {
				continue
			}
			tok := resolve(cand.RawValue)
			if tok == nil {
				continue
			}
			c.propose(stage, -1, tok, types.Edit{
				Kind:       types.EditClassMapping,
				Start:      cls.Start,
				End:        cls.End,
				Anchor:     "class:" + cls.Name,
				Before:     cls.Name,
				After:      cand.Replacement(tok.Reference),
				Confidence: baseConfidence[types.EditClassMapping],
				RuleID:     "classes/" + stage,
			})
		}
	}
}

func matchFontFamily(snap *tokens.Snapshot, value string) *types.BrandToken {
	if strings.HasPrefix(value, "var(") {
		return nil
	}
	want := primaryFamily(value)
	if want == "" {
		return nil
	}
	families := snap.FontFamilies()
	for i := range families {
		if primaryFamily(families[i].Raw) == want {
			return &families[i]
		}
	}
	return nil
}

func primaryFamily(list string) string {
	first, _, _ := strings.Cut(list, ",")
	return strings.ToLower(strings.Trim(strings.TrimSpace(first), "\"'"))
}

func primaryColorToken(snap *tokens.Snapshot) *types.BrandToken {
	var first *types.BrandToken
	for i, tok := range snap.Pack.Tokens {
		if tok.Category != types.CatColor {
			continue
		}
		if strings.Contains(tok.Name, "primary") {
			return &snap.Pack.Tokens[i]
		}
		if first == nil {
			first = &snap.Pack.Tokens[i]
		}
	}
	return first
}

func anchor(rule *parser.Rule, d parser.Declaration) string {
	return rule.Selector + "/" + d.Property
}

// field is one whitespace-delimited component of a declaration value,
// with its absolute span. Parenthesized groups stay intact.
type field struct {
	text  string
	start int
	end   int
}

func splitFields(value string, valStart int) []field {
	var out []field
	depth := 0
	i := 0
	for i < len(value) {
		for i < len(value) && isBlank(value[i]) {
			i++
		}
		start := i
		for i < len(value) {
			c := value[i]
			if c == '(' {
				depth++
			}
			if c == ')' && depth > 0 {
				depth--
			}
			if depth == 0 && isBlank(c) {
				break
			}
			i++
		}
		if i > start {
			out = append(out, field{
				text:  value[start:i],
				start: valStart + start,
				end:   valStart + i,
			})
		}
	}
	return out
}

func isBlank(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
