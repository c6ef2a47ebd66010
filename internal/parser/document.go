// Package parser turns CSS, HTML, JSX/TSX and CSS-in-JS fragments into a
// uniform document model with byte-accurate spans, so the transform engine
// stays code-type-agnostic. Parsing is whole-or-fail: on failure the
// original bytes come back untouched with a parse-error diagnostic, never
// a request failure.
package parser

import (
	"fmt"
	"sort"

	"agentic/internal/types"
)

// Span is a half-open byte range [Start, End) into the fragment source.
type Span struct {
	Start int
	End   int
}

// Contains reports whether the span fully contains [start, end).
func (s Span) Contains(start, end int) bool {
	return start >= s.Start && end <= s.End
}

// Overlaps reports whether the span intersects [start, end).
func (s Span) Overlaps(start, end int) bool {
	return start < s.End && end > s.Start
}

// Declaration is one property:value pair with the absolute byte span of
// its value, so a rewrite replaces exactly the value text. DeclStart and
// DeclEnd cover the whole declaration including the trailing semicolon,
// used by the optimizer to drop or merge declarations wholesale.
type Declaration struct {
	Property  string
	Value     string
	ValStart  int
	ValEnd    int
	DeclStart int
	DeclEnd   int
	Important bool
}

// Rule is a selector block and its declarations. InKeyframes marks rules
// nested under @keyframes, which the engine treats as layout-sensitive.
type Rule struct {
	Selector    string
	Start       int
	End         int
	InKeyframes bool
	Decls       []Declaration
}

// ClassToken is one utility class inside a className literal.
type ClassToken struct {
	Name  string
	Start int
	End   int
}

// ClassSpan is one className string literal (or one branch of a ternary).
type ClassSpan struct {
	Start   int
	End     int
	Classes []ClassToken
}

// Document is the parsed view of a fragment. Rules come from CSS sources
// (including <style> blocks and style= attributes); Classes from JSX/TSX
// className expressions; Holes are opaque interpolation ranges that no
// edit may cross.
type Document struct {
	Fragment    types.Fragment
	Rules       []Rule
	Classes     []ClassSpan
	Holes       []Span
	Diagnostics []types.Diagnostic
}

// OK reports whether the fragment parsed cleanly.
func (d *Document) OK() bool {
	return !types.HasKind(d.Diagnostics, types.DiagParseError)
}

// SpanCrossesHole reports whether [start, end) intersects any opaque hole.
func (d *Document) SpanCrossesHole(start, end int) bool {
	for _, h := range d.Holes {
		if h.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// RuleAt returns the rule containing the byte offset, if any.
func (d *Document) RuleAt(offset int) *Rule {
	for i := range d.Rules {
		if offset >= d.Rules[i].Start && offset < d.Rules[i].End {
			return &d.Rules[i]
		}
	}
	return nil
}

// ApplyEdits replaces each edit's span with its After text, right to left
// so earlier offsets stay valid. Overlapping or out-of-bounds edits are an
// error: the engine guarantees a conflict-free batch before applying.
func ApplyEdits(src []byte, edits []types.Edit) ([]byte, error) {
	if len(edits) == 0 {
		return src, nil
	}

	sorted := make([]types.Edit, len(edits))
	copy(sorted, edits)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	for i, e := range sorted {
		if e.Start < 0 || e.End > len(src) || e.Start > e.End {
			return nil, fmt.Errorf("edit %q out of bounds [%d:%d] of %d", e.RuleID, e.Start, e.End, len(src))
		}
		if i > 0 && e.Start < sorted[i-1].End {
			return nil, fmt.Errorf("overlapping edits %q and %q", sorted[i-1].RuleID, e.RuleID)
		}
		if string(src[e.Start:e.End]) != e.Before {
			return nil, fmt.Errorf("edit %q stale: span text %q != before %q", e.RuleID, src[e.Start:e.End], e.Before)
		}
	}

	var out []byte
	prev := 0
	for _, e := range sorted {
		out = append(out, src[prev:e.Start]...)
		out = append(out, e.After...)
		prev = e.End
	}
	out = append(out, src[prev:]...)
	return out, nil
}

// parseErrorDoc builds the whole-or-fail result for an unparseable fragment.
func parseErrorDoc(frag types.Fragment, msg string) *Document {
	return &Document{
		Fragment: frag,
		Diagnostics: []types.Diagnostic{{
			Kind:      types.DiagParseError,
			Message:   msg,
			Component: "parser",
		}},
	}
}
