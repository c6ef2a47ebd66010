package transform

import (
	"strings"

	"agentic/internal/parser"
	"agentic/internal/types"
)

// The optimization stage is opt-in and idempotent. Level 1 compacts
// whitespace and strips comments; level 2 additionally merges duplicate
// declarations (last one wins) and collapses complete four-sided longhand
// sets into shorthand. Levels are cumulative.

var shorthandGroups = map[string][4]string{
	"margin":  {"margin-top", "margin-right", "margin-bottom", "margin-left"},
	"padding": {"padding-top", "padding-right", "padding-bottom", "padding-left"},
}

// optimizationEdits produces the level-2 structural edits for a parsed
// document. Spans reference the document's source bytes.
func optimizationEdits(src []byte, doc *parser.Document) []types.Edit {
	var edits []types.Edit
	for ri := range doc.Rules {
		rule := &doc.Rules[ri]
		edits = append(edits, duplicateMergeEdits(src, rule)...)
		edits = append(edits, shorthandCollapseEdits(src, rule)...)
	}
	return edits
}

// duplicateMergeEdits deletes every earlier occurrence of a repeated
// property within one rule. An !important earlier declaration still wins
// over a plain later one, so those pairs are left alone.
func duplicateMergeEdits(src []byte, rule *parser.Rule) []types.Edit {
	last := make(map[string]int, len(rule.Decls))
	for i, d := range rule.Decls {
		last[d.Property] = i
	}

	var edits []types.Edit
	for i, d := range rule.Decls {
		if last[d.Property] == i {
			continue
		}
		if d.Important && !rule.Decls[last[d.Property]].Important {
			continue
		}
		edits = append(edits, deleteDeclEdit(src, rule, d, "optimize/duplicate"))
	}
	return edits
}

// shorthandCollapseEdits rewrites a complete top/right/bottom/left
// longhand set as its shorthand, keeping the first declaration's slot.
func shorthandCollapseEdits(src []byte, rule *parser.Rule) []types.Edit {
	counts := make(map[string]int, len(rule.Decls))
	for _, d := range rule.Decls {
		counts[d.Property]++
	}

	var edits []types.Edit
	for short, sides := range shorthandGroups {
		if counts[short] > 0 {
			continue
		}
		complete := true
		byProp := make(map[string]parser.Declaration, 4)
		for _, side := range sides {
			if counts[side] != 1 {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		usable := true
		for _, d := range rule.Decls {
			for _, side := range sides {
				if d.Property == side {
					if d.Important || strings.Contains(d.Value, "(") {
						usable = false
					}
					byProp[side] = d
				}
			}
		}
		if !usable {
			continue
		}

		// Earliest longhand keeps the slot; the rest are deleted.
		first := byProp[sides[0]]
		for _, side := range sides[1:] {
			if byProp[side].DeclStart < first.DeclStart {
				first = byProp[side]
			}
		}
		value := byProp[sides[0]].Value + " " + byProp[sides[1]].Value + " " +
			byProp[sides[2]].Value + " " + byProp[sides[3]].Value
		before := string(src[first.DeclStart:first.DeclEnd])
		after := short + ": " + value
		if strings.HasSuffix(before, ";") {
			after += ";"
		}
		edits = append(edits, types.Edit{
			Kind:       types.EditOptimization,
			Start:      first.DeclStart,
			End:        first.DeclEnd,
			Anchor:     rule.Selector + "/" + short,
			Before:     before,
			After:      after,
			Confidence: 1,
			RuleID:     "optimize/shorthand",
			AutoSafe:   true,
		})
		for _, side := range sides {
			d := byProp[side]
			if d.DeclStart == first.DeclStart {
				continue
			}
			edits = append(edits, deleteDeclEdit(src, rule, d, "optimize/shorthand"))
		}
	}
	return edits
}

func deleteDeclEdit(src []byte, rule *parser.Rule, d parser.Declaration, ruleID string) types.Edit {
	return types.Edit{
		Kind:       types.EditOptimization,
		Start:      d.DeclStart,
		End:        d.DeclEnd,
		Anchor:     rule.Selector + "/" + d.Property,
		Before:     string(src[d.DeclStart:d.DeclEnd]),
		After:      "",
		Confidence: 1,
		RuleID:     ruleID,
		AutoSafe:   true,
	}
}

// CompactCSS strips comments and collapses whitespace while preserving
// string literals. Running it on its own output is a no-op.
func CompactCSS(src []byte) []byte {
	var out []byte
	var quote byte
	i := 0
	for i < len(src) {
		c := src[i]

		if quote != 0 {
			out = append(out, c)
			if c == quote && (i == 0 || src[i-1] != '\\') {
				quote = 0
			}
			i++
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			out = append(out, c)
			i++
			continue
		}
		if c == '/' && i+1 < len(src) && src[i+1] == '*' {
			i += 2
			for i+1 < len(src) && !(src[i] == '*' && src[i+1] == '/') {
				i++
			}
			i += 2
			if i > len(src) {
				i = len(src)
			}
			continue
		}
		if isBlank(c) {
			j := i
			for j < len(src) && isBlank(src[j]) {
				j++
			}
			// Skip trailing comments so the separator decision sees the
			// next real token.
			if j+1 < len(src) && src[j] == '/' && src[j+1] == '*' {
				i = j
				continue
			}
			if keepSeparator(out, src, j) {
				out = append(out, ' ')
			}
			i = j
			continue
		}
		out = append(out, c)
		i++
	}
	return out
}

// keepSeparator decides whether a whitespace run carries meaning, based
// on the last emitted byte and the next input byte.
func keepSeparator(out []byte, src []byte, next int) bool {
	if len(out) == 0 || next >= len(src) {
		return false
	}
	prev := out[len(out)-1]
	switch prev {
	case '{', '}', ';', ':', ',', '(':
		return false
	}
	switch src[next] {
	case '{', '}', ';', ',', ')':
		return false
	}
	return true
}
