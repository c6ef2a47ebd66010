package parser

import (
	"fmt"
	"strconv"
	"strings"

	"agentic/internal/types"
)

// ClassCandidate is a Tailwind-style utility class that maps to a brand
// token category. The engine resolves RawValue against the pack; unmapped
// classes are left intact.
type ClassCandidate struct {
	Class    ClassToken
	Category types.TokenCategory
	RawValue string // CSS literal equivalent, e.g. "16px" or "#1b3668"
	Prefix   string // utility prefix, e.g. "p", "bg", "rounded"
}

// Replacement renders the brand-token equivalent as an arbitrary-value
// utility, e.g. "p-[var(--spacing-md)]".
func (c ClassCandidate) Replacement(tokenRef string) string {
	return c.Prefix + "-[" + tokenRef + "]"
}

// spacingPrefixes are utilities on the 4px Tailwind scale.
var spacingPrefixes = map[string]bool{
	"p": true, "px": true, "py": true, "pt": true, "pr": true, "pb": true, "pl": true,
	"m": true, "mx": true, "my": true, "mt": true, "mr": true, "mb": true, "ml": true,
	"gap": true, "gap-x": true, "gap-y": true, "space-x": true, "space-y": true,
}

// colorPrefixes are utilities that take an arbitrary color value.
var colorPrefixes = map[string]bool{
	"bg": true, "text": true, "border": true, "ring": true, "fill": true, "stroke": true,
}

// roundedScale maps the named radius utilities to pixels.
var roundedScale = map[string]string{
	"":     "4px",
	"sm":   "2px",
	"md":   "6px",
	"lg":   "8px",
	"xl":   "12px",
	"2xl":  "16px",
	"3xl":  "24px",
	"full": "9999px",
}

// ClassCandidateFor maps one utility class to a token category via the
// static table. Returns ok=false for anything unmapped.
func ClassCandidateFor(tok ClassToken) (ClassCandidate, bool) {
	name := tok.Name

	// Arbitrary values: prefix-[value]
	if open := strings.Index(name, "-["); open > 0 && strings.HasSuffix(name, "]") {
		prefix := name[:open]
		value := name[open+2 : len(name)-1]
		if strings.HasPrefix(value, "var(") {
			return ClassCandidate{}, false // already tokenized
		}
		switch {
		case spacingPrefixes[prefix]:
			return ClassCandidate{Class: tok, Category: types.CatSpacing, RawValue: value, Prefix: prefix}, true
		case colorPrefixes[prefix] && strings.HasPrefix(value, "#"):
			return ClassCandidate{Class: tok, Category: types.CatColor, RawValue: value, Prefix: prefix}, true
		case prefix == "rounded" || strings.HasPrefix(prefix, "rounded-"):
			return ClassCandidate{Class: tok, Category: types.CatRadius, RawValue: value, Prefix: prefix}, true
		}
		return ClassCandidate{}, false
	}

	// rounded and rounded-{size}
	if name == "rounded" {
		return ClassCandidate{Class: tok, Category: types.CatRadius, RawValue: roundedScale[""], Prefix: "rounded"}, true
	}
	if rest, ok := strings.CutPrefix(name, "rounded-"); ok {
		if px, found := roundedScale[rest]; found {
			return ClassCandidate{Class: tok, Category: types.CatRadius, RawValue: px, Prefix: "rounded"}, true
		}
		return ClassCandidate{}, false
	}

	// Numeric spacing scale: prefix-N where N*4 = px (half steps allowed).
	if dash := strings.LastIndexByte(name, '-'); dash > 0 {
		prefix := name[:dash]
		if spacingPrefixes[prefix] {
			if n, err := strconv.ParseFloat(name[dash+1:], 64); err == nil && n >= 0 {
				return ClassCandidate{
					Class:    tok,
					Category: types.CatSpacing,
					RawValue: formatPx(n * 4),
					Prefix:   prefix,
				}, true
			}
		}
	}

	return ClassCandidate{}, false
}

func formatPx(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%dpx", int64(v))
	}
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}
