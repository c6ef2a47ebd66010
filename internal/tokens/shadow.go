package tokens

import (
	"strconv"
	"strings"
)

// Shadow is the structural form of a box-shadow layer: offsets, blur,
// spread and color. Numeric fields are pixels.
type Shadow struct {
	Inset   bool
	OffsetX float64
	OffsetY float64
	Blur    float64
	Spread  float64
	Color   string // canonical hex, may be empty
}

// ParseShadow parses a single box-shadow layer. Multi-layer shadows
// (comma separated) are compared layer by layer by the caller.
func ParseShadow(raw string) (Shadow, bool) {
	var sh Shadow
	fields := splitShadowFields(raw)
	if len(fields) == 0 {
		return sh, false
	}

	var nums []float64
	for _, f := range fields {
		lf := strings.ToLower(f)
		if lf == "inset" {
			sh.Inset = true
			continue
		}
		if v, ok := parsePxField(lf); ok {
			nums = append(nums, v)
			continue
		}
		if canonical, ok := NormalizeColor(f); ok {
			sh.Color = canonical
			continue
		}
		return sh, false
	}

	// offset-x and offset-y are mandatory; blur and spread optional.
	if len(nums) < 2 || len(nums) > 4 {
		return sh, false
	}
	sh.OffsetX = nums[0]
	sh.OffsetY = nums[1]
	if len(nums) > 2 {
		sh.Blur = nums[2]
	}
	if len(nums) > 3 {
		sh.Spread = nums[3]
	}
	return sh, true
}

// ParseShadowList parses a full comma-separated box-shadow value.
func ParseShadowList(raw string) ([]Shadow, bool) {
	layers := splitTopLevel(raw, ',')
	out := make([]Shadow, 0, len(layers))
	for _, layer := range layers {
		sh, ok := ParseShadow(layer)
		if !ok {
			return nil, false
		}
		out = append(out, sh)
	}
	return out, len(out) > 0
}

// ShadowsEqual reports structural equality between two shadow lists within
// the given relative tolerance per numeric field. Colors compare exactly
// after normalization.
func ShadowsEqual(a, b []Shadow, tolerance float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Inset != b[i].Inset {
			return false
		}
		if !within(a[i].OffsetX, b[i].OffsetX, tolerance) ||
			!within(a[i].OffsetY, b[i].OffsetY, tolerance) ||
			!within(a[i].Blur, b[i].Blur, tolerance) ||
			!within(a[i].Spread, b[i].Spread, tolerance) {
			return false
		}
		if a[i].Color != b[i].Color {
			return false
		}
	}
	return true
}

// within applies relative tolerance against the candidate value, with an
// absolute floor so zero fields still compare.
func within(raw, candidate, tolerance float64) bool {
	diff := raw - candidate
	if diff < 0 {
		diff = -diff
	}
	bound := candidate * tolerance
	if bound < 0 {
		bound = -bound
	}
	if bound < 0.01 {
		bound = 0.01
	}
	return diff <= bound
}

func parsePxField(s string) (float64, bool) {
	if s == "0" {
		return 0, true
	}
	if !strings.HasSuffix(s, "px") {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "px"), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// splitShadowFields splits a shadow layer on spaces, keeping color
// functions like rgba(0,0,0,.2) intact.
func splitShadowFields(raw string) []string {
	return splitTopLevel(strings.TrimSpace(raw), ' ')
}

// splitTopLevel splits on sep outside parentheses.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				if part := strings.TrimSpace(s[start:i]); part != "" {
					out = append(out, part)
				}
				start = i + 1
			}
		}
	}
	if part := strings.TrimSpace(s[start:]); part != "" {
		out = append(out, part)
	}
	return out
}
