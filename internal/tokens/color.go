package tokens

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NormalizeColor canonicalizes a CSS color literal into lowercase
// 8-digit hex with explicit alpha ("#rrggbbaa"). Supported inputs:
// 3/4/6/8 digit hex, rgb()/rgba(), hsl()/hsla() and a small named set.
// Returns ok=false for anything it cannot canonicalize; it never errors
// on malformed input, matching the resolver contract.
func NormalizeColor(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}

	if named, ok := namedColors[s]; ok {
		s = named
	}

	if strings.HasPrefix(s, "#") {
		return normalizeHex(s)
	}
	if strings.HasPrefix(s, "rgb(") || strings.HasPrefix(s, "rgba(") {
		return normalizeRGBFunc(s)
	}
	if strings.HasPrefix(s, "hsl(") || strings.HasPrefix(s, "hsla(") {
		return normalizeHSLFunc(s)
	}
	return "", false
}

// namedColors covers the handful of keywords that show up in real
// fragments. Anything else falls through unresolved.
var namedColors = map[string]string{
	"white":       "#ffffff",
	"black":       "#000000",
	"red":         "#ff0000",
	"green":       "#008000",
	"blue":        "#0000ff",
	"gray":        "#808080",
	"grey":        "#808080",
	"transparent": "#00000000",
}

func normalizeHex(s string) (string, bool) {
	hex := s[1:]
	switch len(hex) {
	case 3, 4:
		var b strings.Builder
		for _, c := range hex {
			b.WriteRune(c)
			b.WriteRune(c)
		}
		hex = b.String()
	case 6, 8:
		// already expanded
	default:
		return "", false
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	for _, c := range hex {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", false
		}
	}
	return "#" + hex, true
}

func normalizeRGBFunc(s string) (string, bool) {
	parts, ok := funcArgs(s)
	if !ok || len(parts) < 3 || len(parts) > 4 {
		return "", false
	}
	var rgb [3]int
	for i := 0; i < 3; i++ {
		v, err := parseChannel(parts[i])
		if err != nil {
			return "", false
		}
		rgb[i] = v
	}
	alpha := 255
	if len(parts) == 4 {
		a, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil || a < 0 || a > 1 {
			return "", false
		}
		alpha = int(math.Round(a * 255))
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", rgb[0], rgb[1], rgb[2], alpha), true
}

func parseChannel(s string) (int, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "%") {
		p, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0, err
		}
		return clamp255(int(math.Round(p / 100 * 255))), nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return clamp255(v), nil
}

func clamp255(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func normalizeHSLFunc(s string) (string, bool) {
	parts, ok := funcArgs(s)
	if !ok || len(parts) < 3 || len(parts) > 4 {
		return "", false
	}
	h, err1 := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(parts[0]), "deg"), 64)
	sv, err2 := parsePercent(parts[1])
	lv, err3 := parsePercent(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return "", false
	}
	alpha := 255
	if len(parts) == 4 {
		a, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil || a < 0 || a > 1 {
			return "", false
		}
		alpha = int(math.Round(a * 255))
	}
	r, g, b := hslToRGB(h, sv, lv)
	return fmt.Sprintf("#%02x%02x%02x%02x", r, g, b, alpha), true
}

func parsePercent(s string) (float64, error) {
	s = strings.TrimSpace(s)
	p, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, err
	}
	return p / 100, nil
}

func funcArgs(s string) ([]string, bool) {
	open := strings.IndexByte(s, '(')
	close := strings.LastIndexByte(s, ')')
	if open < 0 || close <= open {
		return nil, false
	}
	inner := s[open+1 : close]
	inner = strings.ReplaceAll(inner, "/", ",")
	var parts []string
	for _, p := range strings.FieldsFunc(inner, func(r rune) bool { return r == ',' || r == ' ' }) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts, true
}

// hslToRGB converts h in degrees, s/l in [0,1] to 8-bit channels.
func hslToRGB(h, s, l float64) (int, int, int) {
	h = math.Mod(math.Mod(h, 360)+360, 360)
	c := (1 - math.Abs(2*l-1)) * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := l - c/2

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return clamp255(int(math.Round((r + m) * 255))),
		clamp255(int(math.Round((g + m) * 255))),
		clamp255(int(math.Round((b + m) * 255)))
}

// channels extracts 8-bit sRGB channels from a canonical "#rrggbbaa" value.
func channels(canonical string) (r, g, b, a int, ok bool) {
	if len(canonical) != 9 || canonical[0] != '#' {
		return 0, 0, 0, 0, false
	}
	parse := func(s string) (int, bool) {
		v, err := strconv.ParseInt(s, 16, 32)
		if err != nil {
			return 0, false
		}
		return int(v), true
	}
	var okR, okG, okB, okA bool
	r, okR = parse(canonical[1:3])
	g, okG = parse(canonical[3:5])
	b, okB = parse(canonical[5:7])
	a, okA = parse(canonical[7:9])
	return r, g, b, a, okR && okG && okB && okA
}

// RelativeLuminance computes WCAG 2.1 relative luminance of a color.
// Accepts any literal NormalizeColor accepts; returns ok=false otherwise.
func RelativeLuminance(raw string) (float64, bool) {
	canonical, ok := NormalizeColor(raw)
	if !ok {
		return 0, false
	}
	r, g, b, _, ok := channels(canonical)
	if !ok {
		return 0, false
	}
	lin := func(c int) float64 {
		v := float64(c) / 255
		if v <= 0.03928 {
			return v / 12.92
		}
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return 0.2126*lin(r) + 0.7152*lin(g) + 0.0722*lin(b), true
}

// Contrast returns the WCAG contrast ratio between two colors in [1, 21].
// Unparseable inputs yield 0 rather than an error.
func Contrast(fg, bg string) float64 {
	lf, ok1 := RelativeLuminance(fg)
	lb, ok2 := RelativeLuminance(bg)
	if !ok1 || !ok2 {
		return 0
	}
	lighter, darker := lf, lb
	if darker > lighter {
		lighter, darker = darker, lighter
	}
	return (lighter + 0.05) / (darker + 0.05)
}

// ColorDistance returns a simple per-channel RGB distance between two
// colors, used to rank near (advisory-only) matches. 0 means identical.
func ColorDistance(a, b string) (float64, bool) {
	ca, ok1 := NormalizeColor(a)
	cb, ok2 := NormalizeColor(b)
	if !ok1 || !ok2 {
		return 0, false
	}
	r1, g1, b1, _, _ := channels(ca)
	r2, g2, b2, _, _ := channels(cb)
	dr := float64(r1 - r2)
	dg := float64(g1 - g2)
	db := float64(b1 - b2)
	return math.Sqrt(dr*dr + dg*dg + db*db), true
}
