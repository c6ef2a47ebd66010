package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentic/internal/types"
)

func testPack() types.BrandPack {
	return types.BrandPack{
		ID:      "acme",
		Version: "1.2.0",
		Tokens: []types.BrandToken{
			{Category: types.CatColor, Name: "primary", Raw: "#1b3668", Reference: "var(--color-primary)"},
			{Category: types.CatColor, Name: "surface", Raw: "#ffffff", Reference: "var(--color-surface)"},
			{Category: types.CatSpacing, Name: "spacing-md", Raw: "16px", Reference: "var(--spacing-md)"},
			{Category: types.CatSpacing, Name: "spacing-lg", Raw: "32px", Reference: "var(--spacing-lg)"},
			{Category: types.CatRadius, Name: "radius-sm", Raw: "4px", Reference: "var(--radius-sm)"},
			{Category: types.CatElevation, Name: "elevation-1", Raw: "0 1px 3px rgba(0,0,0,0.2)", Reference: "var(--elevation-1)"},
			{Category: types.CatDuration, Name: "duration-fast", Raw: "150ms", Reference: "var(--duration-fast)"},
			{Category: types.CatEasing, Name: "ease-standard", Raw: "cubic-bezier(0.4, 0, 0.2, 1)", Reference: "var(--ease-standard)"},
		},
	}
}

func TestNormalizeColor(t *testing.T) {
	cases := map[string]string{
		"#1B3668":             "#1b3668ff",
		"#fff":                "#ffffffff",
		"#abcd":               "#aabbccdd",
		"rgb(27, 54, 104)":    "#1b3668ff",
		"rgba(255,255,255,1)": "#ffffffff",
		"rgb(100%, 0%, 0%)":   "#ff0000ff",
		"hsl(0, 100%, 50%)":   "#ff0000ff",
		"white":               "#ffffffff",
	}
	for in, want := range cases {
		got, ok := NormalizeColor(in)
		require.True(t, ok, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}

	for _, bad := range []string{"", "#12", "notacolor", "rgb(a,b,c)", "url(#x)"} {
		_, ok := NormalizeColor(bad)
		assert.False(t, ok, "input %q should not normalize", bad)
	}
}

func TestResolveColor_ExactOnly(t *testing.T) {
	snap := NewSnapshot(testPack(), nil)

	t.Run("case-folded hex matches", func(t *testing.T) {
		tok := snap.ResolveColor("#1B3668")
		require.NotNil(t, tok)
		assert.Equal(t, "primary", tok.Name)
	})

	t.Run("rgb form matches", func(t *testing.T) {
		tok := snap.ResolveColor("rgb(27,54,104)")
		require.NotNil(t, tok)
		assert.Equal(t, "primary", tok.Name)
	})

	t.Run("near color does not match", func(t *testing.T) {
		assert.Nil(t, snap.ResolveColor("#1b3667"))
	})

	t.Run("nearest color for advisory", func(t *testing.T) {
		tok, dist := snap.NearestColor("#1b3667")
		require.NotNil(t, tok)
		assert.Equal(t, "primary", tok.Name)
		assert.Greater(t, dist, 0.0)
	})
}

func TestResolveLength(t *testing.T) {
	snap := NewSnapshot(testPack(), nil)

	t.Run("within 5 percent tolerance", func(t *testing.T) {
		m := snap.ResolveLength("16.5px", types.CatSpacing)
		require.NotNil(t, m.Token)
		assert.Equal(t, "spacing-md", m.Token.Name)
	})

	t.Run("rem converts at root 16", func(t *testing.T) {
		m := snap.ResolveLength("2rem", types.CatSpacing)
		require.NotNil(t, m.Token)
		assert.Equal(t, "spacing-lg", m.Token.Name)
	})

	t.Run("outside tolerance yields nothing", func(t *testing.T) {
		m := snap.ResolveLength("20px", types.CatSpacing)
		assert.Nil(t, m.Token)
		assert.False(t, m.Ambiguous)
	})

	t.Run("category separation", func(t *testing.T) {
		m := snap.ResolveLength("4px", types.CatSpacing)
		assert.Nil(t, m.Token)
		m = snap.ResolveLength("4px", types.CatRadius)
		require.NotNil(t, m.Token)
		assert.Equal(t, "radius-sm", m.Token.Name)
	})
}

func TestResolveLength_AmbiguityGuard(t *testing.T) {
	pack := testPack()
	pack.Tokens = append(pack.Tokens,
		types.BrandToken{Category: types.CatSpacing, Name: "spacing-sm", Raw: "8px", Reference: "var(--spacing-sm)"},
		types.BrandToken{Category: types.CatSpacing, Name: "spacing-sm2", Raw: "8.1px", Reference: "var(--spacing-sm2)"},
	)
	snap := NewSnapshot(pack, nil)

	t.Run("two candidates inside tolerance resolve nothing", func(t *testing.T) {
		m := snap.ResolveLength("8.05px", types.CatSpacing)
		assert.Nil(t, m.Token)
		assert.True(t, m.Ambiguous)
	})

	t.Run("exact hit breaks the tie", func(t *testing.T) {
		m := snap.ResolveLength("8px", types.CatSpacing)
		require.NotNil(t, m.Token)
		assert.Equal(t, "spacing-sm", m.Token.Name)
	})
}

func TestResolveShadow(t *testing.T) {
	snap := NewSnapshot(testPack(), nil)

	t.Run("structural match within tolerance", func(t *testing.T) {
		tok := snap.ResolveShadow("0 1px 3px rgba(0, 0, 0, 0.2)")
		require.NotNil(t, tok)
		assert.Equal(t, "elevation-1", tok.Name)
	})

	t.Run("different blur misses", func(t *testing.T) {
		assert.Nil(t, snap.ResolveShadow("0 1px 8px rgba(0,0,0,0.2)"))
	})

	t.Run("different color misses", func(t *testing.T) {
		assert.Nil(t, snap.ResolveShadow("0 1px 3px rgba(0,0,0,0.5)"))
	})
}

func TestResolveDurationAndEasing(t *testing.T) {
	snap := NewSnapshot(testPack(), nil)

	m := snap.ResolveDuration("0.15s")
	require.NotNil(t, m.Token)
	assert.Equal(t, "duration-fast", m.Token.Name)

	tok := snap.ResolveEasing("cubic-bezier(0.4,0,0.2,1)")
	require.NotNil(t, tok)
	assert.Equal(t, "ease-standard", tok.Name)
}

func TestContrast(t *testing.T) {
	t.Run("black on white is 21", func(t *testing.T) {
		assert.InDelta(t, 21.0, Contrast("#000000", "#ffffff"), 0.01)
	})

	t.Run("symmetric", func(t *testing.T) {
		assert.InDelta(t, Contrast("#1b3668", "#ffffff"), Contrast("#ffffff", "#1b3668"), 1e-9)
	})

	t.Run("white on light background fails AA", func(t *testing.T) {
		ratio := Contrast("#ffffff", "#ffeecc")
		assert.Less(t, ratio, 4.5)
	})

	t.Run("unparseable yields zero", func(t *testing.T) {
		assert.Equal(t, 0.0, Contrast("nope", "#ffffff"))
	})
}

func TestOverridePreference(t *testing.T) {
	pack := testPack()
	pack.Tokens = append(pack.Tokens,
		types.BrandToken{Category: types.CatColor, Name: "brand-blue", Raw: "#1b3668", Reference: "var(--color-brand-blue)"},
	)
	snap := NewSnapshot(pack, map[string]string{"color.preferred": "brand-blue"})

	tok := snap.ResolveColor("#1b3668")
	require.NotNil(t, tok)
	assert.Equal(t, "brand-blue", tok.Name)
	assert.True(t, snap.PrefersToken("brand-blue"))
	assert.False(t, snap.PrefersToken("primary"))
}

func TestResolverSwapIsAtomic(t *testing.T) {
	snapA := NewSnapshot(testPack(), nil)
	r := NewResolver(snapA)
	require.Same(t, snapA, r.Current())

	packB := testPack()
	packB.Version = "2.0.0"
	snapB := NewSnapshot(packB, nil)
	r.Swap(snapB)
	assert.Same(t, snapB, r.Current())
	assert.Equal(t, "2.0.0", r.Current().Pack.Version)
}

func TestCSSVariables(t *testing.T) {
	snap := NewSnapshot(testPack(), nil)
	css := snap.CSSVariables()
	assert.Contains(t, css, "--color-primary: #1b3668;")
	assert.Contains(t, css, "--spacing-md: 16px;")
	assert.Contains(t, css, ":root {")
}
