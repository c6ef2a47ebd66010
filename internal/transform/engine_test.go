package transform

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentic/internal/config"
	"agentic/internal/tokens"
	"agentic/internal/types"
)

func testSnapshot() *tokens.Snapshot {
	pack := types.BrandPack{
		ID:      "acme-brand",
		Version: "2.1.0",
		Tokens: []types.BrandToken{
			{Category: types.CatColor, Name: "primary", Raw: "#1b3668", Reference: "var(--color-primary)"},
			{Category: types.CatColor, Name: "muted", Raw: "#8a8a8a", Reference: "var(--color-muted)"},
			{Category: types.CatSpacing, Name: "spacing-md", Raw: "16px", Reference: "var(--spacing-md)"},
			{Category: types.CatSpacing, Name: "spacing-lg", Raw: "32px", Reference: "var(--spacing-lg)"},
			{Category: types.CatRadius, Name: "radius-sm", Raw: "4px", Reference: "var(--radius-sm)"},
			{Category: types.CatDuration, Name: "duration-fast", Raw: "150ms", Reference: "var(--duration-fast)"},
			{Category: types.CatEasing, Name: "ease-standard", Raw: "ease-in-out", Reference: "var(--ease-standard)"},
			{Category: types.CatFontFamily, Name: "font-body", Raw: "Inter, sans-serif", Reference: "var(--font-body)"},
		},
	}
	return tokens.NewSnapshot(pack, nil)
}

func newTestEngine() *Engine {
	return New(config.Default().Transform)
}

func run(t *testing.T, src string, codeType types.CodeType, opts Options) *Result {
	t.Helper()
	return newTestEngine().Transform(context.Background(),
		types.Fragment{CodeType: codeType, Bytes: []byte(src)}, testSnapshot(), opts)
}

func TestTransform_ExactSubstitutions(t *testing.T) {
	src := ".btn { color: #1b3668; padding: 16px 32px; border-radius: 4px; }"
	res := run(t, src, types.CodeCSS, Options{AutoApply: true})

	assert.Equal(t,
		".btn { color: var(--color-primary); padding: var(--spacing-md) var(--spacing-lg); border-radius: var(--radius-sm); }",
		string(res.Output))
	assert.Len(t, res.ChangeLog.Applied, 3)
	assert.Empty(t, res.ChangeLog.Rejected)
}

func TestTransform_ShorthandIsOneEdit(t *testing.T) {
	res := run(t, ".card { padding: 16px 32px; }", types.CodeCSS, Options{AutoApply: true})

	assert.Equal(t, ".card { padding: var(--spacing-md) var(--spacing-lg); }", string(res.Output))
	require.Len(t, res.ChangeLog.Applied, 1)
	ed := res.ChangeLog.Applied[0]
	assert.Equal(t, "16px 32px", ed.Before)
	assert.Equal(t, "var(--spacing-md) var(--spacing-lg)", ed.After)
	assert.Equal(t, ".card/padding", ed.Anchor)
}

func TestTransform_ShorthandPartialResolvesPerComponent(t *testing.T) {
	// 12px matches no token, so each component stands alone and only the
	// resolvable one is applied.
	res := run(t, ".card { padding: 16px 12px; }", types.CodeCSS, Options{AutoApply: true})

	assert.Equal(t, ".card { padding: var(--spacing-md) 12px; }", string(res.Output))
	require.Len(t, res.ChangeLog.Applied, 1)
	assert.Equal(t, "16px", res.ChangeLog.Applied[0].Before)
}

func TestTransform_Idempotent(t *testing.T) {
	src := ".btn { color: #1b3668; padding: 16px; }"
	first := run(t, src, types.CodeCSS, Options{AutoApply: true})
	require.NotEmpty(t, first.ChangeLog.Applied)

	second := run(t, string(first.Output), types.CodeCSS, Options{AutoApply: true})
	assert.Equal(t, string(first.Output), string(second.Output))
	assert.True(t, second.ChangeLog.Empty())
}

func TestTransform_Deterministic(t *testing.T) {
	src := ".a { color: #1b3668; } .b { padding: 16px; margin: 32px; }"
	opts := Options{AutoApply: true}
	one := run(t, src, types.CodeCSS, opts)
	two := run(t, src, types.CodeCSS, opts)

	assert.Equal(t, string(one.Output), string(two.Output))
	assert.Empty(t, cmp.Diff(one.ChangeLog, two.ChangeLog))
}

func TestTransform_AutoApplyCap(t *testing.T) {
	var b strings.Builder
	for _, sel := range []string{".a", ".b", ".c", ".d", ".e", ".f"} {
		b.WriteString(sel + " { color: #1b3668; }\n")
	}
	res := run(t, b.String(), types.CodeCSS, Options{AutoApply: true})

	assert.Len(t, res.ChangeLog.Applied, 5)
	require.Len(t, res.ChangeLog.Advisory, 1)
	assert.Contains(t, res.ChangeLog.Advisory[0].Reason, "auto-apply cap")
	// The demoted edit is the lowest-priority one: last in source order.
	assert.Equal(t, ".f/color", res.ChangeLog.Advisory[0].Anchor)
}

func TestTransform_AutoApplyDisabled(t *testing.T) {
	res := run(t, ".a { color: #1b3668; }", types.CodeCSS, Options{AutoApply: false})
	assert.True(t, res.ChangeLog.Empty())
	require.Len(t, res.ChangeLog.Advisory, 1)
	assert.Equal(t, "auto-apply disabled", res.ChangeLog.Advisory[0].Reason)
	assert.Equal(t, ".a { color: #1b3668; }", string(res.Output))
}

func TestTransform_ImportantDemoted(t *testing.T) {
	res := run(t, ".a { color: #1b3668 !important; }", types.CodeCSS, Options{AutoApply: true})
	assert.True(t, res.ChangeLog.Empty())
	require.Len(t, res.ChangeLog.Advisory, 1)
	assert.Less(t, res.ChangeLog.Advisory[0].Confidence, 0.90)
}

func TestTransform_AmbiguousLengthIsAdvisory(t *testing.T) {
	pack := types.BrandPack{
		ID:      "amb",
		Version: "1.0.0",
		Tokens: []types.BrandToken{
			{Category: types.CatSpacing, Name: "spacing-a", Raw: "8px", Reference: "var(--spacing-a)"},
			{Category: types.CatSpacing, Name: "spacing-b", Raw: "8.2px", Reference: "var(--spacing-b)"},
		},
	}
	res := newTestEngine().Transform(context.Background(),
		types.Fragment{CodeType: types.CodeCSS, Bytes: []byte(".a { padding: 8.1px; }")},
		tokens.NewSnapshot(pack, nil), Options{AutoApply: true})

	assert.True(t, res.ChangeLog.Empty())
	require.Len(t, res.ChangeLog.Advisory, 1)
	adv := res.ChangeLog.Advisory[0]
	assert.Equal(t, "spacing/length/ambiguous", adv.RuleID)
	assert.InDelta(t, 0.70, adv.Confidence, 0.001)
}

func TestTransform_VendorPathNeverTransformed(t *testing.T) {
	frag := types.Fragment{
		CodeType:     types.CodeCSS,
		Bytes:        []byte(".a { color: #1b3668; }"),
		FilePathHint: "node_modules/widget/styles.css",
	}
	res := newTestEngine().Transform(context.Background(), frag, testSnapshot(), Options{AutoApply: true})

	assert.Equal(t, string(frag.Bytes), string(res.Output))
	assert.True(t, res.ChangeLog.Empty())
	require.NotEmpty(t, res.ChangeLog.Advisory)
	assert.Contains(t, res.ChangeLog.Advisory[0].Reason, "vendor")
}

func TestTransform_ContrastGuardrail(t *testing.T) {
	// #767676 on white clears AA at 4.54:1; the nearest token #8a8a8a
	// would land at ~3.4:1, so the suggestion is demoted.
	src := ".t { color: #767676; background-color: #ffffff; }"
	res := run(t, src, types.CodeCSS, Options{AutoApply: true})

	assert.Equal(t, src, string(res.Output))
	require.Len(t, res.ChangeLog.Advisory, 1)
	assert.Equal(t, "contrast guardrail", res.ChangeLog.Advisory[0].Reason)
	assert.True(t, types.HasKind(res.Diagnostics, types.DiagGuardrailViolation))
}

func TestTransform_ContrastGuardrailOnFailingPair(t *testing.T) {
	// The literal matches the token exactly, so the substitution keeps the
	// failing ~1.2:1 pair failing. An exact hit is no license to bless it.
	pack := types.BrandPack{
		ID:      "pale",
		Version: "1.0.0",
		Tokens: []types.BrandToken{
			{Category: types.CatColor, Name: "white", Raw: "#ffffff", Reference: "var(--color-white)"},
		},
	}
	src := ".warn { color: #fff; background: #ffeecc; }"
	res := newTestEngine().Transform(context.Background(),
		types.Fragment{CodeType: types.CodeCSS, Bytes: []byte(src)},
		tokens.NewSnapshot(pack, nil), Options{AutoApply: true})

	assert.Equal(t, src, string(res.Output))
	assert.Empty(t, res.ChangeLog.Applied)
	require.Len(t, res.ChangeLog.Advisory, 1)
	assert.Equal(t, "contrast guardrail", res.ChangeLog.Advisory[0].Reason)
	assert.True(t, types.HasKind(res.Diagnostics, types.DiagGuardrailViolation))
}

func TestTransform_ContrastImprovementPasses(t *testing.T) {
	// #9a9a9a on white fails AA; the suggested #8a8a8a is darker and
	// raises contrast, so the guardrail stays quiet and the proposal is
	// demoted only by its near-match confidence.
	src := ".t { color: #9a9a9a; background-color: #ffffff; }"
	res := run(t, src, types.CodeCSS, Options{AutoApply: true})

	require.Len(t, res.ChangeLog.Advisory, 1)
	assert.Equal(t, "below auto-apply threshold", res.ChangeLog.Advisory[0].Reason)
	assert.False(t, types.HasKind(res.Diagnostics, types.DiagGuardrailViolation))
}

func TestTransform_ApplyModeAll(t *testing.T) {
	// !important drags the confidence below the auto floor; all mode
	// applies it anyway.
	src := ".a { color: #1b3668 !important; }"
	safe := run(t, src, types.CodeCSS, Options{ApplyMode: ApplySafe})
	require.Len(t, safe.ChangeLog.Advisory, 1)
	assert.Equal(t, src, string(safe.Output))

	all := run(t, src, types.CodeCSS, Options{ApplyMode: ApplyAll})
	assert.Equal(t, ".a { color: var(--color-primary) !important; }", string(all.Output))
	require.Len(t, all.ChangeLog.Applied, 1)
}

func TestTransform_ApplyModeAllRespectsGuardrails(t *testing.T) {
	src := ".t { color: #767676; background-color: #ffffff; }"
	res := run(t, src, types.CodeCSS, Options{ApplyMode: ApplyAll})

	assert.Equal(t, src, string(res.Output), "contrast guardrail holds in all mode")
	assert.True(t, types.HasKind(res.Diagnostics, types.DiagGuardrailViolation))
}

func TestTransform_ApplyModeOff(t *testing.T) {
	res := run(t, ".a { color: #1b3668; }", types.CodeCSS, Options{ApplyMode: ApplyOff, AutoApply: true})
	assert.True(t, res.ChangeLog.Empty())
	require.Len(t, res.ChangeLog.Advisory, 1)
	assert.Equal(t, "auto-apply disabled", res.ChangeLog.Advisory[0].Reason)
}

func TestTransform_CancelledContextReturnsOriginal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := ".a { color: #1b3668; }"
	res := newTestEngine().Transform(ctx,
		types.Fragment{CodeType: types.CodeCSS, Bytes: []byte(src)}, testSnapshot(), Options{AutoApply: true})

	assert.Equal(t, src, string(res.Output))
	assert.True(t, res.ChangeLog.Empty())
	assert.True(t, types.HasKind(res.Diagnostics, types.DiagTimeout))
}

func TestTransform_AnimationShorthand(t *testing.T) {
	src := ".x { transition: all 150ms ease-in-out; }"
	res := run(t, src, types.CodeCSS, Options{AutoApply: true})

	assert.Equal(t, ".x { transition: all var(--duration-fast) var(--ease-standard); }", string(res.Output))
	assert.Len(t, res.ChangeLog.Applied, 2)
}

func TestTransform_FontFamily(t *testing.T) {
	src := ".p { font-family: Inter, sans-serif; }"
	res := run(t, src, types.CodeCSS, Options{AutoApply: true})
	assert.Equal(t, ".p { font-family: var(--font-body); }", string(res.Output))
}

func TestTransform_NearColorAdvisoryOnly(t *testing.T) {
	// Close to primary but not exact: suggested, never applied.
	res := run(t, ".a { color: #1c3769; }", types.CodeCSS, Options{AutoApply: true})
	assert.True(t, res.ChangeLog.Empty())
	require.Len(t, res.ChangeLog.Advisory, 1)
	assert.Equal(t, "colors/near", res.ChangeLog.Advisory[0].RuleID)
	assert.Equal(t, "var(--color-primary)", res.ChangeLog.Advisory[0].After)
}

func TestTransform_HTMLRoundTrip(t *testing.T) {
	src := `<div><style>.a{color:#1b3668}</style><span style="padding: 16px">x</span></div>`
	res := run(t, src, types.CodeHTML, Options{AutoApply: true})
	assert.Equal(t,
		`<div><style>.a{color:var(--color-primary)}</style><span style="padding: var(--spacing-md)">x</span></div>`,
		string(res.Output))
}

func TestTransform_JSXClassMapping(t *testing.T) {
	src := `const B = () => <button className="p-4 flex">go</button>;`
	res := run(t, src, types.CodeJSX, Options{AutoApply: true})

	assert.Equal(t, `const B = () => <button className="p-[var(--spacing-md)] flex">go</button>;`, string(res.Output))
	require.Len(t, res.ChangeLog.Applied, 1)
	assert.Equal(t, types.EditClassMapping, res.ChangeLog.Applied[0].Kind)
}

func TestTransform_JSXTernaryPreserved(t *testing.T) {
	src := `const B = ({on}) => <div className={on ? "p-4" : "p-8"}>x</div>;`
	res := run(t, src, types.CodeJSX, Options{AutoApply: true})

	// Both branches substituted; the ternary shape itself is untouched.
	out := string(res.Output)
	assert.Contains(t, out, `on ? "p-[var(--spacing-md)]" : "p-[var(--spacing-lg)]"`)
}

func TestTransform_ParseErrorReturnsOriginal(t *testing.T) {
	src := ".a { color: "
	res := run(t, src, types.CodeCSS, Options{AutoApply: true})
	assert.Equal(t, src, string(res.Output))
	assert.True(t, types.HasKind(res.Diagnostics, types.DiagParseError))
	assert.True(t, res.ChangeLog.Empty())
}

func TestTransform_NoSnapshot(t *testing.T) {
	res := newTestEngine().Transform(context.Background(),
		types.Fragment{CodeType: types.CodeCSS, Bytes: []byte(".a { color: red; }")},
		nil, Options{AutoApply: true})
	assert.True(t, types.HasKind(res.Diagnostics, types.DiagUnresolvedBrand))
	assert.Equal(t, ".a { color: red; }", string(res.Output))
}

func TestTransform_StageFilter(t *testing.T) {
	src := ".a { color: #1b3668; padding: 16px; }"
	res := run(t, src, types.CodeCSS, Options{AutoApply: true, Stages: []string{StageColors}})

	assert.Equal(t, ".a { color: var(--color-primary); padding: 16px; }", string(res.Output))
	assert.Len(t, res.ChangeLog.Applied, 1)
}

func TestTransform_StatesAdvisory(t *testing.T) {
	src := ".btn:hover { color: #1b3668; }"
	res := run(t, src, types.CodeCSS, Options{AutoApply: true})

	var found bool
	for _, adv := range res.ChangeLog.Advisory {
		if adv.RuleID == "states/focus-visible" {
			found = true
			assert.Contains(t, adv.After, ".btn:focus-visible")
		}
	}
	assert.True(t, found, "expected a focus-visible suggestion")
}

func TestOptimization_Level2(t *testing.T) {
	src := ".a { margin-top: 4px; margin-right: 4px; margin-bottom: 4px; margin-left: 4px; color: red; color: blue; /* note */ }"
	res := run(t, src, types.CodeCSS, Options{AutoApply: true, OptimizationLevel: 2})

	assert.Equal(t, ".a{margin:4px 4px 4px 4px;color:blue;}", string(res.Output))

	var ruleIDs []string
	for _, a := range res.ChangeLog.Applied {
		ruleIDs = append(ruleIDs, a.RuleID)
	}
	assert.Contains(t, ruleIDs, "optimize/duplicate")
	assert.Contains(t, ruleIDs, "optimize/shorthand")
	assert.Contains(t, ruleIDs, "optimize/compact")
}

func TestOptimization_Idempotent(t *testing.T) {
	src := ".a { color: red; /* x */ }\n\n.b { margin: 0 }"
	opts := Options{AutoApply: true, OptimizationLevel: 2}
	first := run(t, src, types.CodeCSS, opts)
	second := run(t, string(first.Output), types.CodeCSS, opts)

	assert.Equal(t, string(first.Output), string(second.Output))
	assert.True(t, second.ChangeLog.Empty())
}

func TestCompactCSS(t *testing.T) {
	t.Run("strips comments and whitespace", func(t *testing.T) {
		got := CompactCSS([]byte("/* hdr */\n.a {\n  color: red;\n}\n"))
		assert.Equal(t, ".a{color:red;}", string(got))
	})
	t.Run("preserves strings", func(t *testing.T) {
		got := CompactCSS([]byte(`.a { content: "a  b"; }`))
		assert.Equal(t, `.a{content:"a  b";}`, string(got))
	})
	t.Run("preserves descendant combinators", func(t *testing.T) {
		got := CompactCSS([]byte(".a .b { margin: 4px 8px; }"))
		assert.Equal(t, ".a .b{margin:4px 8px;}", string(got))
	})
	t.Run("idempotent", func(t *testing.T) {
		once := CompactCSS([]byte(".a > .b { color: red }\n.c{}\n"))
		twice := CompactCSS(once)
		assert.Equal(t, string(once), string(twice))
	})
}

func TestRulePolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.AutoSafe(types.EditColorToken, 0.95))
	assert.False(t, p.AutoSafe(types.EditColorToken, 0.85))
	assert.False(t, p.AutoSafe(types.EditGradientToken, 1.0))
	assert.False(t, p.AutoSafe(types.EditStateVariant, 1.0))
	assert.False(t, p.AutoSafe(types.EditKind("unknown"), 1.0))
}
