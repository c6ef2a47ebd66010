package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentic/internal/types"
)

func parse(t *testing.T, codeType types.CodeType, src string) *Document {
	t.Helper()
	p := New()
	t.Cleanup(p.Close)
	return p.Parse(context.Background(), types.Fragment{CodeType: codeType, Bytes: []byte(src)})
}

func TestCSSParser_Declarations(t *testing.T) {
	src := ".btn { color: #1B3668; padding: 16px 32px; }\n.card{margin:8px !important}"
	doc := parse(t, types.CodeCSS, src)
	require.True(t, doc.OK())
	require.Len(t, doc.Rules, 2)

	btn := doc.Rules[0]
	assert.Equal(t, ".btn", btn.Selector)
	require.Len(t, btn.Decls, 2)
	assert.Equal(t, "color", btn.Decls[0].Property)
	assert.Equal(t, "#1B3668", btn.Decls[0].Value)
	assert.Equal(t, "#1B3668", src[btn.Decls[0].ValStart:btn.Decls[0].ValEnd])
	assert.Equal(t, "16px 32px", btn.Decls[1].Value)

	card := doc.Rules[1]
	require.Len(t, card.Decls, 1)
	assert.True(t, card.Decls[0].Important)
	assert.Equal(t, "8px", card.Decls[0].Value)
}

func TestCSSParser_PreservesCommentsViaSpans(t *testing.T) {
	src := "/* header */\n.a { color: red; /* inline */ }\n"
	doc := parse(t, types.CodeCSS, src)
	require.True(t, doc.OK())
	require.Len(t, doc.Rules, 1)

	d := doc.Rules[0].Decls[0]
	out, err := ApplyEdits([]byte(src), []types.Edit{{
		Start: d.ValStart, End: d.ValEnd, Before: "red", After: "var(--color-primary)", RuleID: "t",
	}})
	require.NoError(t, err)
	assert.Equal(t, "/* header */\n.a { color: var(--color-primary); /* inline */ }\n", string(out))
}

func TestCSSParser_Keyframes(t *testing.T) {
	src := "@keyframes spin { from { transform: rotate(0); } to { transform: rotate(360deg); } }"
	doc := parse(t, types.CodeCSS, src)
	require.True(t, doc.OK())
	require.NotEmpty(t, doc.Rules)
	for _, r := range doc.Rules {
		assert.True(t, r.InKeyframes, "rule %q should be marked in-keyframes", r.Selector)
	}
}

func TestCSSParser_MediaQuery(t *testing.T) {
	src := "@media (min-width: 768px) { .a { padding: 16px; } }"
	doc := parse(t, types.CodeCSS, src)
	require.True(t, doc.OK())
	require.Len(t, doc.Rules, 1)
	assert.Equal(t, ".a", doc.Rules[0].Selector)
	assert.False(t, doc.Rules[0].InKeyframes)
}

func TestCSSParser_ParseError(t *testing.T) {
	doc := parse(t, types.CodeCSS, ".btn { color: ")
	assert.False(t, doc.OK())
	assert.True(t, types.HasKind(doc.Diagnostics, types.DiagParseError))
	assert.Empty(t, doc.Rules)
}

func TestHTMLParser_StyleBlocks(t *testing.T) {
	src := "<html><head><style>.a { color: #fff; }</style></head><body><p>hi</p></body></html>"
	doc := parse(t, types.CodeHTML, src)
	require.True(t, doc.OK())
	require.Len(t, doc.Rules, 1)

	d := doc.Rules[0].Decls[0]
	assert.Equal(t, "color", d.Property)
	assert.Equal(t, "#fff", src[d.ValStart:d.ValEnd])
}

func TestHTMLParser_ResplicePreservesDocument(t *testing.T) {
	src := "<div><style>.a{color:#fff}</style><span style=\"padding: 16px\">x</span></div>"
	doc := parse(t, types.CodeHTML, src)
	require.True(t, doc.OK())
	require.Len(t, doc.Rules, 2)

	style := doc.Rules[0].Decls[0]
	inline := doc.Rules[1].Decls[0]
	assert.Equal(t, "inline:span", doc.Rules[1].Selector)

	out, err := ApplyEdits([]byte(src), []types.Edit{
		{Start: style.ValStart, End: style.ValEnd, Before: "#fff", After: "var(--c)", RuleID: "a"},
		{Start: inline.ValStart, End: inline.ValEnd, Before: "16px", After: "var(--s)", RuleID: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "<div><style>.a{color:var(--c)}</style><span style=\"padding: var(--s)\">x</span></div>", string(out))
}

func TestJSXParser_ClassNameString(t *testing.T) {
	src := `const B = () => <button className="p-4 bg-[#1b3668] custom">go</button>;`
	doc := parse(t, types.CodeJSX, src)
	require.True(t, doc.OK())
	require.Len(t, doc.Classes, 1)

	classes := doc.Classes[0].Classes
	require.Len(t, classes, 3)
	assert.Equal(t, "p-4", classes[0].Name)
	assert.Equal(t, "bg-[#1b3668]", classes[1].Name)
	assert.Equal(t, "p-4", src[classes[0].Start:classes[0].End])
}

func TestJSXParser_ClassNameTernary(t *testing.T) {
	src := `const B = ({on}) => <div className={on ? "p-4" : "p-8"}>x</div>;`
	doc := parse(t, types.CodeJSX, src)
	require.True(t, doc.OK())
	require.Len(t, doc.Classes, 2)
	assert.Equal(t, "p-4", doc.Classes[0].Classes[0].Name)
	assert.Equal(t, "p-8", doc.Classes[1].Classes[0].Name)
}

func TestJSXParser_ClassNameTemplate(t *testing.T) {
	src := "const B = () => <div className={`p-4 ${extra} m-2`}>x</div>;"
	doc := parse(t, types.CodeJSX, src)
	require.True(t, doc.OK())
	require.Len(t, doc.Holes, 1)

	var names []string
	for _, span := range doc.Classes {
		for _, c := range span.Classes {
			names = append(names, c.Name)
		}
	}
	assert.Equal(t, []string{"p-4", "m-2"}, names)

	// The interpolation must be an opaque hole.
	hole := doc.Holes[0]
	assert.Equal(t, "${extra}", src[hole.Start:hole.End])
}

func TestJSXParser_TSX(t *testing.T) {
	src := `const B: React.FC = () => <button className="p-4">go</button>;`
	doc := parse(t, types.CodeTSX, src)
	require.True(t, doc.OK())
	require.Len(t, doc.Classes, 1)
}

func TestCSSInJS_StyledTemplate(t *testing.T) {
	src := "const Button = styled.button`\n  color: #1b3668;\n  padding: ${props => props.pad};\n  margin: 8px;\n`;"
	doc := parse(t, types.CodeJS, src)
	require.True(t, doc.OK())
	require.Len(t, doc.Rules, 1)
	require.NotEmpty(t, doc.Holes)

	var props []string
	for _, d := range doc.Rules[0].Decls {
		props = append(props, d.Property)
	}
	assert.Contains(t, props, "color")
	assert.Contains(t, props, "margin")

	// The interpolated padding value must cross a hole.
	for _, d := range doc.Rules[0].Decls {
		if d.Property == "padding" {
			assert.True(t, doc.SpanCrossesHole(d.ValStart, d.ValEnd))
		}
		if d.Property == "color" {
			assert.False(t, doc.SpanCrossesHole(d.ValStart, d.ValEnd))
			assert.Equal(t, "#1b3668", d.Value)
		}
	}
}

func TestCSSInJS_CSSObject(t *testing.T) {
	src := `const s = css({ padding: "16px", backgroundColor: "#1b3668" });`
	doc := parse(t, types.CodeJS, src)
	require.True(t, doc.OK())
	require.Len(t, doc.Rules, 1)

	decls := doc.Rules[0].Decls
	require.Len(t, decls, 2)
	assert.Equal(t, "padding", decls[0].Property)
	assert.Equal(t, "background-color", decls[1].Property)
	assert.Equal(t, "#1b3668", src[decls[1].ValStart:decls[1].ValEnd])
}

func TestApplyEdits_RejectsOverlapAndStale(t *testing.T) {
	src := []byte("abcdef")

	_, err := ApplyEdits(src, []types.Edit{
		{Start: 0, End: 3, Before: "abc", After: "x", RuleID: "a"},
		{Start: 2, End: 4, Before: "cd", After: "y", RuleID: "b"},
	})
	assert.Error(t, err)

	_, err = ApplyEdits(src, []types.Edit{{Start: 0, End: 3, Before: "zzz", After: "x", RuleID: "a"}})
	assert.Error(t, err)

	out, err := ApplyEdits(src, []types.Edit{
		{Start: 0, End: 1, Before: "a", After: "A", RuleID: "a"},
		{Start: 5, End: 6, Before: "f", After: "F", RuleID: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "AbcdeF", string(out))
}

func TestTailwindMapping(t *testing.T) {
	t.Run("numeric spacing scale", func(t *testing.T) {
		c, ok := ClassCandidateFor(ClassToken{Name: "p-4"})
		require.True(t, ok)
		assert.Equal(t, types.CatSpacing, c.Category)
		assert.Equal(t, "16px", c.RawValue)
		assert.Equal(t, "p-[var(--spacing-md)]", c.Replacement("var(--spacing-md)"))
	})

	t.Run("arbitrary color", func(t *testing.T) {
		c, ok := ClassCandidateFor(ClassToken{Name: "bg-[#1b3668]"})
		require.True(t, ok)
		assert.Equal(t, types.CatColor, c.Category)
		assert.Equal(t, "#1b3668", c.RawValue)
	})

	t.Run("rounded scale", func(t *testing.T) {
		c, ok := ClassCandidateFor(ClassToken{Name: "rounded-lg"})
		require.True(t, ok)
		assert.Equal(t, types.CatRadius, c.Category)
		assert.Equal(t, "8px", c.RawValue)
	})

	t.Run("already tokenized is skipped", func(t *testing.T) {
		_, ok := ClassCandidateFor(ClassToken{Name: "p-[var(--spacing-md)]"})
		assert.False(t, ok)
	})

	t.Run("unmapped left intact", func(t *testing.T) {
		_, ok := ClassCandidateFor(ClassToken{Name: "flex"})
		assert.False(t, ok)
		_, ok = ClassCandidateFor(ClassToken{Name: "custom-thing"})
		assert.False(t, ok)
	})
}

func TestVendorPathNeverTransformed(t *testing.T) {
	assert.True(t, types.IsVendorPath("node_modules/lib/styles.css"))
	assert.True(t, types.IsVendorPath("assets/app.min.css"))
	assert.False(t, types.IsVendorPath("src/components/Button.tsx"))
}
