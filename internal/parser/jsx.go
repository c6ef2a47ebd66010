package parser

import (
	"context"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"

	"agentic/internal/types"
)

// JSXParser walks JSX/TSX (and plain JS) sources for className expressions
// and CSS-in-JS constructs. Three className forms are supported: string
// literal, template literal (interpolation stubs kept verbatim as holes),
// and ternary of string/template literals.
type JSXParser struct {
	jsParser  *sitter.Parser
	tsxParser *sitter.Parser
	css       *CSSParser
}

// NewJSXParser creates a JSX/TSX parser sharing the given CSS parser for
// CSS-in-JS bodies.
func NewJSXParser(css *CSSParser) *JSXParser {
	js := sitter.NewParser()
	js.SetLanguage(javascript.GetLanguage())
	ts := sitter.NewParser()
	ts.SetLanguage(tsx.GetLanguage())
	return &JSXParser{jsParser: js, tsxParser: ts, css: css}
}

// Close releases the tree-sitter parsers.
func (p *JSXParser) Close() {
	p.jsParser.Close()
	p.tsxParser.Close()
}

// Parse parses a JSX, TSX or JS fragment.
func (p *JSXParser) Parse(ctx context.Context, frag types.Fragment) *Document {
	parser := p.jsParser
	if frag.CodeType == types.CodeTSX {
		parser = p.tsxParser
	}

	tree, err := parser.ParseCtx(ctx, nil, frag.Bytes)
	if err != nil {
		return parseErrorDoc(frag, "jsx parse: "+err.Error())
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return parseErrorDoc(frag, "jsx parse: syntax error")
	}

	doc := &Document{Fragment: frag}
	p.walk(ctx, root, frag.Bytes, doc)
	return doc
}

func (p *JSXParser) walk(ctx context.Context, node *sitter.Node, src []byte, doc *Document) {
	switch node.Type() {
	case "jsx_attribute":
		if attrName(node, src) == "className" {
			p.extractClassNameValue(node, src, doc)
			return
		}
	case "call_expression":
		if p.extractCSSInJS(ctx, node, src, doc) {
			return
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		p.walk(ctx, node.NamedChild(i), src, doc)
	}
}

func attrName(attr *sitter.Node, src []byte) string {
	for i := 0; i < int(attr.NamedChildCount()); i++ {
		child := attr.NamedChild(i)
		if child.Type() == "property_identifier" {
			return child.Content(src)
		}
	}
	return ""
}

// extractClassNameValue handles the three supported className shapes.
// Anything else (helper calls, identifiers) is left untouched.
func (p *JSXParser) extractClassNameValue(attr *sitter.Node, src []byte, doc *Document) {
	for i := 0; i < int(attr.NamedChildCount()); i++ {
		child := attr.NamedChild(i)
		switch child.Type() {
		case "string":
			p.addStringClasses(child, src, doc)
		case "jsx_expression":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				p.extractClassExpression(child.NamedChild(j), src, doc)
			}
		}
	}
}

func (p *JSXParser) extractClassExpression(node *sitter.Node, src []byte, doc *Document) {
	switch node.Type() {
	case "string":
		p.addStringClasses(node, src, doc)
	case "template_string":
		p.addTemplateClasses(node, src, doc)
	case "ternary_expression":
		// Both branches are handled, the ternary structure itself is
		// never rewritten.
		if consequence := node.ChildByFieldName("consequence"); consequence != nil {
			p.extractClassExpression(consequence, src, doc)
		}
		if alternative := node.ChildByFieldName("alternative"); alternative != nil {
			p.extractClassExpression(alternative, src, doc)
		}
	case "parenthesized_expression":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			p.extractClassExpression(node.NamedChild(i), src, doc)
		}
	}
}

// addStringClasses records the inner span of a quoted string literal.
func (p *JSXParser) addStringClasses(str *sitter.Node, src []byte, doc *Document) {
	start := int(str.StartByte()) + 1
	end := int(str.EndByte()) - 1
	if end <= start {
		return
	}
	doc.Classes = append(doc.Classes, tokenizeClasses(src, start, end))
}

// addTemplateClasses records the literal chunks of a template string,
// registering each interpolation as an opaque hole.
func (p *JSXParser) addTemplateClasses(tmpl *sitter.Node, src []byte, doc *Document) {
	bodyStart := int(tmpl.StartByte()) + 1
	bodyEnd := int(tmpl.EndByte()) - 1

	chunkStart := bodyStart
	for i := 0; i < int(tmpl.NamedChildCount()); i++ {
		sub := tmpl.NamedChild(i)
		if sub.Type() != "template_substitution" {
			continue
		}
		subStart := int(sub.StartByte())
		subEnd := int(sub.EndByte())
		doc.Holes = append(doc.Holes, Span{Start: subStart, End: subEnd})
		if subStart > chunkStart {
			doc.Classes = append(doc.Classes, tokenizeClasses(src, chunkStart, subStart))
		}
		chunkStart = subEnd
	}
	if bodyEnd > chunkStart {
		doc.Classes = append(doc.Classes, tokenizeClasses(src, chunkStart, bodyEnd))
	}
}

// tokenizeClasses splits a literal region on whitespace, tracking the
// absolute span of each class token.
func tokenizeClasses(src []byte, start, end int) ClassSpan {
	span := ClassSpan{Start: start, End: end}
	i := start
	for i < end {
		for i < end && unicode.IsSpace(rune(src[i])) {
			i++
		}
		tokStart := i
		for i < end && !unicode.IsSpace(rune(src[i])) {
			i++
		}
		if i > tokStart {
			span.Classes = append(span.Classes, ClassToken{
				Name:  string(src[tokStart:i]),
				Start: tokStart,
				End:   i,
			})
		}
	}
	return span
}

// =============================================================================
// CSS-IN-JS
// =============================================================================

// extractCSSInJS handles styled.X`...`, css`...` and css({...}).
// Returns true if the node was consumed as a CSS-in-JS construct.
func (p *JSXParser) extractCSSInJS(ctx context.Context, call *sitter.Node, src []byte, doc *Document) bool {
	fn := call.ChildByFieldName("function")
	args := call.ChildByFieldName("arguments")
	if fn == nil || args == nil {
		return false
	}

	tagged := isStyledTag(fn, src) || isCSSTag(fn, src)
	if tagged && args.Type() == "template_string" {
		p.extractTemplateCSS(ctx, args, src, doc)
		return true
	}
	if isCSSTag(fn, src) && args.Type() == "arguments" {
		for i := 0; i < int(args.NamedChildCount()); i++ {
			if obj := args.NamedChild(i); obj.Type() == "object" {
				p.extractObjectCSS(obj, src, doc)
				return true
			}
		}
	}
	return false
}

func isStyledTag(fn *sitter.Node, src []byte) bool {
	if fn.Type() != "member_expression" {
		return false
	}
	obj := fn.ChildByFieldName("object")
	return obj != nil && obj.Type() == "identifier" && obj.Content(src) == "styled"
}

func isCSSTag(fn *sitter.Node, src []byte) bool {
	return fn.Type() == "identifier" && fn.Content(src) == "css"
}

// extractTemplateCSS parses the backtick body as CSS. Interpolations are
// masked byte-for-byte so spans stay absolute, then recorded as holes the
// engine must not cross.
func (p *JSXParser) extractTemplateCSS(ctx context.Context, tmpl *sitter.Node, src []byte, doc *Document) {
	bodyStart := int(tmpl.StartByte()) + 1
	bodyEnd := int(tmpl.EndByte()) - 1
	if bodyEnd <= bodyStart {
		return
	}

	body := make([]byte, bodyEnd-bodyStart)
	copy(body, src[bodyStart:bodyEnd])

	var holes []Span
	for i := 0; i < int(tmpl.NamedChildCount()); i++ {
		sub := tmpl.NamedChild(i)
		if sub.Type() != "template_substitution" {
			continue
		}
		hole := Span{Start: int(sub.StartByte()), End: int(sub.EndByte())}
		holes = append(holes, hole)
		for j := hole.Start - bodyStart; j < hole.End-bodyStart; j++ {
			body[j] = 'x'
		}
	}

	// A styled body is a declaration list; wrap it in a synthetic rule.
	const head = "x{"
	wrapped := append(append([]byte(head), body...), '}')
	rules, msg := p.css.parseRegion(ctx, wrapped, 0, nil)
	if msg != "" {
		doc.Diagnostics = append(doc.Diagnostics, types.Diagnostic{
			Kind:      types.DiagParseError,
			Message:   "css-in-js template: " + msg,
			Component: "parser",
		})
		return
	}

	shift := bodyStart - len(head)
	for _, rule := range rules {
		rule.Selector = "css-in-js"
		rule.Start += shift
		rule.End += shift
		for i := range rule.Decls {
			rule.Decls[i].ValStart += shift
			rule.Decls[i].ValEnd += shift
			rule.Decls[i].DeclStart += shift
			rule.Decls[i].DeclEnd += shift
			// Re-read the real (unmasked) value text.
			rule.Decls[i].Value = string(src[rule.Decls[i].ValStart:rule.Decls[i].ValEnd])
		}
		doc.Rules = append(doc.Rules, rule)
	}
	doc.Holes = append(doc.Holes, holes...)
}

// extractObjectCSS handles css({...}) objects with string values.
// camelCase keys become kebab-case properties; numeric and nested values
// are skipped.
func (p *JSXParser) extractObjectCSS(obj *sitter.Node, src []byte, doc *Document) {
	rule := Rule{
		Selector: "css-in-js",
		Start:    int(obj.StartByte()),
		End:      int(obj.EndByte()),
	}
	for i := 0; i < int(obj.NamedChildCount()); i++ {
		pair := obj.NamedChild(i)
		if pair.Type() != "pair" {
			continue
		}
		key := pair.ChildByFieldName("key")
		value := pair.ChildByFieldName("value")
		if key == nil || value == nil || value.Type() != "string" {
			continue
		}
		valStart := int(value.StartByte()) + 1
		valEnd := int(value.EndByte()) - 1
		if valEnd <= valStart {
			continue
		}
		rule.Decls = append(rule.Decls, Declaration{
			Property:  camelToKebab(strings.Trim(key.Content(src), "\"'")),
			Value:     string(src[valStart:valEnd]),
			ValStart:  valStart,
			ValEnd:    valEnd,
			DeclStart: int(pair.StartByte()),
			DeclEnd:   int(pair.EndByte()),
		})
	}
	if len(rule.Decls) > 0 {
		doc.Rules = append(doc.Rules, rule)
	}
}

func camelToKebab(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsUpper(r) {
			b.WriteByte('-')
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
