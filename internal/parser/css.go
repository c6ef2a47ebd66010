package parser

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/css"

	"agentic/internal/logging"
	"agentic/internal/types"
)

// CSSParser parses stylesheets with byte-accurate spans. Comments and
// whitespace are preserved by construction: edits are span replacements
// over the original bytes, the source is never reprinted.
type CSSParser struct {
	parser *sitter.Parser
}

// NewCSSParser creates a CSS parser.
func NewCSSParser() *CSSParser {
	p := sitter.NewParser()
	p.SetLanguage(css.GetLanguage())
	return &CSSParser{parser: p}
}

// Close releases the tree-sitter parser.
func (p *CSSParser) Close() {
	p.parser.Close()
}

// Parse parses a whole CSS fragment.
func (p *CSSParser) Parse(ctx context.Context, frag types.Fragment) *Document {
	doc := &Document{Fragment: frag}
	rules, err := p.parseRegion(ctx, frag.Bytes, 0, nil)
	if err != "" {
		return parseErrorDoc(frag, err)
	}
	doc.Rules = rules
	return doc
}

// parseRegion parses CSS bytes and returns rules with spans shifted by
// offset into the enclosing document. holes are pre-masked interpolation
// ranges (absolute offsets) recorded by the CSS-in-JS parser; declarations
// are kept regardless, the engine skips spans crossing holes.
func (p *CSSParser) parseRegion(ctx context.Context, src []byte, offset int, _ []Span) ([]Rule, string) {
	tree, err := p.parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, "css parse: " + err.Error()
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		logging.ParserDebug("css parse tree contains errors (%d bytes)", len(src))
		return nil, "css parse: syntax error"
	}

	var rules []Rule
	collectRules(root, src, offset, false, &rules)
	return rules, ""
}

// collectRules walks the stylesheet gathering rule_sets, descending into
// media and supports blocks, and tagging rules under @keyframes.
func collectRules(node *sitter.Node, src []byte, offset int, inKeyframes bool, out *[]Rule) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "rule_set":
			*out = append(*out, extractRule(child, src, offset, inKeyframes))
		case "keyframes_statement":
			collectRules(child, src, offset, true, out)
		case "keyframe_block_list":
			collectRules(child, src, offset, true, out)
		case "keyframe_block":
			*out = append(*out, extractKeyframeBlock(child, src, offset))
		case "media_statement", "supports_statement", "at_rule", "block":
			collectRules(child, src, offset, inKeyframes, out)
		}
	}
}

func extractRule(node *sitter.Node, src []byte, offset int, inKeyframes bool) Rule {
	rule := Rule{
		Start:       int(node.StartByte()) + offset,
		End:         int(node.EndByte()) + offset,
		InKeyframes: inKeyframes,
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "selectors":
			rule.Selector = strings.TrimSpace(child.Content(src))
		case "block":
			rule.Decls = extractDeclarations(child, src, offset)
		}
	}
	return rule
}

func extractKeyframeBlock(node *sitter.Node, src []byte, offset int) Rule {
	rule := Rule{
		Start:       int(node.StartByte()) + offset,
		End:         int(node.EndByte()) + offset,
		InKeyframes: true,
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "from", "to", "percentage":
			rule.Selector = strings.TrimSpace(child.Content(src))
		case "block":
			rule.Decls = extractDeclarations(child, src, offset)
		}
	}
	return rule
}

func extractDeclarations(block *sitter.Node, src []byte, offset int) []Declaration {
	var decls []Declaration
	for i := 0; i < int(block.NamedChildCount()); i++ {
		child := block.NamedChild(i)
		if child.Type() != "declaration" {
			continue
		}
		if d, ok := extractDeclaration(child, src, offset); ok {
			decls = append(decls, d)
		}
	}
	return decls
}

// extractDeclaration computes the value span: everything after the ":"
// up to (not including) "!important" and the trailing ";".
func extractDeclaration(node *sitter.Node, src []byte, offset int) (Declaration, bool) {
	var d Declaration
	valStart := -1
	valEnd := -1

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "property_name":
			d.Property = child.Content(src)
		case ":":
			valStart = int(child.EndByte())
		case "important":
			d.Important = true
			if valEnd < 0 || int(child.StartByte()) < valEnd {
				valEnd = int(child.StartByte())
			}
		case ";":
			if valEnd < 0 {
				valEnd = int(child.StartByte())
			}
		}
	}
	if valEnd < 0 {
		valEnd = int(node.EndByte())
	}
	if d.Property == "" || valStart < 0 || valStart > valEnd {
		return d, false
	}

	// Trim surrounding whitespace while keeping the span accurate.
	for valStart < valEnd && isSpace(src[valStart]) {
		valStart++
	}
	for valEnd > valStart && isSpace(src[valEnd-1]) {
		valEnd--
	}
	if d.Important {
		// Re-trim in case "!important" left trailing space in the span.
		for valEnd > valStart && isSpace(src[valEnd-1]) {
			valEnd--
		}
	}

	d.Value = string(src[valStart:valEnd])
	d.ValStart = valStart + offset
	d.ValEnd = valEnd + offset
	d.DeclStart = int(node.StartByte()) + offset
	d.DeclEnd = int(node.EndByte()) + offset
	return d, d.Value != ""
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
