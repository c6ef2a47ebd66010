package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/html"

	"agentic/internal/types"
)

// HTMLParser extracts every <style> block and inline style= attribute from
// a document and delegates the CSS to the CSS parser, keeping absolute
// offsets so rewritten blocks splice straight back into the document.
type HTMLParser struct {
	parser *sitter.Parser
	css    *CSSParser
}

// NewHTMLParser creates an HTML parser sharing the given CSS parser.
func NewHTMLParser(css *CSSParser) *HTMLParser {
	p := sitter.NewParser()
	p.SetLanguage(html.GetLanguage())
	return &HTMLParser{parser: p, css: css}
}

// Close releases the tree-sitter parser.
func (p *HTMLParser) Close() {
	p.parser.Close()
}

// Parse parses an HTML fragment.
func (p *HTMLParser) Parse(ctx context.Context, frag types.Fragment) *Document {
	tree, err := p.parser.ParseCtx(ctx, nil, frag.Bytes)
	if err != nil {
		return parseErrorDoc(frag, "html parse: "+err.Error())
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return parseErrorDoc(frag, "html parse: syntax error")
	}

	doc := &Document{Fragment: frag}
	if msg := p.walkHTML(ctx, root, frag.Bytes, doc); msg != "" {
		return parseErrorDoc(frag, msg)
	}
	return doc
}

func (p *HTMLParser) walkHTML(ctx context.Context, node *sitter.Node, src []byte, doc *Document) string {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "style_element":
			if msg := p.extractStyleElement(ctx, child, src, doc); msg != "" {
				return msg
			}
		case "element", "script_element":
			p.extractInlineStyles(ctx, child, src, doc)
			if msg := p.walkHTML(ctx, child, src, doc); msg != "" {
				return msg
			}
		default:
			if msg := p.walkHTML(ctx, child, src, doc); msg != "" {
				return msg
			}
		}
	}
	return ""
}

// extractStyleElement parses the raw_text body of a <style> element at its
// absolute offset. A style block that fails to parse fails the whole
// fragment: parsing is whole-or-fail.
func (p *HTMLParser) extractStyleElement(ctx context.Context, node *sitter.Node, src []byte, doc *Document) string {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != "raw_text" {
			continue
		}
		start := int(child.StartByte())
		body := src[start:int(child.EndByte())]
		rules, msg := p.css.parseRegion(ctx, body, start, nil)
		if msg != "" {
			return fmt.Sprintf("style block at byte %d: %s", start, msg)
		}
		doc.Rules = append(doc.Rules, rules...)
	}
	return ""
}

// extractInlineStyles parses style= attribute values as a one-rule CSS
// fragment. A malformed inline style is skipped rather than failing the
// document; inline attributes are advisory surface, not a stylesheet.
func (p *HTMLParser) extractInlineStyles(ctx context.Context, element *sitter.Node, src []byte, doc *Document) {
	for i := 0; i < int(element.NamedChildCount()); i++ {
		tag := element.NamedChild(i)
		if tag.Type() != "start_tag" && tag.Type() != "self_closing_tag" {
			continue
		}
		tagName := ""
		for j := 0; j < int(tag.NamedChildCount()); j++ {
			attr := tag.NamedChild(j)
			if attr.Type() == "tag_name" {
				tagName = attr.Content(src)
				continue
			}
			if attr.Type() != "attribute" {
				continue
			}
			name, valueNode := attributeParts(attr, src)
			if name != "style" || valueNode == nil {
				continue
			}
			start := int(valueNode.StartByte())
			body := src[start:int(valueNode.EndByte())]
			rule, ok := p.parseInlineStyle(ctx, body, start, tagName)
			if ok {
				doc.Rules = append(doc.Rules, rule)
			}
		}
	}
}

// parseInlineStyle wraps the attribute body in a synthetic rule so the CSS
// parser can process it, then shifts spans back to the attribute region.
func (p *HTMLParser) parseInlineStyle(ctx context.Context, body []byte, offset int, tagName string) (Rule, bool) {
	const head = "x{"
	wrapped := append(append([]byte(head), body...), '}')
	rules, msg := p.css.parseRegion(ctx, wrapped, 0, nil)
	if msg != "" || len(rules) != 1 {
		return Rule{}, false
	}

	rule := rules[0]
	rule.Selector = "inline:" + tagName
	rule.Start = offset
	rule.End = offset + len(body)
	for i := range rule.Decls {
		rule.Decls[i].ValStart += offset - len(head)
		rule.Decls[i].ValEnd += offset - len(head)
		rule.Decls[i].DeclStart += offset - len(head)
		rule.Decls[i].DeclEnd += offset - len(head)
	}
	return rule, true
}

// attributeParts returns the attribute name and its value node (inner
// text, quotes excluded) if present.
func attributeParts(attr *sitter.Node, src []byte) (string, *sitter.Node) {
	var name string
	var value *sitter.Node
	for i := 0; i < int(attr.NamedChildCount()); i++ {
		child := attr.NamedChild(i)
		switch child.Type() {
		case "attribute_name":
			name = strings.ToLower(child.Content(src))
		case "quoted_attribute_value":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if child.NamedChild(j).Type() == "attribute_value" {
					value = child.NamedChild(j)
				}
			}
		case "attribute_value":
			value = child
		}
	}
	return name, value
}
