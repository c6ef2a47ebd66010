package parser

import (
	"context"
	"fmt"

	"agentic/internal/logging"
	"agentic/internal/types"
)

// Parser dispatches fragments to the per-code-type parsers. It is
// single-owner per fragment: the orchestrator gives each transform its own
// Parser, tree-sitter parsers are not safe for concurrent reuse.
type Parser struct {
	css  *CSSParser
	html *HTMLParser
	jsx  *JSXParser
}

// New creates a parser set.
func New() *Parser {
	css := NewCSSParser()
	return &Parser{
		css:  css,
		html: NewHTMLParser(css),
		jsx:  NewJSXParser(css),
	}
}

// Close releases all tree-sitter resources.
func (p *Parser) Close() {
	p.jsx.Close()
	p.html.Close()
	p.css.Close()
}

// Parse parses a fragment into the uniform document model. It never
// returns an error: unparseable input yields a document with the original
// bytes and a parse-error diagnostic.
func (p *Parser) Parse(ctx context.Context, frag types.Fragment) *Document {
	timer := logging.StartTimer(logging.CategoryParser, fmt.Sprintf("parse %s", frag.CodeType))
	defer timer.Stop()

	if len(frag.Bytes) == 0 {
		return &Document{Fragment: frag}
	}

	var doc *Document
	switch frag.CodeType {
	case types.CodeCSS:
		doc = p.css.Parse(ctx, frag)
	case types.CodeHTML:
		doc = p.html.Parse(ctx, frag)
	case types.CodeJSX, types.CodeTSX, types.CodeJS:
		doc = p.jsx.Parse(ctx, frag)
	default:
		doc = parseErrorDoc(frag, fmt.Sprintf("unsupported code type %q", frag.CodeType))
	}

	if !doc.OK() {
		logging.Parser("parse failed for %s fragment (%d bytes): %v", frag.CodeType, len(frag.Bytes), doc.Diagnostics)
	} else {
		logging.ParserDebug("parsed %s fragment: %d rules, %d class spans, %d holes",
			frag.CodeType, len(doc.Rules), len(doc.Classes), len(doc.Holes))
	}
	return doc
}
