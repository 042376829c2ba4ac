package substitute

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dyatlov/go-opengraph/opengraph"
	"golang.org/x/net/html"
)

// Rule is a literal, case-sensitive replacement applied to text content.
type Rule struct {
	From string `yaml:"from" toml:"from"`
	To   string `yaml:"to" toml:"to"`
}

// DefaultRules returns the Yale -> Fale rule set, most specific casing first.
func DefaultRules() []Rule {
	return []Rule{
		{From: "YALE", To: "FALE"},
		{From: "Yale", To: "Fale"},
		{From: "yale", To: "fale"},
	}
}

// ParseError reports that the document could not be read or parsed.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("substitute: failed to parse HTML: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Output is the result of running a document through the Engine.
type Output struct {
	HTML        string
	Title       string
	Description string
}

// Engine rewrites text nodes of an HTML document according to a rule set.
// It holds no per-document state and is safe for concurrent use.
type Engine struct {
	rules    []Rule
	replacer *strings.Replacer
}

// elements whose children are raw text rather than document content
var rawTextElements = map[string]bool{
	"script":   true,
	"style":    true,
	"iframe":   true,
	"noembed":  true,
	"noframes": true,
	"xmp":      true,
}

// NewEngine builds an Engine. Rules are applied in a single pass, with earlier
// rules taking precedence when several match at the same position.
func NewEngine(rules []Rule) (*Engine, error) {
	if len(rules) == 0 {
		return nil, errors.New("substitute: at least one rule is required")
	}
	pairs := make([]string, 0, len(rules)*2)
	for i, rule := range rules {
		if rule.From == "" {
			return nil, fmt.Errorf("substitute: rule #%d has an empty 'from'", i+1)
		}
		pairs = append(pairs, rule.From, rule.To)
	}
	return &Engine{
		rules:    append([]Rule(nil), rules...),
		replacer: strings.NewReplacer(pairs...),
	}, nil
}

// Rules returns a copy of the engine's rule set.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// ReplaceText applies the rule set to a plain string.
func (e *Engine) ReplaceText(s string) string {
	return e.replacer.Replace(s)
}

// Apply parses htmlContent, substitutes its text nodes and serializes it back.
func (e *Engine) Apply(htmlContent string) (*Output, error) {
	return e.ApplyReader(strings.NewReader(htmlContent))
}

// ApplyReader is Apply for a stream. The whole document is held in memory.
//
// The document is parsed with scripting disabled so <noscript> fallbacks
// become real elements; their attributes are then left alone like any other.
func (e *Engine) ApplyReader(r io.Reader) (*Output, error) {
	root, err := html.ParseWithOptions(r, html.ParseOptionEnableScripting(false))
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	doc := goquery.NewDocumentFromNode(root)

	for _, root := range doc.Nodes {
		e.rewriteTextNodes(root)
	}

	out := &Output{
		Title:       extractTitle(doc),
		Description: e.extractDescription(doc),
	}
	out.HTML, err = goquery.OuterHtml(doc.Selection)
	if err != nil {
		return nil, fmt.Errorf("substitute: failed to render document: %w", err)
	}
	return out, nil
}

// rewriteTextNodes walks the tree depth-first and rewrites text nodes in place.
// Attributes are never touched.
func (e *Engine) rewriteTextNodes(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		n.Data = e.replacer.Replace(n.Data)
		return
	case html.ElementNode:
		if rawTextElements[n.Data] {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.rewriteTextNodes(c)
	}
}

// extractTitle returns the text of the first <title> exactly as it appears.
func extractTitle(doc *goquery.Document) string {
	return doc.Find("title").First().Text()
}

// extractDescription prefers og:description and falls back to the plain meta
// description. Meta content is an attribute, so the rules are applied here to
// keep the reported metadata consistent with the rewritten page.
func (e *Engine) extractDescription(doc *goquery.Document) string {
	var description string

	head, err := goquery.OuterHtml(doc.Find("head").First())
	if err == nil && head != "" {
		og := opengraph.NewOpenGraph()
		if err := og.ProcessHTML(strings.NewReader(head)); err == nil {
			description = og.Description
		}
	}
	if description == "" {
		description, _ = doc.Find(`meta[name="description"]`).First().Attr("content")
	}
	return e.replacer.Replace(strings.TrimSpace(description))
}
