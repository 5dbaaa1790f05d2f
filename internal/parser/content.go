package parser

import (
	"bytes"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/JakeFAU/actions-digest/internal/crawler"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t\r\f\v\x{00a0}]+`)
	spaceAroundLF   = regexp.MustCompile(` *\n *`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
)

// blockAtoms end a paragraph in the extracted text.
var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Ul: true, atom.Ol: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Section: true, atom.Article: true, atom.Table: true, atom.Tr: true,
}

// ParseContent extracts the body text and the raw publication date string.
// A page without a body container yields an empty body and no error.
func (p *Parser) ParseContent(markup []byte) (crawler.PageContent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return crawler.PageContent{}, &crawler.ParseError{Err: err}
	}

	var out crawler.PageContent
	if body := doc.Find(p.sel.Body).First(); body.Length() > 0 {
		var b strings.Builder
		for _, n := range body.Nodes {
			writeText(&b, n)
		}
		out.Body = normalizeText(b.String())
	}
	if published, ok := doc.Find(p.sel.Date).First().Attr("datetime"); ok {
		out.Published = strings.TrimSpace(published)
	}
	return out, nil
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		// Source newlines inside a paragraph are plain whitespace.
		b.WriteString(strings.ReplaceAll(n.Data, "\n", " "))
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Br:
			b.WriteString("\n")
			return
		case atom.Script, atom.Style, atom.Noscript:
			return
		}
	}
	block := n.Type == html.ElementNode && blockAtoms[n.DataAtom]
	if block {
		b.WriteString("\n\n")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if block {
		b.WriteString("\n\n")
	}
}

func normalizeText(s string) string {
	s = horizontalSpace.ReplaceAllString(s, " ")
	s = spaceAroundLF.ReplaceAllString(s, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParsePublishedAt converts the ISO-8601-like date string from a content page.
// It returns nil when the value is empty or unparseable.
func ParsePublishedAt(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
