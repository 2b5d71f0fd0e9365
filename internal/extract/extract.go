// Package extract turns fetched page content into a normalized domain.Page.
// Content is expected as markdown (the fetcher converts HTML) but raw JSON-LD
// script tags and href attributes are recognized as well.
package extract

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"citescope/internal/domain"
)

var markdown = goldmark.New()

// Empty returns the empty-page sentinel for url.
func Empty(url string) domain.Page {
	return domain.Page{
		URL:            url,
		Headings:       []domain.Heading{},
		StructuredData: []domain.StructuredData{},
		FAQs:           []domain.FAQPair{},
		InternalLinks:  []string{},
		Entities:       []string{},
	}
}

// Failed returns the sentinel annotated with the fetch error that produced it.
func Failed(url string, err error) domain.Page {
	p := Empty(url)
	if err != nil {
		p.FetchError = err.Error()
	}
	return p
}

// Extract never fails: content that yields nothing produces the sentinel.
func Extract(pageURL, raw string) domain.Page {
	if strings.TrimSpace(raw) == "" {
		return Empty(pageURL)
	}
	page := Empty(pageURL)
	page.Content = raw

	src := []byte(raw)
	doc := markdown.Parser().Parse(text.NewReader(src))
	var blocks []string
	var hrefs []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			txt := strings.TrimSpace(nodeText(node, src))
			if txt != "" && hashPrefixed(node, src) {
				page.Headings = append(page.Headings, domain.Heading{Level: node.Level, Text: txt})
			}
			return ast.WalkContinue, nil
		case *ast.FencedCodeBlock:
			lang := strings.ToLower(string(node.Language(src)))
			if lang == "json" || lang == "ld+json" || lang == "jsonld" || lang == "json-ld" {
				blocks = append(blocks, blockText(node, src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Link:
			hrefs = append(hrefs, string(node.Destination))
		case *ast.AutoLink:
			hrefs = append(hrefs, string(node.URL(src)))
		}
		return ast.WalkContinue, nil
	})

	blocks = append(blocks, scriptBlocks(raw)...)
	hrefs = append(hrefs, hrefAttributes(raw)...)

	for _, b := range blocks {
		page.StructuredData = append(page.StructuredData, parseStructured(b)...)
	}
	page.InternalLinks = internalLinks(pageURL, hrefs)

	lines := proseLines(raw)
	page.FAQs = faqPairs(lines)
	page.WordCount = countWords(lines)
	page.Entities = entities(lines)

	for _, h := range page.Headings {
		if h.Level == 1 {
			page.Title = h.Text
			break
		}
	}
	return page
}

// hashPrefixed reports whether h was written with leading #s. Underlined
// (setext) headings are treated as prose.
func hashPrefixed(h *ast.Heading, src []byte) bool {
	lines := h.Lines()
	if lines.Len() == 0 {
		return false
	}
	start := lines.At(0).Start
	lineStart := bytes.LastIndexByte(src[:start], '\n') + 1
	return strings.HasPrefix(strings.TrimLeft(string(src[lineStart:start]), " \t>"), "#")
}

func nodeText(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		default:
			b.WriteString(nodeText(c, src))
		}
	}
	return b.String()
}

func blockText(n *ast.FencedCodeBlock, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}
