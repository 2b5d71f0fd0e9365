// Package fetch retrieves competitor pages and turns them into markdown the
// signal extractor understands.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Fetcher returns the rendered content of one URL.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// Func adapts a function to Fetcher.
type Func func(ctx context.Context, pageURL string) (string, error)

func (f Func) Fetch(ctx context.Context, pageURL string) (string, error) { return f(ctx, pageURL) }

// Fallback tries each fetcher in order and returns the first success.
type Fallback []Fetcher

func (f Fallback) Fetch(ctx context.Context, pageURL string) (string, error) {
	var errs []error
	for _, next := range f {
		out, err := next.Fetch(ctx, pageURL)
		if err == nil {
			return out, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("fetch %s: no fetchers configured", pageURL)
	}
	return "", fmt.Errorf("fetch %s: %w", pageURL, errors.Join(errs...))
}

// thinWords is the markdown size below which the readability pass is tried.
const thinWords = 80

var h1Line = regexp.MustCompile(`(?m)^#\s`)

// ToMarkdown converts an HTML document to markdown. JSON-LD blocks are kept
// as fenced json so structured data survives the conversion.
func ToMarkdown(html, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var ldBlocks []string
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			ldBlocks = append(ldBlocks, text)
		}
	})
	doc.Find("script, style, noscript, iframe, svg, nav, footer, form").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	bodyHTML, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("render body: %w", err)
	}

	conv := md.NewConverter(baseURL(pageURL), true, nil)
	markdown, err := conv.ConvertString(bodyHTML)
	if err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	if len(strings.Fields(markdown)) < thinWords {
		if alt := readable(html, pageURL, conv); len(strings.Fields(alt)) > len(strings.Fields(markdown)) {
			markdown = alt
		}
	}
	if title != "" && !h1Line.MatchString(markdown) {
		markdown = "# " + title + "\n\n" + markdown
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(markdown))
	b.WriteString("\n")
	for _, block := range ldBlocks {
		b.WriteString("\n```json\n")
		b.WriteString(block)
		b.WriteString("\n```\n")
	}
	return b.String(), nil
}

func readable(html, pageURL string, conv *md.Converter) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return ""
	}
	content := strings.TrimSpace(article.Content)
	if content == "" {
		return strings.TrimSpace(article.TextContent)
	}
	out, err := conv.ConvertString(content)
	if err != nil {
		return strings.TrimSpace(article.TextContent)
	}
	if t := strings.TrimSpace(article.Title); t != "" && !h1Line.MatchString(out) {
		out = "# " + t + "\n\n" + out
	}
	return out
}

func baseURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
