package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citescope/internal/extract"
)

const samplePage = `<!doctype html>
<html><head><title>Trail Shoe Guide</title>
<script type="application/ld+json">{"@context":"https://schema.org","@type":"FAQPage","mainEntity":[]}</script>
<style>body{color:red}</style>
</head><body>
<nav><a href="/home">Home</a></nav>
<h1>Trail Shoe Guide</h1>
<p>Choosing trail shoes depends on terrain, fit and cushioning. This guide compares options
from Salomon, Hoka and Altra across rocky, muddy and groomed trails. We ran every pair for at
least one hundred kilometres before writing a word, logging grip, stability, drainage and how
quickly the midsole packed out. Lighter runners preferred firmer platforms while heavier runners
wanted more stack under the forefoot. Lug depth mattered most on wet clay and least on dry
hardpack, where a flatter outsole felt faster and rolled through the stride with less effort.</p>
<h2>How should trail shoes fit?</h2>
<p>A thumb's width of room at the toe keeps toenails intact on descents.</p>
<h2>Sizing</h2>
<p>See <a href="/sizing">our sizing chart</a> for details.</p>
<script>window.tracking = true;</script>
</body></html>`

func TestToMarkdownKeepsStructure(t *testing.T) {
	out, err := ToMarkdown(samplePage, "https://shoes.example.com/guide")
	require.NoError(t, err)
	assert.Contains(t, out, "# Trail Shoe Guide")
	assert.Contains(t, out, "## How should trail shoes fit?")
	assert.Contains(t, out, "```json")
	assert.NotContains(t, out, "window.tracking")
	assert.NotContains(t, out, "color:red")

	page := extract.Extract("https://shoes.example.com/guide", out)
	assert.Equal(t, []string{"FAQPage"}, page.SchemaTypes())
	assert.Equal(t, 1, page.HeadingCount(1))
	assert.Equal(t, 2, page.HeadingCount(2))
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(samplePage))
		case "/notes.md":
			w.Header().Set("Content-Type", "text/markdown")
			_, _ = w.Write([]byte("# Notes\n\nplain"))
		case "/image":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte{0x89})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(0, "test-agent", 0)
	ctx := context.Background()

	out, err := f.Fetch(ctx, srv.URL+"/page")
	require.NoError(t, err)
	assert.Contains(t, out, "Trail Shoe Guide")

	out, err = f.Fetch(ctx, srv.URL+"/notes.md")
	require.NoError(t, err)
	assert.Equal(t, "# Notes\n\nplain", out)

	_, err = f.Fetch(ctx, srv.URL+"/image")
	assert.Error(t, err)

	_, err = f.Fetch(ctx, srv.URL+"/missing")
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusNotFound, status.StatusCode)

	_, err = f.Fetch(ctx, "ftp://example.com/file")
	assert.Error(t, err)
}

func TestFallbackUsesFirstSuccess(t *testing.T) {
	calls := 0
	failing := Func(func(context.Context, string) (string, error) {
		calls++
		return "", errors.New("blocked")
	})
	ok := Func(func(_ context.Context, u string) (string, error) { return "content of " + u, nil })

	out, err := Fallback{failing, ok}.Fetch(context.Background(), "https://a.example")
	require.NoError(t, err)
	assert.Equal(t, "content of https://a.example", out)
	assert.Equal(t, 1, calls)

	_, err = Fallback{failing, failing}.Fetch(context.Background(), "https://a.example")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "blocked"))

	_, err = Fallback{}.Fetch(context.Background(), "https://a.example")
	assert.Error(t, err)
}
