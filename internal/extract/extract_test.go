package extract

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citescope/internal/domain"
)

const samplePage = "# Trail Running Shoes Guide\n" +
	"\n" +
	"Our team at Acme Outdoor Labs tested shoes on the Pacific Crest Trail for months.\n" +
	"\n" +
	"## Choosing a shoe\n" +
	"\n" +
	"Read the [sizing guide](/sizing) and the [care notes](https://www.example.com/care).\n" +
	"See also [a partner](https://partner.test/shoes) and [relative](notes.html).\n" +
	"\n" +
	"### Cushioning\n" +
	"\n" +
	"## FAQ\n" +
	"\n" +
	"### How long do trail shoes last?\n" +
	"\n" +
	"Most pairs last 300 to 500 miles.\n" +
	"Rotate two pairs to extend that.\n" +
	"\n" +
	"**Are they waterproof?**\n" +
	"A: Some models use a membrane.\n" +
	"\n" +
	"Q: Do I need gaiters?\n" +
	"Only on loose terrain.\n" +
	"line two\n" +
	"line three\n" +
	"line four\n" +
	"line five\n" +
	"\n" +
	"```json\n" +
	"{\"@context\":\"https://schema.org\",\"@type\":\"FAQPage\",\"name\":\"faq\"}\n" +
	"```\n" +
	"\n" +
	"```json\n" +
	"{\"@type\": \"Article\", broken\n" +
	"```\n"

func TestExtractHeadings(t *testing.T) {
	p := Extract("https://example.com/guide", samplePage)
	require.NotEmpty(t, p.Headings)
	assert.Equal(t, "Trail Running Shoes Guide", p.Title)
	assert.Equal(t, 1, p.HeadingCount(1))
	assert.Equal(t, 2, p.HeadingCount(2))
	assert.Equal(t, 2, p.HeadingCount(3))
	assert.Equal(t, "How long do trail shoes last?", p.Headings[4].Text)
}

func TestExtractIgnoresUnderlinedHeadings(t *testing.T) {
	p := Extract("https://example.com/a", "Another paragraph\n===\n\nSome intro paragraph text\n---\n\n## Real section\n")
	require.Len(t, p.Headings, 1)
	assert.Equal(t, domain.Heading{Level: 2, Text: "Real section"}, p.Headings[0])
	assert.Empty(t, p.Title)
}

func TestExtractStructuredDataKeepsInvalidBlocks(t *testing.T) {
	p := Extract("https://example.com/guide", samplePage)
	require.Len(t, p.StructuredData, 2)
	assert.Equal(t, "FAQPage", p.StructuredData[0].Type)
	assert.True(t, p.StructuredData[0].IsValid)
	assert.Equal(t, "Invalid", p.StructuredData[1].Type)
	assert.False(t, p.StructuredData[1].IsValid)
}

func TestExtractFAQPairs(t *testing.T) {
	p := Extract("https://example.com/guide", samplePage)
	require.Len(t, p.FAQs, 3)
	assert.Equal(t, "How long do trail shoes last?", p.FAQs[0].Question)
	assert.Equal(t, "Most pairs last 300 to 500 miles. Rotate two pairs to extend that.", p.FAQs[0].Answer)
	assert.Equal(t, "Are they waterproof?", p.FAQs[1].Question)
	assert.Equal(t, "Some models use a membrane.", p.FAQs[1].Answer)
	assert.Equal(t, "Do I need gaiters?", p.FAQs[2].Question)
	assert.Equal(t, "Only on loose terrain. line two line three line four", p.FAQs[2].Answer)
}

func TestExtractInternalLinks(t *testing.T) {
	p := Extract("https://example.com/guide", samplePage)
	assert.Equal(t, []string{"/sizing", "https://www.example.com/care"}, p.InternalLinks)
}

func TestExtractEntities(t *testing.T) {
	p := Extract("https://example.com/guide", samplePage)
	assert.Contains(t, p.Entities, "Acme Outdoor Labs")
	assert.Contains(t, p.Entities, "Pacific Crest Trail")
	assert.Contains(t, p.Entities, "Trail Running Shoes Guide")
}

func TestExtractWordCountIgnoresCodeBlocks(t *testing.T) {
	p := Extract("https://example.com", "# Title\n\none two three\n\n```json\n{\"a\": \"b c d e\"}\n```\n")
	assert.Equal(t, 4, p.WordCount)
}

func TestExtractScriptJSONLD(t *testing.T) {
	raw := `<html><head><script type="application/ld+json">{"@graph":[{"@type":"Organization"},{"@type":["Product","Thing"]}]}</script></head>
<body><a href="/about">About</a> <a href="https://other.test/x">x</a></body></html>`
	p := Extract("https://shop.test/", raw)
	require.Len(t, p.StructuredData, 2)
	assert.Equal(t, "Organization", p.StructuredData[0].Type)
	assert.Equal(t, "Product", p.StructuredData[1].Type)
	assert.Equal(t, []string{"/about"}, p.InternalLinks)
}

func TestExtractEmptyContentIsSentinel(t *testing.T) {
	for _, raw := range []string{"", "   \n\t"} {
		p := Extract("https://down.test", raw)
		assert.Equal(t, "https://down.test", p.URL)
		assert.Zero(t, p.WordCount)
		assert.NotNil(t, p.Headings)
		assert.Empty(t, p.Headings)
		assert.Empty(t, p.StructuredData)
		assert.Empty(t, p.FAQs)
		assert.Empty(t, p.InternalLinks)
		assert.Empty(t, p.Entities)
	}
}

func TestFailedRecordsError(t *testing.T) {
	p := Failed("https://down.test", errors.New("dial tcp: connection refused"))
	assert.Zero(t, p.WordCount)
	assert.True(t, strings.Contains(p.FetchError, "connection refused"))
}

func TestQuestionRules(t *testing.T) {
	cases := []struct {
		line string
		want bool
	}{
		{"## Is it safe?", true},
		{"**Is it safe?**", true},
		{"- __Is it safe?__", true},
		{"Q: Is it safe?", true},
		{"Is it safe?", false},
		{"## Safety", false},
	}
	for _, tc := range cases {
		_, got := question(tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}
}
