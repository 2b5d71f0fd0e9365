package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const research = `Here is what I found.

## Key Insights
- Cited pages answer the question in the first paragraph
- **FAQ blocks** appear on most cited pages

**Citation Drivers:**
1. FAQPage markup
2) Original survey data

Opportunities: publish a sizing FAQ
* Add comparison tables

Some closing prose that is not a list.
- stray bullet after prose
`

func TestParseSections(t *testing.T) {
	got := ParseSections(research, "Key Insights", "Citation Drivers", "Opportunities", "Recommended Actions")
	assert.Equal(t, []string{
		"Cited pages answer the question in the first paragraph",
		"FAQ blocks appear on most cited pages",
	}, got["Key Insights"])
	assert.Equal(t, []string{"FAQPage markup", "Original survey data"}, got["Citation Drivers"])
	assert.Equal(t, []string{"publish a sizing FAQ", "Add comparison tables"}, got["Opportunities"])
	assert.NotNil(t, got["Recommended Actions"])
	assert.Empty(t, got["Recommended Actions"])
}

func TestSectionToleratesGarbage(t *testing.T) {
	for _, text := range []string{"", "no sections here", "Key Insights\nnot a list", "\x00\x01"} {
		got := Section(text, "Key Insights")
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}
}

func TestSectionIsCaseInsensitive(t *testing.T) {
	got := Section("KEY INSIGHTS:\n- one\n- two", "Key Insights")
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestBlockKeepsMultilineBody(t *testing.T) {
	text := "**Title:** Markup\nSummary:\n```json\n{\n  \"@type\": \"Organization\"\n}\n```\nItems:\n- name\n"
	assert.Equal(t, "{\n  \"@type\": \"Organization\"\n}", Block(text, "Summary", "Title", "Items"))
	assert.Equal(t, "Markup", Block(text, "Title", "Summary", "Items"))
	assert.Empty(t, Block(text, "Missing", "Title"))
}
