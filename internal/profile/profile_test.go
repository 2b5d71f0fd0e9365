package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"citescope/internal/domain"
)

func headings(levels ...int) []domain.Heading {
	out := make([]domain.Heading, 0, len(levels))
	for _, l := range levels {
		out = append(out, domain.Heading{Level: l, Text: "h"})
	}
	return out
}

func TestContentDepth(t *testing.T) {
	cases := []struct {
		name string
		page domain.Page
		want int
	}{
		{"empty", domain.Page{}, 0},
		{"400 words", domain.Page{WordCount: 400}, 0},
		{"500 words", domain.Page{WordCount: 500}, 20},
		{"1000 words", domain.Page{WordCount: 1000}, 40},
		{"2500 words", domain.Page{WordCount: 2500}, 55},
		{"faq and entities", domain.Page{FAQs: []domain.FAQPair{{}}, Entities: []string{"a", "b", "c", "d", "e"}}, 25},
		{"unparseable markup still counts", domain.Page{StructuredData: []domain.StructuredData{{Type: "Invalid"}}}, 10},
		{"heading cap", domain.Page{Headings: headings(2, 2, 2, 2, 2, 2, 2)}, 10},
		{
			"everything caps at 100",
			domain.Page{
				WordCount:      3000,
				FAQs:           []domain.FAQPair{{}},
				Entities:       []string{"a", "b", "c", "d", "e"},
				StructuredData: []domain.StructuredData{{Type: "Article", IsValid: true}},
				Headings:       headings(1, 2, 2, 3, 3),
			},
			100,
		},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ContentDepth(tc.page), tc.name)
	}
}

func TestHeadingScore(t *testing.T) {
	cases := []struct {
		name   string
		levels []int
		want   int
	}{
		{"none", nil, 0},
		{"single h1", []int{1}, 30},
		{"two h1", []int{1, 1}, 10},
		{"h2 cap", []int{1, 2, 2, 2, 2, 2}, 70},
		{"layered", []int{1, 2, 3}, 55},
		{"full", []int{1, 2, 2, 2, 2, 3, 3, 3, 3}, 100},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HeadingScore(domain.Page{Headings: headings(tc.levels...)}), tc.name)
	}
}

func TestProfileFlags(t *testing.T) {
	page := domain.Page{
		StructuredData: []domain.StructuredData{{Type: "Invalid"}, {Type: "Organization", IsValid: true}},
		FAQs:           []domain.FAQPair{{Question: "q?"}},
	}
	p := Profile(page, true)
	assert.True(t, p.Cited)
	assert.True(t, p.HasFAQ)
	assert.True(t, p.HasInvalidSchema)
	assert.Equal(t, []string{"Organization"}, p.SchemaTypes)

	empty := Profile(domain.Page{}, false)
	assert.NotNil(t, empty.SchemaTypes)
	assert.False(t, empty.HasFAQ)
}
