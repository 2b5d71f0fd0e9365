package pattern

import (
	"sort"

	"citescope/internal/domain"
)

// GeneralArchetype is emitted when no competitor matches a specific archetype.
const GeneralArchetype = "General Content Page"

const (
	longFormWords  = 1500
	minHeadings    = 5
	faqHeavyPairs  = 3
	fallbackWeight = 0.5
)

var (
	authoritySignals = []domain.Signal{
		{Name: "Organization and Article schema markup", Weight: 0.9},
		{Name: "Deep heading hierarchy (5+ headings)", Weight: 0.85},
		{Name: "Long-form content over 1500 words", Weight: 0.85},
		{Name: "Entity-rich topical coverage", Weight: 0.75},
	}
	faqSignals = []domain.Signal{
		{Name: "FAQ section with 3+ question/answer pairs", Weight: 0.9},
		{Name: "FAQPage JSON-LD markup", Weight: 0.85},
		{Name: "Question-style subheadings", Weight: 0.75},
	}
	deepSignals = []domain.Signal{
		{Name: "Word count above 1500", Weight: 0.85},
		{Name: "Structured heading outline", Weight: 0.8},
		{Name: "Comprehensive subtopic coverage", Weight: 0.75},
	}
)

func isAuthority(p domain.Page) bool {
	return len(p.StructuredData) > 0 && len(p.Headings) >= minHeadings && p.WordCount > longFormWords
}

func isFAQHeavy(p domain.Page) bool {
	return len(p.FAQs) >= faqHeavyPairs
}

func isDeepContent(p domain.Page) bool {
	return p.WordCount > longFormWords && len(p.Headings) >= minHeadings
}

// Archetypes never returns an empty list.
func Archetypes(pages []domain.Page) []domain.Archetype {
	var authority, faq, deep int
	for _, p := range pages {
		if isAuthority(p) {
			authority++
		}
		if isFAQHeavy(p) {
			faq++
		}
		if isDeepContent(p) {
			deep++
		}
	}
	n := float64(total(pages))
	candidates := []struct {
		name    string
		count   int
		signals []domain.Signal
	}{
		{"Authority Hub", authority, authoritySignals},
		{"FAQ-Rich Content Page", faq, faqSignals},
		{"Deep Content Guide", deep, deepSignals},
	}
	var out []domain.Archetype
	for _, c := range candidates {
		if c.count == 0 {
			continue
		}
		out = append(out, domain.Archetype{
			Name:      c.name,
			Frequency: percent(float64(c.count) / n),
			Signals:   append([]domain.Signal(nil), c.signals...),
		})
	}
	if len(out) == 0 {
		return []domain.Archetype{{
			Name:      GeneralArchetype,
			Frequency: 100,
			Signals:   []domain.Signal{{Name: "Basic content structure", Weight: fallbackWeight}},
		}}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Frequency > out[j].Frequency })
	return out
}
