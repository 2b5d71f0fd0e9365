// Package profile scores the user's own page.
package profile

import "citescope/internal/domain"

const maxScore = 100

// Profile derives the domain profile from an extracted page. Pure.
func Profile(page domain.Page, cited bool) domain.DomainProfile {
	types := page.SchemaTypes()
	if types == nil {
		types = []string{}
	}
	invalid := false
	for _, sd := range page.StructuredData {
		if !sd.IsValid {
			invalid = true
			break
		}
	}
	return domain.DomainProfile{
		Page:             page,
		SchemaTypes:      types,
		HasInvalidSchema: invalid,
		HasFAQ:           len(page.FAQs) > 0,
		ContentDepth:     ContentDepth(page),
		HeadingScore:     HeadingScore(page),
		Cited:            cited,
	}
}

// ContentDepth scores length and richness on a 0-100 scale.
func ContentDepth(page domain.Page) int {
	score := 0
	switch {
	case page.WordCount >= 2000:
		score += 20 + 20 + 15
	case page.WordCount >= 1000:
		score += 20 + 20
	case page.WordCount >= 500:
		score += 20
	}
	if len(page.FAQs) > 0 {
		score += 15
	}
	if len(page.Entities) >= 5 {
		score += 10
	}
	if len(page.StructuredData) > 0 {
		score += 10
	}
	score += min(10, 2*len(page.Headings))
	return min(maxScore, score)
}

// HeadingScore rewards a single H1 and a layered H2/H3 outline.
func HeadingScore(page domain.Page) int {
	h1, h2, h3 := page.HeadingCount(1), page.HeadingCount(2), page.HeadingCount(3)
	score := 0
	switch {
	case h1 == 1:
		score += 30
	case h1 > 1:
		score += 10
	}
	score += min(40, 10*h2)
	score += min(20, 5*h3)
	if h2 > 0 && h3 > 0 {
		score += 10
	}
	return min(maxScore, score)
}
