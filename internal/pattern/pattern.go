// Package pattern classifies competitor pages into archetypes, finds the
// user's gaps against them and computes the citation probability scores.
// Everything here is deterministic and free of I/O.
package pattern

import (
	"math"

	"citescope/internal/domain"
)

// Analyze runs archetype identification, gap identification and scoring.
// An empty competitor set yields a degenerate but valid result.
func Analyze(pages []domain.Page, p domain.DomainProfile) domain.PatternResult {
	archetypes := Archetypes(pages)
	gaps := Gaps(pages, p)
	current := CurrentScore(p)
	return domain.PatternResult{
		Archetypes:         archetypes,
		Gaps:               gaps,
		CurrentScore:       current,
		ProjectedScore:     ProjectedScore(current, gaps),
		UserArchetypeMatch: ArchetypeMatch(archetypes, p),
		CompetitorCount:    len(pages),
	}
}

func total(pages []domain.Page) int {
	return max(1, len(pages))
}

func percent(rate float64) int {
	return int(math.Round(rate * 100))
}
