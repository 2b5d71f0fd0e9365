package pattern

import (
	"math"
	"strings"

	"github.com/cloudflare/ahocorasick"

	"citescope/internal/domain"
)

const (
	maxCurrentScore   = 100
	maxProjectedScore = 95
	gapImpactScale    = 40
)

// CurrentScore estimates the citation probability of the domain as it is today.
func CurrentScore(p domain.DomainProfile) int {
	score := 10.0
	if p.Cited {
		score += 30
	}
	if len(p.SchemaTypes) > 0 {
		score += 15
	}
	if p.HasFAQ {
		score += 12
	}
	score += math.Min(0.2*float64(p.ContentDepth), 15)
	score += math.Min(0.15*float64(p.HeadingScore), 12)
	if len(p.Page.Entities) > 5 {
		score += 6
	}
	return min(maxCurrentScore, int(math.Round(score)))
}

// ProjectedScore adds the impact of every gap, capped below a perfect score.
func ProjectedScore(current int, gaps []domain.Gap) int {
	sum := 0.0
	for _, g := range gaps {
		sum += g.Impact
	}
	return min(maxProjectedScore, int(math.Round(float64(current)+sum*gapImpactScale)))
}

type signalKind int

const (
	signalUnknown signalKind = iota
	signalSchema
	signalFAQ
	signalHeading
	signalContent
)

// signalKeywords is ordered; a signal matching several keywords takes the
// kind of the earliest entry.
var signalKeywords = []struct {
	keyword string
	kind    signalKind
}{
	{"schema", signalSchema},
	{"json-ld", signalSchema},
	{"faq", signalFAQ},
	{"heading", signalHeading},
	{"word", signalContent},
	{"content", signalContent},
	{"deep", signalContent},
}

type signalMatcher struct {
	m *ahocorasick.Matcher
}

func newSignalMatcher() signalMatcher {
	words := make([]string, len(signalKeywords))
	for i, k := range signalKeywords {
		words[i] = k.keyword
	}
	return signalMatcher{m: ahocorasick.NewStringMatcher(words)}
}

func (s signalMatcher) kind(signal string) signalKind {
	hits := s.m.Match([]byte(strings.ToLower(signal)))
	best := -1
	for _, h := range hits {
		if best == -1 || h < best {
			best = h
		}
	}
	if best == -1 {
		return signalUnknown
	}
	return signalKeywords[best].kind
}

func present(kind signalKind, p domain.DomainProfile) bool {
	switch kind {
	case signalSchema:
		return len(p.SchemaTypes) > 0
	case signalFAQ:
		return p.HasFAQ
	case signalHeading:
		return p.HeadingScore > 40
	case signalContent:
		return p.ContentDepth > 50
	default:
		return false
	}
}

// ArchetypeMatch is the share of the top archetype's signals the domain shows.
func ArchetypeMatch(archetypes []domain.Archetype, p domain.DomainProfile) int {
	if len(archetypes) == 0 || len(archetypes[0].Signals) == 0 {
		return 0
	}
	matcher := newSignalMatcher()
	signals := archetypes[0].Signals
	hit := 0
	for _, s := range signals {
		if present(matcher.kind(s.Name), p) {
			hit++
		}
	}
	return percent(float64(hit) / float64(len(signals)))
}
