package pattern

import (
	"fmt"
	"sort"

	"citescope/internal/domain"
)

const (
	typeRateThreshold = 0.30
	minDomainHeadings = 5
	minContentDepth   = 50
)

type aggregates struct {
	n            float64
	avgHeadings  float64
	avgWords     float64
	avgLinks     float64
	schemaRate   float64
	faqRate      float64
	typeCounts   map[string]int
	typesInOrder []string
}

func aggregate(pages []domain.Page) aggregates {
	a := aggregates{n: float64(total(pages)), typeCounts: map[string]int{}}
	var headings, words, links, schema, faq int
	for _, p := range pages {
		headings += len(p.Headings)
		words += p.WordCount
		links += len(p.InternalLinks)
		types := p.SchemaTypes()
		if len(types) > 0 {
			schema++
		}
		if len(p.FAQs) > 0 {
			faq++
		}
		for _, t := range types {
			if t == "Unknown" {
				continue
			}
			if a.typeCounts[t] == 0 {
				a.typesInOrder = append(a.typesInOrder, t)
			}
			a.typeCounts[t]++
		}
	}
	a.avgHeadings = float64(headings) / a.n
	a.avgWords = float64(words) / a.n
	a.avgLinks = float64(links) / a.n
	a.schemaRate = float64(schema) / a.n
	a.faqRate = float64(faq) / a.n
	sort.Strings(a.typesInOrder)
	return a
}

func ratio(v int, avg float64) float64 {
	if avg <= 0 {
		return 0
	}
	return float64(v) / avg
}

// Gaps evaluates every rule independently and orders the result by impact.
func Gaps(pages []domain.Page, p domain.DomainProfile) []domain.Gap {
	a := aggregate(pages)
	gaps := []domain.Gap{}

	if len(p.SchemaTypes) == 0 {
		desc := fmt.Sprintf("No structured data found; %d%% of cited pages use schema markup.", percent(a.schemaRate))
		if p.HasInvalidSchema {
			desc = fmt.Sprintf("Structured data is present but fails to parse; %d%% of cited pages ship valid schema markup.", percent(a.schemaRate))
		}
		gaps = append(gaps, domain.Gap{
			Name:        "Missing structured markup",
			Description: desc,
			Impact:      0.40,
			Difficulty:  "easy",
			Category:    domain.CategorySchema,
		})
	}

	if !p.HasFAQ {
		gaps = append(gaps, domain.Gap{
			Name:        "Missing FAQ section",
			Description: fmt.Sprintf("No FAQ section found; %d%% of cited pages answer questions inline.", percent(a.faqRate)),
			Impact:      0.35,
			Difficulty:  "easy",
			Category:    domain.CategoryFAQ,
		})
	}

	headings := len(p.Page.Headings)
	if float64(headings) < 0.5*a.avgHeadings || headings < minDomainHeadings {
		gaps = append(gaps, domain.Gap{
			Name: "Weak heading hierarchy",
			Description: fmt.Sprintf("%d headings, %d%% of the cited-page average of %.1f.",
				headings, percent(ratio(headings, a.avgHeadings)), a.avgHeadings),
			Impact:     0.28,
			Difficulty: "medium",
			Category:   domain.CategoryHeadings,
		})
	}

	words := p.Page.WordCount
	if float64(words) < 0.5*a.avgWords || p.ContentDepth < minContentDepth {
		gaps = append(gaps, domain.Gap{
			Name: "Insufficient content depth",
			Description: fmt.Sprintf("%d words, %d%% of the cited-page average of %.0f; depth score %d.",
				words, percent(ratio(words, a.avgWords)), a.avgWords, p.ContentDepth),
			Impact:     0.32,
			Difficulty: "hard",
			Category:   domain.CategoryContent,
		})
	}

	own := map[string]bool{}
	for _, t := range p.SchemaTypes {
		own[t] = true
	}
	for _, t := range a.typesInOrder {
		rate := float64(a.typeCounts[t]) / a.n
		if rate <= typeRateThreshold || own[t] {
			continue
		}
		gaps = append(gaps, domain.Gap{
			Name:        fmt.Sprintf("Missing %s markup", t),
			Description: fmt.Sprintf("%s markup appears on %d%% of cited pages but not on yours.", t, percent(rate)),
			Impact:      0.20 + rate*0.10,
			Difficulty:  "easy",
			Category:    domain.CategorySchema,
		})
	}

	links := len(p.Page.InternalLinks)
	if float64(links) < 0.3*a.avgLinks {
		gaps = append(gaps, domain.Gap{
			Name: "Weak internal linking",
			Description: fmt.Sprintf("%d internal links, %d%% of the cited-page average of %.1f.",
				links, percent(ratio(links, a.avgLinks)), a.avgLinks),
			Impact:     0.18,
			Difficulty: "medium",
			Category:   domain.CategoryStructure,
		})
	}

	sort.SliceStable(gaps, func(i, j int) bool { return gaps[i].Impact > gaps[j].Impact })
	return gaps
}
