package engine

import (
	"fmt"
	"strings"

	"citescope/internal/domain"
)

// Section labels the research agent is asked to answer under.
const (
	labelInsights = "Key Insights"
	labelDrivers  = "Citation Drivers"
	labelOpps     = "Opportunities"
	labelActions  = "Recommended Actions"

	labelTitle   = "Title"
	labelSummary = "Summary"
	labelItems   = "Items"
)

func researchPrompt(job domain.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are analysing why AI answer engines cite some pages about %q and not %s.\n\n", job.Topic, job.Domain)
	if job.Patterns != nil {
		fmt.Fprintf(&b, "Current citation score: %d/100 (projected %d/100 after fixes).\n",
			job.Patterns.CurrentScore, job.Patterns.ProjectedScore)
		if len(job.Patterns.Archetypes) > 0 {
			b.WriteString("Dominant page archetypes among cited competitors:\n")
			for _, a := range job.Patterns.Archetypes {
				fmt.Fprintf(&b, "- %s (%d%%)\n", a.Name, a.Frequency)
			}
		}
		if len(job.Patterns.Gaps) > 0 {
			b.WriteString("Detected gaps:\n")
			for _, g := range job.Patterns.Gaps {
				fmt.Fprintf(&b, "- %s: %s\n", g.Name, g.Description)
			}
		}
	}
	if job.Discovery != nil {
		b.WriteString("Most cited pages:\n")
		for i, p := range job.Discovery.Pages {
			if i == 8 {
				break
			}
			fmt.Fprintf(&b, "- %s (%s), surfaced by %d queries\n", p.Title, p.URL, p.Citations)
		}
	}
	fmt.Fprintf(&b, "\nAnswer with four sections, each a heading followed by a bulleted list:\n%s:\n%s:\n%s:\n%s:\n",
		labelInsights, labelDrivers, labelOpps, labelActions)
	return b.String()
}

func assetPrompt(job domain.Job, gap domain.Gap) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a remediation asset for %s, a site about %q.\n", job.Domain, job.Topic)
	fmt.Fprintf(&b, "Gap: %s (%s). %s\n", gap.Name, gap.Category, gap.Description)
	switch gap.Category {
	case domain.CategorySchema:
		b.WriteString("Provide a JSON-LD block as the summary and list the properties it sets as items.\n")
	case domain.CategoryFAQ:
		b.WriteString("List five questions a searcher would ask, each item as 'Question? Answer'.\n")
	case domain.CategoryHeadings:
		b.WriteString("List an H2/H3 outline for the page as items.\n")
	default:
		b.WriteString("List the concrete content additions as items.\n")
	}
	fmt.Fprintf(&b, "\nRespond with:\n%s: <short title>\n%s: <one paragraph>\n%s:\n- <item>\n", labelTitle, labelSummary, labelItems)
	return b.String()
}
