package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"

	"citescope/internal/agent"
	"citescope/internal/domain"
	"citescope/internal/logger"
)

const (
	sourceAgent    = "agent"
	sourceTemplate = "template"

	assetConcurrency = 2
)

// GenerateAssets produces one remediation asset for each of the highest-impact
// gaps. Each gap falls back to a template asset when the agent cannot help.
func (e Engine) GenerateAssets(ctx context.Context, id string) (domain.Job, error) {
	return e.runStage(ctx, id, stageSpec{
		stage: domain.StageAssets,
		ready: func(j domain.Job) bool { return j.Research != nil && j.Patterns != nil },
		work: func(ctx context.Context, job domain.Job) (domain.StageResult, error) {
			return e.assets(ctx, job), nil
		},
	})
}

func (e Engine) assets(ctx context.Context, job domain.Job) domain.AssetsResult {
	gaps := job.Patterns.Gaps
	if n := e.cfg().Pipeline.MaxAssets; len(gaps) > n {
		gaps = gaps[:n]
	}
	out := make([]domain.Asset, len(gaps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(assetConcurrency)
	for i, gap := range gaps {
		g.Go(func() error {
			out[i] = e.asset(gctx, job, gap)
			return nil
		})
	}
	_ = g.Wait()
	return domain.AssetsResult{Assets: out}
}

func (e Engine) asset(ctx context.Context, job domain.Job, gap domain.Gap) domain.Asset {
	cctx, cancel := context.WithTimeout(ctx, e.timeout(collabAgent))
	defer cancel()
	text, err := e.agent().Run(cctx, assetPrompt(job, gap))
	e.Telemetry.CollaboratorCall(string(collabAgent), err)
	if err == nil {
		a, perr := ParseAsset(text, gap)
		if perr == nil {
			return a
		}
		err = perr
	}
	e.log().Debug("asset from template",
		logger.String("job_id", job.ID),
		logger.String("gap", gap.Name),
		logger.Error(err))
	return TemplateAsset(job, gap)
}

// ParseAsset reads an agent asset response.
func ParseAsset(text string, gap domain.Gap) (domain.Asset, error) {
	s := agent.ParseSections(text, labelTitle, labelSummary, labelItems)
	a := domain.Asset{
		GapName:  gap.Name,
		Category: gap.Category,
		Kind:     kindFor(gap.Category),
		Content:  agent.Block(text, labelSummary, labelTitle, labelItems),
		Items:    s[labelItems],
		Source:   sourceAgent,
	}
	if len(s[labelTitle]) > 0 {
		a.Title = s[labelTitle][0]
	}
	if a.Content == "" && len(a.Items) == 0 {
		return domain.Asset{}, fmt.Errorf("%w: asset response for %q is empty", ErrParseFailure, gap.Name)
	}
	if gap.Category == domain.CategorySchema && !json.Valid([]byte(a.Content)) {
		return domain.Asset{}, fmt.Errorf("%w: schema asset for %q has no JSON-LD block", ErrParseFailure, gap.Name)
	}
	if a.Title == "" {
		a.Title = gap.Name
	}
	return a, nil
}

func kindFor(category string) string {
	switch category {
	case domain.CategorySchema:
		return "json-ld"
	case domain.CategoryFAQ:
		return "faq"
	case domain.CategoryHeadings:
		return "outline"
	case domain.CategoryStructure:
		return "internal-links"
	default:
		return "content-brief"
	}
}

// TemplateAsset is the deterministic asset for gap.
func TemplateAsset(job domain.Job, gap domain.Gap) domain.Asset {
	a := domain.Asset{
		GapName:  gap.Name,
		Category: gap.Category,
		Kind:     kindFor(gap.Category),
		Source:   sourceTemplate,
	}
	topic := job.Topic
	switch gap.Category {
	case domain.CategorySchema:
		typ := schemaTypeFor(gap.Name)
		a.Title = typ + " JSON-LD for " + job.Domain
		a.Content = jsonLD(typ, job)
		a.Items = []string{"Add the block inside a script tag of type application/ld+json", "Validate it with a structured data testing tool"}
	case domain.CategoryFAQ:
		a.Title = "FAQ section: " + topic
		a.Content = "Add a question and answer section that covers what searchers ask about " + topic + "."
		a.Items = []string{
			"What is " + topic + "?",
			"How do I choose the right " + topic + "?",
			"How much does " + topic + " cost?",
			"What are common mistakes with " + topic + "?",
			"How does " + topic + " compare to the alternatives?",
		}
	case domain.CategoryHeadings:
		a.Title = "Heading outline: " + topic
		a.Content = "Restructure the page under a single H1 with descriptive H2 sections."
		a.Items = []string{
			"H1: " + titleCase(topic) + ": The Complete Guide",
			"H2: What Is " + titleCase(topic),
			"H2: How " + titleCase(topic) + " Works",
			"H2: Choosing " + titleCase(topic),
			"H2: Common Mistakes",
			"H2: Frequently Asked Questions",
		}
	case domain.CategoryStructure:
		a.Title = "Internal linking plan"
		a.Content = "Link the page to related pages on " + job.Domain + " and back from them."
		a.Items = []string{
			"Link every supporting article about " + topic + " to this page",
			"Add a related reading block with three to five internal links",
			"Use descriptive anchor text that names the subtopic",
		}
	default:
		a.Title = "Content brief: " + topic
		a.Content = "Expand the page to match the depth of the pages answer engines cite for " + topic + "."
		a.Items = []string{
			"Reach at least 1500 words of substantive copy",
			"Cover definitions, comparisons and step by step guidance",
			"Name the products, standards and organizations involved",
			"Cite sources and add publication dates",
		}
	}
	return a
}

// schemaTypeFor reads the type out of "Missing <Type> markup".
func schemaTypeFor(gapName string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(gapName, "Missing "), " markup")
	if name == gapName || name == "" || name == "structured" || strings.Contains(name, " ") {
		return "Article"
	}
	return name
}

func jsonLD(typ string, job domain.Job) string {
	doc := map[string]any{
		"@context": "https://schema.org",
		"@type":    typ,
	}
	switch typ {
	case "FAQPage":
		doc["mainEntity"] = []map[string]any{{
			"@type":          "Question",
			"name":           "What is " + job.Topic + "?",
			"acceptedAnswer": map[string]any{"@type": "Answer", "text": ""},
		}}
	case "Organization":
		doc["name"] = job.Domain
		doc["url"] = "https://" + job.Domain
	default:
		doc["headline"] = titleCase(job.Topic)
		doc["url"] = "https://" + job.Domain
		doc["publisher"] = map[string]any{"@type": "Organization", "name": job.Domain}
	}
	data, _ := json.MarshalIndent(doc, "", "  ")
	return string(data)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
