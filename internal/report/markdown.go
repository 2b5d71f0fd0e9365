// Package report assembles the analysis report and renders it through a
// chain of progressively simpler renderers.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"citescope/internal/domain"
)

// Document is what every renderer receives.
type Document struct {
	JobID    string
	Title    string
	Markdown string
	Format   string
}

var funcs = template.FuncMap{
	"pct": func(f float64) string { return fmt.Sprintf("%.0f%%", f*100) },
	"cell": func(s string) string {
		return strings.ReplaceAll(strings.ReplaceAll(s, "|", "/"), "\n", " ")
	},
	"inc":  func(i int) int { return i + 1 },
	"join": func(s []string) string { return strings.Join(s, ", ") },
}

var reportTmpl = template.Must(template.New("report").Funcs(funcs).Parse(`# Citation Readiness Report: {{.Job.Domain}}

Topic: **{{.Job.Topic}}**  
Depth: {{.Job.Config.Depth}} | Country: {{.Job.Config.Country}} | Generated: {{.Generated}}

{{with .Job.Patterns -}}
## Scores

| Metric | Value |
|---|---|
| Current citation probability | {{.CurrentScore}} |
| Projected after remediation | {{.ProjectedScore}} |
| Match with leading archetype | {{.UserArchetypeMatch}}% |
| Competitor pages analysed | {{.CompetitorCount}} |

## Winning Page Archetypes
{{range .Archetypes}}
### {{.Name}} ({{.Frequency}}% of cited pages)
{{range .Signals}}- {{.Name}} (weight {{printf "%.2f" .Weight}})
{{end}}{{end}}
## Gaps

| # | Gap | Impact | Difficulty | Category |
|---|---|---|---|---|
{{range $i, $g := .Gaps}}| {{inc $i}} | {{cell $g.Name}} | {{pct $g.Impact}} | {{$g.Difficulty}} | {{$g.Category}} |
{{end}}
{{range .Gaps}}- **{{.Name}}**: {{.Description}}
{{end}}{{end}}
{{- with .Job.Profile}}
## Your Page

- Content depth score: {{.ContentDepth}}
- Heading structure score: {{.HeadingScore}}
- Schema types: {{if .SchemaTypes}}{{join .SchemaTypes}}{{else}}none{{end}}
- FAQ section: {{if .HasFAQ}}yes{{else}}no{{end}}
- Already cited: {{if .Cited}}yes{{else}}no{{end}}
{{end}}
{{- with .Job.Research}}
## Research Notes
{{if .Degraded}}
_Research was unavailable for this run{{if .Note}}: {{.Note}}{{end}}._
{{end}}{{if .Insights}}
### Key Insights
{{range .Insights}}- {{.}}
{{end}}{{end}}{{if .CitationDrivers}}
### Citation Drivers
{{range .CitationDrivers}}- {{.}}
{{end}}{{end}}{{if .Opportunities}}
### Opportunities
{{range .Opportunities}}- {{.}}
{{end}}{{end}}{{if .Actions}}
### Recommended Actions
{{range .Actions}}- {{.}}
{{end}}{{end}}{{end}}
{{- with .Job.Assets}}{{if .Assets}}
## Remediation Assets
{{range .Assets}}
### {{.Title}}

_Gap: {{.GapName}} ({{.Source}})_

{{.Content}}
{{range .Items}}- {{.}}
{{end}}{{end}}{{end}}{{end}}
{{- with .Job.Discovery}}
## Cited Sources
{{range .Pages}}- [{{if .Title}}{{cell .Title}}{{else}}{{.URL}}{{end}}]({{.URL}}) cited {{.Citations}}x
{{end}}{{end}}`))

// Build renders the job into the markdown report shared by all renderers.
func Build(job domain.Job, generated string) (Document, error) {
	var buf bytes.Buffer
	err := reportTmpl.Execute(&buf, struct {
		Job       domain.Job
		Generated string
	}{job, generated})
	if err != nil {
		return Document{}, fmt.Errorf("build report: %w", err)
	}
	format := job.Config.OutputFormat
	if format == "" {
		format = domain.FormatPDF
	}
	return Document{
		JobID:    job.ID,
		Title:    fmt.Sprintf("Citation Readiness Report: %s", job.Domain),
		Markdown: buf.String(),
		Format:   format,
	}, nil
}
