package domain

// Job statuses.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Depth tiers.
const (
	DepthQuick    = "quick"
	DepthStandard = "standard"
	DepthDeep     = "deep"
)

// Output formats.
const (
	FormatPDF      = "pdf"
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

// Gap categories.
const (
	CategorySchema    = "schema"
	CategoryFAQ       = "faq"
	CategoryHeadings  = "headings"
	CategoryContent   = "content"
	CategoryStructure = "structure"
)

type JobConfig struct {
	Depth        string   `json:"depth" yaml:"depth" enum:"quick,standard,deep" validate:"omitempty,oneof=quick standard deep"`
	Country      string   `json:"country" yaml:"country" validate:"omitempty,len=2,alpha"`
	SourceTypes  []string `json:"source_types,omitempty" yaml:"source_types" validate:"omitempty,dive,required"`
	OutputFormat string   `json:"output_format" yaml:"output_format" enum:"pdf,html,markdown" validate:"omitempty,oneof=pdf html markdown"`
	Competitors  []string `json:"competitors,omitempty" yaml:"competitors" validate:"omitempty,dive,required"`
}

type Job struct {
	ID          string    `json:"id"`
	Domain      string    `json:"domain"`
	Topic       string    `json:"topic"`
	Config      JobConfig `json:"config"`
	Status      string    `json:"status" enum:"pending,running,complete,failed"`
	Stage       Stage     `json:"stage" minimum:"0" maximum:"6"`
	StageLabel  string    `json:"stage_label"`
	CreatedAt   string    `json:"created_at" format:"date-time"`
	CompletedAt *string   `json:"completed_at,omitempty" format:"date-time"`
	Error       string    `json:"error,omitempty"`
	Revision    int64     `json:"revision"`

	Discovery  *DiscoveryResult  `json:"discovery,omitempty"`
	Extraction *ExtractionResult `json:"extraction,omitempty"`
	Profile    *DomainProfile    `json:"profile,omitempty"`
	Patterns   *PatternResult    `json:"patterns,omitempty"`
	Research   *ResearchResult   `json:"research,omitempty"`
	Assets     *AssetsResult     `json:"assets,omitempty"`
	Report     *ReportResult     `json:"report,omitempty"`
}

// Terminal reports whether no further stage may run.
func (j Job) Terminal() bool {
	return j.Status == StatusComplete || j.Status == StatusFailed
}

type CitedPage struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Snippets      []string `json:"snippets,omitempty"`
	PublishedDate string   `json:"published_date,omitempty"`
	Citations     int      `json:"citations"`
	FirstQuery    string   `json:"first_query"`
}

type Heading struct {
	Level int    `json:"level" minimum:"1" maximum:"6"`
	Text  string `json:"text"`
}

type StructuredData struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	IsValid    bool           `json:"is_valid"`
}

type FAQPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type Page struct {
	URL            string           `json:"url"`
	Title          string           `json:"title"`
	Content        string           `json:"content,omitempty"`
	Headings       []Heading        `json:"headings"`
	StructuredData []StructuredData `json:"structured_data"`
	FAQs           []FAQPair        `json:"faqs"`
	WordCount      int              `json:"word_count"`
	InternalLinks  []string         `json:"internal_links"`
	Entities       []string         `json:"entities"`
	FetchError     string           `json:"fetch_error,omitempty"`
}

// HeadingCount returns the number of headings at the given level.
func (p Page) HeadingCount(level int) int {
	n := 0
	for _, h := range p.Headings {
		if h.Level == level {
			n++
		}
	}
	return n
}

// SchemaTypes returns the distinct valid structured-data types in first-seen order.
func (p Page) SchemaTypes() []string {
	seen := map[string]bool{}
	var out []string
	for _, sd := range p.StructuredData {
		if !sd.IsValid || seen[sd.Type] {
			continue
		}
		seen[sd.Type] = true
		out = append(out, sd.Type)
	}
	return out
}

type DomainProfile struct {
	Page             Page     `json:"page"`
	SchemaTypes      []string `json:"schema_types"`
	HasInvalidSchema bool     `json:"has_invalid_schema"`
	HasFAQ           bool     `json:"has_faq"`
	ContentDepth     int      `json:"content_depth" minimum:"0" maximum:"100"`
	HeadingScore     int      `json:"heading_score" minimum:"0" maximum:"100"`
	Cited            bool     `json:"cited"`
}

type Signal struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

type Archetype struct {
	Name      string   `json:"name"`
	Frequency int      `json:"frequency"`
	Signals   []Signal `json:"signals"`
}

type Gap struct {
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Impact         float64 `json:"impact"`
	Difficulty     string  `json:"difficulty" enum:"easy,medium,hard"`
	Category       string  `json:"category" enum:"schema,faq,headings,content,structure"`
	AssetGenerated bool    `json:"asset_generated"`
}

type PatternResult struct {
	Archetypes         []Archetype `json:"archetypes"`
	Gaps               []Gap       `json:"gaps"`
	CurrentScore       int         `json:"current_score"`
	ProjectedScore     int         `json:"projected_score"`
	UserArchetypeMatch int         `json:"user_archetype_match"`
	CompetitorCount    int         `json:"competitor_count"`
}

type Asset struct {
	GapName  string   `json:"gap_name"`
	Category string   `json:"category"`
	Kind     string   `json:"kind"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Items    []string `json:"items,omitempty"`
	Source   string   `json:"source" enum:"agent,template"`
}

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	JobID   string `json:"job_id"`
	Stage   int    `json:"stage"`
	Payload string `json:"payload"`
}
