package domain

import (
	"fmt"
	"time"
)

// Stage is the pipeline position of a job.
type Stage int

const (
	StageCreated Stage = iota
	StageDiscovery
	StageExtraction
	StagePatterns
	StageResearch
	StageAssets
	StageReport
)

var stageNames = [...]string{"created", "discovery", "extraction", "patterns", "research", "assets", "report"}

var stageLabels = [...]string{
	"Queued",
	"Discovering cited pages",
	"Extracting page signals",
	"Analyzing citation patterns",
	"Running deep research",
	"Generating remediation assets",
	"Report ready",
}

// Name is the machine name used in URLs and events.
func (s Stage) Name() string {
	if s < StageCreated || s > StageReport {
		return fmt.Sprintf("stage-%d", int(s))
	}
	return stageNames[s]
}

// Label is the human-readable description shown to clients.
func (s Stage) Label() string {
	if s < StageCreated || s > StageReport {
		return ""
	}
	return stageLabels[s]
}

// ParseStage resolves a stage by machine name.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name && i > 0 {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("invalid stage %q", name)
}

// Stages lists the runnable stages in pipeline order.
func Stages() []Stage {
	return []Stage{StageDiscovery, StageExtraction, StagePatterns, StageResearch, StageAssets, StageReport}
}

// StageResult is the output of one stage. The set of variants is closed: every
// variant owns a disjoint set of Job fields and applies only those.
type StageResult interface {
	Stage() Stage
	apply(j *Job, now string)
}

type DiscoveryResult struct {
	Queries       []string    `json:"queries"`
	Pages         []CitedPage `json:"pages"`
	DomainCited   bool        `json:"domain_cited"`
	FailedQueries []string    `json:"failed_queries,omitempty"`
}

func (DiscoveryResult) Stage() Stage { return StageDiscovery }

func (r DiscoveryResult) apply(j *Job, _ string) {
	j.Discovery = &r
}

type ExtractionResult struct {
	Pages  []Page        `json:"pages"`
	Failed int           `json:"failed"`
	Own    DomainProfile `json:"-"`
}

func (ExtractionResult) Stage() Stage { return StageExtraction }

func (r ExtractionResult) apply(j *Job, _ string) {
	profile := r.Own
	r.Own = DomainProfile{}
	j.Extraction = &r
	j.Profile = &profile
}

type PatternStageResult struct {
	Result PatternResult
}

func (PatternStageResult) Stage() Stage { return StagePatterns }

func (r PatternStageResult) apply(j *Job, _ string) {
	res := r.Result
	j.Patterns = &res
}

type ResearchResult struct {
	Insights        []string `json:"insights"`
	CitationDrivers []string `json:"citation_drivers"`
	Opportunities   []string `json:"opportunities"`
	Actions         []string `json:"actions"`
	Degraded        bool     `json:"degraded"`
	Note            string   `json:"note,omitempty"`
}

func (ResearchResult) Stage() Stage { return StageResearch }

func (r ResearchResult) apply(j *Job, _ string) {
	j.Research = &r
}

type AssetsResult struct {
	Assets []Asset `json:"assets"`
}

func (AssetsResult) Stage() Stage { return StageAssets }

// apply stores the assets and flags the gaps they remediate. The pattern
// result is copied before patching so earlier snapshots stay untouched.
func (r AssetsResult) apply(j *Job, _ string) {
	j.Assets = &r
	if j.Patterns == nil {
		return
	}
	covered := map[string]bool{}
	for _, a := range r.Assets {
		covered[a.GapName] = true
	}
	patterns := *j.Patterns
	patterns.Gaps = append([]Gap(nil), j.Patterns.Gaps...)
	for i := range patterns.Gaps {
		if covered[patterns.Gaps[i].Name] {
			patterns.Gaps[i].AssetGenerated = true
		}
	}
	j.Patterns = &patterns
}

type TierAttempt struct {
	Tier  string `json:"tier"`
	Error string `json:"error,omitempty"`
}

type ReportResult struct {
	Location string        `json:"location,omitempty"`
	Format   string        `json:"format,omitempty"`
	Tier     string        `json:"tier,omitempty"`
	Soft     bool          `json:"soft"`
	Error    string        `json:"error,omitempty"`
	Attempts []TierAttempt `json:"attempts,omitempty"`
}

func (ReportResult) Stage() Stage { return StageReport }

func (r ReportResult) apply(j *Job, now string) {
	j.Report = &r
	j.Status = StatusComplete
	j.CompletedAt = &now
	if r.Error != "" {
		j.Error = r.Error
	}
}

// FailureResult terminates a job after a fatal stage error.
type FailureResult struct {
	Failed  Stage
	Message string
}

// Stage reports StageCreated so a failure never advances the counter.
func (FailureResult) Stage() Stage { return StageCreated }

func (r FailureResult) apply(j *Job, now string) {
	j.Status = StatusFailed
	j.Error = r.Message
	j.CompletedAt = &now
}

// Merge returns a copy of job with the result applied. Fields the result does
// not own are carried over unchanged; the stage counter never decreases.
func Merge(job Job, r StageResult, now time.Time) Job {
	next := job
	if next.Status == StatusPending {
		next.Status = StatusRunning
	}
	r.apply(&next, now.UTC().Format(time.RFC3339))
	if r.Stage() > next.Stage {
		next.Stage = r.Stage()
	}
	next.StageLabel = next.Stage.Label()
	next.Revision++
	return next
}
