package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"citescope/internal/agent"
	"citescope/internal/config"
	"citescope/internal/domain"
	"citescope/internal/events"
	"citescope/internal/fetch"
	"citescope/internal/logger"
	"citescope/internal/report"
	"citescope/internal/search"
	"citescope/internal/store"
	"citescope/internal/telemetry"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrUpstreamFailure    = errors.New("upstream failure")
	ErrParseFailure       = errors.New("parse failure")
)

// EventSink records job events. events.Writer satisfies it.
type EventSink interface {
	Append(ctx context.Context, evtType, jobID string, stage domain.Stage, payload events.EventPayload) error
}

// Reporter renders the final report. report.Chain satisfies it.
type Reporter interface {
	Render(ctx context.Context, doc report.Document) report.Outcome
}

// Engine is the job state machine. Every stage loads the job, checks its
// precondition, does its work and merges the result through the store.
type Engine struct {
	Store     store.Store
	Searcher  search.Searcher
	Fetcher   fetch.Fetcher
	Agent     agent.Agent
	Reporter  Reporter
	Events    EventSink
	Telemetry *telemetry.Provider
	Logger    logger.Logger
	Config    *config.Config
	Now       func() time.Time
}

func New(st store.Store, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		Store:  st,
		Agent:  agent.Disabled{},
		Logger: logger.NewNop(),
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() logger.Logger {
	if e.Logger == nil {
		return logger.NewNop()
	}
	return e.Logger
}

func (e Engine) cfg() *config.Config {
	if e.Config == nil {
		return config.Default()
	}
	return e.Config
}

func (e Engine) agent() agent.Agent {
	if e.Agent == nil {
		return agent.Disabled{}
	}
	return e.Agent
}

const timeLayout = time.RFC3339

type collaborator string

const (
	collabSearch collaborator = "search"
	collabFetch  collaborator = "fetch"
	collabAgent  collaborator = "agent"
	collabReport collaborator = "report"
)

// timeout bounds a single collaborator call.
func (e Engine) timeout(c collaborator) time.Duration {
	cfg := e.cfg()
	secs := 0
	switch c {
	case collabSearch:
		secs = cfg.Search.TimeoutSeconds
	case collabFetch:
		secs = cfg.Fetch.TimeoutSeconds
	case collabAgent:
		secs = cfg.Agent.TimeoutSeconds
	case collabReport:
		secs = cfg.Report.RemoteTimeoutSeconds * 3
	}
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

func (e Engine) emit(ctx context.Context, evtType string, job domain.Job, payload events.EventPayload) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Append(ctx, evtType, job.ID, job.Stage, payload); err != nil {
		e.log().Warn("append event failed",
			logger.String("job_id", job.ID),
			logger.String("type", evtType),
			logger.Error(err))
	}
}

// load maps store misses onto ErrNotFound.
func (e Engine) load(ctx context.Context, id string) (domain.Job, error) {
	job, err := e.Store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Job{}, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	return job, err
}
