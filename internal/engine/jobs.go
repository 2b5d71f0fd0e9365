package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"citescope/internal/domain"
	"citescope/internal/events"
	"citescope/internal/logger"
	"citescope/internal/store"
)

type CreateJobOptions struct {
	Domain string           `json:"domain" validate:"required,fqdn"`
	Topic  string           `json:"topic" validate:"required,max=200"`
	Config domain.JobConfig `json:"config"`
}

var validate = validator.New()

// CreateJob validates input, fills config defaults and stores a pending job.
func (e Engine) CreateJob(ctx context.Context, opts CreateJobOptions) (domain.Job, error) {
	opts.Domain = NormalizeDomain(opts.Domain)
	opts.Topic = strings.TrimSpace(opts.Topic)
	if err := validate.Struct(opts); err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	cfg := e.defaults(opts.Config)
	if err := validate.Struct(cfg); err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	job := domain.Job{
		ID:         uuid.NewString(),
		Domain:     opts.Domain,
		Topic:      opts.Topic,
		Config:     cfg,
		Status:     domain.StatusPending,
		Stage:      domain.StageCreated,
		StageLabel: domain.StageCreated.Label(),
		CreatedAt:  e.now().UTC().Format(timeLayout),
		Revision:   1,
	}
	if err := e.Store.Create(ctx, job); err != nil {
		return domain.Job{}, err
	}
	e.Telemetry.JobCreated()
	e.emit(ctx, events.JobCreated, job, events.EventPayload{
		"domain": job.Domain,
		"topic":  job.Topic,
		"depth":  job.Config.Depth,
	})
	e.log().Info("job created",
		logger.String("job_id", job.ID),
		logger.String("domain", job.Domain),
		logger.String("depth", job.Config.Depth))
	return job, nil
}

func (e Engine) defaults(c domain.JobConfig) domain.JobConfig {
	p := e.cfg().Pipeline
	if c.Depth == "" {
		c.Depth = p.DefaultDepth
	}
	c.Country = strings.ToUpper(strings.TrimSpace(c.Country))
	if c.Country == "" {
		c.Country = p.DefaultCountry
	}
	if c.OutputFormat == "" {
		c.OutputFormat = p.DefaultFormat
	}
	var sources []string
	for _, s := range c.SourceTypes {
		if s = strings.TrimSpace(s); s != "" {
			sources = append(sources, s)
		}
	}
	c.SourceTypes = sources
	var competitors []string
	for _, s := range c.Competitors {
		if s = strings.TrimSpace(s); s != "" {
			competitors = append(competitors, s)
		}
	}
	c.Competitors = competitors
	return c
}

func (e Engine) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return e.load(ctx, id)
}

// ListJobs returns jobs newest first.
func (e Engine) ListJobs(ctx context.Context, filter store.Filter) ([]domain.Job, error) {
	if filter.Domain != "" {
		filter.Domain = NormalizeDomain(filter.Domain)
	}
	return e.Store.List(ctx, filter)
}

// NormalizeDomain reduces a URL or host to a bare lowercase hostname.
func NormalizeDomain(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return strings.TrimSpace(strings.ToLower(raw))
	}
	host := strings.TrimSuffix(u.Hostname(), ".")
	return strings.TrimPrefix(host, "www.")
}
