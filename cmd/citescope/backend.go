package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/viper"

	"citescope/internal/app"
	"citescope/internal/domain"
	"citescope/internal/engine"
	"citescope/internal/store"
	citescopesdk "citescope/sdk/go"
)

// backend is the job surface shared by the local workspace and a remote API.
type backend interface {
	CreateJob(ctx context.Context, opts engine.CreateJobOptions) (domain.Job, error)
	GetJob(ctx context.Context, id string) (domain.Job, error)
	ListJobs(ctx context.Context, f store.Filter) ([]domain.Job, error)
	RunStage(ctx context.Context, id, stage string) (domain.Job, error)
	Run(ctx context.Context, id string) (domain.Job, error)
	Events(ctx context.Context, id string, limit int) ([]domain.Event, error)
}

func withBackend(ctx context.Context, fn func(context.Context, backend) error) error {
	if url := viper.GetString("server"); url != "" {
		return fn(ctx, remoteBackend{client: citescopesdk.New(url)})
	}
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, localBackend{app: a})
	})
}

type localBackend struct {
	app *app.App
}

func (b localBackend) CreateJob(ctx context.Context, opts engine.CreateJobOptions) (domain.Job, error) {
	return b.app.Engine.CreateJob(ctx, opts)
}

func (b localBackend) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return b.app.Engine.GetJob(ctx, id)
}

func (b localBackend) ListJobs(ctx context.Context, f store.Filter) ([]domain.Job, error) {
	return b.app.Engine.ListJobs(ctx, f)
}

func (b localBackend) RunStage(ctx context.Context, id, stage string) (domain.Job, error) {
	return b.app.Engine.RunStage(ctx, id, stage)
}

func (b localBackend) Run(ctx context.Context, id string) (domain.Job, error) {
	return b.app.Engine.Run(ctx, id)
}

func (b localBackend) Events(ctx context.Context, id string, limit int) ([]domain.Event, error) {
	return b.app.Repo.EventsAfter(ctx, limit, 0, id)
}

type remoteBackend struct {
	client *citescopesdk.Client
}

func (b remoteBackend) CreateJob(ctx context.Context, opts engine.CreateJobOptions) (domain.Job, error) {
	c := opts.Config
	return b.client.CreateJob(ctx, citescopesdk.CreateJobRequest{
		Domain: opts.Domain,
		Topic:  opts.Topic,
		Config: &citescopesdk.JobConfig{
			Depth:        c.Depth,
			Country:      c.Country,
			SourceTypes:  c.SourceTypes,
			OutputFormat: c.OutputFormat,
			Competitors:  c.Competitors,
		},
	})
}

func (b remoteBackend) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return b.client.GetJob(ctx, id)
}

func (b remoteBackend) ListJobs(ctx context.Context, f store.Filter) ([]domain.Job, error) {
	return b.client.ListJobs(ctx, citescopesdk.ListJobsOptions{Status: f.Status, Domain: f.Domain, Limit: f.Limit})
}

func (b remoteBackend) RunStage(ctx context.Context, id, stage string) (domain.Job, error) {
	return b.client.RunStage(ctx, id, stage)
}

// Run starts the server-side run and polls until the job is terminal.
func (b remoteBackend) Run(ctx context.Context, id string) (domain.Job, error) {
	if _, err := b.client.Run(ctx, id); err != nil {
		return domain.Job{}, err
	}
	return b.client.Wait(ctx, id, 2*time.Second)
}

func (b remoteBackend) Events(ctx context.Context, id string, limit int) ([]domain.Event, error) {
	page, err := b.client.Events(ctx, id, limit, "")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(page.Items))
	for _, evt := range page.Items {
		payload, _ := json.Marshal(evt.Payload)
		out = append(out, domain.Event{
			ID:      evt.ID,
			TS:      evt.TS,
			Type:    evt.Type,
			JobID:   evt.JobID,
			Stage:   evt.Stage,
			Payload: string(payload),
		})
	}
	return out, nil
}
