// Package scheduler re-runs configured analyses on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"citescope/internal/config"
	"citescope/internal/domain"
	"citescope/internal/engine"
	"citescope/internal/logger"
	"citescope/internal/telemetry"
)

// Pipeline is the part of the engine a schedule drives.
type Pipeline interface {
	CreateJob(ctx context.Context, opts engine.CreateJobOptions) (domain.Job, error)
	Run(ctx context.Context, id string) (domain.Job, error)
}

type Scheduler struct {
	pipeline  Pipeline
	cron      *cron.Cron
	parser    cron.Parser
	log       logger.Logger
	telemetry *telemetry.Provider
	timeout   time.Duration

	mu        sync.Mutex
	schedules map[string]config.Schedule
	entries   map[string]cron.EntryID
}

type Options struct {
	Logger    logger.Logger
	Telemetry *telemetry.Provider
	// RunTimeout bounds one scheduled pipeline run.
	RunTimeout time.Duration
	Location   *time.Location
}

// New registers every schedule. An invalid cron expression fails the whole set.
func New(p Pipeline, schedules []config.Schedule, opts Options) (*Scheduler, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 30 * time.Minute
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{log: log}
	s := &Scheduler{
		pipeline: p,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		parser:    parser,
		log:       log,
		telemetry: opts.Telemetry,
		timeout:   opts.RunTimeout,
		schedules: map[string]config.Schedule{},
		entries:   map[string]cron.EntryID{},
	}
	for _, sch := range schedules {
		if err := s.add(sch); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(sch config.Schedule) error {
	if _, err := s.parser.Parse(sch.Cron); err != nil {
		return fmt.Errorf("schedule %s: invalid cron %q: %w", sch.Name, sch.Cron, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[sch.Name]; ok {
		return fmt.Errorf("schedule %s defined twice", sch.Name)
	}
	name := sch.Name
	id, err := s.cron.AddFunc(sch.Cron, func() {
		if _, err := s.Trigger(context.Background(), name); err != nil {
			s.log.Warn("scheduled run failed", logger.String("schedule", name), logger.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", sch.Name, err)
	}
	s.schedules[name] = sch
	s.entries[name] = id
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, name := range s.Names() {
		s.log.Info("schedule registered",
			logger.String("schedule", name),
			logger.Time("next_run", s.Next(name)))
	}
}

// Stop halts new ticks and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger creates and runs the job for one schedule immediately.
func (s *Scheduler) Trigger(ctx context.Context, name string) (domain.Job, error) {
	s.mu.Lock()
	sch, ok := s.schedules[name]
	s.mu.Unlock()
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: schedule %s", engine.ErrNotFound, name)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	job, err := s.pipeline.CreateJob(ctx, engine.CreateJobOptions{Domain: sch.Domain, Topic: sch.Topic, Config: sch.Config})
	if err != nil {
		s.telemetry.ScheduledRun(name, err)
		return domain.Job{}, err
	}
	s.log.Info("scheduled run started", logger.String("schedule", name), logger.String("job_id", job.ID))
	job, err = s.pipeline.Run(ctx, job.ID)
	s.telemetry.ScheduledRun(name, err)
	return job, err
}

// Next returns the next activation of a schedule, or the zero time.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.schedules))
	for name := range s.schedules {
		out = append(out, name)
	}
	return out
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug("cron: "+msg, fields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error("cron: "+msg, append(fields(keysAndValues), logger.Error(err))...)
}

func fields(kv []any) []logger.Field {
	out := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
