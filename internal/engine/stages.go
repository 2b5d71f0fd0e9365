package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"citescope/internal/domain"
	"citescope/internal/events"
	"citescope/internal/logger"
)

// stageSpec describes one pipeline step to runStage.
type stageSpec struct {
	stage domain.Stage
	// ready reports whether the upstream result the stage consumes is present.
	ready func(domain.Job) bool
	// fatal stages turn a work error into a failed job.
	fatal bool
	work  func(ctx context.Context, job domain.Job) (domain.StageResult, error)
}

const (
	outcomeOK       = "ok"
	outcomeDegraded = "degraded"
	outcomeFailed   = "failed"
	outcomeRejected = "rejected"
)

func (e Engine) runStage(ctx context.Context, id string, spec stageSpec) (domain.Job, error) {
	name := spec.stage.Name()
	job, err := e.load(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if err := precondition(job, spec); err != nil {
		e.Telemetry.StageObserved(name, outcomeRejected, 0)
		return domain.Job{}, err
	}

	ctx, span := e.Telemetry.StartSpan(ctx, "stage."+name,
		attribute.String("job.id", id),
		attribute.String("job.domain", job.Domain))
	defer span.End()
	start := time.Now()
	log := e.log().With(logger.String("job_id", id), logger.String("stage", name))

	res, workErr := spec.work(ctx, job)
	if workErr != nil {
		if !spec.fatal {
			// non-fatal stages report problems through their result
			return domain.Job{}, workErr
		}
		res = domain.FailureResult{Failed: spec.stage, Message: workErr.Error()}
	}

	updated, err := e.Store.Update(ctx, id, func(j *domain.Job) error {
		if j.Terminal() {
			return fmt.Errorf("%w: job %s is %s", ErrPreconditionFailed, id, j.Status)
		}
		*j = domain.Merge(*j, res, e.now())
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Job{}, err
	}

	outcome := outcomeOf(res)
	elapsed := time.Since(start)
	e.Telemetry.StageObserved(name, outcome, elapsed)
	e.record(ctx, updated, spec.stage, res, outcome)

	if workErr != nil {
		span.RecordError(workErr)
		span.SetStatus(codes.Error, workErr.Error())
		log.Error("stage failed", logger.Error(workErr), logger.Duration("elapsed", elapsed))
		return updated, fmt.Errorf("%w: %s: %v", ErrUpstreamFailure, name, workErr)
	}
	log.Info("stage finished",
		logger.String("outcome", outcome),
		logger.Int64("revision", updated.Revision),
		logger.Duration("elapsed", elapsed))
	return updated, nil
}

func precondition(job domain.Job, spec stageSpec) error {
	if job.Terminal() {
		return fmt.Errorf("%w: job %s is %s", ErrPreconditionFailed, job.ID, job.Status)
	}
	if spec.ready != nil && !spec.ready(job) {
		return fmt.Errorf("%w: %s requires the %s result", ErrPreconditionFailed,
			spec.stage.Name(), (spec.stage - 1).Name())
	}
	return nil
}

func outcomeOf(res domain.StageResult) string {
	switch r := res.(type) {
	case domain.FailureResult:
		return outcomeFailed
	case domain.ResearchResult:
		if r.Degraded {
			return outcomeDegraded
		}
	case domain.ReportResult:
		if r.Error != "" || r.Soft {
			return outcomeDegraded
		}
	}
	return outcomeOK
}

// record emits the events for a merged result and counts terminal jobs.
func (e Engine) record(ctx context.Context, job domain.Job, stage domain.Stage, res domain.StageResult, outcome string) {
	payload := events.EventPayload{"stage": stage.Name(), "outcome": outcome, "revision": job.Revision}
	switch r := res.(type) {
	case domain.FailureResult:
		payload["error"] = r.Message
		e.emit(ctx, events.JobFailed, job, payload)
		e.Telemetry.JobFinished(job.Status)
		return
	case domain.ResearchResult:
		if r.Degraded {
			payload["note"] = r.Note
		}
	case domain.ReportResult:
		payload["tier"] = r.Tier
		payload["format"] = r.Format
		if r.Error != "" {
			payload["error"] = r.Error
		}
	}
	evtType := events.JobStageCompleted
	if outcome == outcomeDegraded {
		evtType = events.JobStageDegraded
	}
	e.emit(ctx, evtType, job, payload)
	if job.Status == domain.StatusComplete {
		e.emit(ctx, events.JobCompleted, job, events.EventPayload{"location": job.Report.Location})
		e.Telemetry.JobFinished(job.Status)
	}
}

// RunStage runs one stage by machine name.
func (e Engine) RunStage(ctx context.Context, id, name string) (domain.Job, error) {
	stage, err := domain.ParseStage(name)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	switch stage {
	case domain.StageDiscovery:
		return e.Discover(ctx, id)
	case domain.StageExtraction:
		return e.Extract(ctx, id)
	case domain.StagePatterns:
		return e.AnalyzePatterns(ctx, id)
	case domain.StageResearch:
		return e.DeepResearch(ctx, id)
	case domain.StageAssets:
		return e.GenerateAssets(ctx, id)
	case domain.StageReport:
		return e.GenerateReport(ctx, id)
	}
	return domain.Job{}, fmt.Errorf("%w: stage %s is not runnable", ErrInvalidInput, name)
}

// Run drives every stage after the job's current one until it is terminal.
func (e Engine) Run(ctx context.Context, id string) (domain.Job, error) {
	job, err := e.load(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if job.Terminal() {
		return job, fmt.Errorf("%w: job %s is %s", ErrPreconditionFailed, id, job.Status)
	}
	for _, stage := range domain.Stages() {
		if stage <= job.Stage {
			continue
		}
		job, err = e.RunStage(ctx, id, stage.Name())
		if err != nil {
			return job, err
		}
		if job.Terminal() {
			break
		}
	}
	return job, nil
}

// IsClientError reports whether err stems from caller input rather than the pipeline.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrPreconditionFailed)
}
