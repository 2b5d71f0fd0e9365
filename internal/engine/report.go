package engine

import (
	"context"
	"time"

	"citescope/internal/domain"
	"citescope/internal/report"
)

// GenerateReport renders the report and completes the job. Rendering
// failures are recorded on the job and never fail it.
func (e Engine) GenerateReport(ctx context.Context, id string) (domain.Job, error) {
	return e.runStage(ctx, id, stageSpec{
		stage: domain.StageReport,
		ready: func(j domain.Job) bool { return j.Assets != nil },
		work: func(ctx context.Context, job domain.Job) (domain.StageResult, error) {
			return e.render(ctx, job), nil
		},
	})
}

func (e Engine) render(ctx context.Context, job domain.Job) domain.ReportResult {
	doc, err := report.Build(job, e.now().UTC().Format(time.RFC1123))
	if err != nil {
		return domain.ReportResult{Error: "report generation failed: " + err.Error()}
	}
	if e.Reporter == nil {
		return domain.ReportResult{Error: "report generation failed: no renderer configured"}
	}
	cctx, cancel := context.WithTimeout(ctx, e.timeout(collabReport))
	defer cancel()
	out := e.Reporter.Render(cctx, doc)
	return out.Result()
}
