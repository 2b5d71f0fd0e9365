package engine

import (
	"context"
	"fmt"

	"citescope/internal/domain"
	"citescope/internal/pattern"
)

// AnalyzePatterns scores the own profile against the successfully extracted pages.
func (e Engine) AnalyzePatterns(ctx context.Context, id string) (domain.Job, error) {
	return e.runStage(ctx, id, stageSpec{
		stage: domain.StagePatterns,
		ready: func(j domain.Job) bool { return j.Extraction != nil && j.Profile != nil },
		fatal: true,
		work: func(_ context.Context, job domain.Job) (res domain.StageResult, err error) {
			defer func() {
				if r := recover(); r != nil {
					res, err = nil, fmt.Errorf("pattern analysis failed: %v", r)
				}
			}()
			result := pattern.Analyze(analyzable(job.Extraction.Pages), *job.Profile)
			return domain.PatternStageResult{Result: result}, nil
		},
	})
}
