package engine

import (
	"context"
	"errors"
	"fmt"

	"citescope/internal/agent"
	"citescope/internal/domain"
	"citescope/internal/logger"
)

// DeepResearch asks the agent to explain the citation landscape. Any agent or
// parse problem degrades the result to empty lists plus a note.
func (e Engine) DeepResearch(ctx context.Context, id string) (domain.Job, error) {
	return e.runStage(ctx, id, stageSpec{
		stage: domain.StageResearch,
		ready: func(j domain.Job) bool { return j.Patterns != nil },
		work: func(ctx context.Context, job domain.Job) (domain.StageResult, error) {
			return e.research(ctx, job), nil
		},
	})
}

func (e Engine) research(ctx context.Context, job domain.Job) domain.ResearchResult {
	cctx, cancel := context.WithTimeout(ctx, e.timeout(collabAgent))
	defer cancel()
	text, err := e.agent().Run(cctx, researchPrompt(job))
	e.Telemetry.CollaboratorCall(string(collabAgent), err)
	if err != nil {
		return e.degradedResearch(job, fmt.Errorf("%w: %v", ErrUpstreamFailure, err))
	}
	res, err := ParseResearch(text)
	if err != nil {
		return e.degradedResearch(job, err)
	}
	return res
}

func (e Engine) degradedResearch(job domain.Job, err error) domain.ResearchResult {
	note := "deep research unavailable: " + err.Error()
	if errors.Is(err, agent.ErrDisabled) {
		note = "deep research skipped: no agent provider configured"
	}
	e.log().Warn("research degraded", logger.String("job_id", job.ID), logger.Error(err))
	return domain.ResearchResult{
		Insights:        []string{},
		CitationDrivers: []string{},
		Opportunities:   []string{},
		Actions:         []string{},
		Degraded:        true,
		Note:            note,
	}
}

// ParseResearch reads the four research sections from agent text. It returns
// ErrParseFailure when none of them has any items.
func ParseResearch(text string) (domain.ResearchResult, error) {
	s := agent.ParseSections(text, labelInsights, labelDrivers, labelOpps, labelActions)
	res := domain.ResearchResult{
		Insights:        s[labelInsights],
		CitationDrivers: s[labelDrivers],
		Opportunities:   s[labelOpps],
		Actions:         s[labelActions],
	}
	if len(res.Insights)+len(res.CitationDrivers)+len(res.Opportunities)+len(res.Actions) == 0 {
		return res, fmt.Errorf("%w: research response has no recognizable sections", ErrParseFailure)
	}
	return res, nil
}
