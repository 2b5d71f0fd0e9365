package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"citescope/internal/domain"
	"citescope/internal/extract"
	"citescope/internal/logger"
	"citescope/internal/profile"
)

const competitorQuery = "competitor"

// Extract fetches the top cited pages and the job's own page, extracting
// signals from each. A fetch failure yields the empty-page sentinel for that
// URL; the stage fails only when every competitor fetch fails.
func (e Engine) Extract(ctx context.Context, id string) (domain.Job, error) {
	return e.runStage(ctx, id, stageSpec{
		stage: domain.StageExtraction,
		ready: func(j domain.Job) bool { return j.Discovery != nil },
		fatal: true,
		work: func(ctx context.Context, job domain.Job) (domain.StageResult, error) {
			return e.extract(ctx, job)
		},
	})
}

func (e Engine) extract(ctx context.Context, job domain.Job) (domain.StageResult, error) {
	if e.Fetcher == nil {
		return nil, errors.New("no fetch collaborator configured")
	}
	urls := targets(job.Discovery.Pages, e.cfg().Tier(job.Config.Depth).Pages)
	ownURL := "https://" + job.Domain

	pages := make([]domain.Page, len(urls))
	var own domain.Page
	limit := e.cfg().Fetch.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, u := range urls {
		g.Go(func() error {
			pages[i] = e.fetchPage(gctx, job.ID, u)
			return nil
		})
	}
	g.Go(func() error {
		own = e.fetchPage(gctx, job.ID, ownURL)
		return nil
	})
	_ = g.Wait()

	failed := 0
	var lastErr string
	for _, p := range pages {
		if p.FetchError != "" {
			failed++
			lastErr = p.FetchError
		}
	}
	if len(pages) > 0 && failed == len(pages) {
		return nil, fmt.Errorf("extraction failed: all %d page fetches failed: %s", failed, lastErr)
	}
	if own.FetchError != "" {
		e.log().Warn("own page fetch failed", logger.String("job_id", job.ID), logger.String("error", own.FetchError))
	}
	return domain.ExtractionResult{
		Pages:  pages,
		Failed: failed,
		Own:    profile.Profile(own, job.Discovery.DomainCited),
	}, nil
}

// fetchPage never fails: errors become the sentinel page.
func (e Engine) fetchPage(ctx context.Context, jobID, pageURL string) domain.Page {
	cctx, cancel := context.WithTimeout(ctx, e.timeout(collabFetch))
	defer cancel()
	raw, err := e.Fetcher.Fetch(cctx, pageURL)
	e.Telemetry.CollaboratorCall(string(collabFetch), err)
	if err != nil {
		e.log().Debug("fetch failed",
			logger.String("job_id", jobID),
			logger.String("url", pageURL),
			logger.Error(err))
		return extract.Failed(pageURL, err)
	}
	return extract.Extract(pageURL, raw)
}

// targets picks the n most cited search pages plus every configured competitor.
func targets(pages []domain.CitedPage, n int) []string {
	var out []string
	taken := 0
	for _, p := range pages {
		if p.FirstQuery == competitorQuery {
			out = append(out, p.URL)
			continue
		}
		if n > 0 && taken >= n {
			continue
		}
		taken++
		out = append(out, p.URL)
	}
	return out
}

// analyzable drops the sentinels of failed fetches.
func analyzable(pages []domain.Page) []domain.Page {
	out := make([]domain.Page, 0, len(pages))
	for _, p := range pages {
		if p.FetchError == "" {
			out = append(out, p)
		}
	}
	return out
}
