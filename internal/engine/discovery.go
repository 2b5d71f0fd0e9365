package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"

	"citescope/internal/domain"
	"citescope/internal/logger"
	"citescope/internal/search"
)

// Discover searches every query variant for the job's topic and records the
// deduplicated set of cited pages. It fails the job only when every search fails.
func (e Engine) Discover(ctx context.Context, id string) (domain.Job, error) {
	return e.runStage(ctx, id, stageSpec{
		stage: domain.StageDiscovery,
		fatal: true,
		work: func(ctx context.Context, job domain.Job) (domain.StageResult, error) {
			return e.discover(ctx, job)
		},
	})
}

func (e Engine) discover(ctx context.Context, job domain.Job) (domain.StageResult, error) {
	if e.Searcher == nil {
		return nil, errors.New("no search collaborator configured")
	}
	tier := e.cfg().Tier(job.Config.Depth)
	queries := QueryVariants(job.Topic, job.Config, tier.Variants)

	results := make([][]search.Result, len(queries))
	errs := make([]error, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, e.timeout(collabSearch))
			defer cancel()
			res, err := e.Searcher.Search(cctx, search.Query{Text: q, Count: tier.Results, Country: job.Config.Country})
			e.Telemetry.CollaboratorCall(string(collabSearch), err)
			// a failed variant never cancels its siblings
			results[i], errs[i] = res, err
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	var lastErr error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, queries[i])
			lastErr = err
			e.log().Warn("search variant failed",
				logger.String("job_id", job.ID),
				logger.String("query", queries[i]),
				logger.Error(err))
		}
	}
	if len(failed) == len(queries) {
		return nil, fmt.Errorf("discovery failed: all %d searches failed: %w", len(queries), lastErr)
	}

	pages, cited := MergeResults(queries, results, job.Domain)
	pages = appendCompetitors(pages, job.Config.Competitors, job.Domain)
	return domain.DiscoveryResult{
		Queries:       queries,
		Pages:         pages,
		DomainCited:   cited,
		FailedQueries: failed,
	}, nil
}

// QueryVariants builds up to n distinct search phrasings of topic.
func QueryVariants(topic string, cfg domain.JobConfig, n int) []string {
	topic = strings.TrimSpace(topic)
	candidates := []string{topic}
	for _, src := range cfg.SourceTypes {
		candidates = append(candidates, topic+" "+src)
	}
	candidates = append(candidates,
		"best "+topic,
		"what is "+topic,
		"how to choose "+topic,
		topic+" guide",
		topic+" faq",
		topic+" comparison",
		topic+" reviews",
	)
	for _, c := range cfg.Competitors {
		if host := hostOf(c); host != "" {
			candidates = append(candidates, topic+" "+host+" alternatives")
		}
	}

	seen := map[string]bool{}
	var out []string
	for _, c := range candidates {
		key := strings.ToLower(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}

// MergeResults deduplicates results by URL across variants, counting how many
// variants surfaced each page. Pages on the own domain only set cited.
func MergeResults(queries []string, results [][]search.Result, ownDomain string) ([]domain.CitedPage, bool) {
	own := registrable(ownDomain)
	index := map[string]int{}
	var pages []domain.CitedPage
	cited := false
	for i, batch := range results {
		counted := map[string]bool{}
		for _, r := range batch {
			key := canonicalURL(r.URL)
			if key == "" || counted[key] {
				continue
			}
			counted[key] = true
			if own != "" && registrable(hostOf(r.URL)) == own {
				cited = true
				continue
			}
			if at, ok := index[key]; ok {
				pages[at].Citations++
				continue
			}
			index[key] = len(pages)
			pages = append(pages, domain.CitedPage{
				URL:           r.URL,
				Title:         r.Title,
				Description:   r.Description,
				Snippets:      r.Snippets,
				PublishedDate: r.PublishedDate,
				Citations:     1,
				FirstQuery:    queries[i],
			})
		}
	}
	sort.SliceStable(pages, func(a, b int) bool { return pages[a].Citations > pages[b].Citations })
	return pages, cited
}

// appendCompetitors adds configured competitor URLs not already discovered.
func appendCompetitors(pages []domain.CitedPage, competitors []string, ownDomain string) []domain.CitedPage {
	own := registrable(ownDomain)
	seen := map[string]bool{}
	for _, p := range pages {
		seen[canonicalURL(p.URL)] = true
	}
	for _, c := range competitors {
		u := c
		if !strings.Contains(u, "://") {
			u = "https://" + u
		}
		key := canonicalURL(u)
		if key == "" || seen[key] || registrable(hostOf(u)) == own {
			continue
		}
		seen[key] = true
		pages = append(pages, domain.CitedPage{URL: u, Title: hostOf(u), FirstQuery: competitorQuery})
	}
	return pages
}

func hostOf(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// registrable returns the eTLD+1 of host, or host itself when it has none.
func registrable(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return ""
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return etld1
}

// canonicalURL is the dedupe key: scheme-less, lowercase host, no fragment or trailing slash.
func canonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	path := strings.TrimSuffix(u.EscapedPath(), "/")
	key := host + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}
