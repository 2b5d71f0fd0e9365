// Package app wires a workspace's config into a running engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"citescope/internal/agent"
	"citescope/internal/config"
	"citescope/internal/db"
	"citescope/internal/engine"
	"citescope/internal/events"
	"citescope/internal/fetch"
	"citescope/internal/logger"
	"citescope/internal/migrate"
	"citescope/internal/repo"
	"citescope/internal/report"
	"citescope/internal/search"
	"citescope/internal/store"
	"citescope/internal/store/redisstore"
	"citescope/internal/telemetry"
)

// App owns every long-lived resource behind an Engine.
type App struct {
	Workspace string
	Config    *config.Config
	Logger    logger.Logger
	Telemetry *telemetry.Provider
	DB        *sql.DB
	Repo      repo.Repo
	Store     *store.WriteBehind
	Engine    engine.Engine

	closers []func() error
}

// Open migrates the workspace database and builds the engine described by cfg.
func Open(ctx context.Context, workspace string, cfg *config.Config, log logger.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewNop()
	}
	a := &App{
		Workspace: workspace,
		Config:    cfg,
		Logger:    log,
		Telemetry: telemetry.NewProvider(),
	}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.Repo = repo.Repo{DB: conn}

	durable, err := a.durable(ctx)
	if err != nil {
		return nil, err
	}
	wb, err := store.NewWriteBehind(durable, store.Options{
		CacheSize: cfg.Store.CacheSize,
		Retries:   cfg.Store.WriteRetries,
		Backoff:   time.Duration(cfg.Store.RetryBackoffMS) * time.Millisecond,
		Logger:    log.With(logger.String("component", "store")),
		Telemetry: a.Telemetry,
	})
	if err != nil {
		return nil, fmt.Errorf("job store: %w", err)
	}
	a.Store = wb

	eng := engine.New(wb, cfg)
	eng.Searcher = a.searcher()
	eng.Fetcher = a.fetcher()
	eng.Agent = a.agent(ctx)
	eng.Reporter = a.reporter()
	eng.Events = events.Writer{DB: conn}
	eng.Telemetry = a.Telemetry
	eng.Logger = log.With(logger.String("component", "engine"))
	a.Engine = eng

	ok = true
	return a, nil
}

func (a *App) durable(ctx context.Context) (store.Durable, error) {
	switch a.Config.Store.Backend {
	case "redis":
		rs := redisstore.New(redisstore.Config{
			Addr:      a.Config.Redis.Addr,
			Password:  a.Config.Redis.Password,
			DB:        a.Config.Redis.DB,
			KeyPrefix: a.Config.Redis.KeyPrefix,
		})
		a.closers = append(a.closers, rs.Close)
		if err := rs.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis %s: %w", a.Config.Redis.Addr, err)
		}
		return rs, nil
	case "memory":
		return store.NewMemory(), nil
	default:
		return a.Repo, nil
	}
}

func (a *App) searcher() search.Searcher {
	c := a.Config.Search
	key := c.APIKey
	if key == "" {
		key = os.Getenv("BRAVE_API_KEY")
	}
	return search.NewClient(key,
		search.WithEndpoint(c.Endpoint),
		search.WithTimeout(time.Duration(c.TimeoutSeconds)*time.Second),
		search.WithRateLimit(c.RatePerSecond, c.Burst),
		search.WithLogger(a.Logger.With(logger.String("component", "search"))),
	)
}

func (a *App) fetcher() fetch.Fetcher {
	c := a.Config.Fetch
	timeout := time.Duration(c.TimeoutSeconds) * time.Second
	httpFetcher := fetch.NewHTTPFetcher(timeout, c.UserAgent, c.MaxBodyBytes)
	switch c.Mode {
	case "chrome":
		chrome := fetch.NewChromeFetcher(c.Headless, c.UserAgent, timeout)
		a.closers = append(a.closers, func() error { chrome.Close(); return nil })
		return chrome
	case "auto":
		chrome := fetch.NewChromeFetcher(c.Headless, c.UserAgent, timeout)
		a.closers = append(a.closers, func() error { chrome.Close(); return nil })
		return fetch.Fallback{httpFetcher, chrome}
	default:
		return httpFetcher
	}
}

// agent falls back to Disabled so research degrades instead of failing.
func (a *App) agent(ctx context.Context) agent.Agent {
	c := a.Config.Agent
	s := agent.Settings{
		APIKey:      c.APIKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	}
	var (
		ag  agent.Agent
		err error
	)
	switch c.Provider {
	case "anthropic":
		if s.APIKey == "" {
			s.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		ag, err = agent.NewAnthropic(s)
	case "gemini":
		if s.APIKey == "" {
			s.APIKey = os.Getenv("GEMINI_API_KEY")
		}
		if strings.HasPrefix(s.Model, "claude") {
			s.Model = ""
		}
		ag, err = agent.NewGemini(ctx, s)
	default:
		return agent.Disabled{}
	}
	if err != nil {
		a.Logger.Warn("agent unavailable, research will be degraded",
			logger.String("provider", c.Provider), logger.Error(err))
		return agent.Disabled{}
	}
	return ag
}

func (a *App) reporter() report.Chain {
	c := a.Config.Report
	dir := a.ReportDir()
	var tiers []report.Tier
	if c.RemoteURL != "" {
		tiers = append(tiers, report.Tier{Name: "remote", Renderer: report.Remote{
			URL:    c.RemoteURL,
			Client: &http.Client{Timeout: time.Duration(c.RemoteTimeoutSeconds) * time.Second},
		}})
	}
	tiers = append(tiers,
		report.Tier{Name: "pdf", Renderer: report.PDF{
			Dir:      dir,
			Compress: c.Compress,
			Logger:   a.Logger.With(logger.String("component", "report")),
		}},
		report.Tier{Name: "local", Renderer: report.Local{Dir: dir}},
	)
	return report.Chain{
		Tiers:     tiers,
		Logger:    a.Logger.With(logger.String("component", "report")),
		Telemetry: a.Telemetry,
	}
}

// ReportDir resolves the configured report directory against the workspace.
func (a *App) ReportDir() string {
	dir := a.Config.Report.Dir
	if dir == "" {
		dir = "reports"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	ws := a.Workspace
	if ws == "" {
		ws = "."
	}
	return filepath.Join(ws, dir)
}

// Close flushes pending job writes and releases every resource in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Store != nil {
		if err := a.Store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		a.Store = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
