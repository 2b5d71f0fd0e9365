package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citescope/internal/agent"
	"citescope/internal/config"
	"citescope/internal/engine"
	"citescope/internal/fetch"
	"citescope/internal/report"
	"citescope/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	return config.Default()
}

func TestOpenWiresDefaults(t *testing.T) {
	ws := t.TempDir()
	a, err := Open(context.Background(), ws, testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.IsType(t, agent.Disabled{}, a.Engine.Agent)
	assert.IsType(t, &fetch.HTTPFetcher{}, a.Engine.Fetcher)
	chain, ok := a.Engine.Reporter.(report.Chain)
	require.True(t, ok)
	require.Len(t, chain.Tiers, 2)
	assert.Equal(t, "pdf", chain.Tiers[0].Name)
	assert.Equal(t, "local", chain.Tiers[1].Name)
	assert.Equal(t, filepath.Join(ws, "reports"), a.ReportDir())
}

func TestOpenAddsRemoteTierAndFallbackFetcher(t *testing.T) {
	cfg := testConfig(t)
	cfg.Report.RemoteURL = "http://render.invalid/render"
	cfg.Report.Dir = "/var/tmp/citescope-reports"
	cfg.Fetch.Mode = "auto"
	a, err := Open(context.Background(), t.TempDir(), cfg, nil)
	require.NoError(t, err)
	defer a.Close(context.Background())

	chain := a.Engine.Reporter.(report.Chain)
	require.Len(t, chain.Tiers, 3)
	assert.Equal(t, "remote", chain.Tiers[0].Name)
	assert.Equal(t, "/var/tmp/citescope-reports", a.ReportDir())
	fb, ok := a.Engine.Fetcher.(fetch.Fallback)
	require.True(t, ok)
	assert.Len(t, fb, 2)
}

func TestJobsSurviveReopen(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()
	a, err := Open(ctx, ws, testConfig(t), nil)
	require.NoError(t, err)
	job, err := a.Engine.CreateJob(ctx, engine.CreateJobOptions{Domain: "example.com", Topic: "running shoes"})
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))

	b, err := Open(ctx, ws, testConfig(t), nil)
	require.NoError(t, err)
	defer b.Close(ctx)
	got, err := b.Engine.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "running shoes", got.Topic)

	evts, err := b.Repo.ListEvents(ctx, 10, job.ID, "")
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "job.created", evts[0].Type)
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Store.Backend = "redis"
	cfg.Redis.Addr = mr.Addr()
	ctx := context.Background()

	a, err := Open(ctx, t.TempDir(), cfg, nil)
	require.NoError(t, err)
	job, err := a.Engine.CreateJob(ctx, engine.CreateJobOptions{Domain: "example.com", Topic: "trail shoes"})
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))

	assert.True(t, mr.Exists("citescope:job:"+job.ID))
}

func TestRedisBackendUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	cfg := testConfig(t)
	cfg.Store.Backend = "redis"
	cfg.Redis.Addr = addr

	_, err := Open(context.Background(), t.TempDir(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestMemoryBackendCloseIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "memory"
	a, err := Open(context.Background(), t.TempDir(), cfg, nil)
	require.NoError(t, err)
	var _ store.Store = a.Store
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}
