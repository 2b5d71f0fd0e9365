package repo

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citescope/internal/db"
	"citescope/internal/domain"
	"citescope/internal/events"
	"citescope/internal/migrate"
	"citescope/internal/store"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return Repo{DB: conn}
}

func job(id string, rev int64, status string) domain.Job {
	return domain.Job{
		ID:        id,
		Domain:    "example.com",
		Topic:     "trail shoes",
		Status:    status,
		Stage:     domain.StageDiscovery,
		CreatedAt: "2026-03-01T12:00:00Z",
		Revision:  rev,
	}
}

func TestSaveAndLoadJob(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.LoadJob(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	j := job("j1", 1, domain.StatusRunning)
	j.Discovery = &domain.DiscoveryResult{Queries: []string{"trail shoes"}}
	require.NoError(t, r.SaveJob(ctx, j))

	got, err := r.LoadJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, j.Revision, got.Revision)
	require.NotNil(t, got.Discovery)
	assert.Equal(t, []string{"trail shoes"}, got.Discovery.Queries)
}

func TestSaveJobIgnoresOlderRevision(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.SaveJob(ctx, job("j1", 3, domain.StatusRunning)))
	require.NoError(t, r.SaveJob(ctx, job("j1", 2, domain.StatusPending)))

	got, err := r.LoadJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Revision)
	assert.Equal(t, domain.StatusRunning, got.Status)
}

func TestListJobsFilters(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	a := job("a", 1, domain.StatusComplete)
	b := job("b", 1, domain.StatusRunning)
	b.CreatedAt = "2026-03-02T12:00:00Z"
	c := job("c", 1, domain.StatusRunning)
	c.Domain = "other.com"
	c.CreatedAt = "2026-03-03T12:00:00Z"
	for _, j := range []domain.Job{a, b, c} {
		require.NoError(t, r.SaveJob(ctx, j))
	}

	all, err := r.ListJobs(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	running, err := r.ListJobs(ctx, store.Filter{Status: domain.StatusRunning, Domain: "example.com"})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "b", running[0].ID)

	limited, err := r.ListJobs(ctx, store.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestEventQueries(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	w := events.Writer{DB: r.DB, Now: func() time.Time { return time.Unix(0, 0) }}
	require.NoError(t, w.Append(ctx, events.JobCreated, "j1", domain.StageCreated, nil))
	require.NoError(t, w.Append(ctx, events.JobStageCompleted, "j1", domain.StageDiscovery, events.EventPayload{"pages": 4}))
	require.NoError(t, w.Append(ctx, events.JobCreated, "j2", domain.StageCreated, nil))

	latest, err := r.LatestEventID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest)

	after, err := r.EventsAfter(ctx, 10, 1, "")
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, events.JobStageCompleted, after[0].Type)
	assert.Equal(t, int(domain.StageDiscovery), after[0].Stage)
	assert.JSONEq(t, `{"pages":4}`, after[0].Payload)

	list, err := r.ListEvents(ctx, 10, "j1", "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(2), list[0].ID)

	created, err := r.ListEvents(ctx, 10, "", events.JobCreated)
	require.NoError(t, err)
	assert.Len(t, created, 2)
}

func TestSaveJobStatement(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	now := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	j := job("j9", 4, domain.StatusRunning)
	mock.ExpectExec(`(?s)INSERT INTO jobs\(.+\) ON CONFLICT\(id\) DO UPDATE SET .+ WHERE excluded.revision >= jobs.revision`).
		WithArgs("j9", "example.com", "trail shoes", domain.StatusRunning, int(domain.StageDiscovery), int64(4),
			"2026-03-01T12:00:00Z", "2026-03-01T13:00:00Z", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := Repo{DB: conn, Now: func() time.Time { return now }}
	require.NoError(t, r.SaveJob(context.Background(), j))
	require.NoError(t, mock.ExpectationsWereMet())
}
