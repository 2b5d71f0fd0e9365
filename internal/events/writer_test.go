package events

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"citescope/internal/domain"
)

func TestAppendWritesRow(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO events").
		WithArgs("2026-03-01T12:00:00Z", JobStageCompleted, "job-1", int(domain.StageDiscovery), `{"pages":3}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := Writer{DB: conn, Now: func() time.Time { return now }}
	require.NoError(t, w.Append(context.Background(), JobStageCompleted, "job-1", domain.StageDiscovery, EventPayload{"pages": 3}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendDefaultsEmptyPayload(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("INSERT INTO events").
		WithArgs(sqlmock.AnyArg(), JobCreated, "job-2", 0, `{}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, Writer{DB: conn}.Append(context.Background(), JobCreated, "job-2", domain.StageCreated, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
