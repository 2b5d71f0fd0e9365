package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citescope/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(conn))
	require.NoError(t, Migrate(conn))

	v, err := Version(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	for _, table := range []string{"jobs", "events"} {
		var name string
		require.NoError(t, conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name))
		assert.Equal(t, table, name)
	}
}
