package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/rubenv/pgtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushops/rush/operations"
)

// startPostgres starts a throwaway postgres server. The test is skipped when no postgres
// binaries are installed.
func startPostgres(t *testing.T) *sql.DB {
	t.Helper()

	pg, err := pgtest.Start()
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { require.NoError(t, pg.Stop()) })

	return pg.DB
}

func TestCreateDestroy_Postgres(t *testing.T) {
	t.Parallel()

	db := startPostgres(t)
	h := New(Deps{Open: func(context.Context, string) (*sql.DB, error) { return db, nil }})
	exists := operations.Args{"query": "SELECT datname FROM pg_database WHERE datname = 'rush_app'"}

	res, err := h.Create(t.Context(), operations.Args{"db_name": "rush_app"})
	require.NoError(t, err)
	assert.Equal(t, "created database rush_app", res.Message)

	res, err = h.Query(t.Context(), exists)
	require.NoError(t, err)
	assert.Equal(t, "1 rows", res.Message)

	_, err = h.Create(t.Context(), operations.Args{"db_name": "rush_app"})
	require.ErrorContains(t, err, "already exists")

	res, err = h.Create(t.Context(), operations.Args{"db_name": "rush_app", "if_not_exists": "true"})
	require.NoError(t, err)
	assert.Equal(t, "database rush_app already exists", res.Message)

	res, err = h.Destroy(t.Context(), operations.Args{"db_name": "rush_app"})
	require.NoError(t, err)
	assert.Equal(t, "dropped database rush_app", res.Message)

	res, err = h.Query(t.Context(), exists)
	require.NoError(t, err)
	assert.Equal(t, "0 rows", res.Message)
}
