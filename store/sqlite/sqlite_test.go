package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/performance-engine/incentive"
	"github.com/warp/performance-engine/store/sqlite"
	"github.com/warp/performance-engine/store/storetest"
)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return newTestStore(t)
	})
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	// GIVEN: A policy saved to a database file
	// WHEN: The file is opened again
	// THEN: The schema migration is idempotent and the data is still there

	path := filepath.Join(t.TempDir(), "performance.db")
	ctx := context.Background()

	first, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, first.SavePolicy(ctx, incentive.DefaultSettings()))
	require.NoError(t, first.Close())

	second, err := sqlite.New(path)
	require.NoError(t, err)
	defer second.Close()

	latest, err := second.LatestPolicy(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 1, latest.Version)
}

func TestSQLiteStore_CorruptDecimal_IsAnError(t *testing.T) {
	// GIVEN: A stored policy whose threshold column was damaged outside the store
	// WHEN: Reading it back
	// THEN: The read fails naming the row and column instead of returning zero

	path := filepath.Join(t.TempDir(), "performance.db")
	ctx := context.Background()

	first, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, first.SavePolicy(ctx, incentive.DefaultSettings()))
	require.NoError(t, first.Close())

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.ExecContext(ctx, `UPDATE policies SET min_performance_threshold = '5O'`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	second, err := sqlite.New(path)
	require.NoError(t, err)
	defer second.Close()

	latest, err := second.LatestPolicy(ctx)
	require.Error(t, err)
	assert.Nil(t, latest)
	assert.Contains(t, err.Error(), "policy v1")
	assert.Contains(t, err.Error(), "min_performance_threshold")
}
