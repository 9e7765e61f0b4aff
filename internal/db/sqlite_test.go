package db

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	w := dsn("/tmp/h.sqlite", ModeWrite)
	r := dsn("/tmp/h.sqlite", ModeRead)

	for _, d := range []string{w, r} {
		assert.True(t, strings.HasPrefix(d, "/tmp/h.sqlite?"))
		assert.Contains(t, d, "_journal_mode=WAL")
		assert.Contains(t, d, "_busy_timeout=5000")
		assert.Contains(t, d, "_synchronous=NORMAL")
		assert.Contains(t, d, "_foreign_keys=on")
	}
	assert.Contains(t, w, "_txlock=immediate")
	assert.NotContains(t, r, "_txlock")
}

func TestOpen_InvalidMode(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "h.sqlite"), "append", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SQLite mode")
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/h.sqlite", ModeWrite, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping sqlite")

	_, err = OpenPools("/nonexistent/dir/h.sqlite", 4)
	require.Error(t, err)
}

func TestOpenPools(t *testing.T) {
	pools, err := OpenPools(filepath.Join(t.TempDir(), "h.sqlite"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pools.Close() })

	assert.Equal(t, 1, pools.Write.Stats().MaxOpenConnections)
	assert.Equal(t, 4, pools.Read.Stats().MaxOpenConnections)

	var mode string
	require.NoError(t, pools.Read.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	var fk int
	require.NoError(t, pools.Write.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestMigrate(t *testing.T) {
	pools := OpenTestSQLite(t)
	ctx := context.Background()

	v, err := SchemaVersion(ctx, pools.Read)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	for _, table := range []string{"datasets", "schema_snapshots", "schema_diffs", "version_records", "lineage_edges"} {
		var name string
		err := pools.Read.QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, table)
	}

	// Re-running is a no-op.
	require.NoError(t, Migrate(ctx, pools.Write))
}

func TestPools_ConcurrentReadsDuringWrites(t *testing.T) {
	pools := OpenTestSQLite(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := pools.Write.ExecContext(ctx,
				"INSERT INTO datasets (id, created_at) VALUES (?, datetime('now'))",
				"ds_"+strings.Repeat("x", i+1))
			errs <- err
		}(i)
		go func() {
			defer wg.Done()
			var n int
			errs <- pools.Read.QueryRowContext(ctx, "SELECT count(*) FROM datasets").Scan(&n)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
