package db

import (
	"context"
	"path/filepath"
	"testing"
)

// OpenTestSQLite opens migrated pools in t.TempDir() and closes them when the
// test ends.
func OpenTestSQLite(t *testing.T) *Pools {
	t.Helper()

	pools, err := OpenPools(filepath.Join(t.TempDir(), "history.sqlite"), 4)
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() { _ = pools.Close() })

	if err := Migrate(context.Background(), pools.Write); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pools
}
