// Package storagetest opens migrated SQLite databases for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/platinummonkey/entitle/pkg/storage"
)

// NewManager returns a migrated SQLite-backed ConnectionManager rooted in a
// per-test temporary directory. It is closed automatically.
func NewManager(t testing.TB) *storage.ConnectionManager {
	t.Helper()

	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "entitle.db") + "?_busy_timeout=5000"
	cm, err := storage.NewConnectionManager(ctx, storage.Config{Dialect: storage.DialectSQLite, PrimaryURL: dsn}, nil)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { cm.Close() })

	if err := storage.Migrate(ctx, cm.Primary(), cm.Dialect()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return cm
}
