package testsupport

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielyj147/osrd/config"
	"github.com/danielyj147/osrd/database"
)

// SQLiteConfig returns a database section pointing at a fresh file in a
// temporary directory owned by t.
func SQLiteConfig(t testing.TB) config.DatabaseConfig {
	t.Helper()

	cfg := config.Default().Database
	cfg.Driver = config.DriverSQLite
	cfg.DSN = "file:" + filepath.Join(t.TempDir(), "osrd.db")
	cfg.AcquireTimeout = 2 * time.Second
	return cfg
}

// OpenSQLite opens a pool on a temporary SQLite file through the pure Go
// driver and creates a table for every model given. The pool is closed when
// the test ends.
func OpenSQLite(t testing.TB, models ...any) *database.Pool {
	t.Helper()

	return OpenSQLiteWith(t, SQLiteConfig(t), models...)
}

// OpenSQLiteWith is OpenSQLite with a caller supplied database section.
func OpenSQLiteWith(t testing.TB, cfg config.DatabaseConfig, models ...any) *database.Pool {
	t.Helper()

	ctx := context.Background()
	pool, err := database.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	for _, model := range models {
		if _, err := pool.DB().NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			t.Fatalf("failed to create table for %T: %v", model, err)
		}
	}
	return pool
}
