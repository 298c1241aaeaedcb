// Package database owns the connection pool shared by every repository.
//
// Each logical operation checks a connection out with Pool.Do or Pool.InTx and
// returns it when the callback finishes, success or failure. Acquisition waits
// at most DatabaseConfig.AcquireTimeout; when the wait runs out the caller gets
// a retryable errs.ConnectionExhausted instead of blocking indefinitely.
//
// Drivers:
//
//	postgres  github.com/lib/pq
//	pgx       github.com/jackc/pgx/v5/stdlib
//	sqlite    modernc.org/sqlite (pure Go, used by the tests)
//	sqlite3   github.com/mattn/go-sqlite3 (cgo builds only)
//
// Postgres connections use the bun pgdialect; SQLite ones use sqlitedialect
// with a single open connection, which stands in for row locks.
package database
