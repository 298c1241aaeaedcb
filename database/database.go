package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/lib/pq"              // registers "postgres"
	_ "modernc.org/sqlite"             // registers "sqlite"

	"github.com/danielyj147/osrd/config"
	"github.com/danielyj147/osrd/errs"
)

// Pool hands out one connection per logical operation.
type Pool struct {
	db     *bun.DB
	cfg    config.DatabaseConfig
	logger *slog.Logger
}

// Option customises a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for pool level events.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Open validates cfg, opens the driver and wraps it in a bun.DB with the
// matching dialect. SQLite is limited to one open connection: it has a single
// writer and no row level locks, so serialising connections is what makes
// read-modify-write transactions safe there.
func Open(ctx context.Context, cfg config.DatabaseConfig, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Config("database", err.Error())
	}
	if !driverAvailable(cfg.Driver) {
		return nil, errs.Config("database.driver", fmt.Sprintf("%q is not compiled into this binary", cfg.Driver))
	}

	sqldb, err := sql.Open(cfg.Driver, dsnFor(cfg))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	var d schema.Dialect
	if cfg.IsSQLite() {
		d = sqlitedialect.New()
		sqldb.SetMaxOpenConns(1)
		sqldb.SetMaxIdleConns(1)
	} else {
		d = pgdialect.New()
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pool := NewPool(bun.NewDB(sqldb, d), cfg, opts...)
	if err := pool.Ping(ctx); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return pool, nil
}

// NewPool wraps an already configured bun.DB.
func NewPool(db *bun.DB, cfg config.DatabaseConfig, opts ...Option) *Pool {
	p := &Pool{
		db:     db,
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DB exposes the underlying bun.DB for schema metadata and migrations.
func (p *Pool) DB() *bun.DB {
	return p.db
}

// Config returns the database section the pool was built from.
func (p *Pool) Config() config.DatabaseConfig {
	return p.cfg
}

// SupportsRowLocks reports whether SELECT ... FOR UPDATE is available.
func (p *Pool) SupportsRowLocks() bool {
	return SupportsRowLocks(p.db)
}

// SupportsRowLocks reports whether the dialect of db understands FOR UPDATE.
func SupportsRowLocks(db bun.IDB) bool {
	return db.Dialect().Name() == dialect.PG
}

// Ping checks out a connection and verifies the server answers.
func (p *Pool) Ping(ctx context.Context) error {
	conn, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", p.cfg.Driver, err)
	}
	return nil
}

// Close closes every pooled connection.
func (p *Pool) Close() error {
	return p.db.Close()
}

// Do runs fn on a dedicated connection which is released when fn returns,
// whatever the outcome.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context, conn bun.IDB) error) error {
	conn, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return fn(ctx, conn)
}

// InTx runs fn inside a transaction on a dedicated connection. The
// transaction commits when fn returns nil and rolls back otherwise.
func (p *Pool) InTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	conn, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.RunInTx(ctx, nil, fn)
}

func (p *Pool) acquire(ctx context.Context) (bun.Conn, error) {
	acquireCtx := ctx
	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	started := time.Now()
	conn, err := p.db.Conn(acquireCtx)
	if err == nil {
		return conn, nil
	}

	// Only our own deadline means the pool is exhausted; a cancelled caller
	// context is reported as is.
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		p.logger.Warn("connection acquire timed out",
			slog.String("driver", p.cfg.Driver),
			slog.Duration("waited", time.Since(started)),
			slog.Int("open", p.db.Stats().OpenConnections),
			slog.Int("in_use", p.db.Stats().InUse),
		)
		return bun.Conn{}, errs.ConnectionExhausted(err, p.cfg.AcquireTimeout)
	}
	return bun.Conn{}, fmt.Errorf("acquire connection: %w", err)
}

// dsnFor appends the connection options every SQLite connection needs:
// foreign keys for cascading deletes and a busy timeout.
func dsnFor(cfg config.DatabaseConfig) string {
	if !cfg.IsSQLite() {
		return cfg.DSN
	}

	var params []string
	switch cfg.Driver {
	case config.DriverSQLite:
		if !strings.Contains(cfg.DSN, "foreign_keys") {
			params = append(params, "_pragma=foreign_keys(1)")
		}
		if !strings.Contains(cfg.DSN, "busy_timeout") {
			params = append(params, "_pragma=busy_timeout(5000)")
		}
	case config.DriverSQLite3:
		if !strings.Contains(cfg.DSN, "_foreign_keys") && !strings.Contains(cfg.DSN, "_fk") {
			params = append(params, "_foreign_keys=1")
		}
		if !strings.Contains(cfg.DSN, "_busy_timeout") {
			params = append(params, "_busy_timeout=5000")
		}
	}
	if len(params) == 0 {
		return cfg.DSN
	}

	sep := "?"
	if strings.Contains(cfg.DSN, "?") {
		sep = "&"
	}
	return cfg.DSN + sep + strings.Join(params, "&")
}

func driverAvailable(name string) bool {
	for _, d := range sql.Drivers() {
		if d == name {
			return true
		}
	}
	return false
}
