// Package config holds the explicit configuration passed to the store at
// construction time. Nothing in the core reads process environment; callers
// build a Config, load one from YAML, or start from Default.
package config

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	"github.com/danielyj147/osrd/cache"
)

// Supported database drivers. The name is the database/sql driver name.
const (
	DriverPostgres = "postgres" // github.com/lib/pq
	DriverPgx      = "pgx"      // github.com/jackc/pgx/v5/stdlib
	DriverSQLite3  = "sqlite3"  // github.com/mattn/go-sqlite3, cgo builds only
	DriverSQLite   = "sqlite"   // modernc.org/sqlite
)

// Artifact backends for materialized derived data.
const (
	ArtifactsNone   = "none"
	ArtifactsMemory = "memory"
	ArtifactsS3     = "s3"
)

// Bind parameter ceilings of the supported protocols.
const (
	PostgresMaxBindParameters = 65535
	SQLiteMaxBindParameters   = 32766
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Refresh   RefreshConfig   `yaml:"refresh"`
}

// DatabaseConfig configures the connection pool.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// MaxOpenConns bounds the pool. SQLite drivers are forced to a single
	// writer connection regardless of this value.
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	// AcquireTimeout bounds how long an operation waits for a pooled
	// connection before failing with ConnectionExhausted. Zero waits for the
	// caller context only.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	// MaxBindParameters is the per statement parameter ceiling used to size
	// insert chunks. Zero selects the driver default.
	MaxBindParameters int `yaml:"max_bind_parameters"`
}

// CacheConfig mirrors cache.Config with YAML tags.
type CacheConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Capacity           int           `yaml:"capacity"`
	NumShards          int           `yaml:"num_shards"`
	TTL                time.Duration `yaml:"ttl"`
	EvictionPercentage int           `yaml:"eviction_percentage"`
}

// ArtifactsConfig selects where materialized derived data is kept.
type ArtifactsConfig struct {
	Backend         string `yaml:"backend"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	PathStyle       bool   `yaml:"path_style"`
}

// RefreshConfig tunes derived data recomputation.
type RefreshConfig struct {
	// Concurrency bounds RefreshAll fan-out.
	Concurrency int `yaml:"concurrency"`
	// Deduplicate collapses concurrent refreshes of the same infrastructure
	// inside one process into a single computation.
	Deduplicate bool `yaml:"deduplicate"`
}

// Default returns a configuration usable against a local SQLite file.
func Default() Config {
	cc := cache.DefaultConfig()
	return Config{
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			DSN:             "file:osrd.db",
			MaxOpenConns:    8,
			MaxIdleConns:    4,
			ConnMaxLifetime: 30 * time.Minute,
			AcquireTimeout:  5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:            true,
			Capacity:           cc.Capacity,
			NumShards:          cc.NumShards,
			TTL:                cc.TTL,
			EvictionPercentage: cc.EvictionPercentage,
		},
		Artifacts: ArtifactsConfig{
			Backend: ArtifactsMemory,
			Prefix:  "generated",
		},
		Refresh: RefreshConfig{
			Concurrency: 4,
		},
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section and returns a go-errors validation error
// listing the offending fields.
func (c Config) Validate() error {
	if err := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&c,
			validation.Field(&c.Database),
			validation.Field(&c.Cache),
			validation.Field(&c.Artifacts),
			validation.Field(&c.Refresh),
		)
	}, "invalid configuration"); err != nil {
		return err
	}
	return nil
}

// Validate implements validation.Validatable.
func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required,
			validation.In(DriverPostgres, DriverPgx, DriverSQLite3, DriverSQLite)),
		validation.Field(&d.DSN, validation.Required),
		validation.Field(&d.MaxOpenConns, validation.Min(1)),
		validation.Field(&d.MaxIdleConns, validation.Min(0)),
		validation.Field(&d.ConnMaxLifetime, validation.Min(time.Duration(0))),
		validation.Field(&d.ConnMaxIdleTime, validation.Min(time.Duration(0))),
		validation.Field(&d.AcquireTimeout, validation.Min(time.Duration(0))),
		validation.Field(&d.MaxBindParameters, validation.Min(0)),
	)
}

// BindParameterLimit returns MaxBindParameters or the driver ceiling.
func (d DatabaseConfig) BindParameterLimit() int {
	if d.MaxBindParameters > 0 {
		return d.MaxBindParameters
	}
	if d.IsSQLite() {
		return SQLiteMaxBindParameters
	}
	return PostgresMaxBindParameters
}

// IsSQLite reports whether the driver targets SQLite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == DriverSQLite || d.Driver == DriverSQLite3
}

// Validate implements validation.Validatable.
func (c CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
	)
}

// ToCache converts the section into a cache.Config.
func (c CacheConfig) ToCache() cache.Config {
	cc := cache.DefaultConfig()
	cc.Capacity = c.Capacity
	cc.NumShards = c.NumShards
	cc.TTL = c.TTL
	cc.EvictionPercentage = c.EvictionPercentage
	return cc
}

// Validate implements validation.Validatable.
func (a ArtifactsConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Backend, validation.Required,
			validation.In(ArtifactsNone, ArtifactsMemory, ArtifactsS3)),
		validation.Field(&a.Bucket, validation.When(a.Backend == ArtifactsS3, validation.Required)),
		validation.Field(&a.SecretAccessKey, validation.When(a.AccessKeyID != "", validation.Required)),
	)
}

// Validate implements validation.Validatable.
func (r RefreshConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Concurrency, validation.Required, validation.Min(1)),
	)
}
