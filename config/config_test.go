package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Database.IsSQLite())
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, ArtifactsMemory, cfg.Artifacts.Backend)
}

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
database:
  driver: pgx
  dsn: postgres://osrd@localhost/osrd
  max_open_conns: 16
  acquire_timeout: 2s
cache:
  ttl: 1m
artifacts:
  backend: s3
  bucket: osrd-artifacts
  path_style: true
refresh:
  concurrency: 8
  deduplicate: true
`))
	require.NoError(t, err)

	assert.Equal(t, DriverPgx, cfg.Database.Driver)
	assert.Equal(t, 16, cfg.Database.MaxOpenConns)
	assert.Equal(t, 2*time.Second, cfg.Database.AcquireTimeout)
	assert.Equal(t, Default().Database.MaxIdleConns, cfg.Database.MaxIdleConns)

	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, Default().Cache.Capacity, cfg.Cache.Capacity)

	assert.Equal(t, "osrd-artifacts", cfg.Artifacts.Bucket)
	assert.True(t, cfg.Artifacts.PathStyle)
	assert.Equal(t, "generated", cfg.Artifacts.Prefix)

	assert.Equal(t, 8, cfg.Refresh.Concurrency)
	assert.True(t, cfg.Refresh.Deduplicate)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("database: [unterminated"))
	require.Error(t, err)
	assert.True(t, goerrors.IsCategory(err, goerrors.CategoryBadInput))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "Database.Driver"},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, "Database.DSN"},
		{"no connections", func(c *Config) { c.Database.MaxOpenConns = 0 }, "Database.MaxOpenConns"},
		{"zero capacity", func(c *Config) { c.Cache.Capacity = 0 }, "Cache.Capacity"},
		{"eviction over 100", func(c *Config) { c.Cache.EvictionPercentage = 101 }, "Cache.EvictionPercentage"},
		{"unknown backend", func(c *Config) { c.Artifacts.Backend = "ftp" }, "Artifacts.Backend"},
		{"s3 without bucket", func(c *Config) { c.Artifacts.Backend = ArtifactsS3 }, "Artifacts.Bucket"},
		{"key without secret", func(c *Config) { c.Artifacts.AccessKeyID = "AKIA" }, "Artifacts.SecretAccessKey"},
		{"zero concurrency", func(c *Config) { c.Refresh.Concurrency = 0 }, "Refresh.Concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, goerrors.IsValidation(err))

			var rich *goerrors.Error
			require.True(t, goerrors.As(err, &rich))
			assert.Contains(t, rich.ValidationMap(), tt.field)
		})
	}
}

func TestValidate_DisabledCacheSkipsChecks(t *testing.T) {
	cfg := Default()
	cfg.Cache = CacheConfig{Enabled: false}
	assert.NoError(t, cfg.Validate())
}

func TestBindParameterLimit(t *testing.T) {
	assert.Equal(t, SQLiteMaxBindParameters, DatabaseConfig{Driver: DriverSQLite}.BindParameterLimit())
	assert.Equal(t, PostgresMaxBindParameters, DatabaseConfig{Driver: DriverPostgres}.BindParameterLimit())
	assert.Equal(t, 100, DatabaseConfig{Driver: DriverPgx, MaxBindParameters: 100}.BindParameterLimit())
}

func TestCacheConfig_ToCache(t *testing.T) {
	cc := CacheConfig{Enabled: true, Capacity: 10, NumShards: 2, TTL: time.Second, EvictionPercentage: 50}.ToCache()
	assert.Equal(t, 10, cc.Capacity)
	assert.Equal(t, 2, cc.NumShards)
	assert.Equal(t, time.Second, cc.TTL)
	assert.Equal(t, 50, cc.EvictionPercentage)
	assert.NoError(t, cc.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "osrd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refresh:\n  concurrency: 3\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Refresh.Concurrency)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
