package cache

import (
	"time"

	"github.com/danielyj147/osrd/internal/cacheinfra"
)

// Config configures the default sturdyc backed CacheService.
type Config struct {
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
	EarlyRefresh       *EarlyRefreshConfig
	EvictionInterval   time.Duration
}

// EarlyRefreshConfig mirrors the sturdyc early refresh options.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig mirrors the cacheinfra defaults.
func DefaultConfig() Config {
	d := cacheinfra.DefaultConfig()
	return Config{
		Capacity:           d.Capacity,
		NumShards:          d.NumShards,
		TTL:                d.TTL,
		EvictionPercentage: d.EvictionPercentage,
		EvictionInterval:   d.EvictionInterval,
	}
}

// Validate checks the values NewCacheService would reject.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// NewCacheService builds the default CacheService.
func NewCacheService(cfg Config) (CacheService, error) {
	svc, err := cacheinfra.NewService(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func (c Config) toInternal() cacheinfra.Config {
	out := cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
	if r := c.EarlyRefresh; r != nil {
		out.EarlyRefresh = &cacheinfra.EarlyRefreshConfig{
			MinAsyncRefreshTime: r.MinAsyncRefreshTime,
			MaxAsyncRefreshTime: r.MaxAsyncRefreshTime,
			SyncRefreshTime:     r.SyncRefreshTime,
			RetryBaseDelay:      r.RetryBaseDelay,
		}
	}
	return out
}
