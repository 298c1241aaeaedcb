package cacheinfra

import (
	"context"
	"strings"
	"time"

	"github.com/viccon/sturdyc"

	"github.com/danielyj147/osrd/errs"
)

// Config holds the sturdyc client settings.
type Config struct {
	// Capacity is the maximum number of entries. Must be greater than 0.
	Capacity int

	// NumShards splits the keyspace to reduce lock contention. Must be
	// greater than 0.
	NumShards int

	// TTL is the lifetime of an entry. Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage is the share of entries dropped when the cache is
	// full. Must be between 1 and 100.
	EvictionPercentage int

	// EarlyRefresh enables background refreshes of hot entries. Nil
	// disables it.
	EarlyRefresh *EarlyRefreshConfig

	// EvictionInterval sets how often expired entries are swept. Zero keeps
	// the sturdyc default.
	EvictionInterval time.Duration
}

// EarlyRefreshConfig maps onto sturdyc.WithEarlyRefreshes.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig returns the settings used when none are configured. Early
// refresh is off: infrastructure rows change through this process only, and
// every write invalidates its entries.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          64,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
	}
}

func (c Config) options() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EarlyRefresh != nil {
		options = append(options, sturdyc.WithEarlyRefreshes(
			c.EarlyRefresh.MinAsyncRefreshTime,
			c.EarlyRefresh.MaxAsyncRefreshTime,
			c.EarlyRefresh.SyncRefreshTime,
			c.EarlyRefresh.RetryBaseDelay,
		))
	}
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate returns an errs.Config error naming the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Capacity <= 0:
		return errs.Config("cache.capacity", "must be greater than 0")
	case c.NumShards <= 0:
		return errs.Config("cache.num_shards", "must be greater than 0")
	case c.TTL <= 0:
		return errs.Config("cache.ttl", "must be greater than 0")
	case c.EvictionPercentage < 1 || c.EvictionPercentage > 100:
		return errs.Config("cache.eviction_percentage", "must be between 1 and 100")
	}

	if r := c.EarlyRefresh; r != nil {
		if r.MinAsyncRefreshTime < 0 || r.MaxAsyncRefreshTime < 0 || r.SyncRefreshTime < 0 || r.RetryBaseDelay < 0 {
			return errs.Config("cache.early_refresh", "durations must be non-negative")
		}
		if r.MinAsyncRefreshTime > r.MaxAsyncRefreshTime {
			return errs.Config("cache.early_refresh", "min async refresh time exceeds max")
		}
	}
	return nil
}

// Service is a sturdyc backed read-through cache holding values of any type.
type Service struct {
	client *sturdyc.Client[any]
}

// NewService validates cfg and builds the sturdyc client.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.options()...,
	)
	return &Service{client: client}, nil
}

// GetOrFetch returns the cached value for key, calling fetch on a miss.
// Concurrent misses on the same key share one fetch. Fetch errors are not
// cached.
func (s *Service) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	if fetch == nil {
		return nil, errs.Config("fetch", "cannot be nil")
	}
	return s.client.GetOrFetch(ctx, key, fetch)
}

// Get returns the cached value for key without fetching.
func (s *Service) Get(_ context.Context, key string) (any, bool) {
	return s.client.Get(key)
}

// Set stores value under key.
func (s *Service) Set(_ context.Context, key string, value any) error {
	s.client.Set(key, value)
	return nil
}

// Delete drops key.
func (s *Service) Delete(_ context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix drops every entry whose key starts with prefix.
func (s *Service) DeleteByPrefix(_ context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// Len is the number of entries currently held.
func (s *Service) Len() int {
	return s.client.Size()
}
