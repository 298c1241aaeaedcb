package cacheinfra

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielyj147/osrd/errs"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(DefaultConfig())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Capacity != 10000 {
		t.Errorf("expected Capacity 10000, got %d", cfg.Capacity)
	}
	if cfg.TTL != 5*time.Minute {
		t.Errorf("expected TTL 5m, got %v", cfg.TTL)
	}
	if cfg.EarlyRefresh != nil {
		t.Error("expected early refresh to be disabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capacity", func(c *Config) { c.Capacity = 0 }},
		{"zero shards", func(c *Config) { c.NumShards = 0 }},
		{"zero ttl", func(c *Config) { c.TTL = 0 }},
		{"eviction too high", func(c *Config) { c.EvictionPercentage = 101 }},
		{"eviction zero", func(c *Config) { c.EvictionPercentage = 0 }},
		{"negative refresh", func(c *Config) {
			c.EarlyRefresh = &EarlyRefreshConfig{MinAsyncRefreshTime: -time.Second}
		}},
		{"min above max", func(c *Config) {
			c.EarlyRefresh = &EarlyRefreshConfig{MinAsyncRefreshTime: 2 * time.Second, MaxAsyncRefreshTime: time.Second}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !errs.IsConfig(err) {
				t.Errorf("expected config error, got %v", err)
			}
			if _, err := NewService(cfg); err == nil {
				t.Error("NewService accepted invalid config")
			}
		})
	}
}

func TestService_GetOrFetch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (any, error) {
		calls++
		return "infra-1", nil
	}

	for i := 0; i < 3; i++ {
		v, err := svc.GetOrFetch(ctx, "infra::1", fetch)
		if err != nil {
			t.Fatalf("GetOrFetch() error = %v", err)
		}
		if v != "infra-1" {
			t.Fatalf("GetOrFetch() = %v", v)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 fetch, got %d", calls)
	}
}

func TestService_GetOrFetchErrorNotCached(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	boom := errors.New("boom")
	if _, err := svc.GetOrFetch(ctx, "k", func(context.Context) (any, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}

	v, err := svc.GetOrFetch(ctx, "k", func(context.Context) (any, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("GetOrFetch() = %v, %v", v, err)
	}
}

func TestService_GetOrFetchNilFetch(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.GetOrFetch(context.Background(), "k", nil); !errs.IsConfig(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestService_ConcurrentMissesShareFetch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return 1, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.GetOrFetch(ctx, "shared", fetch)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 fetch, got %d", got)
	}
}

func TestService_SetGetDelete(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, ok := svc.Get(ctx, "a"); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	if err := svc.Set(ctx, "a", 1); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if v, ok := svc.Get(ctx, "a"); !ok || v != 1 {
		t.Fatalf("Get() = %v, %v", v, ok)
	}
	if err := svc.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := svc.Get(ctx, "a"); ok {
		t.Error("entry survived Delete")
	}
}

func TestService_DeleteByPrefix(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, key := range []string{"infra::Get::1", "infra::List::1", "detector::Get::1"} {
		_ = svc.Set(ctx, key, key)
	}

	if err := svc.DeleteByPrefix(ctx, "infra::"); err != nil {
		t.Fatalf("DeleteByPrefix() error = %v", err)
	}

	if _, ok := svc.Get(ctx, "infra::Get::1"); ok {
		t.Error("infra::Get::1 not deleted")
	}
	if _, ok := svc.Get(ctx, "infra::List::1"); ok {
		t.Error("infra::List::1 not deleted")
	}
	if _, ok := svc.Get(ctx, "detector::Get::1"); !ok {
		t.Error("detector::Get::1 should survive")
	}
	if svc.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", svc.Len())
	}
}
