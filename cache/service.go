package cache

import (
	"context"
	"fmt"
)

// KeySerializer builds a cache key from a method name and its arguments.
// Equal arguments must produce equal keys.
type KeySerializer interface {
	SerializeKey(method string, args ...any) string
}

// FetchFn loads a value from the source of truth on a cache miss.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService is the cache backend shared by the repository decorator and
// the derived data store.
type CacheService interface {
	GetOrFetch(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error)
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// GetOrFetch is the typed form of CacheService.GetOrFetch.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetch FetchFn[T]) (T, error) {
	var zero T
	result, err := service.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, err
	}
	return assert[T](key, result)
}

// Get is the typed form of CacheService.Get. A stored value of another type
// is an error, not a miss.
func Get[T any](ctx context.Context, service CacheService, key string) (T, bool, error) {
	result, ok := service.Get(ctx, key)
	if !ok {
		var zero T
		return zero, false, nil
	}
	v, err := assert[T](key, result)
	return v, err == nil, err
}

func assert[T any](key string, result any) (T, error) {
	var zero T
	if result == nil {
		return zero, nil
	}
	v, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("cache: key %q holds %T, want %T", key, result, zero)
	}
	return v, nil
}
