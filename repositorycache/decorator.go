package repositorycache

import (
	"context"
	"errors"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/uptrace/bun"

	"github.com/danielyj147/osrd/cache"
	"github.com/danielyj147/osrd/repository"
)

var _ repository.Repository[repository.Model] = (*CachedRepository[repository.Model])(nil)

// getResult caches misses as well as hits.
type getResult[T any] struct {
	Record T
	Found  bool
}

// CachedRepository decorates a repository with a read-through cache for Get
// and unfiltered List.
//
// The *Tx methods always reach the base repository and never invalidate:
// the decorator cannot tell whether the caller's transaction commits. Callers
// writing through *Tx call InvalidateRecord after the commit.
//
// Cached records are shared between callers and must not be mutated.
type CachedRepository[T repository.Model] struct {
	base     repository.Repository[T]
	cache    cache.CacheService
	keys     cache.KeySerializer
	listKeys *xsync.MapOf[string, struct{}]
}

// New wraps base. A nil keySerializer namespaces keys by base.Kind().
func New[T repository.Model](base repository.Repository[T], cacheService cache.CacheService, keySerializer cache.KeySerializer) *CachedRepository[T] {
	if keySerializer == nil {
		keySerializer = cache.NewNamespacedKeySerializer(base.Kind())
	}
	return &CachedRepository[T]{
		base:     base,
		cache:    cacheService,
		keys:     keySerializer,
		listKeys: xsync.NewMapOf[string, struct{}](),
	}
}

// Kind is the base repository kind.
func (c *CachedRepository[T]) Kind() string {
	return c.base.Kind()
}

func (c *CachedRepository[T]) getKey(id int64) string {
	return c.keys.SerializeKey("Get", id)
}

// Get is served from the cache when possible. Misses are cached too.
func (c *CachedRepository[T]) Get(ctx context.Context, id int64) (T, bool, error) {
	res, err := cache.GetOrFetch(ctx, c.cache, c.getKey(id), func(ctx context.Context) (getResult[T], error) {
		record, found, err := c.base.Get(ctx, id)
		return getResult[T]{Record: record, Found: found}, err
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return res.Record, res.Found, nil
}

// List is cached only without criteria. Criteria are closures whose captured
// arguments do not show up in a key.
func (c *CachedRepository[T]) List(ctx context.Context, page, pageSize int, criteria ...repository.SelectCriteria) (repository.Page[T], error) {
	if len(criteria) > 0 {
		return c.base.List(ctx, page, pageSize, criteria...)
	}

	key := c.keys.SerializeKey("List", page, pageSize)
	c.listKeys.Store(key, struct{}{})
	return cache.GetOrFetch(ctx, c.cache, key, func(ctx context.Context) (repository.Page[T], error) {
		return c.base.List(ctx, page, pageSize)
	})
}

// Create writes through and drops the cached record and list pages.
func (c *CachedRepository[T]) Create(ctx context.Context, record T) (T, error) {
	out, err := c.base.Create(ctx, record)
	if err == nil {
		err = c.InvalidateRecord(ctx, out.GetID())
	}
	return out, err
}

// CreateBatch writes through and drops everything cached.
func (c *CachedRepository[T]) CreateBatch(ctx context.Context, records []T) ([]T, error) {
	out, err := c.base.CreateBatch(ctx, records)
	if err == nil {
		err = c.InvalidateAll(ctx)
	}
	return out, err
}

// Update writes through and drops the cached record and list pages.
func (c *CachedRepository[T]) Update(ctx context.Context, id int64, record T) (T, bool, error) {
	out, found, err := c.base.Update(ctx, id, record)
	if err == nil {
		err = c.InvalidateRecord(ctx, id)
	}
	return out, found, err
}

// Delete writes through and drops the cached record and list pages.
func (c *CachedRepository[T]) Delete(ctx context.Context, id int64) (bool, error) {
	deleted, err := c.base.Delete(ctx, id)
	if err == nil {
		err = c.InvalidateRecord(ctx, id)
	}
	return deleted, err
}

// CreateTx and the other *Tx methods bypass the cache.
func (c *CachedRepository[T]) CreateTx(ctx context.Context, db bun.IDB, record T) (T, error) {
	return c.base.CreateTx(ctx, db, record)
}

func (c *CachedRepository[T]) CreateBatchTx(ctx context.Context, db bun.IDB, records []T) ([]T, error) {
	return c.base.CreateBatchTx(ctx, db, records)
}

func (c *CachedRepository[T]) GetTx(ctx context.Context, db bun.IDB, id int64) (T, bool, error) {
	return c.base.GetTx(ctx, db, id)
}

func (c *CachedRepository[T]) GetForUpdateTx(ctx context.Context, db bun.IDB, id int64) (T, error) {
	return c.base.GetForUpdateTx(ctx, db, id)
}

func (c *CachedRepository[T]) UpdateTx(ctx context.Context, db bun.IDB, id int64, record T) (T, bool, error) {
	return c.base.UpdateTx(ctx, db, id, record)
}

func (c *CachedRepository[T]) DeleteTx(ctx context.Context, db bun.IDB, id int64) (bool, error) {
	return c.base.DeleteTx(ctx, db, id)
}

func (c *CachedRepository[T]) ListTx(ctx context.Context, db bun.IDB, page, pageSize int, criteria ...repository.SelectCriteria) (repository.Page[T], error) {
	return c.base.ListTx(ctx, db, page, pageSize, criteria...)
}

func (c *CachedRepository[T]) FindTx(ctx context.Context, db bun.IDB, criteria ...repository.SelectCriteria) ([]T, error) {
	return c.base.FindTx(ctx, db, criteria...)
}

func (c *CachedRepository[T]) CountTx(ctx context.Context, db bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return c.base.CountTx(ctx, db, criteria...)
}

// InvalidateRecord drops the cached Get of id and every cached List page.
func (c *CachedRepository[T]) InvalidateRecord(ctx context.Context, id int64) error {
	return errors.Join(c.cache.Delete(ctx, c.getKey(id)), c.invalidateLists(ctx))
}

// InvalidateAll drops everything cached for this repository.
func (c *CachedRepository[T]) InvalidateAll(ctx context.Context) error {
	c.listKeys.Clear()
	return c.cache.DeleteByPrefix(ctx, c.keys.SerializeKey(""))
}

func (c *CachedRepository[T]) invalidateLists(ctx context.Context) error {
	var errs []error
	c.listKeys.Range(func(key string, _ struct{}) bool {
		c.listKeys.Delete(key)
		if err := c.cache.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}
