// Package cache defines the read-through cache contract used by the cached
// repository decorator and the derived data store, plus the default key
// serializer.
//
// Keys are built as "namespace::Method::arg::arg". Namespacing lets a writer
// drop everything cached for one entity kind with DeleteByPrefix:
//
//	keys := cache.NewNamespacedKeySerializer("osrd_infra_infra")
//	key := keys.SerializeKey("Get", int64(42)) // osrd_infra_infra::Get::42
//	infra, err := cache.GetOrFetch(ctx, svc, key, func(ctx context.Context) (*infra.Infra, error) {
//		return repo.Get(ctx, 42)
//	})
//
// Function arguments serialize to their code pointer, which is stable inside
// one process only. Keys longer than MaxKeyLength keep their method prefix and
// replace the arguments with an xxhash digest.
//
// NewCacheService returns the sturdyc implementation. Concurrent misses on
// one key share a single fetch; failed fetches are not cached.
package cache
