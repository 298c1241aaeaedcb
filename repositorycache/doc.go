// Package repositorycache decorates a repository.Repository with a
// read-through cache.
//
// Get results are cached per id, misses included. List pages are cached only
// when no criteria are given. Create, CreateBatch, Update and Delete
// invalidate what they touch. The *Tx methods go straight to the base
// repository; a caller writing through a transaction calls InvalidateRecord
// once it has committed.
//
//	svc, _ := cache.NewCacheService(cache.DefaultConfig())
//	infras := repositorycache.New(base, svc, nil)
package repositorycache
