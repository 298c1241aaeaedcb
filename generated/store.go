package generated

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/danielyj147/osrd/cache"
	"github.com/danielyj147/osrd/internal/blob"
)

// Store keeps the latest artifact of each infrastructure. Invalidate is the
// hook called when derived data is cleared or its infrastructure deleted.
type Store interface {
	Put(ctx context.Context, artifact Artifact) error
	Get(ctx context.Context, infraID int64) (Artifact, bool, error)
	Invalidate(ctx context.Context, infraID int64) error
}

// Discard drops every artifact. It is the default when no backend is set.
type Discard struct{}

// Put drops artifact.
func (Discard) Put(context.Context, Artifact) error { return nil }

// Get always misses.
func (Discard) Get(context.Context, int64) (Artifact, bool, error) {
	return Artifact{}, false, nil
}

// Invalidate has nothing to drop.
func (Discard) Invalidate(context.Context, int64) error { return nil }

// CacheStore keeps artifacts in a CacheService, subject to its TTL and
// eviction.
type CacheStore struct {
	cache cache.CacheService
	keys  cache.KeySerializer
}

// NewCacheStore keeps artifacts in svc under the "generated" namespace.
func NewCacheStore(svc cache.CacheService) *CacheStore {
	return &CacheStore{cache: svc, keys: cache.NewNamespacedKeySerializer("generated")}
}

func (s *CacheStore) key(infraID int64) string {
	return s.keys.SerializeKey("Artifact", infraID)
}

// Put replaces the cached artifact of artifact.InfraID.
func (s *CacheStore) Put(ctx context.Context, artifact Artifact) error {
	return s.cache.Set(ctx, s.key(artifact.InfraID), artifact)
}

// Get returns the cached artifact of infraID, if any.
func (s *CacheStore) Get(ctx context.Context, infraID int64) (Artifact, bool, error) {
	return cache.Get[Artifact](ctx, s.cache, s.key(infraID))
}

// Invalidate drops the cached artifact of infraID.
func (s *CacheStore) Invalidate(ctx context.Context, infraID int64) error {
	return s.cache.Delete(ctx, s.key(infraID))
}

// BlobStore persists msgpack encoded artifacts under prefix/infra/<id>.
type BlobStore struct {
	bucket blob.Bucket
	prefix string
}

// NewBlobStore stores artifacts in bucket under prefix.
func NewBlobStore(bucket blob.Bucket, prefix string) *BlobStore {
	return &BlobStore{bucket: bucket, prefix: prefix}
}

// Key is the object key of an infrastructure's artifact.
func (s *BlobStore) Key(infraID int64) string {
	key := "infra/" + strconv.FormatInt(infraID, 10)
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// Put encodes artifact with msgpack and writes it to its key.
func (s *BlobStore) Put(ctx context.Context, artifact Artifact) error {
	data, err := msgpack.Marshal(&artifact)
	if err != nil {
		return fmt.Errorf("encode artifact %d: %w", artifact.InfraID, err)
	}
	if err := s.bucket.Put(ctx, s.Key(artifact.InfraID), data, "application/msgpack"); err != nil {
		return fmt.Errorf("store artifact %d: %w", artifact.InfraID, err)
	}
	return nil
}

// Get reads and decodes the artifact of infraID. A missing key is a miss.
func (s *BlobStore) Get(ctx context.Context, infraID int64) (Artifact, bool, error) {
	data, err := s.bucket.Get(ctx, s.Key(infraID))
	if errors.Is(err, blob.ErrNotFound) {
		return Artifact{}, false, nil
	}
	if err != nil {
		return Artifact{}, false, fmt.Errorf("load artifact %d: %w", infraID, err)
	}

	var artifact Artifact
	if err := msgpack.Unmarshal(data, &artifact); err != nil {
		return Artifact{}, false, fmt.Errorf("decode artifact %d: %w", infraID, err)
	}
	artifact.ComputedAt = artifact.ComputedAt.UTC()
	return artifact, true, nil
}

// Invalidate deletes the artifact of infraID.
func (s *BlobStore) Invalidate(ctx context.Context, infraID int64) error {
	return s.bucket.Delete(ctx, s.Key(infraID))
}

// MultiStore writes to every store in order and reads from the first one
// holding the artifact. Later hits are copied back into the earlier stores.
type MultiStore []Store

// Put writes artifact to every store.
func (m MultiStore) Put(ctx context.Context, artifact Artifact) error {
	for _, s := range m {
		if err := s.Put(ctx, artifact); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the first hit and backfills the stores in front of it.
func (m MultiStore) Get(ctx context.Context, infraID int64) (Artifact, bool, error) {
	for i, s := range m {
		artifact, ok, err := s.Get(ctx, infraID)
		if err != nil {
			return Artifact{}, false, err
		}
		if !ok {
			continue
		}
		for _, earlier := range m[:i] {
			_ = earlier.Put(ctx, artifact)
		}
		return artifact, true, nil
	}
	return Artifact{}, false, nil
}

// Invalidate calls every store and joins their errors.
func (m MultiStore) Invalidate(ctx context.Context, infraID int64) error {
	var errs []error
	for _, s := range m {
		if err := s.Invalidate(ctx, infraID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewArtifact stamps data with the version it was computed from.
func NewArtifact(infraID int64, version string, data *Data, at time.Time) Artifact {
	return Artifact{InfraID: infraID, Version: version, Data: data, ComputedAt: at.UTC()}
}
