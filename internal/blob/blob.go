// Package blob stores opaque artifacts under string keys, in memory or in an
// S3 compatible bucket.
package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielyj147/osrd/config"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("blob: not found")

// Bucket is the minimal object store surface the artifact store needs.
type Bucket interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Open builds the bucket selected by cfg.Backend. The "none" backend has no
// bucket and returns nil.
func Open(ctx context.Context, cfg config.ArtifactsConfig) (Bucket, error) {
	switch cfg.Backend {
	case config.ArtifactsNone:
		return nil, nil
	case config.ArtifactsMemory:
		return NewMemory(), nil
	case config.ArtifactsS3:
		bucket, err := NewS3(ctx, S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			SessionToken:    cfg.SessionToken,
			PathStyle:       cfg.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return bucket, nil
	}
	return nil, fmt.Errorf("unknown artifacts backend %q", cfg.Backend)
}
