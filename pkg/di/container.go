// Package di wires the configured components together: the connection pool,
// the cache, the artifact store, metrics and the infrastructure service.
package di

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danielyj147/osrd/cache"
	"github.com/danielyj147/osrd/config"
	"github.com/danielyj147/osrd/database"
	"github.com/danielyj147/osrd/generated"
	"github.com/danielyj147/osrd/infra"
	"github.com/danielyj147/osrd/internal/blob"
	"github.com/danielyj147/osrd/internal/metrics"
	"github.com/danielyj147/osrd/repository"
	"github.com/danielyj147/osrd/repositorycache"
)

// Container owns the singletons built from one Config.
type Container struct {
	config    config.Config
	logger    *slog.Logger
	pool      *database.Pool
	metrics   *metrics.Recorder
	cache     cache.CacheService
	bucket    blob.Bucket
	artifacts generated.Store
	infras    repository.Repository[*infra.Infra]
	service   *infra.Service
}

// Option customises NewContainer.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	registry prometheus.Registerer
	computer generated.Computer
	migrate  bool
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers the metrics collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// WithComputer replaces the derived data computation.
func WithComputer(c generated.Computer) Option {
	return func(o *options) { o.computer = c }
}

// WithoutMigrations skips schema creation at startup.
func WithoutMigrations() Option {
	return func(o *options) { o.migrate = false }
}

// NewContainer validates cfg, opens the pool and builds every component.
// Unless disabled, the schema is created before it returns.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{migrate: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rec, err := metrics.New(o.registry)
	if err != nil {
		return nil, err
	}

	pool, err := database.Open(ctx, cfg.Database, database.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}

	c := &Container{
		config:  cfg,
		logger:  o.logger,
		pool:    pool,
		metrics: rec,
	}
	if err := c.build(ctx, o); err != nil {
		return nil, errors.Join(err, pool.Close())
	}
	return c, nil
}

// NewContainerWithDefaults is NewContainer with config.Default.
func NewContainerWithDefaults(ctx context.Context, opts ...Option) (*Container, error) {
	return NewContainer(ctx, config.Default(), opts...)
}

func (c *Container) build(ctx context.Context, o options) error {
	if c.config.Cache.Enabled {
		svc, err := cache.NewCacheService(c.config.Cache.ToCache())
		if err != nil {
			return err
		}
		c.cache = svc
	}

	bucket, err := blob.Open(ctx, c.config.Artifacts)
	if err != nil {
		return err
	}
	c.bucket = bucket
	c.artifacts = c.artifactStore()

	base, err := repository.New[*infra.Infra](c.pool,
		repository.WithLogger(c.logger),
		repository.WithObserver(c.metrics),
	)
	if err != nil {
		return err
	}
	c.infras = NewCachedRepository[*infra.Infra](c, base)

	serviceOpts := []infra.Option{
		infra.WithInfraRepository(c.infras),
		infra.WithArtifactStore(c.artifacts),
		infra.WithMetrics(c.metrics),
		infra.WithLogger(c.logger),
		infra.WithRefreshConfig(c.config.Refresh),
	}
	if o.computer != nil {
		serviceOpts = append(serviceOpts, infra.WithComputer(o.computer))
	}
	c.service, err = infra.NewService(c.pool, serviceOpts...)
	if err != nil {
		return err
	}

	if o.migrate {
		return c.service.Migrate(ctx)
	}
	return nil
}

// artifactStore layers the cache in front of the bucket, keeping whichever
// of the two is configured.
func (c *Container) artifactStore() generated.Store {
	var stores generated.MultiStore
	if c.cache != nil {
		stores = append(stores, generated.NewCacheStore(c.cache))
	}
	if c.bucket != nil {
		stores = append(stores, generated.NewBlobStore(c.bucket, c.config.Artifacts.Prefix))
	}
	switch len(stores) {
	case 0:
		return generated.Discard{}
	case 1:
		return stores[0]
	}
	return stores
}

// Config is the validated configuration.
func (c *Container) Config() config.Config { return c.config }

// Pool is the shared connection pool.
func (c *Container) Pool() *database.Pool { return c.pool }

// Metrics is the recorder shared by every component.
func (c *Container) Metrics() *metrics.Recorder { return c.metrics }

// CacheService is nil when the cache is disabled.
func (c *Container) CacheService() cache.CacheService { return c.cache }

// ArtifactStore is where refreshed derived data goes.
func (c *Container) ArtifactStore() generated.Store { return c.artifacts }

// InfraRepository is the repository of parent rows, cached when enabled.
func (c *Container) InfraRepository() repository.Repository[*infra.Infra] { return c.infras }

// Infras is the infrastructure service.
func (c *Container) Infras() *infra.Service { return c.service }

// Close releases the pool.
func (c *Container) Close() error {
	return c.pool.Close()
}

// NewCachedRepository wraps base with the container's cache, or returns base
// as is when the cache is disabled. Keys are namespaced by base.Kind().
//
// Go methods cannot have type parameters, hence the package level function:
//
//	widgets := di.NewCachedRepository[*Widget](container, base)
func NewCachedRepository[T repository.Model](c *Container, base repository.Repository[T]) repository.Repository[T] {
	if c.cache == nil {
		return base
	}
	return repositorycache.New(base, c.cache, nil)
}
