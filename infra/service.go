// Package infra stores imported railway infrastructures and keeps track of
// whether their derived data matches the current source version.
//
// An infrastructure is one parent row plus one child table per railjson
// object kind. Imports are atomic: the parent row and every child row commit
// together or not at all.
package infra

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"golang.org/x/sync/singleflight"

	"github.com/danielyj147/osrd/config"
	"github.com/danielyj147/osrd/database"
	"github.com/danielyj147/osrd/errs"
	"github.com/danielyj147/osrd/generated"
	"github.com/danielyj147/osrd/railjson"
	"github.com/danielyj147/osrd/repository"
)

const kindInfra = "infra"

// Metrics receives the outcome of service operations.
type Metrics interface {
	PersistDone(objects int, err error)
	RefreshDone(refreshed bool, compute time.Duration, err error)
	ClearDone(err error)
}

type nopMetrics struct{}

func (nopMetrics) PersistDone(int, error)                 {}
func (nopMetrics) RefreshDone(bool, time.Duration, error) {}
func (nopMetrics) ClearDone(error)                        {}

// recordInvalidator is implemented by cached repositories. The service calls
// it once a transaction touching the row has committed.
type recordInvalidator interface {
	InvalidateRecord(ctx context.Context, id int64) error
}

// Service coordinates imports, clones, version bumps and derived data
// refreshes.
type Service struct {
	pool     *database.Pool
	infras   repository.Repository[*Infra]
	objects  []objectStore
	computer generated.Computer
	store    generated.Store
	metrics  Metrics
	logger   *slog.Logger
	now      func() time.Time
	newOwner func() uuid.UUID

	refreshes   singleflight.Group
	dedup       bool
	concurrency int
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	infras   repository.Repository[*Infra]
	repoOpts []repository.Option
	computer generated.Computer
	store    generated.Store
	metrics  Metrics
	logger   *slog.Logger
	now      func() time.Time
	newOwner func() uuid.UUID
	refresh  config.RefreshConfig
}

// WithInfraRepository replaces the repository of the parent rows, typically
// with a cached decorator.
func WithInfraRepository(repo repository.Repository[*Infra]) Option {
	return func(o *serviceOptions) { o.infras = repo }
}

// WithRepositoryOptions is applied to every repository the service builds.
func WithRepositoryOptions(opts ...repository.Option) Option {
	return func(o *serviceOptions) { o.repoOpts = append(o.repoOpts, opts...) }
}

// WithComputer sets the derived data collaborator. Defaults to
// generated.IndexComputer.
func WithComputer(c generated.Computer) Option {
	return func(o *serviceOptions) { o.computer = c }
}

// WithArtifactStore sets where computed artifacts go and the invalidation
// hook used by Clear and Delete. Defaults to generated.Discard.
func WithArtifactStore(s generated.Store) Option {
	return func(o *serviceOptions) { o.store = s }
}

// WithMetrics sets the metrics sink. When m also implements
// repository.Observer it is registered on the child repositories.
func WithMetrics(m Metrics) Option {
	return func(o *serviceOptions) { o.metrics = m }
}

// WithLogger sets the service logger, also handed to its repositories.
func WithLogger(logger *slog.Logger) Option {
	return func(o *serviceOptions) { o.logger = logger }
}

// WithClock overrides time.Now for created, modified and computed_at stamps.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// WithOwnerGenerator overrides the owner identity of new rows.
func WithOwnerGenerator(gen func() uuid.UUID) Option {
	return func(o *serviceOptions) { o.newOwner = gen }
}

// WithRefreshConfig sets RefreshAll concurrency and refresh deduplication.
func WithRefreshConfig(cfg config.RefreshConfig) Option {
	return func(o *serviceOptions) { o.refresh = cfg }
}

// NewService builds a Service on pool.
func NewService(pool *database.Pool, opts ...Option) (*Service, error) {
	o := serviceOptions{
		computer: generated.IndexComputer{},
		store:    generated.Discard{},
		metrics:  nopMetrics{},
		now:      time.Now,
		newOwner: uuid.New,
		refresh:  config.RefreshConfig{Concurrency: 1},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.refresh.Concurrency < 1 {
		o.refresh.Concurrency = 1
	}

	repoOpts := append([]repository.Option{repository.WithLogger(o.logger)}, o.repoOpts...)
	if observer, ok := o.metrics.(repository.Observer); ok {
		repoOpts = append(repoOpts, repository.WithObserver(observer))
	}

	if o.infras == nil {
		repo, err := repository.New[*Infra](pool, repoOpts...)
		if err != nil {
			return nil, err
		}
		o.infras = repo
	}

	objects, err := newObjectStores(pool, repoOpts...)
	if err != nil {
		return nil, err
	}

	return &Service{
		pool:        pool,
		infras:      o.infras,
		objects:     objects,
		computer:    o.computer,
		store:       o.store,
		metrics:     o.metrics,
		logger:      o.logger,
		now:         o.now,
		newOwner:    o.newOwner,
		dedup:       o.refresh.Deduplicate,
		concurrency: o.refresh.Concurrency,
	}, nil
}

// Persist imports doc as a new infrastructure named name. The document format
// version is checked before anything is written. The parent row and every
// object are written in one transaction, kinds in railjson.Kinds order.
func (s *Service) Persist(ctx context.Context, name string, doc railjson.Document) (*Infra, error) {
	if doc.Version != railjson.Version {
		return nil, errs.FormatVersionMismatch(doc.Version, railjson.Version)
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	row := &Infra{
		Name:             name,
		RailjsonVersion:  doc.Version,
		Owner:            s.newOwner(),
		Version:          InitialVersion,
		GeneratedVersion: Unset(),
		Created:          now,
		Modified:         now,
	}

	written := 0
	err := s.pool.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		created, err := s.infras.CreateTx(ctx, tx, row)
		if err != nil {
			return err
		}
		row = created

		for _, store := range s.objects {
			n, err := store.persistTx(ctx, tx, row.ID, doc.Objects(store.kind()))
			if err != nil {
				return err
			}
			written += n
		}
		return nil
	})
	s.metrics.PersistDone(written, err)
	if err != nil {
		s.logFailure("import failed", err, slog.String("name", name))
		return nil, err
	}
	s.invalidateCached(ctx, row.ID)

	s.logger.Info("infrastructure imported",
		slog.Int64("infra_id", row.ID),
		slog.String("name", name),
		slog.Int("objects", written),
	)
	return row, nil
}

// Clone creates a new parent row copying the version, generated version and
// locked flag of sourceID. Objects are not copied.
func (s *Service) Clone(ctx context.Context, sourceID int64, newName string) (*Infra, error) {
	if err := validateName(newName); err != nil {
		return nil, err
	}

	var clone *Infra
	err := s.pool.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		src, found, err := s.infras.GetTx(ctx, tx, sourceID)
		if err != nil {
			return err
		}
		if !found {
			return errs.NotFound(kindInfra, sourceID)
		}

		now := s.now().UTC()
		clone, err = s.infras.CreateTx(ctx, tx, &Infra{
			Name:             newName,
			RailjsonVersion:  src.RailjsonVersion,
			Owner:            s.newOwner(),
			Version:          src.Version,
			GeneratedVersion: src.GeneratedVersion,
			Locked:           src.Locked,
			Created:          now,
			Modified:         now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidateCached(ctx, clone.ID)

	s.logger.Info("infrastructure cloned", slog.Int64("source_id", sourceID), slog.Int64("infra_id", clone.ID))
	return clone, nil
}

// BumpVersion writes infra with its version incremented on db and returns the
// new row. infra itself is not modified. The caller owns the transaction and
// should hold the row lock, see BumpVersionLocked; once it commits, it calls
// Invalidate so cached reads see the new version.
func (s *Service) BumpVersion(ctx context.Context, db bun.IDB, infra *Infra) (*Infra, error) {
	current, err := strconv.ParseUint(infra.Version, 10, 64)
	if err != nil {
		return nil, errs.Corruption(err, fmt.Sprintf("infrastructure %d has unparseable version %q", infra.ID, infra.Version))
	}
	if current == math.MaxUint64 {
		return nil, errs.Corruption(nil, fmt.Sprintf("infrastructure %d version %q cannot be incremented", infra.ID, infra.Version))
	}

	next := *infra
	next.Version = strconv.FormatUint(current+1, 10)
	next.Modified = s.now().UTC()

	updated, found, err := s.infras.UpdateTx(ctx, db, infra.ID, &next)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.NotFound(kindInfra, infra.ID)
	}
	return updated, nil
}

// BumpVersionLocked locks the row, bumps its version and commits. Concurrent
// callers on one infrastructure are serialized by the lock.
func (s *Service) BumpVersionLocked(ctx context.Context, id int64) (*Infra, error) {
	var out *Infra
	err := s.pool.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		row, err := s.infras.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		out, err = s.BumpVersion(ctx, tx, row)
		return err
	})
	if err != nil {
		s.logFailure("version bump failed", err, slog.Int64("infra_id", id))
		return nil, err
	}
	s.invalidateCached(ctx, id)
	return out, nil
}

// Get returns the parent row or a NotFound error.
func (s *Service) Get(ctx context.Context, id int64) (*Infra, error) {
	row, found, err := s.infras.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.NotFound(kindInfra, id)
	}
	return row, nil
}

// List pages through infrastructures by id.
func (s *Service) List(ctx context.Context, page, pageSize int, criteria ...repository.SelectCriteria) (repository.Page[*Infra], error) {
	return s.infras.List(ctx, page, pageSize, criteria...)
}

// Delete removes the infrastructure and, through the foreign keys, all of its
// objects. Stored derived data is invalidated after the commit.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.pool.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		deleted, err := s.infras.DeleteTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return errs.NotFound(kindInfra, id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateCached(ctx, id)
	if err := s.store.Invalidate(ctx, id); err != nil {
		s.logger.Warn("artifact invalidation failed", slog.Int64("infra_id", id), slog.Any("error", err))
	}
	s.logger.Info("infrastructure deleted", slog.Int64("infra_id", id))
	return nil
}

// Rename changes the display name. It does not bump the version.
func (s *Service) Rename(ctx context.Context, id int64, name string) (*Infra, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return s.modify(ctx, id, func(row *Infra) {
		row.Name = name
	})
}

// SetLocked sets the locked flag. It does not bump the version.
func (s *Service) SetLocked(ctx context.Context, id int64, locked bool) (*Infra, error) {
	return s.modify(ctx, id, func(row *Infra) {
		row.Locked = locked
	})
}

func (s *Service) modify(ctx context.Context, id int64, change func(*Infra)) (*Infra, error) {
	var out *Infra
	err := s.pool.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		row, err := s.infras.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		change(row)
		row.Modified = s.now().UTC()

		updated, found, err := s.infras.UpdateTx(ctx, tx, id, row)
		if err != nil {
			return err
		}
		if !found {
			return errs.NotFound(kindInfra, id)
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateCached(ctx, id)
	return out, nil
}

// CheckUnlocked returns a Locked conflict error when infra is locked. Content
// editors call it before changing objects.
func CheckUnlocked(infra *Infra) error {
	if infra.Locked {
		return errs.Locked(infra.ID)
	}
	return nil
}

// Load reassembles the railjson document of an infrastructure from its child
// rows. Objects come back in insertion order.
func (s *Service) Load(ctx context.Context, id int64) (*Infra, railjson.Document, error) {
	var (
		row *Infra
		doc railjson.Document
	)
	err := s.pool.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		var (
			found bool
			err   error
		)
		row, found, err = s.infras.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !found {
			return errs.NotFound(kindInfra, id)
		}
		doc, err = s.loadTx(ctx, tx, row)
		return err
	})
	if err != nil {
		return nil, railjson.Document{}, err
	}
	return row, doc, nil
}

func (s *Service) loadTx(ctx context.Context, db bun.IDB, row *Infra) (railjson.Document, error) {
	doc := railjson.New()
	doc.Version = row.RailjsonVersion
	for _, store := range s.objects {
		objects, err := store.loadTx(ctx, db, row.ID)
		if err != nil {
			return railjson.Document{}, err
		}
		doc.SetObjects(store.kind(), objects)
	}
	return doc, nil
}

// Counts returns the number of stored objects per kind.
func (s *Service) Counts(ctx context.Context, id int64) (map[railjson.Kind]int, error) {
	counts := make(map[railjson.Kind]int, len(s.objects))
	err := s.pool.Do(ctx, func(ctx context.Context, db bun.IDB) error {
		for _, store := range s.objects {
			n, err := store.countTx(ctx, db, id)
			if err != nil {
				return err
			}
			counts[store.kind()] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// State reports the freshness of the derived data of id. It reads the stored
// row, never a cached copy.
func (s *Service) State(ctx context.Context, id int64) (CacheState, error) {
	row, err := s.getStored(ctx, id)
	if err != nil {
		return "", err
	}
	return row.State(), nil
}

// getStored reads the parent row on its own connection, bypassing the cache.
func (s *Service) getStored(ctx context.Context, id int64) (*Infra, error) {
	var row *Infra
	err := s.pool.Do(ctx, func(ctx context.Context, db bun.IDB) error {
		var (
			found bool
			err   error
		)
		row, found, err = s.infras.GetTx(ctx, db, id)
		if err != nil {
			return err
		}
		if !found {
			return errs.NotFound(kindInfra, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Invalidate drops any cached copy of the row id. Callers that change the row
// through their own transaction, as with BumpVersion, call it after commit.
func (s *Service) Invalidate(ctx context.Context, id int64) error {
	inv, ok := s.infras.(recordInvalidator)
	if !ok {
		return nil
	}
	return inv.InvalidateRecord(ctx, id)
}

func (s *Service) invalidateCached(ctx context.Context, id int64) {
	inv, ok := s.infras.(recordInvalidator)
	if !ok {
		return
	}
	if err := inv.InvalidateRecord(ctx, id); err != nil {
		s.logger.Warn("cache invalidation failed", slog.Int64("infra_id", id), slog.Any("error", err))
	}
}

// logFailure logs corruption through its go-errors severity, with the stack,
// and everything else as a warning.
func (s *Service) logFailure(msg string, err error, attrs ...any) {
	var rich *goerrors.Error
	if errs.IsCorruption(err) && goerrors.As(err, &rich) {
		goerrors.LogBySeverity(s.logger, rich)
		return
	}
	s.logger.Warn(msg, append(attrs, slog.Any("error", err))...)
}

func validateName(name string) error {
	if err := goerrors.ValidateWithOzzo(func() error {
		return validation.Validate(name, validation.Required, validation.Length(1, 128))
	}, "invalid infrastructure name"); err != nil {
		return err
	}
	return nil
}
