package infra

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"github.com/danielyj147/osrd/errs"
	"github.com/danielyj147/osrd/generated"
	"github.com/danielyj147/osrd/railjson"
)

// Refresh recomputes the derived data of id unless it is already fresh at the
// current version and force is false. It reports whether a computation ran.
//
// The computation runs outside any transaction. The artifact and the generated
// version are written together under the row lock, recording the version the
// computation read even if the row moved on meanwhile. A result older than the
// version already recorded is discarded. With deduplication on, concurrent
// calls in this process share one computation; it is detached from the
// cancellation of whichever caller started it, and each caller stops waiting
// when its own ctx is done.
func (s *Service) Refresh(ctx context.Context, id int64, force bool) (bool, error) {
	if !s.dedup {
		return s.refresh(ctx, id, force)
	}

	key := strconv.FormatInt(id, 10) + ":" + strconv.FormatBool(force)
	ch := s.refreshes.DoChan(key, func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx), id, force)
	})
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	}
}

func (s *Service) refresh(ctx context.Context, id int64, force bool) (bool, error) {
	var (
		row   *Infra
		doc   railjson.Document
		fresh bool
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
		if !force && row.GeneratedVersion.IsFreshAt(row.Version) {
			fresh = true
			return nil
		}
		doc, err = s.loadTx(ctx, tx, row)
		return err
	})
	if err != nil {
		s.metrics.RefreshDone(false, 0, err)
		return false, err
	}
	if fresh {
		s.metrics.RefreshDone(false, 0, nil)
		return false, nil
	}

	version := row.Version
	started := time.Now()
	data, err := s.computer.Compute(ctx, id, doc)
	elapsed := time.Since(started)
	if err != nil {
		err := errs.ComputeFailure(err, id)
		s.metrics.RefreshDone(false, elapsed, err)
		s.logger.Warn("derived data computation failed",
			slog.Int64("infra_id", id),
			slog.String("version", version),
			slog.Any("error", err),
		)
		return false, err
	}

	artifact := generated.NewArtifact(id, version, data, s.now())
	var superseded string
	err = s.pool.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		current, err := s.infras.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if recorded, ok := current.GeneratedVersion.Version(); ok && versionAfter(recorded, version) {
			superseded = recorded
			return nil
		}
		if err := s.store.Put(ctx, artifact); err != nil {
			return fmt.Errorf("store derived data of infra %d: %w", id, err)
		}
		current.GeneratedVersion = Fresh(version)
		_, found, err := s.infras.UpdateTx(ctx, tx, id, current)
		if err != nil {
			return err
		}
		if !found {
			return errs.NotFound(kindInfra, id)
		}
		return nil
	})
	s.metrics.RefreshDone(err == nil, elapsed, err)
	if err != nil {
		return false, err
	}
	if superseded != "" {
		s.logger.Info("derived data superseded by a newer computation",
			slog.Int64("infra_id", id),
			slog.String("version", version),
			slog.String("recorded", superseded),
		)
		return true, nil
	}

	s.invalidateCached(ctx, id)
	s.logger.Info("derived data refreshed",
		slog.Int64("infra_id", id),
		slog.String("version", version),
		slog.Duration("compute", elapsed),
	)
	return true, nil
}

// versionAfter reports whether a is a later version than b. Versions that do
// not parse are never later.
func versionAfter(a, b string) bool {
	x, errA := strconv.ParseUint(a, 10, 64)
	y, errB := strconv.ParseUint(b, 10, 64)
	return errA == nil && errB == nil && x > y
}

// Clear invalidates the stored derived data of id, then marks it Cleared.
// Invalidation is best effort: its failure is logged and does not stop the
// state change.
func (s *Service) Clear(ctx context.Context, id int64) (bool, error) {
	if err := s.store.Invalidate(ctx, id); err != nil {
		s.logger.Warn("artifact invalidation failed", slog.Int64("infra_id", id), slog.Any("error", err))
	}

	err := s.pool.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		row, err := s.infras.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		row.GeneratedVersion = Cleared()
		_, found, err := s.infras.UpdateTx(ctx, tx, id, row)
		if err != nil {
			return err
		}
		if !found {
			return errs.NotFound(kindInfra, id)
		}
		return nil
	})
	s.metrics.ClearDone(err)
	if err != nil {
		return false, err
	}

	s.invalidateCached(ctx, id)
	s.logger.Info("derived data cleared", slog.Int64("infra_id", id))
	return true, nil
}

// RefreshAll refreshes every infrastructure with at most the configured
// number of computations in flight. The first failure cancels the rest. It
// returns how many infrastructures were recomputed.
func (s *Service) RefreshAll(ctx context.Context, force bool) (int, error) {
	var rows []*Infra
	err := s.pool.Do(ctx, func(ctx context.Context, db bun.IDB) error {
		var err error
		rows, err = s.infras.FindTx(ctx, db)
		return err
	})
	if err != nil {
		return 0, err
	}

	var refreshed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, row := range rows {
		id := row.ID
		g.Go(func() error {
			ok, err := s.Refresh(gctx, id, force)
			if err != nil {
				return fmt.Errorf("refresh infra %d: %w", id, err)
			}
			if ok {
				refreshed.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	s.logger.Info("bulk refresh done",
		slog.Int("infras", len(rows)),
		slog.Int64("refreshed", refreshed.Load()),
	)
	return int(refreshed.Load()), err
}

// Generated returns the stored derived data of id when it was computed from
// the current version. Anything else, including an artifact left over from an
// older version, is reported as absent.
func (s *Service) Generated(ctx context.Context, id int64) (generated.Artifact, bool, error) {
	row, err := s.getStored(ctx, id)
	if err != nil {
		return generated.Artifact{}, false, err
	}
	if !row.GeneratedVersion.IsFreshAt(row.Version) {
		return generated.Artifact{}, false, nil
	}

	artifact, ok, err := s.store.Get(ctx, id)
	if err != nil || !ok {
		return generated.Artifact{}, false, err
	}
	if artifact.Version != row.Version {
		return generated.Artifact{}, false, nil
	}
	return artifact, true, nil
}
