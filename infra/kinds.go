package infra

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/danielyj147/osrd/database"
	"github.com/danielyj147/osrd/railjson"
	"github.com/danielyj147/osrd/repository"
)

type objectRecord interface {
	repository.Model
	object() *ObjectRow
}

// objectStore writes and reads the child rows of one object kind.
type objectStore interface {
	kind() railjson.Kind
	table() string
	model() any
	persistTx(ctx context.Context, db bun.IDB, infraID int64, objects []railjson.Object) (int, error)
	loadTx(ctx context.Context, db bun.IDB, infraID int64) ([]railjson.Object, error)
	countTx(ctx context.Context, db bun.IDB, infraID int64) (int, error)
}

type kindStore[R any, PR interface {
	*R
	objectRecord
}] struct {
	k    railjson.Kind
	repo *repository.BunRepository[PR]
}

func newKindStore[R any, PR interface {
	*R
	objectRecord
}](pool *database.Pool, kind railjson.Kind, opts ...repository.Option) (objectStore, error) {
	repo, err := repository.New[PR](pool, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s repository: %w", kind, err)
	}
	return &kindStore[R, PR]{k: kind, repo: repo}, nil
}

func (s *kindStore[R, PR]) kind() railjson.Kind { return s.k }
func (s *kindStore[R, PR]) table() string       { return s.repo.Kind() }
func (s *kindStore[R, PR]) model() any          { return PR(new(R)) }

func (s *kindStore[R, PR]) persistTx(ctx context.Context, db bun.IDB, infraID int64, objects []railjson.Object) (int, error) {
	rows := make([]PR, len(objects))
	for i, o := range objects {
		row := PR(new(R))
		*row.object() = ObjectRow{ObjID: o.ID, Data: o.Raw, InfraID: infraID}
		rows[i] = row
	}

	stored, err := s.repo.CreateBatchTx(ctx, db, rows)
	if err != nil {
		return 0, fmt.Errorf("persist %s: %w", s.k, err)
	}
	return len(stored), nil
}

func (s *kindStore[R, PR]) loadTx(ctx context.Context, db bun.IDB, infraID int64) ([]railjson.Object, error) {
	rows, err := s.repo.FindTx(ctx, db, repository.WhereEq("infra_id", infraID))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.k, err)
	}

	objects := make([]railjson.Object, len(rows))
	for i, row := range rows {
		o := row.object()
		objects[i] = railjson.Object{ID: o.ObjID, Raw: o.Data}
	}
	return objects, nil
}

func (s *kindStore[R, PR]) countTx(ctx context.Context, db bun.IDB, infraID int64) (int, error) {
	return s.repo.CountTx(ctx, db, repository.WhereEq("infra_id", infraID))
}

// newObjectStores returns one store per kind, in railjson.Kinds order.
func newObjectStores(pool *database.Pool, opts ...repository.Option) ([]objectStore, error) {
	ctors := map[railjson.Kind]func() (objectStore, error){
		railjson.BufferStops: func() (objectStore, error) {
			return newKindStore[BufferStopRow](pool, railjson.BufferStops, opts...)
		},
		railjson.Catenaries: func() (objectStore, error) {
			return newKindStore[CatenaryRow](pool, railjson.Catenaries, opts...)
		},
		railjson.Detectors: func() (objectStore, error) {
			return newKindStore[DetectorRow](pool, railjson.Detectors, opts...)
		},
		railjson.OperationalPoints: func() (objectStore, error) {
			return newKindStore[OperationalPointRow](pool, railjson.OperationalPoints, opts...)
		},
		railjson.Routes: func() (objectStore, error) {
			return newKindStore[RouteRow](pool, railjson.Routes, opts...)
		},
		railjson.Signals: func() (objectStore, error) {
			return newKindStore[SignalRow](pool, railjson.Signals, opts...)
		},
		railjson.Switches: func() (objectStore, error) {
			return newKindStore[SwitchRow](pool, railjson.Switches, opts...)
		},
		railjson.SpeedSections: func() (objectStore, error) {
			return newKindStore[SpeedSectionRow](pool, railjson.SpeedSections, opts...)
		},
		railjson.SwitchTypes: func() (objectStore, error) {
			return newKindStore[SwitchTypeRow](pool, railjson.SwitchTypes, opts...)
		},
		railjson.TrackSectionLinks: func() (objectStore, error) {
			return newKindStore[TrackSectionLinkRow](pool, railjson.TrackSectionLinks, opts...)
		},
		railjson.TrackSections: func() (objectStore, error) {
			return newKindStore[TrackSectionRow](pool, railjson.TrackSections, opts...)
		},
	}

	stores := make([]objectStore, 0, len(railjson.Kinds))
	for _, kind := range railjson.Kinds {
		ctor, ok := ctors[kind]
		if !ok {
			return nil, fmt.Errorf("no table registered for %s", kind)
		}
		store, err := ctor()
		if err != nil {
			return nil, err
		}
		stores = append(stores, store)
	}
	return stores, nil
}
