package repository

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"

	"github.com/danielyj147/osrd/database"
	"github.com/danielyj147/osrd/errs"
)

// Model is implemented by pointer-to-struct bun models keyed by an int64
// autoincrement primary key.
type Model interface {
	GetID() int64
	SetID(id int64)
}

// SelectCriteria narrows or orders a List query.
type SelectCriteria func(*bun.SelectQuery) *bun.SelectQuery

// Observer is notified after every successful chunk insert.
type Observer interface {
	ChunkWritten(kind string, records int)
}

// Repository is the storage contract for one entity kind. The *Tx variants run
// on the caller's connection or transaction; the others check out their own
// connection from the pool for the duration of the call.
type Repository[T Model] interface {
	Kind() string

	Create(ctx context.Context, record T) (T, error)
	CreateTx(ctx context.Context, db bun.IDB, record T) (T, error)
	CreateBatch(ctx context.Context, records []T) ([]T, error)
	CreateBatchTx(ctx context.Context, db bun.IDB, records []T) ([]T, error)

	Get(ctx context.Context, id int64) (T, bool, error)
	GetTx(ctx context.Context, db bun.IDB, id int64) (T, bool, error)
	GetForUpdateTx(ctx context.Context, db bun.IDB, id int64) (T, error)

	Update(ctx context.Context, id int64, record T) (T, bool, error)
	UpdateTx(ctx context.Context, db bun.IDB, id int64, record T) (T, bool, error)

	Delete(ctx context.Context, id int64) (bool, error)
	DeleteTx(ctx context.Context, db bun.IDB, id int64) (bool, error)

	List(ctx context.Context, page, pageSize int, criteria ...SelectCriteria) (Page[T], error)
	ListTx(ctx context.Context, db bun.IDB, page, pageSize int, criteria ...SelectCriteria) (Page[T], error)
	FindTx(ctx context.Context, db bun.IDB, criteria ...SelectCriteria) ([]T, error)
	CountTx(ctx context.Context, db bun.IDB, criteria ...SelectCriteria) (int, error)
}

var _ Repository[Model] = (*BunRepository[Model])(nil)

// BunRepository implements Repository on top of bun.
type BunRepository[T Model] struct {
	pool       *database.Pool
	typ        reflect.Type
	kind       string
	fieldCount int
	maxParams  int
	observer   Observer
	logger     *slog.Logger
}

// Option customises a BunRepository.
type Option func(*options)

type options struct {
	fieldCount int
	maxParams  int
	observer   Observer
	logger     *slog.Logger
}

// WithFieldCount overrides the number of bound fields per record used to size
// insert chunks. By default it is the number of columns of the model.
func WithFieldCount(n int) Option {
	return func(o *options) { o.fieldCount = n }
}

// WithMaxBindParameters overrides the per statement parameter ceiling.
func WithMaxBindParameters(n int) Option {
	return func(o *options) { o.maxParams = n }
}

// WithObserver registers an Observer for chunk writes.
func WithObserver(observer Observer) Option {
	return func(o *options) { o.observer = observer }
}

// WithLogger sets the repository logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New builds a repository for the model type T, which must be a pointer to a
// bun model struct.
func New[T Model](pool *database.Pool, opts ...Option) (*BunRepository[T], error) {
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		return nil, errs.Config("model", fmt.Sprintf("%s is not a pointer to a struct", typ))
	}

	table := pool.DB().Table(typ.Elem())

	o := options{
		fieldCount: len(table.Fields),
		maxParams:  pool.Config().BindParameterLimit(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if _, err := ChunkSize(o.fieldCount, o.maxParams); err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &BunRepository[T]{
		pool:       pool,
		typ:        typ.Elem(),
		kind:       table.Name,
		fieldCount: o.fieldCount,
		maxParams:  o.maxParams,
		observer:   o.observer,
		logger:     o.logger.With(slog.String("kind", table.Name)),
	}, nil
}

// Kind is the table name of the model.
func (r *BunRepository[T]) Kind() string {
	return r.kind
}

// FieldCount is the number of bound fields per record.
func (r *BunRepository[T]) FieldCount() int {
	return r.fieldCount
}

// ChunkSize is the number of records written per insert statement.
func (r *BunRepository[T]) ChunkSize() int {
	size, _ := ChunkSize(r.fieldCount, r.maxParams)
	return size
}

func (r *BunRepository[T]) newRecord() T {
	return reflect.New(r.typ).Interface().(T)
}

// Create stores record and returns it with its assigned id.
func (r *BunRepository[T]) Create(ctx context.Context, record T) (T, error) {
	var out T
	err := r.pool.Do(ctx, func(ctx context.Context, db bun.IDB) error {
		var err error
		out, err = r.CreateTx(ctx, db, record)
		return err
	})
	return out, err
}

// CreateTx stores record on db.
func (r *BunRepository[T]) CreateTx(ctx context.Context, db bun.IDB, record T) (T, error) {
	if _, err := db.NewInsert().Model(record).Returning("*").Exec(ctx); err != nil {
		var zero T
		return zero, database.Classify(err, "create "+r.kind)
	}
	return record, nil
}

// CreateBatch stores records in one transaction of its own.
func (r *BunRepository[T]) CreateBatch(ctx context.Context, records []T) ([]T, error) {
	var out []T
	err := r.pool.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		var err error
		out, err = r.CreateBatchTx(ctx, tx, records)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateBatchTx stores records on db with one insert-returning statement per
// chunk. The result keeps the input order.
func (r *BunRepository[T]) CreateBatchTx(ctx context.Context, db bun.IDB, records []T) ([]T, error) {
	return InsertChunked(ctx, records, r.fieldCount, r.maxParams, func(ctx context.Context, chunk []T) ([]T, error) {
		if _, err := db.NewInsert().Model(&chunk).Returning("*").Exec(ctx); err != nil {
			return nil, database.Classify(err, "create "+r.kind+" batch")
		}
		if r.observer != nil {
			r.observer.ChunkWritten(r.kind, len(chunk))
		}
		r.logger.Debug("chunk written", slog.Int("records", len(chunk)))
		return chunk, nil
	})
}

// Get returns the record with the given id. A missing row is reported through
// the boolean, not as an error.
func (r *BunRepository[T]) Get(ctx context.Context, id int64) (T, bool, error) {
	var (
		out   T
		found bool
	)
	err := r.pool.Do(ctx, func(ctx context.Context, db bun.IDB) error {
		var err error
		out, found, err = r.GetTx(ctx, db, id)
		return err
	})
	return out, found, err
}

// GetTx is Get on db.
func (r *BunRepository[T]) GetTx(ctx context.Context, db bun.IDB, id int64) (T, bool, error) {
	record := r.newRecord()
	record.SetID(id)

	if err := db.NewSelect().Model(record).WherePK().Scan(ctx); err != nil {
		var zero T
		if database.IsNoRows(err) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("get %s %d: %w", r.kind, id, err)
	}
	return record, true, nil
}

// GetForUpdateTx reads the row and locks it until the transaction behind db
// ends. Dialects without row locks rely on the pool serialising transactions.
func (r *BunRepository[T]) GetForUpdateTx(ctx context.Context, db bun.IDB, id int64) (T, error) {
	record := r.newRecord()
	record.SetID(id)

	q := db.NewSelect().Model(record).WherePK()
	if database.SupportsRowLocks(db) {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		var zero T
		if database.IsNoRows(err) {
			return zero, errs.NotFound(r.kind, id)
		}
		return zero, fmt.Errorf("lock %s %d: %w", r.kind, id, err)
	}
	return record, nil
}

// Update replaces every column of the row with the values of record.
func (r *BunRepository[T]) Update(ctx context.Context, id int64, record T) (T, bool, error) {
	var (
		out   T
		found bool
	)
	err := r.pool.Do(ctx, func(ctx context.Context, db bun.IDB) error {
		var err error
		out, found, err = r.UpdateTx(ctx, db, id, record)
		return err
	})
	return out, found, err
}

// UpdateTx is Update on db.
func (r *BunRepository[T]) UpdateTx(ctx context.Context, db bun.IDB, id int64, record T) (T, bool, error) {
	var zero T
	record.SetID(id)

	res, err := db.NewUpdate().Model(record).WherePK().Exec(ctx)
	if err != nil {
		return zero, false, database.Classify(err, "update "+r.kind)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return zero, false, fmt.Errorf("update %s %d: %w", r.kind, id, err)
	}
	if affected == 0 {
		return zero, false, nil
	}
	return record, true, nil
}

// Delete removes the row and reports whether it existed.
func (r *BunRepository[T]) Delete(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := r.pool.Do(ctx, func(ctx context.Context, db bun.IDB) error {
		var err error
		deleted, err = r.DeleteTx(ctx, db, id)
		return err
	})
	return deleted, err
}

// DeleteTx is Delete on db.
func (r *BunRepository[T]) DeleteTx(ctx context.Context, db bun.IDB, id int64) (bool, error) {
	record := r.newRecord()
	record.SetID(id)

	res, err := db.NewDelete().Model(record).WherePK().Exec(ctx)
	if err != nil {
		return false, database.Classify(err, "delete "+r.kind)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s %d: %w", r.kind, id, err)
	}
	return affected > 0, nil
}

// List returns one page of records. Pages start at 1. Records are ordered by
// the criteria first and by id ascending after that.
func (r *BunRepository[T]) List(ctx context.Context, page, pageSize int, criteria ...SelectCriteria) (Page[T], error) {
	var out Page[T]
	err := r.pool.Do(ctx, func(ctx context.Context, db bun.IDB) error {
		var err error
		out, err = r.ListTx(ctx, db, page, pageSize, criteria...)
		return err
	})
	return out, err
}

// ListTx is List on db.
func (r *BunRepository[T]) ListTx(ctx context.Context, db bun.IDB, page, pageSize int, criteria ...SelectCriteria) (Page[T], error) {
	if err := validatePaging(page, pageSize); err != nil {
		return Page[T]{}, err
	}

	records := make([]T, 0, pageSize)
	q := db.NewSelect().Model(&records)
	for _, c := range criteria {
		q = c(q)
	}
	q = q.OrderExpr("?TableAlias.id ASC").
		Limit(pageSize).
		Offset((page - 1) * pageSize)

	count, err := q.ScanAndCount(ctx)
	if err != nil && !database.IsNoRows(err) {
		return Page[T]{}, fmt.Errorf("list %s: %w", r.kind, err)
	}
	return NewPage(records, count, page, pageSize), nil
}

// FindTx returns every record matching criteria, ordered like ListTx.
func (r *BunRepository[T]) FindTx(ctx context.Context, db bun.IDB, criteria ...SelectCriteria) ([]T, error) {
	records := []T{}
	q := db.NewSelect().Model(&records)
	for _, c := range criteria {
		q = c(q)
	}
	if err := q.OrderExpr("?TableAlias.id ASC").Scan(ctx); err != nil && !database.IsNoRows(err) {
		return nil, fmt.Errorf("find %s: %w", r.kind, err)
	}
	return records, nil
}

// CountTx counts the records matching criteria.
func (r *BunRepository[T]) CountTx(ctx context.Context, db bun.IDB, criteria ...SelectCriteria) (int, error) {
	q := db.NewSelect().Model(r.newRecord())
	for _, c := range criteria {
		q = c(q)
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.kind, err)
	}
	return n, nil
}

func validatePaging(page, pageSize int) error {
	if err := goerrors.ValidateWithOzzo(func() error {
		return validation.Errors{
			"page":      validation.Validate(page, validation.Required, validation.Min(1)),
			"page_size": validation.Validate(pageSize, validation.Required, validation.Min(1)),
		}.Filter()
	}, "invalid pagination"); err != nil {
		return err
	}
	return nil
}
