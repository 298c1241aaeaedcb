package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/danielyj147/osrd/database"
	"github.com/danielyj147/osrd/errs"
	"github.com/danielyj147/osrd/pkg/testsupport"
)

type widget struct {
	bun.BaseModel `bun:"table:widgets,alias:w"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull,unique"`
	Size int    `bun:"size,notnull"`
}

func (w *widget) GetID() int64   { return w.ID }
func (w *widget) SetID(id int64) { w.ID = id }

type countingObserver struct {
	mu     sync.Mutex
	chunks []int
}

func (o *countingObserver) ChunkWritten(kind string, records int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chunks = append(o.chunks, records)
}

func newWidgetRepo(t *testing.T, opts ...Option) (*BunRepository[*widget], *database.Pool) {
	t.Helper()

	pool := testsupport.OpenSQLite(t, (*widget)(nil))
	repo, err := New[*widget](pool, opts...)
	require.NoError(t, err)
	return repo, pool
}

func widgets(n int) []*widget {
	out := make([]*widget, n)
	for i := range out {
		out[i] = &widget{Name: fmt.Sprintf("w%02d", i), Size: i}
	}
	return out
}

func TestNew_FieldCountFromModel(t *testing.T) {
	repo, _ := newWidgetRepo(t)

	assert.Equal(t, "widgets", repo.Kind())
	assert.Equal(t, 3, repo.FieldCount())
	assert.Equal(t, 32766/3, repo.ChunkSize())
}

func TestNew_RejectsInvalidFieldCount(t *testing.T) {
	pool := testsupport.OpenSQLite(t)

	_, err := New[*widget](pool, WithFieldCount(0))
	require.Error(t, err)
	assert.True(t, errs.IsConfig(err))
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo, _ := newWidgetRepo(t)

	created, err := repo.Create(ctx, &widget{Name: "alpha", Size: 3})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	got, found, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alpha", got.Name)
	assert.Equal(t, 3, got.Size)
}

func TestGet_MissingIsNotAnError(t *testing.T) {
	repo, _ := newWidgetRepo(t)

	got, found, err := repo.Get(context.Background(), 404)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestCreate_DuplicateIsConstraintViolation(t *testing.T) {
	ctx := context.Background()
	repo, _ := newWidgetRepo(t)

	_, err := repo.Create(ctx, &widget{Name: "dup"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &widget{Name: "dup"})
	require.Error(t, err)
	assert.True(t, errs.IsConstraintViolation(err), "got %v", err)
	assert.False(t, errs.IsNotFound(err))
	assert.True(t, errs.IsRetryable(err))
}

func TestCreateBatch_ChunksAndKeepsOrder(t *testing.T) {
	ctx := context.Background()
	observer := &countingObserver{}
	repo, _ := newWidgetRepo(t, WithMaxBindParameters(6), WithObserver(observer))

	created, err := repo.CreateBatch(ctx, widgets(5))
	require.NoError(t, err)
	require.Len(t, created, 5)

	assert.Equal(t, []int{2, 2, 1}, observer.chunks)
	for i, w := range created {
		assert.Equal(t, fmt.Sprintf("w%02d", i), w.Name)
		assert.NotZero(t, w.ID)
		if i > 0 {
			assert.Greater(t, w.ID, created[i-1].ID)
		}
	}

	page, err := repo.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Count)
}

func TestCreateBatch_Empty(t *testing.T) {
	observer := &countingObserver{}
	repo, _ := newWidgetRepo(t, WithObserver(observer))

	created, err := repo.CreateBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Empty(t, observer.chunks)
}

func TestCreateBatch_FailureRollsBackEarlierChunks(t *testing.T) {
	ctx := context.Background()
	repo, _ := newWidgetRepo(t, WithMaxBindParameters(3))

	records := widgets(4)
	records[3].Name = records[0].Name

	_, err := repo.CreateBatch(ctx, records)
	require.Error(t, err)
	assert.True(t, errs.IsConstraintViolation(err), "got %v", err)

	page, err := repo.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Count)
}

func TestCreateBatchTx_JoinsCallerTransaction(t *testing.T) {
	ctx := context.Background()
	repo, pool := newWidgetRepo(t, WithMaxBindParameters(3))

	err := pool.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		created, err := repo.CreateBatchTx(ctx, tx, widgets(3))
		require.NoError(t, err)
		require.Len(t, created, 3)
		return fmt.Errorf("abort")
	})
	require.EqualError(t, err, "abort")

	page, err := repo.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Count)
}

func TestGetForUpdateTx(t *testing.T) {
	ctx := context.Background()
	repo, pool := newWidgetRepo(t)

	created, err := repo.Create(ctx, &widget{Name: "locked", Size: 1})
	require.NoError(t, err)

	err = pool.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		w, err := repo.GetForUpdateTx(ctx, tx, created.ID)
		if err != nil {
			return err
		}
		w.Size++
		_, _, err = repo.UpdateTx(ctx, tx, w.ID, w)
		return err
	})
	require.NoError(t, err)

	got, _, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Size)

	err = pool.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		_, err := repo.GetForUpdateTx(ctx, tx, 999)
		return err
	})
	assert.True(t, errs.IsNotFound(err), "got %v", err)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	repo, _ := newWidgetRepo(t)

	created, err := repo.Create(ctx, &widget{Name: "before", Size: 1})
	require.NoError(t, err)

	updated, found, err := repo.Update(ctx, created.ID, &widget{Name: "after", Size: 9})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, created.ID, updated.ID)

	got, _, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
	assert.Equal(t, 9, got.Size)

	_, found, err = repo.Update(ctx, 12345, &widget{Name: "ghost"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo, _ := newWidgetRepo(t)

	created, err := repo.Create(ctx, &widget{Name: "gone"})
	require.NoError(t, err)

	deleted, err := repo.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestList_Pagination(t *testing.T) {
	ctx := context.Background()
	repo, _ := newWidgetRepo(t)

	_, err := repo.CreateBatch(ctx, widgets(5))
	require.NoError(t, err)

	first, err := repo.List(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Count)
	require.Len(t, first.Results, 2)
	assert.Equal(t, "w00", first.Results[0].Name)
	assert.Nil(t, first.Previous)
	require.NotNil(t, first.Next)
	assert.Equal(t, 2, *first.Next)
	assert.Equal(t, 3, first.Pages())

	last, err := repo.List(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, last.Results, 1)
	assert.Equal(t, "w04", last.Results[0].Name)
	require.NotNil(t, last.Previous)
	assert.Equal(t, 2, *last.Previous)
	assert.Nil(t, last.Next)

	beyond, err := repo.List(ctx, 9, 2)
	require.NoError(t, err)
	assert.Empty(t, beyond.Results)
	assert.Equal(t, 5, beyond.Count)
}

func TestList_Criteria(t *testing.T) {
	ctx := context.Background()
	repo, _ := newWidgetRepo(t)

	_, err := repo.CreateBatch(ctx, widgets(4))
	require.NoError(t, err)

	page, err := repo.List(ctx, 1, 10, OrderBy("size", true))
	require.NoError(t, err)
	require.Len(t, page.Results, 4)
	assert.Equal(t, 3, page.Results[0].Size)

	page, err = repo.List(ctx, 1, 10, WhereEq("name", "w02"))
	require.NoError(t, err)
	assert.Equal(t, 1, page.Count)
}

func TestList_InvalidPaging(t *testing.T) {
	repo, _ := newWidgetRepo(t)

	_, err := repo.List(context.Background(), 0, 10)
	require.Error(t, err)

	_, err = repo.List(context.Background(), 1, -1)
	require.Error(t, err)
}
