package directory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bizledger/internal/core"
	"bizledger/internal/directory"
	"bizledger/internal/ledger"
	"bizledger/internal/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*memory.Store
	departmentReads atomic.Int64
}

func (s *countingStore) GetDepartment(ctx context.Context, id string) (core.Department, error) {
	s.departmentReads.Add(1)
	time.Sleep(5 * time.Millisecond)
	return s.Store.GetDepartment(ctx, id)
}

func newDirectory(t *testing.T) (*directory.Directory, *countingStore) {
	t.Helper()
	store := &countingStore{Store: memory.NewStore()}
	return directory.New(store, directory.Config{CacheSize: 10, CacheTTL: time.Minute}, nil), store
}

func TestDepartmentCRUD(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()

	dept, err := dir.CreateDepartment(ctx, core.Department{Name: " Engineering ", AllocatedBudget: decimal.NewFromInt(50000)})
	require.NoError(t, err)
	assert.NotEmpty(t, dept.ID)
	assert.Equal(t, "Engineering", dept.Name)
	assert.Equal(t, core.DepartmentActive, dept.Status)

	_, err = dir.CreateDepartment(ctx, core.Department{Name: "", AllocatedBudget: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = dir.CreateDepartment(ctx, core.Department{Name: "Bad", AllocatedBudget: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, core.ErrValidation)

	name := "R&D"
	updated, err := dir.UpdateDepartment(ctx, dept.ID, directory.DepartmentUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "R&D", updated.Name)

	got, err := dir.GetDepartment(ctx, dept.ID)
	require.NoError(t, err)
	assert.Equal(t, "R&D", got.Name)

	list, err := dir.ListDepartments(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, dir.DeleteDepartment(ctx, dept.ID))
	_, err = dir.GetDepartment(ctx, dept.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	list, err = dir.ListDepartments(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestProjectRules(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()

	dept, err := dir.CreateDepartment(ctx, core.Department{Name: "Engineering"})
	require.NoError(t, err)

	p, err := dir.CreateProject(ctx, core.Project{
		Name: "Platform", Code: "tech-001", DepartmentID: dept.ID, Budget: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	assert.Equal(t, "TECH-001", p.Code)

	_, err = dir.CreateProject(ctx, core.Project{Name: "Copy", Code: "TECH-001", DepartmentID: dept.ID})
	assert.ErrorIs(t, err, core.ErrConflict)

	_, err = dir.CreateProject(ctx, core.Project{Name: "Orphan", Code: "TECH-002", DepartmentID: "missing"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = dir.DeleteDepartment(ctx, dept.ID)
	assert.ErrorIs(t, err, core.ErrConflict, "department with projects cannot be deleted")

	team := 4
	updated, err := dir.UpdateProject(ctx, p.ID, directory.ProjectUpdate{TeamSize: &team})
	require.NoError(t, err)
	assert.Equal(t, 4, updated.TeamSize)

	projects, err := dir.ListProjects(ctx, dept.ID)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, 4, projects[0].TeamSize)

	require.NoError(t, dir.DeleteProject(ctx, p.ID))
	require.NoError(t, dir.DeleteDepartment(ctx, dept.ID))
}

func TestLedgerEventsInvalidateCachedSpent(t *testing.T) {
	dir, store := newDirectory(t)
	ctx := context.Background()

	dept, err := dir.CreateDepartment(ctx, core.Department{Name: "Engineering"})
	require.NoError(t, err)

	engine := ledger.NewEngine(store, ledger.Publishers{dir}, ledger.Config{MaxAttempts: 1}, nil)

	before, err := dir.GetDepartment(ctx, dept.ID)
	require.NoError(t, err)
	assert.True(t, before.Spent.IsZero())

	_, err = engine.CreateEntry(ctx, core.Entry{
		Kind: core.KindExpense, Amount: decimal.NewFromInt(100), Date: core.NewDate(2025, 1, 10),
		DepartmentID: dept.ID, Expense: &core.ExpenseDetails{},
	})
	require.NoError(t, err)

	after, err := dir.GetDepartment(ctx, dept.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(after.Spent), "cached department must be refreshed, got %s", after.Spent)
}

func TestConcurrentMissesShareOneLoad(t *testing.T) {
	dir, store := newDirectory(t)
	ctx := context.Background()

	dept, err := dir.CreateDepartment(ctx, core.Department{Name: "Engineering"})
	require.NoError(t, err)
	store.departmentReads.Store(0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := dir.GetDepartment(ctx, dept.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, store.departmentReads.Load(), int64(20))

	reads := store.departmentReads.Load()
	_, err = dir.GetDepartment(ctx, dept.ID)
	require.NoError(t, err)
	assert.Equal(t, reads, store.departmentReads.Load(), "served from cache")
}

// gatedStore holds department reads until gate is closed and honours
// cancellation of the context it is given.
type gatedStore struct {
	*memory.Store
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (s *gatedStore) GetDepartment(ctx context.Context, id string) (core.Department, error) {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.gate:
	case <-ctx.Done():
		return core.Department{}, ctx.Err()
	}
	return s.Store.GetDepartment(ctx, id)
}

func TestCancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{Store: memory.NewStore(), entered: make(chan struct{}), gate: make(chan struct{})}
	require.NoError(t, store.Store.CreateDepartment(ctx, core.Department{ID: "d1", Name: "Engineering", Status: core.DepartmentActive}))
	dir := directory.New(store, directory.Config{CacheSize: 10, CacheTTL: time.Minute}, nil)

	first, cancel := context.WithCancel(ctx)
	firstErr := make(chan error, 1)
	go func() {
		_, err := dir.GetDepartment(first, "d1")
		firstErr <- err
	}()
	<-store.entered

	second := make(chan error, 1)
	go func() {
		d, err := dir.GetDepartment(ctx, "d1")
		if err == nil && d.ID != "d1" {
			err = assert.AnError
		}
		second <- err
	}()
	time.Sleep(10 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(store.gate)
	assert.NoError(t, <-second)
}
