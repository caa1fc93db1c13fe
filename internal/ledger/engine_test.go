package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"bizledger/internal/core"
	"bizledger/internal/ledger"
	"bizledger/internal/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

type recordingPublisher struct {
	mu     sync.Mutex
	events []ledger.Event
	err    error
}

func (p *recordingPublisher) PublishLedgerEvent(_ context.Context, ev ledger.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

// faultyStore fails the first failTx transactions after running them, and
// optionally every project accumulator update.
type faultyStore struct {
	*memory.Store
	failTx     int
	projectErr error
	calls      int
}

func (f *faultyStore) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	f.calls++
	call := f.calls
	return f.Store.InTx(ctx, func(tx ledger.Tx) error {
		if err := fn(faultyTx{Tx: tx, projectErr: f.projectErr}); err != nil {
			return err
		}
		if call <= f.failTx {
			return core.Transient(errors.New("database is locked"))
		}
		return nil
	})
}

type faultyTx struct {
	ledger.Tx
	projectErr error
}

func (t faultyTx) AdjustProjectSpent(ctx context.Context, id string, delta decimal.Decimal) error {
	if t.projectErr != nil {
		return t.projectErr
	}
	return t.Tx.AdjustProjectSpent(ctx, id, delta)
}

type fixture struct {
	store     *memory.Store
	engine    *ledger.Engine
	publisher *recordingPublisher
}

func seed(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()
	for _, d := range []core.Department{
		{ID: "d1", Name: "Engineering", AllocatedBudget: dec("50000"), Status: core.DepartmentActive},
		{ID: "d2", Name: "Marketing", AllocatedBudget: dec("20000"), Status: core.DepartmentActive},
	} {
		require.NoError(t, store.CreateDepartment(ctx, d))
	}
	for _, p := range []core.Project{
		{ID: "p1", Name: "Platform", Code: "TECH-001", DepartmentID: "d1", Budget: dec("10000"), Status: core.ProjectActive},
		{ID: "p2", Name: "Launch", Code: "MKT-001", DepartmentID: "d2", Budget: dec("5000"), Status: core.ProjectActive},
	} {
		require.NoError(t, store.CreateProject(ctx, p))
	}
}

func noBackoff() ledger.Config {
	return ledger.Config{MaxAttempts: 3}
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewStore()
	seed(t, store)
	pub := &recordingPublisher{}
	return fixture{store: store, engine: ledger.NewEngine(store, pub, noBackoff(), nil), publisher: pub}
}

func expense(amount string, vat bool, dept, project string) core.Entry {
	return core.Entry{
		Kind:         core.KindExpense,
		Amount:       dec(amount),
		Date:         core.NewDate(2025, 2, 14),
		DepartmentID: dept,
		ProjectID:    project,
		Description:  "Cloud hosting",
		Expense:      &core.ExpenseDetails{Category: "Infrastructure", VATApplied: vat, VATRate: dec("15")},
	}
}

func income(amount, dept string) core.Entry {
	return core.Entry{
		Kind:         core.KindIncome,
		Amount:       dec(amount),
		Date:         core.NewDate(2025, 2, 20),
		DepartmentID: dept,
		Income:       &core.IncomeDetails{InvoiceNumber: "INV-1", ClientName: "Acme"},
	}
}

func (f fixture) spent(t *testing.T, deptID, projectID string) (decimal.Decimal, decimal.Decimal) {
	t.Helper()
	ctx := context.Background()
	d, err := f.store.GetDepartment(ctx, deptID)
	require.NoError(t, err)
	if projectID == "" {
		return d.Spent, decimal.Zero
	}
	p, err := f.store.GetProject(ctx, projectID)
	require.NoError(t, err)
	return d.Spent, p.Spent
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msg ...any) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, fmt.Sprint(msg...))
}

func TestExpenseLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.engine.CreateEntry(ctx, expense("1000", true, "", "p1"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "d1", created.DepartmentID, "department inferred from project")
	assert.Equal(t, core.StatusPending, created.Status)
	assertDec(t, "150", created.Expense.VATAmount)
	assertDec(t, "1150", created.Expense.TotalAmount)

	d, p := f.spent(t, "d1", "p1")
	assertDec(t, "1150", d, "department")
	assertDec(t, "1150", p, "project")

	updated, err := f.engine.UpdateEntry(ctx, created.ID, ledger.EntryPatch{Amount: ptr(dec("2000"))})
	require.NoError(t, err)
	assertDec(t, "2300", updated.Expense.TotalAmount)
	d, p = f.spent(t, "d1", "p1")
	assertDec(t, "2300", d)
	assertDec(t, "2300", p)

	require.NoError(t, f.engine.DeleteEntry(ctx, created.ID))
	d, p = f.spent(t, "d1", "p1")
	assertDec(t, "0", d)
	assertDec(t, "0", p)

	_, err = f.engine.GetEntry(ctx, created.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.Len(t, f.publisher.events, 3)
	assert.Equal(t, ledger.EventCreated, f.publisher.events[0].Type)
	assert.Equal(t, ledger.EventUpdated, f.publisher.events[1].Type)
	assert.Equal(t, ledger.EventDeleted, f.publisher.events[2].Type)
	assert.Equal(t, []string{"d1"}, f.publisher.events[2].DepartmentIDs())
}

func TestCallerSuppliedVATIsRecomputed(t *testing.T) {
	f := newFixture(t)
	e := expense("100", false, "d1", "")
	e.Expense.VATAmount = dec("99")
	e.Expense.TotalAmount = dec("999")

	created, err := f.engine.CreateEntry(context.Background(), e)
	require.NoError(t, err)
	assertDec(t, "0", created.Expense.VATAmount)
	assertDec(t, "100", created.Expense.TotalAmount)
	d, _ := f.spent(t, "d1", "")
	assertDec(t, "100", d)
}

func TestIncomeDoesNotTouchSpent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in, err := f.engine.CreateEntry(ctx, income("5000", "d1"))
	require.NoError(t, err)
	d, _ := f.spent(t, "d1", "")
	assertDec(t, "0", d)

	_, err = f.engine.UpdateEntry(ctx, in.ID, ledger.EntryPatch{Amount: ptr(dec("7000")), ClientName: ptr("Globex")})
	require.NoError(t, err)
	require.NoError(t, f.engine.DeleteEntry(ctx, in.ID))
	d, _ = f.spent(t, "d1", "")
	assertDec(t, "0", d)
}

func TestUpdateMovesContribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.engine.CreateEntry(ctx, expense("200", true, "d1", "p1"))
	require.NoError(t, err)

	_, err = f.engine.UpdateEntry(ctx, created.ID, ledger.EntryPatch{ProjectID: ptr("p2")})
	require.NoError(t, err)

	d1, p1 := f.spent(t, "d1", "p1")
	d2, p2 := f.spent(t, "d2", "p2")
	assertDec(t, "0", d1)
	assertDec(t, "0", p1)
	assertDec(t, "230", d2)
	assertDec(t, "230", p2)

	moved, err := f.engine.GetEntry(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "d2", moved.DepartmentID)
}

func TestUpdateClearsAttribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.engine.CreateEntry(ctx, expense("100", false, "d1", "p1"))
	require.NoError(t, err)

	_, err = f.engine.UpdateEntry(ctx, created.ID, ledger.EntryPatch{DepartmentID: ptr(""), ProjectID: ptr("")})
	require.NoError(t, err)
	d, p := f.spent(t, "d1", "p1")
	assertDec(t, "0", d)
	assertDec(t, "0", p)

	_, err = f.engine.UpdateEntry(ctx, created.ID, ledger.EntryPatch{DepartmentID: ptr("d2")})
	require.NoError(t, err)
	d2, _ := f.spent(t, "d2", "")
	assertDec(t, "100", d2)
}

func TestDepartmentCannotBeClearedWhileProjectSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.engine.CreateEntry(ctx, expense("100", false, "d1", "p1"))
	require.NoError(t, err)
	_, err = f.engine.UpdateEntry(ctx, created.ID, ledger.EntryPatch{DepartmentID: ptr("")})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestAttributionErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateEntry(ctx, expense("100", true, "d2", "p1"))
	assert.ErrorIs(t, err, core.ErrValidation, "project of another department")

	_, err = f.engine.CreateEntry(ctx, expense("100", true, "nope", ""))
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.engine.CreateEntry(ctx, expense("100", true, "", "nope"))
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.engine.CreateEntry(ctx, expense("-5", true, "d1", ""))
	assert.ErrorIs(t, err, core.ErrValidation)

	entries, err := f.engine.ListEntries(ctx, core.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	d1, p1 := f.spent(t, "d1", "p1")
	assertDec(t, "0", d1)
	assertDec(t, "0", p1)
}

func TestPatchRejectsFieldsOfOtherKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ex, err := f.engine.CreateEntry(ctx, expense("10", false, "d1", ""))
	require.NoError(t, err)
	_, err = f.engine.UpdateEntry(ctx, ex.ID, ledger.EntryPatch{ClientName: ptr("Acme")})
	assert.ErrorIs(t, err, core.ErrValidation)

	in, err := f.engine.CreateEntry(ctx, income("10", "d1"))
	require.NoError(t, err)
	_, err = f.engine.UpdateEntry(ctx, in.ID, ledger.EntryPatch{VATApplied: ptr(true)})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.engine.CreateEntry(ctx, expense("100", true, "d1", ""))
	require.NoError(t, err)

	updated, err := f.engine.UpdateStatus(ctx, created.ID, core.StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPaid, updated.Status)
	d, _ := f.spent(t, "d1", "")
	assertDec(t, "115", d)

	_, err = f.engine.UpdateStatus(ctx, created.ID, core.StatusReceived)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.engine.UpdateStatus(ctx, "missing", core.StatusPaid)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMissingEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.UpdateEntry(ctx, "missing", ledger.EntryPatch{Amount: ptr(dec("1"))})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, f.engine.DeleteEntry(ctx, "missing"), core.ErrNotFound)
}

func TestAccumulatorFailureRollsBack(t *testing.T) {
	store := memory.NewStore()
	seed(t, store)
	faulty := &faultyStore{Store: store, projectErr: errors.New("disk full")}
	engine := ledger.NewEngine(faulty, nil, noBackoff(), nil)
	ctx := context.Background()

	_, err := engine.CreateEntry(ctx, expense("100", true, "d1", "p1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConsistency)

	var ce *core.ConsistencyError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "d1", ce.DepartmentID)
	assert.Equal(t, "p1", ce.ProjectID)
	assertDec(t, "115", ce.Delta)
	assert.Equal(t, 1, ce.Attempts, "non-transient failures are not retried")

	entries, err := store.ListEntries(ctx, core.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries, "entry write rolled back")
	d, err := store.GetDepartment(ctx, "d1")
	require.NoError(t, err)
	assertDec(t, "0", d.Spent, "department increment rolled back")
}

func TestTransientFailuresAreRetried(t *testing.T) {
	store := memory.NewStore()
	seed(t, store)
	faulty := &faultyStore{Store: store, failTx: 2}
	engine := ledger.NewEngine(faulty, nil, noBackoff(), nil)
	ctx := context.Background()

	created, err := engine.CreateEntry(ctx, expense("100", true, "d1", "p1"))
	require.NoError(t, err)
	assert.Equal(t, 3, faulty.calls)

	d, err := store.GetDepartment(ctx, "d1")
	require.NoError(t, err)
	assertDec(t, "115", d.Spent, "only the committed attempt counts")

	got, err := store.GetEntry(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestRetryExhaustionSurfacesConsistencyError(t *testing.T) {
	store := memory.NewStore()
	seed(t, store)
	faulty := &faultyStore{Store: store, failTx: 10}
	engine := ledger.NewEngine(faulty, nil, noBackoff(), nil)
	ctx := context.Background()

	_, err := engine.CreateEntry(ctx, expense("100", true, "d1", "p1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConsistency)
	assert.ErrorIs(t, err, core.ErrTransient)

	var ce *core.ConsistencyError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 3, ce.Attempts)
	assert.Equal(t, "d1", ce.DepartmentID)
	assert.Equal(t, 3, faulty.calls)

	d, err := store.GetDepartment(ctx, "d1")
	require.NoError(t, err)
	assertDec(t, "0", d.Spent)
}

// lockedStore never gets a transaction started, like SQLite answering
// BEGIN IMMEDIATE with SQLITE_BUSY.
type lockedStore struct {
	*memory.Store
}

func (lockedStore) InTx(context.Context, func(tx ledger.Tx) error) error {
	return core.Transient(errors.New("begin transaction: database is locked"))
}

func TestLockedStoreErrorsCarryReconciliationContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.engine.CreateEntry(ctx, expense("100", true, "d1", "p1"))
	require.NoError(t, err)

	locked := ledger.NewEngine(lockedStore{Store: f.store}, nil, ledger.Config{MaxAttempts: 2}, nil)

	_, err = locked.UpdateEntry(ctx, created.ID, ledger.EntryPatch{Amount: ptr(dec("200"))})
	var ce *core.ConsistencyError
	require.True(t, errors.As(err, &ce), "update: %v", err)
	assert.Equal(t, created.ID, ce.EntryID)
	assert.Equal(t, "d1", ce.DepartmentID)
	assert.Equal(t, "p1", ce.ProjectID)
	assertDec(t, "115", ce.Delta, "230 - 115")
	assert.Equal(t, 2, ce.Attempts)

	err = locked.DeleteEntry(ctx, created.ID)
	ce = nil
	require.True(t, errors.As(err, &ce), "delete: %v", err)
	assert.Equal(t, "d1", ce.DepartmentID)
	assert.Equal(t, "p1", ce.ProjectID)
	assertDec(t, "-115", ce.Delta)

	_, err = locked.UpdateStatus(ctx, created.ID, core.StatusPaid)
	ce = nil
	require.True(t, errors.As(err, &ce), "status: %v", err)
	assert.Equal(t, "d1", ce.DepartmentID)
	assertDec(t, "0", ce.Delta)

	dept, proj := f.spent(t, "d1", "p1")
	assertDec(t, "115", dept)
	assertDec(t, "115", proj)
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	store := memory.NewStore()
	seed(t, store)
	pub := &recordingPublisher{err: errors.New("broker down")}
	engine := ledger.NewEngine(store, pub, noBackoff(), nil)

	_, err := engine.CreateEntry(context.Background(), expense("10", false, "d1", ""))
	require.NoError(t, err)
	assert.Len(t, pub.events, 1)
}

// Any sequence of mutations leaves every accumulator equal to the sum of
// its surviving entries.
func TestRandomMutationsConserveSpent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	attributions := [][2]string{{"d1", ""}, {"d1", "p1"}, {"d2", ""}, {"", "p2"}, {"", ""}}
	var ids []string
	for i := 0; i < 300; i++ {
		switch op := rng.Intn(10); {
		case op < 5 || len(ids) == 0:
			a := attributions[rng.Intn(len(attributions))]
			var e core.Entry
			if rng.Intn(4) == 0 {
				e = income(fmt.Sprintf("%d.%02d", 1+rng.Intn(500), rng.Intn(100)), a[0])
			} else {
				e = expense(fmt.Sprintf("%d.%02d", rng.Intn(500), rng.Intn(100)), rng.Intn(2) == 0, a[0], a[1])
			}
			created, err := f.engine.CreateEntry(ctx, e)
			require.NoError(t, err)
			ids = append(ids, created.ID)
		case op < 8:
			id := ids[rng.Intn(len(ids))]
			a := attributions[rng.Intn(len(attributions))]
			patch := ledger.EntryPatch{
				Amount:    ptr(dec(fmt.Sprintf("%d.%02d", 1+rng.Intn(500), rng.Intn(100)))),
				ProjectID: ptr(a[1]),
			}
			if a[0] != "" || a[1] == "" {
				patch.DepartmentID = ptr(a[0])
			}
			cur, err := f.engine.GetEntry(ctx, id)
			require.NoError(t, err)
			if cur.Kind == core.KindExpense {
				patch.VATApplied = ptr(rng.Intn(2) == 0)
			}
			_, err = f.engine.UpdateEntry(ctx, id, patch)
			require.NoError(t, err)
		default:
			k := rng.Intn(len(ids))
			require.NoError(t, f.engine.DeleteEntry(ctx, ids[k]))
			ids = append(ids[:k], ids[k+1:]...)
		}
	}

	drift, err := f.engine.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestConcurrentCreatesDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.CreateEntry(ctx, expense("10", false, "d1", "p1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	d, p := f.spent(t, "d1", "p1")
	assertDec(t, "500", d)
	assertDec(t, "500", p)
}

func TestAuditReportsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateEntry(ctx, expense("100", false, "d1", "p1"))
	require.NoError(t, err)
	require.NoError(t, f.store.InTx(ctx, func(tx ledger.Tx) error {
		return tx.AdjustDepartmentSpent(ctx, "d1", dec("5"))
	}))

	drift, err := f.engine.Audit(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, "department", drift[0].Resource)
	assert.Equal(t, "d1", drift[0].ID)
	assertDec(t, "105", drift[0].Stored)
	assertDec(t, "100", drift[0].Expected)
}
