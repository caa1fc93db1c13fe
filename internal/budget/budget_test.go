package budget_test

import (
	"context"
	"testing"
	"time"

	"bizledger/internal/budget"
	"bizledger/internal/core"
	"bizledger/internal/ledger"
	"bizledger/internal/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

type fixture struct {
	store  *memory.Store
	engine *ledger.Engine
	svc    *budget.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.CreateDepartment(ctx, core.Department{ID: "d1", Name: "Engineering", AllocatedBudget: dec("50000"), Status: core.DepartmentActive}))
	require.NoError(t, store.CreateDepartment(ctx, core.Department{ID: "d2", Name: "Sales", Status: core.DepartmentActive}))
	require.NoError(t, store.CreateProject(ctx, core.Project{
		ID: "p1", Name: "Platform", Code: "TECH-001", DepartmentID: "d1", Budget: dec("1000"),
		EndDate: core.NewDate(2025, 3, 31), Status: core.ProjectActive,
	}))
	return fixture{
		store:  store,
		engine: ledger.NewEngine(store, nil, ledger.Config{MaxAttempts: 1}, nil),
		svc:    budget.NewService(store, nil),
	}
}

func (f fixture) book(t *testing.T, amount string, vat bool, dept string, date core.Date) core.Entry {
	t.Helper()
	e, err := f.engine.CreateEntry(context.Background(), core.Entry{
		Kind: core.KindExpense, Amount: dec(amount), Date: date, DepartmentID: dept,
		Expense: &core.ExpenseDetails{VATApplied: vat, VATRate: dec("15")},
	})
	require.NoError(t, err)
	return e
}

func TestDepartmentUtilization(t *testing.T) {
	cases := []struct {
		spent, allocated, want string
	}{
		{"1150", "50000", "2.3"},
		{"0", "0", "0"},
		{"10", "0", "0"},
		{"600", "500", "120"},
	}
	for _, tc := range cases {
		d := core.Department{Spent: dec(tc.spent), AllocatedBudget: dec(tc.allocated)}
		assertDec(t, tc.want, budget.DepartmentUtilization(d))
	}
}

func TestProjectDaysRemaining(t *testing.T) {
	p := core.Project{EndDate: core.NewDate(2025, 3, 31)}

	days, ok := budget.ProjectDaysRemaining(p, time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, 10, days)

	days, _ = budget.ProjectDaysRemaining(p, time.Date(2025, 3, 30, 15, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, days, "partial days round up")

	days, _ = budget.ProjectDaysRemaining(p, time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, -3, days, "overdue")

	_, ok = budget.ProjectDaysRemaining(core.Project{}, time.Now())
	assert.False(t, ok)
}

func TestExampleScenarioUtilization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateEntry(ctx, core.Entry{
		Kind: core.KindExpense, Amount: dec("1000"), Date: core.NewDate(2025, 2, 1), ProjectID: "p1",
		Expense: &core.ExpenseDetails{VATApplied: true, VATRate: dec("15")},
	})
	require.NoError(t, err)

	d, err := f.store.GetDepartment(ctx, "d1")
	require.NoError(t, err)
	assertDec(t, "1150", d.Spent)
	assertDec(t, "2.3", budget.DepartmentUtilization(d))
}

func TestAllocationUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAllocation(ctx, core.Allocation{DepartmentID: "d1", FiscalYear: 2025, Quarter: 1, Allocated: dec("10000")})
	require.NoError(t, err)

	_, err = f.svc.CreateAllocation(ctx, core.Allocation{DepartmentID: "d1", FiscalYear: 2025, Quarter: 1, Allocated: dec("5")})
	assert.ErrorIs(t, err, core.ErrConflict)

	_, err = f.svc.CreateAllocation(ctx, core.Allocation{DepartmentID: "missing", FiscalYear: 2025, Quarter: 1})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.svc.CreateAllocation(ctx, core.Allocation{DepartmentID: "d1", FiscalYear: 2025, Quarter: 5})
	assert.ErrorIs(t, err, core.ErrValidation)

	allocs, err := f.svc.ListAllocations(ctx, 2025)
	require.NoError(t, err)
	assert.Len(t, allocs, 1)
}

func TestRecalculateBudgetSpentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, "100", true, "d1", core.NewDate(2025, 1, 15))  // 115 in Q1
	f.book(t, "200", false, "d1", core.NewDate(2025, 3, 31)) // last day of Q1
	f.book(t, "50", false, "d1", core.NewDate(2025, 4, 1))   // Q2
	f.book(t, "70", false, "d2", core.NewDate(2025, 2, 1))   // other department
	_, err := f.engine.CreateEntry(ctx, core.Entry{
		Kind: core.KindIncome, Amount: dec("999"), Date: core.NewDate(2025, 2, 2), DepartmentID: "d1",
		Income: &core.IncomeDetails{ClientName: "Acme"},
	})
	require.NoError(t, err)

	a, err := f.svc.CreateAllocation(ctx, core.Allocation{DepartmentID: "d1", FiscalYear: 2025, Quarter: 1, Allocated: dec("300")})
	require.NoError(t, err)
	assertDec(t, "315", a.Spent)

	first, err := f.svc.RecalculateBudgetSpent(ctx, a.ID)
	require.NoError(t, err)
	second, err := f.svc.RecalculateBudgetSpent(ctx, a.ID)
	require.NoError(t, err)
	assertDec(t, "315", first.Spent)
	assert.True(t, first.Spent.Equal(second.Spent))

	stored, err := f.svc.GetAllocation(ctx, a.ID)
	require.NoError(t, err)
	assertDec(t, "315", stored.Spent)
	assert.True(t, stored.OverBudget())

	_, err = f.svc.RecalculateBudgetSpent(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRecalculateFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateAllocation(ctx, core.Allocation{DepartmentID: "d1", FiscalYear: 2025, Quarter: 2, Allocated: dec("1000")})
	require.NoError(t, err)
	f.book(t, "40", false, "d1", core.NewDate(2025, 5, 5))

	require.NoError(t, f.svc.RecalculateFor(ctx, "d1", core.NewDate(2025, 5, 5)))
	got, err := f.svc.GetAllocation(ctx, a.ID)
	require.NoError(t, err)
	assertDec(t, "40", got.Spent)

	require.NoError(t, f.svc.RecalculateFor(ctx, "d1", core.NewDate(2024, 5, 5)), "no allocation is not an error")
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, "600", false, "d1", core.NewDate(2025, 1, 10))
	f.book(t, "100", false, "d2", core.NewDate(2025, 1, 10))
	f.book(t, "50", false, "d2", core.NewDate(2025, 4, 10))
	_, err := f.svc.CreateAllocation(ctx, core.Allocation{DepartmentID: "d1", FiscalYear: 2025, Quarter: 1, Allocated: dec("500")})
	require.NoError(t, err)
	_, err = f.svc.CreateAllocation(ctx, core.Allocation{DepartmentID: "d2", FiscalYear: 2025, Quarter: 1, Allocated: dec("1500")})
	require.NoError(t, err)
	_, err = f.svc.CreateAllocation(ctx, core.Allocation{DepartmentID: "d1", FiscalYear: 2024, Quarter: 4, Allocated: dec("9999")})
	require.NoError(t, err)
	// spend against a zero allocation is not counted as over budget
	unfunded, err := f.svc.CreateAllocation(ctx, core.Allocation{DepartmentID: "d2", FiscalYear: 2025, Quarter: 2, Allocated: decimal.Zero})
	require.NoError(t, err)
	assertDec(t, "50", unfunded.Spent)
	assert.False(t, unfunded.OverBudget())

	sum, err := f.svc.Summary(ctx, 2025)
	require.NoError(t, err)
	assertDec(t, "2000", sum.TotalAllocated)
	assertDec(t, "750", sum.TotalSpent)
	assertDec(t, "1250", sum.TotalRemaining)
	assert.Equal(t, 1, sum.OverBudgetCount)
	assertDec(t, "37.5", sum.UtilizationRate)

	empty, err := f.svc.Summary(ctx, 2030)
	require.NoError(t, err)
	assert.True(t, empty.UtilizationRate.IsZero())

	quarters, err := f.svc.QuarterSummaries(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, quarters, 4)
	assertDec(t, "2000", quarters[0].Allocated)
	assertDec(t, "0", quarters[1].Allocated)
}

func TestUpdateAndDeleteAllocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateAllocation(ctx, core.Allocation{DepartmentID: "d1", FiscalYear: 2025, Quarter: 3, Allocated: dec("100")})
	require.NoError(t, err)

	amount, notes := dec("250"), "raised after review"
	updated, err := f.svc.UpdateAllocation(ctx, a.ID, &amount, &notes)
	require.NoError(t, err)
	assertDec(t, "250", updated.Allocated)
	assert.Equal(t, notes, updated.Notes)

	negative := dec("-1")
	_, err = f.svc.UpdateAllocation(ctx, a.ID, &negative, nil)
	assert.ErrorIs(t, err, core.ErrValidation)

	require.NoError(t, f.svc.DeleteAllocation(ctx, a.ID))
	_, err = f.svc.GetAllocation(ctx, a.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, "100", true, "d1", core.NewDate(2025, 2, 1))
	f.book(t, "200", false, "d1", core.NewDate(2025, 5, 1))
	for _, in := range []struct {
		amount string
		status core.Status
	}{{"1000", core.StatusReceived}, {"300", core.StatusPending}, {"50", core.StatusOverdue}} {
		_, err := f.engine.CreateEntry(ctx, core.Entry{
			Kind: core.KindIncome, Amount: dec(in.amount), Date: core.NewDate(2025, 3, 1), Status: in.status,
			DepartmentID: "d2", Income: &core.IncomeDetails{ClientName: "Acme"},
		})
		require.NoError(t, err)
	}

	vat, err := f.svc.VATSummary(ctx, 2025, 1)
	require.NoError(t, err)
	assertDec(t, "100", vat.Net)
	assertDec(t, "15", vat.VAT)
	assertDec(t, "115", vat.Gross)
	assert.Equal(t, 1, vat.EntriesCount)

	year, err := f.svc.VATSummary(ctx, 2025, 0)
	require.NoError(t, err)
	assertDec(t, "315", year.Gross)

	_, err = f.svc.VATSummary(ctx, 2025, 7)
	assert.ErrorIs(t, err, core.ErrValidation)

	income, err := f.svc.IncomeSummary(ctx, 2025)
	require.NoError(t, err)
	assertDec(t, "1000", income.Received)
	assertDec(t, "300", income.Pending)
	assertDec(t, "50", income.Overdue)
	assertDec(t, "1350", income.ByDepartment["d2"])
	assert.Equal(t, 3, income.InvoicesCount)

	depts, err := f.svc.DepartmentSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, depts, 2)
	for _, d := range depts {
		if d.Department.ID == "d1" {
			assertDec(t, "315", d.Department.Spent)
			assert.Equal(t, 1, d.ProjectCount)
			assert.False(t, d.OverBudget)
		}
	}

	projects, err := f.svc.ProjectSummaries(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.NotNil(t, projects[0].DaysRemaining)
}
