package postgres

import (
	"context"
	"os"
	"testing"

	"bizledger/internal/budget"
	"bizledger/internal/core"
	"bizledger/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newTestRepo connects to BIZLEDGER_TEST_POSTGRES_URL and empties every
// table. Tests are skipped when the variable is not set.
func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("BIZLEDGER_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("BIZLEDGER_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	repo, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	_, err = repo.pool.Exec(ctx, `TRUNCATE ledger_entries, budget_allocations, projects, departments`)
	require.NoError(t, err)

	require.NoError(t, repo.CreateDepartment(ctx, core.Department{
		ID: "d1", Name: "Engineering", AllocatedBudget: dec("50000"), Status: core.DepartmentActive,
	}))
	require.NoError(t, repo.CreateProject(ctx, core.Project{
		ID: "p1", Name: "Platform", Code: "TECH-001", DepartmentID: "d1", Budget: dec("10000"), Status: core.ProjectActive,
	}))
	return repo
}

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@localhost:5432/db?sslmode=disable", "pgx5://u:p@localhost:5432/db?sslmode=disable"},
		{"postgresql://localhost/db", "pgx5://localhost/db"},
		{"pgx5://localhost/db", "pgx5://localhost/db"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, migrateURL(tt.in))
	}
}

func TestEngineOverPostgres(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	engine := ledger.NewEngine(repo, nil, ledger.Config{MaxAttempts: 3}, nil)

	created, err := engine.CreateEntry(ctx, core.Entry{
		Kind:      core.KindExpense,
		Amount:    dec("1000"),
		Date:      core.NewDate(2025, 2, 14),
		ProjectID: "p1",
		Expense:   &core.ExpenseDetails{Category: "Infrastructure", VATApplied: true, VATRate: dec("15")},
	})
	require.NoError(t, err)

	got, err := repo.GetEntry(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.Expense.VATRate.Equal(dec("15")))
	assert.True(t, got.Expense.TotalAmount.Equal(dec("1150")))
	assert.Equal(t, "d1", got.DepartmentID)

	p, err := repo.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.Spent.Equal(dec("1150")), "project spent %s", p.Spent)

	require.NoError(t, engine.DeleteEntry(ctx, created.ID))
	drift, err := engine.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestAllocationUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	svc := budget.NewService(repo, nil)

	_, err := svc.CreateAllocation(ctx, core.Allocation{DepartmentID: "d1", FiscalYear: 2025, Quarter: 2, Allocated: dec("100")})
	require.NoError(t, err)
	_, err = svc.CreateAllocation(ctx, core.Allocation{DepartmentID: "d1", FiscalYear: 2025, Quarter: 2, Allocated: dec("200")})
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestDeleteDepartmentInUse(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	assert.ErrorIs(t, repo.DeleteDepartment(ctx, "d1"), core.ErrConflict)
	assert.ErrorIs(t, repo.DeleteProject(ctx, "missing"), core.ErrNotFound)
}
