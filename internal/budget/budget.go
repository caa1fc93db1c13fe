// Package budget derives utilization, summaries and quarterly allocation
// figures from the directory and the ledger.
package budget

import (
	"context"
	"fmt"
	"math"
	"time"

	"bizledger/internal/core"
	applog "bizledger/internal/log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the persistence the budget service reads and writes.
type Store interface {
	GetDepartment(ctx context.Context, id string) (core.Department, error)
	ListDepartments(ctx context.Context) ([]core.Department, error)
	ListProjects(ctx context.Context, departmentID string) ([]core.Project, error)
	ListEntries(ctx context.Context, f core.EntryFilter) ([]core.Entry, error)

	// CreateAllocation returns a ConflictError when the department already
	// has an allocation for the same fiscal year and quarter.
	CreateAllocation(ctx context.Context, a core.Allocation) error
	GetAllocation(ctx context.Context, id string) (core.Allocation, error)
	ListAllocations(ctx context.Context, fiscalYear int) ([]core.Allocation, error)
	UpdateAllocation(ctx context.Context, a core.Allocation) error
	DeleteAllocation(ctx context.Context, id string) error
	SetAllocationSpent(ctx context.Context, id string, spent decimal.Decimal) error
}

type Service struct {
	store  Store
	logger *applog.Logger
	newID  func() string
	now    func() time.Time
}

func NewService(store Store, logger *applog.Logger) *Service {
	if logger == nil {
		logger = applog.Discard()
	}
	return &Service{
		store:  store,
		logger: logger.WithComponent(applog.ComponentBudget),
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// DepartmentUtilization is spent as a percentage of the allocated budget,
// zero when nothing is allocated.
func DepartmentUtilization(d core.Department) decimal.Decimal {
	return core.Percent(d.Spent, d.AllocatedBudget)
}

// ProjectUtilization is spent as a percentage of the project budget.
func ProjectUtilization(p core.Project) decimal.Decimal {
	return core.Percent(p.Spent, p.Budget)
}

// ProjectDaysRemaining is the number of days until the project end date,
// rounded up. Negative values mean the project is overdue. ok is false when
// the project has no end date.
func ProjectDaysRemaining(p core.Project, today time.Time) (days int, ok bool) {
	if p.EndDate.IsZero() {
		return 0, false
	}
	hours := p.EndDate.Sub(today).Hours()
	return int(math.Ceil(hours / 24)), true
}

// Summary aggregates every allocation of a fiscal year.
func (s *Service) Summary(ctx context.Context, fiscalYear int) (core.BudgetSummary, error) {
	allocs, err := s.store.ListAllocations(ctx, fiscalYear)
	if err != nil {
		return core.BudgetSummary{}, fmt.Errorf("list allocations: %w", err)
	}
	sum := core.BudgetSummary{FiscalYear: fiscalYear}
	for _, a := range allocs {
		sum.TotalAllocated = sum.TotalAllocated.Add(a.Allocated)
		sum.TotalSpent = sum.TotalSpent.Add(a.Spent)
		if a.OverBudget() {
			sum.OverBudgetCount++
		}
	}
	sum.TotalRemaining = sum.TotalAllocated.Sub(sum.TotalSpent)
	sum.UtilizationRate = core.Percent(sum.TotalSpent, sum.TotalAllocated)
	return sum, nil
}

// RecalculateBudgetSpent sets an allocation's spent to the sum of expense
// totals booked against its department inside its quarter. Running it twice
// gives the same result.
func (s *Service) RecalculateBudgetSpent(ctx context.Context, allocationID string) (core.Allocation, error) {
	a, err := s.store.GetAllocation(ctx, allocationID)
	if err != nil {
		return core.Allocation{}, err
	}
	from, to := core.QuarterWindow(a.FiscalYear, a.Quarter)
	entries, err := s.store.ListEntries(ctx, core.EntryFilter{
		Kind: core.KindExpense, DepartmentID: a.DepartmentID, From: from, To: to,
	})
	if err != nil {
		return core.Allocation{}, fmt.Errorf("list entries: %w", err)
	}
	spent := decimal.Zero
	for _, e := range entries {
		spent = spent.Add(e.Contribution())
	}
	if err := s.store.SetAllocationSpent(ctx, a.ID, spent); err != nil {
		return core.Allocation{}, fmt.Errorf("set allocation spent: %w", err)
	}
	a.Spent = spent
	s.logger.DebugContext(ctx, "Budget allocation recalculated",
		applog.FieldAllocationID, a.ID, applog.FieldDepartmentID, a.DepartmentID,
		applog.FieldFiscalYear, a.FiscalYear, applog.FieldQuarter, a.Quarter, applog.FieldAmount, spent.StringFixed(2))
	return a, nil
}

// RecalculateFor recalculates the allocation of a department for the
// quarter containing date, if one exists.
func (s *Service) RecalculateFor(ctx context.Context, departmentID string, date core.Date) error {
	if departmentID == "" || date.IsZero() {
		return nil
	}
	allocs, err := s.store.ListAllocations(ctx, date.Year())
	if err != nil {
		return fmt.Errorf("list allocations: %w", err)
	}
	for _, a := range allocs {
		if a.DepartmentID == departmentID && a.Quarter == date.Quarter() {
			_, err := s.RecalculateBudgetSpent(ctx, a.ID)
			return err
		}
	}
	return nil
}

// RecalculateYear recalculates every allocation of a fiscal year.
func (s *Service) RecalculateYear(ctx context.Context, fiscalYear int) (int, error) {
	allocs, err := s.store.ListAllocations(ctx, fiscalYear)
	if err != nil {
		return 0, fmt.Errorf("list allocations: %w", err)
	}
	for i, a := range allocs {
		if _, err := s.RecalculateBudgetSpent(ctx, a.ID); err != nil {
			return i, err
		}
	}
	return len(allocs), nil
}

// CreateAllocation stores a new quarterly budget and computes its spent
// from the entries already booked.
func (s *Service) CreateAllocation(ctx context.Context, a core.Allocation) (core.Allocation, error) {
	a.ID = s.newID()
	a.Spent = decimal.Zero
	now := s.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	if err := a.Validate(); err != nil {
		return core.Allocation{}, err
	}
	if err := s.store.CreateAllocation(ctx, a); err != nil {
		return core.Allocation{}, err
	}
	return s.RecalculateBudgetSpent(ctx, a.ID)
}

func (s *Service) GetAllocation(ctx context.Context, id string) (core.Allocation, error) {
	return s.store.GetAllocation(ctx, id)
}

func (s *Service) ListAllocations(ctx context.Context, fiscalYear int) ([]core.Allocation, error) {
	return s.store.ListAllocations(ctx, fiscalYear)
}

// UpdateAllocation changes the allocated amount and notes.
func (s *Service) UpdateAllocation(ctx context.Context, id string, allocated *decimal.Decimal, notes *string) (core.Allocation, error) {
	a, err := s.store.GetAllocation(ctx, id)
	if err != nil {
		return core.Allocation{}, err
	}
	if allocated != nil {
		a.Allocated = *allocated
	}
	if notes != nil {
		a.Notes = *notes
	}
	a.UpdatedAt = s.now().UTC()
	if err := a.Validate(); err != nil {
		return core.Allocation{}, err
	}
	if err := s.store.UpdateAllocation(ctx, a); err != nil {
		return core.Allocation{}, err
	}
	return a, nil
}

func (s *Service) DeleteAllocation(ctx context.Context, id string) error {
	return s.store.DeleteAllocation(ctx, id)
}
