package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Allocation is a department budget for one fiscal quarter. It is unique
// per (DepartmentID, FiscalYear, Quarter).
type Allocation struct {
	ID           string
	DepartmentID string
	FiscalYear   int
	Quarter      int
	Allocated    decimal.Decimal
	Spent        decimal.Decimal
	Notes        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (a Allocation) Validate() error {
	if a.DepartmentID == "" {
		return &ValidationError{Field: "department_id", Reason: "is required"}
	}
	if a.FiscalYear < 2000 || a.FiscalYear > 2100 {
		return &ValidationError{Field: "fiscal_year", Reason: "must be between 2000 and 2100"}
	}
	if a.Quarter < 1 || a.Quarter > 4 {
		return &ValidationError{Field: "quarter", Reason: "must be between 1 and 4"}
	}
	if a.Allocated.IsNegative() {
		return &ValidationError{Field: "allocated", Reason: "must not be negative"}
	}
	return nil
}

func (a Allocation) Remaining() decimal.Decimal {
	return a.Allocated.Sub(a.Spent)
}

// OverBudget reports spend beyond a positive allocation. A zero allocation
// is never over budget.
func (a Allocation) OverBudget() bool {
	return a.Allocated.IsPositive() && a.Spent.GreaterThan(a.Allocated)
}

// BudgetSummary aggregates the allocations of one fiscal year.
type BudgetSummary struct {
	FiscalYear      int
	TotalAllocated  decimal.Decimal
	TotalSpent      decimal.Decimal
	TotalRemaining  decimal.Decimal
	OverBudgetCount int
	UtilizationRate decimal.Decimal
}

type DepartmentSummary struct {
	Department   Department
	Remaining    decimal.Decimal
	Utilization  decimal.Decimal
	OverBudget   bool
	ProjectCount int
}

type ProjectSummary struct {
	Project       Project
	Remaining     decimal.Decimal
	Utilization   decimal.Decimal
	OverBudget    bool
	DaysRemaining *int
}

type QuarterSummary struct {
	Quarter   int
	Allocated decimal.Decimal
	Spent     decimal.Decimal
	Remaining decimal.Decimal
}

// VATSummary totals expense VAT over a period.
type VATSummary struct {
	From         Date
	To           Date
	Net          decimal.Decimal
	VAT          decimal.Decimal
	Gross        decimal.Decimal
	EntriesCount int
}

type IncomeSummary struct {
	FiscalYear    int
	Received      decimal.Decimal
	Pending       decimal.Decimal
	Overdue       decimal.Decimal
	ByDepartment  map[string]decimal.Decimal
	InvoicesCount int
}

// AccumulatorDrift reports a stored spent accumulator that disagrees with
// the sum of its entries.
type AccumulatorDrift struct {
	Resource string
	ID       string
	Stored   decimal.Decimal
	Expected decimal.Decimal
}
