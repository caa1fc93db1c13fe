package budget

import (
	"context"
	"fmt"

	"bizledger/internal/core"

	"github.com/shopspring/decimal"
)

// DepartmentSummaries reports budget position per department.
func (s *Service) DepartmentSummaries(ctx context.Context) ([]core.DepartmentSummary, error) {
	depts, err := s.store.ListDepartments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	projects, err := s.store.ListProjects(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	count := map[string]int{}
	for _, p := range projects {
		count[p.DepartmentID]++
	}
	out := make([]core.DepartmentSummary, 0, len(depts))
	for _, d := range depts {
		out = append(out, core.DepartmentSummary{
			Department:   d,
			Remaining:    d.Remaining(),
			Utilization:  DepartmentUtilization(d),
			OverBudget:   d.Spent.GreaterThan(d.AllocatedBudget),
			ProjectCount: count[d.ID],
		})
	}
	return out, nil
}

// ProjectSummaries reports budget position and schedule per project.
func (s *Service) ProjectSummaries(ctx context.Context, departmentID string) ([]core.ProjectSummary, error) {
	projects, err := s.store.ListProjects(ctx, departmentID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	today := s.now().UTC()
	out := make([]core.ProjectSummary, 0, len(projects))
	for _, p := range projects {
		ps := core.ProjectSummary{
			Project:     p,
			Remaining:   p.Remaining(),
			Utilization: ProjectUtilization(p),
			OverBudget:  p.Spent.GreaterThan(p.Budget),
		}
		if days, ok := ProjectDaysRemaining(p, today); ok {
			ps.DaysRemaining = &days
		}
		out = append(out, ps)
	}
	return out, nil
}

// QuarterSummaries totals the allocations of a fiscal year per quarter.
func (s *Service) QuarterSummaries(ctx context.Context, fiscalYear int) ([]core.QuarterSummary, error) {
	allocs, err := s.store.ListAllocations(ctx, fiscalYear)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	out := make([]core.QuarterSummary, 4)
	for i := range out {
		out[i].Quarter = i + 1
	}
	for _, a := range allocs {
		q := &out[a.Quarter-1]
		q.Allocated = q.Allocated.Add(a.Allocated)
		q.Spent = q.Spent.Add(a.Spent)
	}
	for i := range out {
		out[i].Remaining = out[i].Allocated.Sub(out[i].Spent)
	}
	return out, nil
}

// VATSummary totals expense net, VAT and gross amounts for a fiscal
// quarter, or the whole year when quarter is zero.
func (s *Service) VATSummary(ctx context.Context, fiscalYear, quarter int) (core.VATSummary, error) {
	var from, to core.Date
	switch {
	case quarter == 0:
		from, to = core.NewDate(fiscalYear, 1, 1), core.NewDate(fiscalYear, 12, 31)
	case quarter >= 1 && quarter <= 4:
		from, to = core.QuarterWindow(fiscalYear, quarter)
	default:
		return core.VATSummary{}, &core.ValidationError{Field: "quarter", Reason: "must be between 1 and 4"}
	}
	entries, err := s.store.ListEntries(ctx, core.EntryFilter{Kind: core.KindExpense, From: from, To: to})
	if err != nil {
		return core.VATSummary{}, fmt.Errorf("list entries: %w", err)
	}
	sum := core.VATSummary{From: from, To: to}
	for _, e := range entries {
		sum.Net = sum.Net.Add(e.Amount)
		sum.VAT = sum.VAT.Add(e.Expense.VATAmount)
		sum.Gross = sum.Gross.Add(e.Expense.TotalAmount)
		sum.EntriesCount++
	}
	return sum, nil
}

// IncomeSummary totals invoices of a fiscal year by status and department.
func (s *Service) IncomeSummary(ctx context.Context, fiscalYear int) (core.IncomeSummary, error) {
	entries, err := s.store.ListEntries(ctx, core.EntryFilter{
		Kind: core.KindIncome, From: core.NewDate(fiscalYear, 1, 1), To: core.NewDate(fiscalYear, 12, 31),
	})
	if err != nil {
		return core.IncomeSummary{}, fmt.Errorf("list entries: %w", err)
	}
	sum := core.IncomeSummary{FiscalYear: fiscalYear, ByDepartment: map[string]decimal.Decimal{}}
	for _, e := range entries {
		switch e.Status {
		case core.StatusReceived:
			sum.Received = sum.Received.Add(e.Amount)
		case core.StatusOverdue:
			sum.Overdue = sum.Overdue.Add(e.Amount)
		default:
			sum.Pending = sum.Pending.Add(e.Amount)
		}
		if e.DepartmentID != "" {
			sum.ByDepartment[e.DepartmentID] = sum.ByDepartment[e.DepartmentID].Add(e.Amount)
		}
		sum.InvoicesCount++
	}
	return sum, nil
}
