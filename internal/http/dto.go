package http

import (
	"sort"
	"time"

	"bizledger/internal/core"

	"github.com/shopspring/decimal"
)

// Money is rendered as a fixed two-decimal string so clients never see
// binary floating point.
func money(d decimal.Decimal) string { return d.StringFixed(2) }

type departmentJSON struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	AllocatedBudget string    `json:"allocated_budget"`
	Spent           string    `json:"spent"`
	Remaining       string    `json:"remaining"`
	Manager         string    `json:"manager,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toDepartmentJSON(d core.Department) departmentJSON {
	return departmentJSON{
		ID:              d.ID,
		Name:            d.Name,
		AllocatedBudget: money(d.AllocatedBudget),
		Spent:           money(d.Spent),
		Remaining:       money(d.Remaining()),
		Manager:         d.Manager,
		Status:          string(d.Status),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

type projectJSON struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Code         string    `json:"code"`
	DepartmentID string    `json:"department_id"`
	Budget       string    `json:"budget"`
	Spent        string    `json:"spent"`
	Remaining    string    `json:"remaining"`
	StartDate    string    `json:"start_date,omitempty"`
	EndDate      string    `json:"end_date,omitempty"`
	Status       string    `json:"status"`
	TeamSize     int       `json:"team_size"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toProjectJSON(p core.Project) projectJSON {
	return projectJSON{
		ID:           p.ID,
		Name:         p.Name,
		Code:         p.Code,
		DepartmentID: p.DepartmentID,
		Budget:       money(p.Budget),
		Spent:        money(p.Spent),
		Remaining:    money(p.Remaining()),
		StartDate:    p.StartDate.String(),
		EndDate:      p.EndDate.String(),
		Status:       string(p.Status),
		TeamSize:     p.TeamSize,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// ExpenseFields and IncomeFields are embedded as pointers so only the
// fields of the entry's own kind are rendered.
type ExpenseFields struct {
	Category    string `json:"category,omitempty"`
	VATApplied  bool   `json:"vat_applied"`
	VATRate     string `json:"vat_rate"`
	VATAmount   string `json:"vat_amount"`
	TotalAmount string `json:"total_amount"`
}

type IncomeFields struct {
	InvoiceNumber string `json:"invoice_number,omitempty"`
	ClientName    string `json:"client_name"`
	ClientEmail   string `json:"client_email,omitempty"`
	ClientPhone   string `json:"client_phone,omitempty"`
	ClientAddress string `json:"client_address,omitempty"`
	DueDate       string `json:"due_date,omitempty"`
}

type entryJSON struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Amount       string    `json:"amount"`
	Date         string    `json:"date"`
	Status       string    `json:"status"`
	DepartmentID string    `json:"department_id,omitempty"`
	ProjectID    string    `json:"project_id,omitempty"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	*ExpenseFields
	*IncomeFields
}

func toEntryJSON(e core.Entry) entryJSON {
	out := entryJSON{
		ID:           e.ID,
		Kind:         string(e.Kind),
		Amount:       money(e.Amount),
		Date:         e.Date.String(),
		Status:       string(e.Status),
		DepartmentID: e.DepartmentID,
		ProjectID:    e.ProjectID,
		Description:  e.Description,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	if x := e.Expense; x != nil {
		out.ExpenseFields = &ExpenseFields{
			Category:    x.Category,
			VATApplied:  x.VATApplied,
			VATRate:     x.VATRate.String(),
			VATAmount:   money(x.VATAmount),
			TotalAmount: money(x.TotalAmount),
		}
	}
	if in := e.Income; in != nil {
		out.IncomeFields = &IncomeFields{
			InvoiceNumber: in.InvoiceNumber,
			ClientName:    in.ClientName,
			ClientEmail:   in.ClientEmail,
			ClientPhone:   in.ClientPhone,
			ClientAddress: in.ClientAddress,
			DueDate:       in.DueDate.String(),
		}
	}
	return out
}

type allocationJSON struct {
	ID           string    `json:"id"`
	DepartmentID string    `json:"department_id"`
	FiscalYear   int       `json:"fiscal_year"`
	Quarter      int       `json:"quarter"`
	Allocated    string    `json:"allocated"`
	Spent        string    `json:"spent"`
	Remaining    string    `json:"remaining"`
	OverBudget   bool      `json:"over_budget"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toAllocationJSON(a core.Allocation) allocationJSON {
	return allocationJSON{
		ID:           a.ID,
		DepartmentID: a.DepartmentID,
		FiscalYear:   a.FiscalYear,
		Quarter:      a.Quarter,
		Allocated:    money(a.Allocated),
		Spent:        money(a.Spent),
		Remaining:    money(a.Remaining()),
		OverBudget:   a.OverBudget(),
		Notes:        a.Notes,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type budgetSummaryJSON struct {
	FiscalYear      int    `json:"fiscal_year"`
	TotalAllocated  string `json:"total_allocated"`
	TotalSpent      string `json:"total_spent"`
	TotalRemaining  string `json:"total_remaining"`
	OverBudgetCount int    `json:"over_budget_count"`
	UtilizationRate string `json:"utilization_rate"`
}

func toBudgetSummaryJSON(s core.BudgetSummary) budgetSummaryJSON {
	return budgetSummaryJSON{
		FiscalYear:      s.FiscalYear,
		TotalAllocated:  money(s.TotalAllocated),
		TotalSpent:      money(s.TotalSpent),
		TotalRemaining:  money(s.TotalRemaining),
		OverBudgetCount: s.OverBudgetCount,
		UtilizationRate: money(s.UtilizationRate),
	}
}

type departmentSummaryJSON struct {
	Department   departmentJSON `json:"department"`
	Remaining    string         `json:"remaining"`
	Utilization  string         `json:"utilization"`
	OverBudget   bool           `json:"over_budget"`
	ProjectCount int            `json:"project_count"`
}

type projectSummaryJSON struct {
	Project       projectJSON `json:"project"`
	Remaining     string      `json:"remaining"`
	Utilization   string      `json:"utilization"`
	OverBudget    bool        `json:"over_budget"`
	DaysRemaining *int        `json:"days_remaining"`
}

type quarterSummaryJSON struct {
	Quarter   int    `json:"quarter"`
	Allocated string `json:"allocated"`
	Spent     string `json:"spent"`
	Remaining string `json:"remaining"`
}

type vatSummaryJSON struct {
	From         string `json:"from"`
	To           string `json:"to"`
	Net          string `json:"net"`
	VAT          string `json:"vat"`
	Gross        string `json:"gross"`
	EntriesCount int    `json:"entries_count"`
}

type departmentAmountJSON struct {
	DepartmentID string `json:"department_id"`
	Amount       string `json:"amount"`
}

type incomeSummaryJSON struct {
	FiscalYear    int                    `json:"fiscal_year"`
	Received      string                 `json:"received"`
	Pending       string                 `json:"pending"`
	Overdue       string                 `json:"overdue"`
	ByDepartment  []departmentAmountJSON `json:"by_department"`
	InvoicesCount int                    `json:"invoices_count"`
}

func toIncomeSummaryJSON(s core.IncomeSummary) incomeSummaryJSON {
	out := incomeSummaryJSON{
		FiscalYear:    s.FiscalYear,
		Received:      money(s.Received),
		Pending:       money(s.Pending),
		Overdue:       money(s.Overdue),
		ByDepartment:  make([]departmentAmountJSON, 0, len(s.ByDepartment)),
		InvoicesCount: s.InvoicesCount,
	}
	for id, amount := range s.ByDepartment {
		out.ByDepartment = append(out.ByDepartment, departmentAmountJSON{DepartmentID: id, Amount: money(amount)})
	}
	sort.Slice(out.ByDepartment, func(i, j int) bool {
		return out.ByDepartment[i].DepartmentID < out.ByDepartment[j].DepartmentID
	})
	return out
}

type driftJSON struct {
	Resource string `json:"resource"`
	ID       string `json:"id"`
	Stored   string `json:"stored"`
	Expected string `json:"expected"`
}

type vatCalculationJSON struct {
	Net   string `json:"net"`
	Rate  string `json:"rate"`
	VAT   string `json:"vat"`
	Total string `json:"total"`
}

type listJSON[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func listOf[S any, T any](items []S, convert func(S) T) listJSON[T] {
	out := make([]T, 0, len(items))
	for _, it := range items {
		out = append(out, convert(it))
	}
	return listJSON[T]{Items: out, Count: len(out)}
}
