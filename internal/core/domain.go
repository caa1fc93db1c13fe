package core

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	KindExpense EntryKind = "expense"
	KindIncome  EntryKind = "income"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusPaid     Status = "paid"
	StatusOverdue  Status = "overdue"
	StatusReceived Status = "received"
)

type DepartmentStatus string

const (
	DepartmentActive   DepartmentStatus = "active"
	DepartmentInactive DepartmentStatus = "inactive"
	DepartmentArchived DepartmentStatus = "archived"
)

type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectOnHold    ProjectStatus = "on-hold"
	ProjectCancelled ProjectStatus = "cancelled"
)

const maxDescriptionLen = 500

var projectCodePattern = regexp.MustCompile(`^[A-Z0-9]{2,10}-[0-9]{3,6}$`)

type (
	Date struct {
		time.Time
	}

	Department struct {
		ID              string
		Name            string
		AllocatedBudget decimal.Decimal
		// Spent is maintained by the ledger engine only.
		Spent     decimal.Decimal
		Manager   string
		Status    DepartmentStatus
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Project struct {
		ID           string
		Name         string
		Code         string
		DepartmentID string
		Budget       decimal.Decimal
		Spent        decimal.Decimal
		StartDate    Date
		EndDate      Date
		Status       ProjectStatus
		TeamSize     int
		CreatedAt    time.Time
		UpdatedAt    time.Time
	}

	// Entry is a ledger entry. Exactly one of Expense and Income is set and
	// it matches Kind.
	Entry struct {
		ID           string
		Kind         EntryKind
		Amount       decimal.Decimal
		Date         Date
		Status       Status
		DepartmentID string
		ProjectID    string
		Description  string
		CreatedAt    time.Time
		UpdatedAt    time.Time

		Expense *ExpenseDetails
		Income  *IncomeDetails
	}

	ExpenseDetails struct {
		Category   string
		VATApplied bool
		VATRate    decimal.Decimal
		// VATAmount and TotalAmount are derived by ApplyVAT.
		VATAmount   decimal.Decimal
		TotalAmount decimal.Decimal
	}

	IncomeDetails struct {
		InvoiceNumber string
		ClientName    string
		ClientEmail   string
		ClientPhone   string
		ClientAddress string
		DueDate       Date
	}

	// EntryFilter narrows ListEntries. Zero fields match everything.
	EntryFilter struct {
		Kind         EntryKind
		DepartmentID string
		ProjectID    string
		Status       Status
		From         Date
		To           Date
	}
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses an ISO yyyy-mm-dd date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Reason: "must be formatted as YYYY-MM-DD"}
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return &ValidationError{Field: "date", Reason: "is required"}
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(time.DateOnly)
}

// Quarter returns the calendar quarter (1-4) the date falls in.
func (d Date) Quarter() int {
	return (int(d.Month())-1)/3 + 1
}

// QuarterWindow returns the first and last day of a fiscal quarter.
// Fiscal years follow the calendar year.
func QuarterWindow(year, quarter int) (Date, Date) {
	first := NewDate(year, (quarter-1)*3+1, 1)
	last := Date{Time: first.AddDate(0, 3, -1)}
	return first, last
}

// ValidStatus reports whether s is a workflow status for the entry kind.
func ValidStatus(kind EntryKind, s Status) bool {
	switch kind {
	case KindExpense:
		switch s {
		case StatusPending, StatusApproved, StatusPaid, StatusOverdue:
			return true
		}
	case KindIncome:
		switch s {
		case StatusPending, StatusReceived, StatusOverdue:
			return true
		}
	}
	return false
}

// ApplyVAT recomputes the derived VAT fields of an expense from its amount,
// rate and applied flag. It is a no-op for income entries.
func (e *Entry) ApplyVAT() error {
	if e.Kind != KindExpense || e.Expense == nil {
		return nil
	}
	if !e.Expense.VATApplied {
		e.Expense.VATAmount = decimal.Zero
		e.Expense.TotalAmount = e.Amount
		return nil
	}
	vat, err := ComputeVAT(e.Amount, e.Expense.VATRate)
	if err != nil {
		return err
	}
	e.Expense.VATAmount = vat
	e.Expense.TotalAmount = e.Amount.Add(vat)
	return nil
}

// Contribution is the amount this entry adds to the spent accumulators of
// its department and project. Expenses contribute their VAT-inclusive total;
// income is tracked separately and contributes nothing.
func (e Entry) Contribution() decimal.Decimal {
	if e.Kind == KindExpense && e.Expense != nil {
		return e.Expense.TotalAmount
	}
	return decimal.Zero
}

func (e Entry) Validate() error {
	switch e.Kind {
	case KindExpense:
		if e.Expense == nil || e.Income != nil {
			return &ValidationError{Field: "kind", Reason: "expense entry must carry expense details only"}
		}
		if e.Amount.IsNegative() {
			return &ValidationError{Field: "amount", Reason: "must not be negative"}
		}
		if e.Expense.VATRate.IsNegative() {
			return &ValidationError{Field: "vat_rate", Reason: "must not be negative"}
		}
		if len(e.Expense.Category) > 100 {
			return &ValidationError{Field: "category", Reason: "too long (max 100 characters)"}
		}
	case KindIncome:
		if e.Income == nil || e.Expense != nil {
			return &ValidationError{Field: "kind", Reason: "income entry must carry income details only"}
		}
		if !e.Amount.IsPositive() {
			return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
		}
		if strings.TrimSpace(e.Income.ClientName) == "" {
			return &ValidationError{Field: "client_name", Reason: "is required"}
		}
		if e.Income.ClientEmail != "" && !strings.Contains(e.Income.ClientEmail, "@") {
			return &ValidationError{Field: "client_email", Reason: "is not an email address"}
		}
	default:
		return &ValidationError{Field: "kind", Reason: "must be expense or income"}
	}
	if !e.Amount.Equal(RoundMoney(e.Amount)) {
		return &ValidationError{Field: "amount", Reason: "must have at most two decimal places"}
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if !ValidStatus(e.Kind, e.Status) {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(e.Status) + " for " + string(e.Kind)}
	}
	if len(e.Description) > maxDescriptionLen {
		return &ValidationError{Field: "description", Reason: "too long (max 500 characters)"}
	}
	return nil
}

func (d Department) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if d.AllocatedBudget.IsNegative() {
		return &ValidationError{Field: "allocated_budget", Reason: "must not be negative"}
	}
	switch d.Status {
	case DepartmentActive, DepartmentInactive, DepartmentArchived:
	default:
		return &ValidationError{Field: "status", Reason: "unknown department status " + string(d.Status)}
	}
	return nil
}

func (p Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if !projectCodePattern.MatchString(p.Code) {
		return &ValidationError{Field: "code", Reason: "must look like ABC-001"}
	}
	if strings.TrimSpace(p.DepartmentID) == "" {
		return &ValidationError{Field: "department_id", Reason: "is required"}
	}
	if p.Budget.IsNegative() {
		return &ValidationError{Field: "budget", Reason: "must not be negative"}
	}
	if p.TeamSize < 0 {
		return &ValidationError{Field: "team_size", Reason: "must not be negative"}
	}
	if !p.StartDate.IsZero() && !p.EndDate.IsZero() && p.EndDate.Before(p.StartDate.Time) {
		return &ValidationError{Field: "end_date", Reason: "must not be before start date"}
	}
	switch p.Status {
	case ProjectActive, ProjectCompleted, ProjectOnHold, ProjectCancelled:
	default:
		return &ValidationError{Field: "status", Reason: "unknown project status " + string(p.Status)}
	}
	return nil
}

// Remaining is the unspent part of the budget; negative when over budget.
func (d Department) Remaining() decimal.Decimal {
	return d.AllocatedBudget.Sub(d.Spent)
}

func (p Project) Remaining() decimal.Decimal {
	return p.Budget.Sub(p.Spent)
}
