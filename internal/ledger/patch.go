package ledger

import (
	"bizledger/internal/core"

	"github.com/shopspring/decimal"
)

// EntryPatch lists the fields UpdateEntry may change. Nil fields are left
// as they are. An empty DepartmentID or ProjectID clears the attribution.
// Derived VAT fields and the workflow status are not patchable.
type EntryPatch struct {
	Amount       *decimal.Decimal
	Date         *core.Date
	Description  *string
	DepartmentID *string
	ProjectID    *string

	Category   *string
	VATApplied *bool
	VATRate    *decimal.Decimal

	InvoiceNumber *string
	ClientName    *string
	ClientEmail   *string
	ClientPhone   *string
	ClientAddress *string
	DueDate       *core.Date
}

func (p EntryPatch) touchesExpense() bool {
	return p.Category != nil || p.VATApplied != nil || p.VATRate != nil
}

func (p EntryPatch) touchesIncome() bool {
	return p.InvoiceNumber != nil || p.ClientName != nil || p.ClientEmail != nil ||
		p.ClientPhone != nil || p.ClientAddress != nil || p.DueDate != nil
}

// apply returns a copy of e with the patch applied. The variant details are
// copied so the stored version is never aliased.
func (p EntryPatch) apply(e core.Entry) (core.Entry, error) {
	switch e.Kind {
	case core.KindExpense:
		if p.touchesIncome() {
			return core.Entry{}, &core.ValidationError{Field: "patch", Reason: "income fields on an expense"}
		}
	case core.KindIncome:
		if p.touchesExpense() {
			return core.Entry{}, &core.ValidationError{Field: "patch", Reason: "expense fields on an income"}
		}
	}

	next := e
	if e.Expense != nil {
		d := *e.Expense
		next.Expense = &d
	}
	if e.Income != nil {
		d := *e.Income
		next.Income = &d
	}

	if p.Amount != nil {
		next.Amount = *p.Amount
	}
	if p.Date != nil {
		next.Date = *p.Date
	}
	if p.Description != nil {
		next.Description = *p.Description
	}
	if p.DepartmentID != nil {
		next.DepartmentID = *p.DepartmentID
	}
	if p.ProjectID != nil {
		next.ProjectID = *p.ProjectID
		if next.ProjectID != "" && p.DepartmentID == nil {
			// re-derived from the new project
			next.DepartmentID = ""
		}
	}
	if next.ProjectID != "" && p.DepartmentID != nil && *p.DepartmentID == "" {
		return core.Entry{}, &core.ValidationError{Field: "department_id", Reason: "cannot be cleared while a project is set"}
	}

	if x := next.Expense; x != nil {
		if p.Category != nil {
			x.Category = *p.Category
		}
		if p.VATApplied != nil {
			x.VATApplied = *p.VATApplied
		}
		if p.VATRate != nil {
			x.VATRate = *p.VATRate
		}
	}
	if in := next.Income; in != nil {
		if p.InvoiceNumber != nil {
			in.InvoiceNumber = *p.InvoiceNumber
		}
		if p.ClientName != nil {
			in.ClientName = *p.ClientName
		}
		if p.ClientEmail != nil {
			in.ClientEmail = *p.ClientEmail
		}
		if p.ClientPhone != nil {
			in.ClientPhone = *p.ClientPhone
		}
		if p.ClientAddress != nil {
			in.ClientAddress = *p.ClientAddress
		}
		if p.DueDate != nil {
			in.DueDate = *p.DueDate
		}
	}
	return next, nil
}
