// Package sheets mirrors ledger entries into a spreadsheet, one row per
// entry id.
package sheets

import (
	"context"

	"bizledger/internal/core"
)

// EntryMirror is the outbound port the worker writes through.
type EntryMirror interface {
	// UpsertEntry writes the row for e, replacing an existing row with the
	// same entry id.
	UpsertEntry(ctx context.Context, e core.Entry) error
	// RemoveEntry deletes the row for entryID. Missing rows are not an error.
	RemoveEntry(ctx context.Context, entryID string) error
}

// Header is the first row of the mirror sheet. Column A holds the entry id.
var Header = []string{
	"Entry ID", "Kind", "Date", "Status", "Department", "Project", "Description",
	"Amount", "VAT Rate", "VAT", "Total", "Category", "Invoice", "Client", "Due Date",
}

// EntryRow renders e in Header order. Money is written with two decimals.
func EntryRow(e core.Entry) []any {
	row := []any{
		e.ID, string(e.Kind), e.Date.String(), string(e.Status), e.DepartmentID, e.ProjectID, e.Description,
		e.Amount.StringFixed(2), "", "", e.Amount.StringFixed(2), "", "", "", "",
	}
	if x := e.Expense; x != nil {
		if x.VATApplied {
			row[8] = x.VATRate.String()
		}
		row[9] = x.VATAmount.StringFixed(2)
		row[10] = x.TotalAmount.StringFixed(2)
		row[11] = x.Category
	}
	if in := e.Income; in != nil {
		row[12] = in.InvoiceNumber
		row[13] = in.ClientName
		if !in.DueDate.IsZero() {
			row[14] = in.DueDate.String()
		}
	}
	return row
}
