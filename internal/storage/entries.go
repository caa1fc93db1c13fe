package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"bizledger/internal/core"

	"github.com/shopspring/decimal"
)

const entryColumns = `id, kind, amount_cents, entry_date, status, department_id, project_id, description,
	category, vat_applied, vat_rate, vat_amount_cents, total_amount_cents,
	invoice_number, client_name, client_email, client_phone, client_address, due_date,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (core.Entry, error) {
	var (
		e                              core.Entry
		kind, status, date, rate       string
		dept, project, due             sql.NullString
		amount, vatAmount, total       int64
		vatApplied                     bool
		category, invoice, name, email string
		phone, address                 string
		created, updated               string
	)
	err := row.Scan(&e.ID, &kind, &amount, &date, &status, &dept, &project, &e.Description,
		&category, &vatApplied, &rate, &vatAmount, &total,
		&invoice, &name, &email, &phone, &address, &due,
		&created, &updated)
	if err != nil {
		return core.Entry{}, err
	}
	e.Kind = core.EntryKind(kind)
	e.Status = core.Status(status)
	e.Amount = core.FromCents(amount)
	e.DepartmentID = dept.String
	e.ProjectID = project.String
	e.CreatedAt = parseTime(created)
	e.UpdatedAt = parseTime(updated)
	if e.Date, err = parseDate(sql.NullString{String: date, Valid: true}); err != nil {
		return core.Entry{}, err
	}

	switch e.Kind {
	case core.KindExpense:
		r, err := decimal.NewFromString(rate)
		if err != nil {
			return core.Entry{}, fmt.Errorf("parse vat rate %q: %w", rate, err)
		}
		e.Expense = &core.ExpenseDetails{
			Category:    category,
			VATApplied:  vatApplied,
			VATRate:     r,
			VATAmount:   core.FromCents(vatAmount),
			TotalAmount: core.FromCents(total),
		}
	case core.KindIncome:
		dueDate, err := parseDate(due)
		if err != nil {
			return core.Entry{}, err
		}
		e.Income = &core.IncomeDetails{
			InvoiceNumber: invoice,
			ClientName:    name,
			ClientEmail:   email,
			ClientPhone:   phone,
			ClientAddress: address,
			DueDate:       dueDate,
		}
	}
	return e, nil
}

// entryArgs returns the column values in entryColumns order.
func entryArgs(e core.Entry) []any {
	var (
		category, invoice, name, email, phone, address string
		rate                                           = "0"
		vatApplied                                     bool
		vatAmount, total                               int64
		due                                            sql.NullString
	)
	if x := e.Expense; x != nil {
		category, vatApplied, rate = x.Category, x.VATApplied, x.VATRate.String()
		vatAmount, total = core.ToCents(x.VATAmount), core.ToCents(x.TotalAmount)
	}
	if in := e.Income; in != nil {
		invoice, name, email, phone, address = in.InvoiceNumber, in.ClientName, in.ClientEmail, in.ClientPhone, in.ClientAddress
		due = nullDate(in.DueDate)
	}
	return []any{
		e.ID, string(e.Kind), core.ToCents(e.Amount), e.Date.Format(dateLayout), string(e.Status),
		nullString(e.DepartmentID), nullString(e.ProjectID), e.Description,
		category, vatApplied, rate, vatAmount, total,
		invoice, name, email, phone, address, due,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	}
}

func getEntry(ctx context.Context, q querier, id string) (core.Entry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, &core.NotFoundError{Resource: "entry", ID: id}
	}
	if err != nil {
		return core.Entry{}, classify(fmt.Errorf("get entry: %w", err))
	}
	return e, nil
}

func (t *txRepo) GetEntry(ctx context.Context, id string) (core.Entry, error) {
	return getEntry(ctx, t.q, id)
}

func (t *txRepo) InsertEntry(ctx context.Context, e core.Entry) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO ledger_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entryArgs(e)...)
	if err != nil {
		return classify(fmt.Errorf("insert entry: %w", err))
	}
	return nil
}

func (t *txRepo) UpdateEntry(ctx context.Context, e core.Entry) error {
	args := entryArgs(e)
	set := append([]any{}, args[1:19]...) // kind through due_date
	set = append(set, args[20], e.ID)     // updated_at, then the key
	res, err := t.q.ExecContext(ctx, `UPDATE ledger_entries SET
		kind = ?, amount_cents = ?, entry_date = ?, status = ?, department_id = ?, project_id = ?, description = ?,
		category = ?, vat_applied = ?, vat_rate = ?, vat_amount_cents = ?, total_amount_cents = ?,
		invoice_number = ?, client_name = ?, client_email = ?, client_phone = ?, client_address = ?, due_date = ?,
		updated_at = ?
		WHERE id = ?`,
		set...)
	if err != nil {
		return classify(fmt.Errorf("update entry: %w", err))
	}
	return expectRow(res, "entry", e.ID)
}

func (t *txRepo) DeleteEntry(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = ?`, id)
	if err != nil {
		return classify(fmt.Errorf("delete entry: %w", err))
	}
	return expectRow(res, "entry", id)
}

func expectRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return &core.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

func (r *SQLiteRepository) GetEntry(ctx context.Context, id string) (core.Entry, error) {
	return getEntry(ctx, r.db, id)
}

func (r *SQLiteRepository) ListEntries(ctx context.Context, f core.EntryFilter) ([]core.Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		where = append(where, clause)
		args = append(args, arg)
	}
	if f.Kind != "" {
		add("kind = ?", string(f.Kind))
	}
	if f.DepartmentID != "" {
		add("department_id = ?", f.DepartmentID)
	}
	if f.ProjectID != "" {
		add("project_id = ?", f.ProjectID)
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if !f.From.IsZero() {
		add("entry_date >= ?", f.From.Format(dateLayout))
	}
	if !f.To.IsZero() {
		add("entry_date <= ?", f.To.Format(dateLayout))
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY entry_date DESC, created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("list entries: %w", err))
	}
	defer rows.Close()

	var out []core.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
