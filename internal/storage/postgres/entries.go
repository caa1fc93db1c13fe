package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bizledger/internal/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const entryColumns = `id, kind, amount_cents, entry_date, status, department_id, project_id, description,
	category, vat_applied, vat_rate, vat_amount_cents, total_amount_cents,
	invoice_number, client_name, client_email, client_phone, client_address, due_date,
	created_at, updated_at`

func scanEntry(row pgx.Row) (core.Entry, error) {
	var (
		e                        core.Entry
		kind, status             string
		date, due                pgtype.Date
		dept, project            pgtype.Text
		amount, vatAmount, total int64
		rate                     pgtype.Numeric
		vatApplied               bool
		category, invoice, name  string
		email, phone, address    string
	)
	err := row.Scan(&e.ID, &kind, &amount, &date, &status, &dept, &project, &e.Description,
		&category, &vatApplied, &rate, &vatAmount, &total,
		&invoice, &name, &email, &phone, &address, &due,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return core.Entry{}, err
	}
	e.Kind = core.EntryKind(kind)
	e.Status = core.Status(status)
	e.Amount = core.FromCents(amount)
	e.Date = fromDate(date)
	e.DepartmentID = dept.String
	e.ProjectID = project.String
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()

	switch e.Kind {
	case core.KindExpense:
		e.Expense = &core.ExpenseDetails{
			Category:    category,
			VATApplied:  vatApplied,
			VATRate:     fromNumeric(rate),
			VATAmount:   core.FromCents(vatAmount),
			TotalAmount: core.FromCents(total),
		}
	case core.KindIncome:
		e.Income = &core.IncomeDetails{
			InvoiceNumber: invoice,
			ClientName:    name,
			ClientEmail:   email,
			ClientPhone:   phone,
			ClientAddress: address,
			DueDate:       fromDate(due),
		}
	}
	return e, nil
}

// entryArgs returns the column values in entryColumns order.
func entryArgs(e core.Entry) []any {
	var (
		category, invoice, name, email, phone, address string
		rate                                           = toNumeric(decimal.Zero)
		vatApplied                                     bool
		vatAmount, total                               int64
		due                                            pgtype.Date
	)
	if x := e.Expense; x != nil {
		category, vatApplied, rate = x.Category, x.VATApplied, toNumeric(x.VATRate)
		vatAmount, total = core.ToCents(x.VATAmount), core.ToCents(x.TotalAmount)
	}
	if in := e.Income; in != nil {
		invoice, name, email, phone, address = in.InvoiceNumber, in.ClientName, in.ClientEmail, in.ClientPhone, in.ClientAddress
		due = nullDate(in.DueDate)
	}
	return []any{
		e.ID, string(e.Kind), core.ToCents(e.Amount), nullDate(e.Date), string(e.Status),
		nullText(e.DepartmentID), nullText(e.ProjectID), e.Description,
		category, vatApplied, rate, vatAmount, total,
		invoice, name, email, phone, address, due,
		e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	}
}

func getEntry(ctx context.Context, q querier, id, suffix string) (core.Entry, error) {
	e, err := scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Entry{}, &core.NotFoundError{Resource: "entry", ID: id}
	}
	if err != nil {
		return core.Entry{}, classify(fmt.Errorf("get entry: %w", err))
	}
	return e, nil
}

// GetEntry locks the row so concurrent mutations of one entry serialize.
func (t *txRepo) GetEntry(ctx context.Context, id string) (core.Entry, error) {
	return getEntry(ctx, t.q, id, " FOR UPDATE")
}

func (t *txRepo) InsertEntry(ctx context.Context, e core.Entry) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO ledger_entries (`+entryColumns+`) VALUES
		($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		entryArgs(e)...)
	if err != nil {
		return classify(fmt.Errorf("insert entry: %w", err))
	}
	return nil
}

// UpdateEntry rewrites every column except id and created_at.
func (t *txRepo) UpdateEntry(ctx context.Context, e core.Entry) error {
	args := entryArgs(e)
	set := append([]any{}, args[:19]...) // id through due_date
	set = append(set, args[20])          // updated_at
	tag, err := t.q.Exec(ctx, `UPDATE ledger_entries SET
		kind = $2, amount_cents = $3, entry_date = $4, status = $5, department_id = $6, project_id = $7, description = $8,
		category = $9, vat_applied = $10, vat_rate = $11, vat_amount_cents = $12, total_amount_cents = $13,
		invoice_number = $14, client_name = $15, client_email = $16, client_phone = $17, client_address = $18, due_date = $19,
		updated_at = $20
		WHERE id = $1`,
		set...)
	if err != nil {
		return classify(fmt.Errorf("update entry: %w", err))
	}
	return expectRow(tag, "entry", e.ID)
}

func (t *txRepo) DeleteEntry(ctx context.Context, id string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM ledger_entries WHERE id = $1`, id)
	if err != nil {
		return classify(fmt.Errorf("delete entry: %w", err))
	}
	return expectRow(tag, "entry", id)
}

func (r *Repository) GetEntry(ctx context.Context, id string) (core.Entry, error) {
	return getEntry(ctx, r.pool, id, "")
}

func (r *Repository) ListEntries(ctx context.Context, f core.EntryFilter) ([]core.Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(column string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf("%s $%d", column, len(args)))
	}
	if f.Kind != "" {
		add("kind =", string(f.Kind))
	}
	if f.DepartmentID != "" {
		add("department_id =", f.DepartmentID)
	}
	if f.ProjectID != "" {
		add("project_id =", f.ProjectID)
	}
	if f.Status != "" {
		add("status =", string(f.Status))
	}
	if !f.From.IsZero() {
		add("entry_date >=", nullDate(f.From))
	}
	if !f.To.IsZero() {
		add("entry_date <=", nullDate(f.To))
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY entry_date DESC, created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
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
