package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bizledger/internal/core"

	"github.com/shopspring/decimal"
)

const allocationColumns = `id, department_id, fiscal_year, quarter, allocated_cents, spent_cents, notes, created_at, updated_at`

func scanAllocation(row rowScanner) (core.Allocation, error) {
	var (
		a                core.Allocation
		allocated, spent int64
		created, updated string
	)
	if err := row.Scan(&a.ID, &a.DepartmentID, &a.FiscalYear, &a.Quarter, &allocated, &spent, &a.Notes, &created, &updated); err != nil {
		return core.Allocation{}, err
	}
	a.Allocated = core.FromCents(allocated)
	a.Spent = core.FromCents(spent)
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return a, nil
}

// CreateAllocation relies on the (department_id, fiscal_year, quarter)
// unique index, so concurrent duplicates fail with a ConflictError.
func (r *SQLiteRepository) CreateAllocation(ctx context.Context, a core.Allocation) error {
	return r.inTx(ctx, func(q querier) error {
		if _, err := getDepartment(ctx, q, a.DepartmentID); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx,
			`INSERT INTO budget_allocations (`+allocationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.DepartmentID, a.FiscalYear, a.Quarter, core.ToCents(a.Allocated), core.ToCents(a.Spent), a.Notes,
			formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
		if err != nil {
			return classify(fmt.Errorf("insert budget allocation: %w", err))
		}
		return nil
	})
}

func (r *SQLiteRepository) GetAllocation(ctx context.Context, id string) (core.Allocation, error) {
	a, err := scanAllocation(r.db.QueryRowContext(ctx, `SELECT `+allocationColumns+` FROM budget_allocations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Allocation{}, &core.NotFoundError{Resource: "budget allocation", ID: id}
	}
	if err != nil {
		return core.Allocation{}, classify(fmt.Errorf("get budget allocation: %w", err))
	}
	return a, nil
}

func (r *SQLiteRepository) ListAllocations(ctx context.Context, fiscalYear int) ([]core.Allocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM budget_allocations`
	var args []any
	if fiscalYear != 0 {
		query += ` WHERE fiscal_year = ?`
		args = append(args, fiscalYear)
	}
	rows, err := r.db.QueryContext(ctx, query+` ORDER BY fiscal_year, quarter, department_id`, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("list budget allocations: %w", err))
	}
	defer rows.Close()
	var out []core.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget allocation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateAllocation(ctx context.Context, a core.Allocation) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE budget_allocations SET allocated_cents = ?, notes = ?, updated_at = ? WHERE id = ?`,
		core.ToCents(a.Allocated), a.Notes, formatTime(a.UpdatedAt), a.ID)
	if err != nil {
		return classify(fmt.Errorf("update budget allocation: %w", err))
	}
	return expectRow(res, "budget allocation", a.ID)
}

func (r *SQLiteRepository) DeleteAllocation(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM budget_allocations WHERE id = ?`, id)
	if err != nil {
		return classify(fmt.Errorf("delete budget allocation: %w", err))
	}
	return expectRow(res, "budget allocation", id)
}

func (r *SQLiteRepository) SetAllocationSpent(ctx context.Context, id string, spent decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx, `UPDATE budget_allocations SET spent_cents = ? WHERE id = ?`, core.ToCents(spent), id)
	if err != nil {
		return classify(fmt.Errorf("set budget allocation spent: %w", err))
	}
	return expectRow(res, "budget allocation", id)
}
