package postgres

import (
	"context"
	"errors"
	"fmt"

	"bizledger/internal/core"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const allocationColumns = `id, department_id, fiscal_year, quarter, allocated_cents, spent_cents, notes, created_at, updated_at`

func scanAllocation(row pgx.Row) (core.Allocation, error) {
	var (
		a                core.Allocation
		allocated, spent int64
	)
	if err := row.Scan(&a.ID, &a.DepartmentID, &a.FiscalYear, &a.Quarter, &allocated, &spent, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return core.Allocation{}, err
	}
	a.Allocated = core.FromCents(allocated)
	a.Spent = core.FromCents(spent)
	return a, nil
}

func (r *Repository) CreateAllocation(ctx context.Context, a core.Allocation) error {
	return r.inTx(ctx, func(q querier) error {
		if _, err := getDepartment(ctx, q, a.DepartmentID); err != nil {
			return err
		}
		_, err := q.Exec(ctx,
			`INSERT INTO budget_allocations (`+allocationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			a.ID, a.DepartmentID, a.FiscalYear, a.Quarter, core.ToCents(a.Allocated), core.ToCents(a.Spent), a.Notes,
			a.CreatedAt.UTC(), a.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert budget allocation: %w", err)
		}
		return nil
	})
}

func (r *Repository) GetAllocation(ctx context.Context, id string) (core.Allocation, error) {
	a, err := scanAllocation(r.pool.QueryRow(ctx, `SELECT `+allocationColumns+` FROM budget_allocations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Allocation{}, &core.NotFoundError{Resource: "budget allocation", ID: id}
	}
	if err != nil {
		return core.Allocation{}, classify(fmt.Errorf("get budget allocation: %w", err))
	}
	return a, nil
}

func (r *Repository) ListAllocations(ctx context.Context, fiscalYear int) ([]core.Allocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM budget_allocations`
	var args []any
	if fiscalYear != 0 {
		query += ` WHERE fiscal_year = $1`
		args = append(args, fiscalYear)
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY fiscal_year, quarter, department_id`, args...)
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

func (r *Repository) UpdateAllocation(ctx context.Context, a core.Allocation) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE budget_allocations SET allocated_cents = $2, notes = $3, updated_at = $4 WHERE id = $1`,
		a.ID, core.ToCents(a.Allocated), a.Notes, a.UpdatedAt.UTC())
	if err != nil {
		return classify(fmt.Errorf("update budget allocation: %w", err))
	}
	return expectRow(tag, "budget allocation", a.ID)
}

func (r *Repository) DeleteAllocation(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM budget_allocations WHERE id = $1`, id)
	if err != nil {
		return classify(fmt.Errorf("delete budget allocation: %w", err))
	}
	return expectRow(tag, "budget allocation", id)
}

func (r *Repository) SetAllocationSpent(ctx context.Context, id string, spent decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, `UPDATE budget_allocations SET spent_cents = $2 WHERE id = $1`, id, core.ToCents(spent))
	if err != nil {
		return classify(fmt.Errorf("set budget allocation spent: %w", err))
	}
	return expectRow(tag, "budget allocation", id)
}
