package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bizledger/internal/core"

	"github.com/shopspring/decimal"
)

const departmentColumns = `id, name, allocated_budget_cents, spent_cents, manager, status, created_at, updated_at`

const projectColumns = `id, name, code, department_id, budget_cents, spent_cents, start_date, end_date, status, team_size, created_at, updated_at`

func scanDepartment(row rowScanner) (core.Department, error) {
	var (
		d                core.Department
		allocated, spent int64
		status           string
		created, updated string
	)
	if err := row.Scan(&d.ID, &d.Name, &allocated, &spent, &d.Manager, &status, &created, &updated); err != nil {
		return core.Department{}, err
	}
	d.AllocatedBudget = core.FromCents(allocated)
	d.Spent = core.FromCents(spent)
	d.Status = core.DepartmentStatus(status)
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return d, nil
}

func scanProject(row rowScanner) (core.Project, error) {
	var (
		p                core.Project
		budget, spent    int64
		start, end       sql.NullString
		status           string
		created, updated string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Code, &p.DepartmentID, &budget, &spent, &start, &end, &status, &p.TeamSize, &created, &updated); err != nil {
		return core.Project{}, err
	}
	var err error
	if p.StartDate, err = parseDate(start); err != nil {
		return core.Project{}, err
	}
	if p.EndDate, err = parseDate(end); err != nil {
		return core.Project{}, err
	}
	p.Budget = core.FromCents(budget)
	p.Spent = core.FromCents(spent)
	p.Status = core.ProjectStatus(status)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return p, nil
}

func getDepartment(ctx context.Context, q querier, id string) (core.Department, error) {
	d, err := scanDepartment(q.QueryRowContext(ctx, `SELECT `+departmentColumns+` FROM departments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Department{}, &core.NotFoundError{Resource: "department", ID: id}
	}
	if err != nil {
		return core.Department{}, classify(fmt.Errorf("get department: %w", err))
	}
	return d, nil
}

func getProject(ctx context.Context, q querier, id string) (core.Project, error) {
	p, err := scanProject(q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Project{}, &core.NotFoundError{Resource: "project", ID: id}
	}
	if err != nil {
		return core.Project{}, classify(fmt.Errorf("get project: %w", err))
	}
	return p, nil
}

func (t *txRepo) GetDepartment(ctx context.Context, id string) (core.Department, error) {
	return getDepartment(ctx, t.q, id)
}

func (t *txRepo) GetProject(ctx context.Context, id string) (core.Project, error) {
	return getProject(ctx, t.q, id)
}

func (t *txRepo) AdjustDepartmentSpent(ctx context.Context, id string, delta decimal.Decimal) error {
	return adjustSpent(ctx, t.q, "departments", "department", id, delta)
}

func (t *txRepo) AdjustProjectSpent(ctx context.Context, id string, delta decimal.Decimal) error {
	return adjustSpent(ctx, t.q, "projects", "project", id, delta)
}

// adjustSpent increments spent_cents in place. The guard in the WHERE
// clause keeps the accumulator non-negative without a read-modify-write.
func adjustSpent(ctx context.Context, q querier, table, resource, id string, delta decimal.Decimal) error {
	if id == "" {
		return nil
	}
	cents := core.ToCents(delta)
	res, err := q.ExecContext(ctx,
		`UPDATE `+table+` SET spent_cents = spent_cents + ? WHERE id = ? AND spent_cents + ? >= 0`,
		cents, id, cents)
	if err != nil {
		return classify(fmt.Errorf("adjust %s spent: %w", resource, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return classify(fmt.Errorf("check %s: %w", resource, err))
	}
	if exists == 0 {
		return &core.NotFoundError{Resource: resource, ID: id}
	}
	return fmt.Errorf("%s %s: %w", resource, id, core.ErrNegativeAccumulator)
}

func (r *SQLiteRepository) GetDepartment(ctx context.Context, id string) (core.Department, error) {
	return getDepartment(ctx, r.db, id)
}

func (r *SQLiteRepository) ListDepartments(ctx context.Context) ([]core.Department, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+departmentColumns+` FROM departments ORDER BY name`)
	if err != nil {
		return nil, classify(fmt.Errorf("list departments: %w", err))
	}
	defer rows.Close()
	var out []core.Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateDepartment(ctx context.Context, d core.Department) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO departments (`+departmentColumns+`) VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
		d.ID, d.Name, core.ToCents(d.AllocatedBudget), d.Manager, string(d.Status), formatTime(d.CreatedAt), formatTime(d.UpdatedAt))
	if err != nil {
		return classify(fmt.Errorf("insert department: %w", err))
	}
	return nil
}

// UpdateDepartment stores descriptive fields. spent_cents is not written.
func (r *SQLiteRepository) UpdateDepartment(ctx context.Context, d core.Department) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE departments SET name = ?, allocated_budget_cents = ?, manager = ?, status = ?, updated_at = ? WHERE id = ?`,
		d.Name, core.ToCents(d.AllocatedBudget), d.Manager, string(d.Status), formatTime(d.UpdatedAt), d.ID)
	if err != nil {
		return classify(fmt.Errorf("update department: %w", err))
	}
	return expectRow(res, "department", d.ID)
}

// DeleteDepartment refuses while projects, entries or allocations
// reference the department.
func (r *SQLiteRepository) DeleteDepartment(ctx context.Context, id string) error {
	return r.inTx(ctx, func(q querier) error {
		if _, err := getDepartment(ctx, q, id); err != nil {
			return err
		}
		for _, ref := range []struct{ table, reason string }{
			{"projects", "projects still belong to it"},
			{"ledger_entries", "ledger entries still reference it"},
			{"budget_allocations", "budget allocations still reference it"},
		} {
			var n int
			if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+ref.table+` WHERE department_id = ?`, id).Scan(&n); err != nil {
				return classify(fmt.Errorf("count %s: %w", ref.table, err))
			}
			if n > 0 {
				return &core.ConflictError{Resource: "department", Reason: ref.reason}
			}
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM departments WHERE id = ?`, id); err != nil {
			return classify(fmt.Errorf("delete department: %w", err))
		}
		return nil
	})
}

func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (core.Project, error) {
	return getProject(ctx, r.db, id)
}

func (r *SQLiteRepository) ListProjects(ctx context.Context, departmentID string) ([]core.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if departmentID != "" {
		query += ` WHERE department_id = ?`
		args = append(args, departmentID)
	}
	rows, err := r.db.QueryContext(ctx, query+` ORDER BY code`, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("list projects: %w", err))
	}
	defer rows.Close()
	var out []core.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateProject(ctx context.Context, p core.Project) error {
	return r.inTx(ctx, func(q querier) error {
		if _, err := getDepartment(ctx, q, p.DepartmentID); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx,
			`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, p.Code, p.DepartmentID, core.ToCents(p.Budget), nullDate(p.StartDate), nullDate(p.EndDate),
			string(p.Status), p.TeamSize, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
		if err != nil {
			return classify(fmt.Errorf("insert project: %w", err))
		}
		return nil
	})
}

// UpdateProject stores descriptive fields. department_id and spent_cents
// are not written.
func (r *SQLiteRepository) UpdateProject(ctx context.Context, p core.Project) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, code = ?, budget_cents = ?, start_date = ?, end_date = ?, status = ?, team_size = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Code, core.ToCents(p.Budget), nullDate(p.StartDate), nullDate(p.EndDate), string(p.Status), p.TeamSize, formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return classify(fmt.Errorf("update project: %w", err))
	}
	return expectRow(res, "project", p.ID)
}

// DeleteProject refuses while ledger entries reference the project.
func (r *SQLiteRepository) DeleteProject(ctx context.Context, id string) error {
	return r.inTx(ctx, func(q querier) error {
		if _, err := getProject(ctx, q, id); err != nil {
			return err
		}
		var n int
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE project_id = ?`, id).Scan(&n); err != nil {
			return classify(fmt.Errorf("count entries: %w", err))
		}
		if n > 0 {
			return &core.ConflictError{Resource: "project", Reason: "ledger entries still reference it"}
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
			return classify(fmt.Errorf("delete project: %w", err))
		}
		return nil
	})
}
