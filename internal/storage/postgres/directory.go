package postgres

import (
	"context"
	"errors"
	"fmt"

	"bizledger/internal/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const departmentColumns = `id, name, allocated_budget_cents, spent_cents, manager, status, created_at, updated_at`

const projectColumns = `id, name, code, department_id, budget_cents, spent_cents, start_date, end_date, status, team_size, created_at, updated_at`

func scanDepartment(row pgx.Row) (core.Department, error) {
	var (
		d                core.Department
		allocated, spent int64
		status           string
	)
	if err := row.Scan(&d.ID, &d.Name, &allocated, &spent, &d.Manager, &status, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return core.Department{}, err
	}
	d.AllocatedBudget = core.FromCents(allocated)
	d.Spent = core.FromCents(spent)
	d.Status = core.DepartmentStatus(status)
	return d, nil
}

func scanProject(row pgx.Row) (core.Project, error) {
	var (
		p             core.Project
		budget, spent int64
		start, end    pgtype.Date
		status        string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Code, &p.DepartmentID, &budget, &spent, &start, &end, &status, &p.TeamSize, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return core.Project{}, err
	}
	p.Budget = core.FromCents(budget)
	p.Spent = core.FromCents(spent)
	p.StartDate = fromDate(start)
	p.EndDate = fromDate(end)
	p.Status = core.ProjectStatus(status)
	return p, nil
}

func getDepartment(ctx context.Context, q querier, id string) (core.Department, error) {
	d, err := scanDepartment(q.QueryRow(ctx, `SELECT `+departmentColumns+` FROM departments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Department{}, &core.NotFoundError{Resource: "department", ID: id}
	}
	if err != nil {
		return core.Department{}, classify(fmt.Errorf("get department: %w", err))
	}
	return d, nil
}

func getProject(ctx context.Context, q querier, id string) (core.Project, error) {
	p, err := scanProject(q.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
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

// adjustSpent increments spent_cents under the row lock taken by UPDATE.
func adjustSpent(ctx context.Context, q querier, table, resource, id string, delta decimal.Decimal) error {
	if id == "" {
		return nil
	}
	tag, err := q.Exec(ctx,
		`UPDATE `+table+` SET spent_cents = spent_cents + $1, updated_at = NOW() WHERE id = $2 AND spent_cents + $1 >= 0`,
		core.ToCents(delta), id)
	if err != nil {
		return classify(fmt.Errorf("adjust %s spent: %w", resource, err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return classify(fmt.Errorf("check %s: %w", resource, err))
	}
	if !exists {
		return &core.NotFoundError{Resource: resource, ID: id}
	}
	return fmt.Errorf("%s %s: %w", resource, id, core.ErrNegativeAccumulator)
}

func (r *Repository) GetDepartment(ctx context.Context, id string) (core.Department, error) {
	return getDepartment(ctx, r.pool, id)
}

func (r *Repository) ListDepartments(ctx context.Context) ([]core.Department, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+departmentColumns+` FROM departments ORDER BY name`)
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

func (r *Repository) CreateDepartment(ctx context.Context, d core.Department) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO departments (`+departmentColumns+`) VALUES ($1, $2, $3, 0, $4, $5, $6, $7)`,
		d.ID, d.Name, core.ToCents(d.AllocatedBudget), d.Manager, string(d.Status), d.CreatedAt.UTC(), d.UpdatedAt.UTC())
	if err != nil {
		return classify(fmt.Errorf("insert department: %w", err))
	}
	return nil
}

func (r *Repository) UpdateDepartment(ctx context.Context, d core.Department) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE departments SET name = $2, allocated_budget_cents = $3, manager = $4, status = $5, updated_at = $6 WHERE id = $1`,
		d.ID, d.Name, core.ToCents(d.AllocatedBudget), d.Manager, string(d.Status), d.UpdatedAt.UTC())
	if err != nil {
		return classify(fmt.Errorf("update department: %w", err))
	}
	return expectRow(tag, "department", d.ID)
}

// DeleteDepartment refuses while projects, entries or allocations
// reference the department. The row is locked first so no reference can be
// added concurrently.
func (r *Repository) DeleteDepartment(ctx context.Context, id string) error {
	return r.inTx(ctx, func(q querier) error {
		var locked string
		err := q.QueryRow(ctx, `SELECT id FROM departments WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return &core.NotFoundError{Resource: "department", ID: id}
		}
		if err != nil {
			return fmt.Errorf("lock department: %w", err)
		}
		for _, ref := range []struct{ table, reason string }{
			{"projects", "projects still belong to it"},
			{"ledger_entries", "ledger entries still reference it"},
			{"budget_allocations", "budget allocations still reference it"},
		} {
			var used bool
			if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+ref.table+` WHERE department_id = $1)`, id).Scan(&used); err != nil {
				return fmt.Errorf("check %s: %w", ref.table, err)
			}
			if used {
				return &core.ConflictError{Resource: "department", Reason: ref.reason}
			}
		}
		if _, err := q.Exec(ctx, `DELETE FROM departments WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete department: %w", err)
		}
		return nil
	})
}

func (r *Repository) GetProject(ctx context.Context, id string) (core.Project, error) {
	return getProject(ctx, r.pool, id)
}

func (r *Repository) ListProjects(ctx context.Context, departmentID string) ([]core.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if departmentID != "" {
		query += ` WHERE department_id = $1`
		args = append(args, departmentID)
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY code`, args...)
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

func (r *Repository) CreateProject(ctx context.Context, p core.Project) error {
	return r.inTx(ctx, func(q querier) error {
		if _, err := getDepartment(ctx, q, p.DepartmentID); err != nil {
			return err
		}
		_, err := q.Exec(ctx,
			`INSERT INTO projects (`+projectColumns+`) VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, $10, $11)`,
			p.ID, p.Name, p.Code, p.DepartmentID, core.ToCents(p.Budget), nullDate(p.StartDate), nullDate(p.EndDate),
			string(p.Status), p.TeamSize, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		return nil
	})
}

func (r *Repository) UpdateProject(ctx context.Context, p core.Project) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE projects SET name = $2, code = $3, budget_cents = $4, start_date = $5, end_date = $6, status = $7, team_size = $8, updated_at = $9 WHERE id = $1`,
		p.ID, p.Name, p.Code, core.ToCents(p.Budget), nullDate(p.StartDate), nullDate(p.EndDate), string(p.Status), p.TeamSize, p.UpdatedAt.UTC())
	if err != nil {
		return classify(fmt.Errorf("update project: %w", err))
	}
	return expectRow(tag, "project", p.ID)
}

func (r *Repository) DeleteProject(ctx context.Context, id string) error {
	return r.inTx(ctx, func(q querier) error {
		var locked string
		err := q.QueryRow(ctx, `SELECT id FROM projects WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return &core.NotFoundError{Resource: "project", ID: id}
		}
		if err != nil {
			return fmt.Errorf("lock project: %w", err)
		}
		var used bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE project_id = $1)`, id).Scan(&used); err != nil {
			return fmt.Errorf("check entries: %w", err)
		}
		if used {
			return &core.ConflictError{Resource: "project", Reason: "ledger entries still reference it"}
		}
		if _, err := q.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		return nil
	})
}
