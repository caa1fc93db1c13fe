// Package postgres is the PostgreSQL store for the ledger, the directory and
// budget allocations, built on a pgx connection pool.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"bizledger/internal/core"
	"bizledger/internal/ledger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL, applies migrations and returns the store.
func New(ctx context.Context, databaseURL string) (*Repository, error) {
	if err := RunMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	slog.InfoContext(ctx, "PostgreSQL store ready", "max_conns", pool.Config().MaxConns)
	return &Repository{pool: pool}, nil
}

// RunMigrations applies the embedded schema through the pgx/v5 migrate driver.
func RunMigrations(databaseURL string) error {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", d, migrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, scheme) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, scheme)
		}
	}
	return databaseURL
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// InTx runs fn in one transaction and commits only when fn succeeds.
// Serialization failures and deadlocks are reported as transient.
func (r *Repository) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return r.inTx(ctx, func(q querier) error {
		return fn(&txRepo{q: q})
	})
}

func (r *Repository) inTx(ctx context.Context, fn func(q querier) error) error {
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(tx)
	})
	return classify(err)
}

type txRepo struct {
	q querier
}

// classify maps PostgreSQL error codes onto the core sentinels. Errors that
// already carry a core meaning pass through unchanged.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
		return core.Transient(err)
	case pgerrcode.UniqueViolation:
		return &core.ConflictError{Resource: conflictResource(pgErr.ConstraintName), Reason: "already exists"}
	case pgerrcode.ForeignKeyViolation:
		return &core.ConflictError{Resource: "reference", Reason: "referenced row is missing or still in use"}
	case pgerrcode.CheckViolation:
		return &core.ValidationError{Field: pgErr.ConstraintName, Reason: "violates a check constraint"}
	}
	return err
}

func conflictResource(constraint string) string {
	switch {
	case constraint == "budget_allocations_period_key":
		return "budget allocation"
	case constraint == "projects_code_key":
		return "project code"
	case strings.HasPrefix(constraint, "projects"):
		return "project"
	case strings.HasPrefix(constraint, "departments"):
		return "department"
	default:
		return "entry"
	}
}

func expectRow(tag pgconn.CommandTag, resource, id string) error {
	if tag.RowsAffected() == 0 {
		return &core.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func nullDate(d core.Date) pgtype.Date {
	if d.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: d.Time, Valid: true}
}

func fromDate(d pgtype.Date) core.Date {
	if !d.Valid {
		return core.Date{}
	}
	return core.NewDate(d.Time.Year(), int(d.Time.Month()), d.Time.Day())
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
