package ledger

import (
	"context"
	"errors"

	"bizledger/internal/core"

	"github.com/shopspring/decimal"
)

// Store is the persistence the engine writes through. Every mutation runs
// inside InTx; when fn returns an error nothing it wrote is kept.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetEntry(ctx context.Context, id string) (core.Entry, error)
	ListEntries(ctx context.Context, f core.EntryFilter) ([]core.Entry, error)
	ListDepartments(ctx context.Context) ([]core.Department, error)
	ListProjects(ctx context.Context, departmentID string) ([]core.Project, error)
}

// Tx is the unit of work handed to Store.InTx.
type Tx interface {
	GetEntry(ctx context.Context, id string) (core.Entry, error)
	GetDepartment(ctx context.Context, id string) (core.Department, error)
	GetProject(ctx context.Context, id string) (core.Project, error)

	InsertEntry(ctx context.Context, e core.Entry) error
	UpdateEntry(ctx context.Context, e core.Entry) error
	DeleteEntry(ctx context.Context, id string) error

	// AdjustDepartmentSpent and AdjustProjectSpent add delta to the spent
	// accumulator atomically. They return a NotFoundError for an unknown id
	// and ErrNegativeAccumulator when the result would drop below zero.
	AdjustDepartmentSpent(ctx context.Context, id string, delta decimal.Decimal) error
	AdjustProjectSpent(ctx context.Context, id string, delta decimal.Decimal) error
}

// Publisher receives ledger events after a mutation has committed.
type Publisher interface {
	PublishLedgerEvent(ctx context.Context, ev Event) error
}

// Publishers fans an event out to several publishers and joins their errors.
type Publishers []Publisher

func (ps Publishers) PublishLedgerEvent(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.PublishLedgerEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
