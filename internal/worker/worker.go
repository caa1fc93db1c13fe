// Package worker reacts to committed ledger events: it refreshes the budget
// allocations of every touched quarter and mirrors entries to the
// spreadsheet. A periodic pass covers events that were never delivered.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bizledger/internal/amqp"
	"bizledger/internal/core"
	"bizledger/internal/ledger"
	applog "bizledger/internal/log"
	"bizledger/internal/sheets"

	"golang.org/x/sync/errgroup"
)

type EntryReader interface {
	GetEntry(ctx context.Context, id string) (core.Entry, error)
}

type Recalculator interface {
	RecalculateFor(ctx context.Context, departmentID string, date core.Date) error
	RecalculateYear(ctx context.Context, fiscalYear int) (int, error)
}

type Auditor interface {
	Audit(ctx context.Context) ([]core.AccumulatorDrift, error)
}

const maxParallelRecalcs = 4

type Worker struct {
	entries EntryReader
	budgets Recalculator
	auditor Auditor
	mirror  sheets.EntryMirror
	logger  *applog.Logger
	now     func() time.Time
}

// New creates a worker. mirror and auditor may be nil.
func New(entries EntryReader, budgets Recalculator, auditor Auditor, mirror sheets.EntryMirror, logger *applog.Logger) *Worker {
	if logger == nil {
		logger = applog.Discard()
	}
	return &Worker{
		entries: entries,
		budgets: budgets,
		auditor: auditor,
		mirror:  mirror,
		logger:  logger.WithComponent(applog.ComponentWorker),
		now:     time.Now,
	}
}

// PublishLedgerEvent lets the worker run in-process as an engine publisher.
func (w *Worker) PublishLedgerEvent(ctx context.Context, ev ledger.Event) error {
	return w.HandleEvent(ctx, ev)
}

// HandleMessage is the AMQP consumer callback.
func (w *Worker) HandleMessage(ctx context.Context, msg *amqp.EventMessage) error {
	return w.HandleEvent(ctx, msg.Event)
}

// HandleEvent recalculates the allocations for the quarters touched by ev
// and mirrors the entry's current state.
func (w *Worker) HandleEvent(ctx context.Context, ev ledger.Event) error {
	w.logger.InfoContext(ctx, "Processing ledger event",
		applog.FieldEventType, string(ev.Type), applog.FieldEntryID, ev.EntryID)

	if err := w.recalculate(ctx, ev); err != nil {
		return fmt.Errorf("recalculate budgets: %w", err)
	}
	if err := w.mirrorEntry(ctx, ev); err != nil {
		return fmt.Errorf("mirror entry: %w", err)
	}
	return nil
}

type quarterKey struct {
	departmentID string
	year         int
	quarter      int
}

func (w *Worker) recalculate(ctx context.Context, ev ledger.Event) error {
	if ev.Kind != core.KindExpense {
		return nil
	}
	seen := map[quarterKey]bool{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelRecalcs)
	for _, a := range ev.Touched() {
		if a.DepartmentID == "" || a.Date.IsZero() {
			continue
		}
		k := quarterKey{a.DepartmentID, a.Date.Year(), a.Date.Quarter()}
		if seen[k] {
			continue
		}
		seen[k] = true
		a := a
		g.Go(func() error {
			if err := w.budgets.RecalculateFor(gctx, a.DepartmentID, a.Date); err != nil {
				return fmt.Errorf("department %s %d-Q%d: %w", a.DepartmentID, a.Date.Year(), a.Date.Quarter(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) mirrorEntry(ctx context.Context, ev ledger.Event) error {
	if w.mirror == nil {
		return nil
	}
	if ev.Type == ledger.EventDeleted {
		return w.mirror.RemoveEntry(ctx, ev.EntryID)
	}
	e, err := w.entries.GetEntry(ctx, ev.EntryID)
	if errors.Is(err, core.ErrNotFound) {
		// Deleted before this event was processed.
		return w.mirror.RemoveEntry(ctx, ev.EntryID)
	}
	if err != nil {
		return err
	}
	if err := w.mirror.UpsertEntry(ctx, e); err != nil {
		return err
	}
	w.logger.DebugContext(ctx, "Entry mirrored",
		applog.FieldOperation, applog.OpMirror, applog.FieldEntryID, e.ID)
	return nil
}

// Reconcile recalculates every allocation of the current fiscal year and
// logs any accumulator drift.
func (w *Worker) Reconcile(ctx context.Context) error {
	year := w.now().Year()
	n, err := w.budgets.RecalculateYear(ctx, year)
	if err != nil {
		return fmt.Errorf("recalculate %d: %w", year, err)
	}
	w.logger.InfoContext(ctx, "Budget allocations reconciled",
		applog.FieldOperation, applog.OpReconcile, applog.FieldFiscalYear, year, "allocations", n)

	if w.auditor == nil {
		return nil
	}
	drift, err := w.auditor.Audit(ctx)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	for _, d := range drift {
		w.logger.WarnContext(ctx, "Spent accumulator drift detected",
			"resource", d.Resource, "id", d.ID,
			"stored", d.Stored.StringFixed(2), "expected", d.Expected.StringFixed(2))
	}
	return nil
}

// Run reconciles once at startup and then every interval until ctx ends.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	if err := w.Reconcile(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Startup reconcile failed", applog.FieldError, err)
	}
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Reconcile(ctx); err != nil {
				w.logger.ErrorContext(ctx, "Periodic reconcile failed", applog.FieldError, err)
			}
		}
	}
}
