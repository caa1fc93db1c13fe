// Package ledger keeps ledger entries and the spent accumulators of their
// departments and projects in step.
//
// Every mutation reverses or applies an entry's contribution inside the same
// store transaction that writes the entry, so either all of it is kept or
// none of it is.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"bizledger/internal/core"
	applog "bizledger/internal/log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config controls retries of transient storage failures.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig returns sensible defaults for the engine.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  time.Second,
	}
}

// Engine applies ledger mutations.
type Engine struct {
	store     Store
	publisher Publisher
	cfg       Config
	logger    *applog.Logger

	newID func() string
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an engine over store. publisher may be nil.
func NewEngine(store Store, publisher Publisher, cfg Config, logger *applog.Logger) *Engine {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = applog.Discard()
	}
	return &Engine{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.WithComponent(applog.ComponentLedger),
		newID:     uuid.NewString,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// CreateEntry validates entry, derives its VAT fields, stores it and adds
// its contribution to its department and project.
func (e *Engine) CreateEntry(ctx context.Context, entry core.Entry) (core.Entry, error) {
	entry.ID = e.newID()
	if entry.Status == "" {
		entry.Status = core.StatusPending
	}
	entry.Description = strings.TrimSpace(entry.Description)
	now := e.now().UTC()
	entry.CreatedAt, entry.UpdatedAt = now, now

	if err := entry.Validate(); err != nil {
		return core.Entry{}, err
	}
	if err := entry.ApplyVAT(); err != nil {
		return core.Entry{}, err
	}

	attempts, err := e.withRetry(ctx, applog.OpCreate, func(tx Tx) error {
		if err := resolveAttribution(ctx, tx, &entry); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		return applyContribution(ctx, tx, applog.OpCreate, entry, entry.Contribution())
	})
	if err != nil {
		return core.Entry{}, e.fail(ctx, applog.OpCreate, entry, entry.Contribution(), attempts, err)
	}

	e.logMutation(ctx, applog.OpCreate, entry, entry.Contribution())
	e.publish(ctx, Event{Type: EventCreated, EntryID: entry.ID, Kind: entry.Kind, After: attributionOf(entry), OccurredAt: now})
	return entry, nil
}

// UpdateEntry applies patch to the entry with the given id. The old
// contribution is always reversed from the old department and project and
// the recomputed one applied to the new ones.
func (e *Engine) UpdateEntry(ctx context.Context, id string, patch EntryPatch) (core.Entry, error) {
	var before, after core.Entry
	attempts, err := e.withRetry(ctx, applog.OpUpdate, func(tx Tx) error {
		old, err := tx.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		next, err := patch.apply(old)
		if err != nil {
			return err
		}
		next.Description = strings.TrimSpace(next.Description)
		next.UpdatedAt = e.now().UTC()
		if err := next.Validate(); err != nil {
			return err
		}
		if err := next.ApplyVAT(); err != nil {
			return err
		}
		if err := resolveAttribution(ctx, tx, &next); err != nil {
			return err
		}

		if err := applyContribution(ctx, tx, applog.OpUpdate, old, old.Contribution().Neg()); err != nil {
			return err
		}
		if err := applyContribution(ctx, tx, applog.OpUpdate, next, next.Contribution()); err != nil {
			return err
		}
		if err := tx.UpdateEntry(ctx, next); err != nil {
			return fmt.Errorf("update entry: %w", err)
		}
		before, after = old, next
		return nil
	})
	if err != nil {
		target, delta := e.uncommitted(ctx, id, &patch, err)
		return core.Entry{}, e.fail(ctx, applog.OpUpdate, target, delta, attempts, err)
	}

	e.logMutation(ctx, applog.OpUpdate, after, after.Contribution().Sub(before.Contribution()))
	e.publish(ctx, Event{
		Type: EventUpdated, EntryID: id, Kind: after.Kind,
		Before: attributionOf(before), After: attributionOf(after), OccurredAt: after.UpdatedAt,
	})
	return after, nil
}

// DeleteEntry removes an entry and reverses its full contribution.
func (e *Engine) DeleteEntry(ctx context.Context, id string) error {
	var removed core.Entry
	attempts, err := e.withRetry(ctx, applog.OpDelete, func(tx Tx) error {
		old, err := tx.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		if err := applyContribution(ctx, tx, applog.OpDelete, old, old.Contribution().Neg()); err != nil {
			return err
		}
		if err := tx.DeleteEntry(ctx, id); err != nil {
			return fmt.Errorf("delete entry: %w", err)
		}
		removed = old
		return nil
	})
	if err != nil {
		target, delta := e.uncommitted(ctx, id, nil, err)
		return e.fail(ctx, applog.OpDelete, target, delta, attempts, err)
	}

	e.logMutation(ctx, applog.OpDelete, removed, removed.Contribution().Neg())
	e.publish(ctx, Event{Type: EventDeleted, EntryID: id, Kind: removed.Kind, Before: attributionOf(removed), OccurredAt: e.now().UTC()})
	return nil
}

// UpdateStatus changes only the workflow status. Accumulators are untouched.
func (e *Engine) UpdateStatus(ctx context.Context, id string, status core.Status) (core.Entry, error) {
	var updated core.Entry
	attempts, err := e.withRetry(ctx, applog.OpUpdateStatus, func(tx Tx) error {
		cur, err := tx.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		if !core.ValidStatus(cur.Kind, status) {
			return &core.ValidationError{Field: "status", Reason: "unknown status " + string(status) + " for " + string(cur.Kind)}
		}
		cur.Status = status
		cur.UpdatedAt = e.now().UTC()
		if err := tx.UpdateEntry(ctx, cur); err != nil {
			return fmt.Errorf("update entry status: %w", err)
		}
		updated = cur
		return nil
	})
	if err != nil {
		target, _ := e.uncommitted(ctx, id, nil, err)
		return core.Entry{}, e.fail(ctx, applog.OpUpdateStatus, target, decimal.Zero, attempts, err)
	}

	e.publish(ctx, Event{
		Type: EventStatusChanged, EntryID: id, Kind: updated.Kind,
		Before: attributionOf(updated), After: attributionOf(updated), OccurredAt: updated.UpdatedAt,
	})
	return updated, nil
}

func (e *Engine) GetEntry(ctx context.Context, id string) (core.Entry, error) {
	return e.store.GetEntry(ctx, id)
}

func (e *Engine) ListEntries(ctx context.Context, f core.EntryFilter) ([]core.Entry, error) {
	return e.store.ListEntries(ctx, f)
}

// Audit recomputes every accumulator from the stored entries and reports
// the ones that disagree. It never writes.
func (e *Engine) Audit(ctx context.Context) ([]core.AccumulatorDrift, error) {
	entries, err := e.store.ListEntries(ctx, core.EntryFilter{})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	depts, err := e.store.ListDepartments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	projects, err := e.store.ListProjects(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	byDept := map[string]decimal.Decimal{}
	byProject := map[string]decimal.Decimal{}
	for _, en := range entries {
		c := en.Contribution()
		if en.DepartmentID != "" {
			byDept[en.DepartmentID] = byDept[en.DepartmentID].Add(c)
		}
		if en.ProjectID != "" {
			byProject[en.ProjectID] = byProject[en.ProjectID].Add(c)
		}
	}

	var drift []core.AccumulatorDrift
	for _, d := range depts {
		if want := byDept[d.ID]; !want.Equal(d.Spent) {
			drift = append(drift, core.AccumulatorDrift{Resource: "department", ID: d.ID, Stored: d.Spent, Expected: want})
		}
	}
	for _, p := range projects {
		if want := byProject[p.ID]; !want.Equal(p.Spent) {
			drift = append(drift, core.AccumulatorDrift{Resource: "project", ID: p.ID, Stored: p.Spent, Expected: want})
		}
	}
	sort.Slice(drift, func(i, j int) bool {
		if drift[i].Resource != drift[j].Resource {
			return drift[i].Resource < drift[j].Resource
		}
		return drift[i].ID < drift[j].ID
	})
	return drift, nil
}

// resolveAttribution checks that the referenced department and project
// exist and agree. A project without a department takes its department.
func resolveAttribution(ctx context.Context, tx Tx, entry *core.Entry) error {
	if entry.ProjectID != "" {
		p, err := tx.GetProject(ctx, entry.ProjectID)
		if err != nil {
			return err
		}
		switch {
		case entry.DepartmentID == "":
			entry.DepartmentID = p.DepartmentID
		case entry.DepartmentID != p.DepartmentID:
			return &core.ValidationError{
				Field:  "department_id",
				Reason: fmt.Sprintf("project %s belongs to department %s", p.ID, p.DepartmentID),
			}
		}
	}
	if entry.DepartmentID != "" {
		if _, err := tx.GetDepartment(ctx, entry.DepartmentID); err != nil {
			return err
		}
	}
	return nil
}

// applyContribution adds delta to the accumulators the entry is booked
// against. Failures are reported as ConsistencyError.
func applyContribution(ctx context.Context, tx Tx, op string, entry core.Entry, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	fail := func(err error) error {
		return &core.ConsistencyError{
			Op: op, EntryID: entry.ID, DepartmentID: entry.DepartmentID, ProjectID: entry.ProjectID,
			Delta: delta, Err: err,
		}
	}
	if entry.DepartmentID != "" {
		if err := tx.AdjustDepartmentSpent(ctx, entry.DepartmentID, delta); err != nil {
			return fail(fmt.Errorf("adjust department spent: %w", err))
		}
	}
	if entry.ProjectID != "" {
		if err := tx.AdjustProjectSpent(ctx, entry.ProjectID, delta); err != nil {
			return fail(fmt.Errorf("adjust project spent: %w", err))
		}
	}
	return nil
}

// withRetry runs fn in a transaction, retrying transient failures with
// exponential backoff. It returns the number of attempts made.
func (e *Engine) withRetry(ctx context.Context, op string, fn func(tx Tx) error) (int, error) {
	for attempt := 1; ; attempt++ {
		err := e.store.InTx(ctx, fn)
		if err == nil || !core.IsTransient(err) || attempt >= e.cfg.MaxAttempts {
			return attempt, err
		}
		wait := e.backoff(attempt)
		e.logger.WarnContext(ctx, "Transient storage failure, retrying",
			applog.FieldOperation, op, applog.FieldAttempt, attempt, "backoff", wait, applog.FieldError, err)
		if serr := e.sleep(ctx, wait); serr != nil {
			return attempt, err
		}
	}
}

func (e *Engine) backoff(attempt int) time.Duration {
	d := e.cfg.BaseBackoff << (attempt - 1)
	if e.cfg.MaxBackoff > 0 && d > e.cfg.MaxBackoff {
		return e.cfg.MaxBackoff
	}
	return d
}

// uncommitted describes an update (patch set) or delete (patch nil) whose
// transaction never committed, reading the entry as it is stored now. The
// delta is the change the mutation would have applied to the entry's
// current department and project.
func (e *Engine) uncommitted(ctx context.Context, id string, patch *EntryPatch, err error) (core.Entry, decimal.Decimal) {
	if !core.IsTransient(err) {
		return core.Entry{ID: id}, decimal.Zero
	}
	old, lerr := e.store.GetEntry(context.WithoutCancel(ctx), id)
	if lerr != nil {
		return core.Entry{ID: id}, decimal.Zero
	}
	if patch == nil {
		return old, old.Contribution().Neg()
	}
	next, perr := patch.apply(old)
	if perr == nil {
		perr = next.ApplyVAT()
	}
	if perr != nil {
		return old, decimal.Zero
	}
	return old, next.Contribution().Sub(old.Contribution())
}

// fail converts exhausted transient failures into ConsistencyError and
// leaves validation, not-found and conflict errors untouched.
func (e *Engine) fail(ctx context.Context, op string, entry core.Entry, delta decimal.Decimal, attempts int, err error) error {
	var ce *core.ConsistencyError
	switch {
	case errors.As(err, &ce):
		ce.Attempts = attempts
	case core.IsTransient(err):
		ce = &core.ConsistencyError{
			Op: op, EntryID: entry.ID, DepartmentID: entry.DepartmentID, ProjectID: entry.ProjectID,
			Delta: delta, Attempts: attempts, Err: err,
		}
	default:
		return err
	}
	fields := applog.NewFields().
		WithOperation(op).
		WithEntry(ce.EntryID, string(entry.Kind), ce.DepartmentID, ce.ProjectID).
		WithDelta(ce.Delta).
		WithError(ce.Err)
	e.logger.ErrorContext(ctx, "Ledger mutation rolled back", append(fields.ToSlice(), applog.FieldAttempt, attempts)...)
	return ce
}

func (e *Engine) logMutation(ctx context.Context, op string, entry core.Entry, delta decimal.Decimal) {
	fields := applog.NewFields().
		WithOperation(op).
		WithEntry(entry.ID, string(entry.Kind), entry.DepartmentID, entry.ProjectID).
		WithDelta(delta)
	e.logger.InfoContext(ctx, "Ledger entry committed", fields.ToSlice()...)
}

// publish never fails the mutation; the worker reconciles missed events.
func (e *Engine) publish(ctx context.Context, ev Event) {
	if e.publisher == nil {
		e.logger.DebugContext(ctx, "No ledger event publisher configured", applog.FieldEntryID, ev.EntryID)
		return
	}
	if err := e.publisher.PublishLedgerEvent(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish ledger event",
			applog.FieldEntryID, ev.EntryID, applog.FieldEventType, string(ev.Type), applog.FieldError, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
