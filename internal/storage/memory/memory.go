// Package memory is an in-process store used for tests and local demos.
// Transactions hold a single lock and restore a snapshot on failure.
package memory

import (
	"context"
	"sort"
	"sync"

	"bizledger/internal/core"
	"bizledger/internal/ledger"

	"github.com/shopspring/decimal"
)

type state struct {
	departments map[string]core.Department
	projects    map[string]core.Project
	entries     map[string]core.Entry
	allocations map[string]core.Allocation
}

func newState() state {
	return state{
		departments: map[string]core.Department{},
		projects:    map[string]core.Project{},
		entries:     map[string]core.Entry{},
		allocations: map[string]core.Allocation{},
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.departments {
		c.departments[k] = v
	}
	for k, v := range s.projects {
		c.projects[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.allocations {
		c.allocations[k] = v
	}
	return c
}

// Store implements the ledger, directory and budget stores in memory.
type Store struct {
	mu sync.Mutex
	st state
}

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) Close() error { return nil }

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// InTx runs fn under the store lock. Any error restores the state as it
// was before fn started.
func (s *Store) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(&tx{st: &s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

type tx struct {
	st *state
}

func (t *tx) GetEntry(_ context.Context, id string) (core.Entry, error) {
	return t.st.entry(id)
}

func (t *tx) GetDepartment(_ context.Context, id string) (core.Department, error) {
	return t.st.department(id)
}

func (t *tx) GetProject(_ context.Context, id string) (core.Project, error) {
	return t.st.project(id)
}

func (t *tx) InsertEntry(_ context.Context, e core.Entry) error {
	if _, ok := t.st.entries[e.ID]; ok {
		return &core.ConflictError{Resource: "entry", Reason: "id " + e.ID + " already exists"}
	}
	t.st.entries[e.ID] = copyEntry(e)
	return nil
}

func (t *tx) UpdateEntry(_ context.Context, e core.Entry) error {
	if _, ok := t.st.entries[e.ID]; !ok {
		return &core.NotFoundError{Resource: "entry", ID: e.ID}
	}
	t.st.entries[e.ID] = copyEntry(e)
	return nil
}

func (t *tx) DeleteEntry(_ context.Context, id string) error {
	if _, ok := t.st.entries[id]; !ok {
		return &core.NotFoundError{Resource: "entry", ID: id}
	}
	delete(t.st.entries, id)
	return nil
}

func (t *tx) AdjustDepartmentSpent(_ context.Context, id string, delta decimal.Decimal) error {
	if id == "" {
		return nil
	}
	d, ok := t.st.departments[id]
	if !ok {
		return &core.NotFoundError{Resource: "department", ID: id}
	}
	next := d.Spent.Add(delta)
	if next.IsNegative() {
		return core.ErrNegativeAccumulator
	}
	d.Spent = next
	t.st.departments[id] = d
	return nil
}

func (t *tx) AdjustProjectSpent(_ context.Context, id string, delta decimal.Decimal) error {
	if id == "" {
		return nil
	}
	p, ok := t.st.projects[id]
	if !ok {
		return &core.NotFoundError{Resource: "project", ID: id}
	}
	next := p.Spent.Add(delta)
	if next.IsNegative() {
		return core.ErrNegativeAccumulator
	}
	p.Spent = next
	t.st.projects[id] = p
	return nil
}

func (s state) entry(id string) (core.Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return core.Entry{}, &core.NotFoundError{Resource: "entry", ID: id}
	}
	return copyEntry(e), nil
}

func (s state) department(id string) (core.Department, error) {
	d, ok := s.departments[id]
	if !ok {
		return core.Department{}, &core.NotFoundError{Resource: "department", ID: id}
	}
	return d, nil
}

func (s state) project(id string) (core.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return core.Project{}, &core.NotFoundError{Resource: "project", ID: id}
	}
	return p, nil
}

// Reads

func (s *Store) GetEntry(_ context.Context, id string) (core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.entry(id)
}

func (s *Store) ListEntries(_ context.Context, f core.EntryFilter) ([]core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Entry, 0, len(s.st.entries))
	for _, e := range s.st.entries {
		if matches(f, e) {
			out = append(out, copyEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.After(out[j].Date.Time)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func matches(f core.EntryFilter, e core.Entry) bool {
	switch {
	case f.Kind != "" && e.Kind != f.Kind:
		return false
	case f.DepartmentID != "" && e.DepartmentID != f.DepartmentID:
		return false
	case f.ProjectID != "" && e.ProjectID != f.ProjectID:
		return false
	case f.Status != "" && e.Status != f.Status:
		return false
	case !f.From.IsZero() && e.Date.Before(f.From.Time):
		return false
	case !f.To.IsZero() && e.Date.After(f.To.Time):
		return false
	}
	return true
}

func (s *Store) GetDepartment(_ context.Context, id string) (core.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.department(id)
}

func (s *Store) ListDepartments(_ context.Context) ([]core.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Department, 0, len(s.st.departments))
	for _, d := range s.st.departments {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetProject(_ context.Context, id string) (core.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.project(id)
}

func (s *Store) ListProjects(_ context.Context, departmentID string) ([]core.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Project, 0, len(s.st.projects))
	for _, p := range s.st.projects {
		if departmentID == "" || p.DepartmentID == departmentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// Directory writes

func (s *Store) CreateDepartment(_ context.Context, d core.Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.departments[d.ID]; ok {
		return &core.ConflictError{Resource: "department", Reason: "id " + d.ID + " already exists"}
	}
	s.st.departments[d.ID] = d
	return nil
}

// UpdateDepartment stores descriptive fields. Spent is kept as stored.
func (s *Store) UpdateDepartment(_ context.Context, d core.Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.st.departments[d.ID]
	if !ok {
		return &core.NotFoundError{Resource: "department", ID: d.ID}
	}
	d.Spent = cur.Spent
	d.CreatedAt = cur.CreatedAt
	s.st.departments[d.ID] = d
	return nil
}

func (s *Store) DeleteDepartment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.departments[id]; !ok {
		return &core.NotFoundError{Resource: "department", ID: id}
	}
	for _, p := range s.st.projects {
		if p.DepartmentID == id {
			return &core.ConflictError{Resource: "department", Reason: "projects still belong to it"}
		}
	}
	for _, e := range s.st.entries {
		if e.DepartmentID == id {
			return &core.ConflictError{Resource: "department", Reason: "ledger entries still reference it"}
		}
	}
	for _, a := range s.st.allocations {
		if a.DepartmentID == id {
			return &core.ConflictError{Resource: "department", Reason: "budget allocations still reference it"}
		}
	}
	delete(s.st.departments, id)
	return nil
}

func (s *Store) CreateProject(_ context.Context, p core.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.departments[p.DepartmentID]; !ok {
		return &core.NotFoundError{Resource: "department", ID: p.DepartmentID}
	}
	for _, other := range s.st.projects {
		if other.Code == p.Code {
			return &core.ConflictError{Resource: "project", Reason: "code " + p.Code + " already in use"}
		}
	}
	s.st.projects[p.ID] = p
	return nil
}

// UpdateProject stores descriptive fields. Spent is kept as stored.
func (s *Store) UpdateProject(_ context.Context, p core.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.st.projects[p.ID]
	if !ok {
		return &core.NotFoundError{Resource: "project", ID: p.ID}
	}
	for _, other := range s.st.projects {
		if other.ID != p.ID && other.Code == p.Code {
			return &core.ConflictError{Resource: "project", Reason: "code " + p.Code + " already in use"}
		}
	}
	p.Spent = cur.Spent
	p.CreatedAt = cur.CreatedAt
	s.st.projects[p.ID] = p
	return nil
}

func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.projects[id]; !ok {
		return &core.NotFoundError{Resource: "project", ID: id}
	}
	for _, e := range s.st.entries {
		if e.ProjectID == id {
			return &core.ConflictError{Resource: "project", Reason: "ledger entries still reference it"}
		}
	}
	delete(s.st.projects, id)
	return nil
}

// Budget allocations

func (s *Store) CreateAllocation(_ context.Context, a core.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.departments[a.DepartmentID]; !ok {
		return &core.NotFoundError{Resource: "department", ID: a.DepartmentID}
	}
	for _, other := range s.st.allocations {
		if other.DepartmentID == a.DepartmentID && other.FiscalYear == a.FiscalYear && other.Quarter == a.Quarter {
			return duplicateAllocation()
		}
	}
	s.st.allocations[a.ID] = a
	return nil
}

func duplicateAllocation() error {
	return &core.ConflictError{Resource: "budget allocation", Reason: "department already has a budget for this quarter"}
}

func (s *Store) GetAllocation(_ context.Context, id string) (core.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.allocations[id]
	if !ok {
		return core.Allocation{}, &core.NotFoundError{Resource: "budget allocation", ID: id}
	}
	return a, nil
}

// ListAllocations returns the allocations of a fiscal year, or all of them
// when year is zero.
func (s *Store) ListAllocations(_ context.Context, year int) ([]core.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Allocation, 0, len(s.st.allocations))
	for _, a := range s.st.allocations {
		if year == 0 || a.FiscalYear == year {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FiscalYear != out[j].FiscalYear {
			return out[i].FiscalYear < out[j].FiscalYear
		}
		if out[i].Quarter != out[j].Quarter {
			return out[i].Quarter < out[j].Quarter
		}
		return out[i].DepartmentID < out[j].DepartmentID
	})
	return out, nil
}

// UpdateAllocation stores the allocated amount and notes. Period, department
// and spent are kept as stored.
func (s *Store) UpdateAllocation(_ context.Context, a core.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.st.allocations[a.ID]
	if !ok {
		return &core.NotFoundError{Resource: "budget allocation", ID: a.ID}
	}
	cur.Allocated = a.Allocated
	cur.Notes = a.Notes
	cur.UpdatedAt = a.UpdatedAt
	s.st.allocations[a.ID] = cur
	return nil
}

func (s *Store) DeleteAllocation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.allocations[id]; !ok {
		return &core.NotFoundError{Resource: "budget allocation", ID: id}
	}
	delete(s.st.allocations, id)
	return nil
}

func (s *Store) SetAllocationSpent(_ context.Context, id string, spent decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.allocations[id]
	if !ok {
		return &core.NotFoundError{Resource: "budget allocation", ID: id}
	}
	a.Spent = spent
	s.st.allocations[id] = a
	return nil
}

func copyEntry(e core.Entry) core.Entry {
	if e.Expense != nil {
		x := *e.Expense
		e.Expense = &x
	}
	if e.Income != nil {
		in := *e.Income
		e.Income = &in
	}
	return e
}
