// Package directory serves departments and projects through an invalidable
// read cache. Spent accumulators are written by the ledger engine only; this
// package never changes them.
package directory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"bizledger/internal/cache"
	"bizledger/internal/core"
	"bizledger/internal/ledger"
	applog "bizledger/internal/log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const sharedLoadTimeout = 10 * time.Second

// Store is the persistence the directory reads and writes.
type Store interface {
	GetDepartment(ctx context.Context, id string) (core.Department, error)
	ListDepartments(ctx context.Context) ([]core.Department, error)
	CreateDepartment(ctx context.Context, d core.Department) error
	UpdateDepartment(ctx context.Context, d core.Department) error
	DeleteDepartment(ctx context.Context, id string) error

	GetProject(ctx context.Context, id string) (core.Project, error)
	ListProjects(ctx context.Context, departmentID string) ([]core.Project, error)
	CreateProject(ctx context.Context, p core.Project) error
	UpdateProject(ctx context.Context, p core.Project) error
	DeleteProject(ctx context.Context, id string) error
}

type Config struct {
	CacheSize int
	CacheTTL  time.Duration
}

func DefaultConfig() Config {
	return Config{CacheSize: 500, CacheTTL: 30 * time.Second}
}

type DepartmentUpdate struct {
	Name            *string
	AllocatedBudget *decimal.Decimal
	Manager         *string
	Status          *core.DepartmentStatus
}

// ProjectUpdate has no department: moving a project would strand the
// contributions already booked against the old department.
type ProjectUpdate struct {
	Name      *string
	Code      *string
	Budget    *decimal.Decimal
	StartDate *core.Date
	EndDate   *core.Date
	Status    *core.ProjectStatus
	TeamSize  *int
}

type Directory struct {
	store  Store
	logger *applog.Logger

	departments     *cache.LRUCache[core.Department]
	projects        *cache.LRUCache[core.Project]
	departmentLists *cache.LRUCache[[]core.Department]
	projectLists    *cache.LRUCache[[]core.Project]
	group           singleflight.Group
	// generation is bumped on every invalidation so loads that raced with
	// a write do not repopulate the cache with stale rows.
	generation atomic.Uint64

	newID func() string
	now   func() time.Time
}

func New(store Store, cfg Config, logger *applog.Logger) *Directory {
	if logger == nil {
		logger = applog.Discard()
	}
	return &Directory{
		store:           store,
		logger:          logger.WithComponent(applog.ComponentDirectory),
		departments:     cache.NewLRUCache[core.Department](cfg.CacheSize, cfg.CacheTTL),
		projects:        cache.NewLRUCache[core.Project](cfg.CacheSize, cfg.CacheTTL),
		departmentLists: cache.NewLRUCache[[]core.Department](4, cfg.CacheTTL),
		projectLists:    cache.NewLRUCache[[]core.Project](cfg.CacheSize, cfg.CacheTTL),
		newID:           uuid.NewString,
		now:             time.Now,
	}
}

// Caches returns the caches for registration with a cache.Manager.
func (d *Directory) Caches() []cache.Cleaner {
	return []cache.Cleaner{d.departments, d.projects, d.departmentLists, d.projectLists}
}

func (d *Directory) GetDepartment(ctx context.Context, id string) (core.Department, error) {
	return cached(ctx, d, d.departments, "department:"+id, id, func(ctx context.Context) (core.Department, error) {
		return d.store.GetDepartment(ctx, id)
	})
}

func (d *Directory) ListDepartments(ctx context.Context) ([]core.Department, error) {
	list, err := cached(ctx, d, d.departmentLists, "departments", "all", func(ctx context.Context) ([]core.Department, error) {
		return d.store.ListDepartments(ctx)
	})
	return slices.Clone(list), err
}

func (d *Directory) GetProject(ctx context.Context, id string) (core.Project, error) {
	return cached(ctx, d, d.projects, "project:"+id, id, func(ctx context.Context) (core.Project, error) {
		return d.store.GetProject(ctx, id)
	})
}

// ListProjects lists the projects of a department, or all projects when
// departmentID is empty.
func (d *Directory) ListProjects(ctx context.Context, departmentID string) ([]core.Project, error) {
	list, err := cached(ctx, d, d.projectLists, "projects:"+departmentID, departmentID, func(ctx context.Context) ([]core.Project, error) {
		return d.store.ListProjects(ctx, departmentID)
	})
	return slices.Clone(list), err
}

// cached serves key from c or loads it once for all concurrent callers.
// The shared load is detached from the caller that started it, so one
// cancelled request does not fail the others waiting on the same key.
func cached[T any](ctx context.Context, d *Directory, c *cache.LRUCache[T], flightKey, cacheKey string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := c.Get(cacheKey); ok {
		return v, nil
	}
	gen := d.generation.Load()
	ch := d.group.DoChan(flightKey, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()
		v, err := load(loadCtx)
		if err != nil {
			return v, err
		}
		if d.generation.Load() == gen {
			c.Set(cacheKey, v)
		}
		return v, nil
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func (d *Directory) CreateDepartment(ctx context.Context, dept core.Department) (core.Department, error) {
	dept.ID = d.newID()
	dept.Name = strings.TrimSpace(dept.Name)
	dept.Spent = decimal.Zero
	if dept.Status == "" {
		dept.Status = core.DepartmentActive
	}
	now := d.now().UTC()
	dept.CreatedAt, dept.UpdatedAt = now, now
	if err := dept.Validate(); err != nil {
		return core.Department{}, err
	}
	if err := d.store.CreateDepartment(ctx, dept); err != nil {
		return core.Department{}, fmt.Errorf("create department: %w", err)
	}
	d.Invalidate(nil, nil)
	d.logger.InfoContext(ctx, "Department created", applog.FieldDepartmentID, dept.ID)
	return dept, nil
}

func (d *Directory) UpdateDepartment(ctx context.Context, id string, u DepartmentUpdate) (core.Department, error) {
	dept, err := d.store.GetDepartment(ctx, id)
	if err != nil {
		return core.Department{}, err
	}
	if u.Name != nil {
		dept.Name = strings.TrimSpace(*u.Name)
	}
	if u.AllocatedBudget != nil {
		dept.AllocatedBudget = *u.AllocatedBudget
	}
	if u.Manager != nil {
		dept.Manager = *u.Manager
	}
	if u.Status != nil {
		dept.Status = *u.Status
	}
	dept.UpdatedAt = d.now().UTC()
	if err := dept.Validate(); err != nil {
		return core.Department{}, err
	}
	if err := d.store.UpdateDepartment(ctx, dept); err != nil {
		return core.Department{}, fmt.Errorf("update department: %w", err)
	}
	d.Invalidate([]string{id}, nil)
	return d.store.GetDepartment(ctx, id)
}

// DeleteDepartment refuses while projects, entries or allocations still
// reference the department.
func (d *Directory) DeleteDepartment(ctx context.Context, id string) error {
	if err := d.store.DeleteDepartment(ctx, id); err != nil {
		return err
	}
	d.Invalidate([]string{id}, nil)
	d.logger.InfoContext(ctx, "Department deleted", applog.FieldDepartmentID, id)
	return nil
}

func (d *Directory) CreateProject(ctx context.Context, p core.Project) (core.Project, error) {
	p.ID = d.newID()
	p.Name = strings.TrimSpace(p.Name)
	p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
	p.Spent = decimal.Zero
	if p.Status == "" {
		p.Status = core.ProjectActive
	}
	now := d.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if err := p.Validate(); err != nil {
		return core.Project{}, err
	}
	if err := d.store.CreateProject(ctx, p); err != nil {
		return core.Project{}, fmt.Errorf("create project: %w", err)
	}
	d.Invalidate(nil, nil)
	d.logger.InfoContext(ctx, "Project created", applog.FieldProjectID, p.ID, applog.FieldDepartmentID, p.DepartmentID)
	return p, nil
}

func (d *Directory) UpdateProject(ctx context.Context, id string, u ProjectUpdate) (core.Project, error) {
	p, err := d.store.GetProject(ctx, id)
	if err != nil {
		return core.Project{}, err
	}
	if u.Name != nil {
		p.Name = strings.TrimSpace(*u.Name)
	}
	if u.Code != nil {
		p.Code = strings.ToUpper(strings.TrimSpace(*u.Code))
	}
	if u.Budget != nil {
		p.Budget = *u.Budget
	}
	if u.StartDate != nil {
		p.StartDate = *u.StartDate
	}
	if u.EndDate != nil {
		p.EndDate = *u.EndDate
	}
	if u.Status != nil {
		p.Status = *u.Status
	}
	if u.TeamSize != nil {
		p.TeamSize = *u.TeamSize
	}
	p.UpdatedAt = d.now().UTC()
	if err := p.Validate(); err != nil {
		return core.Project{}, err
	}
	if err := d.store.UpdateProject(ctx, p); err != nil {
		return core.Project{}, fmt.Errorf("update project: %w", err)
	}
	d.Invalidate(nil, []string{id})
	return d.store.GetProject(ctx, id)
}

// DeleteProject refuses while ledger entries still reference the project.
func (d *Directory) DeleteProject(ctx context.Context, id string) error {
	if err := d.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	d.Invalidate(nil, []string{id})
	d.logger.InfoContext(ctx, "Project deleted", applog.FieldProjectID, id)
	return nil
}

// Invalidate drops the given departments and projects and every cached list.
func (d *Directory) Invalidate(departmentIDs, projectIDs []string) {
	d.generation.Add(1)
	for _, id := range departmentIDs {
		d.departments.Delete(id)
	}
	for _, id := range projectIDs {
		d.projects.Delete(id)
	}
	d.departmentLists.Purge()
	d.projectLists.Purge()
}

// PublishLedgerEvent lets the directory sit next to the broker publisher
// so committed ledger mutations evict the accumulators they changed.
func (d *Directory) PublishLedgerEvent(_ context.Context, ev ledger.Event) error {
	d.Invalidate(ev.DepartmentIDs(), ev.ProjectIDs())
	return nil
}
