package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"bizledger/internal/core"
	"bizledger/internal/directory"
	"bizledger/internal/ledger"
	applog "bizledger/internal/log"
	"bizledger/internal/middleware/ratelimit"
	"bizledger/internal/middleware/security"
	"bizledger/internal/middleware/trace"

	"github.com/shopspring/decimal"
)

// LedgerService is the part of ledger.Engine the API uses.
type LedgerService interface {
	CreateEntry(ctx context.Context, entry core.Entry) (core.Entry, error)
	UpdateEntry(ctx context.Context, id string, patch ledger.EntryPatch) (core.Entry, error)
	DeleteEntry(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status core.Status) (core.Entry, error)
	GetEntry(ctx context.Context, id string) (core.Entry, error)
	ListEntries(ctx context.Context, f core.EntryFilter) ([]core.Entry, error)
	Audit(ctx context.Context) ([]core.AccumulatorDrift, error)
}

// DirectoryService is the part of directory.Directory the API uses.
type DirectoryService interface {
	GetDepartment(ctx context.Context, id string) (core.Department, error)
	ListDepartments(ctx context.Context) ([]core.Department, error)
	CreateDepartment(ctx context.Context, d core.Department) (core.Department, error)
	UpdateDepartment(ctx context.Context, id string, u directory.DepartmentUpdate) (core.Department, error)
	DeleteDepartment(ctx context.Context, id string) error

	GetProject(ctx context.Context, id string) (core.Project, error)
	ListProjects(ctx context.Context, departmentID string) ([]core.Project, error)
	CreateProject(ctx context.Context, p core.Project) (core.Project, error)
	UpdateProject(ctx context.Context, id string, u directory.ProjectUpdate) (core.Project, error)
	DeleteProject(ctx context.Context, id string) error
}

// BudgetService is the part of budget.Service the API uses.
type BudgetService interface {
	Summary(ctx context.Context, fiscalYear int) (core.BudgetSummary, error)
	RecalculateBudgetSpent(ctx context.Context, allocationID string) (core.Allocation, error)
	CreateAllocation(ctx context.Context, a core.Allocation) (core.Allocation, error)
	GetAllocation(ctx context.Context, id string) (core.Allocation, error)
	ListAllocations(ctx context.Context, fiscalYear int) ([]core.Allocation, error)
	UpdateAllocation(ctx context.Context, id string, allocated *decimal.Decimal, notes *string) (core.Allocation, error)
	DeleteAllocation(ctx context.Context, id string) error

	DepartmentSummaries(ctx context.Context) ([]core.DepartmentSummary, error)
	ProjectSummaries(ctx context.Context, departmentID string) ([]core.ProjectSummary, error)
	QuarterSummaries(ctx context.Context, fiscalYear int) ([]core.QuarterSummary, error)
	VATSummary(ctx context.Context, fiscalYear, quarter int) (core.VATSummary, error)
	IncomeSummary(ctx context.Context, fiscalYear int) (core.IncomeSummary, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the collaborators the handlers call.
type Services struct {
	Ledger    LedgerService
	Directory DirectoryService
	Budget    BudgetService
	Store     Pinger
}

// Options tune the server.
type Options struct {
	// DefaultVATRate applies to new expenses that do not carry a rate.
	DefaultVATRate    decimal.Decimal
	RequestsPerMinute int
	TrustedProxies    []string
}

type Server struct {
	http.Server
	svc            Services
	defaultVATRate decimal.Decimal
	logger         *applog.Logger

	rateLimiter *ratelimit.Limiter
	detector    *security.Detector
	tracer      *trace.Middleware

	startTime    time.Time
	now          func() time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, svc Services, opts Options, logger *applog.Logger) *Server {
	if logger == nil {
		logger = applog.Discard()
	}
	detector := security.NewDetector()
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", applog.FieldError, err)
		}
	}

	s := &Server{
		svc:            svc,
		defaultVATRate: opts.DefaultVATRate,
		logger:         logger.WithComponent(applog.ComponentHTTP),
		rateLimiter:    ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RequestsPerMinute}),
		detector:       detector,
		tracer:         trace.NewMiddleware(logger, detector.ExtractClientIP),
		startTime:      time.Now(),
		now:            time.Now,
	}

	mux := http.NewServeMux()
	s.routes(mux)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.rateLimiter.Middleware(detector.ExtractClientIP, func(w http.ResponseWriter, _ *http.Request) {
		ErrorResponse(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, retry later", "").Write(w)
	}, http.MethodPost, http.MethodPatch, http.MethodDelete)

	var handler http.Handler = mux
	handler = limit(handler)
	handler = headers.Middleware(handler)
	handler = detector.Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/departments", s.handleListDepartments)
	mux.HandleFunc("POST /api/departments", s.handleCreateDepartment)
	mux.HandleFunc("GET /api/departments/{id}", s.handleGetDepartment)
	mux.HandleFunc("PATCH /api/departments/{id}", s.handleUpdateDepartment)
	mux.HandleFunc("DELETE /api/departments/{id}", s.handleDeleteDepartment)

	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/projects/{id}", s.handleGetProject)
	mux.HandleFunc("PATCH /api/projects/{id}", s.handleUpdateProject)
	mux.HandleFunc("DELETE /api/projects/{id}", s.handleDeleteProject)

	for _, route := range []struct {
		prefix string
		kind   core.EntryKind
	}{
		{"/api/expenses", core.KindExpense},
		{"/api/incomes", core.KindIncome},
	} {
		mux.HandleFunc("GET "+route.prefix, s.handleListEntries(route.kind))
		mux.HandleFunc("POST "+route.prefix, s.handleCreateEntry(route.kind))
		mux.HandleFunc("GET "+route.prefix+"/{id}", s.handleGetEntry(route.kind))
		mux.HandleFunc("PATCH "+route.prefix+"/{id}", s.handleUpdateEntry(route.kind))
		mux.HandleFunc("DELETE "+route.prefix+"/{id}", s.handleDeleteEntry(route.kind))
		mux.HandleFunc("PATCH "+route.prefix+"/{id}/status", s.handleUpdateStatus(route.kind))
	}

	mux.HandleFunc("GET /api/budgets", s.handleListAllocations)
	mux.HandleFunc("POST /api/budgets", s.handleCreateAllocation)
	mux.HandleFunc("GET /api/budgets/summary", s.handleBudgetSummary)
	mux.HandleFunc("GET /api/budgets/{id}", s.handleGetAllocation)
	mux.HandleFunc("PATCH /api/budgets/{id}", s.handleUpdateAllocation)
	mux.HandleFunc("DELETE /api/budgets/{id}", s.handleDeleteAllocation)
	mux.HandleFunc("POST /api/budgets/{id}/recalculate", s.handleRecalculateAllocation)

	mux.HandleFunc("GET /api/reports/departments", s.handleDepartmentReport)
	mux.HandleFunc("GET /api/reports/projects", s.handleProjectReport)
	mux.HandleFunc("GET /api/reports/quarters", s.handleQuarterReport)
	mux.HandleFunc("GET /api/reports/vat", s.handleVATReport)
	mux.HandleFunc("GET /api/reports/income", s.handleIncomeReport)
	mux.HandleFunc("GET /api/reports/audit", s.handleAuditReport)

	mux.HandleFunc("POST /api/vat/calculate", s.handleVATCalculate)
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.svc.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.svc.Store.Ping(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, "not_ready", "store unreachable", "").Write(w)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleMetrics serves counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	tm := s.tracer.GetMetrics()
	rm := s.rateLimiter.GetMetrics()
	dm := s.detector.GetMetrics()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "bizledger_uptime_seconds %d\n", int64(time.Since(s.startTime).Seconds()))
	fmt.Fprintf(w, "bizledger_http_requests_total %d\n", tm.TotalRequests)
	fmt.Fprintf(w, "bizledger_http_response_time_avg_microseconds %d\n", tm.AverageResponseTime)
	fmt.Fprintf(w, "bizledger_rate_limit_hits_total %d\n", rm.TotalHits)
	fmt.Fprintf(w, "bizledger_rate_limit_clients %d\n", rm.ClientCount)
	fmt.Fprintf(w, "bizledger_suspicious_requests_total %d\n", dm.SuspiciousRequests)
}

// parseBody parses the request body, writing a 422 on failure.
func parseBody(w http.ResponseWriter, r *http.Request) (*RequestBodyParser, bool) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		writeError(w, r, "parse_body", err)
		return nil, false
	}
	return p, true
}
