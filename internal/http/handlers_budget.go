package http

import (
	"net/http"

	"bizledger/internal/core"
	applog "bizledger/internal/log"
)

func (s *Server) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodParams(r.URL.Query(), s.now())
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	allocs, err := s.svc.Budget.ListAllocations(r.Context(), period.Year)
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	if period.Quarter != 0 {
		kept := allocs[:0]
		for _, a := range allocs {
			if a.Quarter == period.Quarter {
				kept = append(kept, a)
			}
		}
		allocs = kept
	}
	writeJSON(w, http.StatusOK, listOf(allocs, toAllocationJSON))
}

func (s *Server) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Budget.GetAllocation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationJSON(a))
}

func (s *Server) handleCreateAllocation(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	a := core.Allocation{
		DepartmentID: p.Get("department_id"),
		FiscalYear:   s.now().Year(),
		Notes:        p.Get("notes"),
	}
	year, err := p.Int("fiscal_year")
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	if year != nil {
		a.FiscalYear = *year
	}
	quarter, err := p.Int("quarter")
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	if quarter != nil {
		a.Quarter = *quarter
	}
	allocated, err := p.Money("allocated")
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	if allocated == nil {
		writeError(w, r, applog.OpCreate, &core.ValidationError{Field: "allocated", Reason: "is required"})
		return
	}
	a.Allocated = *allocated

	created, err := s.svc.Budget.CreateAllocation(r.Context(), a)
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationJSON(created))
}

func (s *Server) handleUpdateAllocation(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	for _, field := range []string{"spent", "department_id", "fiscal_year", "quarter"} {
		if p.Has(field) {
			writeError(w, r, applog.OpUpdate, &core.ValidationError{Field: field, Reason: "cannot be changed"})
			return
		}
	}
	allocated, err := p.Money("allocated")
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	updated, err := s.svc.Budget.UpdateAllocation(r.Context(), r.PathValue("id"), allocated, p.StringPtr("notes"))
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationJSON(updated))
}

func (s *Server) handleDeleteAllocation(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Budget.DeleteAllocation(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, applog.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecalculateAllocation(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Budget.RecalculateBudgetSpent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, applog.OpRecalculate, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationJSON(a))
}

func (s *Server) handleBudgetSummary(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodParams(r.URL.Query(), s.now())
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	sum, err := s.svc.Budget.Summary(r.Context(), period.Year)
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetSummaryJSON(sum))
}
