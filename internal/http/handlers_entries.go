package http

import (
	"net/http"

	"bizledger/internal/core"
	"bizledger/internal/ledger"
	applog "bizledger/internal/log"
)

func (s *Server) handleListEntries(kind core.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := ParseEntryFilter(r.URL.Query(), kind)
		if err != nil {
			writeError(w, r, applog.OpList, err)
			return
		}
		entries, err := s.svc.Ledger.ListEntries(r.Context(), filter)
		if err != nil {
			writeError(w, r, applog.OpList, err)
			return
		}
		writeJSON(w, http.StatusOK, listOf(entries, toEntryJSON))
	}
}

// getEntry loads an entry and hides entries of the other kind behind a 404
// so /api/incomes/{id} never serves an expense.
func (s *Server) getEntry(r *http.Request, kind core.EntryKind) (core.Entry, error) {
	id := r.PathValue("id")
	e, err := s.svc.Ledger.GetEntry(r.Context(), id)
	if err != nil {
		return core.Entry{}, err
	}
	if e.Kind != kind {
		return core.Entry{}, &core.NotFoundError{Resource: string(kind), ID: id}
	}
	return e, nil
}

func (s *Server) handleGetEntry(kind core.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := s.getEntry(r, kind)
		if err != nil {
			writeError(w, r, applog.OpRead, err)
			return
		}
		writeJSON(w, http.StatusOK, toEntryJSON(e))
	}
}

func (s *Server) handleCreateEntry(kind core.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := parseBody(w, r)
		if !ok {
			return
		}
		entry, err := s.entryFromBody(p, kind)
		if err != nil {
			writeError(w, r, applog.OpCreate, err)
			return
		}
		created, err := s.svc.Ledger.CreateEntry(r.Context(), entry)
		if err != nil {
			writeError(w, r, applog.OpCreate, err)
			return
		}
		NewJSONResponse().
			Status(http.StatusCreated).
			Header("Location", r.URL.Path+"/"+created.ID).
			Data(toEntryJSON(created)).
			Write(w)
	}
}

// entryFromBody builds a new entry. Expenses default to VAT applied at the
// configured rate.
func (s *Server) entryFromBody(p *RequestBodyParser, kind core.EntryKind) (core.Entry, error) {
	amount, err := p.Money("amount")
	if err != nil {
		return core.Entry{}, err
	}
	if amount == nil {
		return core.Entry{}, &core.ValidationError{Field: "amount", Reason: "is required"}
	}
	date, err := p.Date("date")
	if err != nil {
		return core.Entry{}, err
	}
	if date == nil {
		return core.Entry{}, &core.ValidationError{Field: "date", Reason: "is required"}
	}

	e := core.Entry{
		Kind:         kind,
		Amount:       *amount,
		Date:         *date,
		Status:       core.Status(p.Get("status")),
		DepartmentID: p.Get("department_id"),
		ProjectID:    p.Get("project_id"),
		Description:  p.Get("description"),
	}

	switch kind {
	case core.KindExpense:
		details := &core.ExpenseDetails{Category: p.Get("category"), VATApplied: true, VATRate: s.defaultVATRate}
		applied, err := p.Bool("vat_applied")
		if err != nil {
			return core.Entry{}, err
		}
		if applied != nil {
			details.VATApplied = *applied
		}
		rate, err := p.Rate("vat_rate")
		if err != nil {
			return core.Entry{}, err
		}
		if rate != nil {
			details.VATRate = *rate
		}
		e.Expense = details
	case core.KindIncome:
		details := &core.IncomeDetails{
			InvoiceNumber: p.Get("invoice_number"),
			ClientName:    p.Get("client_name"),
			ClientEmail:   p.Get("client_email"),
			ClientPhone:   p.Get("client_phone"),
			ClientAddress: p.Get("client_address"),
		}
		due, err := p.Date("due_date")
		if err != nil {
			return core.Entry{}, err
		}
		if due != nil {
			details.DueDate = *due
		}
		e.Income = details
	}
	return e, nil
}

func (s *Server) handleUpdateEntry(kind core.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := parseBody(w, r)
		if !ok {
			return
		}
		for _, field := range []string{"status", "vat_amount", "total_amount", "kind"} {
			if p.Has(field) {
				reason := "cannot be changed"
				if field == "status" {
					reason = "is changed through the status endpoint"
				}
				writeError(w, r, applog.OpUpdate, &core.ValidationError{Field: field, Reason: reason})
				return
			}
		}
		patch, err := patchFromBody(p)
		if err != nil {
			writeError(w, r, applog.OpUpdate, err)
			return
		}
		if _, err := s.getEntry(r, kind); err != nil {
			writeError(w, r, applog.OpUpdate, err)
			return
		}
		updated, err := s.svc.Ledger.UpdateEntry(r.Context(), r.PathValue("id"), patch)
		if err != nil {
			writeError(w, r, applog.OpUpdate, err)
			return
		}
		writeJSON(w, http.StatusOK, toEntryJSON(updated))
	}
}

func patchFromBody(p *RequestBodyParser) (ledger.EntryPatch, error) {
	patch := ledger.EntryPatch{
		Description:   p.StringPtr("description"),
		DepartmentID:  p.StringPtr("department_id"),
		ProjectID:     p.StringPtr("project_id"),
		Category:      p.StringPtr("category"),
		InvoiceNumber: p.StringPtr("invoice_number"),
		ClientName:    p.StringPtr("client_name"),
		ClientEmail:   p.StringPtr("client_email"),
		ClientPhone:   p.StringPtr("client_phone"),
		ClientAddress: p.StringPtr("client_address"),
	}
	var err error
	if patch.Amount, err = p.Money("amount"); err != nil {
		return ledger.EntryPatch{}, err
	}
	if patch.Date, err = p.Date("date"); err != nil {
		return ledger.EntryPatch{}, err
	}
	if patch.VATApplied, err = p.Bool("vat_applied"); err != nil {
		return ledger.EntryPatch{}, err
	}
	if patch.VATRate, err = p.Rate("vat_rate"); err != nil {
		return ledger.EntryPatch{}, err
	}
	if patch.DueDate, err = p.Date("due_date"); err != nil {
		return ledger.EntryPatch{}, err
	}
	return patch, nil
}

func (s *Server) handleDeleteEntry(kind core.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.getEntry(r, kind); err != nil {
			writeError(w, r, applog.OpDelete, err)
			return
		}
		if err := s.svc.Ledger.DeleteEntry(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, r, applog.OpDelete, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleUpdateStatus(kind core.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := parseBody(w, r)
		if !ok {
			return
		}
		status := core.Status(p.Get("status"))
		if status == "" {
			writeError(w, r, applog.OpUpdateStatus, &core.ValidationError{Field: "status", Reason: "is required"})
			return
		}
		if _, err := s.getEntry(r, kind); err != nil {
			writeError(w, r, applog.OpUpdateStatus, err)
			return
		}
		updated, err := s.svc.Ledger.UpdateStatus(r.Context(), r.PathValue("id"), status)
		if err != nil {
			writeError(w, r, applog.OpUpdateStatus, err)
			return
		}
		writeJSON(w, http.StatusOK, toEntryJSON(updated))
	}
}
