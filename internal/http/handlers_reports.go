package http

import (
	"net/http"
	"strings"

	"bizledger/internal/core"
)

const opReport = "report"

func (s *Server) handleDepartmentReport(w http.ResponseWriter, r *http.Request) {
	sums, err := s.svc.Budget.DepartmentSummaries(r.Context())
	if err != nil {
		writeError(w, r, opReport, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(sums, func(d core.DepartmentSummary) departmentSummaryJSON {
		return departmentSummaryJSON{
			Department:   toDepartmentJSON(d.Department),
			Remaining:    money(d.Remaining),
			Utilization:  money(d.Utilization),
			OverBudget:   d.OverBudget,
			ProjectCount: d.ProjectCount,
		}
	}))
}

func (s *Server) handleProjectReport(w http.ResponseWriter, r *http.Request) {
	sums, err := s.svc.Budget.ProjectSummaries(r.Context(), strings.TrimSpace(r.URL.Query().Get("department_id")))
	if err != nil {
		writeError(w, r, opReport, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(sums, func(p core.ProjectSummary) projectSummaryJSON {
		return projectSummaryJSON{
			Project:       toProjectJSON(p.Project),
			Remaining:     money(p.Remaining),
			Utilization:   money(p.Utilization),
			OverBudget:    p.OverBudget,
			DaysRemaining: p.DaysRemaining,
		}
	}))
}

func (s *Server) handleQuarterReport(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodParams(r.URL.Query(), s.now())
	if err != nil {
		writeError(w, r, opReport, err)
		return
	}
	sums, err := s.svc.Budget.QuarterSummaries(r.Context(), period.Year)
	if err != nil {
		writeError(w, r, opReport, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(sums, func(q core.QuarterSummary) quarterSummaryJSON {
		return quarterSummaryJSON{
			Quarter:   q.Quarter,
			Allocated: money(q.Allocated),
			Spent:     money(q.Spent),
			Remaining: money(q.Remaining),
		}
	}))
}

func (s *Server) handleVATReport(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodParams(r.URL.Query(), s.now())
	if err != nil {
		writeError(w, r, opReport, err)
		return
	}
	sum, err := s.svc.Budget.VATSummary(r.Context(), period.Year, period.Quarter)
	if err != nil {
		writeError(w, r, opReport, err)
		return
	}
	writeJSON(w, http.StatusOK, vatSummaryJSON{
		From:         sum.From.String(),
		To:           sum.To.String(),
		Net:          money(sum.Net),
		VAT:          money(sum.VAT),
		Gross:        money(sum.Gross),
		EntriesCount: sum.EntriesCount,
	})
}

func (s *Server) handleIncomeReport(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodParams(r.URL.Query(), s.now())
	if err != nil {
		writeError(w, r, opReport, err)
		return
	}
	sum, err := s.svc.Budget.IncomeSummary(r.Context(), period.Year)
	if err != nil {
		writeError(w, r, opReport, err)
		return
	}
	writeJSON(w, http.StatusOK, toIncomeSummaryJSON(sum))
}

// handleAuditReport lists accumulators that disagree with their entries.
// It never repairs anything.
func (s *Server) handleAuditReport(w http.ResponseWriter, r *http.Request) {
	drifts, err := s.svc.Ledger.Audit(r.Context())
	if err != nil {
		writeError(w, r, opReport, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(drifts, func(d core.AccumulatorDrift) driftJSON {
		return driftJSON{Resource: d.Resource, ID: d.ID, Stored: money(d.Stored), Expected: money(d.Expected)}
	}))
}

// handleVATCalculate is a calculator: mode "add" treats amount as net,
// mode "extract" treats it as VAT-inclusive.
func (s *Server) handleVATCalculate(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	amount, err := p.Money("amount")
	if err != nil {
		writeError(w, r, "vat_calculate", err)
		return
	}
	if amount == nil {
		writeError(w, r, "vat_calculate", &core.ValidationError{Field: "amount", Reason: "is required"})
		return
	}
	rate := s.defaultVATRate
	if given, err := p.Rate("rate"); err != nil {
		writeError(w, r, "vat_calculate", err)
		return
	} else if given != nil {
		rate = *given
	}

	var out vatCalculationJSON
	switch mode := p.Get("mode"); mode {
	case "", "add":
		vat, err := core.ComputeVAT(*amount, rate)
		if err != nil {
			writeError(w, r, "vat_calculate", err)
			return
		}
		out = vatCalculationJSON{Net: money(*amount), VAT: money(vat), Total: money(amount.Add(vat))}
	case "extract":
		b, err := core.ExtractNetFromTotal(*amount, rate)
		if err != nil {
			writeError(w, r, "vat_calculate", err)
			return
		}
		out = vatCalculationJSON{Net: money(b.Net), VAT: money(b.VAT), Total: money(*amount)}
	default:
		writeError(w, r, "vat_calculate", &core.ValidationError{Field: "mode", Reason: "must be add or extract"})
		return
	}
	out.Rate = rate.String()
	writeJSON(w, http.StatusOK, out)
}
