package http

import (
	"net/http"
	"strings"

	"bizledger/internal/core"
	"bizledger/internal/directory"
	applog "bizledger/internal/log"
)

func (s *Server) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	depts, err := s.svc.Directory.ListDepartments(r.Context())
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(depts, toDepartmentJSON))
}

func (s *Server) handleGetDepartment(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Directory.GetDepartment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, toDepartmentJSON(d))
}

func (s *Server) handleCreateDepartment(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	budget, err := p.Money("allocated_budget")
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	d := core.Department{
		Name:    p.Get("name"),
		Manager: p.Get("manager"),
		Status:  core.DepartmentStatus(p.Get("status")),
	}
	if budget != nil {
		d.AllocatedBudget = *budget
	}
	created, err := s.svc.Directory.CreateDepartment(r.Context(), d)
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDepartmentJSON(created))
}

func (s *Server) handleUpdateDepartment(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	if p.Has("spent") {
		writeError(w, r, applog.OpUpdate, &core.ValidationError{Field: "spent", Reason: "is maintained by the ledger and cannot be set"})
		return
	}
	budget, err := p.Money("allocated_budget")
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	u := directory.DepartmentUpdate{
		Name:            p.StringPtr("name"),
		AllocatedBudget: budget,
		Manager:         p.StringPtr("manager"),
	}
	if st := p.StringPtr("status"); st != nil {
		status := core.DepartmentStatus(*st)
		u.Status = &status
	}
	updated, err := s.svc.Directory.UpdateDepartment(r.Context(), r.PathValue("id"), u)
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, toDepartmentJSON(updated))
}

func (s *Server) handleDeleteDepartment(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Directory.DeleteDepartment(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, applog.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.svc.Directory.ListProjects(r.Context(), strings.TrimSpace(r.URL.Query().Get("department_id")))
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(projects, toProjectJSON))
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	proj, err := s.svc.Directory.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectJSON(proj))
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	proj := core.Project{
		Name:         p.Get("name"),
		Code:         p.Get("code"),
		DepartmentID: p.Get("department_id"),
		Status:       core.ProjectStatus(p.Get("status")),
	}
	budget, err := p.Money("budget")
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	if budget != nil {
		proj.Budget = *budget
	}
	start, err := p.Date("start_date")
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	if start != nil {
		proj.StartDate = *start
	}
	end, err := p.Date("end_date")
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	if end != nil {
		proj.EndDate = *end
	}
	team, err := p.Int("team_size")
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	if team != nil {
		proj.TeamSize = *team
	}

	created, err := s.svc.Directory.CreateProject(r.Context(), proj)
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectJSON(created))
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	for _, field := range []string{"spent", "department_id"} {
		if p.Has(field) {
			writeError(w, r, applog.OpUpdate, &core.ValidationError{Field: field, Reason: "cannot be changed"})
			return
		}
	}

	u := directory.ProjectUpdate{Name: p.StringPtr("name"), Code: p.StringPtr("code")}
	if st := p.StringPtr("status"); st != nil {
		status := core.ProjectStatus(*st)
		u.Status = &status
	}
	var err error
	if u.Budget, err = p.Money("budget"); err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	if u.StartDate, err = p.Date("start_date"); err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	if u.EndDate, err = p.Date("end_date"); err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	if u.TeamSize, err = p.Int("team_size"); err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}

	updated, err := s.svc.Directory.UpdateProject(r.Context(), r.PathValue("id"), u)
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectJSON(updated))
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Directory.DeleteProject(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, applog.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
