package ledger

import (
	"time"

	"bizledger/internal/core"
)

type EventType string

const (
	EventCreated       EventType = "entry.created"
	EventUpdated       EventType = "entry.updated"
	EventDeleted       EventType = "entry.deleted"
	EventStatusChanged EventType = "entry.status_changed"
)

// Attribution is where an entry version was booked.
type Attribution struct {
	DepartmentID string    `json:"department_id,omitempty"`
	ProjectID    string    `json:"project_id,omitempty"`
	Date         core.Date `json:"-"`
	DateISO      string    `json:"date"`
}

// Event describes a committed ledger mutation. Before is empty for
// creations and After is empty for deletions.
type Event struct {
	Type       EventType      `json:"type"`
	EntryID    string         `json:"entry_id"`
	Kind       core.EntryKind `json:"kind"`
	Before     *Attribution   `json:"before,omitempty"`
	After      *Attribution   `json:"after,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func attributionOf(e core.Entry) *Attribution {
	return &Attribution{
		DepartmentID: e.DepartmentID,
		ProjectID:    e.ProjectID,
		Date:         e.Date,
		DateISO:      e.Date.String(),
	}
}

// Touched returns the attributions of both versions, skipping absent ones.
func (ev Event) Touched() []Attribution {
	var out []Attribution
	for _, a := range []*Attribution{ev.Before, ev.After} {
		if a == nil {
			continue
		}
		if a.Date.IsZero() && a.DateISO != "" {
			if d, err := core.ParseDate(a.DateISO); err == nil {
				a.Date = d
			}
		}
		out = append(out, *a)
	}
	return out
}

// DepartmentIDs returns the distinct non-empty departments touched.
func (ev Event) DepartmentIDs() []string {
	return ev.distinct(func(a Attribution) string { return a.DepartmentID })
}

// ProjectIDs returns the distinct non-empty projects touched.
func (ev Event) ProjectIDs() []string {
	return ev.distinct(func(a Attribution) string { return a.ProjectID })
}

func (ev Event) distinct(key func(Attribution) string) []string {
	seen := map[string]bool{}
	var out []string
	for _, a := range ev.Touched() {
		k := key(a)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
