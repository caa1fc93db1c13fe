// Package memory is an in-process EntryMirror used when no spreadsheet is
// configured and in tests.
package memory

import (
	"context"
	"sync"

	"bizledger/internal/core"
	"bizledger/internal/sheets"
)

type Store struct {
	mu    sync.Mutex
	order []string
	rows  map[string][]any
}

var _ sheets.EntryMirror = (*Store)(nil)

func New() *Store {
	return &Store{rows: map[string][]any{}}
}

func (s *Store) UpsertEntry(_ context.Context, e core.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	s.rows[e.ID] = sheets.EntryRow(e)
	return nil
}

func (s *Store) RemoveEntry(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[entryID]; !ok {
		return nil
	}
	delete(s.rows, entryID)
	for i, id := range s.order {
		if id == entryID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Rows returns the mirrored rows in first-written order.
func (s *Store) Rows() [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]any, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, append([]any(nil), s.rows[id]...))
	}
	return out
}

// Row returns the row for entryID, if mirrored.
func (s *Store) Row(entryID string) ([]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[entryID]
	return append([]any(nil), r...), ok
}
