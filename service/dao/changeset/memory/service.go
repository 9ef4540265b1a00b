package memory

import (
	"context"
	"sync"

	"github.com/viant/govern/model/change"
	"github.com/viant/govern/service/dao"
)

// Service is an in-memory, versioned change set store.  Save performs an
// optimistic compare-and-swap on the set's SCN: the write succeeds only when
// the caller's snapshot matches the persisted copy, otherwise
// dao.ErrVersionConflict is returned.  Load and List hand out deep clones so
// concurrent owners never share captured state.
type Service struct {
	mu      sync.RWMutex
	records map[string]*change.ChangeSet
}

// New creates a new in-memory change set store.
func New() *Service {
	return &Service{records: make(map[string]*change.ChangeSet)}
}

var _ dao.Service[string, change.ChangeSet] = (*Service)(nil)

// Save persists the change set, bumping its SCN on success.
func (s *Service) Save(_ context.Context, changeSet *change.ChangeSet) error {
	if changeSet == nil {
		return dao.ErrNilEntity
	}
	if changeSet.ID == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[changeSet.ID]; ok && existing.SCN != changeSet.SCN {
		return dao.ErrVersionConflict
	}
	changeSet.SCN++
	s.records[changeSet.ID] = changeSet.Clone()
	return nil
}

// Load returns a snapshot of the change set or nil when absent.
func (s *Service) Load(_ context.Context, id string) (*change.ChangeSet, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id].Clone(), nil
}

// Delete removes a change set.
func (s *Service) Delete(_ context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// List returns snapshots of all stored change sets, optionally filtered by a
// "status" parameter.
func (s *Service) List(_ context.Context, parameters ...*dao.Parameter) ([]*change.ChangeSet, error) {
	var status change.Status
	for _, parameter := range parameters {
		if parameter.Name == "status" {
			if value, ok := parameter.Value.(string); ok {
				status = change.Status(value)
			}
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*change.ChangeSet, 0, len(s.records))
	for _, record := range s.records {
		if status != "" && record.Status != status {
			continue
		}
		out = append(out, record.Clone())
	}
	return out, nil
}
