package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/viant/govern/internal/idgen"
	"github.com/viant/govern/model/change"
	"github.com/viant/govern/service/executor"
)

// Service is an in-memory mutation executor.  It keeps live entity state with
// a last-modified-by change set marker, journals every call, and supports
// per-entity failure injection so apply/rollback failure paths can be
// exercised deterministically.
type Service struct {
	mu       sync.Mutex
	entities map[string]map[string]*executor.Entity
	journal  []*executor.Request
	failures map[string]error
}

// New creates an in-memory executor.
func New() *Service {
	return &Service{
		entities: make(map[string]map[string]*executor.Entity),
		failures: make(map[string]error),
	}
}

var (
	_ executor.Service     = (*Service)(nil)
	_ executor.StateReader = (*Service)(nil)
)

func key(entityType, entityID string) string {
	return entityType + "/" + entityID
}

// FailOn injects a failure for any mutation of the given entity.
func (s *Service) FailOn(entityType, entityID string, err error) {
	s.failOn(key(entityType, entityID), err)
}

// FailOnOperation injects a failure for one operation on the given entity,
// e.g. letting a create succeed while its compensating delete fails.
func (s *Service) FailOnOperation(entityType, entityID string, operation change.Operation, err error) {
	s.failOn(key(entityType, entityID)+"#"+string(operation), err)
}

func (s *Service) failOn(failureKey string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("injected failure for %s", failureKey)
	}
	s.failures[failureKey] = err
}

// ClearFailures removes all injected failures.
func (s *Service) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]error)
}

// Execute applies a single mutation to the in-memory entity store.
func (s *Service) Execute(_ context.Context, request *executor.Request) (*executor.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = append(s.journal, request)

	entityID := request.EntityID
	if request.Operation == change.OperationCreate && entityID == "" {
		entityID = idgen.New()
	}
	if err := s.failures[key(request.EntityType, entityID)+"#"+string(request.Operation)]; err != nil {
		return &executor.Result{}, err
	}
	if err := s.failures[key(request.EntityType, entityID)]; err != nil {
		return &executor.Result{}, err
	}

	byType := s.entities[request.EntityType]
	if byType == nil {
		byType = make(map[string]*executor.Entity)
		s.entities[request.EntityType] = byType
	}

	switch request.Operation {
	case change.OperationCreate:
		if existing := byType[entityID]; existing != nil && existing.Exists {
			return &executor.Result{}, fmt.Errorf("entity %s/%s already exists", request.EntityType, entityID)
		}
		byType[entityID] = &executor.Entity{State: request.State.Clone(), LastModifiedBy: request.ChangeSetID, Exists: true}
		return &executor.Result{Success: true, AssignedID: entityID}, nil
	case change.OperationUpdate:
		existing := byType[entityID]
		if existing == nil || !existing.Exists {
			return &executor.Result{}, fmt.Errorf("%w: %s/%s", executor.ErrEntityNotFound, request.EntityType, entityID)
		}
		existing.State = request.State.Clone()
		existing.LastModifiedBy = request.ChangeSetID
		return &executor.Result{Success: true}, nil
	case change.OperationDelete:
		existing := byType[entityID]
		if existing == nil || !existing.Exists {
			return &executor.Result{}, fmt.Errorf("%w: %s/%s", executor.ErrEntityNotFound, request.EntityType, entityID)
		}
		// keep a tombstone so divergence checks can see who removed it
		existing.Exists = false
		existing.State = nil
		existing.LastModifiedBy = request.ChangeSetID
		return &executor.Result{Success: true}, nil
	}
	return &executor.Result{}, fmt.Errorf("unsupported operation %q", request.Operation)
}

// Entity returns the live view of an entity, or a non-existing placeholder.
func (s *Service) Entity(_ context.Context, entityType, entityID string) (*executor.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byType := s.entities[entityType]; byType != nil {
		if entity := byType[entityID]; entity != nil {
			clone := *entity
			clone.State = entity.State.Clone()
			return &clone, nil
		}
	}
	return &executor.Entity{}, nil
}

// Seed installs an entity directly, bypassing governance (test fixtures).
func (s *Service) Seed(entityType, entityID string, state change.State, lastModifiedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byType := s.entities[entityType]
	if byType == nil {
		byType = make(map[string]*executor.Entity)
		s.entities[entityType] = byType
	}
	byType[entityID] = &executor.Entity{State: state.Clone(), LastModifiedBy: lastModifiedBy, Exists: true}
}

// Calls returns the number of Execute invocations.
func (s *Service) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.journal)
}

// Journal returns the executed requests in call order.
func (s *Service) Journal() []*executor.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*executor.Request(nil), s.journal...)
}
