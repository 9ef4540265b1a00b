// Package executor defines the domain mutation executor boundary: the only
// place where a governed change touches real-world state.  The engine invokes
// Execute once per change record; everything behind the interface belongs to
// the embedding application.
package executor

import (
	"context"
	"errors"

	"github.com/viant/govern/model/change"
)

var (
	// ErrEntityTypeNotFound indicates no mutator is registered for the
	// record's entity type.
	ErrEntityTypeNotFound = errors.New("entity type not registered")

	// ErrEntityNotFound indicates the target entity does not exist.
	ErrEntityNotFound = errors.New("entity not found")
)

// Request carries one mutation.  ChangeSetID identifies the governing change
// set so executors can stamp a last-modified-by marker on the entity.
type Request struct {
	ChangeSetID string
	Operation   change.Operation
	EntityType  string
	EntityID    string
	State       change.State
}

// Result reports the executor outcome; AssignedID is populated when a create
// allocates the entity identifier.
type Result struct {
	Success    bool
	AssignedID string
}

// Service executes a single mutation against the external domain.
type Service interface {
	Execute(ctx context.Context, request *Request) (*Result, error)
}

// Entity is a point-in-time view of a live entity used by the rollback
// engine to detect divergence.
type Entity struct {
	State          change.State
	LastModifiedBy string
	Exists         bool
}

// StateReader exposes live entity state plus the last-modified-by marker.
// Executors that cannot provide it degrade rollback complexity detection.
type StateReader interface {
	Entity(ctx context.Context, entityType, entityID string) (*Entity, error)
}
