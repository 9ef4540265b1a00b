package change

import (
	"time"
)

// Operation represents the kind of mutation a record performs
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// RollbackStatus tracks per-record reversal outcome after apply.
type RollbackStatus string

const (
	RollbackPending RollbackStatus = "pending"
	RollbackDone    RollbackStatus = "rolledBack"
	RollbackFailed  RollbackStatus = "failed"
)

// State is a point-in-time snapshot of an entity's fields.
type State map[string]interface{}

// Clone returns a shallow copy so callers can mutate the result without
// touching captured history.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	ret := make(State, len(s))
	for k, v := range s {
		ret[k] = v
	}
	return ret
}

// ChangeRecord represents one granular create/update/delete operation with
// captured before/after state.  BeforeState is absent for create, AfterState
// for delete.  DependsOn lists other record ids within the same change set
// and must form a DAG.
type ChangeRecord struct {
	ID             string         `json:"id"`
	ChangeSetID    string         `json:"changeSetId"`
	SequenceNo     int            `json:"sequenceNo"`
	Operation      Operation      `json:"operation"`
	EntityType     string         `json:"entityType"`
	EntityID       string         `json:"entityId"`
	BeforeState    State          `json:"beforeState,omitempty"`
	AfterState     State          `json:"afterState,omitempty"`
	DependsOn      []string       `json:"dependsOn,omitempty"`
	RollbackStatus RollbackStatus `json:"rollbackStatus,omitempty"`
	RollbackError  string         `json:"rollbackError,omitempty"`
	ApplyError     string         `json:"applyError,omitempty"`
	AppliedAt      *time.Time     `json:"appliedAt,omitempty"`
	AssignedID     string         `json:"assignedId,omitempty"`
}

// Inverse produces a new record reversing this one's effect from its captured
// state.  It never mutates the receiver; applied records are immutable
// history.
func (r *ChangeRecord) Inverse() *ChangeRecord {
	ret := &ChangeRecord{
		ChangeSetID: r.ChangeSetID,
		SequenceNo:  -r.SequenceNo,
		EntityType:  r.EntityType,
		EntityID:    r.EntityID,
	}
	switch r.Operation {
	case OperationCreate:
		ret.Operation = OperationDelete
		ret.BeforeState = r.AfterState.Clone()
		if r.AssignedID != "" {
			ret.EntityID = r.AssignedID
		}
	case OperationDelete:
		ret.Operation = OperationCreate
		ret.AfterState = r.BeforeState.Clone()
	default:
		ret.Operation = OperationUpdate
		ret.BeforeState = r.AfterState.Clone()
		ret.AfterState = r.BeforeState.Clone()
	}
	return ret
}
