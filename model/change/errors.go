package change

import (
	"errors"
	"fmt"
)

// Error taxonomy for the governance engine.  Typed errors carry the
// decision-relevant fact in their message; callers detect categories with
// errors.As instead of string comparison.

// ValidationError indicates a malformed change set: a bad record, duplicate
// sequence number or a dependency cycle.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "validation: " + e.Message }

// NewValidationError returns a ValidationError with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// PolicyViolation indicates a governance rule was broken: self-approval,
// insufficient approvals, or a decision on an expired/terminal change set.
type PolicyViolation struct {
	Message string
}

func (e *PolicyViolation) Error() string { return "policy violation: " + e.Message }

// NewPolicyViolation returns a PolicyViolation with a formatted message.
func NewPolicyViolation(format string, args ...interface{}) error {
	return &PolicyViolation{Message: fmt.Sprintf(format, args...)}
}

// ConcurrencyConflict indicates the caller lost the per-change-set
// exclusivity race.  It is retryable.
type ConcurrencyConflict struct {
	ChangeSetID string
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("concurrency conflict on change set %s", e.ChangeSetID)
}

// IsRetryable reports whether the error may be retried.
func IsRetryable(err error) bool {
	var conflict *ConcurrencyConflict
	return errors.As(err, &conflict)
}

// ApplyFailure indicates the mutation executor rejected an operation.
type ApplyFailure struct {
	ChangeSetID string
	RecordID    string
	SequenceNo  int
	Err         error
}

func (e *ApplyFailure) Error() string {
	return fmt.Sprintf("apply failed for change set %s at sequence %d: %v", e.ChangeSetID, e.SequenceNo, e.Err)
}

func (e *ApplyFailure) Unwrap() error { return e.Err }

// RollbackFailure indicates an inverse operation was rejected or the entity
// state has diverged.  It is reported per record and never auto-retried.
type RollbackFailure struct {
	ChangeSetID string
	RecordID    string
	Reason      string
	Err         error
}

func (e *RollbackFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rollback failed for record %s: %v", e.RecordID, e.Err)
	}
	return fmt.Sprintf("rollback blocked: %s", e.Reason)
}

func (e *RollbackFailure) Unwrap() error { return e.Err }
