package change

import (
	"time"
)

// Role distinguishes the first and second approver under the two-person rule.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// Decision represents an approver's verdict on a change set.
type Decision string

const (
	DecisionPending   Decision = "pending"
	DecisionApproved  Decision = "approved"
	DecisionRejected  Decision = "rejected"
	DecisionEscalated Decision = "escalated"
)

// ApprovalRecord captures a single approver slot for a change set.  Approval
// counters are modelled as explicit records rather than mutable counters so
// the two-person rule stays auditable and replayable from the event log.
// (ChangeSetID, Role, Cycle) is unique; Cycle increments when an escalation
// resets the approval round.
type ApprovalRecord struct {
	ID          string     `json:"id"`
	ChangeSetID string     `json:"changeSetId"`
	Approver    string     `json:"approver,omitempty"`
	Role        Role       `json:"role"`
	Decision    Decision   `json:"decision"`
	Cycle       int        `json:"cycle"`
	DecidedAt   *time.Time `json:"decidedAt,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// Decided reports whether a verdict has been recorded in this slot.
func (a *ApprovalRecord) Decided() bool {
	return a.Decision != DecisionPending
}
