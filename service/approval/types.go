package approval

import (
	"context"
	"time"

	"github.com/viant/govern/model/change"
)

// Service drives a change set through its approval lifecycle.  Waiting for a
// human verdict is a passive suspension: state is persisted and resumed on
// the next Decide or sweep call, no worker blocks in between.
type Service interface {
	// Submit moves a draft change set to pending approval, computing its
	// risk assessment and required approval count.
	Submit(ctx context.Context, changeSetID string) (*change.ChangeSet, error)

	// Decide records an approver verdict.  While the change set is escalated
	// the decision is taken as the external resolution.
	Decide(ctx context.Context, changeSetID, approver string, decision change.Decision, reason string) (*change.ChangeSet, error)

	// Withdraw cancels a change set before any approval decision exists.
	Withdraw(ctx context.Context, changeSetID, actor, reason string) (*change.ChangeSet, error)

	// Expire sweeps change sets past their deadline, returning how many were
	// expired.
	Expire(ctx context.Context) (int, error)

	// Approvals lists the approval slots recorded for a change set across
	// all cycles.
	Approvals(ctx context.Context, changeSetID string) ([]*change.ApprovalRecord, error)
}

// Applier triggers application once approvals complete; wired via option so
// the coordinator stays decoupled from the application engine.
type Applier interface {
	Apply(ctx context.Context, changeSetID string) (*change.ChangeSet, error)
}

// Config represents coordinator configuration.
type Config struct {
	// TTL bounds how long a change set may await a decision, including while
	// escalated.
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// SweepInterval is the cadence of the background expiry sweep.
	SweepInterval time.Duration `json:"sweepInterval" yaml:"sweepInterval"`

	// ConflictRetries bounds internal retries after losing the per-change-set
	// exclusivity race.
	ConflictRetries int `json:"conflictRetries" yaml:"conflictRetries"`

	// ConflictRetryDelay is the pause between such retries.
	ConflictRetryDelay time.Duration `json:"conflictRetryDelay" yaml:"conflictRetryDelay"`

	// AutoApply triggers the application engine on final approval.
	AutoApply bool `json:"autoApply" yaml:"autoApply"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		TTL:                72 * time.Hour,
		SweepInterval:      time.Minute,
		ConflictRetries:    3,
		ConflictRetryDelay: 20 * time.Millisecond,
	}
}
