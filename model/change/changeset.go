package change

import (
	"time"
)

// Status represents the lifecycle state of a change set
type Status string

const (
	StatusDraft             Status = "draft"
	StatusPendingApproval   Status = "pendingApproval"
	StatusAwaitingSecondary Status = "awaitingSecondary"
	StatusApproved          Status = "approved"
	StatusApplied           Status = "applied"
	StatusFailedApply       Status = "failedApply"
	StatusRejected          Status = "rejected"
	StatusEscalated         Status = "escalated"
	StatusExpired           Status = "expired"
	StatusRolledBack        Status = "rolledBack"
	StatusRolledBackPartial Status = "rolledBackPartial"
)

// IsTerminal reports whether no further approval transition is permitted from
// this status.  Applied change sets are terminal for the approval machine but
// may still be rolled back.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusRolledBack, StatusRolledBackPartial, StatusFailedApply:
		return true
	}
	return false
}

// IsDecidable reports whether a human decision can still be recorded.
func (s Status) IsDecidable() bool {
	switch s {
	case StatusPendingApproval, StatusAwaitingSecondary, StatusEscalated:
		return true
	}
	return false
}

// RiskTier is the coarse classification derived from the numeric risk score
// plus hard overrides.
type RiskTier string

const (
	RiskTierLow    RiskTier = "low"
	RiskTierMedium RiskTier = "medium"
	RiskTierHigh   RiskTier = "high"
)

// RequiredApprovals returns how many distinct approvals the tier demands.
func (t RiskTier) RequiredApprovals() int {
	if t == RiskTierHigh {
		return 2
	}
	return 1
}

// ChangeSet represents a proposed, atomically governed batch of changes.  It
// is created in draft by ingestion and driven through its lifecycle by the
// approval coordinator; once applied its records become immutable history.
type ChangeSet struct {
	ID                string          `json:"id"`
	Status            Status          `json:"status"`
	RiskScore         float64         `json:"riskScore"`
	RiskTier          RiskTier        `json:"riskTier,omitempty"`
	RequiredApprovals int             `json:"requiredApprovals,omitempty"`
	Source            string          `json:"source"`
	Proposer          string          `json:"proposer"`
	Reason            string          `json:"reason,omitempty"`
	SCN               int             `json:"scn"`
	CreatedAt         time.Time       `json:"createdAt"`
	SubmittedAt       *time.Time      `json:"submittedAt,omitempty"`
	AppliedAt         *time.Time      `json:"appliedAt,omitempty"`
	ExpiresAt         *time.Time      `json:"expiresAt,omitempty"`
	Records           []*ChangeRecord `json:"records,omitempty"`
}

// Record returns the record with the supplied id or nil.
func (c *ChangeSet) Record(id string) *ChangeRecord {
	for _, record := range c.Records {
		if record.ID == id {
			return record
		}
	}
	return nil
}

// AppliedRecords returns records that have been executed, in applied order.
func (c *ChangeSet) AppliedRecords() []*ChangeRecord {
	var ret []*ChangeRecord
	for _, record := range c.Records {
		if record.AppliedAt != nil {
			ret = append(ret, record)
		}
	}
	return ret
}

// Expired reports whether the change set deadline has passed at the supplied
// time.  A nil deadline never expires.
func (c *ChangeSet) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}
