package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Standard event types emitted across the governance lifecycle.  One event is
// appended per transition, in the exact order transitions occurred.
const (
	TypeChangeSetCreated     = "changeset.created"
	TypeChangeSetSubmitted   = "changeset.submitted"
	TypeDecisionRecorded     = "changeset.decided"
	TypeChangeSetEscalated   = "changeset.escalated"
	TypeChangeSetExpired     = "changeset.expired"
	TypeChangeSetWithdrawn   = "changeset.withdrawn"
	TypeApplyStarted         = "changeset.applyStarted"
	TypeRecordApplied        = "record.applied"
	TypeRecordApplyFailed    = "record.applyFailed"
	TypeChangeSetApplied     = "changeset.applied"
	TypeApplyCompensated     = "changeset.applyCompensated"
	TypeRecordRolledBack     = "record.rolledBack"
	TypeRecordRollbackFailed = "record.rollbackFailed"
	TypeChangeSetRolledBack  = "changeset.rolledBack"
)

// Event is a single append-only ledger entry.  Seq is monotonic per change
// set; events are never mutated or reordered once appended.
type Event struct {
	ID            string                 `json:"id"`
	ChangeSetID   string                 `json:"changeSetId"`
	Seq           int                    `json:"seq"`
	EventType     string                 `json:"eventType"`
	Actor         string                 `json:"actor,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	PayloadDigest string                 `json:"payloadDigest,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
}

// Digest computes the sha256 digest of the canonical JSON payload.  Map keys
// are serialised in sorted order by encoding/json, so identical payloads
// always yield identical digests.
func Digest(payload map[string]interface{}) string {
	if len(payload) == 0 {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
