// Package notify defines the outbound dispatch collaborator the coordinator
// calls on secondary-approval assignment and on escalation.  Delivery
// (ticketing, chat, paging) lives outside the engine; implementations only
// need to hand the dispatch over.
package notify

import (
	"context"
	"time"
)

// Kind classifies a dispatch.
type Kind string

const (
	KindSecondaryAssigned Kind = "secondaryAssigned"
	KindEscalation        Kind = "escalation"
)

// Dispatch is a single outbound notification.
type Dispatch struct {
	Kind        Kind                   `json:"kind"`
	ChangeSetID string                 `json:"changeSetId"`
	Recipient   string                 `json:"recipient,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// Service dispatches notifications to an external ticketing/alerting
// collaborator.
type Service interface {
	Dispatch(ctx context.Context, dispatch *Dispatch) error
}
