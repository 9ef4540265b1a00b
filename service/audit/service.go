package audit

import (
	"context"

	"github.com/viant/govern/service/messaging"
)

// Service defines the append-only audit ledger consumed by every governance
// component.  Append assigns the per-change-set sequence and payload digest;
// List returns a change set's events in append order; Replay feeds them one
// by one to a reviewer callback.
type Service interface {
	Append(ctx context.Context, event *Event) error

	List(ctx context.Context, changeSetID string) ([]*Event, error)

	Replay(ctx context.Context, changeSetID string, fn func(*Event) error) error

	// Export writes the full ledger as JSON to the supplied URL so an
	// external append-only store can take custody of it.
	Export(ctx context.Context, URL string) error

	// Queue exposes the fan-out stream of appended events.
	Queue() messaging.Queue[Event]
}
