package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/govern/internal/clock"
	"github.com/viant/govern/internal/idgen"
	"github.com/viant/govern/service/audit"
	"github.com/viant/govern/service/messaging"
	qmem "github.com/viant/govern/service/messaging/memory"
)

// service is the in-memory audit ledger.  Appends across different change
// sets are safe for unrestricted concurrent access; within one change set the
// sequence counter guarantees monotonic ordering.
type service struct {
	mu     sync.RWMutex
	events map[string][]*audit.Event // by change set id, append order
	fs     afs.Service
	queue  messaging.Queue[audit.Event]
}

// New creates a new in-memory audit ledger.
func New() audit.Service {
	return &service{
		events: make(map[string][]*audit.Event),
		fs:     afs.New(),
		queue:  qmem.NewQueue[audit.Event](qmem.DefaultConfig()),
	}
}

var _ audit.Service = (*service)(nil)

// Append assigns id, sequence, digest and timestamp, then appends the event.
func (s *service) Append(ctx context.Context, event *audit.Event) error {
	if event == nil {
		return fmt.Errorf("invalid event")
	}
	if event.ChangeSetID == "" {
		return fmt.Errorf("event requires a change set id")
	}
	s.mu.Lock()
	if event.ID == "" {
		event.ID = idgen.New()
	}
	event.Seq = len(s.events[event.ChangeSetID]) + 1
	event.PayloadDigest = audit.Digest(event.Payload)
	event.CreatedAt = clock.Now()
	s.events[event.ChangeSetID] = append(s.events[event.ChangeSetID], event)
	s.mu.Unlock()

	// fan-out is best-effort; the ledger itself is the source of truth
	_ = s.queue.Publish(ctx, event)
	return nil
}

// List returns a change set's events in append order.
func (s *service) List(_ context.Context, changeSetID string) ([]*audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]*audit.Event, len(s.events[changeSetID]))
	copy(ret, s.events[changeSetID])
	return ret, nil
}

// Replay feeds events in append order to fn, stopping on the first error.
func (s *service) Replay(ctx context.Context, changeSetID string, fn func(*audit.Event) error) error {
	events, err := s.List(ctx, changeSetID)
	if err != nil {
		return err
	}
	for _, event := range events {
		if err := fn(event); err != nil {
			return err
		}
	}
	return nil
}

// Export writes the whole ledger, grouped by change set and ordered by
// sequence, as a JSON document at the supplied URL.
func (s *service) Export(ctx context.Context, URL string) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	ledger := make(map[string][]*audit.Event, len(ids))
	for _, id := range ids {
		ledger[id] = append([]*audit.Event(nil), s.events[id]...)
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}
	if err := s.fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to export ledger to %s: %w", URL, err)
	}
	return nil
}

// Queue exposes the appended-event stream.
func (s *service) Queue() messaging.Queue[audit.Event] { return s.queue }
