package memory

import (
	"context"
	"sync"

	"github.com/viant/govern/internal/clock"
	"github.com/viant/govern/service/messaging"
	qmem "github.com/viant/govern/service/messaging/memory"
	"github.com/viant/govern/service/notify"
)

// Service records dispatches in memory and fans them out on a queue so a
// delivery worker (or a test) can drain them.
type Service struct {
	mu         sync.RWMutex
	dispatched []*notify.Dispatch
	queue      messaging.Queue[notify.Dispatch]
}

// New creates an in-memory notification recorder.
func New() *Service {
	return &Service{queue: qmem.NewQueue[notify.Dispatch](qmem.DefaultConfig())}
}

var _ notify.Service = (*Service)(nil)

// Dispatch records the notification and publishes it for delivery.
func (s *Service) Dispatch(ctx context.Context, dispatch *notify.Dispatch) error {
	dispatch.CreatedAt = clock.Now()
	s.mu.Lock()
	s.dispatched = append(s.dispatched, dispatch)
	s.mu.Unlock()
	return s.queue.Publish(ctx, dispatch)
}

// Dispatched returns all recorded dispatches in order.
func (s *Service) Dispatched() []*notify.Dispatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*notify.Dispatch(nil), s.dispatched...)
}

// Queue exposes the dispatch stream.
func (s *Service) Queue() messaging.Queue[notify.Dispatch] { return s.queue }
