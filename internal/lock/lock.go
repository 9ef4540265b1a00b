// Package lock provides the per-change-set exclusivity discipline: decision,
// apply and rollback on the same change set are mutually exclusive, while
// different change sets proceed independently.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/viant/govern/model/change"
)

// Registry hands out one mutex per change set id.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry creates a lock registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*sync.Mutex)}
}

func (r *Registry) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret, ok := r.locks[id]
	if !ok {
		ret = &sync.Mutex{}
		r.locks[id] = ret
	}
	return ret
}

// TryAcquire attempts to become the change set's sole owner.  It returns a
// release function on success, or false when another owner holds the lock.
func (r *Registry) TryAcquire(id string) (func(), bool) {
	mutex := r.lockFor(id)
	if !mutex.TryLock() {
		return nil, false
	}
	return mutex.Unlock, true
}

// Do runs fn as the change set's sole owner.  Losing the race yields a
// retryable ConcurrencyConflict; the acquisition is retried up to attempts
// times with the supplied delay before the conflict surfaces to the caller.
func (r *Registry) Do(ctx context.Context, id string, attempts int, delay time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if release, ok := r.TryAcquire(id); ok {
			defer release()
			return fn()
		}
		if i+1 == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return &change.ConcurrencyConflict{ChangeSetID: id}
}
