package approval

import (
	"context"
	"log"
	"time"
)

// StartSweeper runs the periodic expiry sweep in a goroutine.  Calling the
// returned stop function (or cancelling ctx) exits the sweep.  The sweep
// shares the coordinator locks, so it never races a live decision on the
// same change set.
func StartSweeper(ctx context.Context, svc Service, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if _, err := svc.Expire(ctx); err != nil {
					log.Printf("expiry sweep failed: %v", err)
				}
			}
		}
	}()
	return func() { close(done) }
}
