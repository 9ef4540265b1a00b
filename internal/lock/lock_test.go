package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/govern/model/change"
)

func TestRegistry_TryAcquire(t *testing.T) {
	registry := NewRegistry()

	release, ok := registry.TryAcquire("cs-1")
	assert.True(t, ok)

	_, busy := registry.TryAcquire("cs-1")
	assert.False(t, busy)

	// a different change set is independent
	otherRelease, ok := registry.TryAcquire("cs-2")
	assert.True(t, ok)
	otherRelease()

	release()
	release2, ok := registry.TryAcquire("cs-1")
	assert.True(t, ok)
	release2()
}

func TestRegistry_Do(t *testing.T) {
	ctx := context.Background()

	t.Run("exhausted retries surface a conflict", func(t *testing.T) {
		registry := NewRegistry()
		release, ok := registry.TryAcquire("cs-1")
		assert.True(t, ok)
		defer release()

		err := registry.Do(ctx, "cs-1", 3, time.Millisecond, func() error { return nil })
		assert.True(t, change.IsRetryable(err))
	})

	t.Run("serialises concurrent owners", func(t *testing.T) {
		registry := NewRegistry()
		counter := 0
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = registry.Do(ctx, "cs-1", 100, time.Millisecond, func() error {
					counter++
					return nil
				})
			}()
		}
		wg.Wait()
		assert.Equal(t, 16, counter)
	})
}
