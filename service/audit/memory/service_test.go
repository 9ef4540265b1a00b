package memory

import (
	"context"
	"fmt"
	"path"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/govern/service/audit"
)

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	ctx := context.Background()
	ledger := New()

	for i := 0; i < 3; i++ {
		err := ledger.Append(ctx, &audit.Event{
			ChangeSetID: "cs-1",
			EventType:   audit.TypeDecisionRecorded,
			Actor:       fmt.Sprintf("approver-%d", i),
			Payload:     map[string]interface{}{"decision": "approved", "round": i},
		})
		assert.NoError(t, err)
	}
	// a second change set keeps its own sequence
	assert.NoError(t, ledger.Append(ctx, &audit.Event{ChangeSetID: "cs-2", EventType: audit.TypeChangeSetCreated}))

	events, err := ledger.List(ctx, "cs-1")
	assert.NoError(t, err)
	assert.Len(t, events, 3)
	for i, event := range events {
		assert.Equal(t, i+1, event.Seq)
		assert.NotEmpty(t, event.ID)
		assert.NotEmpty(t, event.PayloadDigest)
	}

	events, err = ledger.List(ctx, "cs-2")
	assert.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Seq)
}

func TestDigestIsDeterministic(t *testing.T) {
	payload := map[string]interface{}{"tier": "high", "score": 0.75}
	assert.Equal(t, audit.Digest(payload), audit.Digest(map[string]interface{}{"score": 0.75, "tier": "high"}))
	assert.Empty(t, audit.Digest(nil))
}

func TestReplayPreservesOrder(t *testing.T) {
	ctx := context.Background()
	ledger := New()
	types := []string{audit.TypeChangeSetCreated, audit.TypeChangeSetSubmitted, audit.TypeDecisionRecorded}
	for _, eventType := range types {
		assert.NoError(t, ledger.Append(ctx, &audit.Event{ChangeSetID: "cs-1", EventType: eventType}))
	}

	var replayed []string
	err := ledger.Replay(ctx, "cs-1", func(event *audit.Event) error {
		replayed = append(replayed, event.EventType)
		return nil
	})
	assert.NoError(t, err)
	assert.EqualValues(t, types, replayed)
}

func TestConcurrentAppendsAcrossChangeSets(t *testing.T) {
	ctx := context.Background()
	ledger := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			changeSetID := fmt.Sprintf("cs-%d", id)
			for j := 0; j < 20; j++ {
				_ = ledger.Append(ctx, &audit.Event{ChangeSetID: changeSetID, EventType: audit.TypeRecordApplied})
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		events, err := ledger.List(ctx, fmt.Sprintf("cs-%d", i))
		assert.NoError(t, err)
		assert.Len(t, events, 20)
		for j, event := range events {
			assert.Equal(t, j+1, event.Seq)
		}
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	ledger := New()
	assert.NoError(t, ledger.Append(ctx, &audit.Event{ChangeSetID: "cs-1", EventType: audit.TypeChangeSetCreated}))

	URL := path.Join(t.TempDir(), "ledger.json")
	assert.NoError(t, ledger.Export(ctx, URL))
}
