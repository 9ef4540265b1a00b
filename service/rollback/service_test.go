package rollback

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/govern/model/change"
	auditmem "github.com/viant/govern/service/audit/memory"
	csmem "github.com/viant/govern/service/dao/changeset/memory"
	"github.com/viant/govern/service/executor"
	execmem "github.com/viant/govern/service/executor/memory"
)

type harness struct {
	service  *Service
	store    *csmem.Service
	executor *execmem.Service
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()
	store := csmem.New()
	exec := execmem.New()
	return &harness{
		service:  New(config, store, exec, exec, auditmem.New(), nil),
		store:    store,
		executor: exec,
	}
}

// appliedChangeSet builds an applied change set and replays its records
// against the executor so the live entity state matches the stored records.
func (h *harness) appliedChangeSet(t *testing.T, id string, records ...*change.ChangeRecord) *change.ChangeSet {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	for _, record := range records {
		switch record.Operation {
		case change.OperationCreate:
			h.executor.Seed(record.EntityType, record.EntityID, record.AfterState, id)
		case change.OperationUpdate:
			h.executor.Seed(record.EntityType, record.EntityID, record.AfterState, id)
		case change.OperationDelete:
			// tombstone left behind by the delete
			h.executor.Seed(record.EntityType, record.EntityID, record.BeforeState, "seed")
			_, err := h.executor.Execute(ctx, &executor.Request{
				ChangeSetID: id,
				Operation:   change.OperationDelete,
				EntityType:  record.EntityType,
				EntityID:    record.EntityID,
			})
			assert.Nil(t, err)
		}
		record.ChangeSetID = id
		appliedAt := now
		record.AppliedAt = &appliedAt
		record.RollbackStatus = change.RollbackPending
	}
	changeSet := &change.ChangeSet{ID: id, Status: change.StatusApplied, AppliedAt: &now, Records: records}
	assert.Nil(t, h.store.Save(ctx, changeSet))
	return changeSet
}

func TestService_Complexity(t *testing.T) {
	ctx := context.Background()

	t.Run("low when nothing diverged", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.appliedChangeSet(t, "cs-1",
			&change.ChangeRecord{ID: "r1", SequenceNo: 1, Operation: change.OperationUpdate, EntityType: "product", EntityID: "p1",
				BeforeState: change.State{"name": "old"}, AfterState: change.State{"name": "new"}},
		)
		complexity, err := h.service.Complexity(ctx, "cs-1")
		assert.Nil(t, err)
		assert.Equal(t, ComplexityLow, complexity)
	})

	t.Run("medium for side effect entity types", func(t *testing.T) {
		config := DefaultConfig()
		config.SideEffectEntityTypes = []string{"webhook"}
		h := newHarness(t, config)
		h.appliedChangeSet(t, "cs-2",
			&change.ChangeRecord{ID: "r1", SequenceNo: 1, Operation: change.OperationUpdate, EntityType: "webhook", EntityID: "w1",
				BeforeState: change.State{"url": "a"}, AfterState: change.State{"url": "b"}},
		)
		complexity, err := h.service.Complexity(ctx, "cs-2")
		assert.Nil(t, err)
		assert.Equal(t, ComplexityMedium, complexity)
	})

	t.Run("high when created entity mutated by later change set", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.appliedChangeSet(t, "cs-3",
			&change.ChangeRecord{ID: "r1", SequenceNo: 1, Operation: change.OperationCreate, EntityType: "product", EntityID: "p1",
				AfterState: change.State{"name": "widget"}},
		)
		h.executor.Seed("product", "p1", change.State{"name": "renamed"}, "cs-later")

		complexity, err := h.service.Complexity(ctx, "cs-3")
		assert.Nil(t, err)
		assert.Equal(t, ComplexityHigh, complexity)
	})

	t.Run("unsupported when deleted entity was recreated", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.appliedChangeSet(t, "cs-4",
			&change.ChangeRecord{ID: "r1", SequenceNo: 1, Operation: change.OperationDelete, EntityType: "product", EntityID: "p1",
				BeforeState: change.State{"name": "old"}},
		)
		h.executor.Seed("product", "p1", change.State{"name": "reborn"}, "cs-later")

		complexity, err := h.service.Complexity(ctx, "cs-4")
		assert.Nil(t, err)
		assert.Equal(t, ComplexityUnsupported, complexity)
	})

	t.Run("rejects non applied change set", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		assert.Nil(t, h.store.Save(ctx, &change.ChangeSet{ID: "cs-5", Status: change.StatusApproved}))
		_, err := h.service.Complexity(ctx, "cs-5")
		policy := &change.PolicyViolation{}
		assert.True(t, errors.As(err, &policy))
	})
}

func TestService_CanRollback(t *testing.T) {
	ctx := context.Background()

	t.Run("dependent change blocks rollback", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.appliedChangeSet(t, "cs-1",
			&change.ChangeRecord{ID: "r1", SequenceNo: 1, Operation: change.OperationUpdate, EntityType: "product", EntityID: "p1",
				BeforeState: change.State{"name": "old"}, AfterState: change.State{"name": "new"}},
			&change.ChangeRecord{ID: "r2", SequenceNo: 2, Operation: change.OperationUpdate, EntityType: "order", EntityID: "o1",
				BeforeState: change.State{"qty": 1}, AfterState: change.State{"qty": 2}},
		)
		// a later change set touched record 2's entity
		h.executor.Seed("order", "o1", change.State{"qty": 9}, "cs-later")

		ok, reason, err := h.service.CanRollback(ctx, "cs-1")
		assert.Nil(t, err)
		assert.False(t, ok)
		assert.Equal(t, "dependent change exists", reason)
	})

	t.Run("already rolled back record blocks rollback", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		changeSet := h.appliedChangeSet(t, "cs-2",
			&change.ChangeRecord{ID: "r1", SequenceNo: 1, Operation: change.OperationUpdate, EntityType: "product", EntityID: "p1",
				BeforeState: change.State{"name": "old"}, AfterState: change.State{"name": "new"}},
		)
		changeSet.Records[0].RollbackStatus = change.RollbackDone
		assert.Nil(t, h.store.Save(ctx, changeSet))

		ok, reason, err := h.service.CanRollback(ctx, "cs-2")
		assert.Nil(t, err)
		assert.False(t, ok)
		assert.Contains(t, reason, "already rolled back")
	})

	t.Run("clean applied change set can roll back", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.appliedChangeSet(t, "cs-3",
			&change.ChangeRecord{ID: "r1", SequenceNo: 1, Operation: change.OperationUpdate, EntityType: "product", EntityID: "p1",
				BeforeState: change.State{"name": "old"}, AfterState: change.State{"name": "new"}},
		)
		ok, reason, err := h.service.CanRollback(ctx, "cs-3")
		assert.Nil(t, err)
		assert.True(t, ok)
		assert.Empty(t, reason)
	})
}

func TestService_Rollback(t *testing.T) {
	ctx := context.Background()

	t.Run("restores before state in reverse order", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.appliedChangeSet(t, "cs-1",
			&change.ChangeRecord{ID: "r1", SequenceNo: 1, Operation: change.OperationCreate, EntityType: "warehouse", EntityID: "w1",
				AfterState: change.State{"region": "eu"}},
			&change.ChangeRecord{ID: "r2", SequenceNo: 2, Operation: change.OperationUpdate, EntityType: "product", EntityID: "p1",
				BeforeState: change.State{"name": "old"}, AfterState: change.State{"name": "new"}},
			&change.ChangeRecord{ID: "r3", SequenceNo: 3, Operation: change.OperationDelete, EntityType: "product", EntityID: "p2",
				BeforeState: change.State{"name": "obsolete"}},
		)

		result, err := h.service.Rollback(ctx, "cs-1", "operator requested")
		assert.Nil(t, err)
		assert.Equal(t, change.StatusRolledBack, result.Status)
		for _, record := range result.Records {
			assert.Equal(t, change.RollbackDone, record.RollbackStatus)
		}

		product, _ := h.executor.Entity(ctx, "product", "p1")
		assert.Equal(t, "old", product.State["name"])
		deleted, _ := h.executor.Entity(ctx, "product", "p2")
		assert.True(t, deleted.Exists)
		assert.Equal(t, "obsolete", deleted.State["name"])
		created, _ := h.executor.Entity(ctx, "warehouse", "w1")
		assert.False(t, created.Exists)

		journal := h.executor.Journal()
		reversals := journal[len(journal)-3:]
		assert.Equal(t, change.OperationCreate, reversals[0].Operation) // r3 inverse
		assert.Equal(t, change.OperationUpdate, reversals[1].Operation) // r2 inverse
		assert.Equal(t, change.OperationDelete, reversals[2].Operation) // r1 inverse
	})

	t.Run("record failure does not block independent records", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.appliedChangeSet(t, "cs-2",
			&change.ChangeRecord{ID: "r1", SequenceNo: 1, Operation: change.OperationUpdate, EntityType: "product", EntityID: "p1",
				BeforeState: change.State{"name": "old"}, AfterState: change.State{"name": "new"}},
			&change.ChangeRecord{ID: "r2", SequenceNo: 2, Operation: change.OperationUpdate, EntityType: "order", EntityID: "o1",
				BeforeState: change.State{"qty": 1}, AfterState: change.State{"qty": 2}},
		)
		h.executor.FailOn("order", "o1", fmt.Errorf("storage offline"))

		result, err := h.service.Rollback(ctx, "cs-2", "operator requested")
		failure := &change.RollbackFailure{}
		if assert.True(t, errors.As(err, &failure)) {
			assert.Equal(t, "r2", failure.RecordID)
		}
		assert.Equal(t, change.StatusRolledBackPartial, result.Status)
		assert.Equal(t, change.RollbackFailed, result.Record("r2").RollbackStatus)
		assert.Equal(t, change.RollbackDone, result.Record("r1").RollbackStatus)

		product, _ := h.executor.Entity(ctx, "product", "p1")
		assert.Equal(t, "old", product.State["name"])
	})

	t.Run("blocked rollback returns the reason", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.appliedChangeSet(t, "cs-3",
			&change.ChangeRecord{ID: "r1", SequenceNo: 1, Operation: change.OperationUpdate, EntityType: "product", EntityID: "p1",
				BeforeState: change.State{"name": "old"}, AfterState: change.State{"name": "new"}},
		)
		h.executor.Seed("product", "p1", change.State{"name": "diverged"}, "cs-later")

		_, err := h.service.Rollback(ctx, "cs-3", "operator requested")
		failure := &change.RollbackFailure{}
		if assert.True(t, errors.As(err, &failure)) {
			assert.Equal(t, "dependent change exists", failure.Reason)
		}
		stored, loadErr := h.store.Load(ctx, "cs-3")
		assert.Nil(t, loadErr)
		assert.Equal(t, change.StatusApplied, stored.Status)
	})
}

// failingSaveStore rejects every Save after the fixture setup completes.
type failingSaveStore struct {
	*csmem.Service
	armed bool
}

func (s *failingSaveStore) Save(ctx context.Context, changeSet *change.ChangeSet) error {
	if s.armed {
		return fmt.Errorf("storage offline")
	}
	return s.Service.Save(ctx, changeSet)
}

func TestService_Rollback_SaveFailureKeepsRecordFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingSaveStore{Service: csmem.New()}
	exec := execmem.New()
	service := New(DefaultConfig(), store, exec, exec, auditmem.New(), nil)

	exec.Seed("product", "p1", change.State{"name": "new"}, "cs-1")
	now := time.Now()
	record := &change.ChangeRecord{ID: "r1", ChangeSetID: "cs-1", SequenceNo: 1,
		Operation: change.OperationUpdate, EntityType: "product", EntityID: "p1",
		BeforeState: change.State{"name": "old"}, AfterState: change.State{"name": "new"},
		AppliedAt: &now, RollbackStatus: change.RollbackPending}
	assert.Nil(t, store.Save(ctx, &change.ChangeSet{ID: "cs-1", Status: change.StatusApplied,
		AppliedAt: &now, Records: []*change.ChangeRecord{record}}))

	exec.FailOn("product", "p1", fmt.Errorf("reversal rejected"))
	store.armed = true

	_, err := service.Rollback(ctx, "cs-1", "operator requested")
	failure := &change.RollbackFailure{}
	if assert.True(t, errors.As(err, &failure)) {
		assert.Equal(t, "r1", failure.RecordID)
	}
}

// failingReader errors on every state lookup.
type failingReader struct{}

func (failingReader) Entity(_ context.Context, entityType, entityID string) (*executor.Entity, error) {
	return nil, fmt.Errorf("state backend unavailable")
}

func TestService_CanRollback_ReaderErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	store := csmem.New()
	exec := execmem.New()
	service := New(DefaultConfig(), store, exec, failingReader{}, auditmem.New(), nil)

	now := time.Now()
	assert.Nil(t, store.Save(ctx, &change.ChangeSet{ID: "cs-1", Status: change.StatusApplied,
		AppliedAt: &now, Records: []*change.ChangeRecord{{ID: "r1", ChangeSetID: "cs-1", SequenceNo: 1,
			Operation: change.OperationUpdate, EntityType: "product", EntityID: "p1",
			BeforeState: change.State{"name": "old"}, AfterState: change.State{"name": "new"},
			AppliedAt: &now, RollbackStatus: change.RollbackPending}}}))

	_, _, err := service.CanRollback(ctx, "cs-1")
	assert.NotNil(t, err)

	_, err = service.Rollback(ctx, "cs-1", "operator requested")
	assert.NotNil(t, err)
}
