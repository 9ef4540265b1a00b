package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/govern/internal/clock"
	"github.com/viant/govern/model/change"
	auditmem "github.com/viant/govern/service/audit/memory"
	csmem "github.com/viant/govern/service/dao/changeset/memory"
	"github.com/viant/govern/service/dao/store"
	notifymem "github.com/viant/govern/service/notify/memory"
	"github.com/viant/govern/service/risk"
)

type harness struct {
	service  Service
	store    *csmem.Service
	notifier *notifymem.Service
}

func newHarness(t *testing.T, config Config, options ...Option) *harness {
	t.Helper()
	changeSets := csmem.New()
	approvals := store.NewMemoryStore(func(slot *change.ApprovalRecord) string { return slot.ID })
	notifier := notifymem.New()
	policy := risk.DefaultPolicy()
	policy.CriticalEntityTypes = []string{"payment-config"}
	scorer := risk.New(policy)
	return &harness{
		service:  New(config, changeSets, approvals, scorer, auditmem.New(), notifier, options...),
		store:    changeSets,
		notifier: notifier,
	}
}

func (h *harness) draft(t *testing.T, id string, records ...*change.ChangeRecord) *change.ChangeSet {
	t.Helper()
	for i, record := range records {
		record.ChangeSetID = id
		if record.SequenceNo == 0 {
			record.SequenceNo = i + 1
		}
	}
	changeSet := &change.ChangeSet{
		ID:        id,
		Status:    change.StatusDraft,
		Source:    "inventory-sync",
		Proposer:  "alice",
		CreatedAt: clock.Now(),
		Records:   records,
	}
	assert.Nil(t, h.store.Save(context.Background(), changeSet))
	return changeSet
}

func lowRiskRecords() []*change.ChangeRecord {
	return []*change.ChangeRecord{
		{ID: "r1", Operation: change.OperationUpdate, EntityType: "product", EntityID: "p1",
			BeforeState: change.State{"name": "old"}, AfterState: change.State{"name": "new"}},
	}
}

func highRiskRecords() []*change.ChangeRecord {
	return []*change.ChangeRecord{
		{ID: "r1", Operation: change.OperationDelete, EntityType: "payment-config", EntityID: "pc1",
			BeforeState: change.State{"provider": "acme"}},
	}
}

func TestService_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("scores and opens the primary slot", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.draft(t, "cs-1", lowRiskRecords()...)

		submitted, err := h.service.Submit(ctx, "cs-1")
		assert.Nil(t, err)
		assert.Equal(t, change.StatusPendingApproval, submitted.Status)
		assert.Equal(t, 1, submitted.RequiredApprovals)
		assert.NotNil(t, submitted.ExpiresAt)

		slots, err := h.service.Approvals(ctx, "cs-1")
		assert.Nil(t, err)
		if assert.Equal(t, 1, len(slots)) {
			assert.Equal(t, change.RolePrimary, slots[0].Role)
			assert.Equal(t, change.DecisionPending, slots[0].Decision)
			assert.Equal(t, 1, slots[0].Cycle)
		}
	})

	t.Run("critical delete forces two approvals", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.draft(t, "cs-2", highRiskRecords()...)

		submitted, err := h.service.Submit(ctx, "cs-2")
		assert.Nil(t, err)
		assert.Equal(t, change.RiskTierHigh, submitted.RiskTier)
		assert.Equal(t, 2, submitted.RequiredApprovals)
	})

	t.Run("rejects a non draft change set", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.draft(t, "cs-3", lowRiskRecords()...)
		_, err := h.service.Submit(ctx, "cs-3")
		assert.Nil(t, err)

		_, err = h.service.Submit(ctx, "cs-3")
		policy := &change.PolicyViolation{}
		assert.True(t, errors.As(err, &policy))
	})
}

func TestService_Decide(t *testing.T) {
	ctx := context.Background()

	t.Run("single approval suffices for low risk", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.draft(t, "cs-1", lowRiskRecords()...)
		_, err := h.service.Submit(ctx, "cs-1")
		assert.Nil(t, err)

		decided, err := h.service.Decide(ctx, "cs-1", "bob", change.DecisionApproved, "looks fine")
		assert.Nil(t, err)
		assert.Equal(t, change.StatusApproved, decided.Status)
	})

	t.Run("two person rule for high risk", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.draft(t, "cs-2", highRiskRecords()...)
		_, err := h.service.Submit(ctx, "cs-2")
		assert.Nil(t, err)

		afterPrimary, err := h.service.Decide(ctx, "cs-2", "bob", change.DecisionApproved, "")
		assert.Nil(t, err)
		assert.Equal(t, change.StatusAwaitingSecondary, afterPrimary.Status)

		dispatched := h.notifier.Dispatched()
		if assert.Equal(t, 1, len(dispatched)) {
			assert.Equal(t, "cs-2", dispatched[0].ChangeSetID)
		}

		afterSecondary, err := h.service.Decide(ctx, "cs-2", "carol", change.DecisionApproved, "")
		assert.Nil(t, err)
		assert.Equal(t, change.StatusApproved, afterSecondary.Status)
	})

	t.Run("self approval is a policy violation", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.draft(t, "cs-3", lowRiskRecords()...)
		_, err := h.service.Submit(ctx, "cs-3")
		assert.Nil(t, err)

		_, err = h.service.Decide(ctx, "cs-3", "alice", change.DecisionApproved, "")
		policy := &change.PolicyViolation{}
		assert.True(t, errors.As(err, &policy))
	})

	t.Run("same approver cannot fill both slots", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.draft(t, "cs-4", highRiskRecords()...)
		_, err := h.service.Submit(ctx, "cs-4")
		assert.Nil(t, err)
		_, err = h.service.Decide(ctx, "cs-4", "bob", change.DecisionApproved, "")
		assert.Nil(t, err)

		_, err = h.service.Decide(ctx, "cs-4", "bob", change.DecisionApproved, "")
		policy := &change.PolicyViolation{}
		assert.True(t, errors.As(err, &policy))
	})

	t.Run("secondary reject is final", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.draft(t, "cs-5", highRiskRecords()...)
		_, err := h.service.Submit(ctx, "cs-5")
		assert.Nil(t, err)
		_, err = h.service.Decide(ctx, "cs-5", "bob", change.DecisionApproved, "")
		assert.Nil(t, err)

		rejected, err := h.service.Decide(ctx, "cs-5", "carol", change.DecisionRejected, "too wide a blast radius")
		assert.Nil(t, err)
		assert.Equal(t, change.StatusRejected, rejected.Status)

		slots, err := h.service.Approvals(ctx, "cs-5")
		assert.Nil(t, err)
		if assert.Equal(t, 2, len(slots)) {
			assert.Equal(t, change.DecisionApproved, slots[0].Decision)
			assert.Equal(t, change.DecisionRejected, slots[1].Decision)
		}
	})

	t.Run("escalation opens a fresh cycle", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.draft(t, "cs-6", highRiskRecords()...)
		_, err := h.service.Submit(ctx, "cs-6")
		assert.Nil(t, err)

		escalated, err := h.service.Decide(ctx, "cs-6", "bob", change.DecisionEscalated, "out of my remit")
		assert.Nil(t, err)
		assert.Equal(t, change.StatusEscalated, escalated.Status)

		slots, err := h.service.Approvals(ctx, "cs-6")
		assert.Nil(t, err)
		if assert.Equal(t, 2, len(slots)) {
			assert.Equal(t, change.DecisionEscalated, slots[0].Decision)
			assert.Equal(t, 2, slots[1].Cycle)
			assert.Equal(t, change.DecisionPending, slots[1].Decision)
		}

		// the external resolution lands in the new cycle
		resolved, err := h.service.Decide(ctx, "cs-6", "dave", change.DecisionApproved, "security signed off")
		assert.Nil(t, err)
		assert.Equal(t, change.StatusAwaitingSecondary, resolved.Status)
	})

	t.Run("escalating approver cannot decide in a later cycle", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.draft(t, "cs-8", highRiskRecords()...)
		_, err := h.service.Submit(ctx, "cs-8")
		assert.Nil(t, err)
		_, err = h.service.Decide(ctx, "cs-8", "bob", change.DecisionEscalated, "out of my remit")
		assert.Nil(t, err)

		_, err = h.service.Decide(ctx, "cs-8", "bob", change.DecisionApproved, "")
		policy := &change.PolicyViolation{}
		assert.True(t, errors.As(err, &policy))
	})

	t.Run("decision on terminal change set is rejected", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.draft(t, "cs-7", lowRiskRecords()...)
		_, err := h.service.Submit(ctx, "cs-7")
		assert.Nil(t, err)
		_, err = h.service.Decide(ctx, "cs-7", "bob", change.DecisionApproved, "")
		assert.Nil(t, err)

		_, err = h.service.Decide(ctx, "cs-7", "carol", change.DecisionApproved, "")
		policy := &change.PolicyViolation{}
		assert.True(t, errors.As(err, &policy))
	})
}

func TestService_Expire(t *testing.T) {
	ctx := context.Background()

	base := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	clock.NowFunc = func() time.Time { return base }
	defer func() { clock.NowFunc = time.Now }()

	h := newHarness(t, DefaultConfig())
	h.draft(t, "cs-1", lowRiskRecords()...)
	h.draft(t, "cs-2", highRiskRecords()...)
	_, err := h.service.Submit(ctx, "cs-1")
	assert.Nil(t, err)
	_, err = h.service.Submit(ctx, "cs-2")
	assert.Nil(t, err)

	// escalation does not extend the deadline
	_, err = h.service.Decide(ctx, "cs-2", "bob", change.DecisionEscalated, "needs security review")
	assert.Nil(t, err)

	clock.NowFunc = func() time.Time { return base.Add(DefaultConfig().TTL + time.Minute) }

	expired, err := h.service.Expire(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 2, expired)

	for _, id := range []string{"cs-1", "cs-2"} {
		changeSet, err := h.store.Load(ctx, id)
		assert.Nil(t, err)
		assert.Equal(t, change.StatusExpired, changeSet.Status, id)
	}

	// late decision surfaces as a policy violation
	_, err = h.service.Decide(ctx, "cs-1", "bob", change.DecisionApproved, "")
	policy := &change.PolicyViolation{}
	assert.True(t, errors.As(err, &policy))
}

func TestService_Withdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("withdraw before any decision", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.draft(t, "cs-1", lowRiskRecords()...)
		_, err := h.service.Submit(ctx, "cs-1")
		assert.Nil(t, err)

		withdrawn, err := h.service.Withdraw(ctx, "cs-1", "alice", "superseded by cs-2")
		assert.Nil(t, err)
		assert.Equal(t, change.StatusRejected, withdrawn.Status)
		assert.Equal(t, "withdrawn: superseded by cs-2", withdrawn.Reason)
	})

	t.Run("withdraw after a decision is rejected", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.draft(t, "cs-2", highRiskRecords()...)
		_, err := h.service.Submit(ctx, "cs-2")
		assert.Nil(t, err)
		_, err = h.service.Decide(ctx, "cs-2", "bob", change.DecisionApproved, "")
		assert.Nil(t, err)

		_, err = h.service.Withdraw(ctx, "cs-2", "alice", "changed my mind")
		policy := &change.PolicyViolation{}
		assert.True(t, errors.As(err, &policy))
	})
}

type applierFunc func(ctx context.Context, changeSetID string) (*change.ChangeSet, error)

func (f applierFunc) Apply(ctx context.Context, changeSetID string) (*change.ChangeSet, error) {
	return f(ctx, changeSetID)
}

func TestService_AutoApply(t *testing.T) {
	ctx := context.Background()
	config := DefaultConfig()
	config.AutoApply = true

	var appliedID string
	applier := applierFunc(func(_ context.Context, changeSetID string) (*change.ChangeSet, error) {
		appliedID = changeSetID
		return &change.ChangeSet{ID: changeSetID, Status: change.StatusApplied}, nil
	})

	h := newHarness(t, config, WithApplier(applier))
	h.draft(t, "cs-1", lowRiskRecords()...)
	_, err := h.service.Submit(ctx, "cs-1")
	assert.Nil(t, err)

	decided, err := h.service.Decide(ctx, "cs-1", "bob", change.DecisionApproved, "")
	assert.Nil(t, err)
	assert.Equal(t, "cs-1", appliedID)
	assert.Equal(t, change.StatusApplied, decided.Status)
}
