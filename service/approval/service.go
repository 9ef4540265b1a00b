package approval

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/viant/govern/internal/clock"
	"github.com/viant/govern/internal/idgen"
	"github.com/viant/govern/internal/lock"
	"github.com/viant/govern/model/change"
	"github.com/viant/govern/service/audit"
	"github.com/viant/govern/service/dao"
	"github.com/viant/govern/service/notify"
	"github.com/viant/govern/service/risk"
	"github.com/viant/govern/tracing"
)

// service implements the approval coordinator state machine.
type service struct {
	config       Config
	changeSetDao dao.Service[string, change.ChangeSet]
	approvalDao  dao.Service[string, change.ApprovalRecord]
	scorer       *risk.Scorer
	auditLog     audit.Service
	notifier     notify.Service
	locks        *lock.Registry
	applier      Applier
}

// Option customises the coordinator.
type Option func(*service)

// WithApplier wires the application engine for auto-apply on final approval.
func WithApplier(applier Applier) Option {
	return func(s *service) { s.applier = applier }
}

// WithLockRegistry shares a per-change-set lock registry with the application
// and rollback engines so their operations stay mutually exclusive.
func WithLockRegistry(locks *lock.Registry) Option {
	return func(s *service) { s.locks = locks }
}

// New creates an approval coordinator.
func New(config Config, changeSetDao dao.Service[string, change.ChangeSet],
	approvalDao dao.Service[string, change.ApprovalRecord],
	scorer *risk.Scorer, auditLog audit.Service, notifier notify.Service, options ...Option) Service {
	ret := &service{
		config:       config,
		changeSetDao: changeSetDao,
		approvalDao:  approvalDao,
		scorer:       scorer,
		auditLog:     auditLog,
		notifier:     notifier,
		locks:        lock.NewRegistry(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

var _ Service = (*service)(nil)

// Submit moves a draft change set into the approval pipeline.
func (s *service) Submit(ctx context.Context, changeSetID string) (*change.ChangeSet, error) {
	ctx, span := tracing.StartSpan(ctx, "approval.submit", "INTERNAL")
	defer tracing.EndSpan(span, nil)

	var ret *change.ChangeSet
	err := s.locks.Do(ctx, changeSetID, s.config.ConflictRetries, s.config.ConflictRetryDelay, func() error {
		changeSet, err := s.load(ctx, changeSetID)
		if err != nil {
			return err
		}
		if changeSet.Status != change.StatusDraft {
			return change.NewPolicyViolation("change set %s is %s, only draft can be submitted", changeSetID, changeSet.Status)
		}
		if err := changeSet.Validate(); err != nil {
			return err
		}

		assessment := s.scorer.Score(changeSet.Records, changeSet.Source)
		now := clock.Now()
		deadline := now.Add(s.config.TTL)
		changeSet.Status = change.StatusPendingApproval
		changeSet.RiskScore = assessment.Score
		changeSet.RiskTier = assessment.Tier
		changeSet.RequiredApprovals = assessment.RequiredApprovals
		changeSet.SubmittedAt = &now
		changeSet.ExpiresAt = &deadline

		if err := s.changeSetDao.Save(ctx, changeSet); err != nil {
			return err
		}
		slot := &change.ApprovalRecord{
			ID:          idgen.New(),
			ChangeSetID: changeSetID,
			Role:        change.RolePrimary,
			Decision:    change.DecisionPending,
			Cycle:       1,
		}
		if err := s.approvalDao.Save(ctx, slot); err != nil {
			return err
		}
		s.append(ctx, changeSetID, audit.TypeChangeSetSubmitted, changeSet.Proposer, map[string]interface{}{
			"riskScore":         assessment.Score,
			"riskTier":          string(assessment.Tier),
			"requiredApprovals": assessment.RequiredApprovals,
			"factors":           assessment.Factors,
			"overrides":         assessment.Overrides,
			"expiresAt":         deadline,
		})
		ret = changeSet
		return nil
	})
	return ret, err
}

// Decide records an approver's verdict under the two-person rule.
func (s *service) Decide(ctx context.Context, changeSetID, approver string, decision change.Decision, reason string) (*change.ChangeSet, error) {
	ctx, span := tracing.StartSpan(ctx, "approval.decide", "INTERNAL")
	defer tracing.EndSpan(span, nil)

	var ret *change.ChangeSet
	autoApply := false
	err := s.locks.Do(ctx, changeSetID, s.config.ConflictRetries, s.config.ConflictRetryDelay, func() error {
		changeSet, err := s.load(ctx, changeSetID)
		if err != nil {
			return err
		}
		// defensive TTL check so expiry holds even with an irregular sweep
		if changeSet.Status.IsDecidable() && changeSet.Expired(clock.Now()) {
			if err := s.expireChangeSet(ctx, changeSet); err != nil {
				return err
			}
			return change.NewPolicyViolation("change set %s expired at %s", changeSetID, changeSet.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		if !changeSet.Status.IsDecidable() {
			return change.NewPolicyViolation("change set %s is %s, no decision can be recorded", changeSetID, changeSet.Status)
		}
		if approver == "" {
			return change.NewValidationError("approver identity is required")
		}
		if approver == changeSet.Proposer {
			return change.NewPolicyViolation("approver %s proposed change set %s, a distinct identity is required", approver, changeSetID)
		}
		// the repeat check spans every cycle: an identity that decided once,
		// escalations included, never decides on the same change set again
		all, err := s.Approvals(ctx, changeSetID)
		if err != nil {
			return err
		}
		for _, slot := range all {
			if slot.Decided() && slot.Approver == approver {
				return change.NewPolicyViolation("approver %s already decided on change set %s", approver, changeSetID)
			}
		}
		slots := latestCycle(all)

		switch decision {
		case change.DecisionApproved:
			autoApply, err = s.approve(ctx, changeSet, slots, approver, reason)
		case change.DecisionRejected:
			err = s.reject(ctx, changeSet, slots, approver, reason)
		case change.DecisionEscalated:
			err = s.escalate(ctx, changeSet, slots, approver, reason)
		default:
			err = change.NewValidationError("unsupported decision %q", decision)
		}
		if err != nil {
			return err
		}
		ret = changeSet
		return nil
	})
	if err != nil {
		return nil, err
	}
	if autoApply && s.applier != nil {
		// apply takes its own ownership of the change set
		if applied, applyErr := s.applier.Apply(ctx, changeSetID); applyErr != nil {
			log.Printf("auto-apply of change set %s failed: %v", changeSetID, applyErr)
		} else {
			ret = applied
		}
	}
	return ret, nil
}

// approve records an approval slot; returns whether application may start.
func (s *service) approve(ctx context.Context, changeSet *change.ChangeSet, slots []*change.ApprovalRecord, approver, reason string) (bool, error) {
	pending := pendingSlot(slots)
	if pending == nil {
		return false, change.NewPolicyViolation("change set %s has no open approval slot", changeSet.ID)
	}
	now := clock.Now()
	pending.Approver = approver
	pending.Decision = change.DecisionApproved
	pending.DecidedAt = &now
	pending.Reason = reason
	if err := s.approvalDao.Save(ctx, pending); err != nil {
		return false, err
	}
	s.append(ctx, changeSet.ID, audit.TypeDecisionRecorded, approver, map[string]interface{}{
		"decision": string(change.DecisionApproved), "role": string(pending.Role), "reason": reason,
	})

	approved := countApproved(slots)
	if approved < changeSet.RequiredApprovals {
		// first of two: open the secondary slot and hand off assignment
		changeSet.Status = change.StatusAwaitingSecondary
		secondary := &change.ApprovalRecord{
			ID:          idgen.New(),
			ChangeSetID: changeSet.ID,
			Role:        change.RoleSecondary,
			Decision:    change.DecisionPending,
			Cycle:       pending.Cycle,
		}
		if err := s.approvalDao.Save(ctx, secondary); err != nil {
			return false, err
		}
		if err := s.changeSetDao.Save(ctx, changeSet); err != nil {
			return false, err
		}
		_ = s.notifier.Dispatch(ctx, &notify.Dispatch{
			Kind:        notify.KindSecondaryAssigned,
			ChangeSetID: changeSet.ID,
			Reason:      fmt.Sprintf("high risk change set requires a second distinct approver (primary: %s)", approver),
		})
		return false, nil
	}
	changeSet.Status = change.StatusApproved
	changeSet.Reason = ""
	if err := s.changeSetDao.Save(ctx, changeSet); err != nil {
		return false, err
	}
	return s.config.AutoApply, nil
}

func (s *service) reject(ctx context.Context, changeSet *change.ChangeSet, slots []*change.ApprovalRecord, approver, reason string) error {
	pending := pendingSlot(slots)
	if pending == nil {
		return change.NewPolicyViolation("change set %s has no open approval slot", changeSet.ID)
	}
	now := clock.Now()
	pending.Approver = approver
	pending.Decision = change.DecisionRejected
	pending.DecidedAt = &now
	pending.Reason = reason
	if err := s.approvalDao.Save(ctx, pending); err != nil {
		return err
	}
	// a single reject is final even when the other party already approved
	changeSet.Status = change.StatusRejected
	changeSet.Reason = reason
	if err := s.changeSetDao.Save(ctx, changeSet); err != nil {
		return err
	}
	s.append(ctx, changeSet.ID, audit.TypeDecisionRecorded, approver, map[string]interface{}{
		"decision": string(change.DecisionRejected), "role": string(pending.Role), "reason": reason,
	})
	return nil
}

// escalate hands the change set to an external resolution channel.  The
// current approval cycle is closed and a fresh primary slot opens so the
// external decision is recorded in its own round; the original TTL still
// bounds the wait.
func (s *service) escalate(ctx context.Context, changeSet *change.ChangeSet, slots []*change.ApprovalRecord, approver, reason string) error {
	now := clock.Now()
	cycle := 1
	for _, slot := range slots {
		cycle = slot.Cycle
		if slot.Decision == change.DecisionPending {
			slot.Approver = approver
			slot.Decision = change.DecisionEscalated
			slot.DecidedAt = &now
			slot.Reason = reason
			if err := s.approvalDao.Save(ctx, slot); err != nil {
				return err
			}
		}
	}
	next := &change.ApprovalRecord{
		ID:          idgen.New(),
		ChangeSetID: changeSet.ID,
		Role:        change.RolePrimary,
		Decision:    change.DecisionPending,
		Cycle:       cycle + 1,
	}
	if err := s.approvalDao.Save(ctx, next); err != nil {
		return err
	}
	changeSet.Status = change.StatusEscalated
	if err := s.changeSetDao.Save(ctx, changeSet); err != nil {
		return err
	}
	s.append(ctx, changeSet.ID, audit.TypeChangeSetEscalated, approver, map[string]interface{}{"reason": reason})
	_ = s.notifier.Dispatch(ctx, &notify.Dispatch{
		Kind:        notify.KindEscalation,
		ChangeSetID: changeSet.ID,
		Reason:      reason,
	})
	return nil
}

// Withdraw cancels a change set while no approval decision exists.
func (s *service) Withdraw(ctx context.Context, changeSetID, actor, reason string) (*change.ChangeSet, error) {
	var ret *change.ChangeSet
	err := s.locks.Do(ctx, changeSetID, s.config.ConflictRetries, s.config.ConflictRetryDelay, func() error {
		changeSet, err := s.load(ctx, changeSetID)
		if err != nil {
			return err
		}
		if changeSet.Status != change.StatusDraft && changeSet.Status != change.StatusPendingApproval {
			return change.NewPolicyViolation("change set %s is %s, withdrawal is only permitted before any approval decision", changeSetID, changeSet.Status)
		}
		slots, err := s.Approvals(ctx, changeSetID)
		if err != nil {
			return err
		}
		for _, slot := range slots {
			if slot.Decided() {
				return change.NewPolicyViolation("change set %s already carries a decision by %s", changeSetID, slot.Approver)
			}
		}
		changeSet.Status = change.StatusRejected
		changeSet.Reason = fmt.Sprintf("withdrawn: %s", reason)
		if err := s.changeSetDao.Save(ctx, changeSet); err != nil {
			return err
		}
		s.append(ctx, changeSetID, audit.TypeChangeSetWithdrawn, actor, map[string]interface{}{"reason": reason})
		ret = changeSet
		return nil
	})
	return ret, err
}

// Expire sweeps all decidable change sets past their deadline.  Change sets
// owned by a live decision are skipped and picked up on the next sweep.
func (s *service) Expire(ctx context.Context) (int, error) {
	changeSets, err := s.changeSetDao.List(ctx)
	if err != nil {
		return 0, err
	}
	now := clock.Now()
	expired := 0
	for _, candidate := range changeSets {
		if !candidate.Status.IsDecidable() || !candidate.Expired(now) {
			continue
		}
		changeSetID := candidate.ID
		err := s.locks.Do(ctx, changeSetID, 1, 0, func() error {
			changeSet, err := s.load(ctx, changeSetID)
			if err != nil {
				return err
			}
			if !changeSet.Status.IsDecidable() || !changeSet.Expired(now) {
				return nil
			}
			if err := s.expireChangeSet(ctx, changeSet); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil && !change.IsRetryable(err) {
			return expired, err
		}
	}
	return expired, nil
}

func (s *service) expireChangeSet(ctx context.Context, changeSet *change.ChangeSet) error {
	changeSet.Status = change.StatusExpired
	changeSet.Reason = fmt.Sprintf("expired at %s", changeSet.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	if err := s.changeSetDao.Save(ctx, changeSet); err != nil {
		return err
	}
	s.append(ctx, changeSet.ID, audit.TypeChangeSetExpired, "", map[string]interface{}{"expiresAt": changeSet.ExpiresAt})
	return nil
}

// Approvals lists all approval slots for a change set ordered by cycle and role.
func (s *service) Approvals(ctx context.Context, changeSetID string) ([]*change.ApprovalRecord, error) {
	all, err := s.approvalDao.List(ctx)
	if err != nil {
		return nil, err
	}
	var ret []*change.ApprovalRecord
	for _, slot := range all {
		if slot.ChangeSetID == changeSetID {
			ret = append(ret, slot)
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Cycle != ret[j].Cycle {
			return ret[i].Cycle < ret[j].Cycle
		}
		return ret[i].Role < ret[j].Role
	})
	return ret, nil
}

// latestCycle filters the slots belonging to the latest approval cycle.
func latestCycle(slots []*change.ApprovalRecord) []*change.ApprovalRecord {
	current := 0
	for _, slot := range slots {
		if slot.Cycle > current {
			current = slot.Cycle
		}
	}
	var ret []*change.ApprovalRecord
	for _, slot := range slots {
		if slot.Cycle == current {
			ret = append(ret, slot)
		}
	}
	return ret
}

func (s *service) load(ctx context.Context, changeSetID string) (*change.ChangeSet, error) {
	changeSet, err := s.changeSetDao.Load(ctx, changeSetID)
	if err != nil {
		return nil, err
	}
	if changeSet == nil {
		return nil, fmt.Errorf("change set %s: %w", changeSetID, dao.ErrNotFound)
	}
	return changeSet, nil
}

func (s *service) append(ctx context.Context, changeSetID, eventType, actor string, payload map[string]interface{}) {
	if err := s.auditLog.Append(ctx, &audit.Event{
		ChangeSetID: changeSetID,
		EventType:   eventType,
		Actor:       actor,
		Payload:     payload,
	}); err != nil {
		log.Printf("failed to append audit event %s for %s: %v", eventType, changeSetID, err)
	}
}

func pendingSlot(slots []*change.ApprovalRecord) *change.ApprovalRecord {
	for _, slot := range slots {
		if slot.Decision == change.DecisionPending {
			return slot
		}
	}
	return nil
}

func countApproved(slots []*change.ApprovalRecord) int {
	count := 0
	for _, slot := range slots {
		if slot.Decision == change.DecisionApproved {
			count++
		}
	}
	return count
}
