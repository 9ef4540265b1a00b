// Package apply executes an approved change set against the domain mutation
// executor.  Records run in dependency order; a mid-way failure triggers
// compensating rollback of the already-applied subset, in reverse order,
// before any later record is attempted.
package apply

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/viant/govern/internal/clock"
	"github.com/viant/govern/internal/lock"
	"github.com/viant/govern/model/change"
	"github.com/viant/govern/service/audit"
	"github.com/viant/govern/service/dao"
	"github.com/viant/govern/service/executor"
	"github.com/viant/govern/tracing"
)

// Config represents application engine configuration.
type Config struct {
	ConflictRetries    int           `json:"conflictRetries" yaml:"conflictRetries"`
	ConflictRetryDelay time.Duration `json:"conflictRetryDelay" yaml:"conflictRetryDelay"`
}

// DefaultConfig returns the default application engine configuration.
func DefaultConfig() Config {
	return Config{ConflictRetries: 3, ConflictRetryDelay: 20 * time.Millisecond}
}

// Service applies approved change sets.
type Service struct {
	config       Config
	changeSetDao dao.Service[string, change.ChangeSet]
	executor     executor.Service
	auditLog     audit.Service
	locks        *lock.Registry
}

// New creates an application engine sharing the supplied lock registry with
// the coordinator and rollback engine.
func New(config Config, changeSetDao dao.Service[string, change.ChangeSet],
	exec executor.Service, auditLog audit.Service, locks *lock.Registry) *Service {
	if locks == nil {
		locks = lock.NewRegistry()
	}
	return &Service{
		config:       config,
		changeSetDao: changeSetDao,
		executor:     exec,
		auditLog:     auditLog,
		locks:        locks,
	}
}

// Apply executes the change set's records.  Re-invoking on an already
// applied change set performs no further mutation and returns the prior
// result.  There is no cancellation once application has begun.
func (s *Service) Apply(ctx context.Context, changeSetID string) (*change.ChangeSet, error) {
	ctx, span := tracing.StartSpan(ctx, "apply.execute", "INTERNAL")
	var ret *change.ChangeSet
	err := s.locks.Do(ctx, changeSetID, s.config.ConflictRetries, s.config.ConflictRetryDelay, func() error {
		changeSet, err := s.changeSetDao.Load(ctx, changeSetID)
		if err != nil {
			return err
		}
		if changeSet == nil {
			return fmt.Errorf("change set %s: %w", changeSetID, dao.ErrNotFound)
		}
		if changeSet.Status == change.StatusApplied {
			// idempotent re-invocation
			ret = changeSet
			return nil
		}
		if changeSet.Status != change.StatusApproved {
			return change.NewPolicyViolation("change set %s is %s, apply requires an approved change set", changeSetID, changeSet.Status)
		}
		ret, err = s.execute(ctx, changeSet)
		return err
	})
	tracing.EndSpan(span, err)
	return ret, err
}

func (s *Service) execute(ctx context.Context, changeSet *change.ChangeSet) (*change.ChangeSet, error) {
	// ApplyOrder assumes an acyclic graph; a change set stored through a
	// custom DAO may have skipped validation
	if err := changeSet.Validate(); err != nil {
		return nil, err
	}
	order := changeSet.ApplyOrder()
	s.append(ctx, changeSet.ID, audit.TypeApplyStarted, map[string]interface{}{"records": len(order)})

	applied := make([]*change.ChangeRecord, 0, len(order))
	for _, record := range order {
		result, err := s.executor.Execute(ctx, &executor.Request{
			ChangeSetID: changeSet.ID,
			Operation:   record.Operation,
			EntityType:  record.EntityType,
			EntityID:    record.EntityID,
			State:       record.AfterState,
		})
		if err != nil || result == nil || !result.Success {
			if err == nil {
				err = fmt.Errorf("executor rejected operation")
			}
			record.ApplyError = err.Error()
			s.append(ctx, changeSet.ID, audit.TypeRecordApplyFailed, map[string]interface{}{
				"recordId": record.ID, "sequenceNo": record.SequenceNo, "error": err.Error(),
			})
			failure := &change.ApplyFailure{
				ChangeSetID: changeSet.ID,
				RecordID:    record.ID,
				SequenceNo:  record.SequenceNo,
				Err:         err,
			}
			return changeSet, s.compensate(ctx, changeSet, applied, failure)
		}
		now := clock.Now()
		record.AppliedAt = &now
		record.AssignedID = result.AssignedID
		record.RollbackStatus = change.RollbackPending
		applied = append(applied, record)
		s.append(ctx, changeSet.ID, audit.TypeRecordApplied, map[string]interface{}{
			"recordId": record.ID, "sequenceNo": record.SequenceNo, "operation": string(record.Operation),
		})
	}

	now := clock.Now()
	changeSet.Status = change.StatusApplied
	changeSet.AppliedAt = &now
	if err := s.changeSetDao.Save(ctx, changeSet); err != nil {
		return nil, err
	}
	s.append(ctx, changeSet.ID, audit.TypeChangeSetApplied, map[string]interface{}{"records": len(order)})
	return changeSet, nil
}

// compensate reverses the already-applied subset in reverse order.  The
// change set lands in rolledBack when every compensation succeeds, otherwise
// in failedApply with each failed record flagged for operator resolution.
func (s *Service) compensate(ctx context.Context, changeSet *change.ChangeSet, applied []*change.ChangeRecord, failure *change.ApplyFailure) error {
	incomplete := 0
	for i := len(applied) - 1; i >= 0; i-- {
		record := applied[i]
		inverse := record.Inverse()
		result, err := s.executor.Execute(ctx, &executor.Request{
			ChangeSetID: changeSet.ID,
			Operation:   inverse.Operation,
			EntityType:  inverse.EntityType,
			EntityID:    inverse.EntityID,
			State:       inverse.AfterState,
		})
		if err != nil || result == nil || !result.Success {
			if err == nil {
				err = fmt.Errorf("executor rejected compensation")
			}
			incomplete++
			record.RollbackStatus = change.RollbackFailed
			record.RollbackError = err.Error()
			s.append(ctx, changeSet.ID, audit.TypeRecordRollbackFailed, map[string]interface{}{
				"recordId": record.ID, "sequenceNo": record.SequenceNo, "error": err.Error(),
			})
			continue
		}
		record.RollbackStatus = change.RollbackDone
		s.append(ctx, changeSet.ID, audit.TypeRecordRolledBack, map[string]interface{}{
			"recordId": record.ID, "sequenceNo": record.SequenceNo,
		})
	}
	if incomplete > 0 {
		changeSet.Status = change.StatusFailedApply
	} else {
		changeSet.Status = change.StatusRolledBack
	}
	changeSet.Reason = failure.Error()
	if err := s.changeSetDao.Save(ctx, changeSet); err != nil {
		log.Printf("failed to persist change set %s after compensation: %v", changeSet.ID, err)
	}
	s.append(ctx, changeSet.ID, audit.TypeApplyCompensated, map[string]interface{}{
		"compensated": len(applied) - incomplete, "incomplete": incomplete, "finalStatus": string(changeSet.Status),
	})
	return failure
}

func (s *Service) append(ctx context.Context, changeSetID, eventType string, payload map[string]interface{}) {
	if err := s.auditLog.Append(ctx, &audit.Event{
		ChangeSetID: changeSetID,
		EventType:   eventType,
		Payload:     payload,
	}); err != nil {
		log.Printf("failed to append audit event %s for %s: %v", eventType, changeSetID, err)
	}
}
