// Package rollback reverses applied change sets.  Every record stores the
// inverse-operation inputs at proposal time, so rollback never consults the
// original proposal source.
package rollback

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/viant/govern/internal/lock"
	"github.com/viant/govern/model/change"
	"github.com/viant/govern/service/audit"
	"github.com/viant/govern/service/dao"
	"github.com/viant/govern/service/executor"
	"github.com/viant/govern/tracing"
)

// Complexity classifies how safely an applied change set can be reverted.
type Complexity string

const (
	ComplexityLow         Complexity = "LOW"
	ComplexityMedium      Complexity = "MEDIUM"
	ComplexityHigh        Complexity = "HIGH"
	ComplexityUnsupported Complexity = "UNSUPPORTED"
)

func (c Complexity) rank() int {
	switch c {
	case ComplexityLow:
		return 0
	case ComplexityMedium:
		return 1
	case ComplexityHigh:
		return 2
	case ComplexityUnsupported:
		return 3
	}
	return -1
}

func maxComplexity(a, b Complexity) Complexity {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Config represents rollback engine configuration.
type Config struct {
	// SideEffectEntityTypes lists entity types whose mutations carry
	// external side effects that need re-verification before reversal.
	SideEffectEntityTypes []string      `json:"sideEffectEntityTypes,omitempty" yaml:"sideEffectEntityTypes,omitempty"`
	ConflictRetries       int           `json:"conflictRetries" yaml:"conflictRetries"`
	ConflictRetryDelay    time.Duration `json:"conflictRetryDelay" yaml:"conflictRetryDelay"`
}

// DefaultConfig returns the default rollback engine configuration.
func DefaultConfig() Config {
	return Config{ConflictRetries: 3, ConflictRetryDelay: 20 * time.Millisecond}
}

func (c *Config) hasSideEffects(entityType string) bool {
	for _, candidate := range c.SideEffectEntityTypes {
		if strings.EqualFold(candidate, entityType) {
			return true
		}
	}
	return false
}

// Service reverses applied change sets record by record.
type Service struct {
	config       Config
	changeSetDao dao.Service[string, change.ChangeSet]
	executor     executor.Service
	reader       executor.StateReader
	auditLog     audit.Service
	locks        *lock.Registry
}

// New creates a rollback engine.  The reader may be nil when the executor
// cannot expose live state; divergence detection is then skipped and
// rollback proceeds on stored state alone.
func New(config Config, changeSetDao dao.Service[string, change.ChangeSet],
	exec executor.Service, reader executor.StateReader, auditLog audit.Service, locks *lock.Registry) *Service {
	if locks == nil {
		locks = lock.NewRegistry()
	}
	return &Service{
		config:       config,
		changeSetDao: changeSetDao,
		executor:     exec,
		reader:       reader,
		auditLog:     auditLog,
		locks:        locks,
	}
}

// Complexity classifies the rollback of an applied change set.
func (s *Service) Complexity(ctx context.Context, changeSetID string) (Complexity, error) {
	changeSet, err := s.load(ctx, changeSetID)
	if err != nil {
		return "", err
	}
	if changeSet.Status != change.StatusApplied {
		return "", change.NewPolicyViolation("change set %s is %s, rollback complexity requires an applied change set", changeSetID, changeSet.Status)
	}
	ret := ComplexityLow
	for _, record := range changeSet.AppliedRecords() {
		recordComplexity, err := s.recordComplexity(ctx, changeSet.ID, record)
		if err != nil {
			return "", err
		}
		ret = maxComplexity(ret, recordComplexity)
	}
	return ret, nil
}

func (s *Service) recordComplexity(ctx context.Context, changeSetID string, record *change.ChangeRecord) (Complexity, error) {
	ret := ComplexityLow
	if s.config.hasSideEffects(record.EntityType) {
		ret = ComplexityMedium
	}
	if s.reader == nil {
		return ret, nil
	}
	entityID := record.EntityID
	if record.Operation == change.OperationCreate && record.AssignedID != "" {
		entityID = record.AssignedID
	}
	entity, err := s.reader.Entity(ctx, record.EntityType, entityID)
	if err != nil {
		return "", err
	}
	switch record.Operation {
	case change.OperationDelete:
		// entity re-created after our delete, before_state superseded
		if entity.Exists && entity.LastModifiedBy != changeSetID {
			return ComplexityUnsupported, nil
		}
	default:
		if entity.LastModifiedBy != changeSetID {
			ret = maxComplexity(ret, ComplexityHigh)
		}
	}
	return ret, nil
}

// CanRollback reports whether rollback is permitted, with the blocking
// reason when it is not.
func (s *Service) CanRollback(ctx context.Context, changeSetID string) (bool, string, error) {
	changeSet, err := s.load(ctx, changeSetID)
	if err != nil {
		return false, "", err
	}
	return s.canRollback(ctx, changeSet)
}

func (s *Service) canRollback(ctx context.Context, changeSet *change.ChangeSet) (bool, string, error) {
	if changeSet.Status != change.StatusApplied {
		return false, fmt.Sprintf("change set is %s, rollback requires an applied change set", changeSet.Status), nil
	}
	for _, record := range changeSet.AppliedRecords() {
		switch record.RollbackStatus {
		case change.RollbackDone:
			return false, fmt.Sprintf("record %s already rolled back", record.ID), nil
		case change.RollbackFailed:
			return false, fmt.Sprintf("record %s has a failed rollback attempt", record.ID), nil
		}
		if s.reader == nil {
			continue
		}
		entityID := record.EntityID
		if record.Operation == change.OperationCreate && record.AssignedID != "" {
			entityID = record.AssignedID
		}
		entity, err := s.reader.Entity(ctx, record.EntityType, entityID)
		if err != nil {
			return false, "", fmt.Errorf("failed to read state of %s/%s: %w", record.EntityType, entityID, err)
		}
		if entity.LastModifiedBy != "" && entity.LastModifiedBy != changeSet.ID {
			return false, "dependent change exists", nil
		}
	}
	return true, "", nil
}

// Rollback reverses every applied record in strict reverse order.  A record
// failure is recorded individually and does not block reversal of the
// remaining records.  Failed records are never auto-retried.
func (s *Service) Rollback(ctx context.Context, changeSetID string, reason string) (*change.ChangeSet, error) {
	ctx, span := tracing.StartSpan(ctx, "rollback.execute", "INTERNAL")
	var ret *change.ChangeSet
	err := s.locks.Do(ctx, changeSetID, s.config.ConflictRetries, s.config.ConflictRetryDelay, func() error {
		changeSet, err := s.load(ctx, changeSetID)
		if err != nil {
			return err
		}
		ok, blocked, err := s.canRollback(ctx, changeSet)
		if err != nil {
			return err
		}
		if !ok {
			return &change.RollbackFailure{ChangeSetID: changeSetID, Reason: blocked}
		}
		ret = changeSet
		return s.execute(ctx, changeSet, reason)
	})
	tracing.EndSpan(span, err)
	return ret, err
}

func (s *Service) execute(ctx context.Context, changeSet *change.ChangeSet, reason string) error {
	applied := changeSet.AppliedRecords()
	var firstFailure *change.RollbackFailure
	failed := 0
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
				err = fmt.Errorf("executor rejected reversal")
			}
			failed++
			record.RollbackStatus = change.RollbackFailed
			record.RollbackError = err.Error()
			if firstFailure == nil {
				firstFailure = &change.RollbackFailure{ChangeSetID: changeSet.ID, RecordID: record.ID, Err: err}
			}
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
	if failed > 0 {
		changeSet.Status = change.StatusRolledBackPartial
	} else {
		changeSet.Status = change.StatusRolledBack
	}
	changeSet.Reason = reason
	if err := s.changeSetDao.Save(ctx, changeSet); err != nil {
		// the per-record failure is what the operator resolves; the save
		// error must not displace it
		if firstFailure != nil {
			log.Printf("failed to persist change set %s after rollback: %v", changeSet.ID, err)
			return firstFailure
		}
		return err
	}
	s.append(ctx, changeSet.ID, audit.TypeChangeSetRolledBack, map[string]interface{}{
		"reverted": len(applied) - failed, "failed": failed, "finalStatus": string(changeSet.Status), "reason": reason,
	})
	if firstFailure != nil {
		return firstFailure
	}
	return nil
}

func (s *Service) load(ctx context.Context, changeSetID string) (*change.ChangeSet, error) {
	changeSet, err := s.changeSetDao.Load(ctx, changeSetID)
	if err != nil {
		return nil, err
	}
	if changeSet == nil {
		return nil, fmt.Errorf("change set %s: %w", changeSetID, dao.ErrNotFound)
	}
	return changeSet, nil
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
