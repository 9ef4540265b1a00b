package govern

import (
	"context"

	"github.com/viant/govern/internal/lock"
	"github.com/viant/govern/model/change"
	"github.com/viant/govern/service/approval"
	"github.com/viant/govern/service/apply"
	"github.com/viant/govern/service/audit"
	auditmem "github.com/viant/govern/service/audit/memory"
	"github.com/viant/govern/service/dao"
	csmem "github.com/viant/govern/service/dao/changeset/memory"
	"github.com/viant/govern/service/dao/store"
	"github.com/viant/govern/service/executor"
	"github.com/viant/govern/service/ingest"
	"github.com/viant/govern/service/notify"
	notifymem "github.com/viant/govern/service/notify/memory"
	"github.com/viant/govern/service/risk"
	"github.com/viant/govern/service/rollback"
)

// Service is the governance engine façade.  It wires the ingestion,
// approval, application and rollback services around shared persistence, a
// shared per-change-set lock registry and a single audit ledger.
type Service struct {
	config       *Config
	changeSetDao dao.Service[string, change.ChangeSet]
	approvalDao  dao.Service[string, change.ApprovalRecord]
	executor     executor.Service
	stateReader  executor.StateReader
	auditLog     audit.Service
	notifier     notify.Service
	locks        *lock.Registry

	ingest   *ingest.Service
	approval approval.Service
	apply    *apply.Service
	rollback *rollback.Service
}

// New creates a governance engine.  Every collaborator defaults to its
// in-memory implementation; production embeddings override stores and the
// executor through options.
func New(options ...Option) *Service {
	ret := &Service{config: DefaultConfig()}
	for _, option := range options {
		option(ret)
	}
	ret.init()
	return ret
}

func (s *Service) init() {
	if s.changeSetDao == nil {
		s.changeSetDao = csmem.New()
	}
	if s.approvalDao == nil {
		s.approvalDao = store.NewMemoryStore(func(slot *change.ApprovalRecord) string { return slot.ID })
	}
	if s.auditLog == nil {
		s.auditLog = auditmem.New()
	}
	if s.notifier == nil {
		s.notifier = notifymem.New()
	}
	if s.executor == nil {
		s.executor = executor.NewRegistry()
	}
	if s.stateReader == nil {
		if reader, ok := s.executor.(executor.StateReader); ok {
			s.stateReader = reader
		}
	}
	if s.locks == nil {
		s.locks = lock.NewRegistry()
	}

	s.ingest = ingest.New(s.changeSetDao, s.auditLog)
	s.apply = apply.New(s.config.Apply, s.changeSetDao, s.executor, s.auditLog, s.locks)
	s.rollback = rollback.New(s.config.Rollback, s.changeSetDao, s.executor, s.stateReader, s.auditLog, s.locks)
	s.approval = approval.New(s.config.Approval, s.changeSetDao, s.approvalDao,
		risk.New(s.config.Risk), s.auditLog, s.notifier,
		approval.WithApplier(s.apply), approval.WithLockRegistry(s.locks))
}

// Ingest returns the proposal ingestion service.
func (s *Service) Ingest() *ingest.Service { return s.ingest }

// Approval returns the approval coordinator.
func (s *Service) Approval() approval.Service { return s.approval }

// Audit returns the audit ledger.
func (s *Service) Audit() audit.Service { return s.auditLog }

// Apply executes an approved change set.
func (s *Service) Apply(ctx context.Context, changeSetID string) (*change.ChangeSet, error) {
	return s.apply.Apply(ctx, changeSetID)
}

// RollbackComplexity classifies the rollback of an applied change set.
func (s *Service) RollbackComplexity(ctx context.Context, changeSetID string) (rollback.Complexity, error) {
	return s.rollback.Complexity(ctx, changeSetID)
}

// CanRollback reports whether rollback is permitted, with the blocking
// reason when it is not.
func (s *Service) CanRollback(ctx context.Context, changeSetID string) (bool, string, error) {
	return s.rollback.CanRollback(ctx, changeSetID)
}

// Rollback reverses an applied change set.
func (s *Service) Rollback(ctx context.Context, changeSetID, reason string) (*change.ChangeSet, error) {
	return s.rollback.Rollback(ctx, changeSetID, reason)
}

// ChangeSet returns a change set snapshot by id.
func (s *Service) ChangeSet(ctx context.Context, changeSetID string) (*change.ChangeSet, error) {
	return s.changeSetDao.Load(ctx, changeSetID)
}

// StartExpirySweeper launches the background TTL sweep; the returned stop
// function halts it.
func (s *Service) StartExpirySweeper(ctx context.Context) func() {
	return approval.StartSweeper(ctx, s.approval, s.config.Approval.SweepInterval)
}
