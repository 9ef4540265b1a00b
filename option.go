package govern

import (
	"github.com/viant/govern/internal/lock"
	"github.com/viant/govern/model/change"
	"github.com/viant/govern/service/audit"
	"github.com/viant/govern/service/dao"
	"github.com/viant/govern/service/executor"
	"github.com/viant/govern/service/notify"
)

// Option customises the governance engine.
type Option func(s *Service)

// WithConfig replaces the whole engine configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		if config != nil {
			s.config = config
		}
	}
}

// WithChangeSetDAO sets the change set store.
func WithChangeSetDAO(service dao.Service[string, change.ChangeSet]) Option {
	return func(s *Service) { s.changeSetDao = service }
}

// WithApprovalDAO sets the approval slot store.
func WithApprovalDAO(service dao.Service[string, change.ApprovalRecord]) Option {
	return func(s *Service) { s.approvalDao = service }
}

// WithExecutor sets the domain mutation executor.  When the executor also
// implements executor.StateReader, rollback divergence detection uses it
// automatically.
func WithExecutor(service executor.Service) Option {
	return func(s *Service) { s.executor = service }
}

// WithStateReader sets the live entity state reader used for rollback
// complexity classification.
func WithStateReader(reader executor.StateReader) Option {
	return func(s *Service) { s.stateReader = reader }
}

// WithAuditLog sets the audit ledger.
func WithAuditLog(service audit.Service) Option {
	return func(s *Service) { s.auditLog = service }
}

// WithNotifier sets the notification service used for secondary assignment
// and escalation hand-off.
func WithNotifier(service notify.Service) Option {
	return func(s *Service) { s.notifier = service }
}

// WithLockRegistry shares a per-change-set lock registry with an embedding
// application.
func WithLockRegistry(locks *lock.Registry) Option {
	return func(s *Service) { s.locks = locks }
}
