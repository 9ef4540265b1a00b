// Package ingest turns upstream proposals into validated draft change sets.
// Proposals arrive either as explicit record lists or as unified diffs over
// keyed configuration documents.
package ingest

import (
	"context"
	"log"

	"github.com/viant/govern/internal/clock"
	"github.com/viant/govern/internal/idgen"
	"github.com/viant/govern/model/change"
	"github.com/viant/govern/service/audit"
	"github.com/viant/govern/service/dao"
	"github.com/viant/govern/tracing"
)

// Service builds draft change sets ready for submission.
type Service struct {
	changeSetDao dao.Service[string, change.ChangeSet]
	auditLog     audit.Service
}

// New creates an ingestion service.
func New(changeSetDao dao.Service[string, change.ChangeSet], auditLog audit.Service) *Service {
	return &Service{changeSetDao: changeSetDao, auditLog: auditLog}
}

// Propose validates the supplied records and persists a draft change set.
// Missing record identifiers and sequence numbers are assigned in order.
func (s *Service) Propose(ctx context.Context, source, proposer string, records []*change.ChangeRecord) (*change.ChangeSet, error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.propose", "INTERNAL")
	changeSet, err := s.propose(ctx, source, proposer, records)
	tracing.EndSpan(span, err)
	return changeSet, err
}

func (s *Service) propose(ctx context.Context, source, proposer string, records []*change.ChangeRecord) (*change.ChangeSet, error) {
	if proposer == "" {
		return nil, change.NewValidationError("proposer is required")
	}
	changeSet := &change.ChangeSet{
		ID:        idgen.New(),
		Status:    change.StatusDraft,
		Source:    source,
		Proposer:  proposer,
		CreatedAt: clock.Now(),
		Records:   records,
	}
	for i, record := range records {
		if record == nil {
			return nil, change.NewValidationError("record %d is nil", i)
		}
		if record.ID == "" {
			record.ID = idgen.New()
		}
		if record.SequenceNo == 0 {
			record.SequenceNo = i + 1
		}
		record.ChangeSetID = changeSet.ID
	}
	if err := changeSet.Validate(); err != nil {
		return nil, err
	}
	if err := s.changeSetDao.Save(ctx, changeSet); err != nil {
		return nil, err
	}
	s.audit(ctx, changeSet)
	return changeSet, nil
}

// ProposeDiff parses a unified diff over keyed documents into change records
// and persists the resulting draft change set.  Documents map entity id to
// current content; the diff's file names identify the entities.
func (s *Service) ProposeDiff(ctx context.Context, source, proposer, entityType string,
	documents map[string]string, unifiedDiff string) (*change.ChangeSet, error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.proposeDiff", "INTERNAL")
	var changeSet *change.ChangeSet
	records, err := parseDiff(entityType, documents, unifiedDiff)
	if err == nil {
		if len(records) == 0 {
			err = change.NewValidationError("diff contains no document changes")
		} else {
			changeSet, err = s.propose(ctx, source, proposer, records)
		}
	}
	tracing.EndSpan(span, err)
	return changeSet, err
}

func (s *Service) audit(ctx context.Context, changeSet *change.ChangeSet) {
	summaries := map[string]interface{}{}
	for _, record := range changeSet.Records {
		if _, ok := record.BeforeState[ContentField]; !ok {
			if _, ok := record.AfterState[ContentField]; !ok {
				continue
			}
		}
		if summary, err := Summary(record); err == nil && summary != "" {
			summaries[record.ID] = summary
		}
	}
	payload := map[string]interface{}{
		"source":  changeSet.Source,
		"records": len(changeSet.Records),
	}
	if len(summaries) > 0 {
		payload["summaries"] = summaries
	}
	if err := s.auditLog.Append(ctx, &audit.Event{
		ChangeSetID: changeSet.ID,
		EventType:   audit.TypeChangeSetCreated,
		Actor:       changeSet.Proposer,
		Payload:     payload,
	}); err != nil {
		log.Printf("failed to append audit event for %s: %v", changeSet.ID, err)
	}
}
