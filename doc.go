// Package govern provides a risk-gated change governance engine.
//
// Upstream systems propose change sets: ordered create/update/delete records
// over domain entities.  Each change set is risk-scored, routed through a
// two-person approval rule when the risk is high, applied in dependency
// order against a pluggable mutation executor, and reversible through
// compensating inverse operations.  Every transition lands in an append-only
// audit ledger.
//
// Embedding applications interact through the Service façade exposed by this
// package:
//
//	srv := govern.New(govern.WithExecutor(registry))
//	changeSet, _ := srv.Ingest().Propose(ctx, "config-repo", "alice", records)
//	_, _ = srv.Approval().Submit(ctx, changeSet.ID)
//	_, _ = srv.Approval().Decide(ctx, changeSet.ID, "bob", change.DecisionApproved, "")
//	applied, _ := srv.Apply(ctx, changeSet.ID)
//
// For details see the individual sub-packages.
package govern
