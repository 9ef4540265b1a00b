// Package risk scores a change set's blast radius.  Scoring is a pure
// function of the ordered records plus the policy configuration: identical
// inputs always yield identical output, which the audit trail depends on.
package risk

import (
	"reflect"

	"github.com/viant/govern/model/change"
)

// Assessment is the scorer output attached to a change set on submission.
type Assessment struct {
	Score             float64            `json:"score"`
	Tier              change.RiskTier    `json:"tier"`
	RequiredApprovals int                `json:"requiredApprovals"`
	Factors           map[string]float64 `json:"factors"`
	Overrides         []string           `json:"overrides,omitempty"`
}

// Scorer computes risk assessments under a fixed policy.
type Scorer struct {
	policy *Policy
}

// New creates a scorer; a nil policy falls back to DefaultPolicy.
func New(policy *Policy) *Scorer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Scorer{policy: policy}
}

// Score assesses the supplied records for the given proposal source.
func (s *Scorer) Score(records []*change.ChangeRecord, source string) *Assessment {
	total := len(records)
	ret := &Assessment{Factors: map[string]float64{}}
	if total == 0 {
		ret.Tier = change.RiskTierLow
		ret.RequiredApprovals = ret.Tier.RequiredApprovals()
		return ret
	}

	deletes, criticalTouches, sensitiveTouches := 0, 0, 0
	criticalDelete := false
	for _, record := range records {
		critical := s.policy.isCritical(record.EntityType)
		if critical {
			criticalTouches++
		}
		if record.Operation == change.OperationDelete {
			deletes++
			if critical {
				criticalDelete = true
			}
		}
		if s.touchesSensitiveField(record) {
			sensitiveTouches++
		}
	}

	factors := ret.Factors
	factors["deleteFraction"] = float64(deletes) / float64(total)
	factors["criticalTouches"] = float64(criticalTouches) / float64(total)
	factors["recordCount"] = clamp01(float64(total) / float64(s.policy.SizeThreshold))
	factors["sensitiveFields"] = float64(sensitiveTouches) / float64(total)
	factors["sourceFailures"] = clamp01(s.policy.SourceFailureRates[source])

	weights := s.policy.Weights
	ret.Score = clamp01(weights.DeleteFraction*factors["deleteFraction"] +
		weights.CriticalTouches*factors["criticalTouches"] +
		weights.RecordCount*factors["recordCount"] +
		weights.SensitiveFields*factors["sensitiveFields"] +
		weights.SourceFailures*factors["sourceFailures"])

	switch {
	case ret.Score >= s.policy.HighThreshold:
		ret.Tier = change.RiskTierHigh
	case ret.Score >= s.policy.MediumThreshold:
		ret.Tier = change.RiskTierMedium
	default:
		ret.Tier = change.RiskTierLow
	}

	// hard overrides sit on top of the numeric score
	if total > s.policy.SizeThreshold {
		ret.Tier = change.RiskTierHigh
		ret.Overrides = append(ret.Overrides, "record count exceeds size threshold")
	}
	if criticalDelete {
		ret.Tier = change.RiskTierHigh
		ret.Overrides = append(ret.Overrides, "delete touches critical entity")
	}

	ret.RequiredApprovals = ret.Tier.RequiredApprovals()
	return ret
}

// touchesSensitiveField reports whether the record's after-state diff adds or
// alters a configured security-sensitive field.
func (s *Scorer) touchesSensitiveField(record *change.ChangeRecord) bool {
	if len(s.policy.SensitiveFields) == 0 || record.AfterState == nil {
		return false
	}
	for field, after := range record.AfterState {
		if !s.policy.isSensitive(field) {
			continue
		}
		if record.BeforeState == nil {
			return true
		}
		// state values may be nested maps, which do not support ==
		if before, ok := record.BeforeState[field]; !ok || !reflect.DeepEqual(before, after) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
