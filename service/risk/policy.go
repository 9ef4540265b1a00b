package risk

import (
	"fmt"
	"strings"
)

// Weights controls the contribution of each scoring factor.  All weights are
// expected to sum to roughly 1.0 so the combined score stays within [0,1]
// before clamping.
type Weights struct {
	DeleteFraction  float64 `json:"deleteFraction" yaml:"deleteFraction"`
	CriticalTouches float64 `json:"criticalTouches" yaml:"criticalTouches"`
	RecordCount     float64 `json:"recordCount" yaml:"recordCount"`
	SensitiveFields float64 `json:"sensitiveFields" yaml:"sensitiveFields"`
	SourceFailures  float64 `json:"sourceFailures" yaml:"sourceFailures"`
}

// Policy is the serialisable sensitivity configuration consumed by the
// scorer.  The zero value is not useful; start from DefaultPolicy.
type Policy struct {
	Weights Weights `json:"weights" yaml:"weights"`

	// CriticalEntityTypes lists entity types whose deletion forces the high
	// tier regardless of the numeric score.
	CriticalEntityTypes []string `json:"criticalEntityTypes,omitempty" yaml:"criticalEntityTypes,omitempty"`

	// SensitiveFields lists field names whose appearance in an after-state
	// diff raises the score (credentials, ACLs, key material).
	SensitiveFields []string `json:"sensitiveFields,omitempty" yaml:"sensitiveFields,omitempty"`

	// SizeThreshold is the record count above which the tier is forced high.
	SizeThreshold int `json:"sizeThreshold" yaml:"sizeThreshold"`

	// SourceFailureRates maps a proposal source to its historical failure
	// rate in [0,1].
	SourceFailureRates map[string]float64 `json:"sourceFailureRates,omitempty" yaml:"sourceFailureRates,omitempty"`

	// MediumThreshold and HighThreshold split the numeric score into tiers.
	MediumThreshold float64 `json:"mediumThreshold" yaml:"mediumThreshold"`
	HighThreshold   float64 `json:"highThreshold" yaml:"highThreshold"`
}

// DefaultPolicy returns a policy with balanced weights and conservative
// thresholds.
func DefaultPolicy() *Policy {
	return &Policy{
		Weights: Weights{
			DeleteFraction:  0.25,
			CriticalTouches: 0.25,
			RecordCount:     0.15,
			SensitiveFields: 0.20,
			SourceFailures:  0.15,
		},
		SizeThreshold:   50,
		MediumThreshold: 0.35,
		HighThreshold:   0.70,
	}
}

// Validate returns an error describing invalid settings or nil.
func (p *Policy) Validate() error {
	if p == nil {
		return nil
	}
	if p.SizeThreshold <= 0 {
		return fmt.Errorf("risk.sizeThreshold must be > 0")
	}
	if p.MediumThreshold <= 0 || p.HighThreshold <= p.MediumThreshold {
		return fmt.Errorf("risk thresholds must satisfy 0 < medium < high")
	}
	return nil
}

func (p *Policy) isCritical(entityType string) bool {
	for _, candidate := range p.CriticalEntityTypes {
		if strings.EqualFold(candidate, entityType) {
			return true
		}
	}
	return false
}

func (p *Policy) isSensitive(field string) bool {
	for _, candidate := range p.SensitiveFields {
		if strings.EqualFold(candidate, field) {
			return true
		}
	}
	return false
}
