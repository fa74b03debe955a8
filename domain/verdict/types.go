package verdict

import (
	"math"
)

// VerdictStatus is the combined cross-dataset decision
type VerdictStatus string

const (
	StatusPass VerdictStatus = "PASS"
	StatusFail VerdictStatus = "FAIL"
)

// Tier describes the strength of a single dataset's p-value. It is
// descriptive only; PASS/FAIL uses the fixed Rule thresholds.
type Tier string

const (
	TierStrong      Tier = "strong"
	TierSignificant Tier = "significant"
	TierSuggestive  Tier = "suggestive"
	TierNone        Tier = "none"
)

// TierFor maps a p-value to its tier
func TierFor(p float64) Tier {
	switch {
	case p < 0.0027:
		return TierStrong
	case p < 0.01:
		return TierSignificant
	case p < 0.05:
		return TierSuggestive
	default:
		return TierNone
	}
}

// Rule is the pre-registered replication checklist. Equal best periods are
// always required and cannot be switched off.
type Rule struct {
	PrimaryAlpha     float64 `json:"primary_alpha" yaml:"primary_alpha"`
	ReplicationAlpha float64 `json:"replication_alpha" yaml:"replication_alpha"`
	MaxPhaseDiff     float64 `json:"max_phase_diff" yaml:"max_phase_diff"`
}

// DefaultRule returns the fixed checklist: 0.01 / 0.05 / same period / Δφ < π/2
func DefaultRule() Rule {
	return Rule{
		PrimaryAlpha:     0.01,
		ReplicationAlpha: 0.05,
		MaxPhaseDiff:     math.Pi / 2,
	}
}

// NullDistributionSummary provides key statistics about the null distribution
type NullDistributionSummary struct {
	Trials       int     `json:"trials"`
	Mean         float64 `json:"mean"`
	StdDev       float64 `json:"std_dev"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Median       float64 `json:"median"`
	Percentile95 float64 `json:"percentile_95"`
	Percentile99 float64 `json:"percentile_99"`
}

// DatasetVerdict is the look-elsewhere corrected significance of one dataset
type DatasetVerdict struct {
	Dataset         string                  `json:"dataset"`
	BestPeriod      int                     `json:"best_period"`
	Phase           float64                 `json:"phase"`
	Amplitude       float64                 `json:"amplitude"`
	ObservedDelta   float64                 `json:"observed_delta_chi2"`
	PValue          float64                 `json:"p_value"`
	NaivePValue     float64                 `json:"naive_p_value"`
	AnalyticLocalP  float64                 `json:"analytic_local_p"`
	ExceedingTrials int                     `json:"exceeding_trials"`
	Trials          int                     `json:"trials"`
	Tier            Tier                    `json:"tier"`
	Null            NullDistributionSummary `json:"null"`
}

// Criterion is one line of the checklist with what was required and what was seen
type Criterion struct {
	Name     string  `json:"name"`
	Required string  `json:"required"`
	Observed string  `json:"observed"`
	Value    float64 `json:"value"`
	Passed   bool    `json:"passed"`
}

// CombinedVerdict is the replication decision. PASS only if every criterion passes.
type CombinedVerdict struct {
	Status      VerdictStatus  `json:"status"`
	Rule        Rule           `json:"rule"`
	Primary     DatasetVerdict `json:"primary"`
	Replication DatasetVerdict `json:"replication"`
	Criteria    []Criterion    `json:"criteria"`
	PhaseDiff   float64        `json:"phase_diff"`
}

// Failed returns the criteria that did not pass
func (v CombinedVerdict) Failed() []Criterion {
	var out []Criterion
	for _, c := range v.Criteria {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}
