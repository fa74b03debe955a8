package robustness

import (
	"gofingerprint/domain/core"
	"gofingerprint/domain/detection"
	"gofingerprint/domain/verdict"
)

// SubRunKind identifies which sweep a sub-run belongs to
type SubRunKind string

const (
	KindSubset    SubRunKind = "ell_subset"
	KindWhitening SubRunKind = "whitening_mode"
	KindEnsemble  SubRunKind = "null_ensemble"
	KindChannel   SubRunKind = "channel"
)

// SubRunResult is what a completed sub-run produced
type SubRunResult struct {
	LMin      int                       `json:"lmin"`
	LMax      int                       `json:"lmax"`
	Seed      int64                     `json:"seed"`
	Whitening detection.WhiteningMeta   `json:"whitening"`
	Best      detection.DetectionResult `json:"best"`
	Verdict   verdict.DatasetVerdict    `json:"verdict"`
}

// SubRunOutcome is self-contained: a failed sub-run carries a finding, not an unwind
type SubRunOutcome struct {
	Key     string        `json:"key"`
	Kind    SubRunKind    `json:"kind"`
	Finding core.Finding  `json:"finding"`
	Result  *SubRunResult `json:"result,omitempty"`
}

// Succeeded reports whether the sub-run produced a result
func (o SubRunOutcome) Succeeded() bool { return o.Result != nil && !o.Finding.IsFatal() }

// SubsetSummary decides ℓ-subset robustness
type SubsetSummary struct {
	TargetPeriod int  `json:"target_period"`
	Subsets      int  `json:"subsets"`
	Completed    int  `json:"completed"`
	Significant  int  `json:"significant"`
	Required     int  `json:"required"`
	Robust       bool `json:"robust"`
}

// ModeSummary decides stability across whitening modes
type ModeSummary struct {
	TargetPeriod int                              `json:"target_period"`
	BestPeriods  map[detection.WhiteningMode]int  `json:"best_periods"`
	Significant  map[detection.WhiteningMode]bool `json:"significant"`
	Stable       bool                             `json:"stable"`
	Artifact     bool                             `json:"artifact"` // significant under diagonal only
}

// EnsembleSummary is the empirical false-positive rate of the full pipeline
type EnsembleSummary struct {
	Datasets       int     `json:"datasets"`
	Completed      int     `json:"completed"`
	FalsePositives int     `json:"false_positives"`
	Rate           float64 `json:"rate"`
	Lower          float64 `json:"ci_lower"`
	Upper          float64 `json:"ci_upper"`
	Alpha          float64 `json:"alpha"`
	Consistent     bool    `json:"consistent"`
}

// ChannelSummary lists which alternate channels reproduce the target
type ChannelSummary struct {
	TargetPeriod int      `json:"target_period"`
	Channels     []string `json:"channels"`
	Reproduced   []string `json:"reproduced"`
}

// Report collects every sweep of one ablation run
type Report struct {
	RunID        core.RunID       `json:"run_id"`
	Dataset      string           `json:"dataset"`
	TargetPeriod int              `json:"target_period"`
	Outcomes     []SubRunOutcome  `json:"outcomes"`
	Subsets      *SubsetSummary   `json:"subsets,omitempty"`
	Modes        *ModeSummary     `json:"modes,omitempty"`
	Ensembles    *EnsembleSummary `json:"ensembles,omitempty"`
	Channels     *ChannelSummary  `json:"channels,omitempty"`
	Cancelled    bool             `json:"cancelled"`
	CreatedAt    core.Timestamp   `json:"created_at"`
}

// OutcomesOf returns the outcomes of one sweep in execution order
func (r *Report) OutcomesOf(kind SubRunKind) []SubRunOutcome {
	var out []SubRunOutcome
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}
