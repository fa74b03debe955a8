package referee

import (
	"fmt"
	"math"

	"gofingerprint/domain/core"
	"gofingerprint/domain/detection"
	"gofingerprint/domain/verdict"
	"gofingerprint/internal"
	"gofingerprint/internal/config"
	"gofingerprint/internal/errors"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Criterion names of the replication checklist
const (
	CriterionPrimary     = "primary_significance"
	CriterionReplication = "replication_significance"
	CriterionSamePeriod  = "same_best_period"
	CriterionPhase       = "phase_agreement"
)

// VerdictEngine turns detections and null distributions into p-values and
// applies the fixed replication rule
type VerdictEngine struct {
	rule   verdict.Rule
	trials int
	logger *internal.Logger
}

// NewVerdictEngine creates an engine for the run's rule and trial count
func NewVerdictEngine(cfg config.RunConfig) *VerdictEngine {
	return &VerdictEngine{rule: cfg.Rule, trials: cfg.Trials, logger: internal.DefaultLogger.With("Verdict")}
}

// PValue is the add-one smoothed Monte Carlo p-value (k+1)/(N+1), where k
// counts null values at least as large as observed. It is never zero.
func PValue(observed float64, null []float64) (float64, int) {
	k := 0
	for _, v := range null {
		if v >= observed {
			k++
		}
	}
	return float64(k+1) / float64(len(null)+1), k
}

// AnalyticLocalP is the χ²(2) tail of a single-period Δχ² under Gaussian
// whitened noise. It ignores the look-elsewhere effect and is reported for
// reference only.
func AnalyticLocalP(delta float64) float64 {
	return distuv.ChiSquared{K: 2}.Survival(delta)
}

// PhaseDifference returns |a − b| wrapped to [0, π]
func PhaseDifference(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 2*math.Pi)
	if d > math.Pi {
		d = 2*math.Pi - d
	}
	return d
}

// Summarize computes descriptive statistics of the null maxima
func Summarize(values []float64) verdict.NullDistributionSummary {
	s := verdict.NullDistributionSummary{Trials: len(values)}
	if len(values) == 0 {
		return s
	}
	data := stats.Float64Data(values)
	s.Mean, _ = data.Mean()
	s.Min, _ = data.Min()
	s.Max, _ = data.Max()
	s.Median, _ = data.Median()
	s.Percentile95, _ = data.Percentile(95)
	s.Percentile99, _ = data.Percentile(99)
	if len(values) > 1 {
		s.StdDev, _ = data.StandardDeviationSample()
	}
	return s
}

// Evaluate computes the look-elsewhere corrected significance of one dataset.
// The null must have exactly the configured number of trials.
func (e *VerdictEngine) Evaluate(dataset string, scan detection.PeriodScan, null detection.NullDistribution) (verdict.DatasetVerdict, error) {
	if null.Size() != e.trials {
		return verdict.DatasetVerdict{}, errors.WithCode(errors.CodeInternalError,
			fmt.Errorf("%w: %s has %d trials, configured %d", core.ErrNullSizeMismatch, dataset, null.Size(), e.trials),
			core.Evidence{Name: "null_size", Value: float64(null.Size())},
			core.Evidence{Name: "trials", Value: float64(e.trials)})
	}

	best := scan.Best
	maxima := null.MaxValues()
	p, k := PValue(best.DeltaChi2, maxima)

	local, err := null.PeriodValues(best.Period)
	if err != nil {
		return verdict.DatasetVerdict{}, errors.WithCode(errors.CodeInternalError, err)
	}
	naive, _ := PValue(best.DeltaChi2, local)

	v := verdict.DatasetVerdict{
		Dataset:         dataset,
		BestPeriod:      best.Period,
		Phase:           best.Phase,
		Amplitude:       best.Amplitude,
		ObservedDelta:   best.DeltaChi2,
		PValue:          p,
		NaivePValue:     naive,
		AnalyticLocalP:  AnalyticLocalP(best.DeltaChi2),
		ExceedingTrials: k,
		Trials:          null.Size(),
		Tier:            verdict.TierFor(p),
		Null:            Summarize(maxima),
	}
	e.logger.Info("%s: best period %d, Δχ²=%.4g, p=%.4g (naive %.4g, %d/%d exceed), tier %s",
		dataset, v.BestPeriod, v.ObservedDelta, v.PValue, v.NaivePValue, k, v.Trials, v.Tier)
	return v, nil
}

// Combine applies the replication rule. Every criterion is evaluated and
// reported; PASS requires all of them.
func (e *VerdictEngine) Combine(primary, replication verdict.DatasetVerdict) verdict.CombinedVerdict {
	r := e.rule
	dphi := PhaseDifference(primary.Phase, replication.Phase)

	samePeriod := primary.BestPeriod == replication.BestPeriod

	criteria := []verdict.Criterion{
		{
			Name:     CriterionPrimary,
			Required: fmt.Sprintf("p < %g", r.PrimaryAlpha),
			Observed: fmt.Sprintf("p = %.4g", primary.PValue),
			Value:    primary.PValue,
			Passed:   primary.PValue < r.PrimaryAlpha,
		},
		{
			Name:     CriterionReplication,
			Required: fmt.Sprintf("p < %g", r.ReplicationAlpha),
			Observed: fmt.Sprintf("p = %.4g", replication.PValue),
			Value:    replication.PValue,
			Passed:   replication.PValue < r.ReplicationAlpha,
		},
		{
			Name:     CriterionSamePeriod,
			Required: "best periods equal",
			Observed: fmt.Sprintf("%d vs %d", primary.BestPeriod, replication.BestPeriod),
			Value:    float64(replication.BestPeriod - primary.BestPeriod),
			Passed:   samePeriod,
		},
		{
			Name:     CriterionPhase,
			Required: fmt.Sprintf("|Δφ| < %.4g rad", r.MaxPhaseDiff),
			Observed: fmt.Sprintf("|Δφ| = %.4g rad", dphi),
			Value:    dphi,
			Passed:   dphi < r.MaxPhaseDiff,
		},
	}

	status := verdict.StatusPass
	for _, c := range criteria {
		if !c.Passed {
			status = verdict.StatusFail
		}
	}

	out := verdict.CombinedVerdict{
		Status:      status,
		Rule:        r,
		Primary:     primary,
		Replication: replication,
		Criteria:    criteria,
		PhaseDiff:   dphi,
	}
	e.logger.Info("combined verdict %s (%d of %d criteria failed)", status, len(out.Failed()), len(criteria))
	return out
}
