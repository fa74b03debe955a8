package referee

import (
	"context"
	"math"
	"testing"

	"gofingerprint/adapters/rng"
	"gofingerprint/domain/core"
	"gofingerprint/domain/detection"
	"gofingerprint/domain/spectrum"
	"gofingerprint/domain/verdict"
	"gofingerprint/internal/config"
	"gofingerprint/internal/nullsim"
	"gofingerprint/internal/periodicity"
	"gofingerprint/internal/whitening"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func engineWithTrials(t *testing.T, trials int) *VerdictEngine {
	t.Helper()
	plan := config.DefaultPlan()
	plan.Trials = trials
	cfg, err := config.New(plan)
	require.NoError(t, err)
	return NewVerdictEngine(cfg)
}

func TestPValue_AddOne(t *testing.T) {
	null := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}

	p, k := PValue(100, null)
	assert.Equal(t, 0.1, p)
	assert.Zero(t, k)

	p, k = PValue(5, null)
	assert.Equal(t, 5, k)
	assert.InDelta(t, 0.6, p, 1e-15)

	p, _ = PValue(0, null)
	assert.Equal(t, 1.0, p)
}

func TestPhaseDifference_Wraps(t *testing.T) {
	assert.InDelta(t, 0.2, PhaseDifference(math.Pi-0.1, -math.Pi+0.1), 1e-12)
	assert.InDelta(t, math.Pi, PhaseDifference(0, math.Pi), 1e-12)
	assert.InDelta(t, 0.5, PhaseDifference(0.25, -0.25), 1e-12)
}

func nullWith(periods []int, per [][]float64) detection.NullDistribution {
	d := detection.NullDistribution{Method: detection.NullGaussian, Periods: periods}
	for i, vals := range per {
		max := 0.0
		best := periods[0]
		for j, v := range vals {
			if v > max {
				max, best = v, periods[j]
			}
		}
		d.Samples = append(d.Samples, detection.NullSample{Trial: i, MaxDeltaChi2: max, BestPeriod: best, PerPeriod: vals})
	}
	return d
}

func TestEvaluate_LookElsewhereMonotonicity(t *testing.T) {
	periods := []int{8, 16, 32}
	per := [][]float64{
		{1, 9, 2}, {6, 1, 1}, {2, 2, 7}, {0.5, 4, 1}, {3, 1, 0.2},
		{1, 1, 1}, {8, 0, 0}, {0, 0, 5.5}, {2, 6, 1}, {0, 1, 0},
	}
	e := engineWithTrials(t, len(per))
	scan := detection.PeriodScan{Best: detection.DetectionResult{Period: 16, DeltaChi2: 5, Phase: 0.3}}

	v, err := e.Evaluate("planck", scan, nullWith(periods, per))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v.PValue, v.NaivePValue)
	// maxima ≥ 5: 9, 6, 7, 8, 5.5, 6 → 6 of 10
	assert.Equal(t, 6, v.ExceedingTrials)
	assert.InDelta(t, 7.0/11.0, v.PValue, 1e-12)
	// period 16 alone ≥ 5: 9, 6 → 2
	assert.InDelta(t, 3.0/11.0, v.NaivePValue, 1e-12)
	assert.InDelta(t, math.Exp(-2.5), v.AnalyticLocalP, 1e-12)
	assert.Equal(t, 10, v.Null.Trials)
	assert.Equal(t, 9.0, v.Null.Max)
}

func TestEvaluate_RejectsWrongNullSize(t *testing.T) {
	e := engineWithTrials(t, 50)
	_, err := e.Evaluate("planck", detection.PeriodScan{}, nullWith([]int{8}, [][]float64{{1}}))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNullSizeMismatch)
}

func TestCombine_PeriodMismatchFails(t *testing.T) {
	e := engineWithTrials(t, 100)
	primary := verdict.DatasetVerdict{Dataset: "A", BestPeriod: 255, PValue: 0.001, Phase: 0.1}
	replication := verdict.DatasetVerdict{Dataset: "B", BestPeriod: 16, PValue: 0.0001, Phase: 0.1}

	v := e.Combine(primary, replication)
	assert.Equal(t, verdict.StatusFail, v.Status)
	failed := v.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, CriterionSamePeriod, failed[0].Name)
	assert.Len(t, v.Criteria, 4)
}

func TestCombine_AllCriteria(t *testing.T) {
	e := engineWithTrials(t, 100)
	base := func() (verdict.DatasetVerdict, verdict.DatasetVerdict) {
		return verdict.DatasetVerdict{BestPeriod: 32, PValue: 0.005, Phase: 1.0},
			verdict.DatasetVerdict{BestPeriod: 32, PValue: 0.03, Phase: 1.5}
	}

	tests := []struct {
		name   string
		mutate func(p, r *verdict.DatasetVerdict)
		want   verdict.VerdictStatus
		failed []string
	}{
		{"pass", func(p, r *verdict.DatasetVerdict) {}, verdict.StatusPass, nil},
		{"primary weak", func(p, r *verdict.DatasetVerdict) { p.PValue = 0.01 }, verdict.StatusFail, []string{CriterionPrimary}},
		{"replication weak", func(p, r *verdict.DatasetVerdict) { r.PValue = 0.05 }, verdict.StatusFail, []string{CriterionReplication}},
		{"phase off", func(p, r *verdict.DatasetVerdict) { r.Phase = 3.0 }, verdict.StatusFail, []string{CriterionPhase}},
		{"everything off", func(p, r *verdict.DatasetVerdict) {
			p.PValue, r.PValue, r.BestPeriod, r.Phase = 0.5, 0.5, 8, -2
		}, verdict.StatusFail, []string{CriterionPrimary, CriterionReplication, CriterionSamePeriod, CriterionPhase}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, r := base()
			tt.mutate(&p, &r)
			v := e.Combine(p, r)
			assert.Equal(t, tt.want, v.Status)
			var names []string
			for _, c := range v.Failed() {
				names = append(names, c.Name)
			}
			assert.Equal(t, tt.failed, names)
		})
	}
}

// Under the null the corrected p-value is uniform, so about 5% of null
// datasets fall below 0.05.
func TestCalibration_NullPValuesUniform(t *testing.T) {
	if testing.Short() {
		t.Skip("calibration runs 200 synthetic datasets")
	}
	const (
		datasets = 200
		trials   = 199
		n        = 64
	)
	periods := []int{8, 16, 32}

	r := detection.Residual{Units: spectrum.UnitsCl}
	for l := 2; l < 2+n; l++ {
		r.Ells = append(r.Ells, l)
		r.Values = append(r.Values, 0)
		r.Sigma = append(r.Sigma, 1+0.05*float64(l))
		r.Model = append(r.Model, 0)
	}
	plan := config.DefaultPlan()
	plan.Trials = trials
	cfg, err := config.New(plan)
	require.NoError(t, err)

	w, err := whitening.NewBuilder(cfg).Build(detection.WhitenDiagonal, r, nil)
	require.NoError(t, err)
	d, err := periodicity.NewDetector(periods, w)
	require.NoError(t, err)
	streams := rng.NewPCGAdapter()
	in := &nullsim.Inputs{Method: detection.NullGaussian, Whitener: w, Detector: d, Streams: streams, Ells: r.Ells}
	e := NewVerdictEngine(cfg)
	sim := nullsim.NewEngine(4)

	below := 0
	for i := 0; i < datasets; i++ {
		// observation from a stream disjoint from every null seed used below
		obs := r.WithValues(make([]float64, n))
		w.SampleNoise(streams.Named("calibration-observation", int64(i)), obs.Values)
		wr, err := w.Whiten(obs)
		require.NoError(t, err)
		scan, err := d.Scan(wr)
		require.NoError(t, err)

		null, err := sim.Simulate(context.Background(), in, int64(1_000_000*(i+1)), trials)
		require.NoError(t, err)
		v, err := e.Evaluate("synthetic", scan, null)
		require.NoError(t, err)
		if v.PValue < 0.05 {
			below++
		}
	}
	frac := float64(below) / datasets
	assert.GreaterOrEqual(t, frac, 0.005)
	assert.LessOrEqual(t, frac, 0.10)
}
