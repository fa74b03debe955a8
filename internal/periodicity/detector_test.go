package periodicity

import (
	"math"
	"testing"

	"gofingerprint/domain/detection"
	"gofingerprint/domain/spectrum"
	"gofingerprint/internal/config"
	"gofingerprint/internal/whitening"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitResidual(lmin, n int, f func(l int) float64) detection.Residual {
	r := detection.Residual{Units: spectrum.UnitsCl}
	for l := lmin; l < lmin+n; l++ {
		r.Ells = append(r.Ells, l)
		r.Values = append(r.Values, f(l))
		r.Sigma = append(r.Sigma, 1)
		r.Model = append(r.Model, 0)
	}
	return r
}

func scan(t *testing.T, periods []int, r detection.Residual) detection.PeriodScan {
	t.Helper()
	cfg, err := config.New(config.DefaultPlan())
	require.NoError(t, err)
	w, err := whitening.NewBuilder(cfg).Build(detection.WhitenDiagonal, r, nil)
	require.NoError(t, err)
	wr, err := w.Whiten(r)
	require.NoError(t, err)
	d, err := NewDetector(periods, w)
	require.NoError(t, err)
	s, err := d.Scan(wr)
	require.NoError(t, err)
	return s
}

func TestScan_RecoversInjectedSinusoid(t *testing.T) {
	const amp, phase = 2.5, 0.7
	r := unitResidual(2, 512, func(l int) float64 {
		return amp * math.Sin(2*math.Pi*float64(l)/32+phase)
	})

	s := scan(t, config.DefaultPeriods, r)
	assert.Equal(t, 32, s.Best.Period)
	assert.InDelta(t, amp, s.Best.Amplitude, 1e-9)
	assert.InDelta(t, phase, s.Best.Phase, 1e-9)
	assert.InDelta(t, s.Best.Chi2Null, s.Best.DeltaChi2, 1e-6)
	assert.Equal(t, 510, s.Best.DOF)
	assert.Len(t, s.Results, len(config.DefaultPeriods))
}

func TestScan_TieBreaksToLowestPeriod(t *testing.T) {
	// equal-amplitude sinusoids at 8 and 16, orthogonal over 64 multipoles
	r := unitResidual(0, 64, func(l int) float64 {
		return math.Sin(2*math.Pi*float64(l)/8) + math.Sin(2*math.Pi*float64(l)/16)
	})

	s := scan(t, []int{16, 8, 32}, r)
	r8, _ := s.ResultFor(8)
	r16, _ := s.ResultFor(16)
	assert.InDelta(t, r8.DeltaChi2, r16.DeltaChi2, 1e-9)
	assert.Equal(t, 8, s.Best.Period)
}

func TestScan_ZeroResidualPicksLowestPeriod(t *testing.T) {
	r := unitResidual(2, 100, func(int) float64 { return 0 })
	s := scan(t, []int{255, 64, 16}, r)
	assert.Equal(t, 16, s.Best.Period)
	assert.Zero(t, s.Best.DeltaChi2)
}

func TestSelectBest_OrderIndependent(t *testing.T) {
	a := detection.DetectionResult{Period: 16, DeltaChi2: 10}
	b := detection.DetectionResult{Period: 8, DeltaChi2: 10}
	c := detection.DetectionResult{Period: 32, DeltaChi2: 9}

	assert.Equal(t, 8, SelectBest([]detection.DetectionResult{a, b, c}).Period)
	assert.Equal(t, 8, SelectBest([]detection.DetectionResult{c, b, a}).Period)
	assert.Equal(t, 8, SelectBest([]detection.DetectionResult{b, a}).Period)

	d := detection.DetectionResult{Period: 64, DeltaChi2: 11}
	assert.Equal(t, 64, SelectBest([]detection.DetectionResult{a, b, d}).Period)
}

func TestFit_DegenerateGrid(t *testing.T) {
	// with period 2 on integer ℓ the sine template vanishes
	r := unitResidual(0, 20, func(l int) float64 { return math.Cos(math.Pi * float64(l)) })
	s := scan(t, []int{2}, r)
	assert.True(t, s.Best.Degenerate)
	assert.InDelta(t, 1.0, s.Best.CosCoef, 1e-9)
	assert.InDelta(t, 20.0, s.Best.DeltaChi2, 1e-9)
	assert.Equal(t, 19, s.Best.DOF)
}

func TestFit_DeltaNeverNegative(t *testing.T) {
	r := unitResidual(2, 50, func(l int) float64 { return float64(l%3) - 1 })
	s := scan(t, config.DefaultPeriods, r)
	for _, res := range s.Results {
		assert.GreaterOrEqual(t, res.DeltaChi2, 0.0)
		assert.InDelta(t, res.Chi2Null, res.Chi2Fit+res.DeltaChi2, 1e-9)
	}
}

func TestMaxDelta_MatchesScan(t *testing.T) {
	r := unitResidual(2, 200, func(l int) float64 { return math.Cos(2 * math.Pi * float64(l) / 64) })
	s := scan(t, config.DefaultPeriods, r)

	cfg, _ := config.New(config.DefaultPlan())
	w, _ := whitening.NewBuilder(cfg).Build(detection.WhitenDiagonal, r, nil)
	d, err := NewDetector(config.DefaultPeriods, w)
	require.NoError(t, err)
	max, period, per, err := d.MaxDelta(r.Values)
	require.NoError(t, err)
	assert.Equal(t, s.Best.Period, period)
	assert.InDelta(t, s.Best.DeltaChi2, max, 1e-12)
	assert.Len(t, per, len(config.DefaultPeriods))
}
