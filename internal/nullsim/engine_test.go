package nullsim

import (
	"context"
	"math"
	"testing"

	"gofingerprint/adapters/rng"
	"gofingerprint/domain/detection"
	"gofingerprint/domain/spectrum"
	"gofingerprint/internal/config"
	"gofingerprint/internal/errors"
	"gofingerprint/internal/periodicity"
	"gofingerprint/internal/whitening"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInputs(t *testing.T, method detection.NullMethod, mode detection.WhiteningMode) *Inputs {
	t.Helper()
	r := detection.Residual{Units: spectrum.UnitsCl}
	for l := 2; l < 66; l++ {
		r.Ells = append(r.Ells, l)
		r.Values = append(r.Values, 0)
		r.Sigma = append(r.Sigma, 0.5+0.01*float64(l))
		r.Model = append(r.Model, 1000/float64(l))
	}
	var cov *spectrum.Covariance
	if mode.NeedsCovariance() {
		n := r.Len()
		data := make([]float64, n*n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				data[i*n+j] = r.Sigma[i] * r.Sigma[j] * math.Pow(0.3, math.Abs(float64(i-j)))
			}
		}
		var err error
		cov, err = spectrum.NewCovariance(r.Ells, spectrum.UnitsCl, data)
		require.NoError(t, err)
	}

	cfg, err := config.New(config.DefaultPlan())
	require.NoError(t, err)
	w, err := whitening.NewBuilder(cfg).Build(mode, r, cov)
	require.NoError(t, err)
	d, err := periodicity.NewDetector([]int{8, 16, 32}, w)
	require.NoError(t, err)

	return &Inputs{
		Method:   method,
		Whitener: w,
		Detector: d,
		Streams:  rng.NewPCGAdapter(),
		Ells:     r.Ells,
		Model:    r.Model,
		Sigma:    r.Sigma,
	}
}

func TestRunTrial_Pure(t *testing.T) {
	in := testInputs(t, detection.NullGaussian, detection.WhitenCovariance)
	a, err := RunTrial(42, 17, in)
	require.NoError(t, err)
	b, err := RunTrial(42, 17, in)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 17, a.Trial)
	assert.Len(t, a.PerPeriod, 3)

	c, err := RunTrial(42, 18, in)
	require.NoError(t, err)
	assert.NotEqual(t, a.MaxDeltaChi2, c.MaxDeltaChi2)
}

func TestSimulate_DeterministicAcrossWorkerCounts(t *testing.T) {
	for _, method := range []detection.NullMethod{detection.NullGaussian, detection.NullCosmicVariance} {
		t.Run(string(method), func(t *testing.T) {
			in := testInputs(t, method, detection.WhitenDiagonal)
			serial, err := NewEngine(1).Simulate(context.Background(), in, 7, 300)
			require.NoError(t, err)
			parallel, err := NewEngine(4).Simulate(context.Background(), in, 7, 300)
			require.NoError(t, err)

			assert.Equal(t, serial, parallel)
			assert.Equal(t, 300, serial.Size())
			for i, s := range serial.Samples {
				assert.Equal(t, i, s.Trial)
			}
		})
	}
}

func TestSimulate_MaxIsOverAllPeriods(t *testing.T) {
	in := testInputs(t, detection.NullGaussian, detection.WhitenDiagonal)
	dist, err := NewEngine(2).Simulate(context.Background(), in, 1, 100)
	require.NoError(t, err)

	for _, s := range dist.Samples {
		max := 0.0
		for _, v := range s.PerPeriod {
			max = math.Max(max, v)
		}
		assert.Equal(t, max, s.MaxDeltaChi2)
	}
}

func TestSimulate_GaussianWhitenedDeltaIsChiSquareTwo(t *testing.T) {
	// per-period Δχ² of pure whitened noise follows χ²(2), mean 2
	in := testInputs(t, detection.NullGaussian, detection.WhitenCovariance)
	dist, err := NewEngine(4).Simulate(context.Background(), in, 11, 4000)
	require.NoError(t, err)

	vals, err := dist.PeriodValues(16)
	require.NoError(t, err)
	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	assert.InDelta(t, 2.0, mean, 0.15)
}

func TestSimulate_RejectsZeroTrials(t *testing.T) {
	in := testInputs(t, detection.NullGaussian, detection.WhitenDiagonal)
	_, err := NewEngine(1).Simulate(context.Background(), in, 1, 0)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestSimulate_Cancelled(t *testing.T) {
	in := testInputs(t, detection.NullGaussian, detection.WhitenDiagonal)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(2).Simulate(ctx, in, 1, 100000)
	require.Error(t, err)
	assert.Equal(t, errors.CodeCancelled, errors.GetCode(err))
}
