// Package nullsim builds the look-elsewhere corrected null distribution of
// the best-over-periods Δχ² by Monte Carlo.
package nullsim

import (
	"fmt"
	"math/rand/v2"

	"gofingerprint/domain/core"
	"gofingerprint/domain/detection"
	"gofingerprint/internal/errors"
	"gofingerprint/internal/periodicity"
	"gofingerprint/internal/whitening"
	"gofingerprint/ports"

	"gonum.org/v1/gonum/stat/distuv"
)

// Inputs is everything a trial reads. It is shared read-only by all workers.
type Inputs struct {
	Method   detection.NullMethod
	Whitener whitening.Whitener
	Detector *periodicity.Detector
	Streams  ports.RNGPort
	// Ells, Model and Sigma describe the baseline on the whitener's grid.
	// Model and Sigma are only read by the cosmic_variance method.
	Ells  []int
	Model []float64
	Sigma []float64
}

// Validate checks that the inputs agree on one grid
func (in *Inputs) Validate() error {
	if in.Whitener == nil || in.Detector == nil || in.Streams == nil {
		return errors.InternalError("null simulation inputs are incomplete")
	}
	n := len(in.Whitener.Ells())
	if len(in.Ells) != n {
		return errors.InputInvalid(fmt.Sprintf("null baseline has %d multipoles, whitener has %d", len(in.Ells), n), core.ErrRangeMismatch)
	}
	if in.Method == detection.NullCosmicVariance && (len(in.Model) != n || len(in.Sigma) != n) {
		return errors.InputInvalid("cosmic_variance null needs model and sigma on the whitener grid", core.ErrRangeMismatch)
	}
	return nil
}

// RunTrial performs one null trial. It is a pure function of (seed, trial,
// inputs): the same arguments give a bit-identical sample.
func RunTrial(seed int64, trial int, in *Inputs) (detection.NullSample, error) {
	values := make([]float64, len(in.Ells))
	if err := Sample(in.Streams.Stream(seed, trial), in, values); err != nil {
		return detection.NullSample{}, err
	}

	white, err := in.Whitener.WhitenVector(values)
	if err != nil {
		return detection.NullSample{}, err
	}
	max, period, per, err := in.Detector.MaxDelta(white)
	if err != nil {
		return detection.NullSample{}, err
	}
	return detection.NullSample{Trial: trial, MaxDeltaChi2: max, BestPeriod: period, PerPeriod: per}, nil
}

// Sample fills dst with one surrogate residual drawn by the inputs' method
func Sample(rng *rand.Rand, in *Inputs, dst []float64) error {
	switch in.Method {
	case detection.NullGaussian:
		in.Whitener.SampleNoise(rng, dst)
	case detection.NullCosmicVariance:
		sampleCosmicVariance(rng, in.Ells, in.Model, in.Sigma, dst)
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown null method %q", in.Method))
	}
	return nil
}

// sampleCosmicVariance draws Ĉℓ − Cℓ plus instrument noise. Ĉℓ is the mean of
// 2ℓ+1 squared Gaussian a_ℓm with variance Cℓ and uniformly random phases,
// i.e. Cℓ·χ²(2ℓ+1)/(2ℓ+1).
func sampleCosmicVariance(rng *rand.Rand, ells []int, model, sigma, dst []float64) {
	z := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	for i, l := range ells {
		k := float64(2*l + 1)
		x := distuv.ChiSquared{K: k, Src: rng}.Rand()
		dst[i] = model[i]*(x/k-1) + sigma[i]*z.Rand()
	}
}
