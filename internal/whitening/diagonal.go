package whitening

import (
	"fmt"
	"math/rand/v2"

	"gofingerprint/domain/core"
	"gofingerprint/domain/detection"
	"gofingerprint/internal/errors"

	"gonum.org/v1/gonum/stat/distuv"
)

// diagonal divides each value by its own scale. It serves none (scale 1),
// diagonal (residual sigma) and cov_diag (√diag Σ).
type diagonal struct {
	ells  []int
	scale []float64
	noise []float64
	meta  detection.WhiteningMeta
}

func newDiagonal(mode detection.WhiteningMode, ells []int, scale, noise []float64, meta detection.WhiteningMeta) (Whitener, error) {
	for i, s := range scale {
		if s <= 0 {
			return nil, errors.InputInvalid(
				fmt.Sprintf("%s whitening needs positive scale, got %g at ell=%d", mode, s, ells[i]),
				core.ErrInsufficientData)
		}
	}
	meta.AppliedMode = mode
	meta.Dim = len(ells)
	return &diagonal{
		ells:  append([]int(nil), ells...),
		scale: append([]float64(nil), scale...),
		noise: append([]float64(nil), noise...),
		meta:  meta,
	}, nil
}

func (d *diagonal) Whiten(r detection.Residual) (detection.WhitenedResidual, error) {
	if err := checkGrid(d.ells, r); err != nil {
		return detection.WhitenedResidual{}, err
	}
	vals, err := d.WhitenVector(r.Values)
	if err != nil {
		return detection.WhitenedResidual{}, err
	}
	return detection.WhitenedResidual{Ells: d.ells, Values: vals, Meta: d.meta}, nil
}

func (d *diagonal) WhitenVector(v []float64) ([]float64, error) {
	if len(v) != len(d.scale) {
		return nil, fmt.Errorf("%w: vector length %d, whitener dim %d", core.ErrRangeMismatch, len(v), len(d.scale))
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / d.scale[i]
	}
	return out, nil
}

func (d *diagonal) SampleNoise(rng *rand.Rand, dst []float64) {
	z := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	for i := range dst {
		dst[i] = d.noise[i] * z.Rand()
	}
}

func (d *diagonal) Meta() detection.WhiteningMeta { return d.meta }

func (d *diagonal) Ells() []int { return d.ells }
