// Package whitening decorrelates residuals so that each whitened value is an
// independent unit-variance Gaussian under the noise model.
package whitening

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gofingerprint/domain/core"
	"gofingerprint/domain/detection"
	"gofingerprint/domain/spectrum"
	"gofingerprint/internal"
	"gofingerprint/internal/config"
	"gofingerprint/internal/errors"
)

// Whitener is one whitening mode bound to a multipole grid. It is immutable
// once built and safe to share across goroutines.
type Whitener interface {
	// Whiten transforms a residual on the whitener's grid
	Whiten(r detection.Residual) (detection.WhitenedResidual, error)
	// WhitenVector applies the same linear transform to any vector on the grid
	WhitenVector(v []float64) ([]float64, error)
	// SampleNoise fills dst with one draw from the noise model the whitener assumes
	SampleNoise(rng *rand.Rand, dst []float64)
	// Meta describes the mode actually applied
	Meta() detection.WhiteningMeta
	// Ells is the grid
	Ells() []int
}

// Builder constructs whiteners under the run's numerical policy
type Builder struct {
	limits     config.WhiteningLimits
	regularize bool
	strict     bool
	logger     *internal.Logger
}

// NewBuilder creates a builder from the run configuration
func NewBuilder(cfg config.RunConfig) *Builder {
	return &Builder{
		limits:     cfg.Limits,
		regularize: cfg.Regularize,
		strict:     cfg.Strict(),
		logger:     internal.DefaultLogger.With("Whitening"),
	}
}

// Build prepares a whitener for mode on the residual's grid. cov is required
// for cov_diag and covariance. A numerical failure is fatal in strict mode;
// in permissive mode the builder falls back to diagonal and records why.
func (b *Builder) Build(mode detection.WhiteningMode, r detection.Residual, cov *spectrum.Covariance) (Whitener, error) {
	if r.Len() == 0 {
		return nil, errors.InputInvalid("cannot whiten an empty residual", core.ErrInsufficientData)
	}
	meta := detection.WhiteningMeta{RequestedMode: mode, AppliedMode: mode, Dim: r.Len()}

	switch mode {
	case detection.WhitenNone:
		return newDiagonal(detection.WhitenNone, r.Ells, ones(r.Len()), r.Sigma, meta)
	case detection.WhitenDiagonal:
		return newDiagonal(detection.WhitenDiagonal, r.Ells, r.Sigma, r.Sigma, meta)
	case detection.WhitenCovDiag, detection.WhitenCovariance:
		if cov == nil {
			return nil, errors.InputInvalid(fmt.Sprintf("whitening mode %s requires a covariance matrix", mode), core.ErrInsufficientData)
		}
		sub, err := cov.Select(r.Ells)
		if err != nil {
			return nil, errors.InputInvalid("covariance does not cover the residual multipoles", err)
		}
		var w Whitener
		if mode == detection.WhitenCovDiag {
			w, err = b.buildCovDiag(r, sub, meta)
		} else {
			w, err = b.buildCholesky(r, sub, &meta)
		}
		if err == nil {
			return w, nil
		}
		return b.fallback(r, meta, err)
	default:
		return nil, errors.ConfigInvalid(fmt.Sprintf("unknown whitening mode %q", mode))
	}
}

func (b *Builder) buildCovDiag(r detection.Residual, cov *spectrum.Covariance, meta detection.WhiteningMeta) (Whitener, error) {
	diag := cov.Diagonal()
	scale := make([]float64, len(diag))
	for i, d := range diag {
		if d <= 0 {
			return nil, errors.Numerical(
				fmt.Sprintf("covariance diagonal at ell=%d is not positive", r.Ells[i]),
				core.ErrNotPositiveDefinite,
				core.Evidence{Name: "ell", Value: float64(r.Ells[i])},
				core.Evidence{Name: "variance", Value: d})
		}
		scale[i] = math.Sqrt(d)
	}
	return newDiagonal(detection.WhitenCovDiag, r.Ells, scale, scale, meta)
}

func (b *Builder) buildCholesky(r detection.Residual, cov *spectrum.Covariance, meta *detection.WhiteningMeta) (Whitener, error) {
	sym, reg, err := Prepare(cov, b.limits, b.regularize)
	meta.Regularization = reg
	if err != nil {
		return nil, err
	}
	if reg.Applied {
		b.logger.Warn("ridge lambda=%.6g added (%s): condition %.4g -> %.4g, eigen [%.4g, %.4g] -> [%.4g, %.4g]",
			reg.Lambda, reg.Reason, reg.ConditionBefore, reg.ConditionAfter,
			reg.MinEigenBefore, reg.MaxEigenBefore, reg.MinEigenAfter, reg.MaxEigenAfter)
		b.logger.Event("regularization applied",
			"lambda", reg.Lambda, "reason", reg.Reason,
			"condition_before", reg.ConditionBefore, "condition_after", reg.ConditionAfter,
			"min_eigen_before", reg.MinEigenBefore, "max_eigen_before", reg.MaxEigenBefore)
	}
	if reg.Symmetrized {
		b.logger.Info("covariance symmetrized (max relative asymmetry %.3g)", reg.MaxRelAsymmetry)
	}
	return newCholesky(r.Ells, sym, *meta)
}

func (b *Builder) fallback(r detection.Residual, meta detection.WhiteningMeta, cause error) (Whitener, error) {
	if b.strict {
		return nil, errors.Wrapf(cause, "%s whitening failed in strict mode", meta.RequestedMode)
	}
	meta.AppliedMode = detection.WhitenDiagonal
	meta.FellBack = true
	meta.FallbackReason = cause.Error()
	b.logger.Warn("%s whitening failed, falling back to diagonal: %v", meta.RequestedMode, cause)
	b.logger.Event("whitening fallback", "requested", string(meta.RequestedMode), "applied", string(meta.AppliedMode), "reason", meta.FallbackReason)
	return newDiagonal(detection.WhitenDiagonal, r.Ells, r.Sigma, r.Sigma, meta)
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func checkGrid(ells []int, r detection.Residual) error {
	if len(r.Ells) != len(ells) {
		return errors.InputInvalid(fmt.Sprintf("residual has %d multipoles, whitener expects %d", len(r.Ells), len(ells)), core.ErrRangeMismatch)
	}
	for i := range ells {
		if r.Ells[i] != ells[i] {
			return errors.InputInvalid(fmt.Sprintf("residual ell %d at index %d, whitener expects %d", r.Ells[i], i, ells[i]), core.ErrRangeMismatch)
		}
	}
	return nil
}
