package whitening

import (
	"fmt"
	"math"

	"gofingerprint/domain/core"
	"gofingerprint/domain/detection"
	"gofingerprint/domain/spectrum"
	"gofingerprint/internal/config"
	"gofingerprint/internal/errors"

	"gonum.org/v1/gonum/mat"
)

// MaxRelativeAsymmetry returns max |Cij − Cji| / √(|Cii·Cjj|). Pairs whose
// diagonal product vanishes are compared against the largest entry.
func MaxRelativeAsymmetry(c *spectrum.Covariance) float64 {
	n := c.Dim()
	maxAbs := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			maxAbs = math.Max(maxAbs, math.Abs(c.At(i, j)))
		}
	}
	if maxAbs == 0 {
		return 0
	}
	worst := 0.0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := math.Abs(c.At(i, j) - c.At(j, i))
			if d == 0 {
				continue
			}
			scale := math.Sqrt(math.Abs(c.At(i, i) * c.At(j, j)))
			if scale == 0 {
				scale = maxAbs
			}
			worst = math.Max(worst, d/scale)
		}
	}
	return worst
}

// Eigenrange returns the smallest and largest eigenvalue of a symmetric matrix
func Eigenrange(sym mat.Symmetric) (float64, float64, error) {
	var es mat.EigenSym
	if ok := es.Factorize(sym, false); !ok {
		return 0, 0, errors.Numerical("eigendecomposition did not converge", core.ErrNotPositiveDefinite,
			core.Evidence{Name: "dim", Value: float64(sym.SymmetricDim())})
	}
	vals := es.Values(nil)
	return vals[0], vals[len(vals)-1], nil
}

// Condition returns λmax/λmin, +Inf when λmin <= 0
func Condition(minEig, maxEig float64) float64 {
	if minEig <= 0 {
		return math.Inf(1)
	}
	return maxEig / minEig
}

// RidgeFor returns the λ that brings the condition number of Σ + λI to target
func RidgeFor(minEig, maxEig, target float64) float64 {
	return (maxEig - target*minEig) / (target - 1)
}

// Prepare validates a covariance and returns the (possibly symmetrized and
// regularized) matrix to factorize. Everything it changed is recorded.
//
// A ridge is added when the smallest eigenvalue is not positive or when the
// condition number exceeds limits.ConditionLimit, and only if regularize is
// set. λ is chosen so that κ(Σ + λI) equals limits.ConditionTarget.
func Prepare(c *spectrum.Covariance, limits config.WhiteningLimits, regularize bool) (*mat.SymDense, detection.Regularization, error) {
	n := c.Dim()
	reg := detection.Regularization{TargetCondition: limits.ConditionTarget}

	asym := MaxRelativeAsymmetry(c)
	reg.MaxRelAsymmetry = asym
	if asym > limits.SymmetryTolerance {
		return nil, reg, errors.Numerical(
			fmt.Sprintf("covariance asymmetry %.3g exceeds tolerance %.3g", asym, limits.SymmetryTolerance),
			core.ErrNotSymmetric,
			core.Evidence{Name: "max_rel_asymmetry", Value: asym},
			core.Evidence{Name: "tolerance", Value: limits.SymmetryTolerance})
	}
	reg.Symmetrized = asym > 0

	data := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			data[i*n+j] = 0.5 * (c.At(i, j) + c.At(j, i))
		}
	}
	sym := mat.NewSymDense(n, data)

	minEig, maxEig, err := Eigenrange(sym)
	if err != nil {
		return nil, reg, err
	}
	reg.MinEigenBefore, reg.MaxEigenBefore = minEig, maxEig
	reg.ConditionBefore = Condition(minEig, maxEig)
	reg.MinEigenAfter, reg.MaxEigenAfter, reg.ConditionAfter = minEig, maxEig, reg.ConditionBefore

	if maxEig <= 0 {
		return nil, reg, errors.Numerical("covariance has no positive eigenvalue", core.ErrNotPositiveDefinite,
			core.Evidence{Name: "max_eigen", Value: maxEig})
	}

	switch {
	case minEig <= 0:
		reg.Reason = "non-positive eigenvalue"
	case reg.ConditionBefore > limits.ConditionLimit:
		reg.Reason = "condition number above limit"
	default:
		return sym, reg, nil
	}

	if !regularize {
		if minEig <= 0 {
			return nil, reg, errors.Numerical("covariance is not positive definite and regularization is disabled",
				core.ErrNotPositiveDefinite,
				core.Evidence{Name: "min_eigen", Value: minEig},
				core.Evidence{Name: "max_eigen", Value: maxEig})
		}
		reg.Reason += " (regularization disabled)"
		return sym, reg, nil
	}

	lambda := RidgeFor(minEig, maxEig, limits.ConditionTarget)
	for i := 0; i < n; i++ {
		sym.SetSym(i, i, sym.At(i, i)+lambda)
	}
	reg.Applied = true
	reg.Lambda = lambda

	minEig, maxEig, err = Eigenrange(sym)
	if err != nil {
		return nil, reg, err
	}
	reg.MinEigenAfter, reg.MaxEigenAfter = minEig, maxEig
	reg.ConditionAfter = Condition(minEig, maxEig)
	if minEig <= 0 {
		return nil, reg, errors.Numerical("covariance still not positive definite after regularization",
			core.ErrNotPositiveDefinite,
			core.Evidence{Name: "lambda", Value: lambda},
			core.Evidence{Name: "min_eigen_after", Value: minEig})
	}
	return sym, reg, nil
}
