package whitening

import (
	"fmt"
	"math/rand/v2"

	"gofingerprint/domain/core"
	"gofingerprint/domain/detection"
	"gofingerprint/internal/errors"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// cholesky whitens with L⁻¹ where Σ = LLᵗ, by forward substitution.
// The inverse is never formed.
type cholesky struct {
	ells []int
	l    blas64.Triangular
	meta detection.WhiteningMeta
}

func newCholesky(ells []int, sym *mat.SymDense, meta detection.WhiteningMeta) (Whitener, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		ev := []core.Evidence{{Name: "dim", Value: float64(len(ells))}}
		if meta.Regularization.Applied {
			ev = append(ev, core.Evidence{Name: "lambda", Value: meta.Regularization.Lambda})
		}
		return nil, errors.Numerical("cholesky factorization failed", core.ErrCholeskyFailed, ev...)
	}
	var l mat.TriDense
	chol.LTo(&l)

	meta.AppliedMode = detection.WhitenCovariance
	meta.Dim = len(ells)
	return &cholesky{
		ells: append([]int(nil), ells...),
		l:    l.RawTriangular(),
		meta: meta,
	}, nil
}

func (c *cholesky) Whiten(r detection.Residual) (detection.WhitenedResidual, error) {
	if err := checkGrid(c.ells, r); err != nil {
		return detection.WhitenedResidual{}, err
	}
	vals, err := c.WhitenVector(r.Values)
	if err != nil {
		return detection.WhitenedResidual{}, err
	}
	return detection.WhitenedResidual{Ells: c.ells, Values: vals, Meta: c.meta}, nil
}

// WhitenVector solves L·x = v
func (c *cholesky) WhitenVector(v []float64) ([]float64, error) {
	if len(v) != c.l.N {
		return nil, fmt.Errorf("%w: vector length %d, whitener dim %d", core.ErrRangeMismatch, len(v), c.l.N)
	}
	x := append([]float64(nil), v...)
	blas64.Trsv(blas.NoTrans, c.l, blas64.Vector{N: len(x), Data: x, Inc: 1})
	return x, nil
}

// SampleNoise draws L·z with z ~ N(0, I), a sample with covariance Σ
func (c *cholesky) SampleNoise(rng *rand.Rand, dst []float64) {
	z := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	for i := range dst {
		dst[i] = z.Rand()
	}
	blas64.Trmv(blas.NoTrans, c.l, blas64.Vector{N: len(dst), Data: dst, Inc: 1})
}

func (c *cholesky) Meta() detection.WhiteningMeta { return c.meta }

func (c *cholesky) Ells() []int { return c.ells }
