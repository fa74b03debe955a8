package spectrum

import (
	"fmt"
	"math"

	"gofingerprint/domain/core"
)

// Covariance is a dense covariance matrix indexed by multipole
type Covariance struct {
	ells  []int
	units Units
	data  []float64 // row-major n×n
}

// NewCovariance validates shape and builds a covariance. data is copied.
func NewCovariance(ells []int, units Units, data []float64) (*Covariance, error) {
	n := len(ells)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty covariance", core.ErrInsufficientData)
	}
	if len(data) != n*n {
		return nil, fmt.Errorf("%w: covariance has %d entries, expected %d×%d=%d",
			core.ErrMalformedInput, len(data), n, n, n*n)
	}
	for i := 1; i < n; i++ {
		if ells[i] <= ells[i-1] {
			return nil, fmt.Errorf("%w: covariance ell %d follows %d", core.ErrNonMonotonicEll, ells[i], ells[i-1])
		}
	}
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: covariance entry (%d,%d) is not finite", core.ErrMalformedInput, i/n, i%n)
		}
	}
	e := make([]int, n)
	copy(e, ells)
	d := make([]float64, len(data))
	copy(d, data)
	return &Covariance{ells: e, units: units, data: d}, nil
}

// Dim returns the matrix dimension
func (c *Covariance) Dim() int { return len(c.ells) }

// Units returns the units of the underlying spectrum (entries are units²)
func (c *Covariance) Units() Units { return c.units }

// Ells returns a copy of the multipole labels
func (c *Covariance) Ells() []int {
	out := make([]int, len(c.ells))
	copy(out, c.ells)
	return out
}

// At returns entry (i, j)
func (c *Covariance) At(i, j int) float64 { return c.data[i*len(c.ells)+j] }

// RawCopy returns a copy of the row-major data
func (c *Covariance) RawCopy() []float64 {
	d := make([]float64, len(c.data))
	copy(d, c.data)
	return d
}

// Diagonal returns the variances
func (c *Covariance) Diagonal() []float64 {
	n := len(c.ells)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = c.data[i*n+i]
	}
	return out
}

// Select returns the sub-matrix for the requested multipoles, which must be
// strictly increasing like every covariance index
func (c *Covariance) Select(ells []int) (*Covariance, error) {
	for i := 1; i < len(ells); i++ {
		if ells[i] <= ells[i-1] {
			return nil, fmt.Errorf("%w: selected ell %d follows %d", core.ErrNonMonotonicEll, ells[i], ells[i-1])
		}
	}
	pos := make(map[int]int, len(c.ells))
	for i, l := range c.ells {
		pos[l] = i
	}
	idx := make([]int, len(ells))
	for k, l := range ells {
		i, ok := pos[l]
		if !ok {
			return nil, fmt.Errorf("%w: covariance has no row for ell=%d (covers %d..%d)",
				core.ErrRangeMismatch, l, c.ells[0], c.ells[len(c.ells)-1])
		}
		idx[k] = i
	}
	n, m := len(c.ells), len(ells)
	data := make([]float64, m*m)
	for a, i := range idx {
		for b, j := range idx {
			data[a*m+b] = c.data[i*n+j]
		}
	}
	return NewCovariance(ells, c.units, data)
}

// Scaled returns D·C·D for a diagonal scaling vector d, used for unit conversion
func (c *Covariance) Scaled(d []float64, units Units) (*Covariance, error) {
	n := len(c.ells)
	if len(d) != n {
		return nil, fmt.Errorf("%w: scale vector length %d, covariance dim %d", core.ErrRangeMismatch, len(d), n)
	}
	data := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			data[i*n+j] = c.data[i*n+j] * d[i] * d[j]
		}
	}
	return NewCovariance(c.ells, units, data)
}
