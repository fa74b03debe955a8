package spectrum

import (
	"fmt"
	"math"
	"strings"

	"gofingerprint/domain/core"
)

// Units tags how spectrum values are expressed
type Units string

const (
	UnitsUnknown Units = ""
	// UnitsDl is D_ℓ = ℓ(ℓ+1)C_ℓ/2π
	UnitsDl Units = "Dl"
	UnitsCl Units = "Cl"
)

// ParseUnits accepts the spellings found in release headers and plan files
func ParseUnits(s string) (Units, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return UnitsUnknown, nil
	case "dl", "d_l", "d_ell", "dell":
		return UnitsDl, nil
	case "cl", "c_l", "c_ell", "cell":
		return UnitsCl, nil
	default:
		return UnitsUnknown, fmt.Errorf("unknown units %q (expected Dl or Cl)", s)
	}
}

// Point is one multipole of a spectrum. Asymmetric errors keep both sides.
type Point struct {
	Ell        int     `json:"ell"`
	Value      float64 `json:"value"`
	SigmaMinus float64 `json:"sigma_minus"`
	SigmaPlus  float64 `json:"sigma_plus"`
}

// Sigma symmetrizes the uncertainty as the mean of the absolute one-sided errors
func (p Point) Sigma() float64 {
	return 0.5 * (math.Abs(p.SigmaMinus) + math.Abs(p.SigmaPlus))
}

// Spectrum is an immutable, ℓ-ordered power spectrum
type Spectrum struct {
	name   string
	units  Units
	points []Point
}

// New validates points and builds a spectrum. Points are copied.
func New(name string, units Units, points []Point) (*Spectrum, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: spectrum %q has no points", core.ErrInsufficientData, name)
	}
	cp := make([]Point, len(points))
	copy(cp, points)
	for i, p := range cp {
		if p.Ell < 0 {
			return nil, fmt.Errorf("%w: spectrum %q row %d has ell=%d", core.ErrMalformedInput, name, i, p.Ell)
		}
		if i > 0 && p.Ell <= cp[i-1].Ell {
			return nil, fmt.Errorf("%w: spectrum %q row %d ell=%d follows ell=%d",
				core.ErrNonMonotonicEll, name, i, p.Ell, cp[i-1].Ell)
		}
		if math.IsNaN(p.SigmaMinus) || math.IsNaN(p.SigmaPlus) || math.IsInf(p.SigmaMinus, 0) || math.IsInf(p.SigmaPlus, 0) {
			return nil, fmt.Errorf("%w: spectrum %q ell=%d has non-finite uncertainty", core.ErrMalformedInput, name, p.Ell)
		}
		if p.SigmaMinus < 0 || p.SigmaPlus < 0 {
			return nil, fmt.Errorf("%w: spectrum %q ell=%d has negative uncertainty", core.ErrMalformedInput, name, p.Ell)
		}
	}
	return &Spectrum{name: name, units: units, points: cp}, nil
}

// Name returns the dataset label
func (s *Spectrum) Name() string { return s.name }

// Units returns the declared units, possibly UnitsUnknown
func (s *Spectrum) Units() Units { return s.units }

// Len returns the number of multipoles
func (s *Spectrum) Len() int { return len(s.points) }

// At returns the i-th point
func (s *Spectrum) At(i int) Point { return s.points[i] }

// Points returns a copy of the points
func (s *Spectrum) Points() []Point {
	cp := make([]Point, len(s.points))
	copy(cp, s.points)
	return cp
}

// Ells returns the multipole indices
func (s *Spectrum) Ells() []int {
	out := make([]int, len(s.points))
	for i, p := range s.points {
		out[i] = p.Ell
	}
	return out
}

// Values returns the spectrum values
func (s *Spectrum) Values() []float64 {
	out := make([]float64, len(s.points))
	for i, p := range s.points {
		out[i] = p.Value
	}
	return out
}

// Sigmas returns the symmetrized uncertainties
func (s *Spectrum) Sigmas() []float64 {
	out := make([]float64, len(s.points))
	for i, p := range s.points {
		out[i] = p.Sigma()
	}
	return out
}

// Index returns the position of ell, or -1
func (s *Spectrum) Index(ell int) int {
	lo, hi := 0, len(s.points)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.points[mid].Ell < ell {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(s.points) && s.points[lo].Ell == ell {
		return lo
	}
	return -1
}

// WithUnits returns a copy tagged with different units, values untouched
func (s *Spectrum) WithUnits(u Units) *Spectrum {
	return &Spectrum{name: s.name, units: u, points: s.Points()}
}

// Window returns the points with lmin <= ell <= lmax
func (s *Spectrum) Window(lmin, lmax int) (*Spectrum, error) {
	var pts []Point
	for _, p := range s.points {
		if p.Ell >= lmin && p.Ell <= lmax {
			pts = append(pts, p)
		}
	}
	return New(s.name, s.units, pts)
}

// UnitProvenance records how a spectrum's units were decided and converted
type UnitProvenance struct {
	Detected Units   `json:"detected"`
	Source   string  `json:"source"` // hint or median
	Final    Units   `json:"final"`
	Median   float64 `json:"median"`
	Dropped  int     `json:"dropped"` // multipoles excluded by conversion
}
