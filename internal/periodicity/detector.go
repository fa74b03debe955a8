// Package periodicity fits a sinusoid in ℓ at each pre-registered period and
// picks the period with the largest improvement in chi-square.
package periodicity

import (
	"fmt"
	"math"

	"gofingerprint/domain/core"
	"gofingerprint/domain/detection"
	"gofingerprint/internal/errors"
	"gofingerprint/internal/whitening"

	"gonum.org/v1/gonum/floats"
)

// tieTolerance is the relative Δχ² difference below which two periods tie
const tieTolerance = 1e-12

// degenerateTolerance bounds det(XᵗX)/(ss·cc), and the ratio of the two
// template norms, below which the sin and cos columns cannot both be fitted
const degenerateTolerance = 1e-10

// template holds the whitened regressors for one period and their Gram matrix
type template struct {
	period int
	sin    []float64
	cos    []float64
	ss     float64
	cc     float64
	sc     float64
}

// Detector fits every candidate period against whitened residuals. Templates
// are whitened once with the same transform as the data, so the fit is the
// generalized least-squares fit in the original basis. A Detector is
// read-only after construction and safe for concurrent use.
type Detector struct {
	ells      []int
	templates []template
}

// NewDetector precomputes whitened templates for periods on w's grid
func NewDetector(periods []int, w whitening.Whitener) (*Detector, error) {
	if len(periods) == 0 {
		return nil, errors.ConfigInvalid("candidate period set is empty")
	}
	ells := w.Ells()
	d := &Detector{ells: ells, templates: make([]template, 0, len(periods))}
	rawSin := make([]float64, len(ells))
	rawCos := make([]float64, len(ells))

	for _, p := range periods {
		if p < 2 {
			return nil, errors.ConfigInvalid(fmt.Sprintf("candidate period %d is below 2", p))
		}
		for i, l := range ells {
			x := 2 * math.Pi * float64(l) / float64(p)
			rawSin[i] = math.Sin(x)
			rawCos[i] = math.Cos(x)
		}
		s, err := w.WhitenVector(rawSin)
		if err != nil {
			return nil, err
		}
		c, err := w.WhitenVector(rawCos)
		if err != nil {
			return nil, err
		}
		d.templates = append(d.templates, template{
			period: p,
			sin:    s,
			cos:    c,
			ss:     floats.Dot(s, s),
			cc:     floats.Dot(c, c),
			sc:     floats.Dot(s, c),
		})
	}
	return d, nil
}

// Periods returns the candidate periods in registration order
func (d *Detector) Periods() []int {
	out := make([]int, len(d.templates))
	for i, t := range d.templates {
		out[i] = t.period
	}
	return out
}

// Fit returns one result per period, in registration order, for whitened values y
func (d *Detector) Fit(y []float64) ([]detection.DetectionResult, error) {
	if len(y) != len(d.ells) {
		return nil, errors.InputInvalid(
			fmt.Sprintf("whitened residual has %d values, detector grid has %d", len(y), len(d.ells)),
			core.ErrRangeMismatch)
	}
	chi2Null := floats.Dot(y, y)
	n := len(y)
	out := make([]detection.DetectionResult, len(d.templates))
	for i := range d.templates {
		out[i] = d.templates[i].fit(y, chi2Null, n)
	}
	return out, nil
}

func (t *template) fit(y []float64, chi2Null float64, n int) detection.DetectionResult {
	bs := floats.Dot(t.sin, y)
	bc := floats.Dot(t.cos, y)
	res := detection.DetectionResult{Period: t.period, Chi2Null: chi2Null, DOF: n - 2}

	det := t.ss*t.cc - t.sc*t.sc
	var a, b, delta float64
	switch {
	case t.ss == 0 && t.cc == 0:
		res.Degenerate = true
		res.DOF = n
	case t.ss <= degenerateTolerance*t.cc || t.cc <= degenerateTolerance*t.ss || det <= degenerateTolerance*t.ss*t.cc:
		// sin and cos are collinear on this grid; fit the stronger column alone
		res.Degenerate = true
		res.DOF = n - 1
		if t.ss >= t.cc {
			a = bs / t.ss
			delta = a * bs
		} else {
			b = bc / t.cc
			delta = b * bc
		}
	default:
		a = (t.cc*bs - t.sc*bc) / det
		b = (t.ss*bc - t.sc*bs) / det
		delta = a*bs + b*bc
	}
	if delta < 0 {
		delta = 0
	}

	res.SinCoef = a
	res.CosCoef = b
	res.Amplitude = math.Hypot(a, b)
	res.Phase = math.Atan2(b, a)
	res.DeltaChi2 = delta
	res.Chi2Fit = chi2Null - delta
	return res
}

// Scan fits all periods and selects the best one
func (d *Detector) Scan(w detection.WhitenedResidual) (detection.PeriodScan, error) {
	results, err := d.Fit(w.Values)
	if err != nil {
		return detection.PeriodScan{}, err
	}
	return detection.PeriodScan{Results: results, Best: SelectBest(results)}, nil
}

// MaxDelta returns the best Δχ² and its period together with all per-period
// values, without building full results. Used by null trials.
func (d *Detector) MaxDelta(y []float64) (float64, int, []float64, error) {
	results, err := d.Fit(y)
	if err != nil {
		return 0, 0, nil, err
	}
	per := make([]float64, len(results))
	for i, r := range results {
		per[i] = r.DeltaChi2
	}
	best := SelectBest(results)
	return best.DeltaChi2, best.Period, per, nil
}

// SelectBest returns the result with the largest Δχ². Ties, within a relative
// tolerance of 1e-12, go to the lowest period regardless of input order.
func SelectBest(results []detection.DetectionResult) detection.DetectionResult {
	var best detection.DetectionResult
	found := false
	for _, r := range results {
		if !found {
			best, found = r, true
			continue
		}
		tol := tieTolerance * math.Max(1, math.Abs(best.DeltaChi2))
		switch {
		case r.DeltaChi2 > best.DeltaChi2+tol:
			best = r
		case r.DeltaChi2 >= best.DeltaChi2-tol && r.Period < best.Period:
			best = r
		}
	}
	return best
}
