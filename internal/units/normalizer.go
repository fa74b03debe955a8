// Package units detects whether a spectrum is expressed as D_ℓ or C_ℓ and
// converts observation, model and covariance to one analysis unit system.
package units

import (
	"fmt"
	"math"

	"gofingerprint/domain/core"
	"gofingerprint/domain/spectrum"
	"gofingerprint/internal"
	"gofingerprint/internal/config"

	"github.com/montanaflynn/stats"
)

// MinConvertibleEll is the lowest multipole kept by a D_ℓ/C_ℓ conversion.
// Monopole and dipole carry no ℓ(ℓ+1) factor worth trusting.
const MinConvertibleEll = 2

// Detection sources
const (
	SourceHint   = "hint"
	SourceHeader = "header"
	SourceMedian = "median"
)

// Options controls detection and conversion
type Options struct {
	Target          spectrum.Units
	MedianThreshold float64
	// NegativeSigmas is how far below zero, in units of a point's own sigma,
	// a value may fall before the spectrum is rejected. A model has zero
	// sigma so any negative model value is invalid.
	NegativeSigmas float64
}

// OptionsFrom derives options from the run configuration
func OptionsFrom(cfg config.RunConfig) Options {
	return Options{
		Target:          cfg.AnalysisUnits,
		MedianThreshold: cfg.UnitsMedianThreshold,
		NegativeSigmas:  3,
	}
}

// Normalizer converts spectra to the analysis units
type Normalizer struct {
	opts   Options
	logger *internal.Logger
}

// NewNormalizer creates a normalizer
func NewNormalizer(opts Options) *Normalizer {
	return &Normalizer{opts: opts, logger: internal.DefaultLogger.With("Units")}
}

// Factor returns the multiplier taking a D_ℓ value to C_ℓ at ell
func Factor(ell int) float64 {
	l := float64(ell)
	return 2 * math.Pi / (l * (l + 1))
}

// DlToCl converts a single value
func DlToCl(ell int, dl float64) float64 { return dl * Factor(ell) }

// ClToDl converts a single value
func ClToDl(ell int, cl float64) float64 { return cl / Factor(ell) }

// Detect decides the units of s. hint (caller) wins over the loader's
// header units, which win over the median heuristic.
func (n *Normalizer) Detect(s *spectrum.Spectrum, hint spectrum.Units) (spectrum.Units, string, float64, error) {
	vals := s.Values()
	abs := make([]float64, len(vals))
	for i, v := range vals {
		abs[i] = math.Abs(v)
	}
	median, err := stats.Median(abs)
	if err != nil {
		return spectrum.UnitsUnknown, "", 0, fmt.Errorf("%w: %s: %v", core.ErrUnitsUndetermined, s.Name(), err)
	}

	switch {
	case hint != spectrum.UnitsUnknown:
		return hint, SourceHint, median, nil
	case s.Units() != spectrum.UnitsUnknown:
		return s.Units(), SourceHeader, median, nil
	case median > n.opts.MedianThreshold:
		return spectrum.UnitsDl, SourceMedian, median, nil
	default:
		return spectrum.UnitsCl, SourceMedian, median, nil
	}
}

// Validate rejects spectra that cannot be a power spectrum
func (n *Normalizer) Validate(s *spectrum.Spectrum) error {
	for _, p := range s.Points() {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return fmt.Errorf("%w: %s ell=%d has non-finite value %v", core.ErrInvalidSpectrum, s.Name(), p.Ell, p.Value)
		}
		if p.Value < -n.opts.NegativeSigmas*p.Sigma() {
			return fmt.Errorf("%w: %s ell=%d value %g is negative beyond %.0f sigma (sigma=%g)",
				core.ErrInvalidSpectrum, s.Name(), p.Ell, p.Value, n.opts.NegativeSigmas, p.Sigma())
		}
	}
	return nil
}

// Normalize validates s, detects its units and converts it to the target units
func (n *Normalizer) Normalize(s *spectrum.Spectrum, hint spectrum.Units) (*spectrum.Spectrum, spectrum.UnitProvenance, error) {
	if err := n.Validate(s); err != nil {
		return nil, spectrum.UnitProvenance{}, err
	}
	detected, source, median, err := n.Detect(s, hint)
	if err != nil {
		return nil, spectrum.UnitProvenance{}, err
	}

	prov := spectrum.UnitProvenance{
		Detected: detected,
		Source:   source,
		Final:    n.opts.Target,
		Median:   median,
	}
	tagged := s.WithUnits(detected)
	out, dropped, err := Convert(tagged, n.opts.Target)
	if err != nil {
		return nil, prov, err
	}
	prov.Dropped = dropped

	n.logger.Info("%s: detected %s via %s (median=%.4g), analysis units %s, dropped %d multipoles",
		s.Name(), detected, source, median, n.opts.Target, dropped)
	return out, prov, nil
}

// Convert rescales s to the target units. Multipoles below
// MinConvertibleEll are dropped when a conversion happens.
func Convert(s *spectrum.Spectrum, target spectrum.Units) (*spectrum.Spectrum, int, error) {
	from := s.Units()
	if from == spectrum.UnitsUnknown {
		return nil, 0, fmt.Errorf("%w: %s has no units to convert from", core.ErrUnitsUndetermined, s.Name())
	}
	if from == target {
		return s, 0, nil
	}

	var pts []spectrum.Point
	dropped := 0
	for _, p := range s.Points() {
		if p.Ell < MinConvertibleEll {
			dropped++
			continue
		}
		f := Factor(p.Ell)
		if target == spectrum.UnitsDl {
			f = 1 / f
		}
		pts = append(pts, spectrum.Point{
			Ell:        p.Ell,
			Value:      p.Value * f,
			SigmaMinus: p.SigmaMinus * f,
			SigmaPlus:  p.SigmaPlus * f,
		})
	}
	out, err := spectrum.New(s.Name(), target, pts)
	if err != nil {
		return nil, dropped, err
	}
	return out, dropped, nil
}

// ConvertCovariance rescales a covariance as D·C·D. A covariance with
// unknown units is taken to share the units of its spectrum (from).
func ConvertCovariance(c *spectrum.Covariance, from, target spectrum.Units) (*spectrum.Covariance, error) {
	if c.Units() != spectrum.UnitsUnknown {
		from = c.Units()
	}
	if from == spectrum.UnitsUnknown {
		return nil, fmt.Errorf("%w: covariance units", core.ErrUnitsUndetermined)
	}
	if from == target {
		if c.Units() == target {
			return c, nil
		}
		return spectrum.NewCovariance(c.Ells(), target, c.RawCopy())
	}

	var keep []int
	for _, l := range c.Ells() {
		if l >= MinConvertibleEll {
			keep = append(keep, l)
		}
	}
	sub, err := c.Select(keep)
	if err != nil {
		return nil, err
	}
	d := make([]float64, len(keep))
	for i, l := range keep {
		d[i] = Factor(l)
		if target == spectrum.UnitsDl {
			d[i] = 1 / d[i]
		}
	}
	return sub.Scaled(d, target)
}
