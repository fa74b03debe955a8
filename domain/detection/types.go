package detection

import (
	"fmt"

	"gofingerprint/domain/core"
	"gofingerprint/domain/spectrum"
)

// Residual is observation minus model on a common multipole grid, in one unit system
type Residual struct {
	Ells   []int          `json:"ells"`
	Values []float64      `json:"values"`
	Sigma  []float64      `json:"sigma"`
	Model  []float64      `json:"model"`
	Units  spectrum.Units `json:"units"`
}

// Len returns the number of multipoles
func (r Residual) Len() int { return len(r.Values) }

// Clone returns a deep copy
func (r Residual) Clone() Residual {
	return Residual{
		Ells:   append([]int(nil), r.Ells...),
		Values: append([]float64(nil), r.Values...),
		Sigma:  append([]float64(nil), r.Sigma...),
		Model:  append([]float64(nil), r.Model...),
		Units:  r.Units,
	}
}

// WithValues returns a residual on the same grid with different values
func (r Residual) WithValues(values []float64) Residual {
	return Residual{Ells: r.Ells, Values: values, Sigma: r.Sigma, Model: r.Model, Units: r.Units}
}

// WhiteningMode selects how residuals are decorrelated
type WhiteningMode string

const (
	// WhitenNone is the identity, diagnostic only
	WhitenNone WhiteningMode = "none"
	// WhitenDiagonal divides by the spectrum's own sigma column
	WhitenDiagonal WhiteningMode = "diagonal"
	// WhitenCovDiag divides by √diag(Σ)
	WhitenCovDiag WhiteningMode = "cov_diag"
	// WhitenCovariance applies L⁻¹ where Σ = LLᵗ
	WhitenCovariance WhiteningMode = "covariance"
)

// ParseWhiteningMode validates a mode string
func ParseWhiteningMode(s string) (WhiteningMode, error) {
	switch m := WhiteningMode(s); m {
	case WhitenNone, WhitenDiagonal, WhitenCovDiag, WhitenCovariance:
		return m, nil
	default:
		return "", fmt.Errorf("unknown whitening mode %q (none|diagonal|cov_diag|covariance)", s)
	}
}

// NeedsCovariance reports whether the mode reads a covariance matrix
func (m WhiteningMode) NeedsCovariance() bool {
	return m == WhitenCovDiag || m == WhitenCovariance
}

// Inferential reports whether results under the mode may be used for inference
func (m WhiteningMode) Inferential() bool { return m != WhitenNone }

// Regularization records the ridge applied to a covariance
type Regularization struct {
	Applied         bool    `json:"applied"`
	Reason          string  `json:"reason,omitempty"`
	Lambda          float64 `json:"lambda"`
	MinEigenBefore  float64 `json:"min_eigen_before"`
	MaxEigenBefore  float64 `json:"max_eigen_before"`
	MinEigenAfter   float64 `json:"min_eigen_after"`
	MaxEigenAfter   float64 `json:"max_eigen_after"`
	ConditionBefore float64 `json:"condition_before"`
	ConditionAfter  float64 `json:"condition_after"`
	TargetCondition float64 `json:"target_condition"`
	Symmetrized     bool    `json:"symmetrized"`
	MaxRelAsymmetry float64 `json:"max_rel_asymmetry"`
}

// WhiteningMeta is the provenance attached to every whitened residual
type WhiteningMeta struct {
	RequestedMode  WhiteningMode  `json:"requested_mode"`
	AppliedMode    WhiteningMode  `json:"applied_mode"`
	FellBack       bool           `json:"fell_back"`
	FallbackReason string         `json:"fallback_reason,omitempty"`
	Regularization Regularization `json:"regularization"`
	Dim            int            `json:"dim"`
}

// WhitenedResidual is a residual expressed in a statistically independent basis
type WhitenedResidual struct {
	Ells   []int         `json:"ells"`
	Values []float64     `json:"values"`
	Meta   WhiteningMeta `json:"meta"`
}

// SumSquares returns the χ² of the zero-signal model
func (w WhitenedResidual) SumSquares() float64 {
	s := 0.0
	for _, v := range w.Values {
		s += v * v
	}
	return s
}

// DetectionResult is the sinusoid fit for one candidate period
type DetectionResult struct {
	Period     int     `json:"period"`
	Amplitude  float64 `json:"amplitude"`
	Phase      float64 `json:"phase"`
	SinCoef    float64 `json:"sin_coef"`
	CosCoef    float64 `json:"cos_coef"`
	DeltaChi2  float64 `json:"delta_chi2"`
	Chi2Null   float64 `json:"chi2_null"`
	Chi2Fit    float64 `json:"chi2_fit"`
	DOF        int     `json:"dof"`
	Degenerate bool    `json:"degenerate,omitempty"`
}

// PeriodScan holds fits over the whole candidate set for one dataset
type PeriodScan struct {
	Results []DetectionResult `json:"results"` // in candidate order
	Best    DetectionResult   `json:"best"`
}

// ResultFor returns the fit for a period
func (s PeriodScan) ResultFor(period int) (DetectionResult, bool) {
	for _, r := range s.Results {
		if r.Period == period {
			return r, true
		}
	}
	return DetectionResult{}, false
}

// NullMethod names the surrogate generator for null trials
type NullMethod string

const (
	// NullGaussian draws residuals from the whitener's own noise model
	NullGaussian NullMethod = "gaussian"
	// NullCosmicVariance draws per-mode a_ℓm with random phases plus instrument noise
	NullCosmicVariance NullMethod = "cosmic_variance"
)

// ParseNullMethod validates a method string
func ParseNullMethod(s string) (NullMethod, error) {
	switch m := NullMethod(s); m {
	case NullGaussian, NullCosmicVariance:
		return m, nil
	default:
		return "", fmt.Errorf("unknown null method %q (gaussian|cosmic_variance)", s)
	}
}

// NullSample is one Monte Carlo trial
type NullSample struct {
	Trial        int       `json:"trial"`
	MaxDeltaChi2 float64   `json:"max_delta_chi2"`
	BestPeriod   int       `json:"best_period"`
	PerPeriod    []float64 `json:"per_period,omitempty"` // aligned with NullDistribution.Periods
}

// NullDistribution is the ordered set of trials for one dataset
type NullDistribution struct {
	Method  NullMethod   `json:"method"`
	Seed    int64        `json:"seed"`
	Periods []int        `json:"periods"`
	Samples []NullSample `json:"samples"` // Samples[i].Trial == i
}

// Size returns the number of trials
func (d NullDistribution) Size() int { return len(d.Samples) }

// MaxValues returns the best-over-periods statistic of each trial
func (d NullDistribution) MaxValues() []float64 {
	out := make([]float64, len(d.Samples))
	for i, s := range d.Samples {
		out[i] = s.MaxDeltaChi2
	}
	return out
}

// PeriodValues returns the per-trial statistic for a single period
func (d NullDistribution) PeriodValues(period int) ([]float64, error) {
	idx := -1
	for i, p := range d.Periods {
		if p == period {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("period %d not in null distribution periods %v", period, d.Periods)
	}
	out := make([]float64, len(d.Samples))
	for i, s := range d.Samples {
		if idx >= len(s.PerPeriod) {
			return nil, fmt.Errorf("trial %d has no per-period values", s.Trial)
		}
		out[i] = s.PerPeriod[idx]
	}
	return out, nil
}

// SanityReport summarizes the residual χ² checks
type SanityReport struct {
	N           int          `json:"n"`
	Skipped     int          `json:"skipped"` // points with zero sigma
	ReducedChi2 float64      `json:"reduced_chi2"`
	MedianPull  float64      `json:"median_abs_pull"`
	Finding     core.Finding `json:"finding"`
}
