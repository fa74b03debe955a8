// Package residual forms observation minus model on a common multipole grid
// and grades the result with reduced chi-square sanity checks.
package residual

import (
	"fmt"
	"math"

	"gofingerprint/domain/core"
	"gofingerprint/domain/detection"
	"gofingerprint/domain/spectrum"
	"gofingerprint/internal"
	"gofingerprint/internal/config"
	"gofingerprint/internal/errors"

	"github.com/montanaflynn/stats"
)

// Engine computes residuals and their sanity report
type Engine struct {
	thresholds config.SanityThresholds
	strict     bool
	logger     *internal.Logger
}

// NewEngine creates an engine for the run's mode and thresholds
func NewEngine(cfg config.RunConfig) *Engine {
	return &Engine{
		thresholds: cfg.Sanity,
		strict:     cfg.Strict(),
		logger:     internal.DefaultLogger.With("Residual"),
	}
}

// Compute differences obs and model on their common multipoles. Both must
// already be in the same units. Points whose observed sigma is zero cannot
// be weighted and are dropped; the count is returned.
func (e *Engine) Compute(obs, model *spectrum.Spectrum) (detection.Residual, int, error) {
	if obs.Units() != model.Units() {
		return detection.Residual{}, 0, errors.InputInvalid(
			fmt.Sprintf("observation is in %s but model is in %s; normalize units first", obs.Units(), model.Units()),
			core.ErrRangeMismatch)
	}

	r := detection.Residual{Units: obs.Units()}
	skipped := 0
	for _, p := range obs.Points() {
		j := model.Index(p.Ell)
		if j < 0 {
			continue
		}
		sigma := p.Sigma()
		if sigma == 0 {
			skipped++
			continue
		}
		m := model.At(j).Value
		r.Ells = append(r.Ells, p.Ell)
		r.Values = append(r.Values, p.Value-m)
		r.Sigma = append(r.Sigma, sigma)
		r.Model = append(r.Model, m)
	}

	if r.Len() == 0 {
		return detection.Residual{}, skipped, errors.InputInvalid(
			fmt.Sprintf("no usable common multipoles between %s (%d points) and %s (%d points), %d skipped for zero sigma",
				obs.Name(), obs.Len(), model.Name(), model.Len(), skipped),
			core.ErrRangeMismatch)
	}
	if skipped > 0 {
		e.logger.Warn("%s: dropped %d multipoles with zero sigma", obs.Name(), skipped)
	}
	return r, skipped, nil
}

// Check grades a residual. Catastrophic mismatch is fatal in strict mode
// and a warning in permissive mode.
func (e *Engine) Check(r detection.Residual) detection.SanityReport {
	n := r.Len()
	pulls := make([]float64, n)
	chi2 := 0.0
	for i := 0; i < n; i++ {
		z := r.Values[i] / r.Sigma[i]
		pulls[i] = math.Abs(z)
		chi2 += z * z
	}
	reduced := chi2 / float64(n)
	median, _ := stats.Median(pulls)

	report := detection.SanityReport{N: n, ReducedChi2: reduced, MedianPull: median}
	ev := []core.Evidence{
		{Name: "reduced_chi2", Value: reduced},
		{Name: "median_abs_pull", Value: median},
		{Name: "n", Value: float64(n)},
	}

	t := e.thresholds
	switch {
	case reduced > t.CatastrophicChi2 || median > t.CatastrophicPull:
		msg := fmt.Sprintf("catastrophic observation/model mismatch: reduced chi2 %.4g (limit %.4g), median |r/sigma| %.4g (limit %.4g); check units",
			reduced, t.CatastrophicChi2, median, t.CatastrophicPull)
		if e.strict {
			report.Finding = core.Fatal(errors.CodeSanityFailed, msg, ev...)
		} else {
			report.Finding = core.Warn(errors.CodeSanityFailed, msg, ev...)
		}
	case reduced > t.WarnChi2:
		report.Finding = core.Warn(errors.CodeSanityFailed,
			fmt.Sprintf("reduced chi2 %.4g exceeds %.4g; model fits poorly", reduced, t.WarnChi2), ev...)
	default:
		report.Finding = core.Finding{Severity: core.SeverityOK, Message: "residual consistent with quoted uncertainties", Evidence: ev}
	}
	return report
}

// Build computes and checks a residual. A fatal finding becomes a
// SANITY_FAILED error; the report is returned either way.
func (e *Engine) Build(obs, model *spectrum.Spectrum) (detection.Residual, detection.SanityReport, error) {
	r, skipped, err := e.Compute(obs, model)
	if err != nil {
		return detection.Residual{}, detection.SanityReport{Skipped: skipped}, err
	}
	report := e.Check(r)
	report.Skipped = skipped

	switch report.Finding.Severity {
	case core.SeverityFatal:
		e.logger.Error("%s: %s", obs.Name(), report.Finding)
		return r, report, errors.FromFinding(report.Finding, core.ErrCatastrophicMismatch)
	case core.SeverityWarning:
		e.logger.Warn("%s: %s", obs.Name(), report.Finding)
		e.logger.Event("sanity warning", "dataset", obs.Name(),
			"reduced_chi2", report.ReducedChi2, "median_abs_pull", report.MedianPull)
	default:
		e.logger.Info("%s: reduced chi2 %.4g over %d multipoles", obs.Name(), report.ReducedChi2, report.N)
	}
	return r, report, nil
}
