// Package pipeline chains the engines for one dataset: units, residual,
// whitening, detection, null simulation and significance. It works on
// in-memory spectra; file loading and provenance happen in the app layer.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"gofingerprint/domain/core"
	"gofingerprint/domain/detection"
	"gofingerprint/domain/spectrum"
	"gofingerprint/domain/verdict"
	"gofingerprint/internal"
	"gofingerprint/internal/config"
	"gofingerprint/internal/errors"
	"gofingerprint/internal/metrics"
	"gofingerprint/internal/nullsim"
	"gofingerprint/internal/periodicity"
	"gofingerprint/internal/referee"
	"gofingerprint/internal/residual"
	"gofingerprint/internal/units"
	"gofingerprint/internal/whitening"
	"gofingerprint/ports"
)

// CodeDiagnosticOnly marks findings from a non-inferential whitening mode
const CodeDiagnosticOnly = "DIAGNOSTIC_ONLY"

// DatasetInput is one observation/model pair as loaded
type DatasetInput struct {
	Key         string
	Role        string
	Observation *spectrum.Spectrum
	ObsHint     spectrum.Units
	Model       *spectrum.Spectrum
	ModelHint   spectrum.Units
	Covariance  *spectrum.Covariance // optional unless whitening needs it
}

// Prepared is a dataset after every deterministic stage and before the null.
// Whitener and Detector are shared read-only by null workers.
type Prepared struct {
	Key        string
	Role       string
	ObsUnits   spectrum.UnitProvenance
	ModelUnits spectrum.UnitProvenance
	Residual   detection.Residual
	Sanity     detection.SanityReport
	Whitener   whitening.Whitener
	Detector   *periodicity.Detector
	Covariance *spectrum.Covariance // in analysis units, nil if not supplied
	Findings   []core.Finding
}

// Analysis is the full result for one dataset
type Analysis struct {
	*Prepared
	Whitened detection.WhitenedResidual
	Scan     detection.PeriodScan
	Null     detection.NullDistribution
	Verdict  verdict.DatasetVerdict
}

// Pipeline runs datasets under one immutable configuration
type Pipeline struct {
	cfg        config.RunConfig
	normalizer *units.Normalizer
	residuals  *residual.Engine
	whiteners  *whitening.Builder
	sim        *nullsim.Engine
	referee    *referee.VerdictEngine
	streams    ports.RNGPort
	metrics    *metrics.Recorder
	logger     *internal.Logger
}

// New creates a pipeline. rec may be nil.
func New(cfg config.RunConfig, streams ports.RNGPort, rec *metrics.Recorder) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		normalizer: units.NewNormalizer(units.OptionsFrom(cfg)),
		residuals:  residual.NewEngine(cfg),
		whiteners:  whitening.NewBuilder(cfg),
		sim:        nullsim.NewEngine(cfg.Workers),
		referee:    referee.NewVerdictEngine(cfg),
		streams:    streams,
		metrics:    rec,
		logger:     internal.DefaultLogger.With("Pipeline"),
	}
}

// Config returns the configuration the pipeline runs under
func (p *Pipeline) Config() config.RunConfig { return p.cfg }

// Referee exposes the verdict engine for combining datasets
func (p *Pipeline) Referee() *referee.VerdictEngine { return p.referee }

// Prepare runs units, residual, sanity, whitening and detector setup
func (p *Pipeline) Prepare(in DatasetInput) (*Prepared, error) {
	start := time.Now()
	defer p.metrics.ObserveStage("prepare", start)

	if in.Observation == nil || in.Model == nil {
		return nil, errors.InputInvalid(fmt.Sprintf("%s: observation and model are both required", in.Key), core.ErrInsufficientData)
	}
	prep := &Prepared{Key: in.Key, Role: in.Role}

	obs, obsProv, err := p.normalizer.Normalize(in.Observation, in.ObsHint)
	if err != nil {
		return nil, errors.InputInvalid(fmt.Sprintf("%s: observation units", in.Key), err)
	}
	model, modelProv, err := p.normalizer.Normalize(in.Model, in.ModelHint)
	if err != nil {
		return nil, errors.InputInvalid(fmt.Sprintf("%s: model units", in.Key), err)
	}
	prep.ObsUnits, prep.ModelUnits = obsProv, modelProv

	obs, err = obs.Window(p.cfg.LMin, p.cfg.LMax)
	if err != nil {
		return nil, errors.InputInvalid(fmt.Sprintf("%s: observation has no multipoles in [%d, %d]", in.Key, p.cfg.LMin, p.cfg.LMax), err)
	}
	model, err = model.Window(p.cfg.LMin, p.cfg.LMax)
	if err != nil {
		return nil, errors.InputInvalid(fmt.Sprintf("%s: model has no multipoles in [%d, %d]", in.Key, p.cfg.LMin, p.cfg.LMax), err)
	}

	r, sanity, err := p.residuals.Build(obs, model)
	prep.Sanity = sanity
	if sanity.Finding.Severity != "" {
		p.metrics.Sanity(string(sanity.Finding.Severity))
		prep.Findings = append(prep.Findings, sanity.Finding)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s: residual sanity", in.Key)
	}
	prep.Residual = r

	if in.Covariance != nil {
		cov, err := units.ConvertCovariance(in.Covariance, obsProv.Detected, p.cfg.AnalysisUnits)
		if err != nil {
			return nil, errors.InputInvalid(fmt.Sprintf("%s: covariance units", in.Key), err)
		}
		prep.Covariance = cov
	}

	w, err := p.whiteners.Build(p.cfg.Whitening, r, prep.Covariance)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: whitening", in.Key)
	}
	meta := w.Meta()
	if meta.Regularization.Applied {
		p.metrics.Regularized()
		prep.Findings = append(prep.Findings, core.Warn(errors.CodeNumerical,
			fmt.Sprintf("covariance regularized: %s", meta.Regularization.Reason),
			core.Evidence{Name: "lambda", Value: meta.Regularization.Lambda},
			core.Evidence{Name: "condition_before", Value: meta.Regularization.ConditionBefore},
			core.Evidence{Name: "condition_after", Value: meta.Regularization.ConditionAfter}))
	}
	if meta.FellBack {
		p.metrics.FellBack(string(meta.RequestedMode), string(meta.AppliedMode))
		prep.Findings = append(prep.Findings, core.Warn(errors.CodeNumerical,
			fmt.Sprintf("whitening fell back from %s to %s: %s", meta.RequestedMode, meta.AppliedMode, meta.FallbackReason)))
	}
	if !meta.AppliedMode.Inferential() {
		prep.Findings = append(prep.Findings, core.Warn(CodeDiagnosticOnly,
			"whitening mode none is diagnostic only; p-values assume independent unit-variance residuals"))
	}
	prep.Whitener = w

	d, err := periodicity.NewDetector(p.cfg.Periods(), w)
	if err != nil {
		return nil, err
	}
	prep.Detector = d
	return prep, nil
}

// Detect whitens the prepared residual and scans every period
func (p *Pipeline) Detect(prep *Prepared) (detection.WhitenedResidual, detection.PeriodScan, error) {
	return p.detectValues(prep, prep.Residual)
}

func (p *Pipeline) detectValues(prep *Prepared, r detection.Residual) (detection.WhitenedResidual, detection.PeriodScan, error) {
	start := time.Now()
	defer p.metrics.ObserveStage("detect", start)

	wr, err := prep.Whitener.Whiten(r)
	if err != nil {
		return detection.WhitenedResidual{}, detection.PeriodScan{}, err
	}
	scan, err := prep.Detector.Scan(wr)
	if err != nil {
		return detection.WhitenedResidual{}, detection.PeriodScan{}, err
	}
	return wr, scan, nil
}

// NullInputs builds the shared trial inputs for a prepared dataset
func (p *Pipeline) NullInputs(prep *Prepared, method detection.NullMethod) *nullsim.Inputs {
	return &nullsim.Inputs{
		Method:   method,
		Whitener: prep.Whitener,
		Detector: prep.Detector,
		Streams:  p.streams,
		Ells:     prep.Residual.Ells,
		Model:    prep.Residual.Model,
		Sigma:    prep.Residual.Sigma,
	}
}

// Null simulates the configured number of trials under seed
func (p *Pipeline) Null(ctx context.Context, prep *Prepared, seed int64) (detection.NullDistribution, error) {
	start := time.Now()
	defer p.metrics.ObserveStage("null", start)

	dist, err := p.sim.Simulate(ctx, p.NullInputs(prep, p.cfg.NullMethod), seed, p.cfg.Trials)
	if err != nil {
		return detection.NullDistribution{}, errors.Wrapf(err, "%s: null simulation", prep.Key)
	}
	p.metrics.TrialsRun(string(p.cfg.NullMethod), dist.Size())
	return dist, nil
}

// Analyze runs a dataset end to end under the configured seed
func (p *Pipeline) Analyze(ctx context.Context, in DatasetInput) (*Analysis, error) {
	prep, err := p.Prepare(in)
	if err != nil {
		return nil, err
	}
	return p.Finish(ctx, prep, prep.Residual, p.cfg.Seed)
}

// Finish detects on r (which must share prep's grid), simulates the null
// and evaluates significance
func (p *Pipeline) Finish(ctx context.Context, prep *Prepared, r detection.Residual, seed int64) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithCode(errors.CodeCancelled, err)
	}
	wr, scan, err := p.detectValues(prep, r)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: detection", prep.Key)
	}
	null, err := p.Null(ctx, prep, seed)
	if err != nil {
		return nil, err
	}
	v, err := p.referee.Evaluate(prep.Key, scan, null)
	if err != nil {
		return nil, err
	}
	p.metrics.PValue(prep.Key, v.PValue)

	return &Analysis{Prepared: prep, Whitened: wr, Scan: scan, Null: null, Verdict: v}, nil
}
