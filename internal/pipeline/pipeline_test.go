package pipeline

import (
	"context"
	"testing"

	"gofingerprint/adapters/rng"
	"gofingerprint/domain/detection"
	"gofingerprint/domain/spectrum"
	"gofingerprint/internal/config"
	"gofingerprint/internal/errors"
	"gofingerprint/internal/metrics"
	"gofingerprint/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, mutate func(p *config.Plan)) config.RunConfig {
	t.Helper()
	plan := config.DefaultPlan()
	plan.Trials = 199
	plan.Workers = 4
	if mutate != nil {
		mutate(&plan)
	}
	cfg, err := config.New(plan)
	require.NoError(t, err)
	return cfg
}

func inputFrom(f *testkit.Fixture) DatasetInput {
	return DatasetInput{Key: "synthetic", Role: "primary", Observation: f.Observation, Model: f.Model, Covariance: f.Covariance}
}

func TestAnalyze_DetectsInjectedPeriod(t *testing.T) {
	opts := testkit.DefaultOptions()
	opts.Correlation = 0.3
	opts.Inject = &testkit.Injection{Period: 32, Amplitude: 0.6, Phase: 0.4}
	f, err := testkit.Generate(opts)
	require.NoError(t, err)

	p := New(testConfig(t, nil), rng.NewPCGAdapter(), metrics.NewRecorder())
	a, err := p.Analyze(context.Background(), inputFrom(f))
	require.NoError(t, err)

	assert.Equal(t, 32, a.Scan.Best.Period)
	assert.Equal(t, 0.005, a.Verdict.PValue)
	assert.Equal(t, 199, a.Null.Size())
	assert.Equal(t, detection.WhitenCovariance, a.Whitened.Meta.AppliedMode)
	assert.GreaterOrEqual(t, a.Verdict.PValue, a.Verdict.NaivePValue)
}

func TestAnalyze_Deterministic(t *testing.T) {
	f, err := testkit.Generate(testkit.DefaultOptions())
	require.NoError(t, err)

	serial := New(testConfig(t, func(p *config.Plan) { p.Workers = 1 }), rng.NewPCGAdapter(), nil)
	parallel := New(testConfig(t, func(p *config.Plan) { p.Workers = 8 }), rng.NewPCGAdapter(), nil)

	a, err := serial.Analyze(context.Background(), inputFrom(f))
	require.NoError(t, err)
	b, err := parallel.Analyze(context.Background(), inputFrom(f))
	require.NoError(t, err)

	assert.Equal(t, a.Null, b.Null)
	assert.Equal(t, a.Verdict, b.Verdict)
}

func TestAnalyze_MixedUnitsAreNormalized(t *testing.T) {
	opts := testkit.DefaultOptions()
	opts.Units = spectrum.UnitsDl
	f, err := testkit.Generate(opts)
	require.NoError(t, err)

	// model supplied in C_ℓ while the observation stays in D_ℓ
	modelCl := make([]spectrum.Point, 0, f.Model.Len())
	for _, pt := range f.Model.Points() {
		modelCl = append(modelCl, spectrum.Point{Ell: pt.Ell, Value: testkit.ModelCl(pt.Ell)})
	}
	model, err := spectrum.New("model", spectrum.UnitsUnknown, modelCl)
	require.NoError(t, err)

	p := New(testConfig(t, func(p *config.Plan) { p.Whitening = "diagonal" }), rng.NewPCGAdapter(), nil)
	prep, err := p.Prepare(DatasetInput{Key: "mixed", Observation: f.Observation, Model: model})
	require.NoError(t, err)

	assert.Equal(t, spectrum.UnitsDl, prep.ObsUnits.Detected)
	assert.Equal(t, spectrum.UnitsCl, prep.ModelUnits.Detected)
	assert.Less(t, prep.Sanity.ReducedChi2, 5.0)
}

func TestPrepare_CatastrophicMismatchIsFatal(t *testing.T) {
	opts := testkit.DefaultOptions()
	opts.Units = spectrum.UnitsDl
	opts.NoiseFrac = 1e-4
	f, err := testkit.Generate(opts)
	require.NoError(t, err)

	// a C_ℓ model mislabelled as D_ℓ: conversion cannot rescue it
	var pts []spectrum.Point
	for _, pt := range f.Model.Points() {
		pts = append(pts, spectrum.Point{Ell: pt.Ell, Value: testkit.ModelCl(pt.Ell)})
	}
	model, err := spectrum.New("model", spectrum.UnitsDl, pts)
	require.NoError(t, err)

	p := New(testConfig(t, func(p *config.Plan) { p.Whitening = "diagonal" }), rng.NewPCGAdapter(), nil)
	_, err = p.Prepare(DatasetInput{Key: "bad", Observation: f.Observation, Model: model})
	require.Error(t, err)
	assert.Equal(t, errors.CodeSanityFailed, errors.GetCode(err))
}

func TestPrepare_NoneModeFlagsDiagnostic(t *testing.T) {
	f, err := testkit.Generate(testkit.DefaultOptions())
	require.NoError(t, err)

	p := New(testConfig(t, func(p *config.Plan) { p.Whitening = "none" }), rng.NewPCGAdapter(), nil)
	prep, err := p.Prepare(inputFrom(f))
	require.NoError(t, err)

	found := false
	for _, fd := range prep.Findings {
		if fd.Code == CodeDiagnosticOnly {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAnalyze_CancelledBeforeNull(t *testing.T) {
	f, err := testkit.Generate(testkit.DefaultOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(testConfig(t, nil), rng.NewPCGAdapter(), nil).Analyze(ctx, inputFrom(f))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeCancelled))
}
