package testkit

import (
	"testing"

	"gofingerprint/domain/spectrum"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Deterministic(t *testing.T) {
	a, err := Generate(DefaultOptions())
	require.NoError(t, err)
	b, err := Generate(DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, a.Observation.Values(), b.Observation.Values())

	opts := DefaultOptions()
	opts.Seed = 2
	c, err := Generate(opts)
	require.NoError(t, err)
	assert.NotEqual(t, a.Observation.Values(), c.Observation.Values())
}

func TestGenerate_Shapes(t *testing.T) {
	opts := DefaultOptions()
	opts.Units = spectrum.UnitsDl
	opts.Correlation = 0.4
	f, err := Generate(opts)
	require.NoError(t, err)

	assert.Equal(t, 256, f.Observation.Len())
	assert.Equal(t, 256, f.Covariance.Dim())
	assert.Equal(t, spectrum.UnitsDl, f.Model.Units())
	sigma := f.Observation.At(10).Sigma()
	assert.InDelta(t, sigma*sigma, f.Covariance.At(10, 10), 1e-9*sigma*sigma)
}

func TestWriteFiles(t *testing.T) {
	f, err := Generate(DefaultOptions())
	require.NoError(t, err)
	files, err := f.WriteFiles(t.TempDir(), "planck")
	require.NoError(t, err)
	assert.FileExists(t, files.Observation)
	assert.FileExists(t, files.Model)
	assert.FileExists(t, files.Covariance)
}
