package main

import (
	"testing"

	"gofingerprint/internal/ablation"
	"gofingerprint/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSweeps(t *testing.T) {
	s, err := parseSweeps("subsets, modes")
	require.NoError(t, err)
	assert.Equal(t, ablation.Sweeps{Subsets: true, Modes: true}, s)

	s, err = parseSweeps("subsets,modes,ensembles,channels")
	require.NoError(t, err)
	assert.Equal(t, ablation.AllSweeps(), s)

	_, err = parseSweeps("subsets,bootstrap")
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))

	_, err = parseSweeps("")
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestParseChannel(t *testing.T) {
	f, err := parseChannel("ee=ee.txt,ee_model.txt,ee_cov.bin")
	require.NoError(t, err)
	assert.Equal(t, "ee", f.Key)
	assert.Equal(t, "ee.txt", f.Observation)
	assert.Equal(t, "ee_model.txt", f.Model)
	assert.Equal(t, "ee_cov.bin", f.Covariance)

	f, err = parseChannel("te=te.txt,te_model.txt")
	require.NoError(t, err)
	assert.Empty(t, f.Covariance)

	for _, bad := range []string{"ee.txt,ee_model.txt", "=a,b", "ee=a", "ee=a,b,c,d"} {
		_, err := parseChannel(bad)
		assert.Error(t, err, bad)
	}
}

func TestDatasetFlags_RejectUnknownUnits(t *testing.T) {
	d := datasetFlags{key: "planck", obs: "a", model: "b", obsUnits: "K^2"}
	_, err := d.files()
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))

	d.obsUnits = "D_ell"
	f, err := d.files()
	require.NoError(t, err)
	assert.Equal(t, "Dl", string(f.ObsUnits))
}
