package errors

import (
	stderrors "errors"
	"testing"

	"gofingerprint/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_IncludesEvidence(t *testing.T) {
	err := Numerical("covariance not positive definite", core.ErrNotPositiveDefinite,
		core.Evidence{Name: "min_eigenvalue", Value: -3e-4},
		core.Evidence{Name: "condition_number", Value: 1e12},
	)

	msg := err.Error()
	assert.Contains(t, msg, "min_eigenvalue=-0.0003")
	assert.Contains(t, msg, "condition_number=1e+12")
	assert.True(t, stderrors.Is(err, core.ErrNotPositiveDefinite))
}

func TestWrap_PreservesCode(t *testing.T) {
	inner := SanityFailed("reduced chi-square catastrophic", core.Evidence{Name: "reduced_chi2", Value: 4e9})
	wrapped := Wrapf(inner, "dataset %s", "planck")

	assert.Equal(t, CodeSanityFailed, GetCode(wrapped))
	assert.True(t, HasCode(wrapped, CodeSanityFailed))
	assert.True(t, stderrors.Is(wrapped, core.ErrCatastrophicMismatch))
}

func TestWrap_NilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, WithCode(CodeInputInvalid, nil))
}

func TestFromFinding(t *testing.T) {
	f := core.Fatal(CodeSanityFailed, "median pull too large", core.Evidence{Name: "median_abs_pull", Value: 1e4})
	err := FromFinding(f, core.ErrCatastrophicMismatch)
	require.NotNil(t, err)
	assert.Equal(t, CodeSanityFailed, err.Code)
	assert.Len(t, err.Evidence, 1)
}

func TestGetCode_Unknown(t *testing.T) {
	assert.Equal(t, "UNKNOWN", GetCode(stderrors.New("plain")))
}
