package spectrum

import (
	"errors"
	"testing"

	"gofingerprint/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsNonMonotonicEll(t *testing.T) {
	_, err := New("bad", UnitsDl, []Point{
		{Ell: 2, Value: 1},
		{Ell: 2, Value: 1},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNonMonotonicEll))
}

func TestNew_RejectsNegativeSigma(t *testing.T) {
	_, err := New("bad", UnitsDl, []Point{{Ell: 2, Value: 1, SigmaMinus: -1, SigmaPlus: 1}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMalformedInput))
}

func TestPoint_SigmaIsMeanOfAbsolute(t *testing.T) {
	p := Point{Ell: 10, Value: 5, SigmaMinus: 2, SigmaPlus: 4}
	assert.InDelta(t, 3.0, p.Sigma(), 1e-15)
}

func TestSpectrum_IndexAndWindow(t *testing.T) {
	s, err := New("s", UnitsCl, []Point{{Ell: 2}, {Ell: 3}, {Ell: 5}, {Ell: 8}})
	require.NoError(t, err)

	assert.Equal(t, 2, s.Index(5))
	assert.Equal(t, -1, s.Index(4))

	w, err := s.Window(3, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, w.Ells())
}

func TestParseUnits(t *testing.T) {
	u, err := ParseUnits("D_ell")
	require.NoError(t, err)
	assert.Equal(t, UnitsDl, u)

	_, err = ParseUnits("kelvin")
	assert.Error(t, err)
}

func TestCovariance_Select(t *testing.T) {
	c, err := NewCovariance([]int{2, 3, 4}, UnitsCl, []float64{
		1, 0.1, 0.2,
		0.1, 2, 0.3,
		0.2, 0.3, 3,
	})
	require.NoError(t, err)

	sub, err := c.Select([]int{2, 4})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, sub.Ells())
	assert.Equal(t, 1.0, sub.At(0, 0))
	assert.Equal(t, 0.2, sub.At(0, 1))
	assert.Equal(t, 0.2, sub.At(1, 0))
	assert.Equal(t, 3.0, sub.At(1, 1))

	_, err = c.Select([]int{4, 2})
	assert.True(t, errors.Is(err, core.ErrNonMonotonicEll))

	_, err = c.Select([]int{9})
	assert.True(t, errors.Is(err, core.ErrRangeMismatch))
}
