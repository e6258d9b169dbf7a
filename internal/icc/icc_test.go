package icc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/midrel/internal/stage"
)

func TestIdenticalSetsGiveUnitICC(t *testing.T) {
	set := [][]float64{{1, 5}, {2, 5}, {4, 5}, {3, 5}}
	res, err := Compute(set, set)
	require.NoError(t, err)

	assert.InDelta(t, 1, res.Est[0], 1e-12)
	assert.Greater(t, res.MSBtwn[0], 0.0)
	assert.InDelta(t, 0, res.MSWthn[0], 1e-12)

	// no subject variance at all
	assert.Equal(t, 0.0, res.Est[1])
	assert.Equal(t, 0.0, res.MSBtwn[1])
}

func TestKnownICC(t *testing.T) {
	a := [][]float64{{1}, {2}, {3}}
	b := [][]float64{{2}, {3}, {5}}
	res, err := Compute(a, b)
	require.NoError(t, err)

	assert.InDelta(t, 19.0/6, res.MSBtwn[0], 1e-12)
	assert.InDelta(t, 1.0/6, res.MSWthn[0], 1e-12)
	assert.InDelta(t, 0.9, res.Est[0], 1e-12)
	assert.Less(t, res.Lower[0], res.Est[0])
	assert.Greater(t, res.Upper[0], res.Est[0])
	assert.LessOrEqual(t, res.Upper[0], 1.0)
}

func TestComputeValidatesSets(t *testing.T) {
	_, err := Compute([][]float64{{1}, {2}})
	assert.True(t, stage.IsMismatch(err))

	_, err = Compute([][]float64{{1}, {2}}, [][]float64{{1}})
	assert.True(t, stage.IsMismatch(err))

	_, err = Compute([][]float64{}, [][]float64{})
	assert.True(t, stage.IsMismatch(err))

	_, err = Compute([][]float64{{1}, {2}}, [][]float64{{1}, {2, 3}})
	assert.True(t, stage.IsInvalid(err))
}

func TestFQuantile(t *testing.T) {
	// F(2,2) has CDF x/(1+x)
	assert.InDelta(t, 39, fQuantile(0.975, 2, 2), 1e-6)
	assert.InDelta(t, 1, fQuantile(0.5, 2, 2), 1e-9)
}

func TestSizes(t *testing.T) {
	s, err := Sizes(50, 120, DefaultStep)
	require.NoError(t, err)
	assert.Equal(t, []int{50, 100, 150}, s)

	s, err = Sizes(25, 125, DefaultStep)
	require.NoError(t, err)
	assert.Equal(t, []int{25, 75, 125}, s)

	_, err = Sizes(100, 50, DefaultStep)
	assert.Error(t, err)
	_, err = Sizes(50, 100, 0)
	assert.Error(t, err)
}

func TestSamplerIsDeterministic(t *testing.T) {
	subjects := []string{"sub-01", "sub-02", "sub-03", "sub-04", "sub-05"}

	a, b := NewSampler(42), NewSampler(42)
	for _, n := range []int{3, 10, 25} {
		sa, ua, err := a.Draw(subjects, n)
		require.NoError(t, err)
		sb, ub, err := b.Draw(subjects, n)
		require.NoError(t, err)
		assert.Equal(t, sa, sb)
		assert.Equal(t, ua, ub)
		assert.Len(t, sa, n)
		assert.LessOrEqual(t, ua, len(subjects))
	}

	_, unique, err := NewSampler(1).Draw(subjects, 25)
	require.NoError(t, err)
	assert.LessOrEqual(t, unique, len(subjects))
	assert.Positive(t, unique)

	_, _, err = NewSampler(1).Draw(nil, 3)
	assert.True(t, stage.IsMismatch(err))
}
