package glm

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/roach88/midrel/internal/stage"
)

func linearDesign(n int) *mat.Dense {
	X := mat.NewDense(n, 2, nil)
	for t := 0; t < n; t++ {
		X.Set(t, 0, math.Sin(float64(t)/3))
		X.Set(t, 1, 1)
	}
	return X
}

func TestOLSRecoversExactSignal(t *testing.T) {
	n := 50
	X := linearDesign(n)
	Y := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		Y.Set(i, 0, 2*X.At(i, 0)+3)
		Y.Set(i, 1, -X.At(i, 0))
	}

	res, err := Fit(X, Y, Options{KeepResiduals: true})
	require.NoError(t, err)
	assert.Equal(t, n-2, res.DOF)
	assert.InDelta(t, 2, res.Beta.At(0, 0), 1e-9)
	assert.InDelta(t, 3, res.Beta.At(1, 0), 1e-9)
	assert.InDelta(t, -1, res.Beta.At(0, 1), 1e-9)
	assert.InDelta(t, 0, res.Sigma2[0], 1e-18)
	assert.InDelta(t, 0, mat.Norm(res.Residuals, 2), 1e-9)
}

func TestContrastVarianceFormula(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 0,
		0, 1,
		1, 0,
		0, 1,
	})
	Y := mat.NewDense(4, 1, []float64{1, 2, 3, 6})

	res, err := Fit(X, Y, Options{})
	require.NoError(t, err)
	// β = (2, 4); residuals (-1, -2, 1, 2); RSS 10 over 2 dof
	assert.InDelta(t, 5, res.Sigma2[0], 1e-12)

	c, err := res.Contrast([]float64{1, -1})
	require.NoError(t, err)
	assert.InDelta(t, -2, c.Effect[0], 1e-12)
	// c(XᵀX)⁻¹cᵀ = 1/2 + 1/2
	assert.InDelta(t, 5, c.Variance[0], 1e-12)
	assert.InDelta(t, -2/math.Sqrt(5), c.T[0], 1e-12)

	_, err = res.Contrast([]float64{1})
	assert.True(t, stage.IsInvalid(err))
}

func TestAR1Coefficients(t *testing.T) {
	r := mat.NewDense(4, 3, []float64{
		1, 1, 0,
		-1, 1, 0,
		1, 1, 0,
		-1, 1, 0,
	})
	rho := AR1Coefficients(r)
	assert.InDelta(t, -0.75, rho[0], 1e-12)
	assert.InDelta(t, 0.75, rho[1], 1e-12)
	assert.Equal(t, 0.0, rho[2])
}

func TestWhiten(t *testing.T) {
	A := mat.NewDense(3, 1, []float64{1, 1, 1})
	W := Whiten(A, 0.5)
	assert.InDelta(t, math.Sqrt(0.75), W.At(0, 0), 1e-12)
	assert.InDelta(t, 0.5, W.At(1, 0), 1e-12)
	assert.InDelta(t, 0.5, W.At(2, 0), 1e-12)
}

func TestAR1MatchesOLSForNoiselessData(t *testing.T) {
	n := 40
	X := linearDesign(n)
	Y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		Y.Set(i, 0, 4*X.At(i, 0)-1)
	}
	ols, err := Fit(X, Y, Options{})
	require.NoError(t, err)
	res, err := Fit(X, Y, Options{AR1: true})
	require.NoError(t, err)
	assert.InDelta(t, 4, res.Beta.At(0, 0), 1e-9)
	assert.InDelta(t, ols.Beta.At(1, 0), res.Beta.At(1, 0), 1e-9)
}

func TestAR1RecoversEffectUnderAutocorrelatedNoise(t *testing.T) {
	n := 400
	X := linearDesign(n)
	rng := rand.New(rand.NewPCG(7, 11))
	Y := mat.NewDense(n, 3, nil)
	for v := 0; v < 3; v++ {
		var e float64
		for i := 0; i < n; i++ {
			e = 0.5*e + 0.3*rng.NormFloat64()
			Y.Set(i, v, 1.5*X.At(i, 0)+2+e)
		}
	}

	res, err := Fit(X, Y, Options{AR1: true, KeepResiduals: true})
	require.NoError(t, err)
	for v := 0; v < 3; v++ {
		assert.InDelta(t, 1.5, res.Beta.At(0, v), 0.2)
		assert.Greater(t, res.Rho(v), 0.2)
		assert.Less(t, res.Rho(v), 0.8)
	}

	c, err := res.Contrast([]float64{1, 0})
	require.NoError(t, err)
	for v := 0; v < 3; v++ {
		assert.Greater(t, c.Variance[v], 0.0)
		assert.Greater(t, c.T[v], 5.0)
	}
}

func TestFitErrors(t *testing.T) {
	X := mat.NewDense(3, 2, []float64{1, 2, 2, 4, 3, 6})
	_, err := Fit(X, mat.NewDense(3, 1, nil), Options{})
	assert.True(t, stage.IsSingular(err))

	_, err = Fit(linearDesign(10), mat.NewDense(9, 1, nil), Options{})
	assert.True(t, stage.IsInvalid(err))

	_, err = Fit(linearDesign(2), mat.NewDense(2, 1, nil), Options{})
	assert.True(t, stage.IsInvalid(err))
}
