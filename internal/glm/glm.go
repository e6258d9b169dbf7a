// Package glm fits voxelwise general linear models.
//
// Data is a frames × voxels matrix. Fits are ordinary least squares, or
// least squares after first-order autoregressive prewhitening where voxels
// sharing a quantized AR(1) coefficient share one whitened design.
package glm

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/roach88/midrel/internal/stage"
)

// ARBins is the quantization of the AR(1) coefficient.
const ARBins = 100

// Result holds the estimates of a fit.
type Result struct {
	// Beta is columns × voxels.
	Beta *mat.Dense
	// Sigma2 is the residual variance per voxel, RSS/DOF.
	Sigma2 []float64
	// Residuals is frames × voxels when requested.
	Residuals *mat.Dense
	DOF       int

	groups []group
	label  []int
}

type group struct {
	rho float64
	// cov is (WᵀW)⁻¹ of the design whitened with rho.
	cov *mat.Dense
}

// Options controls a fit.
type Options struct {
	// AR1 prewhitens the residuals before the final fit.
	AR1 bool
	// KeepResiduals stores the final residuals in the result.
	KeepResiduals bool
}

// Fit estimates Y = Xβ + ε for every column of Y.
func Fit(X, Y *mat.Dense, opts Options) (*Result, error) {
	n, p := X.Dims()
	ny, nv := Y.Dims()
	if ny != n {
		return nil, stage.Invalid("data has %d frames, design has %d rows", ny, n)
	}
	if n <= p {
		return nil, stage.Invalid("design has %d columns for %d frames", p, n)
	}

	cov, err := invertGram(X)
	if err != nil {
		return nil, err
	}
	beta, resid := solve(X, cov, Y)

	res := &Result{DOF: n - p, label: make([]int, nv)}
	if !opts.AR1 {
		res.Beta = beta
		res.groups = []group{{cov: cov}}
		res.Sigma2 = sigma2(resid, n-p)
		if opts.KeepResiduals {
			res.Residuals = resid
		}
		return res, nil
	}

	rhos := AR1Coefficients(resid)
	byRho := make(map[float64][]int)
	for v, r := range rhos {
		byRho[r] = append(byRho[r], v)
	}
	keys := make([]float64, 0, len(byRho))
	for r := range byRho {
		keys = append(keys, r)
	}
	sort.Float64s(keys)

	res.Beta = mat.NewDense(p, nv, nil)
	res.Sigma2 = make([]float64, nv)
	if opts.KeepResiduals {
		res.Residuals = mat.NewDense(n, nv, nil)
	}
	for gi, rho := range keys {
		voxels := byRho[rho]
		W := Whiten(X, rho)
		gcov, err := invertGram(W)
		if err != nil {
			return nil, err
		}
		res.groups = append(res.groups, group{rho: rho, cov: gcov})

		Yg := mat.NewDense(n, len(voxels), nil)
		for j, v := range voxels {
			Yg.SetCol(j, mat.Col(nil, v, Y))
		}
		Wy := Whiten(Yg, rho)
		gb, gr := solve(W, gcov, Wy)
		s2 := sigma2(gr, n-p)
		for j, v := range voxels {
			res.label[v] = gi
			res.Beta.SetCol(v, mat.Col(nil, j, gb))
			res.Sigma2[v] = s2[j]
			if opts.KeepResiduals {
				res.Residuals.SetCol(v, mat.Col(nil, j, gr))
			}
		}
	}
	return res, nil
}

// Voxels is the number of fitted voxels.
func (r *Result) Voxels() int {
	_, nv := r.Beta.Dims()
	return nv
}

// Rho returns the AR(1) coefficient used for voxel v.
func (r *Result) Rho(v int) float64 {
	return r.groups[r.label[v]].rho
}

// Contrast holds the voxelwise estimates of one contrast.
type Contrast struct {
	Effect   []float64
	Variance []float64
	T        []float64
}

// Contrast evaluates the weight vector c at every voxel.
func (r *Result) Contrast(c []float64) (*Contrast, error) {
	p, nv := r.Beta.Dims()
	if len(c) != p {
		return nil, stage.Invalid("contrast has %d weights, design has %d columns", len(c), p)
	}
	cv := mat.NewVecDense(p, c)
	q := make([]float64, len(r.groups))
	for g, grp := range r.groups {
		q[g] = mat.Inner(cv, grp.cov, cv)
	}

	out := &Contrast{Effect: make([]float64, nv), Variance: make([]float64, nv), T: make([]float64, nv)}
	for v := 0; v < nv; v++ {
		var eff float64
		for j := 0; j < p; j++ {
			eff += c[j] * r.Beta.At(j, v)
		}
		variance := r.Sigma2[v] * q[r.label[v]]
		out.Effect[v] = eff
		out.Variance[v] = variance
		out.T[v] = tValue(eff, variance)
	}
	return out, nil
}

func tValue(effect, variance float64) float64 {
	if variance <= 0 {
		return 0
	}
	return effect / math.Sqrt(variance)
}

// AR1Coefficients returns the lag-1 autocorrelation of each residual column,
// rounded to 1/ARBins.
func AR1Coefficients(resid *mat.Dense) []float64 {
	n, nv := resid.Dims()
	out := make([]float64, nv)
	for v := 0; v < nv; v++ {
		var num, den float64
		for t := 0; t < n; t++ {
			x := resid.At(t, v)
			den += x * x
			if t > 0 {
				num += x * resid.At(t-1, v)
			}
		}
		if den == 0 {
			continue
		}
		rho := math.Round(num/den*ARBins) / ARBins
		out[v] = math.Max(-0.99, math.Min(0.99, rho))
	}
	return out
}

// Whiten applies the AR(1) filter with coefficient rho to every column of A.
func Whiten(A mat.Matrix, rho float64) *mat.Dense {
	n, m := A.Dims()
	out := mat.NewDense(n, m, nil)
	first := math.Sqrt(1 - rho*rho)
	for j := 0; j < m; j++ {
		out.Set(0, j, first*A.At(0, j))
		for t := 1; t < n; t++ {
			out.Set(t, j, A.At(t, j)-rho*A.At(t-1, j))
		}
	}
	return out
}

func invertGram(X mat.Matrix) (*mat.Dense, error) {
	var gram, inv mat.Dense
	gram.Mul(X.T(), X)
	if err := inv.Inverse(&gram); err != nil {
		return nil, stage.Singular(err, "design matrix is rank deficient")
	}
	return &inv, nil
}

// solve returns β = (XᵀX)⁻¹XᵀY and the residuals Y − Xβ.
func solve(X, cov, Y mat.Matrix) (*mat.Dense, *mat.Dense) {
	var xty, beta, fitted, resid mat.Dense
	xty.Mul(X.T(), Y)
	beta.Mul(cov, &xty)
	fitted.Mul(X, &beta)
	resid.Sub(Y, &fitted)
	return &beta, &resid
}

func sigma2(resid *mat.Dense, dof int) []float64 {
	n, nv := resid.Dims()
	out := make([]float64, nv)
	for v := 0; v < nv; v++ {
		var rss float64
		for t := 0; t < n; t++ {
			x := resid.At(t, v)
			rss += x * x
		}
		out[v] = rss / float64(dof)
	}
	return out
}
