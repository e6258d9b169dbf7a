// Package icc computes voxelwise intraclass correlation, ICC(3,1): the
// two-way mixed-effects, consistency, single-measurement form.
package icc

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/roach88/midrel/internal/stage"
)

// Alpha sets the confidence level of the reported interval.
const Alpha = 0.05

// Result holds the voxelwise ICC maps.
type Result struct {
	Est    []float64
	MSBtwn []float64
	MSWthn []float64
	Lower  []float64
	Upper  []float64
}

// Compute evaluates ICC(3,1) across k measurement sets. sets[j][i] is the
// map of subject i in measurement j; every set lists subjects in the
// same order.
func Compute(sets ...[][]float64) (*Result, error) {
	k := len(sets)
	if k < 2 {
		return nil, stage.Mismatch("icc needs at least 2 measurement sets, got %d", k)
	}
	n := len(sets[0])
	for j, s := range sets {
		if len(s) == 0 {
			return nil, stage.Mismatch("measurement set %d is empty", j)
		}
		if len(s) != n {
			return nil, stage.Mismatch("set %d has %d subjects, set 0 has %d", j, len(s), n)
		}
	}
	if n < 2 {
		return nil, stage.Mismatch("icc needs at least 2 subjects, got %d", n)
	}
	nv := len(sets[0][0])
	for j, s := range sets {
		for i, m := range s {
			if len(m) != nv {
				return nil, stage.Invalid("set %d subject %d has %d voxels, want %d", j, i, len(m), nv)
			}
		}
	}

	df1 := float64(n - 1)
	df2 := float64((n - 1) * (k - 1))
	fLow := fQuantile(1-Alpha/2, df1, df2)
	fHigh := fQuantile(1-Alpha/2, df2, df1)

	res := &Result{
		Est:    make([]float64, nv),
		MSBtwn: make([]float64, nv),
		MSWthn: make([]float64, nv),
		Lower:  make([]float64, nv),
		Upper:  make([]float64, nv),
	}
	rowMean := make([]float64, n)
	colMean := make([]float64, k)
	kf, nf := float64(k), float64(n)
	for v := 0; v < nv; v++ {
		var grand float64
		for i := range rowMean {
			rowMean[i] = 0
		}
		for j := range colMean {
			colMean[j] = 0
		}
		for j := 0; j < k; j++ {
			for i := 0; i < n; i++ {
				x := sets[j][i][v]
				rowMean[i] += x / kf
				colMean[j] += x / nf
				grand += x
			}
		}
		grand /= kf * nf

		var ssr, ssc, sst float64
		for i := 0; i < n; i++ {
			d := rowMean[i] - grand
			ssr += d * d
		}
		ssr *= kf
		for j := 0; j < k; j++ {
			d := colMean[j] - grand
			ssc += d * d
		}
		ssc *= nf
		for j := 0; j < k; j++ {
			for i := 0; i < n; i++ {
				d := sets[j][i][v] - grand
				sst += d * d
			}
		}
		sse := math.Max(sst-ssr-ssc, 0)

		msr := ssr / df1
		mse := sse / df2
		res.MSBtwn[v] = msr
		res.MSWthn[v] = mse
		res.Est[v], res.Lower[v], res.Upper[v] = estimate(msr, mse, kf, fLow, fHigh)
	}
	return res, nil
}

// estimate returns the ICC point estimate and its confidence bounds.
func estimate(msr, mse, k, fLow, fHigh float64) (est, lower, upper float64) {
	switch {
	case msr == 0 && mse == 0:
		return 0, 0, 0
	case mse == 0:
		return 1, 1, 1
	}
	est = (msr - mse) / (msr + (k-1)*mse)
	f0 := msr / mse
	fl := f0 / fLow
	fu := f0 * fHigh
	lower = (fl - 1) / (fl + k - 1)
	upper = (fu - 1) / (fu + k - 1)
	return est, lower, upper
}

// fQuantile inverts the F distribution CDF by bisection.
func fQuantile(p, d1, d2 float64) float64 {
	dist := distuv.F{D1: d1, D2: d2}
	lo, hi := 0.0, 1.0
	for dist.CDF(hi) < p {
		hi *= 2
		if hi > 1e12 {
			return hi
		}
	}
	for i := 0; i < 200 && hi-lo > 1e-12*hi; i++ {
		mid := (lo + hi) / 2
		if dist.CDF(mid) < p {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}
