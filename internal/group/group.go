// Package group fits one-sample group models over subject maps.
package group

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/roach88/midrel/internal/artifact"
	"github.com/roach88/midrel/internal/glm"
	"github.com/roach88/midrel/internal/stage"
)

// minP keeps z finite for extreme t values.
const minP = 1e-300

// Result holds the voxelwise group maps.
type Result struct {
	N        int
	Effect   []float64
	T        []float64
	Z        []float64
	CohensD  []float64
	Variance []float64
	// Residuals is subjects × voxels when requested.
	Residuals [][]float64
}

// OneSample fits an intercept-only model across subjects. maps[i] holds the
// voxel values of subject i.
func OneSample(maps [][]float64, keepResiduals bool) (*Result, error) {
	n := len(maps)
	if n < 2 {
		return nil, stage.Mismatch("one-sample model needs at least 2 subjects, got %d", n)
	}
	nv := len(maps[0])
	Y := mat.NewDense(n, nv, nil)
	for i, m := range maps {
		if len(m) != nv {
			return nil, stage.Invalid("subject %d map has %d voxels, want %d", i, len(m), nv)
		}
		Y.SetRow(i, m)
	}
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	X := mat.NewDense(n, 1, ones)

	fit, err := glm.Fit(X, Y, glm.Options{KeepResiduals: keepResiduals})
	if err != nil {
		return nil, err
	}
	c, err := fit.Contrast([]float64{1})
	if err != nil {
		return nil, err
	}

	res := &Result{
		N:        n,
		Effect:   c.Effect,
		T:        c.T,
		Variance: c.Variance,
		Z:        make([]float64, nv),
		CohensD:  make([]float64, nv),
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}
	sqrtN := math.Sqrt(float64(n))
	for v, t := range c.T {
		res.CohensD[v] = t / sqrtN
		res.Z[v] = TToZ(t, dist)
	}
	if keepResiduals {
		res.Residuals = make([][]float64, n)
		for i := range res.Residuals {
			res.Residuals[i] = mat.Row(nil, i, fit.Residuals)
		}
	}
	return res, nil
}

// TToZ maps a t value to the standard normal value with the same tail
// probability.
func TToZ(t float64, dist distuv.StudentsT) float64 {
	if t == 0 || math.IsNaN(t) {
		return 0
	}
	if t > 0 {
		p := math.Max(dist.Survival(t), minP)
		return -distuv.UnitNormal.Quantile(p)
	}
	p := math.Max(dist.CDF(t), minP)
	return distuv.UnitNormal.Quantile(p)
}

// CheckMaps verifies that subject keys share every entity except the
// subject, and that no subject appears twice.
func CheckMaps(keys []artifact.Key) error {
	if len(keys) == 0 {
		return stage.Mismatch("no subject maps")
	}
	seen := make(map[string]bool, len(keys))
	ref := keys[0]
	ref.Subject = ""
	for _, k := range keys {
		if seen[k.Subject] {
			return stage.Mismatch("subject %s appears twice", k.Subject)
		}
		seen[k.Subject] = true
		o := k
		o.Subject = ""
		if !o.Equal(ref) {
			return stage.Mismatch("%s does not match %s", k.Filename(), keys[0].Filename())
		}
	}
	return nil
}
