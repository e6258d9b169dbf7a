// Package fixedfx combines per-run contrast estimates of one subject into a
// fixed-effects estimate.
package fixedfx

import (
	"math"
	"slices"

	"github.com/roach88/midrel/internal/artifact"
	"github.com/roach88/midrel/internal/stage"
)

// Estimate is a voxelwise fixed-effects result.
type Estimate struct {
	Effect   []float64
	Variance []float64
	T        []float64
}

// Combine merges run effects and variances. With precisionWeighted each run
// is weighted by its inverse variance; otherwise runs are averaged and the
// variance is mean(v)/n. Voxels where any run has non-positive variance are
// left at zero.
func Combine(effects, variances [][]float64, precisionWeighted bool) (*Estimate, error) {
	if len(effects) == 0 || len(variances) == 0 {
		return nil, stage.Mismatch("fixed effects need at least one run, got %d effect and %d variance maps", len(effects), len(variances))
	}
	if len(effects) != len(variances) {
		return nil, stage.Mismatch("%d effect maps but %d variance maps", len(effects), len(variances))
	}
	nv := len(effects[0])
	for i := range effects {
		if len(effects[i]) != nv || len(variances[i]) != nv {
			return nil, stage.Invalid("run %d map size differs from run 0", i)
		}
	}

	n := float64(len(effects))
	est := &Estimate{Effect: make([]float64, nv), Variance: make([]float64, nv), T: make([]float64, nv)}
	for v := 0; v < nv; v++ {
		var sumW, sumWB, sumB, sumV float64
		valid := true
		for r := range effects {
			vr := variances[r][v]
			if vr <= 0 || math.IsNaN(vr) {
				valid = false
				break
			}
			sumW += 1 / vr
			sumWB += effects[r][v] / vr
			sumB += effects[r][v]
			sumV += vr
		}
		if !valid {
			continue
		}
		var eff, variance float64
		if precisionWeighted {
			variance = 1 / sumW
			eff = variance * sumWB
		} else {
			eff = sumB / n
			variance = sumV / n / n
		}
		est.Effect[v] = eff
		est.Variance[v] = variance
		est.T[v] = eff / math.Sqrt(variance)
	}
	return est, nil
}

// MatchRuns checks that beta and variance keys describe the same runs of
// one subject: equal length, identical after the run and stat entities are
// ignored, and covering exactly runs in order. With no expected runs any two
// or more runs are accepted. Keys are compared pairwise in order.
func MatchRuns(runs []string, betas, variances []artifact.Key) error {
	if len(betas) == 0 || len(variances) == 0 {
		return stage.Mismatch("no run maps: %d beta, %d variance", len(betas), len(variances))
	}
	if len(betas) != len(variances) {
		return stage.Mismatch("%d beta maps but %d variance maps", len(betas), len(variances))
	}
	if len(runs) == 0 && len(betas) < 2 {
		return stage.Mismatch("run %s has nothing to combine with", betas[0].Run)
	}
	if len(runs) > 0 {
		got := make([]string, len(betas))
		for i, k := range betas {
			got[i] = k.Run
		}
		if !slices.Equal(got, runs) {
			return stage.Mismatch("found runs %v, want %v", got, runs)
		}
	}
	ref := betas[0].WithoutRun().WithStat(artifact.StatBeta)
	for i := range betas {
		if betas[i].Run != variances[i].Run {
			return stage.Mismatch("pair %d: beta run %s, variance run %s", i, betas[i].Run, variances[i].Run)
		}
		for _, k := range []artifact.Key{betas[i], variances[i]} {
			if !k.WithoutRun().WithStat(artifact.StatBeta).Equal(ref) {
				return stage.Mismatch("pair %d: %s does not match %s", i, k.Filename(), betas[0].Filename())
			}
		}
	}
	return nil
}
