package qc

import (
	"github.com/roach88/midrel/internal/volume"
)

// WilsonThreshold is the z threshold used to split the reward-anticipation
// meta-analytic map into supra- and sub-threshold regions.
const WilsonThreshold = 3.1

// ThresholdMasks binarizes a statistical map. supra holds voxels above t;
// sub holds voxels below t that are inside brain. brain must share stat's
// grid.
func ThresholdMasks(stat, brain *volume.Volume, t float64) (supra, sub *volume.Volume, err error) {
	if err := stat.CheckGrid(brain, "brain mask"); err != nil {
		return nil, nil, err
	}
	supra = volume.Like(stat, 1)
	sub = volume.Like(stat, 1)
	b := brain.Frame(0)
	for i, x := range stat.Frame(0) {
		if x > t {
			supra.Data[i] = 1
		} else if x < t && b[i] > 0 {
			sub.Data[i] = 1
		}
	}
	return supra, sub, nil
}
