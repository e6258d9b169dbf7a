package design

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// HRF names a canonical hemodynamic response model.
type HRF string

const (
	Glover HRF = "glover"
	SPM    HRF = "spm"
)

// hrfShape holds the difference-of-gammas parameters of a model.
type hrfShape struct {
	delay, undershoot, dispersion, uDispersion, ratio float64
}

var hrfShapes = map[HRF]hrfShape{
	Glover: {delay: 6, undershoot: 12, dispersion: 0.9, uDispersion: 0.9, ratio: 0.35},
	SPM:    {delay: 6, undershoot: 16, dispersion: 1, uDispersion: 1, ratio: 0.167},
}

// hrfLength is the kernel support in seconds.
const hrfLength = 32.0

// ParseHRF validates a model name.
func ParseHRF(s string) (HRF, error) {
	if _, ok := hrfShapes[HRF(s)]; !ok {
		return "", fmt.Errorf("unknown hrf model %q: must be glover or spm", s)
	}
	return HRF(s), nil
}

// Kernel samples the HRF at tr/oversampling resolution, normalized to unit sum.
func (h HRF) Kernel(tr float64, oversampling int) ([]float64, error) {
	shape, ok := hrfShapes[h]
	if !ok {
		return nil, fmt.Errorf("unknown hrf model %q", h)
	}
	dt := tr / float64(oversampling)
	n := int(math.Round(hrfLength / dt))
	if n < 2 {
		return nil, fmt.Errorf("hrf kernel: tr %v too coarse", tr)
	}
	stamps := floats.Span(make([]float64, n), 0, hrfLength)

	peak := distuv.Gamma{Alpha: shape.delay / shape.dispersion, Beta: 1 / shape.dispersion}
	under := distuv.Gamma{Alpha: shape.undershoot / shape.uDispersion, Beta: 1 / shape.uDispersion}

	k := make([]float64, n)
	for i, t := range stamps {
		x := t - dt
		if x <= 0 {
			continue
		}
		k[i] = peak.Prob(x) - shape.ratio*under.Prob(x)
	}
	sum := floats.Sum(k)
	if sum == 0 {
		return nil, fmt.Errorf("hrf kernel: degenerate kernel")
	}
	floats.Scale(1/sum, k)
	return k, nil
}
