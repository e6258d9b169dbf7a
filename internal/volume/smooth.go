package volume

import (
	"math"
)

// fwhmToSigma converts a full width at half maximum into a Gaussian sigma.
var fwhmToSigma = 1 / math.Sqrt(8*math.Log(2))

// truncate is the kernel radius in sigmas.
const truncate = 4.0

// Smooth returns a copy of v with every frame convolved by an isotropic
// Gaussian of the given FWHM in mm. Edges are reflected. A zero FWHM
// returns an unmodified copy.
func Smooth(v *Volume, fwhm float64) *Volume {
	out := Like(v, v.Frames())
	copy(out.Data, v.Data)
	if fwhm <= 0 {
		return out
	}
	for axis := 0; axis < 3; axis++ {
		if v.Voxel[axis] <= 0 || v.Dims[axis] < 2 {
			continue
		}
		sigma := fwhm * fwhmToSigma / v.Voxel[axis]
		k := gaussian(sigma)
		for t := 0; t < v.Frames(); t++ {
			smoothAxis(out.Frame(t), v.Dims, axis, k)
		}
	}
	return out
}

func gaussian(sigma float64) []float64 {
	r := int(truncate*sigma + 0.5)
	k := make([]float64, 2*r+1)
	var sum float64
	for i := -r; i <= r; i++ {
		w := math.Exp(-0.5 * float64(i*i) / (sigma * sigma))
		k[i+r] = w
		sum += w
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// smoothAxis filters frame in place along one axis.
func smoothAxis(frame []float64, dims [4]int, axis int, k []float64) {
	n := dims[axis]
	stride := 1
	for a := 0; a < axis; a++ {
		stride *= dims[a]
	}
	r := len(k) / 2
	line := make([]float64, n)
	total := dims[0] * dims[1] * dims[2]

	for base := 0; base < total; base++ {
		// visit each line once, from its first element
		if (base/stride)%n != 0 {
			continue
		}
		for i := 0; i < n; i++ {
			line[i] = frame[base+i*stride]
		}
		for i := 0; i < n; i++ {
			var acc float64
			for j := -r; j <= r; j++ {
				acc += k[j+r] * line[reflect(i+j, n)]
			}
			frame[base+i*stride] = acc
		}
	}
}

// reflect maps an out-of-range index by half-sample symmetric reflection.
func reflect(i, n int) int {
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}
