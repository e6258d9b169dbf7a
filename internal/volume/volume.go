// Package volume holds voxel grids and the image operations the pipeline
// needs: NIfTI-1 I/O, brain masks and isotropic Gaussian smoothing.
//
// Data is stored in NIfTI order: x varies fastest, then y, z and time.
package volume

import (
	"fmt"

	"github.com/roach88/midrel/internal/stage"
)

// Volume is a 3-D image or a 4-D stack of 3-D frames.
type Volume struct {
	// Dims is x, y, z and frame count (1 for a 3-D image).
	Dims [4]int
	// Voxel is the voxel size in mm.
	Voxel  [3]float64
	Affine [3][4]float64
	Data   []float64
}

// New allocates a zero volume.
func New(dims [4]int, voxel [3]float64, affine [3][4]float64) *Volume {
	if dims[3] == 0 {
		dims[3] = 1
	}
	return &Volume{
		Dims:   dims,
		Voxel:  voxel,
		Affine: affine,
		Data:   make([]float64, dims[0]*dims[1]*dims[2]*dims[3]),
	}
}

// Like allocates a zero volume on ref's grid with the given frame count.
func Like(ref *Volume, frames int) *Volume {
	d := ref.Dims
	d[3] = frames
	return New(d, ref.Voxel, ref.Affine)
}

// Voxels is the number of voxels per frame.
func (v *Volume) Voxels() int {
	return v.Dims[0] * v.Dims[1] * v.Dims[2]
}

// Frames is the number of 3-D frames.
func (v *Volume) Frames() int {
	return v.Dims[3]
}

// Frame returns frame t as a slice sharing v's storage.
func (v *Volume) Frame(t int) []float64 {
	n := v.Voxels()
	return v.Data[t*n : (t+1)*n]
}

// Index returns the linear voxel index of (x, y, z).
func (v *Volume) Index(x, y, z int) int {
	return x + v.Dims[0]*(y+v.Dims[1]*z)
}

// At returns the value of voxel i in frame t.
func (v *Volume) At(i, t int) float64 {
	return v.Data[t*v.Voxels()+i]
}

// Set stores the value of voxel i in frame t.
func (v *Volume) Set(i, t int, x float64) {
	v.Data[t*v.Voxels()+i] = x
}

// Series copies the time series of voxel i into dst, allocating if needed.
func (v *Volume) Series(dst []float64, i int) []float64 {
	if cap(dst) < v.Frames() {
		dst = make([]float64, v.Frames())
	}
	dst = dst[:v.Frames()]
	n := v.Voxels()
	for t := range dst {
		dst[t] = v.Data[t*n+i]
	}
	return dst
}

// SameGrid reports whether o shares v's spatial dimensions.
func (v *Volume) SameGrid(o *Volume) bool {
	return v.Dims[0] == o.Dims[0] && v.Dims[1] == o.Dims[1] && v.Dims[2] == o.Dims[2]
}

// CheckGrid returns an INVALID_INPUT error when o is not on v's grid.
func (v *Volume) CheckGrid(o *Volume, what string) error {
	if !v.SameGrid(o) {
		return stage.Invalid("%s grid %v does not match %v", what, o.Dims[:3], v.Dims[:3])
	}
	return nil
}

func (v *Volume) String() string {
	return fmt.Sprintf("volume(%dx%dx%dx%d)", v.Dims[0], v.Dims[1], v.Dims[2], v.Dims[3])
}

// Stack combines 3-D volumes on one grid into a 4-D volume.
func Stack(frames []*Volume) (*Volume, error) {
	if len(frames) == 0 {
		return nil, stage.Mismatch("cannot stack zero images")
	}
	out := Like(frames[0], len(frames))
	for t, f := range frames {
		if err := frames[0].CheckGrid(f, "stacked image"); err != nil {
			return nil, err
		}
		if f.Frames() != 1 {
			return nil, stage.Invalid("stacked image %d has %d frames", t, f.Frames())
		}
		copy(out.Frame(t), f.Data)
	}
	return out, nil
}
