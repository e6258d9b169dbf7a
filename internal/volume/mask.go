package volume

import (
	"github.com/roach88/midrel/internal/stage"
)

// Mask selects voxels of a grid.
type Mask struct {
	Dims    [3]int
	Indices []int
}

// MaskFrom keeps voxels of the first frame of v that are above zero.
func MaskFrom(v *Volume) *Mask {
	m := &Mask{Dims: [3]int{v.Dims[0], v.Dims[1], v.Dims[2]}}
	for i, x := range v.Frame(0) {
		if x > 0 {
			m.Indices = append(m.Indices, i)
		}
	}
	return m
}

// LoadMask reads a mask image and checks it against ref's grid.
func LoadMask(path string, ref *Volume) (*Mask, error) {
	mv, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := ref.CheckGrid(mv, "mask"); err != nil {
		return nil, err
	}
	m := MaskFrom(mv)
	if len(m.Indices) == 0 {
		return nil, stage.Invalid("mask %s selects no voxels", path)
	}
	return m, nil
}

// Nonzero keeps voxels whose values are not zero in every frame.
func Nonzero(v *Volume) *Mask {
	m := &Mask{Dims: [3]int{v.Dims[0], v.Dims[1], v.Dims[2]}}
	n := v.Voxels()
	for i := 0; i < n; i++ {
		for t := 0; t < v.Frames(); t++ {
			if v.Data[t*n+i] != 0 {
				m.Indices = append(m.Indices, i)
				break
			}
		}
	}
	return m
}

// Len is the number of selected voxels.
func (m *Mask) Len() int {
	return len(m.Indices)
}

// Volume renders the mask as a 0/1 image on ref's grid.
func (m *Mask) Volume(ref *Volume) *Volume {
	out := Like(ref, 1)
	for _, i := range m.Indices {
		out.Data[i] = 1
	}
	return out
}
