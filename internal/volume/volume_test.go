package volume

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/midrel/internal/stage"
)

func testAffine() [3][4]float64 {
	return [3][4]float64{{-2, 0, 0, 90}, {0, 2, 0, -126}, {0, 0, 2, -72}}
}

func ramp(dims [4]int) *Volume {
	v := New(dims, [3]float64{2, 2, 2}, testAffine())
	for i := range v.Data {
		v.Data[i] = float64(i) * 0.5
	}
	return v
}

func TestWriteReadRoundTrip(t *testing.T) {
	for _, name := range []string{"img.nii", "img.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			v := ramp([4]int{4, 3, 2, 5})
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, Write(path, v))

			got, err := Read(path)
			require.NoError(t, err)
			assert.Equal(t, v.Dims, got.Dims)
			assert.Equal(t, v.Voxel, got.Voxel)
			assert.Equal(t, v.Affine, got.Affine)
			assert.Equal(t, v.Data, got.Data)
		})
	}
}

func TestThreeDimensionalImage(t *testing.T) {
	v := ramp([4]int{3, 3, 3, 1})
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, v))
	assert.Equal(t, 352+4*27, buf.Len())

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Frames())
	assert.Equal(t, 27, got.Voxels())
}

func TestWriteFailureLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wide.nii.gz")
	v := New([4]int{math.MaxInt16 + 1, 1, 1, 1}, [3]float64{2, 2, 2}, testAffine())

	err := Write(path, v)
	require.Error(t, err)
	assert.True(t, stage.IsInvalid(err))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteReplacesExistingMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.nii.gz")
	require.NoError(t, Write(path, ramp([4]int{2, 2, 2, 1})))

	v := ramp([4]int{2, 2, 2, 1})
	v.Data[0] = 42
	require.NoError(t, Write(path, v))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.Data[0])
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// encodeQform writes a one-voxel image whose orientation lives only in the
// qform fields.
func encodeQform(t *testing.T, sformCode int16) *bytes.Buffer {
	t.Helper()
	var h header
	h.SizeofHdr = headerSize
	h.Dim = [8]int16{3, 1, 1, 1, 1, 1, 1, 1}
	h.Datatype = dtFloat32
	h.Bitpix = 32
	h.Pixdim = [8]float32{-1, 2, 3, 4, 1, 1, 1, 1}
	h.VoxOffset = 352
	h.QformCode = 1
	h.SformCode = sformCode
	h.QuaternD = 1
	h.QOffsetX, h.QOffsetY, h.QOffsetZ = 10, 20, 30
	h.SrowX = [4]float32{1, 0, 0, -1}
	h.SrowY = [4]float32{0, 1, 0, -2}
	h.SrowZ = [4]float32{0, 0, 1, -3}
	copy(h.Magic[:], "n+1\x00")

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &h))
	buf.Write([]byte{0, 0, 0, 0})
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []float32{7}))
	return &buf
}

func TestDecodeQformOnly(t *testing.T) {
	got, err := Decode(encodeQform(t, 0))
	require.NoError(t, err)
	want := [3][4]float64{{-2, 0, 0, 10}, {0, -3, 0, 20}, {0, 0, -4, 30}}
	for i := range want {
		assert.InDeltaSlice(t, want[i][:], got.Affine[i][:], 1e-9)
	}
	assert.Equal(t, []float64{7}, got.Data)
}

func TestDecodeSformWinsOverQform(t *testing.T) {
	got, err := Decode(encodeQform(t, 4))
	require.NoError(t, err)
	assert.Equal(t, [3][4]float64{{1, 0, 0, -1}, {0, 1, 0, -2}, {0, 0, 1, -3}}, got.Affine)
}

func TestReadMissing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.nii.gz"))
	assert.True(t, stage.IsMissingInput(err))
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode(bytes.NewReader(make([]byte, 400)))
	assert.True(t, stage.IsInvalid(err))
}

func TestIndexingAndSeries(t *testing.T) {
	v := ramp([4]int{4, 3, 2, 5})
	i := v.Index(1, 2, 1)
	assert.Equal(t, 1+4*(2+3*1), i)

	s := v.Series(nil, i)
	require.Len(t, s, 5)
	for tt := range s {
		assert.Equal(t, v.At(i, tt), s[tt])
	}
	v.Set(i, 3, -1)
	assert.Equal(t, -1.0, v.Frame(3)[i])
}

func TestStack(t *testing.T) {
	a := ramp([4]int{2, 2, 2, 1})
	b := ramp([4]int{2, 2, 2, 1})
	s, err := Stack([]*Volume{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Frames())
	assert.Equal(t, a.Data, s.Frame(1))

	_, err = Stack([]*Volume{a, ramp([4]int{3, 2, 2, 1})})
	assert.True(t, stage.IsInvalid(err))
	_, err = Stack(nil)
	assert.True(t, stage.IsMismatch(err))
}

func TestMasks(t *testing.T) {
	v := New([4]int{2, 2, 1, 2}, [3]float64{2, 2, 2}, testAffine())
	v.Set(1, 0, 3)
	v.Set(2, 1, -1)

	assert.Equal(t, []int{1}, MaskFrom(v).Indices)
	assert.Equal(t, []int{1, 2}, Nonzero(v).Indices)

	mv := MaskFrom(v).Volume(v)
	assert.Equal(t, []float64{0, 1, 0, 0}, mv.Data)

	dir := t.TempDir()
	require.NoError(t, Write(filepath.Join(dir, "mask.nii.gz"), mv))
	m, err := LoadMask(filepath.Join(dir, "mask.nii.gz"), v)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	_, err = LoadMask(filepath.Join(dir, "mask.nii.gz"), ramp([4]int{3, 3, 3, 1}))
	assert.True(t, stage.IsInvalid(err))
}

func TestSmoothPreservesConstant(t *testing.T) {
	v := New([4]int{5, 6, 7, 2}, [3]float64{2, 2, 2}, testAffine())
	for i := range v.Data {
		v.Data[i] = 3
	}
	s := Smooth(v, 6)
	for _, x := range s.Data {
		assert.InDelta(t, 3, x, 1e-9)
	}
}

func TestSmoothSpreadsImpulse(t *testing.T) {
	v := New([4]int{21, 21, 21, 1}, [3]float64{2, 2, 2}, testAffine())
	c := v.Index(10, 10, 10)
	v.Data[c] = 1

	s := Smooth(v, 4)
	var sum float64
	for _, x := range s.Data {
		sum += x
	}
	assert.InDelta(t, 1, sum, 1e-9)
	assert.Less(t, s.Data[c], 1.0)
	assert.InDelta(t, s.Data[v.Index(9, 10, 10)], s.Data[v.Index(11, 10, 10)], 1e-12)
	assert.InDelta(t, s.Data[v.Index(10, 9, 10)], s.Data[v.Index(10, 10, 11)], 1e-12)
	assert.Equal(t, 1.0, v.Data[c], "input untouched")
}

func TestSmoothZeroWidthCopies(t *testing.T) {
	v := ramp([4]int{3, 3, 3, 1})
	s := Smooth(v, 0)
	assert.Equal(t, v.Data, s.Data)
	s.Data[0] = math.Pi
	assert.NotEqual(t, math.Pi, v.Data[0])
}

func TestReflect(t *testing.T) {
	assert.Equal(t, 0, reflect(-1, 5))
	assert.Equal(t, 1, reflect(-2, 5))
	assert.Equal(t, 4, reflect(5, 5))
	assert.Equal(t, 3, reflect(6, 5))
	assert.Equal(t, 2, reflect(2, 5))
}
