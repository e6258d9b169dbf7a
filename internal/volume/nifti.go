package volume

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/roach88/midrel/internal/stage"
)

const headerSize = 348

// NIfTI-1 datatype codes.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
)

// header is the on-disk NIfTI-1 header. Field order and sizes are fixed.
type header struct {
	SizeofHdr    int32
	DataType     [10]byte
	DBName       [18]byte
	Extents      int32
	SessionError int16
	Regular      byte
	DimInfo      byte
	Dim          [8]int16
	IntentP1     float32
	IntentP2     float32
	IntentP3     float32
	IntentCode   int16
	Datatype     int16
	Bitpix       int16
	SliceStart   int16
	Pixdim       [8]float32
	VoxOffset    float32
	SclSlope     float32
	SclInter     float32
	SliceEnd     int16
	SliceCode    byte
	XYZTUnits    byte
	CalMax       float32
	CalMin       float32
	SliceDur     float32
	TOffset      float32
	GLMax        int32
	GLMin        int32
	Descrip      [80]byte
	AuxFile      [24]byte
	QformCode    int16
	SformCode    int16
	QuaternB     float32
	QuaternC     float32
	QuaternD     float32
	QOffsetX     float32
	QOffsetY     float32
	QOffsetZ     float32
	SrowX        [4]float32
	SrowY        [4]float32
	SrowZ        [4]float32
	IntentName   [16]byte
	Magic        [4]byte
}

// Read loads a .nii or .nii.gz image.
func Read(path string) (*Volume, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, stage.MissingInput(path, "image not found")
	}
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("image %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}
	v, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", path, err)
	}
	return v, nil
}

// Decode parses an uncompressed NIfTI-1 stream.
func Decode(r io.Reader) (*Volume, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, stage.Invalid("short nifti header: %v", err)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if int32(order.Uint32(raw)) != headerSize {
		order = binary.BigEndian
		if int32(order.Uint32(raw)) != headerSize {
			return nil, stage.Invalid("not a nifti-1 image")
		}
	}
	var h header
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return nil, err
	}
	if string(h.Magic[:3]) != "n+1" {
		return nil, stage.Invalid("unsupported nifti magic %q", h.Magic[:3])
	}

	ndim := int(h.Dim[0])
	if ndim < 3 || ndim > 4 {
		return nil, stage.Invalid("unsupported image rank %d", ndim)
	}
	dims := [4]int{int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3]), 1}
	if ndim == 4 {
		dims[3] = int(h.Dim[4])
	}
	for _, d := range dims {
		if d <= 0 {
			return nil, stage.Invalid("bad image dimensions %v", dims)
		}
	}
	voxel := [3]float64{float64(h.Pixdim[1]), float64(h.Pixdim[2]), float64(h.Pixdim[3])}

	skip := int64(h.VoxOffset) - headerSize
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			return nil, stage.Invalid("truncated nifti extension: %v", err)
		}
	}

	v := New(dims, voxel, affineOf(&h, voxel))
	if err := readData(r, order, h.Datatype, v.Data); err != nil {
		return nil, err
	}

	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	if slope != 0 && !(slope == 1 && inter == 0) {
		for i, x := range v.Data {
			v.Data[i] = x*slope + inter
		}
	}
	return v, nil
}

// affineOf prefers the sform, then the qform, then bare voxel scaling.
func affineOf(h *header, voxel [3]float64) [3][4]float64 {
	var a [3][4]float64
	switch {
	case h.SformCode > 0:
		for j := 0; j < 4; j++ {
			a[0][j] = float64(h.SrowX[j])
			a[1][j] = float64(h.SrowY[j])
			a[2][j] = float64(h.SrowZ[j])
		}
	case h.QformCode > 0:
		a = qformAffine(h, voxel)
	default:
		for i := 0; i < 3; i++ {
			a[i][i] = voxel[i]
		}
	}
	return a
}

// qformAffine builds the affine from the quaternion, pixdim and qoffset
// fields. pixdim[0] is the qfac sign of the third axis.
func qformAffine(h *header, voxel [3]float64) [3][4]float64 {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// 180 degree rotation; renormalize b, c, d
		n := math.Sqrt(b*b + c*c + d*d)
		if n > 0 {
			b, c, d = b/n, c/n, d/n
		}
		a = 0
	} else {
		a = math.Sqrt(a)
	}
	rot := [3][3]float64{
		{a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c)},
		{2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b)},
		{2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - c*c - b*b},
	}
	scale := voxel
	if h.Pixdim[0] < 0 {
		scale[2] = -scale[2]
	}
	offset := [3]float64{float64(h.QOffsetX), float64(h.QOffsetY), float64(h.QOffsetZ)}

	var out [3][4]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = rot[i][j] * scale[j]
		}
		out[i][3] = offset[i]
	}
	return out
}

func readData(r io.Reader, order binary.ByteOrder, datatype int16, dst []float64) error {
	var err error
	switch datatype {
	case dtUint8:
		buf := make([]uint8, len(dst))
		if err = binary.Read(r, order, buf); err == nil {
			for i, x := range buf {
				dst[i] = float64(x)
			}
		}
	case dtInt8:
		buf := make([]int8, len(dst))
		if err = binary.Read(r, order, buf); err == nil {
			for i, x := range buf {
				dst[i] = float64(x)
			}
		}
	case dtInt16:
		buf := make([]int16, len(dst))
		if err = binary.Read(r, order, buf); err == nil {
			for i, x := range buf {
				dst[i] = float64(x)
			}
		}
	case dtUint16:
		buf := make([]uint16, len(dst))
		if err = binary.Read(r, order, buf); err == nil {
			for i, x := range buf {
				dst[i] = float64(x)
			}
		}
	case dtInt32:
		buf := make([]int32, len(dst))
		if err = binary.Read(r, order, buf); err == nil {
			for i, x := range buf {
				dst[i] = float64(x)
			}
		}
	case dtUint32:
		buf := make([]uint32, len(dst))
		if err = binary.Read(r, order, buf); err == nil {
			for i, x := range buf {
				dst[i] = float64(x)
			}
		}
	case dtFloat32:
		buf := make([]float32, len(dst))
		if err = binary.Read(r, order, buf); err == nil {
			for i, x := range buf {
				dst[i] = float64(x)
			}
		}
	case dtFloat64:
		err = binary.Read(r, order, dst)
	default:
		return stage.Invalid("unsupported nifti datatype %d", datatype)
	}
	if err != nil {
		return stage.Invalid("truncated image data: %v", err)
	}
	return nil
}

// Write stores v as float32 NIfTI-1, gzip-compressed when path ends in ".gz".
// The image is written to a temporary file in the same directory and renamed
// into place, so a failed write never leaves a partial map at path.
func Write(path string, v *Volume) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(bw)
		w = zw
	}

	err = Encode(w, v)
	if zw != nil {
		err = errors.Join(err, zw.Close())
	}
	err = errors.Join(err, bw.Flush(), f.Chmod(0o644), f.Close())
	if err != nil {
		return fmt.Errorf("write image %s: %w", path, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write image %s: %w", path, err)
	}
	return nil
}

// Encode writes v as an uncompressed float32 NIfTI-1 stream.
func Encode(w io.Writer, v *Volume) error {
	var h header
	h.SizeofHdr = headerSize
	h.Regular = 'r'
	if v.Dims[3] > 1 {
		h.Dim[0] = 4
	} else {
		h.Dim[0] = 3
	}
	for i := 0; i < 4; i++ {
		if v.Dims[i] > math.MaxInt16 {
			return stage.Invalid("dimension %d too large for nifti-1", v.Dims[i])
		}
		h.Dim[i+1] = int16(v.Dims[i])
	}
	for i := 5; i < 8; i++ {
		h.Dim[i] = 1
	}
	h.Datatype = dtFloat32
	h.Bitpix = 32
	h.Pixdim[0] = 1
	for i := 0; i < 3; i++ {
		h.Pixdim[i+1] = float32(v.Voxel[i])
	}
	h.Pixdim[4] = 1
	h.VoxOffset = 352
	h.SclSlope = 1
	h.XYZTUnits = 2 | 8 // mm, seconds
	h.SformCode = 4     // MNI152
	for j := 0; j < 4; j++ {
		h.SrowX[j] = float32(v.Affine[0][j])
		h.SrowY[j] = float32(v.Affine[1][j])
		h.SrowZ[j] = float32(v.Affine[2][j])
	}
	copy(h.Magic[:], "n+1\x00")

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return err
	}
	// empty extension block
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	buf := make([]float32, len(v.Data))
	for i, x := range v.Data {
		buf[i] = float32(x)
	}
	return binary.Write(w, binary.LittleEndian, buf)
}
