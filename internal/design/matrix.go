// Package design builds first-level design matrices for the MID task and
// evaluates contrasts against them.
//
// A design matrix has one row per acquisition frame and its columns in a
// fixed order: the distinct condition labels sorted lexically, then the
// nuisance regressors in option order, then "constant". There are no drift
// columns; low-frequency drift is carried by the cosine regressors.
package design

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/roach88/midrel/internal/confounds"
	"github.com/roach88/midrel/internal/events"
	"github.com/roach88/midrel/internal/stage"
	"github.com/roach88/midrel/internal/tsv"
)

// ConstantColumn is the name of the intercept column.
const ConstantColumn = "constant"

// DefaultOversampling matches the temporal resolution of the canonical
// regressor computation.
const DefaultOversampling = 50

// minOnset is how far before the first frame the high-resolution grid starts.
const minOnset = -24.0

// Params configures matrix construction.
type Params struct {
	TR                 float64
	Volumes            int
	Model              Model
	HRF                HRF
	SliceTimeCorrected bool
	// Oversampling defaults to DefaultOversampling when zero.
	Oversampling int
}

func (p Params) validate() error {
	if p.TR <= 0 {
		return stage.Invalid("tr must be positive, got %v", p.TR)
	}
	if p.Volumes < 2 {
		return stage.Invalid("need at least 2 volumes, got %d", p.Volumes)
	}
	if _, ok := hrfShapes[p.HRF]; !ok {
		return stage.Invalid("unknown hrf model %q", p.HRF)
	}
	return nil
}

// Matrix is a design matrix with named columns.
type Matrix struct {
	FrameTimes []float64
	Columns    []string
	X          *mat.Dense
	// Conditions is the number of leading condition columns.
	Conditions int
}

// FrameTimes returns i*tr for each frame, shifted by tr/2 when slice-time
// correction referenced the middle of the volume.
func FrameTimes(tr float64, n int, stc bool) []float64 {
	shift := 0.0
	if stc {
		shift = tr / 2
	}
	ft := make([]float64, n)
	for i := range ft {
		ft[i] = float64(i)*tr + shift
	}
	return ft
}

// Build constructs the design matrix of one run.
func Build(ev *events.Table, conf *confounds.Set, p Params) (*Matrix, error) {
	conds, err := Conditions(ev, p.Model)
	if err != nil {
		return nil, err
	}
	return FromConditions(conds, conf, p)
}

// FromConditions constructs a design matrix from explicit events.
func FromConditions(conds []Condition, conf *confounds.Set, p Params) (*Matrix, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if conf != nil && len(conf.Names) > 0 && conf.Len() != p.Volumes {
		return nil, stage.Invalid("confounds have %d rows, expected %d volumes", conf.Len(), p.Volumes)
	}
	over := p.Oversampling
	if over == 0 {
		over = DefaultOversampling
	}

	frameTimes := FrameTimes(p.TR, p.Volumes, p.SliceTimeCorrected)

	byLabel := make(map[string][]Condition)
	for _, c := range conds {
		byLabel[c.Label] = append(byLabel[c.Label], c)
	}
	labels := make([]string, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	var nuisance []string
	if conf != nil {
		nuisance = conf.Names
	}
	cols := make([]string, 0, len(labels)+len(nuisance)+1)
	cols = append(cols, labels...)
	cols = append(cols, nuisance...)
	cols = append(cols, ConstantColumn)

	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if seen[c] {
			return nil, stage.Invalid("design column %q appears twice", c)
		}
		seen[c] = true
	}

	kernel, err := p.HRF.Kernel(p.TR, over)
	if err != nil {
		return nil, err
	}
	grid := newHighResGrid(frameTimes, over)

	X := mat.NewDense(p.Volumes, len(cols), nil)
	for j, label := range labels {
		X.SetCol(j, grid.regressor(byLabel[label], kernel, frameTimes))
	}
	for j := range nuisance {
		X.SetCol(len(labels)+j, conf.Values[j])
	}
	ones := make([]float64, p.Volumes)
	for i := range ones {
		ones[i] = 1
	}
	X.SetCol(len(cols)-1, ones)

	return &Matrix{FrameTimes: frameTimes, Columns: cols, X: X, Conditions: len(labels)}, nil
}

// Index returns the position of col, or -1.
func (m *Matrix) Index(col string) int {
	for i, c := range m.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Dims returns rows and columns.
func (m *Matrix) Dims() (int, int) {
	return m.X.Dims()
}

// WriteTSV writes the matrix with a leading frame-time column.
func (m *Matrix) WriteTSV(w io.Writer) error {
	header := append([]string{"frame_time"}, m.Columns...)
	rows := make([][]string, len(m.FrameTimes))
	for i, ft := range m.FrameTimes {
		row := make([]string, 0, len(header))
		row = append(row, strconv.FormatFloat(ft, 'f', -1, 64))
		for j := range m.Columns {
			row = append(row, strconv.FormatFloat(m.X.At(i, j), 'g', 8, 64))
		}
		rows[i] = row
	}
	return tsv.Write(w, header, rows)
}

// highResGrid is the oversampled time axis the boxcars are built on.
type highResGrid struct {
	times []float64
	step  float64
}

func newHighResGrid(frameTimes []float64, over int) highResGrid {
	n := len(frameTimes)
	tmin := floats.Min(frameTimes)
	tmax := floats.Max(frameTimes)
	upper := tmax * (1 + 1/float64(n-1))
	nHR := int(float64(n-1)/(tmax-tmin)*(upper-tmin-minOnset)*float64(over)) + 1
	times := floats.Span(make([]float64, nHR), tmin+minOnset, upper)
	return highResGrid{times: times, step: times[1] - times[0]}
}

// regressor convolves the boxcar of conds with kernel and samples it at frameTimes.
func (g highResGrid) regressor(conds []Condition, kernel, frameTimes []float64) []float64 {
	n := len(g.times)
	box := make([]float64, n)
	for _, c := range conds {
		on := min(sort.SearchFloat64s(g.times, c.Onset), n-1)
		off := min(sort.SearchFloat64s(g.times, c.Onset+c.Duration), n-1)
		if off < n-1 && off == on {
			off++
		}
		box[on]++
		box[off]--
	}
	floats.CumSum(box, box)

	conv := make([]float64, n)
	for i, v := range box {
		if v == 0 {
			continue
		}
		for k := 0; k < len(kernel) && i+k < n; k++ {
			conv[i+k] += v * kernel[k]
		}
	}

	out := make([]float64, len(frameTimes))
	for i, t := range frameTimes {
		pos := (t - g.times[0]) / g.step
		lo := int(math.Floor(pos))
		switch {
		case lo < 0:
			out[i] = conv[0]
		case lo >= n-1:
			out[i] = conv[n-1]
		default:
			frac := pos - float64(lo)
			out[i] = conv[lo]*(1-frac) + conv[lo+1]*frac
		}
	}
	return out
}

func (m *Matrix) String() string {
	r, c := m.Dims()
	return fmt.Sprintf("design(%dx%d)", r, c)
}
