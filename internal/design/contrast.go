package design

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/roach88/midrel/internal/stage"
)

// Contrast is a named linear combination of design columns.
type Contrast struct {
	Name    string
	Weights map[string]float64
}

// DefaultContrasts returns the MID contrasts estimated for every run.
func DefaultContrasts() []Contrast {
	return []Contrast{
		{Name: "Lgain-Neut", Weights: map[string]float64{"LargeGain": 1, "NoMoneyStake": -1}},
		{Name: "Sgain-Neut", Weights: map[string]float64{"SmallGain": 1, "NoMoneyStake": -1}},
		{Name: "Lgain-Base", Weights: map[string]float64{"LargeGain": 1}},
		{Name: "Sgain-Base", Weights: map[string]float64{"SmallGain": 1}},
	}
}

// ParseContrast parses an expression such as "LargeGain - NoMoneyStake" or
// "2*A - B - C". Terms are column names with an optional numeric factor.
func ParseContrast(name, expr string) (Contrast, error) {
	c := Contrast{Name: name, Weights: make(map[string]float64)}
	s := strings.ReplaceAll(expr, " ", "")
	if s == "" {
		return c, fmt.Errorf("contrast %s: empty expression", name)
	}

	sign := 1.0
	start := 0
	flush := func(end int) error {
		term := s[start:end]
		if term == "" {
			return fmt.Errorf("contrast %s: dangling operator in %q", name, expr)
		}
		factor := 1.0
		if f, col, ok := strings.Cut(term, "*"); ok {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return fmt.Errorf("contrast %s: bad factor %q", name, f)
			}
			factor, term = v, col
		}
		if term == "" {
			return fmt.Errorf("contrast %s: missing column in %q", name, expr)
		}
		c.Weights[term] += sign * factor
		return nil
	}

	if s[0] == '-' || s[0] == '+' {
		if s[0] == '-' {
			sign = -1
		}
		start = 1
	}
	for i := start; i < len(s); i++ {
		if s[i] != '+' && s[i] != '-' {
			continue
		}
		if err := flush(i); err != nil {
			return c, err
		}
		sign = 1
		if s[i] == '-' {
			sign = -1
		}
		start = i + 1
	}
	if err := flush(len(s)); err != nil {
		return c, err
	}
	return c, nil
}

// Columns returns the named columns in sorted order.
func (c Contrast) Columns() []string {
	cols := make([]string, 0, len(c.Weights))
	for col := range c.Weights {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Vector expands c over columns. Unnamed columns get weight zero; a named
// column absent from the design is an error.
func (c Contrast) Vector(columns []string) ([]float64, error) {
	pos := make(map[string]int, len(columns))
	for i, col := range columns {
		pos[col] = i
	}
	v := make([]float64, len(columns))
	for _, col := range c.Columns() {
		i, ok := pos[col]
		if !ok {
			return nil, stage.Invalid("contrast %s names column %q not in design", c.Name, col)
		}
		v[i] = c.Weights[col]
	}
	return v, nil
}

// Efficiency returns 1/(c (XᵀX)⁻¹ cᵀ) for each contrast vector.
func Efficiency(X mat.Matrix, contrasts [][]float64) ([]float64, error) {
	_, p := X.Dims()
	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	var inv mat.Dense
	if err := inv.Inverse(&xtx); err != nil {
		return nil, stage.Singular(err, "design XᵀX is not invertible")
	}

	out := make([]float64, len(contrasts))
	for i, w := range contrasts {
		if len(w) != p {
			return nil, stage.Invalid("contrast has %d weights, design has %d columns", len(w), p)
		}
		c := mat.NewVecDense(p, w)
		q := mat.Inner(c, &inv, c)
		if q <= 0 {
			return nil, stage.Singular(nil, "contrast %d is not estimable", i)
		}
		out[i] = 1 / q
	}
	return out, nil
}
