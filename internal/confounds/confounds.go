// Package confounds selects nuisance regressors from fMRIPrep confound
// tables by named option.
//
// Options are nested: every column of opt(n) is also a column of opt(n+1).
//
//	opt1: cosine00..cosine03
//	opt2: opt1 + trans_x/y/z, rot_x/y/z
//	opt3: opt2 + the first derivatives of the six motion parameters
//	opt4: opt3 + a_comp_cor_00..07
//	opt5: opt4 + every motion_outlier* column present in the file
package confounds

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/roach88/midrel/internal/stage"
	"github.com/roach88/midrel/internal/tsv"
)

// Option names a nuisance-regressor set.
type Option string

const (
	Opt1 Option = "opt1"
	Opt2 Option = "opt2"
	Opt3 Option = "opt3"
	Opt4 Option = "opt4"
	Opt5 Option = "opt5"
)

// Options lists every option from smallest to largest.
var Options = []Option{Opt1, Opt2, Opt3, Opt4, Opt5}

// MotionOutlierPrefix marks fMRIPrep's one-hot outlier volume columns.
const MotionOutlierPrefix = "motion_outlier"

var (
	cosines = []string{"cosine00", "cosine01", "cosine02", "cosine03"}
	motion  = []string{"trans_x", "trans_y", "trans_z", "rot_x", "rot_y", "rot_z"}
	acomp   = []string{
		"a_comp_cor_00", "a_comp_cor_01", "a_comp_cor_02", "a_comp_cor_03",
		"a_comp_cor_04", "a_comp_cor_05", "a_comp_cor_06", "a_comp_cor_07",
	}
)

func derivatives(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c + "_derivative1"
	}
	return out
}

// ParseOption validates an option name.
func ParseOption(s string) (Option, error) {
	for _, o := range Options {
		if string(o) == s {
			return o, nil
		}
	}
	return "", fmt.Errorf("unknown regressor option %q: must be one of opt1..opt5", s)
}

// Level is the 1-based position of o in Options, or 0 if unknown.
func (o Option) Level() int {
	for i, x := range Options {
		if x == o {
			return i + 1
		}
	}
	return 0
}

// Named returns the fixed column names of o, without motion outliers.
func (o Option) Named() []string {
	var cols []string
	n := o.Level()
	if n >= 1 {
		cols = append(cols, cosines...)
	}
	if n >= 2 {
		cols = append(cols, motion...)
	}
	if n >= 3 {
		cols = append(cols, derivatives(motion)...)
	}
	if n >= 4 {
		cols = append(cols, acomp...)
	}
	return cols
}

// IncludesOutliers reports whether o appends motion outlier columns.
func (o Option) IncludesOutliers() bool {
	return o.Level() >= 5
}

// Columns selects the columns of o that are present in header. Named
// columns keep option order; outlier columns follow in header order.
func Columns(o Option, header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var cols []string
	for _, c := range o.Named() {
		if present[c] {
			cols = append(cols, c)
		}
	}
	if o.IncludesOutliers() {
		for _, h := range header {
			if strings.HasPrefix(h, MotionOutlierPrefix) {
				cols = append(cols, h)
			}
		}
	}
	return cols
}

// Set is a selected block of nuisance regressors, one slice per column.
type Set struct {
	Option Option
	Names  []string
	Values [][]float64
}

// Len returns the number of time frames.
func (s *Set) Len() int {
	if s == nil || len(s.Values) == 0 {
		return 0
	}
	return len(s.Values[0])
}

// Resolve expands a path or glob pattern that must name exactly one file.
func Resolve(pattern string) (string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", stage.Invalid("bad confounds pattern %q: %v", pattern, err)
	}
	switch len(matches) {
	case 0:
		return "", stage.MissingInput(pattern, "confounds file path not found")
	case 1:
		return matches[0], nil
	default:
		return "", stage.Invalid("confounds pattern %q matched %d files, want exactly 1", pattern, len(matches))
	}
}

// Pull reads the confounds table selected by pattern and returns the columns
// of option o. Missing values become zero.
func Pull(pattern string, o Option) (*Set, error) {
	if o.Level() == 0 {
		return nil, stage.Invalid("unknown regressor option %q", o)
	}
	path, err := Resolve(pattern)
	if err != nil {
		return nil, err
	}
	tbl, err := tsv.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Select(tbl, o)
}

// Select extracts option o from an already loaded confounds table.
func Select(tbl *tsv.Table, o Option) (*Set, error) {
	set := &Set{Option: o, Names: Columns(o, tbl.Header)}
	for _, name := range set.Names {
		vals, err := tbl.Floats(name, 0)
		if err != nil {
			return nil, fmt.Errorf("confound %s: %w", name, err)
		}
		set.Values = append(set.Values, vals)
	}
	return set, nil
}
