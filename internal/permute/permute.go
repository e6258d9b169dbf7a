// Package permute enumerates the analytic forking paths of the multiverse.
package permute

import (
	"fmt"
	"strings"

	"github.com/roach88/midrel/internal/artifact"
	"github.com/roach88/midrel/internal/confounds"
	"github.com/roach88/midrel/internal/design"
	"github.com/roach88/midrel/internal/tsv"
)

// Axes lists the values of each analytic choice. Product order is FWHM
// outermost, then Motion, then Model, then Mask.
type Axes struct {
	FWHM   []float64 `json:"fwhm" yaml:"fwhm"`
	Motion []string  `json:"motion" yaml:"motion"`
	Model  []string  `json:"model" yaml:"model"`
	Mask   []string  `json:"mask" yaml:"mask"`
}

// DefaultAxes reproduces the original study grid.
func DefaultAxes() Axes {
	return Axes{
		FWHM:   []float64{4, 5},
		Motion: []string{"opt1", "opt2", "opt3", "opt4", "opt5"},
		Model:  []string{"CueMod", "AntMod", "FixMod"},
		Mask:   []string{"mni152"},
	}
}

// Validate checks every axis value.
func (a Axes) Validate() error {
	if len(a.FWHM) == 0 || len(a.Motion) == 0 || len(a.Model) == 0 || len(a.Mask) == 0 {
		return fmt.Errorf("every permutation axis needs at least one value")
	}
	for _, m := range a.Motion {
		if _, err := confounds.ParseOption(m); err != nil {
			return err
		}
	}
	for _, m := range a.Model {
		if _, err := design.ParseModel(m); err != nil {
			return err
		}
	}
	seen := make(map[string]bool)
	for _, p := range a.Enumerate() {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Tag()] {
			return fmt.Errorf("duplicate permutation %s", p.Tag())
		}
		seen[p.Tag()] = true
	}
	return nil
}

// Size is the number of permutations.
func (a Axes) Size() int {
	return len(a.FWHM) * len(a.Motion) * len(a.Model) * len(a.Mask)
}

// Enumerate returns the Cartesian product of the axes in product order.
func (a Axes) Enumerate() []artifact.Permutation {
	out := make([]artifact.Permutation, 0, a.Size())
	for _, f := range a.FWHM {
		for _, mot := range a.Motion {
			for _, mod := range a.Model {
				for _, mask := range a.Mask {
					out = append(out, artifact.Permutation{FWHM: f, Motion: mot, Model: mod, Mask: mask})
				}
			}
		}
	}
	return out
}

// Wildcard in the option column excludes a subject from every option.
const Wildcard = "*"

// Exclusions maps subjects to the regressor options they are excluded from.
type Exclusions map[string]map[string]bool

// LoadExclusions reads a TSV with "subject" and "option" columns.
func LoadExclusions(path string) (Exclusions, error) {
	tbl, err := tsv.ReadFile(path)
	if err != nil {
		return nil, err
	}
	subs, err := tbl.Strings("subject")
	if err != nil {
		return nil, fmt.Errorf("exclusions %s: %w", path, err)
	}
	opts, err := tbl.Strings("option")
	if err != nil {
		return nil, fmt.Errorf("exclusions %s: %w", path, err)
	}
	ex := make(Exclusions)
	for i, s := range subs {
		ex.Add(s, opts[i])
	}
	return ex, nil
}

// Add excludes subject from option. The "sub-" prefix is optional.
func (e Exclusions) Add(subject, option string) {
	subject = artifact.TrimPrefix(subject, "sub")
	if e[subject] == nil {
		e[subject] = make(map[string]bool)
	}
	e[subject][strings.TrimSpace(option)] = true
}

// Excluded reports whether subject is excluded from option.
func (e Exclusions) Excluded(subject, option string) bool {
	opts := e[artifact.TrimPrefix(subject, "sub")]
	return opts[option] || opts[Wildcard]
}

// Filter drops the permutations subject is excluded from, keeping order.
func (e Exclusions) Filter(subject string, perms []artifact.Permutation) []artifact.Permutation {
	out := make([]artifact.Permutation, 0, len(perms))
	for _, p := range perms {
		if !e.Excluded(subject, p.Motion) {
			out = append(out, p)
		}
	}
	return out
}
