package artifact

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ParseError describes a file name that is not a canonical artifact name.
type ParseError struct {
	Name   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse artifact %q: %s", e.Name, e.Reason)
}

// Parse recovers the Key encoded in a file name or path.
func Parse(name string) (Key, error) {
	base := filepath.Base(name)
	stem, ok := strings.CutSuffix(base, Extension)
	if !ok {
		stem, ok = strings.CutSuffix(base, ".nii")
		if !ok {
			return Key{}, &ParseError{Name: base, Reason: "missing .nii or .nii.gz extension"}
		}
	}

	entities := make(map[string]string)
	for _, part := range strings.Split(stem, "_") {
		name, value, found := strings.Cut(part, "-")
		if !found || name == "" || value == "" {
			return Key{}, &ParseError{Name: base, Reason: fmt.Sprintf("malformed entity %q", part)}
		}
		if _, dup := entities[name]; dup {
			return Key{}, &ParseError{Name: base, Reason: fmt.Sprintf("duplicate entity %q", name)}
		}
		entities[name] = value
	}

	k := Key{
		Session:  entities["ses"],
		Task:     entities["task"],
		Run:      entities["run"],
		Type:     entities["type"],
		ROI:      entities["roi"],
		Contrast: entities["contrast"],
		Stat:     Stat(entities["stat"]),
		Permutation: Permutation{
			Mask:   entities["mask"],
			Motion: entities["mot"],
			Model:  entities["mod"],
		},
	}

	fwhm, err := strconv.ParseFloat(entities["fwhm"], 64)
	if err != nil {
		return Key{}, &ParseError{Name: base, Reason: "invalid fwhm"}
	}
	k.Permutation.FWHM = fwhm

	if s, ok := entities["seed"]; ok {
		seed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Key{}, &ParseError{Name: base, Reason: "invalid seed"}
		}
		k.Seed = &seed
	}

	switch {
	case entities["sub"] != "":
		k.Subject = entities["sub"]
		if entities["effect"] == "fixed" {
			k.Level = LevelFixed
		} else {
			k.Level = LevelRun
		}
	case entities["subs"] != "":
		n, err := strconv.Atoi(entities["subs"])
		if err != nil {
			return Key{}, &ParseError{Name: base, Reason: "invalid subs"}
		}
		k.Subs = n
		if k.Type != "" {
			k.Level = LevelICC
		} else {
			k.Level = LevelGroup
		}
	default:
		return Key{}, &ParseError{Name: base, Reason: "missing sub or subs entity"}
	}

	if err := k.Validate(); err != nil {
		return Key{}, &ParseError{Name: base, Reason: err.Error()}
	}
	// Only canonical spellings are accepted.
	if k.base() != stem {
		return Key{}, &ParseError{Name: base, Reason: "entities not in canonical form"}
	}
	return k, nil
}

var looseSubs = regexp.MustCompile(`(?:^|[_.-])subs-(\d+)(?:[_.]|$)`)

// SampleSize returns the subs entity of a group or icc file name, or 0.
// Names that do not parse, such as maps written before the roi entity or
// by hand, are scanned for a subs-<n> token instead.
func SampleSize(name string) int {
	k, err := Parse(name)
	if err == nil {
		return k.Subs
	}
	m := looseSubs.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
