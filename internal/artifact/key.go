package artifact

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Extension is appended to every map file name.
const Extension = ".nii.gz"

// Level is the aggregation level of a map.
type Level string

const (
	LevelRun   Level = "run"
	LevelFixed Level = "fixed"
	LevelGroup Level = "group"
	LevelICC   Level = "icc"
)

// Stat is the statistic kind stored in a map.
type Stat string

const (
	StatBeta     Stat = "beta"
	StatVar      Stat = "var"
	StatTStat    Stat = "tstat"
	StatEffect   Stat = "effect"
	StatResidVar Stat = "residvar"
	StatCohensD  Stat = "cohensd"
	StatZStat    Stat = "zstat"
	StatResid    Stat = "resid"
	StatEst      Stat = "est"
	StatMSBtwn   Stat = "msbtwn"
	StatMSWthn   Stat = "mswthn"
	StatLower    Stat = "lower"
	StatUpper    Stat = "upper"
)

var knownStats = map[Stat]bool{
	StatBeta: true, StatVar: true, StatTStat: true, StatEffect: true,
	StatResidVar: true, StatCohensD: true, StatZStat: true, StatResid: true,
	StatEst: true, StatMSBtwn: true, StatMSWthn: true, StatLower: true, StatUpper: true,
}

// Permutation identifies one analytic forking path.
type Permutation struct {
	FWHM   float64 `json:"fwhm" yaml:"fwhm"`
	Motion string  `json:"motion" yaml:"motion"`
	Model  string  `json:"model" yaml:"model"`
	Mask   string  `json:"mask" yaml:"mask"`
}

// Tag renders the permutation entities in file-name order.
func (p Permutation) Tag() string {
	return fmt.Sprintf("mask-%s_mot-%s_mod-%s_fwhm-%s", p.Mask, p.Motion, p.Model, FormatFWHM(p.FWHM))
}

func (p Permutation) String() string {
	return p.Tag()
}

// Validate checks that every label is non-empty and separator-free.
func (p Permutation) Validate() error {
	if p.FWHM < 0 {
		return fmt.Errorf("permutation: negative fwhm %v", p.FWHM)
	}
	for name, v := range map[string]string{"mask": p.Mask, "mot": p.Motion, "mod": p.Model} {
		if err := checkLabel(name, v); err != nil {
			return fmt.Errorf("permutation: %w", err)
		}
	}
	return nil
}

// FormatFWHM renders a kernel width with the shortest exact decimal form.
func FormatFWHM(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Key is the complete identity of one estimate map.
type Key struct {
	Level Level `json:"level"`

	// Subject is set for run and fixed levels, without the "sub-" prefix.
	Subject string `json:"subject,omitempty"`
	// Subs is the sample size for group and icc levels.
	Subs int `json:"subs,omitempty"`
	// Seed is set for subsampled icc maps only.
	Seed *int64 `json:"seed,omitempty"`

	Session string `json:"session,omitempty"`
	Task    string `json:"task"`
	Run     string `json:"run,omitempty"`
	// Type is the reliability axis of icc maps: "run" or "session".
	Type string `json:"type,omitempty"`
	// ROI labels the mask a group or icc map was computed within. It is
	// distinct from the permutation mask, which the subject maps were fit in.
	ROI string `json:"roi,omitempty"`

	Contrast    string      `json:"contrast"`
	Permutation Permutation `json:"permutation"`
	Stat        Stat        `json:"stat"`
}

// Validate reports the first structural problem with k.
func (k Key) Validate() error {
	switch k.Level {
	case LevelRun:
		if err := checkLabel("sub", k.Subject); err != nil {
			return err
		}
		if err := checkLabel("run", k.Run); err != nil {
			return err
		}
	case LevelFixed:
		if err := checkLabel("sub", k.Subject); err != nil {
			return err
		}
	case LevelGroup:
		if k.Subs <= 0 {
			return fmt.Errorf("group key requires subs > 0")
		}
	case LevelICC:
		if k.Subs <= 0 {
			return fmt.Errorf("icc key requires subs > 0")
		}
		if k.Type != "run" && k.Type != "session" {
			return fmt.Errorf("icc key type must be run or session, got %q", k.Type)
		}
	default:
		return fmt.Errorf("unknown level %q", k.Level)
	}
	if k.Level != LevelRun && k.Run != "" {
		return fmt.Errorf("%s key cannot carry a run", k.Level)
	}
	if k.Level != LevelICC && (k.Type != "" || k.Seed != nil) {
		return fmt.Errorf("%s key cannot carry type or seed", k.Level)
	}
	if k.ROI != "" {
		if k.Level == LevelRun || k.Level == LevelFixed {
			return fmt.Errorf("%s key cannot carry an roi", k.Level)
		}
		if err := checkLabel("roi", k.ROI); err != nil {
			return err
		}
	}
	if k.Session != "" {
		if err := checkLabel("ses", k.Session); err != nil {
			return err
		}
	} else if k.Level == LevelRun || k.Level == LevelFixed {
		return fmt.Errorf("%s key requires a session", k.Level)
	}
	if err := checkLabel("task", k.Task); err != nil {
		return err
	}
	if err := checkLabel("contrast", k.Contrast); err != nil {
		return err
	}
	if err := k.Permutation.Validate(); err != nil {
		return err
	}
	if !knownStats[k.Stat] {
		return fmt.Errorf("unknown stat %q", k.Stat)
	}
	return nil
}

// Filename renders k as its canonical file name. It panics on an invalid key;
// stages validate their labels with Validate or CheckLabel before naming
// anything.
func (k Key) Filename() string {
	if err := k.Validate(); err != nil {
		panic(fmt.Sprintf("artifact: invalid key: %v", err))
	}
	return k.base() + Extension
}

// Path joins dir and the canonical file name.
func (k Key) Path(dir string) string {
	return filepath.Join(dir, k.Filename())
}

func (k Key) base() string {
	parts := make([]string, 0, 12)
	if k.Seed != nil {
		parts = append(parts, "seed-"+strconv.FormatInt(*k.Seed, 10))
	}
	switch k.Level {
	case LevelRun, LevelFixed:
		parts = append(parts, "sub-"+k.Subject)
	default:
		parts = append(parts, "subs-"+strconv.Itoa(k.Subs))
	}
	if k.Session != "" {
		parts = append(parts, "ses-"+k.Session)
	}
	parts = append(parts, "task-"+k.Task)
	switch k.Level {
	case LevelRun:
		parts = append(parts, "run-"+k.Run)
	case LevelFixed:
		parts = append(parts, "effect-fixed")
	case LevelICC:
		parts = append(parts, "type-"+k.Type)
	}
	if k.ROI != "" {
		parts = append(parts, "roi-"+k.ROI)
	}
	parts = append(parts, "contrast-"+k.Contrast, k.Permutation.Tag(), "stat-"+string(k.Stat))
	return strings.Join(parts, "_")
}

// WithStat returns a copy of k with a different statistic.
func (k Key) WithStat(s Stat) Key {
	k.Stat = s
	return k
}

// WithoutRun returns a copy of k with the run entity cleared. Two run-level
// keys describe the same measurement on different runs when their
// WithoutRun values are equal.
func (k Key) WithoutRun() Key {
	k.Run = ""
	return k
}

// WithoutSession is the session counterpart of WithoutRun.
func (k Key) WithoutSession() Key {
	k.Session = ""
	return k
}

// Equal compares keys by value, including the optional seed.
func (k Key) Equal(o Key) bool {
	if (k.Seed == nil) != (o.Seed == nil) {
		return false
	}
	if k.Seed != nil && *k.Seed != *o.Seed {
		return false
	}
	a, b := k, o
	a.Seed, b.Seed = nil, nil
	return a == b
}

// TrimPrefix removes a BIDS entity prefix such as "sub-" if present.
func TrimPrefix(label, entity string) string {
	return strings.TrimPrefix(label, entity+"-")
}

// CheckLabel reports whether v can be used as the value of entity name in a
// file name.
func CheckLabel(name, v string) error {
	return checkLabel(name, v)
}

func checkLabel(name, v string) error {
	if v == "" {
		return fmt.Errorf("%s label is empty", name)
	}
	if strings.ContainsAny(v, "_/\\ ") {
		return fmt.Errorf("%s label %q contains a reserved character", name, v)
	}
	return nil
}
