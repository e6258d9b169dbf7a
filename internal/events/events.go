// Package events loads MID task behavioural event tables and normalizes the
// naming conventions of the supported cohorts onto one canonical schema.
package events

import (
	"fmt"
	"math"
	"strings"

	"github.com/roach88/midrel/internal/stage"
	"github.com/roach88/midrel/internal/tsv"
)

// Canonical column names.
const (
	CueOnset             = "CUE_ONSET"
	CueDuration          = "CUE_DURATION"
	FixationOnset        = "FIXATION_ONSET"
	FixationDuration     = "FIXATION_DURATION"
	FeedbackOnset        = "FEEDBACK_ONSET"
	FeedbackDuration     = "FEEDBACK_DURATION"
	TrialType            = "TRIAL_TYPE"
	TrialResult          = "TRIAL_RESULT"
	AnticipationDuration = "ANTICIPATION_DURATION"
)

// Cohort selects a column naming convention.
type Cohort string

const (
	CohortAHRB Cohort = "ahrb"
	CohortABCD Cohort = "abcd"
	CohortMLS  Cohort = "mls"
)

// ParseCohort accepts cohort names case-insensitively.
func ParseCohort(s string) (Cohort, error) {
	switch c := Cohort(strings.ToLower(s)); c {
	case CohortAHRB, CohortABCD, CohortMLS:
		return c, nil
	}
	return "", fmt.Errorf("unknown sample %q: must be one of ahrb, abcd, mls", s)
}

var cohortColumns = map[Cohort]map[string]string{
	CohortABCD: {
		"Cue.OnsetTime":          CueOnset,
		"Cue.Duration":           CueDuration,
		"Anticipation.OnsetTime": FixationOnset,
		"Anticipation.Duration":  FixationDuration,
		"Feedback.OnsetTime":     FeedbackOnset,
		"FeedbackDuration":       FeedbackDuration,
		"Condition":              TrialType,
		"Result":                 TrialResult,
	},
	CohortMLS: {
		"Cue.OnsetTime":      CueOnset,
		"Cue.Duration":       CueDuration,
		"Fix.OnsetTime":      FixationOnset,
		"Fix.Duration":       FixationDuration,
		"Feedback.OnsetTime": FeedbackOnset,
		"Feedback.Duration":  FeedbackDuration,
		"Condition":          TrialType,
		"Result":             TrialResult,
	},
}

// cueSynonyms maps cohort-specific cue labels onto canonical trial types.
var cueSynonyms = map[string]string{
	"LgReward":    "LargeGain",
	"LgPun":       "LargeLoss",
	"Triangle":    "NoMoneyStake",
	"SmallReward": "SmallGain",
	"SmallPun":    "SmallLoss",
}

// RenameColumns returns the column rename map of a cohort, nil for ahrb.
func RenameColumns(c Cohort) map[string]string {
	return cohortColumns[c]
}

// CanonicalTrialType maps a cue label through the synonym table.
func CanonicalTrialType(label string) string {
	if to, ok := cueSynonyms[label]; ok {
		return to
	}
	return label
}

// Table is a normalized event table.
type Table struct {
	raw *tsv.Table
}

// Load reads and normalizes the event table at path.
func Load(path string, cohort Cohort) (*Table, error) {
	raw, err := tsv.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Normalize(raw, cohort)
	if err != nil {
		return nil, fmt.Errorf("events %s: %w", path, err)
	}
	return t, nil
}

// Normalize applies the cohort renames and trial-type synonyms, then
// derives the anticipation duration when both components are present.
func Normalize(raw *tsv.Table, cohort Cohort) (*Table, error) {
	if names := cohortColumns[cohort]; names != nil {
		raw.Rename(names)
		types, err := raw.Strings(TrialType)
		if err != nil {
			return nil, err
		}
		for i, v := range types {
			types[i] = CanonicalTrialType(v)
		}
		if err := raw.SetStrings(TrialType, types); err != nil {
			return nil, err
		}
	}

	if raw.Has(CueDuration) && raw.Has(FixationDuration) {
		cue, err := raw.Floats(CueDuration, math.NaN())
		if err != nil {
			return nil, err
		}
		fix, err := raw.Floats(FixationDuration, math.NaN())
		if err != nil {
			return nil, err
		}
		ant := make([]string, len(cue))
		for i := range cue {
			ant[i] = tsv.FormatFloat(cue[i] + fix[i])
		}
		if err := raw.SetStrings(AnticipationDuration, ant); err != nil {
			return nil, err
		}
	}
	return &Table{raw: raw}, nil
}

// Len returns the number of trials.
func (t *Table) Len() int {
	return t.raw.Len()
}

// Has reports whether a canonical column is present.
func (t *Table) Has(col string) bool {
	return t.raw.Has(col)
}

// Numbers returns a numeric column. Missing cells are an error because every
// timing value feeds the design matrix.
func (t *Table) Numbers(col string) ([]float64, error) {
	vals, err := t.raw.Floats(col, math.NaN())
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if math.IsNaN(v) {
			return nil, stage.Invalid("column %q row %d has no value", col, i+2)
		}
	}
	return vals, nil
}

// Labels returns a string column.
func (t *Table) Labels(col string) ([]string, error) {
	return t.raw.Strings(col)
}
