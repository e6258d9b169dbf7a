package design

import (
	"fmt"

	"github.com/roach88/midrel/internal/events"
	"github.com/roach88/midrel/internal/stage"
)

// Model selects the onset/duration pair that represents the anticipation
// phase of each trial.
type Model string

const (
	CueMod Model = "CueMod"
	AntMod Model = "AntMod"
	FixMod Model = "FixMod"
)

var modelColumns = map[Model][2]string{
	AntMod: {events.CueOnset, events.AnticipationDuration},
	FixMod: {events.FixationOnset, events.FixationDuration},
	CueMod: {events.CueOnset, events.CueDuration},
}

// ParseModel validates an event-model name.
func ParseModel(s string) (Model, error) {
	if _, ok := modelColumns[Model(s)]; !ok {
		return "", fmt.Errorf("unknown model type %q: must be CueMod, AntMod or FixMod", s)
	}
	return Model(s), nil
}

// Columns returns the onset and duration columns of m.
func (m Model) Columns() (onset, duration string) {
	c := modelColumns[m]
	return c[0], c[1]
}

// Condition is one event of the design: a label, onset and duration in seconds.
type Condition struct {
	Label    string
	Onset    float64
	Duration float64
}

// Conditions concatenates the anticipation events (labelled by trial type)
// and the feedback events (labelled by trial result) of a table.
func Conditions(ev *events.Table, m Model) ([]Condition, error) {
	if _, ok := modelColumns[m]; !ok {
		return nil, stage.Invalid("unknown model type %q", m)
	}
	onCol, durCol := m.Columns()
	required := []string{onCol, durCol, events.TrialType, events.TrialResult, events.FeedbackOnset, events.FeedbackDuration}
	for _, col := range required {
		if !ev.Has(col) {
			return nil, stage.MissingInput("", "event column %q required by %s", col, m)
		}
	}

	antLabels, err := ev.Labels(events.TrialType)
	if err != nil {
		return nil, err
	}
	antOnsets, err := ev.Numbers(onCol)
	if err != nil {
		return nil, err
	}
	antDurations, err := ev.Numbers(durCol)
	if err != nil {
		return nil, err
	}
	fbLabels, err := ev.Labels(events.TrialResult)
	if err != nil {
		return nil, err
	}
	fbOnsets, err := ev.Numbers(events.FeedbackOnset)
	if err != nil {
		return nil, err
	}
	fbDurations, err := ev.Numbers(events.FeedbackDuration)
	if err != nil {
		return nil, err
	}

	conds := make([]Condition, 0, 2*ev.Len())
	for i := range antLabels {
		conds = append(conds, Condition{Label: antLabels[i], Onset: antOnsets[i], Duration: antDurations[i]})
	}
	for i := range fbLabels {
		conds = append(conds, Condition{Label: fbLabels[i], Onset: fbOnsets[i], Duration: fbDurations[i]})
	}
	return conds, nil
}
