package qc

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/roach88/midrel/internal/stage"
	"github.com/roach88/midrel/internal/tsv"
)

// FramewiseDisplacement is the fMRIPrep confound column summarized per run.
const FramewiseDisplacement = "framewise_displacement"

// SessionSummary is one row of the motion and behaviour table.
type SessionSummary struct {
	Subject  string
	Session  string
	MeanFD   []float64
	Accuracy []float64
	MeanRT   []float64
}

// SummaryInputs locates the files of one subject and session. Runs are
// listed in order; the behaviour file keys them "Run 1", "Run 2", ...
type SummaryInputs struct {
	Dir     string
	Subject string
	Session string
	Task    string
	Runs    []string
}

func (in SummaryInputs) stem() string {
	return fmt.Sprintf("sub-%s_ses-%s_task-%s", in.Subject, in.Session, in.Task)
}

// ConfoundsPath is the confounds table of run.
func (in SummaryInputs) ConfoundsPath(run string) string {
	return filepath.Join(in.Dir, fmt.Sprintf("%s_run-%s_desc-confounds_timeseries.tsv", in.stem(), run))
}

// BehaviourPath is the behavioural descriptives file.
func (in SummaryInputs) BehaviourPath() string {
	return filepath.Join(in.Dir, in.stem()+"_beh-descr.json")
}

// TablePath is the summary table the session is appended to.
func (in SummaryInputs) TablePath() string {
	return filepath.Join(in.Dir, fmt.Sprintf("task-%s_summ-mot-acc-rt.csv", in.Task))
}

type runBehaviour struct {
	Accuracy float64 `json:"Overall Accuracy"`
	MeanRT   float64 `json:"Mean RT"`
}

// Summarize computes mean framewise displacement and behaviour per run.
func Summarize(in SummaryInputs) (*SessionSummary, error) {
	if len(in.Runs) == 0 {
		return nil, stage.Invalid("no runs to summarize")
	}
	s := &SessionSummary{Subject: in.Subject, Session: in.Session}
	for _, run := range in.Runs {
		tbl, err := tsv.ReadFile(in.ConfoundsPath(run))
		if err != nil {
			return nil, err
		}
		fd, err := tbl.Floats(FramewiseDisplacement, math.NaN())
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", run, err)
		}
		s.MeanFD = append(s.MeanFD, nanMean(fd))
	}

	data, err := os.ReadFile(in.BehaviourPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, stage.MissingInput(in.BehaviourPath(), "behaviour descriptives not found")
	}
	if err != nil {
		return nil, fmt.Errorf("read behaviour: %w", err)
	}
	var beh map[string]runBehaviour
	if err := json.Unmarshal(data, &beh); err != nil {
		return nil, stage.Invalid("behaviour %s: %v", in.BehaviourPath(), err)
	}
	for i := range in.Runs {
		label := fmt.Sprintf("Run %d", i+1)
		rb, ok := beh[label]
		if !ok {
			return nil, stage.MissingInput(in.BehaviourPath(), "no %q entry", label)
		}
		s.Accuracy = append(s.Accuracy, rb.Accuracy)
		s.MeanRT = append(s.MeanRT, rb.MeanRT)
	}
	return s, nil
}

// nanMean averages the values that are not NaN.
func nanMean(xs []float64) float64 {
	var sum float64
	var n int
	for _, x := range xs {
		if !math.IsNaN(x) {
			sum += x
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Header returns the table columns for nRuns runs.
func Header(nRuns int) []string {
	h := []string{"Subject", "Session"}
	for _, prefix := range []string{"mFD", "acc", "mrt"} {
		for i := 1; i <= nRuns; i++ {
			h = append(h, fmt.Sprintf("%s_run%d", prefix, i))
		}
	}
	return h
}

// Record renders s as a table row.
func (s *SessionSummary) Record() []string {
	row := []string{s.Subject, s.Session}
	for _, vals := range [][]float64{s.MeanFD, s.Accuracy, s.MeanRT} {
		for _, v := range vals {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
	}
	return row
}

// AppendSummary adds s to the CSV table at path, replacing an earlier row
// of the same subject and session.
func AppendSummary(path string, s *SessionSummary) error {
	header := Header(len(s.MeanFD))
	var rows [][]string

	f, err := os.Open(path)
	switch {
	case err == nil:
		records, rerr := csv.NewReader(f).ReadAll()
		f.Close()
		if rerr != nil {
			return fmt.Errorf("read %s: %w", path, rerr)
		}
		if len(records) > 0 {
			if len(records[0]) != len(header) {
				return stage.Invalid("%s has %d columns, expected %d", path, len(records[0]), len(header))
			}
			for _, r := range records[1:] {
				if r[0] == s.Subject && r[1] == s.Session {
					continue
				}
				rows = append(rows, r)
			}
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("open %s: %w", path, err)
	}
	rows = append(rows, s.Record())

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(out)
	if err := w.Write(header); err != nil {
		out.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return out.Close()
}
