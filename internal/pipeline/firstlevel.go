package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/midrel/internal/artifact"
	"github.com/roach88/midrel/internal/confounds"
	"github.com/roach88/midrel/internal/ctxlog"
	"github.com/roach88/midrel/internal/design"
	"github.com/roach88/midrel/internal/events"
	"github.com/roach88/midrel/internal/glm"
	"github.com/roach88/midrel/internal/permute"
	"github.com/roach88/midrel/internal/stage"
	"github.com/roach88/midrel/internal/store"
	"github.com/roach88/midrel/internal/tsv"
	"github.com/roach88/midrel/internal/volume"
)

// FirstLevelConfig configures the first-level stage for one subject and
// session.
type FirstLevelConfig struct {
	Sample  events.Cohort `json:"sample"`
	Subject string        `json:"subject"`
	Session string        `json:"session"`
	Task    string        `json:"task"`
	Runs    []string      `json:"runs"`

	TR                 float64    `json:"tr"`
	Volumes            int        `json:"volumes"`
	HRF                design.HRF `json:"hrf"`
	SliceTimeCorrected bool       `json:"slice_time_corrected"`

	// NoiseModel is ar1 (the default when empty) or ols.
	NoiseModel NoiseModel `json:"noise_model,omitempty"`

	Axes permute.Axes `json:"axes"`
	// Masks maps mask labels to images. Labels without an image fit every
	// voxel with signal.
	Masks     map[string]string `json:"masks"`
	Contrasts []design.Contrast `json:"contrasts"`

	EventsDir      string `json:"events_dir"`
	DerivativesDir string `json:"derivatives_dir"`
	OutDir         string `json:"out_dir"`

	// Efficiency writes the efficiency table and residvar maps.
	Efficiency bool `json:"efficiency"`
	// SaveDesign writes each design matrix as TSV next to the maps.
	SaveDesign bool               `json:"save_design"`
	Exclusions permute.Exclusions `json:"-"`
	KeepGoing  bool               `json:"keep_going"`
}

// NoiseModel selects the first-level error model.
type NoiseModel string

const (
	// NoiseAR1 refits on data prewhitened by each voxel's lag-1
	// autocorrelation.
	NoiseAR1 NoiseModel = "ar1"
	// NoiseOLS keeps the ordinary least squares fit.
	NoiseOLS NoiseModel = "ols"
)

// ParseNoiseModel validates a noise model name. Empty means ar1.
func ParseNoiseModel(s string) (NoiseModel, error) {
	switch m := NoiseModel(s); m {
	case "", NoiseAR1:
		return NoiseAR1, nil
	case NoiseOLS:
		return m, nil
	}
	return "", stage.Invalid("noise model must be ar1 or ols, got %q", s)
}

// RunInputs locates the inputs of one run.
type RunInputs struct {
	Events    string
	Confounds string
	// BOLD is a glob pattern over the output space.
	BOLD string
}

func funcDir(root, sub, ses string) string {
	return filepath.Join(root, "sub-"+sub, "ses-"+ses, "func")
}

// Inputs returns the BIDS/fMRIPrep locations of run's inputs.
func (c FirstLevelConfig) Inputs(run string) RunInputs {
	stem := fmt.Sprintf("sub-%s_ses-%s_task-%s_run-%s", c.Subject, c.Session, c.Task, run)
	deriv := funcDir(c.DerivativesDir, c.Subject, c.Session)
	return RunInputs{
		Events:    filepath.Join(funcDir(c.EventsDir, c.Subject, c.Session), stem+"_events.tsv"),
		Confounds: filepath.Join(deriv, stem+"_desc-confounds_timeseries.tsv"),
		BOLD:      filepath.Join(deriv, stem+"_space-*_desc-preproc_bold.nii*"),
	}
}

// EfficiencyPath is where the efficiency table of run is written.
func (c FirstLevelConfig) EfficiencyPath(run string) string {
	return filepath.Join(c.OutDir, fmt.Sprintf("sub-%s_ses-%s_task-%s_run-%s_efficiency.tsv", c.Subject, c.Session, c.Task, run))
}

// DesignPath is where the design matrix of run under perm is written. The
// matrix does not depend on smoothing or mask, so those entities are left out.
func (c FirstLevelConfig) DesignPath(run string, perm artifact.Permutation) string {
	return filepath.Join(c.OutDir, fmt.Sprintf("sub-%s_ses-%s_task-%s_run-%s_mot-%s_mod-%s_design.tsv",
		c.Subject, c.Session, c.Task, run, perm.Motion, perm.Model))
}

// FirstLevelDir is the conventional output directory of one subject's
// first-level maps under root.
func FirstLevelDir(root, sub, ses string) string {
	return filepath.Join(root, "firstlevel", "ses-"+ses, "sub-"+sub)
}

func (c FirstLevelConfig) validate() error {
	if c.Subject == "" || c.Session == "" || c.Task == "" {
		return stage.Invalid("subject, session and task are required")
	}
	if len(c.Runs) == 0 {
		return stage.Invalid("no runs to fit")
	}
	if len(c.Contrasts) == 0 {
		return stage.Invalid("no contrasts to estimate")
	}
	if err := checkLabels(map[string][]string{
		"sub": {c.Subject}, "ses": {c.Session}, "task": {c.Task}, "run": c.Runs,
	}); err != nil {
		return err
	}
	for _, con := range c.Contrasts {
		if err := checkLabels(map[string][]string{"contrast": {con.Name}}); err != nil {
			return err
		}
	}
	if _, err := ParseNoiseModel(string(c.NoiseModel)); err != nil {
		return err
	}
	if err := c.Axes.Validate(); err != nil {
		return stage.Invalid("%v", err)
	}
	return nil
}

// resolveOne expands a glob that must name exactly one file.
func resolveOne(pattern, what string) (string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", stage.Invalid("bad %s pattern %q: %v", what, pattern, err)
	}
	switch len(matches) {
	case 0:
		return "", stage.MissingInput(pattern, "%s not found", what)
	case 1:
		return matches[0], nil
	}
	return "", stage.Invalid("%s pattern %q matched %d files, want exactly 1", what, pattern, len(matches))
}

// FirstLevel fits every permutation to every run of one subject and session,
// writing beta and var maps per contrast.
func FirstLevel(ctx context.Context, env Env, cfg FirstLevelConfig) (*Report, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ctx = ctxlog.With(ctx, "subject", cfg.Subject, "session", cfg.Session)
	ctx, rs, err := env.begin(ctx, "firstlevel", cfg)
	if err != nil {
		return nil, err
	}
	fails := &failures{keepGoing: cfg.KeepGoing, report: rs.report}

	perms := cfg.Exclusions.Filter(cfg.Subject, cfg.Axes.Enumerate())
	if skipped := cfg.Axes.Size() - len(perms); skipped > 0 {
		ctxlog.FromContext(ctx).Info("excluded permutations", "count", skipped)
	}

	for _, run := range cfg.Runs {
		if err := ctx.Err(); err != nil {
			return rs.finish(ctx, err)
		}
		runCtx := ctxlog.With(ctx, "run", run)
		ctxlog.FromContext(runCtx).Info("loading run inputs")
		data, err := loadRun(cfg, run)
		if err != nil {
			if err := fails.add(ctxlog.FromContext(runCtx), fmt.Errorf("run %s: %w", run, err)); err != nil {
				return rs.finish(ctx, err)
			}
			continue
		}
		if err := fitRun(runCtx, rs, cfg, run, data, perms, fails); err != nil {
			return rs.finish(ctx, err)
		}
	}
	return rs.finish(ctx, fails.err())
}

// runData holds the inputs of one run shared across permutations.
type runData struct {
	events    *events.Table
	confounds *tsv.Table
	bold      *volume.Volume

	smoothedFWHM float64
	smoothed     *volume.Volume
	masks        map[string]*volume.Mask
}

func loadRun(cfg FirstLevelConfig, run string) (*runData, error) {
	in := cfg.Inputs(run)
	ev, err := events.Load(in.Events, cfg.Sample)
	if err != nil {
		return nil, err
	}
	confPath, err := resolveOne(in.Confounds, "confounds file")
	if err != nil {
		return nil, err
	}
	conf, err := tsv.ReadFile(confPath)
	if err != nil {
		return nil, err
	}
	boldPath, err := resolveOne(in.BOLD, "bold image")
	if err != nil {
		return nil, err
	}
	bold, err := volume.Read(boldPath)
	if err != nil {
		return nil, err
	}
	if bold.Frames() != cfg.Volumes {
		return nil, stage.Invalid("bold %s has %d volumes, expected %d", boldPath, bold.Frames(), cfg.Volumes)
	}
	return &runData{events: ev, confounds: conf, bold: bold, smoothedFWHM: -1, masks: make(map[string]*volume.Mask)}, nil
}

// data returns the BOLD series smoothed to fwhm, keeping one kernel width
// cached since permutations are ordered by FWHM first.
func (d *runData) data(fwhm float64) *volume.Volume {
	if fwhm == 0 {
		return d.bold
	}
	if d.smoothedFWHM != fwhm {
		d.smoothed = volume.Smooth(d.bold, fwhm)
		d.smoothedFWHM = fwhm
	}
	return d.smoothed
}

func (d *runData) mask(label, path string) (*volume.Mask, error) {
	if m, ok := d.masks[label]; ok {
		return m, nil
	}
	var m *volume.Mask
	if path == "" {
		m = volume.Nonzero(d.bold)
		if m.Len() == 0 {
			return nil, stage.Invalid("bold series has no voxel with signal")
		}
	} else {
		var err error
		if m, err = volume.LoadMask(path, d.bold); err != nil {
			return nil, err
		}
	}
	d.masks[label] = m
	return m, nil
}

// fitRun fits every permutation of one loaded run. Permutation failures go
// through fails; a returned error stops the stage.
func fitRun(ctx context.Context, rs *runScope, cfg FirstLevelConfig, run string, data *runData, perms []artifact.Permutation, fails *failures) error {
	header := []string{"model", "run"}
	for _, c := range cfg.Contrasts {
		header = append(header, c.Name)
	}
	var effRows [][]string
	var ledgerRows []store.Efficiency

	for i, perm := range perms {
		if err := ctx.Err(); err != nil {
			return err
		}
		permCtx := ctxlog.With(ctx, "perm", perm.Tag())
		ctxlog.FromContext(permCtx).Info("fitting permutation", "n", i+1, "of", len(perms))

		eff, err := fitPermutation(permCtx, rs, cfg, run, perm, data)
		if err != nil {
			err = fmt.Errorf("run %s %s: %w", run, perm.Tag(), err)
		}
		if err := fails.add(ctxlog.FromContext(permCtx), err); err != nil {
			return err
		}
		if eff == nil {
			continue
		}
		row := []string{perm.Tag(), run}
		for j, c := range cfg.Contrasts {
			row = append(row, tsv.FormatFloat(eff[j]))
			ledgerRows = append(ledgerRows, store.Efficiency{
				Subject: cfg.Subject, Session: cfg.Session, Task: cfg.Task, Run: run,
				Contrast: c.Name, Permutation: perm, Value: eff[j],
			})
		}
		effRows = append(effRows, row)
	}

	if !cfg.Efficiency || len(effRows) == 0 {
		return nil
	}
	if err := writeEfficiency(cfg.EfficiencyPath(run), header, effRows); err != nil {
		return err
	}
	if rs.env.Ledger != nil {
		return rs.env.Ledger.RecordEfficiency(ctx, rs.id, ledgerRows)
	}
	return nil
}

func writeEfficiency(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create efficiency table: %w", err)
	}
	if err := tsv.Write(f, header, rows); err != nil {
		f.Close()
		return fmt.Errorf("write efficiency table: %w", err)
	}
	return f.Close()
}

func writeDesign(path string, dm *design.Matrix) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create design table: %w", err)
	}
	if err := dm.WriteTSV(f); err != nil {
		f.Close()
		return fmt.Errorf("write design table: %w", err)
	}
	return f.Close()
}

// fitPermutation fits one permutation of one run and writes its maps. It
// returns the design efficiency per contrast when enabled.
func fitPermutation(ctx context.Context, rs *runScope, cfg FirstLevelConfig, run string, perm artifact.Permutation, data *runData) ([]float64, error) {
	model, err := design.ParseModel(perm.Model)
	if err != nil {
		return nil, stage.Invalid("%v", err)
	}
	opt, err := confounds.ParseOption(perm.Motion)
	if err != nil {
		return nil, stage.Invalid("%v", err)
	}
	conf, err := confounds.Select(data.confounds, opt)
	if err != nil {
		return nil, err
	}
	dm, err := design.Build(data.events, conf, design.Params{
		TR:                 cfg.TR,
		Volumes:            cfg.Volumes,
		Model:              model,
		HRF:                cfg.HRF,
		SliceTimeCorrected: cfg.SliceTimeCorrected,
	})
	if err != nil {
		return nil, err
	}
	if cfg.SaveDesign {
		path := cfg.DesignPath(run, perm)
		if err := writeDesign(path, dm); err != nil {
			return nil, err
		}
		rs.report.Written = append(rs.report.Written, path)
	}

	vectors := make([][]float64, len(cfg.Contrasts))
	for i, c := range cfg.Contrasts {
		if vectors[i], err = c.Vector(dm.Columns); err != nil {
			return nil, err
		}
	}
	var eff []float64
	if cfg.Efficiency {
		if eff, err = design.Efficiency(dm.X, vectors); err != nil {
			return nil, err
		}
	}

	mask, err := data.mask(perm.Mask, cfg.Masks[perm.Mask])
	if err != nil {
		return nil, err
	}
	bold := data.data(perm.FWHM)
	res, err := glm.Fit(dm.X, gather(bold, mask), glm.Options{AR1: cfg.NoiseModel != NoiseOLS})
	if err != nil {
		return nil, err
	}

	for i, c := range cfg.Contrasts {
		con, err := res.Contrast(vectors[i])
		if err != nil {
			return nil, err
		}
		key := artifact.Key{
			Level:       artifact.LevelRun,
			Subject:     cfg.Subject,
			Session:     cfg.Session,
			Task:        cfg.Task,
			Run:         run,
			Contrast:    c.Name,
			Permutation: perm,
			Stat:        artifact.StatBeta,
		}
		if _, err := rs.writeMap(ctx, cfg.OutDir, key, scatter(bold, mask, con.Effect)); err != nil {
			return nil, err
		}
		if _, err := rs.writeMap(ctx, cfg.OutDir, key.WithStat(artifact.StatVar), scatter(bold, mask, con.Variance)); err != nil {
			return nil, err
		}
		if eff != nil {
			resid := make([]float64, len(con.Variance))
			for v, x := range con.Variance {
				resid[v] = x * eff[i]
			}
			if _, err := rs.writeMap(ctx, cfg.OutDir, key.WithStat(artifact.StatResidVar), scatter(bold, mask, resid)); err != nil {
				return nil, err
			}
		}
	}
	return eff, nil
}
