package pipeline

import (
	"maps"
	"path/filepath"
	"slices"

	"github.com/roach88/midrel/internal/config"
	"github.com/roach88/midrel/internal/design"
	"github.com/roach88/midrel/internal/events"
	"github.com/roach88/midrel/internal/permute"
	"github.com/roach88/midrel/internal/stage"
)

// Overrides replaces configuration values for one invocation, the way
// command-line flags sit on top of the config file. Nil and empty fields
// keep the configured value.
type Overrides struct {
	Sample             *string
	Task               *string
	TR                 *float64
	Volumes            *int
	SliceTimeCorrected *bool
	NoiseModel         *string
	Runs               []string

	EventsDir      *string
	DerivativesDir *string
	OutputDir      *string

	FWHM   []float64
	Motion []string
	Model  []string
	// MaskLabel narrows the mask axis to one label. MaskPath binds an
	// image to that label and requires it.
	MaskLabel string
	MaskPath  string
}

// Apply returns a validated copy of cfg with o applied. cfg itself is not
// modified. A result that fails validation is an invalid-input error.
func (o Overrides) Apply(cfg *config.Config) (*config.Config, error) {
	c := *cfg
	c.Runs = slices.Clone(cfg.Runs)
	c.Sessions = slices.Clone(cfg.Sessions)
	c.Contrasts = slices.Clone(cfg.Contrasts)
	c.Masks = maps.Clone(cfg.Masks)
	c.Axes = permute.Axes{
		FWHM:   slices.Clone(cfg.Axes.FWHM),
		Motion: slices.Clone(cfg.Axes.Motion),
		Model:  slices.Clone(cfg.Axes.Model),
		Mask:   slices.Clone(cfg.Axes.Mask),
	}

	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&c.Sample, o.Sample)
	set(&c.Task, o.Task)
	set(&c.NoiseModel, o.NoiseModel)
	set(&c.Paths.Events, o.EventsDir)
	set(&c.Paths.Derivatives, o.DerivativesDir)
	set(&c.Paths.Output, o.OutputDir)
	if o.TR != nil {
		c.TR = *o.TR
	}
	if o.Volumes != nil {
		c.Volumes = *o.Volumes
	}
	if o.SliceTimeCorrected != nil {
		c.SliceTimeCorrected = *o.SliceTimeCorrected
	}
	if len(o.Runs) > 0 {
		c.Runs = slices.Clone(o.Runs)
	}
	if len(o.FWHM) > 0 {
		c.Axes.FWHM = slices.Clone(o.FWHM)
	}
	if len(o.Motion) > 0 {
		c.Axes.Motion = slices.Clone(o.Motion)
	}
	if len(o.Model) > 0 {
		c.Axes.Model = slices.Clone(o.Model)
	}
	if o.MaskPath != "" && o.MaskLabel == "" {
		return nil, stage.Invalid("mask %s needs a label", o.MaskPath)
	}
	if o.MaskLabel != "" {
		c.Axes.Mask = []string{o.MaskLabel}
		if o.MaskPath != "" {
			if c.Masks == nil {
				c.Masks = make(map[string]string)
			}
			c.Masks[o.MaskLabel] = o.MaskPath
		}
	}

	if err := c.Validate(); err != nil {
		return nil, stage.Invalid("%v", err)
	}
	return &c, nil
}

// FirstLevelFromConfig builds the first-level settings of one subject and
// session from the pipeline configuration.
func FirstLevelFromConfig(cfg *config.Config, subject, session string) (FirstLevelConfig, error) {
	var fl FirstLevelConfig
	cohort, err := events.ParseCohort(cfg.Sample)
	if err != nil {
		return fl, err
	}
	hrf, err := design.ParseHRF(cfg.HRF)
	if err != nil {
		return fl, err
	}
	contrasts, err := cfg.ParsedContrasts()
	if err != nil {
		return fl, err
	}
	noise, err := ParseNoiseModel(cfg.NoiseModel)
	if err != nil {
		return fl, err
	}
	var ex permute.Exclusions
	if cfg.Exclusions != "" {
		if ex, err = permute.LoadExclusions(cfg.Exclusions); err != nil {
			return fl, err
		}
	}
	return FirstLevelConfig{
		Sample:             cohort,
		Subject:            subject,
		Session:            session,
		Task:               cfg.Task,
		Runs:               cfg.Runs,
		TR:                 cfg.TR,
		Volumes:            cfg.Volumes,
		HRF:                hrf,
		NoiseModel:         noise,
		SliceTimeCorrected: cfg.SliceTimeCorrected,
		Axes:               cfg.Axes,
		Masks:              cfg.Masks,
		Contrasts:          contrasts,
		EventsDir:          cfg.Paths.Events,
		DerivativesDir:     cfg.Paths.Derivatives,
		OutDir:             FirstLevelDir(cfg.Paths.Output, subject, session),
		Efficiency:         cfg.Efficiency,
		Exclusions:         ex,
	}, nil
}

// FixedFXFromConfig builds the fixed-effects settings of one subject and
// session, writing every statistic.
func FixedFXFromConfig(cfg *config.Config, subject, session string) FixedFXConfig {
	return FixedFXConfig{
		Subject:           subject,
		Session:           session,
		Task:              cfg.Task,
		Runs:              sortedRuns(cfg.Runs),
		PrecisionWeighted: cfg.PrecisionWeighted,
		Save:              SaveStats{Effect: true, Var: true, TStat: true},
		InDir:             FirstLevelDir(cfg.Paths.Output, subject, session),
		OutDir:            FixedFXDir(cfg.Paths.Output, session),
	}
}

// FixedFXDir is the conventional output directory of a session's
// fixed-effects maps under root.
func FixedFXDir(root, ses string) string {
	return filepath.Join(root, "fixedfx", "ses-"+ses)
}

// sortedRuns orders run labels the way DiscoverRuns orders run maps.
func sortedRuns(runs []string) []string {
	out := slices.Clone(runs)
	slices.Sort(out)
	return out
}
