package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/midrel/internal/pipeline"
)

// overrideFlags are config values a stage command may override. Only flags
// the user set replace the config file.
type overrideFlags struct {
	sample, task, noise      string
	tr                       float64
	volumes                  int
	stc                      bool
	runs                     []string
	events, derivatives, out string
	fwhm                     []float64
	motion, model            []string
	maskLabel, maskPath      string
}

// registerCommon adds the flags shared by firstlevel and fixedfx.
func (f *overrideFlags) registerCommon(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.task, "task", "", "task label")
	cmd.Flags().StringSliceVar(&f.runs, "runs", nil, "run labels, comma separated")
	cmd.Flags().StringVar(&f.out, "output", "", "output root")
}

// registerFirstLevel adds the acquisition, input and model-selection flags.
func (f *overrideFlags) registerFirstLevel(cmd *cobra.Command) {
	f.registerCommon(cmd)
	cmd.Flags().StringVar(&f.sample, "sample", "", "cohort naming convention (ahrb|abcd|mls)")
	cmd.Flags().Float64Var(&f.tr, "tr", 0, "repetition time in seconds")
	cmd.Flags().IntVar(&f.volumes, "volumes", 0, "number of volumes per run")
	cmd.Flags().BoolVar(&f.stc, "stc", false, "data are slice-time corrected")
	cmd.Flags().StringVar(&f.noise, "noise-model", "", "first-level noise model (ar1|ols)")
	cmd.Flags().StringVar(&f.events, "events", "", "root of the event tables")
	cmd.Flags().StringVar(&f.derivatives, "derivatives", "", "fMRIPrep derivatives root")
	cmd.Flags().Float64SliceVar(&f.fwhm, "fwhm", nil, "smoothing widths in mm")
	cmd.Flags().StringSliceVar(&f.motion, "mot", nil, "regressor options, e.g. opt1,opt3")
	cmd.Flags().StringSliceVar(&f.model, "model", nil, "event models (CueMod|AntMod|FixMod)")
	cmd.Flags().StringVar(&f.maskLabel, "mask-label", "", "fit only this mask label")
	cmd.Flags().StringVar(&f.maskPath, "mask", "", "mask image for --mask-label")
}

func (f *overrideFlags) overrides(cmd *cobra.Command) pipeline.Overrides {
	changed := cmd.Flags().Changed
	o := pipeline.Overrides{
		Runs:      f.runs,
		FWHM:      f.fwhm,
		Motion:    f.motion,
		Model:     f.model,
		MaskLabel: f.maskLabel,
		MaskPath:  f.maskPath,
	}
	for name, dst := range map[string]**string{
		"sample":      &o.Sample,
		"task":        &o.Task,
		"noise-model": &o.NoiseModel,
		"events":      &o.EventsDir,
		"derivatives": &o.DerivativesDir,
		"output":      &o.OutputDir,
	} {
		if changed(name) {
			v, _ := cmd.Flags().GetString(name)
			*dst = &v
		}
	}
	if changed("tr") {
		o.TR = &f.tr
	}
	if changed("volumes") {
		o.Volumes = &f.volumes
	}
	if changed("stc") {
		o.SliceTimeCorrected = &f.stc
	}
	return o
}

// apply replaces the session config with the overridden one.
func (f *overrideFlags) apply(s *session, cmd *cobra.Command) error {
	cfg, err := f.overrides(cmd).Apply(s.cfg)
	if err != nil {
		return err
	}
	s.cfg = cfg
	return nil
}
