package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/midrel/internal/pipeline"
	"github.com/roach88/midrel/internal/stage"
)

// NewFirstLevelCommand creates the firstlevel command.
func NewFirstLevelCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		subject, session string
		keepGoing        bool
		noEfficiency     bool
		saveDesign       bool
		over             overrideFlags
	)

	cmd := &cobra.Command{
		Use:   "firstlevel",
		Short: "Fit every permutation of each run of one subject",
		Long: `Build the design matrix of each run and permutation, fit the AR(1) GLM
and write one beta and variance map per contrast. Design efficiency is
written next to the maps unless --no-efficiency is set. Acquisition,
path and model flags override the config file for this run.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if err := over.apply(s, cmd); err != nil {
				return s.fail("configure firstlevel", err)
			}
			ses, err := s.sessionOrDefault(session)
			if err != nil {
				return err
			}
			fl, err := pipeline.FirstLevelFromConfig(s.cfg, subject, ses)
			if err != nil {
				return s.fail("configure firstlevel", err)
			}
			fl.KeepGoing = keepGoing
			if noEfficiency {
				fl.Efficiency = false
			}
			fl.SaveDesign = saveDesign
			s.out.VerboseLog("Fitting %d permutation(s) over runs %v", s.cfg.Axes.Size(), fl.Runs)

			rep, err := pipeline.FirstLevel(s.ctx, s.env(), fl)
			if err != nil {
				return s.fail("firstlevel", err)
			}
			return emitReport(s.out, rep)
		},
	}

	cmd.Flags().StringVar(&subject, "sub", "", "subject label without the sub- prefix")
	cmd.Flags().StringVar(&session, "ses", "", "session label; defaults to the first configured session")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "continue past failing runs and permutations")
	cmd.Flags().BoolVar(&noEfficiency, "no-efficiency", false, "skip the design efficiency table")
	cmd.Flags().BoolVar(&saveDesign, "save-design", false, "write each design matrix as TSV")
	over.registerFirstLevel(cmd)
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

// NewFixedFXCommand creates the fixedfx command.
func NewFixedFXCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		subject, session string
		save             pipeline.SaveStats
		unweighted       bool
		keepGoing        bool
		over             overrideFlags
	)

	cmd := &cobra.Command{
		Use:   "fixedfx",
		Short: "Combine the runs of one subject and session",
		Long: `Combine run-level beta maps into one fixed-effects estimate per contrast
and permutation, weighting each run by its inverse variance unless
--unweighted is set. Without any --save-* flag every statistic is written.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if err := over.apply(s, cmd); err != nil {
				return s.fail("configure fixedfx", err)
			}
			ses, err := s.sessionOrDefault(session)
			if err != nil {
				return err
			}
			fx := pipeline.FixedFXFromConfig(s.cfg, subject, ses)
			if save != (pipeline.SaveStats{}) {
				fx.Save = save
			}
			if unweighted {
				fx.PrecisionWeighted = false
			}
			fx.KeepGoing = keepGoing

			rep, err := pipeline.FixedFX(s.ctx, s.env(), fx)
			if err != nil {
				return s.fail("fixedfx", err)
			}
			return emitReport(s.out, rep)
		},
	}

	cmd.Flags().StringVar(&subject, "sub", "", "subject label without the sub- prefix")
	cmd.Flags().StringVar(&session, "ses", "", "session label; defaults to the first configured session")
	cmd.Flags().BoolVar(&save.Effect, "save-effect", false, "write the combined effect map")
	cmd.Flags().BoolVar(&save.Var, "save-var", false, "write the combined variance map")
	cmd.Flags().BoolVar(&save.TStat, "save-tstat", false, "write the combined t map")
	cmd.Flags().BoolVar(&unweighted, "unweighted", false, "average runs with equal weights")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "continue past failing contrasts")
	over.registerCommon(cmd)
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

// NewGroupCommand creates the group command.
func NewGroupCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		pattern   string
		mask      string
		maskLabel string
		subjects  string
		saveRes   bool
		outDir    string
	)

	cmd := &cobra.Command{
		Use:   "group [maps...]",
		Short: "Fit a one-sample group model",
		Long: `Fit an intercept-only model over subject maps that share one contrast and
permutation, writing t, Cohen's d, z and effect maps. Maps are given as
arguments, with --inputs as a glob, or both; --subjects narrows them to a
subject list.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			inputs, err := expandInputs(pattern, args)
			if err != nil {
				return s.fail("group inputs", err)
			}
			if inputs, err = selectSubjects(inputs, subjects); err != nil {
				return s.fail("group inputs", err)
			}
			if outDir == "" {
				outDir = filepath.Join(s.cfg.Paths.Output, "group")
			}
			rep, err := pipeline.Group(s.ctx, s.env(), pipeline.GroupConfig{
				Inputs:        inputs,
				Mask:          s.maskFor(mask, maskLabel),
				MaskLabel:     maskLabel,
				SaveResiduals: saveRes,
				OutDir:        outDir,
			})
			if err != nil {
				return s.fail("group", err)
			}
			return emitReport(s.out, rep)
		},
	}

	cmd.Flags().StringVar(&pattern, "inputs", "", "glob of subject maps")
	cmd.Flags().StringVar(&mask, "mask", "", "brain mask; empty fits every voxel")
	cmd.Flags().StringVar(&maskLabel, "mask-label", "", "label of the mask in output names; alone, selects a configured mask")
	cmd.Flags().StringVar(&subjects, "subjects", "", "plain-text subject list to keep")
	cmd.Flags().BoolVar(&saveRes, "save-resid", false, "write the 4-D residual stack")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default <output>/group)")
	return cmd
}

// iccFlags are shared by icc and subsample.
type iccFlags struct {
	mode      string
	set1      string
	set2      string
	mask      string
	maskLabel string
	subjects  string
	outDir    string
}

func (f *iccFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mode, "type", "run", "reliability axis (run|session)")
	cmd.Flags().StringVar(&f.set1, "set1", "", "glob of first-measurement maps")
	cmd.Flags().StringVar(&f.set2, "set2", "", "glob of second-measurement maps")
	cmd.Flags().StringVar(&f.mask, "mask", "", "brain mask; empty uses every voxel")
	cmd.Flags().StringVar(&f.maskLabel, "mask-label", "", "label of the mask in output names; alone, selects a configured mask")
	cmd.Flags().StringVar(&f.subjects, "subjects", "", "plain-text subject list; pairs follow its order")
	cmd.Flags().StringVarP(&f.outDir, "out", "o", "", "output directory (default <output>/icc)")
	_ = cmd.MarkFlagRequired("set1")
	_ = cmd.MarkFlagRequired("set2")
}

func (f *iccFlags) config(s *session) (pipeline.ICCConfig, error) {
	var c pipeline.ICCConfig
	mode, err := pipeline.ParseICCMode(f.mode)
	if err != nil {
		return c, err
	}
	set1, err := expandInputs(f.set1, nil)
	if err != nil {
		return c, err
	}
	set2, err := expandInputs(f.set2, nil)
	if err != nil {
		return c, err
	}
	if set1, err = selectSubjects(set1, f.subjects); err != nil {
		return c, err
	}
	if set2, err = selectSubjects(set2, f.subjects); err != nil {
		return c, err
	}
	out := f.outDir
	if out == "" {
		out = filepath.Join(s.cfg.Paths.Output, "icc")
	}
	return pipeline.ICCConfig{
		Mode:      mode,
		Set1:      set1,
		Set2:      set2,
		Mask:      s.maskFor(f.mask, f.maskLabel),
		MaskLabel: f.maskLabel,
		OutDir:    out,
	}, nil
}

// NewICCCommand creates the icc command.
func NewICCCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &iccFlags{}

	cmd := &cobra.Command{
		Use:   "icc",
		Short: "Compute voxelwise ICC(3,1) between two measurement sets",
		Long: `Pair the maps of --set1 and --set2 by subject (both globs are sorted) and
write the ICC estimate, its mean squares and 95% confidence bounds.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			c, err := flags.config(s)
			if err != nil {
				return s.fail("icc inputs", err)
			}
			rep, err := pipeline.ICC(s.ctx, s.env(), c)
			if err != nil {
				return s.fail("icc", err)
			}
			return emitReport(s.out, rep)
		},
	}
	flags.register(cmd)
	return cmd
}

// NewSubsampleCommand creates the subsample command.
func NewSubsampleCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &iccFlags{}
	var minN, maxN, step int
	var seed int64

	cmd := &cobra.Command{
		Use:   "subsample",
		Short: "Compute ICC over bootstrap samples of increasing size",
		Long: `Draw subjects with replacement at each sample size from --min-n to
--max-n and compute ICC(3,1) for each draw. The series is reproducible
from --seed. Unset size flags fall back to the config.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			c, err := flags.config(s)
			if err != nil {
				return s.fail("subsample inputs", err)
			}
			sc := pipeline.SubsampleConfig{
				ICCConfig: c,
				MinN:      s.cfg.Subsample.MinN,
				MaxN:      s.cfg.Subsample.MaxN,
				Step:      s.cfg.Subsample.Step,
				Seed:      s.cfg.Subsample.Seed,
			}
			if cmd.Flags().Changed("min-n") {
				sc.MinN = minN
			}
			if cmd.Flags().Changed("max-n") {
				sc.MaxN = maxN
			}
			if cmd.Flags().Changed("step") {
				sc.Step = step
			}
			if cmd.Flags().Changed("seed") {
				sc.Seed = seed
			}
			if flags.outDir == "" {
				sc.OutDir = filepath.Join(s.cfg.Paths.Output, "subsample")
			}

			rep, err := pipeline.Subsample(s.ctx, s.env(), sc)
			if err != nil {
				return s.fail("subsample", err)
			}
			return emitReport(s.out, rep)
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&minN, "min-n", 0, "smallest sample size")
	cmd.Flags().IntVar(&maxN, "max-n", 0, "largest sample size")
	cmd.Flags().IntVar(&step, "step", 0, "sample size increment")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed")
	return cmd
}

// sessionOrDefault returns ses, or the first configured session.
func (s *session) sessionOrDefault(ses string) (string, error) {
	if ses != "" {
		return ses, nil
	}
	if len(s.cfg.Sessions) == 0 {
		return "", NewExitError(ExitCommandError, "--ses is required: config lists no sessions")
	}
	return s.cfg.Sessions[0], nil
}

// maskFor returns mask, or the configured image of label when no mask
// path was given.
func (s *session) maskFor(mask, label string) string {
	if mask == "" && label != "" {
		return s.cfg.MaskPath(label)
	}
	return mask
}

// selectSubjects narrows paths to the subject list at listPath, if any.
func selectSubjects(paths []string, listPath string) ([]string, error) {
	if listPath == "" {
		return paths, nil
	}
	subjects, err := pipeline.ReadSubjects(listPath)
	if err != nil {
		return nil, err
	}
	return pipeline.SelectSubjects(paths, subjects)
}

// expandInputs merges a glob and explicit paths, sorted and deduplicated.
func expandInputs(pattern string, paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if pattern != "" {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, stage.Invalid("bad glob %q: %v", pattern, err)
		}
		if len(matches) == 0 {
			return nil, stage.MissingInput(pattern, "glob matched no maps")
		}
		for _, m := range matches {
			add(m)
		}
	}
	for _, p := range paths {
		add(p)
	}
	if len(out) == 0 {
		return nil, stage.MissingInput("", "no input maps given")
	}
	sort.Strings(out)
	return out, nil
}

func emitReport(out *OutputFormatter, rep *pipeline.Report) error {
	for _, p := range rep.Written {
		out.VerboseLog("wrote %s", p)
	}
	return out.Emit(rep.RunID, rep, func(w io.Writer) {
		fmt.Fprintf(w, "run %s: wrote %d map(s)", rep.RunID, len(rep.Written))
		if rep.Failed > 0 {
			fmt.Fprintf(w, ", %d failed", rep.Failed)
		}
		fmt.Fprintln(w)
	})
}
