package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/midrel/internal/artifact"
	"github.com/roach88/midrel/internal/store"
)

// NewArtifactsCommand creates the artifacts command and its ledger
// queries.
func NewArtifactsCommand(rootOpts *RootOptions) *cobra.Command {
	var f store.Filter
	var level, stat string

	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List maps recorded in the artifact ledger",
		Long: `List recorded maps in the order they were written. Filters combine;
unset filters match everything. Requires --db.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openLedger(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			f.Level, f.Stat = artifact.Level(level), artifact.Stat(stat)
			rows, err := s.store.Artifacts(s.ctx, f)
			if err != nil {
				return s.fail("list artifacts", err)
			}
			return s.out.Emit(f.RunID, rows, func(w io.Writer) {
				for _, a := range rows {
					fmt.Fprintf(w, "%d\t%s\t%s\n", a.Seq, a.RunID, a.Path)
				}
			})
		},
	}

	cmd.Flags().StringVar(&f.RunID, "run", "", "only maps written by this run")
	cmd.Flags().StringVar(&level, "level", "", "aggregation level (run|fixed|group|icc)")
	cmd.Flags().StringVar(&stat, "stat", "", "statistic, e.g. beta or est")
	cmd.Flags().StringVar(&f.Subject, "sub", "", "subject label")
	cmd.Flags().StringVar(&f.Contrast, "contrast", "", "contrast name")

	cmd.AddCommand(newRunShowCommand(rootOpts))
	cmd.AddCommand(newEfficiencyCommand(rootOpts))
	cmd.AddCommand(newSubsamplesCommand(rootOpts))
	return cmd
}

func newRunShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "run <run-id>",
		Short:         "Show a stage run and its status",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openLedger(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			r, err := s.store.ReadRun(s.ctx, args[0])
			if err != nil {
				return s.fail("read run", err)
			}
			return s.out.Emit(r.ID, r, func(w io.Writer) {
				fmt.Fprintf(w, "%s\t%s\t%s", r.ID, r.Stage, r.Status)
				if r.Error != "" {
					fmt.Fprintf(w, "\t%s", r.Error)
				}
				fmt.Fprintln(w)
			})
		},
	}
}

func newEfficiencyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "efficiency <subject>",
		Short:         "List the design efficiency recorded for a subject",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openLedger(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			rows, err := s.store.EfficiencyRows(s.ctx, artifact.TrimPrefix(args[0], "sub"))
			if err != nil {
				return s.fail("list efficiency", err)
			}
			return s.out.Emit("", rows, func(w io.Writer) {
				for _, e := range rows {
					fmt.Fprintf(w, "ses-%s\trun-%s\t%s\t%s\t%.6g\n", e.Session, e.Run, e.Permutation.Tag(), e.Contrast, e.Value)
				}
			})
		},
	}
}

func newSubsamplesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "subsamples <run-id>",
		Short:         "List the subject draws of a subsample run",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openLedger(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			rows, err := s.store.Subsamples(s.ctx, args[0])
			if err != nil {
				return s.fail("list subsamples", err)
			}
			return s.out.Emit(args[0], rows, func(w io.Writer) {
				for _, ss := range rows {
					fmt.Fprintf(w, "n=%d\tunique=%d\t%s\n", ss.Requested, ss.Unique, strings.Join(ss.Subjects, ","))
				}
			})
		},
	}
}

// openLedger opens a session that must have a ledger.
func openLedger(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	if opts.Database == "" {
		return nil, NewExitError(ExitCommandError, "--db is required")
	}
	return openSession(opts, cmd)
}
