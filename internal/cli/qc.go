package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/midrel/internal/qc"
	"github.com/roach88/midrel/internal/volume"
)

// NewSummarizeCommand creates the summarize command.
func NewSummarizeCommand(rootOpts *RootOptions) *cobra.Command {
	var subject, session, dir, table string

	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Append a subject's motion and behaviour summary to the QC table",
		Long: `Average framewise displacement per run from the confounds tables and read
accuracy and mean RT from the behavioural descriptives, then add the row
to the task summary CSV. A row for the same subject and session is replaced.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			ses, err := s.sessionOrDefault(session)
			if err != nil {
				return err
			}
			in := qc.SummaryInputs{Dir: dir, Subject: subject, Session: ses, Task: s.cfg.Task, Runs: s.cfg.Runs}
			if table == "" {
				table = in.TablePath()
			}
			sum, err := qc.Summarize(in)
			if err != nil {
				return s.fail("summarize", err)
			}
			if err := qc.AppendSummary(table, sum); err != nil {
				return s.fail("append summary", err)
			}
			return s.out.Emit("", sum, func(w io.Writer) {
				fmt.Fprintf(w, "sub-%s ses-%s: mean FD %v, accuracy %v, mean RT %v -> %s\n",
					sum.Subject, sum.Session, sum.MeanFD, sum.Accuracy, sum.MeanRT, table)
			})
		},
	}

	cmd.Flags().StringVar(&subject, "sub", "", "subject label without the sub- prefix")
	cmd.Flags().StringVar(&session, "ses", "", "session label; defaults to the first configured session")
	cmd.Flags().StringVar(&dir, "dir", ".", "directory holding the confounds and behaviour files")
	cmd.Flags().StringVar(&table, "table", "", "summary CSV (default <dir>/task-<task>_summ-mot-acc-rt.csv)")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

// NewSimilarityCommand creates the similarity command.
func NewSimilarityCommand(rootOpts *RootOptions) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:           "similarity <image-a> <image-b>",
		Short:         "Compare two binary images with Dice or Jaccard",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			k, err := qc.ParseSimilarity(kind)
			if err != nil {
				return reportError(out, "similarity", err)
			}
			a, err := volume.Read(args[0])
			if err != nil {
				return reportError(out, "read image", err)
			}
			b, err := volume.Read(args[1])
			if err != nil {
				return reportError(out, "read image", err)
			}
			v, err := qc.Overlap(a, b, k)
			if err != nil {
				return reportError(out, "similarity", err)
			}
			return out.Emit("", map[string]any{"type": k, "value": v}, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %.6f\n", k, v)
			})
		},
	}

	cmd.Flags().StringVar(&kind, "type", string(qc.Dice), "similarity coefficient (dice|jaccard)")
	return cmd
}

// MasksOptions holds flags for the masks command.
type MasksOptions struct {
	Stat      string
	Brain     string
	Threshold float64
	Supra     string
	Sub       string
}

// NewMasksCommand creates the masks command.
func NewMasksCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MasksOptions{}

	cmd := &cobra.Command{
		Use:   "masks",
		Short: "Split a statistical map into supra- and sub-threshold masks",
		Long: `Binarize --stat at --threshold. The supra-threshold mask holds voxels
above the threshold; the sub-threshold mask holds the remaining in-brain
voxels below it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMasks(newFormatter(rootOpts, cmd), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Stat, "stat", "", "statistical map")
	cmd.Flags().StringVar(&opts.Brain, "brain", "", "brain mask on the same grid")
	cmd.Flags().Float64Var(&opts.Threshold, "threshold", qc.WilsonThreshold, "z threshold")
	cmd.Flags().StringVar(&opts.Supra, "supra", "", "output path of the supra-threshold mask")
	cmd.Flags().StringVar(&opts.Sub, "sub", "", "output path of the sub-threshold mask")
	for _, f := range []string{"stat", "brain", "supra", "sub"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func runMasks(out *OutputFormatter, opts *MasksOptions) error {
	stat, err := volume.Read(opts.Stat)
	if err != nil {
		return reportError(out, "read stat map", err)
	}
	brain, err := volume.Read(opts.Brain)
	if err != nil {
		return reportError(out, "read brain mask", err)
	}
	supra, sub, err := qc.ThresholdMasks(stat, brain, opts.Threshold)
	if err != nil {
		return reportError(out, "threshold", err)
	}
	for _, o := range []struct {
		path string
		vol  *volume.Volume
	}{{opts.Supra, supra}, {opts.Sub, sub}} {
		if err := os.MkdirAll(filepath.Dir(o.path), 0o755); err != nil {
			return reportError(out, "write mask", err)
		}
		if err := volume.Write(o.path, o.vol); err != nil {
			return reportError(out, "write mask", err)
		}
	}
	counts := map[string]int{"supra": volume.Nonzero(supra).Len(), "sub": volume.Nonzero(sub).Len()}
	return out.Emit("", counts, func(w io.Writer) {
		fmt.Fprintf(w, "%s: %d voxels\n%s: %d voxels\n", opts.Supra, counts["supra"], opts.Sub, counts["sub"])
	})
}
