package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/midrel/internal/artifact"
	"github.com/roach88/midrel/internal/permute"
)

// NewPermutationsCommand creates the permutations command.
func NewPermutationsCommand(rootOpts *RootOptions) *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "permutations",
		Short: "List the analytic permutations of the config",
		Long: `List every combination of smoothing, motion regressors, model and mask
in the order stages process them. With --sub, permutations the subject
is excluded from are dropped.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPermutations(rootOpts, subject, cmd)
		},
	}

	cmd.Flags().StringVar(&subject, "sub", "", "apply the exclusions of this subject")
	return cmd
}

func runPermutations(opts *RootOptions, subject string, cmd *cobra.Command) error {
	s, err := openSession(opts, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	perms := s.cfg.Axes.Enumerate()
	if subject != "" && s.cfg.Exclusions != "" {
		ex, err := permute.LoadExclusions(s.cfg.Exclusions)
		if err != nil {
			return s.fail("load exclusions", err)
		}
		perms = ex.Filter(subject, perms)
	}
	s.out.VerboseLog("%d of %d permutations", len(perms), s.cfg.Axes.Size())

	return s.out.Emit("", perms, func(w io.Writer) {
		writePermutations(w, perms)
	})
}

func writePermutations(w io.Writer, perms []artifact.Permutation) {
	for _, p := range perms {
		fmt.Fprintln(w, p.Tag())
	}
}
