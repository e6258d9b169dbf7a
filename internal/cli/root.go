package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Config   string // pipeline config file; empty uses the built-in defaults
	Database string // artifact ledger; empty disables recording
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the midrel CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "midrel",
		Short: "midrel - multiverse MID task reliability",
		Long: `Fit the MID task across a multiverse of analytic choices and measure
how reliable each choice is.

Stages run in order: firstlevel per subject, fixedfx to combine runs,
then group and icc/subsample across subjects. Every written map can be
recorded in an artifact ledger with --db.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			setupLogging(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "pipeline config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "artifact ledger database")

	cmd.AddCommand(NewPermutationsCommand(opts))
	cmd.AddCommand(NewFirstLevelCommand(opts))
	cmd.AddCommand(NewFixedFXCommand(opts))
	cmd.AddCommand(NewGroupCommand(opts))
	cmd.AddCommand(NewICCCommand(opts))
	cmd.AddCommand(NewSubsampleCommand(opts))
	cmd.AddCommand(NewUploadCommand(opts))
	cmd.AddCommand(NewSummarizeCommand(opts))
	cmd.AddCommand(NewSimilarityCommand(opts))
	cmd.AddCommand(NewMasksCommand(opts))
	cmd.AddCommand(NewArtifactsCommand(opts))

	return cmd
}

// setupLogging installs the process-wide structured logger on w.
func setupLogging(w io.Writer, verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
