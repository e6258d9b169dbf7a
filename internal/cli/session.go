package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/midrel/internal/config"
	"github.com/roach88/midrel/internal/ctxlog"
	"github.com/roach88/midrel/internal/pipeline"
	"github.com/roach88/midrel/internal/stage"
	"github.com/roach88/midrel/internal/store"
)

// session is what a stage command needs while it runs: output, config,
// the optional ledger and a context cancelled on SIGINT/SIGTERM.
type session struct {
	ctx    context.Context
	out    *OutputFormatter
	cfg    *config.Config
	store  *store.Store
	cancel context.CancelFunc
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// openSession loads the config and opens the ledger when --db is set.
// Callers must defer close.
func openSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	s := &session{out: newFormatter(opts, cmd)}

	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return nil, WrapExitError(ExitCommandError, "load config", err)
		}
		s.out.VerboseLog("Loaded config %s", opts.Config)
	}
	s.cfg = cfg

	if opts.Database != "" {
		slog.Info("opening database", "path", opts.Database)
		st, err := store.Open(opts.Database)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "open database", err)
		}
		s.store = st
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(ctxlog.WithLogger(parent, slog.Default()))
	s.ctx, s.cancel = ctx, cancel

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return s, nil
}

// env builds the stage environment over the ledger, if any.
func (s *session) env() pipeline.Env {
	if s.store == nil {
		return pipeline.Env{}
	}
	return pipeline.Env{Ledger: s.store}
}

func (s *session) close() {
	s.cancel()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Error("error closing database", "error", err)
		}
	}
}

// fail reports err in the configured format and converts it to an exit
// error. Input problems exit 2, everything else 1.
func (s *session) fail(what string, err error) error {
	return reportError(s.out, what, err)
}

func reportError(out *OutputFormatter, what string, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	code := exitCodeFor(err)
	if out.Format == "json" {
		errCode := string(stage.CodeOf(err))
		if errCode == "" {
			errCode = "FAILED"
		}
		var details any
		var se *stage.Error
		if errors.As(err, &se) && se.Path != "" {
			details = map[string]string{"path": se.Path}
		}
		_ = out.Error(errCode, fmt.Sprintf("%s: %v", what, err), details)
	}
	return WrapExitError(code, what, err)
}
