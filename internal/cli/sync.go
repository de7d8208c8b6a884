package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roach88/pimsync/internal/config"
	"github.com/roach88/pimsync/internal/engine"
	"github.com/roach88/pimsync/internal/metrics"
	"github.com/roach88/pimsync/internal/store"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions

	// PassIDs overrides the pass ID generator (for testing).
	// If nil, the engine uses UUIDv7.
	PassIDs engine.PassIDGenerator
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return newSyncCommand(&SyncOptions{RootOptions: rootOpts})
}

func newSyncCommand(opts *SyncOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass between the Primary and Secondary stores",
		Long: `Run one sync pass between the Primary and Secondary stores.

The pass holds the lock file for its whole duration, so two passes never
run against the same stores at once. Skipped or failed matches do not stop
the pass; they are reported at the end and make the command exit 1.

Example:
  pimsync sync --config pimsync.yaml
  PIMSYNC_SYNC_POLICY=merge-primary-wins pimsync sync --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load config", err)
	}
	engCfg, err := cfg.Engine()
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load config", err)
	}

	logger, closeLog := newLogger(cfg.Log, opts.Verbose, cmd.ErrOrStderr())
	defer closeLog()

	lock := flock.New(cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		_ = formatter.Error(ErrCodeLock, err.Error(), nil)
		return WrapExitError(ExitCommandError, "acquire lock", err)
	}
	if !locked {
		msg := fmt.Sprintf("another pass holds %s", cfg.LockFile)
		_ = formatter.Error(ErrCodeLock, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Error("error releasing lock", "path", cfg.LockFile, "error", err)
		}
	}()

	primary, err := openStore("primary", cfg.Primary, logger)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), map[string]string{"path": cfg.Primary.Path})
		return WrapExitError(ExitCommandError, "open primary store", err)
	}
	defer closeStore(primary, "primary", logger)

	secondary, err := openStore("secondary", cfg.Secondary, logger)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), map[string]string{"path": cfg.Secondary.Path})
		return WrapExitError(ExitCommandError, "open secondary store", err)
	}
	defer closeStore(secondary, "secondary", logger)

	rec := metrics.New()
	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithRetrier(store.NewRetrier(cfg.RetrySettings(), logger)),
		engine.WithRecorder(rec),
	}
	if opts.PassIDs != nil {
		engOpts = append(engOpts, engine.WithPassIDs(opts.PassIDs))
	}
	eng := engine.New(primary, secondary, engCfg, engOpts...)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	timeout := cfg.Sync.Timeout
	if timeout <= 0 {
		timeout = runTimeout
	}
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping after current match", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	sum, passErr := eng.RunPass(ctx)

	if cfg.MetricsFile != "" {
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Error("error writing metrics", "error", err)
		}
	}

	return outputSyncResult(formatter, sum, passErr)
}

// newLogger builds the pass logger. A log file is rotated by lumberjack;
// otherwise records go to stderr.
func newLogger(lc config.LogConfig, verbose bool, stderr io.Writer) (*slog.Logger, func()) {
	level := lc.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}

	w := stderr
	closeFn := func() {}
	if lc.File != "" {
		lj := &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
		}
		w = lj
		closeFn = func() { _ = lj.Close() }
	}

	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	return slog.New(handler), closeFn
}

func openStore(name string, sc config.StoreConfig, logger *slog.Logger) (*store.SQLiteStore, error) {
	logger.Debug("opening store", "store", name, "path", sc.Path)
	s, err := store.Open(sc.Path, store.WithMaxPayload(sc.MaxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("open %s store %s: %w", name, sc.Path, err)
	}
	return s, nil
}

func closeStore(s *store.SQLiteStore, name string, logger *slog.Logger) {
	if err := s.Close(); err != nil {
		logger.Error("error closing store", "store", name, "error", err)
	}
}

// outputSyncResult reports the pass. An aborted pass or any skipped or
// failed match exits 1.
func outputSyncResult(formatter *OutputFormatter, sum *engine.Summary, passErr error) error {
	var cliErr *CLIError
	switch {
	case passErr != nil:
		if errors.Is(passErr, context.DeadlineExceeded) {
			passErr = fmt.Errorf("pass timed out: %w", passErr)
		}
		cliErr = &CLIError{Code: ErrCodePassAborted, Message: passErr.Error()}
	case sum.Failures() > 0:
		cliErr = &CLIError{
			Code:    ErrCodePassFailed,
			Message: fmt.Sprintf("%d match(es) skipped or failed", sum.Failures()),
			Details: sum.Diagnostics,
		}
	}

	if formatter.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: sum, PassID: sum.PassID}
		if cliErr != nil {
			resp.Status = "error"
			resp.Error = cliErr
		}
		if err := encodeJSON(formatter.Writer, resp); err != nil {
			return err
		}
	} else {
		writeSummaryText(formatter, sum)
		switch {
		case passErr != nil:
			fmt.Fprintf(formatter.Writer, "✗ Pass aborted: %v\n", passErr)
		case sum.Failures() == 0:
			fmt.Fprintln(formatter.Writer, "✓ Pass complete")
		}
	}

	if cliErr != nil {
		if passErr != nil {
			return WrapExitError(ExitFailure, "sync pass aborted", passErr)
		}
		return NewExitError(ExitFailure, cliErr.Message)
	}
	return nil
}

func writeSummaryText(formatter *OutputFormatter, sum *engine.Summary) {
	w := formatter.Writer
	fmt.Fprintf(w, "Pass %s (%s): %d match(es)\n", sum.PassID, sum.Policy, sum.Matches)
	fmt.Fprintf(w, "  created %d, updated %d, deleted %d, unchanged %d\n",
		sum.Created, sum.Updated, sum.Deleted, sum.Unchanged)
	fmt.Fprintf(w, "  linked %d, unlinked %d, skipped %d, failed %d\n",
		sum.Linked, sum.Unlinked, sum.Skipped, sum.Failed)

	if formatter.Verbose {
		for _, en := range sum.Entries {
			fmt.Fprintf(formatter.GetErrWriter(), "  #%d %s %s -> %s\n", en.Seq, en.Match, en.Action, en.Outcome)
		}
	}

	for _, d := range sum.Diagnostics {
		line := fmt.Sprintf("✗ %s %s %s", d.Match, d.Action, d.Outcome)
		if d.Code != "" {
			line += fmt.Sprintf(" [%s]", d.Code)
		}
		if d.Error != "" {
			line += ": " + d.Error
		}
		fmt.Fprintln(w, line)
	}
}

// runTimeout bounds a pass whose configured timeout is zero.
const runTimeout = 10 * time.Minute
