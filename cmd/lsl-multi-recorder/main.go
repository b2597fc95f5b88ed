// Command lsl-multi-recorder spawns one lsl-recorder child per requested
// source id, broadcasts a shared control channel to all of them, and
// coordinates a first-sample barrier for --duration.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/e7canasta/lslkit/internal/config"
	"github.com/e7canasta/lslkit/internal/errs"
	"github.com/e7canasta/lslkit/internal/lslbus"
	"github.com/e7canasta/lslkit/internal/supervisor"
	"github.com/spf13/cobra"
)

var (
	verboseLevel int
	recorderBin  string
	cfg          = config.DefaultMultiRecorder()
)

var rootCmd = &cobra.Command{
	Use:   "lsl-multi-recorder",
	Short: "Coordinate recording of multiple Lab Streaming Layer sources",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSupervisor(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verboseLevel, "verbose", "v", "increase log verbosity")

	f := rootCmd.Flags()
	f.StringSliceVar(&cfg.SourceIDs, "source-ids", nil, "source ids to record (required)")
	f.StringSliceVar(&cfg.StreamNames, "stream-names", nil, "group name per source id, same count and order as --source-ids")
	f.StringVar(&cfg.Output, "output", cfg.Output, "archive root path")
	f.StringVar(&cfg.Subject, "subject", "", "subject label recorded in recorder_config")
	f.StringVar(&cfg.SessionID, "session-id", "", "session id recorded in recorder_config")
	f.StringVar(&cfg.Notes, "notes", "", "free-text notes recorded in recorder_config")
	f.Float64Var(&cfg.Duration, "duration", 0, "coordinated auto-stop after N seconds of real recording")
	f.Float64Var(&cfg.ResolveTimeout, "resolve-timeout", cfg.ResolveTimeout, "seconds to wait while resolving each source id")
	f.Float64Var(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "seconds between forced flushes, passed through to each child")
	f.BoolVar(&cfg.Quiet, "quiet", false, "suppress non-essential log output")
	f.StringVar(&recorderBin, "recorder-binary", "", "path to the lsl-recorder executable (default: alongside this binary, or $PATH)")
}

func runSupervisor(ctx context.Context) error {
	if err := cfg.Validate(); err != nil {
		return exitWithCode(errs.New(errs.Configuration, "validate", err))
	}

	binary, err := resolveRecorderBinary()
	if err != nil {
		return exitWithCode(errs.New(errs.Configuration, "locate lsl-recorder", err))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sup := &supervisor.Supervisor{
		Cfg:      cfg,
		Resolver: lslbus.NewResolver(),
		Binary:   binary,
		Out:      os.Stdout,
		Control:  os.Stdin,
	}

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- sup.Run(ctx) }()

	select {
	case sig := <-sigCh:
		slog.Info("multi-recorder: signal received, cancelling", "signal", sig)
		cancel()
		err = <-runErrCh
	case err = <-runErrCh:
	}

	return exitWithCode(err)
}

func resolveRecorderBinary() (string, error) {
	if recorderBin != "" {
		return recorderBin, nil
	}
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "lsl-recorder")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return exec.LookPath("lsl-recorder")
}

func exitWithCode(err error) error {
	if err == nil {
		return nil
	}
	slog.Error("multi-recorder: exiting", "error", err)
	os.Exit(errs.ExitCode(err))
	return err
}

func setupLogging(level int) {
	l := slog.LevelInfo
	if cfg.Quiet {
		l = slog.LevelWarn
	}
	if level >= 1 {
		l = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errs.ExitCode(err))
	}
}
