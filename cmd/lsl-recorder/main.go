// Command lsl-recorder runs one Acquisition Loop against a single source
// id, recording it to an archive group under --output.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/e7canasta/lslkit/internal/archive"
	"github.com/e7canasta/lslkit/internal/command"
	"github.com/e7canasta/lslkit/internal/config"
	"github.com/e7canasta/lslkit/internal/errs"
	"github.com/e7canasta/lslkit/internal/lslbus"
	"github.com/e7canasta/lslkit/internal/recorder"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	cfgFile      string
	verboseLevel int
	cfg          = config.DefaultRecorder()
)

var rootCmd = &cobra.Command{
	Use:   "lsl-recorder",
	Short: "Record one Lab Streaming Layer source to an archive group",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)
		if cfgFile != "" {
			loaded, err := config.LoadRecorderDefaults(cfgFile)
			if err != nil {
				return err
			}
			mergeFlagDefaults(cmd, &loaded)
			cfg = loaded
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecorder(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML file of recorder defaults, overridden by flags")
	rootCmd.PersistentFlags().CountVarP(&verboseLevel, "verbose", "v", "increase log verbosity")

	f := rootCmd.Flags()
	f.StringVar(&cfg.SourceID, "source-id", "", "source id to resolve (required)")
	f.StringVar(&cfg.Output, "output", cfg.Output, "archive root path")
	f.StringVar(&cfg.StreamName, "stream-name", "", "group name override (defaults to the resolved stream name)")
	f.StringVar(&cfg.Subject, "subject", "", "subject label recorded in recorder_config")
	f.StringVar(&cfg.SessionID, "session-id", "", "session id recorded in recorder_config")
	f.StringVar(&cfg.Notes, "notes", "", "free-text notes recorded in recorder_config")
	f.Float64Var(&cfg.Duration, "duration", 0, "auto-stop after N seconds of recording")
	f.BoolVar(&cfg.Interactive, "interactive", false, "read START/STOP/STOP_AFTER/QUIT from stdin instead of starting immediately")
	f.Float64Var(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "seconds between forced flushes")
	f.IntVar(&cfg.FlushBufferSize, "flush-buffer-size", cfg.FlushBufferSize, "samples buffered before a forced flush")
	f.BoolVar(&cfg.ImmediateFlush, "immediate-flush", false, "flush after every pulled chunk")
	f.BoolVar(&cfg.Quiet, "quiet", false, "suppress non-essential log output")
	f.Float64Var(&cfg.ResolveTimeout, "resolve-timeout", cfg.ResolveTimeout, "seconds to wait while resolving the source id")
	f.BoolVar(&cfg.Managed, "managed", false, "internal: set by lsl-multi-recorder when spawning this process as a child")
	f.MarkHidden("managed")
}

func mergeFlagDefaults(cmd *cobra.Command, loaded *config.Recorder) {
	// Flags explicitly set on the command line always win over the config
	// file; anything left at its zero value falls through to the file.
	set := map[string]string{}
	cmd.Flags().Visit(func(f *pflag.Flag) { set[f.Name] = f.Value.String() })
	delete(set, "config")
	delete(set, "verbose")
	cfg = *loaded
	for name, v := range set {
		cmd.Flags().Set(name, v)
	}
	*loaded = cfg
}

func runRecorder(ctx context.Context) error {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitWithCode(errs.New(errs.Configuration, "validate", err))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	writer, err := archive.NewWriter(cfg.Output)
	if err != nil {
		return exitWithCode(err)
	}

	channel := command.New(
		func() { slog.Debug("recorder: start") },
		func() { slog.Debug("recorder: stop") },
		func() { slog.Debug("recorder: quit") },
	)

	loop := &recorder.Loop{
		Resolver: lslbus.NewResolver(),
		Archive:  writer,
		Cfg:      cfg,
		Channel:  channel,
		Status:   os.Stdout,
		Health:   os.Stderr,
	}

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- loop.Run(ctx) }()

	if cfg.Interactive {
		go func() {
			// The end of the control input (for a managed child: the
			// supervisor closing its stdin) is treated as QUIT.
			channel.Start(ctx, os.Stdin)
			channel.Apply("QUIT")
		}()
	} else {
		channel.Apply("START")
		if cfg.Duration > 0 && !cfg.Managed {
			channel.Apply(fmt.Sprintf("STOP_AFTER %g", cfg.Duration))
		}
	}

	select {
	case sig := <-sigCh:
		slog.Info("recorder: signal received, stopping", "signal", sig)
		channel.Apply("QUIT")
		err = <-runErrCh
	case err = <-runErrCh:
	}

	return exitWithCode(err)
}

func exitWithCode(err error) error {
	if err == nil {
		return nil
	}
	slog.Error("recorder: exiting", "error", err)
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
