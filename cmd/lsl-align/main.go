// Command lsl-align runs the Alignment Engine over a completed archive,
// writing aligned timestamps and trim attributes back into each stream
// group without touching its raw data or time arrays.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/e7canasta/lslkit/internal/alignment"
	"github.com/e7canasta/lslkit/internal/config"
	"github.com/e7canasta/lslkit/internal/errs"
	"github.com/spf13/cobra"
)

var (
	mode      string
	trimStart bool
	trimEnd   bool
	trimBoth  bool
	streams   []string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "lsl-align [archive-path]",
	Short: "Align timestamps across recorded streams in an archive",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "experiment.zarr"
		if len(args) == 1 {
			path = args[0]
		}
		return runAlign(path)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&mode, "mode", string(config.CommonStart), "reference-time mode: common-start|first-stream|last-stream|absolute-zero")
	f.BoolVar(&trimStart, "trim-start", false, "trim each stream to the common window's start")
	f.BoolVar(&trimEnd, "trim-end", false, "trim each stream to the common window's end")
	f.BoolVar(&trimBoth, "trim-both", false, "shorthand for --trim-start --trim-end")
	f.StringSliceVar(&streams, "stream", nil, "restrict alignment to these stream names (repeatable)")
	f.BoolVarP(&verbose, "verbose", "v", false, "print per-stream alignment detail")
}

func runAlign(path string) error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := config.Align{
		ArchivePath: path,
		Mode:        config.AlignMode(mode),
		TrimStart:   trimStart || trimBoth,
		TrimEnd:     trimEnd || trimBoth,
		Streams:     streams,
		Verbose:     verbose,
	}
	if err := cfg.Validate(); err != nil {
		return exitWithCode(errs.New(errs.Configuration, "validate", err))
	}

	results, err := alignment.Run(path, cfg)
	if err != nil {
		return exitWithCode(err)
	}

	for _, r := range results {
		if r.Skipped {
			fmt.Printf("%s\tSKIPPED\t%s\n", r.StreamName, r.SkipReason)
			continue
		}
		kind := "irregular"
		if r.Regular {
			kind = "regular"
		}
		fmt.Printf("%s\t%s\toffset=%.6f\ttrim=[%d,%d)\tsamples=%d/%d\n",
			r.StreamName, kind, r.AlignmentOffset, r.TrimStartIndex, r.TrimEndIndex, r.AlignedSampleCount, r.OriginalSampleCount)
		if cfg.Verbose && r.EventCoverage != nil {
			fmt.Printf("%s\tevents before=%d within=%d after=%d\n", r.StreamName, r.EventCoverage.Before, r.EventCoverage.Within, r.EventCoverage.After)
		}
	}
	return nil
}

func exitWithCode(err error) error {
	if err == nil {
		return nil
	}
	slog.Error("align: exiting", "error", err)
	os.Exit(errs.ExitCode(err))
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errs.ExitCode(err))
	}
}
