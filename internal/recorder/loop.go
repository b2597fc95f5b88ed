// Package recorder implements the Acquisition Loop: the per-stream worker
// that resolves a bus stream, waits for the recording flag, pulls chunks
// into the Archive Writer, and finalizes on stop.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/lslkit/internal/archive"
	"github.com/e7canasta/lslkit/internal/command"
	"github.com/e7canasta/lslkit/internal/config"
	"github.com/e7canasta/lslkit/internal/errs"
	"github.com/e7canasta/lslkit/internal/health"
	"github.com/e7canasta/lslkit/internal/lsl"
)

// healthInterval is how often the optional HEALTH snapshot is emitted.
const healthInterval = 2 * time.Second

// pullTimeout is the fixed inlet-read timeout named in the concurrency
// model: short enough that QUIT is observed promptly.
const pullTimeout = 100 * time.Millisecond

// State is one point in the Resolving -> WaitingForStart -> Recording ->
// Stopping -> Finalized lifecycle.
type State int

const (
	Resolving State = iota
	WaitingForStart
	Recording
	Stopping
	Finalized
)

func (s State) String() string {
	switch s {
	case Resolving:
		return "resolving"
	case WaitingForStart:
		return "waiting_for_start"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	case Finalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Loop is one Acquisition Loop worker, dedicated to a single source id.
type Loop struct {
	Resolver lsl.Resolver
	Archive  *archive.Writer
	Cfg      config.Recorder
	Channel  *command.Channel

	// Status is where "STATUS FIRST_SAMPLE (...)" tokens are written,
	// consumed by the Multi-Recorder Supervisor when this loop runs as a
	// spawned child. Defaults to a discard writer when nil.
	Status io.Writer

	// Health, if set, receives a periodic HEALTH line (see internal/health)
	// while recording. Purely observational; nil disables it.
	Health io.Writer

	state          State
	info           lsl.StreamInfo
	samplesWritten int64
	lastFlushAt    time.Time

	// runID correlates every log line and the finalized group's
	// recorder_config back to this particular process invocation, across
	// restarts of the same stream name.
	runID  string
	logger *slog.Logger
}

// State returns the loop's current lifecycle state; exported for tests and
// supervisor-facing health snapshots.
func (l *Loop) State() State { return l.state }

// Run drives the full lifecycle to completion, returning the first fatal
// error encountered (Resolution failures are always fatal; Storage and
// Transport failures are handled per the error taxonomy and do not
// necessarily surface here).
func (l *Loop) Run(ctx context.Context) error {
	streamName := l.Cfg.StreamName
	l.runID = uuid.NewString()
	l.logger = slog.With("run_id", l.runID)

	l.state = Resolving
	info, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	l.info = info
	if streamName == "" {
		streamName = info.Name
	}

	handle, err := l.Archive.OpenOrCreate(streamName, info, archive.FlushConfig{
		FlushIntervalSeconds: l.Cfg.FlushInterval,
		FlushBufferSize:      l.Cfg.FlushBufferSize,
		ImmediateFlush:       l.Cfg.ImmediateFlush,
	})
	if err != nil {
		return errs.New(errs.Storage, "open archive group", err)
	}

	l.state = WaitingForStart
	inlet, err := l.Resolver.OpenInlet(ctx, info, lsl.StandardPostProcessing)
	if err != nil {
		return errs.New(errs.Transport, "open inlet", err)
	}
	defer inlet.Close()

	if err := l.waitForStart(ctx); err != nil {
		// QUIT before START: still finalize an empty group cleanly.
		l.state = Stopping
		return l.finalize(handle)
	}

	l.state = Recording
	firstSampleSeen := false

	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	go l.emitHealth(healthCtx)

	for {
		if l.Channel != nil && (l.Channel.Quit() || !l.Channel.Recording()) {
			break
		}
		select {
		case <-ctx.Done():
			l.state = Stopping
			return l.finalizeWithErr(handle, ctx.Err())
		default:
		}

		chunk, err := inlet.PullChunk(ctx, pullTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			// Lost connection to the bus: end-of-stream, transition to
			// Stopping cleanly rather than propagating.
			l.logger.Warn("acquisition loop: transport error, stopping", "stream", streamName, "error", err)
			break
		}
		if chunk.Count == 0 {
			continue
		}

		if !firstSampleSeen {
			firstSampleSeen = true
			l.emitFirstSample(info)
		}

		if err := handle.Append(chunk.Timestamps, chunk.Values); err != nil {
			l.logger.Error("acquisition loop: append failed, will retry next flush", "stream", streamName, "error", err)
		}
		l.samplesWritten += int64(chunk.Count)
		if handle.NeedsFlush() {
			if err := handle.Flush(); err != nil {
				l.logger.Error("acquisition loop: flush failed", "stream", streamName, "error", err)
			}
			l.lastFlushAt = time.Now()
		}
	}

	l.state = Stopping
	return l.finalize(handle)
}

func (l *Loop) resolve(ctx context.Context) (lsl.StreamInfo, error) {
	attempts := l.Cfg.LSLMaxRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	baseDelay := time.Duration(l.Cfg.LSLRetryBaseDelayMS) * time.Millisecond
	if baseDelay <= 0 {
		baseDelay = 50 * time.Millisecond
	}
	timeout := time.Duration(l.Cfg.ResolveTimeout * float64(time.Second))

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return lsl.StreamInfo{}, errs.New(errs.Resolution, "resolve cancelled", ctx.Err())
			}
			delay *= 2
		}
		info, err := l.Resolver.ResolveBySourceID(ctx, l.Cfg.SourceID, timeout)
		if err == nil {
			return info, nil
		}
		lastErr = err
	}
	return lsl.StreamInfo{}, errs.New(errs.Resolution, fmt.Sprintf("resolve %q after %d attempts", l.Cfg.SourceID, attempts), lastErr)
}

// waitForStart spins until the shared recording flag becomes true, QUIT
// is observed, or ctx is cancelled.
func (l *Loop) waitForStart(ctx context.Context) error {
	if l.Channel == nil {
		return nil
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if l.Channel.Recording() {
			return nil
		}
		if l.Channel.Quit() {
			return fmt.Errorf("quit observed before start")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// emitHealth writes a periodic observational snapshot to l.Health until
// ctx is cancelled. Never affects control-flow: any encode error is
// dropped.
func (l *Loop) emitHealth(ctx context.Context) {
	if l.Health == nil {
		return
	}
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			line, err := health.EncodeLine(health.Snapshot{
				PID:            os.Getpid(),
				SamplesWritten: l.samplesWritten,
				LastFlushAt:    l.lastFlushAt,
				State:          l.state.String(),
			})
			if err != nil {
				continue
			}
			fmt.Fprintln(l.Health, line)
		}
	}
}

func (l *Loop) emitFirstSample(info lsl.StreamInfo) {
	kind := "irregular"
	if info.IsRegular() {
		kind = "regular"
	}
	if l.Status != nil {
		fmt.Fprintf(l.Status, "STATUS FIRST_SAMPLE (%s)\n", kind)
	}
}

func (l *Loop) finalize(handle *archive.Handle) error {
	return l.finalizeWithErr(handle, nil)
}

func (l *Loop) finalizeWithErr(handle *archive.Handle, cause error) error {
	recorderConfig := map[string]any{
		"flush_interval_seconds": l.Cfg.FlushInterval,
		"flush_buffer_size":      l.Cfg.FlushBufferSize,
		"immediate_flush":        l.Cfg.ImmediateFlush,
		"duration":               l.Cfg.Duration,
		"subject":                l.Cfg.Subject,
		"session_id":             l.Cfg.SessionID,
		"notes":                  l.Cfg.Notes,
		"library_version":        LibraryVersion,
		"run_id":                 l.runID,
	}
	if err := handle.Finalize(recorderConfig); err != nil {
		l.state = Finalized
		return err
	}
	l.state = Finalized
	return cause
}

// LibraryVersion is stamped into recorder_config.library_version on every
// finalize.
const LibraryVersion = "1.0.0"
