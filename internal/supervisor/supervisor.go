// Package supervisor implements the Multi-Recorder Supervisor: it spawns
// one lsl-recorder child process per requested source id, broadcasts a
// single Command Channel to all of them, and holds a deferred STOP_AFTER
// broadcast behind a first-sample barrier so a coordinated duration
// measures real recording time rather than resolve latency.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/e7canasta/lslkit/internal/config"
	"github.com/e7canasta/lslkit/internal/errs"
	"github.com/e7canasta/lslkit/internal/health"
	"github.com/e7canasta/lslkit/internal/lsl"
	"github.com/e7canasta/lslkit/internal/statusbus"
)

// stopTimeout bounds how long the supervisor waits for a child to exit
// after its stdin is closed before it force-kills the process.
const stopTimeout = 5 * time.Second

// Supervisor coordinates the child recorders for one multi-stream session.
type Supervisor struct {
	Cfg      config.MultiRecorder
	Resolver lsl.Resolver
	Binary   string // path to the lsl-recorder executable
	Out      io.Writer
	Control  io.Reader
	Bus      statusbus.Bus

	mu       sync.Mutex
	children []*child
	regular  int // R: count of children resolved to a regular stream, known pre-spawn

	barrierOnce sync.Once
	barrierCh   chan struct{}

	pendingMu        sync.Mutex
	pendingStopAfter string // raw "STOP_AFTER <n>" line awaiting the barrier

	aborted bool
	failed  bool

	// spawnFn overrides how children are started; nil means spawnChild.
	// Tests substitute a fake here to exercise Run's barrier/broadcast
	// wiring without an lsl-recorder binary to exec.
	spawnFn func(ctx context.Context, binary, streamName string, args []string, bus statusbus.Bus) (*child, error)
}

// Run resolves every configured source id, spawns a child per stream,
// relays this process's own stdin as the shared control channel, and
// blocks until every child has exited or the context is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.Bus == nil {
		s.Bus = statusbus.New()
	}
	s.barrierCh = make(chan struct{})

	consumerCtx, stopConsumers := context.WithCancel(ctx)
	defer stopConsumers()
	s.runStatusConsumers(consumerCtx)

	descriptors, err := s.resolveAll(ctx)
	if err != nil {
		return err
	}

	if err := s.spawnAll(ctx, descriptors); err != nil {
		s.abortAll("spawn failure")
		return err
	}

	if s.Cfg.Duration > 0 {
		s.setPendingStopAfter(fmt.Sprintf("STOP_AFTER %g", s.Cfg.Duration))
	}

	if s.regular == 0 {
		s.passBarrier()
	}

	go s.watchChildExits(ctx)

	controlDone := make(chan struct{})
	go func() {
		s.readControl(ctx)
		close(controlDone)
	}()
	select {
	case <-controlDone:
	case <-ctx.Done():
	}

	s.waitAllExited()

	if s.aborted {
		return errs.New(errs.Coordination, "supervisor", fmt.Errorf("a child exited before start; aborted remaining children"))
	}
	if s.failed {
		return errs.New(errs.Coordination, "supervisor", fmt.Errorf("one or more children exited with an error"))
	}
	return nil
}

// resolveAll fetches each stream's descriptor before spawning, so the
// regular-stream count R needed by the first-sample barrier is known up
// front rather than inferred from status tokens as children report in.
func (s *Supervisor) resolveAll(ctx context.Context) ([]lsl.StreamInfo, error) {
	timeout := time.Duration(s.Cfg.ResolveTimeout * float64(time.Second))
	descriptors := make([]lsl.StreamInfo, len(s.Cfg.SourceIDs))
	for i, id := range s.Cfg.SourceIDs {
		info, err := s.Resolver.ResolveBySourceID(ctx, id, timeout)
		if err != nil {
			return nil, errs.New(errs.Resolution, fmt.Sprintf("resolve %q", id), err)
		}
		descriptors[i] = info
		if info.IsRegular() {
			s.regular++
		}
	}
	return descriptors, nil
}

func (s *Supervisor) spawnAll(ctx context.Context, descriptors []lsl.StreamInfo) error {
	spawn := s.spawnFn
	if spawn == nil {
		spawn = spawnChild
	}
	for i, info := range descriptors {
		streamName := info.Name
		if i < len(s.Cfg.StreamNames) && s.Cfg.StreamNames[i] != "" {
			streamName = s.Cfg.StreamNames[i]
		}
		args := s.childArgs(s.Cfg.SourceIDs[i], streamName)
		c, err := spawn(ctx, s.Binary, streamName, args, s.Bus)
		if err != nil {
			return errs.New(errs.Coordination, fmt.Sprintf("spawn child %q", streamName), err)
		}
		s.mu.Lock()
		s.children = append(s.children, c)
		s.mu.Unlock()
	}
	return nil
}

func (s *Supervisor) childArgs(sourceID, streamName string) []string {
	args := []string{
		"--source-id", sourceID,
		"--stream-name", streamName,
		"--output", s.Cfg.Output,
		"--flush-interval", strconv.FormatFloat(s.Cfg.FlushInterval, 'f', -1, 64),
		"--resolve-timeout", strconv.FormatFloat(s.Cfg.ResolveTimeout, 'f', -1, 64),
		"--managed",
		"--interactive",
	}
	if s.Cfg.Subject != "" {
		args = append(args, "--subject", s.Cfg.Subject)
	}
	if s.Cfg.SessionID != "" {
		args = append(args, "--session-id", s.Cfg.SessionID)
	}
	if s.Cfg.Notes != "" {
		args = append(args, "--notes", s.Cfg.Notes)
	}
	if s.Cfg.Duration > 0 {
		args = append(args, "--duration", strconv.FormatFloat(s.Cfg.Duration, 'f', -1, 64))
	}
	if s.Cfg.Quiet {
		args = append(args, "--quiet")
	}
	return args
}

// readControl parses this process's own stdin using the same line grammar
// as the single-recorder Command Channel, broadcasting each token to every
// child. STOP_AFTER is special-cased: it is held until the first-sample
// barrier passes so the coordinated duration starts from real data, not
// from resolve latency.
func (s *Supervisor) readControl(ctx context.Context) {
	if s.Control == nil {
		return
	}
	scanner := bufio.NewScanner(s.Control)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		verb := strings.ToUpper(fields[0])

		switch verb {
		case "START":
			s.broadcast("START")
		case "STOP":
			s.clearPendingStopAfter()
			s.broadcast("STOP")
		case "STOP_AFTER":
			select {
			case <-s.barrierCh:
				s.broadcast(line)
			default:
				s.setPendingStopAfter(line)
			}
		case "QUIT":
			s.clearPendingStopAfter()
			s.broadcast("QUIT")
			return
		default:
			slog.Warn("supervisor: unknown control line", "line", line)
		}
	}
}

// runStatusConsumers subscribes the barrier counter and the prefixed
// stdout re-emitter to the status bus as two independent consumers, each
// with its own bounded channel, so a slow one (e.g. a stalled Out writer)
// drops its own events instead of backing up onto the child stdout
// readers that publish them. Both goroutines exit when ctx is done.
func (s *Supervisor) runStatusConsumers(ctx context.Context) {
	const barrierSub, emitSub = "barrier", "emit"

	barrierCh := make(chan statusbus.Event, 64)
	if err := s.Bus.Subscribe(barrierSub, barrierCh); err != nil {
		slog.Warn("supervisor: subscribe barrier consumer", "error", err)
	}
	emitCh := make(chan statusbus.Event, 64)
	if err := s.Bus.Subscribe(emitSub, emitCh); err != nil {
		slog.Warn("supervisor: subscribe emit consumer", "error", err)
	}

	go func() {
		defer s.Bus.Unsubscribe(barrierSub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-barrierCh:
				s.classifyFirstSample(ev)
			}
		}
	}()
	go func() {
		defer s.Bus.Unsubscribe(emitSub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-emitCh:
				fmt.Fprintf(s.Out, "%s\t%s\n", ev.StreamName, ev.Line)
			}
		}
	}()
}

// classifyFirstSample latches the STATUS FIRST_SAMPLE classification onto
// the matching child, driving the first-sample barrier.
func (s *Supervisor) classifyFirstSample(ev statusbus.Event) {
	if !strings.HasPrefix(ev.Line, "STATUS FIRST_SAMPLE") {
		return
	}
	regular := strings.Contains(ev.Line, "(regular)")

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.children {
		if c.streamName == ev.StreamName {
			c.recordFirstSample(regular)
			return
		}
	}
}

func (s *Supervisor) broadcast(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.children {
		if exited, _ := c.hasExited(); exited {
			continue
		}
		if err := c.send(line); err != nil {
			slog.Warn("supervisor: broadcast failed", "stream", c.streamName, "error", err)
		}
	}
}

func (s *Supervisor) setPendingStopAfter(line string) {
	s.pendingMu.Lock()
	s.pendingStopAfter = line
	s.pendingMu.Unlock()
}

func (s *Supervisor) clearPendingStopAfter() {
	s.pendingMu.Lock()
	s.pendingStopAfter = ""
	s.pendingMu.Unlock()
}

// passBarrier closes the barrier channel exactly once and flushes any
// STOP_AFTER that arrived before it passed.
func (s *Supervisor) passBarrier() {
	s.barrierOnce.Do(func() {
		close(s.barrierCh)
		s.pendingMu.Lock()
		pending := s.pendingStopAfter
		s.pendingStopAfter = ""
		s.pendingMu.Unlock()
		if pending != "" {
			s.broadcast(pending)
		}
	})
}

// watchChildExits polls for a child that reported its first sample (to
// drive the barrier) and for premature child exits (to drive the abort /
// continue-others failure semantics).
func (s *Supervisor) watchChildExits(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		children := append([]*child(nil), s.children...)
		s.mu.Unlock()

		regularReported := 0
		anyPrematureExit := false
		anyMidExit := false
		for _, c := range children {
			if seen, isRegular := c.firstSample(); seen && isRegular {
				regularReported++
			}
			if exited, err := c.hasExited(); exited {
				seen, _ := c.firstSample()
				if !seen {
					anyPrematureExit = true
				} else if err != nil {
					anyMidExit = true
				}
			}
		}

		if s.regular > 0 && regularReported >= s.regular {
			s.passBarrier()
		}
		if anyPrematureExit {
			s.abortAll("child exited before start")
			return
		}
		if anyMidExit {
			s.mu.Lock()
			s.failed = true
			s.mu.Unlock()
		}
	}
}

func (s *Supervisor) abortAll(reason string) {
	s.mu.Lock()
	s.aborted = true
	s.mu.Unlock()
	slog.Error("supervisor: aborting all children", "reason", reason)
	s.broadcast("QUIT")
}

// ChildHealth returns the most recent HEALTH snapshot for streamName, if
// any child by that name has reported one.
func (s *Supervisor) ChildHealth(streamName string) *health.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.children {
		if c.streamName == streamName {
			return c.health()
		}
	}
	return nil
}

func (s *Supervisor) waitAllExited() {
	s.mu.Lock()
	children := append([]*child(nil), s.children...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range children {
		wg.Add(1)
		go func(c *child) {
			defer wg.Done()
			c.stop(stopTimeout)
		}(c)
	}
	wg.Wait()
}
