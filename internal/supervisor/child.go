package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/e7canasta/lslkit/internal/health"
	"github.com/e7canasta/lslkit/internal/statusbus"
)

// child manages one spawned lsl-recorder subprocess: its control stdin,
// its status stdout, and its lifecycle. Grounded on the source service's
// own Python worker subprocess wrapper: pipes set up before Start, a
// dedicated waiter goroutine to avoid zombies, and a bounded stop timeout
// that force-kills a hung process.
type child struct {
	streamName string
	cmd        *exec.Cmd
	stdin      io.WriteCloser

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	firstSampleAt  *time.Time
	isRegular      bool
	exited         bool
	exitErr        error
	exitObservedCh chan struct{}
	lastHealth     *health.Snapshot
}

func spawnChild(ctx context.Context, binary, streamName string, args []string, bus statusbus.Bus) (*child, error) {
	cctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cctx, binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("supervisor: stdin pipe for %s: %w", streamName, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("supervisor: stdout pipe for %s: %w", streamName, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("supervisor: stderr pipe for %s: %w", streamName, err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("supervisor: start %s: %w", streamName, err)
	}

	c := &child{
		streamName:     streamName,
		cmd:            cmd,
		stdin:          stdin,
		ctx:            cctx,
		cancel:         cancel,
		exitObservedCh: make(chan struct{}),
	}

	c.wg.Add(3)
	go c.readStdout(stdout, bus)
	go c.readStderr(stderr)
	go c.waitProcess()

	return c, nil
}

// readStdout publishes every line to the status bus, tagged with the
// stream name, and never blocks: fan-out to the barrier counter and the
// prefixed re-emitter happens downstream in the bus's own subscribers, so
// neither can stall this reader (and, transitively, the child's stdout
// pipe) if it falls behind.
func (c *child) readStdout(r io.Reader, bus statusbus.Bus) {
	defer c.wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if bus != nil {
			bus.Publish(statusbus.Event{StreamName: c.streamName, Line: scanner.Text(), Timestamp: time.Now()})
		}
	}
}

// recordFirstSample latches the first STATUS FIRST_SAMPLE classification
// reported for this child; later calls are no-ops.
func (c *child) recordFirstSample(regular bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firstSampleAt == nil {
		now := time.Now()
		c.firstSampleAt = &now
		c.isRegular = regular
	}
}

func (c *child) readStderr(r io.Reader) {
	defer c.wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if snap, ok := health.DecodeLine(line); ok {
			c.mu.Lock()
			c.lastHealth = &snap
			c.mu.Unlock()
			continue
		}
		slog.Debug("child log", "stream", c.streamName, "line", line)
	}
}

// health returns the most recent HEALTH snapshot reported by this child,
// if any.
func (c *child) health() *health.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHealth
}

func (c *child) waitProcess() {
	defer c.wg.Done()
	err := c.cmd.Wait()
	c.mu.Lock()
	c.exited = true
	c.exitErr = err
	c.mu.Unlock()
	close(c.exitObservedCh)
}

// send writes one control line to the child's stdin.
func (c *child) send(line string) error {
	_, err := fmt.Fprintf(c.stdin, "%s\n", line)
	return err
}

// firstSample reports whether the child has emitted its first-sample
// status, and if so, whether it was a regular stream.
func (c *child) firstSample() (seen bool, regular bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstSampleAt != nil, c.isRegular
}

// hasExited reports whether the child process has already exited, and its
// exit error if any.
func (c *child) hasExited() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exited, c.exitErr
}

// stop closes the child's stdin (asking it to QUIT-drain gracefully) and
// waits up to timeout for exit before force-killing it.
func (c *child) stop(timeout time.Duration) {
	c.stdin.Close()

	select {
	case <-c.exitObservedCh:
	case <-time.After(timeout):
		slog.Warn("supervisor: child stop timeout, killing", "stream", c.streamName)
		if c.cmd.Process != nil {
			c.cmd.Process.Kill()
		}
		<-c.exitObservedCh
	}
	c.cancel()
	c.wg.Wait()
}
