// Package command implements the Command Channel: a line-oriented control
// grammar read from stdin (or any io.Reader) that toggles the two shared
// atomic flags every Acquisition Loop observes.
package command

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Channel holds the process-wide recording/quit state and the single
// deferred STOP_AFTER scheduler. recording and quit are the only shared
// state crossing worker boundaries; quit is monotonic once set.
type Channel struct {
	recording atomic.Bool
	quit      atomic.Bool

	mu        sync.Mutex
	stopTimer *time.Timer

	onStart func()
	onStop  func()
	onQuit  func()
}

// New builds an idle Channel. The onXxx callbacks are optional hooks
// invoked synchronously as each token is applied; onStop is also invoked
// from the timer goroutine when a scheduled STOP_AFTER fires. Nil
// callbacks are skipped.
func New(onStart, onStop, onQuit func()) *Channel {
	return &Channel{onStart: onStart, onStop: onStop, onQuit: onQuit}
}

// Recording reports the current recording flag.
func (c *Channel) Recording() bool { return c.recording.Load() }

// Quit reports the current quit flag. Monotonic: once true, always true.
func (c *Channel) Quit() bool { return c.quit.Load() }

// Start reads lines from r until EOF, ctx cancellation, or QUIT, applying
// each recognized token. Unknown lines are logged and ignored.
func (c *Channel) Start(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if err := c.apply(line); err != nil {
				slog.Warn("command channel: ignoring line", "line", line, "error", err)
			}
			if c.Quit() {
				return nil
			}
		}
	}
}

// Apply parses and applies a single control line; exported so a caller
// (the standalone recorder) can drive a Channel directly without a reader.
func (c *Channel) Apply(line string) error { return c.apply(line) }

func (c *Channel) apply(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	verb := strings.ToUpper(fields[0])

	switch verb {
	case "START":
		c.cancelScheduledStop()
		c.recording.Store(true)
		if c.onStart != nil {
			c.onStart()
		}
		return nil

	case "STOP":
		c.cancelScheduledStop()
		c.recording.Store(false)
		if c.onStop != nil {
			c.onStop()
		}
		return nil

	case "STOP_AFTER":
		if len(fields) < 2 {
			return fmt.Errorf("STOP_AFTER requires a duration argument")
		}
		seconds, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || seconds <= 0 {
			return fmt.Errorf("STOP_AFTER argument must be a positive real number: %q", fields[1])
		}
		c.scheduleStop(time.Duration(seconds * float64(time.Second)))
		return nil

	case "QUIT":
		c.cancelScheduledStop()
		c.recording.Store(false)
		c.quit.Store(true)
		if c.onQuit != nil {
			c.onQuit()
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", verb)
	}
}

// scheduleStop arms the single deferred stop task; a second STOP_AFTER
// supersedes the first.
func (c *Channel) scheduleStop(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopTimer != nil {
		c.stopTimer.Stop()
	}
	c.stopTimer = time.AfterFunc(d, func() {
		c.recording.Store(false)
		if c.onStop != nil {
			c.onStop()
		}
	})
}

func (c *Channel) cancelScheduledStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopTimer != nil {
		c.stopTimer.Stop()
		c.stopTimer = nil
	}
}
