package supervisor

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/e7canasta/lslkit/internal/statusbus"
)

type nopWriteCloser struct {
	*bytes.Buffer
	didClose bool
}

func (n *nopWriteCloser) Close() error {
	n.didClose = true
	return nil
}

func newTestChild(t *testing.T) (*child, *nopWriteCloser) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	buf := &nopWriteCloser{Buffer: &bytes.Buffer{}}
	c := &child{
		streamName:     "eeg",
		stdin:          buf,
		ctx:            ctx,
		cancel:         cancel,
		exitObservedCh: make(chan struct{}),
	}
	return c, buf
}

func TestChildSendWritesLine(t *testing.T) {
	c, buf := newTestChild(t)
	if err := c.send("START"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if buf.String() != "START\n" {
		t.Fatalf("stdin content = %q, want %q", buf.String(), "START\n")
	}
}

func TestChildReadStdoutPublishesEachLineToTheBus(t *testing.T) {
	c, _ := newTestChild(t)
	c.wg.Add(1)

	r, w := io.Pipe()
	bus := statusbus.New()
	ch := make(chan statusbus.Event, 4)
	bus.Subscribe("test", ch)

	go c.readStdout(r, bus)
	go func() {
		io.WriteString(w, "STATUS FIRST_SAMPLE (regular)\nsome other line\n")
		w.Close()
	}()

	c.wg.Wait()

	var lines []string
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			if ev.StreamName != "eeg" {
				t.Fatalf("event StreamName = %q, want eeg", ev.StreamName)
			}
			lines = append(lines, ev.Line)
		case <-time.After(time.Second):
			t.Fatal("expected status bus to receive an event")
		}
	}
	if lines[0] != "STATUS FIRST_SAMPLE (regular)" || lines[1] != "some other line" {
		t.Fatalf("got published lines %v", lines)
	}

	// readStdout only publishes; classification is the bus subscriber's job.
	if seen, _ := c.firstSample(); seen {
		t.Fatal("expected firstSample() to remain false: readStdout no longer classifies inline")
	}
}

func TestChildReadStdoutToleratesNilBus(t *testing.T) {
	c, _ := newTestChild(t)
	c.wg.Add(1)
	r, w := io.Pipe()

	go c.readStdout(r, nil)
	go func() {
		io.WriteString(w, "line one\n")
		w.Close()
	}()
	c.wg.Wait() // must not panic with a nil bus
}

func TestChildRecordFirstSampleLatchesFirstClassification(t *testing.T) {
	c, _ := newTestChild(t)

	c.recordFirstSample(true)
	seen, regular := c.firstSample()
	if !seen || !regular {
		t.Fatalf("firstSample() = (%v, %v), want (true, true)", seen, regular)
	}

	c.recordFirstSample(false) // must not overwrite the first classification
	if _, regular := c.firstSample(); !regular {
		t.Fatal("expected the first classification to stick")
	}
}

func TestChildReadStderrIgnoresCorruptHealthLines(t *testing.T) {
	c, _ := newTestChild(t)
	c.wg.Add(1)
	r, w := io.Pipe()

	go c.readStderr(r)
	go func() {
		io.WriteString(w, "HEALTH\tnot-real-but-will-fail-decode\nordinary log line\n")
		w.Close()
	}()
	c.wg.Wait()

	// Malformed HEALTH payload must not populate lastHealth (DecodeLine
	// returns ok=false and the loop falls through to logging).
	if c.health() != nil {
		t.Fatalf("expected no health snapshot from a corrupt line, got %+v", c.health())
	}
}

func TestChildStopClosesStdinAndWaitsForExit(t *testing.T) {
	c, buf := newTestChild(t)
	close(c.exitObservedCh) // simulate an already-exited process

	c.stop(time.Second)

	if !buf.didClose {
		t.Fatal("expected stdin to be closed by stop")
	}
}

func TestFirstSampleAndHasExitedDefaults(t *testing.T) {
	c, _ := newTestChild(t)
	if seen, _ := c.firstSample(); seen {
		t.Fatal("expected firstSample() false before any STATUS line")
	}
	if exited, err := c.hasExited(); exited || err != nil {
		t.Fatalf("hasExited() = (%v, %v), want (false, nil)", exited, err)
	}
}
