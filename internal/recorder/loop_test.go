package recorder

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/e7canasta/lslkit/internal/archive"
	"github.com/e7canasta/lslkit/internal/command"
	"github.com/e7canasta/lslkit/internal/config"
	"github.com/e7canasta/lslkit/internal/lsl"
	"github.com/e7canasta/lslkit/internal/lsl/lsltest"
)

func regularStream() *lsltest.Stream {
	return &lsltest.Stream{
		Info: lsl.StreamInfo{
			SourceID:      "eeg-01",
			Name:          "EEG",
			ChannelCount:  1,
			ChannelFormat: lsl.Float64,
			NominalSRate:  250,
		},
		Samples: []lsltest.Sample{
			{Timestamp: 10.0, Values: []float64{1}},
			{Timestamp: 10.1, Values: []float64{2}},
			{Timestamp: 10.2, Values: []float64{3}},
		},
	}
}

func newLoop(t *testing.T, resolver *lsltest.Resolver, cfg config.Recorder, ch *command.Channel) (*Loop, *archive.Writer, string) {
	t.Helper()
	root := t.TempDir()
	w, err := archive.NewWriter(root)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	var status, health bytes.Buffer
	loop := &Loop{
		Resolver: resolver,
		Archive:  w,
		Cfg:      cfg,
		Channel:  ch,
		Status:   &status,
		Health:   &health,
	}
	return loop, w, root
}

func TestLoopFullLifecycleEmitsFirstSampleAndFinalizes(t *testing.T) {
	resolver := lsltest.NewResolver()
	resolver.Register(regularStream())

	ch := command.New(nil, nil, nil)
	cfg := config.Recorder{SourceID: "eeg-01", StreamName: "eeg", ResolveTimeout: 1, FlushInterval: 1000, FlushBufferSize: 10000}
	loop, _, root := newLoop(t, resolver, cfg, ch)

	var status bytes.Buffer
	loop.Status = &status

	ch.Apply("START")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	// Give the loop a moment to pull the fixed chunk, then stop it.
	time.Sleep(150 * time.Millisecond)
	ch.Apply("QUIT")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not finish after QUIT")
	}

	if !strings.Contains(status.String(), "STATUS FIRST_SAMPLE (regular)") {
		t.Fatalf("expected a FIRST_SAMPLE status line, got %q", status.String())
	}
	if loop.State() != Finalized {
		t.Fatalf("State() = %v, want Finalized", loop.State())
	}

	g, err := archive.OpenGroup(root, "eeg")
	if err != nil {
		t.Fatalf("OpenGroup: %v", err)
	}
	times, err := g.ReadTime()
	if err != nil {
		t.Fatalf("ReadTime: %v", err)
	}
	if len(times) != 3 {
		t.Fatalf("len(times) = %d, want 3", len(times))
	}
}

func TestLoopQuitBeforeStartFinalizesEmptyGroup(t *testing.T) {
	resolver := lsltest.NewResolver()
	resolver.Register(regularStream())

	ch := command.New(nil, nil, nil)
	cfg := config.Recorder{SourceID: "eeg-01", StreamName: "eeg", ResolveTimeout: 1, FlushInterval: 1000, FlushBufferSize: 10000}
	loop, _, root := newLoop(t, resolver, cfg, ch)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	// QUIT observed before the channel ever reaches Recording().
	time.Sleep(20 * time.Millisecond)
	ch.Apply("QUIT")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not finish after QUIT-before-START")
	}

	g, err := archive.OpenGroup(root, "eeg")
	if err != nil {
		t.Fatalf("OpenGroup: %v", err)
	}
	attrs, err := g.Attrs()
	if err != nil {
		t.Fatalf("Attrs: %v", err)
	}
	if attrs.FirstTimestamp != nil {
		t.Fatalf("expected no samples recorded, got FirstTimestamp=%v", *attrs.FirstTimestamp)
	}
}

func TestLoopResolutionFailureIsFatal(t *testing.T) {
	resolver := lsltest.NewResolver() // no streams registered

	ch := command.New(nil, nil, nil)
	cfg := config.Recorder{
		SourceID: "does-not-exist", StreamName: "eeg", ResolveTimeout: 1,
		FlushInterval: 1000, FlushBufferSize: 10000,
		LSLMaxRetryAttempts: 1, LSLRetryBaseDelayMS: 1,
	}
	loop, _, _ := newLoop(t, resolver, cfg, ch)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := loop.Run(ctx); err == nil {
		t.Fatal("expected resolution failure to be fatal")
	}
}
