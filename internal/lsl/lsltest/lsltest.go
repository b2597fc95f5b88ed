// Package lsltest is an in-memory fake of the lsl package's Resolver and
// Inlet interfaces used to exercise the acquisition loop, archive writer,
// and supervisor without a real Lab Streaming Layer bus. It is test-only
// and is never wired into a shipped binary.
package lsltest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/e7canasta/lslkit/internal/lsl"
)

// Resolver is a Resolver backed by a fixed, in-memory registry of streams.
type Resolver struct {
	mu      sync.Mutex
	streams map[string]*Stream
}

// NewResolver builds a Resolver with no registered streams.
func NewResolver() *Resolver {
	return &Resolver{streams: make(map[string]*Stream)}
}

// Register makes a synthetic stream resolvable by its SourceID.
func (r *Resolver) Register(s *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[s.Info.SourceID] = s
}

func (r *Resolver) ResolveBySourceID(ctx context.Context, id string, timeout time.Duration) (lsl.StreamInfo, error) {
	r.mu.Lock()
	s, ok := r.streams[id]
	r.mu.Unlock()
	if !ok {
		return lsl.StreamInfo{}, fmt.Errorf("no stream found for source_id %q within %s", id, timeout)
	}
	return s.Info, nil
}

func (r *Resolver) OpenInlet(ctx context.Context, info lsl.StreamInfo, flags lsl.PostProcessing) (lsl.Inlet, error) {
	r.mu.Lock()
	s, ok := r.streams[info.SourceID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no stream found for source_id %q", info.SourceID)
	}
	return newInlet(s), nil
}

// Stream is a synthetic source: a fixed slice of pre-generated samples
// that an inlet delivers once. Tests fill Samples up-front and set
// PullDelay to control pacing.
type Stream struct {
	Info    lsl.StreamInfo
	Samples []Sample

	// PullDelay simulates bus/network latency per PullChunk call.
	PullDelay time.Duration
}

// Sample is one (timestamp, values) pair in the format matching Info.ChannelFormat.
type Sample struct {
	Timestamp float64
	Values    []float64 // interpreted per Info.ChannelFormat by the inlet
}

type inlet struct {
	stream *Stream
	mu     sync.Mutex
	cursor int
	closed bool
}

func newInlet(s *Stream) *inlet {
	return &inlet{stream: s}
}

func (in *inlet) Info() lsl.StreamInfo { return in.stream.Info }

func (in *inlet) PullChunk(ctx context.Context, timeout time.Duration) (lsl.Chunk, error) {
	if in.stream.PullDelay > 0 {
		select {
		case <-time.After(in.stream.PullDelay):
		case <-ctx.Done():
			return lsl.Chunk{}, ctx.Err()
		}
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return lsl.Chunk{}, fmt.Errorf("inlet closed")
	}
	if in.cursor >= len(in.stream.Samples) {
		return lsl.Chunk{}, nil
	}

	// Deliver everything remaining as one chunk; tests that want partial
	// delivery construct multiple Streams/inlets instead.
	pending := in.stream.Samples[in.cursor:]
	in.cursor = len(in.stream.Samples)

	timestamps := make([]float64, len(pending))
	for i, s := range pending {
		timestamps[i] = s.Timestamp
	}

	values := encodeValues(in.stream.Info.ChannelFormat, in.stream.Info.ChannelCount, pending)

	return lsl.Chunk{Timestamps: timestamps, Values: values, Count: len(pending)}, nil
}

func encodeValues(format lsl.ChannelFormat, channelCount int, samples []Sample) any {
	n := len(samples)
	switch format {
	case lsl.Float64:
		out := make([]float64, channelCount*n)
		for i, s := range samples {
			for c := 0; c < channelCount && c < len(s.Values); c++ {
				out[c*n+i] = s.Values[c]
			}
		}
		return out
	case lsl.Float32:
		out := make([]float32, channelCount*n)
		for i, s := range samples {
			for c := 0; c < channelCount && c < len(s.Values); c++ {
				out[c*n+i] = float32(s.Values[c])
			}
		}
		return out
	case lsl.Int32:
		out := make([]int32, channelCount*n)
		for i, s := range samples {
			for c := 0; c < channelCount && c < len(s.Values); c++ {
				out[c*n+i] = int32(s.Values[c])
			}
		}
		return out
	case lsl.Int16:
		out := make([]int16, channelCount*n)
		for i, s := range samples {
			for c := 0; c < channelCount && c < len(s.Values); c++ {
				out[c*n+i] = int16(s.Values[c])
			}
		}
		return out
	case lsl.Int8:
		out := make([]int8, channelCount*n)
		for i, s := range samples {
			for c := 0; c < channelCount && c < len(s.Values); c++ {
				out[c*n+i] = int8(s.Values[c])
			}
		}
		return out
	default:
		out := make([][]string, channelCount)
		for c := range out {
			out[c] = make([]string, n)
		}
		return out
	}
}

func (in *inlet) TimeCorrection() (float64, error) { return 0, nil }

func (in *inlet) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	return nil
}
