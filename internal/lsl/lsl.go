// Package lsl abstracts the external Lab Streaming Layer bus so the
// recording pipeline can be built and tested without a real LSL
// installation. Concrete bindings live outside this module; lsltest
// provides an in-memory fake used by the recorder's own tests.
package lsl

import (
	"context"
	"time"
)

// ChannelFormat is the wire type of one channel's samples.
type ChannelFormat string

const (
	Float32 ChannelFormat = "float32"
	Float64 ChannelFormat = "float64"
	Int32   ChannelFormat = "int32"
	Int16   ChannelFormat = "int16"
	Int8    ChannelFormat = "int8"
	String  ChannelFormat = "string"
)

// PostProcessing mirrors the inlet post-processing flags requested when a
// stream is opened. Bitwise-combinable.
type PostProcessing uint8

const (
	ClockSync PostProcessing = 1 << iota
	Dejitter
	ThreadSafe
)

// StandardPostProcessing is the flag combination the acquisition loop
// always requests: clock_sync | dejitter | threadsafe.
const StandardPostProcessing = ClockSync | Dejitter | ThreadSafe

// StreamInfo is the immutable per-recording stream descriptor fetched from
// the bus at resolve time.
type StreamInfo struct {
	SourceID      string
	Name          string
	Type          string
	ChannelCount  int
	ChannelFormat ChannelFormat
	NominalSRate  float64
	Hostname      string

	// Description is the parsed opaque XML metadata tree, stored verbatim
	// as a nested structure so it round-trips through the archive
	// attribute file without loss.
	Description map[string]any
}

// IsRegular reports whether the stream has a positive nominal sample rate.
// A NominalSRate of 0 marks an irregular (event/marker) stream.
func (s StreamInfo) IsRegular() bool { return s.NominalSRate > 0 }

// InletBufferSamples computes the adaptive inlet buffer size: at least 360
// samples, or two seconds of samples at the nominal rate for regular
// streams, whichever is larger.
func (s StreamInfo) InletBufferSamples() int {
	if s.NominalSRate <= 0 {
		return 360
	}
	want := int(s.NominalSRate*2 + 0.999999)
	if want < 360 {
		return 360
	}
	return want
}

// Chunk is one pull_chunk result: parallel timestamp and value slices.
// Values holds ChannelCount*len(Timestamps) elements in channel-major
// order matching the archive's [channel_count, sample_count] layout.
type Chunk struct {
	Timestamps []float64
	Values     any // one of []float32, []float64, []int32, []int16, []int8, [][]string
	Count      int
}

// Inlet is a subscription handle to one remote stream.
type Inlet interface {
	// Info returns the descriptor of the subscribed stream.
	Info() StreamInfo

	// PullChunk blocks up to timeout waiting for at least one sample.
	// Returns an empty Chunk (Count == 0) on timeout with no error.
	// Returns io.EOF-wrapping errors once the source disconnects.
	PullChunk(ctx context.Context, timeout time.Duration) (Chunk, error)

	// TimeCorrection returns the current estimated clock offset between
	// the source machine and the local machine, in seconds.
	TimeCorrection() (float64, error)

	// Close releases the inlet. Idempotent.
	Close() error
}

// Resolver finds streams on the bus by source id.
type Resolver interface {
	// ResolveBySourceID blocks up to timeout looking for a stream whose
	// source_id matches id. Returns an error if none is found in time.
	ResolveBySourceID(ctx context.Context, id string, timeout time.Duration) (StreamInfo, error)

	// OpenInlet opens an inlet for a previously resolved stream with the
	// given post-processing flags.
	OpenInlet(ctx context.Context, info StreamInfo, flags PostProcessing) (Inlet, error)
}
