// Package archive implements the Archive Writer: chunked, concurrency-safe
// persistence of one stream's samples and timestamps to disk, plus the
// attribute bookkeeping the Alignment Engine later augments.
package archive

import (
	"encoding/binary"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/e7canasta/lslkit/internal/archive/codec"
	"github.com/e7canasta/lslkit/internal/archive/store"
	"github.com/e7canasta/lslkit/internal/errs"
	"github.com/e7canasta/lslkit/internal/lsl"
)

// dataChunkSamples/timeChunkSamples are the fixed chunk shapes named in
// the archive contract: small enough that an end-of-recording tail is
// cheap to flush, large enough to amortize compression.
const (
	dataChunkSamples = 100
	timeChunkSamples = 1000

	// stringFieldWidth is the fixed per-sample byte budget for string
	// (marker/event) channels: a 2-byte length prefix plus UTF-8 payload.
	stringFieldWidth = 256
)

// Writer manages one archive root directory. Multiple Writers (in
// different processes) may point at the same root, each owning disjoint
// stream groups.
type Writer struct {
	Root string
}

// NewWriter creates the archive root directory if absent.
func NewWriter(root string) (*Writer, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errs.New(errs.Storage, "create archive root", err)
	}
	return &Writer{Root: root}, nil
}

// Handle is an open stream group: one Acquisition Loop owns exactly one
// Handle for its lifetime.
type Handle struct {
	writer     *Writer
	streamName string
	dir        string
	info       lsl.StreamInfo

	dataArray *store.Array
	timeArray *store.Array

	flushIntervalSeconds float64
	flushBufferSize      int
	immediateFlush       bool

	// pending samples not yet flushed to disk.
	pendingTimestamps []float64
	pendingValues     any // same shape convention as lsl.Chunk.Values

	firstTimestamp *float64
	lastTimestamp  *float64

	lastFlushAt       time.Time
	lastFlushDuration time.Duration
	slowFlushWarnings int
}

// FlushConfig carries the recording config fields that shape flush
// behavior; defined here so this package does not import internal/config.
type FlushConfig struct {
	FlushIntervalSeconds float64
	FlushBufferSize      int
	ImmediateFlush       bool
}

// maxBufferSamples is the emergency-flush cap: even if the caller never
// calls Flush, a pathologically slow flusher must not grow the pending
// buffer without bound. Mirrors the source writer's own safety valve.
func maxBufferSamples(flushBufferSize int) int {
	limit := flushBufferSize * 10
	if limit < 1000 {
		limit = 1000
	}
	return limit
}

// OpenOrCreate opens the group for streamName, creating it (and, if
// necessary, the archive root) on first use. Group creation is guarded by
// an advisory file lock on a sibling .lock file so two processes racing to
// create the same group never corrupt each other's metadata; the lock is
// held for the create-or-verify interval and never during chunk writes
// (Flush retakes it briefly to publish array metadata).
func (w *Writer) OpenOrCreate(streamName string, info lsl.StreamInfo, cfg FlushConfig) (*Handle, error) {
	dir := filepath.Join(w.Root, streamName)

	lockPath := filepath.Join(w.Root, ".lslkit-group.lock")
	lockFileHandle, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errs.New(errs.Storage, "open group lock", err)
	}
	defer lockFileHandle.Close()

	if err := lockFile(lockFileHandle); err != nil {
		return nil, errs.New(errs.Storage, "acquire group lock", err)
	}
	defer unlockFile(lockFileHandle)

	h := &Handle{
		writer:               w,
		streamName:           streamName,
		dir:                  dir,
		info:                 info,
		flushIntervalSeconds: cfg.FlushIntervalSeconds,
		flushBufferSize:      cfg.FlushBufferSize,
		immediateFlush:       cfg.ImmediateFlush,
		lastFlushAt:          time.Now(),
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := h.createGroup(); err != nil {
			return nil, err
		}
	} else {
		if err := h.openGroup(); err != nil {
			return nil, err
		}
	}

	return h, nil
}

func (h *Handle) createGroup() error {
	dataShuffle, elemSize := codec.ShuffleFor(h.info.ChannelFormat)
	if h.info.ChannelFormat == lsl.String {
		elemSize = stringFieldWidth
	}
	timeShuffle, timeElemSize := codec.ShuffleFor(lsl.Float64)

	dataArray, err := store.Create(filepath.Join(h.dir, "data"), []int{h.info.ChannelCount}, string(h.info.ChannelFormat), elemSize, dataChunkSamples, dataShuffle)
	if err != nil {
		return errs.New(errs.Storage, "create data array", err)
	}
	timeArray, err := store.Create(filepath.Join(h.dir, "time"), nil, "float64", timeElemSize, timeChunkSamples, timeShuffle)
	if err != nil {
		return errs.New(errs.Storage, "create time array", err)
	}

	h.dataArray = dataArray
	h.timeArray = timeArray

	attrs := StreamAttrs{
		StreamInfo:     attrsFromInfo(h.info),
		RecorderConfig: map[string]any{},
	}
	if err := saveAttrs(h.dir, attrs); err != nil {
		return errs.New(errs.Storage, "write initial attrs", err)
	}
	return nil
}

func (h *Handle) openGroup() error {
	dataArray, err := store.Open(filepath.Join(h.dir, "data"))
	if err != nil {
		return errs.New(errs.Storage, "open data array", err)
	}
	timeArray, err := store.Open(filepath.Join(h.dir, "time"))
	if err != nil {
		return errs.New(errs.Storage, "open time array", err)
	}
	h.dataArray = dataArray
	h.timeArray = timeArray
	return nil
}

// Append buffers n new samples for the eventual flush; it does not touch
// disk itself unless the buffer's own emergency cap is exceeded.
func (h *Handle) Append(timestamps []float64, values any) error {
	n := len(timestamps)
	if n == 0 {
		return nil
	}

	h.pendingTimestamps = append(h.pendingTimestamps, timestamps...)
	h.pendingValues = appendValues(h.info.ChannelFormat, h.info.ChannelCount, h.pendingValues, values, n)

	for _, ts := range timestamps {
		if h.firstTimestamp == nil {
			t := ts
			h.firstTimestamp = &t
		}
		t := ts
		h.lastTimestamp = &t
	}

	if len(h.pendingTimestamps) >= maxBufferSamples(h.flushBufferSize) {
		return h.Flush()
	}
	return nil
}

// NeedsFlush reports whether pending samples should be persisted now,
// mirroring the source writer's flush triggers: immediate-flush mode,
// buffer-size threshold, elapsed-time threshold, or a backpressure signal
// from a previous slow flush.
func (h *Handle) NeedsFlush() bool {
	pending := len(h.pendingTimestamps)
	if pending == 0 {
		return false
	}
	if h.immediateFlush {
		return true
	}
	if pending >= h.flushBufferSize {
		return true
	}
	if time.Since(h.lastFlushAt).Seconds() >= h.flushIntervalSeconds {
		return true
	}
	if pending > h.flushBufferSize/2 && h.lastFlushDuration > 50*time.Millisecond {
		return true
	}
	return false
}

// Flush writes buffered samples to disk. Per the archive's partial-write
// invariant, the time array is written after the data array within each
// flush, and group metadata is updated only after both chunk writes
// succeed, under the group lock, so a reader never observes mismatched
// lengths.
func (h *Handle) Flush() error {
	n := len(h.pendingTimestamps)
	if n == 0 {
		return nil
	}
	start := time.Now()

	dataBytes, err := encodeValuesToBytes(h.info.ChannelFormat, h.info.ChannelCount, h.pendingValues, n)
	if err != nil {
		return errs.New(errs.Storage, "encode pending samples", err)
	}
	if err := h.dataArray.AppendRows(dataBytes, n); err != nil {
		return errs.New(errs.Storage, "append data chunk", err)
	}

	timeBytes := float64SliceToBytes(h.pendingTimestamps)
	if err := h.timeArray.AppendRows(timeBytes, n); err != nil {
		return errs.New(errs.Storage, "append time chunk", err)
	}

	lockPath := filepath.Join(h.writer.Root, ".lslkit-group.lock")
	lockFileHandle, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return errs.New(errs.Storage, "open group lock for flush metadata", err)
	}
	defer lockFileHandle.Close()
	if err := lockFile(lockFileHandle); err != nil {
		return errs.New(errs.Storage, "acquire group lock for flush metadata", err)
	}
	defer unlockFile(lockFileHandle)

	if err := h.dataArray.WriteMeta(); err != nil {
		return errs.New(errs.Storage, "write data array metadata", err)
	}
	if err := h.timeArray.WriteMeta(); err != nil {
		return errs.New(errs.Storage, "write time array metadata", err)
	}

	h.pendingTimestamps = nil
	h.pendingValues = nil
	h.lastFlushAt = time.Now()
	h.lastFlushDuration = time.Since(start)
	if h.lastFlushDuration > 100*time.Millisecond && h.slowFlushWarnings < 5 {
		h.slowFlushWarnings++
		slog.Warn("archive: slow flush", "stream", h.streamName, "duration", h.lastFlushDuration, "warning", h.slowFlushWarnings)
	}
	return nil
}

// Finalize drains any residual buffered samples, writes closing
// attributes, and releases the handle. It must run on every exit path
// from the owning Acquisition Loop, including QUIT.
func (h *Handle) Finalize(recorderConfig map[string]any) error {
	if err := h.Flush(); err != nil {
		return err
	}

	attrs, err := loadAttrs(h.dir)
	if err != nil {
		return errs.New(errs.Storage, "load attrs for finalize", err)
	}
	attrs.StreamInfo = attrsFromInfo(h.info)
	attrs.RecorderConfig = recorderConfig
	attrs.FirstTimestamp = h.firstTimestamp
	attrs.LastTimestamp = h.lastTimestamp

	if err := saveAttrs(h.dir, attrs); err != nil {
		return errs.New(errs.Storage, "write final attrs", err)
	}
	return nil
}

// StreamName returns the group name this handle owns.
func (h *Handle) StreamName() string { return h.streamName }

// Dir returns the group directory on disk.
func (h *Handle) Dir() string { return h.dir }

func float64SliceToBytes(vals []float64) []byte {
	out := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}
