// Package store implements a small hierarchical chunked-array engine: one
// array is a directory of numbered chunk files plus a metadata sidecar,
// modeled on a v3-style store. It exists because no third-party Go binding
// for such a store is available in this module's dependency set (see
// DESIGN.md); the chunk lifecycle itself follows the source recorder's own
// writer (fixed-size chunks along the growth axis, shape metadata updated
// only after data is written, last chunk allowed to be short).
package store

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/e7canasta/lslkit/internal/archive/codec"
)

const (
	filePermPublic = 0644
	dirPermPublic  = 0755
)

// Meta is the on-disk sidecar for one array: its shape, chunking, and
// codec parameters. LeadDims are the non-growing leading dimensions (e.g.
// channel_count for a data array; empty for a 1-D time array). Length is
// the current extent along the growth axis (the last dimension).
type Meta struct {
	LeadDims   []int         `json:"lead_dims"`
	Length     int           `json:"length"`
	Dtype      string        `json:"dtype"`
	ElemSize   int           `json:"elem_size"`
	ChunkElems int           `json:"chunk_elems"`
	Shuffle    codec.Shuffle `json:"shuffle"`
}

// Array is a single chunked array rooted at Dir.
type Array struct {
	Dir  string
	Meta Meta
}

// Create initializes a new array directory with the given metadata and
// zero length. It is an error for the directory to already contain a
// metadata file.
func Create(dir string, leadDims []int, dtype string, elemSize, chunkElems int, shuffle codec.Shuffle) (*Array, error) {
	metaPath := filepath.Join(dir, "array.json")
	if _, err := os.Stat(metaPath); err == nil {
		return nil, fmt.Errorf("store: array already exists at %s", dir)
	}
	if err := os.MkdirAll(filepath.Join(dir, "c"), dirPermPublic); err != nil {
		return nil, fmt.Errorf("store: create array dir: %w", err)
	}
	a := &Array{
		Dir: dir,
		Meta: Meta{
			LeadDims:   leadDims,
			Length:     0,
			Dtype:      dtype,
			ElemSize:   elemSize,
			ChunkElems: chunkElems,
			Shuffle:    shuffle,
		},
	}
	if err := a.writeMeta(); err != nil {
		return nil, err
	}
	return a, nil
}

// Open reads an existing array's metadata.
func Open(dir string) (*Array, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "array.json"))
	if err != nil {
		return nil, fmt.Errorf("store: open array: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("store: decode array metadata: %w", err)
	}
	return &Array{Dir: dir, Meta: m}, nil
}

func (a *Array) leadCount() int {
	n := 1
	for _, d := range a.Meta.LeadDims {
		n *= d
	}
	return n
}

// AppendRows appends raw, already-gathered bytes representing n new
// growth-axis elements. raw must be organized lead-major: for each
// leading-dimension index, n contiguous elements, matching the layout
// each chunk file stores on disk. Splits the write across chunk
// boundaries, merging into a partially-filled tail chunk if necessary.
func (a *Array) AppendRows(raw []byte, n int) error {
	if n == 0 {
		return nil
	}
	expected := a.rowBytesTotal(n)
	if len(raw) != expected {
		return fmt.Errorf("store: append size mismatch: got %d bytes, want %d", len(raw), expected)
	}

	lead := a.leadCount()
	elemSize := a.Meta.ElemSize
	chunkElems := a.Meta.ChunkElems

	written := 0
	for written < n {
		start := a.Meta.Length + written
		chunkIdx := start / chunkElems
		offsetInChunk := start % chunkElems
		capacity := chunkElems - offsetInChunk
		take := n - written
		if take > capacity {
			take = capacity
		}

		merged, err := a.mergeChunk(chunkIdx, offsetInChunk, take, raw, written, n, lead, elemSize)
		if err != nil {
			return err
		}
		if err := a.writeChunkFile(chunkIdx, merged); err != nil {
			return err
		}
		written += take
	}

	a.Meta.Length += n
	return nil
}

// rowBytesTotal is the number of bytes in a lead-major buffer describing n
// growth-axis elements across every leading dimension.
func (a *Array) rowBytesTotal(n int) int {
	return a.leadCount() * n * a.Meta.ElemSize
}

// mergeChunk builds the full lead-major byte buffer for chunk chunkIdx
// after grafting `take` new elements (found in raw at growth-axis offset
// `srcOffset` out of `srcTotal`) onto the existing on-disk tail, if any.
func (a *Array) mergeChunk(chunkIdx, offsetInChunk, take int, raw []byte, srcOffset, srcTotal, lead, elemSize int) ([]byte, error) {
	newLen := offsetInChunk + take

	var existing []byte
	if offsetInChunk > 0 {
		var err error
		existing, err = a.readChunkFile(chunkIdx)
		if err != nil {
			return nil, err
		}
	}

	out := make([]byte, lead*newLen*elemSize)
	for l := 0; l < lead; l++ {
		dst := out[l*newLen*elemSize : (l+1)*newLen*elemSize]
		if offsetInChunk > 0 {
			src := existing[l*offsetInChunk*elemSize : (l+1)*offsetInChunk*elemSize]
			copy(dst[:offsetInChunk*elemSize], src)
		}
		srcRow := raw[l*srcTotal*elemSize+srcOffset*elemSize : l*srcTotal*elemSize+(srcOffset+take)*elemSize]
		copy(dst[offsetInChunk*elemSize:], srcRow)
	}
	return out, nil
}

func (a *Array) chunkPath(idx int) string {
	return filepath.Join(a.Dir, "c", fmt.Sprintf("%d", idx))
}

func (a *Array) writeChunkFile(idx int, leadMajor []byte) error {
	encoded, err := codec.Encode(leadMajor, a.Meta.Shuffle, a.Meta.ElemSize)
	if err != nil {
		return fmt.Errorf("store: encode chunk %d: %w", idx, err)
	}
	return AtomicWrite(a.chunkPath(idx), encoded, filePermPublic)
}

func (a *Array) readChunkFile(idx int) ([]byte, error) {
	raw, err := os.ReadFile(a.chunkPath(idx))
	if err != nil {
		return nil, fmt.Errorf("store: read chunk %d: %w", idx, err)
	}
	return codec.Decode(raw, a.Meta.Shuffle, a.Meta.ElemSize)
}

// ReadAll reconstructs the full lead-major buffer for the array's current
// length. Intended for tests and the alignment engine, not for the hot
// append path.
func (a *Array) ReadAll() ([]byte, error) {
	lead := a.leadCount()
	elemSize := a.Meta.ElemSize
	out := make([]byte, lead*a.Meta.Length*elemSize)

	numChunks := (a.Meta.Length + a.Meta.ChunkElems - 1) / a.Meta.ChunkElems
	for idx := 0; idx < numChunks; idx++ {
		chunkStart := idx * a.Meta.ChunkElems
		chunkLen := a.Meta.ChunkElems
		if chunkStart+chunkLen > a.Meta.Length {
			chunkLen = a.Meta.Length - chunkStart
		}
		buf, err := a.readChunkFile(idx)
		if err != nil {
			return nil, err
		}
		for l := 0; l < lead; l++ {
			srcOff := l * chunkLen * elemSize
			dstOff := l*a.Meta.Length*elemSize + chunkStart*elemSize
			copy(out[dstOff:dstOff+chunkLen*elemSize], buf[srcOff:srcOff+chunkLen*elemSize])
		}
	}
	return out, nil
}

// SetLength updates the persisted length without writing chunk data.
// Callers must have already written every chunk covering the new length.
func (a *Array) SetLength(n int) { a.Meta.Length = n }

// WriteMeta persists the current metadata atomically. Exported so callers
// (the Archive Writer) can control exactly when metadata becomes visible
// relative to data writes, per the "write time after data" invariant.
func (a *Array) WriteMeta() error { return a.writeMeta() }

func (a *Array) writeMeta() error {
	raw, err := json.MarshalIndent(a.Meta, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal array metadata: %w", err)
	}
	return AtomicWrite(filepath.Join(a.Dir, "array.json"), raw, filePermPublic)
}

// AtomicWrite writes data to a temp file in the same directory as path and
// renames it into place, guaranteeing readers never observe a partial
// write. Exported for sibling packages (attribute files) that need the
// same discipline without owning a chunked array.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermPublic); err != nil {
		return fmt.Errorf("store: create dir %s: %w", dir, err)
	}
	tmp := path + ".tmp." + randomSuffix()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("store: sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: rename into place: %w", err)
	}
	return nil
}

func randomSuffix() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
