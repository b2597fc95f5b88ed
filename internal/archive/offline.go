package archive

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/e7canasta/lslkit/internal/archive/codec"
	"github.com/e7canasta/lslkit/internal/archive/store"
	"github.com/e7canasta/lslkit/internal/errs"
	"github.com/e7canasta/lslkit/internal/lsl"
)

// Group is a finalized stream group reopened for offline reading and
// non-destructive augmentation. Unlike Handle, a Group never appends to
// data or time: the alignment engine is its only writer, and it only ever
// adds the aligned_time array and its attributes.
type Group struct {
	dir  string
	name string
}

// ListGroups returns every stream group name found directly under root.
func ListGroups(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errs.New(errs.Storage, "list archive groups", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), "attrs.json")); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// OpenGroup reopens an existing finalized group by name for reading.
func OpenGroup(root, name string) (*Group, error) {
	dir := filepath.Join(root, name)
	if _, err := os.Stat(filepath.Join(dir, "attrs.json")); err != nil {
		return nil, errs.New(errs.Storage, fmt.Sprintf("open group %q", name), err)
	}
	return &Group{dir: dir, name: name}, nil
}

// Name returns the group's stream name.
func (g *Group) Name() string { return g.name }

// Attrs loads the group's current attribute set.
func (g *Group) Attrs() (StreamAttrs, error) {
	a, err := loadAttrs(g.dir)
	if err != nil {
		return StreamAttrs{}, errs.New(errs.Storage, "load attrs", err)
	}
	return a, nil
}

// ReadTime reads the full, decoded time array.
func (g *Group) ReadTime() ([]float64, error) {
	arr, err := store.Open(filepath.Join(g.dir, "time"))
	if err != nil {
		return nil, errs.New(errs.Storage, "open time array", err)
	}
	raw, err := arr.ReadAll()
	if err != nil {
		return nil, errs.New(errs.Storage, "read time array", err)
	}
	out := make([]float64, arr.Meta.Length)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, nil
}

// WriteAlignedTime writes (or overwrites) the aligned_time array alongside
// data and time, using the same chunking and codec as the time array
// itself. It never touches data or time.
func (g *Group) WriteAlignedTime(aligned []float64) error {
	dir := filepath.Join(g.dir, "aligned_time")
	shuffle, elemSize := codec.ShuffleFor(lsl.Float64)

	if _, err := os.Stat(filepath.Join(dir, "array.json")); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			return errs.New(errs.Storage, "clear existing aligned_time array", err)
		}
	}

	arr, err := store.Create(dir, nil, "float64", elemSize, timeChunkSamples, shuffle)
	if err != nil {
		return errs.New(errs.Storage, "create aligned_time array", err)
	}
	if err := arr.AppendRows(float64SliceToBytes(aligned), len(aligned)); err != nil {
		return errs.New(errs.Storage, "write aligned_time samples", err)
	}
	if err := arr.WriteMeta(); err != nil {
		return errs.New(errs.Storage, "write aligned_time metadata", err)
	}
	return nil
}

// UpdateAttrs loads the group's attributes, applies mutate, and writes them
// back atomically. Used by the alignment engine to add alignment_offset,
// trim_start_index, trim_end_index, original_sample_count, and
// aligned_sample_count without disturbing stream_info or recorder_config.
func (g *Group) UpdateAttrs(mutate func(*StreamAttrs)) error {
	a, err := loadAttrs(g.dir)
	if err != nil {
		return errs.New(errs.Storage, "load attrs for update", err)
	}
	mutate(&a)
	if err := saveAttrs(g.dir, a); err != nil {
		return errs.New(errs.Storage, "write updated attrs", err)
	}
	return nil
}
