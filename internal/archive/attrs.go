package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/e7canasta/lslkit/internal/archive/store"
	"github.com/e7canasta/lslkit/internal/lsl"
)

// StreamAttrs is the full attribute set persisted alongside a stream
// group. RecorderConfig and StreamInfo are stored as generic maps so this
// package does not need to import the config package's concrete types.
type StreamAttrs struct {
	StreamInfo     StreamInfoAttrs `json:"stream_info"`
	RecorderConfig map[string]any  `json:"recorder_config"`
	FirstTimestamp *float64        `json:"first_timestamp,omitempty"`
	LastTimestamp  *float64        `json:"last_timestamp,omitempty"`

	// Populated by the alignment engine; absent on a freshly finalized
	// group.
	AlignmentOffset     *float64 `json:"alignment_offset,omitempty"`
	TrimStartIndex      *int     `json:"trim_start_index,omitempty"`
	TrimEndIndex        *int     `json:"trim_end_index,omitempty"`
	OriginalSampleCount *int     `json:"original_sample_count,omitempty"`
	AlignedSampleCount  *int     `json:"aligned_sample_count,omitempty"`
}

// StreamInfoAttrs is the JSON-serializable mirror of lsl.StreamInfo.
type StreamInfoAttrs struct {
	SourceID      string         `json:"source_id"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	ChannelCount  int            `json:"channel_count"`
	ChannelFormat string         `json:"channel_format"`
	NominalSRate  float64        `json:"nominal_srate"`
	Hostname      string         `json:"hostname"`
	Description   map[string]any `json:"description"`
}

func attrsFromInfo(info lsl.StreamInfo) StreamInfoAttrs {
	return StreamInfoAttrs{
		SourceID:      info.SourceID,
		Name:          info.Name,
		Type:          info.Type,
		ChannelCount:  info.ChannelCount,
		ChannelFormat: string(info.ChannelFormat),
		NominalSRate:  info.NominalSRate,
		Hostname:      info.Hostname,
		Description:   info.Description,
	}
}

func loadAttrs(dir string) (StreamAttrs, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "attrs.json"))
	if err != nil {
		return StreamAttrs{}, fmt.Errorf("archive: read attrs: %w", err)
	}
	var a StreamAttrs
	if err := json.Unmarshal(raw, &a); err != nil {
		return StreamAttrs{}, fmt.Errorf("archive: decode attrs: %w", err)
	}
	return a, nil
}

func saveAttrs(dir string, a StreamAttrs) error {
	raw, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal attrs: %w", err)
	}
	// Reuses the same temp-file+rename discipline as chunk metadata so
	// readers never observe a half-written attribute file.
	return store.AtomicWrite(filepath.Join(dir, "attrs.json"), raw, 0644)
}
