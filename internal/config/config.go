// Package config defines the recording configuration structures and their
// YAML-file-plus-flag-override loading, in the style of the source
// service's own internal/config package: a plain struct with yaml tags and
// a Load function performing a straightforward read-unmarshal; validation
// is a separate Validate call.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Recorder holds the settings a single lsl-recorder process needs beyond
// its required --source-id, mapped 1:1 onto the CLI surface and, when
// loaded from a defaults file, onto recorder_config attributes.
type Recorder struct {
	SourceID        string  `yaml:"source_id" mapstructure:"source_id"`
	Output          string  `yaml:"output" mapstructure:"output"`
	StreamName      string  `yaml:"stream_name" mapstructure:"stream_name"`
	Subject         string  `yaml:"subject" mapstructure:"subject"`
	SessionID       string  `yaml:"session_id" mapstructure:"session_id"`
	Notes           string  `yaml:"notes" mapstructure:"notes"`
	Duration        float64 `yaml:"duration" mapstructure:"duration"`
	Interactive     bool    `yaml:"interactive" mapstructure:"interactive"`
	FlushInterval   float64 `yaml:"flush_interval" mapstructure:"flush_interval"`
	FlushBufferSize int     `yaml:"flush_buffer_size" mapstructure:"flush_buffer_size"`
	ImmediateFlush  bool    `yaml:"immediate_flush" mapstructure:"immediate_flush"`
	Quiet           bool    `yaml:"quiet" mapstructure:"quiet"`
	ResolveTimeout  float64 `yaml:"resolve_timeout" mapstructure:"resolve_timeout"`

	// LSLMaxRetryAttempts/LSLRetryBaseDelayMS govern the Resolving state's
	// backoff policy; not part of the distilled CLI surface but carried
	// through from the original tool's retry flags.
	LSLMaxRetryAttempts int `yaml:"lsl_max_retry_attempts" mapstructure:"lsl_max_retry_attempts"`
	LSLRetryBaseDelayMS int `yaml:"lsl_retry_base_delay_ms" mapstructure:"lsl_retry_base_delay_ms"`

	// Managed is set by the multi-recorder supervisor when it spawns this
	// process as a child. It suppresses the standalone recorder's own
	// duration self-scheduling, since the supervisor broadcasts STOP_AFTER
	// itself once the first-sample barrier passes. Not part of the
	// documented CLI surface: exposed as a hidden flag.
	Managed bool `yaml:"-" mapstructure:"-"`
}

// DefaultRecorder returns a Recorder pre-populated with every documented
// default.
func DefaultRecorder() Recorder {
	return Recorder{
		Output:              "experiment",
		FlushInterval:       1.0,
		FlushBufferSize:     50,
		ResolveTimeout:      5.0,
		LSLMaxRetryAttempts: 3,
		LSLRetryBaseDelayMS: 50,
	}
}

// MultiRecorder holds the settings for the supervisor process.
type MultiRecorder struct {
	SourceIDs      []string `yaml:"source_ids" mapstructure:"source_ids"`
	StreamNames    []string `yaml:"stream_names" mapstructure:"stream_names"`
	Output         string   `yaml:"output" mapstructure:"output"`
	Subject        string   `yaml:"subject" mapstructure:"subject"`
	SessionID      string   `yaml:"session_id" mapstructure:"session_id"`
	Notes          string   `yaml:"notes" mapstructure:"notes"`
	Duration       float64  `yaml:"duration" mapstructure:"duration"`
	ResolveTimeout float64  `yaml:"resolve_timeout" mapstructure:"resolve_timeout"`
	FlushInterval  float64  `yaml:"flush_interval" mapstructure:"flush_interval"`
	Quiet          bool     `yaml:"quiet" mapstructure:"quiet"`
}

// DefaultMultiRecorder mirrors DefaultRecorder's defaults for the fields
// the two share.
func DefaultMultiRecorder() MultiRecorder {
	return MultiRecorder{
		Output:         "experiment",
		ResolveTimeout: 5.0,
		FlushInterval:  1.0,
	}
}

// AlignMode is the closed enum of alignment reference-time strategies.
type AlignMode string

const (
	CommonStart  AlignMode = "common-start"
	FirstStream  AlignMode = "first-stream"
	LastStream   AlignMode = "last-stream"
	AbsoluteZero AlignMode = "absolute-zero"
)

// ValidAlignModes lists the accepted --mode values, for flag validation.
var ValidAlignModes = []AlignMode{CommonStart, FirstStream, LastStream, AbsoluteZero}

// Align holds the lsl-align CLI surface.
type Align struct {
	ArchivePath string
	Mode        AlignMode
	TrimStart   bool
	TrimEnd     bool
	Streams     []string
	Verbose     bool
}

// LoadRecorderDefaults reads a YAML file of Recorder defaults; a missing
// file is not an error since every field also has a hardcoded default and
// a CLI flag override.
func LoadRecorderDefaults(path string) (Recorder, error) {
	cfg := DefaultRecorder()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces the required-argument rule from the Configuration
// error taxonomy: a recorder without a source id can never resolve a
// stream.
func (r Recorder) Validate() error {
	if r.SourceID == "" {
		return fmt.Errorf("config: --source-id is required")
	}
	if r.FlushBufferSize <= 0 {
		return fmt.Errorf("config: --flush-buffer-size must be positive")
	}
	return nil
}

// Validate checks the multi-recorder surface: source ids and stream names,
// when both given, must be parallel arrays.
func (m MultiRecorder) Validate() error {
	if len(m.SourceIDs) == 0 {
		return fmt.Errorf("config: --source-ids requires at least one id")
	}
	if len(m.StreamNames) > 0 && len(m.StreamNames) != len(m.SourceIDs) {
		return fmt.Errorf("config: --stream-names must match --source-ids in count (%d vs %d)", len(m.StreamNames), len(m.SourceIDs))
	}
	return nil
}

// Validate checks the alignment CLI surface's closed enum.
func (a Align) Validate() error {
	for _, m := range ValidAlignModes {
		if a.Mode == m {
			return nil
		}
	}
	return fmt.Errorf("config: unknown alignment mode %q", a.Mode)
}
