// Package health implements the supplemental child health snapshot: a
// small, purely observational record a recorder process periodically
// emits so a supervising process can watch liveness independent of the
// STATUS/barrier control protocol. Absence of these lines never affects
// correctness.
package health

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// linePrefix marks a health line among otherwise-opaque stderr log output.
const linePrefix = "HEALTH\t"

// Snapshot is one point-in-time health record for a recorder process.
type Snapshot struct {
	PID            int       `msgpack:"pid"`
	SamplesWritten int64     `msgpack:"samples_written"`
	LastFlushAt    time.Time `msgpack:"last_flush_at"`
	State          string    `msgpack:"state"`
}

// EncodeLine msgpack-encodes s and wraps it as a stderr line a supervisor
// can pick out from ordinary log text.
func EncodeLine(s Snapshot) (string, error) {
	raw, err := msgpack.Marshal(s)
	if err != nil {
		return "", err
	}
	return linePrefix + base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeLine parses a line previously produced by EncodeLine, returning ok
// = false for any line that is not a health line (the common case for
// ordinary log output, which must be ignored rather than treated as an
// error).
func DecodeLine(line string) (snap Snapshot, ok bool) {
	rest, found := strings.CutPrefix(line, linePrefix)
	if !found {
		return Snapshot{}, false
	}
	raw, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return Snapshot{}, false
	}
	if err := msgpack.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}
