package health

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := Snapshot{
		PID:            1234,
		SamplesWritten: 5678,
		LastFlushAt:    time.Now().Round(time.Second).UTC(),
		State:          "recording",
	}
	line, err := EncodeLine(want)
	if err != nil {
		t.Fatalf("EncodeLine: %v", err)
	}
	if line[:len(linePrefix)] != linePrefix {
		t.Fatalf("expected line to start with %q, got %q", linePrefix, line)
	}

	got, ok := DecodeLine(line)
	if !ok {
		t.Fatal("DecodeLine returned ok=false for a well-formed line")
	}
	if got.PID != want.PID || got.SamplesWritten != want.SamplesWritten || got.State != want.State {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if !got.LastFlushAt.Equal(want.LastFlushAt) {
		t.Fatalf("LastFlushAt = %v, want %v", got.LastFlushAt, want.LastFlushAt)
	}
}

func TestDecodeLineRejectsOrdinaryLogLines(t *testing.T) {
	cases := []string{
		"",
		"time=2026-08-06 level=INFO msg=\"acquisition loop: start\"",
		"HEALTH", // prefix without the tab separator or payload
	}
	for _, line := range cases {
		if _, ok := DecodeLine(line); ok {
			t.Errorf("DecodeLine(%q) = ok, want not-a-health-line", line)
		}
	}
}

func TestDecodeLineRejectsCorruptPayload(t *testing.T) {
	if _, ok := DecodeLine(linePrefix + "not-valid-base64!!!"); ok {
		t.Fatal("expected ok=false for corrupt base64 payload")
	}
}
