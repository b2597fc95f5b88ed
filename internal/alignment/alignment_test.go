package alignment

import (
	"math"
	"testing"

	"github.com/e7canasta/lslkit/internal/archive"
	"github.com/e7canasta/lslkit/internal/config"
	"github.com/e7canasta/lslkit/internal/lsl"
)

func makeGroup(t *testing.T, root, name string, srate float64, times []float64) {
	t.Helper()
	w, err := archive.NewWriter(root)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	info := lsl.StreamInfo{
		SourceID:      name + "-src",
		Name:          name,
		ChannelCount:  1,
		ChannelFormat: lsl.Float64,
		NominalSRate:  srate,
	}
	h, err := w.OpenOrCreate(name, info, archive.FlushConfig{FlushIntervalSeconds: 1000, FlushBufferSize: 10000})
	if err != nil {
		t.Fatalf("OpenOrCreate(%s): %v", name, err)
	}
	values := make([]float64, len(times))
	for i := range values {
		values[i] = float64(i)
	}
	if len(times) > 0 {
		if err := h.Append(times, values); err != nil {
			t.Fatalf("Append(%s): %v", name, err)
		}
		if err := h.Flush(); err != nil {
			t.Fatalf("Flush(%s): %v", name, err)
		}
	}
	if err := h.Finalize(nil); err != nil {
		t.Fatalf("Finalize(%s): %v", name, err)
	}
}

func TestRunCommonStartMode(t *testing.T) {
	root := t.TempDir()
	makeGroup(t, root, "eeg", 250, []float64{100, 101, 102, 103})
	makeGroup(t, root, "ecg", 500, []float64{102, 103, 104, 105})

	results, err := Run(root, config.Align{Mode: config.CommonStart})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	byName := map[string]StreamResult{}
	for _, r := range results {
		byName[r.StreamName] = r
	}
	// CommonStart = the latest of any regular stream's first timestamp: 102.
	if got := byName["eeg"].AlignmentOffset; got != 100-102 {
		t.Fatalf("eeg offset = %v, want %v", got, 100-102)
	}
	if got := byName["ecg"].AlignmentOffset; got != 102-102 {
		t.Fatalf("ecg offset = %v, want 0", got)
	}
}

func TestRunFirstStreamMode(t *testing.T) {
	root := t.TempDir()
	makeGroup(t, root, "eeg", 250, []float64{100, 101, 102})
	makeGroup(t, root, "ecg", 500, []float64{102, 103, 104})

	results, err := Run(root, config.Align{Mode: config.FirstStream})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	byName := map[string]StreamResult{}
	for _, r := range results {
		byName[r.StreamName] = r
	}
	if got := byName["eeg"].AlignmentOffset; got != 0 {
		t.Fatalf("eeg offset = %v, want 0 (eeg starts earliest)", got)
	}
}

func TestRunAbsoluteZeroMode(t *testing.T) {
	root := t.TempDir()
	makeGroup(t, root, "eeg", 250, []float64{100, 101, 102})

	results, err := Run(root, config.Align{Mode: config.AbsoluteZero})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].AlignmentOffset != 100 {
		t.Fatalf("offset = %v, want 100 (raw timestamp, zero reference)", results[0].AlignmentOffset)
	}
}

func TestRunSkipsInvalidStreams(t *testing.T) {
	root := t.TempDir()
	makeGroup(t, root, "empty", 250, nil)
	makeGroup(t, root, "flat", 250, []float64{5, 5, 5})
	makeGroup(t, root, "belowsentinel", 250, []float64{0.1, 0.2, 0.3})
	makeGroup(t, root, "good", 250, []float64{10, 11, 12})

	results, err := Run(root, config.Align{Mode: config.CommonStart})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	byName := map[string]StreamResult{}
	for _, r := range results {
		byName[r.StreamName] = r
	}
	for _, name := range []string{"empty", "flat", "belowsentinel"} {
		if !byName[name].Skipped {
			t.Errorf("expected %q to be skipped", name)
		}
	}
	if byName["good"].Skipped {
		t.Error("expected good stream to not be skipped")
	}
}

func TestRunTrimBothEndsAndSampleCounts(t *testing.T) {
	root := t.TempDir()
	// Regular stream A: window [100,104]; Regular stream B: window [101,103]
	// so the common window is [101,103].
	makeGroup(t, root, "a", 100, []float64{100, 101, 102, 103, 104})
	makeGroup(t, root, "b", 100, []float64{101, 102, 103})

	results, err := Run(root, config.Align{Mode: config.CommonStart, TrimStart: true, TrimEnd: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	byName := map[string]StreamResult{}
	for _, r := range results {
		byName[r.StreamName] = r
	}

	a := byName["a"]
	// window is [101,103]; a.times = [100,101,102,103,104]
	// trimStart = first index >= 101 -> index 1
	// trimEnd = first index > 103 -> index 4
	if a.TrimStartIndex != 1 {
		t.Errorf("a.TrimStartIndex = %d, want 1", a.TrimStartIndex)
	}
	if a.TrimEndIndex != 4 {
		t.Errorf("a.TrimEndIndex = %d, want 4", a.TrimEndIndex)
	}
	if a.AlignedSampleCount != a.TrimEndIndex-a.TrimStartIndex {
		t.Errorf("AlignedSampleCount = %d, want %d", a.AlignedSampleCount, a.TrimEndIndex-a.TrimStartIndex)
	}
	if a.OriginalSampleCount != 5 {
		t.Errorf("a.OriginalSampleCount = %d, want 5", a.OriginalSampleCount)
	}

	b := byName["b"]
	if b.TrimStartIndex != 0 || b.TrimEndIndex != 3 {
		t.Errorf("b trim = [%d,%d), want [0,3)", b.TrimStartIndex, b.TrimEndIndex)
	}
}

func TestRunEventCoverageForIrregularStream(t *testing.T) {
	root := t.TempDir()
	// Regular streams establish window [10,20].
	makeGroup(t, root, "eeg", 250, []float64{10, 15, 20})
	// Irregular marker stream: NominalSRate 0.
	makeGroup(t, root, "markers", 0, []float64{5, 12, 18, 25})

	results, err := Run(root, config.Align{Mode: config.CommonStart})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	byName := map[string]StreamResult{}
	for _, r := range results {
		byName[r.StreamName] = r
	}
	m := byName["markers"]
	if m.Regular {
		t.Fatal("expected markers stream to be classified irregular")
	}
	if m.EventCoverage == nil {
		t.Fatal("expected EventCoverage to be populated for irregular stream with a common window")
	}
	if m.EventCoverage.Before != 1 || m.EventCoverage.Within != 2 || m.EventCoverage.After != 1 {
		t.Fatalf("EventCoverage = %+v, want {Before:1 Within:2 After:1}", m.EventCoverage)
	}
}

func TestRunWritesAlignedTimeArray(t *testing.T) {
	root := t.TempDir()
	makeGroup(t, root, "eeg", 250, []float64{100, 101, 102})

	if _, err := Run(root, config.Align{Mode: config.CommonStart}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	g, err := archive.OpenGroup(root, "eeg")
	if err != nil {
		t.Fatalf("OpenGroup: %v", err)
	}
	attrs, err := g.Attrs()
	if err != nil {
		t.Fatalf("Attrs: %v", err)
	}
	if attrs.AlignmentOffset == nil {
		t.Fatal("expected AlignmentOffset to be persisted")
	}
	if math.Abs(*attrs.AlignmentOffset) > 1e-9 {
		t.Fatalf("AlignmentOffset = %v, want 0 (single stream, CommonStart references itself)", *attrs.AlignmentOffset)
	}
}

func TestRunRestrictsToRequestedStreams(t *testing.T) {
	root := t.TempDir()
	makeGroup(t, root, "eeg", 250, []float64{1, 2, 3})
	makeGroup(t, root, "ecg", 250, []float64{1, 2, 3})

	results, err := Run(root, config.Align{Mode: config.CommonStart, Streams: []string{"eeg"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 || results[0].StreamName != "eeg" {
		t.Fatalf("results = %+v, want only eeg", results)
	}
}
