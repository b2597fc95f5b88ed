// Package alignment implements the Alignment Engine: an offline pass over
// a completed archive that classifies each stream group as regular or
// irregular, computes a shared reference time, and writes an aligned_time
// array plus alignment attributes back into each group without touching
// its raw data or time arrays.
package alignment

import (
	"fmt"

	"github.com/e7canasta/lslkit/internal/archive"
	"github.com/e7canasta/lslkit/internal/config"
)

// minValidTimestamp is the sentinel below which a timestamp is treated as
// uninitialized bus clock, per the validation rule.
const minValidTimestamp = 1.0

// StreamResult reports what the engine did with one stream group.
type StreamResult struct {
	StreamName string
	Skipped    bool
	SkipReason string

	Regular             bool
	AlignmentOffset     float64
	TrimStartIndex      int
	TrimEndIndex        int
	OriginalSampleCount int
	AlignedSampleCount  int

	// EventCoverage is populated only for irregular streams when a common
	// window exists.
	EventCoverage *EventCoverage
}

// EventCoverage counts irregular-stream events relative to the common
// window derived from regular streams.
type EventCoverage struct {
	Before int
	Within int
	After  int
}

type validStream struct {
	name    string
	regular bool
	times   []float64
}

// Run executes the alignment pass over every group named in cfg.Streams,
// or every group in the archive root if cfg.Streams is empty.
func Run(root string, cfg config.Align) ([]StreamResult, error) {
	names := cfg.Streams
	if len(names) == 0 {
		var err error
		names, err = archive.ListGroups(root)
		if err != nil {
			return nil, err
		}
	}

	var results []StreamResult
	var valid []validStream
	groups := make(map[string]*archive.Group, len(names))

	for _, name := range names {
		g, err := archive.OpenGroup(root, name)
		if err != nil {
			return nil, err
		}
		groups[name] = g

		attrs, err := g.Attrs()
		if err != nil {
			return nil, err
		}
		times, err := g.ReadTime()
		if err != nil {
			return nil, err
		}

		if reason, skip := validate(times); skip {
			results = append(results, StreamResult{StreamName: name, Skipped: true, SkipReason: reason})
			continue
		}

		valid = append(valid, validStream{
			name:    name,
			regular: attrs.StreamInfo.NominalSRate > 0,
			times:   times,
		})
	}

	if len(valid) == 0 {
		return results, nil
	}

	reference := referenceSet(valid)
	t := referenceTime(cfg.Mode, reference)

	regularForWindow := filterRegular(valid)
	var windowStart, windowEnd float64
	hasWindow := len(regularForWindow) > 0
	if hasWindow {
		windowStart, windowEnd = commonWindow(regularForWindow)
	}

	for _, s := range valid {
		start := s.times[0]
		offset := start - t
		aligned := make([]float64, len(s.times))
		for i, ts := range s.times {
			aligned[i] = ts - t
		}

		trimStart, trimEnd := 0, len(s.times)
		var coverage *EventCoverage
		if hasWindow {
			if cfg.TrimStart {
				trimStart = firstIndexAtLeast(s.times, windowStart)
			}
			if cfg.TrimEnd {
				trimEnd = firstIndexGreaterThan(s.times, windowEnd)
			}
			if !s.regular {
				coverage = eventCoverage(s.times, windowStart, windowEnd)
			}
		}

		g := groups[s.name]
		if err := g.WriteAlignedTime(aligned); err != nil {
			return nil, err
		}
		if err := g.UpdateAttrs(func(a *archive.StreamAttrs) {
			off := offset
			ts := trimStart
			te := trimEnd
			orig := len(s.times)
			alignedCount := trimEnd - trimStart
			a.AlignmentOffset = &off
			a.TrimStartIndex = &ts
			a.TrimEndIndex = &te
			a.OriginalSampleCount = &orig
			a.AlignedSampleCount = &alignedCount
		}); err != nil {
			return nil, err
		}

		results = append(results, StreamResult{
			StreamName:          s.name,
			Regular:             s.regular,
			AlignmentOffset:     offset,
			TrimStartIndex:      trimStart,
			TrimEndIndex:        trimEnd,
			OriginalSampleCount: len(s.times),
			AlignedSampleCount:  trimEnd - trimStart,
			EventCoverage:       coverage,
		})
	}

	return results, nil
}

// validate applies the three uniform skip rules.
func validate(times []float64) (reason string, skip bool) {
	if len(times) == 0 {
		return "empty time array", true
	}
	allIdentical := true
	for _, t := range times[1:] {
		if t != times[0] {
			allIdentical = false
			break
		}
	}
	if allIdentical {
		return "all timestamps identical", true
	}
	for _, t := range times {
		if t < minValidTimestamp {
			return fmt.Sprintf("timestamp %.6f below sentinel %.1f", t, minValidTimestamp), true
		}
	}
	return "", false
}

// referenceSet is R: the valid regular streams, or every valid stream if
// none are regular.
func referenceSet(valid []validStream) []validStream {
	regular := filterRegular(valid)
	if len(regular) > 0 {
		return regular
	}
	return valid
}

func filterRegular(valid []validStream) []validStream {
	var out []validStream
	for _, s := range valid {
		if s.regular {
			out = append(out, s)
		}
	}
	return out
}

func referenceTime(mode config.AlignMode, reference []validStream) float64 {
	switch mode {
	case config.AbsoluteZero:
		return 0.0
	case config.FirstStream:
		min := reference[0].times[0]
		for _, s := range reference[1:] {
			if s.times[0] < min {
				min = s.times[0]
			}
		}
		return min
	default: // CommonStart, LastStream: identical, "latest of any stream"
		max := reference[0].times[0]
		for _, s := range reference[1:] {
			if s.times[0] > max {
				max = s.times[0]
			}
		}
		return max
	}
}

// commonWindow computes W_start/W_end from regular streams only.
func commonWindow(regular []validStream) (start, end float64) {
	start = regular[0].times[0]
	end = regular[0].times[len(regular[0].times)-1]
	for _, s := range regular[1:] {
		if s.times[0] > start {
			start = s.times[0]
		}
		last := s.times[len(s.times)-1]
		if last < end {
			end = last
		}
	}
	return start, end
}

// firstIndexAtLeast returns the smallest i with times[i] >= threshold, or
// len(times) if none qualify.
func firstIndexAtLeast(times []float64, threshold float64) int {
	for i, t := range times {
		if t >= threshold {
			return i
		}
	}
	return len(times)
}

// firstIndexGreaterThan returns the smallest i with times[i] > threshold
// (one past the last sample within the window), or len(times) if every
// sample qualifies.
func firstIndexGreaterThan(times []float64, threshold float64) int {
	for i, t := range times {
		if t > threshold {
			return i
		}
	}
	return len(times)
}

func eventCoverage(times []float64, windowStart, windowEnd float64) *EventCoverage {
	c := &EventCoverage{}
	for _, t := range times {
		switch {
		case t < windowStart:
			c.Before++
		case t > windowEnd:
			c.After++
		default:
			c.Within++
		}
	}
	return c
}
