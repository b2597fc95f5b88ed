package archive

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/e7canasta/lslkit/internal/lsl"
)

// appendValues concatenates newValues (n new samples, channel-major, per
// lsl.Chunk.Values convention) onto pending, growing each channel's
// contiguous run in place. Both pending and newValues use the same
// concrete slice type dictated by format; pending may be nil on the first
// call.
func appendValues(format lsl.ChannelFormat, channelCount int, pending, newValues any, n int) any {
	switch format {
	case lsl.Float32:
		return appendTyped[float32](pending, newValues, channelCount, n)
	case lsl.Float64:
		return appendTyped[float64](pending, newValues, channelCount, n)
	case lsl.Int32:
		return appendTyped[int32](pending, newValues, channelCount, n)
	case lsl.Int16:
		return appendTyped[int16](pending, newValues, channelCount, n)
	case lsl.Int8:
		return appendTyped[int8](pending, newValues, channelCount, n)
	default:
		return appendStrings(pending, newValues, channelCount, n)
	}
}

// appendTyped concatenates two channel-major slices of matching per-channel
// stride, since each channel's run must stay contiguous per channel rather
// than simply appended end-to-end.
func appendTyped[T any](pending, newValues any, channelCount, n int) any {
	newSlice, _ := newValues.([]T)
	if pending == nil {
		return newSlice
	}
	pendingSlice := pending.([]T)
	oldN := len(pendingSlice) / channelCount
	out := make([]T, channelCount*(oldN+n))
	for c := 0; c < channelCount; c++ {
		copy(out[c*(oldN+n):c*(oldN+n)+oldN], pendingSlice[c*oldN:(c+1)*oldN])
		copy(out[c*(oldN+n)+oldN:c*(oldN+n)+oldN+n], newSlice[c*n:(c+1)*n])
	}
	return out
}

func appendStrings(pending, newValues any, channelCount, n int) any {
	newSlice, _ := newValues.([][]string)
	if pending == nil {
		return newSlice
	}
	pendingSlice := pending.([][]string)
	out := make([][]string, channelCount)
	for c := 0; c < channelCount; c++ {
		out[c] = append(append([]string{}, pendingSlice[c]...), newSlice[c]...)
	}
	return out
}

// encodeValuesToBytes serializes n channel-major samples into the
// lead-major byte layout store.Array.AppendRows expects: for each channel,
// n contiguous elements.
func encodeValuesToBytes(format lsl.ChannelFormat, channelCount int, values any, n int) ([]byte, error) {
	switch format {
	case lsl.Float32:
		vals, ok := values.([]float32)
		if !ok {
			return nil, fmt.Errorf("archive: expected []float32 values")
		}
		out := make([]byte, len(vals)*4)
		for i, v := range vals {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
		return out, nil
	case lsl.Float64:
		vals, ok := values.([]float64)
		if !ok {
			return nil, fmt.Errorf("archive: expected []float64 values")
		}
		return float64SliceToBytes(vals), nil
	case lsl.Int32:
		vals, ok := values.([]int32)
		if !ok {
			return nil, fmt.Errorf("archive: expected []int32 values")
		}
		out := make([]byte, len(vals)*4)
		for i, v := range vals {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
		}
		return out, nil
	case lsl.Int16:
		vals, ok := values.([]int16)
		if !ok {
			return nil, fmt.Errorf("archive: expected []int16 values")
		}
		out := make([]byte, len(vals)*2)
		for i, v := range vals {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
		}
		return out, nil
	case lsl.Int8:
		vals, ok := values.([]int8)
		if !ok {
			return nil, fmt.Errorf("archive: expected []int8 values")
		}
		out := make([]byte, len(vals))
		for i, v := range vals {
			out[i] = byte(v)
		}
		return out, nil
	default:
		// String channels are stored as fixed-width, length-prefixed
		// UTF-8 fields (see encodeStringChannels); the emergency cap and
		// chunked-array engine still apply, but the shuffle codec is a
		// no-op (see codec.ShuffleFor).
		vals, ok := values.([][]string)
		if !ok {
			return nil, fmt.Errorf("archive: expected [][]string values")
		}
		return encodeStringChannels(vals, n)
	}
}

// encodeStringChannels packs each channel's n strings as
// length-prefixed UTF-8 records, padded to a common per-channel byte
// width so the chunk engine's fixed row-stride assumption still holds.
func encodeStringChannels(vals [][]string, n int) ([]byte, error) {
	const fieldWidth = stringFieldWidth
	out := make([]byte, len(vals)*n*fieldWidth)
	for c, channel := range vals {
		for i := 0; i < n && i < len(channel); i++ {
			s := channel[i]
			if len(s) > fieldWidth-2 {
				s = s[:fieldWidth-2]
			}
			off := (c*n + i) * fieldWidth
			binary.LittleEndian.PutUint16(out[off:], uint16(len(s)))
			copy(out[off+2:], s)
		}
	}
	return out, nil
}
