// Package codec implements the byte-shuffle transform and compression used
// to persist chunk payloads. No Blosc-family binding exists in the module's
// dependency set, so the shuffle stage runs ahead of compress/gzip; see
// DESIGN.md for why this stays on the standard library rather than adopting
// a third-party dependency.
package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/e7canasta/lslkit/internal/lsl"
)

// Shuffle selects the byte-shuffle strategy applied before compression.
type Shuffle int

const (
	// NoShuffle leaves bytes in their natural order (string channels).
	NoShuffle Shuffle = iota
	// ByteShuffle groups same-significance bytes across elements
	// (int8/int16/int32 channels).
	ByteShuffle
	// BitShuffle groups same-significance bits across elements, reclaiming
	// the low-entropy exponent/sign planes typical of physiological
	// signals (float32/float64 channels).
	BitShuffle
)

// ShuffleFor returns the shuffle policy and element size mandated for a
// channel format.
func ShuffleFor(format lsl.ChannelFormat) (Shuffle, int) {
	switch format {
	case lsl.Float32:
		return BitShuffle, 4
	case lsl.Float64:
		return BitShuffle, 8
	case lsl.Int32:
		return ByteShuffle, 4
	case lsl.Int16:
		return ByteShuffle, 2
	case lsl.Int8:
		return ByteShuffle, 1
	default:
		return NoShuffle, 1
	}
}

// Encode shuffles and compresses raw, applying the given policy.
func Encode(raw []byte, shuffle Shuffle, typeSize int) ([]byte, error) {
	shuffled := applyShuffle(raw, shuffle, typeSize)

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(shuffled); err != nil {
		w.Close()
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: close compressor: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(compressed []byte, shuffle Shuffle, typeSize int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("codec: open decompressor: %w", err)
	}
	defer r.Close()

	shuffled, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: decompress: %w", err)
	}
	return undoShuffle(shuffled, shuffle, typeSize), nil
}

// applyShuffle reorders bytes so that, for N elements of typeSize bytes
// each, all byte-0's come first, then all byte-1's, and so on. Bit-shuffle
// further splits each byte-plane into its 8 bit-planes; for byte-oriented
// formats it is equivalent to a bit-level transpose within each byte-plane.
func applyShuffle(raw []byte, shuffle Shuffle, typeSize int) []byte {
	if shuffle == NoShuffle || typeSize <= 1 || len(raw)%typeSize != 0 {
		return raw
	}
	n := len(raw) / typeSize
	out := make([]byte, len(raw))

	switch shuffle {
	case ByteShuffle:
		for elem := 0; elem < n; elem++ {
			for b := 0; b < typeSize; b++ {
				out[b*n+elem] = raw[elem*typeSize+b]
			}
		}
	case BitShuffle:
		bytePlanes := make([]byte, len(raw))
		for elem := 0; elem < n; elem++ {
			for b := 0; b < typeSize; b++ {
				bytePlanes[b*n+elem] = raw[elem*typeSize+b]
			}
		}
		// Bit-plane transpose across the whole buffer, byte-plane by
		// byte-plane, matching Blosc's within-typesize bitshuffle.
		outBitIdx := 0
		for b := 0; b < typeSize; b++ {
			plane := bytePlanes[b*n : (b+1)*n]
			for bit := 0; bit < 8; bit++ {
				for elem := 0; elem < n; elem++ {
					bitVal := (plane[elem] >> uint(bit)) & 1
					if bitVal != 0 {
						out[outBitIdx/8] |= 1 << uint(outBitIdx%8)
					}
					outBitIdx++
				}
			}
		}
	}
	return out
}

func undoShuffle(shuffled []byte, shuffle Shuffle, typeSize int) []byte {
	if shuffle == NoShuffle || typeSize <= 1 || len(shuffled)%typeSize != 0 {
		return shuffled
	}
	n := len(shuffled) / typeSize
	out := make([]byte, len(shuffled))

	switch shuffle {
	case ByteShuffle:
		for elem := 0; elem < n; elem++ {
			for b := 0; b < typeSize; b++ {
				out[elem*typeSize+b] = shuffled[b*n+elem]
			}
		}
	case BitShuffle:
		bytePlanes := make([]byte, len(shuffled))
		inBitIdx := 0
		for b := 0; b < typeSize; b++ {
			plane := bytePlanes[b*n : (b+1)*n]
			for bit := 0; bit < 8; bit++ {
				for elem := 0; elem < n; elem++ {
					bitVal := (shuffled[inBitIdx/8] >> uint(inBitIdx%8)) & 1
					if bitVal != 0 {
						plane[elem] |= 1 << uint(bit)
					}
					inBitIdx++
				}
			}
		}
		for elem := 0; elem < n; elem++ {
			for b := 0; b < typeSize; b++ {
				out[elem*typeSize+b] = bytePlanes[b*n+elem]
			}
		}
	}
	return out
}
