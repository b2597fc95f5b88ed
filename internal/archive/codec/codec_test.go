package codec

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/e7canasta/lslkit/internal/lsl"
)

func float64sToBytes(vals []float64) []byte {
	out := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

func TestShuffleForByFormat(t *testing.T) {
	cases := []struct {
		format       lsl.ChannelFormat
		wantShuffle  Shuffle
		wantElemSize int
	}{
		{lsl.Float32, BitShuffle, 4},
		{lsl.Float64, BitShuffle, 8},
		{lsl.Int32, ByteShuffle, 4},
		{lsl.Int16, ByteShuffle, 2},
		{lsl.Int8, ByteShuffle, 1},
		{lsl.String, NoShuffle, 1},
	}
	for _, c := range cases {
		gotShuffle, gotElemSize := ShuffleFor(c.format)
		if gotShuffle != c.wantShuffle || gotElemSize != c.wantElemSize {
			t.Errorf("ShuffleFor(%s) = (%v, %d), want (%v, %d)", c.format, gotShuffle, gotElemSize, c.wantShuffle, c.wantElemSize)
		}
	}
}

func TestEncodeDecodeRoundTripBitShuffle(t *testing.T) {
	raw := float64sToBytes([]float64{1.5, -2.25, 3.75, 0, math.Pi, -1e10, 42, 0.001})
	encoded, err := Encode(raw, BitShuffle, 8)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded, BitShuffle, 8)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(raw, decoded) {
		t.Fatalf("round trip mismatch: got %x, want %x", decoded, raw)
	}
}

func TestEncodeDecodeRoundTripByteShuffle(t *testing.T) {
	raw := make([]byte, 4*37)
	for i := range raw {
		raw[i] = byte(i * 7)
	}
	encoded, err := Encode(raw, ByteShuffle, 4)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded, ByteShuffle, 4)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(raw, decoded) {
		t.Fatalf("round trip mismatch")
	}
}

func TestEncodeDecodeRoundTripNoShuffle(t *testing.T) {
	raw := []byte("event-marker-payload")
	encoded, err := Encode(raw, NoShuffle, 1)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded, NoShuffle, 1)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(raw, decoded) {
		t.Fatalf("round trip mismatch: got %q, want %q", decoded, raw)
	}
}

func TestApplyShuffleNoopOnUnalignedLength(t *testing.T) {
	raw := []byte{1, 2, 3} // not a multiple of typeSize 4
	encoded, err := Encode(raw, ByteShuffle, 4)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded, ByteShuffle, 4)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(raw, decoded) {
		t.Fatalf("round trip mismatch on unaligned buffer")
	}
}
