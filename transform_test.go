package tabfile

import (
	"bytes"
	"testing"
)

func TestMaskSelfInverse(t *testing.T) {
	m := newMaskTransform("seed")
	plain := []byte("the quick brown fox jumps over the lazy dog")

	masked, err := m.Encode(plain, 0)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if bytes.Equal(masked, plain) {
		t.Fatal("mask left the bytes unchanged")
	}

	got, err := m.Decode(masked, 0)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("decode = %q, want %q", got, plain)
	}
}

// A slice read from the middle of a masked region must unmask correctly
// when decoded with its absolute offset.
func TestMaskOffsetKeyed(t *testing.T) {
	m := newMaskTransform("seed")
	plain := []byte("0123456789abcdefghijklmnopqrstuvwxyz")

	masked, _ := m.Encode(plain, 0)

	slice, err := m.Decode(masked[13:29], 13)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(slice, plain[13:29]) {
		t.Fatalf("offset decode = %q, want %q", slice, plain[13:29])
	}
}

func TestMaskSeedVaries(t *testing.T) {
	a, _ := newMaskTransform("one").Encode([]byte("same bytes"), 0)
	b, _ := newMaskTransform("two").Encode([]byte("same bytes"), 0)
	if bytes.Equal(a, b) {
		t.Fatal("different seeds produced the same mask")
	}
}

func TestZstdRoundTrip(t *testing.T) {
	plain := bytes.Repeat([]byte("row payload "), 100)

	compressed, err := zstdTransform{}.Encode(plain, 0)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if len(compressed) >= len(plain) {
		t.Errorf("compressed %d bytes into %d, expected shrink on repetitive input", len(plain), len(compressed))
	}

	got, err := zstdTransform{}.Decode(compressed, 0)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatal("zstd round trip mismatch")
	}
}

// Decode is duplex: input that is not a zstd frame passes through, keeping
// uncompressed rows readable after compression is enabled on a table.
func TestZstdDecodePassThrough(t *testing.T) {
	plain := []byte(`["not","compressed"]`)
	got, err := zstdTransform{}.Decode(plain, 0)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("pass-through = %q, want %q", got, plain)
	}
}
