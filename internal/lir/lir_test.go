package lir

import "testing"

// TestFNV32aStability pins the hash function's output: the compiler
// and interpreter must agree on this byte-for-byte, so a regression
// here is a correctness bug, not a cosmetic one.
func TestFNV32aStability(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"", 2166136261},
		{"a", 0xe40c292c},
	}
	for _, tt := range tests {
		if got := FNV32a(tt.in); got != tt.want {
			t.Errorf("FNV32a(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	var b buffer
	b.byte(byte(ICONST))
	b.u16(3)
	b.i32(42)
	b.byte(byte(SCONST))
	b.u16(5)
	b.str("hello")
	b.byte(byte(ADD))
	b.u16(1)
	b.u16(2)
	b.u16(3)

	code := b.b

	in, ok := Decode(code, 0)
	if !ok || in.Op != ICONST || in.Dst != 3 || in.IVal != 42 {
		t.Fatalf("ICONST decode mismatch: %+v ok=%v", in, ok)
	}
	in2, ok := Decode(code, in.Next)
	if !ok || in2.Op != SCONST || in2.Dst != 5 || in2.Str != "hello" || in2.Hash != FNV32a("hello") {
		t.Fatalf("SCONST decode mismatch: %+v ok=%v", in2, ok)
	}
	in3, ok := Decode(code, in2.Next)
	if !ok || in3.Op != ADD || in3.Dst != 1 || in3.S1 != 2 || in3.S2 != 3 {
		t.Fatalf("ADD decode mismatch: %+v ok=%v", in3, ok)
	}
	if in3.Next != len(code) {
		t.Fatalf("expected final offset %d, got %d", len(code), in3.Next)
	}
}

func TestBoundariesRejectsTruncatedStream(t *testing.T) {
	code := []byte{byte(ICONST), 0, 0} // missing the 4-byte int32 operand
	if _, ok := Boundaries(code); ok {
		t.Fatal("expected Boundaries to reject a truncated instruction")
	}
}

func TestBoundariesAcceptsWellFormedStream(t *testing.T) {
	var b buffer
	b.byte(byte(ICONST))
	b.u16(0)
	b.i32(1)
	b.byte(byte(JMP))
	b.u32(0) // jump back to pc 0, a valid boundary

	bounds, ok := Boundaries(b.b)
	if !ok {
		t.Fatal("expected well-formed stream to validate")
	}
	if !bounds[0] {
		t.Fatal("expected offset 0 to be a valid boundary")
	}
	if !bounds[uint32(len(b.b))] {
		t.Fatal("expected the one-past-the-end offset to be a valid jump target")
	}
}
