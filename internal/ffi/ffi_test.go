package ffi

import (
	"strings"
	"testing"

	"noct/internal/bytecode"
	"noct/internal/errors"
	"noct/internal/lir"
	"noct/internal/value"
)

// TestBoundaryScenarios exercises the arithmetic, string-concat,
// array-mutate and control-flow scenarios end to end: source text
// through the whole pipeline into a running VM.
func TestBoundaryScenarios(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   value.Value
	}{
		{
			name:   "arithmetic",
			source: `func main(){ var a = 1 + 2 * 3; return a; }`,
			want:   value.IntValue(7),
		},
		{
			name:   "string concat",
			source: `func main(){ return "x" + 1 + "y"; }`,
			want:   value.Value{Kind: value.String},
		},
		{
			name:   "array mutate",
			source: `func main(){ var a = []; a[0] = 10; a[1] = 20; return a[0] + a[1]; }`,
			want:   value.IntValue(30),
		},
		{
			name:   "control flow",
			source: `func main(){ var s = 0; for (i in 0..5) s += i; return s; }`,
			want:   value.IntValue(10),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			if !h.RegisterSourceFile("test", tt.source) {
				entry, _ := h.LastError()
				t.Fatalf("register failed: %v", entry)
			}
			got, ok := h.Enter("main")
			if !ok {
				entry, _ := h.LastError()
				t.Fatalf("enter failed: %v", entry)
			}
			if tt.want.Kind == value.String {
				if got.Kind != value.String {
					t.Fatalf("want string, got %s", got.Kind)
				}
				if got.Obj.Str != "x1y" {
					t.Fatalf("want %q, got %q", "x1y", got.Obj.Str)
				}
				return
			}
			if !value.Equal(got, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, got)
			}
		})
	}
}

func TestErrorPathArrayOutOfRange(t *testing.T) {
	h := New()
	src := `func main(){ var a = [1,2]; return a[10]; }`
	if !h.RegisterSourceFile("test", src) {
		t.Fatalf("register failed")
	}
	_, ok := h.Enter("main")
	if ok {
		t.Fatal("expected enter to fail on out-of-range read")
	}
	entry, _ := h.LastError()
	if !strings.Contains(strings.ToLower(entry.Message), "out of range") {
		t.Fatalf("expected 'out of range' substring, got %q", entry.Message)
	}
}

func TestBrokenBytecodeJumpOutOfBounds(t *testing.T) {
	h := New()
	src := `func main(){ return 1; }`
	if !h.RegisterSourceFile("build", src) {
		t.Fatalf("register failed")
	}
	fn := h.VM.Functions["main"]
	// Corrupt the function's bytecode with a JMP to an address past
	// its own length, the "broken bytecode" scenario from spec.md §8.
	corrupt := append([]byte{}, fn.Code...)
	corrupt = append(corrupt, byte(lir.JMP), 0xFF, 0xFF, 0xFF, 0xFF)
	broken := *fn
	broken.Code = corrupt
	errs := &errors.Channel{}
	h.VM.Errs = errs
	if h.VM.RegisterFunction(&broken) {
		t.Fatalf("expected RegisterFunction to reject out-of-bounds jump")
	}
	entry, _ := errs.Last()
	if !strings.Contains(entry.Message, "Broken bytecode.") {
		t.Fatalf("expected 'Broken bytecode.' message, got %q", entry.Message)
	}
}

// TestBytecodeRoundTrip implements spec.md §8's
// deserialize(serialize(F)) = F property for the container format.
func TestBytecodeRoundTrip(t *testing.T) {
	h := New()
	src := `func add(a, b){ return a + b; }`
	if !h.RegisterSourceFile("test", src) {
		t.Fatalf("register failed")
	}
	fn := h.VM.Functions["add"]

	var buf strings.Builder
	prog := &lir.Program{Functions: []*lir.Function{fn}}
	if err := bytecode.Write(&buf, "test", prog); err != nil {
		t.Fatalf("write: %v", err)
	}

	errs := &errors.Channel{}
	read, _, ok := bytecode.Read(strings.NewReader(buf.String()), "test", errs)
	if !ok {
		entry, _ := errs.Last()
		t.Fatalf("read failed: %v", entry)
	}
	if len(read.Functions) != 1 {
		t.Fatalf("want 1 function, got %d", len(read.Functions))
	}
	got := read.Functions[0]
	if got.Name != fn.Name || got.TmpVarSize != fn.TmpVarSize || got.ReturnSlot != fn.ReturnSlot {
		t.Fatalf("header mismatch: got %+v, want %+v", got, fn)
	}
	if string(got.Code) != string(fn.Code) {
		t.Fatalf("bytecode payload mismatch")
	}
}
