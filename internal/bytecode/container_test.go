package bytecode

import (
	"strconv"
	"strings"
	"testing"

	"noct/internal/errors"
	"noct/internal/lir"
)

func sampleProgram() *lir.Program {
	var b []byte
	b = append(b, byte(lir.ICONST))
	b = append(b, 0, 0)       // dst u16
	b = append(b, 0, 0, 0, 7) // i32 operand = 7
	fn := &lir.Function{
		Name:       "f",
		Params:     []string{"a", "b"},
		TmpVarSize: 3,
		ReturnSlot: 2, // len(Params), per the slot-allocation convention
		Code:       b,
	}
	return &lir.Program{Functions: []*lir.Function{fn}}
}

func TestWriteReadRoundTrip(t *testing.T) {
	prog := sampleProgram()
	var buf strings.Builder
	if err := Write(&buf, "src.noct", prog); err != nil {
		t.Fatalf("write: %v", err)
	}
	errs := &errors.Channel{}
	got, source, ok := Read(strings.NewReader(buf.String()), "src.noct", errs)
	if !ok {
		entry, _ := errs.Last()
		t.Fatalf("read failed: %v", entry)
	}
	if source != "src.noct" {
		t.Fatalf("want source %q, got %q", "src.noct", source)
	}
	if len(got.Functions) != 1 {
		t.Fatalf("want 1 function, got %d", len(got.Functions))
	}
	gf := got.Functions[0]
	want := prog.Functions[0]
	if gf.Name != want.Name || gf.TmpVarSize != want.TmpVarSize || gf.ReturnSlot != want.ReturnSlot {
		t.Fatalf("header mismatch: got %+v, want %+v", gf, want)
	}
	if len(gf.Params) != 2 || gf.Params[0] != "a" || gf.Params[1] != "b" {
		t.Fatalf("params mismatch: got %v", gf.Params)
	}
	if string(gf.Code) != string(want.Code) {
		t.Fatal("code payload mismatch")
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	errs := &errors.Channel{}
	_, _, ok := Read(strings.NewReader("Not Noct Bytecode\n"), "x", errs)
	if ok {
		t.Fatal("expected Read to reject a bad magic line")
	}
	entry, _ := errs.Last()
	if entry.Kind != errors.Deserialization {
		t.Fatalf("want Deserialization kind, got %v", entry.Kind)
	}
}

func TestReadRejectsTruncatedStream(t *testing.T) {
	errs := &errors.Channel{}
	_, _, ok := Read(strings.NewReader(Magic+"\n"), "x", errs)
	if ok {
		t.Fatal("expected Read to reject a stream missing the Source/Number Of Functions header")
	}
}

func TestReadRejectsInvalidFunctionCount(t *testing.T) {
	src := Magic + "\nSource\nx\nNumber Of Functions\nnot-a-number\n"
	errs := &errors.Channel{}
	_, _, ok := Read(strings.NewReader(src), "x", errs)
	if ok {
		t.Fatal("expected Read to reject a non-numeric function count")
	}
}

func TestReadRejectsOutOfOrderSection(t *testing.T) {
	src := Magic + "\nSource\nx\nFunctions\n1\n"
	errs := &errors.Channel{}
	_, _, ok := Read(strings.NewReader(src), "x", errs)
	if ok {
		t.Fatal("expected Read to reject \"Functions\" where \"Number Of Functions\" is required")
	}
}

func TestReadRejectsTruncatedPayload(t *testing.T) {
	src := Magic + "\n" +
		"Source\nx\n" +
		"Number Of Functions\n1\n" +
		"Begin Function\n" +
		"Name\nf\n" +
		"Parameters\n0\n" +
		"Temporary Size\n1\n" +
		"Bytecode Size\n10\n" +
		"abc" // far fewer bytes than Bytecode Size claims
	errs := &errors.Channel{}
	_, _, ok := Read(strings.NewReader(src), "x", errs)
	if ok {
		t.Fatal("expected Read to reject a truncated bytecode payload")
	}
	entry, _ := errs.Last()
	if !strings.Contains(entry.Message, "truncated") {
		t.Fatalf("want a truncation message, got %q", entry.Message)
	}
}

func TestReadRejectsBrokenBytecodeInPayload(t *testing.T) {
	code := []byte{byte(lir.ICONST), 0, 0} // missing the i32 operand
	src := Magic + "\n" +
		"Source\nx\n" +
		"Number Of Functions\n1\n" +
		"Begin Function\n" +
		"Name\nf\n" +
		"Parameters\n0\n" +
		"Temporary Size\n1\n" +
		"Bytecode Size\n" + strconv.Itoa(len(code)) + "\n" +
		string(code) + "\n" +
		"End Function\n"
	errs := &errors.Channel{}
	_, _, ok := Read(strings.NewReader(src), "x", errs)
	if ok {
		t.Fatal("expected Read to reject a payload that fails boundary validation")
	}
	entry, _ := errs.Last()
	if !strings.Contains(entry.Message, "broken bytecode") {
		t.Fatalf("want a broken bytecode message, got %q", entry.Message)
	}
}
