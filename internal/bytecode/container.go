// Package bytecode implements the serializable container format from
// spec.md §4.7: a textual envelope (magic line, then one section name
// per line followed by its value line(s)) wrapping one big-endian
// binary bytecode payload per function, so compiled output can be
// written to disk, diffed, and loaded back by the VM without
// re-parsing source.
package bytecode

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"noct/internal/errors"
	"noct/internal/lir"
)

const Magic = "Noct Bytecode 1.0"

// Write serializes prog as the textual/binary container format. It
// never fails on a well-formed *lir.Program; the error return only
// covers the underlying writer.
func Write(w io.Writer, sourceFile string, prog *lir.Program) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n", Magic)
	fmt.Fprintf(bw, "Source\n%s\n", sourceFile)
	fmt.Fprintf(bw, "Number Of Functions\n%d\n", len(prog.Functions))
	for _, fn := range prog.Functions {
		fmt.Fprintf(bw, "Begin Function\n")
		fmt.Fprintf(bw, "Name\n%s\n", fn.Name)
		fmt.Fprintf(bw, "Parameters\n%d\n", len(fn.Params))
		for _, p := range fn.Params {
			fmt.Fprintf(bw, "%s\n", p)
		}
		fmt.Fprintf(bw, "Temporary Size\n%d\n", fn.TmpVarSize)
		fmt.Fprintf(bw, "Bytecode Size\n%d\n", len(fn.Code))
		bw.Write(fn.Code)
		fmt.Fprintf(bw, "\nEnd Function\n")
	}
	return bw.Flush()
}

// Read deserializes a container written by Write. On a malformed
// stream — bad magic, a section out of order, a truncated payload, or
// a count/size that doesn't parse — it sets a Deserialization error
// and returns (nil, "", false), matching the host-facing "Broken
// bytecode." contract for any other malformed input reaching the VM.
//
// The container has no field for a function's return slot; per
// internal/lir's slot-allocation convention (parameters occupy slots
// 0..len(Params)-1, "$return" takes the slot right after them), it is
// recovered here as len(params).
func Read(r io.Reader, file string, errs *errors.Channel) (*lir.Program, string, bool) {
	br := bufio.NewReader(r)

	line, err := br.ReadString('\n')
	if err != nil {
		errs.Setf(errors.Deserialization, file, 0, "truncated bytecode container: %v", err)
		return nil, "", false
	}
	if strings.TrimRight(line, "\n") != Magic {
		errs.Setf(errors.Deserialization, file, 0, "bad bytecode magic %q", strings.TrimRight(line, "\n"))
		return nil, "", false
	}

	if !expectLine(br, "Source", errs, file) {
		return nil, "", false
	}
	source, ok := readLine(br, errs, file, "source file name")
	if !ok {
		return nil, "", false
	}

	if !expectLine(br, "Number Of Functions", errs, file) {
		return nil, "", false
	}
	countLine, ok := readLine(br, errs, file, "function count")
	if !ok {
		return nil, "", false
	}
	n, err := strconv.Atoi(countLine)
	if err != nil || n < 0 {
		errs.Setf(errors.Deserialization, file, 0, "invalid function count %q", countLine)
		return nil, "", false
	}

	prog := &lir.Program{}
	for i := 0; i < n; i++ {
		fn, ok := readFunction(br, errs, file)
		if !ok {
			return nil, "", false
		}
		prog.Functions = append(prog.Functions, fn)
	}
	return prog, source, true
}

// expectLine consumes the next line and requires it to equal want
// exactly, the shape every section name in §4.7's grammar takes.
func expectLine(br *bufio.Reader, want string, errs *errors.Channel, file string) bool {
	raw, err := br.ReadString('\n')
	if err != nil {
		errs.Setf(errors.Deserialization, file, 0, "truncated bytecode container, expected section %q", want)
		return false
	}
	if got := strings.TrimRight(raw, "\n"); got != want {
		errs.Setf(errors.Deserialization, file, 0, "expected section %q, got %q", want, got)
		return false
	}
	return true
}

// readLine consumes the next line and returns it trimmed of its
// newline, failing with a Deserialization error naming what was
// expected if the stream ends early.
func readLine(br *bufio.Reader, errs *errors.Channel, file, what string) (string, bool) {
	raw, err := br.ReadString('\n')
	if err != nil {
		errs.Setf(errors.Deserialization, file, 0, "truncated bytecode container, expected %s", what)
		return "", false
	}
	return strings.TrimRight(raw, "\n"), true
}

func readFunction(br *bufio.Reader, errs *errors.Channel, file string) (*lir.Function, bool) {
	if !expectLine(br, "Begin Function", errs, file) {
		return nil, false
	}
	if !expectLine(br, "Name", errs, file) {
		return nil, false
	}
	name, ok := readLine(br, errs, file, "function name")
	if !ok {
		return nil, false
	}

	if !expectLine(br, "Parameters", errs, file) {
		return nil, false
	}
	paramCountLine, ok := readLine(br, errs, file, "parameter count")
	if !ok {
		return nil, false
	}
	paramCount, err := strconv.Atoi(paramCountLine)
	if err != nil || paramCount < 0 {
		errs.Setf(errors.Deserialization, file, 0, "invalid parameter count for function %q", name)
		return nil, false
	}
	params := make([]string, paramCount)
	for i := 0; i < paramCount; i++ {
		p, ok := readLine(br, errs, file, fmt.Sprintf("parameter %d of %q", i, name))
		if !ok {
			return nil, false
		}
		params[i] = p
	}

	if !expectLine(br, "Temporary Size", errs, file) {
		return nil, false
	}
	tmpLine, ok := readLine(br, errs, file, "temporary size")
	if !ok {
		return nil, false
	}
	tmpVarSize, err := strconv.Atoi(tmpLine)
	if err != nil || tmpVarSize < 0 {
		errs.Setf(errors.Deserialization, file, 0, "invalid temporary size for function %q", name)
		return nil, false
	}

	if !expectLine(br, "Bytecode Size", errs, file) {
		return nil, false
	}
	sizeLine, ok := readLine(br, errs, file, "bytecode size")
	if !ok {
		return nil, false
	}
	codeLen, err := strconv.Atoi(sizeLine)
	if err != nil || codeLen < 0 {
		errs.Setf(errors.Deserialization, file, 0, "invalid bytecode size for function %q", name)
		return nil, false
	}

	code := make([]byte, codeLen)
	if _, err := io.ReadFull(br, code); err != nil {
		errs.Setf(errors.Deserialization, file, 0, "truncated bytecode payload for function %q", name)
		return nil, false
	}
	if _, err := br.ReadString('\n'); err != nil {
		errs.Setf(errors.Deserialization, file, 0, "missing newline after function %q payload", name)
		return nil, false
	}
	if !expectLine(br, "End Function", errs, file) {
		return nil, false
	}

	if _, ok := lir.Boundaries(code); !ok {
		errs.Setf(errors.Deserialization, file, 0, "broken bytecode in function %q", name)
		return nil, false
	}

	return &lir.Function{Name: name, Params: params, TmpVarSize: tmpVarSize, ReturnSlot: len(params), Code: code}, true
}
