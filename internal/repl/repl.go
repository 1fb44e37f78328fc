// Package repl implements the line-oriented REPL from spec.md §6: a
// single line is wrapped in a synthetic `func repl_N(){ ... }` and run
// immediately; a line starting with `func`, `if`, `for`, or `while`
// switches to multi-line mode, accumulating further lines until the
// open/close brace counts agree. A `func` block is compiled and left
// registered for later calls; any other block is wrapped and invoked
// the same way a single line is. Syntax errors report (REPL, line,
// message) and return to the prompt without aborting the VM, mirroring
// the teacher's internal/repl.Start read loop, generalized to
// multi-line accumulation and given its own session id for log
// correlation across concurrent REPL instances.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"noct/internal/ffi"
	"noct/internal/value"
	"noct/internal/vm"
)

var blockKeywords = map[string]bool{"func": true, "if": true, "for": true, "while": true}

// REPL owns one session's host VM plus its accumulated multi-line
// buffer state.
type REPL struct {
	SessionID string
	host      *ffi.Host
	in        *bufio.Scanner
	out       io.Writer
	wrapN     int
}

func New(in io.Reader, out io.Writer) *REPL {
	r := &REPL{
		SessionID: uuid.NewString(),
		host:      ffi.New(),
		in:        bufio.NewScanner(in),
		out:       out,
	}
	r.host.RegisterNative("print", r.print)
	return r
}

func (r *REPL) print(_ *vm.VM, args []value.Value) (value.Value, bool) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = value.Stringify(a)
	}
	fmt.Fprintln(r.out, strings.Join(parts, " "))
	return value.NullValue(), true
}

// Run drives the prompt loop until EOF or an "exit" line.
func (r *REPL) Run() {
	fmt.Fprintln(r.out, "noct REPL | type 'exit' to quit")
	for {
		fmt.Fprint(r.out, ">>> ")
		if !r.in.Scan() {
			return
		}
		line := r.in.Text()
		if strings.TrimSpace(line) == "exit" {
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		r.step(line)
	}
}

func (r *REPL) step(firstLine string) {
	first := firstToken(firstLine)
	buf := firstLine
	if blockKeywords[first] {
		for !bracesBalanced(buf) {
			fmt.Fprint(r.out, "... ")
			if !r.in.Scan() {
				return
			}
			buf += "\n" + r.in.Text()
		}
		if first == "func" {
			r.compileOnly(buf)
			return
		}
		r.wrapAndRun(buf)
		return
	}
	r.wrapAndRun(buf)
}

func firstToken(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func bracesBalanced(s string) bool {
	depth := 0
	for _, c := range s {
		switch c {
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return depth <= 0
}

// compileOnly registers a top-level `func` declaration without
// invoking it, so later lines can call it by name.
func (r *REPL) compileOnly(source string) {
	if !r.host.RegisterSourceFile("REPL", source) {
		r.reportError()
	}
}

// wrapAndRun wraps source in a synthetic function body and calls it
// immediately, the same shape a single bare statement takes.
func (r *REPL) wrapAndRun(source string) {
	r.wrapN++
	name := fmt.Sprintf("repl_%d", r.wrapN)
	wrapped := fmt.Sprintf("func %s(){\n%s\n}", name, source)
	if !r.host.RegisterSourceFile("REPL", wrapped) {
		r.reportError()
		return
	}
	if _, ok := r.host.Enter(name); !ok {
		r.reportError()
	}
}

func (r *REPL) reportError() {
	entry, ok := r.host.LastError()
	if !ok {
		fmt.Fprintln(r.out, "Error: REPL: unknown error")
		return
	}
	fmt.Fprintf(r.out, "Error: %s: %d: %s\n", entry.File, entry.Line, entry.Message)
	r.host.ClearError()
}
