// Package ffi is the embedding surface described in spec.md §6: a host
// program creates a VM, registers source files, bytecode files, and
// native functions against it, enters a function by name, and reads
// back the shared error channel — the same seam the CLI driver and
// REPL are built on top of.
package ffi

import (
	"io"

	"noct/internal/bytecode"
	"noct/internal/errors"
	"noct/internal/hir"
	"noct/internal/lexer"
	"noct/internal/lir"
	"noct/internal/parser"
	"noct/internal/value"
	"noct/internal/vm"
)

// DisableJIT and ForceJIT are process-wide configuration flags (see
// spec.md §6): they apply to every VM a host creates for the lifetime
// of the process, not to one VM instance.
var (
	DisableJIT bool
	ForceJIT   bool
)

func SetDisableJIT(v bool) { DisableJIT = v }
func SetForceJIT(v bool)   { ForceJIT = v }

// Host owns one VM instance plus the compile pipeline needed to turn
// source or a bytecode container into registered functions.
type Host struct {
	VM *vm.VM
}

func New() *Host {
	h := &Host{VM: vm.New(&errors.Channel{})}
	h.VM.DisableJIT = DisableJIT
	h.VM.ForceJIT = ForceJIT
	return h
}

// RegisterSourceFile runs the full lexer -> parser -> HIR -> LIR
// pipeline over source and registers every resulting function.
func (h *Host) RegisterSourceFile(file, source string) bool {
	errs := h.VM.Errs
	h.VM.File = file
	toks, ok := lexer.New(file, source, errs).Scan()
	if !ok {
		return false
	}
	ast, ok := parser.New(file, toks, errs).Parse()
	if !ok {
		return false
	}
	hirProg, ok := hir.Build(file, ast, errs)
	if !ok {
		return false
	}
	lirProg, ok := lir.Build(file, hirProg, errs)
	if !ok {
		return false
	}
	return h.registerProgram(lirProg)
}

// RegisterBytecodeFile loads a previously serialized container (see
// the bytecode package) and registers every function it carries.
func (h *Host) RegisterBytecodeFile(file string, r io.Reader) bool {
	h.VM.File = file
	prog, _, ok := bytecode.Read(r, file, h.VM.Errs)
	if !ok {
		return false
	}
	return h.registerProgram(prog)
}

func (h *Host) registerProgram(prog *lir.Program) bool {
	for _, fn := range prog.Functions {
		if !h.VM.RegisterFunction(fn) {
			return false
		}
	}
	return true
}

func (h *Host) RegisterNative(name string, fn vm.NativeFunc) {
	h.VM.RegisterNative(name, fn)
}

// Enter calls a registered function by name, the entry point a host
// program uses to run a script after registration.
func (h *Host) Enter(funcName string, args ...value.Value) (value.Value, bool) {
	return h.VM.Call(funcName, args)
}

func (h *Host) Pin(v value.Value) int   { return h.VM.Pin(v) }
func (h *Host) Unpin(handle int)        { h.VM.Unpin(handle) }
func (h *Host) LastError() (errors.Entry, bool) { return h.VM.Errs.Last() }
func (h *Host) ClearError()             { h.VM.Errs.Clear() }

// ---- value construction ----

func (h *Host) NewInt(i int32) value.Value     { return value.IntValue(i) }
func (h *Host) NewFloat(f float32) value.Value { return value.FloatValue(f) }
func (h *Host) NewString(s string) value.Value { return value.StringValue(h.VM.Heap.Intern(s)) }
func (h *Host) NewArray(elems []value.Value) value.Value {
	return value.ArrayValue(h.VM.Heap.NewArray(elems))
}
func (h *Host) NewDict() value.Value { return value.DictValue(h.VM.Heap.NewDict()) }

// ---- value introspection ----

func (h *Host) Kind(v value.Value) value.Kind { return v.Kind }

func AsInt(v value.Value) (int32, bool) {
	if v.Kind != value.Int {
		return 0, false
	}
	return v.I, true
}

func AsFloat(v value.Value) (float32, bool) {
	if v.Kind != value.Float {
		return 0, false
	}
	return v.F, true
}

func AsString(v value.Value) (string, bool) {
	if v.Kind != value.String {
		return "", false
	}
	return v.Obj.Str, true
}

func (h *Host) DictSet(d value.Value, key string, v value.Value) {
	value.DictSet(d.Obj, key, v)
}

func (h *Host) DictGet(d value.Value, key string) (value.Value, bool) {
	return value.DictGet(d.Obj, key)
}

func (h *Host) ArrayAppend(a value.Value, v value.Value) {
	a.Obj.Arr = append(a.Obj.Arr, v)
}
