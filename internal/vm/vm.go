// Package vm implements the register/frame-based interpreter from
// spec.md §4: each call gets a flat slice of temporaries sized to its
// function's tmpvar_size, opcodes read and write those temporaries
// directly, and control flow is absolute byte offsets validated
// against the function's own instruction boundaries before every jump.
package vm

import (
	"github.com/google/uuid"

	"noct/internal/errors"
	"noct/internal/gc"
	"noct/internal/jit"
	"noct/internal/lir"
	"noct/internal/value"
)

// NativeFunc is a host-registered function: see spec.md §6's FFI
// surface. It returns false (with the error channel already set) to
// abort the calling script the same way a source-defined runtime
// error would.
type NativeFunc func(vm *VM, args []value.Value) (value.Value, bool)

// Frame is one activation record: a function pointer, its flat
// temporary array, and the program counter into its bytecode.
type Frame struct {
	Fn    *lir.Function
	Temps []value.Value
	PC    int
	Line  int
}

// VM is the whole execution environment: globals, the registered
// function/native tables, the heap, the live call stack, and the
// shared error channel every fallible stage (including the compiler,
// when it shares a VM instance) reports through.
type VM struct {
	Globals    map[string]value.Value
	globalHash map[uint32]string // global names by FNV-1a hash, filled by SetGlobal; lookups go through Globals by name

	Functions      map[string]*lir.Function
	funcBoundaries map[*lir.Function]map[uint32]bool
	Natives        map[string]NativeFunc

	Heap   *gc.Heap
	Frames []*Frame
	Pinned []value.Value

	Errs *errors.Channel
	File string

	// ID identifies this VM instance in logs when a host runs more
	// than one, e.g. a REPL session alongside a background script.
	ID string

	MaxCallDepth int
	DisableJIT   bool
	ForceJIT     bool

	profiler *jit.Profiler
	compiler *jit.Compiler
	compiled map[*lir.Function]*jit.Compiled
}

func New(errs *errors.Channel) *VM {
	profiler := jit.NewProfiler()
	return &VM{
		ID:             uuid.NewString(),
		Globals:        map[string]value.Value{},
		globalHash:     map[uint32]string{},
		Functions:      map[string]*lir.Function{},
		funcBoundaries: map[*lir.Function]map[uint32]bool{},
		Natives:        map[string]NativeFunc{},
		Heap:           gc.New(),
		Errs:           errs,
		MaxCallDepth:   1024,
		profiler:       profiler,
		compiler:       jit.NewCompiler(profiler),
		compiled:       map[*lir.Function]*jit.Compiled{},
	}
}

// WalkRoots implements gc.Roots: globals, every live frame's
// temporaries, and anything a native call has pinned.
func (vm *VM) WalkRoots(visit func(value.Value)) {
	for _, v := range vm.Globals {
		visit(v)
	}
	for _, f := range vm.Frames {
		for _, t := range f.Temps {
			visit(t)
		}
	}
	for _, v := range vm.Pinned {
		visit(v)
	}
}

func (vm *VM) maybeCollect() {
	if vm.Heap.ShouldCollect() {
		vm.Heap.Collect(vm)
	}
}

// maybeTierUp feeds fn's call into the profiler and, once a promotion
// threshold is crossed (or ForceJIT always promotes on first call),
// asks the compiler to produce a compiled form. The interpreter never
// consults vm.compiled: Compile is a stub with no real code generation,
// so every call keeps running through run() regardless of tier.
func (vm *VM) maybeTierUp(fn *lir.Function) {
	if vm.DisableJIT {
		return
	}
	promote, tier := vm.profiler.RecordCall(fn)
	if !promote && !vm.ForceJIT {
		return
	}
	if _, ok := vm.compiled[fn]; ok {
		return
	}
	if vm.ForceJIT {
		tier = jit.TierOptimized
	}
	if compiled, err := vm.compiler.Compile(fn, tier); err == nil {
		vm.compiled[fn] = compiled
	}
}

// RegisterFunction loads fn into the function table. Its instruction
// boundaries are computed once here and every jump target in the body
// is checked against them, so a function with a jump outside its own
// instruction stream is rejected at registration and every JMP at
// runtime is a cheap map probe rather than a re-decode of the body.
func (vm *VM) RegisterFunction(fn *lir.Function) bool {
	bounds, ok := lir.Boundaries(fn.Code)
	if !ok {
		vm.Errs.Setf(errors.Deserialization, vm.File, 0, "Broken bytecode. (function %q)", fn.Name)
		return false
	}
	for pc := 0; pc < len(fn.Code); {
		in, _ := lir.Decode(fn.Code, pc)
		switch in.Op {
		case lir.JMP, lir.JMPIFTRUE, lir.JMPIFFALSE, lir.JMPIFEQ:
			if !bounds[in.Addr] {
				vm.Errs.Setf(errors.Deserialization, vm.File, 0, "Broken bytecode. (function %q)", fn.Name)
				return false
			}
		}
		pc = in.Next
	}
	vm.Functions[fn.Name] = fn
	vm.funcBoundaries[fn] = bounds
	return true
}

func (vm *VM) RegisterNative(name string, fn NativeFunc) {
	vm.Natives[name] = fn
}

// SetGlobal assigns a top-level binding and records a new name in
// globalHash under its FNV-1a hash. LOADSYMBOL and STORESYMBOL look
// globals up by name; neither reads globalHash or the inline hash
// operand.
func (vm *VM) SetGlobal(name string, v value.Value) {
	if _, exists := vm.Globals[name]; !exists {
		vm.globalHash[lir.FNV32a(name)] = name
	}
	vm.Globals[name] = v
}

func (vm *VM) GetGlobal(name string) (value.Value, bool) {
	v, ok := vm.Globals[name]
	return v, ok
}

// Pin keeps v alive across a native call's lifetime (e.g. a value a
// C-side caller is still holding a reference to) and returns a handle
// to pass back to Unpin.
func (vm *VM) Pin(v value.Value) int {
	vm.Pinned = append(vm.Pinned, v)
	return len(vm.Pinned) - 1
}

func (vm *VM) Unpin(handle int) {
	if handle >= 0 && handle < len(vm.Pinned) {
		vm.Pinned[handle] = value.NullValue()
	}
}

func (vm *VM) fail(line int, format string, args ...interface{}) bool {
	vm.Errs.Setf(errors.Runtime, vm.File, line, format, args...)
	return false
}

// Call invokes a registered function or native by name, the entry
// point both the CLI driver and the FFI's Enter use to start a script.
func (vm *VM) Call(name string, args []value.Value) (value.Value, bool) {
	if native, ok := vm.Natives[name]; ok {
		return native(vm, args)
	}
	fn, ok := vm.Functions[name]
	if !ok {
		vm.fail(0, "undefined function %q", name)
		return value.NullValue(), false
	}
	return vm.invoke(fn, args)
}

func (vm *VM) invoke(fn *lir.Function, args []value.Value) (value.Value, bool) {
	if len(vm.Frames) >= vm.MaxCallDepth {
		vm.fail(0, "call stack overflow in %q", fn.Name)
		return value.NullValue(), false
	}
	vm.maybeTierUp(fn)
	frame := &Frame{Fn: fn, Temps: make([]value.Value, fn.TmpVarSize)}
	for i := range args {
		if i >= len(frame.Temps) {
			break
		}
		frame.Temps[i] = args[i]
	}
	vm.Frames = append(vm.Frames, frame)
	ok := vm.run(frame)
	vm.Frames = vm.Frames[:len(vm.Frames)-1]
	if !ok {
		return value.NullValue(), false
	}
	vm.maybeCollect()
	if fn.ReturnSlot < len(frame.Temps) {
		return frame.Temps[fn.ReturnSlot], true
	}
	return value.NullValue(), true
}

func (vm *VM) callValue(callee value.Value, args []value.Value) (value.Value, bool) {
	if callee.Kind != value.Function {
		return value.NullValue(), vm.fail(0, "cannot call a %s value", callee.Kind)
	}
	name := callee.Obj.FuncName
	if callee.Obj.Native {
		native, ok := vm.Natives[name]
		if !ok {
			return value.NullValue(), vm.fail(0, "undefined native %q", name)
		}
		return native(vm, args)
	}
	fn, ok := vm.Functions[name]
	if !ok {
		return value.NullValue(), vm.fail(0, "undefined function %q", name)
	}
	return vm.invoke(fn, args)
}

func (vm *VM) resolveCallable(name string) value.Value {
	if fn, ok := vm.Functions[name]; ok {
		return value.FuncValue(vm.Heap.NewFunction(fn.Name, false))
	}
	if _, ok := vm.Natives[name]; ok {
		return value.FuncValue(vm.Heap.NewFunction(name, true))
	}
	return value.NullValue()
}
