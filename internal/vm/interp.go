package vm

import (
	"math"

	"noct/internal/lir"
	"noct/internal/value"
)

// run executes frame's bytecode from its current PC until it falls
// off the end of the function or a RETURN-lowered jump reaches it.
// Any decode failure or out-of-bounds jump aborts with the same
// "Broken bytecode." wording spec.md §7 reserves for a malformed
// instruction stream, distinct from an ordinary runtime error.
func (vm *VM) run(frame *Frame) bool {
	code := frame.Fn.Code
	bounds := vm.funcBoundaries[frame.Fn]
	for frame.PC < len(code) {
		in, ok := lir.Decode(code, frame.PC)
		if !ok {
			vm.fail(frame.Line, "Broken bytecode.")
			return false
		}
		frame.PC = in.Next

		switch in.Op {
		case lir.NOP, lir.LINEINFO:
			if in.Op == lir.LINEINFO {
				frame.Line = int(in.Line)
			}

		case lir.ASSIGN:
			frame.Temps[in.Dst] = frame.Temps[in.S1]
		case lir.ICONST:
			frame.Temps[in.Dst] = value.IntValue(in.IVal)
		case lir.FCONST:
			frame.Temps[in.Dst] = value.FloatValue(math.Float32frombits(in.FBits))
		case lir.SCONST:
			frame.Temps[in.Dst] = value.StringValue(vm.Heap.Intern(in.Str))
		case lir.ACONST:
			frame.Temps[in.Dst] = value.ArrayValue(vm.Heap.NewArray(nil))
		case lir.DCONST:
			frame.Temps[in.Dst] = value.DictValue(vm.Heap.NewDict())
		case lir.INC:
			if !vm.incTemp(frame, in.Dst) {
				return false
			}
		case lir.NEG:
			v, ok := vm.negate(frame.Temps[in.S1], frame.Line)
			if !ok {
				return false
			}
			frame.Temps[in.Dst] = v
		case lir.NOT:
			frame.Temps[in.Dst] = value.IntValue(boolInt(!frame.Temps[in.S1].Truthy()))

		case lir.ADD, lir.SUB, lir.MUL, lir.DIV, lir.MOD,
			lir.AND, lir.OR, lir.XOR, lir.SHL, lir.SHR,
			lir.LT, lir.LE, lir.GT, lir.GE, lir.EQ, lir.NE, lir.EQI:
			v, ok := vm.binaryOp(in.Op, frame.Temps[in.S1], frame.Temps[in.S2], frame.Line)
			if !ok {
				return false
			}
			frame.Temps[in.Dst] = v

		case lir.LOADARRAY:
			v, ok := vm.loadIndex(frame.Temps[in.S1], frame.Temps[in.S2], frame.Line)
			if !ok {
				return false
			}
			frame.Temps[in.Dst] = v
		case lir.STOREARRAY:
			if !vm.storeIndex(frame, in.Dst, frame.Temps[in.S1], frame.Temps[in.S2]) {
				return false
			}
		case lir.LEN:
			n, ok := vm.length(frame.Temps[in.S1], frame.Line)
			if !ok {
				return false
			}
			frame.Temps[in.Dst] = value.IntValue(n)
		case lir.GETDICTKEYBYINDEX:
			v, ok := vm.keyByIndex(frame.Temps[in.S1], frame.Temps[in.S2], frame.Line)
			if !ok {
				return false
			}
			frame.Temps[in.Dst] = v
		case lir.GETDICTVALBYINDEX:
			v, ok := vm.valByIndex(frame.Temps[in.S1], frame.Temps[in.S2], frame.Line)
			if !ok {
				return false
			}
			frame.Temps[in.Dst] = v

		case lir.STOREDOT:
			obj := frame.Temps[in.Dst]
			if obj.Kind != value.Dict {
				vm.fail(frame.Line, "cannot assign field %q on a %s value", in.Str, obj.Kind)
				return false
			}
			value.DictSet(obj.Obj, in.Str, frame.Temps[in.S1])
		case lir.LOADDOT:
			obj := frame.Temps[in.S1]
			if obj.Kind != value.Dict {
				vm.fail(frame.Line, "cannot read field %q on a %s value", in.Str, obj.Kind)
				return false
			}
			v, found := value.DictGet(obj.Obj, in.Str)
			if !found {
				v = value.NullValue()
			}
			frame.Temps[in.Dst] = v

		case lir.STORESYMBOL:
			vm.SetGlobal(in.Str, frame.Temps[in.S1])
		case lir.LOADSYMBOL:
			if v, ok := vm.GetGlobal(in.Str); ok {
				frame.Temps[in.Dst] = v
				break
			}
			callable := vm.resolveCallable(in.Str)
			if callable.IsNull() {
				vm.fail(frame.Line, "undefined symbol %q", in.Str)
				return false
			}
			frame.Temps[in.Dst] = callable

		case lir.CALL:
			args := make([]value.Value, len(in.Args))
			for i, a := range in.Args {
				args[i] = frame.Temps[a]
			}
			result, ok := vm.callValue(frame.Temps[in.S1], args)
			if !ok {
				return false
			}
			frame.Temps[in.Dst] = result
		case lir.THISCALL:
			args := make([]value.Value, len(in.Args)+1)
			recv := frame.Temps[in.S1]
			args[0] = recv
			for i, a := range in.Args {
				args[i+1] = frame.Temps[a]
			}
			result, ok := vm.dispatchMethod(recv, in.Str, args, frame.Line)
			if !ok {
				return false
			}
			frame.Temps[in.Dst] = result

		case lir.JMP:
			if !vm.jumpTo(frame, bounds, in.Addr) {
				return false
			}
		case lir.JMPIFTRUE:
			if frame.Temps[in.S1].Truthy() {
				if !vm.jumpTo(frame, bounds, in.Addr) {
					return false
				}
			}
		case lir.JMPIFFALSE:
			if !frame.Temps[in.S1].Truthy() {
				if !vm.jumpTo(frame, bounds, in.Addr) {
					return false
				}
			}
		case lir.JMPIFEQ:
			if value.Equal(frame.Temps[in.S1], value.IntValue(1)) {
				if !vm.jumpTo(frame, bounds, in.Addr) {
					return false
				}
			}

		default:
			vm.fail(frame.Line, "Broken bytecode.")
			return false
		}
	}
	return true
}

func (vm *VM) jumpTo(frame *Frame, bounds map[uint32]bool, addr uint32) bool {
	if !bounds[addr] {
		vm.fail(frame.Line, "Broken bytecode.")
		return false
	}
	frame.PC = int(addr)
	return true
}

func (vm *VM) incTemp(frame *Frame, dst uint16) bool {
	v := frame.Temps[dst]
	switch v.Kind {
	case value.Int:
		frame.Temps[dst] = value.IntValue(v.I + 1)
	case value.Float:
		frame.Temps[dst] = value.FloatValue(v.F + 1)
	default:
		return vm.fail(frame.Line, "cannot increment a %s value", v.Kind)
	}
	return true
}

func boolInt(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

// dispatchMethod implements `recv->name(args)`: a dict carrying a
// function-valued field named `name` is called as a bound method
// (the `new Class{...}` object-literal pattern); otherwise `name` must
// be a registered native taking the receiver as its first argument.
func (vm *VM) dispatchMethod(recv value.Value, name string, args []value.Value, line int) (value.Value, bool) {
	if recv.Kind == value.Dict {
		if fn, ok := value.DictGet(recv.Obj, name); ok && fn.Kind == value.Function {
			return vm.callValue(fn, args)
		}
	}
	native, ok := vm.Natives[name]
	if !ok {
		return value.NullValue(), vm.fail(line, "undefined method %q on %s", name, recv.Kind)
	}
	return native(vm, args)
}
