package lir

import (
	"fmt"
	"math"

	"noct/internal/ast"
	"noct/internal/errors"
	"noct/internal/hir"
)

const maxTmpVar = 1 << 16

// Every lambda expression is hoisted into its own top-level LIR
// function under a synthetic name and referenced at its use site by
// LOADSYMBOL, since the opcode set has no dedicated "make closure"
// instruction — functions are ordinary global symbols.
type builder struct {
	file     string
	errs     *errors.Channel
	buf      buffer
	slots    map[string]uint16
	nextTmp  uint16
	lastLine int
	loops    []*loopCtx
	extra    []*Function // lambdas hoisted out of this function
	lambdaN  *int
	endPatches []int // JMPs from `return` statements, patched to the function end
}

type loopCtx struct {
	breakPatches    []int
	continuePatches []int
	continueKnown   bool
	continueTarget  int
}

// Build lowers an hir.Program into an lir.Program. On failure it sets
// (file, line, message) on the error channel and returns (nil, false).
func Build(file string, prog *hir.Program, errs *errors.Channel) (*Program, bool) {
	out := &Program{}
	n := 0
	for _, fn := range prog.Functions {
		lf, extra, ok := buildOne(file, fn, errs, &n)
		if !ok {
			return nil, false
		}
		out.Functions = append(out.Functions, lf)
		out.Functions = append(out.Functions, extra...)
	}
	return out, true
}

func buildOne(file string, fn *hir.Function, errs *errors.Channel, lambdaN *int) (*Function, []*Function, bool) {
	b := &builder{file: file, errs: errs, slots: map[string]uint16{}, lambdaN: lambdaN}
	// Parameters occupy slots 0..len(Params)-1, "$return" takes the
	// very next slot, and every other local follows after that — so a
	// reader that only has the parameter list (the container format
	// never stores the return slot) can still recover it as
	// len(Params) without a dedicated wire field.
	for _, p := range fn.Params {
		if _, ok := b.slots[p]; !ok {
			b.slots[p] = b.nextTmp
			b.nextTmp++
		}
	}
	b.slots[hir.ReturnLocal] = b.nextTmp
	b.nextTmp++
	for _, name := range fn.Locals {
		if _, ok := b.slots[name]; !ok {
			b.slots[name] = b.nextTmp
			b.nextTmp++
		}
	}
	if !b.block(fn.Body) {
		return nil, nil, false
	}
	end := b.buf.len()
	for _, p := range b.endPatches {
		b.patch(p, end)
	}
	if int(b.nextTmp) >= maxTmpVar {
		b.fail(fn.Line, "function %q exceeds the 16-bit temporary limit", fn.Name)
		return nil, nil, false
	}
	return &Function{
		Name:       fn.Name,
		Params:     fn.Params,
		TmpVarSize: int(b.nextTmp),
		ReturnSlot: int(b.slots[hir.ReturnLocal]),
		Code:       b.buf.b,
	}, b.extra, true
}

func (b *builder) fail(line int, format string, args ...interface{}) bool {
	b.errs.Setf(errors.Lowering, b.file, line, format, args...)
	return false
}

func (b *builder) newTemp() uint16 {
	t := b.nextTmp
	b.nextTmp++
	return t
}

func (b *builder) lineMark(line int) {
	if line != b.lastLine {
		b.buf.byte(byte(LINEINFO))
		b.buf.u32(uint32(line))
		b.lastLine = line
	}
}

func (b *builder) emitJump(op Op) int {
	b.buf.byte(byte(op))
	addrOff := b.buf.len()
	b.buf.u32(0)
	return addrOff
}

func (b *builder) emitCondJump(op Op, cond uint16) int {
	b.buf.byte(byte(op))
	b.buf.u16(cond)
	addrOff := b.buf.len()
	b.buf.u32(0)
	return addrOff
}

func (b *builder) patch(addrOff int, target int) {
	put32(b.buf.b[addrOff:addrOff+4], uint32(target))
}

func put32(dst []byte, v uint32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}

// ---- Statement-level lowering ----

func (b *builder) block(blk hir.Block) bool {
	for _, s := range blk {
		if !b.stmt(s) {
			return false
		}
	}
	return true
}

func (b *builder) stmt(s hir.Stmt) bool {
	switch st := s.(type) {
	case *hir.Basic:
		for _, op := range st.Ops {
			if !b.op(op) {
				return false
			}
		}
		return true
	case *hir.If:
		return b.ifChain(st)
	case *hir.While:
		return b.whileLoop(st)
	case *hir.For:
		return b.forLoop(st)
	case *hir.Return:
		b.lineMark(st.L)
		if st.Value != nil {
			v, ok := b.expr(st.Value)
			if !ok {
				return false
			}
			b.emitAssign(b.slots[hir.ReturnLocal], v)
		}
		// A return is a store into the reserved "$return" slot (left
		// at its default value for a bare `return;`) followed by a
		// jump to the function's exit point, patched once the whole
		// body has been lowered — falling off the end behaves the
		// same way without needing an explicit jump.
		off := b.emitJump(JMP)
		b.endPatches = append(b.endPatches, off)
		return true
	case *hir.Break:
		b.lineMark(st.L)
		if len(b.loops) == 0 {
			return b.fail(st.L, "break outside of a loop")
		}
		lp := b.loops[len(b.loops)-1]
		off := b.emitJump(JMP)
		lp.breakPatches = append(lp.breakPatches, off)
		return true
	case *hir.Continue:
		b.lineMark(st.L)
		if len(b.loops) == 0 {
			return b.fail(st.L, "continue outside of a loop")
		}
		lp := b.loops[len(b.loops)-1]
		if lp.continueKnown {
			off := b.emitJump(JMP)
			b.patch(off, lp.continueTarget)
		} else {
			off := b.emitJump(JMP)
			lp.continuePatches = append(lp.continuePatches, off)
		}
		return true
	default:
		return b.fail(0, "unsupported HIR statement %T", s)
	}
}

func (b *builder) op(o hir.Op) bool {
	switch op := o.(type) {
	case *hir.AssignOp:
		b.lineMark(op.Line())
		v, ok := b.expr(op.Value)
		if !ok {
			return false
		}
		return b.store(op.Target, v)
	case *hir.EvalOp:
		b.lineMark(op.Line())
		_, ok := b.expr(op.Value)
		return ok
	default:
		return b.fail(o.Line(), "unsupported HIR op %T", o)
	}
}

func (b *builder) ifChain(n *hir.If) bool {
	b.lineMark(n.L)
	cond, ok := b.expr(n.Cond)
	if !ok {
		return false
	}
	skipThen := b.emitCondJump(JMPIFFALSE, cond)
	if !b.block(n.Inner) {
		return false
	}
	var endJumps []int
	endJumps = append(endJumps, b.emitJump(JMP))
	b.patch(skipThen, b.buf.len())
	if n.ElseIf != nil {
		if !b.ifChainTail(n.ElseIf, &endJumps) {
			return false
		}
	} else if n.ElseBody != nil {
		if !b.block(n.ElseBody) {
			return false
		}
	}
	for _, j := range endJumps {
		b.patch(j, b.buf.len())
	}
	return true
}

func (b *builder) ifChainTail(n *hir.If, endJumps *[]int) bool {
	cond, ok := b.expr(n.Cond)
	if !ok {
		return false
	}
	skipThen := b.emitCondJump(JMPIFFALSE, cond)
	if !b.block(n.Inner) {
		return false
	}
	*endJumps = append(*endJumps, b.emitJump(JMP))
	b.patch(skipThen, b.buf.len())
	if n.ElseIf != nil {
		return b.ifChainTail(n.ElseIf, endJumps)
	}
	if n.ElseBody != nil {
		return b.block(n.ElseBody)
	}
	return true
}

func (b *builder) whileLoop(n *hir.While) bool {
	top := b.buf.len()
	b.lineMark(n.L)
	cond, ok := b.expr(n.Cond)
	if !ok {
		return false
	}
	exit := b.emitCondJump(JMPIFFALSE, cond)
	lp := &loopCtx{continueKnown: true, continueTarget: top}
	b.loops = append(b.loops, lp)
	if !b.block(n.Inner) {
		return false
	}
	b.loops = b.loops[:len(b.loops)-1]
	b.patch(b.emitJump(JMP), top)
	end := b.buf.len()
	b.patch(exit, end)
	for _, p := range lp.breakPatches {
		b.patch(p, end)
	}
	return true
}

func (b *builder) forLoop(n *hir.For) bool {
	switch n.Kind {
	case hir.ForRanged:
		return b.forRanged(n)
	default:
		return b.forEach(n)
	}
}

func (b *builder) forRanged(n *hir.For) bool {
	b.lineMark(n.L)
	counter, ok := b.slot(n.Counter)
	if !ok {
		return false
	}
	start, ok := b.expr(n.Start)
	if !ok {
		return false
	}
	b.emitAssign(counter, start)
	stop, ok := b.expr(n.Stop)
	if !ok {
		return false
	}
	stopTmp := b.newTemp()
	b.emitAssign(stopTmp, stop)

	top := b.buf.len()
	cmp := b.newTemp()
	b.emit3(LT, cmp, counter, stopTmp)
	exit := b.emitCondJump(JMPIFFALSE, cmp)

	lp := &loopCtx{}
	b.loops = append(b.loops, lp)
	if !b.block(n.Inner) {
		return false
	}
	b.loops = b.loops[:len(b.loops)-1]

	contTarget := b.buf.len()
	b.buf.byte(byte(INC))
	b.buf.u16(counter)
	b.patch(b.emitJump(JMP), top)
	end := b.buf.len()
	b.patch(exit, end)
	for _, p := range lp.breakPatches {
		b.patch(p, end)
	}
	for _, p := range lp.continuePatches {
		b.patch(p, contTarget)
	}
	return true
}

func (b *builder) forEach(n *hir.For) bool {
	coll, ok := b.expr(n.Collection)
	if !ok {
		return false
	}
	collTmp := b.newTemp()
	b.emitAssign(collTmp, coll)
	idx := b.newTemp()
	b.emitIConst(idx, 0)
	lenT := b.newTemp()
	b.emit2(LEN, lenT, collTmp)

	top := b.buf.len()
	cmp := b.newTemp()
	b.emit3(LT, cmp, idx, lenT)
	exit := b.emitCondJump(JMPIFFALSE, cmp)

	if n.Kind == hir.ForEachKV {
		keySlot, ok := b.slot(n.Key)
		if !ok {
			return false
		}
		b.emit3(GETDICTKEYBYINDEX, keySlot, collTmp, idx)
	}
	valSlot, ok := b.slot(n.Value)
	if !ok {
		return false
	}
	b.emit3(GETDICTVALBYINDEX, valSlot, collTmp, idx)

	lp := &loopCtx{}
	b.loops = append(b.loops, lp)
	if !b.block(n.Inner) {
		return false
	}
	b.loops = b.loops[:len(b.loops)-1]

	contTarget := b.buf.len()
	b.buf.byte(byte(INC))
	b.buf.u16(idx)
	b.patch(b.emitJump(JMP), top)
	end := b.buf.len()
	b.patch(exit, end)
	for _, p := range lp.breakPatches {
		b.patch(p, end)
	}
	for _, p := range lp.continuePatches {
		b.patch(p, contTarget)
	}
	return true
}

func (b *builder) slot(name string) (uint16, bool) {
	if t, ok := b.slots[name]; ok {
		return t, true
	}
	t := b.newTemp()
	b.slots[name] = t
	return t, true
}

// ---- small emit helpers ----

func (b *builder) emit2(op Op, dst, src uint16) {
	b.buf.byte(byte(op))
	b.buf.u16(dst)
	b.buf.u16(src)
}

func (b *builder) emit3(op Op, dst, s1, s2 uint16) {
	b.buf.byte(byte(op))
	b.buf.u16(dst)
	b.buf.u16(s1)
	b.buf.u16(s2)
}

func (b *builder) emitAssign(dst, src uint16) { b.emit2(ASSIGN, dst, src) }

func (b *builder) emitIConst(dst uint16, v int32) {
	b.buf.byte(byte(ICONST))
	b.buf.u16(dst)
	b.buf.i32(v)
}

// ---- Expression lowering ----

func (b *builder) expr(e ast.Expr) (uint16, bool) {
	switch ex := e.(type) {
	case *ast.IntLit:
		dst := b.newTemp()
		b.emitIConst(dst, ex.Value)
		return dst, true
	case *ast.FloatLit:
		dst := b.newTemp()
		b.buf.byte(byte(FCONST))
		b.buf.u16(dst)
		b.buf.u32(math.Float32bits(ex.Value))
		return dst, true
	case *ast.StringLit:
		dst := b.newTemp()
		b.buf.byte(byte(SCONST))
		b.buf.u16(dst)
		b.buf.str(ex.Value)
		return dst, true
	case *ast.EmptyArray:
		dst := b.newTemp()
		b.buf.byte(byte(ACONST))
		b.buf.u16(dst)
		return dst, true
	case *ast.EmptyDict:
		dst := b.newTemp()
		b.buf.byte(byte(DCONST))
		b.buf.u16(dst)
		return dst, true
	case *ast.Ident:
		if t, ok := b.slots[ex.Name]; ok {
			return t, true
		}
		dst := b.newTemp()
		b.buf.byte(byte(LOADSYMBOL))
		b.buf.u16(dst)
		b.buf.str(ex.Name)
		return dst, true
	case *ast.Unary:
		src, ok := b.expr(ex.Operand)
		if !ok {
			return 0, false
		}
		dst := b.newTemp()
		if ex.Op == "-" {
			b.emit2(NEG, dst, src)
		} else {
			b.emit2(NOT, dst, src)
		}
		return dst, true
	case *ast.Binary:
		return b.binary(ex)
	case *ast.Subscript:
		obj, ok := b.expr(ex.Object)
		if !ok {
			return 0, false
		}
		key, ok := b.expr(ex.Key)
		if !ok {
			return 0, false
		}
		dst := b.newTemp()
		b.emit3(LOADARRAY, dst, obj, key)
		return dst, true
	case *ast.Dot:
		obj, ok := b.expr(ex.Object)
		if !ok {
			return 0, false
		}
		dst := b.newTemp()
		b.buf.byte(byte(LOADDOT))
		b.buf.u16(dst)
		b.buf.u16(obj)
		b.buf.str(ex.Field)
		return dst, true
	case *ast.Call:
		return b.call(ex)
	case *ast.MethodCall:
		return b.methodCall(ex)
	case *ast.ArrayLit:
		dst := b.newTemp()
		b.buf.byte(byte(ACONST))
		b.buf.u16(dst)
		for i, elemExpr := range ex.Elements {
			v, ok := b.expr(elemExpr)
			if !ok {
				return 0, false
			}
			idx := b.newTemp()
			b.emitIConst(idx, int32(i))
			b.emit3(STOREARRAY, dst, idx, v)
		}
		return dst, true
	case *ast.DictLit:
		dst := b.newTemp()
		b.buf.byte(byte(DCONST))
		b.buf.u16(dst)
		for i, k := range ex.Keys {
			v, ok := b.expr(ex.Values[i])
			if !ok {
				return 0, false
			}
			b.buf.byte(byte(STOREDOT))
			b.buf.u16(dst)
			b.buf.str(k)
			b.buf.u16(v)
		}
		return dst, true
	case *ast.NewExpr:
		dst := b.newTemp()
		b.buf.byte(byte(DCONST))
		b.buf.u16(dst)
		for i, k := range ex.Keys {
			v, ok := b.expr(ex.Values[i])
			if !ok {
				return 0, false
			}
			b.buf.byte(byte(STOREDOT))
			b.buf.u16(dst)
			b.buf.str(k)
			b.buf.u16(v)
		}
		return dst, true
	case *ast.Lambda:
		return b.lambda(ex)
	default:
		b.fail(e.ExprLine(), "unsupported expression %T", e)
		return 0, false
	}
}

var binaryOp = map[string]Op{
	"+": ADD, "-": SUB, "*": MUL, "/": DIV, "%": MOD,
	"&": AND, "|": OR, "^": XOR, "<<": SHL, ">>": SHR,
	"<": LT, "<=": LE, ">": GT, ">=": GE, "==": EQ, "!=": NE,
}

func (b *builder) binary(ex *ast.Binary) (uint16, bool) {
	if ex.Op == "and" || ex.Op == "&&" {
		return b.shortCircuit(ex, false)
	}
	if ex.Op == "or" || ex.Op == "||" {
		return b.shortCircuit(ex, true)
	}
	op, ok := binaryOp[ex.Op]
	if !ok {
		b.fail(ex.Line, "unknown binary operator %q", ex.Op)
		return 0, false
	}
	l, ok := b.expr(ex.Left)
	if !ok {
		return 0, false
	}
	r, ok := b.expr(ex.Right)
	if !ok {
		return 0, false
	}
	dst := b.newTemp()
	b.emit3(op, dst, l, r)
	return dst, true
}

// shortCircuit lowers and/or to conditional jumps: the right operand
// is only evaluated when its value can change the result.
func (b *builder) shortCircuit(ex *ast.Binary, isOr bool) (uint16, bool) {
	l, ok := b.expr(ex.Left)
	if !ok {
		return 0, false
	}
	jumpOp := JMPIFFALSE
	if isOr {
		jumpOp = JMPIFTRUE
	}
	shortcut := b.emitCondJump(jumpOp, l)
	r, ok := b.expr(ex.Right)
	if !ok {
		return 0, false
	}
	dst := b.newTemp()
	b.emitAssign(dst, r)
	toEnd := b.emitJump(JMP)
	b.patch(shortcut, b.buf.len())
	b.emitIConst(dst, boolInt(isOr))
	b.patch(toEnd, b.buf.len())
	return dst, true
}

func boolInt(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

func (b *builder) call(ex *ast.Call) (uint16, bool) {
	fn, ok := b.expr(ex.Callee)
	if !ok {
		return 0, false
	}
	args := make([]uint16, 0, len(ex.Args))
	for _, a := range ex.Args {
		v, ok := b.expr(a)
		if !ok {
			return 0, false
		}
		args = append(args, v)
	}
	if len(args) > 255 {
		b.fail(ex.Line, "call has more than 255 arguments")
		return 0, false
	}
	dst := b.newTemp()
	b.buf.byte(byte(CALL))
	b.buf.u16(dst)
	b.buf.u16(fn)
	b.buf.byte(byte(len(args)))
	for _, a := range args {
		b.buf.u16(a)
	}
	return dst, true
}

func (b *builder) methodCall(ex *ast.MethodCall) (uint16, bool) {
	recv, ok := b.expr(ex.Receiver)
	if !ok {
		return 0, false
	}
	args := make([]uint16, 0, len(ex.Args))
	for _, a := range ex.Args {
		v, ok := b.expr(a)
		if !ok {
			return 0, false
		}
		args = append(args, v)
	}
	if len(args) > 255 {
		b.fail(ex.Line, "method call has more than 255 arguments")
		return 0, false
	}
	dst := b.newTemp()
	b.buf.byte(byte(THISCALL))
	b.buf.u16(dst)
	b.buf.u16(recv)
	b.buf.str(ex.Name)
	b.buf.byte(byte(len(args)))
	for _, a := range args {
		b.buf.u16(a)
	}
	return dst, true
}

func (b *builder) lambda(ex *ast.Lambda) (uint16, bool) {
	*b.lambdaN++
	name := fmt.Sprintf("$lambda_%d", *b.lambdaN)
	hfn, ok := hir.BuildLambda(b.file, name, ex.Params, ex.Body, ex.Line, b.errs)
	if !ok {
		return 0, false
	}
	lf, extra, ok := buildOne(b.file, hfn, b.errs, b.lambdaN)
	if !ok {
		return 0, false
	}
	b.extra = append(b.extra, lf)
	b.extra = append(b.extra, extra...)

	dst := b.newTemp()
	b.buf.byte(byte(LOADSYMBOL))
	b.buf.u16(dst)
	b.buf.str(name)
	return dst, true
}

func (b *builder) store(target ast.Expr, v uint16) bool {
	switch t := target.(type) {
	case *ast.Ident:
		if slot, ok := b.slots[t.Name]; ok {
			b.emitAssign(slot, v)
			return true
		}
		b.buf.byte(byte(STORESYMBOL))
		b.buf.str(t.Name)
		b.buf.u16(v)
		return true
	case *ast.Subscript:
		obj, ok := b.expr(t.Object)
		if !ok {
			return false
		}
		key, ok := b.expr(t.Key)
		if !ok {
			return false
		}
		b.emit3(STOREARRAY, obj, key, v)
		return true
	case *ast.Dot:
		obj, ok := b.expr(t.Object)
		if !ok {
			return false
		}
		b.buf.byte(byte(STOREDOT))
		b.buf.u16(obj)
		b.buf.str(t.Field)
		b.buf.u16(v)
		return true
	default:
		return b.fail(target.ExprLine(), "invalid assignment target %T", target)
	}
}
