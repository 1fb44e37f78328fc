// Package cback is the LIR->C translation back end from spec.md §4.8:
// each function becomes a C function that allocates its own
// temporary array and walks a goto-labeled instruction stream, calling
// out to a small runtime of rt_*_helper functions for anything beyond
// a plain C expression. Emission walks Decode'd instructions the same
// way the interpreter and disassembler do, built as a strings.Builder
// tree-walk in the teacher's formatter style.
package cback

import (
	"fmt"
	"strings"

	"noct/internal/lir"
)

// Emit translates prog into a single C source unit.
func Emit(prog *lir.Program) (string, bool) {
	var b strings.Builder
	b.WriteString(preamble)
	for _, fn := range prog.Functions {
		if !emitFunction(&b, fn) {
			return "", false
		}
		b.WriteString("\n")
	}
	emitInit(&b, prog)
	return b.String(), true
}

const preamble = `#include "noct_runtime.h"

`

func emitFunction(b *strings.Builder, fn *lir.Function) bool {
	fmt.Fprintf(b, "noct_value_t L_%s(noct_env_t *env) {\n", fn.Name)
	fmt.Fprintf(b, "    noct_value_t tmpvar[%d];\n", fn.TmpVarSize)
	b.WriteString("    env->tmpvar = tmpvar;\n")
	for i := range fn.Params {
		fmt.Fprintf(b, "    tmpvar[%d] = env->args[%d];\n", i, i)
	}

	bounds, ok := lir.Boundaries(fn.Code)
	if !ok {
		return false
	}

	pc := 0
	for pc < len(fn.Code) {
		if bounds[uint32(pc)] {
			fmt.Fprintf(b, "L_pc_%d:\n", pc)
		}
		in, ok := lir.Decode(fn.Code, pc)
		if !ok {
			return false
		}
		emitInstr(b, in)
		pc = in.Next
	}
	fmt.Fprintf(b, "L_pc_%d:\n", len(fn.Code))
	fmt.Fprintf(b, "    return tmpvar[%d];\n", fn.ReturnSlot)
	b.WriteString("}\n")
	return true
}

func emitInstr(b *strings.Builder, in lir.Instr) {
	t := func(i uint16) string { return fmt.Sprintf("tmpvar[%d]", i) }

	switch in.Op {
	case lir.NOP:
	case lir.LINEINFO:
		fmt.Fprintf(b, "    env->line = %d;\n", in.Line)
	case lir.ASSIGN:
		fmt.Fprintf(b, "    %s = %s;\n", t(in.Dst), t(in.S1))
	case lir.ICONST:
		fmt.Fprintf(b, "    %s = rt_int_helper(%d);\n", t(in.Dst), in.IVal)
	case lir.FCONST:
		fmt.Fprintf(b, "    %s = rt_float_bits_helper(%dU);\n", t(in.Dst), in.FBits)
	case lir.SCONST:
		fmt.Fprintf(b, "    %s = rt_string_helper(%q, %dU);\n", t(in.Dst), in.Str, in.Hash)
	case lir.ACONST:
		fmt.Fprintf(b, "    %s = rt_array_helper(env);\n", t(in.Dst))
	case lir.DCONST:
		fmt.Fprintf(b, "    %s = rt_dict_helper(env);\n", t(in.Dst))
	case lir.INC:
		fmt.Fprintf(b, "    %s = rt_inc_helper(env, %s);\n", t(in.Dst), t(in.Dst))
	case lir.NEG:
		fmt.Fprintf(b, "    %s = rt_neg_helper(env, %s);\n", t(in.Dst), t(in.S1))
	case lir.NOT:
		fmt.Fprintf(b, "    %s = rt_not_helper(%s);\n", t(in.Dst), t(in.S1))
	case lir.ADD, lir.SUB, lir.MUL, lir.DIV, lir.MOD, lir.AND, lir.OR, lir.XOR,
		lir.SHL, lir.SHR, lir.LT, lir.LE, lir.GT, lir.GE, lir.EQ, lir.NE, lir.EQI:
		fmt.Fprintf(b, "    %s = rt_%s_helper(env, %s, %s);\n", t(in.Dst), strings.ToLower(in.Op.String()), t(in.S1), t(in.S2))
	case lir.LOADARRAY:
		fmt.Fprintf(b, "    %s = rt_loadarray_helper(env, %s, %s);\n", t(in.Dst), t(in.S1), t(in.S2))
	case lir.STOREARRAY:
		fmt.Fprintf(b, "    rt_storearray_helper(env, %s, %s, %s);\n", t(in.Dst), t(in.S1), t(in.S2))
	case lir.LEN:
		fmt.Fprintf(b, "    %s = rt_len_helper(env, %s);\n", t(in.Dst), t(in.S1))
	case lir.GETDICTKEYBYINDEX:
		fmt.Fprintf(b, "    %s = rt_dictkey_helper(env, %s, %s);\n", t(in.Dst), t(in.S1), t(in.S2))
	case lir.GETDICTVALBYINDEX:
		fmt.Fprintf(b, "    %s = rt_dictval_helper(env, %s, %s);\n", t(in.Dst), t(in.S1), t(in.S2))
	case lir.STOREDOT:
		fmt.Fprintf(b, "    rt_storedot_helper(env, %s, %q, %dU, %s);\n", t(in.Dst), in.Str, in.Hash, t(in.S1))
	case lir.LOADDOT:
		fmt.Fprintf(b, "    %s = rt_loaddot_helper(env, %s, %q, %dU);\n", t(in.Dst), t(in.S1), in.Str, in.Hash)
	case lir.STORESYMBOL:
		fmt.Fprintf(b, "    rt_storesymbol_helper(env, %q, %dU, %s);\n", in.Str, in.Hash, t(in.S1))
	case lir.LOADSYMBOL:
		fmt.Fprintf(b, "    %s = rt_loadsymbol_helper(env, %q, %dU);\n", t(in.Dst), in.Str, in.Hash)
	case lir.CALL:
		fmt.Fprintf(b, "    %s = rt_call_helper(env, %s, (noct_value_t[]){%s}, %d);\n", t(in.Dst), t(in.S1), argList(in.Args), len(in.Args))
	case lir.THISCALL:
		fmt.Fprintf(b, "    %s = rt_thiscall_helper(env, %s, %q, %dU, (noct_value_t[]){%s}, %d);\n",
			t(in.Dst), t(in.S1), in.Str, in.Hash, argList(in.Args), len(in.Args))
	case lir.JMP:
		fmt.Fprintf(b, "    goto L_pc_%d;\n", in.Addr)
	case lir.JMPIFTRUE:
		fmt.Fprintf(b, "    if (rt_truthy_helper(%s)) goto L_pc_%d;\n", t(in.S1), in.Addr)
	case lir.JMPIFFALSE:
		fmt.Fprintf(b, "    if (!rt_truthy_helper(%s)) goto L_pc_%d;\n", t(in.S1), in.Addr)
	case lir.JMPIFEQ:
		fmt.Fprintf(b, "    if (rt_eqi_helper(%s)) goto L_pc_%d;\n", t(in.S1), in.Addr)
	}
}

func argList(args []uint16) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("tmpvar[%d]", a)
	}
	return strings.Join(parts, ", ")
}

func emitInit(b *strings.Builder, prog *lir.Program) {
	b.WriteString("void init_aot_code(noct_env_t *env) {\n")
	for _, fn := range prog.Functions {
		fmt.Fprintf(b, "    rt_register_helper(env, %q, L_%s);\n", fn.Name, fn.Name)
	}
	b.WriteString("}\n")
}
