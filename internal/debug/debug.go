// Package debug holds the disassembler and HIR/LIR dump helpers behind
// the CLI's --dump-hir/--dump-lir flags: a plain per-instruction
// listing for LIR (walked through the same lir.Decode every other
// consumer uses) and a kr/pretty dump of the HIR tree for when the
// structured form is more useful than flat bytecode. Sizes in the
// listing header are rendered with dustin/go-humanize so a large
// function's bytecode size reads as "1.2 kB" rather than a raw byte
// count.
package debug

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/kr/pretty"

	"noct/internal/hir"
	"noct/internal/lir"
)

// Disassemble renders every function in prog as a human-readable
// instruction listing.
func Disassemble(prog *lir.Program) string {
	var b strings.Builder
	for _, fn := range prog.Functions {
		fmt.Fprintf(&b, "function %s(%s)  tmpvars=%d  return=@%d  size=%s\n",
			fn.Name, strings.Join(fn.Params, ", "), fn.TmpVarSize, fn.ReturnSlot,
			humanize.Bytes(uint64(len(fn.Code))))
		pc := 0
		for pc < len(fn.Code) {
			in, ok := lir.Decode(fn.Code, pc)
			if !ok {
				fmt.Fprintf(&b, "  %06d  <broken bytecode>\n", pc)
				break
			}
			fmt.Fprintf(&b, "  %06d  %s\n", pc, formatInstr(in))
			pc = in.Next
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatInstr(in lir.Instr) string {
	switch in.Op {
	case lir.ICONST:
		return fmt.Sprintf("%-18s t%d, %d", in.Op, in.Dst, in.IVal)
	case lir.SCONST, lir.STORESYMBOL, lir.LOADSYMBOL, lir.LOADDOT, lir.STOREDOT:
		return fmt.Sprintf("%-18s t%d, %q (#%08x), t%d", in.Op, in.Dst, in.Str, in.Hash, in.S1)
	case lir.JMP:
		return fmt.Sprintf("%-18s @%d", in.Op, in.Addr)
	case lir.JMPIFTRUE, lir.JMPIFFALSE, lir.JMPIFEQ:
		return fmt.Sprintf("%-18s t%d, @%d", in.Op, in.S1, in.Addr)
	case lir.LINEINFO:
		return fmt.Sprintf("%-18s line %d", in.Op, in.Line)
	case lir.CALL, lir.THISCALL:
		return fmt.Sprintf("%-18s t%d <- t%d(%v)", in.Op, in.Dst, in.S1, in.Args)
	default:
		return fmt.Sprintf("%-18s t%d, t%d, t%d", in.Op, in.Dst, in.S1, in.S2)
	}
}

// DumpHIR pretty-prints prog's structured block tree, for comparing
// against the flat LIR listing when a lowering bug is suspected.
func DumpHIR(prog *hir.Program) string {
	return pretty.Sprint(prog)
}
