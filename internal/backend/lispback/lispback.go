// Package lispback is the HIR->Lisp translation back end from
// spec.md §4.9: it consumes HIR rather than LIR because Lisp's
// structured forms need structured control flow, not a flat
// instruction stream. Every function becomes one defun wrapped in a
// catch tag so the `$return` pseudo-local can escape non-locally;
// field/subscript access goes through a handful of host-provided
// noct-* helpers. Built as a strings.Builder tree-walk, the same shape
// the teacher's formatter walks the AST with.
package lispback

import (
	"fmt"
	"strings"

	"noct/internal/ast"
	"noct/internal/hir"
)

var binaryOps = map[string]string{
	"+": "+", "-": "-", "*": "*", "/": "/", "%": "mod",
	"&": "logand", "|": "logior", "^": "logxor",
	"<<": "ash", ">>": "ash",
	"<": "<", "<=": "<=", ">": ">", ">=": ">=",
	"==": "noct-eq", "!=": "noct-neq",
}

// Emit translates prog into one Lisp source unit, one defun per
// function.
func Emit(prog *hir.Program) string {
	var b strings.Builder
	for _, fn := range prog.Functions {
		emitFunction(&b, fn)
		b.WriteString("\n")
	}
	return b.String()
}

func emitFunction(b *strings.Builder, fn *hir.Function) {
	fmt.Fprintf(b, "(defun %s (%s)\n", fn.Name, strings.Join(fn.Params, " "))
	locals := localsExcludingParams(fn)
	if len(locals) > 0 {
		fmt.Fprintf(b, "  (let (%s)\n", letBindings(locals))
	}
	tag := fmt.Sprintf("%s-return", fn.Name)
	fmt.Fprintf(b, "  (catch '%s\n", tag)
	w := &writer{b: b, returnTag: tag}
	w.indent = 2
	w.block(fn.Body)
	b.WriteString("    nil))\n")
	if len(locals) > 0 {
		b.WriteString("  )\n")
	}
	b.WriteString(")\n")
}

func localsExcludingParams(fn *hir.Function) []string {
	isParam := map[string]bool{}
	for _, p := range fn.Params {
		isParam[p] = true
	}
	var out []string
	for _, l := range fn.Locals {
		if l == hir.ReturnLocal || isParam[l] {
			continue
		}
		out = append(out, l)
	}
	return out
}

func letBindings(names []string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("(%s nil)", n)
	}
	return strings.Join(parts, " ")
}

type writer struct {
	b         *strings.Builder
	returnTag string
	indent    int
}

func (w *writer) pad() string { return strings.Repeat("  ", w.indent) }

func (w *writer) block(body hir.Block) {
	for _, s := range body {
		w.stmt(s)
	}
}

func (w *writer) stmt(s hir.Stmt) {
	switch n := s.(type) {
	case *hir.Basic:
		for _, op := range n.Ops {
			w.op(op)
		}
	case *hir.If:
		w.ifStmt(n)
	case *hir.While:
		fmt.Fprintf(w.b, "%s(loop while %s do\n", w.pad(), w.expr(n.Cond))
		w.indent++
		w.block(n.Inner)
		w.indent--
		fmt.Fprintf(w.b, "%s)\n", w.pad())
	case *hir.For:
		w.forStmt(n)
	case *hir.Return:
		if n.Value == nil {
			fmt.Fprintf(w.b, "%s(throw '%s nil)\n", w.pad(), w.returnTag)
		} else {
			fmt.Fprintf(w.b, "%s(throw '%s %s)\n", w.pad(), w.returnTag, w.expr(n.Value))
		}
	case *hir.Break:
		fmt.Fprintf(w.b, "%s(return)\n", w.pad())
	case *hir.Continue:
		fmt.Fprintf(w.b, "%s(loop-finish)\n", w.pad())
	}
}

func (w *writer) ifStmt(n *hir.If) {
	fmt.Fprintf(w.b, "%s(cond\n", w.pad())
	w.ifClause(n)
	fmt.Fprintf(w.b, "%s)\n", w.pad())
}

func (w *writer) ifClause(n *hir.If) {
	fmt.Fprintf(w.b, "%s ((%s)\n", w.pad(), w.expr(n.Cond))
	w.indent++
	w.block(n.Inner)
	w.indent--
	fmt.Fprintf(w.b, "%s )\n", w.pad())
	switch {
	case n.ElseIf != nil:
		w.ifClause(n.ElseIf)
	case n.ElseBody != nil:
		fmt.Fprintf(w.b, "%s (t\n", w.pad())
		w.indent++
		w.block(n.ElseBody)
		w.indent--
		fmt.Fprintf(w.b, "%s )\n", w.pad())
	}
}

func (w *writer) forStmt(n *hir.For) {
	switch n.Kind {
	case hir.ForRanged:
		fmt.Fprintf(w.b, "%s(loop for %s from %s below %s do\n", w.pad(), n.Counter, w.expr(n.Start), w.expr(n.Stop))
	case hir.ForEachValue:
		fmt.Fprintf(w.b, "%s(loop for %s across (noct-seq %s) do\n", w.pad(), n.Value, w.expr(n.Collection))
	case hir.ForEachKV:
		fmt.Fprintf(w.b, "%s(loop for (%s . %s) in (noct-pairs %s) do\n", w.pad(), n.Key, n.Value, w.expr(n.Collection))
	}
	w.indent++
	w.block(n.Inner)
	w.indent--
	fmt.Fprintf(w.b, "%s)\n", w.pad())
}

func (w *writer) op(o hir.Op) {
	switch n := o.(type) {
	case *hir.AssignOp:
		fmt.Fprintf(w.b, "%s%s\n", w.pad(), w.assign(n.Target, w.expr(n.Value)))
	case *hir.EvalOp:
		fmt.Fprintf(w.b, "%s%s\n", w.pad(), w.expr(n.Value))
	}
}

func (w *writer) assign(target ast.Expr, valueForm string) string {
	switch t := target.(type) {
	case *ast.Ident:
		return fmt.Sprintf("(setf %s %s)", t.Name, valueForm)
	case *ast.Subscript:
		return fmt.Sprintf("(noct-array-assign %s %s %s)", w.expr(t.Object), w.expr(t.Key), valueForm)
	case *ast.Dot:
		return fmt.Sprintf("(noct-dot-assign %s %q %s)", w.expr(t.Object), t.Field, valueForm)
	default:
		return fmt.Sprintf(";; unsupported assignment target: %v", target)
	}
}

func (w *writer) expr(e ast.Expr) string {
	switch n := e.(type) {
	case *ast.IntLit:
		return fmt.Sprintf("%d", n.Value)
	case *ast.FloatLit:
		return fmt.Sprintf("%g", n.Value)
	case *ast.StringLit:
		return fmt.Sprintf("%q", n.Value)
	case *ast.Ident:
		return n.Name
	case *ast.EmptyArray:
		return "(noct-new-array)"
	case *ast.EmptyDict:
		return "(noct-new-dict)"
	case *ast.Binary:
		return w.binary(n)
	case *ast.Unary:
		if n.Op == "-" {
			return fmt.Sprintf("(- %s)", w.expr(n.Operand))
		}
		return fmt.Sprintf("(not %s)", w.expr(n.Operand))
	case *ast.Subscript:
		return fmt.Sprintf("(noct-array %s %s)", w.expr(n.Object), w.expr(n.Key))
	case *ast.Dot:
		return fmt.Sprintf("(noct-dot %s %q)", w.expr(n.Object), n.Field)
	case *ast.Call:
		return fmt.Sprintf("(%s %s)", w.expr(n.Callee), w.exprList(n.Args))
	case *ast.MethodCall:
		return fmt.Sprintf("(noct-method %s %q %s)", w.expr(n.Receiver), n.Name, w.exprList(n.Args))
	case *ast.ArrayLit:
		return fmt.Sprintf("(noct-array-lit %s)", w.exprList(n.Elements))
	case *ast.DictLit:
		return fmt.Sprintf("(noct-new %q '(%s))", "dict", w.pairList(n.Keys, n.Values))
	case *ast.NewExpr:
		return fmt.Sprintf("(noct-new %q '(%s))", n.ClassName, w.pairList(n.Keys, n.Values))
	case *ast.Lambda:
		return fmt.Sprintf("(lambda (%s) %s)", strings.Join(n.Params, " "), w.lambdaBody(n.Body))
	default:
		return ";; unsupported expression"
	}
}

func (w *writer) binary(n *ast.Binary) string {
	if n.Op == "and" || n.Op == "&&" {
		return fmt.Sprintf("(and %s %s)", w.expr(n.Left), w.expr(n.Right))
	}
	if n.Op == "or" || n.Op == "||" {
		return fmt.Sprintf("(or %s %s)", w.expr(n.Left), w.expr(n.Right))
	}
	op, ok := binaryOps[n.Op]
	if !ok {
		op = n.Op
	}
	if n.Op == ">>" {
		return fmt.Sprintf("(ash %s (- %s))", w.expr(n.Left), w.expr(n.Right))
	}
	return fmt.Sprintf("(%s %s %s)", op, w.expr(n.Left), w.expr(n.Right))
}

func (w *writer) exprList(exprs []ast.Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = w.expr(e)
	}
	return strings.Join(parts, " ")
}

func (w *writer) pairList(keys []string, values []ast.Expr) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("(%q . %s)", k, w.expr(values[i]))
	}
	return strings.Join(parts, " ")
}

// lambdaBody inlines a lambda's body as a Lisp progn of its
// expression statements and return values, in order. A return
// contributes its value form to the progn and does not throw, so it
// does not end the body early; statements other than expression
// statements and returns are not emitted.
func (w *writer) lambdaBody(body []ast.Stmt) string {
	var inner strings.Builder
	iw := &writer{b: &inner, returnTag: w.returnTag, indent: 0}
	for _, s := range body {
		switch st := s.(type) {
		case *ast.Return:
			if st.Expr == nil {
				fmt.Fprintf(&inner, "nil ")
			} else {
				fmt.Fprintf(&inner, "%s ", iw.expr(st.Expr))
			}
		case *ast.ExprStmt:
			fmt.Fprintf(&inner, "%s ", iw.expr(st.Expr))
		}
	}
	return fmt.Sprintf("(progn %s)", strings.TrimSpace(inner.String()))
}
