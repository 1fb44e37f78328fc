package hir

import (
	"noct/internal/ast"
	"noct/internal/errors"
)

type builder struct {
	file   string
	errs   *errors.Channel
	locals map[string]bool
	order  []string
}

// Build converts a parsed ast.Program into an hir.Program. It resolves
// each function's local-symbol table (parameters plus every
// identifier assigned via `var` or a plain assignment in that
// function) and lowers ++/--/compound-assignment to their canonical
// primitive-op-plus-store forms. On failure it sets (file, line,
// message) on the error channel and returns (nil, false).
func Build(file string, prog *ast.Program, errs *errors.Channel) (*Program, bool) {
	out := &Program{}
	for _, fn := range prog.Functions {
		hf, ok := buildFunction(file, fn, errs)
		if !ok {
			return nil, false
		}
		out.Functions = append(out.Functions, hf)
	}
	return out, true
}

func buildFunction(file string, fn *ast.Function, errs *errors.Channel) (*Function, bool) {
	b := &builder{file: file, errs: errs, locals: map[string]bool{}}
	for _, p := range fn.Params {
		b.declare(p)
	}
	body, ok := b.block(fn.Body)
	if !ok {
		return nil, false
	}
	return &Function{
		Name:   fn.Name,
		Params: fn.Params,
		Locals: b.order,
		Body:   body,
		Line:   fn.Line,
	}, true
}

// BuildLambda lowers a lambda expression's parameter list and body
// the same way a top-level function is lowered, so the LIR builder can
// hoist it into its own function without duplicating local-symbol
// resolution.
func BuildLambda(file, name string, params []string, body []ast.Stmt, line int, errs *errors.Channel) (*Function, bool) {
	return buildFunction(file, &ast.Function{Name: name, Params: params, Body: body, Line: line}, errs)
}

func (b *builder) declare(name string) {
	if !b.locals[name] {
		b.locals[name] = true
		b.order = append(b.order, name)
	}
}

func (b *builder) fail(line int, format string, args ...interface{}) bool {
	b.errs.Setf(errors.Semantic, b.file, line, format, args...)
	return false
}

// block groups a run of ast statements into HIR blocks, coalescing
// consecutive primitive statements (var/assign/compound/incdec/bare
// expr) into a single Basic block and breaking at each control-flow
// statement.
func (b *builder) block(stmts []ast.Stmt) (Block, bool) {
	var out Block
	var run []Op
	flush := func() {
		if len(run) > 0 {
			out = append(out, &Basic{Ops: run})
			run = nil
		}
	}
	for _, s := range stmts {
		switch st := s.(type) {
		case *ast.VarDecl:
			b.declare(st.Name)
			run = append(run, &AssignOp{Target: &ast.Ident{Name: st.Name, Line: st.Line}, Value: st.Expr, L: st.Line})
		case *ast.Assign:
			if id, ok := st.Target.(*ast.Ident); ok {
				b.declare(id.Name)
			}
			run = append(run, &AssignOp{Target: st.Target, Value: st.Expr, L: st.Line})
		case *ast.CompoundAssign:
			if id, ok := st.Target.(*ast.Ident); ok {
				b.declare(id.Name)
			}
			op := st.Op[:len(st.Op)-1] // "+=" -> "+"
			bin := &ast.Binary{Op: op, Left: st.Target, Right: st.Expr, Line: st.Line}
			run = append(run, &AssignOp{Target: st.Target, Value: bin, L: st.Line})
		case *ast.IncDec:
			if id, ok := st.Target.(*ast.Ident); ok {
				b.declare(id.Name)
			}
			delta := int32(1)
			opName := "+"
			if st.Op == "--" {
				opName = "-"
			}
			bin := &ast.Binary{Op: opName, Left: st.Target, Right: &ast.IntLit{Value: delta, Line: st.Line}, Line: st.Line}
			run = append(run, &AssignOp{Target: st.Target, Value: bin, L: st.Line})
		case *ast.ExprStmt:
			run = append(run, &EvalOp{Value: st.Expr, L: st.Line})
		case *ast.If:
			flush()
			hi, ok := b.ifChain(st)
			if !ok {
				return nil, false
			}
			out = append(out, hi)
		case *ast.While:
			flush()
			inner, ok := b.block(st.Body)
			if !ok {
				return nil, false
			}
			out = append(out, &While{Cond: st.Cond, Inner: inner, L: st.Line})
		case *ast.ForRange:
			flush()
			b.declare(st.Counter)
			inner, ok := b.block(st.Body)
			if !ok {
				return nil, false
			}
			out = append(out, &For{Kind: ForRanged, Counter: st.Counter, Start: st.Start, Stop: st.Stop, Inner: inner, L: st.Line})
		case *ast.ForEachValue:
			flush()
			b.declare(st.Value)
			inner, ok := b.block(st.Body)
			if !ok {
				return nil, false
			}
			out = append(out, &For{Kind: ForEachValue, Value: st.Value, Collection: st.Collection, Inner: inner, L: st.Line})
		case *ast.ForEachKV:
			flush()
			b.declare(st.Key)
			b.declare(st.Value)
			inner, ok := b.block(st.Body)
			if !ok {
				return nil, false
			}
			out = append(out, &For{Kind: ForEachKV, Key: st.Key, Value: st.Value, Collection: st.Collection, Inner: inner, L: st.Line})
		case *ast.Return:
			flush()
			out = append(out, &Return{Value: st.Expr, L: st.Line})
		case *ast.Break:
			flush()
			out = append(out, &Break{L: st.Line})
		case *ast.Continue:
			flush()
			out = append(out, &Continue{L: st.Line})
		default:
			return nil, b.fail(s.StmtLine(), "unsupported statement in HIR builder")
		}
	}
	flush()
	return out, true
}

func (b *builder) ifChain(st *ast.If) (*If, bool) {
	then, ok := b.block(st.Then)
	if !ok {
		return nil, false
	}
	root := &If{Cond: st.Cond, Inner: then, L: st.Line}
	cur := root
	for _, elif := range st.Elifs {
		body, ok := b.block(elif.Body)
		if !ok {
			return nil, false
		}
		next := &If{Cond: elif.Cond, Inner: body, L: st.Line}
		cur.ElseIf = next
		cur = next
	}
	if st.Else != nil {
		els, ok := b.block(st.Else)
		if !ok {
			return nil, false
		}
		cur.ElseBody = els
	}
	return root, true
}
