// Package parser implements a recursive-descent, precedence-climbing
// parser over the lexer's token stream, producing the ast.Program
// function list. On a syntax error it sets (file, line, message) on
// the error channel and returns failure without a partial AST visible
// to callers, per the core's error-handling contract.
package parser

import (
	"noct/internal/ast"
	"noct/internal/errors"
	"noct/internal/token"
)

type Parser struct {
	file   string
	toks   []token.Token
	pos    int
	errs   *errors.Channel
	failed bool
}

func New(file string, toks []token.Token, errs *errors.Channel) *Parser {
	return &Parser{file: file, toks: toks, errs: errs}
}

// Parse consumes the whole token stream and returns the function
// list, or (nil, false) if a syntax error was recorded.
func (p *Parser) Parse() (*ast.Program, bool) {
	prog := &ast.Program{}
	for !p.check(token.EOF) {
		fn, ok := p.function()
		if !ok {
			return nil, false
		}
		prog.Functions = append(prog.Functions, fn)
	}
	if p.failed {
		return nil, false
	}
	return prog, true
}

func (p *Parser) fail(format string, args ...interface{}) {
	if p.failed {
		return
	}
	p.failed = true
	p.errs.Setf(errors.Syntactic, p.file, p.line(), format, args...)
}

func (p *Parser) line() int {
	if p.pos < len(p.toks) {
		return p.toks[p.pos].Line
	}
	if len(p.toks) > 0 {
		return p.toks[len(p.toks)-1].Line
	}
	return 1
}

func (p *Parser) cur() token.Token  { return p.toks[p.pos] }
func (p *Parser) check(k token.Kind) bool {
	return !p.failed && p.cur().Kind == k
}

func (p *Parser) advance() token.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) match(k token.Kind) bool {
	if p.check(k) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(k token.Kind) (token.Token, bool) {
	if !p.check(k) {
		p.fail("expected %s, got %s", k, p.cur().Kind)
		return token.Token{}, false
	}
	return p.advance(), true
}

// function parses `func name(params) { body }`.
func (p *Parser) function() (*ast.Function, bool) {
	kw, ok := p.expect(token.Func)
	if !ok {
		return nil, false
	}
	name, ok := p.expect(token.Ident)
	if !ok {
		return nil, false
	}
	if _, ok := p.expect(token.LParen); !ok {
		return nil, false
	}
	var params []string
	for !p.check(token.RParen) && !p.check(token.RParenBlock) {
		id, ok := p.expect(token.Ident)
		if !ok {
			return nil, false
		}
		params = append(params, id.Lexeme)
		if !p.match(token.Comma) {
			break
		}
	}
	// The trailing ')' may have fused with the following '{' into RParenBlock.
	opensBrace := p.check(token.RParenBlock)
	if opensBrace {
		p.advance()
	} else if _, ok := p.expect(token.RParen); !ok {
		return nil, false
	} else if _, ok := p.expect(token.LBrace); !ok {
		return nil, false
	}
	body, ok := p.block()
	if !ok {
		return nil, false
	}
	return &ast.Function{Name: name.Lexeme, Params: params, Body: body, Line: kw.Line}, true
}

// block parses statements up to (and consuming) the closing '}'; the
// opening brace has already been consumed by the caller.
func (p *Parser) block() ([]ast.Stmt, bool) {
	var stmts []ast.Stmt
	for !p.check(token.RBrace) && !p.check(token.EOF) {
		s, ok := p.statement()
		if !ok {
			return nil, false
		}
		stmts = append(stmts, s)
	}
	if _, ok := p.expect(token.RBrace); !ok {
		return nil, false
	}
	return stmts, true
}

// bracedOrSingle accepts either `{ ... }` or a single statement, for
// control-flow bodies that allow the single-statement form.
func (p *Parser) bracedOrSingle() ([]ast.Stmt, bool) {
	if p.match(token.LBrace) {
		return p.block()
	}
	s, ok := p.statement()
	if !ok {
		return nil, false
	}
	return []ast.Stmt{s}, true
}

func (p *Parser) statement() (ast.Stmt, bool) {
	line := p.line()
	switch {
	case p.check(token.Var):
		return p.varDecl()
	case p.check(token.If):
		return p.ifStmt()
	case p.check(token.While):
		return p.whileStmt()
	case p.check(token.For):
		return p.forStmt()
	case p.check(token.Return):
		p.advance()
		if p.match(token.Semicolon) {
			return &ast.Return{Line: line}, true
		}
		e, ok := p.expression()
		if !ok {
			return nil, false
		}
		p.match(token.Semicolon)
		return &ast.Return{Expr: e, Line: line}, true
	case p.check(token.Break):
		p.advance()
		p.match(token.Semicolon)
		return &ast.Break{Line: line}, true
	case p.check(token.Continue):
		p.advance()
		p.match(token.Semicolon)
		return &ast.Continue{Line: line}, true
	default:
		return p.simpleStmt()
	}
}

func (p *Parser) varDecl() (ast.Stmt, bool) {
	kw := p.advance()
	name, ok := p.expect(token.Ident)
	if !ok {
		return nil, false
	}
	if _, ok := p.expect(token.Assign); !ok {
		return nil, false
	}
	e, ok := p.expression()
	if !ok {
		return nil, false
	}
	p.match(token.Semicolon)
	return &ast.VarDecl{Name: name.Lexeme, Expr: e, Line: kw.Line}, true
}

// simpleStmt covers assignment, compound-assignment, ++/--, and bare
// expression statements, distinguished by what follows the primary
// expression that starts the statement.
func (p *Parser) simpleStmt() (ast.Stmt, bool) {
	line := p.line()
	target, ok := p.expression()
	if !ok {
		return nil, false
	}
	var op string
	switch {
	case p.match(token.Assign):
		e, ok := p.expression()
		if !ok {
			return nil, false
		}
		p.match(token.Semicolon)
		return &ast.Assign{Target: target, Expr: e, Line: line}, true
	case p.matchOneOf(&op, token.PlusEq, token.MinusEq, token.StarEq, token.SlashEq,
		token.PercentEq, token.AmpEq, token.PipeEq, token.ShlEq, token.ShrEq):
		e, ok := p.expression()
		if !ok {
			return nil, false
		}
		p.match(token.Semicolon)
		return &ast.CompoundAssign{Target: target, Op: op, Expr: e, Line: line}, true
	case p.matchOneOf(&op, token.PlusPlus, token.MinusMinus):
		p.match(token.Semicolon)
		return &ast.IncDec{Target: target, Op: op, Line: line}, true
	default:
		p.match(token.Semicolon)
		return &ast.ExprStmt{Expr: target, Line: line}, true
	}
}

func (p *Parser) matchOneOf(out *string, kinds ...token.Kind) bool {
	for _, k := range kinds {
		if p.check(k) {
			*out = p.advance().Kind.String()
			return true
		}
	}
	return false
}

func (p *Parser) ifStmt() (ast.Stmt, bool) {
	kw := p.advance()
	if _, ok := p.expect(token.LParen); !ok {
		return nil, false
	}
	cond, ok := p.expression()
	if !ok {
		return nil, false
	}
	if _, ok := p.expect(token.RParen); !ok {
		return nil, false
	}
	then, ok := p.bracedOrSingle()
	if !ok {
		return nil, false
	}
	stmt := &ast.If{Cond: cond, Then: then, Line: kw.Line}
	for p.check(token.Elseif) {
		p.advance()
		if _, ok := p.expect(token.LParen); !ok {
			return nil, false
		}
		ec, ok := p.expression()
		if !ok {
			return nil, false
		}
		if _, ok := p.expect(token.RParen); !ok {
			return nil, false
		}
		eb, ok := p.bracedOrSingle()
		if !ok {
			return nil, false
		}
		stmt.Elifs = append(stmt.Elifs, ast.ElifClause{Cond: ec, Body: eb})
	}
	if p.match(token.Else) {
		eb, ok := p.bracedOrSingle()
		if !ok {
			return nil, false
		}
		stmt.Else = eb
	}
	return stmt, true
}

func (p *Parser) whileStmt() (ast.Stmt, bool) {
	kw := p.advance()
	if _, ok := p.expect(token.LParen); !ok {
		return nil, false
	}
	cond, ok := p.expression()
	if !ok {
		return nil, false
	}
	if _, ok := p.expect(token.RParen); !ok {
		return nil, false
	}
	body, ok := p.bracedOrSingle()
	if !ok {
		return nil, false
	}
	return &ast.While{Cond: cond, Body: body, Line: kw.Line}, true
}

// forStmt parses `for (i in a..b)`, `for (v in coll)`, and
// `for (k, v in coll)`, each followed by a braced-or-single body.
func (p *Parser) forStmt() (ast.Stmt, bool) {
	kw := p.advance()
	if _, ok := p.expect(token.LParen); !ok {
		return nil, false
	}
	first, ok := p.expect(token.Ident)
	if !ok {
		return nil, false
	}
	var second token.Token
	haveSecond := false
	if p.match(token.Comma) {
		second, ok = p.expect(token.Ident)
		if !ok {
			return nil, false
		}
		haveSecond = true
	}
	if _, ok := p.expect(token.In); !ok {
		return nil, false
	}
	collOrStart, ok := p.orExpr()
	if !ok {
		return nil, false
	}
	if !haveSecond && p.match(token.DotDot) {
		stop, ok := p.expression()
		if !ok {
			return nil, false
		}
		if _, ok := p.expect(token.RParen); !ok {
			return nil, false
		}
		body, ok := p.bracedOrSingle()
		if !ok {
			return nil, false
		}
		return &ast.ForRange{Counter: first.Lexeme, Start: collOrStart, Stop: stop, Body: body, Line: kw.Line}, true
	}
	if _, ok := p.expect(token.RParen); !ok {
		return nil, false
	}
	body, ok := p.bracedOrSingle()
	if !ok {
		return nil, false
	}
	if haveSecond {
		return &ast.ForEachKV{Key: first.Lexeme, Value: second.Lexeme, Collection: collOrStart, Body: body, Line: kw.Line}, true
	}
	return &ast.ForEachValue{Value: first.Lexeme, Collection: collOrStart, Body: body, Line: kw.Line}, true
}

// ---- Expressions: precedence climbing, high to low ----
// postfix . [] () -> ; unary - ! ; * / % ; + - ; << >> ; < <= > >= ;
// == != ; & ; ^ ; | ; and/&& ; or/||

func (p *Parser) expression() (ast.Expr, bool) {
	return p.orExpr()
}

func (p *Parser) orExpr() (ast.Expr, bool) {
	left, ok := p.andExpr()
	if !ok {
		return nil, false
	}
	for p.check(token.Or) {
		line := p.advance().Line
		right, ok := p.andExpr()
		if !ok {
			return nil, false
		}
		left = &ast.Binary{Op: "or", Left: left, Right: right, Line: line}
	}
	return left, true
}

func (p *Parser) andExpr() (ast.Expr, bool) {
	left, ok := p.bitOrExpr()
	if !ok {
		return nil, false
	}
	for p.check(token.And) {
		line := p.advance().Line
		right, ok := p.bitOrExpr()
		if !ok {
			return nil, false
		}
		left = &ast.Binary{Op: "and", Left: left, Right: right, Line: line}
	}
	return left, true
}

func (p *Parser) bitOrExpr() (ast.Expr, bool) {
	return p.leftAssoc(p.bitXorExpr, map[token.Kind]string{token.Pipe: "|"})
}

func (p *Parser) bitXorExpr() (ast.Expr, bool) {
	return p.leftAssoc(p.bitAndExpr, map[token.Kind]string{token.Caret: "^"})
}

func (p *Parser) bitAndExpr() (ast.Expr, bool) {
	return p.leftAssoc(p.equalityExpr, map[token.Kind]string{token.Amp: "&"})
}

func (p *Parser) equalityExpr() (ast.Expr, bool) {
	return p.leftAssoc(p.relationalExpr, map[token.Kind]string{token.EqEq: "==", token.NotEq: "!="})
}

func (p *Parser) relationalExpr() (ast.Expr, bool) {
	return p.leftAssoc(p.shiftExpr, map[token.Kind]string{
		token.Lt: "<", token.Le: "<=", token.Gt: ">", token.Ge: ">=",
	})
}

func (p *Parser) shiftExpr() (ast.Expr, bool) {
	return p.leftAssoc(p.additiveExpr, map[token.Kind]string{token.Shl: "<<", token.Shr: ">>"})
}

func (p *Parser) additiveExpr() (ast.Expr, bool) {
	return p.leftAssoc(p.multiplicativeExpr, map[token.Kind]string{token.Plus: "+", token.Minus: "-"})
}

func (p *Parser) multiplicativeExpr() (ast.Expr, bool) {
	return p.leftAssoc(p.unaryExpr, map[token.Kind]string{token.Star: "*", token.Slash: "/", token.Percent: "%"})
}

func (p *Parser) leftAssoc(next func() (ast.Expr, bool), ops map[token.Kind]string) (ast.Expr, bool) {
	left, ok := next()
	if !ok {
		return nil, false
	}
	for {
		op, found := ops[p.cur().Kind]
		if !found {
			return left, true
		}
		line := p.advance().Line
		right, ok := next()
		if !ok {
			return nil, false
		}
		left = &ast.Binary{Op: op, Left: left, Right: right, Line: line}
	}
}

func (p *Parser) unaryExpr() (ast.Expr, bool) {
	if p.check(token.Minus) || p.check(token.Bang) {
		op := p.advance()
		operand, ok := p.unaryExpr()
		if !ok {
			return nil, false
		}
		opStr := "-"
		if op.Kind == token.Bang {
			opStr = "!"
		}
		return &ast.Unary{Op: opStr, Operand: operand, Line: op.Line}, true
	}
	return p.postfixExpr()
}

func (p *Parser) postfixExpr() (ast.Expr, bool) {
	e, ok := p.primaryExpr()
	if !ok {
		return nil, false
	}
	for {
		switch {
		case p.check(token.Dot):
			line := p.advance().Line
			name, ok := p.expect(token.Ident)
			if !ok {
				return nil, false
			}
			e = &ast.Dot{Object: e, Field: name.Lexeme, Line: line}
		case p.check(token.LBracket):
			line := p.advance().Line
			idx, ok := p.expression()
			if !ok {
				return nil, false
			}
			if _, ok := p.expect(token.RBracket); !ok {
				return nil, false
			}
			e = &ast.Subscript{Object: e, Key: idx, Line: line}
		case p.check(token.LParen):
			line := p.advance().Line
			args, ok := p.argList()
			if !ok {
				return nil, false
			}
			e = &ast.Call{Callee: e, Args: args, Line: line}
		case p.check(token.Arrow):
			line := p.advance().Line
			name, ok := p.expect(token.Ident)
			if !ok {
				return nil, false
			}
			if _, ok := p.expect(token.LParen); !ok {
				return nil, false
			}
			args, ok := p.argList()
			if !ok {
				return nil, false
			}
			e = &ast.MethodCall{Receiver: e, Name: name.Lexeme, Args: args, Line: line}
		default:
			return e, true
		}
	}
}

// argList parses a call argument list up to (and consuming) the
// closing ')'. The opening '(' has already been consumed. Only a plain
// RParen closes the list; a ')' fused with a following '{' into
// RParenBlock is not accepted here.
func (p *Parser) argList() ([]ast.Expr, bool) {
	var args []ast.Expr
	for !p.check(token.RParen) {
		a, ok := p.expression()
		if !ok {
			return nil, false
		}
		args = append(args, a)
		if !p.match(token.Comma) {
			break
		}
	}
	if _, ok := p.expect(token.RParen); !ok {
		return nil, false
	}
	return args, true
}

func (p *Parser) primaryExpr() (ast.Expr, bool) {
	t := p.cur()
	switch t.Kind {
	case token.Int:
		p.advance()
		return &ast.IntLit{Value: int32(t.IVal), Line: t.Line}, true
	case token.Float:
		p.advance()
		return &ast.FloatLit{Value: t.FVal, Line: t.Line}, true
	case token.String:
		p.advance()
		return &ast.StringLit{Value: t.Lexeme, Line: t.Line}, true
	case token.Ident:
		p.advance()
		return &ast.Ident{Name: t.Lexeme, Line: t.Line}, true
	case token.LParen:
		p.advance()
		if lam, ok, matched := p.tryLambdaAfterLParen(t.Line); matched {
			return lam, ok
		}
		e, ok := p.expression()
		if !ok {
			return nil, false
		}
		if _, ok := p.expect(token.RParen); !ok {
			return nil, false
		}
		return e, true
	case token.LBracket:
		p.advance()
		if p.check(token.RBracket) {
			p.advance()
			return &ast.EmptyArray{Line: t.Line}, true
		}
		var elems []ast.Expr
		for {
			e, ok := p.expression()
			if !ok {
				return nil, false
			}
			elems = append(elems, e)
			if !p.match(token.Comma) {
				break
			}
		}
		if _, ok := p.expect(token.RBracket); !ok {
			return nil, false
		}
		return &ast.ArrayLit{Elements: elems, Line: t.Line}, true
	case token.LBrace:
		return p.dictLit(t.Line)
	case token.Class:
		p.advance()
		return p.dictLit(t.Line)
	case token.New:
		p.advance()
		name, ok := p.expect(token.Ident)
		if !ok {
			return nil, false
		}
		dict, ok := p.dictLit(t.Line)
		if !ok {
			return nil, false
		}
		dl := dict.(*ast.DictLit)
		return &ast.NewExpr{ClassName: name.Lexeme, Keys: dl.Keys, Values: dl.Values, Line: t.Line}, true
	case token.Lambda:
		p.advance()
		return p.lambdaTail(t.Line)
	default:
		p.fail("unexpected token %s", t.Kind)
		return nil, false
	}
}

// tryLambdaAfterLParen handles `(params) => { body }` where the `(`
// has just been consumed; returns matched=false to fall back to a
// parenthesized expression if this doesn't look like a param list.
func (p *Parser) tryLambdaAfterLParen(line int) (ast.Expr, bool, bool) {
	save := p.pos
	var params []string
	ok := true
	for !p.check(token.RParen) && !p.check(token.LParenArrowBlock) {
		if !p.check(token.Ident) {
			ok = false
			break
		}
		params = append(params, p.advance().Lexeme)
		if p.check(token.Comma) {
			p.advance()
			continue
		}
		break
	}
	if ok && p.check(token.LParenArrowBlock) {
		p.advance()
		body, ok := p.block()
		if !ok {
			return nil, false, true
		}
		return &ast.Lambda{Params: params, Body: body, Line: line}, true, true
	}
	if ok && p.match(token.RParen) && p.match(token.FatArrow) {
		if _, ok := p.expect(token.LBrace); !ok {
			return nil, false, true
		}
		body, ok := p.block()
		if !ok {
			return nil, false, true
		}
		return &ast.Lambda{Params: params, Body: body, Line: line}, true, true
	}
	p.pos = save
	return nil, false, false
}

func (p *Parser) lambdaTail(line int) (ast.Expr, bool) {
	if _, ok := p.expect(token.LParen); !ok {
		return nil, false
	}
	var params []string
	for !p.check(token.RParen) && !p.check(token.RParenBlock) {
		id, ok := p.expect(token.Ident)
		if !ok {
			return nil, false
		}
		params = append(params, id.Lexeme)
		if !p.match(token.Comma) {
			break
		}
	}
	if p.check(token.RParenBlock) {
		p.advance()
	} else {
		if _, ok := p.expect(token.RParen); !ok {
			return nil, false
		}
		if _, ok := p.expect(token.LBrace); !ok {
			return nil, false
		}
	}
	body, ok := p.block()
	if !ok {
		return nil, false
	}
	return &ast.Lambda{Params: params, Body: body, Line: line}, true
}

// dictLit parses `{ key: expr, ... }`; the opening '{' has not been
// consumed yet.
func (p *Parser) dictLit(line int) (ast.Expr, bool) {
	if _, ok := p.expect(token.LBrace); !ok {
		return nil, false
	}
	d := &ast.DictLit{Line: line}
	for !p.check(token.RBrace) {
		var key string
		switch {
		case p.check(token.Ident):
			key = p.advance().Lexeme
		case p.check(token.String):
			key = p.advance().Lexeme
		default:
			p.fail("expected dict key, got %s", p.cur().Kind)
			return nil, false
		}
		if _, ok := p.expect(token.Colon); !ok {
			return nil, false
		}
		v, ok := p.expression()
		if !ok {
			return nil, false
		}
		d.Keys = append(d.Keys, key)
		d.Values = append(d.Values, v)
		if !p.match(token.Comma) {
			break
		}
	}
	if _, ok := p.expect(token.RBrace); !ok {
		return nil, false
	}
	return d, true
}
