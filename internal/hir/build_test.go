package hir

import (
	"testing"

	"noct/internal/errors"
	"noct/internal/lexer"
	"noct/internal/parser"
)

func buildOne(t *testing.T, src string) *Function {
	t.Helper()
	errs := &errors.Channel{}
	toks, ok := lexer.New("test", src, errs).Scan()
	if !ok {
		entry, _ := errs.Last()
		t.Fatalf("scan: %v", entry)
	}
	astProg, ok := parser.New("test", toks, errs).Parse()
	if !ok {
		entry, _ := errs.Last()
		t.Fatalf("parse: %v", entry)
	}
	prog, ok := Build("test", astProg, errs)
	if !ok {
		entry, _ := errs.Last()
		t.Fatalf("build: %v", entry)
	}
	if len(prog.Functions) != 1 {
		t.Fatalf("want 1 function, got %d", len(prog.Functions))
	}
	return prog.Functions[0]
}

func TestBuildResolvesLocalsInDeclarationOrder(t *testing.T) {
	fn := buildOne(t, `func f(a, b){ var c = a + b; var d = c * 2; return d; }`)
	want := []string{"a", "b", "c", "d"}
	if len(fn.Locals) != len(want) {
		t.Fatalf("want locals %v, got %v", want, fn.Locals)
	}
	for i, name := range want {
		if fn.Locals[i] != name {
			t.Fatalf("locals[%d] = %q, want %q (full: %v)", i, fn.Locals[i], name, fn.Locals)
		}
	}
}

func TestBuildDeduplicatesReassignedLocals(t *testing.T) {
	fn := buildOne(t, `func f(){ var x = 1; x = 2; x = 3; return x; }`)
	count := 0
	for _, name := range fn.Locals {
		if name == "x" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected \"x\" to appear once in Locals, got %d (full: %v)", count, fn.Locals)
	}
}

func TestBuildIfElseChain(t *testing.T) {
	fn := buildOne(t, `func f(a){
		if (a == 1) { return 1; }
		elseif (a == 2) { return 2; }
		else { return 3; }
	}`)
	if len(fn.Body) != 1 {
		t.Fatalf("want 1 top-level statement, got %d", len(fn.Body))
	}
	ifStmt, ok := fn.Body[0].(*If)
	if !ok {
		t.Fatalf("want *If, got %T", fn.Body[0])
	}
	if ifStmt.ElseIf == nil {
		t.Fatal("want a chained else-if")
	}
	if ifStmt.ElseIf.ElseBody == nil {
		t.Fatal("want a terminal else body")
	}
}

func TestBuildForRangedLowersToForStmt(t *testing.T) {
	fn := buildOne(t, `func f(){ var s = 0; for (i in 0..5) { s = s + i; } return s; }`)
	var forStmt *For
	for _, s := range fn.Body {
		if f, ok := s.(*For); ok {
			forStmt = f
		}
	}
	if forStmt == nil {
		t.Fatalf("expected a *For statement in body: %+v", fn.Body)
	}
	if forStmt.Kind != ForRanged {
		t.Fatalf("want ForRanged, got %v", forStmt.Kind)
	}
	if forStmt.Counter != "i" {
		t.Fatalf("want counter %q, got %q", "i", forStmt.Counter)
	}
}

func TestBuildLambdaSharesLocalResolution(t *testing.T) {
	fn, ok := BuildLambda("test", "$lambda_1", []string{"x"}, nil, 1, &errors.Channel{})
	if !ok {
		t.Fatal("expected BuildLambda to succeed")
	}
	if len(fn.Locals) != 1 || fn.Locals[0] != "x" {
		t.Fatalf("want locals [x], got %v", fn.Locals)
	}
}
