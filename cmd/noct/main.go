// Command noct is the reference driver from spec.md §6: no arguments
// enters a REPL, a single file argument runs it (source or bytecode,
// disambiguated by the container's magic string), --compile/--ansic/
// --elisp batch-process one or more inputs, and --disable-jit/
// --force-jit set the process-wide JIT flags every VM this process
// creates inherits.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"noct/internal/backend/cback"
	"noct/internal/backend/lispback"
	"noct/internal/bytecode"
	"noct/internal/debug"
	"noct/internal/errors"
	"noct/internal/ffi"
	"noct/internal/hir"
	"noct/internal/lexer"
	"noct/internal/lir"
	"noct/internal/natives/crypto"
	"noct/internal/natives/db"
	"noct/internal/natives/net"
	"noct/internal/parser"
	"noct/internal/repl"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		repl.New(os.Stdin, os.Stdout).Run()
		return 0
	}

	switch args[0] {
	case "--help", "-h":
		usage()
		return 0
	case "--compile":
		return compileFiles(args[1:])
	case "--ansic":
		return transpile(args[1:], "C", transpileC)
	case "--elisp":
		return transpile(args[1:], "Lisp", transpileLisp)
	case "--disable-jit":
		ffi.SetDisableJIT(true)
		return run(args[1:])
	case "--force-jit":
		ffi.SetForceJIT(true)
		return run(args[1:])
	case "--dump-lir":
		return dumpLIR(args[1:])
	case "--dump-hir":
		return dumpHIR(args[1:])
	}

	return runFile(args[0])
}

func dumpLIR(inputs []string) int {
	for _, in := range inputs {
		prog, err := buildLIR(in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Print(debug.Disassemble(prog))
	}
	return 0
}

func dumpHIR(inputs []string) int {
	for _, in := range inputs {
		prog, err := buildHIR(in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(debug.DumpHIR(prog))
	}
	return 0
}

func usage() {
	fmt.Println(`noct [flags] [file]

  (no arguments)          start the REPL
  <file>                  run a source or bytecode file
  --compile <files...>    compile each to a .nb bytecode file
  --ansic <out> <in...>   transpile to a single C file
  --elisp <out> <in...>   transpile to a single Lisp file
  --disable-jit           disable the JIT accelerator
  --force-jit             force JIT promotion on first call
  --dump-lir <files...>   print the LIR instruction listing for each file
  --dump-hir <files...>   pretty-print the HIR block tree for each file
  --help, -h              show this message`)
}

func runFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", path, err)
		return 1
	}

	errs := &errors.Channel{}
	host := ffi.New()
	host.VM.Errs = errs
	registerNatives(host)

	var ok bool
	if strings.HasPrefix(string(data), bytecode.Magic) {
		ok = host.RegisterBytecodeFile(path, strings.NewReader(string(data)))
	} else {
		ok = host.RegisterSourceFile(path, string(data))
	}
	if !ok {
		return reportAndExit(errs)
	}

	if _, ok := host.Enter("main"); !ok {
		return reportAndExit(errs)
	}
	return 0
}

func registerNatives(host *ffi.Host) {
	db.Register(host.VM, db.NewManager())
	net.Register(host.VM, net.NewManager())
	crypto.Register(host.VM)
}

func reportAndExit(errs *errors.Channel) int {
	entry, ok := errs.Last()
	if !ok {
		fmt.Fprintln(os.Stderr, "Error: unknown failure")
		return 1
	}
	fmt.Fprintf(os.Stderr, "Error: %s: %d: %s\n", entry.File, entry.Line, entry.Message)
	return 1
}

// compileFiles compiles each input to a sibling .nb bytecode file,
// one input per file fanned out over an errgroup: each file's own
// parse -> HIR -> LIR pipeline is independent until the container is
// written, so nothing shared needs synchronizing.
func compileFiles(inputs []string) int {
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "Error: --compile requires at least one input file")
		return 1
	}
	var g errgroup.Group
	for _, in := range inputs {
		in := in
		g.Go(func() error { return compileOne(in) })
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func compileOne(path string) error {
	prog, err := buildLIR(path)
	if err != nil {
		return err
	}
	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".nb"
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	return bytecode.Write(f, path, prog)
}

func channelErr(errs *errors.Channel) error {
	entry, ok := errs.Last()
	if !ok {
		return fmt.Errorf("unknown compile error")
	}
	return entry
}

func buildLIR(path string) (*lir.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	errs := &errors.Channel{}
	toks, ok := lexer.New(path, string(data), errs).Scan()
	if !ok {
		return nil, channelErr(errs)
	}
	ast, ok := parser.New(path, toks, errs).Parse()
	if !ok {
		return nil, channelErr(errs)
	}
	hirProg, ok := hir.Build(path, ast, errs)
	if !ok {
		return nil, channelErr(errs)
	}
	lirProg, ok := lir.Build(path, hirProg, errs)
	if !ok {
		return nil, channelErr(errs)
	}
	return lirProg, nil
}

func buildHIR(path string) (*hir.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	errs := &errors.Channel{}
	toks, ok := lexer.New(path, string(data), errs).Scan()
	if !ok {
		return nil, channelErr(errs)
	}
	astProg, ok := parser.New(path, toks, errs).Parse()
	if !ok {
		return nil, channelErr(errs)
	}
	hirProg, ok := hir.Build(path, astProg, errs)
	if !ok {
		return nil, channelErr(errs)
	}
	return hirProg, nil
}

func transpile(args []string, label string, fn func(string) (string, error)) int {
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "Error: --ansic/--elisp requires an output file and at least one input\n")
		return 1
	}
	out, inputs := args[0], args[1:]

	var g errgroup.Group
	results := make([]string, len(inputs))
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			s, err := fn(in)
			if err != nil {
				return err
			}
			results[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	f, err := os.Create(out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, s := range results {
		w.WriteString(s)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	_ = label
	return 0
}

func transpileC(path string) (string, error) {
	prog, err := buildLIR(path)
	if err != nil {
		return "", err
	}
	out, ok := cback.Emit(prog)
	if !ok {
		return "", fmt.Errorf("%s: broken bytecode during C translation", path)
	}
	return out, nil
}

func transpileLisp(path string) (string, error) {
	prog, err := buildHIR(path)
	if err != nil {
		return "", err
	}
	return lispback.Emit(prog), nil
}
