// Package jit is the optional acceleration hook spec.md's Non-goals
// leave unimplemented beyond configuration: a call-count profiler
// decides when a function is "hot" and the two process-wide flags
// (ffi.DisableJIT / ffi.ForceJIT) gate whether that decision is ever
// consulted, but Compile never produces real machine code — every
// call stays on the interpreter in internal/vm.
package jit

import "noct/internal/lir"

// Tier mirrors the two-stage warm-up a hot function would eventually
// move through if a real back end were plugged in here.
type Tier int

const (
	TierInterpreted Tier = iota
	TierQuick
	TierOptimized
)

const (
	quickThreshold     = 100
	optimizedThreshold = 1000
)

// Profiler tracks per-function call counts to decide promotion.
type Profiler struct {
	calls map[*lir.Function]int
}

func NewProfiler() *Profiler {
	return &Profiler{calls: map[*lir.Function]int{}}
}

// RecordCall registers one call to fn and reports whether this call
// crossed a promotion threshold, and to which tier.
func (p *Profiler) RecordCall(fn *lir.Function) (bool, Tier) {
	p.calls[fn]++
	switch p.calls[fn] {
	case quickThreshold:
		return true, TierQuick
	case optimizedThreshold:
		return true, TierOptimized
	default:
		return false, TierInterpreted
	}
}

// Compiled is what a real back end would hand back; OptimizedCode is
// left nil since Compile never produces any.
type Compiled struct {
	OptimizedCode []byte
}

// Compiler is the promotion decision point. Compile always returns a
// Compiled with no machine code: spec.md's Non-goals rule out a real
// JIT back end, so promoted functions keep running through the LIR
// interpreter, and the profiler keeps counting their calls.
type Compiler struct {
	profiler *Profiler
}

func NewCompiler(p *Profiler) *Compiler { return &Compiler{profiler: p} }

func (c *Compiler) Compile(fn *lir.Function, tier Tier) (*Compiled, error) {
	return &Compiled{}, nil
}
