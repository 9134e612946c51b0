// Package validate checks that an SSA program stays inside the subset the
// dataflow construction can lower: one straight-line target function over
// fixed-width integers and bools.
package validate

import (
	"fmt"
	"go/token"
	"go/types"

	"github.com/pkg/errors"
	"golang.org/x/tools/go/ssa"

	"elastic/internal/diag"
)

// CheckFunction validates the target function before dataflow construction.
func CheckFunction(prog *ssa.Program, target string, reporter *diag.Reporter) error {
	if prog == nil {
		return errors.New("no SSA program provided for validation")
	}
	if reporter == nil {
		return errors.New("no reporter provided for validation")
	}

	fn := lookupFunction(prog, target)
	if fn == nil {
		reporter.Errorf("function %q not found in the loaded packages", target)
		return errors.Errorf("function %q not found", target)
	}

	c := &checker{reporter: reporter}
	c.checkSignature(fn)
	c.checkBody(fn)
	if c.errCount > 0 {
		return errors.Errorf("validation failed with %d issue(s)", c.errCount)
	}
	return nil
}

type checker struct {
	reporter *diag.Reporter
	errCount int
}

func (c *checker) checkSignature(fn *ssa.Function) {
	for _, param := range fn.Params {
		if !supportedElem(param.Type()) {
			c.error(param.Pos(), "parameter %s has type %s; only fixed-width integers and bool lower to channels",
				param.Name(), param.Type())
		}
	}
	results := fn.Signature.Results()
	for i := 0; i < results.Len(); i++ {
		if !supportedElem(results.At(i).Type()) {
			c.error(fn.Pos(), "result %d has type %s; only fixed-width integers and bool lower to channels",
				i, results.At(i).Type())
		}
	}
}

func (c *checker) checkBody(fn *ssa.Function) {
	if len(fn.Blocks) != 1 {
		c.error(fn.Pos(), "function %s has control flow; rewrite it as a straight-line dataflow function", fn.Name())
		return
	}
	for _, instr := range fn.Blocks[0].Instrs {
		switch inst := instr.(type) {
		case *ssa.BinOp, *ssa.Return, *ssa.ChangeType, *ssa.DebugRef:
			// Lowerable.
		case *ssa.Call:
			c.error(inst.Pos(), "function calls are not supported; inline the callee")
		case *ssa.Go:
			c.error(inst.Pos(), "goroutines are not supported in dataflow functions")
		case *ssa.Select:
			c.error(inst.Pos(), "select statements are not supported")
		case *ssa.MakeChan, *ssa.Send:
			c.error(inst.Pos(), "Go channels are not supported; function arguments are already elastic channels")
		case *ssa.MakeMap, *ssa.MapUpdate, *ssa.Lookup:
			c.error(inst.Pos(), "maps are not supported in dataflow functions")
		case *ssa.Alloc, *ssa.Store:
			c.error(inst.Pos(), "memory operations are not supported; use values and returns")
		default:
			c.error(instr.Pos(), "instruction %T is not supported in dataflow functions", instr)
		}
	}
}

func (c *checker) error(pos token.Pos, format string, args ...any) {
	c.errCount++
	if c.reporter != nil {
		c.reporter.Error(pos, fmt.Sprintf(format, args...))
	}
}

func supportedElem(t types.Type) bool {
	basic, ok := t.Underlying().(*types.Basic)
	if !ok {
		return false
	}
	if basic.Info()&types.IsInteger != 0 {
		return basic.Kind() != types.Uintptr
	}
	return basic.Kind() == types.Bool
}

func lookupFunction(prog *ssa.Program, target string) *ssa.Function {
	var fallback *ssa.Function
	for _, pkg := range prog.AllPackages() {
		if pkg == nil || pkg.Pkg == nil {
			continue
		}
		fn := pkg.Func(target)
		if fn == nil || len(fn.Blocks) == 0 {
			continue
		}
		if pkg.Pkg.Path() == "main" || pkg.Pkg.Name() == "main" {
			return fn
		}
		if fallback == nil {
			fallback = fn
		}
	}
	return fallback
}
