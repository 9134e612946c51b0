// Command elastic compiles a straight-line Go function into a FIRRTL
// circuit of elastic (valid/ready handshaked) components.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"

	"elastic/internal/diag"
	"elastic/internal/firrtl"
	"elastic/internal/frontend"
	"elastic/internal/handshake"
	"elastic/internal/lower"
	"elastic/internal/passes"
	"elastic/internal/validate"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printGlobalUsage()
		return errors.New("missing command")
	}

	switch args[0] {
	case "compile":
		return runCompile(args[1:])
	case "lint":
		return runLint(args[1:])
	default:
		printGlobalUsage()
		return errors.Errorf("unknown command: %s", args[0])
	}
}

func printGlobalUsage() {
	fmt.Fprintf(os.Stderr, "elastic compiler\n\n")
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  elastic <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  compile    Compile a Go function to SSA, handshake IR, or FIRRTL\n")
	fmt.Fprintf(os.Stderr, "  lint       Run validation-only checks on the target function\n\n")
	fmt.Fprintf(os.Stderr, "Passes: %s\n", strings.Join(passes.Names(), ", "))
}

func runCompile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	emit := fs.String("emit", "firrtl", "output format (ssa|handshake|firrtl)")
	output := fs.String("o", "", "output file path (stdout when omitted)")
	target := fs.String("target", "main", "function to compile")
	diagFormat := fs.String("diag-format", "text", "diagnostic output format (text|json)")
	clocks := fs.Int("clocks", 1, "number of clock domains on the top module")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("compile requires at least one Go source file")
	}
	if *clocks < 1 {
		return errors.Errorf("compile requires at least one clock domain (got %d)", *clocks)
	}

	result, err := prepareProgram(fs.Args(), *diagFormat)
	if err != nil {
		return err
	}

	if *emit == "ssa" {
		return emitSSAProgram(result.program, *output)
	}

	if err := validate.CheckFunction(result.program, *target, result.reporter); err != nil {
		return err
	}

	fn, err := handshake.BuildFunc(result.program, *target, result.reporter)
	if err != nil {
		return err
	}

	if *emit == "handshake" {
		return withOutputWriter(*output, func(w io.Writer) error {
			handshake.Dump(fn, w)
			return nil
		})
	}
	if *emit != "firrtl" {
		return errors.Errorf("unknown emit format: %s", *emit)
	}

	design := &passes.Design{Func: fn}
	if err := runLowering(design, result.reporter, *clocks); err != nil {
		return err
	}
	return firrtl.Emit(design.Circuit, *output)
}

func runLowering(design *passes.Design, reporter *diag.Reporter, clocks int) error {
	ctor, ok := passes.Lookup(lower.PassName)
	if !ok {
		return errors.Errorf("pass %s is not registered", lower.PassName)
	}
	pass := ctor(reporter)
	if lp, ok := pass.(*lower.Pass); ok {
		lp.NumClocks = clocks
	}

	mgr := passes.NewManager()
	mgr.Add(pass)
	if err := mgr.Run(design); err != nil {
		return err
	}
	if reporter.HasErrors() {
		return errors.New("lowering reported errors")
	}
	return nil
}

func runLint(args []string) error {
	fs := flag.NewFlagSet("lint", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	target := fs.String("target", "main", "function to check")
	diagFormat := fs.String("diag-format", "text", "diagnostic output format (text|json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("lint requires at least one Go source file")
	}

	result, err := prepareProgram(fs.Args(), *diagFormat)
	if err != nil {
		return err
	}
	return validate.CheckFunction(result.program, *target, result.reporter)
}

type frontendResult struct {
	reporter *diag.Reporter
	program  *ssa.Program
	ssaPkgs  []*ssa.Package
	pkgs     []*packages.Package
}

func prepareProgram(sources []string, diagFormat string) (*frontendResult, error) {
	reporter := diag.NewReporter(os.Stderr, diagFormat)
	cfg := frontend.LoadConfig{Sources: sources}
	pkgs, _, err := frontend.LoadPackages(cfg, reporter)
	if err != nil {
		return nil, err
	}
	if reporter.HasErrors() {
		return nil, errors.New("errors reported while loading packages")
	}
	prog, ssaPkgs, err := frontend.BuildSSA(pkgs, reporter)
	if err != nil {
		return nil, err
	}
	if reporter.HasErrors() {
		return nil, errors.New("errors reported during SSA construction")
	}
	return &frontendResult{
		reporter: reporter,
		program:  prog,
		ssaPkgs:  ssaPkgs,
		pkgs:     pkgs,
	}, nil
}

func emitSSAProgram(prog *ssa.Program, outputPath string) error {
	return withOutputWriter(outputPath, func(w io.Writer) error {
		pkgs := sortedSSAPackages(prog)
		if len(pkgs) == 0 {
			return errors.New("no SSA packages available to emit")
		}
		for i, pkg := range pkgs {
			if i > 0 {
				fmt.Fprintln(w)
			}
			if _, err := pkg.WriteTo(w); err != nil {
				return err
			}
		}
		return nil
	})
}

func sortedSSAPackages(prog *ssa.Program) []*ssa.Package {
	if prog == nil {
		return nil
	}
	all := prog.AllPackages()
	pkgs := make([]*ssa.Package, 0, len(all))
	for _, pkg := range all {
		if pkg == nil {
			continue
		}
		pkgs = append(pkgs, pkg)
	}
	sort.Slice(pkgs, func(i, j int) bool {
		return packageSortKey(pkgs[i]) < packageSortKey(pkgs[j])
	})
	return pkgs
}

func packageSortKey(pkg *ssa.Package) string {
	if pkg == nil {
		return ""
	}
	if pkg.Pkg != nil {
		return pkg.Pkg.Path()
	}
	return pkg.String()
}

func withOutputWriter(path string, fn func(io.Writer) error) error {
	w, cleanup, err := outputWriter(path)
	if err != nil {
		return err
	}
	if cleanup == nil {
		return fn(w)
	}
	err = fn(w)
	if closeErr := cleanup(); err == nil && closeErr != nil {
		err = closeErr
	}
	return err
}

func outputWriter(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
