package frontend

import (
	"github.com/pkg/errors"
	gopackages "golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"elastic/internal/diag"
)

// BuildSSA translates loaded packages into SSA form.
func BuildSSA(pkgs []*gopackages.Package, reporter *diag.Reporter) (*ssa.Program, []*ssa.Package, error) {
	if len(pkgs) == 0 {
		return nil, nil, errors.New("no packages to build")
	}

	prog, ssaPkgs := ssautil.AllPackages(pkgs, ssa.BuilderMode(0))
	for i, pkg := range ssaPkgs {
		if pkg == nil {
			reporter.Errorf("package %s has type errors; SSA was not built", pkgs[i].PkgPath)
		}
	}
	if reporter.HasErrors() {
		return nil, nil, errors.New("SSA construction failed")
	}
	prog.Build()

	kept := make([]*ssa.Package, 0, len(ssaPkgs))
	for _, pkg := range ssaPkgs {
		if pkg != nil {
			kept = append(kept, pkg)
		}
	}
	return prog, kept, nil
}
