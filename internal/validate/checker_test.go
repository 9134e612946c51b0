package validate

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/go/ssa"

	"elastic/internal/diag"
	"elastic/internal/frontend"
)

func TestValidateAcceptsStraightLine(t *testing.T) {
	_, err := runValidation(t, `
package main

func add(a, b uint16) uint16 {
	return a + b
}

func main() {}
`, "add")
	if err != nil {
		t.Fatalf("expected straight-line function to validate, got %v", err)
	}
}

func TestValidateRejectsControlFlow(t *testing.T) {
	diagStr, err := runValidation(t, `
package main

func pick(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func main() {}
`, "pick")
	if err == nil {
		t.Fatalf("expected control-flow rejection")
	}
	if !strings.Contains(diagStr, "control flow") {
		t.Fatalf("expected control-flow diagnostic, got:\n%s", diagStr)
	}
}

func TestValidateRejectsCalls(t *testing.T) {
	diagStr, err := runValidation(t, `
package main

func helper(a int32) int32 { return a }

func outer(a int32) int32 {
	return helper(a)
}

func main() {}
`, "outer")
	if err == nil {
		t.Fatalf("expected call rejection")
	}
	if !strings.Contains(diagStr, "calls are not supported") {
		t.Fatalf("expected call diagnostic, got:\n%s", diagStr)
	}
}

func TestValidateRejectsUnsupportedParamType(t *testing.T) {
	diagStr, err := runValidation(t, `
package main

func scale(a float64) float64 {
	return a + a
}

func main() {}
`, "scale")
	if err == nil {
		t.Fatalf("expected type rejection")
	}
	if !strings.Contains(diagStr, "fixed-width integers") {
		t.Fatalf("expected type diagnostic, got:\n%s", diagStr)
	}
}

func TestValidateMissingFunction(t *testing.T) {
	_, err := runValidation(t, `
package main

func main() {}
`, "absent")
	if err == nil {
		t.Fatalf("expected missing-function error")
	}
}

func runValidation(t *testing.T, source, target string) (string, error) {
	t.Helper()
	prog, reporter, out := loadProgram(t, source)
	err := CheckFunction(prog, target, reporter)
	return out.String(), err
}

func loadProgram(t *testing.T, source string) (*ssa.Program, *diag.Reporter, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(source), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module testcase\n\ngo 1.22\n"), 0o644); err != nil {
		t.Fatalf("write go.mod: %v", err)
	}

	var out bytes.Buffer
	reporter := diag.NewReporter(&out, "text")
	cfg := frontend.LoadConfig{Sources: []string{filepath.Join(dir, "main.go")}}
	pkgs, _, err := frontend.LoadPackages(cfg, reporter)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	prog, _, err := frontend.BuildSSA(pkgs, reporter)
	if err != nil {
		t.Fatalf("build ssa: %v", err)
	}
	return prog, reporter, &out
}
