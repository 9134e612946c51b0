// Package frontend loads Go sources and builds the SSA form consumed by
// the dataflow construction.
package frontend

import (
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	gopackages "golang.org/x/tools/go/packages"

	"elastic/internal/diag"
)

// LoadConfig configures how source files are loaded before SSA
// translation.
type LoadConfig struct {
	Sources   []string
	BuildTags []string
}

// LoadPackages loads the requested source files. GOOS/GOARCH are pinned so
// integer widths (and with them the generated channel widths) do not depend
// on the host platform.
func LoadPackages(cfg LoadConfig, reporter *diag.Reporter) ([]*gopackages.Package, *token.FileSet, error) {
	if len(cfg.Sources) == 0 {
		return nil, nil, errors.New("no source files were provided")
	}

	fset := token.NewFileSet()
	buildFlags := buildTagFlag(cfg.BuildTags)

	dir := workingDir(cfg.Sources[0])
	if dir != "" {
		if absDir, err := filepath.Abs(dir); err == nil {
			dir = absDir
		}
	}

	goCache, goModCache := localCacheDirs()
	env := append(os.Environ(),
		"GOOS=linux",
		"GOARCH=amd64",
		"GOCACHE="+goCache,
		"GOMODCACHE="+goModCache,
	)

	loadCfg := &gopackages.Config{
		Mode: gopackages.NeedName | gopackages.NeedSyntax | gopackages.NeedFiles |
			gopackages.NeedCompiledGoFiles | gopackages.NeedTypes | gopackages.NeedTypesInfo |
			gopackages.NeedImports | gopackages.NeedDeps | gopackages.NeedModule |
			gopackages.NeedTypesSizes,
		Fset:  fset,
		Env:   env,
		Tests: false,
	}
	if dir != "" {
		loadCfg.Dir = dir
	}
	if len(buildFlags) > 0 {
		loadCfg.BuildFlags = buildFlags
	}

	pkgs, err := gopackages.Load(loadCfg, ".")
	if err != nil {
		return nil, nil, errors.Wrap(err, "load packages")
	}

	reporter.SetFileSet(fset)

	var hadErrors bool
	for _, pkg := range pkgs {
		for _, loadErr := range pkg.Errors {
			reporter.Errorf("%s: %s", loadErr.Pos, loadErr.Msg)
			hadErrors = true
		}
	}
	if hadErrors {
		return nil, nil, errors.New("package loading failed")
	}

	return pkgs, fset, nil
}

func buildTagFlag(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	joined := strings.Join(tags, ",")
	if joined == "" {
		return nil
	}
	return []string{"-tags=" + joined}
}

func workingDir(sample string) string {
	if sample == "" {
		return ""
	}
	dir := filepath.Dir(sample)
	if dir == "." {
		return ""
	}
	return dir
}

func localCacheDirs() (string, string) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	root := filepath.Join(cwd, ".cache")
	goCache := filepath.Join(root, "go-build")
	goModCache := filepath.Join(root, "gomod")
	_ = os.MkdirAll(goCache, 0o755)
	_ = os.MkdirAll(goModCache, 0o755)
	return goCache, goModCache
}
