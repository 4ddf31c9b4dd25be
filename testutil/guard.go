// Package testutil holds test helpers that enforce import boundaries between
// the tripstore layers.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Layer predicates for AssertNoDirectImports.
var (
	// InternalImport matches any internal package of this module.
	InternalImport = func(path string) bool { return strings.HasPrefix(path, "tripstore/internal/") }
	// InfraImport matches the concrete storage and blob backends.
	InfraImport = func(path string) bool { return strings.HasPrefix(path, "tripstore/internal/infra/") }
	// DriverImport matches database drivers and cloud SDKs.
	DriverImport = func(path string) bool {
		for _, prefix := range []string{
			"database/sql",
			"github.com/aws/",
			"github.com/dgraph-io/",
			"github.com/jackc/",
			"modernc.org/",
		} {
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
		return false
	}
)

// AnyOf matches when any predicate matches.
func AnyOf(preds ...func(string) bool) func(string) bool {
	return func(path string) bool {
		for _, p := range preds {
			if p(path) {
				return true
			}
		}
		return false
	}
}

// AssertNoDirectImports parses the non-test Go files in dir and fails t when
// an import matches forbidden. Build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := DirectImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden imports (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

// DirectImportViolations lists "import (in file)" for every forbidden import.
func DirectImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			if forbidden(path) {
				viols = append(viols, path+" (in "+name+")")
			}
		}
	}
	return viols, nil
}
