package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recorder struct {
	testing.TB
	failed string
}

func (r *recorder) Helper() {}

func (r *recorder) Fatalf(format string, _ ...any) { r.failed = format }

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package x\n\nimport (\n\t\"fmt\"\n\t\"tripstore/internal/infra/blob/fs\"\n)\n")
	writeFile(t, dir, "b.go", "package x\n\nimport \"modernc.org/sqlite\"\n")
	writeFile(t, dir, "a_test.go", "package x\n\nimport \"tripstore/internal/core\"\n")
	writeFile(t, dir, "notes.txt", "import \"tripstore/internal/core\"")

	viols, err := DirectImportViolations(dir, AnyOf(InfraImport, DriverImport))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 2 {
		t.Fatalf("expected two violations, got %v", viols)
	}
	if !strings.Contains(strings.Join(viols, "\n"), "modernc.org/sqlite (in b.go)") {
		t.Fatalf("missing driver violation: %v", viols)
	}

	rec := &recorder{}
	AssertNoDirectImports(rec, dir, InternalImport, "layering")
	if rec.failed == "" {
		t.Fatalf("expected failure to be reported")
	}
	rec = &recorder{}
	AssertNoDirectImports(rec, dir, func(string) bool { return false }, "none")
	if rec.failed != "" {
		t.Fatalf("unexpected failure %q", rec.failed)
	}
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		path     string
		internal bool
		infra    bool
		driver   bool
	}{
		{"tripstore/internal/core", true, false, false},
		{"tripstore/internal/infra/persistence/sqlite", true, true, false},
		{"tripstore/pkg/domain", false, false, false},
		{"github.com/jackc/pgx/v5/stdlib", false, false, true},
		{"database/sql", false, false, true},
		{"encoding/json", false, false, false},
	}
	for _, tc := range cases {
		if InternalImport(tc.path) != tc.internal || InfraImport(tc.path) != tc.infra || DriverImport(tc.path) != tc.driver {
			t.Fatalf("unexpected classification for %s", tc.path)
		}
	}
}

func TestDirectImportViolationsErrors(t *testing.T) {
	if _, err := DirectImportViolations(filepath.Join(t.TempDir(), "missing"), InternalImport); err == nil {
		t.Fatalf("expected read error")
	}
	dir := t.TempDir()
	writeFile(t, dir, "bad.go", "package x\nimport (\n")
	if _, err := DirectImportViolations(dir, InternalImport); err == nil {
		t.Fatalf("expected parse error")
	}
}
