package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/randomizedcoder/go-snip-runner/internal/language"
	"github.com/randomizedcoder/go-snip-runner/internal/logging"
	"github.com/randomizedcoder/go-snip-runner/internal/resolver"
)

func pythonUnit(code string) *resolver.Unit {
	return &resolver.Unit{
		Language: "python",
		Fragments: []resolver.Fragment{
			{Provenance: resolver.ProvenanceImport, Text: "import math"},
			{Provenance: resolver.ProvenanceSelection, Text: code},
		},
	}
}

func lookup(t *testing.T, ft string) *language.Descriptor {
	t.Helper()
	d, ok := language.Default().Lookup(ft)
	if !ok {
		t.Fatalf("no descriptor %q", ft)
	}
	return d
}

func TestMaterialize_WritesMainFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	w := New(root, logging.Discard())

	files, err := w.Materialize(lookup(t, "python"), pythonUnit("print(math.sqrt(4))"))
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	if files.Main != filepath.Join(root, "python", "main.py") {
		t.Errorf("Main = %q", files.Main)
	}
	data, err := os.ReadFile(files.Main)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "import math\nprint(math.sqrt(4))\n" {
		t.Errorf("main.py = %q", data)
	}
}

func TestMaterialize_ReplacesOnlyItsLanguageDir(t *testing.T) {
	root := t.TempDir()
	w := New(root, logging.Discard())

	stale := filepath.Join(root, "python", "stale.py")
	other := filepath.Join(root, "c", "main.c")
	for _, p := range []string{stale, other} {
		os.MkdirAll(filepath.Dir(p), 0o755)
		os.WriteFile(p, []byte("x"), 0o644)
	}

	if _, err := w.Materialize(lookup(t, "python"), pythonUnit("print(1)")); err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale file in the language dir should be removed")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("other language dirs must be left alone")
	}
}

func TestMaterialize_SupportFiles(t *testing.T) {
	root := t.TempDir()
	w := New(root, logging.Discard())

	unit := pythonUnit("print(1)")
	unit.SupportFiles = []resolver.SupportFile{
		{RelPath: filepath.Join("inc", "util.h"), Content: []byte("#define X 1\n")},
		{RelPath: "../escape.h", Content: []byte("nope")},
	}

	files, err := w.Materialize(lookup(t, "c"), unit)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if len(files.Paths) != 2 {
		t.Fatalf("Paths = %v, want main plus one support file", files.Paths)
	}
	data, _ := os.ReadFile(filepath.Join(root, "c", "inc", "util.h"))
	if string(data) != "#define X 1\n" {
		t.Errorf("util.h = %q", data)
	}
	if _, err := os.Stat(filepath.Join(root, "escape.h")); !os.IsNotExist(err) {
		t.Error("support file escaped the language dir")
	}

	main, _ := os.ReadFile(files.Main)
	if !strings.Contains(string(main), "int main(void)") {
		t.Errorf("main.c not wrapped: %q", main)
	}
}

func TestMaterialize_RootNotWritable(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	os.WriteFile(blocker, []byte("x"), 0o644)

	w := New(filepath.Join(blocker, "ws"), logging.Discard())
	_, err := w.Materialize(lookup(t, "python"), pythonUnit("print(1)"))
	if !errors.Is(err, ErrWorkspaceIO) {
		t.Errorf("error = %v, want ErrWorkspaceIO", err)
	}
}

func TestClean_Idempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	w := New(root, logging.Discard())

	if err := w.Clean(); err != nil {
		t.Fatalf("Clean() on missing root error = %v", err)
	}
	os.MkdirAll(filepath.Join(root, "python"), 0o755)
	os.WriteFile(filepath.Join(root, "python", "main.py"), []byte("x"), 0o644)

	if err := w.Clean(); err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if err := w.Clean(); err != nil {
		t.Fatalf("second Clean() error = %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("root should exist after Clean: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("root has %d entries after Clean", len(entries))
	}
}

func TestCheck(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "ws"), logging.Discard())
	if err := w.Check(); err != nil {
		t.Errorf("Check() error = %v", err)
	}
}

func TestDefaultRoot(t *testing.T) {
	if filepath.Base(DefaultRoot()) != DirName {
		t.Errorf("DefaultRoot() = %q", DefaultRoot())
	}
}
