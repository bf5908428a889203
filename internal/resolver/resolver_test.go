package resolver

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/go-snip-runner/internal/language"
)

func testResolver(opts Options) *Resolver {
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(opts)
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func lookup(t *testing.T, filetype string) *language.Descriptor {
	t.Helper()
	d, ok := language.Default().Lookup(filetype)
	require.True(t, ok, "descriptor %q", filetype)
	return d
}

// =============================================================================
// Tests: selection helpers
// =============================================================================

func TestSelectLines(t *testing.T) {
	src := []byte("a\nb\nc\n")

	tests := []struct {
		name        string
		first, last int
		want        string
		wantFirst   int
	}{
		{"single", 2, 2, "b", 2},
		{"range", 1, 3, "a\nb\nc", 1},
		{"clamped", 0, 99, "a\nb\nc", 1},
		{"past end", 5, 6, "", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := selectLines(src, tt.first, tt.last)
			assert.Equal(t, tt.want, sel.text)
			assert.Equal(t, tt.wantFirst, sel.firstLine)
		})
	}

	sel := selectLines(src, 2, 3)
	assert.Equal(t, uint32(2), sel.start)
	assert.Equal(t, uint32(6), sel.end)
}

func TestDedent(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"    a\n    b", "a\nb"},
		{"    a\n      b", "a\n  b"},
		{"\ta\n\n\tb", "a\n\nb"},
		{"a\n  b", "a\n  b"},
		{"  a\n b", " a\nb"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dedent(tt.in), "dedent(%q)", tt.in)
	}
}

func TestPickCode(t *testing.T) {
	sel := selection{text: "  x = 1\n  y = 2"}

	got, ok := pickCode(sel, language.Line)
	assert.True(t, ok)
	assert.Equal(t, "x = 1", got)

	got, ok = pickCode(sel, language.Bloc)
	assert.True(t, ok)
	assert.Equal(t, "x = 1\ny = 2", got)

	_, ok = pickCode(selection{text: "  \n\t"}, language.Project)
	assert.False(t, ok)
}

func TestImportName(t *testing.T) {
	tests := []struct {
		stmt  string
		want  string
		known bool
	}{
		{`import "fmt"`, "fmt", true},
		{`import "net/http"`, "http", true},
		{`import f "fmt"`, "f", true},
		{`import _ "embed"`, "_", true},
		{`import "gopkg.in/yaml.v3"`, "", false},
	}
	for _, tt := range tests {
		name, known := importName(tt.stmt)
		assert.Equal(t, tt.known, known, tt.stmt)
		assert.Equal(t, tt.want, name, tt.stmt)
	}
}

// =============================================================================
// Tests: Resolve by level
// =============================================================================

func TestResolve_PythonPrependsImport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "pyproject.toml"), "")
	file := writeFile(t, filepath.Join(dir, "calc.py"), "import math\nprint(math.sqrt(4))\n")

	unit, err := testResolver(Options{}).Resolve(context.Background(),
		Request{File: file, FirstLine: 2, LastLine: 2}, lookup(t, "python"))
	require.NoError(t, err)

	assert.Equal(t, "import math", unit.Imports())
	assert.Equal(t, "print(math.sqrt(4))", unit.Code())
	assert.Equal(t, dir, unit.ProjectRoot)
	assert.Equal(t, "import math\nprint(math.sqrt(4))\n",
		lookup(t, "python").Wrap(unit.Imports(), unit.Definitions(), unit.Code()))
}

func TestResolve_CAppendsFunction(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Makefile"), "")
	file := writeFile(t, filepath.Join(dir, "hello.c"), `#include <stdio.h>

int j(){return 2;}

int main(void) {
    int i = j()*3;
    printf("hello n. %i", i+1);
    return 0;
}
`)

	unit, err := testResolver(Options{}).Resolve(context.Background(),
		Request{File: file, FirstLine: 6, LastLine: 7}, lookup(t, "c"))
	require.NoError(t, err)

	assert.Equal(t, "#include <stdio.h>", unit.Imports())
	assert.Equal(t, "int j(){return 2;}", unit.Definitions())
	assert.Equal(t, "int i = j()*3;\nprintf(\"hello n. %i\", i+1);", unit.Code())
	assert.Contains(t, unit.Missing, "printf")
	assert.NotContains(t, unit.Missing, "j")
}

func TestResolve_CurrentFileWinsOverProject(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Makefile"), "")
	other := writeFile(t, filepath.Join(dir, "lib", "other.c"),
		"int extra(void) { return 3; }\nint helper(void) { return 2; }\n")
	file := writeFile(t, filepath.Join(dir, "main.c"), `int helper(void) { return 1; }

int main(void) {
    return helper() + extra();
}
`)

	r := testResolver(Options{})
	req := Request{File: file, FirstLine: 4, LastLine: 4}
	unit, err := r.Resolve(context.Background(), req, lookup(t, "c"))
	require.NoError(t, err)

	defs := make([]Fragment, 0)
	for _, f := range unit.Fragments {
		if f.Provenance == ProvenanceFileScope || f.Provenance == ProvenanceProjectScope {
			defs = append(defs, f)
		}
	}
	require.Len(t, defs, 2)
	assert.Equal(t, ProvenanceFileScope, defs[0].Provenance)
	assert.Equal(t, "int helper(void) { return 1; }", defs[0].Text)
	assert.Equal(t, ProvenanceProjectScope, defs[1].Provenance)
	assert.Equal(t, other, defs[1].Path)
	assert.Equal(t, "int extra(void) { return 3; }", defs[1].Text)

	again, err := r.Resolve(context.Background(), req, lookup(t, "c"))
	require.NoError(t, err)
	assert.Equal(t, unit.Fragments, again.Fragments, "resolution must be deterministic")
}

func TestResolve_ProjectTieBreakIsLexical(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Makefile"), "")
	// Written in reverse order so discovery cannot lean on creation time.
	writeFile(t, filepath.Join(dir, "b", "x.c"), "int helper(void) { return 2; }\n")
	first := writeFile(t, filepath.Join(dir, "a", "x.c"), "int helper(void) { return 1; }\n")
	file := writeFile(t, filepath.Join(dir, "main.c"), "int main(void) {\n    return helper();\n}\n")

	r := testResolver(Options{})
	req := Request{File: file, FirstLine: 2, LastLine: 2}

	var runs [][]Fragment
	for i := 0; i < 5; i++ {
		unit, err := r.Resolve(context.Background(), req, lookup(t, "c"))
		require.NoError(t, err)
		runs = append(runs, unit.Fragments)

		var project []Fragment
		for _, f := range unit.Fragments {
			if f.Provenance == ProvenanceProjectScope {
				project = append(project, f)
			}
		}
		require.Len(t, project, 1, "run %d", i)
		assert.Equal(t, first, project[0].Path, "run %d", i)
		assert.Equal(t, "int helper(void) { return 1; }", project[0].Text, "run %d", i)
	}
	for i := 1; i < len(runs); i++ {
		assert.Equal(t, runs[0], runs[i], "run %d differs", i)
	}
}

func TestResolve_PythonNonReferenceNames(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{
			name: "attribute shares a top-level name",
			src:  "import os\nimport sys\npath = sys.argv[1]\nprint(os.path.basename('/a/b'))\n",
			line: 4,
		},
		{
			name: "keyword argument shares a top-level name",
			src:  "end = input()\nprint('a', end='')\n",
			line: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "pyproject.toml"), "")
			file := writeFile(t, filepath.Join(dir, "snippet.py"), tt.src)

			unit, err := testResolver(Options{}).Resolve(context.Background(),
				Request{File: file, FirstLine: tt.line, LastLine: tt.line}, lookup(t, "python"))
			require.NoError(t, err)

			assert.Empty(t, unit.Definitions(), "a self-contained selection needs no definitions")
			assert.NotContains(t, unit.Missing, "path")
			assert.NotContains(t, unit.Missing, "basename")
		})
	}
}

func TestResolve_GoSelectorResolvesMethodsOnly(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, filepath.Join(dir, "main.go"), `package main

import "fmt"

var area = 7

type circle struct{ r float64 }

func (c circle) area() float64 { return 3 * c.r * c.r }

func main() {
	c := circle{r: 2}
	fmt.Println(c.area())
}
`)

	unit, err := testResolver(Options{}).Resolve(context.Background(),
		Request{File: file, FirstLine: 12, LastLine: 13}, lookup(t, "go"))
	require.NoError(t, err)

	defs := unit.Definitions()
	assert.Contains(t, defs, "type circle struct{ r float64 }")
	assert.Contains(t, defs, "func (c circle) area() float64")
	assert.NotContains(t, defs, "var area", "a selector must not pull a package-level var")
	assert.Equal(t, "import \"fmt\"", unit.Imports())
}

func TestResolve_GoPrunesUnusedImports(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, filepath.Join(dir, "main.go"), `package main

import (
	"fmt"
	"strings"
	"os"
)

func greet(name string) string {
	return strings.ToUpper(name)
}

func main() {
	fmt.Println(greet("x"))
	os.Exit(0)
}
`)

	unit, err := testResolver(Options{}).Resolve(context.Background(),
		Request{File: file, FirstLine: 14, LastLine: 14}, lookup(t, "go"))
	require.NoError(t, err)

	assert.Equal(t, "import \"fmt\"\nimport \"strings\"", unit.Imports())
	assert.Contains(t, unit.Definitions(), "func greet(name string) string")
	assert.Empty(t, unit.ProjectRoot, "file level never searches the project")
}

func TestResolve_JavaSystemLibraries(t *testing.T) {
	dir := t.TempDir()
	sys := t.TempDir()
	writeFile(t, filepath.Join(dir, "pom.xml"), "<project/>")
	writeFile(t, filepath.Join(dir, "lib", "a.jar"), "")
	writeFile(t, filepath.Join(dir, "lib", "sub", "b.jar"), "")
	writeFile(t, filepath.Join(dir, "lib", "notes.txt"), "")
	writeFile(t, filepath.Join(sys, "c.jar"), "")
	file := writeFile(t, filepath.Join(dir, "src", "App.java"), `import java.util.List;

public class App {
    static int twice(int x) { return x * 2; }

    public static void main(String[] args) {
        System.out.println(twice(21));
    }
}
`)

	unit, err := testResolver(Options{SystemLibraryPaths: []string{sys}}).Resolve(context.Background(),
		Request{File: file, FirstLine: 7, LastLine: 7}, lookup(t, "java"))
	require.NoError(t, err)

	assert.Equal(t, "import java.util.List;", unit.Imports())
	assert.Contains(t, unit.Definitions(), "static int twice(int x)")
	assert.Equal(t, []string{
		filepath.Join(dir, "lib", "a.jar"),
		filepath.Join(dir, "lib", "sub", "b.jar"),
		filepath.Join(sys, "c.jar"),
	}, unit.Libraries)
}

func TestResolve_LocalIncludeCopied(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Makefile"), "")
	writeFile(t, filepath.Join(dir, "util.h"), "#define TWO 2\n")
	file := writeFile(t, filepath.Join(dir, "main.c"), `#include "util.h"

int main(void) {
    return TWO;
}
`)

	unit, err := testResolver(Options{}).Resolve(context.Background(),
		Request{File: file, FirstLine: 4, LastLine: 4}, lookup(t, "c"))
	require.NoError(t, err)

	require.Len(t, unit.SupportFiles, 1)
	assert.Equal(t, "util.h", unit.SupportFiles[0].RelPath)
	assert.Equal(t, "#define TWO 2\n", string(unit.SupportFiles[0].Content))
}

func TestResolve_LineAndBlocLevels(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, filepath.Join(dir, "x.src"), "  first()\n  second()\n")

	r := testResolver(Options{})
	req := Request{File: file, FirstLine: 1, LastLine: 2}

	unit, err := r.Resolve(context.Background(), req, lookup(t, "lua"))
	require.NoError(t, err)
	assert.Equal(t, "first()", unit.Code())

	unit, err = r.Resolve(context.Background(), req, lookup(t, "rust"))
	require.NoError(t, err)
	assert.Equal(t, "first()\nsecond()", unit.Code())
	assert.Empty(t, unit.Imports())
}

func TestResolve_Errors(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, filepath.Join(dir, "blank.py"), "\n\n\n")
	r := testResolver(Options{})

	_, err := r.Resolve(context.Background(), Request{File: file, FirstLine: 1, LastLine: 3}, lookup(t, "python"))
	assert.ErrorIs(t, err, ErrEmptySelection)

	_, err = r.Resolve(context.Background(), Request{File: filepath.Join(dir, "nope.py"), FirstLine: 1, LastLine: 1}, lookup(t, "python"))
	assert.ErrorIs(t, err, ErrReadSource)
}

// =============================================================================
// Tests: project discovery
// =============================================================================

func TestFindProjectRoot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "setup.py"), "")
	deep := filepath.Join(dir, "a", "b", "c")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	r := testResolver(Options{MaxClimb: 5})
	root, ok := r.findProjectRoot(deep, []string{"setup.py"})
	assert.True(t, ok)
	assert.Equal(t, dir, root)

	r = testResolver(Options{MaxClimb: 1})
	_, ok = r.findProjectRoot(deep, []string{"setup.py"})
	assert.False(t, ok, "climb bound must stop the search")
}

func TestDiscoverFiles(t *testing.T) {
	dir := t.TempDir()
	self := writeFile(t, filepath.Join(dir, "main.py"), "")
	writeFile(t, filepath.Join(dir, "b.py"), "")
	writeFile(t, filepath.Join(dir, "pkg", "a.py"), "")
	writeFile(t, filepath.Join(dir, "node_modules", "x.py"), "")
	writeFile(t, filepath.Join(dir, "readme.md"), "")

	r := testResolver(Options{})
	files, err := r.discoverFiles(context.Background(), dir, []string{"**/*.py"}, self)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "b.py"),
		filepath.Join(dir, "pkg", "a.py"),
	}, files)

	r = testResolver(Options{MaxFiles: 1})
	files, err = r.discoverFiles(context.Background(), dir, []string{"**/*.py"}, self)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
