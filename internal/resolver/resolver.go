// Package resolver extracts the minimal self-sufficient source needed to
// run a line range, according to a language's support level.
//
// Resolution never fails because a symbol is missing: unresolved names are
// recorded on the Unit and left for the toolchain to report.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/randomizedcoder/go-snip-runner/internal/language"
)

var (
	// ErrResolutionIncomplete marks a Unit with unresolved references.
	// It is informational and never returned by Resolve.
	ErrResolutionIncomplete = errors.New("resolution incomplete")

	// ErrEmptySelection is returned when the requested range holds no code.
	ErrEmptySelection = errors.New("empty selection")

	// ErrReadSource is returned when the saved file cannot be read.
	ErrReadSource = errors.New("read source file")
)

// DefaultSkipPatterns are directory names never searched for project files.
var DefaultSkipPatterns = []string{
	"node_modules",
	".git",
	"vendor",
	"dist",
	".next",
	"__pycache__",
	"coverage",
	".cache",
	"target",
	"build",
}

// Options bounds project search.
type Options struct {
	MaxClimb           int
	MaxFiles           int
	MaxDepth           int
	MaxFileSize        int64
	Workers            int
	SkipPatterns       []string
	SystemLibraryPaths []string
	Logger             *slog.Logger
}

// DefaultOptions returns the bounds used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		MaxClimb:     8,
		MaxFiles:     200,
		MaxDepth:     6,
		MaxFileSize:  1 << 20,
		Workers:      runtime.GOMAXPROCS(0),
		SkipPatterns: DefaultSkipPatterns,
	}
}

func (o *Options) applyDefaults() {
	def := DefaultOptions()
	if o.MaxClimb <= 0 {
		o.MaxClimb = def.MaxClimb
	}
	if o.MaxFiles <= 0 {
		o.MaxFiles = def.MaxFiles
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = def.MaxDepth
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = def.MaxFileSize
	}
	if o.Workers <= 0 {
		o.Workers = def.Workers
	}
	if o.SkipPatterns == nil {
		o.SkipPatterns = def.SkipPatterns
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Request identifies the code to resolve: a saved file and a 1-indexed
// inclusive line range.
type Request struct {
	File      string
	FirstLine int
	LastLine  int
}

// Resolver turns requests into Units. It holds no per-request state and is
// safe for concurrent use.
type Resolver struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	opts.applyDefaults()
	return &Resolver{opts: opts, logger: opts.Logger}
}

// Resolve reads the saved file and gathers context up to desc.Level.
func (r *Resolver) Resolve(ctx context.Context, req Request, desc *language.Descriptor) (*Unit, error) {
	file, err := filepath.Abs(req.File)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadSource, err)
	}
	src, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadSource, err)
	}

	unit := &Unit{
		Language:  desc.ID,
		Level:     desc.Level,
		SourceDir: filepath.Dir(file),
	}

	sel := selectLines(src, req.FirstLine, req.LastLine)
	code, ok := pickCode(sel, desc.Level)
	if !ok {
		return nil, ErrEmptySelection
	}

	if desc.Level < language.Import || desc.Grammar == "" {
		unit.Fragments = []Fragment{{Provenance: ProvenanceSelection, Path: file, Line: sel.firstLine, Text: code}}
		return unit, nil
	}

	current, err := analyze(ctx, file, src, desc)
	if err != nil {
		r.logger.Debug("resolution_degraded", "file", file, "language", desc.ID, "error", err)
		unit.Fragments = []Fragment{{Provenance: ProvenanceSelection, Path: file, Line: sel.firstLine, Text: code}}
		return unit, nil
	}

	b := &builder{
		r:       r,
		desc:    desc,
		unit:    unit,
		current: current,
		sel:     sel,
		seenImp: make(map[string]bool),
	}
	b.addImports(current, func(imp importStmt) bool {
		return imp.line >= sel.firstLine && imp.line <= sel.lastLine
	})

	if desc.Level >= language.File {
		b.closeDefinitions(ctx)
	}

	if desc.Level >= language.Project {
		if unit.ProjectRoot == "" {
			unit.ProjectRoot, _ = r.findProjectRoot(unit.SourceDir, desc.ProjectMarkers)
		}
		b.localIncludes()
	}
	if desc.Level >= language.System {
		unit.Libraries = r.libraries(unit.ProjectRoot, desc)
	}

	if desc.PruneImports {
		b.pruneImports(code)
	}

	unit.Fragments = append(b.imports, b.definitions()...)
	unit.Fragments = append(unit.Fragments, Fragment{Provenance: ProvenanceSelection, Path: file, Line: sel.firstLine, Text: code})

	if unit.Incomplete() {
		r.logger.Debug("resolution_incomplete",
			"file", file,
			"language", desc.ID,
			"missing", len(unit.Missing),
			"error", ErrResolutionIncomplete,
		)
	}
	return unit, nil
}

// pickCode applies the line/bloc rule: the whole selection when it is
// non-blank and the level allows blocs, otherwise its first line.
func pickCode(sel selection, level language.Level) (string, bool) {
	if strings.TrimSpace(sel.text) == "" {
		return "", false
	}
	if level >= language.Bloc {
		return dedent(sel.text), true
	}
	if level >= language.Line {
		first, _, _ := strings.Cut(sel.text, "\n")
		first = strings.TrimSpace(first)
		return first, first != ""
	}
	return "", false
}

type chosenDef struct {
	file *sourceFile
	def  definition
	rank int
}

type builder struct {
	r       *Resolver
	desc    *language.Descriptor
	unit    *Unit
	current *sourceFile
	sel     selection

	imports []Fragment
	seenImp map[string]bool
	chosen  []chosenDef

	project        []*sourceFile
	projectScanned bool
}

func (b *builder) addImports(sf *sourceFile, skip func(importStmt) bool) {
	for _, imp := range sf.imports {
		if skip != nil && skip(imp) {
			continue
		}
		key := strings.TrimSpace(imp.text)
		if b.seenImp[key] {
			continue
		}
		b.seenImp[key] = true
		b.imports = append(b.imports, Fragment{
			Provenance: ProvenanceImport,
			Path:       sf.path,
			Line:       imp.line,
			Text:       imp.text,
		})
	}
}

// closeDefinitions resolves referenced names transitively. The current file
// is searched first, then project files in discovery order.
func (b *builder) closeDefinitions(ctx context.Context) {
	inSel := make(map[symbol]bool)
	for _, d := range b.current.defs {
		if d.start < b.sel.end && b.sel.start < d.end {
			inSel[symbol{d.name, d.member}] = true
		}
	}

	done := make(map[symbol]bool)
	missing := make(map[string]bool)
	queue := b.current.refsIn(b.sel.start, b.sel.end)

	for len(queue) > 0 {
		sym := queue[0]
		queue = queue[1:]
		if done[sym] || inSel[sym] || b.desc.IsReserved(sym.name) {
			continue
		}
		done[sym] = true

		if i := b.current.lookup(sym, b.sel.start, b.sel.end); i >= 0 {
			d := b.current.defs[i]
			b.chosen = append(b.chosen, chosenDef{file: b.current, def: d, rank: 0})
			queue = append(queue, b.current.refsIn(d.start, d.end)...)
			continue
		}

		// Members resolve within the current file only. An unresolved one
		// belongs to a value the resolver cannot type (os.path) and is not
		// a miss.
		if sym.member {
			continue
		}
		if b.desc.Level < language.Project {
			missing[sym.name] = true
			continue
		}
		b.scanProject(ctx)

		found := false
		for rank, sf := range b.project {
			if i := sf.lookup(sym, 0, 0); i >= 0 {
				d := sf.defs[i]
				b.chosen = append(b.chosen, chosenDef{file: sf, def: d, rank: rank + 1})
				b.addImports(sf, nil)
				queue = append(queue, sf.refsIn(d.start, d.end)...)
				found = true
				break
			}
		}
		if !found {
			missing[sym.name] = true
		}
	}

	for name := range missing {
		b.unit.Missing = append(b.unit.Missing, name)
	}
	sort.Strings(b.unit.Missing)
}

func (b *builder) scanProject(ctx context.Context) {
	if b.projectScanned {
		return
	}
	b.projectScanned = true

	root, ok := b.r.findProjectRoot(b.unit.SourceDir, b.desc.ProjectMarkers)
	if !ok {
		b.r.logger.Debug("project_root_not_found", "start", b.unit.SourceDir, "language", b.desc.ID)
		return
	}
	b.unit.ProjectRoot = root

	files, err := b.r.discoverFiles(ctx, root, b.desc.SourceGlobs, b.current.path)
	if err != nil {
		b.r.logger.Debug("project_discovery_failed", "root", root, "error", err)
		return
	}
	b.project = b.r.analyzeFiles(ctx, files, b.desc)
}

// definitions orders chosen definitions: current file first in file order,
// then project files in discovery order, each in file order.
func (b *builder) definitions() []Fragment {
	sort.SliceStable(b.chosen, func(i, j int) bool {
		if b.chosen[i].rank != b.chosen[j].rank {
			return b.chosen[i].rank < b.chosen[j].rank
		}
		return b.chosen[i].def.start < b.chosen[j].def.start
	})
	out := make([]Fragment, 0, len(b.chosen))
	for _, c := range b.chosen {
		prov := ProvenanceFileScope
		if c.rank > 0 {
			prov = ProvenanceProjectScope
		}
		out = append(out, Fragment{Provenance: prov, Path: c.file.path, Line: c.def.line, Text: c.def.text})
	}
	return out
}

// localIncludes copies quoted includes into the workspace under the same
// relative path the include names.
func (b *builder) localIncludes() {
	if b.desc.LocalIncludePattern == "" {
		return
	}
	re, err := regexp.Compile(b.desc.LocalIncludePattern)
	if err != nil {
		b.r.logger.Debug("bad_include_pattern", "language", b.desc.ID, "error", err)
		return
	}

	seen := make(map[string]bool)
	for _, imp := range b.imports {
		m := re.FindStringSubmatch(imp.Text)
		if len(m) < 2 {
			continue
		}
		rel := filepath.Clean(filepath.FromSlash(m[1]))
		if !filepath.IsLocal(rel) || seen[rel] {
			continue
		}
		seen[rel] = true

		dirs := []string{filepath.Dir(imp.Path), b.unit.SourceDir}
		if b.unit.ProjectRoot != "" {
			dirs = append(dirs, b.unit.ProjectRoot)
		}
		for _, dir := range dirs {
			content, err := os.ReadFile(filepath.Join(dir, rel))
			if err == nil {
				b.unit.SupportFiles = append(b.unit.SupportFiles, SupportFile{RelPath: rel, Content: content})
				break
			}
		}
	}
}

// pruneImports keeps only imports whose package name is referenced by the
// code or the appended definitions.
func (b *builder) pruneImports(code string) {
	var body strings.Builder
	body.WriteString(code)
	for _, c := range b.chosen {
		body.WriteString("\n")
		body.WriteString(c.def.text)
	}
	text := body.String()

	kept := b.imports[:0]
	for _, imp := range b.imports {
		name, known := importName(imp.Text)
		if !known || name == "_" || name == "." {
			kept = append(kept, imp)
			continue
		}
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\.`)
		if re.MatchString(text) {
			kept = append(kept, imp)
		}
	}
	b.imports = kept
}

// importName derives the package name of a single import spec such as
// `import f "fmt"` or `import "net/http"`.
func importName(stmt string) (string, bool) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(stmt), "import"))
	switch len(fields) {
	case 1:
		p := strings.Trim(fields[0], "\"`")
		name := path.Base(p)
		if strings.ContainsAny(name, ".-") {
			return "", false
		}
		return name, true
	case 2:
		return fields[0], true
	default:
		return "", false
	}
}
