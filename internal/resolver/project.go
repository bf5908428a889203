package resolver

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/randomizedcoder/go-snip-runner/internal/language"
)

var errFileLimit = errors.New("project file limit reached")

// findProjectRoot climbs from dir until a directory holds one of markers.
func (r *Resolver) findProjectRoot(dir string, markers []string) (string, bool) {
	if len(markers) == 0 {
		return "", false
	}
	dir = filepath.Clean(dir)
	for i := 0; i <= r.opts.MaxClimb; i++ {
		for _, m := range markers {
			if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
				return dir, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func (r *Resolver) shouldSkip(name string) bool {
	for _, p := range r.opts.SkipPatterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// discoverFiles lists project files matching globs in lexical order,
// excluding the file being resolved.
func (r *Resolver) discoverFiles(ctx context.Context, root string, globs []string, exclude string) ([]string, error) {
	if len(globs) == 0 {
		return nil, nil
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == root {
				return nil
			}
			if r.shouldSkip(d.Name()) || depth(rel) >= r.opts.MaxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if path == exclude || !d.Type().IsRegular() {
			return nil
		}

		for _, g := range globs {
			if ok, _ := doublestar.Match(g, rel); ok {
				files = append(files, path)
				break
			}
		}
		if len(files) >= r.opts.MaxFiles {
			return errFileLimit
		}
		return nil
	})
	if errors.Is(err, errFileLimit) {
		r.logger.Debug("project_file_limit", "root", root, "limit", r.opts.MaxFiles)
		err = nil
	}
	// Ties between project files go to the lexically first path.
	sort.Strings(files)
	return files, err
}

func depth(rel string) int {
	n := 1
	for _, c := range rel {
		if c == '/' {
			n++
		}
	}
	return n
}

// analyzeFiles parses files concurrently. The result keeps input order;
// files that fail to read or parse are dropped.
func (r *Resolver) analyzeFiles(ctx context.Context, files []string, desc *language.Descriptor) []*sourceFile {
	results := make([]*sourceFile, len(files))
	sem := semaphore.NewWeighted(int64(r.opts.Workers))
	g, gCtx := errgroup.WithContext(ctx)

	for i, path := range files {
		g.Go(func() error {
			if err := sem.Acquire(gCtx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			info, err := os.Stat(path)
			if err != nil || info.Size() > r.opts.MaxFileSize {
				return nil
			}
			src, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			sf, err := analyze(gCtx, path, src, desc)
			if err != nil {
				r.logger.Debug("project_file_skipped", "file", path, "error", err)
				return nil
			}
			results[i] = sf
			return nil
		})
	}
	_ = g.Wait()

	out := results[:0]
	for _, sf := range results {
		if sf != nil {
			out = append(out, sf)
		}
	}
	return out
}

// libraries finds library archives under the project root and the
// configured system paths. The result is sorted and deduplicated.
func (r *Resolver) libraries(root string, desc *language.Descriptor) []string {
	seen := make(map[string]bool)
	var libs []string
	add := func(base string, pattern string) {
		matches, err := doublestar.Glob(os.DirFS(base), pattern, doublestar.WithFilesOnly())
		if err != nil {
			return
		}
		for _, m := range matches {
			p := filepath.Join(base, filepath.FromSlash(m))
			if !seen[p] {
				seen[p] = true
				libs = append(libs, p)
			}
		}
	}

	if root != "" {
		for _, g := range desc.LibraryGlobs {
			add(root, g)
		}
	}
	if desc.SystemLibraryGlob != "" {
		for _, dir := range r.opts.SystemLibraryPaths {
			add(dir, desc.SystemLibraryGlob)
		}
	}
	sort.Strings(libs)
	return libs
}
