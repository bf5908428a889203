// Package workspace owns the per-user scratch directory where resolved
// units are written before they are compiled and run.
//
// Layout: <root>/<language>/<main file>, plus any support files under the
// language directory. Each run replaces its language directory; no other
// directory is touched.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/randomizedcoder/go-snip-runner/internal/language"
	"github.com/randomizedcoder/go-snip-runner/internal/resolver"
)

// ErrWorkspaceIO wraps every filesystem failure inside the workspace.
var ErrWorkspaceIO = errors.New("workspace io")

// DirName is the directory created under the user cache dir.
const DirName = "snip-runner"

// DefaultRoot returns <user cache dir>/snip-runner, falling back to the
// temp dir when no cache dir is known.
func DefaultRoot() string {
	base, err := os.UserCacheDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, DirName)
}

// Workspace is not safe for concurrent use; the job server serializes
// access to it.
type Workspace struct {
	root   string
	logger *slog.Logger
}

// Files describes what Materialize wrote.
type Files struct {
	Dir   string
	Main  string
	Paths []string
}

// New returns a Workspace rooted at root. Nothing is created until the
// first Materialize or Clean.
func New(root string, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{root: root, logger: logger}
}

// Root returns the workspace root.
func (w *Workspace) Root() string { return w.root }

// Dir returns the language directory for lang.
func (w *Workspace) Dir(lang string) string {
	return filepath.Join(w.root, lang)
}

// Materialize recreates the language directory and writes the unit into it.
func (w *Workspace) Materialize(desc *language.Descriptor, unit *resolver.Unit) (Files, error) {
	if !filepath.IsLocal(desc.ID) {
		return Files{}, fmt.Errorf("%w: invalid language directory %q", ErrWorkspaceIO, desc.ID)
	}
	dir := w.Dir(desc.ID)

	if err := os.RemoveAll(dir); err != nil {
		return Files{}, fmt.Errorf("%w: reset %s: %v", ErrWorkspaceIO, dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("%w: create %s: %v", ErrWorkspaceIO, dir, err)
	}

	files := Files{Dir: dir, Main: filepath.Join(dir, desc.MainFile)}

	content := desc.Wrap(unit.Imports(), unit.Definitions(), unit.Code())
	if err := os.WriteFile(files.Main, []byte(content), 0o644); err != nil {
		return Files{}, fmt.Errorf("%w: write %s: %v", ErrWorkspaceIO, files.Main, err)
	}
	files.Paths = append(files.Paths, files.Main)

	for _, sf := range unit.SupportFiles {
		if !filepath.IsLocal(sf.RelPath) {
			w.logger.Warn("support_file_skipped", "path", sf.RelPath)
			continue
		}
		p := filepath.Join(dir, sf.RelPath)
		if p == files.Main {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return Files{}, fmt.Errorf("%w: create %s: %v", ErrWorkspaceIO, filepath.Dir(p), err)
		}
		if err := os.WriteFile(p, sf.Content, 0o644); err != nil {
			return Files{}, fmt.Errorf("%w: write %s: %v", ErrWorkspaceIO, p, err)
		}
		files.Paths = append(files.Paths, p)
	}

	w.logger.Debug("workspace_materialized",
		"language", desc.ID,
		"dir", dir,
		"files", len(files.Paths),
		"bytes", len(content),
	)
	return files, nil
}

// Clean empties the workspace and recreates its root. Cleaning an empty or
// missing workspace succeeds.
func (w *Workspace) Clean() error {
	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("%w: remove %s: %v", ErrWorkspaceIO, w.root, err)
	}
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrWorkspaceIO, w.root, err)
	}
	w.logger.Info("workspace_cleaned", "root", w.root)
	return nil
}

// Check verifies the root can be created and written to.
func (w *Workspace) Check() error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrWorkspaceIO, w.root, err)
	}
	f, err := os.CreateTemp(w.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("%w: write probe: %v", ErrWorkspaceIO, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
