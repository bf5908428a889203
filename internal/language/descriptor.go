package language

import (
	"os"
	"path/filepath"
	"strings"
)

// Step is one command of a build/run chain. Arguments and environment
// entries may reference ${dir}, ${main}, ${project}, ${src}, ${classpath}
// and ${libs}; they are expanded per run.
type Step struct {
	Args    []string
	Env     []string
	Compile bool
}

// Descriptor is the immutable description of one language handler.
// Adding a language is adding a Descriptor value; no per-language control
// flow exists outside this data.
type Descriptor struct {
	ID      string
	Aliases []string
	Level   Level

	// MainFile is the file name written into the workspace.
	MainFile string

	// Wrapper turns resolved fragments into a runnable file. It may use
	// ${imports}, ${definitions} and ${code}. Empty means plain concatenation.
	Wrapper string

	Steps []Step

	// Grammar names the tree-sitter grammar used above Bloc level.
	Grammar string

	// ImportQuery captures @import nodes. ImportFormat, when set, is a
	// format applied to each captured node's text (e.g. "import %s").
	ImportQuery  string
	ImportFormat string

	// PruneImports drops imports whose package name is never referenced.
	PruneImports bool

	// DefinitionQuery captures @definition nodes with a @name, or a
	// @member for methods reached through a selector.
	DefinitionQuery string

	// IdentifierTypes lists node types treated as symbol references.
	IdentifierTypes []string

	// MemberFields are "parent_type.field" positions that name a member of
	// another value (os.path, c.area). Such names only resolve to
	// definitions captured as @member instead of @name.
	MemberFields []string

	// BindingFields are "parent_type.field" positions that introduce a name
	// rather than use one, such as keyword argument names. They are never
	// references.
	BindingFields []string

	// ReservedNames are never appended as definitions (e.g. "main").
	ReservedNames []string

	// LocalIncludePattern extracts a project-relative path from an import
	// line; matching files are copied into the workspace.
	LocalIncludePattern string

	ProjectMarkers []string
	SourceGlobs    []string

	// LibraryGlobs are searched under the project root; SystemLibraryGlob
	// under each configured system library path.
	LibraryGlobs      []string
	SystemLibraryGlob string
}

// Extension returns the workspace file extension, including the dot.
func (d *Descriptor) Extension() string {
	return filepath.Ext(d.MainFile)
}

// Names returns the identifier followed by all aliases.
func (d *Descriptor) Names() []string {
	return append([]string{d.ID}, d.Aliases...)
}

// IsReserved reports whether name must never be appended as a definition.
func (d *Descriptor) IsReserved(name string) bool {
	for _, r := range d.ReservedNames {
		if r == name {
			return true
		}
	}
	return false
}

// Wrap renders the main file from its three fragment groups.
func (d *Descriptor) Wrap(imports, definitions, code string) string {
	if d.Wrapper == "" {
		var parts []string
		for _, p := range []string{imports, definitions, code} {
			if strings.TrimSpace(p) != "" {
				parts = append(parts, p)
			}
		}
		return strings.Join(parts, "\n") + "\n"
	}
	return os.Expand(d.Wrapper, func(key string) string {
		switch key {
		case "imports":
			return imports
		case "definitions":
			return definitions
		case "code":
			return code
		}
		return "${" + key + "}"
	})
}

// Command is a fully expanded Step.
type Command struct {
	Args    []string
	Env     []string
	Compile bool
}

// Expand resolves every step's placeholders against vars. Unknown
// placeholders expand to the empty string.
func (d *Descriptor) Expand(vars map[string]string) []Command {
	mapping := func(key string) string { return vars[key] }
	cmds := make([]Command, 0, len(d.Steps))
	for _, step := range d.Steps {
		cmd := Command{Compile: step.Compile}
		for _, a := range step.Args {
			cmd.Args = append(cmd.Args, os.Expand(a, mapping))
		}
		for _, e := range step.Env {
			cmd.Env = append(cmd.Env, os.Expand(e, mapping))
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

// Programs returns the distinct executables named by the steps, skipping
// ones that are produced inside the workspace.
func (d *Descriptor) Programs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, step := range d.Steps {
		if len(step.Args) == 0 || strings.Contains(step.Args[0], "${") {
			continue
		}
		if !seen[step.Args[0]] {
			seen[step.Args[0]] = true
			out = append(out, step.Args[0])
		}
	}
	return out
}

// Generic returns the Bloc-level descriptor used when a filetype has no
// handler and is routed to the fallback delegate.
func Generic(filetype string) *Descriptor {
	return &Descriptor{
		ID:    strings.ToLower(filetype),
		Level: Bloc,
	}
}

func (d *Descriptor) clone() *Descriptor {
	c := *d
	c.Aliases = append([]string(nil), d.Aliases...)
	c.Steps = make([]Step, len(d.Steps))
	for i, s := range d.Steps {
		c.Steps[i] = Step{
			Args:    append([]string(nil), s.Args...),
			Env:     append([]string(nil), s.Env...),
			Compile: s.Compile,
		}
	}
	return &c
}
