package language

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnsupportedLanguage is returned when a filetype has neither a
// registered descriptor nor a fallback delegate mapping.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Registry is the lookup table from filetype identifiers and aliases to
// descriptors. It is built once at startup and read-only afterwards.
type Registry struct {
	byName map[string]*Descriptor
	all    []*Descriptor
}

// NewRegistry builds a registry, rejecting duplicate names and descriptors
// without steps.
func NewRegistry(descs ...*Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Descriptor)}
	for _, d := range descs {
		if d.ID == "" {
			return nil, errors.New("descriptor with empty id")
		}
		if len(d.Steps) == 0 {
			return nil, fmt.Errorf("language %q: no steps", d.ID)
		}
		if d.MainFile == "" {
			return nil, fmt.Errorf("language %q: no main file", d.ID)
		}
		for _, name := range d.Names() {
			key := strings.ToLower(name)
			if _, dup := r.byName[key]; dup {
				return nil, fmt.Errorf("language name %q registered twice", name)
			}
			r.byName[key] = d
		}
		r.all = append(r.all, d)
	}
	sort.Slice(r.all, func(i, j int) bool { return r.all[i].ID < r.all[j].ID })
	return r, nil
}

// Default returns a registry of the built-in descriptors.
func Default() *Registry {
	r, err := NewRegistry(Builtin()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup finds the descriptor for a filetype identifier or alias.
func (r *Registry) Lookup(filetype string) (*Descriptor, bool) {
	d, ok := r.byName[strings.ToLower(strings.TrimSpace(filetype))]
	return d, ok
}

// Level returns the declared support level, Unsupported when unregistered.
func (r *Registry) Level(filetype string) Level {
	if d, ok := r.Lookup(filetype); ok {
		return d.Level
	}
	return Unsupported
}

// All returns every descriptor sorted by identifier.
func (r *Registry) All() []*Descriptor {
	return append([]*Descriptor(nil), r.all...)
}

// Override adjusts a registered descriptor before the server starts.
type Override struct {
	// Level may only lower the declared level.
	Level Level

	// Binaries replaces a step program, e.g. "python3" -> "/usr/bin/python3.12".
	Binaries map[string]string
}

// Apply applies an override. It must be called before the registry is
// shared with the job server.
func (r *Registry) Apply(filetype string, o Override) error {
	d, ok := r.Lookup(filetype)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filetype)
	}
	if o.Level != Unsupported {
		if o.Level > d.Level {
			return fmt.Errorf("language %q: cannot raise level from %s to %s", d.ID, d.Level, o.Level)
		}
		d.Level = o.Level
	}
	for from, to := range o.Binaries {
		for i := range d.Steps {
			if len(d.Steps[i].Args) > 0 && d.Steps[i].Args[0] == from {
				d.Steps[i].Args[0] = to
			}
		}
	}
	return nil
}
