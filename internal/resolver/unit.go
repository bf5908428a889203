package resolver

import (
	"strings"

	"github.com/randomizedcoder/go-snip-runner/internal/language"
)

// Provenance records why a fragment is part of a Unit.
type Provenance int

const (
	ProvenanceSelection Provenance = iota
	ProvenanceImport
	ProvenanceFileScope
	ProvenanceProjectScope
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceSelection:
		return "selection"
	case ProvenanceImport:
		return "import"
	case ProvenanceFileScope:
		return "file-scope"
	case ProvenanceProjectScope:
		return "project-scope"
	default:
		return "unknown"
	}
}

// Fragment is one piece of source text with its origin.
type Fragment struct {
	Provenance Provenance
	Path       string
	Line       int
	Text       string
}

// SupportFile is an extra file written next to the main file, at a path
// relative to the language directory.
type SupportFile struct {
	RelPath string
	Content []byte
}

// Unit is everything needed to run a selection standalone. Fragments are
// ordered imports, file-scope definitions, project-scope definitions,
// then the selection.
type Unit struct {
	Language     string
	Level        language.Level
	SourceDir    string
	ProjectRoot  string
	Fragments    []Fragment
	SupportFiles []SupportFile
	Libraries    []string

	// Missing lists referenced names no definition was found for.
	Missing []string
}

// Text joins the fragments with the given provenances, in unit order.
func (u *Unit) Text(kinds ...Provenance) string {
	want := make(map[Provenance]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var parts []string
	for _, f := range u.Fragments {
		if want[f.Provenance] {
			parts = append(parts, f.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Imports returns the import block.
func (u *Unit) Imports() string { return u.Text(ProvenanceImport) }

// Definitions returns file-scope then project-scope definitions.
func (u *Unit) Definitions() string {
	return u.Text(ProvenanceFileScope, ProvenanceProjectScope)
}

// Code returns the selection.
func (u *Unit) Code() string { return u.Text(ProvenanceSelection) }

// Incomplete reports whether any referenced name stayed unresolved.
func (u *Unit) Incomplete() bool { return len(u.Missing) > 0 }
