// Package language holds the static catalog of language descriptors and
// their declared support levels.
package language

import (
	"fmt"
	"strings"
)

// Level is an ordinal capability tier. Each level is a strict superset of
// the levels below it.
type Level int

const (
	// Unsupported languages can only be routed to the fallback delegate.
	Unsupported Level = iota

	// Line runs a single self-contained line.
	Line

	// Bloc runs any self-contained selection, independent of indentation.
	Bloc

	// Import also prepends top-of-file import/include statements.
	Import

	// File also appends definitions referenced from the same file.
	File

	// Project also pulls definitions from other files under the project root.
	Project

	// System also links local and system library artifacts.
	System
)

var levelNames = [...]string{
	Unsupported: "unsupported",
	Line:        "line",
	Bloc:        "bloc",
	Import:      "import",
	File:        "file",
	Project:     "project",
	System:      "system",
}

// String returns the lowercase level name.
func (l Level) String() string {
	if l < Unsupported || l > System {
		return "unknown"
	}
	return levelNames[l]
}

// AtLeast reports whether l provides the guarantees of other.
func (l Level) AtLeast(other Level) bool {
	return l >= other
}

// ParseLevel converts a level name (case-insensitive) to a Level.
// "block" is accepted as an alias for "bloc".
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "block" {
		name = "bloc"
	}
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return Unsupported, fmt.Errorf("unknown support level %q", s)
}
