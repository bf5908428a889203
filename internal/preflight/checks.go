// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"

	"github.com/randomizedcoder/go-snip-runner/internal/language"
)

// Note: syscall.RLIMIT_NPROC is not exported in Go's syscall package,
// so we read process limits from /proc/self/limits instead.

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options selects what RunAll inspects.
type Options struct {
	// Workers is the resolver scan parallelism.
	Workers int

	// Workspace probes the work dir. Nil skips the check.
	Workspace func() error

	// Registry lists the toolchains to look up. Nil skips the check.
	Registry *language.Registry

	// FallbackConfigured is true when delegate credentials are set.
	FallbackConfigured bool

	// LookPath defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 5),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkFileDescriptors(opts.Workers))
	add(checkProcessLimit())
	if opts.Workspace != nil {
		add(checkWorkspace(opts.Workspace))
	}
	if opts.Registry != nil {
		lookPath := opts.LookPath
		if lookPath == nil {
			lookPath = exec.LookPath
		}
		add(checkToolchains(opts.Registry, lookPath))
	}
	add(checkFallback(opts.FallbackConfigured))

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(workers int) Check {
	var limit syscall.Rlimit
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)

	// Each resolver worker holds a file open; a run holds three pipes plus
	// the log and rpc streams.
	if workers < 1 {
		workers = 1
	}
	required := workers*4 + 64
	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d workers)", actual, required, workers),
	}
}

// checkProcessLimit verifies a compile-and-run chain can fork.
func checkProcessLimit() Check {
	const required = 32

	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := parseMaxProcesses(string(data))
	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// parseMaxProcesses reads the soft limit from a /proc/self/limits body.
func parseMaxProcesses(limits string) int {
	for _, line := range strings.Split(limits, "\n") {
		if !strings.HasPrefix(line, "Max processes") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return 0
		}
		if fields[2] == "unlimited" {
			return 1000000
		}
		var n int
		fmt.Sscanf(fields[2], "%d", &n)
		return n
	}
	return 0
}

// checkWorkspace verifies the work dir is writable.
func checkWorkspace(probe func() error) Check {
	if err := probe(); err != nil {
		return Check{
			Name:    "workspace",
			Passed:  false,
			Message: err.Error(),
		}
	}
	return Check{
		Name:    "workspace",
		Passed:  true,
		Message: "writable",
	}
}

// checkToolchains looks up every program the registry invokes. Missing
// toolchains only warn: those languages fail at run time with the
// interpreter's own error.
func checkToolchains(reg *language.Registry, lookPath func(string) (string, error)) Check {
	var found, total int
	missing := make(map[string][]string)

	for _, desc := range reg.All() {
		for _, prog := range desc.Programs() {
			total++
			if _, err := lookPath(prog); err != nil {
				missing[prog] = append(missing[prog], desc.ID)
				continue
			}
			found++
		}
	}

	if len(missing) == 0 {
		return Check{
			Name:    "toolchains",
			Passed:  true,
			Message: fmt.Sprintf("%d/%d programs found", found, total),
		}
	}

	progs := make([]string, 0, len(missing))
	for p := range missing {
		progs = append(progs, p)
	}
	sort.Strings(progs)
	parts := make([]string, 0, len(progs))
	for _, p := range progs {
		parts = append(parts, fmt.Sprintf("%s (%s)", p, strings.Join(missing[p], ", ")))
	}

	return Check{
		Name:    "toolchains",
		Passed:  true,
		Warning: true,
		Message: fmt.Sprintf("%d/%d programs found; missing %s", found, total, strings.Join(parts, "; ")),
	}
}

// checkFallback warns when unknown filetypes cannot be delegated.
func checkFallback(configured bool) Check {
	if configured {
		return Check{Name: "fallback", Passed: true, Message: "credentials set"}
	}
	return Check{
		Name:    "fallback",
		Passed:  true,
		Warning: true,
		Message: "no credentials; unknown filetypes will be rejected",
	}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed || check.Warning {
			if fix := suggestFix(check.Name); fix != "" {
				fmt.Fprintf(w, "    Fix: %s\n", fix)
			}
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "workspace":
		return "pick a writable directory with -workdir"
	case "toolchains":
		return "install the missing programs or override them under [languages.<name>] binaries"
	case "fallback":
		return "set JDOODLE_CLIENT_ID and JDOODLE_CLIENT_SECRET (or -env-file)"
	default:
		return ""
	}
}
