package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// stringList is a custom flag type for repeatable flags.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// ParseFlags parses command-line flags into a Config and returns the names
// of the flags that were set explicitly.
func ParseFlags(args []string, output io.Writer) (*Config, map[string]bool, error) {
	if output == nil {
		output = os.Stderr
	}
	cfg := DefaultConfig()
	var env, libPaths stringList

	fs := flag.NewFlagSet("snip-runner", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.Usage = func() {
		fmt.Fprintf(output, `snip-runner - run code snippets from an editor buffer

Usage:
  snip-runner [flags]
  snip-runner monitor [-addr host:port] [-interval 1s]

The backend speaks msgpack-rpc on stdin/stdout and accepts the notifications
run(firstLine, lastLine, scriptDir), terminate() and clean().

Session:
`)
		printFlagCategory(fs, output, []string{"session", "workdir"})

		fmt.Fprintf(output, "\nExecution:\n")
		printFlagCategory(fs, output, []string{"queue-size", "timeout", "max-output", "clean-settle", "env"})

		fmt.Fprintf(output, "\nContext Resolution:\n")
		printFlagCategory(fs, output, []string{"max-climb", "max-files", "max-depth", "workers", "lib-path"})

		fmt.Fprintf(output, "\nFallback Delegate:\n")
		printFlagCategory(fs, output, []string{"fallback-url", "fallback-attempts", "fallback-timeout", "env-file"})
		printFlagCategory(fs, output, []string{"backoff-initial", "backoff-max", "backoff-multiply"})

		fmt.Fprintf(output, "\nObservability:\n")
		printFlagCategory(fs, output, []string{"metrics", "v", "log-format", "log-level"})

		fmt.Fprintf(output, "\nDiagnostics:\n")
		printFlagCategory(fs, output, []string{"config", "check", "skip-preflight", "print-languages", "version"})

		fmt.Fprintf(output, `
Environment:
  SNIPRUNNER_<FIELD> overrides the config file, e.g. SNIPRUNNER_QUEUESIZE=32.
  JDOODLE_CLIENT_ID and JDOODLE_CLIENT_SECRET enable the fallback delegate.

Examples:
  # Started by the editor plugin
  snip-runner -session nvim-4242

  # Check toolchains and the work directory
  snip-runner --check

  # Watch a running backend
  snip-runner monitor -addr 127.0.0.1:17191

`)
	}

	// Session
	fs.StringVar(&cfg.Session, "session", cfg.Session, "Session handle; one backend runs per handle")
	fs.StringVar(&cfg.WorkDir, "workdir", cfg.WorkDir, "Work directory (default: user cache dir)")

	// Execution
	fs.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "Pending requests before new runs are rejected")
	fs.DurationVar(&cfg.RunTimeout, "timeout", cfg.RunTimeout, "Per-run timeout (0 = until terminate)")
	fs.IntVar(&cfg.MaxOutputBytes, "max-output", cfg.MaxOutputBytes, "Bytes captured per stream")
	fs.DurationVar(&cfg.CleanSettle, "clean-settle", cfg.CleanSettle, "Pause after clean before the next request")
	fs.Var(&env, "env", "Extra KEY=VALUE for child processes (can repeat)")

	// Resolution
	fs.IntVar(&cfg.MaxClimb, "max-climb", cfg.MaxClimb, "Parent directories searched for a project root")
	fs.IntVar(&cfg.MaxFiles, "max-files", cfg.MaxFiles, "Project files scanned per run")
	fs.IntVar(&cfg.MaxDepth, "max-depth", cfg.MaxDepth, "Directory depth scanned under the project root")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent file parsers")
	fs.Var(&libPaths, "lib-path", "System library directory (can repeat)")

	// Fallback
	fs.StringVar(&cfg.FallbackURL, "fallback-url", cfg.FallbackURL, "Remote interpreter API base URL")
	fs.IntVar(&cfg.FallbackAttempts, "fallback-attempts", cfg.FallbackAttempts, "Attempts per delegated run")
	fs.DurationVar(&cfg.FallbackTimeout, "fallback-timeout", cfg.FallbackTimeout, "Timeout per delegated request")
	fs.StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "dotenv file with delegate credentials")
	fs.DurationVar(&cfg.BackoffInitial, "backoff-initial", cfg.BackoffInitial, "First retry delay")
	fs.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "Largest retry delay")
	fs.Float64Var(&cfg.BackoffMultiply, "backoff-multiply", cfg.BackoffMultiply, "Retry delay multiplier")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, `Prometheus metrics address ("" disables)`)
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging, including child output")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)

	// Diagnostics (double-dash convention)
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "Config file (toml or yaml)")
	fs.BoolVar(&cfg.Check, "check", cfg.Check, "Run preflight checks and exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks at startup")
	fs.BoolVar(&cfg.PrintLanguages, "print-languages", cfg.PrintLanguages, "Print the language table and exit")
	fs.BoolVar(&cfg.Version, "version", cfg.Version, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	cfg.Env = env
	cfg.SystemLibraryPaths = libPaths

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	return cfg, set, nil
}

// MonitorConfig configures the monitor subcommand.
type MonitorConfig struct {
	Addr     string
	Interval time.Duration
}

// ParseMonitorFlags parses the arguments after "monitor".
func ParseMonitorFlags(args []string, output io.Writer) (*MonitorConfig, error) {
	def := DefaultConfig()
	mc := &MonitorConfig{Addr: def.MetricsAddr, Interval: time.Second}

	fs := flag.NewFlagSet("snip-runner monitor", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&mc.Addr, "addr", mc.Addr, "Metrics address of the backend")
	fs.DurationVar(&mc.Interval, "interval", mc.Interval, "Scrape interval")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if mc.Interval <= 0 {
		return nil, ValidationError{Field: "interval", Message: "must be positive"}
	}
	return mc, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" && f.DefValue != "[]" {
					fmt.Fprintf(w, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(w)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
