// Package config provides configuration management for snip-runner.
//
// Values are layered: defaults, then the optional config file, then
// SNIPRUNNER_* environment variables, then flags given on the command line.
package config

import (
	"path/filepath"
	"time"

	"github.com/randomizedcoder/go-snip-runner/internal/fallback"
	"github.com/randomizedcoder/go-snip-runner/internal/jobserver"
	"github.com/randomizedcoder/go-snip-runner/internal/resolver"
	"github.com/randomizedcoder/go-snip-runner/internal/workspace"
)

// Config holds all configuration options for the backend.
type Config struct {
	// Session
	Session string `json:"session"`
	WorkDir string `json:"work_dir"` // "" = user cache dir

	// Execution
	QueueSize      int           `json:"queue_size"`
	RunTimeout     time.Duration `json:"run_timeout"` // 0 = none
	MaxOutputBytes int           `json:"max_output_bytes"`
	CleanSettle    time.Duration `json:"clean_settle"`
	Env            []string      `json:"env"`

	// Resolution
	MaxClimb           int      `json:"max_climb"`
	MaxFiles           int      `json:"max_files"`
	MaxDepth           int      `json:"max_depth"`
	Workers            int      `json:"workers"`
	SystemLibraryPaths []string `json:"system_library_paths"`

	// Per-language overrides, config file only.
	Languages map[string]LanguageOverride `json:"languages"`

	// Fallback delegate
	FallbackURL      string        `json:"fallback_url"`
	FallbackClientID string        `json:"fallback_client_id"`
	FallbackSecret   string        `json:"fallback_secret"`
	FallbackAttempts int           `json:"fallback_attempts"`
	FallbackTimeout  time.Duration `json:"fallback_timeout"`
	EnvFile          string        `json:"env_file"`

	// Retry policy for the delegate
	BackoffInitial  time.Duration `json:"backoff_initial"`
	BackoffMax      time.Duration `json:"backoff_max"`
	BackoffMultiply float64       `json:"backoff_multiply"`

	// Observability
	MetricsAddr string `json:"metrics_addr"` // "" = disabled
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
	LogLevel    string `json:"log_level"`

	// Diagnostic modes
	ConfigFile     string `json:"config_file"`
	Check          bool   `json:"check"`
	SkipPreflight  bool   `json:"skip_preflight"`
	PrintLanguages bool   `json:"print_languages"`
	Version        bool   `json:"version"`
}

// LanguageOverride lowers a language's level or replaces step binaries.
type LanguageOverride struct {
	Level    string            `json:"level"`
	Binaries map[string]string `json:"binaries"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	res := resolver.DefaultOptions()
	backoff := fallback.DefaultBackoffConfig()

	return &Config{
		Session: "default",

		// Execution
		QueueSize:      jobserver.DefaultQueueSize,
		RunTimeout:     0, // Until terminate
		MaxOutputBytes: 1 << 20,
		CleanSettle:    jobserver.DefaultCleanSettle,

		// Resolution
		MaxClimb: res.MaxClimb,
		MaxFiles: res.MaxFiles,
		MaxDepth: res.MaxDepth,
		Workers:  res.Workers,

		// Fallback
		FallbackURL:      fallback.DefaultBaseURL,
		FallbackAttempts: 3,
		FallbackTimeout:  30 * time.Second,

		BackoffInitial:  backoff.Initial,
		BackoffMax:      backoff.Max,
		BackoffMultiply: backoff.Multiplier,

		// Observability
		MetricsAddr: "127.0.0.1:17191",
		LogFormat:   "json",
		LogLevel:    "info",
	}
}

// SessionDir is the per-session state directory holding the log, the
// output file and the workspace.
func (c *Config) SessionDir() string {
	if c.WorkDir != "" {
		return c.WorkDir
	}
	return filepath.Join(workspace.DefaultRoot(), c.Session)
}

// WorkspaceDir is the part of SessionDir that clean wipes.
func (c *Config) WorkspaceDir() string {
	return filepath.Join(c.SessionDir(), "work")
}

// ResolverOptions maps the resolution settings.
func (c *Config) ResolverOptions() resolver.Options {
	opts := resolver.DefaultOptions()
	opts.MaxClimb = c.MaxClimb
	opts.MaxFiles = c.MaxFiles
	opts.MaxDepth = c.MaxDepth
	opts.Workers = c.Workers
	opts.SystemLibraryPaths = c.SystemLibraryPaths
	return opts
}

// FallbackConfig maps the delegate settings.
func (c *Config) FallbackConfig() fallback.Config {
	backoff := fallback.DefaultBackoffConfig()
	backoff.Initial = c.BackoffInitial
	backoff.Max = c.BackoffMax
	backoff.Multiplier = c.BackoffMultiply

	return fallback.Config{
		BaseURL:      c.FallbackURL,
		ClientID:     c.FallbackClientID,
		ClientSecret: c.FallbackSecret,
		MaxAttempts:  c.FallbackAttempts,
		Timeout:      c.FallbackTimeout,
		Backoff:      backoff,
	}
}
