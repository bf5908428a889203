package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/randomizedcoder/go-snip-runner/internal/language"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error joining every problem found.
func Validate(cfg *Config) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// The handle names the pidfile
	if cfg.Session == "" || !filepath.IsLocal(cfg.Session) || strings.ContainsAny(cfg.Session, `/\`) {
		add("session", "must be a plain name (got %q)", cfg.Session)
	}

	if cfg.QueueSize < 1 {
		add("queue_size", "must be at least 1")
	}
	if cfg.RunTimeout < 0 {
		add("run_timeout", "must not be negative")
	}
	if cfg.MaxOutputBytes < 1024 {
		add("max_output_bytes", "must be at least 1024 (got %d)", cfg.MaxOutputBytes)
	}
	if cfg.CleanSettle < 0 {
		add("clean_settle", "must not be negative")
	}
	for _, kv := range cfg.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			add("env", "must be KEY=VALUE (got %q)", kv)
		}
	}

	// Resolution bounds
	if cfg.MaxClimb < 0 {
		add("max_climb", "must not be negative")
	}
	if cfg.MaxFiles < 1 {
		add("max_files", "must be at least 1")
	}
	if cfg.MaxDepth < 1 {
		add("max_depth", "must be at least 1")
	}
	if cfg.Workers < 1 {
		add("workers", "must be at least 1")
	}

	for name, o := range cfg.Languages {
		if o.Level == "" {
			continue
		}
		if _, err := language.ParseLevel(o.Level); err != nil {
			add("languages."+name+".level", "%v", err)
		}
	}

	// Fallback delegate, only when credentials make it usable
	if cfg.FallbackClientID != "" || cfg.FallbackSecret != "" {
		if cfg.FallbackClientID == "" || cfg.FallbackSecret == "" {
			add("fallback", "client id and secret must be set together")
		}
		if err := validateURL(cfg.FallbackURL); err != nil {
			add("fallback_url", "%v", err)
		}
	}
	if cfg.FallbackAttempts < 1 {
		add("fallback_attempts", "must be at least 1")
	}
	if cfg.FallbackTimeout <= 0 {
		add("fallback_timeout", "must be positive")
	}

	// Backoff settings
	if cfg.BackoffInitial <= 0 {
		add("backoff_initial", "must be positive")
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		add("backoff_max", "must be >= backoff_initial")
	}
	if cfg.BackoffMultiply < 1.0 {
		add("backoff_multiply", "must be >= 1.0")
	}

	// Observability
	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			add("metrics_addr", "%v", err)
		}
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		add("log_format", "must be 'json' or 'text' (got %q)", cfg.LogFormat)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(cfg.LogLevel)] {
		add("log_level", "must be debug, info, warn or error (got %q)", cfg.LogLevel)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// validateURL checks if the URL is valid and uses http or https.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https (got %q)", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must have a host")
	}

	return nil
}

// Overrides converts the language section into registry overrides.
func (c *Config) Overrides() (map[string]language.Override, error) {
	out := make(map[string]language.Override, len(c.Languages))
	for name, o := range c.Languages {
		var ov language.Override
		if o.Level != "" {
			lvl, err := language.ParseLevel(o.Level)
			if err != nil {
				return nil, ValidationError{Field: "languages." + name + ".level", Message: err.Error()}
			}
			ov.Level = lvl
		}
		ov.Binaries = o.Binaries
		out[name] = ov
	}
	return out, nil
}
