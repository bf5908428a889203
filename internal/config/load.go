package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/traefik/paerser/env"
	"github.com/traefik/paerser/file"
	"github.com/traefik/paerser/types"
)

// EnvPrefix is the prefix of environment variables decoded into FileConfig.
const EnvPrefix = "SNIPRUNNER_"

// Credential variables for the fallback delegate, also read from -env-file.
const (
	ClientIDEnv     = "JDOODLE_CLIENT_ID"
	ClientSecretEnv = "JDOODLE_CLIENT_SECRET"
)

// FileConfig is the part of Config that a config file or SNIPRUNNER_*
// variables may set. Durations accept "10s" or a number of seconds.
type FileConfig struct {
	Session        string
	WorkDir        string
	QueueSize      int
	RunTimeout     types.Duration
	MaxOutputBytes int
	CleanSettle    types.Duration
	Env            []string

	Resolver  *ResolverSection
	Fallback  *FallbackSection
	Languages map[string]*LanguageSection

	MetricsAddr string
	Verbose     bool
	LogFormat   string
	LogLevel    string
}

// ResolverSection holds context resolution bounds.
type ResolverSection struct {
	MaxClimb           int
	MaxFiles           int
	MaxDepth           int
	Workers            int
	SystemLibraryPaths []string
}

// FallbackSection holds delegate settings. Secrets belong in the env file.
type FallbackSection struct {
	URL         string
	ClientID    string
	MaxAttempts int
	Timeout     types.Duration
}

// LanguageSection overrides one registered language.
type LanguageSection struct {
	Level    string
	Binaries map[string]string
}

// Load parses args, then layers the config file and environment beneath any
// flag given explicitly.
func Load(args []string, output io.Writer) (*Config, error) {
	cfg, set, err := ParseFlags(args, output)
	if err != nil {
		return nil, err
	}

	if cfg.EnvFile != "" {
		if err := godotenv.Load(cfg.EnvFile); err != nil {
			return nil, fmt.Errorf("env file %s: %w", cfg.EnvFile, err)
		}
	}

	var fc FileConfig
	if cfg.ConfigFile != "" {
		if err := file.Decode(cfg.ConfigFile, &fc); err != nil {
			return nil, fmt.Errorf("config file %s: %w", cfg.ConfigFile, err)
		}
	}
	if err := decodeEnv(os.Environ(), &fc); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	fc.apply(cfg, set)

	if cfg.FallbackClientID == "" {
		cfg.FallbackClientID = os.Getenv(ClientIDEnv)
	}
	if cfg.FallbackSecret == "" {
		cfg.FallbackSecret = os.Getenv(ClientSecretEnv)
	}

	return cfg, nil
}

func decodeEnv(environ []string, fc *FileConfig) error {
	vars := env.FindPrefixedEnvVars(environ, EnvPrefix, fc)
	if len(vars) == 0 {
		return nil
	}
	return env.Decode(vars, EnvPrefix, fc)
}

// apply copies non-zero values whose flag was not given.
func (fc *FileConfig) apply(cfg *Config, set map[string]bool) {
	str := func(flagName string, dst *string, v string) {
		if v != "" && !set[flagName] {
			*dst = v
		}
	}
	num := func(flagName string, dst *int, v int) {
		if v != 0 && !set[flagName] {
			*dst = v
		}
	}
	dur := func(flagName string, dst *time.Duration, v types.Duration) {
		if v != 0 && !set[flagName] {
			*dst = time.Duration(v)
		}
	}

	str("session", &cfg.Session, fc.Session)
	str("workdir", &cfg.WorkDir, fc.WorkDir)
	num("queue-size", &cfg.QueueSize, fc.QueueSize)
	dur("timeout", &cfg.RunTimeout, fc.RunTimeout)
	num("max-output", &cfg.MaxOutputBytes, fc.MaxOutputBytes)
	dur("clean-settle", &cfg.CleanSettle, fc.CleanSettle)
	if len(fc.Env) > 0 && !set["env"] {
		cfg.Env = fc.Env
	}

	if r := fc.Resolver; r != nil {
		num("max-climb", &cfg.MaxClimb, r.MaxClimb)
		num("max-files", &cfg.MaxFiles, r.MaxFiles)
		num("max-depth", &cfg.MaxDepth, r.MaxDepth)
		num("workers", &cfg.Workers, r.Workers)
		if len(r.SystemLibraryPaths) > 0 && !set["lib-path"] {
			cfg.SystemLibraryPaths = r.SystemLibraryPaths
		}
	}

	if f := fc.Fallback; f != nil {
		str("fallback-url", &cfg.FallbackURL, f.URL)
		str("", &cfg.FallbackClientID, f.ClientID)
		num("fallback-attempts", &cfg.FallbackAttempts, f.MaxAttempts)
		dur("fallback-timeout", &cfg.FallbackTimeout, f.Timeout)
	}

	if len(fc.Languages) > 0 {
		cfg.Languages = make(map[string]LanguageOverride, len(fc.Languages))
		for name, l := range fc.Languages {
			if l == nil {
				continue
			}
			cfg.Languages[name] = LanguageOverride{Level: l.Level, Binaries: l.Binaries}
		}
	}

	str("metrics", &cfg.MetricsAddr, fc.MetricsAddr)
	if fc.Verbose && !set["v"] {
		cfg.Verbose = true
	}
	str("log-format", &cfg.LogFormat, fc.LogFormat)
	str("log-level", &cfg.LogLevel, fc.LogLevel)
}
