// Package main provides the snip-runner CLI entry point.
//
// snip-runner is the execution backend of an editor plugin: it reads run,
// terminate and clean notifications on stdin, runs the selected code in a
// scratch workspace and writes results back to the editor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-snip-runner/internal/config"
	"github.com/randomizedcoder/go-snip-runner/internal/language"
	"github.com/randomizedcoder/go-snip-runner/internal/logging"
	"github.com/randomizedcoder/go-snip-runner/internal/metrics"
	"github.com/randomizedcoder/go-snip-runner/internal/orchestrator"
	"github.com/randomizedcoder/go-snip-runner/internal/preflight"
	"github.com/randomizedcoder/go-snip-runner/internal/session"
	"github.com/randomizedcoder/go-snip-runner/internal/tui"
	"github.com/randomizedcoder/go-snip-runner/internal/workspace"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/snip-runner
var version = "dev"

// monitorWindow is the span job rates are summarised over.
const monitorWindow = 60 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) > 1 && os.Args[1] == "monitor" {
		return runMonitor(os.Args[2:])
	}

	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 2
	}

	if cfg.Version {
		fmt.Printf("snip-runner %s\n", version)
		return 0
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	// stdout carries the rpc stream, so the backend logs to a file.
	logDir := cfg.SessionDir()
	if cfg.Check || cfg.PrintLanguages {
		logDir = ""
	}
	logFile, err := logging.OpenLogFile(logDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		return 1
	}
	defer logFile.Close()

	logger := logging.NewLogger(logFile, cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	logging.SetDefault(logger)

	orch, err := orchestrator.New(cfg, logger, orchestrator.Options{
		Version: version,
		Summary: logFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	switch {
	case cfg.PrintLanguages:
		printLanguages(orch.Registry())
		return 0
	case cfg.Check:
		return runCheck(cfg, orch.Registry(), orch.Workspace())
	}

	logger.Info("starting",
		"version", version,
		"session", cfg.Session,
		"session_dir", cfg.SessionDir(),
		"queue_size", cfg.QueueSize,
		"metrics_addr", cfg.MetricsAddr,
	)

	if err := orch.Run(context.Background()); err != nil {
		var running *session.AlreadyRunningError
		if errors.As(err, &running) {
			// The editor started a second backend for a live session.
			logger.Info("already_running", "session", running.Handle, "pid", running.PID)
			fmt.Fprintf(os.Stderr, "snip-runner: session %q is served by pid %d\n", running.Handle, running.PID)
			return 0
		}
		logger.Error("backend_failed", "error", err)
		fmt.Fprintf(os.Stderr, "snip-runner: %v\n", err)
		return 1
	}

	return 0
}

// runCheck runs the preflight checks and prints the results.
func runCheck(cfg *config.Config, reg *language.Registry, ws *workspace.Workspace) int {
	result := preflight.RunAll(preflight.Options{
		Workers:            cfg.Workers,
		Workspace:          ws.Check,
		Registry:           reg,
		FallbackConfigured: cfg.FallbackClientID != "" && cfg.FallbackSecret != "",
	})
	preflight.PrintResults(os.Stdout, result)
	if !result.Passed {
		return 1
	}
	return 0
}

// printLanguages lists every registered language with its level and the
// programs it runs.
func printLanguages(reg *language.Registry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LANGUAGE\tLEVEL\tALIASES\tPROGRAMS")
	for _, d := range reg.All() {
		var programs []string
		for _, s := range d.Steps {
			if len(s.Args) > 0 {
				programs = append(programs, s.Args[0])
			}
		}
		aliases := strings.Join(d.Aliases, ",")
		if aliases == "" {
			aliases = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Level, aliases, strings.Join(programs, " && "))
	}
	w.Flush()
}

// runMonitor shows a live dashboard for a running backend.
func runMonitor(args []string) int {
	mc, err := config.ParseMonitorFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 2
	}

	if mc.Addr == "" {
		fmt.Fprintln(os.Stderr, "monitor: -addr is required")
		return 2
	}

	url := metrics.StatusURL(mc.Addr)
	scraper := metrics.NewStatusScraper(url, mc.Interval, monitorWindow, logging.Discard())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	go scraper.Run(ctx)

	model := tui.New(tui.Config{
		MetricsURL: url,
		Source:     scraper,
		Interval:   mc.Interval / 2,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		return 1
	}
	return 0
}
