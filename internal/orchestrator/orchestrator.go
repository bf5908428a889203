// Package orchestrator wires the backend components together and runs them
// until the editor disconnects, a signal arrives or terminate is requested.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-snip-runner/internal/config"
	"github.com/randomizedcoder/go-snip-runner/internal/engine"
	"github.com/randomizedcoder/go-snip-runner/internal/fallback"
	"github.com/randomizedcoder/go-snip-runner/internal/jobserver"
	"github.com/randomizedcoder/go-snip-runner/internal/language"
	"github.com/randomizedcoder/go-snip-runner/internal/metrics"
	"github.com/randomizedcoder/go-snip-runner/internal/preflight"
	"github.com/randomizedcoder/go-snip-runner/internal/resolver"
	"github.com/randomizedcoder/go-snip-runner/internal/rpc"
	"github.com/randomizedcoder/go-snip-runner/internal/session"
	"github.com/randomizedcoder/go-snip-runner/internal/stats"
	"github.com/randomizedcoder/go-snip-runner/internal/workspace"
)

// ShutdownTimeout bounds the wait for the worker and metrics server.
const ShutdownTimeout = 10 * time.Second

// Options holds what the command line does not configure.
type Options struct {
	Version string

	// Stdin and Stdout carry the editor rpc stream.
	Stdin  io.Reader
	Stdout io.WriteCloser

	// Summary receives the exit summary. Nil discards it.
	Summary io.Writer

	// SessionDir holds pidfiles; "" uses session.DefaultDir().
	SessionDir string

	// Registry isolates metrics; nil uses the default registry.
	Registry *prometheus.Registry

	// Exit is called after terminate; nil uses os.Exit.
	Exit func(code int)
}

// Orchestrator coordinates all components of one backend.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger
	opts   Options

	registry      *language.Registry
	resolver      *resolver.Resolver
	workspace     *workspace.Workspace
	engine        *engine.Engine
	delegate      *fallback.Adapter
	output        *jobserver.FileSink
	metrics       *metrics.Collector
	metricsServer *metrics.Server // nil when disabled

	jobs    *jobserver.Server
	session *session.Session

	startTime  time.Time
	finishOnce sync.Once
}

// New builds every component from cfg. Nothing is started.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Summary == nil {
		opts.Summary = io.Discard
	}
	if opts.SessionDir == "" {
		opts.SessionDir = session.DefaultDir()
	}

	registry := language.Default()
	overrides, err := cfg.Overrides()
	if err != nil {
		return nil, err
	}
	for name, o := range overrides {
		if err := registry.Apply(name, o); err != nil {
			return nil, fmt.Errorf("language override %q: %w", name, err)
		}
	}

	collectorCfg := metrics.CollectorConfig{
		Version: opts.Version,
		Session: cfg.Session,
		Window:  stats.DefaultWindow,
	}
	var collector *metrics.Collector
	var gatherer prometheus.Gatherer
	if opts.Registry != nil {
		collector = metrics.NewCollectorWithRegistry(collectorCfg, opts.Registry)
		gatherer = opts.Registry
	} else {
		collector = metrics.NewCollector(collectorCfg)
	}

	tracker := engine.NewTracker(logger, collector.SetActiveProcesses)
	eng := engine.New(engine.Config{
		MaxOutputBytes: cfg.MaxOutputBytes,
		Timeout:        cfg.RunTimeout,
		Verbose:        cfg.Verbose,
		Env:            cfg.Env,
		Logger:         logger,
	}, tracker)

	resOpts := cfg.ResolverOptions()
	resOpts.Logger = logger

	fbCfg := cfg.FallbackConfig()
	fbCfg.Logger = logger

	o := &Orchestrator{
		config:    cfg,
		logger:    logger,
		opts:      opts,
		registry:  registry,
		resolver:  resolver.New(resOpts),
		workspace: workspace.New(cfg.WorkspaceDir(), logger),
		engine:    eng,
		delegate:  fallback.New(fbCfg),
		output:    jobserver.NewFileSink(cfg.SessionDir()),
		metrics:   collector,
	}

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(metrics.ServerConfig{
			Addr:         cfg.MetricsAddr,
			Gatherer:     gatherer,
			Ready:        o.workspace.Check,
			BeforeScrape: collector.Refresh,
		}, logger)
	}

	return o, nil
}

// Run serves the editor. It blocks until the stream closes, a signal
// arrives or ctx is done. A live backend on the same session makes Run
// return an error matching session.ErrAlreadyRunning.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	sess, err := session.Acquire(o.opts.SessionDir, o.config.Session, o.logger)
	if err != nil {
		return err
	}
	o.session = sess

	if !o.config.SkipPreflight {
		if err := o.preflight(); err != nil {
			o.releaseSession()
			return err
		}
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			o.releaseSession()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	conn, err := rpc.Dial(o.opts.Stdin, o.opts.Stdout, o.opts.Stdout, o.logger)
	if err != nil {
		o.finish()
		return err
	}

	jobs, err := jobserver.New(jobserver.Config{
		QueueSize:   o.config.QueueSize,
		CleanSettle: o.config.CleanSettle,
		Registry:    o.registry,
		Resolver:    o.resolver,
		Workspace:   o.workspace,
		Engine:      o.engine,
		Delegate:    o.delegate,
		Sink:        jobserver.MultiSink{rpc.NewSink(conn, o.logger), o.output},
		Recorder:    o.metrics,
		Logger:      o.logger,
		OnTerminate: o.finish,
		Exit:        o.opts.Exit,
	})
	if err != nil {
		o.finish()
		return err
	}
	o.jobs = jobs

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	jobs.Start(ctx)

	if err := conn.Register(rpc.NewHandlers(jobs, conn, o.logger)); err != nil {
		o.finish()
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- conn.Serve()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	o.logger.Info("backend_ready",
		"session", o.config.Session,
		"pid", os.Getpid(),
		"workspace", o.workspace.Root(),
		"output", o.output.Path(),
		"languages", len(o.registry.All()),
		"fallback", o.delegate.Enabled(),
		"metrics", o.MetricsAddr(),
	)

	select {
	case sig := <-sigCh:
		o.logger.Info("received_signal", "signal", sig.String())
	case err := <-serveErr:
		// The editor closing the stream is the normal way a backend ends.
		o.logger.Info("editor_disconnected", "error", err)
	case <-ctx.Done():
		o.logger.Info("context_cancelled")
	}

	cancel()
	conn.Close()
	o.finish()

	return nil
}

// preflight logs every check and fails on the required ones.
func (o *Orchestrator) preflight() error {
	result := preflight.RunAll(preflight.Options{
		Workers:            o.config.Workers,
		Workspace:          o.workspace.Check,
		Registry:           o.registry,
		FallbackConfigured: o.delegate.Enabled(),
	})
	for _, c := range result.Checks {
		level := slog.LevelDebug
		switch {
		case !c.Passed:
			level = slog.LevelError
		case c.Warning:
			level = slog.LevelWarn
		}
		o.logger.Log(context.Background(), level, "preflight_check",
			"name", c.Name,
			"passed", c.Passed,
			"message", c.Message,
		)
	}
	if !result.Passed {
		return fmt.Errorf("preflight checks failed (use -skip-preflight to override)")
	}
	return nil
}

// finish stops the worker and the metrics server, writes the exit summary
// and releases the session. Only the first call does anything.
func (o *Orchestrator) finish() {
	o.finishOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		if o.jobs != nil {
			if err := o.jobs.Shutdown(ctx); err != nil {
				o.logger.Warn("shutdown_incomplete", "error", err)
			}
		}
		if o.metricsServer != nil {
			if err := o.metricsServer.Shutdown(ctx); err != nil {
				o.logger.Warn("metrics_server_shutdown_error", "error", err)
			}
		}

		o.writeExitSummary()
		o.releaseSession()
	})
}

func (o *Orchestrator) releaseSession() {
	if o.session == nil {
		return
	}
	if err := o.session.Release(); err != nil {
		o.logger.Warn("session_release_failed", "error", err)
	}
}

func (o *Orchestrator) writeExitSummary() {
	summary := o.metrics.Summary()
	o.logger.Info("exit_summary",
		"jobs", summary.TotalJobs,
		"ok", summary.TotalOK,
		"failed", summary.TotalFailed,
		"errors", summary.TotalErrors,
		"fallback", summary.TotalFallback,
		"cleans", summary.Cleans,
		"peak_active_processes", summary.PeakActiveProcesses,
	)

	fmt.Fprint(o.opts.Summary, stats.FormatExitSummary(summary, stats.SummaryConfig{
		Session:        o.config.Session,
		Duration:       time.Since(o.startTime),
		WorkDir:        o.workspace.Root(),
		MetricsAddr:    o.MetricsAddr(),
		MaxOutputBytes: int64(o.config.MaxOutputBytes),
	}))
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (o *Orchestrator) MetricsAddr() string {
	if o.metricsServer == nil {
		return ""
	}
	return o.metricsServer.Addr()
}

// Registry returns the language registry after overrides.
func (o *Orchestrator) Registry() *language.Registry {
	return o.registry
}

// Workspace returns the workspace.
func (o *Orchestrator) Workspace() *workspace.Workspace {
	return o.workspace
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}
