// Package jobserver accepts run, terminate and clean requests and owns the
// single pipeline that resolves, materializes and executes code.
//
// Run and Clean are applied by one worker goroutine in receipt order.
// Terminate bypasses the queue: it kills every tracked process group and
// exits the process.
package jobserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/randomizedcoder/go-snip-runner/internal/engine"
	"github.com/randomizedcoder/go-snip-runner/internal/language"
	"github.com/randomizedcoder/go-snip-runner/internal/resolver"
	"github.com/randomizedcoder/go-snip-runner/internal/workspace"
)

var (
	// ErrBusy is reported when the queue is full.
	ErrBusy = errors.New("job queue full")

	// ErrStopped is returned after Shutdown.
	ErrStopped = errors.New("job server stopped")
)

const (
	DefaultQueueSize   = 16
	DefaultCleanSettle = 300 * time.Millisecond
)

// Config wires the server to its components. Registry, Resolver,
// Workspace, Engine and Sink are required.
type Config struct {
	QueueSize   int
	CleanSettle time.Duration

	Registry  *language.Registry
	Resolver  Resolver
	Workspace *workspace.Workspace
	Engine    *engine.Engine
	Delegate  Delegate
	Sink      Sink
	Recorder  Recorder
	Logger    *slog.Logger

	// OnTerminate runs after every process group was killed and before
	// Exit; used to flush logs and release the session.
	OnTerminate func()
	Exit        func(code int)
}

type taskKind int

const (
	taskRun taskKind = iota
	taskClean
)

type task struct {
	kind   taskKind
	req    Request
	ctx    context.Context
	cancel context.CancelFunc
}

// Server is the job server.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	recorder Recorder
	exit     func(int)

	queue chan task

	// wsMu is held across Materialize, Run and Clean.
	wsMu sync.Mutex

	mu       sync.Mutex
	jobs     map[string]context.CancelFunc
	baseCtx  context.Context
	stopBase context.CancelFunc
	stopped  bool
	done     chan struct{}

	accepted  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	cleans    atomic.Uint64
}

// New validates cfg and creates a stopped Server.
func New(cfg Config) (*Server, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("jobserver: registry is required")
	case cfg.Resolver == nil:
		return nil, errors.New("jobserver: resolver is required")
	case cfg.Workspace == nil:
		return nil, errors.New("jobserver: workspace is required")
	case cfg.Engine == nil:
		return nil, errors.New("jobserver: engine is required")
	case cfg.Sink == nil:
		return nil, errors.New("jobserver: sink is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.CleanSettle < 0 {
		cfg.CleanSettle = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	exit := cfg.Exit
	if exit == nil {
		exit = os.Exit
	}

	return &Server{
		cfg:      cfg,
		logger:   cfg.Logger,
		recorder: recorder,
		exit:     exit,
		queue:    make(chan task, cfg.QueueSize),
		jobs:     make(map[string]context.CancelFunc),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the worker. Jobs inherit ctx.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx, s.stopBase = context.WithCancel(ctx)
	base := s.baseCtx
	s.mu.Unlock()

	go s.worker(base)
	s.logger.Info("job_server_started",
		"queue_size", s.cfg.QueueSize,
		"workspace", s.cfg.Workspace.Root(),
	)
}

// Run validates and enqueues req and returns its job ID. Unsupported
// languages are rejected here, before any process or workspace access.
func (s *Server) Run(req Request) (string, error) {
	if req.ID == "" {
		req.ID = xid.New().String()
	}
	if req.Received.IsZero() {
		req.Received = time.Now()
	}

	if !s.canHandle(req.Filetype) {
		err := fmt.Errorf("%w: %q", language.ErrUnsupportedLanguage, req.Filetype)
		s.reject(req, "unsupported", err)
		return req.ID, err
	}

	s.mu.Lock()
	if s.stopped || s.baseCtx == nil {
		s.mu.Unlock()
		s.reject(req, "stopped", ErrStopped)
		return req.ID, ErrStopped
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	t := task{kind: taskRun, req: req, ctx: ctx, cancel: cancel}
	select {
	case s.queue <- t:
		s.jobs[req.ID] = cancel
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		cancel()
		s.reject(req, "busy", ErrBusy)
		return req.ID, ErrBusy
	}

	s.accepted.Add(1)
	s.recorder.QueueDepth(len(s.queue))
	s.logger.Debug("job_queued",
		"job_id", req.ID,
		"filetype", req.Filetype,
		"file", req.File,
		"lines", fmt.Sprintf("%d-%d", req.FirstLine, req.LastLine),
		"script_dir", req.ScriptDir,
	)
	return req.ID, nil
}

// Clean enqueues a workspace wipe behind every queued run.
func (s *Server) Clean() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.baseCtx == nil {
		return ErrStopped
	}
	select {
	case s.queue <- task{kind: taskClean}:
		s.recorder.QueueDepth(len(s.queue))
		return nil
	default:
		s.rejected.Add(1)
		s.recorder.JobRejected("busy")
		return ErrBusy
	}
}

// Cancel stops one queued or running job.
func (s *Server) Cancel(jobID string) bool {
	s.mu.Lock()
	cancel, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	s.cfg.Engine.Tracker().Kill(jobID)
	return true
}

// Terminate kills every running job and exits the process with status 0.
// It never waits on the worker.
func (s *Server) Terminate() {
	s.logger.Info("terminate_requested", "active_processes", s.cfg.Engine.Tracker().Len())
	s.cancelAll()
	// A child started but not yet tracked is killed when it registers.
	killed := s.cfg.Engine.Tracker().KillAll()
	s.logger.Info("terminated", "killed_groups", killed)
	if s.cfg.OnTerminate != nil {
		s.cfg.OnTerminate()
	}
	s.exit(0)
}

// Shutdown stops accepting work, kills running jobs and waits for the
// worker to exit or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelAll()
	s.cfg.Engine.Tracker().KillAll()

	s.mu.Lock()
	started := s.baseCtx != nil
	s.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-s.done:
		s.logger.Info("job_server_stopped",
			"completed", s.completed.Load(),
			"failed", s.failed.Load(),
			"rejected", s.rejected.Load(),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Queued:          len(s.queue),
		Accepted:        s.accepted.Load(),
		Completed:       s.completed.Load(),
		Failed:          s.failed.Load(),
		Rejected:        s.rejected.Load(),
		Cleans:          s.cleans.Load(),
		ActiveProcesses: s.cfg.Engine.Tracker().Len(),
	}
}

func (s *Server) cancelAll() {
	s.mu.Lock()
	s.stopped = true
	if s.stopBase != nil {
		s.stopBase()
	}
	for _, cancel := range s.jobs {
		cancel()
	}
	s.mu.Unlock()
}

func (s *Server) canHandle(filetype string) bool {
	if _, ok := s.cfg.Registry.Lookup(filetype); ok {
		return true
	}
	return s.cfg.Delegate != nil && s.cfg.Delegate.Supports(filetype)
}

func (s *Server) reject(req Request, reason string, err error) {
	s.rejected.Add(1)
	s.recorder.JobRejected(reason)
	s.logger.Info("job_rejected",
		"job_id", req.ID,
		"filetype", req.Filetype,
		"reason", reason,
	)
	s.cfg.Sink.Deliver(Result{Request: req, Err: err})
}

func (s *Server) worker(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case t := <-s.queue:
			s.recorder.QueueDepth(len(s.queue))
			switch t.kind {
			case taskRun:
				s.execute(t)
			case taskClean:
				s.clean(ctx)
			}
		}
	}
}

// drain cancels every task still queued at shutdown.
func (s *Server) drain() {
	for {
		select {
		case t := <-s.queue:
			if t.kind == taskRun {
				t.cancel()
				s.forget(t.req.ID)
				s.cfg.Sink.Deliver(Result{Request: t.req, Err: ErrStopped})
			}
		default:
			return
		}
	}
}

func (s *Server) forget(jobID string) {
	s.mu.Lock()
	delete(s.jobs, jobID)
	s.mu.Unlock()
}

func (s *Server) clean(ctx context.Context) {
	s.wsMu.Lock()
	err := s.cfg.Workspace.Clean()
	s.wsMu.Unlock()

	if err != nil {
		s.logger.Error("workspace_clean_failed", "error", err)
	} else {
		s.cleans.Add(1)
		s.recorder.WorkspaceCleaned()
	}

	// Settle before the next request so a restarted client sees a fresh tree
	if s.cfg.CleanSettle > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(s.cfg.CleanSettle):
		}
	}
}

func (s *Server) execute(t task) {
	defer t.cancel()
	defer s.forget(t.req.ID)

	req := t.req
	logger := s.logger.With("job_id", req.ID, "filetype", req.Filetype)

	if err := t.ctx.Err(); err != nil {
		s.finish(req, nil, fmt.Errorf("job cancelled before start: %w", err))
		return
	}

	logger.Info("job_started", "file", req.File, "first_line", req.FirstLine, "last_line", req.LastLine)

	desc, ok := s.cfg.Registry.Lookup(req.Filetype)
	if !ok {
		s.executeFallback(t, logger)
		return
	}

	unit, err := s.cfg.Resolver.Resolve(t.ctx, resolver.Request{
		File:      req.File,
		FirstLine: req.FirstLine,
		LastLine:  req.LastLine,
	}, desc)
	if err != nil {
		s.finish(req, nil, err)
		return
	}
	if unit.Incomplete() {
		s.recorder.ResolutionMiss(desc.ID, len(unit.Missing))
	}

	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	files, err := s.cfg.Workspace.Materialize(desc, unit)
	if err != nil {
		s.finish(req, nil, err)
		return
	}

	job := engine.Job{
		ID:       req.ID,
		Language: desc.ID,
		Dir:      files.Dir,
		Commands: desc.Expand(templateVars(files, unit)),
	}
	out, err := s.cfg.Engine.Run(t.ctx, job)
	s.finish(req, out, err)
}

func (s *Server) executeFallback(t task, logger *slog.Logger) {
	req := t.req
	unit, err := s.cfg.Resolver.Resolve(t.ctx, resolver.Request{
		File:      req.File,
		FirstLine: req.FirstLine,
		LastLine:  req.LastLine,
	}, language.Generic(req.Filetype))
	if err != nil {
		s.finish(req, nil, err)
		return
	}

	logger.Debug("fallback_selected")
	out, err := s.cfg.Delegate.Execute(t.ctx, req.ID, req.Filetype, unit.Code())
	s.finish(req, out, err)
}

func (s *Server) finish(req Request, out *engine.Outcome, err error) {
	elapsed := time.Since(req.Received)
	if err != nil {
		s.failed.Add(1)
		s.recorder.JobFinished(req.Filetype, "error", elapsed, false)
		s.logger.Warn("job_failed",
			"job_id", req.ID,
			"filetype", req.Filetype,
			"error", err,
		)
		s.cfg.Sink.Deliver(Result{Request: req, Err: err})
		return
	}

	s.completed.Add(1)
	s.recorder.JobFinished(out.Language, out.Status.String(), out.Elapsed, out.Fallback)
	s.logger.Info("job_finished",
		"job_id", req.ID,
		"language", out.Language,
		"status", out.Status.String(),
		"stage", out.Stage,
		"exit_code", out.ExitCode,
		"elapsed", out.Elapsed,
		"fallback", out.Fallback,
		"killed", out.Killed,
		"stdout_truncated", out.StdoutTruncated,
	)
	s.cfg.Sink.Deliver(Result{Request: req, Outcome: out})
}

// templateVars builds the values for step placeholders.
func templateVars(files workspace.Files, unit *resolver.Unit) map[string]string {
	project := unit.ProjectRoot
	if project == "" {
		project = unit.SourceDir
	}
	classpath := append([]string{files.Dir}, unit.Libraries...)
	return map[string]string{
		"dir":       files.Dir,
		"main":      files.Main,
		"bin":       filepath.Join(files.Dir, "main"),
		"project":   project,
		"src":       unit.SourceDir,
		"classpath": strings.Join(classpath, string(os.PathListSeparator)),
		"libs":      strings.Join(unit.Libraries, " "),
	}
}
