// Package engine runs expanded build/run steps as child process groups and
// captures their output.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-snip-runner/internal/language"
	"github.com/randomizedcoder/go-snip-runner/internal/logging"
)

// ErrProcessSpawnFailed is returned when a step's binary cannot be started.
var ErrProcessSpawnFailed = errors.New("process spawn failed")

const (
	// DefaultMaxOutputBytes caps each captured stream.
	DefaultMaxOutputBytes = 1 << 20

	// DefaultWaitDelay bounds how long Wait keeps reading pipes after the
	// child was killed.
	DefaultWaitDelay = 2 * time.Second
)

// Config holds engine settings.
type Config struct {
	MaxOutputBytes int
	Timeout        time.Duration // 0 = no timeout
	WaitDelay      time.Duration
	Verbose        bool
	Env            []string // appended to the inherited environment
	Logger         *slog.Logger
}

// Job is one fully expanded run request.
type Job struct {
	ID       string
	Language string
	Dir      string
	Commands []language.Command
}

// Outcome is the captured result of a job.
type Outcome struct {
	JobID    string
	Language string

	Stdout   string
	Stderr   string
	ExitCode int
	Status   Status
	Stage    Stage
	Elapsed  time.Duration

	StdoutTruncated bool
	StderrTruncated bool
	Killed          bool
	TimedOut        bool

	// Fallback is set when the code ran on the remote delegate.
	Fallback bool
}

// Engine runs jobs. It is safe for concurrent use; the tracker is shared.
type Engine struct {
	cfg     Config
	tracker *Tracker
	logger  *slog.Logger
}

// New creates an Engine. A nil tracker gets a private one.
func New(cfg Config, tracker *Tracker) *Engine {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = DefaultWaitDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if tracker == nil {
		tracker = NewTracker(cfg.Logger, nil)
	}
	return &Engine{cfg: cfg, tracker: tracker, logger: cfg.Logger}
}

// Tracker returns the engine's process tracker.
func (e *Engine) Tracker() *Tracker { return e.tracker }

// Run executes job's commands in order. A compile step that fails stops the
// chain. Run returns only after every child it started has exited.
func (e *Engine) Run(ctx context.Context, job Job) (*Outcome, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	stdout := newCappedBuffer(e.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(e.cfg.MaxOutputBytes)
	stderrLog := logging.NewOutputHandler(job.ID, "stderr", e.logger, e.cfg.Verbose)

	var stdoutW io.Writer = stdout
	var stdoutLog *logging.OutputHandler
	if e.cfg.Verbose {
		stdoutLog = logging.NewOutputHandler(job.ID, "stdout", e.logger, true)
		stdoutW = io.MultiWriter(stdout, stdoutLog)
	}
	stderrW := io.MultiWriter(stderr, stderrLog)

	out := &Outcome{
		JobID:    job.ID,
		Language: job.Language,
		Status:   StatusOK,
		Stage:    StageRun,
	}

	defer func() {
		out.Killed = e.tracker.finish(job.ID) || out.Killed
	}()

	for i, c := range job.Commands {
		if len(c.Args) == 0 {
			continue
		}
		if c.Compile {
			out.Stage = StageCompile
		} else {
			out.Stage = StageRun
		}

		e.logger.Debug("step_started",
			"job_id", job.ID,
			"step", i,
			"stage", out.Stage,
			"program", c.Args[0],
		)

		exitCode, err := e.runStep(ctx, job, c, stdoutW, stderrW)
		if err != nil {
			return nil, err
		}
		out.ExitCode = exitCode

		if ctx.Err() != nil {
			out.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
			out.Killed = !out.TimedOut
		}

		if exitCode != 0 || ctx.Err() != nil {
			if c.Compile {
				out.Status = StatusCompileFailed
			} else {
				out.Status = StatusRuntimeFailed
			}
			e.logger.Info("step_failed",
				"job_id", job.ID,
				"stage", out.Stage,
				"exit_code", exitCode,
				"exit_label", exitCodeLabel(exitCode),
				"diagnostics", stderrLog.CountErrors(),
				"tail", stderrLog.RecentLines(5),
			)
			break
		}
	}

	if stdoutLog != nil {
		stdoutLog.Flush()
	}
	stderrLog.Flush()

	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	out.StdoutTruncated = stdout.truncated
	out.StderrTruncated = stderr.truncated
	out.Elapsed = time.Since(start)
	return out, nil
}

func (e *Engine) runStep(ctx context.Context, job Job, c language.Command, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = job.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	env := os.Environ()
	env = append(env, e.cfg.Env...)
	cmd.Env = append(env, c.Env...)

	// Own process group, so the whole tree can be killed at once
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = e.cfg.WaitDelay

	if err := cmd.Start(); err != nil {
		e.logger.Warn("failed_to_start_process",
			"job_id", job.ID,
			"program", c.Args[0],
			"error", err,
		)
		return 0, fmt.Errorf("%w: %s: %v", ErrProcessSpawnFailed, c.Args[0], err)
	}

	pid := cmd.Process.Pid
	e.tracker.add(job.ID, pid)
	err := cmd.Wait()
	e.tracker.remove(job.ID, pid)

	// Reap anything the step left behind in its group
	_ = killGroup(pid)

	return extractExitCode(err), nil
}

// extractExitCode returns the exit status, or 128+signal for a signalled
// child.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
