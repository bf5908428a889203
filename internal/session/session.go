// Package session makes sure a single backend serves each session handle.
//
// Ownership is a pidfile named after the handle. A pidfile whose process is
// gone is stale and is taken over.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned by Acquire when a live backend owns the handle.
var ErrAlreadyRunning = errors.New("session already running")

// DirName is the pidfile directory under the user cache dir. It is kept
// apart from the work directory, which clean wipes.
const DirName = "snip-runner-sessions"

// AlreadyRunningError carries the owner's pid.
type AlreadyRunningError struct {
	Handle string
	PID    int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("session %q already running (pid %d)", e.Handle, e.PID)
}

func (e *AlreadyRunningError) Is(target error) bool { return target == ErrAlreadyRunning }

// DefaultDir returns the pidfile directory.
func DefaultDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, DirName)
	}
	return filepath.Join(os.TempDir(), DirName)
}

// Session is an acquired handle.
type Session struct {
	handle string
	path   string
	pid    int
	logger *slog.Logger
}

// Acquire claims handle for the current process.
func Acquire(dir, handle string, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if handle == "" || !filepath.IsLocal(handle) || strings.ContainsAny(handle, `/\`) {
		return nil, fmt.Errorf("invalid session handle %q", handle)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session dir: %w", err)
	}

	s := &Session{
		handle: handle,
		path:   filepath.Join(dir, handle+".pid"),
		pid:    os.Getpid(),
		logger: logger,
	}

	// Second pass only after a stale pidfile was removed.
	for attempt := 0; attempt < 2; attempt++ {
		err := s.create()
		if err == nil {
			logger.Debug("session_acquired", "handle", handle, "pid", s.pid, "path", s.path)
			return s, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("session pidfile: %w", err)
		}

		owner, err := readPID(s.path)
		if err == nil && owner != s.pid && alive(owner) {
			return nil, &AlreadyRunningError{Handle: handle, PID: owner}
		}
		logger.Info("session_stale_pidfile", "handle", handle, "pid", owner)
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale pidfile: %w", err)
		}
	}
	return nil, fmt.Errorf("session pidfile %s: contended", s.path)
}

func (s *Session) create() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(strconv.Itoa(s.pid) + "\n")
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(s.path)
	}
	return werr
}

// Handle returns the session handle.
func (s *Session) Handle() string { return s.handle }

// Path returns the pidfile path.
func (s *Session) Path() string { return s.path }

// Release removes the pidfile if this process still owns it. Safe to call
// more than once.
func (s *Session) Release() error {
	owner, err := readPID(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && owner != s.pid {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	s.logger.Debug("session_released", "handle", s.handle)
	return nil
}

// Owner reports the pid of the live backend owning handle, if any.
func Owner(dir, handle string) (int, bool) {
	pid, err := readPID(filepath.Join(dir, handle+".pid"))
	if err != nil || !alive(pid) {
		return 0, false
	}
	return pid, true
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pidfile %s", path)
	}
	return pid, nil
}

// alive probes pid with signal 0. EPERM means the process exists but
// belongs to someone else.
func alive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
