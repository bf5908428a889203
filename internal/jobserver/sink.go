package jobserver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/randomizedcoder/go-snip-runner/internal/fallback"
	"github.com/randomizedcoder/go-snip-runner/internal/language"
	"github.com/randomizedcoder/go-snip-runner/internal/resolver"
)

// OutputFileName is the file FileSink appends to inside the work dir.
const OutputFileName = "snip-runner.out"

// Render returns the text to present for r and whether it belongs on the
// error channel. Both captured streams are always shown, stdout first; a
// job that was killed or timed out keeps what it printed before it died.
func Render(r Result) (string, bool) {
	if r.Err != nil {
		return renderErr(r), true
	}
	out := r.Outcome
	if out == nil {
		return "", false
	}

	streams := joinNonEmpty(
		capped(out.Stdout, out.StdoutTruncated, "[output truncated]"),
		capped(out.Stderr, out.StderrTruncated, "[stderr truncated]"),
	)

	switch {
	case out.TimedOut:
		return joinNonEmpty(streams, "snip-runner: timed out"), true
	case out.Killed:
		return joinNonEmpty(streams, "snip-runner: job killed"), true
	case out.Status.Failed():
		if streams == "" {
			streams = fmt.Sprintf("snip-runner: %s stage exited with %d", out.Stage, out.ExitCode)
		}
		return streams, true
	}
	return streams, false
}

// capped right-trims one stream and appends marker when it was cut short.
func capped(text string, truncated bool, marker string) string {
	text = trimRight(text)
	if truncated {
		return joinNonEmpty(text, marker)
	}
	return text
}

func renderErr(r Result) string {
	err := r.Err
	switch {
	case errors.Is(err, language.ErrUnsupportedLanguage):
		return fmt.Sprintf("snip-runner: no handler for filetype %q", r.Request.Filetype)
	case errors.Is(err, resolver.ErrEmptySelection):
		return "snip-runner: nothing to run"
	case errors.Is(err, ErrBusy):
		return "snip-runner: busy, request dropped"
	case errors.Is(err, fallback.ErrDelegateFailed):
		return "snip-runner: remote interpreter failed: " + err.Error()
	default:
		return "snip-runner: " + err.Error()
	}
}

func trimRight(s string) string {
	return strings.TrimRight(s, " \t\r\n")
}

func joinNonEmpty(parts ...string) string {
	var keep []string
	for _, p := range parts {
		if p != "" {
			keep = append(keep, p)
		}
	}
	return strings.Join(keep, "\n")
}

// FileSink appends every result to a file a client can poll.
type FileSink struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewFileSink writes to <dir>/snip-runner.out.
func NewFileSink(dir string) *FileSink {
	return &FileSink{path: filepath.Join(dir, OutputFileName), now: time.Now}
}

// Path returns the output file path.
func (s *FileSink) Path() string { return s.path }

// Deliver appends one record. Write errors are dropped: the sink has no
// one to report them to.
func (s *FileSink) Deliver(r Result) {
	text, isErr := Render(r)

	status := "ok"
	switch {
	case isErr && r.Outcome != nil:
		status = r.Outcome.Status.String()
	case isErr:
		status = "error"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s %s %s %s\n", r.Request.ID, r.Request.Filetype, status, s.now().UTC().Format(time.RFC3339))
	if text != "" {
		b.WriteString(text)
		b.WriteString("\n")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(b.String())
}

// MultiSink fans a result out to several sinks in order.
type MultiSink []Sink

// Deliver calls every sink.
func (m MultiSink) Deliver(r Result) {
	for _, s := range m {
		s.Deliver(r)
	}
}

var _ Sink = (*FileSink)(nil)
var _ Sink = MultiSink(nil)
