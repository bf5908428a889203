package logging

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept per stream.
	MaxBufferedLines = 100
)

// OutputHandler mirrors a child process stream into the log, one record per
// line, and keeps the most recent lines for failure summaries.
// It is an io.Writer so it can sit next to the captured output buffer.
type OutputHandler struct {
	jobID   string
	stream  string
	logger  *slog.Logger
	verbose bool

	mu      sync.Mutex
	pending []byte

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
}

// NewOutputHandler creates a handler for one stream ("stdout" or "stderr")
// of one job.
func NewOutputHandler(jobID, stream string, logger *slog.Logger, verbose bool) *OutputHandler {
	return &OutputHandler{
		jobID:   jobID,
		stream:  stream,
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// Write splits p into lines. A trailing partial line is held until the
// next Write or Flush.
func (h *OutputHandler) Write(p []byte) (int, error) {
	h.mu.Lock()
	h.pending = append(h.pending, p...)
	var lines []string
	for {
		i := bytes.IndexByte(h.pending, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimRight(string(h.pending[:i]), "\r"))
		h.pending = h.pending[i+1:]
	}
	if len(h.pending) > MaxLineLength {
		lines = append(lines, string(h.pending))
		h.pending = nil
	}
	h.mu.Unlock()

	for _, line := range lines {
		h.HandleLine(line)
	}
	return len(p), nil
}

// Flush emits any held partial line.
func (h *OutputHandler) Flush() {
	h.mu.Lock()
	rest := h.pending
	h.pending = nil
	h.mu.Unlock()
	if len(rest) > 0 {
		h.HandleLine(string(rest))
	}
}

// HandleReader reads from an io.Reader and processes each line.
func (h *OutputHandler) HandleReader(r io.Reader) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, MaxLineLength)
	scanner.Buffer(buf, MaxLineLength)

	for scanner.Scan() {
		h.HandleLine(scanner.Text())
	}
}

// HandleLine processes a single line of output.
func (h *OutputHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.mu.Unlock()

	h.logLine(line)
}

func (h *OutputHandler) logLine(line string) {
	level := h.classifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level == slog.LevelDebug {
		return
	}

	h.logger.Log(nil, level, "job_output",
		"job_id", h.jobID,
		"stream", h.stream,
		"line", line,
	)
}

// classifyLine picks a log level from compiler and runtime diagnostics.
func (h *OutputHandler) classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	if strings.Contains(lower, "error:") ||
		strings.Contains(lower, "error[") ||
		strings.HasPrefix(lower, "traceback") ||
		strings.HasPrefix(lower, "panic:") ||
		strings.Contains(lower, "exception in thread") ||
		strings.Contains(lower, "segmentation fault") {
		return slog.LevelWarn
	}

	if strings.Contains(lower, "warning:") {
		return slog.LevelInfo
	}

	return slog.LevelDebug
}

// RecentLines returns the most recent lines from the buffer.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}

	return lines
}

// ErrorPatterns are diagnostics counted for the job summary.
var ErrorPatterns = []string{
	"error:",
	"warning:",
	"Traceback",
	"panic:",
	"undefined reference",
	"Segmentation fault",
	"command not found",
	"cannot find symbol",
}

// CountErrors counts occurrences of error patterns in the buffer.
func (h *OutputHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)
	for _, line := range h.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}

	return counts
}
