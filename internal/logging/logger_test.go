package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},        // Default
		{"invalid", slog.LevelInfo}, // Default for unknown
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			result := parseLevel(tc.input)
			if result != tc.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tc.input, result, tc.expected)
			}
		})
	}
}

func TestNewLogger_Formats(t *testing.T) {
	testCases := []struct {
		format   string
		wantJSON bool
	}{
		{"json", true},
		{"JSON", true},
		{"text", false},
		{"", true},
		{"invalid", true},
	}

	for _, tc := range testCases {
		t.Run(tc.format, func(t *testing.T) {
			var buf bytes.Buffer
			NewLogger(&buf, tc.format, "info", false).Info("hello", "key", "value")
			isJSON := strings.HasPrefix(buf.String(), "{")
			if isJSON != tc.wantJSON {
				t.Errorf("format %q produced %q", tc.format, buf.String())
			}
		})
	}
}

func TestNewLogger_VerboseOverride(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "text", "error", false).Debug("quiet")
	if buf.Len() != 0 {
		t.Errorf("error-level logger wrote %q", buf.String())
	}

	NewLogger(&buf, "text", "error", true).Debug("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Error("verbose logger should log debug messages")
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "text", "warn", false)

	logger.Info("info msg")
	logger.Warn("warn msg")

	output := buf.String()
	if strings.Contains(output, "info msg") {
		t.Error("warn logger should filter info")
	}
	if !strings.Contains(output, "warn msg") {
		t.Error("warn logger should log warn")
	}
}

func TestOpenLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "work")

	w, err := OpenLogFile(dir)
	if err != nil {
		t.Fatalf("OpenLogFile() error = %v", err)
	}
	NewLogger(w, "text", "info", false).Info("persisted")
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "persisted") {
		t.Errorf("log file = %q", data)
	}
}

func TestOpenLogFile_EmptyDirIsStderr(t *testing.T) {
	w, err := OpenLogFile("")
	if err != nil {
		t.Fatalf("OpenLogFile(\"\") error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("closing stderr wrapper should be a no-op, got %v", err)
	}
}

func TestSetDefault(t *testing.T) {
	orig := slog.Default()
	defer slog.SetDefault(orig)

	var buf bytes.Buffer
	SetDefault(NewLogger(&buf, "text", "info", false))
	slog.Info("via default")
	if !strings.Contains(buf.String(), "via default") {
		t.Error("SetDefault did not install the logger")
	}
}

// =============================================================================
// Tests: OutputHandler
// =============================================================================

func newTestHandler(verbose bool) (*OutputHandler, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "text", "debug", false)
	return NewOutputHandler("job1", "stderr", logger, verbose), &buf
}

func TestOutputHandler_WriteSplitsLines(t *testing.T) {
	h, _ := newTestHandler(false)

	h.Write([]byte("first\nsec"))
	h.Write([]byte("ond\r\nthi"))

	got := h.RecentLines(10)
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("RecentLines() = %q", got)
	}

	h.Flush()
	got = h.RecentLines(10)
	if len(got) != 3 || got[2] != "thi" {
		t.Errorf("after Flush RecentLines() = %q", got)
	}
}

func TestOutputHandler_Truncation(t *testing.T) {
	h, _ := newTestHandler(false)
	h.HandleLine(strings.Repeat("x", MaxLineLength+10))

	got := h.RecentLines(1)
	if len(got) != 1 || !strings.HasSuffix(got[0], "...(truncated)") {
		t.Errorf("long line not truncated: len=%d", len(got[0]))
	}
}

func TestOutputHandler_CircularBuffer(t *testing.T) {
	h, _ := newTestHandler(false)
	for i := 0; i < MaxBufferedLines+5; i++ {
		h.HandleLine("line")
	}
	h.HandleLine("last")

	got := h.RecentLines(MaxBufferedLines + 50)
	if len(got) != MaxBufferedLines {
		t.Errorf("len(RecentLines) = %d, want %d", len(got), MaxBufferedLines)
	}
	if got[len(got)-1] != "last" {
		t.Errorf("newest line = %q, want last", got[len(got)-1])
	}
}

func TestOutputHandler_ClassifyLine(t *testing.T) {
	h, _ := newTestHandler(false)

	tests := []struct {
		line string
		want slog.Level
	}{
		{"main.c:3:5: error: expected ';'", slog.LevelWarn},
		{"error[E0425]: cannot find value", slog.LevelWarn},
		{"Traceback (most recent call last):", slog.LevelWarn},
		{"panic: runtime error", slog.LevelWarn},
		{"Exception in thread \"main\" java.lang.Error", slog.LevelWarn},
		{"main.c:1:1: warning: unused", slog.LevelInfo},
		{"hello n. 7", slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := h.classifyLine(tt.line); got != tt.want {
			t.Errorf("classifyLine(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestOutputHandler_VerboseLogging(t *testing.T) {
	quiet, qbuf := newTestHandler(false)
	quiet.HandleLine("plain output")
	quiet.HandleLine("x.c:1: error: boom")
	if strings.Contains(qbuf.String(), "plain output") {
		t.Error("non-verbose handler should not log debug lines")
	}
	if !strings.Contains(qbuf.String(), "boom") {
		t.Error("errors should always be logged")
	}

	loud, lbuf := newTestHandler(true)
	loud.HandleLine("plain output")
	if !strings.Contains(lbuf.String(), "job_id=job1") {
		t.Errorf("verbose record missing job id: %q", lbuf.String())
	}
}

func TestOutputHandler_CountErrors(t *testing.T) {
	h, _ := newTestHandler(false)
	h.HandleReader(strings.NewReader("a.c:1: error: x\na.c:2: error: y\nTraceback\nok\n"))

	counts := h.CountErrors()
	if counts["error:"] != 2 {
		t.Errorf("error: count = %d, want 2", counts["error:"])
	}
	if counts["Traceback"] != 1 {
		t.Errorf("Traceback count = %d, want 1", counts["Traceback"])
	}
}

func TestOutputHandler_Concurrent(t *testing.T) {
	h, _ := newTestHandler(false)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Write([]byte("line\n"))
				h.RecentLines(5)
			}
		}()
	}
	wg.Wait()
	if got := len(h.RecentLines(MaxBufferedLines)); got != MaxBufferedLines {
		t.Errorf("len(RecentLines) = %d, want %d", got, MaxBufferedLines)
	}
}
