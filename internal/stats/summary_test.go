package stats

import (
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Table-Driven Tests: Formatting Functions
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     string
	}{
		{0, "00:00:00"},
		{59 * time.Second, "00:00:59"},
		{2*time.Hour + 30*time.Minute + 45*time.Second, "02:30:45"},
		{1500 * time.Millisecond, "00:00:01"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.duration); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.duration, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1500, "1.5K"},
		{2_500_000, "2.5M"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.n); got != tt.want {
			t.Errorf("FormatNumber(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{4096, "4.10 KB"},
		{1 << 20, "1.05 MB"},
		{3_000_000_000, "3.00 GB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatMs(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     string
	}{
		{0, "0 ms"},
		{250 * time.Microsecond, "250 µs"},
		{42 * time.Millisecond, "42 ms"},
		{2 * time.Second, "2000 ms"},
	}
	for _, tt := range tests {
		if got := FormatMs(tt.duration); got != tt.want {
			t.Errorf("FormatMs(%v) = %q, want %q", tt.duration, got, tt.want)
		}
	}
}

func TestFormatRate(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0.25, "0.25/s"},
		{3, "3.0/s"},
		{2500, "2.5K/s"},
	}
	for _, tt := range tests {
		if got := FormatRate(tt.rate); got != tt.want {
			t.Errorf("FormatRate(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

// =============================================================================
// Tests: FormatExitSummary
// =============================================================================

func TestFormatExitSummary_NoJobs(t *testing.T) {
	cfg := SummaryConfig{Session: "nvim-7", Duration: time.Minute, MetricsAddr: "127.0.0.1:17191"}

	for _, stats := range []*AggregatedStats{nil, {}} {
		out := FormatExitSummary(stats, cfg)
		for _, want := range []string{"snip-runner Exit Summary", "nvim-7", "00:01:00", "(No jobs were run)", "http://127.0.0.1:17191/metrics"} {
			if !strings.Contains(out, want) {
				t.Errorf("summary missing %q:\n%s", want, out)
			}
		}
	}
}

func TestFormatExitSummary_WithJobs(t *testing.T) {
	agg := NewAggregator(time.Hour)
	agg.RecordJob("python", StatusOK, 40*time.Millisecond, false)
	agg.RecordJob("python", StatusRuntimeFailed, 60*time.Millisecond, false)
	agg.RecordJob("c", StatusCompileFailed, 200*time.Millisecond, false)
	agg.RecordJob("kotlin", StatusOK, time.Second, true)
	agg.RecordRejected("busy")
	agg.RecordClean()
	agg.RecordMisses("python", 2)
	agg.ObserveActive(1)

	out := FormatExitSummary(agg.Aggregate(), SummaryConfig{Session: "s", WorkDir: "/tmp/snip-runner", MaxOutputBytes: 1 << 20})

	for _, want := range []string{
		"Jobs by Language",
		"python",
		"kotlin",
		"Run Time Distribution",
		"Rejected (busy):",
		"Unresolved names: 2",
		"Workspace cleaned 1 times",
		"Work directory was: /tmp/snip-runner",
		"Output Cap:             1.05 MB",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "python") > strings.Index(out, "kotlin") {
		t.Error("languages should be ordered by job count")
	}
}

func TestRenderFootnotes_Empty(t *testing.T) {
	if got := renderFootnotes(&AggregatedStats{}); got != "" {
		t.Errorf("renderFootnotes = %q, want empty", got)
	}
}

func BenchmarkFormatExitSummary(b *testing.B) {
	agg := NewAggregator(time.Hour)
	for i := 0; i < 100; i++ {
		agg.RecordJob("python", StatusOK, time.Duration(i)*time.Millisecond, false)
	}
	stats := agg.Aggregate()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		FormatExitSummary(stats, SummaryConfig{Session: "bench"})
	}
}
