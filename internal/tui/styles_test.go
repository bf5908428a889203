package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-snip-runner/internal/metrics"
)

// =============================================================================
// Tests: GetBackendHealth
// =============================================================================

func TestGetBackendHealth(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		st   *metrics.BackendStatus
		want BackendHealth
	}{
		{"nil", nil, BackendWaiting},
		{"never scraped", &metrics.BackendStatus{Error: "Not yet scraped"}, BackendWaiting},
		{"scrape failed", &metrics.BackendStatus{LastUpdate: now, Error: "refused"}, BackendUnreachable},
		{"idle", &metrics.BackendStatus{LastUpdate: now, Healthy: true}, BackendHealthy},
		{"queued", &metrics.BackendStatus{LastUpdate: now, Healthy: true, QueueDepth: 3}, BackendBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetBackendHealth(tt.st); got != tt.want {
				t.Errorf("GetBackendHealth = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetBackendLabel(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name       string
		st         *metrics.BackendStatus
		wantSubstr string
	}{
		{"waiting", nil, "connecting"},
		{"unreachable", &metrics.BackendStatus{LastUpdate: now}, "unreachable"},
		{"busy", &metrics.BackendStatus{LastUpdate: now, Healthy: true, QueueDepth: 1}, "busy"},
		{"healthy", &metrics.BackendStatus{LastUpdate: now, Healthy: true}, "● Backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetBackendLabel(tt.st)
			if !strings.Contains(got, tt.wantSubstr) {
				t.Errorf("GetBackendLabel = %q, want to contain %q", got, tt.wantSubstr)
			}
		})
	}
}

// =============================================================================
// Tests: GetFailureRateStyle
// =============================================================================

func TestGetFailureRateStyle(t *testing.T) {
	tests := []struct {
		rate float64
		want lipgloss.Style
	}{
		{0, valueGoodStyle},
		{0.1, valueWarnStyle},
		{0.25, valueBadStyle},
		{1, valueBadStyle},
	}

	for _, tt := range tests {
		got := GetFailureRateStyle(tt.rate)
		if got.GetForeground() != tt.want.GetForeground() {
			t.Errorf("GetFailureRateStyle(%v) foreground = %v, want %v", tt.rate, got.GetForeground(), tt.want.GetForeground())
		}
	}
}

// =============================================================================
// Tests: Render Helpers
// =============================================================================

func TestRenderKeyValue(t *testing.T) {
	got := RenderKeyValue("Jobs", "42")
	if !strings.Contains(got, "Jobs:") || !strings.Contains(got, "42") {
		t.Errorf("RenderKeyValue = %q", got)
	}
}

func TestRenderOutcomeBar(t *testing.T) {
	tests := []struct {
		name       string
		ratio      float64
		width      int
		wantFilled int
		wantEmpty  int
		wantPct    string
	}{
		{"empty", 0, 20, 0, 20, "0% ok"},
		{"half", 0.5, 20, 10, 10, "50% ok"},
		{"full", 1, 20, 20, 0, "100% ok"},
		{"over", 1.5, 20, 20, 0, "150% ok"},
		{"negative", -0.5, 20, 0, 20, "-50% ok"},
		{"min width", 0.5, 4, 5, 5, "50% ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderOutcomeBar(tt.ratio, tt.width)
			if n := strings.Count(got, "█"); n != tt.wantFilled {
				t.Errorf("filled = %d, want %d", n, tt.wantFilled)
			}
			if n := strings.Count(got, "░"); n != tt.wantEmpty {
				t.Errorf("empty = %d, want %d", n, tt.wantEmpty)
			}
			if !strings.Contains(got, tt.wantPct) {
				t.Errorf("bar %q missing %q", got, tt.wantPct)
			}
		})
	}
}
