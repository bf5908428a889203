package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// =============================================================================
// Test Helpers
// =============================================================================

// newTestCollector creates a collector with an isolated registry. Metric
// vectors are package-level, so tests use distinct label values.
func newTestCollector(t *testing.T, cfg CollectorConfig) (*Collector, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	return NewCollectorWithRegistry(cfg, registry), registry
}

// findMetric returns the series of name whose labels include want.
func findMetric(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for k, v := range want {
				if label(m, k) != v {
					continue next
				}
			}
			return m
		}
	}
	return nil
}

// =============================================================================
// Tests: NewCollector
// =============================================================================

func TestNewCollector_Info(t *testing.T) {
	_, reg := newTestCollector(t, CollectorConfig{Version: "1.2.3", Session: "info-test"})

	m := findMetric(t, reg, NameInfo, map[string]string{"version": "1.2.3", "session": "info-test"})
	if m == nil {
		t.Fatal("info series missing")
	}
	if m.GetGauge().GetValue() != 1 {
		t.Errorf("info = %v, want 1", m.GetGauge().GetValue())
	}
}

func TestNewCollector_DefaultVersion(t *testing.T) {
	_, reg := newTestCollector(t, CollectorConfig{Session: "no-version"})
	if findMetric(t, reg, NameInfo, map[string]string{"version": "dev", "session": "no-version"}) == nil {
		t.Error("empty version should be reported as dev")
	}
}

// =============================================================================
// Tests: Recorder Methods
// =============================================================================

func TestCollector_JobFinished(t *testing.T) {
	c, reg := newTestCollector(t, CollectorConfig{Window: time.Minute})

	c.JobFinished("jf-python", "ok", 20*time.Millisecond, false)
	c.JobFinished("jf-python", "ok", 40*time.Millisecond, false)
	c.JobFinished("jf-python", "runtime_failed", 30*time.Millisecond, false)
	c.JobFinished("jf-kotlin", "ok", time.Second, true)
	c.JobFinished("jf-go", "error", 0, false)

	tests := []struct {
		labels map[string]string
		want   float64
	}{
		{map[string]string{"language": "jf-python", "status": "ok"}, 2},
		{map[string]string{"language": "jf-python", "status": "runtime_failed"}, 1},
		{map[string]string{"language": "jf-kotlin", "status": "ok"}, 1},
		{map[string]string{"language": "jf-go", "status": "error"}, 1},
	}
	for _, tt := range tests {
		m := findMetric(t, reg, NameJobsTotal, tt.labels)
		if m == nil {
			t.Errorf("series %v missing", tt.labels)
			continue
		}
		if got := m.GetCounter().GetValue(); got != tt.want {
			t.Errorf("%v = %v, want %v", tt.labels, got, tt.want)
		}
	}

	if m := findMetric(t, reg, NameFallbackTotal, map[string]string{"language": "jf-kotlin"}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("fallback counter not incremented")
	}

	h := findMetric(t, reg, NameJobDuration, map[string]string{"language": "jf-python"})
	if h == nil || h.GetHistogram().GetSampleCount() != 3 {
		t.Errorf("python histogram = %v, want 3 samples", h)
	}
	if findMetric(t, reg, NameJobDuration, map[string]string{"language": "jf-go"}) != nil {
		t.Error("aborted jobs should not be observed in the histogram")
	}

	if p := findMetric(t, reg, NameDurationP50, nil); p == nil || p.GetGauge().GetValue() <= 0 {
		t.Error("p50 gauge should be refreshed after a job")
	}

	sum := c.Summary()
	if sum.TotalJobs != 5 || sum.TotalFallback != 1 || sum.TotalErrors != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestCollector_RejectedCleansMisses(t *testing.T) {
	c, reg := newTestCollector(t, CollectorConfig{})

	before := 0.0
	if m := findMetric(t, reg, NameCleansTotal, nil); m != nil {
		before = m.GetCounter().GetValue()
	}

	c.JobRejected("rcm-busy")
	c.JobRejected("rcm-busy")
	c.WorkspaceCleaned()
	c.ResolutionMiss("rcm-c", 3)

	if m := findMetric(t, reg, NameRejectedTotal, map[string]string{"reason": "rcm-busy"}); m == nil || m.GetCounter().GetValue() != 2 {
		t.Error("rejected counter != 2")
	}
	if m := findMetric(t, reg, NameCleansTotal, nil); m == nil || m.GetCounter().GetValue() != before+1 {
		t.Error("cleans counter not incremented")
	}
	if m := findMetric(t, reg, NameMissesTotal, map[string]string{"language": "rcm-c"}); m == nil || m.GetCounter().GetValue() != 3 {
		t.Error("misses counter != 3")
	}

	sum := c.Summary()
	if sum.Rejected["rcm-busy"] != 2 || sum.Cleans != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestCollector_ActiveProcesses(t *testing.T) {
	c, reg := newTestCollector(t, CollectorConfig{})

	for _, n := range []int{1, 2, 1, 0} {
		c.SetActiveProcesses(n)
	}

	if m := findMetric(t, reg, NameActiveProcesses, nil); m == nil || m.GetGauge().GetValue() != 0 {
		t.Error("active gauge should follow the last value")
	}
	if c.PeakActive() != 2 {
		t.Errorf("PeakActive = %d, want 2", c.PeakActive())
	}
	if c.Summary().PeakActiveProcesses != 2 {
		t.Error("summary peak != 2")
	}
}

func TestCollector_QueueDepth(t *testing.T) {
	c, reg := newTestCollector(t, CollectorConfig{})
	c.QueueDepth(5)
	c.QueueDepth(1)

	if m := findMetric(t, reg, NameQueueDepth, nil); m == nil || m.GetGauge().GetValue() != 1 {
		t.Error("queue gauge should be 1")
	}
	if c.Summary().PeakQueueDepth != 5 {
		t.Error("peak queue depth should be 5")
	}
}

func TestCollector_Refresh(t *testing.T) {
	c, reg := newTestCollector(t, CollectorConfig{})
	time.Sleep(10 * time.Millisecond)
	c.Refresh()

	m := findMetric(t, reg, NameUptimeSeconds, nil)
	if m == nil || m.GetGauge().GetValue() <= 0 {
		t.Error("uptime should be positive after Refresh")
	}
	if c.StartTime().IsZero() {
		t.Error("StartTime not set")
	}
}
