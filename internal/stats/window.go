package stats

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// DefaultWindow is the span DurationWindow keeps samples for.
const DefaultWindow = 10 * time.Minute

// Percentiles summarizes the durations inside a window.
type Percentiles struct {
	Count int
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
}

type durationSample struct {
	value time.Duration
	at    time.Time
}

// DurationWindow keeps a rolling window of durations in a T-Digest.
// Safe for concurrent use.
type DurationWindow struct {
	mu      sync.Mutex
	window  time.Duration
	digest  *tdigest.TDigest
	samples []durationSample
}

// NewDurationWindow creates a window; window <= 0 means DefaultWindow.
func NewDurationWindow(window time.Duration) *DurationWindow {
	if window <= 0 {
		window = DefaultWindow
	}
	return &DurationWindow{
		window: window,
		digest: tdigest.NewWithCompression(100),
	}
}

// Add records d observed at now.
func (w *DurationWindow) Add(d time.Duration, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.digest.Add(float64(d), 1)
	w.samples = append(w.samples, durationSample{value: d, at: now})
	if len(w.samples) > 64 {
		w.expire(now)
	}
}

// Snapshot returns the percentiles of samples newer than now-window.
func (w *DurationWindow) Snapshot(now time.Time) Percentiles {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expire(now)
	if len(w.samples) == 0 {
		return Percentiles{}
	}

	p := Percentiles{
		Count: len(w.samples),
		P50:   time.Duration(w.digest.Quantile(0.50)),
		P95:   time.Duration(w.digest.Quantile(0.95)),
		P99:   time.Duration(w.digest.Quantile(0.99)),
	}
	for _, s := range w.samples {
		if s.value > p.Max {
			p.Max = s.value
		}
	}
	return p
}

// expire drops old samples and rebuilds the digest only when something
// actually expired.
func (w *DurationWindow) expire(now time.Time) {
	cutoff := now.Add(-w.window)

	valid := w.samples[:0]
	expired := 0
	for _, s := range w.samples {
		if s.at.After(cutoff) {
			valid = append(valid, s)
		} else {
			expired++
		}
	}
	w.samples = valid

	if expired > 0 {
		w.digest = tdigest.NewWithCompression(100)
		for _, s := range valid {
			w.digest.Add(float64(s.value), 1)
		}
	}
}
