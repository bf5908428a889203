package fallback

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig shapes the wait between delegate attempts.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// JitterPct is the full width of the jitter band as a fraction of the
	// delay; 0.4 spreads each wait over ±20%.
	JitterPct float64
}

// DefaultBackoffConfig returns the delegate retry policy.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    250 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 1.7,
		JitterPct:  0.4,
	}
}

// Base returns the unjittered wait before retry n (0-based), capped at Max.
func (c BackoffConfig) Base(n int) time.Duration {
	d := float64(c.Initial) * math.Pow(c.Multiplier, float64(n))
	if c.Max > 0 && d > float64(c.Max) {
		d = float64(c.Max)
	}
	return time.Duration(d)
}

// retrySchedule hands out the jittered waits for one job. Jitter is seeded
// from the job ID, so the same job always sees the same schedule.
type retrySchedule struct {
	cfg  BackoffConfig
	next int
	rng  *rand.Rand
}

func newRetrySchedule(jobID string, cfg BackoffConfig) *retrySchedule {
	h := fnv.New64a()
	h.Write([]byte(jobID))
	return &retrySchedule{
		cfg: cfg,
		rng: rand.New(rand.NewSource(int64(h.Sum64()))),
	}
}

// wait returns the delay before the next retry.
func (s *retrySchedule) wait() time.Duration {
	base := float64(s.cfg.Base(s.next))
	s.next++
	if s.cfg.JitterPct <= 0 {
		return time.Duration(base)
	}
	band := base * s.cfg.JitterPct
	return time.Duration(math.Max(base-band/2+band*s.rng.Float64(), 0))
}
