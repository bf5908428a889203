// Package stats aggregates job outcomes for the exit summary and the
// percentile gauges.
package stats

import (
	"sort"
	"sync"
	"time"
)

// Status names as reported by the job server.
const (
	StatusOK            = "ok"
	StatusCompileFailed = "compile_failed"
	StatusRuntimeFailed = "runtime_failed"
	StatusError         = "error"
)

// LanguageStats counts outcomes for one language.
type LanguageStats struct {
	Language      string
	Jobs          int64
	OK            int64
	CompileFailed int64
	RuntimeFailed int64
	Errors        int64
	Fallback      int64
	Misses        int64 // unresolved names across runs
	TotalElapsed  time.Duration
}

// AverageElapsed returns the mean run time.
func (s LanguageStats) AverageElapsed() time.Duration {
	if s.Jobs == 0 {
		return 0
	}
	return s.TotalElapsed / time.Duration(s.Jobs)
}

// AggregatedStats is a snapshot across all languages.
type AggregatedStats struct {
	Timestamp time.Time
	Elapsed   time.Duration

	TotalJobs     int64
	TotalOK       int64
	TotalFailed   int64 // compile or runtime
	TotalErrors   int64
	TotalFallback int64
	Rejected      map[string]int64
	Cleans        int64

	PeakActiveProcesses int
	PeakQueueDepth      int

	Durations Percentiles
	Languages []LanguageStats // sorted by job count, then name
}

// Aggregator collects job events. Safe for concurrent use.
type Aggregator struct {
	mu        sync.RWMutex
	startTime time.Time
	now       func() time.Time

	languages  map[string]*LanguageStats
	rejected   map[string]int64
	cleans     int64
	peakActive int
	peakQueue  int

	durations *DurationWindow
}

// NewAggregator creates an aggregator whose percentiles cover window.
func NewAggregator(window time.Duration) *Aggregator {
	return &Aggregator{
		startTime: time.Now(),
		now:       time.Now,
		languages: make(map[string]*LanguageStats),
		rejected:  make(map[string]int64),
		durations: NewDurationWindow(window),
	}
}

func (a *Aggregator) language(name string) *LanguageStats {
	s, ok := a.languages[name]
	if !ok {
		s = &LanguageStats{Language: name}
		a.languages[name] = s
	}
	return s
}

// RecordJob records a finished job.
func (a *Aggregator) RecordJob(lang, status string, elapsed time.Duration, fallback bool) {
	a.mu.Lock()
	s := a.language(lang)
	s.Jobs++
	s.TotalElapsed += elapsed
	switch status {
	case StatusOK:
		s.OK++
	case StatusCompileFailed:
		s.CompileFailed++
	case StatusRuntimeFailed:
		s.RuntimeFailed++
	default:
		s.Errors++
	}
	if fallback {
		s.Fallback++
	}
	a.mu.Unlock()

	// Errors never ran a toolchain.
	if status != StatusError {
		a.durations.Add(elapsed, a.now())
	}
}

// RecordRejected counts a request that never reached the worker.
func (a *Aggregator) RecordRejected(reason string) {
	a.mu.Lock()
	a.rejected[reason]++
	a.mu.Unlock()
}

// RecordClean counts a workspace clean.
func (a *Aggregator) RecordClean() {
	a.mu.Lock()
	a.cleans++
	a.mu.Unlock()
}

// RecordMisses adds unresolved names for lang.
func (a *Aggregator) RecordMisses(lang string, n int) {
	a.mu.Lock()
	a.language(lang).Misses += int64(n)
	a.mu.Unlock()
}

// ObserveActive tracks the peak number of live process groups.
func (a *Aggregator) ObserveActive(n int) {
	a.mu.Lock()
	if n > a.peakActive {
		a.peakActive = n
	}
	a.mu.Unlock()
}

// ObserveQueue tracks the peak queue depth.
func (a *Aggregator) ObserveQueue(n int) {
	a.mu.Lock()
	if n > a.peakQueue {
		a.peakQueue = n
	}
	a.mu.Unlock()
}

// Durations returns run time percentiles over the window.
func (a *Aggregator) Durations() Percentiles {
	return a.durations.Snapshot(a.now())
}

// Aggregate computes a snapshot. The result is safe to use after the call
// returns.
func (a *Aggregator) Aggregate() *AggregatedStats {
	now := a.now()
	durations := a.durations.Snapshot(now)

	a.mu.RLock()
	defer a.mu.RUnlock()

	result := &AggregatedStats{
		Timestamp:           now,
		Elapsed:             now.Sub(a.startTime),
		Rejected:            make(map[string]int64, len(a.rejected)),
		Cleans:              a.cleans,
		PeakActiveProcesses: a.peakActive,
		PeakQueueDepth:      a.peakQueue,
		Durations:           durations,
		Languages:           make([]LanguageStats, 0, len(a.languages)),
	}
	for reason, n := range a.rejected {
		result.Rejected[reason] = n
	}

	for _, s := range a.languages {
		result.TotalJobs += s.Jobs
		result.TotalOK += s.OK
		result.TotalFailed += s.CompileFailed + s.RuntimeFailed
		result.TotalErrors += s.Errors
		result.TotalFallback += s.Fallback
		result.Languages = append(result.Languages, *s)
	}
	sort.Slice(result.Languages, func(i, j int) bool {
		li, lj := result.Languages[i], result.Languages[j]
		if li.Jobs != lj.Jobs {
			return li.Jobs > lj.Jobs
		}
		return li.Language < lj.Language
	})

	return result
}

// StartTime returns when the aggregator was created.
func (a *Aggregator) StartTime() time.Time {
	return a.startTime
}
