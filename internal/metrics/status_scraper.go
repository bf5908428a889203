package metrics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// LanguageStatus is one row of the jobs table.
type LanguageStatus struct {
	Language      string
	OK            int64
	CompileFailed int64
	RuntimeFailed int64
	Errors        int64
	Fallback      int64
}

// Total returns all finished jobs for the language.
func (l LanguageStatus) Total() int64 {
	return l.OK + l.CompileFailed + l.RuntimeFailed + l.Errors
}

// BackendStatus is what the monitor shows about a running backend.
type BackendStatus struct {
	Version string
	Session string
	Uptime  time.Duration

	QueueDepth      int
	ActiveProcesses int
	PeakActive      int

	TotalJobs int64
	Languages []LanguageStatus // sorted by total, then name
	Rejected  map[string]int64
	Cleans    int64
	Misses    int64

	P50 time.Duration
	P95 time.Duration
	P99 time.Duration

	// Job rate between scrapes and its rolling-window median and max
	JobRate       float64
	JobRateP50    float64
	JobRateMax    float64
	WindowSeconds int

	// Metadata
	LastUpdate time.Time
	Healthy    bool
	Error      string
}

// StatusScraper polls a backend's /metrics endpoint.
// Uses atomic.Value for lock-free reads.
type StatusScraper struct {
	url        string
	interval   time.Duration
	logger     *slog.Logger
	httpClient *http.Client

	status atomic.Value // *BackendStatus

	// Rate calculation state
	lastJobs atomic.Uint64 // float64 as bits (math.Float64bits)
	lastTime atomic.Value  // time.Time

	// Rolling window of job rates (T-Digest)
	rateMu      sync.Mutex
	rateDigest  *tdigest.TDigest
	rateSamples []rateSample
	windowSize  time.Duration
}

// rateSample is one job rate observation with timestamp.
type rateSample struct {
	value float64
	time  time.Time
}

// StatusURL turns a metrics address into its /metrics URL.
func StatusURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr + "/metrics"
}

// NewStatusScraper creates a scraper. Returns nil if url is empty.
func NewStatusScraper(url string, interval, windowSize time.Duration, logger *slog.Logger) *StatusScraper {
	if url == "" {
		return nil // Feature disabled
	}
	if interval <= 0 {
		interval = time.Second
	}

	// Clamp window size
	if windowSize < 10*time.Second {
		windowSize = 10 * time.Second
	}
	if windowSize > 300*time.Second {
		windowSize = 300 * time.Second
	}

	s := &StatusScraper{
		url:        url,
		interval:   interval,
		logger:     logger,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		rateDigest: tdigest.NewWithCompression(100),
		windowSize: windowSize,
	}

	s.status.Store(&BackendStatus{
		Healthy: false,
		Error:   "Not yet scraped",
	})

	return s
}

// Run scrapes until ctx is done.
func (s *StatusScraper) Run(ctx context.Context) {
	if s == nil {
		return // Feature disabled
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Initial scrape
	s.Scrape()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scrape()
		}
	}
}

// Status returns the latest status (thread-safe, lock-free).
func (s *StatusScraper) Status() *BackendStatus {
	if s == nil {
		return nil
	}
	ptr := s.status.Load()
	if ptr == nil {
		return nil
	}
	// Return a copy so callers can't race with the next scrape
	st := *ptr.(*BackendStatus)

	s.rateMu.Lock()
	s.cleanupRateWindow(time.Now())
	if len(s.rateSamples) > 0 {
		st.JobRateP50 = s.rateDigest.Quantile(0.50)
		st.JobRateMax = s.rateSamples[0].value
		for _, sample := range s.rateSamples {
			if sample.value > st.JobRateMax {
				st.JobRateMax = sample.value
			}
		}
	}
	s.rateMu.Unlock()
	st.WindowSeconds = int(s.windowSize.Seconds())

	return &st
}

// Scrape fetches and stores one status. On failure the previous values are
// kept and Healthy is false.
func (s *StatusScraper) Scrape() {
	now := time.Now()

	var last *BackendStatus
	if p := s.status.Load(); p != nil {
		last = p.(*BackendStatus)
	} else {
		last = &BackendStatus{}
	}

	families, err := s.fetch()
	if err != nil {
		failed := *last
		failed.Healthy = false
		failed.Error = err.Error()
		failed.LastUpdate = now
		s.status.Store(&failed)
		if s.logger != nil {
			s.logger.Debug("status_scrape_error", "url", s.url, "error", err)
		}
		return
	}

	st := parseStatus(families)
	st.LastUpdate = now
	st.Healthy = true
	st.JobRate = s.observeRate(float64(st.TotalJobs), now)

	s.status.Store(st)
}

func (s *StatusScraper) fetch() (map[string]*dto.MetricFamily, error) {
	resp, err := s.httpClient.Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}

	// Parse Prometheus text format
	decoder := expfmt.NewDecoder(resp.Body, expfmt.FmtText)
	parsed := make(map[string]*dto.MetricFamily)

	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode error: %w", err)
		}
		parsed[mf.GetName()] = &mf
	}

	if _, ok := parsed[NameInfo]; !ok {
		return nil, fmt.Errorf("%s not found: not a snip-runner endpoint", NameInfo)
	}
	return parsed, nil
}

// parseStatus extracts the snip_runner_* series.
func parseStatus(families map[string]*dto.MetricFamily) *BackendStatus {
	st := &BackendStatus{Rejected: make(map[string]int64)}

	if mf, ok := families[NameInfo]; ok && len(mf.GetMetric()) > 0 {
		m := mf.GetMetric()[0]
		st.Version = label(m, "version")
		st.Session = label(m, "session")
	}

	st.Uptime = time.Duration(gauge(families, NameUptimeSeconds) * float64(time.Second))
	st.QueueDepth = int(gauge(families, NameQueueDepth))
	st.ActiveProcesses = int(gauge(families, NameActiveProcesses))
	st.PeakActive = int(gauge(families, NamePeakActive))
	st.P50 = seconds(gauge(families, NameDurationP50))
	st.P95 = seconds(gauge(families, NameDurationP95))
	st.P99 = seconds(gauge(families, NameDurationP99))
	st.Cleans = int64(counterSum(families, NameCleansTotal))
	st.Misses = int64(counterSum(families, NameMissesTotal))

	langs := make(map[string]*LanguageStatus)
	row := func(name string) *LanguageStatus {
		l, ok := langs[name]
		if !ok {
			l = &LanguageStatus{Language: name}
			langs[name] = l
		}
		return l
	}

	if mf, ok := families[NameJobsTotal]; ok {
		for _, m := range mf.GetMetric() {
			n := int64(m.GetCounter().GetValue())
			l := row(label(m, "language"))
			switch label(m, "status") {
			case "ok":
				l.OK += n
			case "compile_failed":
				l.CompileFailed += n
			case "runtime_failed":
				l.RuntimeFailed += n
			default:
				l.Errors += n
			}
			st.TotalJobs += n
		}
	}
	if mf, ok := families[NameFallbackTotal]; ok {
		for _, m := range mf.GetMetric() {
			row(label(m, "language")).Fallback += int64(m.GetCounter().GetValue())
		}
	}
	if mf, ok := families[NameRejectedTotal]; ok {
		for _, m := range mf.GetMetric() {
			st.Rejected[label(m, "reason")] += int64(m.GetCounter().GetValue())
		}
	}

	for _, l := range langs {
		st.Languages = append(st.Languages, *l)
	}
	sort.Slice(st.Languages, func(i, j int) bool {
		ti, tj := st.Languages[i].Total(), st.Languages[j].Total()
		if ti != tj {
			return ti > tj
		}
		return st.Languages[i].Language < st.Languages[j].Language
	})

	return st
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func gauge(families map[string]*dto.MetricFamily, name string) float64 {
	mf, ok := families[name]
	if !ok || len(mf.GetMetric()) == 0 {
		return 0
	}
	return mf.GetMetric()[0].GetGauge().GetValue()
}

func counterSum(families map[string]*dto.MetricFamily, name string) float64 {
	mf, ok := families[name]
	if !ok {
		return 0
	}
	var sum float64
	for _, m := range mf.GetMetric() {
		sum += m.GetCounter().GetValue()
	}
	return sum
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// observeRate computes jobs/sec since the previous scrape and adds it to
// the rolling window.
func (s *StatusScraper) observeRate(total float64, now time.Time) float64 {
	var rate float64

	lastTotal := loadFloat64(&s.lastJobs)
	if v := s.lastTime.Load(); v != nil {
		if last := v.(time.Time); !last.IsZero() {
			if dt := now.Sub(last).Seconds(); dt > 0 && total >= lastTotal {
				rate = (total - lastTotal) / dt
			}
		}
	}

	storeFloat64(&s.lastJobs, total)
	s.lastTime.Store(now)

	s.rateMu.Lock()
	s.rateDigest.Add(rate, 1)
	s.rateSamples = append(s.rateSamples, rateSample{value: rate, time: now})
	if len(s.rateSamples) > 20 {
		s.cleanupRateWindow(now)
	}
	s.rateMu.Unlock()

	return rate
}

// Helper functions for atomic float64 operations

// storeFloat64 stores a float64 value atomically using math.Float64bits.
func storeFloat64(addr *atomic.Uint64, val float64) {
	addr.Store(math.Float64bits(val))
}

// loadFloat64 loads a float64 value atomically using math.Float64frombits.
func loadFloat64(addr *atomic.Uint64) float64 {
	return math.Float64frombits(addr.Load())
}

// cleanupRateWindow removes samples older than the window and rebuilds the
// T-Digest only when samples actually expired. Caller holds rateMu.
func (s *StatusScraper) cleanupRateWindow(now time.Time) {
	cutoff := now.Add(-s.windowSize)

	valid := make([]rateSample, 0, len(s.rateSamples))
	expired := 0
	for _, sample := range s.rateSamples {
		if sample.time.After(cutoff) {
			valid = append(valid, sample)
		} else {
			expired++
		}
	}

	if expired > 0 {
		s.rateDigest = tdigest.NewWithCompression(100)
		for _, sample := range valid {
			s.rateDigest.Add(sample.value, 1)
		}
	}

	s.rateSamples = valid
}
