package metrics

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Metric names used in summaries. They match the names load-test dashboards
// already know: a duration trend, a success rate and an error counter.
const (
	MetricDuration    = "http_req_duration_trend"
	MetricSuccessRate = "success_rate"
	MetricHTTPErrors  = "http_errors"
)

// Engine aggregates attempt results from any number of workers.
//
// Counters are atomic; the HDR histograms are guarded by mutexes because
// RecordValue is not safe for concurrent use.
type Engine struct {
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	requestHists   map[string]*hdrhistogram.Histogram
	requestHistsMu sync.Mutex

	attempts        atomic.Int64
	successes       atomic.Int64
	failures        atomic.Int64
	httpErrors      atomic.Int64
	transportErrors atomic.Int64
	totalBytes      atomic.Int64

	activeVUs atomic.Int32

	startMu   sync.RWMutex
	startTime time.Time

	config EngineConfig
	log    *slog.Logger
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine with custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{
		latencyHist:  hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		requestHists: make(map[string]*hdrhistogram.Histogram),
		startTime:    time.Now(),
		config:       config,
		log:          slog.Default(),
	}
}

// WithLogger sets the logger used to report recording faults.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	if l != nil {
		e.log = l
	}
	return e
}

// Record implements Sink.
//
// The duration always lands in the histogram; the success flag feeds the
// success rate; statuses >= 400 bump http_errors and attempts without a
// response bump the transport error counter.
func (e *Engine) Record(r AttemptResult) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("metrics: recording attempt panicked", "panic", p, "name", r.Name)
		}
	}()

	latencyMicros := e.clamp(r.Duration.Microseconds())

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(latencyMicros)
	e.latencyHistMu.Unlock()

	if r.Name != "" {
		e.recordRequestHistogram(r.Name, latencyMicros)
	}

	e.attempts.Add(1)
	e.totalBytes.Add(r.Bytes)

	if r.Succeeded() {
		e.successes.Add(1)
	} else {
		e.failures.Add(1)
	}

	switch {
	case r.HTTPError():
		e.httpErrors.Add(1)
	case r.TransportError():
		e.transportErrors.Add(1)
	}
}

func (e *Engine) clamp(v int64) int64 {
	if v < e.config.HistogramMin {
		return e.config.HistogramMin
	}
	if v > e.config.HistogramMax {
		return e.config.HistogramMax
	}
	return v
}

// recordRequestHistogram records a latency in a per-request histogram.
func (e *Engine) recordRequestHistogram(name string, latencyMicros int64) {
	e.requestHistsMu.Lock()
	defer e.requestHistsMu.Unlock()

	hist, exists := e.requestHists[name]
	if !exists {
		hist = hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
		e.requestHists[name] = hist
	}

	_ = hist.RecordValue(latencyMicros)
}

// SetActiveVUs updates the active VU count.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
}

// GetActiveVUs returns the current active VU count.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// Snapshot returns a point-in-time view of all metrics.
func (e *Engine) Snapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := statsFrom(e.latencyHist)
	e.latencyHistMu.Unlock()

	e.startMu.RLock()
	start := e.startTime
	e.startMu.RUnlock()

	elapsed := time.Since(start)
	attempts := e.attempts.Load()
	successes := e.successes.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(attempts) / elapsed.Seconds()
	}

	successRate := 0.0
	if attempts > 0 {
		successRate = float64(successes) / float64(attempts)
	}

	return &Snapshot{
		Attempts:        attempts,
		Successes:       successes,
		Failures:        e.failures.Load(),
		HTTPErrors:      e.httpErrors.Load(),
		TransportErrors: e.transportErrors.Load(),
		TotalBytes:      e.totalBytes.Load(),
		SuccessRate:     successRate,
		Latency:         latency,
		Requests:        e.RequestStats(),
		RPS:             rps,
		ActiveVUs:       e.GetActiveVUs(),
		Elapsed:         elapsed,
		StartTime:       start,
		Timestamp:       time.Now(),
	}
}

// RequestStats returns per-name latency statistics.
func (e *Engine) RequestStats() map[string]LatencyStats {
	e.requestHistsMu.Lock()
	defer e.requestHistsMu.Unlock()

	result := make(map[string]LatencyStats, len(e.requestHists))
	for name, hist := range e.requestHists {
		result[name] = statsFrom(hist)
	}
	return result
}

// Reset clears all metrics and restarts the clock.
func (e *Engine) Reset() {
	e.latencyHistMu.Lock()
	e.latencyHist.Reset()
	e.latencyHistMu.Unlock()

	e.requestHistsMu.Lock()
	e.requestHists = make(map[string]*hdrhistogram.Histogram)
	e.requestHistsMu.Unlock()

	e.attempts.Store(0)
	e.successes.Store(0)
	e.failures.Store(0)
	e.httpErrors.Store(0)
	e.transportErrors.Store(0)
	e.totalBytes.Store(0)
	e.activeVUs.Store(0)

	e.startMu.Lock()
	e.startTime = time.Now()
	e.startMu.Unlock()
}

func statsFrom(hist *hdrhistogram.Histogram) LatencyStats {
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return LatencyStats{
		Min:    us(hist.Min()),
		Max:    us(hist.Max()),
		Mean:   time.Duration(hist.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(hist.StdDev() * float64(time.Microsecond)),
		P50:    us(hist.ValueAtQuantile(50)),
		P90:    us(hist.ValueAtQuantile(90)),
		P95:    us(hist.ValueAtQuantile(95)),
		P99:    us(hist.ValueAtQuantile(99)),
		Count:  hist.TotalCount(),
	}
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	Attempts        int64                   `json:"attempts"`
	Successes       int64                   `json:"successes"`
	Failures        int64                   `json:"failures"`
	HTTPErrors      int64                   `json:"http_errors"`
	TransportErrors int64                   `json:"transport_errors"`
	TotalBytes      int64                   `json:"total_bytes"`
	SuccessRate     float64                 `json:"success_rate"`
	Latency         LatencyStats            `json:"http_req_duration_trend"`
	Requests        map[string]LatencyStats `json:"requests,omitempty"`
	RPS             float64                 `json:"rps"`
	ActiveVUs       int                     `json:"active_vus"`
	Elapsed         time.Duration           `json:"elapsed"`
	StartTime       time.Time               `json:"start_time"`
	Timestamp       time.Time               `json:"timestamp"`
}

// RequestNames returns the per-request keys in sorted order.
func (s *Snapshot) RequestNames() []string {
	names := make([]string, 0, len(s.Requests))
	for name := range s.Requests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"std_dev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
