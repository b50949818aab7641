// Package runner drives the request executor under load. Each virtual user
// (VU) is a goroutine that runs iterations back to back until the run ends.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/barrage/internal/metrics"
)

// VU identifies the virtual user running an iteration.
type VU struct {
	ID        int
	RunID     string
	Iteration int64
}

// Iteration is one unit of VU work, typically a single executor call. A
// non-nil error marks the iteration failed; the VU keeps going.
type Iteration func(ctx context.Context, vu VU) error

// Config contains configuration for a constant-VU run.
type Config struct {
	// VUs is the number of concurrent workers
	VUs int

	// Duration bounds the run
	Duration time.Duration

	// Rate caps iteration starts per second across all VUs; 0 means unlimited
	Rate float64
}

// ValidationError reports an invalid run configuration.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Validate validates the run configuration.
func (c Config) Validate() error {
	if c.VUs <= 0 {
		return &ValidationError{Field: "vus", Message: "vus must be > 0"}
	}
	if c.Duration <= 0 {
		return &ValidationError{Field: "duration", Message: "duration must be > 0"}
	}
	if c.Rate < 0 {
		return &ValidationError{Field: "rate", Message: "rate must be >= 0"}
	}
	return nil
}

// Stats summarizes a run.
type Stats struct {
	RunID            string        `json:"run_id"`
	StartTime        time.Time     `json:"start_time"`
	Elapsed          time.Duration `json:"elapsed"`
	TotalDuration    time.Duration `json:"total_duration"`
	ActiveVUs        int           `json:"active_vus"`
	TargetVUs        int           `json:"target_vus"`
	Iterations       int64         `json:"iterations"`
	FailedIterations int64         `json:"failed_iterations"`
}

// IterationsPerSecond returns completed iterations over elapsed time.
func (s *Stats) IterationsPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Iterations) / s.Elapsed.Seconds()
}

// ConstantVUs runs a fixed number of VUs for a fixed duration.
//
// Each VU runs as fast as it can (closed model). With a Rate set, a shared
// token bucket gates every iteration start, turning the run into a capped
// open model.
type ConstantVUs struct {
	config  Config
	metrics *metrics.Engine
	log     *slog.Logger
	runID   string

	startMu   sync.RWMutex
	startTime time.Time

	activeVUs  atomic.Int32
	iterations atomic.Int64
	failed     atomic.Int64
	running    atomic.Bool
}

// Option configures a ConstantVUs runner.
type Option func(*ConstantVUs)

// WithMetrics reports the active VU count to engine.
func WithMetrics(engine *metrics.Engine) Option {
	return func(r *ConstantVUs) {
		r.metrics = engine
	}
}

// WithLogger sets the run logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *ConstantVUs) {
		if l != nil {
			r.log = l
		}
	}
}

// NewConstantVUs validates cfg and returns a runner with a fresh run ID.
func NewConstantVUs(cfg Config, opts ...Option) (*ConstantVUs, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &ConstantVUs{
		config: cfg,
		log:    slog.Default(),
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunID identifies this run in logs and summaries.
func (r *ConstantVUs) RunID() string {
	return r.runID
}

// Run starts the VUs and blocks until the duration elapses or ctx is
// cancelled. Iteration failures are counted, never returned.
func (r *ConstantVUs) Run(ctx context.Context, iter Iteration) (*Stats, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("run %s already in progress", r.runID)
	}
	defer r.running.Store(false)

	r.startMu.Lock()
	r.startTime = time.Now()
	r.startMu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, r.config.Duration)
	defer cancel()

	var limiter *rate.Limiter
	if r.config.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.config.Rate), 1)
	}

	log := r.log.With("run_id", r.runID)
	log.Info("starting run", "vus", r.config.VUs, "duration", r.config.Duration, "rate", r.config.Rate)

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < r.config.VUs; i++ {
		vu := VU{ID: i + 1, RunID: r.runID}
		g.Go(func() error {
			r.runVU(gctx, vu, limiter, iter)
			return nil
		})
	}
	err := g.Wait()

	stats := r.GetStats()
	log.Info("run finished",
		"iterations", stats.Iterations,
		"failed_iterations", stats.FailedIterations,
		"elapsed", stats.Elapsed.Round(time.Millisecond),
	)
	return stats, err
}

// runVU runs a single VU until the context is cancelled.
func (r *ConstantVUs) runVU(ctx context.Context, vu VU, limiter *rate.Limiter, iter Iteration) {
	r.setActive(1)
	defer r.setActive(-1)

	for {
		if ctx.Err() != nil {
			return
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		vu.Iteration++
		err := r.runIteration(ctx, vu, iter)
		if err != nil && ctx.Err() != nil {
			// Cut off by the deadline; not a real failure.
			return
		}

		r.iterations.Add(1)
		if err != nil {
			r.failed.Add(1)
			r.log.Debug("iteration failed", "run_id", vu.RunID, "vu", vu.ID, "iteration", vu.Iteration, "error", err)
		}
	}
}

func (r *ConstantVUs) runIteration(ctx context.Context, vu VU, iter Iteration) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("iteration panicked: %v", p)
		}
	}()
	return iter(ctx, vu)
}

func (r *ConstantVUs) setActive(delta int32) {
	n := r.activeVUs.Add(delta)
	if r.metrics != nil {
		r.metrics.SetActiveVUs(int(n))
	}
}

// GetProgress returns current progress (0.0 to 1.0).
func (r *ConstantVUs) GetProgress() float64 {
	r.startMu.RLock()
	start := r.startTime
	r.startMu.RUnlock()

	if !r.running.Load() {
		if start.IsZero() {
			return 0.0
		}
		return 1.0
	}

	progress := float64(time.Since(start)) / float64(r.config.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (r *ConstantVUs) GetActiveVUs() int {
	return int(r.activeVUs.Load())
}

// GetStats returns runner statistics.
func (r *ConstantVUs) GetStats() *Stats {
	r.startMu.RLock()
	start := r.startTime
	r.startMu.RUnlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	return &Stats{
		RunID:            r.runID,
		StartTime:        start,
		Elapsed:          elapsed,
		TotalDuration:    r.config.Duration,
		ActiveVUs:        r.GetActiveVUs(),
		TargetVUs:        r.config.VUs,
		Iterations:       r.iterations.Load(),
		FailedIterations: r.failed.Load(),
	}
}
