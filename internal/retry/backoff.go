package retry

import (
	"math"
	randv2 "math/rand/v2"
	"sync"
	"time"
)

// Backoff computes jittered exponential delays between attempts.
//
// The delay after failed attempt n (1-based) is
//
//	min(InitialDelay * BackoffMultiplier^(n-1) * U[0.5, 1.0), MaxDelay)
//
// Backoff is safe for concurrent use. Two instances built with the same seed
// produce the same sequence.
type Backoff struct {
	mu  sync.Mutex
	rng *randv2.Rand
}

// NewBackoff creates a calculator with a deterministic random source.
func NewBackoff(seed uint64) *Backoff {
	return &Backoff{rng: randv2.New(randv2.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandomBackoff creates a calculator seeded from the runtime's entropy.
func NewRandomBackoff() *Backoff {
	return NewBackoff(randv2.Uint64())
}

// Base returns the unjittered delay after the given failed attempt.
func Base(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if base >= math.MaxInt64 || math.IsInf(base, 1) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(base)
}

// Delay returns how long to wait after the given failed attempt.
func (b *Backoff) Delay(attempt int, cfg Config) time.Duration {
	b.mu.Lock()
	factor := 0.5 + b.rng.Float64()*0.5
	b.mu.Unlock()

	jittered := float64(Base(attempt, cfg)) * factor
	if jittered > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(jittered)
}
