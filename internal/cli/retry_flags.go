package cli

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/wesleyorama2/barrage/internal/retry"
)

// retryFlags holds the --max-attempts family. Only flags set on the
// command line become overrides.
type retryFlags struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	statusCodes  []int
}

func (r *retryFlags) bind(fs *pflag.FlagSet) {
	def := retry.DefaultConfig()
	fs.IntVar(&r.maxAttempts, "max-attempts", def.MaxAttempts, "Maximum attempts per request, including the first")
	fs.DurationVar(&r.initialDelay, "initial-delay", def.InitialDelay, "Base delay before the first retry")
	fs.DurationVar(&r.maxDelay, "max-delay", def.MaxDelay, "Upper bound for any retry delay")
	fs.Float64Var(&r.multiplier, "backoff-multiplier", def.BackoffMultiplier, "Exponential backoff multiplier")
	fs.IntSliceVar(&r.statusCodes, "retry-status", def.RetryableStatusCodes.Codes(), "Status codes that trigger a retry")
}

func (r *retryFlags) overrides(fs *pflag.FlagSet) retry.Overrides {
	var o retry.Overrides
	if fs.Changed("max-attempts") {
		o.MaxAttempts = retry.Int(r.maxAttempts)
	}
	if fs.Changed("initial-delay") {
		o.InitialDelay = retry.Duration(r.initialDelay)
	}
	if fs.Changed("max-delay") {
		o.MaxDelay = retry.Duration(r.maxDelay)
	}
	if fs.Changed("backoff-multiplier") {
		o.BackoffMultiplier = retry.Float(r.multiplier)
	}
	if fs.Changed("retry-status") {
		o.RetryableStatusCodes = append([]int{}, r.statusCodes...)
	}
	return o
}
