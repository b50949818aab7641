package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wesleyorama2/barrage/internal/metrics"
	"github.com/wesleyorama2/barrage/internal/retry"
)

// OutcomeKind is the terminal state of a logical request.
type OutcomeKind int

const (
	// OutcomeSuccess: a 2xx or 3xx response.
	OutcomeSuccess OutcomeKind = iota + 1
	// OutcomeTerminalFailure: a status the retry policy does not cover.
	OutcomeTerminalFailure
	// OutcomeExhaustedResponse: the last attempt still had a retryable status.
	OutcomeExhaustedResponse
	// OutcomeExhaustedError: the last attempt produced no response.
	OutcomeExhaustedError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTerminalFailure:
		return "terminal_failure"
	case OutcomeExhaustedResponse:
		return "exhausted_response"
	case OutcomeExhaustedError:
		return "exhausted_error"
	default:
		return "unknown"
	}
}

// Outcome is what Execute returns. Exactly one of Response and Err is set.
type Outcome struct {
	Kind     OutcomeKind
	Response *Response
	Err      *RetryExhaustedError
	Attempts int
}

// Result maps the outcome onto the public (response, error) shape: every
// kind with a response returns it, OutcomeExhaustedError returns Err.
func (o Outcome) Result() (*Response, error) {
	if o.Kind == OutcomeExhaustedError {
		return nil, o.Err
	}
	return o.Response, nil
}

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Executor turns logical requests into one or more attempts according to
// a retry policy. It holds no per-call state and may be shared.
type Executor struct {
	transport Transport
	headers   HeaderBuilder
	backoff   *retry.Backoff
	sink      metrics.Sink
	sleep     Sleeper
	log       *slog.Logger

	retry    retry.Config
	retryErr error
	retrySet bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTransport sets the attempt transport. Defaults to NewClient().
func WithTransport(t Transport) ExecutorOption {
	return func(e *Executor) {
		if t != nil {
			e.transport = t
		}
	}
}

// WithDefaultRetryConfig sets the policy used when a call does not pass
// WithRetryConfig. Without it the policy comes from HTTP_RETRY_* on top of
// the defaults.
func WithDefaultRetryConfig(cfg retry.Config) ExecutorOption {
	return func(e *Executor) {
		e.retry, e.retryErr = retry.Resolve(cfg)
		e.retrySet = true
	}
}

// WithBackoff injects the delay calculator, e.g. a seeded one.
func WithBackoff(b *retry.Backoff) ExecutorOption {
	return func(e *Executor) {
		if b != nil {
			e.backoff = b
		}
	}
}

// WithSink sets where attempt results are reported.
func WithSink(s metrics.Sink) ExecutorOption {
	return func(e *Executor) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithSleeper replaces the backoff sleep.
func WithSleeper(s Sleeper) ExecutorOption {
	return func(e *Executor) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithLogger sets the logger for retry and failure lines.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.log = l
			e.headers.Log = l
		}
	}
}

// WithTokenSource sets the ambient bearer token source.
func WithTokenSource(ts TokenSource) ExecutorOption {
	return func(e *Executor) {
		e.headers.Tokens = ts
	}
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) ExecutorOption {
	return func(e *Executor) {
		e.headers.UserAgent = ua
	}
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		sink:  metrics.NopSink{},
		sleep: ContextSleep,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.transport == nil {
		e.transport = NewClient()
	}
	if e.backoff == nil {
		e.backoff = retry.NewRandomBackoff()
	}
	if !e.retrySet {
		e.retry, e.retryErr = retry.FromEnv(nil)
	}
	return e
}

// RetryConfig returns the executor's default policy.
func (e *Executor) RetryConfig() (retry.Config, error) {
	return e.retry, e.retryErr
}

// CallOption adjusts a single logical request.
type CallOption func(*callOptions)

type callOptions struct {
	retry   *retry.Config
	name    string
	timeout time.Duration
}

// WithRetryConfig replaces the executor's policy for one call.
func WithRetryConfig(cfg retry.Config) CallOption {
	return func(o *callOptions) {
		o.retry = &cfg
	}
}

// WithName sets the metrics tag for one call.
func WithName(name string) CallOption {
	return func(o *callOptions) {
		o.name = name
	}
}

// WithTimeout bounds each attempt of one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// Get sends a GET request.
func (e *Executor) Get(ctx context.Context, baseURL, endpoint string, headers map[string]string, opts ...CallOption) (*Response, error) {
	return e.send(ctx, MethodGet, baseURL, endpoint, nil, headers, opts)
}

// Post sends a POST request with body.
func (e *Executor) Post(ctx context.Context, baseURL, endpoint string, body interface{}, headers map[string]string, opts ...CallOption) (*Response, error) {
	return e.send(ctx, MethodPost, baseURL, endpoint, body, headers, opts)
}

// Put sends a PUT request with body.
func (e *Executor) Put(ctx context.Context, baseURL, endpoint string, body interface{}, headers map[string]string, opts ...CallOption) (*Response, error) {
	return e.send(ctx, MethodPut, baseURL, endpoint, body, headers, opts)
}

// Patch sends a PATCH request with body.
func (e *Executor) Patch(ctx context.Context, baseURL, endpoint string, body interface{}, headers map[string]string, opts ...CallOption) (*Response, error) {
	return e.send(ctx, MethodPatch, baseURL, endpoint, body, headers, opts)
}

// Delete sends a DELETE request.
func (e *Executor) Delete(ctx context.Context, baseURL, endpoint string, headers map[string]string, opts ...CallOption) (*Response, error) {
	return e.send(ctx, MethodDelete, baseURL, endpoint, nil, headers, opts)
}

// Do sends a request whose method is given by name. Unsupported methods
// fail with a *ConfigurationError before anything is sent.
func (e *Executor) Do(ctx context.Context, method, baseURL, endpoint string, body interface{}, headers map[string]string, opts ...CallOption) (*Response, error) {
	m, err := ParseMethod(method)
	if err != nil {
		return nil, err
	}
	return e.send(ctx, m, baseURL, endpoint, body, headers, opts)
}

func (e *Executor) send(ctx context.Context, method Method, baseURL, endpoint string, body interface{}, headers map[string]string, opts []CallOption) (*Response, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	cfg, cfgErr := e.retry, e.retryErr
	if co.retry != nil {
		cfg, cfgErr = *co.retry, nil
	}
	if cfgErr != nil {
		return nil, cfgErr
	}

	payload, err := EncodeBody(body)
	if err != nil {
		return nil, err
	}

	name := co.name
	if name == "" {
		name = method.String() + " /" + strings.TrimPrefix(endpoint, "/")
	}

	spec := &RequestSpec{
		Method:  method,
		URL:     BuildURL(baseURL, endpoint),
		Body:    payload,
		Headers: e.headers.Build(ctx, headers),
		Name:    name,
	}

	if co.timeout > 0 {
		ctx = withAttemptTimeout(ctx, co.timeout)
	}

	outcome, err := e.Execute(ctx, spec, cfg)
	if err != nil {
		return nil, err
	}
	return outcome.Result()
}

type attemptTimeoutKey struct{}

func withAttemptTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, attemptTimeoutKey{}, d)
}

func attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d, ok := ctx.Value(attemptTimeoutKey{}).(time.Duration); ok && d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return ctx, func() {}
}

type state int

const (
	stateAttempting state = iota
	stateResponded
	stateAttemptFailed
	stateBackoff
	stateDone
)

// execution is the per-call state of the retry loop.
type execution struct {
	spec *RequestSpec
	cfg  retry.Config

	attempt  int
	lastResp *Response
	lastErr  error
	outcome  Outcome
}

// Execute runs the retry state machine for spec under cfg. The returned
// error is non-nil only when cfg is invalid or spec names an unsupported
// method; in that case nothing was sent.
func (e *Executor) Execute(ctx context.Context, spec *RequestSpec, cfg retry.Config) (Outcome, error) {
	if spec == nil || !spec.Method.Valid() {
		method := "<nil>"
		if spec != nil {
			method = spec.Method.String()
		}
		return Outcome{}, unsupportedMethod(method)
	}
	cfg, err := retry.Resolve(cfg)
	if err != nil {
		return Outcome{}, err
	}

	x := &execution{spec: spec, cfg: cfg}
	st := stateAttempting
	for st != stateDone {
		switch st {
		case stateAttempting:
			st = e.attempt(ctx, x)
		case stateResponded:
			st = e.responded(x)
		case stateAttemptFailed:
			st = e.attemptFailed(x)
		case stateBackoff:
			st = e.wait(ctx, x)
		}
	}
	return x.outcome, nil
}

func (e *Executor) attempt(ctx context.Context, x *execution) state {
	x.attempt++

	attemptCtx, cancel := attemptContext(ctx)
	start := time.Now()
	resp, err := e.transport.Send(attemptCtx, x.spec)
	elapsed := time.Since(start)
	cancel()

	result := metrics.AttemptResult{
		Name:     x.spec.Name,
		Method:   x.spec.Method.String(),
		URL:      x.spec.URL,
		Attempt:  x.attempt,
		Duration: elapsed,
	}

	if err != nil || resp == nil {
		if err == nil {
			err = errors.New("transport returned no response")
		}
		x.lastErr = err
		if ctx.Err() != nil {
			// The caller gave up; the attempt is not a measurement.
			return x.fail(err)
		}
		result.Err = err
		e.record(result)
		return stateAttemptFailed
	}

	resp.Attempts = x.attempt
	x.lastResp = resp
	x.lastErr = nil
	result.Status = resp.StatusCode
	result.Bytes = int64(len(resp.Body))
	e.record(result)
	return stateResponded
}

func (e *Executor) responded(x *execution) state {
	status := x.lastResp.StatusCode
	switch {
	case status >= 200 && status < 400:
		return x.finish(OutcomeSuccess)
	case !x.cfg.IsRetryable(status):
		e.log.Warn("request failed with non-retryable status",
			"method", x.spec.Method.String(),
			"url", x.spec.URL,
			"status", status,
			"attempt", x.attempt,
		)
		return x.finish(OutcomeTerminalFailure)
	case x.attempt >= x.cfg.MaxAttempts:
		e.log.Warn("retries exhausted",
			"method", x.spec.Method.String(),
			"url", x.spec.URL,
			"status", status,
			"attempts", x.attempt,
		)
		return x.finish(OutcomeExhaustedResponse)
	default:
		return stateBackoff
	}
}

func (e *Executor) attemptFailed(x *execution) state {
	e.log.Error("request attempt failed",
		"method", x.spec.Method.String(),
		"url", x.spec.URL,
		"attempt", x.attempt,
		"max_attempts", x.cfg.MaxAttempts,
		"error", x.lastErr,
	)
	if x.attempt >= x.cfg.MaxAttempts {
		return x.fail(x.lastErr)
	}
	return stateBackoff
}

func (e *Executor) wait(ctx context.Context, x *execution) state {
	delay := e.backoff.Delay(x.attempt, x.cfg)

	attrs := []any{
		"method", x.spec.Method.String(),
		"url", x.spec.URL,
		"delay", delay,
	}
	if x.lastErr == nil {
		attrs = append(attrs, "status", x.lastResp.StatusCode)
	}
	e.log.Info(fmt.Sprintf("retry attempt %d/%d", x.attempt+1, x.cfg.MaxAttempts), attrs...)

	if err := e.sleep(ctx, delay); err != nil {
		if x.lastErr == nil {
			return x.finish(OutcomeExhaustedResponse)
		}
		return x.fail(fmt.Errorf("%w (retry aborted: %w)", x.lastErr, err))
	}
	return stateAttempting
}

func (x *execution) finish(kind OutcomeKind) state {
	x.lastResp.Outcome = kind
	x.outcome = Outcome{Kind: kind, Response: x.lastResp, Attempts: x.attempt}
	return stateDone
}

func (x *execution) fail(err error) state {
	x.outcome = Outcome{
		Kind: OutcomeExhaustedError,
		Err: &RetryExhaustedError{
			Method:   x.spec.Method.String(),
			URL:      x.spec.URL,
			Attempts: x.attempt,
			Err:      err,
		},
		Attempts: x.attempt,
	}
	return stateDone
}

// record reports one attempt. A misbehaving sink never affects the call.
func (e *Executor) record(r metrics.AttemptResult) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("metrics sink panicked", "panic", p, "name", r.Name)
		}
	}()
	e.sink.Record(r)
}
