package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/barrage/internal/metrics"
	"github.com/wesleyorama2/barrage/internal/retry"
)

// step is one scripted attempt result: a status or a transport error.
type step struct {
	status int
	err    error
}

// scriptedTransport replays steps in order and remembers what it was sent.
type scriptedTransport struct {
	mu    sync.Mutex
	steps []step
	specs []*RequestSpec
	ctxs  []context.Context
}

func (s *scriptedTransport) Send(ctx context.Context, spec *RequestSpec) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.specs = append(s.specs, spec)
	s.ctxs = append(s.ctxs, ctx)
	if len(s.specs) > len(s.steps) {
		return nil, fmt.Errorf("unexpected attempt %d", len(s.specs))
	}
	st := s.steps[len(s.specs)-1]
	if st.err != nil {
		return nil, st.err
	}
	return &Response{
		StatusCode: st.status,
		Status:     http.StatusText(st.status),
		Headers:    http.Header{},
		Body:       []byte(fmt.Sprintf(`{"status":%d}`, st.status)),
	}, nil
}

func (s *scriptedTransport) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.specs)
}

type recordingSink struct {
	mu      sync.Mutex
	results []metrics.AttemptResult
}

func (r *recordingSink) Record(a metrics.AttemptResult) {
	r.mu.Lock()
	r.results = append(r.results, a)
	r.mu.Unlock()
}

type recordingSleeper struct {
	delays []time.Duration
	err    error
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return r.err
}

var errConnRefused = errors.New("dial tcp 127.0.0.1:1: connect: connection refused")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	exec      *Executor
	transport *scriptedTransport
	sink      *recordingSink
	sleeper   *recordingSleeper
}

func newHarness(cfg retry.Config, steps ...step) *harness {
	h := &harness{
		transport: &scriptedTransport{steps: steps},
		sink:      &recordingSink{},
		sleeper:   &recordingSleeper{},
	}
	h.exec = NewExecutor(
		WithTransport(h.transport),
		WithDefaultRetryConfig(cfg),
		WithSink(h.sink),
		WithSleeper(h.sleeper.Sleep),
		WithBackoff(retry.NewBackoff(1)),
		WithLogger(quietLogger()),
	)
	return h
}

func TestExecutor_RetryableStatusExhausted(t *testing.T) {
	h := newHarness(retry.DefaultConfig(), step{status: 503}, step{status: 503}, step{status: 503})

	resp, err := h.exec.Get(context.Background(), "https://api.example.com", "/v1/health", nil)
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, 503, resp.StatusCode)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, OutcomeExhaustedResponse, resp.Outcome)
	assert.Equal(t, 3, h.transport.calls())
	assert.Len(t, h.sleeper.delays, 2)

	require.Len(t, h.sink.results, 3)
	for i, r := range h.sink.results {
		assert.Equal(t, i+1, r.Attempt)
		assert.Equal(t, 503, r.Status)
		assert.False(t, r.Succeeded())
		assert.True(t, r.HTTPError())
	}
}

func TestExecutor_TransportErrorExhausted(t *testing.T) {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 2
	h := newHarness(cfg, step{err: errConnRefused}, step{err: errConnRefused})

	resp, err := h.exec.Post(context.Background(), "https://api.example.com", "orders", map[string]int{"id": 1}, nil)
	require.Error(t, err)
	assert.Nil(t, resp)

	var exhausted *RetryExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Equal(t, "POST", exhausted.Method)
	assert.Equal(t, "https://api.example.com/orders", exhausted.URL)
	assert.True(t, errors.Is(err, errConnRefused))
	assert.Equal(t,
		"HTTP POST https://api.example.com/orders failed after 2 attempts: "+errConnRefused.Error(),
		err.Error())

	require.Len(t, h.sink.results, 2)
	for _, r := range h.sink.results {
		assert.True(t, r.TransportError())
		assert.Zero(t, r.Status)
	}
	assert.Len(t, h.sleeper.delays, 1)
}

func TestExecutor_RecoversOnSecondAttempt(t *testing.T) {
	h := newHarness(retry.DefaultConfig(), step{status: 503}, step{status: 200})

	resp, err := h.exec.Get(context.Background(), "https://api.example.com", "/v1/health", nil)
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, OutcomeSuccess, resp.Outcome)
	require.Len(t, h.sink.results, 2)
	assert.Equal(t, 503, h.sink.results[0].Status)
	assert.Equal(t, 200, h.sink.results[1].Status)
}

func TestExecutor_TransportErrorThenSuccess(t *testing.T) {
	h := newHarness(retry.DefaultConfig(), step{err: errConnRefused}, step{status: 201})

	resp, err := h.exec.Put(context.Background(), "https://api.example.com", "/items/1", "raw", nil)
	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, 2, resp.Attempts)
}

func TestExecutor_SuccessStatusesSingleAttempt(t *testing.T) {
	for _, status := range []int{200, 201, 204, 301, 302, 304, 399} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			h := newHarness(retry.DefaultConfig(), step{status: status})

			resp, err := h.exec.Get(context.Background(), "https://api.example.com", "/", nil)
			require.NoError(t, err)
			assert.Equal(t, status, resp.StatusCode)
			assert.Equal(t, OutcomeSuccess, resp.Outcome)
			assert.Equal(t, 1, h.transport.calls())
			assert.Empty(t, h.sleeper.delays)
		})
	}
}

func TestExecutor_NonRetryableStatusSingleAttempt(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404, 409, 422, 501} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			h := newHarness(retry.DefaultConfig(), step{status: status}, step{status: 200})

			resp, err := h.exec.Delete(context.Background(), "https://api.example.com", "/items/1", nil)
			require.NoError(t, err)
			assert.Equal(t, status, resp.StatusCode)
			assert.Equal(t, OutcomeTerminalFailure, resp.Outcome)
			assert.Equal(t, 1, resp.Attempts)
			assert.Equal(t, 1, h.transport.calls())
		})
	}
}

func TestExecutor_RetryableStatusesUseMaxAttempts(t *testing.T) {
	for _, status := range retry.DefaultRetryableStatusCodes {
		for _, max := range []int{1, 2, 5} {
			t.Run(fmt.Sprintf("%d/%d", status, max), func(t *testing.T) {
				cfg := retry.DefaultConfig()
				cfg.MaxAttempts = max
				steps := make([]step, max)
				for i := range steps {
					steps[i] = step{status: status}
				}
				h := newHarness(cfg, steps...)

				resp, err := h.exec.Get(context.Background(), "https://api.example.com", "/", nil)
				require.NoError(t, err)
				assert.Equal(t, max, resp.Attempts)
				assert.Equal(t, max, h.transport.calls())
				assert.Len(t, h.sleeper.delays, max-1)
			})
		}
	}
}

func TestExecutor_CustomRetryableSet(t *testing.T) {
	cfg := retry.DefaultConfig()
	cfg.RetryableStatusCodes = retry.NewStatusSet(418)
	h := newHarness(cfg, step{status: 418}, step{status: 503})

	resp, err := h.exec.Get(context.Background(), "https://api.example.com", "/", nil)
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	assert.Equal(t, OutcomeTerminalFailure, resp.Outcome)
	assert.Equal(t, 2, h.transport.calls())
}

func TestExecutor_BackoffDelaysWithinBounds(t *testing.T) {
	cfg := retry.Config{
		MaxAttempts:       4,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          250 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	h := newHarness(cfg, step{status: 500}, step{status: 500}, step{status: 500}, step{status: 500})

	_, err := h.exec.Get(context.Background(), "https://api.example.com", "/", nil)
	require.NoError(t, err)
	require.Len(t, h.sleeper.delays, 3)

	resolved := retry.MustResolve(cfg)
	for i, d := range h.sleeper.delays {
		base := retry.Base(i+1, resolved)
		floor := base / 2
		if floor > cfg.MaxDelay {
			floor = cfg.MaxDelay
		}
		if d < floor || d > base || d > cfg.MaxDelay {
			t.Errorf("delay %d = %v, want within [%v, min(%v, %v)]", i+1, d, floor, base, cfg.MaxDelay)
		}
	}
}

func TestExecutor_Do(t *testing.T) {
	h := newHarness(retry.DefaultConfig(), step{status: 200})

	resp, err := h.exec.Do(context.Background(), "patch", "https://api.example.com/", "/users/7", []byte(`{"a":1}`), nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	spec := h.transport.specs[0]
	assert.Equal(t, MethodPatch, spec.Method)
	assert.Equal(t, "https://api.example.com/users/7", spec.URL)
	assert.Equal(t, `{"a":1}`, string(spec.Body))
	assert.Equal(t, "PATCH /users/7", spec.Name)
}

func TestExecutor_UnsupportedMethod(t *testing.T) {
	h := newHarness(retry.DefaultConfig(), step{status: 200})

	resp, err := h.exec.Do(context.Background(), "HEAD", "https://api.example.com", "/", nil, nil)
	assert.Nil(t, resp)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.True(t, errors.Is(err, retry.ErrUnsupportedMethod))
	assert.Zero(t, h.transport.calls())
	assert.Empty(t, h.sink.results)

	_, err = h.exec.Execute(context.Background(), &RequestSpec{Method: Method(99), URL: "http://x"}, retry.DefaultConfig())
	assert.True(t, errors.As(err, &cfgErr))
	assert.Zero(t, h.transport.calls())
}

func TestExecutor_InvalidConfig(t *testing.T) {
	h := newHarness(retry.DefaultConfig(), step{status: 200})

	bad := retry.DefaultConfig()
	bad.MaxAttempts = 0
	_, err := h.exec.Get(context.Background(), "https://api.example.com", "/", nil, WithRetryConfig(bad))

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "MaxAttempts", cfgErr.Field)
	assert.Zero(t, h.transport.calls())

	// An invalid default policy fails every call the same way.
	broken := NewExecutor(
		WithTransport(h.transport),
		WithDefaultRetryConfig(retry.Config{MaxAttempts: -1, BackoffMultiplier: 2}),
		WithLogger(quietLogger()),
	)
	_, err = broken.Get(context.Background(), "https://api.example.com", "/", nil)
	assert.True(t, errors.As(err, &cfgErr))
	assert.Zero(t, h.transport.calls())
}

func TestExecutor_PerCallRetryConfigWins(t *testing.T) {
	h := newHarness(retry.DefaultConfig(), step{status: 503}, step{status: 503}, step{status: 503})

	one := retry.DefaultConfig()
	one.MaxAttempts = 1
	resp, err := h.exec.Get(context.Background(), "https://api.example.com", "/", nil, WithRetryConfig(one), WithName("probe"))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, "probe", h.sink.results[0].Name)
}

func TestExecutor_CancelledDuringBackoff(t *testing.T) {
	t.Run("after a response", func(t *testing.T) {
		h := newHarness(retry.DefaultConfig(), step{status: 503}, step{status: 200})
		h.sleeper.err = context.DeadlineExceeded

		resp, err := h.exec.Get(context.Background(), "https://api.example.com", "/", nil)
		require.NoError(t, err)
		assert.Equal(t, 503, resp.StatusCode)
		assert.Equal(t, OutcomeExhaustedResponse, resp.Outcome)
		assert.Equal(t, 1, h.transport.calls())
	})

	t.Run("after a transport error", func(t *testing.T) {
		h := newHarness(retry.DefaultConfig(), step{err: errConnRefused}, step{status: 200})
		h.sleeper.err = context.Canceled

		_, err := h.exec.Get(context.Background(), "https://api.example.com", "/", nil)
		var exhausted *RetryExhaustedError
		require.True(t, errors.As(err, &exhausted))
		assert.Equal(t, 1, exhausted.Attempts)
		assert.True(t, errors.Is(err, errConnRefused))
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestExecutor_CallerCancelledAttemptNotRecorded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := TransportFunc(func(ctx context.Context, spec *RequestSpec) (*Response, error) {
		cancel()
		return nil, ctx.Err()
	})
	sink := &recordingSink{}
	exec := NewExecutor(
		WithTransport(tr),
		WithDefaultRetryConfig(retry.DefaultConfig()),
		WithSink(sink),
		WithLogger(quietLogger()),
	)

	_, err := exec.Get(ctx, "https://api.example.com", "/", nil)
	var exhausted *RetryExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, exhausted.Attempts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.results)
}

func TestExecutor_SinkPanicDoesNotFailCall(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: 200}}}
	exec := NewExecutor(
		WithTransport(tr),
		WithDefaultRetryConfig(retry.DefaultConfig()),
		WithSink(metrics.SinkFunc(func(metrics.AttemptResult) { panic("boom") })),
		WithLogger(quietLogger()),
	)

	resp, err := exec.Get(context.Background(), "https://api.example.com", "/", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestExecutor_HeadersAndToken(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: 200}, {status: 200}}}
	exec := NewExecutor(
		WithTransport(tr),
		WithDefaultRetryConfig(retry.DefaultConfig()),
		WithTokenSource(TokenFunc(func(context.Context) (string, error) { return "t0k3n", nil })),
		WithUserAgent("smoke"),
		WithLogger(quietLogger()),
	)

	_, err := exec.Get(context.Background(), "https://api.example.com", "/", map[string]string{"X-Req": "1"})
	require.NoError(t, err)
	_, err = exec.Get(context.Background(), "https://api.example.com", "/", map[string]string{"Authorization": "Bearer mine"})
	require.NoError(t, err)

	first, second := tr.specs[0].Headers, tr.specs[1].Headers
	assert.Equal(t, "Bearer t0k3n", first.Get("Authorization"))
	assert.Equal(t, "smoke", first.Get("User-Agent"))
	assert.Equal(t, "1", first.Get("X-Req"))
	assert.Equal(t, "Bearer mine", second.Get("Authorization"))
}

func TestExecutor_SameSpecForEveryAttempt(t *testing.T) {
	h := newHarness(retry.DefaultConfig(), step{status: 502}, step{err: errConnRefused}, step{status: 200})

	_, err := h.exec.Post(context.Background(), "https://api.example.com", "/orders", map[string]string{"sku": "x"}, nil)
	require.NoError(t, err)
	require.Len(t, h.transport.specs, 3)
	for _, spec := range h.transport.specs[1:] {
		assert.Same(t, h.transport.specs[0], spec)
	}
	assert.JSONEq(t, `{"sku":"x"}`, string(h.transport.specs[0].Body))
}

func TestExecutor_PerAttemptTimeout(t *testing.T) {
	h := newHarness(retry.DefaultConfig(), step{status: 200})

	_, err := h.exec.Get(context.Background(), "https://api.example.com", "/", nil, WithTimeout(2*time.Second))
	require.NoError(t, err)

	deadline, ok := h.transport.ctxs[0].Deadline()
	require.True(t, ok, "attempt context should carry a deadline")
	assert.WithinDuration(t, time.Now().Add(2*time.Second), deadline, time.Second)
}

func TestExecutor_DefaultConfigFromEnv(t *testing.T) {
	t.Setenv(retry.EnvMaxAttempts, "5")
	t.Setenv(retry.EnvInitialDelay, "")

	cfg, err := NewExecutor(WithLogger(quietLogger())).RetryConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, retry.DefaultInitialDelay, cfg.InitialDelay)
}

func TestExecutor_AgainstServer(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), DefaultUserAgent) {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	engine := metrics.NewEngine()
	exec := NewExecutor(
		WithTransport(NewClient(WithClientTimeout(5*time.Second))),
		WithDefaultRetryConfig(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiplier: 2}),
		WithSink(engine),
		WithLogger(quietLogger()),
	)

	resp, err := exec.Get(context.Background(), server.URL+"/", "/health", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 3, resp.Attempts)

	v, err := resp.Extract("$.ok")
	require.NoError(t, err)
	assert.Equal(t, "true", v)

	snap := engine.Snapshot()
	assert.EqualValues(t, 3, snap.Attempts)
	assert.EqualValues(t, 2, snap.HTTPErrors)
	assert.EqualValues(t, 1, snap.Successes)
	assert.Contains(t, snap.Requests, "GET /health")
}

func TestExecutor_ConcurrentCalls(t *testing.T) {
	var sent atomic.Int64
	tr := TransportFunc(func(ctx context.Context, spec *RequestSpec) (*Response, error) {
		if sent.Add(1)%2 == 1 {
			return &Response{StatusCode: 503}, nil
		}
		return &Response{StatusCode: 200}, nil
	})

	engine := metrics.NewEngine()
	exec := NewExecutor(
		WithTransport(tr),
		WithDefaultRetryConfig(retry.Config{MaxAttempts: 10, BackoffMultiplier: 1}),
		WithSink(engine),
		WithLogger(quietLogger()),
	)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := exec.Get(context.Background(), "http://svc", "/", nil); err != nil {
					t.Errorf("Get: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, sent.Load(), engine.Snapshot().Attempts)
}

func TestOutcome_Result(t *testing.T) {
	resp := &Response{StatusCode: 200}
	for _, kind := range []OutcomeKind{OutcomeSuccess, OutcomeTerminalFailure, OutcomeExhaustedResponse} {
		got, err := Outcome{Kind: kind, Response: resp}.Result()
		assert.NoError(t, err, kind.String())
		assert.Same(t, resp, got)
	}

	exhausted := &RetryExhaustedError{Method: "GET", URL: "u", Attempts: 1, Err: errConnRefused}
	got, err := Outcome{Kind: OutcomeExhaustedError, Err: exhausted}.Result()
	assert.Nil(t, got)
	assert.Same(t, exhausted, err)
	assert.Equal(t, "exhausted_error", OutcomeExhaustedError.String())
}

func TestContextSleep(t *testing.T) {
	require.NoError(t, ContextSleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := ContextSleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
