// Package metrics records the outcome of every physical HTTP attempt.
package metrics

import (
	"time"
)

// AttemptResult is the outcome of one physical send.
type AttemptResult struct {
	// Name groups attempts for per-request statistics (e.g. "GET /v1/health").
	Name string

	// Method and URL of the logical request this attempt belongs to.
	Method string
	URL    string

	// Attempt is the 1-based attempt number within the logical request.
	Attempt int

	// Status is the HTTP status code, or 0 when the transport failed.
	Status int

	// Duration is the wall time of the attempt.
	Duration time.Duration

	// Bytes is the size of the response body.
	Bytes int64

	// Err is the transport error, if any.
	Err error
}

// Succeeded reports whether the attempt produced a 2xx or 3xx response.
func (r AttemptResult) Succeeded() bool {
	return r.Err == nil && r.Status >= 200 && r.Status < 400
}

// HTTPError reports whether the attempt produced a response with status >= 400.
func (r AttemptResult) HTTPError() bool {
	return r.Err == nil && r.Status >= 400
}

// TransportError reports whether the attempt failed without a response.
func (r AttemptResult) TransportError() bool {
	return r.Err != nil || r.Status == 0
}

// Sink receives every attempt. Implementations must be safe for concurrent
// use, must not panic and must return promptly.
type Sink interface {
	Record(result AttemptResult)
}

// NopSink discards everything.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(AttemptResult) {}

// SinkFunc adapts a function to Sink.
type SinkFunc func(AttemptResult)

// Record implements Sink.
func (f SinkFunc) Record(r AttemptResult) { f(r) }

var (
	_ Sink = NopSink{}
	_ Sink = SinkFunc(nil)
	_ Sink = (*Engine)(nil)
)
