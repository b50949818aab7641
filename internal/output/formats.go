package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/barrage/internal/http"
	"github.com/wesleyorama2/barrage/internal/metrics"
	"github.com/wesleyorama2/barrage/internal/runner"
)

// OutputFormat represents the available output formats
type OutputFormat string

const (
	// FormatText is the default human-readable text format
	FormatText OutputFormat = "text"
	// FormatJSON outputs in JSON format
	FormatJSON OutputFormat = "json"
	// FormatYAML outputs in YAML format
	FormatYAML OutputFormat = "yaml"
)

// ParseFormat validates a --output value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want text, json or yaml)", s)
	}
}

// TimingData is the per-phase timing of the final attempt, in milliseconds.
type TimingData struct {
	DNSLookup       int64 `json:"dnsLookupMs" yaml:"dnsLookupMs"`
	TCPConnection   int64 `json:"tcpConnectionMs" yaml:"tcpConnectionMs"`
	TLSHandshake    int64 `json:"tlsHandshakeMs" yaml:"tlsHandshakeMs"`
	TimeToFirstByte int64 `json:"timeToFirstByteMs" yaml:"timeToFirstByteMs"`
	ContentTransfer int64 `json:"contentTransferMs" yaml:"contentTransferMs"`
	Total           int64 `json:"totalMs" yaml:"totalMs"`
}

// ResponseData is the structured form of a response.
type ResponseData struct {
	StatusCode   int               `json:"statusCode" yaml:"statusCode"`
	Status       string            `json:"status" yaml:"status"`
	Attempts     int               `json:"attempts" yaml:"attempts"`
	Outcome      string            `json:"outcome" yaml:"outcome"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body         interface{}       `json:"body,omitempty" yaml:"body,omitempty"`
	ResponseTime int64             `json:"responseTimeMs" yaml:"responseTimeMs"`
	Timing       *TimingData       `json:"timing,omitempty" yaml:"timing,omitempty"`
}

// NewResponseData converts resp. JSON bodies are kept structured; anything
// else is carried as a string.
func NewResponseData(resp *http.Response, verbose bool) *ResponseData {
	data := &ResponseData{
		StatusCode:   resp.StatusCode,
		Status:       resp.Status,
		Attempts:     resp.Attempts,
		Outcome:      resp.Outcome.String(),
		ResponseTime: resp.DurationMillis(),
	}

	if len(resp.Body) > 0 {
		var body interface{}
		if err := json.Unmarshal(resp.Body, &body); err == nil {
			data.Body = body
		} else {
			data.Body = string(resp.Body)
		}
	}

	if verbose {
		data.Headers = make(map[string]string, len(resp.Headers))
		for key, values := range resp.Headers {
			data.Headers[key] = strings.Join(values, ", ")
		}
		t := resp.Timing
		data.Timing = &TimingData{
			DNSLookup:       t.DNSLookupTime.Milliseconds(),
			TCPConnection:   t.TCPConnectTime.Milliseconds(),
			TLSHandshake:    t.TLSHandshakeTime.Milliseconds(),
			TimeToFirstByte: t.TimeToFirstByte.Milliseconds(),
			ContentTransfer: t.ContentTransferTime.Milliseconds(),
			Total:           t.TotalTime.Milliseconds(),
		}
	}
	return data
}

// LatencyData is a latency trend in milliseconds.
type LatencyData struct {
	Count int64   `json:"count" yaml:"count"`
	Min   float64 `json:"min" yaml:"min"`
	Mean  float64 `json:"avg" yaml:"avg"`
	P50   float64 `json:"med" yaml:"med"`
	P90   float64 `json:"p90" yaml:"p90"`
	P95   float64 `json:"p95" yaml:"p95"`
	P99   float64 `json:"p99" yaml:"p99"`
	Max   float64 `json:"max" yaml:"max"`
}

func newLatencyData(l metrics.LatencyStats) LatencyData {
	return LatencyData{
		Count: l.Count,
		Min:   millis(l.Min),
		Mean:  millis(l.Mean),
		P50:   millis(l.P50),
		P90:   millis(l.P90),
		P95:   millis(l.P95),
		P99:   millis(l.P99),
		Max:   millis(l.Max),
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// SummaryData is the structured end-of-run report.
type SummaryData struct {
	TestName    string `json:"testName,omitempty" yaml:"testName,omitempty"`
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`
	RunID       string `json:"runId,omitempty" yaml:"runId,omitempty"`

	VUs              int     `json:"vus" yaml:"vus"`
	DurationMs       int64   `json:"durationMs" yaml:"durationMs"`
	Iterations       int64   `json:"iterations" yaml:"iterations"`
	FailedIterations int64   `json:"failedIterations" yaml:"failedIterations"`
	IterationRate    float64 `json:"iterationsPerSecond" yaml:"iterationsPerSecond"`

	Requests        int64                  `json:"http_reqs" yaml:"http_reqs"`
	RPS             float64                `json:"rps" yaml:"rps"`
	SuccessRate     float64                `json:"success_rate" yaml:"success_rate"`
	HTTPErrors      int64                  `json:"http_errors" yaml:"http_errors"`
	TransportErrors int64                  `json:"transport_errors" yaml:"transport_errors"`
	Duration        LatencyData            `json:"http_req_duration_trend" yaml:"http_req_duration_trend"`
	ByName          map[string]LatencyData `json:"byName,omitempty" yaml:"byName,omitempty"`

	Timestamp string `json:"timestamp" yaml:"timestamp"`
}

// NewSummaryData combines a metrics snapshot and runner stats. Either may
// be nil.
func NewSummaryData(testName, env string, snap *metrics.Snapshot, stats *runner.Stats) *SummaryData {
	s := &SummaryData{
		TestName:    testName,
		Environment: env,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if stats != nil {
		s.RunID = stats.RunID
		s.VUs = stats.TargetVUs
		s.DurationMs = stats.Elapsed.Milliseconds()
		s.Iterations = stats.Iterations
		s.FailedIterations = stats.FailedIterations
		s.IterationRate = stats.IterationsPerSecond()
	}
	if snap != nil {
		s.Requests = snap.Attempts
		s.RPS = snap.RPS
		s.SuccessRate = snap.SuccessRate
		s.HTTPErrors = snap.HTTPErrors
		s.TransportErrors = snap.TransportErrors
		s.Duration = newLatencyData(snap.Latency)
		if names := snap.RequestNames(); len(names) > 0 {
			s.ByName = make(map[string]LatencyData, len(names))
			for _, name := range names {
				s.ByName[name] = newLatencyData(snap.Requests[name])
			}
		}
	}
	return s
}

// Encode writes v to w in the given structured format.
func Encode(w io.Writer, format OutputFormat, v interface{}) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %q is not a structured format", format)
	}
}
