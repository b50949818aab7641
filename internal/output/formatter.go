package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wesleyorama2/barrage/internal/http"
	"github.com/wesleyorama2/barrage/internal/metrics"
	"github.com/wesleyorama2/barrage/internal/runner"
)

// Formatter renders requests, responses and run summaries as text.
type Formatter struct {
	Verbose bool
	NoColor bool

	colors *ColorScheme
}

// NewFormatter creates a new formatter with the given options
func NewFormatter(verbose, noColor bool) *Formatter {
	colors := DefaultColorScheme()
	if noColor {
		colors = NoColorScheme()
	}
	return &Formatter{Verbose: verbose, NoColor: noColor, colors: colors}
}

func (f *Formatter) scheme() *ColorScheme {
	if f.colors == nil {
		if f.NoColor {
			f.colors = NoColorScheme()
		} else {
			f.colors = DefaultColorScheme()
		}
	}
	return f.colors
}

// FormatRequest formats a request for display. Authorization values are
// masked.
func (f *Formatter) FormatRequest(spec *http.RequestSpec) string {
	c := f.scheme()
	var buf strings.Builder

	buf.WriteString(fmt.Sprintf("▶ REQUEST: %s %s\n", c.Method.Sprint(spec.Method), c.URL.Sprint(spec.URL)))

	if f.Verbose && len(spec.Headers) > 0 {
		buf.WriteString("  Headers:\n")
		for _, key := range sortedHeaderKeys(spec.Headers) {
			for _, value := range spec.Headers[key] {
				if strings.EqualFold(key, "Authorization") {
					value = maskCredential(value)
				}
				buf.WriteString(fmt.Sprintf("    %s: %s\n", c.HeaderKey.Sprint(key), value))
			}
		}
	}

	if len(spec.Body) > 0 {
		buf.WriteString("  Body: ")
		buf.WriteString(formatJSONString(string(spec.Body)))
		buf.WriteString("\n")
	}

	return buf.String()
}

// FormatResponse formats a response for display
func (f *Formatter) FormatResponse(resp *http.Response) string {
	c := f.scheme()
	var buf strings.Builder

	buf.WriteString(fmt.Sprintf("◀ RESPONSE: %s (%dms)\n",
		c.Status(resp.StatusCode).Sprint(resp.Status),
		resp.DurationMillis()))

	if resp.Attempts > 1 || resp.Outcome != http.OutcomeSuccess {
		buf.WriteString(fmt.Sprintf("  Attempts: %d (%s)\n", resp.Attempts, resp.Outcome))
	}

	if f.Verbose {
		buf.WriteString("  Timing:\n")
		for _, phase := range resp.Timing.Phases() {
			buf.WriteString(fmt.Sprintf("    %-19s %dms\n", phase.Name+":", phase.Duration.Milliseconds()))
		}
		buf.WriteString(fmt.Sprintf("    %-19s %dms\n", "Total:", resp.Timing.TotalTime.Milliseconds()))

		buf.WriteString("  Headers:\n")
		for _, key := range sortedHeaderKeys(resp.Headers) {
			for _, value := range resp.Headers[key] {
				buf.WriteString(fmt.Sprintf("    %s: %s\n", c.HeaderKey.Sprint(key), value))
			}
		}
	}

	if body := resp.BodyString(); body != "" {
		buf.WriteString("  Body:\n")
		buf.WriteString(formatJSONString(body))
		buf.WriteString("\n")
	}

	return buf.String()
}

// FormatSummary formats the end-of-run report. Either argument may be nil.
func (f *Formatter) FormatSummary(snap *metrics.Snapshot, stats *runner.Stats) string {
	c := f.scheme()
	var buf strings.Builder

	buf.WriteString(c.Label.Sprint("Summary"))
	buf.WriteString("\n")

	if stats != nil {
		buf.WriteString(fmt.Sprintf("  %-26s %s\n", "run_id", stats.RunID))
		buf.WriteString(fmt.Sprintf("  %-26s %d\n", "vus", stats.TargetVUs))
		buf.WriteString(fmt.Sprintf("  %-26s %s\n", "duration", stats.Elapsed.Round(time.Millisecond)))
		buf.WriteString(fmt.Sprintf("  %-26s %d (%.2f/s)\n", "iterations", stats.Iterations, stats.IterationsPerSecond()))
		if stats.FailedIterations > 0 {
			buf.WriteString(fmt.Sprintf("  %-26s %s\n", "failed_iterations",
				c.Error.Sprint(stats.FailedIterations)))
		}
	}

	if snap == nil {
		return buf.String()
	}

	rate := c.Success
	icon := SuccessIcon(f.NoColor)
	if snap.Failures > 0 {
		rate = c.Error
		icon = WarningIcon(f.NoColor)
	}

	buf.WriteString(fmt.Sprintf("  %-26s %d (%.2f/s)\n", "http_reqs", snap.Attempts, snap.RPS))
	buf.WriteString(fmt.Sprintf("%s %-26s %s (%d/%d)\n", icon, metrics.MetricSuccessRate,
		rate.Sprintf("%.2f%%", snap.SuccessRate*100), snap.Successes, snap.Attempts))
	buf.WriteString(fmt.Sprintf("  %-26s %d\n", metrics.MetricHTTPErrors, snap.HTTPErrors))
	if snap.TransportErrors > 0 {
		buf.WriteString(fmt.Sprintf("  %-26s %d\n", "transport_errors", snap.TransportErrors))
	}
	buf.WriteString(fmt.Sprintf("  %-26s %s\n", metrics.MetricDuration, formatLatency(snap.Latency)))

	if f.Verbose {
		for _, name := range snap.RequestNames() {
			buf.WriteString(fmt.Sprintf("    %s\n      %s\n", c.Highlight.Sprint(name), formatLatency(snap.Requests[name])))
		}
	}

	return buf.String()
}

func formatLatency(l metrics.LatencyStats) string {
	return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s p(99)=%s",
		roundLatency(l.Mean), roundLatency(l.Min), roundLatency(l.P50), roundLatency(l.Max),
		roundLatency(l.P90), roundLatency(l.P95), roundLatency(l.P99))
}

func roundLatency(d time.Duration) time.Duration {
	if d >= time.Millisecond {
		return d.Round(10 * time.Microsecond)
	}
	return d.Round(time.Microsecond)
}

// maskCredential keeps the scheme of an Authorization value and hides the rest.
func maskCredential(v string) string {
	if scheme, _, ok := strings.Cut(v, " "); ok {
		return scheme + " ***"
	}
	if v == "" {
		return v
	}
	return "***"
}

func sortedHeaderKeys(h map[string][]string) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatJSONString attempts to pretty-print a JSON string
func formatJSONString(s string) string {
	var prettyJSON bytes.Buffer
	err := json.Indent(&prettyJSON, []byte(s), "  ", "  ")
	if err != nil {
		return s
	}
	return prettyJSON.String()
}
