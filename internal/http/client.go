package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

// Transport sends exactly one physical attempt. A non-nil error means no
// HTTP response was obtained (connection refused, timeout, DNS failure).
type Transport interface {
	Send(ctx context.Context, spec *RequestSpec) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, spec *RequestSpec) (*Response, error)

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, spec *RequestSpec) (*Response, error) {
	return f(ctx, spec)
}

// Client is the net/http backed Transport. It performs no retries itself
// and captures per-phase timing for each send.
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	httpClient *http.Client
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// NewClient creates a new HTTP client with the given options.
func NewClient(options ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// WithClientTimeout sets the per-attempt timeout. The default is 30 seconds.
func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient sets a custom *http.Client for this client.
// Use this for advanced configuration like custom transports or TLS settings.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// WARNING: This should only be used for testing purposes.
func WithInsecureSkipVerify() ClientOption {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
}

// HTTPClient exposes the underlying client, e.g. for OAuth2 token exchange.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Send executes one attempt and returns the response with timing
// information. The body is read fully and the connection released.
func (c *Client) Send(ctx context.Context, spec *RequestSpec) (*Response, error) {
	if spec == nil {
		return nil, errors.New("http: nil request spec")
	}

	var bodyReader io.Reader
	if spec.Body != nil {
		bodyReader = bytes.NewReader(spec.Body)
	}

	httpReq, err := http.NewRequest(spec.Method.String(), spec.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", spec.Method, spec.URL, err)
	}
	for key, values := range spec.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	timing := TimingInfo{
		StartTime: time.Now(),
	}

	var dnsStart, connectStart, tlsHandshakeStart time.Time
	var dnsDone, connectDone bool
	lastPhaseEnd := timing.StartTime // end of the last completed phase

	trace := &httptrace.ClientTrace{
		DNSStart: func(info httptrace.DNSStartInfo) {
			dnsStart = time.Now()
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			dnsEnd := time.Now()
			timing.DNSLookupTime = dnsEnd.Sub(dnsStart)
			dnsDone = true
			lastPhaseEnd = dnsEnd
		},
		ConnectStart: func(network, addr string) {
			if dnsDone || dnsStart.IsZero() {
				connectStart = time.Now()
			}
		},
		ConnectDone: func(network, addr string, err error) {
			if err == nil && !connectStart.IsZero() {
				connectEnd := time.Now()
				timing.TCPConnectTime = connectEnd.Sub(connectStart)
				connectDone = true
				lastPhaseEnd = connectEnd
			}
		},
		TLSHandshakeStart: func() {
			if connectDone {
				tlsHandshakeStart = time.Now()
			}
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			if err == nil && !tlsHandshakeStart.IsZero() {
				tlsHandshakeEnd := time.Now()
				timing.TLSHandshakeTime = tlsHandshakeEnd.Sub(tlsHandshakeStart)
				lastPhaseEnd = tlsHandshakeEnd
			}
		},
		GotFirstResponseByte: func() {
			timing.TimeToFirstByte = time.Since(lastPhaseEnd)
		},
	}

	httpReq = httpReq.WithContext(httptrace.WithClientTrace(ctx, trace))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	contentTransferStart := time.Now()
	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	timing.ContentTransferTime = time.Since(contentTransferStart)
	timing.TotalTime = time.Since(timing.StartTime)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Headers:    httpResp.Header,
		Body:       bodyBytes,
		Duration:   timing.TotalTime,
		Timing:     timing,
	}, nil
}
