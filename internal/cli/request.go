package cli

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/barrage/internal/auth"
	"github.com/wesleyorama2/barrage/internal/http"
	"github.com/wesleyorama2/barrage/internal/output"
	"github.com/wesleyorama2/barrage/internal/retry"
)

var requestMethods = []http.Method{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

type requestOptions struct {
	headers  []string
	data     string
	verbose  bool
	timeout  time.Duration
	insecure bool
	format   string
	retry    retryFlags
}

func newRequestCmd(g *globalOptions, method http.Method) *cobra.Command {
	o := &requestOptions{}
	name := strings.ToLower(method.String())

	cmd := &cobra.Command{
		Use:   name + " URL",
		Short: fmt.Sprintf("Make a %s request to the specified URL, retrying transient failures", method),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, g, o, method, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&o.headers, "header", "H", nil, "HTTP headers to include (can be used multiple times)")
	if method.SendsBody() {
		flags.StringVarP(&o.data, "data", "d", "", "Request body, sent as-is")
	}
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "Enable verbose output")
	flags.DurationVarP(&o.timeout, "timeout", "t", 30*time.Second, "Per-attempt timeout")
	flags.BoolVar(&o.insecure, "insecure", false, "Skip TLS certificate verification")
	flags.StringVarP(&o.format, "output", "o", string(output.FormatText), "Output format (text, json, yaml)")
	o.retry.bind(flags)

	return cmd
}

func runRequest(cmd *cobra.Command, g *globalOptions, o *requestOptions, method http.Method, rawURL string) error {
	format, err := output.ParseFormat(o.format)
	if err != nil {
		return err
	}
	headers, err := parseHeaders(o.headers)
	if err != nil {
		return err
	}

	cfg, err := retry.Resolve(retry.Merge(retry.DefaultConfig(),
		retry.OverridesFromEnv(nil),
		o.retry.overrides(cmd.Flags()),
	))
	if err != nil {
		return err
	}

	clientOpts := []http.ClientOption{http.WithClientTimeout(o.timeout)}
	if o.insecure {
		clientOpts = append(clientOpts, http.WithInsecureSkipVerify())
	}
	tokens := auth.EnvToken{}
	exec := http.NewExecutor(
		http.WithTransport(http.NewClient(clientOpts...)),
		http.WithDefaultRetryConfig(cfg),
		http.WithTokenSource(tokens),
		http.WithLogger(g.log()),
	)

	baseURL, path := parseURL(rawURL)
	var body interface{}
	if o.data != "" {
		body = o.data
	}

	out := cmd.OutOrStdout()
	formatter := output.NewFormatter(o.verbose, g.colorsDisabled())
	if format == output.FormatText {
		payload, _ := http.EncodeBody(body)
		builder := http.HeaderBuilder{Tokens: tokens, Log: g.log()}
		fmt.Fprint(out, formatter.FormatRequest(&http.RequestSpec{
			Method:  method,
			URL:     http.BuildURL(baseURL, path),
			Body:    payload,
			Headers: builder.Build(cmd.Context(), headers),
		}))
	}

	resp, err := exec.Do(cmd.Context(), method.String(), baseURL, path, body, headers)
	if err != nil {
		return err
	}

	if format == output.FormatText {
		fmt.Fprint(out, formatter.FormatResponse(resp))
	} else if err := output.Encode(out, format, output.NewResponseData(resp, o.verbose)); err != nil {
		return err
	}

	if resp.Outcome != http.OutcomeSuccess {
		return fmt.Errorf("%s %s: %s after %d attempt(s)", method, rawURL, resp.Status, resp.Attempts)
	}
	return nil
}

// parseHeaders turns "Key: Value" flags into a map. Later flags win.
func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		key, value, ok := strings.Cut(h, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Key: Value\"", h)
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers, nil
}

// parseURL splits a URL into base URL and path
func parseURL(fullURL string) (string, string) {
	// Add scheme if missing
	if !strings.HasPrefix(fullURL, "http://") && !strings.HasPrefix(fullURL, "https://") {
		fullURL = "http://" + fullURL
	}

	parsedURL, err := url.Parse(fullURL)
	if err != nil {
		return fullURL, "/"
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	if parsedURL.User != nil {
		baseURL = fmt.Sprintf("%s://%s@%s", parsedURL.Scheme, parsedURL.User.String(), parsedURL.Host)
	}

	path := parsedURL.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsedURL.RawQuery != "" {
		path = path + "?" + parsedURL.RawQuery
	}

	return baseURL, path
}
