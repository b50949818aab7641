package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wesleyorama2/barrage/internal/auth"
	"github.com/wesleyorama2/barrage/internal/config"
	"github.com/wesleyorama2/barrage/internal/http"
	"github.com/wesleyorama2/barrage/internal/metrics"
	"github.com/wesleyorama2/barrage/internal/output"
	"github.com/wesleyorama2/barrage/internal/runner"
)

const (
	defaultRunVUs      = 1
	defaultRunDuration = 30 * time.Second
)

type runOptions struct {
	configPath string
	env        string
	endpoint   string
	method     string
	vus        int
	duration   time.Duration
	rate       float64
	json       bool
	format     string
	verbose    bool
	timeout    time.Duration
	insecure   bool
	retry      retryFlags
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a constant-VU load test from a configuration file",
		Long: `Run loads a YAML test configuration, applies the environment selected
by --env (or BARRAGE_ENV), and hammers one endpoint with a fixed number of
virtual users for a fixed duration. Every request goes through the
retrying executor; a metrics summary is printed at the end.`,
		Example: `  barrage run -c weather.yaml
  barrage run -c weather.yaml --env staging --endpoint health --vus 20 --duration 1m
  barrage run -c weather.yaml --rate 50 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, g, o)
		},
	}

	o.bind(cmd.Flags())
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func (o *runOptions) bind(flags *pflag.FlagSet) {
	flags.StringVarP(&o.configPath, "config", "c", "", "Path to the test configuration file")
	flags.StringVarP(&o.env, "env", "e", "", "Environment block to apply (default $BARRAGE_ENV or dev)")
	flags.StringVar(&o.endpoint, "endpoint", "", "Endpoint name or path to hit (default load.endpoint)")
	flags.StringVarP(&o.method, "method", "X", "", "HTTP method (default load.method or GET)")
	flags.IntVar(&o.vus, "vus", defaultRunVUs, "Number of virtual users")
	flags.DurationVarP(&o.duration, "duration", "d", defaultRunDuration, "Test duration")
	flags.Float64Var(&o.rate, "rate", 0, "Cap on iterations per second across all VUs (0 = unlimited)")
	flags.BoolVar(&o.json, "json", false, "Print the summary as JSON (same as -o json)")
	flags.StringVarP(&o.format, "output", "o", string(output.FormatText), "Summary format (text, json, yaml)")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "Show per-request latency breakdown")
	flags.DurationVarP(&o.timeout, "timeout", "t", 30*time.Second, "Per-attempt timeout")
	flags.BoolVar(&o.insecure, "insecure", false, "Skip TLS certificate verification")
	o.retry.bind(flags)
}

// loadPlan is the resolved target of a run.
type loadPlan struct {
	name     string
	method   http.Method
	baseURL  string
	path     string
	headers  map[string]string
	body     interface{}
	settings runner.Config
}

func runLoad(cmd *cobra.Command, g *globalOptions, o *runOptions) error {
	log := g.log()

	format, err := output.ParseFormat(o.format)
	if err != nil {
		return err
	}
	if o.json {
		format = output.FormatJSON
	}

	env := o.env
	if env == "" {
		env = config.CurrentEnvironment(nil)
	}
	cfg, err := config.Load(o.configPath, env)
	if err != nil {
		return err
	}
	for _, w := range cfg.Warnings() {
		log.Warn("config warning", "file", o.configPath, "warning", w)
	}

	plan, err := o.plan(cmd, cfg)
	if err != nil {
		return err
	}

	retryCfg, err := cfg.RetryConfig(nil, o.retry.overrides(cmd.Flags()))
	if err != nil {
		return err
	}

	clientOpts := []http.ClientOption{http.WithClientTimeout(o.timeout)}
	if o.insecure {
		clientOpts = append(clientOpts, http.WithInsecureSkipVerify())
	}
	client := http.NewClient(clientOpts...)

	tokens, err := auth.New(cfg.Auth, nil, client.HTTPClient())
	if err != nil {
		return err
	}

	engine := metrics.NewEngine().WithLogger(log)
	exec := http.NewExecutor(
		http.WithTransport(client),
		http.WithDefaultRetryConfig(retryCfg),
		http.WithSink(engine),
		http.WithTokenSource(tokens),
		http.WithLogger(log),
	)

	vus, err := runner.NewConstantVUs(plan.settings, runner.WithMetrics(engine), runner.WithLogger(log))
	if err != nil {
		return err
	}

	log.Info("load test configured",
		"test", cfg.TestName,
		"environment", env,
		"target", plan.name,
		"retry", retryCfg.String(),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := vus.Run(ctx, plan.iteration(exec))
	if err != nil {
		return err
	}

	snap := engine.Snapshot()
	out := cmd.OutOrStdout()
	if format == output.FormatText {
		fmt.Fprint(out, output.NewFormatter(o.verbose, g.colorsDisabled()).FormatSummary(snap, stats))
		return nil
	}
	return output.Encode(out, format, output.NewSummaryData(cfg.TestName, cfg.Environment, snap, stats))
}

// plan merges flags over the load block. Flags win only when set.
func (o *runOptions) plan(cmd *cobra.Command, cfg *config.TestConfig) (*loadPlan, error) {
	flags := cmd.Flags()
	load := cfg.Load

	endpoint := load.Endpoint
	if flags.Changed("endpoint") {
		endpoint = o.endpoint
	}
	if endpoint == "" {
		if len(cfg.Endpoints) != 1 {
			return nil, fmt.Errorf("no endpoint selected: set load.endpoint or --endpoint (known: %s)", strings.Join(endpointNames(cfg), ", "))
		}
		for name := range cfg.Endpoints {
			endpoint = name
		}
	}

	methodName := load.Method
	if flags.Changed("method") {
		methodName = o.method
	}
	if methodName == "" {
		methodName = http.MethodGet.String()
	}
	method, err := http.ParseMethod(methodName)
	if err != nil {
		return nil, err
	}

	settings := runner.Config{VUs: defaultRunVUs, Duration: defaultRunDuration, Rate: load.Rate}
	if load.VUs > 0 {
		settings.VUs = load.VUs
	}
	if load.Duration > 0 {
		settings.Duration = load.Duration.Std()
	}
	if flags.Changed("vus") {
		settings.VUs = o.vus
	}
	if flags.Changed("duration") {
		settings.Duration = o.duration
	}
	if flags.Changed("rate") {
		settings.Rate = o.rate
	}

	headers := make(map[string]string, len(cfg.Headers)+len(load.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	for k, v := range load.Headers {
		headers[k] = v
	}

	var body interface{}
	if method.SendsBody() {
		body = load.Body
	}

	return &loadPlan{
		name:     method.String() + " " + endpoint,
		method:   method,
		baseURL:  cfg.BaseURL,
		path:     cfg.EndpointPath(endpoint),
		headers:  headers,
		body:     body,
		settings: settings,
	}, nil
}

// iteration sends one request. Anything but a 2xx final response counts as
// a failed iteration.
func (p *loadPlan) iteration(exec *http.Executor) runner.Iteration {
	return func(ctx context.Context, vu runner.VU) error {
		resp, err := exec.Do(ctx, p.method.String(), p.baseURL, p.path, p.body, p.headers, http.WithName(p.name))
		if err != nil {
			return err
		}
		if !resp.IsSuccess() {
			return fmt.Errorf("%s: HTTP %d after %d attempt(s)", p.name, resp.StatusCode, resp.Attempts)
		}
		return nil
	}
}

func endpointNames(cfg *config.TestConfig) []string {
	names := make([]string, 0, len(cfg.Endpoints))
	for name := range cfg.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
