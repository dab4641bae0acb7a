// Package probe runs one-shot connectivity diagnostics against the analysis
// backend.
//
// A Prober performs a single round trip per call and never returns an
// error: every failure, including the timeout, is reported in the Result.
// Calls on the same Prober supersede each other: starting a probe cancels
// the one in flight, and the older call's result is discarded.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/jsonquery"
	"github.com/go-logr/logr"
	"github.com/konveyor/analysis-tracker/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/http/httpproxy"
	"golang.org/x/oauth2"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultStatusPath = "//status"

	unknownStatus = "unknown"
	maxBodySize   = 1 << 20
)

// Result is the outcome of one probe.
type Result struct {
	Success        bool      `json:"success" yaml:"success"`
	ResponseTimeMs float64   `json:"responseTimeMs,omitempty" yaml:"responseTimeMs,omitempty"`
	Status         string    `json:"status,omitempty" yaml:"status,omitempty"`
	Error          string    `json:"error,omitempty" yaml:"error,omitempty"`
	Endpoint       string    `json:"endpoint" yaml:"endpoint"`
	CheckedAt      time.Time `json:"checkedAt" yaml:"checkedAt"`
	// Superseded is set on the result returned to a call that was replaced
	// by a newer probe before its round trip finished.
	Superseded bool `json:"superseded,omitempty" yaml:"superseded,omitempty"`
}

// Prober checks connectivity to an endpoint.
type Prober struct {
	timeout    time.Duration
	statusPath string
	token      string
	proxy      *httpproxy.Config
	client     *http.Client
	log        logr.Logger

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
	latest *Result
	closed bool
}

// Option configures a Prober.
type Option func(p *Prober)

// WithTimeout bounds each round trip. Defaults to DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		p.timeout = d
	}
}

// WithStatusPath sets the jsonquery expression used to read the status
// indicator from an HTTP response body. Defaults to DefaultStatusPath.
func WithStatusPath(path string) Option {
	return func(p *Prober) {
		p.statusPath = path
	}
}

// WithToken sends token as a bearer token on every request.
func WithToken(token string) Option {
	return func(p *Prober) {
		p.token = token
	}
}

// WithProxy routes http and https probes through the proxies in cfg. Use
// httpproxy.FromEnvironment() for the usual HTTP_PROXY variables. Ignored
// when WithHTTPClient is set.
func WithProxy(cfg *httpproxy.Config) Option {
	return func(p *Prober) {
		p.proxy = cfg
	}
}

// WithHTTPClient replaces the HTTP client used for http and https endpoints.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Prober) {
		p.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(p *Prober) {
		p.log = log
	}
}

// New creates a Prober.
func New(opts ...Option) *Prober {
	p := &Prober{
		timeout:    DefaultTimeout,
		statusPath: DefaultStatusPath,
		log:        logr.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = newHTTPClient(p.proxy)
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.statusPath == "" {
		p.statusPath = DefaultStatusPath
	}
	if p.token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, p.client)
		p.client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: p.token}))
	}
	return p
}

func newHTTPClient(proxy *httpproxy.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	if proxy != nil {
		proxyFunc := proxy.ProxyFunc()
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			return proxyFunc(req.URL)
		}
	}
	return &http.Client{Transport: transport}
}

// Timeout is the upper bound of one round trip.
func (p *Prober) Timeout() time.Duration {
	return p.timeout
}

// Probe performs one round trip against endpoint. Supported schemes are
// http, https, grpc and grpcs; gRPC endpoints are checked with the standard
// health service, the URL path naming the service.
//
// Probe returns within the configured timeout. If another Probe call on the
// same Prober starts meanwhile, this call is cancelled and returns a result
// with Superseded set.
func (p *Prober) Probe(ctx context.Context, endpoint string) Result {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return failed(endpoint, "connectivity probe is closed")
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.seq++
	seq := p.seq
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	ctx, span := tracing.StartNewSpan(ctx, "connectivity-probe", attribute.String("endpoint", endpoint))
	defer span.End()

	res := p.roundTrip(ctx, endpoint)
	span.SetAttributes(
		attribute.Bool("success", res.Success),
		attribute.Float64("response_time_ms", res.ResponseTimeMs),
	)
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.log.V(1).Info("discarding probe result after close", "endpoint", endpoint)
		return failed(endpoint, "connectivity probe was closed before the result arrived")
	}
	if seq != p.seq {
		p.log.V(1).Info("discarding superseded probe result", "endpoint", endpoint)
		stale := failed(endpoint, "superseded by a newer probe")
		stale.Superseded = true
		return stale
	}
	p.cancel = nil
	p.latest = &res
	if res.Success {
		p.log.Info("connectivity probe succeeded", "endpoint", endpoint, "responseTimeMs", res.ResponseTimeMs, "status", res.Status)
	} else {
		p.log.Info("connectivity probe failed", "endpoint", endpoint, "error", res.Error)
	}
	return res
}

// Latest returns the most recent published result.
func (p *Prober) Latest() (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return Result{}, false
	}
	return *p.latest, true
}

// InFlight reports whether a probe is running.
func (p *Prober) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Close cancels the probe in flight. Results that arrive afterwards are
// discarded and later calls fail immediately.
func (p *Prober) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Checklist is what to verify when a probe fails.
func Checklist() []string {
	return []string{
		"Is the backend service running?",
		"Is the Cloudflare tunnel up?",
		"Do firewall settings allow the connection?",
	}
}

func (p *Prober) roundTrip(ctx context.Context, endpoint string) Result {
	u, err := url.Parse(endpoint)
	if err != nil {
		return failed(endpoint, fmt.Sprintf("invalid endpoint: %v", err))
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https", "grpc", "grpcs":
	default:
		return failed(endpoint, fmt.Sprintf("unsupported endpoint scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return failed(endpoint, fmt.Sprintf("invalid endpoint %q: missing host", endpoint))
	}

	start := time.Now()
	var res Result
	switch scheme {
	case "http", "https":
		res = p.checkHTTP(ctx, u)
	default:
		res = p.checkGRPC(ctx, u, scheme == "grpcs")
	}
	res.Endpoint = endpoint
	res.CheckedAt = start
	if res.Success {
		res.ResponseTimeMs = elapsedMs(start)
	} else if res.Error == "" {
		res.Error = "Unknown error"
	}
	if res.Error != "" && ctx.Err() != nil {
		res.Error = p.contextError(ctx)
	}
	return res
}

func (p *Prober) checkHTTP(ctx context.Context, u *url.URL) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{Error: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{Error: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Result{Error: fmt.Sprintf("failed to read response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{Error: fmt.Sprintf("server responded with status %d", resp.StatusCode)}
	}
	return Result{Success: true, Status: p.statusFrom(body)}
}

// statusFrom reads the status indicator from a JSON body.
func (p *Prober) statusFrom(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return unknownStatus
	}
	doc, err := jsonquery.Parse(bytes.NewReader(body))
	if err != nil {
		p.log.V(1).Info("response is not JSON, status unknown", "error", err.Error())
		return unknownStatus
	}
	node, err := jsonquery.Query(doc, p.statusPath)
	if err != nil {
		p.log.V(1).Info("invalid status path", "path", p.statusPath, "error", err.Error())
		return unknownStatus
	}
	if node == nil {
		return unknownStatus
	}
	if status := strings.TrimSpace(node.InnerText()); status != "" {
		return status
	}
	return unknownStatus
}

func (p *Prober) contextError(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("no response within %s", p.timeout)
	}
	return "connectivity probe was cancelled"
}

func failed(endpoint, msg string) Result {
	return Result{Endpoint: endpoint, Error: msg, CheckedAt: time.Now()}
}

// elapsedMs is the wall-clock latency in milliseconds, at microsecond
// resolution so a loopback call is still positive.
func elapsedMs(start time.Time) float64 {
	ms := float64(time.Since(start).Microseconds()) / 1000
	if ms <= 0 {
		ms = 0.001
	}
	return ms
}
