// Package diagnostics probes a webhook endpoint for reachability, CORS,
// POST support and URL shape, and turns the findings into a health verdict.
// Diagnostics are advisory: nothing here blocks a personalization run.
package diagnostics

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status is the verdict of one probe.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Overall is the aggregated health of an endpoint.
type Overall string

const (
	Healthy  Overall = "healthy"
	Degraded Overall = "degraded"
	Critical Overall = "critical"
)

// Probe names, in report order.
const (
	ProbeConnectivity = "connectivity"
	ProbeCORS         = "cors"
	ProbePOST         = "post"
	ProbeURLFormat    = "url_format"
)

// RequestSnapshot records what a probe sent.
type RequestSnapshot struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// ResponseSnapshot records what a probe received.
type ResponseSnapshot struct {
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// TestResult is the outcome of one probe.
type TestResult struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Timestamp    time.Time         `json:"timestamp"`
	Status       Status            `json:"status"`
	Message      string            `json:"message,omitempty"`
	ResponseTime time.Duration     `json:"responseTime"`
	HTTPStatus   int               `json:"httpStatus,omitempty"`
	ContentType  string            `json:"contentType,omitempty"`
	ResponseSize int               `json:"responseSize,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	Request      *RequestSnapshot  `json:"request,omitempty"`
	Response     *ResponseSnapshot `json:"response,omitempty"`
}

// Report aggregates every probe of one diagnostics run.
type Report struct {
	Endpoint        string       `json:"endpoint"`
	Timestamp       time.Time    `json:"timestamp"`
	Overall         Overall      `json:"overall"`
	Results         []TestResult `json:"results"`
	Recommendations []string     `json:"recommendations"`
}

// Result returns the probe result with the given name.
func (r Report) Result(name string) (TestResult, bool) {
	for _, tr := range r.Results {
		if tr.Name == name {
			return tr, true
		}
	}
	return TestResult{}, false
}

// Option configures a Suite.
type Option func(*Suite)

// WithHTTPClient sets the client used by network probes.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Suite) { s.http = hc }
}

// WithTimeout sets the per-probe timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Suite) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithOrigin sets the Origin header sent by the CORS probe.
func WithOrigin(origin string) Option {
	return func(s *Suite) {
		if origin != "" {
			s.origin = origin
		}
	}
}

// Suite runs the four endpoint probes.
type Suite struct {
	http    *http.Client
	timeout time.Duration
	origin  string
	now     func() time.Time
	log     *zap.Logger
}

// New creates a Suite with a 10 second probe timeout.
func New(opts ...Option) *Suite {
	s := &Suite{
		http:    &http.Client{},
		timeout: 10 * time.Second,
		origin:  "http://localhost:8080",
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "diagnostics")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run probes endpoint concurrently and aggregates the results. Results are
// always reported in connectivity, cors, post, url_format order.
func (s *Suite) Run(ctx context.Context, endpoint string) Report {
	probes := []func(context.Context, string) TestResult{
		s.checkConnectivity,
		s.checkCORS,
		s.checkPOST,
		func(_ context.Context, endpoint string) TestResult { return ValidateURL(endpoint) },
	}

	results := make([]TestResult, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, probe := range probes {
		g.Go(func() error {
			results[i] = probe(gctx, endpoint)
			return nil
		})
	}
	_ = g.Wait() // probes report failures in their results

	report := Report{
		Endpoint:        endpoint,
		Timestamp:       s.now().UTC(),
		Overall:         Aggregate(results),
		Results:         results,
		Recommendations: Recommendations(results),
	}
	s.log.Info("diagnostics complete",
		zap.String("endpoint", endpoint),
		zap.String("overall", string(report.Overall)),
		zap.Int("recommendations", len(report.Recommendations)),
	)
	return report
}

func newResult(name string, now time.Time) TestResult {
	return TestResult{ID: uuid.New().String(), Name: name, Timestamp: now.UTC()}
}
