package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxSnapshotBody = 1024

// testPayload is sent by the POST probe.
type testPayload struct {
	Test      bool      `json:"test"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// checkConnectivity issues a HEAD request. Any response counts as reachable;
// only timeouts and transport failures are errors.
func (s *Suite) checkConnectivity(ctx context.Context, endpoint string) TestResult {
	res := newResult(ProbeConnectivity, s.now())
	res.Request = &RequestSnapshot{Method: http.MethodHead, URL: endpoint}

	resp, elapsed, err := s.do(ctx, http.MethodHead, endpoint, nil, nil)
	res.ResponseTime = elapsed
	if err != nil {
		res.Status = StatusError
		res.ErrorMessage = err.Error()
		res.Message = "Endpoint is not reachable"
		return res
	}
	res.HTTPStatus = resp.status
	res.Response = &ResponseSnapshot{Headers: resp.headers}
	res.Status = StatusSuccess
	res.Message = fmt.Sprintf("Endpoint reachable (HTTP %d)", resp.status)
	return res
}

// checkCORS issues a preflight request. A missing allow-origin header is a
// warning, never an error.
func (s *Suite) checkCORS(ctx context.Context, endpoint string) TestResult {
	res := newResult(ProbeCORS, s.now())
	headers := map[string]string{
		"Origin":                         s.origin,
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "content-type",
	}
	res.Request = &RequestSnapshot{Method: http.MethodOptions, URL: endpoint, Headers: headers}

	resp, elapsed, err := s.do(ctx, http.MethodOptions, endpoint, headers, nil)
	res.ResponseTime = elapsed
	if err != nil {
		res.Status = StatusWarning
		res.ErrorMessage = err.Error()
		res.Message = "CORS preflight failed"
		return res
	}
	res.HTTPStatus = resp.status
	res.Response = &ResponseSnapshot{Headers: corsHeaders(resp.headers)}

	if allow := resp.headers["Access-Control-Allow-Origin"]; allow != "" {
		res.Status = StatusSuccess
		res.Message = fmt.Sprintf("CORS allows origin %s", allow)
		return res
	}
	res.Status = StatusWarning
	res.Message = "No Access-Control-Allow-Origin header in preflight response"
	return res
}

// checkPOST sends a fixed test payload and expects a 2xx answer.
func (s *Suite) checkPOST(ctx context.Context, endpoint string) TestResult {
	res := newResult(ProbePOST, s.now())

	body, _ := json.Marshal(testPayload{
		Test:      true,
		Message:   "Diagnostics test from outreach-cli",
		Source:    "diagnostics",
		Timestamp: s.now().UTC(),
	})
	headers := map[string]string{"Content-Type": "application/json"}
	res.Request = &RequestSnapshot{Method: http.MethodPost, URL: endpoint, Headers: headers, Body: string(body)}

	resp, elapsed, err := s.do(ctx, http.MethodPost, endpoint, headers, body)
	res.ResponseTime = elapsed
	if err != nil {
		res.Status = StatusError
		res.ErrorMessage = err.Error()
		res.Message = "POST request failed"
		return res
	}

	res.HTTPStatus = resp.status
	res.ContentType = resp.headers["Content-Type"]
	res.ResponseSize = len(resp.body)
	res.Response = &ResponseSnapshot{Headers: resp.headers, Body: truncate(string(resp.body), maxSnapshotBody)}

	if resp.status >= 200 && resp.status < 300 {
		res.Status = StatusSuccess
		res.Message = fmt.Sprintf("POST accepted (HTTP %d)", resp.status)
		return res
	}
	res.Status = StatusError
	res.ErrorMessage = fmt.Sprintf("HTTP %d %s", resp.status, http.StatusText(resp.status))
	res.Message = "POST rejected"
	return res
}

type probeResponse struct {
	status  int
	headers map[string]string
	body    []byte
}

func (s *Suite) do(ctx context.Context, method, endpoint string, headers map[string]string, body []byte) (*probeResponse, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return nil, 0, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, time.Since(start), err
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, err
	}

	flat := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		flat[k] = resp.Header.Get(k)
	}
	return &probeResponse{status: resp.StatusCode, headers: flat, body: data}, elapsed, nil
}

func corsHeaders(h map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range h {
		if strings.HasPrefix(k, "Access-Control-") {
			out[k] = v
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
