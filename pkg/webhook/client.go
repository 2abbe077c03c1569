// Package webhook provides a client for the n8n automation webhook that
// generates personalized outreach messages.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// DefaultMessage is used when a successful response carries no message.
const DefaultMessage = "Response received from webhook"

const maxErrorBody = 200

// Sender posts a payload to a webhook endpoint. Implementations never return
// a Go error: every failure is reported through Response.
type Sender interface {
	Send(ctx context.Context, endpoint string, payload any) Response
}

// Response is the normalized outcome of one webhook call.
type Response struct {
	Success             bool            `json:"success"`
	StatusCode          int             `json:"statusCode,omitempty"`
	Message             string          `json:"message"`
	PersonalizedMessage string          `json:"personalizedMessage,omitempty"`
	SearchParameters    json.RawMessage `json:"searchParameters,omitempty"`
	BatchResults        []BatchResult   `json:"batchResults,omitempty"`
	Raw                 json.RawMessage `json:"raw,omitempty"`
	Error               string          `json:"error,omitempty"`
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-attempt request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(p resilience.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// Client posts JSON payloads to webhook endpoints.
type Client struct {
	http      *http.Client
	policy    resilience.Policy
	userAgent string
}

// NewClient creates a webhook client. By default it makes a single attempt
// per call with a 60 second timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		policy:    resilience.SingleAttempt(),
		userAgent: "outreach-cli/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rawResponse struct {
	status int
	body   []byte
}

// Send posts payload as JSON to endpoint.
func (c *Client) Send(ctx context.Context, endpoint string, payload any) Response {
	body, err := json.Marshal(payload)
	if err != nil {
		return failure(0, eris.Wrap(err, "webhook: encode payload"))
	}

	raw, err := resilience.Do(ctx, c.policy, "webhook.send", func(ctx context.Context) (rawResponse, error) {
		return c.post(ctx, endpoint, body)
	})
	if err != nil {
		var se *resilience.StatusError
		if errors.As(err, &se) {
			return failure(se.StatusCode, err)
		}
		return failure(0, err)
	}

	return parseResponse(raw)
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (rawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return rawResponse{}, eris.Wrap(err, "webhook: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return rawResponse{}, eris.Wrap(err, "webhook: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return rawResponse{}, eris.Wrap(err, "webhook: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rawResponse{}, eris.Wrap(&resilience.StatusError{
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(data)), maxErrorBody),
		}, "webhook")
	}
	return rawResponse{status: resp.StatusCode, body: data}, nil
}

// responseBody lists the fields the automation workflow may return. Every
// field is optional.
type responseBody struct {
	Success             *bool           `json:"success"`
	Message             string          `json:"message"`
	PersonalizedMessage string          `json:"personalizedMessage"`
	Output              string          `json:"output"`
	Error               json.RawMessage `json:"error"`
	SearchParameters    json.RawMessage `json:"searchParameters"`
	BatchResults        []BatchResult   `json:"batchResults"`
}

func parseResponse(raw rawResponse) Response {
	out := Response{
		Success:    true,
		StatusCode: raw.status,
		Message:    DefaultMessage,
	}

	data := bytes.TrimSpace(raw.body)
	if len(data) == 0 {
		return out
	}

	body, ok := decodeBody(data)
	if !ok {
		return out
	}
	out.Raw = json.RawMessage(data)

	if body.Message != "" {
		out.Message = body.Message
	}
	out.PersonalizedMessage = firstNonEmpty(body.PersonalizedMessage, body.Output, body.Message)
	out.SearchParameters = body.SearchParameters
	out.BatchResults = body.BatchResults

	if errText := errorText(body.Error); errText != "" || (body.Success != nil && !*body.Success) {
		out.Success = false
		out.Error = firstNonEmpty(errText, body.Message, "webhook reported failure")
	}
	return out
}

// decodeBody accepts either an object or an n8n-style array whose first
// element is the object.
func decodeBody(data []byte) (responseBody, bool) {
	var body responseBody
	switch data[0] {
	case '{':
		if err := json.Unmarshal(data, &body); err != nil {
			return body, false
		}
		return body, true
	case '[':
		var items []responseBody
		if err := json.Unmarshal(data, &items); err != nil || len(items) == 0 {
			return body, false
		}
		return items[0], true
	default:
		return body, false
	}
}

func errorText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func failure(status int, err error) Response {
	return Response{
		Success:    false,
		StatusCode: status,
		Message:    "Webhook call failed",
		Error:      err.Error(),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
