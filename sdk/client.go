// Package sdk provides a Go client for the examrunner API.
//
// The Exam service is the student-facing surface (run, save, poll, finish);
// the Agent service is what worker agents use to claim and report jobs.
//
// Usage:
//
//	client := sdk.New("http://localhost:3000", sdk.WithAgentKey("shared-secret"))
//
//	// Queue a run
//	run, err := client.Exam.RunCode(ctx, sdk.SubmitRequest{
//	    OwnerID:    "student-1",
//	    ExamID:     "midterm",
//	    QuestionID: "q1",
//	    Code:       "disp(42)",
//	})
//
//	// Poll until terminal
//	res, err := client.Exam.Result(ctx, run.JobID)
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Client is the examrunner API client.
type Client struct {
	baseURL    string
	agentKey   string
	httpClient *http.Client

	// Service accessors
	Exam  *ExamService
	Agent *AgentService
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAgentKey sets the shared secret sent on /agent requests.
func WithAgentKey(key string) Option {
	return func(c *Client) {
		c.agentKey = key
	}
}

// New creates a client. baseURL should be the root URL (e.g. "http://localhost:3000").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	c.Exam = &ExamService{c: c}
	c.Agent = &AgentService{c: c}
	return c
}

// Health checks that the server is reachable and healthy.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	return doRequest[HealthResponse](ctx, c, http.MethodGet, "/health", nil, nil, http.StatusOK)
}

// --- internal helpers ---

// gzipThreshold is the encoded body size above which requests are compressed
// when the caller asks for it. Reports carrying plots are the usual case.
const gzipThreshold = 1 << 10

type requestOptions struct {
	headers  map[string]string
	compress bool
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any, ro *requestOptions) (*http.Request, error) {
	var (
		bodyReader io.Reader
		gzipped    bool
	)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("sdk: marshal request: %w", err)
		}
		if ro != nil && ro.compress && len(b) > gzipThreshold {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			if _, err := zw.Write(b); err != nil {
				return nil, fmt.Errorf("sdk: compress request: %w", err)
			}
			if err := zw.Close(); err != nil {
				return nil, fmt.Errorf("sdk: compress request: %w", err)
			}
			b = buf.Bytes()
			gzipped = true
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if ro != nil {
		for k, v := range ro.headers {
			if v != "" {
				req.Header.Set(k, v)
			}
		}
	}
	return req, nil
}

func doRequest[T any](ctx context.Context, c *Client, method, path string, body any, ro *requestOptions, expectedStatus int) (*T, error) {
	req, err := c.newRequest(ctx, method, path, body, ro)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		return nil, parseError(resp)
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("sdk: decode response: %w", err)
	}
	return &out, nil
}

func parseError(resp *http.Response) *APIError {
	e := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error             string `json:"error"`
		RemainingAttempts *int   `json:"remaining_attempts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		e.Message = body.Error
	} else {
		e.Message = http.StatusText(resp.StatusCode)
	}
	if body.RemainingAttempts != nil {
		e.RemainingAttempts = *body.RemainingAttempts
	}
	return e
}
