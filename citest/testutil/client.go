package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/opencode-ai/eventstream/internal/server"
	"github.com/opencode-ai/eventstream/internal/transport"
)

// TestClient provides HTTP client utilities for testing
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a new test HTTP client
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// RequestOption configures HTTP requests
type RequestOption func(*http.Request)

// WithQuery adds query parameters
func WithQuery(params map[string]string) RequestOption {
	return func(r *http.Request) {
		q := r.URL.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		r.URL.RawQuery = q.Encode()
	}
}

// Response wraps HTTP response with helpers
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals response body into v
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// String returns response body as string
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get performs HTTP GET request
func (c *TestClient) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, opts...)
}

// Post performs HTTP POST request with JSON body
func (c *TestClient) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body, opts...)
}

// do performs the actual HTTP request
func (c *TestClient) do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// ---- Event API Helpers ----

// Publish posts an event to every open stream
func (c *TestClient) Publish(ctx context.Context, kind string, properties any) error {
	body := map[string]any{"type": kind}
	if properties != nil {
		body["properties"] = properties
	}
	resp, err := c.Post(ctx, "/event", body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("publish failed with status %d: %s", resp.StatusCode, resp.String())
	}
	return nil
}

// Recent returns the most recent published events; limit 0 returns all kept events
func (c *TestClient) Recent(ctx context.Context, limit int) ([]transport.Envelope, error) {
	resp, err := c.Get(ctx, "/event/recent", WithQuery(map[string]string{"limit": strconv.Itoa(limit)}))
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("recent failed with status %d: %s", resp.StatusCode, resp.String())
	}

	var events []transport.Envelope
	if err := resp.JSON(&events); err != nil {
		return nil, err
	}
	return events, nil
}

// Disconnect ends every open stream and returns how many there were
func (c *TestClient) Disconnect(ctx context.Context) (int, error) {
	resp, err := c.Post(ctx, "/event/disconnect", nil)
	if err != nil {
		return 0, err
	}

	var result server.DisconnectResponse
	if err := resp.JSON(&result); err != nil {
		return 0, err
	}
	return result.Streams, nil
}

// Health returns the server health
func (c *TestClient) Health(ctx context.Context) (*server.HealthResponse, error) {
	resp, err := c.Get(ctx, "/health")
	if err != nil {
		return nil, err
	}

	var result server.HealthResponse
	if err := resp.JSON(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// EscapeQuery escapes a query parameter value
func EscapeQuery(v string) string {
	return url.QueryEscape(v)
}
