package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const userAgent = "gradectl"

// ResponseInfo carries response details.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Envelope is the ops API response body.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Details interface{}     `json:"details,omitempty"`
	TraceID string          `json:"trace_id"`
}

// Envelope decodes the body as an ops API envelope.
func (r ResponseInfo) Envelope() (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return env, fmt.Errorf("decode response envelope failed: %w", err)
	}
	return env, nil
}

// Client sends ops API requests with the operator's bearer token.
type Client struct {
	http          *http.Client
	baseURL       string
	tokenProvider func() string
}

func New(baseURL string, timeout time.Duration, tokenProvider func() string) *Client {
	return &Client{
		http:          &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		tokenProvider: tokenProvider,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.http.Timeout = timeout
	}
}

func (c *Client) Do(ctx context.Context, method, path string, body []byte) (ResponseInfo, error) {
	var info ResponseInfo

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return info, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokenProvider != nil {
		if token := c.tokenProvider(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		return info, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	info.StatusCode = resp.StatusCode
	info.Headers = resp.Header
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return info, fmt.Errorf("read response body failed: %w", err)
	}
	info.Body = bodyBytes
	return info, nil
}
