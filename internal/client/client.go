// ABOUTME: HTTP client for the human-gateway operator API
// ABOUTME: Used by the CLI and the terminal console to list, answer and inspect requests

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/2389/human-gateway/internal/operator"
)

// ErrServerStatus wraps non-200 responses from the gateway.
var ErrServerStatus = errors.New("server returned error status")

// DefaultTimeout bounds each API call.
const DefaultTimeout = 10 * time.Second

// PendingRequest is one entry of GET /api/requests. Payload is kept raw so
// callers can decode it by Kind.
type PendingRequest struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
	WaitingSeconds float64         `json:"waiting_seconds"`
}

// Client talks to a running gateway.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the gateway at baseURL (e.g. "http://127.0.0.1:5000").
// A bare host:port is accepted and treated as http.
func New(baseURL string, httpClient *http.Client) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
	}
}

// BaseURL returns the gateway address the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// ListPending fetches pending requests, oldest first.
func (c *Client) ListPending(ctx context.Context) ([]PendingRequest, error) {
	var out []PendingRequest
	if err := c.get(ctx, "/api/requests", &out); err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	return out, nil
}

// Submit answers a request. A miss (not_found, invalid_input) is reported in
// the result, not as an error.
func (c *Client) Submit(ctx context.Context, id, answer string, isError bool) (operator.SubmitResult, error) {
	body, err := json.Marshal(map[string]any{
		"id":       id,
		"answer":   answer,
		"is_error": isError,
	})
	if err != nil {
		return operator.SubmitResult{}, fmt.Errorf("encoding answer: %w", err)
	}

	var res operator.SubmitResult
	if err := c.do(ctx, http.MethodPost, "/api/requests/answer", bytes.NewReader(body), &res, http.StatusBadRequest); err != nil {
		return operator.SubmitResult{}, fmt.Errorf("submitting answer: %w", err)
	}
	return res, nil
}

// Stats fetches the pending/answered/timed-out totals.
func (c *Client) Stats(ctx context.Context) (operator.Stats, error) {
	var st operator.Stats
	if err := c.get(ctx, "/api/stats", &st); err != nil {
		return operator.Stats{}, fmt.Errorf("fetching stats: %w", err)
	}
	return st, nil
}

// History fetches recently settled requests. A non-positive limit uses the server default.
func (c *Client) History(ctx context.Context, limit int) ([]operator.HistoryEntry, error) {
	path := "/api/history"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var out []operator.HistoryEntry
	if err := c.get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	return out, nil
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do sends a request and decodes a JSON body into out. Statuses other than
// 200 are errors unless listed in accept, in which case the body is still decoded.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any, accept ...int) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && !slices.Contains(accept, resp.StatusCode) {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %d %s", ErrServerStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
