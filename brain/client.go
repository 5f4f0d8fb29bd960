// Package brain is the HTTP client for the brain index service. It covers
// the repository listing, per-repository file summary and detail reads,
// the indexing mutations, and the live SSE progress stream.
package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Kartavya904/brainsync/status"
)

const (
	defaultEndpoint       = "http://localhost:8000"
	defaultRequestTimeout = 20 * time.Second
	defaultIdleTimeout    = 90 * time.Second

	// DefaultIndexLimit matches the server-side default batch size.
	DefaultIndexLimit = 50
	// MaxIndexLimit is the largest batch the server accepts per request.
	MaxIndexLimit = 1000
)

// Client talks to the brain service. Construct it with NewClient; the
// zero value is not usable.
type Client struct {
	endpoint    string
	token       func() string
	httpClient  *http.Client
	idleTimeout time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithEndpoint sets the service base URL (default http://localhost:8000).
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithToken sets a static bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = func() string { return token }
	}
}

// WithTokenSource sets a callback consulted on every request, so a token
// rotated at runtime takes effect without rebuilding the client.
func WithTokenSource(source func() string) Option {
	return func(c *Client) {
		if source != nil {
			c.token = source
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client used for unary
// requests. Streams always use an untimed copy of it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRequestTimeout sets the per-request timeout for unary calls.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithStreamIdleTimeout sets how long an open index stream may stay silent
// before it is treated as stalled and torn down (default 90s).
func WithStreamIdleTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// NewClient creates a client for the brain service. A token is required;
// the service rejects anonymous requests.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		endpoint:    defaultEndpoint,
		httpClient:  &http.Client{Timeout: defaultRequestTimeout},
		idleTimeout: defaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.token == nil || c.token() == "" {
		return nil, fmt.Errorf("brain API token is required (set BRAIN_TOKEN or configure server.token)")
	}
	return c, nil
}

// Detail mirrors GET /repos/{id}/files.
type Detail struct {
	Repo  status.Repository   `json:"repo"`
	Files []status.FileStatus `json:"files"`
}

type summaryResponse struct {
	Repo   status.Repository `json:"repo"`
	Counts status.Counters   `json:"counts"`
}

// BatchCounts summarizes one synchronous indexing batch.
type BatchCounts struct {
	Considered    int `json:"considered"`
	FilesWritten  int `json:"files_written"`
	ChunksWritten int `json:"chunks_written"`
	Errors        int `json:"errors"`
}

type batchResponse struct {
	Repo   status.Repository `json:"repo"`
	Counts BatchCounts       `json:"counts"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// ListRepositories returns every repository registered with the service.
func (c *Client) ListRepositories(ctx context.Context) ([]status.Repository, error) {
	var repos []status.Repository
	if err := c.do(ctx, http.MethodGet, "/repos", nil, &repos); err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return repos, nil
}

// FileSummary returns the aggregate total/indexed counts for one repository.
func (c *Client) FileSummary(ctx context.Context, repoID int64) (status.Counters, error) {
	var resp summaryResponse
	path := fmt.Sprintf("/repos/%d/files/summary", repoID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return status.Counters{}, fmt.Errorf("failed to read file summary: %w", err)
	}
	return resp.Counts, nil
}

// FileDetail returns the per-file indexing states for one repository.
func (c *Client) FileDetail(ctx context.Context, repoID int64) (*Detail, error) {
	var resp Detail
	path := fmt.Sprintf("/repos/%d/files", repoID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to read file detail: %w", err)
	}
	return &resp, nil
}

// IndexBatch runs one synchronous indexing batch of up to limit files and
// returns the server's batch counts. Use OpenIndexStream for live progress.
func (c *Client) IndexBatch(ctx context.Context, repoID int64, limit int) (BatchCounts, error) {
	var resp batchResponse
	path := fmt.Sprintf("/repos/%d/index?limit=%d", repoID, clampLimit(limit))
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return BatchCounts{}, fmt.Errorf("failed to run index batch: %w", err)
	}
	return resp.Counts, nil
}

// DeleteIndex removes all indexed data for one repository on the server.
func (c *Client) DeleteIndex(ctx context.Context, repoID int64) error {
	path := fmt.Sprintf("/repos/%d/index", repoID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to delete index: %w", err)
	}
	return nil
}

// Ping verifies connectivity and credentials with a cheap listing call.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListRepositories(ctx)
	return err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultIndexLimit
	}
	if limit > MaxIndexLimit {
		return MaxIndexLimit
	}
	return limit
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u, err := url.JoinPath(c.endpoint, path)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	// JoinPath escapes the query separator, keep it out of the join.
	if i := strings.IndexByte(path, '?'); i >= 0 {
		u, err = url.JoinPath(c.endpoint, path[:i])
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint: %w", err)
		}
		u += path[i:]
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e errorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.Detail != "" {
		return fmt.Errorf("brain API error (status %d): %s", resp.StatusCode, e.Detail)
	}
	return fmt.Errorf("brain API error (status %d): %s", resp.StatusCode, string(raw))
}
