// Package client provides a Go SDK for an rtpscope server. Tools and agents
// can import this package instead of calling the HTTP API by hand.
//
// Usage:
//
//	c := client.New("http://localhost:8080")
//	logs, err := c.ListLogs(ctx)
//	result, err := c.Report(ctx, logs[0].ID, client.ReportOptions{})
//	series, err := c.Series(ctx, logs[0].ID, "delay", client.ReportOptions{})
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
	"strings"
	"time"

	"github.com/saveenergy/rtpscope/pkg/diagnostic"
	"github.com/saveenergy/rtpscope/pkg/types"
)

// ErrNotFound is returned when the server has no such log or series.
var ErrNotFound = errors.New("not found")

// Client talks to a single rtpscope server.
type Client struct {
	serverURL  string
	httpClient *http.Client
	apiKey     string
}

// Option configures the Client.
type Option func(*Client)

// WithAPIKey sets a bearer token sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the given server URL. Requests are bounded only
// by the caller's context.
func New(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ServerURL returns the base URL the client targets.
func (c *Client) ServerURL() string {
	return c.serverURL
}

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Code       string `json:"code,omitempty"`
	Line       int    `json:"line,omitempty"`
	Field      string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "server returned %d", e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// ReportOptions tunes report and series requests.
type ReportOptions struct {
	// Window overrides the server's rate window when positive.
	Window time.Duration
}

func (o ReportOptions) query() string {
	if o.Window <= 0 {
		return ""
	}
	return "?" + url.Values{"window": {o.Window.String()}}.Encode()
}

// Result is a report together with its interpretation.
type Result struct {
	Report         *types.Report              `json:"report"`
	Interpretation *diagnostic.Interpretation `json:"interpretation"`
}

// UploadResult describes a stored upload.
type UploadResult struct {
	Log        types.LogInfo `json:"log"`
	EventCount int           `json:"event_count"`
	ReportURL  string        `json:"report_url"`
}

// Healthy returns nil if the server is reachable and healthy.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Version returns the server's build version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/version", nil, "", &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// ListLogs returns every log the server can analyze.
func (c *Client) ListLogs(ctx context.Context) ([]types.LogInfo, error) {
	var out struct {
		Logs []types.LogInfo `json:"logs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/logs", nil, "", &out); err != nil {
		return nil, err
	}
	if out.Logs == nil {
		out.Logs = []types.LogInfo{}
	}
	return out.Logs, nil
}

// Report fetches the full report for one log.
func (c *Client) Report(ctx context.Context, id string, opts ReportOptions) (*Result, error) {
	var out Result
	path := "/api/v1/logs/" + url.PathEscape(id) + "/report" + opts.query()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Series fetches a single named series for one log.
func (c *Client) Series(ctx context.Context, id, name string, opts ReportOptions) (*types.Series, error) {
	var out types.Series
	path := "/api/v1/logs/" + url.PathEscape(id) + "/series/" + url.PathEscape(name) + opts.query()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload stores a raw JSONL log on the server.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (*UploadResult, error) {
	path := "/api/v1/logs"
	if name != "" {
		path += "?" + url.Values{"name": {name}}.Encode()
	}
	var out UploadResult
	if err := c.doJSON(ctx, http.MethodPost, path, r, "application/x-ndjson", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadBytes is Upload for an in-memory log.
func (c *Client) UploadBytes(ctx context.Context, name string, raw []byte) (*UploadResult, error) {
	return c.Upload(ctx, name, bytes.NewReader(raw))
}

// Delete removes an uploaded log.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/logs/"+url.PathEscape(id), nil, "", nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if len(data) > 0 {
			if json.Unmarshal(data, apiErr) != nil {
				apiErr.Message = strings.TrimSpace(string(data))
			}
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
