// Package client talks to a running launcher's HTTP control API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client provides HTTP client functionality to communicate with a launcher
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8088/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new launcher API client
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the launcher is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Launcher unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var s Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &s)
	return s, err
}

func (c *Client) Schedule(ctx context.Context) ([]ScheduleEntry, error) {
	var out []ScheduleEntry
	err := c.do(ctx, http.MethodGet, "/schedule", nil, &out)
	return out, err
}

func (c *Client) AddOnce(ctx context.Context, req OnceRequest) (ScheduleEntry, error) {
	var e ScheduleEntry
	err := c.do(ctx, http.MethodPost, "/schedule/once", req, &e)
	return e, err
}

func (c *Client) AddRecurring(ctx context.Context, req RecurringRequest) (ScheduleEntry, error) {
	var e ScheduleEntry
	err := c.do(ctx, http.MethodPost, "/schedule/recurring", req, &e)
	return e, err
}

func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/schedule/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Clear(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/schedule", nil, nil)
}

// Restart starts a restart countdown. The launcher answers before the
// countdown ends.
func (c *Client) Restart(ctx context.Context, req RestartRequest) error {
	c.logger.Debug("Requesting restart", "reason", req.Reason, "delay_seconds", req.DelaySeconds)
	return c.do(ctx, http.MethodPost, "/restart", req, nil)
}

// Stop stops the server and the launcher. It returns once the server is
// down; the HTTP timeout must exceed wait.
func (c *Client) Stop(ctx context.Context, wait time.Duration) error {
	path := "/stop"
	if wait > 0 {
		path += "?wait=" + url.QueryEscape(wait.String())
	}
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// do performs an HTTP request with common error handling. body and out are
// optional JSON values.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse turns non-2xx responses into errors
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error: %s", errorResp.Error)
}
