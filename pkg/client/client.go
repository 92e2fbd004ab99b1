// Package client talks to a running "themerig serve --transport http".
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client provides HTTP client functionality to communicate with the themerig server
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	// Timeout bounds each request. Captures drive a full browser session,
	// so the default is generous.
	Timeout time.Duration
	Logger  *slog.Logger
}

const (
	DefaultBaseURL = "http://127.0.0.1:3000/api"
	DefaultTimeout = 5 * time.Minute
)

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// APIError is returned for non-2xx responses. Message carries the server's
// explanation when it sent one.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsReachable checks if the server is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("server unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// CreateEnvironment provisions target and starts the services if needed.
// The decoded body is returned alongside an *APIError on failure.
func (c *Client) CreateEnvironment(ctx context.Context, target string) (*CreateResponse, error) {
	var out CreateResponse
	err := c.do(ctx, http.MethodPost, "/environments/"+url.PathEscape(target), &out)
	if err != nil && out.Message == "" {
		return nil, err
	}
	return &out, err
}

// Capture runs the screenshot workflow for the next round of target.
func (c *Client) Capture(ctx context.Context, target string) (*CaptureResponse, error) {
	var out CaptureResponse
	err := c.do(ctx, http.MethodPost, "/environments/"+url.PathEscape(target)+"/screenshots", &out)
	if err != nil && out.Message == "" {
		return nil, err
	}
	return &out, err
}

// DeleteTheme removes target's theme file. Screenshots are kept.
func (c *Client) DeleteTheme(ctx context.Context, target string) (*DeleteResponse, error) {
	var out DeleteResponse
	err := c.do(ctx, http.MethodDelete, "/themes/"+url.PathEscape(target), &out)
	if err != nil && out.Message == "" {
		return nil, err
	}
	return &out, err
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StopService(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(name)+"/stop", nil)
}

// Captures lists recorded capture runs, newest first. An empty target
// lists all targets; limit <= 0 uses the server default.
func (c *Client) Captures(ctx context.Context, target string, limit int) ([]CaptureRun, error) {
	q := url.Values{}
	if target != "" {
		q.Set("target", target)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/captures"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []CaptureRun
	if err := c.do(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do performs the request and decodes the body into out when non-nil. Bodies
// of error responses are decoded too so result messages survive.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		apiErr.Message = er.Error
	}
	if out != nil {
		_ = json.Unmarshal(body, out)
	}
	c.logger.Debug("API request failed", "status", resp.StatusCode, "path", path)
	return apiErr
}
