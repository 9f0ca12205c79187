package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a running supervisor over its unix control socket.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	SocketPath string
	Timeout    time.Duration
	Logger     *slog.Logger // Optional logger for client operations
}

// New creates a client for the supervisor listening on cfg.SocketPath.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	socket := cfg.SocketPath
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		},
	}
	return &Client{
		// host is ignored by the unix dialer
		baseURL: "http://respawn",
		logger:  cfg.Logger,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the supervisor is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("supervisor unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) Start(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/start", url.Values{"name": {name}}, nil)
}

func (c *Client) Restart(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/restart", url.Values{"name": {name}}, nil)
}

func (c *Client) Stop(ctx context.Context, req StopRequest) error {
	q := url.Values{}
	if req.Name != "" {
		q.Set("name", req.Name)
	}
	if req.Wildcard != "" {
		q.Set("wildcard", req.Wildcard)
	}
	if req.Wait > 0 {
		q.Set("wait", req.Wait.String())
	}
	return c.do(ctx, http.MethodPost, "/stop", q, nil)
}

// Status returns the matching statuses. A name query yields one entry.
func (c *Client) Status(ctx context.Context, q StatusQuery) ([]ProcessStatus, error) {
	if q.Name != "" {
		var st ProcessStatus
		if err := c.do(ctx, http.MethodGet, "/status", url.Values{"name": {q.Name}}, &st); err != nil {
			return nil, err
		}
		return []ProcessStatus{st}, nil
	}
	v := url.Values{}
	if q.Wildcard != "" {
		v.Set("wildcard", q.Wildcard)
	}
	var out []ProcessStatus
	if err := c.do(ctx, http.MethodGet, "/status", v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Logs(ctx context.Context, q LogsQuery) (LogsResponse, error) {
	v := url.Values{"name": {q.Name}}
	if q.Lines > 0 {
		v.Set("lines", strconv.Itoa(q.Lines))
	}
	if q.Stderr {
		v.Set("stream", "stderr")
	}
	var out LogsResponse
	err := c.do(ctx, http.MethodGet, "/logs", v, &out)
	return out, err
}

// do performs a request and decodes a 200 body into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("supervisor unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: er.Error, Reason: er.Reason}
}
