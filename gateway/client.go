package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets a structured logger for the client.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithRequestHook registers a callback fired once per Execute call. Used
// for metrics.
func WithRequestHook(fn func(ctx context.Context, bridge string)) ClientOption {
	return func(c *Client) { c.requestHook = fn }
}

// Client reaches a gateway server. Transport failures never surface as Go
// errors from Execute; they are folded into Result.Error so callers handle
// one shape. Bridge-reported exit codes pass through untouched.
type Client struct {
	baseURL     string
	token       string
	http        *http.Client
	requestHook func(ctx context.Context, bridge string)
	logger      *slog.Logger
}

// NewClient creates a gateway client for baseURL.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs cmd on the gateway under the named bridge. timeout is the
// subprocess limit in seconds; 0 defers to the server default. The HTTP
// deadline tracks the subprocess limit with headroom for transfer.
func (c *Client) Execute(ctx context.Context, bridge string, cmd []string, cwd string, timeout int) Result {
	if c.requestHook != nil {
		c.requestHook(ctx, bridge)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout+10)*time.Second)
		defer cancel()
	}

	payload := Request{Bridge: bridge, Cmd: cmd, Cwd: cwd, Timeout: float64(timeout)}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Error: fmt.Sprintf("Gateway error: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("Gateway error: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Error: transportError(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Result{Error: "Gateway auth failed. Check the gateway token."}
	case resp.StatusCode == http.StatusForbidden:
		if msg := readErrorBody(resp); msg != "" {
			return Result{Error: msg}
		}
		return Result{Error: "Forbidden (403)"}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Result{Error: fmt.Sprintf("Gateway returned HTTP %d", resp.StatusCode)}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.logger.Error("gateway response decode failed", "error", err)
		return Result{Error: fmt.Sprintf("Gateway error: %v", err)}
	}
	return result
}

// Health probes the gateway. It reports reachability plus the response.
func (c *Client) Health(ctx context.Context) (bool, Health) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, Health{}
	}
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, Health{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, Health{}
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return false, Health{}
	}
	return true, h
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// transportError maps a Go transport failure to the client's uniform
// error strings.
func transportError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Gateway request timed out."
	case errors.As(err, &netErr) && netErr.Timeout():
		return "Gateway request timed out."
	default:
		return "Cannot connect to host gateway. Is the gateway server running?"
	}
}

// readErrorBody extracts {"error": "..."} from a response, best effort.
func readErrorBody(resp *http.Response) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	return body.Error
}
