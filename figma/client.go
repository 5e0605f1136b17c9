// Package figma talks to the design-tool REST API: reference renders of a
// node, node bounds, and component discovery over the file tree.
package figma

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/designcheck/safeio"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.figma.com/v1"

// TokenHeader carries the personal access token.
const TokenHeader = "X-Figma-Token"

// Client is a design-API client. Safe for concurrent use.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root (tests, proxies).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client authenticating with token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// getJSON performs an authenticated GET of path and decodes into out.
// Non-2xx responses become *ExternalServiceError with the body's err or
// message field when present.
func (c *Client) getJSON(ctx context.Context, op, path string, q url.Values, out any) (int, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, &ExternalServiceError{Op: op, Err: err}
	}
	req.Header.Set(TokenHeader, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &ExternalServiceError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := safeio.LimitedReadAll(resp.Body, safeio.MaxJSONBody)
	if err != nil {
		return resp.StatusCode, &ExternalServiceError{Op: op, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &ExternalServiceError{
			Op:      op,
			Status:  resp.StatusCode,
			Message: apiMessage(body, resp.Status),
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, &ExternalServiceError{Op: op, Status: resp.StatusCode, Message: "decode response", Err: err}
	}
	return resp.StatusCode, nil
}

// apiMessage pulls a human-readable message out of an error body.
func apiMessage(body []byte, fallback string) string {
	var e struct {
		Err     any    `json:"err"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if s, ok := e.Err.(string); ok && s != "" {
			return s
		}
	}
	if len(body) > 0 && len(body) <= 512 {
		return strings.TrimSpace(string(body))
	}
	return fallback
}

// DesignURL is the browser link to a node: node ids use '-' instead of ':'.
func DesignURL(fileID, nodeID string) string {
	return fmt.Sprintf("https://www.figma.com/design/%s?node-id=%s", fileID, strings.ReplaceAll(nodeID, ":", "-"))
}
