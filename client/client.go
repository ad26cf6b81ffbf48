// Package client is a Go client for the Memory Protocol HTTP API: authentication,
// agents, memory records, schemas and audit logs.
//
// A Client holds a base URL and the session token pair. Every method performs one
// request, attaching the bearer token when one is held, and returns the decoded JSON
// body or an error. The client never retries and never refreshes tokens on its own;
// callers that want that orchestration build it on top (see IsUnauthorized and
// RefreshAuth).
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
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

// Client talks to a single Memory Protocol server.
type Client struct {
	baseURL   string
	http      *http.Client
	logger    *zap.Logger
	userAgent string
	timeout   time.Duration

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
}

// Option configures a Client at construction.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout. It applies to a copy of the HTTP client,
// so a client passed with WithHTTPClient is never modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the logger used for request tracing. The default discards.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTokens restores a previously obtained session.
func WithTokens(accessToken, refreshToken string) Option {
	return func(c *Client) {
		c.accessToken = strings.TrimSpace(accessToken)
		c.refreshToken = strings.TrimSpace(refreshToken)
	}
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New returns an unauthenticated client for baseURL. Trailing slashes are stripped.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{
			Timeout: defaultTimeout,
		},
		logger:    zap.NewNop(),
		userAgent: "memproto-go",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.http
		hc.Timeout = c.timeout
		c.http = &hc
	}
	return c
}

// Connect builds a client and logs in with the given credentials. Construction
// fails if the login fails.
func Connect(ctx context.Context, baseURL, email, password string, opts ...Option) (*Client, error) {
	c := New(baseURL, opts...)
	if _, err := c.Login(ctx, email, password); err != nil {
		return nil, err
	}
	return c, nil
}

// BaseURL returns the normalized server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Tokens returns the currently held access and refresh tokens.
func (c *Client) Tokens() (accessToken, refreshToken string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken, c.refreshToken
}

// Authenticated reports whether an access token is held.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken != ""
}

func (c *Client) setTokens(accessToken, refreshToken string) {
	c.mu.Lock()
	c.accessToken = accessToken
	c.refreshToken = refreshToken
	c.mu.Unlock()
}

// headers is computed per request so a refreshed token is picked up immediately.
func (c *Client) headers(authenticated bool) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	if c.userAgent != "" {
		h.Set("User-Agent", c.userAgent)
	}
	if authenticated {
		c.mu.RLock()
		token := c.accessToken
		c.mu.RUnlock()
		if token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
	}
	return h
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	// public requests never carry the bearer token.
	public bool
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	var reader io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", r.method, r.path, err)
		}
		reader = bytes.NewReader(b)
	}
	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, reader)
	if err != nil {
		return err
	}
	req.Header = c.headers(!r.public)
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("memproto request failed",
			zap.String("method", r.method),
			zap.String("path", r.path),
			zap.String("request_id", requestID),
			zap.Error(err))
		return fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("memproto request",
		zap.String("method", r.method),
		zap.String("path", r.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.String("request_id", requestID))

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return newAPIError(r.method, r.path, resp.StatusCode, body)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", r.method, r.path, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := decodeJSON(body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", r.method, r.path, err)
	}
	return nil
}

// decodeJSON keeps numbers as json.Number so ids and metadata pass through unaltered.
func decodeJSON(body []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func (c *Client) getObject(ctx context.Context, path string, query url.Values) (Object, error) {
	var out Object
	if err := c.do(ctx, request{method: http.MethodGet, path: path, query: query}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getList(ctx context.Context, path string, query url.Values) ([]Object, error) {
	var out []Object
	if err := c.do(ctx, request{method: http.MethodGet, path: path, query: query}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) postObject(ctx context.Context, path string, body any) (Object, error) {
	var out Object
	if err := c.do(ctx, request{method: http.MethodPost, path: path, body: body}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health reports server health. It never sends the authorization header.
func (c *Client) Health(ctx context.Context) (Object, error) {
	var out Object
	if err := c.do(ctx, request{method: http.MethodGet, path: "/health", public: true}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Discovery fetches the server's well-known description document.
func (c *Client) Discovery(ctx context.Context) (Object, error) {
	var out Object
	if err := c.do(ctx, request{method: http.MethodGet, path: "/.well-known/memory-agent.json", public: true}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func escapeID(id string) string {
	return url.PathEscape(strings.TrimSpace(id))
}
