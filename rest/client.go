package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthorized is returned for 401 responses. The caller should
	// discard the stored token and return to the login flow.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("not found")
)

// APIError is the error envelope the REST collaborator returns alongside
// non-2xx statuses.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// Client consumes the REST collaborator under its /api base path. The zero
// value is not usable; construct with New.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *slog.Logger

	// mu guards token: a logout can clear it while another goroutine has
	// a request in flight.
	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithToken seeds the client with a previously stored bearer token. An
// expired token is discarded instead of being sent to the server.
func WithToken(token string) Option {
	return func(c *Client) {
		if TokenExpired(token) {
			return
		}
		c.token = token
	}
}

// New creates a client for the API rooted at serverURL (the /api base path
// is appended).
func New(serverURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(serverURL, "/") + "/api")
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "rest"))
	return c, nil
}

// SetToken replaces the bearer token after authentication.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token, empty when unauthenticated.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ClearToken discards the bearer token on logout or auth failure.
func (c *Client) ClearToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

// TokenExpired reports whether a stored token is past its expiry. The claim
// is read without verifying the signature; the server remains the authority
// and will reject a forged token anyway.
func TokenExpired(token string) bool {
	if token == "" {
		return true
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Before(time.Now())
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// doJSON performs a request with an optional JSON body and decodes the JSON
// response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return c.errorFromResponse(res)
	}
	if out == nil {
		io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) errorFromResponse(res *http.Response) error {
	switch res.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	apiErr := &APIError{}
	if err := json.NewDecoder(res.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
		return &APIError{Code: res.StatusCode, Message: res.Status}
	}
	if apiErr.Code == 0 {
		apiErr.Code = res.StatusCode
	}
	return apiErr
}
