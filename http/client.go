package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ytfeed/retry"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 8 << 20

// Client wraps an HTTP client with retries and throttling detection.
// Circuit breaking happens one level up, per adapter class, in Gate; every
// request attempt takes its own pacing slot through PaceRequest.
type Client struct {
	base     *http.Client
	config   *Config
	session  *SessionManager
	detector RateLimitDetector
}

// Config holds HTTP client configuration.
type Config struct {
	// Timeout for individual HTTP requests.
	Timeout time.Duration
	// Retry configuration.
	Retry retry.Config
	// UserAgent for requests without a session.
	UserAgent string
	// Proxies, when set, route every request through a rotating proxy.
	Proxies *ProxyRotator
	// Transport configures connection pooling.
	Transport TransportConfig
}

// TransportConfig configures the HTTP transport (connection pooling).
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	ForceAttemptHTTP2   bool
	DisableKeepAlives   bool
}

// DefaultConfig returns defaults for upstream HTTP calls.
func DefaultConfig() *Config {
	return &Config{
		Timeout:   15 * time.Second,
		Retry:     retry.DefaultConfig(),
		UserAgent: "ytfeed/1.0",
		Transport: DefaultTransportConfig(),
	}
}

// DefaultTransportConfig returns defaults for connection pooling.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
}

// New creates a client without a session.
func New(cfg *Config) *Client {
	return NewWithSession(cfg, nil)
}

// NewWithSession creates a client that carries the session's cookies and headers.
func NewWithSession(cfg *Config, session *SessionManager) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Transport.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.Transport.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Transport.IdleConnTimeout,
		ForceAttemptHTTP2:   cfg.Transport.ForceAttemptHTTP2,
		DisableKeepAlives:   cfg.Transport.DisableKeepAlives,
	}
	if cfg.Proxies.Len() > 0 {
		transport.Proxy = cfg.Proxies.Proxy
	}

	base := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
	if session != nil {
		base.Jar = session.Jar()
	}

	return &Client{
		base:    base,
		config:  cfg,
		session: session,
	}
}

// Response represents an HTTP response with status code and body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Get performs a GET request with retry logic.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, nil)
}

// GetJSON performs a GET request and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	resp, err := c.Do(ctx, http.MethodGet, url, nil, map[string]string{"Accept": "application/json"})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// Do performs an HTTP request, retrying transient failures. Throttling
// becomes *RateLimitError and other non-2xx responses *HTTPError; 4xx
// responses other than throttling are not retried.
func (c *Client) Do(ctx context.Context, method, urlStr string, body []byte, headers map[string]string) (*Response, error) {
	var out *Response

	err := retry.Do(ctx, c.config.Retry, isRetryableHTTPError, func(ctx context.Context) error {
		if err := PaceRequest(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
		if err != nil {
			return retry.Permanent(err)
		}

		if c.session != nil {
			for k, v := range c.session.Headers() {
				req.Header.Set(k, v)
			}
		} else {
			req.Header.Set("User-Agent", c.config.UserAgent)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.base.Do(req)
		if err != nil {
			return fmt.Errorf("http request failed: %w", err)
		}
		defer resp.Body.Close()

		if c.detector.IsRateLimited(resp.StatusCode, resp.Header) || resp.StatusCode == http.StatusForbidden {
			return &RateLimitError{
				StatusCode:     resp.StatusCode,
				RetryAfter:     c.detector.RetryAfter(resp.Header, time.Now()),
				IsBotDetection: resp.StatusCode == http.StatusForbidden,
			}
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &HTTPError{StatusCode: resp.StatusCode, URL: urlStr, Body: respBody}
		}

		if c.detector.IsBotChallenge(resp.Request.URL, respBody) {
			return &RateLimitError{
				StatusCode:     resp.StatusCode,
				RetryAfter:     defaultRetryAfter,
				IsBotDetection: true,
			}
		}

		out = &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       respBody,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNoResponse
	}
	return out, nil
}

// isRetryableHTTPError retries network errors, 5xx and plain throttling.
// Bot challenges and other 4xx responses are final for this call.
func isRetryableHTTPError(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		return !rl.IsBotDetection && rl.RetryAfter <= 5*time.Second
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}

	return true
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.base.CloseIdleConnections()
	return nil
}
