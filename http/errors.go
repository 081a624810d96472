package http

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError indicates the upstream throttled the request.
type RateLimitError struct {
	// StatusCode is the HTTP status code (429, 403 or 503).
	StatusCode int
	// RetryAfter is how long the upstream asked us to wait.
	RetryAfter time.Duration
	// IsBotDetection marks an anti-bot challenge rather than plain throttling.
	IsBotDetection bool
}

func (e *RateLimitError) Error() string {
	if e.IsBotDetection {
		return fmt.Sprintf("bot detection (status %d): retry after %v", e.StatusCode, e.RetryAfter)
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (status %d): retry after %v", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (status %d)", e.StatusCode)
}

// HTTPError is a non-2xx response that is not rate limiting.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       []byte
}

func (e *HTTPError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("http error: status %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("http error: status %d", e.StatusCode)
}

// ErrNoResponse indicates no response was received from the server.
var ErrNoResponse = errors.New("no response received")

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.StatusCode
	}
	return 0
}
