package http

import (
	"bytes"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// defaultRetryAfter is used when a throttling response names no wait.
const defaultRetryAfter = 60 * time.Second

// RateLimitDetector recognises the throttling signals YouTube and its
// mirrors send besides a plain 429.
type RateLimitDetector struct{}

// IsRateLimited reports whether a response is throttling. 429 and 503
// always are; 403 is when it carries rate limit headers.
func (RateLimitDetector) IsRateLimited(statusCode int, header http.Header) bool {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	case http.StatusForbidden:
		if header.Get("Retry-After") != "" || header.Get("X-RateLimit-Remaining") == "0" {
			return true
		}
		return header.Get("X-RateLimit-Reset") != ""
	}
	return false
}

var botMarkers = [][]byte{
	[]byte("Our systems have detected unusual traffic"),
	[]byte("www.google.com/recaptcha"),
}

// IsBotChallenge reports whether a 200 response is really a challenge page,
// either through a redirect to google.com/sorry or by its body.
func (RateLimitDetector) IsBotChallenge(final *url.URL, body []byte) bool {
	if final != nil && strings.HasSuffix(final.Host, "google.com") && strings.HasPrefix(final.Path, "/sorry") {
		return true
	}
	for _, m := range botMarkers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}

// RetryAfter reads the wait the upstream asked for: Retry-After as seconds
// or an HTTP date, then X-RateLimit-Reset as seconds.
func (RateLimitDetector) RetryAfter(header http.Header, now time.Time) time.Duration {
	if v := header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	if v := header.Get("X-RateLimit-Reset"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}
