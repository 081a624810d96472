package http

import (
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
)

// ProxyRotator hands out proxies round-robin, one per outbound request.
// An empty rotator sends requests directly.
type ProxyRotator struct {
	proxies []*url.URL
	next    atomic.Uint64
}

// NewProxyRotator parses the given proxy URLs.
func NewProxyRotator(raw []string) (*ProxyRotator, error) {
	r := &ProxyRotator{}
	for _, s := range raw {
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", s, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("parse proxy %q: missing scheme or host", s)
		}
		r.proxies = append(r.proxies, u)
	}
	return r, nil
}

// Proxy satisfies http.Transport.Proxy.
func (r *ProxyRotator) Proxy(*http.Request) (*url.URL, error) {
	if r == nil || len(r.proxies) == 0 {
		return nil, nil
	}
	n := r.next.Add(1) - 1
	return r.proxies[n%uint64(len(r.proxies))], nil
}

// Len returns the number of configured proxies.
func (r *ProxyRotator) Len() int {
	if r == nil {
		return 0
	}
	return len(r.proxies)
}
