package http

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
)

// SessionConfig configures a browser-like session for page scraping.
type SessionConfig struct {
	// UserAgent sent with every request.
	UserAgent string
	// RefererURL sent with every request when set.
	RefererURL string
	// AcceptLanguage pins the page language so scraped titles are stable.
	AcceptLanguage string
	// ConsentDomain receives a pre-accepted consent cookie so channel pages
	// render instead of the consent interstitial.
	ConsentDomain string
	// HeadersToAdd are extra headers for every request.
	HeadersToAdd map[string]string
}

// DefaultSessionConfig returns the session used for youtube.com pages.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		RefererURL:     "https://www.youtube.com/",
		AcceptLanguage: "en-US,en;q=0.8",
		ConsentDomain:  "https://www.youtube.com",
		HeadersToAdd:   make(map[string]string),
	}
}

// SessionManager owns a cookie jar and the headers a scraping client sends.
type SessionManager struct {
	jar    http.CookieJar
	mu     sync.RWMutex
	config SessionConfig
}

// NewSessionManager creates a session with an in-memory cookie jar.
func NewSessionManager(cfg SessionConfig) (*SessionManager, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultSessionConfig().UserAgent
	}
	if cfg.HeadersToAdd == nil {
		cfg.HeadersToAdd = make(map[string]string)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	if cfg.ConsentDomain != "" {
		u, err := url.Parse(cfg.ConsentDomain)
		if err != nil {
			return nil, fmt.Errorf("parse consent domain: %w", err)
		}
		jar.SetCookies(u, []*http.Cookie{
			{Name: "CONSENT", Value: "YES+cb", Path: "/"},
			{Name: "SOCS", Value: "CAI", Path: "/"},
		})
	}

	return &SessionManager{jar: jar, config: cfg}, nil
}

// Jar returns the session's cookie jar.
func (sm *SessionManager) Jar() http.CookieJar {
	return sm.jar
}

// Cookies returns the cookies the session would send to rawURL.
func (sm *SessionManager) Cookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return sm.jar.Cookies(u)
}

// AddHeader adds a header to be included in all requests.
func (sm *SessionManager) AddHeader(key, value string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.config.HeadersToAdd[key] = value
}

// Headers returns the headers to add to requests.
func (sm *SessionManager) Headers() map[string]string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	headers := make(map[string]string, len(sm.config.HeadersToAdd)+3)
	for k, v := range sm.config.HeadersToAdd {
		headers[k] = v
	}
	headers["User-Agent"] = sm.config.UserAgent
	if sm.config.RefererURL != "" {
		headers["Referer"] = sm.config.RefererURL
	}
	if sm.config.AcceptLanguage != "" {
		headers["Accept-Language"] = sm.config.AcceptLanguage
	}
	return headers
}
