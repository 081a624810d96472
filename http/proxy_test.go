package http

import (
	"net/http"
	"testing"
)

func TestProxyRotatorRoundRobin(t *testing.T) {
	r, err := NewProxyRotator([]string{"http://p1:8080", "http://p2:8080", "socks5://p3:1080"})
	if err != nil {
		t.Fatalf("NewProxyRotator() = %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "https://www.youtube.com", nil)
	want := []string{"p1:8080", "p2:8080", "p3:1080", "p1:8080"}
	for i, w := range want {
		u, err := r.Proxy(req)
		if err != nil {
			t.Fatalf("Proxy() = %v", err)
		}
		if u.Host != w {
			t.Errorf("call %d: proxy = %s, want %s", i, u.Host, w)
		}
	}
}

func TestProxyRotatorEmptyIsDirect(t *testing.T) {
	var r *ProxyRotator
	if u, err := r.Proxy(nil); u != nil || err != nil {
		t.Errorf("nil rotator Proxy() = %v, %v", u, err)
	}
	if r.Len() != 0 {
		t.Error("nil rotator Len() != 0")
	}
}

func TestProxyRotatorRejectsInvalid(t *testing.T) {
	for _, raw := range []string{"not a url", "://missing", "localhost"} {
		if _, err := NewProxyRotator([]string{raw}); err == nil {
			t.Errorf("NewProxyRotator(%q) succeeded, want error", raw)
		}
	}
}
