package youtube

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestScrapeAdapterResolve(t *testing.T) {
	tests := []struct {
		name      string
		ref       ChannelReference
		pages     map[string]string
		wantTitle string
	}{
		{
			name:      "handle page metadata",
			ref:       ChannelReference{Kind: KindHandle, Value: "tester"},
			pages:     map[string]string{"/@tester": sampleChannelPage},
			wantTitle: "Test Uploader",
		},
		{
			name:      "inline script fallback",
			ref:       ChannelReference{Kind: KindHandle, Value: "scripted"},
			pages:     map[string]string{"/@scripted": sampleScriptOnlyPage},
			wantTitle: "Script Channel",
		},
		{
			name:      "legacy user path",
			ref:       ChannelReference{Kind: KindCustomURL, Value: "olduser"},
			pages:     map[string]string{"/user/olduser": sampleChannelPage},
			wantTitle: "Test Uploader",
		},
		{
			name:      "legacy user path with non-ascii name",
			ref:       ChannelReference{Kind: KindCustomURL, Value: "ñandú"},
			pages:     map[string]string{"/user/ñandú": sampleChannelPage},
			wantTitle: "Test Uploader",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				page, ok := tt.pages[r.URL.Path]
				if !ok {
					http.NotFound(w, r)
					return
				}
				w.Write([]byte(page))
			}))
			defer server.Close()

			s := NewScrapeAdapter(testHTTPClient(), server.URL)
			got, err := s.Resolve(context.Background(), tt.ref)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got.CanonicalID != testChannelID {
				t.Errorf("CanonicalID = %q, want %q", got.CanonicalID, testChannelID)
			}
			if got.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", got.Title, tt.wantTitle)
			}
			if got.SourceAdapter != ClassScrape {
				t.Errorf("SourceAdapter = %q", got.SourceAdapter)
			}
		})
	}
}

func TestScrapeAdapterNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	s := NewScrapeAdapter(testHTTPClient(), server.URL)
	_, err := s.Resolve(context.Background(), ChannelReference{Kind: KindCustomURL, Value: "ghost"})
	if !IsNotFound(err) {
		t.Errorf("Resolve() error = %v, want not found", err)
	}
}

func TestScrapeAdapterPageWithoutIDIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><head><title>Before you continue</title></head></html>"))
	}))
	defer server.Close()

	s := NewScrapeAdapter(testHTTPClient(), server.URL)
	_, err := s.Resolve(context.Background(), ChannelReference{Kind: KindHandle, Value: "tester"})
	if !IsTransient(err) {
		t.Errorf("Resolve() error = %v, want transient", err)
	}
}

func TestScrapeAdapterRejectsInvalidReference(t *testing.T) {
	s := NewScrapeAdapter(testHTTPClient(), "http://127.0.0.1:1")
	if _, err := s.Resolve(context.Background(), ChannelReference{Kind: KindHandle, Value: "a b"}); !IsInvalidReference(err) {
		t.Errorf("Resolve() error = %v, want invalid reference", err)
	}
}
