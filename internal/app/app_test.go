package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"ytfeed/config"
	"ytfeed/internal/logger"
	"ytfeed/storage"
	"ytfeed/youtube"
)

func channelID(c string) string {
	return "UC" + strings.Repeat(c, 22)
}

type stubResolver struct{}

func (stubResolver) Name() string { return youtube.ClassScrape }

func (stubResolver) Resolve(ctx context.Context, ref youtube.ChannelReference) (*youtube.ResolvedChannel, error) {
	if ref.Value == "foo" {
		return &youtube.ResolvedChannel{CanonicalID: channelID("f"), Title: "Foo Channel", SourceAdapter: youtube.ClassScrape}, nil
	}
	return nil, youtube.ErrChannelNotFound
}

type stubFetcher struct{}

func (stubFetcher) Name() string { return youtube.ClassFeed }

func (stubFetcher) FetchRecent(ctx context.Context, channelID string, limit int) ([]youtube.VideoItem, error) {
	return []youtube.VideoItem{{
		ID:          "v-" + channelID[2:5],
		Title:       "upload",
		ChannelID:   channelID,
		PublishedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Schedule = ""
	cfg.BatchDelay = 0
	return cfg
}

func TestBuildWiresConfiguredAdapters(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend = storage.BackendSQLite
	cfg.Mirrors = []youtube.Mirror{{BaseURL: "https://inv.example", Kind: youtube.MirrorInvidious}}

	a, err := Build(context.Background(), cfg, logger.Discard(), Options{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer a.Close()

	// Without an API key the api adapter is skipped in both orders.
	if got, want := a.Resolver.Adapters(), []string{youtube.ClassScrape, youtube.ClassMirror}; !reflect.DeepEqual(got, want) {
		t.Errorf("resolvers = %v, want %v", got, want)
	}
	if a.Budget != nil {
		t.Error("budget set without an api adapter")
	}
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend = "postgres"
	if _, err := Build(context.Background(), cfg, logger.Discard(), Options{}); err == nil {
		t.Error("Build() succeeded")
	}
}

func TestRunOnceEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := Build(ctx, cfg, logger.Discard(), Options{
		Resolvers: []youtube.ChannelResolver{stubResolver{}},
		Fetchers:  []youtube.ItemFetcher{stubFetcher{}},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer a.Close()

	if _, err := a.State.Sync(ctx, storage.State{Subscriptions: []storage.Subscription{
		{ID: "handle_foo"},
		{ID: channelID("a"), Title: "A"},
		{ID: "handle_gone", Title: "Gone"},
	}}); err != nil {
		t.Fatal(err)
	}

	run, err := a.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if run.Status != storage.RunCompleted || run.ChannelsRequested != 2 || run.ChannelsUnresolved != 1 || run.ItemsProduced != 2 {
		t.Errorf("run = %+v", run)
	}
	if got, _ := a.State.Redirects().Get("handle_foo"); got != channelID("f") {
		t.Errorf("redirect = %q", got)
	}

	srv := httptest.NewServer(a.Server)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/videos")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Items             []youtube.VideoItem `json:"items"`
		ChannelsRequested int                 `json:"channelsRequested"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Items) != 2 || body.ChannelsRequested != 2 {
		t.Errorf("videos = %+v", body)
	}

	metricsResp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer metricsResp.Body.Close()
	if metricsResp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", metricsResp.StatusCode)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.ListenAddr = "127.0.0.1:0"

	a, err := Build(context.Background(), cfg, logger.Discard(), Options{
		Resolvers: []youtube.ChannelResolver{stubResolver{}},
		Fetchers:  []youtube.ItemFetcher{stubFetcher{}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestCallOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{youtube.ErrChannelNotFound, "not_found"},
		{youtube.ErrQuotaExhausted, "quota_exhausted"},
		{context.DeadlineExceeded, "timeout"},
		{youtube.ErrTransient, "error"},
	}
	for _, tt := range tests {
		if got := callOutcome(tt.err); got != tt.want {
			t.Errorf("callOutcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
