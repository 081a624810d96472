package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ytfeed/storage"
	"ytfeed/youtube"
)

func channelID(c string) string {
	return "UC" + strings.Repeat(c, 22)
}

// execute runs the command tree in an isolated directory.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// seed writes documents into dir and releases the store.
func seed(t *testing.T, dir string, fn func(ctx context.Context, backend storage.Backend)) {
	t.Helper()
	backend, err := storage.NewJSONStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer backend.Close()
	fn(context.Background(), backend)
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "ytfeed dev" {
		t.Errorf("output = %q", out)
	}
}

func TestRedirects(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	out, _, err := execute(t, "--data-dir", dir, "redirects")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No redirects") {
		t.Errorf("output = %q", out)
	}

	seed(t, dir, func(ctx context.Context, backend storage.Backend) {
		st, err := storage.OpenStateStore(ctx, backend)
		if err != nil {
			t.Fatal(err)
		}
		for from, to := range map[string]string{"handle_foo": channelID("a"), "custom_bar": channelID("b")} {
			if err := st.Redirects().Put(ctx, from, to); err != nil {
				t.Fatal(err)
			}
		}
	})

	out, _, err = execute(t, "--data-dir", dir, "redirects")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "custom_bar") || !strings.Contains(lines[2], channelID("a")) {
		t.Errorf("output = %q", out)
	}
}

func TestVideos(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	seed(t, dir, func(ctx context.Context, backend storage.Backend) {
		aggs, err := storage.OpenAggregateStore(ctx, backend)
		if err != nil {
			t.Fatal(err)
		}
		published := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
		items := []youtube.VideoItem{
			{ID: "vid1", Title: "First upload", ChannelID: channelID("a"), ChannelTitle: "Alpha", PublishedAt: published},
			{ID: "vid2", Title: "Second upload", ChannelID: channelID("a"), ChannelTitle: "Alpha", PublishedAt: published.Add(-time.Hour)},
		}
		if _, err := aggs.Publish(ctx, items, storage.AggregateRun{ID: "r1", Status: storage.RunCompleted}); err != nil {
			t.Fatal(err)
		}
	})

	out, errOut, err := execute(t, "--data-dir", dir, "videos", "-n", "1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "vid1") || strings.Contains(out, "vid2") || !strings.Contains(out, "2026-03-01 09:30") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(errOut, "Showing 1 of 2") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestResolveRejectsMalformedReference(t *testing.T) {
	_, _, err := execute(t, "--data-dir", t.TempDir(), "resolve", "https://example.com/not-youtube")
	if !youtube.IsInvalidReference(err) {
		t.Errorf("err = %v, want invalid reference", err)
	}
}

func TestBadConfigFails(t *testing.T) {
	_, _, err := execute(t, "--config", "missing.yaml", "redirects")
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Errorf("err = %v", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"much longer title", 8, "much lo…"},
		{"日本語のタイトル", 4, "日本語…"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
