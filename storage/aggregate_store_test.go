package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"ytfeed/youtube"
)

func testItems(ids ...string) []youtube.VideoItem {
	items := make([]youtube.VideoItem, len(ids))
	for i, id := range ids {
		items[i] = youtube.VideoItem{
			ID:          id,
			Title:       "video " + id,
			ChannelID:   channelID("a"),
			PublishedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(-i) * time.Hour),
		}
	}
	return items
}

func TestAggregateStorePublish(t *testing.T) {
	backend := newMemBackend()
	ctx := context.Background()

	store, err := OpenAggregateStore(ctx, backend)
	if err != nil {
		t.Fatalf("OpenAggregateStore() error = %v", err)
	}
	if snap := store.Snapshot(); snap.Version != 0 || snap.Items == nil || len(snap.Items) != 0 {
		t.Fatalf("initial snapshot = %+v", snap)
	}
	if store.LastAttempt() != nil {
		t.Error("no attempt recorded yet")
	}

	for i, ids := range [][]string{{"v1"}, {"v2", "v1"}} {
		agg, err := store.Publish(ctx, testItems(ids...), AggregateRun{ID: "run", Status: RunCompleted})
		if err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		if agg.Version != int64(i+1) {
			t.Errorf("Version = %d, want %d", agg.Version, i+1)
		}
	}

	reopened, err := OpenAggregateStore(ctx, backend)
	if err != nil {
		t.Fatal(err)
	}
	snap := reopened.Snapshot()
	if snap.Version != 2 || len(snap.Items) != 2 || snap.Items[0].ID != "v2" {
		t.Errorf("reopened snapshot = %+v", snap)
	}
	if run := reopened.LastAttempt(); run == nil || run.Status != RunCompleted {
		t.Errorf("reopened LastAttempt() = %+v", run)
	}
}

func TestAggregateStoreFailedPublishKeepsPrevious(t *testing.T) {
	backend := newMemBackend()
	ctx := context.Background()
	store, err := OpenAggregateStore(ctx, backend)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Publish(ctx, testItems("v1"), AggregateRun{ID: "first", Status: RunCompleted}); err != nil {
		t.Fatal(err)
	}

	backend.setFailSave(errDiskFull)
	_, err = store.Publish(ctx, testItems("v2"), AggregateRun{ID: "second", Status: RunCompleted})
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("Publish() = %v, want disk full", err)
	}

	snap := store.Snapshot()
	if snap.Version != 1 || snap.Items[0].ID != "v1" || snap.Run.ID != "first" {
		t.Errorf("snapshot after failed publish = %+v", snap)
	}
}

func TestAggregateStoreRecordAttempt(t *testing.T) {
	store, err := OpenAggregateStore(context.Background(), newMemBackend())
	if err != nil {
		t.Fatal(err)
	}

	store.RecordAttempt(AggregateRun{ID: "cancelled", Status: RunCancelled})
	got := store.LastAttempt()
	if got == nil || got.ID != "cancelled" {
		t.Fatalf("LastAttempt() = %+v", got)
	}
	if store.Snapshot().Version != 0 {
		t.Error("RecordAttempt must not publish")
	}

	got.ID = "mutated"
	if store.LastAttempt().ID != "cancelled" {
		t.Error("LastAttempt() should return a copy")
	}
}
