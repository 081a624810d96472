package aggregate

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"ytfeed/youtube"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func item(id string, ageHours int, channel string) youtube.VideoItem {
	return youtube.VideoItem{
		ID:          id,
		Title:       "title " + id,
		ChannelID:   channel,
		PublishedAt: baseTime.Add(-time.Duration(ageHours) * time.Hour),
	}
}

func ids(items []youtube.VideoItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestMerge(t *testing.T) {
	a, b := channelID("a"), channelID("b")

	tests := []struct {
		name  string
		items []youtube.VideoItem
		max   int
		want  []string
	}{
		{
			name:  "newest first",
			items: []youtube.VideoItem{item("old", 5, a), item("new", 1, b), item("mid", 3, a)},
			max:   10,
			want:  []string{"new", "mid", "old"},
		},
		{
			name:  "ties broken by id",
			items: []youtube.VideoItem{item("v3", 1, a), item("v1", 1, b), item("v2", 1, a)},
			max:   10,
			want:  []string{"v1", "v2", "v3"},
		},
		{
			name:  "duplicates collapse",
			items: []youtube.VideoItem{item("v1", 1, a), item("v2", 2, a), item("v1", 1, a)},
			max:   10,
			want:  []string{"v1", "v2"},
		},
		{
			name:  "truncated to max",
			items: []youtube.VideoItem{item("v1", 1, a), item("v2", 2, a), item("v3", 3, a)},
			max:   2,
			want:  []string{"v1", "v2"},
		},
		{
			name:  "non-canonical channel and empty id dropped",
			items: []youtube.VideoItem{item("v1", 1, "handle_foo"), item("", 1, a), item("v2", 2, a)},
			max:   10,
			want:  []string{"v2"},
		},
		{
			name:  "empty input",
			items: nil,
			max:   10,
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Merge(tt.items, tt.max))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Merge() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeLastWriteWins(t *testing.T) {
	first := item("v1", 1, channelID("a"))
	second := first
	second.Title = "updated title"

	got := Merge([]youtube.VideoItem{first, second}, 10)
	if len(got) != 1 || got[0].Title != "updated title" {
		t.Errorf("Merge() = %+v, want the later metadata", got)
	}
}

func TestMergeIsDeterministic(t *testing.T) {
	var items []youtube.VideoItem
	for i := 0; i < 200; i++ {
		items = append(items, item(fmt.Sprintf("v%03d", i%150), i%7, channelID("a")))
	}

	first := Merge(items, 100)
	second := Merge(items, 100)
	if !reflect.DeepEqual(first, second) {
		t.Error("Merge() is not deterministic")
	}
	if len(first) != 100 {
		t.Errorf("len = %d, want 100", len(first))
	}

	seen := map[string]bool{}
	for _, it := range first {
		if seen[it.ID] {
			t.Fatalf("duplicate id %s", it.ID)
		}
		seen[it.ID] = true
	}
}

func TestMergeDefaultMax(t *testing.T) {
	items := make([]youtube.VideoItem, DefaultMaxItems+50)
	for i := range items {
		items[i] = item(fmt.Sprintf("v%05d", i), i, channelID("a"))
	}
	if got := len(Merge(items, 0)); got != DefaultMaxItems {
		t.Errorf("len = %d, want %d", got, DefaultMaxItems)
	}
}
