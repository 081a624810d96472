package aggregate

import (
	"cmp"
	"slices"

	"ytfeed/youtube"
)

// DefaultMaxItems bounds the published aggregate.
const DefaultMaxItems = 1000

// Merge deduplicates items by id, sorts them newest first with ties broken
// by id, and keeps at most max of them. A later item with a repeated id
// replaces the earlier one's data. Items without an id or without a
// canonical channel id are dropped. The result depends only on the input
// set and order, so equal inputs give identical output.
func Merge(items []youtube.VideoItem, max int) []youtube.VideoItem {
	if max <= 0 {
		max = DefaultMaxItems
	}

	index := make(map[string]int, len(items))
	out := make([]youtube.VideoItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" || !youtube.IsCanonicalID(item.ChannelID) {
			continue
		}
		if i, ok := index[item.ID]; ok {
			out[i] = item
			continue
		}
		index[item.ID] = len(out)
		out = append(out, item)
	}

	slices.SortStableFunc(out, func(a, b youtube.VideoItem) int {
		if c := b.PublishedAt.Compare(a.PublishedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if len(out) > max {
		out = out[:max:max]
	}
	return out
}
