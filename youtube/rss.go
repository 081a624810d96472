package youtube

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	ythttp "ytfeed/http"
)

// DefaultFeedURLTemplate is the per-channel syndication feed. The channel
// id is its only parameter.
const DefaultFeedURLTemplate = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"

// FeedAdapter lists recent uploads from the channel's Atom feed. The feed
// carries the newest fifteen entries and costs no quota.
type FeedAdapter struct {
	client      *ythttp.Client
	urlTemplate string
}

// NewFeedAdapter creates a feed adapter. An empty template uses
// DefaultFeedURLTemplate.
func NewFeedAdapter(client *ythttp.Client, urlTemplate string) *FeedAdapter {
	if urlTemplate == "" {
		urlTemplate = DefaultFeedURLTemplate
	}
	return &FeedAdapter{client: client, urlTemplate: urlTemplate}
}

// Name returns the adapter class.
func (f *FeedAdapter) Name() string { return ClassFeed }

// FeedURL returns the feed URL for channelID.
func (f *FeedAdapter) FeedURL(channelID string) string {
	return fmt.Sprintf(f.urlTemplate, channelID)
}

// FetchRecent downloads and parses the channel's feed.
func (f *FeedAdapter) FetchRecent(ctx context.Context, channelID string, limit int) ([]VideoItem, error) {
	if !IsCanonicalID(channelID) {
		return nil, fmt.Errorf("%w: %q is not a channel id", ErrInvalidReference, channelID)
	}

	resp, err := f.client.Get(ctx, f.FeedURL(channelID))
	if err != nil {
		return nil, wrapErr(ClassFeed, "fetch", channelID, fromHTTP(err))
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, wrapErr(ClassFeed, "fetch", channelID, fmt.Errorf("%w: parse feed: %v", ErrTransient, err))
	}

	items := feedToItems(feed, channelID)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func feedToItems(feed *gofeed.Feed, channelID string) []VideoItem {
	channelTitle := feed.Title
	if len(feed.Authors) > 0 && feed.Authors[0].Name != "" {
		channelTitle = feed.Authors[0].Name
	}

	items := make([]VideoItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}

		item := VideoItem{
			ID:           extValue(entry.Extensions, "yt", "videoId"),
			Title:        strings.TrimSpace(entry.Title),
			ChannelID:    channelID,
			ChannelTitle: channelTitle,
		}
		if item.ID == "" {
			item.ID = strings.TrimPrefix(entry.GUID, "yt:video:")
		}
		if item.ID == "" {
			continue
		}
		if len(entry.Authors) > 0 && entry.Authors[0].Name != "" {
			item.ChannelTitle = entry.Authors[0].Name
		}
		if entry.PublishedParsed != nil {
			item.PublishedAt = entry.PublishedParsed.UTC()
		} else if entry.UpdatedParsed != nil {
			item.PublishedAt = entry.UpdatedParsed.UTC()
		}

		if group := extChild(entry.Extensions, "media", "group"); group != nil {
			if th, ok := group.Children["thumbnail"]; ok && len(th) > 0 {
				item.ThumbnailURL = th[0].Attrs["url"]
			}
			if d, ok := group.Children["description"]; ok && len(d) > 0 {
				item.Description = CleanDescription(d[0].Value)
			}
		}
		if item.ThumbnailURL == "" && entry.Image != nil {
			item.ThumbnailURL = entry.Image.URL
		}
		if item.PublishedAt.IsZero() {
			item.PublishedAt = time.Unix(0, 0).UTC()
		}

		items = append(items, item)
	}
	return items
}

func extValue(e ext.Extensions, ns, name string) string {
	if x := extChild(e, ns, name); x != nil {
		return strings.TrimSpace(x.Value)
	}
	return ""
}

func extChild(e ext.Extensions, ns, name string) *ext.Extension {
	if e == nil {
		return nil
	}
	if list, ok := e[ns][name]; ok && len(list) > 0 {
		return &list[0]
	}
	return nil
}
