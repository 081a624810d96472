package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	ytapi "google.golang.org/api/youtube/v3"

	ythttp "ytfeed/http"
)

// maxPlaylistPage is the Data API's page size limit.
const maxPlaylistPage = 50

// APIConfig configures the Data API adapter.
type APIConfig struct {
	// APIKey is the Data API key. Required.
	APIKey string
	// Endpoint overrides the API base URL, for tests.
	Endpoint string
	// DailyQuota and QuotaReserve size the budget.
	DailyQuota   int
	QuotaReserve int
	// HTTPClient overrides the transport used by the generated client.
	HTTPClient *http.Client
}

// APIAdapter resolves channels and lists uploads through the YouTube Data
// API v3. Every call is charged against its QuotaBudget before it is made.
type APIAdapter struct {
	service *ytapi.Service
	budget  *QuotaBudget
	logger  *slog.Logger
}

// NewAPIAdapter creates a Data API adapter.
func NewAPIAdapter(ctx context.Context, cfg APIConfig, logger *slog.Logger) (*APIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	service, err := ytapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	return &APIAdapter{
		service: service,
		budget:  NewQuotaBudget(cfg.DailyQuota, cfg.QuotaReserve),
		logger:  logger.With("component", "youtube.api"),
	}, nil
}

// Name returns the adapter class.
func (a *APIAdapter) Name() string { return ClassAPI }

// Budget returns the adapter's quota budget.
func (a *APIAdapter) Budget() *QuotaBudget { return a.budget }

// Resolve looks a reference up. Handles and ids cost one unit; custom URLs
// try the legacy username lookup first and fall back to a search, which
// costs a hundred.
func (a *APIAdapter) Resolve(ctx context.Context, ref ChannelReference) (*ResolvedChannel, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	var (
		ch  *ytapi.Channel
		err error
	)
	switch ref.Kind {
	case KindCanonicalID:
		ch, err = a.listChannel(ctx, func(c *ytapi.ChannelsListCall) *ytapi.ChannelsListCall { return c.Id(ref.Value) })
	case KindHandle:
		ch, err = a.listChannel(ctx, func(c *ytapi.ChannelsListCall) *ytapi.ChannelsListCall { return c.ForHandle("@" + ref.Value) })
	case KindCustomURL:
		ch, err = a.listChannel(ctx, func(c *ytapi.ChannelsListCall) *ytapi.ChannelsListCall { return c.ForUsername(ref.Value) })
		if IsNotFound(err) {
			ch, err = a.searchChannel(ctx, ref.Value)
		}
	}
	if err != nil {
		return nil, wrapErr(ClassAPI, "resolve", ref.String(), err)
	}

	resolved := &ResolvedChannel{
		CanonicalID:   ch.Id,
		SourceAdapter: ClassAPI,
		ResolvedAt:    time.Now(),
	}
	if ch.Snippet != nil {
		resolved.Title = ch.Snippet.Title
		resolved.ThumbnailURL = bestThumbnail(ch.Snippet.Thumbnails)
	}
	return resolved, nil
}

// charge waits for a request slot and then spends cost from the budget.
func (a *APIAdapter) charge(ctx context.Context, cost int) error {
	if err := ythttp.PaceRequest(ctx); err != nil {
		return err
	}
	return a.budget.Spend(cost)
}

func (a *APIAdapter) listChannel(ctx context.Context, filter func(*ytapi.ChannelsListCall) *ytapi.ChannelsListCall) (*ytapi.Channel, error) {
	if err := a.charge(ctx, CostChannelsList); err != nil {
		return nil, err
	}

	call := filter(a.service.Channels.List([]string{"snippet"})).Context(ctx)
	resp, err := call.Do()
	if err != nil {
		return nil, a.classify(err)
	}
	if len(resp.Items) == 0 || resp.Items[0] == nil {
		return nil, ErrChannelNotFound
	}
	return resp.Items[0], nil
}

func (a *APIAdapter) searchChannel(ctx context.Context, query string) (*ytapi.Channel, error) {
	if err := a.charge(ctx, CostSearch); err != nil {
		return nil, err
	}

	resp, err := a.service.Search.List([]string{"snippet"}).
		Q(query).
		Type("channel").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, a.classify(err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Id == nil || resp.Items[0].Id.ChannelId == "" {
		return nil, ErrChannelNotFound
	}

	item := resp.Items[0]
	ch := &ytapi.Channel{Id: item.Id.ChannelId}
	if item.Snippet != nil {
		ch.Snippet = &ytapi.ChannelSnippet{
			Title:      item.Snippet.ChannelTitle,
			Thumbnails: item.Snippet.Thumbnails,
		}
		if ch.Snippet.Title == "" {
			ch.Snippet.Title = item.Snippet.Title
		}
	}
	return ch, nil
}

// FetchRecent lists the newest uploads of channelID from its uploads
// playlist, then fills durations with one videos.list call when the budget
// allows it.
func (a *APIAdapter) FetchRecent(ctx context.Context, channelID string, limit int) ([]VideoItem, error) {
	if !IsCanonicalID(channelID) {
		return nil, fmt.Errorf("%w: %q is not a channel id", ErrInvalidReference, channelID)
	}
	if limit <= 0 || limit > maxPlaylistPage {
		limit = maxPlaylistPage
	}

	if err := a.charge(ctx, CostPlaylistItems); err != nil {
		return nil, wrapErr(ClassAPI, "fetch", channelID, err)
	}

	resp, err := a.service.PlaylistItems.List([]string{"snippet", "contentDetails"}).
		PlaylistId(uploadsPlaylistID(channelID)).
		MaxResults(int64(limit)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapErr(ClassAPI, "fetch", channelID, a.classify(err))
	}

	items := make([]VideoItem, 0, len(resp.Items))
	for _, pi := range resp.Items {
		if item, ok := playlistItemToVideo(pi, channelID); ok {
			items = append(items, item)
		}
	}

	if len(items) > 0 && a.budget.Available(CostVideosList) {
		if err := a.fillDurations(ctx, items); err != nil {
			a.logger.Warn("duration lookup failed", "channel_id", channelID, "error", err)
		}
	}
	return items, nil
}

func (a *APIAdapter) fillDurations(ctx context.Context, items []VideoItem) error {
	if err := a.charge(ctx, CostVideosList); err != nil {
		return err
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	resp, err := a.service.Videos.List([]string{"contentDetails"}).Id(ids...).Context(ctx).Do()
	if err != nil {
		return a.classify(err)
	}

	durations := make(map[string]int64, len(resp.Items))
	for _, v := range resp.Items {
		if v.ContentDetails != nil {
			durations[v.Id] = ParseISODuration(v.ContentDetails.Duration)
		}
	}
	for i := range items {
		items[i].Duration = durations[items[i].ID]
	}
	return nil
}

// classify maps Data API errors onto the adapter taxonomy.
func (a *APIAdapter) classify(err error) error {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return err
	}

	for _, item := range gErr.Errors {
		switch item.Reason {
		case "quotaExceeded", "dailyLimitExceeded":
			a.budget.MarkExhausted()
			a.logger.Warn("quota exhausted by upstream", "reason", item.Reason)
			return fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
		case "channelNotFound", "playlistNotFound":
			return fmt.Errorf("%w: %v", ErrChannelNotFound, err)
		}
	}
	if gErr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrChannelNotFound, err)
	}
	return err
}

// uploadsPlaylistID derives a channel's uploads playlist from its id.
func uploadsPlaylistID(channelID string) string {
	return "UU" + strings.TrimPrefix(channelID, "UC")
}

func playlistItemToVideo(pi *ytapi.PlaylistItem, channelID string) (VideoItem, bool) {
	if pi == nil || pi.Snippet == nil {
		return VideoItem{}, false
	}
	s := pi.Snippet

	item := VideoItem{
		Title:        s.Title,
		ChannelID:    channelID,
		ChannelTitle: s.ChannelTitle,
		Description:  CleanDescription(s.Description),
		ThumbnailURL: bestThumbnail(s.Thumbnails),
	}
	if s.VideoOwnerChannelTitle != "" {
		item.ChannelTitle = s.VideoOwnerChannelTitle
	}
	if s.ResourceId != nil {
		item.ID = s.ResourceId.VideoId
	}

	published := s.PublishedAt
	if pi.ContentDetails != nil {
		if item.ID == "" {
			item.ID = pi.ContentDetails.VideoId
		}
		if pi.ContentDetails.VideoPublishedAt != "" {
			published = pi.ContentDetails.VideoPublishedAt
		}
	}
	if t, err := time.Parse(time.RFC3339, published); err == nil {
		item.PublishedAt = t.UTC()
	}
	return item, item.ID != ""
}

func bestThumbnail(t *ytapi.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*ytapi.Thumbnail{t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}
