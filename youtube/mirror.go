package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	ythttp "ytfeed/http"
)

// MirrorKind names the API a mirror instance speaks.
type MirrorKind string

const (
	MirrorInvidious MirrorKind = "invidious"
	MirrorPiped     MirrorKind = "piped"
)

// Mirror is one public read-only instance.
type Mirror struct {
	BaseURL string     `yaml:"url" json:"url"`
	Kind    MirrorKind `yaml:"kind" json:"kind"`
}

// MirrorAdapter resolves and fetches through public Invidious and Piped
// instances. Each call starts at the next instance in rotation and moves on
// after a transient failure; a channel is only reported missing when every
// instance says so.
type MirrorAdapter struct {
	client  *ythttp.Client
	mirrors []Mirror
	next    atomic.Uint32
}

// NewMirrorAdapter creates a mirror adapter over the given instances.
func NewMirrorAdapter(client *ythttp.Client, mirrors []Mirror) *MirrorAdapter {
	ms := make([]Mirror, 0, len(mirrors))
	for _, m := range mirrors {
		m.BaseURL = strings.TrimRight(m.BaseURL, "/")
		if m.Kind == "" {
			m.Kind = MirrorInvidious
		}
		ms = append(ms, m)
	}
	return &MirrorAdapter{client: client, mirrors: ms}
}

// Name returns the adapter class.
func (m *MirrorAdapter) Name() string { return ClassMirror }

// Resolve asks the mirrors to resolve ref.
func (m *MirrorAdapter) Resolve(ctx context.Context, ref ChannelReference) (*ResolvedChannel, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	var resolved *ResolvedChannel
	err := m.each(ctx, func(mirror Mirror) error {
		var err error
		switch mirror.Kind {
		case MirrorPiped:
			resolved, err = m.resolvePiped(ctx, mirror, ref)
		default:
			resolved, err = m.resolveInvidious(ctx, mirror, ref)
		}
		return err
	})
	if err != nil {
		return nil, wrapErr(ClassMirror, "resolve", ref.String(), err)
	}
	return resolved, nil
}

// FetchRecent lists recent uploads of channelID from the mirrors.
func (m *MirrorAdapter) FetchRecent(ctx context.Context, channelID string, limit int) ([]VideoItem, error) {
	if !IsCanonicalID(channelID) {
		return nil, fmt.Errorf("%w: %q is not a channel id", ErrInvalidReference, channelID)
	}

	var items []VideoItem
	err := m.each(ctx, func(mirror Mirror) error {
		var err error
		switch mirror.Kind {
		case MirrorPiped:
			items, err = m.fetchPiped(ctx, mirror, channelID)
		default:
			items, err = m.fetchInvidious(ctx, mirror, channelID)
		}
		return err
	})
	if err != nil {
		return nil, wrapErr(ClassMirror, "fetch", channelID, err)
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// each runs fn against the mirrors in rotation until one succeeds.
func (m *MirrorAdapter) each(ctx context.Context, fn func(Mirror) error) error {
	if len(m.mirrors) == 0 {
		return fmt.Errorf("%w: no mirrors configured", ErrTransient)
	}

	start := int(m.next.Add(1)-1) % len(m.mirrors)
	notFound := 0
	var errs []error
	for i := 0; i < len(m.mirrors); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		mirror := m.mirrors[(start+i)%len(m.mirrors)]
		err := fn(mirror)
		if err == nil {
			return nil
		}
		err = fromHTTP(err)
		if IsNotFound(err) {
			notFound++
		}
		errs = append(errs, fmt.Errorf("%s: %w", mirror.BaseURL, err))
	}

	if notFound == len(m.mirrors) {
		return fmt.Errorf("%w: %w", ErrChannelNotFound, errors.Join(errs...))
	}
	// Some instance failed for another reason, so not-found answers from the
	// rest are not conclusive.
	return fmt.Errorf("%w: %v", ErrTransient, errors.Join(errs...))
}

type invidiousResolve struct {
	UCID     string `json:"ucid"`
	PageType string `json:"pageType"`
}

type invidiousChannel struct {
	Author           string               `json:"author"`
	AuthorID         string               `json:"authorId"`
	AuthorThumbnails []invidiousThumbnail `json:"authorThumbnails"`
}

type invidiousThumbnail struct {
	Quality string `json:"quality"`
	URL     string `json:"url"`
	Width   int    `json:"width"`
}

type invidiousVideo struct {
	VideoID         string               `json:"videoId"`
	Title           string               `json:"title"`
	Author          string               `json:"author"`
	AuthorID        string               `json:"authorId"`
	Published       int64                `json:"published"`
	LengthSeconds   int64                `json:"lengthSeconds"`
	Description     string               `json:"description"`
	DescriptionHTML string               `json:"descriptionHtml"`
	VideoThumbnails []invidiousThumbnail `json:"videoThumbnails"`
}

func (m *MirrorAdapter) resolveInvidious(ctx context.Context, mirror Mirror, ref ChannelReference) (*ResolvedChannel, error) {
	id := ref.Value
	if ref.Kind != KindCanonicalID {
		var r invidiousResolve
		q := url.Values{"url": {ref.PageURL()}}
		if err := m.client.GetJSON(ctx, mirror.BaseURL+"/api/v1/resolveurl?"+q.Encode(), &r); err != nil {
			// Invidious answers unknown URLs with 400.
			if ythttp.StatusCode(err) == 400 {
				return nil, fmt.Errorf("%w: %w", ErrChannelNotFound, err)
			}
			return nil, err
		}
		if !IsCanonicalID(r.UCID) {
			return nil, ErrChannelNotFound
		}
		id = r.UCID
	}

	var ch invidiousChannel
	q := url.Values{"fields": {"author,authorId,authorThumbnails"}}
	if err := m.client.GetJSON(ctx, mirror.BaseURL+"/api/v1/channels/"+id+"?"+q.Encode(), &ch); err != nil {
		return nil, err
	}
	if ch.AuthorID != "" {
		id = ch.AuthorID
	}

	return &ResolvedChannel{
		CanonicalID:   id,
		Title:         ch.Author,
		ThumbnailURL:  largestThumbnail(ch.AuthorThumbnails),
		SourceAdapter: ClassMirror,
		ResolvedAt:    time.Now(),
	}, nil
}

func (m *MirrorAdapter) fetchInvidious(ctx context.Context, mirror Mirror, channelID string) ([]VideoItem, error) {
	resp, err := m.client.Get(ctx, mirror.BaseURL+"/api/v1/channels/"+channelID+"/videos")
	if err != nil {
		return nil, err
	}

	// Newer instances wrap the list in an object with a continuation token.
	var videos []invidiousVideo
	body := bytes.TrimSpace(resp.Body)
	if len(body) > 0 && body[0] == '[' {
		err = json.Unmarshal(body, &videos)
	} else {
		var wrapped struct {
			Videos []invidiousVideo `json:"videos"`
		}
		err = json.Unmarshal(body, &wrapped)
		videos = wrapped.Videos
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode videos: %v", ErrTransient, err)
	}

	items := make([]VideoItem, 0, len(videos))
	for _, v := range videos {
		if v.VideoID == "" {
			continue
		}
		desc := v.DescriptionHTML
		if desc == "" {
			desc = v.Description
		}
		items = append(items, VideoItem{
			ID:           v.VideoID,
			Title:        v.Title,
			ChannelID:    channelID,
			ChannelTitle: v.Author,
			PublishedAt:  time.Unix(v.Published, 0).UTC(),
			ThumbnailURL: videoThumbnail(v.VideoThumbnails),
			Description:  CleanDescription(desc),
			Duration:     v.LengthSeconds,
		})
	}
	return items, nil
}

type pipedChannel struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	AvatarURL      string        `json:"avatarUrl"`
	RelatedStreams []pipedStream `json:"relatedStreams"`
}

type pipedStream struct {
	URL              string `json:"url"`
	Title            string `json:"title"`
	Thumbnail        string `json:"thumbnail"`
	UploaderName     string `json:"uploaderName"`
	Uploaded         int64  `json:"uploaded"`
	Duration         int64  `json:"duration"`
	ShortDescription string `json:"shortDescription"`
}

func (m *MirrorAdapter) resolvePiped(ctx context.Context, mirror Mirror, ref ChannelReference) (*ResolvedChannel, error) {
	var path string
	switch ref.Kind {
	case KindHandle:
		path = "/@/" + url.PathEscape(ref.Value)
	case KindCustomURL:
		path = "/c/" + url.PathEscape(ref.Value)
	default:
		path = "/channel/" + ref.Value
	}

	var ch pipedChannel
	if err := m.client.GetJSON(ctx, mirror.BaseURL+path, &ch); err != nil {
		return nil, err
	}
	if !IsCanonicalID(ch.ID) {
		return nil, ErrChannelNotFound
	}
	return &ResolvedChannel{
		CanonicalID:   ch.ID,
		Title:         ch.Name,
		ThumbnailURL:  ch.AvatarURL,
		SourceAdapter: ClassMirror,
		ResolvedAt:    time.Now(),
	}, nil
}

func (m *MirrorAdapter) fetchPiped(ctx context.Context, mirror Mirror, channelID string) ([]VideoItem, error) {
	var ch pipedChannel
	if err := m.client.GetJSON(ctx, mirror.BaseURL+"/channel/"+channelID, &ch); err != nil {
		return nil, err
	}

	items := make([]VideoItem, 0, len(ch.RelatedStreams))
	for _, s := range ch.RelatedStreams {
		id := videoIDFromWatchURL(s.URL)
		if id == "" {
			continue
		}
		title := s.UploaderName
		if title == "" {
			title = ch.Name
		}
		items = append(items, VideoItem{
			ID:           id,
			Title:        s.Title,
			ChannelID:    channelID,
			ChannelTitle: title,
			PublishedAt:  time.UnixMilli(s.Uploaded).UTC(),
			ThumbnailURL: s.Thumbnail,
			Description:  CleanDescription(s.ShortDescription),
			Duration:     s.Duration,
		})
	}
	return items, nil
}

func videoIDFromWatchURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("v")
}

func largestThumbnail(ts []invidiousThumbnail) string {
	best := ""
	width := -1
	for _, t := range ts {
		if t.Width > width && t.URL != "" {
			best, width = t.URL, t.Width
		}
	}
	if strings.HasPrefix(best, "//") {
		best = "https:" + best
	}
	return best
}

func videoThumbnail(ts []invidiousThumbnail) string {
	for _, t := range ts {
		if t.Quality == "high" || t.Quality == "medium" {
			return t.URL
		}
	}
	if len(ts) > 0 {
		return ts[0].URL
	}
	return ""
}
