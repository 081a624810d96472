package youtube

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	ythttp "ytfeed/http"
)

// DefaultPageBaseURL is where channel pages are scraped from.
const DefaultPageBaseURL = "https://www.youtube.com"

// scriptIDRegex finds the channel id in the page's inline player data.
var scriptIDRegex = regexp.MustCompile(`"(?:externalId|channelId|browseId)":"(UC[A-Za-z0-9_-]{22})"`)

// ScrapeAdapter resolves handles and custom URLs by fetching the public
// channel page, usually through rotating proxies, and reading its metadata.
// Page layouts change without notice, so it sits behind the other
// resolution adapters and can be disabled in configuration.
type ScrapeAdapter struct {
	client  *ythttp.Client
	baseURL string
}

// NewScrapeAdapter creates a scrape adapter. An empty baseURL uses
// DefaultPageBaseURL.
func NewScrapeAdapter(client *ythttp.Client, baseURL string) *ScrapeAdapter {
	if baseURL == "" {
		baseURL = DefaultPageBaseURL
	}
	return &ScrapeAdapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Name returns the adapter class.
func (s *ScrapeAdapter) Name() string { return ClassScrape }

// Resolve fetches the channel page for ref. Custom URLs that 404 under
// /c/ are retried under /user/, where legacy usernames live.
func (s *ScrapeAdapter) Resolve(ctx context.Context, ref ChannelReference) (*ResolvedChannel, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	paths := []string{ref.PagePath()}
	if ref.Kind == KindCustomURL {
		paths = append(paths, "/user/"+url.PathEscape(ref.Value))
	}

	var lastErr error
	for _, p := range paths {
		resp, err := s.client.Get(ctx, s.baseURL+p)
		if err != nil {
			lastErr = fromHTTP(err)
			if IsNotFound(lastErr) {
				continue
			}
			break
		}

		resolved, err := parseChannelPage(resp.Body)
		if err != nil {
			lastErr = err
			break
		}
		return resolved, nil
	}
	return nil, wrapErr(ClassScrape, "resolve", ref.String(), lastErr)
}

func parseChannelPage(body []byte) (*ResolvedChannel, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse page: %v", ErrTransient, err)
	}

	id := pageChannelID(doc)
	if id == "" {
		// A page without an id is a layout change or an interstitial, not
		// proof the channel is missing.
		return nil, fmt.Errorf("%w: no channel id on page", ErrTransient)
	}

	title, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
	if title == "" {
		title, _ = doc.Find(`meta[name="title"]`).Attr("content")
	}
	if title == "" {
		title = strings.TrimSuffix(strings.TrimSpace(doc.Find("title").First().Text()), " - YouTube")
	}

	thumb, _ := doc.Find(`meta[property="og:image"]`).Attr("content")
	if thumb == "" {
		thumb, _ = doc.Find(`link[itemprop="thumbnailUrl"]`).Attr("href")
	}

	return &ResolvedChannel{
		CanonicalID:   id,
		Title:         strings.TrimSpace(title),
		ThumbnailURL:  thumb,
		SourceAdapter: ClassScrape,
		ResolvedAt:    time.Now(),
	}, nil
}

func pageChannelID(doc *goquery.Document) string {
	candidates := []string{}
	if v, ok := doc.Find(`meta[itemprop="identifier"]`).Attr("content"); ok {
		candidates = append(candidates, v)
	}
	if v, ok := doc.Find(`meta[itemprop="channelId"]`).Attr("content"); ok {
		candidates = append(candidates, v)
	}
	if v, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok {
		candidates = append(candidates, v)
	}
	if v, ok := doc.Find(`meta[property="og:url"]`).Attr("content"); ok {
		candidates = append(candidates, v)
	}
	for _, c := range candidates {
		if id := FindCanonicalID(c); id != "" {
			return id
		}
	}

	var found string
	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if m := scriptIDRegex.FindStringSubmatch(sel.Text()); m != nil {
			found = m[1]
			return false
		}
		return true
	})
	return found
}
