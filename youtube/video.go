package youtube

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxDescriptionRunes bounds stored descriptions.
const maxDescriptionRunes = 2000

// VideoItem is one upload. ID alone identifies it.
type VideoItem struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ChannelID    string    `json:"channelId"`
	ChannelTitle string    `json:"channelTitle"`
	PublishedAt  time.Time `json:"publishedAt"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	Description  string    `json:"description,omitempty"`
	// Duration in seconds, zero when the source does not report it.
	Duration int64 `json:"duration,omitempty"`
}

// URL returns the watch page of the video.
func (v VideoItem) URL() string {
	return "https://www.youtube.com/watch?v=" + v.ID
}

var descriptionPolicy = bluemonday.StrictPolicy()

// CleanDescription strips markup from an upstream description and bounds
// its length. Mirrors return HTML; the API and feed return plain text.
func CleanDescription(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "<br>", "\n")
	s = strings.ReplaceAll(s, "<br/>", "\n")
	s = html.UnescapeString(descriptionPolicy.Sanitize(s))
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxDescriptionRunes {
		runes := []rune(s)
		s = string(runes[:maxDescriptionRunes])
	}
	return s
}

var isoDurationRegex = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseISODuration converts the Data API's ISO 8601 durations ("PT4M13S")
// to seconds. Unparseable input yields 0.
func ParseISODuration(s string) int64 {
	m := isoDurationRegex.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	units := []int64{86400, 3600, 60, 1}
	var total int64
	for i, u := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0
		}
		total += n * u
	}
	return total
}
