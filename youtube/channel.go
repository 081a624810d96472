package youtube

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ReferenceKind identifies how a channel reference names its channel.
type ReferenceKind string

const (
	KindCanonicalID ReferenceKind = "canonical_id"
	KindHandle      ReferenceKind = "handle"
	KindCustomURL   ReferenceKind = "custom_url"
)

// Source adapter names recorded on a ResolvedChannel that no upstream produced.
const (
	SourceNone        = "none"
	SourcePassthrough = "passthrough"
	SourceRedirect    = "redirect"
)

// Temp id prefixes, one namespace per reference kind.
const (
	handlePrefix = "handle_"
	customPrefix = "custom_"
)

var (
	canonicalIDRegex = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)
	embeddedIDRegex  = regexp.MustCompile(`UC[A-Za-z0-9_-]{22}`)
	handleRegex      = regexp.MustCompile(`^[\p{L}\p{N}._-]{3,30}$`)
	customNameRegex  = regexp.MustCompile(`^[\p{L}\p{N}._-]{1,100}$`)
)

// ChannelReference is a channel as the user or an import supplied it.
type ChannelReference struct {
	Kind        ReferenceKind `json:"kind"`
	Value       string        `json:"value"`
	DisplayHint string        `json:"displayHint,omitempty"`
}

// ResolvedChannel is the outcome of resolving a reference. A placeholder
// has SourceAdapter SourceNone and a temp id as CanonicalID.
type ResolvedChannel struct {
	CanonicalID   string    `json:"canonicalId"`
	Title         string    `json:"title"`
	ThumbnailURL  string    `json:"thumbnailUrl,omitempty"`
	SourceAdapter string    `json:"sourceAdapter"`
	ResolvedAt    time.Time `json:"resolvedAt"`
}

// IsPlaceholder reports whether the channel stands in for an unresolved reference.
func (c ResolvedChannel) IsPlaceholder() bool {
	return c.SourceAdapter == SourceNone
}

// IsCanonicalID reports whether id has the platform's channel id shape.
func IsCanonicalID(id string) bool {
	return canonicalIDRegex.MatchString(id)
}

// FindCanonicalID returns the first channel id embedded in s.
func FindCanonicalID(s string) string {
	return embeddedIDRegex.FindString(s)
}

// IsTempID reports whether id is a synthetic temp id.
func IsTempID(id string) bool {
	_, ok := ParseTempID(id)
	return ok
}

// Validate rejects malformed references.
func (r ChannelReference) Validate() error {
	switch r.Kind {
	case KindCanonicalID:
		if !IsCanonicalID(r.Value) {
			return fmt.Errorf("%w: %q is not a channel id", ErrInvalidReference, r.Value)
		}
	case KindHandle:
		if !handleRegex.MatchString(r.Value) {
			return fmt.Errorf("%w: %q is not a handle", ErrInvalidReference, r.Value)
		}
	case KindCustomURL:
		if !customNameRegex.MatchString(r.Value) {
			return fmt.Errorf("%w: %q is not a custom url name", ErrInvalidReference, r.Value)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidReference, r.Kind)
	}
	return nil
}

// TempID returns the deterministic local id for the reference. Canonical
// references are their own id.
func (r ChannelReference) TempID() string {
	switch r.Kind {
	case KindHandle:
		return handlePrefix + strings.ToLower(r.Value)
	case KindCustomURL:
		return customPrefix + strings.ToLower(r.Value)
	default:
		return r.Value
	}
}

// String renders the reference the way a user would type it.
func (r ChannelReference) String() string {
	switch r.Kind {
	case KindHandle:
		return "@" + r.Value
	case KindCustomURL:
		return "c/" + r.Value
	default:
		return r.Value
	}
}

// PagePath returns the path of the channel's page on youtube.com.
func (r ChannelReference) PagePath() string {
	switch r.Kind {
	case KindHandle:
		return "/@" + url.PathEscape(r.Value)
	case KindCustomURL:
		return "/c/" + url.PathEscape(r.Value)
	default:
		return "/channel/" + r.Value
	}
}

// PageURL returns the channel page URL on youtube.com.
func (r ChannelReference) PageURL() string {
	return "https://www.youtube.com" + r.PagePath()
}

// Placeholder returns the unresolved stand-in for r.
func (r ChannelReference) Placeholder(now time.Time) ResolvedChannel {
	title := r.DisplayHint
	if title == "" {
		title = r.String()
	}
	return ResolvedChannel{
		CanonicalID:   r.TempID(),
		Title:         title,
		SourceAdapter: SourceNone,
		ResolvedAt:    now,
	}
}

// ParseTempID recovers the reference encoded in a temp id.
func ParseTempID(id string) (ChannelReference, bool) {
	var ref ChannelReference
	switch {
	case strings.HasPrefix(id, handlePrefix):
		ref = ChannelReference{Kind: KindHandle, Value: strings.TrimPrefix(id, handlePrefix)}
	case strings.HasPrefix(id, customPrefix):
		ref = ChannelReference{Kind: KindCustomURL, Value: strings.TrimPrefix(id, customPrefix)}
	default:
		return ChannelReference{}, false
	}
	if ref.Validate() != nil {
		return ChannelReference{}, false
	}
	return ref, true
}

// ParseReference turns user input into a reference. It accepts channel
// ids, @handles, temp ids and youtube.com URLs of the /channel/, /@, /c/
// and /user/ forms. A bare word is taken as a handle.
func ParseReference(raw string) (ChannelReference, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ChannelReference{}, fmt.Errorf("%w: empty reference", ErrInvalidReference)
	}

	if IsCanonicalID(s) {
		return ChannelReference{Kind: KindCanonicalID, Value: s}, nil
	}
	if ref, ok := ParseTempID(s); ok {
		return ref, nil
	}
	if strings.HasPrefix(s, "@") {
		return validated(ChannelReference{Kind: KindHandle, Value: strings.TrimPrefix(s, "@")})
	}
	if strings.Contains(s, "youtube.com") || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return parseChannelURL(s)
	}
	return validated(ChannelReference{Kind: KindHandle, Value: s})
}

func parseChannelURL(s string) (ChannelReference, error) {
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ChannelReference{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	if host != "youtube.com" {
		return ChannelReference{}, fmt.Errorf("%w: %q is not a youtube.com url", ErrInvalidReference, s)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return ChannelReference{}, fmt.Errorf("%w: %q names no channel", ErrInvalidReference, s)
	}

	first := segments[0]
	switch {
	case strings.HasPrefix(first, "@"):
		value, _ := url.PathUnescape(strings.TrimPrefix(first, "@"))
		return validated(ChannelReference{Kind: KindHandle, Value: value})
	case first == "channel" && len(segments) > 1:
		return validated(ChannelReference{Kind: KindCanonicalID, Value: segments[1]})
	case (first == "c" || first == "user") && len(segments) > 1:
		value, _ := url.PathUnescape(segments[1])
		return validated(ChannelReference{Kind: KindCustomURL, Value: value})
	case len(segments) == 1 && first != "watch" && first != "feed" && first != "results":
		return validated(ChannelReference{Kind: KindCustomURL, Value: first})
	}
	return ChannelReference{}, fmt.Errorf("%w: %q names no channel", ErrInvalidReference, s)
}

func validated(ref ChannelReference) (ChannelReference, error) {
	if err := ref.Validate(); err != nil {
		return ChannelReference{}, err
	}
	return ref, nil
}
