// Package youtube holds the channel and video model and the upstream
// adapters that resolve channel references and fetch recent uploads:
// the Data API, the per-channel syndication feed, channel page scraping
// and public Invidious/Piped mirrors.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	ythttp "ytfeed/http"
)

// Adapter classes. Pacing and circuit breaking are tracked per class.
const (
	ClassAPI    = "api"
	ClassFeed   = "rss"
	ClassScrape = "scrape"
	ClassMirror = "mirror"
)

// Sentinel errors of the adapter error taxonomy.
var (
	ErrChannelNotFound  = errors.New("youtube: channel not found")
	ErrTransient        = errors.New("youtube: transient upstream error")
	ErrQuotaExhausted   = errors.New("youtube: quota exhausted")
	ErrInvalidReference = errors.New("youtube: invalid channel reference")
)

// ChannelResolver turns a reference into a canonical channel. It returns
// an error wrapping ErrChannelNotFound when the upstream is sure the
// channel does not exist; any other error is transient.
type ChannelResolver interface {
	Name() string
	Resolve(ctx context.Context, ref ChannelReference) (*ResolvedChannel, error)
}

// ItemFetcher lists the most recent uploads of a canonical channel id.
type ItemFetcher interface {
	Name() string
	FetchRecent(ctx context.Context, channelID string, limit int) ([]VideoItem, error)
}

// Metered is implemented by adapters that spend a quota budget.
type Metered interface {
	Budget() *QuotaBudget
}

// AdapterError wraps an adapter failure with what was being attempted.
//
//	var adapterErr *youtube.AdapterError
//	if errors.As(err, &adapterErr) {
//		fmt.Println(adapterErr.Adapter, adapterErr.Target)
//	}
type AdapterError struct {
	// Adapter is the adapter class ("api", "rss", "scrape", "mirror").
	Adapter string
	// Op is "resolve" or "fetch".
	Op string
	// Target is the reference or channel id.
	Target string
	Err    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Adapter, e.Op, e.Target, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

func wrapErr(adapter, op, target string, err error) error {
	if err == nil {
		return nil
	}
	return &AdapterError{Adapter: adapter, Op: op, Target: target, Err: err}
}

// IsNotFound reports whether err says the channel does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrChannelNotFound)
}

// IsQuotaExhausted reports whether err is a spent metered budget.
func IsQuotaExhausted(err error) bool {
	return errors.Is(err, ErrQuotaExhausted)
}

// IsInvalidReference reports whether err rejects malformed input.
func IsInvalidReference(err error) bool {
	return errors.Is(err, ErrInvalidReference)
}

// IsTransient reports whether err is worth retrying later or with another
// adapter: anything that is not one of the definite outcomes above.
func IsTransient(err error) bool {
	return err != nil && !IsNotFound(err) && !IsQuotaExhausted(err) && !IsInvalidReference(err)
}

// fromHTTP marks 404 and 410 responses as not found and leaves every
// other error as it is.
func fromHTTP(err error) error {
	switch ythttp.StatusCode(err) {
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%w: %w", ErrChannelNotFound, err)
	}
	return err
}
