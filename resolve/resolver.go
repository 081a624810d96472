// Package resolve turns channel references into canonical channel ids by
// asking an ordered list of adapters, and records every successful
// resolution in the redirect table.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	ythttp "ytfeed/http"
	"ytfeed/metrics"
	"ytfeed/storage"
	"ytfeed/youtube"
)

// Outcome says how a Result was reached.
type Outcome string

const (
	// OutcomePassthrough: the reference already was a canonical id.
	OutcomePassthrough Outcome = "passthrough"
	// OutcomeRedirect: a stored redirect answered without any upstream call.
	OutcomeRedirect Outcome = "redirect"
	// OutcomeResolved: an adapter resolved the reference.
	OutcomeResolved Outcome = "resolved"
	// OutcomeMerged: resolved to a channel the caller already has.
	OutcomeMerged Outcome = "merged"
	// OutcomePlaceholder: every adapter failed; the channel is a placeholder.
	OutcomePlaceholder Outcome = "placeholder"
)

// Result is the outcome of resolving one reference.
type Result struct {
	Channel youtube.ResolvedChannel
	// TempID is the reference's synthetic id, the redirect's source.
	TempID  string
	Outcome Outcome
	// Cause explains a placeholder. It wraps youtube.ErrChannelNotFound
	// only when every adapter said the channel does not exist.
	Cause error
}

// Placeholder reports whether resolution failed.
func (r Result) Placeholder() bool { return r.Outcome == OutcomePlaceholder }

// Merged reports whether the caller must drop its temporary entry because
// it already knows the canonical channel.
func (r Result) Merged() bool { return r.Outcome == OutcomeMerged }

// Config holds optional collaborators.
type Config struct {
	Logger  *slog.Logger
	Metrics metrics.Recorder
	Now     func() time.Time
}

// Resolver asks adapters in priority order. Each call goes through the
// gate of the adapter's class, so an open circuit skips straight to the
// next adapter.
type Resolver struct {
	adapters  []youtube.ChannelResolver
	gate      *ythttp.Gate
	redirects *storage.RedirectStore
	group     singleflight.Group
	logger    *slog.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

// New creates a resolver. gate may be nil, in which case adapters are
// called directly.
func New(adapters []youtube.ChannelResolver, gate *ythttp.Gate, redirects *storage.RedirectStore, cfg Config) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if gate == nil {
		gate = ythttp.NewGate(nil, nil, ythttp.GateConfig{IsFailure: youtube.IsTransient})
	}
	return &Resolver{
		adapters:  adapters,
		gate:      gate,
		redirects: redirects,
		logger:    cfg.Logger.With("component", "resolver"),
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
}

// Adapters returns the adapter names in priority order.
func (r *Resolver) Adapters() []string {
	names := make([]string, len(r.adapters))
	for i, a := range r.adapters {
		names[i] = a.Name()
	}
	return names
}

// Resolve resolves ref. known, when not nil, reports whether the caller
// already holds a canonical id; a hit turns the outcome into
// OutcomeMerged.
//
// A reference no adapter could resolve yields a placeholder and a nil
// error. Errors are returned for invalid references, cancellation and
// failures to record the redirect.
func (r *Resolver) Resolve(ctx context.Context, ref youtube.ChannelReference, known func(canonicalID string) bool) (Result, error) {
	if err := ref.Validate(); err != nil {
		return Result{}, err
	}

	res, err := r.resolve(ctx, ref)
	if err != nil {
		return Result{}, err
	}
	if res.Outcome != OutcomePlaceholder && known != nil && known(res.Channel.CanonicalID) {
		res.Outcome = OutcomeMerged
	}
	r.metrics.RecordResolution(string(res.Outcome))
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, ref youtube.ChannelReference) (Result, error) {
	tempID := ref.TempID()

	if ref.Kind == youtube.KindCanonicalID {
		return Result{
			Channel: youtube.ResolvedChannel{
				CanonicalID:   ref.Value,
				Title:         ref.DisplayHint,
				SourceAdapter: youtube.SourcePassthrough,
				ResolvedAt:    r.now(),
			},
			TempID:  tempID,
			Outcome: OutcomePassthrough,
		}, nil
	}

	if to, ok := r.redirects.Get(tempID); ok {
		return Result{
			Channel: youtube.ResolvedChannel{
				CanonicalID:   to,
				Title:         ref.DisplayHint,
				SourceAdapter: youtube.SourceRedirect,
				ResolvedAt:    r.now(),
			},
			TempID:  tempID,
			Outcome: OutcomeRedirect,
		}, nil
	}

	// Concurrent resolutions of one reference share a single upstream pass.
	v, err, _ := r.group.Do(tempID, func() (any, error) {
		return r.resolveUpstream(ctx, ref)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (r *Resolver) resolveUpstream(ctx context.Context, ref youtube.ChannelReference) (Result, error) {
	tempID := ref.TempID()
	logger := r.logger.With("reference", ref.String(), "temp_id", tempID)

	notFound := 0
	var errs []error
	for _, adapter := range r.adapters {
		var ch *youtube.ResolvedChannel
		err := r.gate.Do(ctx, adapter.Name(), func(ctx context.Context) error {
			var err error
			ch, err = adapter.Resolve(ctx, ref)
			return err
		})
		if err == nil && (ch == nil || !youtube.IsCanonicalID(ch.CanonicalID)) {
			err = fmt.Errorf("%w: %s returned a malformed channel id", youtube.ErrTransient, adapter.Name())
		}
		if err == nil {
			resolved := *ch
			if resolved.SourceAdapter == "" {
				resolved.SourceAdapter = adapter.Name()
			}
			if resolved.Title == "" {
				resolved.Title = ref.DisplayHint
			}
			if resolved.ResolvedAt.IsZero() {
				resolved.ResolvedAt = r.now()
			}
			if err := r.redirects.Record(ctx, tempID, resolved); err != nil {
				return Result{}, fmt.Errorf("record redirect %s: %w", tempID, err)
			}
			// The table may have collapsed the target onto a newer id.
			if final, ok := r.redirects.Get(tempID); ok {
				resolved.CanonicalID = final
			}
			logger.Info("channel resolved", "adapter", adapter.Name(), "channel_id", resolved.CanonicalID)
			return Result{Channel: resolved, TempID: tempID, Outcome: OutcomeResolved}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		switch {
		case youtube.IsInvalidReference(err):
			return Result{}, err
		case youtube.IsNotFound(err):
			notFound++
			logger.Debug("adapter found no channel", "adapter", adapter.Name())
		case errors.Is(err, ythttp.ErrCircuitOpen):
			logger.Debug("adapter skipped, circuit open", "adapter", adapter.Name())
		default:
			logger.Warn("adapter failed", "adapter", adapter.Name(), "error", err)
		}
		errs = append(errs, err)
	}

	var cause error
	switch {
	case len(r.adapters) == 0:
		cause = fmt.Errorf("%w: no resolution adapters configured", youtube.ErrTransient)
	case notFound == len(r.adapters):
		cause = fmt.Errorf("%w: %w", youtube.ErrChannelNotFound, errors.Join(errs...))
	default:
		cause = fmt.Errorf("%w: %v", youtube.ErrTransient, errors.Join(errs...))
	}
	logger.Info("channel unresolved, using placeholder", "not_found", notFound, "adapters", len(r.adapters))

	return Result{
		Channel: ref.Placeholder(r.now()),
		TempID:  tempID,
		Outcome: OutcomePlaceholder,
		Cause:   cause,
	}, nil
}
