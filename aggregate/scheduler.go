// Package aggregate runs the feed aggregation pass: resolve unresolved
// subscriptions, fetch recent items per channel in paced batches, merge
// them and publish the bounded result.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	ythttp "ytfeed/http"
	"ytfeed/metrics"
	"ytfeed/resolve"
	"ytfeed/storage"
	"ytfeed/youtube"
)

// ErrRunInProgress is returned by RunNow while another run is active.
var ErrRunInProgress = errors.New("aggregate: run in progress")

// Phase is where the scheduler is in a run.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseResolving Phase = "resolving"
	PhaseFetching  Phase = "fetching"
	PhaseMerging   Phase = "merging"
	PhasePublished Phase = "published"
)

// TriggerResult tells what a Trigger call did.
type TriggerResult string

const (
	// TriggerStarted: a run started.
	TriggerStarted TriggerResult = "started"
	// TriggerQueued: a run was active, a follow-up run is now pending.
	TriggerQueued TriggerResult = "queued"
	// TriggerCoalesced: a follow-up run was already pending.
	TriggerCoalesced TriggerResult = "coalesced"
)

// Config controls batching, bounds and the periodic trigger.
type Config struct {
	// Schedule is a cron spec for periodic runs; empty disables them.
	Schedule string
	// BatchSizeMetered applies while the metered API has budget left.
	BatchSizeMetered int
	// BatchSizeUnmetered applies otherwise.
	BatchSizeUnmetered int
	// BatchDelay separates consecutive batches.
	BatchDelay time.Duration
	// Concurrency bounds parallel work within a batch.
	Concurrency int
	// MaxItems bounds the published aggregate.
	MaxItems int
	// ItemsPerChannel is the fetch limit per channel.
	ItemsPerChannel int
	// PreserveOnEmpty keeps the previous items when a run fetches nothing.
	PreserveOnEmpty bool
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Schedule:           "@every 15m",
		BatchSizeMetered:   50,
		BatchSizeUnmetered: 5,
		BatchDelay:         2 * time.Second,
		Concurrency:        5,
		MaxItems:           DefaultMaxItems,
		ItemsPerChannel:    15,
		PreserveOnEmpty:    true,
	}
}

// Deps are the scheduler's collaborators.
type Deps struct {
	State      *storage.StateStore
	Aggregates *storage.AggregateStore
	Resolver   *resolve.Resolver
	// Fetchers in priority order.
	Fetchers []youtube.ItemFetcher
	Gate     *ythttp.Gate
	Logger   *slog.Logger
	Metrics  metrics.Recorder
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Phase   Phase  `json:"phase"`
	Running bool   `json:"running"`
	Pending bool   `json:"pending"`
	RunID   string `json:"runId,omitempty"`
}

// Scheduler owns aggregation runs. At most one run is active at a time;
// triggers that arrive during a run collapse into a single follow-up run.
type Scheduler struct {
	config     Config
	state      *storage.StateStore
	aggregates *storage.AggregateStore
	resolver   *resolve.Resolver
	fetchers   []youtube.ItemFetcher
	budget     *youtube.QuotaBudget
	gate       *ythttp.Gate
	logger     *slog.Logger
	metrics    metrics.Recorder

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	running atomic.Bool
	pending chan struct{}
	phase   atomic.Value
	runID   atomic.Value

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. Zero config fields take their defaults.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.State == nil || deps.Aggregates == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("aggregate: state, aggregates and resolver are required")
	}
	def := DefaultConfig()
	if cfg.BatchSizeMetered <= 0 {
		cfg.BatchSizeMetered = def.BatchSizeMetered
	}
	if cfg.BatchSizeUnmetered <= 0 {
		cfg.BatchSizeUnmetered = def.BatchSizeUnmetered
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = def.MaxItems
	}
	if cfg.ItemsPerChannel <= 0 {
		cfg.ItemsPerChannel = def.ItemsPerChannel
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Gate == nil {
		deps.Gate = ythttp.NewGate(nil, nil, ythttp.GateConfig{IsFailure: youtube.IsTransient})
	}

	var budget *youtube.QuotaBudget
	for _, f := range deps.Fetchers {
		if m, ok := f.(youtube.Metered); ok {
			budget = m.Budget()
			break
		}
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		config:     cfg,
		state:      deps.State,
		aggregates: deps.Aggregates,
		resolver:   deps.Resolver,
		fetchers:   deps.Fetchers,
		budget:     budget,
		gate:       deps.Gate,
		logger:     deps.Logger.With("component", "scheduler"),
		metrics:    deps.Metrics,
		now:        time.Now,
		sleep:      sleepContext,
		pending:    make(chan struct{}, 1),
		cron:       cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.phase.Store(PhaseIdle)
	s.runID.Store("")

	if cfg.Schedule != "" {
		if _, err := s.cron.AddFunc(cfg.Schedule, func() { s.Trigger() }); err != nil {
			cancel()
			return nil, fmt.Errorf("aggregate: invalid schedule %q: %w", cfg.Schedule, err)
		}
	}
	return s, nil
}

// Start starts the periodic trigger.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", "schedule", s.config.Schedule)
	s.cron.Start()
}

// Stop stops the periodic trigger, cancels any active run and waits for
// it to wind down or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger requests a run without waiting for it.
func (s *Scheduler) Trigger() TriggerResult {
	if s.ctx.Err() != nil {
		return TriggerCoalesced
	}
	if s.running.CompareAndSwap(false, true) {
		s.wg.Add(1)
		go s.loop()
		return TriggerStarted
	}
	select {
	case s.pending <- struct{}{}:
		return TriggerQueued
	default:
		return TriggerCoalesced
	}
}

// RunNow runs one pass synchronously. It returns ErrRunInProgress when a
// run is already active.
func (s *Scheduler) RunNow(ctx context.Context) (storage.AggregateRun, error) {
	if !s.running.CompareAndSwap(false, true) {
		return storage.AggregateRun{}, ErrRunInProgress
	}
	defer s.release()

	ctx, cancel := mergeCancel(ctx, s.ctx)
	defer cancel()
	return s.execute(ctx), nil
}

// Status returns the current phase and guard state.
func (s *Scheduler) Status() Status {
	return Status{
		Phase:   s.phase.Load().(Phase),
		Running: s.running.Load(),
		Pending: len(s.pending) > 0,
		RunID:   s.runID.Load().(string),
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		s.execute(s.ctx)
		select {
		case <-s.pending:
			if s.ctx.Err() == nil {
				continue
			}
		default:
		}
		s.release()
		return
	}
}

// release clears the run guard, starting the pending run if one was
// queued after the last check.
func (s *Scheduler) release() {
	s.running.Store(false)
	select {
	case <-s.pending:
		s.Trigger()
	default:
	}
}

func (s *Scheduler) setPhase(p Phase) {
	s.phase.Store(p)
}

// execute performs one run and records its outcome. It never panics out
// and never publishes a partial result.
func (s *Scheduler) execute(ctx context.Context) storage.AggregateRun {
	start := s.now()
	run := storage.AggregateRun{
		ID:        uuid.NewString(),
		StartedAt: start.UTC(),
	}
	s.runID.Store(run.ID)
	logger := s.logger.With("run_id", run.ID)
	logger.Info("run started")

	quotaBefore := s.quotaConsumed()
	defer func() {
		s.setPhase(PhaseIdle)
		elapsed := s.now().Sub(start)
		s.metrics.RecordRun(string(run.Status), elapsed, run.ItemsProduced)
		if s.budget != nil {
			s.metrics.RecordQuotaRemaining(s.budget.Remaining())
		}
		logger.Info("run finished",
			"status", run.Status,
			"channels_requested", run.ChannelsRequested,
			"channels_succeeded", run.ChannelsSucceeded,
			"channels_failed", run.ChannelsFailed,
			"channels_unresolved", run.ChannelsUnresolved,
			"items_produced", run.ItemsProduced,
			"quota_consumed", run.QuotaConsumed,
			"stale_preserved", run.StalePreserved,
			"duration", elapsed,
		)
	}()

	finish := func(status storage.RunStatus, err error) storage.AggregateRun {
		run.Status = status
		run.CompletedAt = s.now().UTC()
		run.QuotaConsumed = s.quotaConsumed() - quotaBefore
		if err != nil {
			run.Error = err.Error()
		}
		s.aggregates.RecordAttempt(run)
		return run
	}
	abort := func(err error) storage.AggregateRun {
		if ctx.Err() != nil {
			logger.Warn("run cancelled", "error", err)
			return finish(storage.RunCancelled, ctx.Err())
		}
		logger.Error("run failed", "error", err)
		return finish(storage.RunFailed, err)
	}

	s.setPhase(PhaseResolving)
	subs, err := s.resolveSubscriptions(ctx, logger)
	if err != nil {
		return abort(err)
	}

	channels := make([]string, 0, len(subs))
	for _, sub := range subs {
		if youtube.IsCanonicalID(sub.ID) {
			channels = append(channels, sub.ID)
		} else {
			run.ChannelsUnresolved++
		}
	}
	run.ChannelsRequested = len(channels)

	s.setPhase(PhaseFetching)
	fetched, err := s.fetchAll(ctx, channels, logger)
	if err != nil {
		return abort(err)
	}

	s.setPhase(PhaseMerging)
	var all []youtube.VideoItem
	for _, res := range fetched {
		if res.err != nil {
			run.ChannelsFailed++
			continue
		}
		run.ChannelsSucceeded++
		all = append(all, res.items...)
	}
	items := Merge(all, s.config.MaxItems)
	if len(items) == 0 && s.config.PreserveOnEmpty {
		if prev := s.aggregates.Snapshot(); len(prev.Items) > 0 {
			items = prev.Items
			run.StalePreserved = true
		}
	}
	// Counts what is published, preserved items included.
	run.ItemsProduced = len(items)

	if err := ctx.Err(); err != nil {
		return abort(err)
	}

	s.setPhase(PhasePublished)
	run.Status = storage.RunCompleted
	run.CompletedAt = s.now().UTC()
	run.QuotaConsumed = s.quotaConsumed() - quotaBefore
	if _, err := s.aggregates.Publish(ctx, items, run); err != nil {
		return abort(fmt.Errorf("publish: %w", err))
	}
	return run
}

// resolveSubscriptions resolves every subscription still carrying a temp
// id and returns the list with redirects applied and duplicates merged.
func (s *Scheduler) resolveSubscriptions(ctx context.Context, logger *slog.Logger) ([]storage.Subscription, error) {
	redirects := s.state.Redirects()
	subs := redirects.Apply(s.state.Subscriptions())

	known := make(map[string]bool, len(subs))
	var pending []int
	for i, sub := range subs {
		if youtube.IsCanonicalID(sub.ID) {
			known[sub.ID] = true
		} else {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return subs, nil
	}

	results := make([]resolve.Result, len(pending))
	err := s.forEachBatch(ctx, len(pending), s.config.BatchSizeUnmetered, func(ctx context.Context, i int) error {
		sub := subs[pending[i]]
		ref, ok := youtube.ParseTempID(sub.ID)
		if !ok {
			logger.Warn("subscription id is neither canonical nor a temp id", "id", sub.ID)
			return nil
		}
		ref.DisplayHint = sub.Title
		res, err := s.resolver.Resolve(ctx, ref, func(id string) bool { return known[id] })
		if err != nil {
			return err
		}
		results[i] = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	merged := 0
	for i, res := range results {
		if res.Outcome == "" || res.Placeholder() {
			continue
		}
		if res.Merged() {
			merged++
		}
		sub := &subs[pending[i]]
		if sub.Title == "" || sub.Title == sub.ID {
			sub.Title = res.Channel.Title
		}
		if sub.Thumbnail == "" {
			sub.Thumbnail = res.Channel.ThumbnailURL
		}
		sub.ID = res.Channel.CanonicalID
	}

	out := storage.ApplyRedirects(subs, redirects.All())
	logger.Info("subscriptions resolved", "pending", len(pending), "merged", merged, "subscriptions", len(out))
	return out, nil
}

type fetchResult struct {
	items []youtube.VideoItem
	err   error
}

// fetchAll fetches every channel in batches. Per-channel failures are
// recorded in the result; only cancellation aborts.
func (s *Scheduler) fetchAll(ctx context.Context, channels []string, logger *slog.Logger) ([]fetchResult, error) {
	results := make([]fetchResult, len(channels))
	if len(channels) == 0 {
		return results, nil
	}

	batchSize := s.batchSize(len(channels))
	var apiExhausted atomic.Bool
	logger.Info("fetching", "channels", len(channels), "batch_size", batchSize)

	err := s.forEachBatch(ctx, len(channels), batchSize, func(ctx context.Context, i int) error {
		items, err := s.fetchChannel(ctx, channels[i], &apiExhausted)
		if err != nil && ctx.Err() == nil {
			logger.Warn("channel fetch failed", "channel_id", channels[i], "error", err)
		}
		results[i] = fetchResult{items: items, err: err}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// batchSize picks the large batch while the metered API can pay for it.
func (s *Scheduler) batchSize(channels int) int {
	if s.budget == nil {
		return s.config.BatchSizeUnmetered
	}
	n := min(channels, s.config.BatchSizeMetered)
	if s.budget.Available(n * (youtube.CostPlaylistItems + youtube.CostVideosList)) {
		return s.config.BatchSizeMetered
	}
	return s.config.BatchSizeUnmetered
}

// fetchChannel asks the fetchers in priority order. Once the metered API
// reports exhaustion it is skipped for the rest of the run.
func (s *Scheduler) fetchChannel(ctx context.Context, channelID string, apiExhausted *atomic.Bool) ([]youtube.VideoItem, error) {
	var errs []error
	for _, f := range s.fetchers {
		_, metered := f.(youtube.Metered)
		if metered && apiExhausted.Load() {
			continue
		}

		var items []youtube.VideoItem
		err := s.gate.Do(ctx, f.Name(), func(ctx context.Context) error {
			var err error
			items, err = f.FetchRecent(ctx, channelID, s.config.ItemsPerChannel)
			return err
		})
		if err == nil {
			for i := range items {
				items[i].ChannelID = channelID
			}
			return items, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if metered && youtube.IsQuotaExhausted(err) {
			apiExhausted.Store(true)
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no fetchers available", youtube.ErrTransient)
	}
	return nil, errors.Join(errs...)
}

// forEachBatch calls fn for indexes [0, n) in consecutive batches of
// size, running each batch with bounded concurrency and sleeping
// BatchDelay between batches (not after the last). A batch in flight
// when ctx is cancelled is abandoned rather than awaited.
func (s *Scheduler) forEachBatch(ctx context.Context, n, size int, fn func(ctx context.Context, i int) error) error {
	if size <= 0 {
		size = 1
	}
	for start := 0; start < n; start += size {
		if start > 0 && s.config.BatchDelay > 0 {
			if err := s.sleep(ctx, s.config.BatchDelay); err != nil {
				return err
			}
		}
		end := min(start+size, n)
		if err := s.runBatch(ctx, start, end, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) runBatch(ctx context.Context, start, end int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	done := make(chan error, 1)
	go func() {
		for i := start; i < end; i++ {
			g.Go(func() error { return fn(gctx, i) })
		}
		done <- g.Wait()
	}()
	select {
	case err := <-done:
		if err == nil {
			err = ctx.Err()
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) quotaConsumed() int64 {
	if s.budget == nil {
		return 0
	}
	return s.budget.Consumed()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mergeCancel returns a context cancelled when either parent is.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
