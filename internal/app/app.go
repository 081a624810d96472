// Package app wires every component from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ytfeed/aggregate"
	"ytfeed/config"
	ythttp "ytfeed/http"
	"ytfeed/metrics"
	"ytfeed/resolve"
	"ytfeed/server"
	"ytfeed/storage"
	"ytfeed/youtube"
)

// shutdownTimeout bounds how long a stopping scheduler may take to wind
// down its active run.
const shutdownTimeout = 30 * time.Second

// App holds the wired components.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Backend    storage.Backend
	State      *storage.StateStore
	Aggregates *storage.AggregateStore
	Breaker    *ythttp.CircuitBreaker
	Gate       *ythttp.Gate
	// Budget is nil when no API key is configured.
	Budget    *youtube.QuotaBudget
	Resolver  *resolve.Resolver
	Scheduler *aggregate.Scheduler
	Server    *server.Server
	Registry  *prometheus.Registry
}

// Options overrides parts of the wiring, for tests.
type Options struct {
	// Resolvers and Fetchers replace the configured adapters when set.
	Resolvers []youtube.ChannelResolver
	Fetchers  []youtube.ItemFetcher
}

// Build opens storage and constructs every component. The caller must
// Close the returned App.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	backend, err := storage.Open(cfg.Backend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.Backend = backend

	if err := a.build(ctx, opts); err != nil {
		backend.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config

	state, err := storage.OpenStateStore(ctx, a.Backend)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	a.State = state

	aggregates, err := storage.OpenAggregateStore(ctx, a.Backend)
	if err != nil {
		return fmt.Errorf("open aggregate: %w", err)
	}
	a.Aggregates = aggregates

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(a.Registry)

	a.Breaker = ythttp.NewCircuitBreaker(ythttp.CircuitBreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		IsFailure:        youtube.IsTransient,
		OnStateChange: func(class string, state ythttp.CircuitState) {
			recorder.RecordCircuitState(class, int(state))
			a.Logger.Warn("circuit state changed", "adapter", class, "state", state.String())
		},
	})
	pacer := ythttp.NewPacer(ythttp.PacerConfig{
		BaseDelay: cfg.PacingBaseDelay,
		MaxDelay:  cfg.PacingMaxDelay,
	})
	a.Gate = ythttp.NewGate(a.Breaker, pacer, ythttp.GateConfig{
		Timeout:   cfg.RequestTimeout,
		IsFailure: youtube.IsTransient,
		Observe: func(class string, err error, elapsed time.Duration) {
			recorder.RecordAdapterCall(class, callOutcome(err), elapsed)
		},
	})

	resolvers, fetchers := opts.Resolvers, opts.Fetchers
	if resolvers == nil || fetchers == nil {
		set, err := a.adapters(ctx)
		if err != nil {
			return err
		}
		if resolvers == nil {
			resolvers = set.resolvers()
		}
		if fetchers == nil {
			fetchers = set.fetchers()
		}
	}
	for _, f := range fetchers {
		if m, ok := f.(youtube.Metered); ok && a.Budget == nil {
			a.Budget = m.Budget()
		}
	}
	if a.Budget != nil {
		recorder.RecordQuotaRemaining(a.Budget.Remaining())
	}

	a.Resolver = resolve.New(resolvers, a.Gate, state.Redirects(), resolve.Config{
		Logger:  a.Logger,
		Metrics: recorder,
	})

	a.Scheduler, err = aggregate.New(aggregate.Config{
		Schedule:           cfg.Schedule,
		BatchSizeMetered:   cfg.BatchSizeMetered,
		BatchSizeUnmetered: cfg.BatchSizeUnmetered,
		BatchDelay:         cfg.BatchDelay,
		Concurrency:        cfg.Concurrency,
		MaxItems:           cfg.MaxItems,
		ItemsPerChannel:    cfg.ItemsPerChannel,
		PreserveOnEmpty:    cfg.PreserveOnEmpty,
	}, aggregate.Deps{
		State:      state,
		Aggregates: aggregates,
		Resolver:   a.Resolver,
		Fetchers:   fetchers,
		Gate:       a.Gate,
		Logger:     a.Logger,
		Metrics:    recorder,
	})
	if err != nil {
		return err
	}

	a.Server, err = server.New(server.Deps{
		State:          state,
		Aggregates:     aggregates,
		Runs:           a.Scheduler,
		Resolver:       a.Resolver,
		Breaker:        a.Breaker,
		Budget:         a.Budget,
		Gatherer:       a.Registry,
		Logger:         a.Logger,
		RequestTimeout: cfg.RequestTimeout * 3,
	})
	if err != nil {
		return err
	}

	a.Logger.Info("engine wired",
		"backend", cfg.Backend,
		"data_dir", cfg.DataDir,
		"resolvers", a.Resolver.Adapters(),
		"fetchers", adapterNames(fetchers),
	)
	return nil
}

// adapterSet holds the adapters enabled by configuration, by class.
type adapterSet struct {
	byClass map[string]any
	order   struct{ resolve, fetch []string }
}

func (s adapterSet) resolvers() []youtube.ChannelResolver {
	out := []youtube.ChannelResolver{}
	for _, class := range s.order.resolve {
		if r, ok := s.byClass[class].(youtube.ChannelResolver); ok {
			out = append(out, r)
		}
	}
	return out
}

func (s adapterSet) fetchers() []youtube.ItemFetcher {
	out := []youtube.ItemFetcher{}
	for _, class := range s.order.fetch {
		if f, ok := s.byClass[class].(youtube.ItemFetcher); ok {
			out = append(out, f)
		}
	}
	return out
}

// adapters constructs the upstream adapters the configuration enables.
// The API adapter needs a key; the scrape adapter gets its own session
// and proxies; the mirror adapter needs at least one instance.
func (a *App) adapters(ctx context.Context) (adapterSet, error) {
	cfg := a.Config
	set := adapterSet{byClass: make(map[string]any)}
	set.order.resolve = cfg.ResolveOrder
	set.order.fetch = cfg.FetchOrder

	httpCfg := ythttp.DefaultConfig()
	httpCfg.Timeout = cfg.RequestTimeout
	httpCfg.Retry.MaxRetries = cfg.MaxRetries
	client := ythttp.New(httpCfg)

	set.byClass[youtube.ClassFeed] = youtube.NewFeedAdapter(client, cfg.FeedURLTemplate)

	if cfg.APIKey != "" {
		api, err := youtube.NewAPIAdapter(ctx, youtube.APIConfig{
			APIKey:       cfg.APIKey,
			DailyQuota:   cfg.APIDailyQuota,
			QuotaReserve: cfg.APIQuotaReserve,
		}, a.Logger)
		if err != nil {
			return set, fmt.Errorf("api adapter: %w", err)
		}
		set.byClass[youtube.ClassAPI] = api
	} else {
		a.Logger.Info("adapter disabled", "adapter", youtube.ClassAPI, "reason", "no api key")
	}

	if cfg.ScrapeEnabled {
		proxies, err := ythttp.NewProxyRotator(cfg.ScrapeProxies)
		if err != nil {
			return set, fmt.Errorf("scrape proxies: %w", err)
		}
		session, err := ythttp.NewSessionManager(ythttp.DefaultSessionConfig())
		if err != nil {
			return set, fmt.Errorf("scrape session: %w", err)
		}
		scrapeCfg := *httpCfg
		scrapeCfg.Proxies = proxies
		set.byClass[youtube.ClassScrape] = youtube.NewScrapeAdapter(ythttp.NewWithSession(&scrapeCfg, session), cfg.PageBaseURL)
	}

	if len(cfg.Mirrors) > 0 {
		set.byClass[youtube.ClassMirror] = youtube.NewMirrorAdapter(client, cfg.Mirrors)
	}
	return set, nil
}

// Serve runs the scheduler and the HTTP server until ctx is cancelled.
// One run starts immediately so a fresh process has something to serve.
func (a *App) Serve(ctx context.Context) error {
	a.Scheduler.Start()
	a.Scheduler.Trigger()

	serveErr := a.Server.ListenAndServe(ctx, a.Config.ListenAddr)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	stopErr := a.Scheduler.Stop(stopCtx)
	return errors.Join(serveErr, stopErr)
}

// RunOnce performs one aggregation run and returns its record.
func (a *App) RunOnce(ctx context.Context) (storage.AggregateRun, error) {
	return a.Scheduler.RunNow(ctx)
}

// Close stops the scheduler and releases storage.
func (a *App) Close() error {
	var errs []error
	if a.Scheduler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		errs = append(errs, a.Scheduler.Stop(ctx))
		cancel()
	}
	if a.Backend != nil {
		errs = append(errs, a.Backend.Close())
	}
	return errors.Join(errs...)
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case youtube.IsNotFound(err):
		return "not_found"
	case youtube.IsQuotaExhausted(err):
		return "quota_exhausted"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func adapterNames(fetchers []youtube.ItemFetcher) []string {
	names := make([]string, len(fetchers))
	for i, f := range fetchers {
		names[i] = f.Name()
	}
	return names
}
