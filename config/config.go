// Package config manages application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ytfeed/storage"
	"ytfeed/youtube"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "YTFEED_"

// Config holds all application configuration.
type Config struct {
	// DataDir holds the persisted documents.
	DataDir string `yaml:"data_dir"`
	// Backend is "json" or "sqlite".
	Backend string `yaml:"backend"`
	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`
	// Schedule is the cron spec of periodic runs; empty disables them.
	Schedule string `yaml:"schedule"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// Data API
	APIKey          string `yaml:"api_key"`
	APIDailyQuota   int    `yaml:"api_daily_quota"`
	APIQuotaReserve int    `yaml:"api_quota_reserve"`

	// FeedURLTemplate is the syndication feed URL with %s for the channel id.
	FeedURLTemplate string `yaml:"feed_url_template"`
	// PageBaseURL is the channel page host scraped for identities.
	PageBaseURL   string           `yaml:"page_base_url"`
	ScrapeEnabled bool             `yaml:"scrape_enabled"`
	ScrapeProxies []string         `yaml:"scrape_proxies"`
	Mirrors       []youtube.Mirror `yaml:"mirrors"`

	// ResolveOrder and FetchOrder list adapter classes in priority order.
	ResolveOrder []string `yaml:"resolve_order"`
	FetchOrder   []string `yaml:"fetch_order"`

	// Batching
	BatchSizeMetered   int           `yaml:"batch_size_metered"`
	BatchSizeUnmetered int           `yaml:"batch_size_unmetered"`
	BatchDelay         time.Duration `yaml:"batch_delay"`
	Concurrency        int           `yaml:"concurrency"`

	// Output
	MaxItems        int  `yaml:"max_items"`
	ItemsPerChannel int  `yaml:"items_per_channel"`
	PreserveOnEmpty bool `yaml:"preserve_on_empty"`

	// Upstream guards
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	PacingBaseDelay  time.Duration `yaml:"pacing_base_delay"`
	PacingMaxDelay   time.Duration `yaml:"pacing_max_delay"`
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:            "data",
		Backend:            storage.BackendJSON,
		ListenAddr:         ":8080",
		Schedule:           "@every 15m",
		LogLevel:           "info",
		APIDailyQuota:      youtube.DefaultDailyQuota,
		APIQuotaReserve:    500,
		FeedURLTemplate:    youtube.DefaultFeedURLTemplate,
		PageBaseURL:        youtube.DefaultPageBaseURL,
		ScrapeEnabled:      true,
		ResolveOrder:       []string{youtube.ClassScrape, youtube.ClassAPI, youtube.ClassMirror},
		FetchOrder:         []string{youtube.ClassAPI, youtube.ClassFeed, youtube.ClassMirror},
		BatchSizeMetered:   50,
		BatchSizeUnmetered: 5,
		BatchDelay:         2 * time.Second,
		Concurrency:        5,
		MaxItems:           1000,
		ItemsPerChannel:    15,
		PreserveOnEmpty:    true,
		RequestTimeout:     10 * time.Second,
		PacingBaseDelay:    250 * time.Millisecond,
		PacingMaxDelay:     30 * time.Second,
		FailureThreshold:   5,
		ResetTimeout:       60 * time.Second,
		MaxRetries:         2,
	}
}

// Load builds the configuration. Priority: env vars > config file > defaults.
// A .env file in the working directory is loaded into the environment
// first without replacing variables that are already set. When path is
// empty the first of ytfeed.yaml, ytfeed.json (working directory, then
// ~/.config/ytfeed/) is used if present.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	} else if err := cfg.loadFromFile(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile loads the first config file found in the search paths.
func (c *Config) loadFromFile() error {
	paths := []string{"ytfeed.yaml", "ytfeed.json"}
	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"ytfeed.yaml", "ytfeed.json"} {
			paths = append(paths, filepath.Join(home, ".config", "ytfeed", name))
		}
	}

	for _, path := range paths {
		err := c.loadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		return err
	}
	return os.ErrNotExist
}

// loadFile decodes one file. JSON is valid YAML, so one decoder serves both.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadFromEnv overrides config with YTFEED_* environment variables. A
// variable that is set but unparseable is an error.
func (c *Config) loadFromEnv() error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = splitList(v)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("DATA_DIR", &c.DataDir)
	str("BACKEND", &c.Backend)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("SCHEDULE", &c.Schedule)
	str("LOG_LEVEL", &c.LogLevel)
	str("API_KEY", &c.APIKey)
	integer("API_DAILY_QUOTA", &c.APIDailyQuota)
	integer("API_QUOTA_RESERVE", &c.APIQuotaReserve)
	str("FEED_URL_TEMPLATE", &c.FeedURLTemplate)
	str("PAGE_BASE_URL", &c.PageBaseURL)
	boolean("SCRAPE_ENABLED", &c.ScrapeEnabled)
	list("SCRAPE_PROXIES", &c.ScrapeProxies)
	if v, ok := os.LookupEnv(EnvPrefix + "MIRRORS"); ok {
		c.Mirrors = parseMirrors(v)
	}
	list("RESOLVE_ORDER", &c.ResolveOrder)
	list("FETCH_ORDER", &c.FetchOrder)
	integer("BATCH_SIZE_METERED", &c.BatchSizeMetered)
	integer("BATCH_SIZE_UNMETERED", &c.BatchSizeUnmetered)
	duration("BATCH_DELAY", &c.BatchDelay)
	integer("CONCURRENCY", &c.Concurrency)
	integer("MAX_ITEMS", &c.MaxItems)
	integer("ITEMS_PER_CHANNEL", &c.ItemsPerChannel)
	boolean("PRESERVE_ON_EMPTY", &c.PreserveOnEmpty)
	duration("REQUEST_TIMEOUT", &c.RequestTimeout)
	duration("PACING_BASE_DELAY", &c.PacingBaseDelay)
	duration("PACING_MAX_DELAY", &c.PacingMaxDelay)
	integer("FAILURE_THRESHOLD", &c.FailureThreshold)
	duration("RESET_TIMEOUT", &c.ResetTimeout)
	integer("MAX_RETRIES", &c.MaxRetries)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseMirrors reads "kind=url" entries separated by commas. A bare url
// is an Invidious instance.
func parseMirrors(v string) []youtube.Mirror {
	var out []youtube.Mirror
	for _, entry := range splitList(v) {
		m := youtube.Mirror{Kind: youtube.MirrorInvidious, BaseURL: entry}
		if kind, url, ok := strings.Cut(entry, "="); ok {
			m.Kind, m.BaseURL = youtube.MirrorKind(kind), url
		}
		out = append(out, m)
	}
	return out
}

var adapterClasses = []string{youtube.ClassAPI, youtube.ClassFeed, youtube.ClassScrape, youtube.ClassMirror}

// Validate checks that configuration values are valid and consistent.
// It returns an error if any configuration value is invalid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Backend != storage.BackendJSON && c.Backend != storage.BackendSQLite {
		return fmt.Errorf("backend must be %q or %q, got %q", storage.BackendJSON, storage.BackendSQLite, c.Backend)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	if c.APIDailyQuota <= 0 {
		return fmt.Errorf("api_daily_quota must be positive")
	}
	if c.APIQuotaReserve < 0 || c.APIQuotaReserve >= c.APIDailyQuota {
		return fmt.Errorf("api_quota_reserve must be in [0, api_daily_quota)")
	}
	if strings.Count(c.FeedURLTemplate, "%s") != 1 {
		return fmt.Errorf("feed_url_template must contain exactly one %%s")
	}
	for _, m := range c.Mirrors {
		if m.BaseURL == "" {
			return fmt.Errorf("mirror url must be set")
		}
		if m.Kind != youtube.MirrorInvidious && m.Kind != youtube.MirrorPiped {
			return fmt.Errorf("mirror %s: kind must be %q or %q", m.BaseURL, youtube.MirrorInvidious, youtube.MirrorPiped)
		}
	}
	if err := validateOrder("resolve_order", c.ResolveOrder, youtube.ClassFeed); err != nil {
		return err
	}
	if err := validateOrder("fetch_order", c.FetchOrder, youtube.ClassScrape); err != nil {
		return err
	}
	if c.BatchSizeMetered <= 0 || c.BatchSizeUnmetered <= 0 {
		return fmt.Errorf("batch sizes must be positive")
	}
	if c.BatchDelay < 0 {
		return fmt.Errorf("batch_delay must be non-negative")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.MaxItems <= 0 {
		return fmt.Errorf("max_items must be positive")
	}
	if c.ItemsPerChannel <= 0 {
		return fmt.Errorf("items_per_channel must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.PacingBaseDelay < 0 {
		return fmt.Errorf("pacing_base_delay must be non-negative")
	}
	if c.PacingMaxDelay < c.PacingBaseDelay {
		return fmt.Errorf("pacing_max_delay must be >= pacing_base_delay")
	}
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure_threshold must be positive")
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("reset_timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	return nil
}

// validateOrder rejects unknown, duplicate and unsupported classes.
func validateOrder(key string, order []string, unsupported string) error {
	if len(order) == 0 {
		return fmt.Errorf("%s must name at least one adapter", key)
	}
	for i, class := range order {
		if !slices.Contains(adapterClasses, class) {
			return fmt.Errorf("%s: unknown adapter %q", key, class)
		}
		if class == unsupported {
			return fmt.Errorf("%s: adapter %q cannot be used here", key, class)
		}
		if slices.Contains(order[:i], class) {
			return fmt.Errorf("%s: adapter %q listed twice", key, class)
		}
	}
	return nil
}
