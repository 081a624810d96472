// Package ytfeed resolves YouTube channel references to canonical channel
// ids and aggregates the recent uploads of a subscription list into one
// bounded, newest-first feed.
//
// Overview
//
// A subscription may name a channel by canonical id ("UC…"), @handle or
// legacy custom URL. Handles and custom URLs get a synthetic temp id
// ("handle_foo", "custom_bar") until an adapter resolves them; every
// successful resolution is stored as a redirect so the temp id is
// rewritten everywhere and never resolved twice.
//
// The engine is split into packages:
//
//   - youtube: channel and video model, reference parsing and the four
//     upstream adapters (Data API, syndication feed, page scrape, mirrors)
//   - http: outbound client, per-class circuit breaker and pacer, the gate
//     that combines them
//   - resolve: the channel identity resolver
//   - aggregate: the scheduler that resolves, fetches, merges and publishes
//   - storage: the subscription document, redirect table and aggregate
//     snapshot on JSON files or SQLite
//   - server: the HTTP API
//   - config: configuration loading
//
// Configuration
//
// Settings are read from several sources:
//
//  1. YTFEED_* environment variables (highest priority), including those
//     set by a .env file in the working directory
//  2. Config file (ytfeed.yaml or ytfeed.json, in the working directory or
//     ~/.config/ytfeed/)
//  3. Default values (lowest priority)
//
// Commonly set variables:
//
//   - YTFEED_API_KEY: Data API key; without it the API adapter is disabled
//   - YTFEED_DATA_DIR: where documents are persisted
//   - YTFEED_BACKEND: json or sqlite
//   - YTFEED_SCHEDULE: cron spec of periodic runs
//   - YTFEED_MIRRORS: kind=url list of Invidious/Piped instances
//
// Error Handling
//
// Adapter errors wrap one of ErrChannelNotFound, ErrTransient,
// ErrQuotaExhausted or ErrInvalidReference; storage errors are
// *StorageError. Use the Is* helpers to classify:
//
//	if ytfeed.IsNotFound(err) {
//		fmt.Println("no such channel")
//	}
//
// Command Line
//
//	ytfeed serve                  # HTTP API plus scheduled runs
//	ytfeed run                    # one aggregation pass
//	ytfeed resolve @veritasium    # resolve one reference
//	ytfeed redirects              # list stored redirects
package ytfeed
