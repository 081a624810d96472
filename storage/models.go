package storage

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"ytfeed/youtube"
)

// Subscription is one followed channel. ID is a canonical channel id, or a
// temp id while the channel is unresolved.
type Subscription struct {
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
	Thumbnail  string `json:"thumbnail,omitempty"`
	Unresolved bool   `json:"unresolved,omitempty"`
}

// State is the per-user document: subscriptions, opaque client settings
// and the redirect table.
type State struct {
	Version       int64             `json:"version"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	Subscriptions []Subscription    `json:"subscriptions"`
	Settings      json.RawMessage   `json:"settings,omitempty"`
	Redirects     map[string]string `json:"redirects"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Subscriptions = slices.Clone(s.Subscriptions)
	out.Settings = slices.Clone(s.Settings)
	out.Redirects = maps.Clone(s.Redirects)
	if out.Redirects == nil {
		out.Redirects = map[string]string{}
	}
	if out.Subscriptions == nil {
		out.Subscriptions = []Subscription{}
	}
	return out
}

// RunStatus is how an aggregation run ended.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// AggregateRun describes one aggregation run.
type AggregateRun struct {
	ID                 string    `json:"id"`
	Status             RunStatus `json:"status"`
	StartedAt          time.Time `json:"startedAt"`
	CompletedAt        time.Time `json:"completedAt"`
	ChannelsRequested  int       `json:"channelsRequested"`
	ChannelsSucceeded  int       `json:"channelsSucceeded"`
	ChannelsFailed     int       `json:"channelsFailed"`
	ChannelsUnresolved int       `json:"channelsUnresolved"`
	ItemsProduced      int       `json:"itemsProduced"`
	QuotaConsumed      int64     `json:"quotaConsumed"`
	StalePreserved     bool      `json:"stalePreserved,omitempty"`
	Error              string    `json:"error,omitempty"`
}

// Aggregate is the published merged feed. Version increases by one with
// every publish.
type Aggregate struct {
	Version int64               `json:"version"`
	Run     *AggregateRun       `json:"run,omitempty"`
	Items   []youtube.VideoItem `json:"items"`
}
