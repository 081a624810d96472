// Package metrics collects and exposes Prometheus metrics for resolution,
// upstream calls and aggregation runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the resolver and the scheduler report to.
type Recorder interface {
	RecordAdapterCall(class, outcome string, elapsed time.Duration)
	RecordCircuitState(class string, state int)
	RecordResolution(outcome string)
	RecordRun(status string, elapsed time.Duration, items int)
	RecordQuotaRemaining(units int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordAdapterCall(string, string, time.Duration) {}
func (Nop) RecordCircuitState(string, int)                  {}
func (Nop) RecordResolution(string)                         {}
func (Nop) RecordRun(string, time.Duration, int)            {}
func (Nop) RecordQuotaRemaining(int)                        {}

// Collector is the Prometheus Recorder.
type Collector struct {
	adapterCalls   *prometheus.CounterVec
	adapterLatency *prometheus.HistogramVec
	circuitState   *prometheus.GaugeVec
	resolutions    *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	publishedItems prometheus.Gauge
	quotaRemaining prometheus.Gauge
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		adapterCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytfeed_adapter_calls_total",
			Help: "Upstream adapter calls by class and outcome.",
		}, []string{"class", "outcome"}),
		adapterLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ytfeed_adapter_call_duration_seconds",
			Help:    "Upstream adapter call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"class"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ytfeed_circuit_state",
			Help: "Circuit state per adapter class (0 closed, 1 open, 2 half open).",
		}, []string{"class"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytfeed_resolutions_total",
			Help: "Channel resolutions by outcome.",
		}, []string{"outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytfeed_runs_total",
			Help: "Aggregation runs by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ytfeed_run_duration_seconds",
			Help:    "Aggregation run duration.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		publishedItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ytfeed_published_items",
			Help: "Items in the most recently published aggregate.",
		}),
		quotaRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ytfeed_api_quota_remaining",
			Help: "Data API units left today, before the reserve.",
		}),
	}
	reg.MustRegister(
		c.adapterCalls,
		c.adapterLatency,
		c.circuitState,
		c.resolutions,
		c.runs,
		c.runDuration,
		c.publishedItems,
		c.quotaRemaining,
	)
	return c
}

// RecordAdapterCall counts one guarded upstream call.
func (c *Collector) RecordAdapterCall(class, outcome string, elapsed time.Duration) {
	c.adapterCalls.WithLabelValues(class, outcome).Inc()
	if elapsed > 0 {
		c.adapterLatency.WithLabelValues(class).Observe(elapsed.Seconds())
	}
}

// RecordCircuitState sets the circuit gauge of class.
func (c *Collector) RecordCircuitState(class string, state int) {
	c.circuitState.WithLabelValues(class).Set(float64(state))
}

// RecordResolution counts a resolution outcome.
func (c *Collector) RecordResolution(outcome string) {
	c.resolutions.WithLabelValues(outcome).Inc()
}

// RecordRun counts a finished run. items is only meaningful for published runs.
func (c *Collector) RecordRun(status string, elapsed time.Duration, items int) {
	c.runs.WithLabelValues(status).Inc()
	c.runDuration.Observe(elapsed.Seconds())
	if status == "completed" {
		c.publishedItems.Set(float64(items))
	}
}

// RecordQuotaRemaining sets the quota gauge.
func (c *Collector) RecordQuotaRemaining(units int) {
	c.quotaRemaining.Set(float64(units))
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
