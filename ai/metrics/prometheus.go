// Package metrics provides Prometheus metrics export for the reasoning
// pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/banter/ai/core/llm"
)

// Exporter exports pipeline metrics in Prometheus format. It implements
// llm.Recorder and llm.FallbackRecorder; a nil *Exporter is valid and drops
// every observation, so callers never need to guard.
type Exporter struct {
	registry *prometheus.Registry

	// Provider metrics
	providerLatency *prometheus.HistogramVec
	providerCalls   *prometheus.CounterVec
	providerTokens  *prometheus.CounterVec

	// Routing metrics
	routeDecisions *prometheus.CounterVec

	// Composite fallback metrics
	fallbackWins *prometheus.CounterVec

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Memory rebuild metrics
	rebuilds *prometheus.CounterVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default exporter configuration. LLM calls routinely
// take tens of seconds, so the buckets reach further than a web service's.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}
}

// NewExporter creates a Prometheus metrics exporter.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "banter",
			Subsystem: "ai",
			Name:      "provider_latency_seconds",
			Help:      "LLM provider call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"provider", "outcome"},
	)

	e.providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banter",
			Subsystem: "ai",
			Name:      "provider_calls_total",
			Help:      "Total LLM provider calls",
		},
		[]string{"provider", "outcome"},
	)

	e.providerTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banter",
			Subsystem: "ai",
			Name:      "provider_tokens_total",
			Help:      "Total tokens consumed by provider",
		},
		[]string{"provider", "token_type"},
	)

	e.routeDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banter",
			Subsystem: "ai",
			Name:      "route_decisions_total",
			Help:      "Total routing decisions by route and detected language",
		},
		[]string{"route", "outcome", "language"},
	)

	e.fallbackWins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banter",
			Subsystem: "ai",
			Name:      "fallback_wins_total",
			Help:      "Which composite member produced the reply, by try position",
		},
		[]string{"provider", "position"},
	)

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banter",
			Subsystem: "ai",
			Name:      "cache_hits_total",
			Help:      "Total cache hits",
		},
		[]string{"cache_type"},
	)

	e.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banter",
			Subsystem: "ai",
			Name:      "cache_misses_total",
			Help:      "Total cache misses",
		},
		[]string{"cache_type"},
	)

	e.rebuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banter",
			Subsystem: "ai",
			Name:      "memory_rebuilds_total",
			Help:      "Total daily summary rebuilds by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	registry.MustRegister(
		e.providerLatency,
		e.providerCalls,
		e.providerTokens,
		e.routeDecisions,
		e.fallbackWins,
		e.cacheHits,
		e.cacheMisses,
		e.rebuilds,
	)

	return e
}

// ObserveProviderCall implements llm.Recorder.
func (e *Exporter) ObserveProviderCall(provider, outcome string, duration time.Duration, usage llm.Usage) {
	if e == nil {
		return
	}
	e.providerCalls.WithLabelValues(provider, outcome).Inc()
	e.providerLatency.WithLabelValues(provider, outcome).Observe(duration.Seconds())
	if usage.PromptTokens > 0 {
		e.providerTokens.WithLabelValues(provider, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		e.providerTokens.WithLabelValues(provider, "completion").Add(float64(usage.CompletionTokens))
	}
}

// ObserveFallbackWin implements llm.FallbackRecorder.
func (e *Exporter) ObserveFallbackWin(provider string, position int) {
	if e == nil {
		return
	}
	e.fallbackWins.WithLabelValues(provider, positionLabel(position)).Inc()
}

// RecordRoute records one routing decision.
func (e *Exporter) RecordRoute(route, outcome, language string) {
	if e == nil {
		return
	}
	e.routeDecisions.WithLabelValues(route, outcome, language).Inc()
}

// RecordCacheHit records a cache hit.
func (e *Exporter) RecordCacheHit(cacheType string) {
	if e == nil {
		return
	}
	e.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (e *Exporter) RecordCacheMiss(cacheType string) {
	if e == nil {
		return
	}
	e.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordRebuild records one daily summary rebuild attempt.
func (e *Exporter) RecordRebuild(trigger, outcome string) {
	if e == nil {
		return
	}
	e.rebuilds.WithLabelValues(trigger, outcome).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func positionLabel(position int) string {
	switch position {
	case 0:
		return "0"
	case 1:
		return "1"
	case 2:
		return "2"
	default:
		return "3+"
	}
}
