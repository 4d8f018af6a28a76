// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsPublished *prometheus.CounterVec // labelled by event kind
	EventsDropped   prometheus.Counter
	RemoteLookups   prometheus.Counter
	RateLimitWaits  prometheus.Counter
	ChatReconnects  prometheus.Counter
	TokenRefreshes  prometheus.Counter

	// Histograms (seconds)
	RemoteLookupDuration prometheus.Observer

	// Gauges
	CorrelatorDepthGauge prometheus.Gauge
	DirectorySizeGauge   prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_events_published_total", Help: "Number of normalized events published, by kind"}, []string{"kind"})
		EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_events_dropped_total", Help: "Number of events dropped on slow subscribers"})
		RemoteLookups = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_remote_lookups_total", Help: "Number of Helix user lookup requests"})
		RateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_rate_limit_waits_total", Help: "Number of API calls delayed by a 429 response"})
		ChatReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_reconnects_total", Help: "Number of IRC reconnect attempts"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_token_refreshes_total", Help: "Number of OAuth token refreshes"})
		RemoteLookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_remote_lookup_duration_seconds", Help: "Helix user lookup duration seconds", Buckets: prometheus.DefBuckets})
		CorrelatorDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_correlator_depth", Help: "Outbound messages awaiting their server-assigned id"})
		DirectorySizeGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_directory_size", Help: "Number of users tracked by the directory"})
	})
}

// CountEvent increments the published counter for an event kind.
func CountEvent(kind string) {
	if EventsPublished != nil {
		EventsPublished.WithLabelValues(kind).Inc()
	}
}

// CountDrop records an event dropped on a full subscriber buffer.
func CountDrop() {
	if EventsDropped != nil {
		EventsDropped.Inc()
	}
}

// SetCorrelatorDepth records the current correlator queue depth.
func SetCorrelatorDepth(n int) {
	if CorrelatorDepthGauge != nil {
		CorrelatorDepthGauge.Set(float64(n))
	}
}

// SetDirectorySize records the current number of tracked users.
func SetDirectorySize(n int) {
	if DirectorySizeGauge != nil {
		DirectorySizeGauge.Set(float64(n))
	}
}

// CountRemoteLookup records a Helix user lookup request.
func CountRemoteLookup() {
	if RemoteLookups != nil {
		RemoteLookups.Inc()
	}
}

// CountRateLimitWait records an API call delayed by rate limiting.
func CountRateLimitWait() {
	if RateLimitWaits != nil {
		RateLimitWaits.Inc()
	}
}

// CountReconnect records an IRC reconnect attempt.
func CountReconnect() {
	if ChatReconnects != nil {
		ChatReconnects.Inc()
	}
}

// CountTokenRefresh records an OAuth token refresh.
func CountTokenRefresh() {
	if TokenRefreshes != nil {
		TokenRefreshes.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
