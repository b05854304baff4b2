// Package metrics exposes Prometheus collectors for the collection pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal          *prometheus.CounterVec
	fetchBytesTotal       *prometheus.CounterVec
	fetchRetriesTotal     *prometheus.CounterVec
	cacheOpsTotal         *prometheus.CounterVec
	extractionsTotal      *prometheus.CounterVec
	ocrInvocationsTotal   prometheus.Counter
	normalizationsTotal   *prometheus.CounterVec
	clustersGauge         prometheus.Gauge
	rateLimitDelaySeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leads_fetches_total",
				Help: "Total fetch attempts, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leads_fetch_bytes_total",
				Help: "Total bytes fetched, labeled by source.",
			},
			[]string{"source"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leads_fetch_retries_total",
				Help: "Total fetch retries, labeled by source.",
			},
			[]string{"source"},
		)

		cacheOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leads_cache_ops_total",
				Help: "Cache operations, labeled by stage and result (hit, miss, write, fault).",
			},
			[]string{"stage", "result"},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leads_extractions_total",
				Help: "Extracted records, labeled by media type and outcome.",
			},
			[]string{"media", "outcome"},
		)

		ocrInvocationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leads_ocr_invocations_total",
				Help: "Total OCR fallbacks invoked for image-only PDF pages.",
			},
		)

		normalizationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leads_normalizations_total",
				Help: "Normalization results, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		clustersGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "leads_entity_clusters",
				Help: "Entity clusters produced by the most recent run.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leads_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations, labeled by source.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records a fetch attempt outcome.
func ObserveFetch(source, outcome string, bytes int) {
	fetchesTotal.WithLabelValues(source, outcome).Inc()
	if bytes > 0 {
		fetchBytesTotal.WithLabelValues(source).Add(float64(bytes))
	}
}

// ObserveRetry increments the retry counter for a source.
func ObserveRetry(source string) {
	fetchRetriesTotal.WithLabelValues(source).Inc()
}

// ObserveCache records a cache operation result for a stage.
func ObserveCache(stage, result string) {
	cacheOpsTotal.WithLabelValues(stage, result).Inc()
}

// ObserveExtraction records an extraction outcome for a media type.
func ObserveExtraction(media, outcome string) {
	extractionsTotal.WithLabelValues(media, outcome).Inc()
}

// ObserveOCR increments the OCR fallback counter.
func ObserveOCR() {
	ocrInvocationsTotal.Inc()
}

// ObserveNormalization records a normalization outcome.
func ObserveNormalization(outcome string) {
	normalizationsTotal.WithLabelValues(outcome).Inc()
}

// SetClusterCount records the cluster count of the latest run.
func SetClusterCount(n int) {
	clustersGauge.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(source).Observe(duration.Seconds())
}
