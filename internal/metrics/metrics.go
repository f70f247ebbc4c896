// Package metrics exposes Prometheus metrics for analysis batches and providers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes.
const (
	FetchOK    = "ok"
	FetchError = "error"
	FetchEmpty = "empty"
)

// Registry holds all z88 metrics. A nil *Registry records nothing.
type Registry struct {
	reg *prometheus.Registry

	Analyses      *prometheus.CounterVec
	AbsentFields  *prometheus.CounterVec
	SeriesFetches *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	BreakerState  *prometheus.GaugeVec
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	BatchSymbols  prometheus.Gauge
	BatchDuration prometheus.Histogram
}

// NewRegistry creates a registry with the Go runtime collectors and all z88 metrics.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Analyses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "z88_analyses_total",
				Help: "Completed symbol analyses by classification label",
			},
			[]string{"label"},
		),

		AbsentFields: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "z88_absent_fields_total",
				Help: "Result fields left absent, by field",
			},
			[]string{"field"},
		),

		SeriesFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "z88_series_fetch_total",
				Help: "Historical series fetches by provider and result",
			},
			[]string{"provider", "result"},
		),

		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "z88_series_fetch_seconds",
				Help:    "Historical series fetch latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "z88_provider_breaker_state",
				Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
			},
			[]string{"provider"},
		),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "z88_cache_hits_total",
			Help: "Analysis result cache hits",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "z88_cache_misses_total",
			Help: "Analysis result cache misses",
		}),

		BatchSymbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "z88_last_batch_symbols",
			Help: "Symbols analysed in the most recent batch",
		}),

		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "z88_batch_duration_seconds",
			Help:    "Wall time of analysis batches",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.Analyses,
		r.AbsentFields,
		r.SeriesFetches,
		r.FetchDuration,
		r.BreakerState,
		r.CacheHits,
		r.CacheMisses,
		r.BatchSymbols,
		r.BatchDuration,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveAnalysis counts a finished analysis and its absent fields.
func (r *Registry) ObserveAnalysis(label string, absent []string) {
	if r == nil {
		return
	}
	if label == "" {
		label = "none"
	}
	r.Analyses.WithLabelValues(label).Inc()
	for _, f := range absent {
		r.AbsentFields.WithLabelValues(f).Inc()
	}
}

// ObserveFetch records one provider call.
func (r *Registry) ObserveFetch(provider, result string, d time.Duration) {
	if r == nil {
		return
	}
	r.SeriesFetches.WithLabelValues(provider, result).Inc()
	r.FetchDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// SetBreakerState records a circuit breaker transition.
func (r *Registry) SetBreakerState(provider string, state int) {
	if r == nil {
		return
	}
	r.BreakerState.WithLabelValues(provider).Set(float64(state))
}

// CacheHit counts a cache hit.
func (r *Registry) CacheHit() {
	if r == nil {
		return
	}
	r.CacheHits.Inc()
}

// CacheMiss counts a cache miss.
func (r *Registry) CacheMiss() {
	if r == nil {
		return
	}
	r.CacheMisses.Inc()
}

// ObserveBatch records the size and wall time of a batch.
func (r *Registry) ObserveBatch(symbols int, d time.Duration) {
	if r == nil {
		return
	}
	r.BatchSymbols.Set(float64(symbols))
	r.BatchDuration.Observe(d.Seconds())
}
