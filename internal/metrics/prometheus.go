package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Recorder backed by Prometheus. Collectors register lazily on first use.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	cacheLookups    *prometheus.CounterVec
	cacheEvictions  prometheus.Counter
	previews        *prometheus.CounterVec
	previewDuration *prometheus.HistogramVec
	previewMoves    prometheus.Histogram
	applies         *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

var _ Recorder = (*PrometheusCollector)(nil)

// NewPrometheus creates a collector. A nil reg uses prometheus.DefaultRegisterer; an empty namespace uses "encore".
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "encore"
	}
	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "plan_cache",
			Name:      "lookups_total",
			Help:      "Plan cache lookups by result (hit|miss).",
		}, []string{"result"})

		p.cacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "plan_cache",
			Name:      "evictions_total",
			Help:      "Live plans dropped because the cache was full.",
		})

		p.previews = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "reorder",
			Name:      "previews_total",
			Help:      "Reorder previews by outcome and solver strategy.",
		}, []string{"outcome", "strategy"})

		p.previewDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "reorder",
			Name:      "preview_duration_seconds",
			Help:      "Wall time of reorder previews including the solver.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		}, []string{"strategy"})

		p.previewMoves = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "reorder",
			Name:      "preview_moves",
			Help:      "Entries moved by each feasible preview.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		})

		p.applies = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "reorder",
			Name:      "applies_total",
			Help:      "Reorder apply attempts by outcome.",
		}, []string{"outcome"})

		p.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern, and status.",
		}, []string{"method", "route", "status"})

		p.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"})

		p.reg.MustRegister(p.cacheLookups)
		p.reg.MustRegister(p.cacheEvictions)
		p.reg.MustRegister(p.previews)
		p.reg.MustRegister(p.previewDuration)
		p.reg.MustRegister(p.previewMoves)
		p.reg.MustRegister(p.applies)
		p.reg.MustRegister(p.httpRequests)
		p.reg.MustRegister(p.httpDuration)
	})
}

// RecordPlanCacheLookup counts one cache hit or miss.
func (p *PrometheusCollector) RecordPlanCacheLookup(hit bool) {
	p.ensureRegistered()
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cacheLookups.WithLabelValues(result).Inc()
}

// RecordPlanCacheEviction counts one capacity eviction.
func (p *PrometheusCollector) RecordPlanCacheEviction() {
	p.ensureRegistered()
	p.cacheEvictions.Inc()
}

// RecordPreview counts one preview and observes its latency and move count.
func (p *PrometheusCollector) RecordPreview(outcome, strategy string, seconds float64, moveCount int) {
	p.ensureRegistered()
	p.previews.WithLabelValues(outcome, strategy).Inc()
	p.previewDuration.WithLabelValues(strategy).Observe(seconds)
	if outcome == OutcomeOK {
		p.previewMoves.Observe(float64(moveCount))
	}
}

// RecordApply counts one apply attempt.
func (p *PrometheusCollector) RecordApply(outcome string) {
	p.ensureRegistered()
	p.applies.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest counts one request and observes its latency.
func (p *PrometheusCollector) RecordHTTPRequest(method, route, status string, seconds float64) {
	p.ensureRegistered()
	p.httpRequests.WithLabelValues(method, route, status).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(seconds)
}
