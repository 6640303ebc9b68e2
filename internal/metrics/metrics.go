// Package metrics exposes Prometheus collectors for the read path and the trade path.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tao-dividends/internal/circuitbreaker"
	"github.com/tao-dividends/internal/types"
)

const namespace = "tao_dividends"

// Metrics holds every collector of the service. A single value satisfies
// service.Recorder and storage.CacheObserver.
type Metrics struct {
	ChainQueries        *prometheus.CounterVec
	ChainQueryDuration  prometheus.Histogram
	SubnetQueryFailures *prometheus.CounterVec
	CacheRequests       *prometheus.CounterVec
	CacheErrors         *prometheus.CounterVec
	JobsCompleted       *prometheus.CounterVec
	JobDuration         prometheus.Histogram
	JobsEnqueued        prometheus.Counter
	JobsActive          prometheus.Gauge
	QueueDepth          prometheus.Gauge
	BreakerState        *prometheus.GaugeVec
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// New registers all collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ChainQueries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chain_queries_total",
				Help:      "Total number of ledger dividend queries",
			},
			[]string{"result"},
		),
		ChainQueryDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chain_query_duration_seconds",
				Help:      "Duration of ledger dividend queries in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		SubnetQueryFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subnet_query_failures_total",
				Help:      "Total number of recovered per-subnet query failures",
			},
			[]string{"netuid"},
		),
		CacheRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Total number of dividend cache lookups",
			},
			[]string{"result"},
		),
		CacheErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_errors_total",
				Help:      "Total number of soft cache failures",
			},
			[]string{"op"},
		),
		JobsCompleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_completed_total",
				Help:      "Total number of sentiment trade jobs completed",
			},
			[]string{"status"},
		),
		JobDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration of sentiment trade jobs in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		JobsEnqueued: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_enqueued_total",
				Help:      "Total number of sentiment trade jobs submitted",
			},
		),
		JobsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_active",
				Help:      "Number of sentiment trade jobs currently running",
			},
		),
		QueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Number of sentiment trade jobs waiting in the task queue",
			},
		),
		BreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half open, 2 open)",
			},
			[]string{"name"},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// ChainQueryCompleted records one engine query
func (m *Metrics) ChainQueryCompleted(duration time.Duration, _ int, err error) {
	result := "ok"
	if err != nil {
		result = "unavailable"
	}
	m.ChainQueries.WithLabelValues(result).Inc()
	m.ChainQueryDuration.Observe(duration.Seconds())
}

// SubnetQueryFailed records a recovered subnet failure
func (m *Metrics) SubnetQueryFailed(netuid int) {
	m.SubnetQueryFailures.WithLabelValues(strconv.Itoa(netuid)).Inc()
}

// JobCompleted records a finished sentiment job
func (m *Metrics) JobCompleted(status types.OutcomeStatus, duration time.Duration) {
	m.JobsCompleted.WithLabelValues(string(status)).Inc()
	m.JobDuration.Observe(duration.Seconds())
}

// CacheHit records a cache hit
func (m *Metrics) CacheHit() {
	m.CacheRequests.WithLabelValues("hit").Inc()
}

// CacheMiss records a cache miss, including misses caused by failures
func (m *Metrics) CacheMiss() {
	m.CacheRequests.WithLabelValues("miss").Inc()
}

// CacheError records a soft cache failure
func (m *Metrics) CacheError(op string) {
	m.CacheErrors.WithLabelValues(op).Inc()
}

// BreakerStateChanged is a circuitbreaker.StateChangeFunc
func (m *Metrics) BreakerStateChanged(name string, _, to circuitbreaker.State) {
	m.BreakerState.WithLabelValues(name).Set(breakerStateValue(to))
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(route, method string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func breakerStateValue(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.StateHalfOpen:
		return 1
	case circuitbreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
