// Package metrics exposes Prometheus collectors for admission control and HTTP traffic.
//
// Every observe method is safe on a nil *Metrics so components can run without metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketplace"

// Rate limit decision labels
const (
	DecisionAllowed  = "allowed"
	DecisionRejected = "rejected"
	DecisionError    = "error"
)

type Metrics struct {
	gatherer prometheus.Gatherer
	reg      prometheus.Registerer

	RateLimitDecisions *prometheus.CounterVec
	LoginAttempts      *prometheus.CounterVec
	Lockouts           prometheus.Counter
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	HTTPInFlight       prometheus.Gauge
}

// NewRegistry returns a registry preloaded with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New registers all collectors on reg. Use a fresh registry per test.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		reg:      reg,
		RateLimitDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Fixed-window admission decisions partitioned by scope and decision.",
		}, []string{"scope", "decision"}),
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts partitioned by outcome.",
		}, []string{"outcome"}),
		Lockouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "account_lockouts_total",
			Help:      "Accounts locked after reaching the failed attempt threshold.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests partitioned by method, route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		HTTPInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
	}
}

// RegisterPoolStats exposes database pool gauges read from stat on each scrape.
func (m *Metrics) RegisterPoolStats(stat func() *pgxpool.Stat) {
	if m == nil || stat == nil {
		return
	}
	factory := promauto.With(m.reg)
	gauge := func(name, help string, read func(*pgxpool.Stat) int32) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(stat())) })
	}
	gauge("acquired_conns", "Connections currently checked out.", (*pgxpool.Stat).AcquiredConns)
	gauge("idle_conns", "Idle connections in the pool.", (*pgxpool.Stat).IdleConns)
	gauge("total_conns", "Total connections in the pool.", (*pgxpool.Stat).TotalConns)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveRateLimit counts one admission decision for scope.
func (m *Metrics) ObserveRateLimit(scope string, allowed bool, err error) {
	if m == nil {
		return
	}
	decision := DecisionAllowed
	switch {
	case err != nil:
		decision = DecisionError
	case !allowed:
		decision = DecisionRejected
	}
	m.RateLimitDecisions.WithLabelValues(scope, decision).Inc()
}

func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLockout() {
	if m == nil {
		return
	}
	m.Lockouts.Inc()
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.HTTPInFlight.Inc()
	return m.HTTPInFlight.Dec
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
