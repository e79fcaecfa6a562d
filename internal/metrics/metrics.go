// Package metrics exposes Prometheus instrumentation for the course cache and the
// HTTP API.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "courses"

// Recorder holds the collectors registered on one registry. It implements the
// cache observer interface.
type Recorder struct {
	registry *prometheus.Registry

	operations  *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
	cached      prometheus.Gauge
	subscribed  prometheus.Gauge
	httpTotal   *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec
	httpInfl    prometheus.Gauge
}

// NewRecorder registers the collectors on reg. A nil reg gets a fresh registry.
func NewRecorder(reg *prometheus.Registry) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Recorder{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Cache operations by name and result.",
		}, []string{"op", "result"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of document store calls issued by the cache.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		cached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached",
			Help:      "Number of courses currently mirrored.",
		}),
		subscribed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscription_active",
			Help:      "1 while a live subscription is open.",
		}),
		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests processed.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInfl: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "HTTP requests currently being served.",
		}),
	}

	for _, c := range []prometheus.Collector{
		r.operations, r.opDuration, r.cached, r.subscribed,
		r.httpTotal, r.httpLatency, r.httpInfl,
	} {
		if err := registerCollector(reg, c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveOperation(op string, success bool, elapsed time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	r.operations.WithLabelValues(op, result).Inc()
	r.opDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveCached(count int) {
	r.cached.Set(float64(count))
}

func (r *Recorder) ObserveSubscription(active bool) {
	if active {
		r.subscribed.Set(1)
		return
	}
	r.subscribed.Set(0)
}

// RequestStarted marks a request in flight and returns the function that records
// its completion.
func (r *Recorder) RequestStarted(method, route string) func(status int) {
	start := time.Now()
	r.httpInfl.Inc()
	return func(status int) {
		r.httpInfl.Dec()
		r.httpLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		r.httpTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	}
}

// registerCollector registers c on reg, tolerating an identical collector that is
// already registered.
func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}
