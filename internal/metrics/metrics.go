// Package metrics holds the Prometheus collectors of the service
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "solapse"

// Metrics wraps a dedicated Prometheus registry and the collectors every part of the service reports to
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec   // method, path, status
	HTTPRequestDuration *prometheus.HistogramVec // method, path
	Predictions         *prometheus.CounterVec   // version, outcome
	FeedFallbacks       *prometheus.CounterVec   // index
	TrainingRuns        *prometheus.CounterVec   // outcome
	Observations        *prometheus.CounterVec   // series
	ModelsLoaded        prometheus.Gauge
}

// New initializes the registry along with the Go runtime and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}
	m.HTTPRequestsTotal = m.counterVec("http_requests_total", "Total number of HTTP requests", "method", "path", "status")
	m.HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
	reg.MustRegister(m.HTTPRequestDuration)
	m.Predictions = m.counterVec("predictions_total", "Density predictions by snapshot and outcome", "version", "outcome")
	m.FeedFallbacks = m.counterVec(
		"feed_fallbacks_total", "Space weather lookups answered with the fallback value", "index",
	)
	m.TrainingRuns = m.counterVec("training_runs_total", "Training runs by outcome", "outcome")
	m.Observations = m.counterVec("observations_total", "Space weather observations ingested", "series")
	m.ModelsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "models_loaded",
		Help:      "Number of snapshots being served",
	})
	reg.MustRegister(m.ModelsLoaded)
	return m
}

func (m *Metrics) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	m.registry.MustRegister(cv)
	return cv
}

// Handler returns the HTTP handler that exposes the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Outcome returns the label used for the result of an operation
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// GinMiddleware records the count and latency of every request by route
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		start := time.Now()

		c.Next()

		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
