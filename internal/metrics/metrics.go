package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the gateway's Prometheus metrics. A nil *Collector is valid
// and records nothing, so components can be built without metrics in tests.
type Collector struct {
	registry *prometheus.Registry

	decisions          *prometheus.CounterVec
	rateLimitRefusals  *prometheus.CounterVec
	backgroundFailures *prometheus.CounterVec
	storeErrors        *prometheus.CounterVec
	renderDuration     *prometheus.HistogramVec
}

// New creates a Collector on its own registry, with Go runtime and process
// collectors attached.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: reg,
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeog_gateway_decisions_total",
				Help: "Image requests by gateway outcome",
			},
			[]string{"outcome"},
		),
		rateLimitRefusals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeog_ratelimit_refusals_total",
				Help: "Requests refused by the per-IP rate limiter",
			},
			[]string{"scope"},
		),
		backgroundFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeog_background_failures_total",
				Help: "Background tasks that returned an error or panicked",
			},
			[]string{"task"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeog_store_errors_total",
				Help: "KV store errors by component",
			},
			[]string{"component"},
		),
		renderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edgeog_render_duration_seconds",
				Help:    "Render delegate latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"format", "result"},
		),
	}
	reg.MustRegister(c.decisions, c.rateLimitRefusals, c.backgroundFailures, c.storeErrors, c.renderDuration)
	return c
}

func (c *Collector) RecordDecision(outcome string) {
	if c == nil {
		return
	}
	c.decisions.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordRateLimitRefusal(scope string) {
	if c == nil {
		return
	}
	c.rateLimitRefusals.WithLabelValues(scope).Inc()
}

func (c *Collector) RecordBackgroundFailure(task string) {
	if c == nil {
		return
	}
	c.backgroundFailures.WithLabelValues(task).Inc()
}

func (c *Collector) RecordStoreError(component string) {
	if c == nil {
		return
	}
	c.storeErrors.WithLabelValues(component).Inc()
}

// ObserveRender records one render attempt.
func (c *Collector) ObserveRender(format string, ok bool, d time.Duration) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	c.renderDuration.WithLabelValues(format, result).Observe(d.Seconds())
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
