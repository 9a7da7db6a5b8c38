// Package telemetry owns the harvester's Prometheus collectors and
// OpenTelemetry tracing helpers.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/JakeFAU/geospaas-harvester"

// Record outcomes reported by the ingester.
const (
	OutcomeWritten   = "written"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeFiltered  = "filtered"
)

var (
	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_records_total",
			Help: "Records processed by the ingester, labeled by target and outcome.",
		},
		[]string{"target", "outcome"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_queue_depth",
			Help: "Items waiting between the fetch and write pools.",
		},
		[]string{"target"},
	)

	crawlerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_crawler_requests_total",
			Help: "Remote requests issued by crawlers, labeled by crawler kind and status.",
		},
		[]string{"kind", "status"},
	)

	targetCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_target_cycles_total",
			Help: "Finished harvest cycles, labeled by target and final phase.",
		},
		[]string{"target", "phase"},
	)

	activeTargets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_active_targets",
			Help: "Harvest targets with a live worker.",
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_rate_limit_delay_seconds",
			Help:    "Time spent waiting for the per-host rate limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_http_requests_total",
			Help: "Requests served by the status API, labeled by method, route and code.",
		},
		[]string{"method", "route", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_http_request_duration_seconds",
			Help:    "Latency of status API requests, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "route"},
	)
)

// InitTracing installs the W3C trace-context propagator used to carry spans
// into notification attributes.
func InitTracing() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// Tracer returns the tracer for a harvester component.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationName + "/" + component)
}

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRecord counts one ingested record outcome.
func ObserveRecord(target, outcome string) {
	recordsTotal.WithLabelValues(target, outcome).Inc()
}

// SetQueueDepth reports the current inter-pool queue length.
func SetQueueDepth(target string, depth int) {
	queueDepth.WithLabelValues(target).Set(float64(depth))
}

// ObserveCrawlerRequest counts one remote request. A zero status means the
// request failed before a response arrived.
func ObserveCrawlerRequest(kind string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	crawlerRequestsTotal.WithLabelValues(kind, label).Inc()
}

// ObserveCycle counts one finished target cycle.
func ObserveCycle(target, phase string) {
	targetCyclesTotal.WithLabelValues(target, phase).Inc()
}

// IncActiveTargets increments the live worker gauge.
func IncActiveTargets() {
	activeTargets.Inc()
}

// DecActiveTargets decrements the live worker gauge.
func DecActiveTargets() {
	activeTargets.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one request served by the status API.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
