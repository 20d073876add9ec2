package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by API, worker and scanner flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	telemetryFetchTotal    *prometheus.CounterVec
	telemetryFetchDuration *prometheus.HistogramVec
	telemetryParseFailures prometheus.Counter
	telemetryFieldWarnings *prometheus.CounterVec
	providerOutcomeReports *prometheus.CounterVec
	pollInflight           prometheus.Gauge
	pollScheduledTotal     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "telemetry_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "telemetry_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		telemetryFetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "telemetry_engine",
				Name:      "telemetry_fetch_total",
				Help:      "Telemetry document fetches grouped by source and result.",
			},
			[]string{"source", "result"},
		),
		telemetryFetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "telemetry_engine",
				Name:      "telemetry_fetch_duration_seconds",
				Help:      "Time spent obtaining a telemetry document grouped by source.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"source"},
		),
		telemetryParseFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "telemetry_engine",
				Name:      "telemetry_parse_failures_total",
				Help:      "Telemetry documents rejected as malformed.",
			},
		),
		telemetryFieldWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "telemetry_engine",
				Name:      "telemetry_field_warnings_total",
				Help:      "Telemetry fields left absent because their text could not be converted.",
			},
			[]string{"field"},
		),
		providerOutcomeReports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "telemetry_engine",
				Name:      "provider_outcome_reports_total",
				Help:      "Parsed telemetry documents carrying outcome counts, grouped by provider.",
			},
			[]string{"provider"},
		),
		pollInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "telemetry_engine",
				Name:      "poll_inflight",
				Help:      "Current number of in-flight telemetry polls.",
			},
		),
		pollScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "telemetry_engine",
				Name:      "poll_scheduled_total",
				Help:      "Follow-up polls scheduled for non-terminal notifications, grouped by state.",
			},
			[]string{"state"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.telemetryFetchTotal,
		m.telemetryFetchDuration,
		m.telemetryParseFailures,
		m.telemetryFieldWarnings,
		m.providerOutcomeReports,
		m.pollInflight,
		m.pollScheduledTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncTelemetryFetch(source string, result string) {
	if m == nil {
		return
	}
	m.telemetryFetchTotal.WithLabelValues(normalizeLabel(source), normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveTelemetryFetchDuration(source string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.telemetryFetchDuration.WithLabelValues(normalizeLabel(source)).Observe(seconds)
}

func (m *Metrics) IncTelemetryParseFailure() {
	if m == nil {
		return
	}
	m.telemetryParseFailures.Inc()
}

func (m *Metrics) IncTelemetryFieldWarning(field string) {
	if m == nil {
		return
	}
	m.telemetryFieldWarnings.WithLabelValues(normalizeLabel(field)).Inc()
}

func (m *Metrics) IncProviderOutcomeReport(provider string) {
	if m == nil {
		return
	}
	m.providerOutcomeReports.WithLabelValues(normalizeLabel(provider)).Inc()
}

func (m *Metrics) IncPollInFlight() {
	if m == nil {
		return
	}
	m.pollInflight.Inc()
}

func (m *Metrics) DecPollInFlight() {
	if m == nil {
		return
	}
	m.pollInflight.Dec()
}

func (m *Metrics) IncPollScheduled(state string) {
	if m == nil {
		return
	}
	m.pollScheduledTotal.WithLabelValues(normalizeLabel(state)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
