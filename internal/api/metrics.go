package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixeltune/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	uploadsTotal      *prometheus.CounterVec
	rendersTotal      *prometheus.CounterVec
}

func newMetrics(sessions *session.Manager) *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixeltune_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixeltune_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixeltune_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixeltune_queue_exports_enqueued_total",
			Help: "Total export jobs enqueued for the worker.",
		}, []string{"queue"}),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixeltune_api_uploads_total",
			Help: "Images installed into sessions, by decoded format.",
		}, []string{"format"}),
		rendersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixeltune_api_renders_total",
			Help: "Filtered renders served, by kind.",
		}, []string{"kind"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.uploadsTotal,
		m.rendersTotal,
	)
	if sessions != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pixeltune_api_sessions_active",
			Help: "Editing sessions currently held in memory.",
		}, func() float64 {
			return float64(sessions.Len())
		}))
	}
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

// routeLabel collapses session and job IDs so label cardinality stays
// bounded.
func routeLabel(path string) string {
	switch {
	case path == "/healthz", path == "/metrics", path == "/v1/controls", path == "/v1/sessions":
		return path
	case strings.HasPrefix(path, "/v1/sessions/"), strings.HasPrefix(path, "/v1/exports/"):
		parts := strings.Split(strings.Trim(path, "/"), "/")
		if len(parts) < 3 {
			return "other"
		}
		parts[2] = "{id}"
		return "/" + strings.Join(parts, "/")
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
