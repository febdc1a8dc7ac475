package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	webhookFailures      *prometheus.CounterVec
	outputBytesTotal     prometheus.Counter
	pixelsProcessedTotal prometheus.Counter
	bytesSavedTotal      prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics(renderer string) *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rendererInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pixeltune_worker_renderer_info",
		Help: "Renderer backend compiled into the worker.",
	}, []string{"backend"})
	rendererInfo.WithLabelValues(renderer).Set(1)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixeltune_worker_exports_total",
			Help: "Total export jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixeltune_worker_export_duration_seconds",
			Help:    "Processing duration for each export job.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixeltune_worker_active_exports",
			Help: "Export jobs currently being rendered.",
		}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixeltune_worker_webhook_failures_total",
			Help: "Webhook deliveries that failed after all attempts.",
		}, []string{"event"}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixeltune_worker_output_bytes_total",
			Help: "Total PNG bytes written by exports.",
		}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixeltune_usage_pixels_processed_total",
			Help: "Total pixels rendered across successful exports.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixeltune_usage_bytes_saved_total",
			Help: "Source bytes minus output bytes, floored at zero, across successful exports.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixeltune_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful exports.",
		}),
	}

	registry.MustRegister(
		rendererInfo,
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.webhookFailures,
		m.outputBytesTotal,
		m.pixelsProcessedTotal,
		m.bytesSavedTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
