// Package metrics exposes prometheus observations for the pipeline and
// the HTTP API, each on its own registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
)

const namespace = "vin"

// PipelineMetrics tracks step and whole-file outcomes plus the queue
// depth for the processing daemon.
type PipelineMetrics struct {
	service  string
	registry *prometheus.Registry

	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	files        *prometheus.CounterVec
	fileDuration *prometheus.HistogramVec
	queueDepth   prometheus.Gauge
	queueWait    prometheus.Histogram
	aiCalls      *prometheus.CounterVec
	aiDuration   *prometheus.HistogramVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	m := &PipelineMetrics{
		service:  service,
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "steps_total",
			Help:      "Total pipeline step executions by action and outcome.",
		}, []string{"service", "action", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "step_duration_seconds",
			Help:      "Pipeline step duration in seconds by action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "action"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "files_total",
			Help:      "Total processed files by final status.",
		}, []string{"service", "status"}),
		fileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "file_duration_seconds",
			Help:      "End-to-end file processing duration in seconds by final status.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"service", "status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "queue_depth",
			Help:        "Number of files waiting in the queue.",
			ConstLabels: prometheus.Labels{"service": service},
		}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "queue_wait_seconds",
			Help:        "Time a file spent queued before a worker picked it up.",
			Buckets:     []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
			ConstLabels: prometheus.Labels{"service": service},
		}),
		aiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "calls_total",
			Help:      "Total AI backend calls by operation and outcome.",
		}, []string{"service", "operation", "outcome"}),
		aiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "call_duration_seconds",
			Help:      "AI backend call duration in seconds by operation.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"service", "operation"}),
	}
	m.registry.MustRegister(
		m.steps, m.stepDuration,
		m.files, m.fileDuration,
		m.queueDepth, m.queueWait,
		m.aiCalls, m.aiDuration,
	)
	return m
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) ObserveStep(action domain.Action, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.steps.WithLabelValues(m.service, string(action), outcome).Inc()
	m.stepDuration.WithLabelValues(m.service, string(action)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveFile(status domain.FileStatus, duration time.Duration) {
	m.files.WithLabelValues(m.service, string(status)).Inc()
	m.fileDuration.WithLabelValues(m.service, string(status)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *PipelineMetrics) ObserveQueueWait(wait time.Duration) {
	m.queueWait.Observe(wait.Seconds())
}

func (m *PipelineMetrics) ObserveAICall(operation string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.aiCalls.WithLabelValues(m.service, operation, outcome).Inc()
	m.aiDuration.WithLabelValues(m.service, operation).Observe(duration.Seconds())
}
