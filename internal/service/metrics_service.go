package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/etd-pipeline/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the
// pipeline stages, and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	runTotal        *prometheus.CounterVec
	thesesTotal     *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	messagesTotal   *prometheus.CounterVec

	requestCount         uint64
	requestDurationTotal uint64
	runCount             uint64
	thesisProcessedCount uint64
	thesisErrorCount     uint64
}

// MetricsSnapshot is an aggregate view of the counters.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	RunsTotal                uint64    `json:"runs_total"`
	ThesesProcessed          uint64    `json:"theses_processed"`
	ThesisErrors             uint64    `json:"thesis_errors"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	runTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "etd_pipeline_runs_total",
		Help: "Pipeline runs by stage and outcome",
	}, []string{"stage", "outcome"})

	thesesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "etd_pipeline_theses_total",
		Help: "Theses handled by stage and outcome",
	}, []string{"stage", "outcome"})

	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "etd_pipeline_job_duration_seconds",
		Help:    "Duration of background pipeline jobs",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"type", "status"})

	messagesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "etd_pipeline_messages_total",
		Help: "Submission and result channel messages by direction and outcome",
	}, []string{"direction", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, runTotal, thesesTotal, jobDuration, messagesTotal, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		runTotal:        runTotal,
		thesesTotal:     thesesTotal,
		jobDuration:     jobDuration,
		messagesTotal:   messagesTotal,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveRun records the outcome of one stage run.
func (m *MetricsService) ObserveRun(stage string, summary models.RunSummary) {
	if m == nil {
		return
	}
	outcome := "ok"
	if len(summary.Errors) > 0 {
		outcome = "with_errors"
	}
	m.runTotal.WithLabelValues(stage, outcome).Inc()
	m.thesesTotal.WithLabelValues(stage, "processed").Add(float64(summary.Processed))
	m.thesesTotal.WithLabelValues(stage, "error").Add(float64(len(summary.Errors)))
	atomic.AddUint64(&m.runCount, 1)
	atomic.AddUint64(&m.thesisProcessedCount, uint64(summary.Processed))
	atomic.AddUint64(&m.thesisErrorCount, uint64(len(summary.Errors)))
}

// ObserveJob records a finished background job.
func (m *MetricsService) ObserveJob(jobType models.JobType, status models.JobStatus, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(string(jobType), string(status)).Observe(duration.Seconds())
}

// ObserveMessage counts a channel message; direction is "out" or "in".
func (m *MetricsService) ObserveMessage(direction, outcome string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(direction, outcome).Inc()
}

// Snapshot returns aggregated metrics suitable for the summary endpoint.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		RunsTotal:                atomic.LoadUint64(&m.runCount),
		ThesesProcessed:          atomic.LoadUint64(&m.thesisProcessedCount),
		ThesisErrors:             atomic.LoadUint64(&m.thesisErrorCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
