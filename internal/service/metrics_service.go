package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-counsel-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	draftAttempts     *prometheus.HistogramVec
	draftOutcomes     *prometheus.CounterVec
	llmCalls          *prometheus.CounterVec
	loginLockEvents   *prometheus.CounterVec
	draftStoreLatency *prometheus.HistogramVec
	dbQueryDuration   *prometheus.HistogramVec

	requestCount         uint64
	requestDurationTotal uint64
	draftsCompleted      uint64
	draftsFailed         uint64
	draftAttemptTotal    uint64
	llmCallCount         uint64
	llmErrorCount        uint64
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

	draftAttempts := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "behavior_draft_attempts",
		Help:    "Generation attempts needed per behavior draft",
		Buckets: []float64{1, 2, 3, 4, 5},
	}, []string{"outcome"})

	draftOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "behavior_drafts_total",
		Help: "Behavior drafts by final status",
	}, []string{"status"})

	llmCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_calls_total",
		Help: "Completion calls issued by the draft pipeline",
	}, []string{"outcome"})

	loginLockEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "login_lock_events_total",
		Help: "Failed-login counter events",
	}, []string{"event"})

	draftStoreLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "draft_store_latency_seconds",
		Help:    "Latency for draft store operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, draftAttempts, draftOutcomes, llmCalls, loginLockEvents, draftStoreLatency, dbQueryDuration, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		draftAttempts:     draftAttempts,
		draftOutcomes:     draftOutcomes,
		llmCalls:          llmCalls,
		loginLockEvents:   loginLockEvents,
		draftStoreLatency: draftStoreLatency,
		dbQueryDuration:   dbQueryDuration,
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

// ObserveDraftAttempts records how many generation calls one draft needed.
func (m *MetricsService) ObserveDraftAttempts(attempts int, outcome string) {
	if m == nil {
		return
	}
	m.draftAttempts.WithLabelValues(outcome).Observe(float64(attempts))
	atomic.AddUint64(&m.draftAttemptTotal, uint64(attempts))
}

// IncLLMCall counts one completion call by outcome ("ok" or "error").
func (m *MetricsService) IncLLMCall(outcome string) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(outcome).Inc()
	atomic.AddUint64(&m.llmCallCount, 1)
	if outcome != "ok" {
		atomic.AddUint64(&m.llmErrorCount, 1)
	}
}

// RecordDraftStatus counts drafts reaching a terminal status.
func (m *MetricsService) RecordDraftStatus(status models.DraftStatus) {
	if m == nil {
		return
	}
	m.draftOutcomes.WithLabelValues(string(status)).Inc()
	switch status {
	case models.DraftStatusCompleted:
		atomic.AddUint64(&m.draftsCompleted, 1)
	case models.DraftStatusFailed:
		atomic.AddUint64(&m.draftsFailed, 1)
	}
}

// RecordLoginLockEvent counts failure increments, locks and resets.
func (m *MetricsService) RecordLoginLockEvent(event string) {
	if m == nil {
		return
	}
	m.loginLockEvents.WithLabelValues(event).Inc()
}

// ObserveDraftStore tracks latency of draft store operations.
func (m *MetricsService) ObserveDraftStore(op string, duration time.Duration) {
	if m == nil {
		return
	}
	m.draftStoreLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// Snapshot returns aggregated counters for the readiness endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	completed := atomic.LoadUint64(&m.draftsCompleted)
	failed := atomic.LoadUint64(&m.draftsFailed)
	attempts := atomic.LoadUint64(&m.draftAttemptTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}
	var avgAttempts float64
	if finished := completed + failed; finished > 0 {
		avgAttempts = float64(attempts) / float64(finished)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		DraftsCompleted:          completed,
		DraftsFailed:             failed,
		AverageDraftAttempts:     avgAttempts,
		LLMCalls:                 atomic.LoadUint64(&m.llmCallCount),
		LLMErrors:                atomic.LoadUint64(&m.llmErrorCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
