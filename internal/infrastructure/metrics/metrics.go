// Package metrics exposes reconciliation counters and timings to Prometheus.
package metrics

import (
	"database/sql"
	"net/http"
	"time"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names
const (
	MetricEventsTotal          = "reconciler_events_total"
	MetricUsageReportsTotal    = "reconciler_usage_reports_total"
	MetricSyncDurationSeconds  = "reconciler_sync_duration_seconds"
	MetricTicksTotal           = "reconciler_ticks_total"
	MetricTickDurationSeconds  = "reconciler_tick_duration_seconds"
	MetricLastTickSuccessStamp = "reconciler_last_tick_success_timestamp_seconds"
	MetricHTTPRequestsTotal    = "reconciler_http_requests_total"
	MetricHTTPRequestSeconds   = "reconciler_http_request_duration_seconds"
)

// Tick outcomes
const (
	TickSuccess = "success"
	TickFailure = "failure"
	TickPanic   = "panic"
)

// Recorder records reconciliation metrics on its own registry
type Recorder struct {
	registry *prometheus.Registry

	eventsTotal       *prometheus.CounterVec
	usageReportsTotal *prometheus.CounterVec
	syncDuration      *prometheus.HistogramVec
	ticksTotal        *prometheus.CounterVec
	tickDuration      *prometheus.HistogramVec
	lastTickSuccess   *prometheus.GaugeVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewRecorder creates a recorder with a fresh registry that also carries the Go and process collectors
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	durationBuckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

	return &Recorder{
		registry: registry,
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsTotal,
			Help: "Provider events processed by type and outcome",
		}, []string{"type", "outcome"}),
		usageReportsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricUsageReportsTotal,
			Help: "Metered usage reports by meter event name and outcome",
		}, []string{"event_name", "outcome"}),
		syncDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricSyncDurationSeconds,
			Help:    "Duration of the reconciliation work of a job",
			Buckets: durationBuckets,
		}, []string{"job"}),
		ticksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTicksTotal,
			Help: "Scheduler ticks by job and outcome",
		}, []string{"job", "outcome"}),
		tickDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricTickDurationSeconds,
			Help:    "Wall time of a scheduler tick",
			Buckets: durationBuckets,
		}, []string{"job"}),
		lastTickSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricLastTickSuccessStamp,
			Help: "Unix time of the last successful tick",
		}, []string{"job"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHTTPRequestsTotal,
			Help: "Operations HTTP requests by method, route and status class",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPRequestSeconds,
			Help:    "Operations HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveEvent counts a processed provider event
func (r *Recorder) ObserveEvent(eventType domainBilling.EventType, outcome string) {
	r.eventsTotal.WithLabelValues(eventType.String(), outcome).Inc()
}

// ObserveUsageReport counts a metered usage report
func (r *Recorder) ObserveUsageReport(meterEventName string, outcome string) {
	r.usageReportsTotal.WithLabelValues(meterEventName, outcome).Inc()
}

// ObserveSyncDuration records how long a job's reconciliation work took
func (r *Recorder) ObserveSyncDuration(job string, d time.Duration) {
	r.syncDuration.WithLabelValues(job).Observe(d.Seconds())
}

// ObserveTick records a scheduler tick and its outcome
func (r *Recorder) ObserveTick(job, outcome string, d time.Duration) {
	r.ticksTotal.WithLabelValues(job, outcome).Inc()
	r.tickDuration.WithLabelValues(job).Observe(d.Seconds())
	if outcome == TickSuccess {
		r.lastTickSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}

// ObserveHTTPRequest records one served request. route is the matched pattern, never the raw path.
func (r *Recorder) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	r.httpRequests.WithLabelValues(method, route, StatusClass(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// StatusClass groups a status code into 2xx, 3xx, 4xx or 5xx
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "other"
	}
}

// WatchDBPool exports connection pool statistics for db as go_sql_* series labelled with dbName
func (r *Recorder) WatchDBPool(db *sql.DB, dbName string) error {
	return r.registry.Register(collectors.NewDBStatsCollector(db, dbName))
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns the HTTP handler serving the registry in the exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
