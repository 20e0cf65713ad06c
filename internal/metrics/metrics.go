// Package metrics holds the Prometheus collectors castboard exports on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP API
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castboard_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "castboard_http_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	HTTPRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castboard_http_rate_limit_hits_total",
			Help: "Requests rejected by the inbound rate limiter",
		},
		[]string{"route"},
	)

	// SSE
	SSEClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "castboard_sse_clients",
			Help: "Currently connected event stream clients",
		},
	)

	SSEDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "castboard_sse_dropped_total",
			Help: "Events dropped because a client's buffer was full",
		},
	)

	// Event bus
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castboard_events_published_total",
			Help: "Events published to NATS, by topic and result",
		},
		[]string{"topic", "result"}, // result: ok, failed, rejected
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castboard_events_received_total",
			Help: "Events received from NATS subscriptions, by result",
		},
		[]string{"result"}, // result: delivered, dropped
	)

	// Events poller
	PollerEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castboard_poller_events_total",
			Help: "Events API events processed, by method",
		},
		[]string{"method"},
	)

	PollerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castboard_poller_errors_total",
			Help: "Events API poll and handling errors",
		},
		[]string{"stage"},
	)

	RoomViewers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "castboard_room_viewers",
			Help: "Viewers currently tracked in the broadcaster's room",
		},
	)

	// Upstream APIs
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "castboard_upstream_request_duration_seconds",
			Help:    "Outbound API request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"upstream", "status_code"},
	)

	// Circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "castboard_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castboard_circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker, by result",
		},
		[]string{"name", "result"}, // result: success, failure, rejected
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "castboard_circuit_breaker_consecutive_failures",
			Help: "Current consecutive failures seen by a circuit breaker",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castboard_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Backup
	BackupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "castboard_backup_duration_seconds",
			Help:    "Duration of database backups in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	BackupRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "castboard_backup_records_total",
			Help: "Records written to backups",
		},
	)

	BackupErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "castboard_backup_errors_total",
			Help: "Failed backup runs",
		},
	)

	// Maintenance
	MaintenanceItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castboard_maintenance_items_total",
			Help: "Objects or rows handled by maintenance commands",
		},
		[]string{"task", "result"}, // result: ok, error, skipped
	)
)

// RecordHTTPRequest records one finished API request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Event publish results.
const (
	EventOK       = "ok"
	EventFailed   = "failed"
	EventRejected = "rejected"
)

// RecordEventPublish counts one publish attempt. Rejected topics are not
// used as labels; they are counted under "invalid".
func RecordEventPublish(topic, result string) {
	if topic == "" || result == EventRejected {
		topic = "invalid"
	}
	EventsPublished.WithLabelValues(topic, result).Inc()
}

// RecordUpstreamRequest records one outbound call. A status of 0 means the
// request failed before a response arrived.
func RecordUpstreamRequest(upstream string, status int, duration time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	UpstreamRequestDuration.WithLabelValues(upstream, code).Observe(duration.Seconds())
}

// RecordBackup records one backup run.
func RecordBackup(duration time.Duration, records int, err error) {
	BackupDuration.Observe(duration.Seconds())
	if err != nil {
		BackupErrors.Inc()
		return
	}
	BackupRecords.Add(float64(records))
}

// RecordMaintenanceItem counts one maintenance item by outcome.
func RecordMaintenanceItem(task, result string) {
	MaintenanceItems.WithLabelValues(task, result).Inc()
}
