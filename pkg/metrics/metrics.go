// Package metrics defines and registers every Prometheus metric the engine
// exposes on /metrics, plus the Timer helper used to record them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Flight metrics
	FlightsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stairway_flights_total",
			Help: "Total number of flights by status",
		},
		[]string{"status"},
	)

	FlightsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stairway_flights_submitted_total",
			Help: "Total number of flights submitted by class",
		},
		[]string{"class"},
	)

	FlightDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stairway_flight_duration_seconds",
			Help:    "Time from submit to terminal status in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"class", "status"},
	)

	// Step metrics
	StepsExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stairway_steps_executed_total",
			Help: "Total number of step executions by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stairway_step_duration_seconds",
			Help:    "Time taken by a single step execution in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"direction"},
	)

	DismalFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stairway_dismal_failures_total",
			Help: "Total number of flights that reached FATAL (dismal failure)",
		},
	)

	// Worker pool metrics
	WorkerPoolActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stairway_worker_pool_active",
			Help: "Number of workers currently executing a flight",
		},
	)

	WorkerPoolBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stairway_worker_pool_backlog",
			Help: "Number of flights waiting in the local backlog",
		},
	)

	// Work queue metrics
	QueueEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stairway_queue_enqueued_total",
			Help: "Total number of Ready messages enqueued to the work queue",
		},
	)

	QueueDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stairway_queue_dispatched_total",
			Help: "Total number of messages dispatched from the work queue by outcome",
		},
		[]string{"outcome"},
	)

	// Journal metrics
	JournalOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stairway_journal_operation_duration_seconds",
			Help:    "Duration of journal DAO operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Recovery metrics
	RecoveredFlightsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stairway_recovered_flights_total",
			Help: "Total number of flights reset from a dead peer during recovery",
		},
	)

	// Retention metrics
	RetentionDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stairway_retention_deleted_total",
			Help: "Total number of completed flights deleted by the retention janitor",
		},
	)

	RetentionCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stairway_retention_cycles_total",
			Help: "Total number of retention janitor cycles completed",
		},
	)

	RetentionCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stairway_retention_cycle_duration_seconds",
			Help:    "Duration of a retention janitor sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Cluster leader-election metrics
	ClusterIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stairway_cluster_is_leader",
			Help: "Whether this instance currently holds the retention-janitor leadership (1 = leader, 0 = follower)",
		},
	)

	// Admin API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stairway_api_requests_total",
			Help: "Total number of administrative API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stairway_api_request_duration_seconds",
			Help:    "Administrative API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(FlightsTotal)
	prometheus.MustRegister(FlightsSubmittedTotal)
	prometheus.MustRegister(FlightDuration)
	prometheus.MustRegister(StepsExecutedTotal)
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(DismalFailuresTotal)
	prometheus.MustRegister(WorkerPoolActive)
	prometheus.MustRegister(WorkerPoolBacklog)
	prometheus.MustRegister(QueueEnqueuedTotal)
	prometheus.MustRegister(QueueDispatchedTotal)
	prometheus.MustRegister(JournalOperationDuration)
	prometheus.MustRegister(RecoveredFlightsTotal)
	prometheus.MustRegister(RetentionDeletedTotal)
	prometheus.MustRegister(RetentionCyclesTotal)
	prometheus.MustRegister(RetentionCycleDuration)
	prometheus.MustRegister(ClusterIsLeader)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
