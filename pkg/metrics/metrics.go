// Package metrics exposes the supervisor's Prometheus instrumentation:
// runner lifecycle counters, notification delivery counters, and broker
// fan-out gauges, plus the Timer helper the notification worker (C2) uses
// to time deliveries.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunnersTotal is the current count of configured runners by state.
	RunnersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "runnerd_runners_total",
			Help: "Number of configured runners by state",
		},
		[]string{"state"},
	)

	RunnerStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runnerd_runner_starts_total",
			Help: "Total runner invocations started",
		},
		[]string{"runner_id", "trigger"},
	)

	RunnerFinishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runnerd_runner_finishes_total",
			Help: "Total runner invocations that finished, by exit class",
		},
		[]string{"runner_id", "exit_class"},
	)

	RunnerPausesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runnerd_runner_pauses_total",
			Help: "Total auto-pauses triggered by consecutive failures",
		},
		[]string{"runner_id"},
	)

	RunnerRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runnerd_runner_run_duration_seconds",
			Help:    "Wall-clock duration of one runner invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"runner_id"},
	)

	CaseMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runnerd_case_matches_total",
			Help: "Total case pattern matches observed",
		},
		[]string{"runner_id", "state"},
	)

	CaseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runnerd_case_errors_total",
			Help: "Total case-related errors (bad regex, dropped notifications)",
		},
		[]string{"runner_id"},
	)

	NotifyDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runnerd_notify_deliveries_total",
			Help: "Total notification delivery attempts by outcome",
		},
		[]string{"profile_id", "outcome"},
	)

	NotifyAutoDisabledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runnerd_notify_auto_disabled_total",
			Help: "Total notify profiles auto-disabled after repeated failures",
		},
		[]string{"profile_id"},
	)

	NotifyQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runnerd_notify_queue_depth",
			Help: "Current depth of the notification dispatch queue",
		},
	)

	NotifyDeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runnerd_notify_delivery_duration_seconds",
			Help:    "Time to deliver one notification via the external transport",
			Buckets: prometheus.DefBuckets,
		},
	)

	BrokerSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runnerd_broker_subscribers",
			Help: "Current number of live event subscribers",
		},
	)

	BrokerDroppedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runnerd_broker_dropped_events_total",
			Help: "Total events dropped due to a full subscriber buffer",
		},
		[]string{"event_type"},
	)

	GroupRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runnerd_group_runs_total",
			Help: "Total group sequence runs by outcome",
		},
		[]string{"group_id", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		RunnersTotal,
		RunnerStartsTotal,
		RunnerFinishesTotal,
		RunnerPausesTotal,
		RunnerRunDuration,
		CaseMatchesTotal,
		CaseErrorsTotal,
		NotifyDeliveriesTotal,
		NotifyAutoDisabledTotal,
		NotifyQueueDepth,
		NotifyDeliveryDuration,
		BrokerSubscribers,
		BrokerDroppedEvents,
		GroupRunsTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall-clock time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time against histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time against a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
