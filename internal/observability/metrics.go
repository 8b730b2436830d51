// Package observability exposes the agent's Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsReceivedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "port_agent",
		Subsystem: "source",
		Name:      "events_received_total",
		Help:      "Number of events received from a source adapter.",
	}, []string{"transport", "topic"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "port_agent",
		Subsystem: "source",
		Name:      "decode_errors_total",
		Help:      "Number of event decode failures per transport.",
	}, []string{"transport"})

	dispatchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "port_agent",
		Subsystem: "dispatch",
		Name:      "attempts_total",
		Help:      "Number of dispatch attempts grouped by target type and outcome.",
	}, []string{"target", "outcome"})

	reportCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "port_agent",
		Subsystem: "pipeline",
		Name:      "run_reports_total",
		Help:      "Number of run status reports sent to the control plane.",
	}, []string{"status"})

	backoffDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "port_agent",
		Subsystem: "polling",
		Name:      "backoff_seconds",
		Help:      "Duration of polling-adapter backoff sleeps.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	failedRunCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "port_agent",
		Subsystem: "pipeline",
		Name:      "failed_runs_total",
		Help:      "Number of runs that ended with a best-effort FAILURE status report.",
	})

	lastEventGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "port_agent",
		Subsystem: "source",
		Name:      "last_event_timestamp_seconds",
		Help:      "Unix timestamp of the most recently received event per transport.",
	}, []string{"transport"})
)

func init() {
	prometheus.MustRegister(
		eventsReceivedCounter,
		decodeErrorCounter,
		dispatchCounter,
		reportCounter,
		backoffDuration,
		failedRunCounter,
		lastEventGauge,
	)
}

// RecordEventReceived records one event arriving from transport/topic.
func RecordEventReceived(transport, topic string) {
	eventsReceivedCounter.WithLabelValues(transport, topic).Inc()
	lastEventGauge.WithLabelValues(transport).Set(float64(time.Now().Unix()))
}

// RecordDecodeError records a decode failure on transport.
func RecordDecodeError(transport string) {
	decodeErrorCounter.WithLabelValues(transport).Inc()
}

// RecordDispatch records a dispatch attempt against target ("webhook" or
// "gitlab") with outcome ("success" or "failure").
func RecordDispatch(target, outcome string) {
	dispatchCounter.WithLabelValues(target, outcome).Inc()
}

// RecordReport records a run status report with the reported status.
func RecordReport(status string) {
	reportCounter.WithLabelValues(status).Inc()
}

// RecordBackoff records the duration of a polling-adapter backoff sleep.
func RecordBackoff(d time.Duration) {
	backoffDuration.Observe(d.Seconds())
}

// RecordFailedRun increments the best-effort FAILURE report counter.
func RecordFailedRun() {
	failedRunCounter.Inc()
}
