package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// emailsEnqueued counts accepted send requests.
	emailsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "emailez",
			Subsystem: "dispatch",
			Name:      "emails_enqueued_total",
			Help:      "Number of send requests accepted and queued",
		},
	)

	// emailsRejected counts send requests rejected before persistence.
	// Labels:
	// - reason: "validation", "configuration_not_found", "workspace_not_active"
	emailsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emailez",
			Subsystem: "dispatch",
			Name:      "emails_rejected_total",
			Help:      "Number of send requests rejected",
		},
		[]string{"reason"},
	)

	// sendAttempts counts physical send attempts.
	// Labels:
	// - outcome: "sent", "retryable", "permanent"
	sendAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emailez",
			Subsystem: "dispatch",
			Name:      "send_attempts_total",
			Help:      "Number of SMTP send attempts by outcome",
		},
		[]string{"outcome"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "emailez",
			Subsystem: "dispatch",
			Name:      "send_duration_seconds",
			Help:      "Duration of SMTP send attempts",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	emailsRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "emailez",
			Subsystem: "dispatch",
			Name:      "emails_requeued_total",
			Help:      "Number of failed emails re-queued by a retry sweep",
		},
	)

	outboxSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "emailez",
			Subsystem: "dispatch",
			Name:      "outbox_swept_total",
			Help:      "Number of pending outbox entries submitted by the sweeper",
		},
	)

	// jobsFinished counts runner job outcomes.
	// Labels:
	// - result: "done", "retry_scheduled", "discarded"
	jobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emailez",
			Subsystem: "worker",
			Name:      "jobs_finished_total",
			Help:      "Number of processed jobs by result",
		},
		[]string{"result"},
	)
)

// IncEnqueued increments the accepted send counter.
func IncEnqueued() { emailsEnqueued.Inc() }

// IncRejected increments the rejection counter for reason.
func IncRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	emailsRejected.WithLabelValues(reason).Inc()
}

// ObserveSend records one send attempt and its duration.
func ObserveSend(outcome string, d time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	sendAttempts.WithLabelValues(outcome).Inc()
	sendDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// AddRequeued adds n to the re-queued counter.
func AddRequeued(n int) { emailsRequeued.Add(float64(n)) }

// AddOutboxSwept adds n to the swept counter.
func AddOutboxSwept(n int) { outboxSwept.Add(float64(n)) }

// IncJobFinished increments the job result counter.
func IncJobFinished(result string) {
	if result == "" {
		result = "unknown"
	}
	jobsFinished.WithLabelValues(result).Inc()
}
