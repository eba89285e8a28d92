package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmsmail_emails_sent_total",
			Help: "Total emails delivered",
		},
		[]string{"email_type"},
	)

	EmailFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmsmail_email_failures_total",
			Help: "Total emails that exhausted their retries",
		},
		[]string{"email_type"},
	)

	EmailRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmsmail_email_retries_total",
			Help: "Total failed attempts rescheduled with backoff",
		},
		[]string{"email_type"},
	)

	ClaimsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lmsmail_claims_skipped_total",
			Help: "Items skipped because another drainer claimed them",
		},
	)

	BatchErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lmsmail_batch_errors_total",
			Help: "Invocations aborted before processing any item",
		},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lmsmail_batch_duration_seconds",
			Help:    "Time spent processing one batch",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(EmailRetries)
	prometheus.MustRegister(ClaimsSkipped)
	prometheus.MustRegister(BatchErrors)
	prometheus.MustRegister(BatchDuration)
}
