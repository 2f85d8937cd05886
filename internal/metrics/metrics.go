package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpay_registrations_total",
			Help: "Registration attempts by outcome",
		},
		[]string{"kind", "outcome"},
	)

	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventpay_gateway_request_duration_seconds",
			Help:    "Duration of payment gateway API calls, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	GatewayRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpay_gateway_retries_total",
			Help: "Payment gateway attempts repeated after a timeout",
		},
	)

	WebhookNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpay_webhook_notifications_total",
			Help: "Gateway webhook deliveries by event type and outcome",
		},
		[]string{"event", "outcome"},
	)

	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpay_emails_total",
			Help: "Ticket confirmation emails by outcome",
		},
		[]string{"outcome"},
	)

	SMTPReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpay_smtp_connects_total",
			Help: "SMTP connections established by the shared pool",
		},
	)
)

const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeConflict  = "conflict"
	OutcomeNotFound  = "not_found"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeMalformed = "malformed"
	OutcomeTimeout   = "timeout"
	OutcomeAnomaly   = "anomaly"
)
