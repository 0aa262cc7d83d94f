package telemetry

import "github.com/prometheus/client_golang/prometheus"

// IngestAcceptedTotal counts submissions accepted by the gateway, by topic
// and tenant.
var IngestAcceptedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "partners",
		Subsystem: "ingest",
		Name:      "accepted_total",
		Help:      "Total number of submissions accepted by the gateway.",
	},
	[]string{"topic", "tenant"},
)

// IngestRejectedTotal counts submissions rejected before enqueue, by reason.
var IngestRejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "partners",
		Subsystem: "ingest",
		Name:      "rejected_total",
		Help:      "Total number of submissions rejected before enqueue, by reason.",
	},
	[]string{"reason"},
)

// QueueDepth reports the current number of undelivered messages per topic.
var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "partners",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of undelivered messages per topic.",
	},
	[]string{"topic"},
)

// QueueRedeliveredTotal counts messages redelivered after a visibility
// timeout expired without acknowledgement.
var QueueRedeliveredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "partners",
		Subsystem: "queue",
		Name:      "redelivered_total",
		Help:      "Total number of messages redelivered after visibility timeout.",
	},
	[]string{"topic"},
)

// QueueDeadLetteredTotal counts messages moved to a topic's dead-letter sink.
var QueueDeadLetteredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "partners",
		Subsystem: "queue",
		Name:      "dead_lettered_total",
		Help:      "Total number of messages moved to the dead-letter sink.",
	},
	[]string{"topic"},
)

// WebhookDeliveryAttemptsTotal counts outbound webhook delivery attempts by
// tenant and outcome.
var WebhookDeliveryAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "partners",
		Subsystem: "webhook",
		Name:      "delivery_attempts_total",
		Help:      "Total number of outbound webhook delivery attempts.",
	},
	[]string{"tenant", "outcome"},
)

// WebhookDeliveryDuration measures outbound webhook POST latency in seconds.
var WebhookDeliveryDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "partners",
		Subsystem: "webhook",
		Name:      "delivery_duration_seconds",
		Help:      "Outbound webhook delivery duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"tenant"},
)

// RateLimitRejectedTotal counts requests rejected by the rate limiter, by
// window (burst, minute, hour, day).
var RateLimitRejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "partners",
		Subsystem: "ratelimit",
		Name:      "rejected_total",
		Help:      "Total number of requests rejected by the rate limiter.",
	},
	[]string{"window"},
)

// IdempotencyHitsTotal counts requests short-circuited by a cached
// idempotency key match.
var IdempotencyHitsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "partners",
		Subsystem: "idempotency",
		Name:      "hits_total",
		Help:      "Total number of requests short-circuited by a cached idempotency key match.",
	},
)

// IdempotencyConflictsTotal counts requests rejected because the same key
// was reused with a different request body.
var IdempotencyConflictsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "partners",
		Subsystem: "idempotency",
		Name:      "conflicts_total",
		Help:      "Total number of idempotency key reuse conflicts.",
	},
)

// WorkerProcessingDuration measures how long the worker pool takes to
// process a single message end to end.
var WorkerProcessingDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "partners",
		Subsystem: "worker",
		Name:      "processing_duration_seconds",
		Help:      "Worker message processing duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"topic"},
)

// CapabilityURLsIssuedTotal counts capability URLs issued for blob uploads.
var CapabilityURLsIssuedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "partners",
		Subsystem: "capability",
		Name:      "urls_issued_total",
		Help:      "Total number of capability URLs issued.",
	},
)

// HTTPRequestDuration measures gateway request latency by method, route
// pattern, and status code.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "partners",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// All returns every application metric for registration against a registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		IngestAcceptedTotal,
		IngestRejectedTotal,
		QueueDepth,
		QueueRedeliveredTotal,
		QueueDeadLetteredTotal,
		WebhookDeliveryAttemptsTotal,
		WebhookDeliveryDuration,
		RateLimitRejectedTotal,
		IdempotencyHitsTotal,
		IdempotencyConflictsTotal,
		WorkerProcessingDuration,
		CapabilityURLsIssuedTotal,
		HTTPRequestDuration,
	}
}
