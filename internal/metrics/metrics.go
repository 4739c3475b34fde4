package metrics

import (
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magnolia_webhooks_received_total",
			Help: "Inbound webhook deliveries by topic and result",
		},
		[]string{"topic", "result"},
	)

	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magnolia_jobs_enqueued_total",
			Help: "Enqueue calls by topic, split into new and duplicate jobs",
		},
		[]string{"topic", "outcome"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magnolia_jobs_processed_total",
			Help: "Processing attempts by topic and resulting job state",
		},
		[]string{"topic", "state"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "magnolia_job_duration_seconds",
			Help:    "Topic transform duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"topic"},
	)

	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magnolia_job_retries_total",
			Help: "Operator-initiated retries by topic",
		},
		[]string{"topic"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "magnolia_queue_jobs",
			Help: "Jobs per state as of the last stats snapshot",
		},
		[]string{"state"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magnolia_notifications_total",
			Help: "Downstream notifications by type, sink and result",
		},
		[]string{"type", "sink", "result"},
	)
)

// UnknownTopic is the label value shared by every unrecognized topic
const UnknownTopic = "unknown"

// TopicLabel bounds the topic label to the known topics. Paths come from
// unauthenticated callers and must not mint new series.
func TopicLabel(topic string) string {
	if domain.IsKnownTopic(topic) {
		return topic
	}
	return UnknownTopic
}

// RecordWebhook counts one inbound delivery
func RecordWebhook(topic, result string) {
	WebhooksReceived.WithLabelValues(TopicLabel(topic), result).Inc()
}

// ObserveJob records one processing attempt
func ObserveJob(topic, state string, elapsed time.Duration) {
	label := TopicLabel(topic)
	JobsProcessed.WithLabelValues(label, state).Inc()
	JobDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// SetQueueDepth publishes a stats snapshot
func SetQueueDepth(queued, inFlight, failed, dead, doneLast24h int) {
	QueueDepth.WithLabelValues("queued").Set(float64(queued))
	QueueDepth.WithLabelValues("in_flight").Set(float64(inFlight))
	QueueDepth.WithLabelValues("failed").Set(float64(failed))
	QueueDepth.WithLabelValues("dead").Set(float64(dead))
	QueueDepth.WithLabelValues("done_24h").Set(float64(doneLast24h))
}
