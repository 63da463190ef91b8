package tasks

import "github.com/prometheus/client_golang/prometheus"

var (
	enqueuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "tasks",
		Name:      "enqueued_total",
		Help:      "Number of tasks written to the outbox, labeled by task type.",
	}, []string{"task_type"})

	coalescedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "tasks",
		Name:      "coalesced_total",
		Help:      "Number of enqueue calls absorbed by a pending duplicate.",
	}, []string{"task_type"})

	deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "tasks",
		Name:      "delivered_total",
		Help:      "Number of tasks successfully published to Kafka.",
	})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "tasks",
		Name:      "delivery_failed_total",
		Help:      "Number of tasks that failed to publish and routed to the DLQ.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "strafforts",
		Subsystem: "tasks",
		Name:      "batch_duration_seconds",
		Help:      "Time spent fetching, delivering, and marking task batches.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "tasks",
		Name:      "dead_lettered_total",
		Help:      "Number of tasks routed to the dead-letter queue, labeled by task type.",
	}, []string{"task_type"})

	retriedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "tasks",
		Name:      "dlq_retried_total",
		Help:      "Number of dead-lettered tasks requeued for another attempt.",
	}, []string{"task_type"})

	quarantinedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "tasks",
		Name:      "dlq_quarantined_total",
		Help:      "Number of dead-lettered tasks quarantined after exhausting retries.",
	}, []string{"task_type"})

	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "worker",
		Name:      "tasks_processed_total",
		Help:      "Number of tasks successfully handled, labeled by task type.",
	}, []string{"task_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "worker",
		Name:      "handler_errors_total",
		Help:      "Number of handler errors grouped by topic and task type.",
	}, []string{"topic", "task_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "worker",
		Name:      "decode_errors_total",
		Help:      "Number of decode failures per topic.",
	}, []string{"topic"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "strafforts",
		Subsystem: "worker",
		Name:      "last_task_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed task per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(enqueuedCounter, coalescedCounter, deliveredCounter, failedCounter,
		batchDuration, dlqCounter, retriedCounter, quarantinedCounter,
		processedCounter, handlerErrorCounter, decodeErrorCounter, lastMessageGauge)
}

func recordProcessed(msg Message) {
	processedCounter.WithLabelValues(msg.TaskType).Inc()
	if !msg.Timestamp.IsZero() {
		lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.Topic, msg.TaskType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}
