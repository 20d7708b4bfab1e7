package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemon_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telemon_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Ingest metrics
	ReadingsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemon_readings_ingested_total",
			Help: "Total number of telemetry readings received",
		},
		[]string{"source", "status"}, // source: http, kafka, mqtt, reprocess; status: accepted, rejected
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemon_ingest_batch_size",
			Help:    "Size of telemetry batches received",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// Alert engine metrics
	AlertsRaisedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemon_alerts_raised_total",
			Help: "Total number of alerts raised",
		},
		[]string{"category", "severity"},
	)

	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemon_alerts_suppressed_total",
			Help: "Total number of violations suppressed",
		},
		[]string{"category"},
	)

	AlertsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemon_alerts_resolved_total",
			Help: "Total number of alerts resolved",
		},
		[]string{"category", "mode"}, // mode: auto, manual
	)

	ResolveFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemon_alert_resolve_failures_total",
			Help: "Resolution batches dropped because persistence failed",
		},
		[]string{"category"},
	)

	SensorsDeactivatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemon_sensors_deactivated_total",
			Help: "Sensors deactivated by chronic battery escalation",
		},
	)

	EvaluationsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemon_evaluations_skipped_total",
			Help: "Readings whose evaluation was skipped",
		},
		[]string{"reason"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemon_evaluation_duration_seconds",
			Help:    "Time taken to evaluate one reading",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	TrackersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemon_alert_trackers",
			Help: "Current number of per-sensor alert trackers",
		},
	)

	TrackersEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemon_alert_trackers_evicted_total",
			Help: "Trackers evicted after sitting idle",
		},
	)

	// Worker metrics
	WorkerInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemon_worker_in_flight",
			Help: "Evaluation tasks currently running",
		},
	)

	WorkerTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemon_worker_tasks_total",
			Help: "Total number of background tasks by outcome",
		},
		[]string{"task", "status"}, // status: success, failed, panic
	)

	// Kafka producer metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemon_kafka_publish_total",
			Help: "Total number of alert events published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemon_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemon_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaMessagesConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemon_kafka_messages_consumed_total",
			Help: "Telemetry messages read from Kafka",
		},
		[]string{"status"}, // status: accepted, invalid, failed
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemon_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
