package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: batches hitting the gate
	IngestBatches *prometheus.CounterVec

	// Errors: gate rejections by reason (unauthorized, rate_limited, validation_failed, over_capacity)
	IngestRejections *prometheus.CounterVec

	// Distribution of accepted batch sizes
	BatchSize prometheus.Histogram

	// Saturation: stream depth as seen by the last probe
	QueueDepth prometheus.Gauge

	// Latency: dequeue-to-ack per event
	ProcessDuration *prometheus.HistogramVec

	EventsPersisted    prometheus.Counter
	EnrichmentFailures *prometheus.CounterVec

	AlertsFired *prometheus.CounterVec

	// Circuit breaker on the notifier webhook (0=closed, 1=open)
	NotifierBreakerState prometheus.Gauge

	// SDK-side buffer fill, exported when the SDK runs in-process with a registry
	BufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object: with no registry the metrics still work, they just go nowhere.
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		IngestBatches: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "lynex_ingest_batches_total",
			Help: "Total batches received by the ingest gate.",
		}, []string{"project_id", "outcome"}),

		IngestRejections: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "lynex_ingest_rejections_total",
			Help: "Gate rejections by reason.",
		}, []string{"reason"}),

		BatchSize: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "lynex_ingest_batch_size",
			Help:    "Number of events per accepted batch.",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),

		QueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "lynex_queue_depth",
			Help: "Event stream depth at the last backpressure probe.",
		}),

		ProcessDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lynex_process_duration_seconds",
			Help:    "Per-event processing time in the enrichment consumer.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"type", "status"}),

		EventsPersisted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "lynex_events_persisted_total",
			Help: "Events upserted into hot storage.",
		}),

		EnrichmentFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "lynex_enrichment_failures_total",
			Help: "Non-fatal enrichment failures by kind (decode, cost).",
		}, []string{"kind"}),

		AlertsFired: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "lynex_alerts_fired_total",
			Help: "Alert notifications dispatched, by condition.",
		}, []string{"condition", "severity"}),

		NotifierBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "lynex_notifier_breaker_state",
			Help: "Webhook notifier circuit breaker state (0=closed, 1=open).",
		}),

		BufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "lynex_sdk_buffer_fill",
			Help: "Current number of events in the SDK batching buffer.",
		}),
	}
}
