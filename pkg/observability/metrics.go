package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Broker metrics
	messagesQueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parlor_messages_queued_total",
			Help: "Total number of messages enqueued into the broker",
		},
		[]string{"room", "sender_type"},
	)

	messagesBroadcastTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parlor_messages_broadcast_total",
			Help: "Total number of messages drained and broadcast",
		},
		[]string{"room"},
	)

	deliveryErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parlor_delivery_errors_total",
			Help: "Total number of broadcast delivery failures",
		},
		[]string{"room"},
	)

	// Generation metrics
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parlor_generations_total",
			Help: "Total number of generation attempts",
		},
		[]string{"provider", "status"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parlor_generation_duration_seconds",
			Help:    "Generation call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	activeGenerations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "parlor_active_generations",
			Help: "Number of generation calls currently in flight",
		},
	)

	// Backpressure metrics
	sleepTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parlor_sleep_transitions_total",
			Help: "Total number of room sleep/wake transitions",
		},
		[]string{"room", "direction"},
	)

	// Event bus metrics
	eventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parlor_events_dropped_total",
			Help: "Total number of events dropped on full subscriber buffers",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the Prometheus metrics exactly once
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			messagesQueuedTotal,
			messagesBroadcastTotal,
			deliveryErrorsTotal,
			generationsTotal,
			generationDuration,
			activeGenerations,
			sleepTransitionsTotal,
			eventsDroppedTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordMessageQueued records a broker enqueue
func RecordMessageQueued(room, senderType string) {
	messagesQueuedTotal.WithLabelValues(room, senderType).Inc()
}

// RecordMessageBroadcast records a drained message
func RecordMessageBroadcast(room string) {
	messagesBroadcastTotal.WithLabelValues(room).Inc()
}

// RecordDeliveryError records a broadcast delivery failure
func RecordDeliveryError(room string) {
	deliveryErrorsTotal.WithLabelValues(room).Inc()
}

// RecordGeneration records a finished generation attempt
func RecordGeneration(provider, status string, duration time.Duration) {
	generationsTotal.WithLabelValues(provider, status).Inc()
	generationDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// GenerationStarted bumps the in-flight gauge
func GenerationStarted() {
	activeGenerations.Inc()
}

// GenerationFinished drops the in-flight gauge
func GenerationFinished() {
	activeGenerations.Dec()
}

// RecordSleepTransition records a room going to sleep or waking up
func RecordSleepTransition(room, direction string) {
	sleepTransitionsTotal.WithLabelValues(room, direction).Inc()
}

// RecordEventsDropped adds to the dropped-events counter
func RecordEventsDropped(n int64) {
	if n > 0 {
		eventsDroppedTotal.Add(float64(n))
	}
}
