// Package metrics defines the Prometheus metrics exported by FuelGuard.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuelguard",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fuelguard",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"method", "route"},
	)

	// Detection metrics
	detectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuelguard",
			Subsystem: "detector",
			Name:      "evaluations_total",
			Help:      "Records assessed by each detector",
		},
		[]string{"detector", "triggered"},
	)

	detectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fuelguard",
			Subsystem: "detector",
			Name:      "evaluation_duration_seconds",
			Help:      "Time to assess one record",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16), // 100µs to ~3s
		},
		[]string{"detector"},
	)

	producerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuelguard",
			Subsystem: "detector",
			Name:      "producer_failures_total",
			Help:      "Signal producers that errored, panicked or returned a non-finite score",
		},
		[]string{"detector", "producer"},
	)

	// Case metrics
	casesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuelguard",
			Subsystem: "cases",
			Name:      "created_total",
			Help:      "Fraud cases opened",
		},
		[]string{"type", "severity"},
	)

	casePersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fuelguard",
			Subsystem: "cases",
			Name:      "persist_failures_total",
			Help:      "Cases lost after exhausting persistence retries",
		},
	)

	estimatedLoss = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuelguard",
			Subsystem: "cases",
			Name:      "estimated_loss_total",
			Help:      "Sum of estimated losses of opened cases",
		},
		[]string{"type"},
	)

	// Alert metrics
	alertsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuelguard",
			Subsystem: "alerts",
			Name:      "delivered_total",
			Help:      "Alert callbacks invoked",
		},
		[]string{"outcome"},
	)

	alertSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fuelguard",
			Subsystem: "alerts",
			Name:      "subscribers",
			Help:      "Registered alert subscribers",
		},
	)

	// Monitor metrics
	monitorTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuelguard",
			Subsystem: "monitor",
			Name:      "ticks_total",
			Help:      "Monitoring loop ticks",
		},
		[]string{"loop"},
	)

	monitorRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuelguard",
			Subsystem: "monitor",
			Name:      "records_total",
			Help:      "Records processed by monitoring loops",
		},
		[]string{"loop"},
	)

	// Cache metrics
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuelguard",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache reads by layer and result",
		},
		[]string{"layer", "result"},
	)

	// Ingest metrics
	ingestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fuelguard",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Event messages consumed from the bus",
		},
		[]string{"kind", "result"},
	)
)

// Handler returns the Prometheus metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordDetection records one assessment by a detector.
func RecordDetection(detector string, triggered bool, duration time.Duration) {
	detectionsTotal.WithLabelValues(detector, strconv.FormatBool(triggered)).Inc()
	detectionDuration.WithLabelValues(detector).Observe(duration.Seconds())
}

func RecordProducerFailure(detector, producer string) {
	producerFailures.WithLabelValues(detector, producer).Inc()
}

// RecordCaseCreated records an opened case and its estimated loss.
func RecordCaseCreated(fraudType, severity string, loss float64) {
	casesCreated.WithLabelValues(fraudType, severity).Inc()
	if loss > 0 {
		estimatedLoss.WithLabelValues(fraudType).Add(loss)
	}
}

func RecordCasePersistFailure() {
	casePersistFailures.Inc()
}

// RecordAlert records a callback outcome: "delivered" or "panic".
func RecordAlert(outcome string) {
	alertsDelivered.WithLabelValues(outcome).Inc()
}

func SetAlertSubscribers(n int) {
	alertSubscribers.Set(float64(n))
}

// RecordMonitorTick records a loop tick and how many records it processed.
func RecordMonitorTick(loop string, records int) {
	monitorTicks.WithLabelValues(loop).Inc()
	monitorRecords.WithLabelValues(loop).Add(float64(records))
}

// RecordCacheLookup records a read against one cache layer.
func RecordCacheLookup(layer string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(layer, result).Inc()
}

// RecordIngest records a consumed bus message: "ok", "invalid" or "error".
func RecordIngest(kind, result string) {
	ingestMessages.WithLabelValues(kind, result).Inc()
}
