package metrics

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "blitzproxy_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	queryRequests *prometheus.CounterVec
	queryLatency  *prometheus.HistogramVec

	equipmentPerRequest *prometheus.HistogramVec
	impactsReturned     *prometheus.CounterVec

	validationErrors *prometheus.CounterVec
	storageErrors    *prometheus.CounterVec
	redirects        prometheus.Counter
)

// LatestSource reports the newest stored impact time in seconds.
type LatestSource interface {
	LatestTimestamp(ctx context.Context) (int64, error)
}

// Init registers request metrics and storage-backed gauges.
// db may be nil when the store is not backed by Postgres.
func Init(source LatestSource, db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		queryRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "requests_total",
				Help: "Total API requests by route and result",
			},
			[]string{"route", "result"},
		)
		queryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "computation_seconds",
				Help:    "Request computation time in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "result"},
		)

		equipmentPerRequest = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "equipment_per_request",
				Help:    "Equipment entries per query request",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
			[]string{"route"},
		)
		impactsReturned = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "impacts_returned_total",
				Help: "Total impacts returned by route",
			},
			[]string{"route"},
		)

		validationErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "validation_errors_total",
				Help: "Total rejected requests by route",
			},
			[]string{"route"},
		)
		storageErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "storage_errors_total",
				Help: "Total event store failures by operation",
			},
			[]string{"op"},
		)
		redirects = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "redirects_total",
				Help: "Total unknown routes redirected to the documentation",
			},
		)

		prometheus.MustRegister(
			queryRequests,
			queryLatency,
			equipmentPerRequest,
			impactsReturned,
			validationErrors,
			storageErrors,
			redirects,
		)

		registerStoreMetrics(source, db, logger)
	})
}

// ObserveQuery records request duration and result.
func ObserveQuery(route, result string, duration time.Duration) {
	if route == "" {
		route = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if queryRequests != nil {
		queryRequests.WithLabelValues(route, result).Inc()
	}
	if queryLatency != nil && duration > 0 {
		queryLatency.WithLabelValues(route, result).Observe(duration.Seconds())
	}
}

// ObserveEquipment records the equipment count of one request.
func ObserveEquipment(route string, count int) {
	if equipmentPerRequest != nil {
		equipmentPerRequest.WithLabelValues(route).Observe(float64(count))
	}
}

// AddImpacts increments the returned impacts counter.
func AddImpacts(route string, count int) {
	if count <= 0 {
		return
	}
	if impactsReturned != nil {
		impactsReturned.WithLabelValues(route).Add(float64(count))
	}
}

// IncValidationError increments the rejected request counter.
func IncValidationError(route string) {
	if validationErrors != nil {
		validationErrors.WithLabelValues(route).Inc()
	}
}

// IncStorageError increments the storage failure counter.
func IncStorageError(op string) {
	if op == "" {
		op = "unknown"
	}
	if storageErrors != nil {
		storageErrors.WithLabelValues(op).Inc()
	}
}

// IncRedirect increments the documentation redirect counter.
func IncRedirect() {
	if redirects != nil {
		redirects.Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
